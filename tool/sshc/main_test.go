/*
Copyright 2016-2021 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCurrentUserFallsBackWhenUnset(t *testing.T) {
	t.Setenv("USER", "")
	require.Equal(t, "unknown", currentUser())
}

func TestCurrentUserReadsEnv(t *testing.T) {
	t.Setenv("USER", "alice")
	require.Equal(t, "alice", currentUser())
}

func TestRunPrintsVersionAndExits(t *testing.T) {
	code := run([]string{"-V", "host.example"})
	require.Equal(t, 0, code)
}

func TestRunRejectsMissingTarget(t *testing.T) {
	code := run([]string{})
	require.Equal(t, 255, code)
}
