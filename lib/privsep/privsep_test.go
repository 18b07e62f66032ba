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

package privsep

import (
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

// TestElevateRunsFnAndRestores exercises the elevate bracket before any
// permanent drop has happened. Package state (dropped) is global, so
// this test cannot run in parallel with TestDropPermanentlyBlocksElevate.
func TestElevateRunsFnAndRestores(t *testing.T) {
	var ran bool
	err := Elevate(func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
	require.False(t, Dropped())
}

func TestElevatePropagatesFnError(t *testing.T) {
	err := Elevate(func() error {
		return trace.BadParameter("boom")
	})
	require.Error(t, err)
}

func TestDropPermanentlyBlocksElevate(t *testing.T) {
	require.False(t, Dropped())
	require.NoError(t, DropPermanently())
	require.True(t, Dropped())

	// idempotent: a second call is a no-op, not an error.
	require.NoError(t, DropPermanently())

	err := Elevate(func() error { return nil })
	require.Error(t, err)
}
