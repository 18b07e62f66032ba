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

package orchestrator

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEscapeFilterDisabledPassesThroughUnchanged(t *testing.T) {
	t.Parallel()

	f := NewEscapeFilter(0)
	var out bytes.Buffer
	action, err := f.Filter(&out, []byte("~.\n"))
	require.NoError(t, err)
	require.Equal(t, EscapeNone, action)
	require.Equal(t, "~.\n", out.String())
}

func TestEscapeFilterTerminateAtLineStart(t *testing.T) {
	t.Parallel()

	f := NewEscapeFilter('~')
	var out bytes.Buffer
	action, err := f.Filter(&out, []byte("~."))
	require.NoError(t, err)
	require.Equal(t, EscapeTerminate, action)
	require.Empty(t, out.String())
}

func TestEscapeFilterSuspendAtLineStart(t *testing.T) {
	t.Parallel()

	f := NewEscapeFilter('~')
	var out bytes.Buffer
	action, err := f.Filter(&out, []byte{'~', ctrlZ})
	require.NoError(t, err)
	require.Equal(t, EscapeSuspend, action)
}

func TestEscapeFilterNotAtLineStartPassesThrough(t *testing.T) {
	t.Parallel()

	f := NewEscapeFilter('~')
	var out bytes.Buffer
	action, err := f.Filter(&out, []byte("echo ~.\n"))
	require.NoError(t, err)
	require.Equal(t, EscapeNone, action)
	require.Equal(t, "echo ~.\n", out.String())
}

func TestEscapeFilterLiteralEscapeCharPassesThroughOnce(t *testing.T) {
	t.Parallel()

	f := NewEscapeFilter('~')
	var out bytes.Buffer
	action, err := f.Filter(&out, []byte("~~"))
	require.NoError(t, err)
	require.Equal(t, EscapeNone, action)
	require.Equal(t, "~", out.String())
}

func TestEscapeFilterUnrecognizedByteForwardsBoth(t *testing.T) {
	t.Parallel()

	f := NewEscapeFilter('~')
	var out bytes.Buffer
	action, err := f.Filter(&out, []byte("~x"))
	require.NoError(t, err)
	require.Equal(t, EscapeNone, action)
	require.Equal(t, "~x", out.String())
}

func TestEscapeFilterResetsLineStartAfterNewline(t *testing.T) {
	t.Parallel()

	f := NewEscapeFilter('~')
	var out bytes.Buffer

	_, err := f.Filter(&out, []byte("echo hi\n"))
	require.NoError(t, err)

	action, err := f.Filter(&out, []byte("~."))
	require.NoError(t, err)
	require.Equal(t, EscapeTerminate, action)
}

func TestEscapeFilterAcrossMultipleChunks(t *testing.T) {
	t.Parallel()

	f := NewEscapeFilter('~')
	var out bytes.Buffer

	action, err := f.Filter(&out, []byte("~"))
	require.NoError(t, err)
	require.Equal(t, EscapeNone, action)

	action, err = f.Filter(&out, []byte("."))
	require.NoError(t, err)
	require.Equal(t, EscapeTerminate, action)
}
