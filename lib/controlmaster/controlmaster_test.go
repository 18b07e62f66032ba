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

package controlmaster

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestProbeExistingAllowsFreshPath(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "control.sock")
	require.NoError(t, probeExisting(path))
}

func TestProbeExistingRejectsLiveSocket(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "control.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	require.Error(t, probeExisting(path))
}

func TestProbeExistingToleratesStaleSocketFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "control.sock")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	require.NoError(t, probeExisting(path))
}

func TestStartAcceptsAndAttaches(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "control.sock")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attached := make(chan struct{}, 1)
	m, err := Start(ctx, logrus.StandardLogger(), path, func(ctx context.Context, conn net.Conn) error {
		conn.Close()
		attached <- struct{}{}
		return nil
	})
	require.NoError(t, err)
	defer m.Close()

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	conn.Close()

	select {
	case <-attached:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for control socket attach")
	}
}

func TestCloseUnlinksOwnedSocket(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "control.sock")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m, err := Start(ctx, logrus.StandardLogger(), path, func(context.Context, net.Conn) error { return nil })
	require.NoError(t, err)
	require.NoError(t, m.Close())

	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}
