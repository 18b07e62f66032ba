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

package transport

import (
	"context"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func discardLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestExpandProxyCommandSubstitutesHostAndPortAndExecs(t *testing.T) {
	t.Parallel()

	got := expandProxyCommand("nc %h %p", "example.com", 2222)
	require.Equal(t, "exec nc example.com 2222", got)
}

func TestDialDirectConnectsToListener(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Close()
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	result, err := Dial(context.Background(), discardLogger(), Options{
		Host:           host,
		Port:           port,
		Attempts:       1,
		ConnectTimeout: time.Second,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Conn)
	require.NotEmpty(t, result.ResolvedAddr)
	result.Conn.Close()
}

func TestDialDirectFailsAfterAttemptsExhausted(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close() // nothing listens here now

	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err = Dial(ctx, discardLogger(), Options{
		Host:           host,
		Port:           port,
		Attempts:       2,
		ConnectTimeout: 200 * time.Millisecond,
	})
	require.Error(t, err)
}

func TestDialProxyCommandPipesThroughCat(t *testing.T) {
	t.Parallel()

	result, err := Dial(context.Background(), discardLogger(), Options{
		ProxyCommand: "cat",
	})
	require.NoError(t, err)
	defer result.Conn.Close()
	require.Empty(t, result.ResolvedAddr)

	msg := []byte("ping\n")
	_, err = result.Conn.Write(msg)
	require.NoError(t, err)

	buf := make([]byte, len(msg))
	_, err = result.Conn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, msg, buf)
}

func TestPipeConnHasNoDeadlineSupport(t *testing.T) {
	t.Parallel()

	result, err := Dial(context.Background(), discardLogger(), Options{ProxyCommand: "cat"})
	require.NoError(t, err)
	defer result.Conn.Close()

	require.Error(t, result.Conn.SetDeadline(time.Now()))
	require.Equal(t, "pipe", result.Conn.LocalAddr().Network())
}
