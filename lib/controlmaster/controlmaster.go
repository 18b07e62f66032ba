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

// Package controlmaster owns the control-master unix-socket listener
// seam: the core only needs to accept sibling-client connections and
// hand each one to a single "attach new session" callback, the rest of
// the multiplexing control-socket protocol is an external collaborator
// by contract and out of scope here.
package controlmaster

import (
	"context"
	"net"
	"os"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"github.com/coreshell/sshc/lib/mux"
)

// AttachFunc handles one sibling client connection that has connected
// to the control socket, asking to attach a new session to the shared
// master connection.
type AttachFunc func(ctx context.Context, conn net.Conn) error

// Master owns the listening socket's lifecycle: created on Start,
// unlinked on Close if this process is the one that created it.
type Master struct {
	path   string
	ln     net.Listener
	owned  bool
	attach AttachFunc
	log    logrus.FieldLogger
}

// Start binds the control socket at path and begins accepting sibling
// clients in a background goroutine. Returns an error if the socket
// already exists and is live (another master already owns it).
func Start(ctx context.Context, log logrus.FieldLogger, path string, attach AttachFunc) (*Master, error) {
	if err := probeExisting(path); err != nil {
		return nil, trace.Wrap(err)
	}
	os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, trace.Wrap(err, "failed to bind control socket %s", path)
	}

	m := &Master{path: path, ln: ln, owned: true, attach: attach, log: log}
	go m.acceptLoop(ctx)
	return m, nil
}

// probeExisting reports an error only when an existing socket at path
// is actually answering connections; a stale socket file is removed
// and reused.
func probeExisting(path string) error {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil
	}
	conn.Close()
	return trace.AlreadyExists("control socket %s is already owned by a running master", path)
}

func (m *Master) acceptLoop(ctx context.Context) {
	for {
		conn, err := mux.AcceptWithContext(ctx, m.ln)
		if err != nil {
			if ctx.Err() == nil {
				m.log.WithError(err).Error("control socket accept failed")
			}
			return
		}
		go func() {
			if err := m.attach(ctx, conn); err != nil {
				m.log.WithError(err).Warn("control socket attach failed")
			}
		}()
	}
}

// Close stops accepting and unlinks the socket file if this master
// owns it, the spec's "unlink the control-master socket if owned"
// shutdown step.
func (m *Master) Close() error {
	err := m.ln.Close()
	if m.owned {
		os.Remove(m.path)
	}
	return trace.Wrap(err)
}
