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
	"errors"
	"io"
	"net"
	"os/exec"
	"time"
)

// pipeConn adapts a proxy_command child's stdin/stdout pipes to net.Conn
// so the rest of the transport/banner/mux stack never has to know the
// byte stream didn't come from a socket.
type pipeConn struct {
	stdin  io.WriteCloser
	stdout io.ReadCloser
	cmd    *exec.Cmd
}

func (p *pipeConn) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p *pipeConn) Write(b []byte) (int, error) { return p.stdin.Write(b) }

func (p *pipeConn) Close() error {
	stdinErr := p.stdin.Close()
	stdoutErr := p.stdout.Close()
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
	go p.cmd.Wait()
	if stdinErr != nil {
		return stdinErr
	}
	return stdoutErr
}

func (p *pipeConn) LocalAddr() net.Addr  { return pipeAddr{} }
func (p *pipeConn) RemoteAddr() net.Addr { return pipeAddr{} }

func (p *pipeConn) SetDeadline(t time.Time) error {
	return errors.New("transport: pipeConn has no deadline support")
}
func (p *pipeConn) SetReadDeadline(t time.Time) error {
	return errors.New("transport: pipeConn has no deadline support")
}
func (p *pipeConn) SetWriteDeadline(t time.Time) error {
	return errors.New("transport: pipeConn has no deadline support")
}

// pipeAddr is returned for a proxy_command pipe's addresses; no
// resolved address exists for it, matching dial()'s documented
// "resolved_addr unavailable" behavior.
type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }
func (pipeAddr) String() string  { return "proxy_command" }
