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

// Package transport establishes the raw byte stream a banner exchange
// runs over: either a direct TCP dial with retries and keepalive, or a
// proxy_command subprocess piped over stdin/stdout, the way lib/client
// dials a node through a netDialer before handing the connection off to
// the SSH handshake.
package transport

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"github.com/coreshell/sshc/lib/privsep"
)

// Result is what a successful dial hands back to the banner exchanger:
// the byte stream plus the resolved remote address, when one exists (a
// proxy_command pipe has none, which disables IP-keyed host-key checks
// downstream).
type Result struct {
	Conn         net.Conn
	ResolvedAddr string
}

// Options configures one dial attempt, matching the spec's dial()
// parameter list.
type Options struct {
	Host string
	Port int

	// Family restricts resolution; "tcp", "tcp4", or "tcp6".
	Family string

	Attempts           int
	ConnectTimeout     time.Duration
	TCPKeepAlive       bool
	BindAddress        string
	WantPrivilegedPort bool

	// ProxyCommand, if set, is run instead of dialing directly; %h/%p
	// are substituted with Host/Port before execution.
	ProxyCommand string
}

// Dial establishes the transport: a proxy_command subprocess if
// configured, otherwise a direct TCP connection retried up to
// Attempts times with a one-second pause between attempts.
func Dial(ctx context.Context, log logrus.FieldLogger, opts Options) (*Result, error) {
	if opts.ProxyCommand != "" {
		return dialProxyCommand(ctx, opts)
	}
	return dialDirect(ctx, log, opts)
}

func dialProxyCommand(ctx context.Context, opts Options) (*Result, error) {
	cmdline := expandProxyCommand(opts.ProxyCommand, opts.Host, opts.Port)

	cmd := exec.CommandContext(ctx, "sh", "-c", cmdline)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	cmd.SysProcAttr = proxyCommandSysProcAttr()
	if err := cmd.Start(); err != nil {
		return nil, trace.Wrap(err, "proxy_command %q failed to start", cmdline)
	}

	return &Result{
		Conn: &pipeConn{stdin: stdin, stdout: stdout, cmd: cmd},
	}, nil
}

// expandProxyCommand substitutes %h/%p and prepends "exec " so the shell
// replaces itself instead of leaving an extra process between us and the
// pipe (matching OpenSSH's own ProxyCommand convention).
func expandProxyCommand(template, host string, port int) string {
	r := strings.NewReplacer("%h", host, "%p", strconv.Itoa(port))
	return "exec " + r.Replace(template)
}

func dialDirect(ctx context.Context, log logrus.FieldLogger, opts Options) (*Result, error) {
	attempts := opts.Attempts
	if attempts < 1 {
		attempts = 1
	}
	network := opts.Family
	if network == "" {
		network = "tcp"
	}
	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, err := dialOnce(ctx, network, addr, opts)
		if err == nil {
			if tcpConn, ok := conn.(*net.TCPConn); ok && opts.TCPKeepAlive {
				tcpConn.SetKeepAlive(true)
			}
			resolvedAddr := conn.RemoteAddr().String()
			if host, _, err := net.SplitHostPort(resolvedAddr); err == nil {
				resolvedAddr = host
			}
			return &Result{Conn: conn, ResolvedAddr: resolvedAddr}, nil
		}
		lastErr = err
		log.WithError(err).Debugf("dial attempt %d/%d to %s failed", attempt, attempts, addr)

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, trace.Wrap(ctx.Err())
		case <-time.After(time.Second):
		}
	}
	return nil, trace.ConnectionProblem(lastErr, "failed to connect to %s after %d attempts", addr, attempts)
}

func dialOnce(ctx context.Context, network, addr string, opts Options) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: opts.ConnectTimeout}

	if opts.WantPrivilegedPort {
		var conn net.Conn
		err := privsep.Elevate(func() error {
			localAddr, err := reservedSourceAddr()
			if err != nil {
				return trace.Wrap(err)
			}
			dialer.LocalAddr = localAddr
			conn, err = dialer.DialContext(ctx, network, addr)
			return trace.Wrap(err)
		})
		return conn, trace.Wrap(err)
	}

	if opts.BindAddress != "" {
		dialer.LocalAddr = &net.TCPAddr{IP: net.ParseIP(opts.BindAddress)}
	}
	conn, err := dialer.DialContext(ctx, network, addr)
	return conn, trace.Wrap(err)
}

// reservedSourceAddr picks a source port below 1024, the "anonymous
// privileged port" a client binds to prove it started with root
// privilege, the way rsh/rlogin-style trust historically worked.
func reservedSourceAddr() (net.Addr, error) {
	const lowestReserved, highestReserved = 512, 1023
	for port := highestReserved; port >= lowestReserved; port-- {
		l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			addr := l.Addr().(*net.TCPAddr)
			l.Close()
			return &net.TCPAddr{Port: addr.Port}, nil
		}
	}
	return nil, trace.LimitExceeded("no reserved source port available in %d-%d", lowestReserved, highestReserved)
}
