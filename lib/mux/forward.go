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

package mux

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"
)

// Direction names which side of a forward owns the listening socket.
type Direction int

const (
	DirectionLocal Direction = iota
	DirectionRemote
	DirectionDynamic
)

// ForwardRecord tracks one configured port forward, matching the spec's
// data model; RemoteConfirmed is set once a remote forward's global
// request has been acknowledged (needed by the fork-after-auth
// deferral and by "-o ExitOnForwardFailure").
type ForwardRecord struct {
	ListenHost  string
	ListenPort  int
	ConnectHost string
	ConnectPort int
	Direction   Direction

	Listener net.Listener

	RemoteConfirmed bool
	RemoteErr       error
}

// channelDialer opens a direct-tcpip channel to an address through the
// remote peer; *tracessh.Client satisfies this via its DialContext.
type channelDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// AcceptWithContext calls Accept but unblocks when ctx is canceled,
// letting the orchestrator tear down listeners promptly on shutdown.
func AcceptWithContext(ctx context.Context, l net.Listener) (net.Conn, error) {
	acceptCh := make(chan net.Conn, 1)
	errorCh := make(chan error, 1)

	go func() {
		conn, err := l.Accept()
		if err != nil {
			errorCh <- err
			return
		}
		acceptCh <- conn
	}()

	select {
	case conn := <-acceptCh:
		return conn, nil
	case err := <-errorCh:
		return nil, trace.Wrap(err)
	case <-ctx.Done():
		return nil, trace.Wrap(ctx.Err())
	}
}

// proxyConnection pipes conn to a direct-tcpip channel dialed to
// remoteAddr through dialer, retrying the dial a handful of times before
// giving up, the way a freshly-opened SSH session can briefly race the
// remote forwarder coming up.
func proxyConnection(ctx context.Context, log logrus.FieldLogger, conn net.Conn, remoteAddr string, dialer channelDialer) error {
	defer conn.Close()

	var (
		remoteConn net.Conn
		err        error
	)

	for attempt := 1; attempt <= 5; attempt++ {
		remoteConn, err = dialer.DialContext(ctx, "tcp", remoteAddr)
		if err == nil {
			break
		}
		log.Debugf("forward dial attempt %d to %s: %v", attempt, remoteAddr, err)

		timer := time.NewTimer(time.Duration(100*attempt) * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			return trace.Wrap(ctx.Err())
		case <-timer.C:
		}
	}
	if err != nil {
		return trace.BadParameter("failed to open channel to %v: %v", remoteAddr, err)
	}
	defer remoteConn.Close()

	errCh := make(chan error, 2)
	go func() {
		defer conn.Close()
		defer remoteConn.Close()
		_, err := io.Copy(conn, remoteConn)
		errCh <- err
	}()
	go func() {
		defer conn.Close()
		defer remoteConn.Close()
		_, err := io.Copy(remoteConn, conn)
		errCh <- err
	}()

	var errs []error
	for i := 0; i < 2; i++ {
		select {
		case err := <-errCh:
			if err != nil && err != io.EOF && !strings.Contains(err.Error(), "use of closed network connection") {
				errs = append(errs, err)
			}
		case <-ctx.Done():
			return trace.Wrap(ctx.Err())
		}
	}
	return trace.NewAggregate(errs...)
}

// ListenAndForward accepts connections on ln and proxies each to
// remoteAddr through a fresh direct-tcpip channel — the local-forward
// side of setup_local_forward.
func ListenAndForward(ctx context.Context, log logrus.FieldLogger, ln net.Listener, remoteAddr string, dialer channelDialer) {
	defer ln.Close()
	log = log.WithField("remote_addr", remoteAddr)

	for ctx.Err() == nil {
		conn, err := AcceptWithContext(ctx, ln)
		if err != nil {
			if ctx.Err() == nil {
				log.WithError(err).Error("local forward accept failed")
			}
			continue
		}
		go func() {
			if err := proxyConnection(ctx, log, conn, remoteAddr, dialer); err != nil {
				log.WithError(err).Warn("local forward proxy failed")
			}
		}()
	}
}

// DynamicListenAndForward accepts connections on ln, performs a SOCKS5
// handshake to learn the client's requested target, then proxies to it —
// the dynamic (-D) forward.
func DynamicListenAndForward(ctx context.Context, log logrus.FieldLogger, ln net.Listener, dialer channelDialer) {
	defer ln.Close()

	for ctx.Err() == nil {
		conn, err := AcceptWithContext(ctx, ln)
		if err != nil {
			if ctx.Err() == nil {
				log.WithError(err).Error("dynamic forward accept failed")
			}
			continue
		}

		remoteAddr, err := socksHandshake(conn)
		if err != nil {
			log.WithError(err).Error("SOCKS5 handshake failed")
			conn.Close()
			continue
		}

		go func() {
			if err := proxyConnection(ctx, log, conn, remoteAddr, dialer); err != nil {
				log.WithError(err).Warn("dynamic forward proxy failed")
			}
		}()
	}
}

// ListenHostPort renders the record's listen side as "host:port" for
// net.Listen.
func (f ForwardRecord) ListenHostPort() string {
	return fmt.Sprintf("%s:%d", f.ListenHost, f.ListenPort)
}

// ConnectHostPort renders the record's connect side as "host:port" for
// the direct-tcpip channel's target address.
func (f ForwardRecord) ConnectHostPort() string {
	return fmt.Sprintf("%s:%d", f.ConnectHost, f.ConnectPort)
}
