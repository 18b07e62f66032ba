/*
Copyright 2022 Gravitational, Inc

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

// Package ssh wraps golang.org/x/crypto/ssh's Client and Session with
// OpenTelemetry spans, the way api/observability/tracing instruments the
// rest of this module's network calls.
package ssh

import (
	"context"
	"fmt"
	"net"

	"github.com/gravitational/trace"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/ssh"

	"github.com/coreshell/sshc/api/observability/tracing"
)

const instrumentationName = "golang.org/x/crypto/ssh"

// Client wraps ssh.Client and traces the operations the session orchestrator
// drives: dialing a direct-tcpip channel, opening a session, and sending
// global requests.
type Client struct {
	*ssh.Client
	opts []tracing.Option
}

// NewClient wraps an already-established ssh.Conn (produced by
// ssh.NewClientConn after the host-key callback has accepted the server)
// with tracing instrumentation.
func NewClient(c ssh.Conn, chans <-chan ssh.NewChannel, reqs <-chan *ssh.Request, opts ...tracing.Option) *Client {
	return &Client{
		Client: ssh.NewClient(c, chans, reqs),
		opts:   opts,
	}
}

func (c *Client) tracer() oteltrace.Tracer {
	return tracing.NewConfig(c.opts).TracerProvider.Tracer(instrumentationName)
}

func peerAttr(addr net.Addr) []attribute.KeyValue {
	if addr == nil {
		return nil
	}
	return []attribute.KeyValue{attribute.String("peer.address", addr.String())}
}

// DialContext initiates a direct-tcpip channel to addr through the remote
// host, the primitive local port forwards and the dynamic SOCKS listener
// both build on.
func (c *Client) DialContext(ctx context.Context, n, addr string) (net.Conn, error) {
	_, span := c.tracer().Start(
		ctx,
		"ssh.DialContext",
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(
			append(
				peerAttr(c.Conn.RemoteAddr()),
				attribute.String("network", n),
				attribute.String("address", addr),
				semconv.RPCServiceKey.String("ssh.Client"),
				semconv.RPCMethodKey.String("Dial"),
				semconv.RPCSystemKey.String("ssh"),
			)...,
		),
	)
	defer span.End()

	conn, err := c.Client.Dial(n, addr)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	}
	return conn, trace.Wrap(err)
}

// SendRequest sends a global request (used for remote-forward and
// no-more-sessions@openssh.com) and traces the round trip.
func (c *Client) SendRequest(ctx context.Context, name string, wantReply bool, payload []byte) (bool, []byte, error) {
	_, span := c.tracer().Start(
		ctx,
		fmt.Sprintf("ssh.GlobalRequest/%s", name),
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(
			append(
				peerAttr(c.Conn.RemoteAddr()),
				attribute.Bool("want_reply", wantReply),
				semconv.RPCServiceKey.String("ssh.Client"),
				semconv.RPCMethodKey.String("SendRequest"),
				semconv.RPCSystemKey.String("ssh"),
			)...,
		),
	)
	defer span.End()

	ok, resp, err := c.Client.SendRequest(name, wantReply, payload)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	}
	return ok, resp, trace.Wrap(err)
}

// OpenChannel opens a raw channel (used for direct-tcpip, x11, and
// tun@openssh.com channel types that ssh.Client.NewSession does not cover).
func (c *Client) OpenChannel(ctx context.Context, name string, data []byte) (ssh.Channel, <-chan *ssh.Request, error) {
	_, span := c.tracer().Start(
		ctx,
		fmt.Sprintf("ssh.OpenChannel/%s", name),
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(
			append(
				peerAttr(c.Conn.RemoteAddr()),
				semconv.RPCServiceKey.String("ssh.Client"),
				semconv.RPCMethodKey.String("OpenChannel"),
				semconv.RPCSystemKey.String("ssh"),
			)...,
		),
	)
	defer span.End()

	ch, reqs, err := c.Client.OpenChannel(name, data)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	}
	return ch, reqs, trace.Wrap(err)
}

// NewSession opens a new session channel and traces its lifetime.
func (c *Client) NewSession(ctx context.Context) (*Session, error) {
	_, span := c.tracer().Start(
		ctx,
		"ssh.NewSession",
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(
			append(
				peerAttr(c.Conn.RemoteAddr()),
				semconv.RPCServiceKey.String("ssh.Client"),
				semconv.RPCMethodKey.String("NewSession"),
				semconv.RPCSystemKey.String("ssh"),
			)...,
		),
	)
	defer span.End()

	session, err := c.Client.NewSession()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return nil, trace.Wrap(err)
	}

	return &Session{Session: session, client: c}, nil
}

// Session wraps ssh.Session so that request methods can be extended with
// tracing without changing their call sites in lib/mux and lib/orchestrator.
type Session struct {
	*ssh.Session
	client *Client
}

// SendRequest sends a channel request (pty-req, x11-req, auth-agent-req,
// and the rest of setup_session's sub-requests) and traces the round trip,
// shadowing ssh.Session's context-less SendRequest.
func (s *Session) SendRequest(ctx context.Context, name string, wantReply bool, payload []byte) (bool, error) {
	_, span := s.client.tracer().Start(
		ctx,
		fmt.Sprintf("ssh.SessionRequest/%s", name),
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(
			append(
				peerAttr(s.client.Conn.RemoteAddr()),
				attribute.Bool("want_reply", wantReply),
				semconv.RPCServiceKey.String("ssh.Session"),
				semconv.RPCMethodKey.String("SendRequest"),
				semconv.RPCSystemKey.String("ssh"),
			)...,
		),
	)
	defer span.End()

	ok, err := s.Session.SendRequest(name, wantReply, payload)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	}
	return ok, trace.Wrap(err)
}
