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
	"crypto/rand"
	"encoding/hex"

	"github.com/gravitational/trace"
	"github.com/moby/term"
	"golang.org/x/crypto/ssh"

	tracessh "github.com/coreshell/sshc/api/observability/tracing/ssh"
)

// SessionConfig describes the sub-requests setup_session issues against
// a freshly opened session channel, in the fixed order the spec names:
// pty-req, x11-req, auth-agent-req, env, then exec/subsystem/shell.
type SessionConfig struct {
	WantTTY bool
	Term    string
	Window  term.Winsize
	Modes   ssh.TerminalModes

	ForwardX11   bool
	X11Trusted   bool
	ForwardAgent bool

	Env map[string]string

	// Exactly one of Subsystem/Command should be set; neither means an
	// interactive shell.
	Subsystem string
	Command   string
}

// OpenSession allocates a channel entry, opens the underlying SSH session
// channel, and issues the setup sub-requests in order. The channel's
// default window/packet size is halved when a pty is requested, matching
// the narrower buffering a terminal session needs.
func OpenSession(ctx context.Context, client *tracessh.Client, registry *Registry, cfg SessionConfig) (*tracessh.Session, *Channel, error) {
	window, maxPacket := DefaultWindow, DefaultMaxPacket
	if cfg.WantTTY {
		window /= 2
		maxPacket /= 2
	}
	ch := registry.Open(KindSession, window, maxPacket)

	session, err := client.NewSession(ctx)
	if err != nil {
		ch.Confirm(false, nil)
		return nil, nil, trace.Wrap(err)
	}
	ch.Confirm(true, nil)

	if cfg.WantTTY {
		if err := session.RequestPty(cfg.Term, int(cfg.Window.Height), int(cfg.Window.Width), cfg.Modes); err != nil {
			return nil, nil, trace.Wrap(err, "pty-req failed")
		}
	}

	if cfg.ForwardX11 {
		if err := requestX11Forward(session, cfg.X11Trusted); err != nil {
			return nil, nil, trace.Wrap(err, "x11-req failed")
		}
	}

	if cfg.ForwardAgent {
		if _, err := session.SendRequest(ctx, "auth-agent-req@openssh.com", true, nil); err != nil {
			return nil, nil, trace.Wrap(err, "auth-agent-req failed")
		}
	}

	for k, v := range cfg.Env {
		if err := session.Setenv(k, v); err != nil {
			return nil, nil, trace.Wrap(err, "env %s failed", k)
		}
	}

	return session, ch, nil
}

// Start issues the final exec/subsystem/shell request for a configured
// session, matching setup_session's fixed tail.
func Start(session *tracessh.Session, cfg SessionConfig) error {
	switch {
	case cfg.Subsystem != "":
		return trace.Wrap(session.RequestSubsystem(cfg.Subsystem))
	case cfg.Command != "":
		return trace.Wrap(session.Start(cfg.Command))
	default:
		return trace.Wrap(session.Shell())
	}
}

func requestX11Forward(session *tracessh.Session, trusted bool) error {
	protocol, cookie := "MIT-MAGIC-COOKIE-1", randomX11Cookie()
	payload := ssh.Marshal(struct {
		SingleConnection bool
		AuthProtocol     string
		AuthCookie       string
		ScreenNumber     uint32
	}{
		SingleConnection: !trusted,
		AuthProtocol:     protocol,
		AuthCookie:       cookie,
		ScreenNumber:     0,
	})
	_, err := session.SendRequest(context.Background(), "x11-req", true, payload)
	return trace.Wrap(err)
}

// randomX11Cookie generates a fresh MIT-MAGIC-COOKIE-1 value; each x11-req
// gets its own so forwarded sessions don't share xauth secrets.
func randomX11Cookie() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}
