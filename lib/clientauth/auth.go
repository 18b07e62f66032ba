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

// Package clientauth runs the user-auth dialog over an already-keyed
// transport: publickey (from loaded identities and/or a running
// ssh-agent), keyboard-interactive, and password, the way
// lib/client/keyring.go's LocalKeyAgent wraps signers as ssh.Signer
// values for golang.org/x/crypto/ssh to drive, generalized from
// Teleport-certificate auth to plain key/password auth against a bare
// SSH server.
package clientauth

import (
	"fmt"
	"os"

	"github.com/gravitational/trace"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/coreshell/sshc/lib/hostkey"
	"github.com/coreshell/sshc/lib/identity"
)

// Prompt gathers interactive credentials; the orchestrator supplies a
// terminal-backed implementation, tests supply a canned one.
type Prompt interface {
	Password(prompt string) (string, error)
	KeyboardInteractive(name, instruction string, questions []string, echos []bool) ([]string, error)
}

// Config is the contract's parameter list: the already-loaded identities
// plus which methods are permitted, and an optional running agent
// connection to draw additional keys from and to forward.
type Config struct {
	LocalUser  string
	ServerUser string
	Host       string

	Identities []*identity.Entry

	AllowPassword            bool
	AllowKeyboardInteractive bool
	AllowAgentForwarding     bool

	// Agent is a connection to a running ssh-agent, nil if none is
	// available. It is used for publickey auth whether or not
	// AllowAgentForwarding is set.
	Agent agent.ExtendedAgent

	Prompt Prompt

	// Downgraded points at state the host-key callback fills in during
	// the handshake's key-exchange phase, before the authentication
	// phase asks these callbacks for credentials. A nil pointer means
	// no downgrade information is tracked; callbacks treat that the
	// same as a zero-value Downgrade.
	Downgraded *hostkey.Downgrade
}

func (cfg Config) downgraded() hostkey.Downgrade {
	if cfg.Downgraded == nil {
		return hostkey.Downgrade{}
	}
	return *cfg.Downgraded
}

// AuthMethods builds the ssh.AuthMethod list to pass to ssh.ClientConfig,
// in the order OpenSSH tries them: agent-held keys first, then
// identity-file keys, then keyboard-interactive, then password.
func AuthMethods(cfg Config) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if cfg.Agent != nil {
		methods = append(methods, ssh.PublicKeysCallback(cfg.Agent.Signers))
	}

	if signers := identitySigners(cfg.Identities); len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}

	if cfg.AllowKeyboardInteractive && cfg.Prompt != nil {
		methods = append(methods, ssh.KeyboardInteractiveChallenge(func(name, instruction string, questions []string, echos []bool) ([]string, error) {
			d := cfg.downgraded()
			if d.KeyboardInteractive || d.ChallengeResponse {
				return nil, trace.AccessDenied("keyboard-interactive authentication disabled after host key downgrade")
			}
			return cfg.Prompt.KeyboardInteractive(name, instruction, questions, echos)
		}))
	}

	if cfg.AllowPassword && cfg.Prompt != nil {
		methods = append(methods, ssh.PasswordCallback(func() (string, error) {
			if cfg.downgraded().Password {
				return "", trace.AccessDenied("password authentication disabled after host key downgrade")
			}
			return cfg.Prompt.Password(fmt.Sprintf("%s@%s's password: ", cfg.ServerUser, cfg.Host))
		}))
	}

	if len(methods) == 0 {
		return nil, trace.BadParameter("no authentication methods available")
	}
	return methods, nil
}

func identitySigners(entries []*identity.Entry) []ssh.Signer {
	var signers []ssh.Signer
	for _, e := range entries {
		if e.Private == nil {
			continue
		}
		signer, err := ssh.NewSignerFromSigner(e.Private)
		if err != nil {
			continue
		}
		signers = append(signers, signer)
	}
	return signers
}

// ForwardToAgent relays an authenticated connection's agent-forwarding
// channel to the local ssh-agent, the side-channel state the contract
// allows this component to set up. It blocks until the channel closes
// and is meant to run in its own goroutine per forwarded channel.
func ForwardToAgent(localAgent agent.Agent, channel ssh.Channel) error {
	return trace.Wrap(agent.ServeAgent(localAgent, channel))
}

// DefaultAgent connects to the agent named by SSH_AUTH_SOCK, returning
// nil with no error if the environment variable is unset (agent auth
// simply isn't available).
func DefaultAgent() (agent.ExtendedAgent, error) {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, nil
	}
	conn, err := dialAgentSocket(sock)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return agent.NewClient(conn), nil
}
