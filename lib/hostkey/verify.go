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

// Package hostkey applies trust-on-first-use policy to a presented server
// host key, the way lib/client wires an ssh.HostKeyCallback around its
// known-hosts lookups, and drives the associated user prompts.
package hostkey

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/gravitational/trace"
	"golang.org/x/crypto/ssh"

	"github.com/coreshell/sshc/lib/knownhosts"
)

// StrictMode mirrors the StrictHostKeyChecking option.
type StrictMode int

const (
	StrictOff StrictMode = iota
	StrictAsk
	StrictStrict
)

// ReadOnly mirrors the three ways a store file may be treated: writable,
// read-only (rejects NEW silently), or read-only but without even the
// diagnostic noise ("quiet").
type ReadOnly int

const (
	ReadWrite ReadOnly = iota
	ReadOnlyStore
	ReadOnlyQuiet
)

// decision is the pure three-way result the spec's §4.5 table reduces to.
type decision int

const (
	decisionAccept decision = iota
	decisionPrompt
	decisionReject
)

// decide is the pure function of (host_status, ip_status, strict,
// readonly, is_local, alias_set) the testable-properties section
// requires: no I/O, no prompting, just the table.
func decide(hostStatus, ipStatus knownhosts.Status, strict StrictMode, readOnly ReadOnly, isLocal, aliasSet bool) decision {
	if isLocal && !aliasSet {
		return decisionAccept
	}

	switch hostStatus {
	case knownhosts.Revoked:
		return decisionReject

	case knownhosts.OK:
		// OK host key with a changed IP: strict rejects, ask prompts, and
		// off logs a warning and continues with no feature downgrade.
		if ipStatus == knownhosts.Changed {
			switch strict {
			case StrictStrict:
				return decisionReject
			case StrictAsk:
				return decisionPrompt
			}
		}
		return decisionAccept

	case knownhosts.Changed:
		if strict == StrictStrict {
			return decisionReject
		}
		// Accept-with-downgrade: Verify disables risky features in
		// Result.Downgraded and proceeds; its callers must apply it.
		return decisionAccept

	case knownhosts.New:
		if strict == StrictStrict || readOnly != ReadWrite {
			return decisionReject
		}
		if strict == StrictAsk {
			return decisionPrompt
		}
		return decisionAccept

	default:
		return decisionReject
	}
}

// Downgrade lists the features the orchestrator must disable when a
// CHANGED host key is accepted under non-strict policy, per §4.5.
type Downgrade struct {
	Password            bool
	KeyboardInteractive bool
	ChallengeResponse   bool
	AgentForward        bool
	X11Forward          bool
	LocalForwards       bool
	RemoteForwards      bool
	TunForward          bool
}

// Disabled reports whether any feature was actually turned off.
func (d Downgrade) Disabled() bool {
	return d.Password || d.KeyboardInteractive || d.ChallengeResponse ||
		d.AgentForward || d.X11Forward || d.LocalForwards || d.RemoteForwards || d.TunForward
}

func fullDowngrade() Downgrade {
	return Downgrade{
		Password: true, KeyboardInteractive: true, ChallengeResponse: true,
		AgentForward: true, X11Forward: true, LocalForwards: true,
		RemoteForwards: true, TunForward: true,
	}
}

// Result is the outcome of Verify.
type Result struct {
	Accepted   bool
	Downgraded Downgrade
	// Warning carries a message the orchestrator should print (MITM
	// notice, host/IP mismatch) even when Accepted is true.
	Warning string
}

// Request bundles the inputs a single verification call needs.
type Request struct {
	Host         string // as typed by the user
	ResolvedAddr string // may be empty if unresolved (e.g. proxy command)
	Port         int
	DefaultPort  int
	Alias        string // host_key_alias, if configured

	UserFile   string
	SystemFile string

	CheckHostIP                      bool
	NoHostAuthenticationForLocalhost bool
	HashKnownHosts                   bool
	Strict                           StrictMode
	ReadOnly                         ReadOnly

	PresentedKey ssh.PublicKey

	// Prompt asks the user a yes/no question over the controlling
	// terminal; in batch mode it must always answer false ("no").
	Prompt func(prompt string) (bool, error)
}

func isLoopback(addr string) bool {
	return addr == "127.0.0.1" || addr == "::1" || strings.HasPrefix(addr, "127.")
}

// Verify applies the §4.5 trust policy to req, consulting and, where
// appropriate, updating the known-hosts store.
func Verify(req Request) (*Result, error) {
	local := req.ResolvedAddr != "" && isLoopback(req.ResolvedAddr)
	if req.NoHostAuthenticationForLocalhost && req.Alias == "" && local {
		return &Result{Accepted: true}, nil
	}

	storeKey := req.Alias
	if storeKey == "" {
		storeKey = knownhosts.HostKeyName(req.Host, req.Port, req.DefaultPort)
	}

	hostStatus, hostRecord, err := lookupBoth(req.UserFile, req.SystemFile, storeKey, req.PresentedKey)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	// Silent bare-name retry: a key stored only under the non-default-port
	// form should still match when looked up under the same canonical
	// name (no alternate names exist for this code path since storeKey
	// already IS the canonical name); the retry matters when the config
	// recorded the key under the bare host name while the connection
	// uses a non-default port. Try the bare host name once.
	if hostStatus == knownhosts.New && storeKey != req.Host {
		bareStatus, bareRecord, err := lookupBoth(req.UserFile, req.SystemFile, req.Host, req.PresentedKey)
		if err == nil && bareStatus == knownhosts.OK {
			hostStatus, hostRecord = bareStatus, bareRecord
		}
	}

	ipStatus := knownhosts.New
	ipKey := ""
	if req.CheckHostIP && req.ResolvedAddr != "" {
		ipKey = knownhosts.HostKeyName(req.ResolvedAddr, req.Port, req.DefaultPort)
		ipStatus, _, err = lookupBoth(req.UserFile, req.SystemFile, ipKey, req.PresentedKey)
		if err != nil {
			return nil, trace.Wrap(err)
		}
	}

	d := decide(hostStatus, ipStatus, req.Strict, req.ReadOnly, local, req.Alias != "")

	switch d {
	case decisionReject:
		return &Result{Accepted: false}, classifyRejection(hostStatus, ipStatus)

	case decisionPrompt:
		if req.Prompt == nil {
			return &Result{Accepted: false}, trace.BadParameter("host key verification required but no prompt available (batch mode)")
		}
		ok, err := promptYesNo(req, hostStatus)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if !ok {
			return &Result{Accepted: false}, trace.AccessDenied("host key verification failed for %s", req.Host)
		}
		if hostStatus == knownhosts.New && req.ReadOnly == ReadWrite {
			if err := persistNew(req, storeKey, ipKey); err != nil {
				return nil, trace.Wrap(err)
			}
		}
		res := &Result{Accepted: true}
		if hostStatus == knownhosts.OK && ipStatus == knownhosts.Changed {
			res.Warning = fmt.Sprintf("Warning: host key for %s matches known host, but the host's IP address has changed.", req.Host)
		}
		return res, nil

	case decisionAccept:
		res := &Result{Accepted: true}

		switch hostStatus {
		case knownhosts.OK:
			if ipStatus == knownhosts.New && req.ReadOnly == ReadWrite && ipKey != "" {
				if err := knownhosts.Insert(req.UserFile, ipKey, req.PresentedKey, req.HashKnownHosts); err != nil {
					return nil, trace.Wrap(err)
				}
				res.Warning = fmt.Sprintf("Warning: permanently added the host IP address for %s to the list of known hosts.", req.Host)
			} else if ipStatus == knownhosts.Changed {
				res.Warning = fmt.Sprintf("Warning: host key for %s matches known host, but the host's IP address has changed.", req.Host)
			}
		case knownhosts.Changed:
			res.Downgraded = fullDowngrade()
			res.Warning = fmt.Sprintf(
				"WARNING: REMOTE HOST IDENTIFICATION HAS CHANGED for %s (known_hosts line %d)! This may indicate a man-in-the-middle attack.",
				req.Host, hostRecord.LineNo,
			)
		case knownhosts.New:
			if req.ReadOnly == ReadWrite {
				if err := persistNew(req, storeKey, ipKey); err != nil {
					return nil, trace.Wrap(err)
				}
			}
		}
		return res, nil
	}

	return &Result{Accepted: false}, trace.BadParameter("unreachable host-key decision")
}

func lookupBoth(userFile, systemFile, name string, presented ssh.PublicKey) (knownhosts.Status, *knownhosts.Record, error) {
	status, record, err := knownhosts.Lookup(userFile, name, presented)
	if err != nil {
		return knownhosts.New, nil, trace.Wrap(err)
	}
	if status != knownhosts.New || systemFile == "" {
		return status, record, nil
	}
	return knownhosts.Lookup(systemFile, name, presented)
}

func persistNew(req Request, storeKey, ipKey string) error {
	if ipKey != "" && !req.HashKnownHosts {
		// Unhashed: OpenSSH combines bare and IP forms into a single
		// "host,ip" pattern line rather than two separate lines.
		return trace.Wrap(knownhosts.Insert(req.UserFile, storeKey+","+ipKey, req.PresentedKey, false))
	}
	if err := knownhosts.Insert(req.UserFile, storeKey, req.PresentedKey, req.HashKnownHosts); err != nil {
		return trace.Wrap(err)
	}
	if ipKey != "" {
		if err := knownhosts.Insert(req.UserFile, ipKey, req.PresentedKey, req.HashKnownHosts); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

func classifyRejection(hostStatus, ipStatus knownhosts.Status) error {
	switch hostStatus {
	case knownhosts.Revoked:
		return trace.AccessDenied("host key is explicitly revoked")
	case knownhosts.Changed:
		return trace.AccessDenied("REMOTE HOST IDENTIFICATION HAS CHANGED - possible man-in-the-middle attack")
	case knownhosts.New:
		return trace.AccessDenied("host key verification failed: host not found in known_hosts (strict mode)")
	default:
		return trace.AccessDenied("host key verification failed")
	}
}

// Fingerprint renders a key the way the strict=ask prompt shows it: the
// key type followed by its SHA256 fingerprint.
func Fingerprint(key ssh.PublicKey) string {
	return fmt.Sprintf("%s %s", key.Type(), ssh.FingerprintSHA256(key))
}

func promptYesNo(req Request, hostStatus knownhosts.Status) (bool, error) {
	var prompt string
	switch hostStatus {
	case knownhosts.New:
		prompt = fmt.Sprintf(
			"The authenticity of host '%s' can't be established.\n%s\nAre you sure you want to continue connecting (yes/no)? ",
			req.Host, Fingerprint(req.PresentedKey),
		)
	case knownhosts.OK:
		prompt = fmt.Sprintf(
			"Warning: the %s host key for '%s' has a changed IP address.\nAre you sure you want to continue connecting (yes/no)? ",
			req.PresentedKey.Type(), req.Host,
		)
	default:
		prompt = "Are you sure you want to continue connecting (yes/no)? "
	}
	return req.Prompt(prompt)
}

// ReadYesNo implements a Request.Prompt function reading from r and
// writing prompts to w, re-asking until the answer is an unambiguous
// yes/no (case-insensitive, prefix-matched), the way the terminal prompt
// in strict=ask mode behaves. batchMode short-circuits every prompt to
// "no" without blocking on r.
func ReadYesNo(r io.Reader, w io.Writer, batchMode bool) func(string) (bool, error) {
	scanner := bufio.NewScanner(r)
	return func(prompt string) (bool, error) {
		if batchMode {
			fmt.Fprint(w, prompt)
			fmt.Fprintln(w, "no")
			return false, nil
		}
		for {
			fmt.Fprint(w, prompt)
			if !scanner.Scan() {
				return false, trace.Wrap(scanner.Err(), "no answer given")
			}
			answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
			switch {
			case answer == "yes" || (len(answer) > 0 && strings.HasPrefix("yes", answer)):
				return true, nil
			case answer == "no" || (len(answer) > 0 && strings.HasPrefix("no", answer)):
				return false, nil
			}
		}
	}
}
