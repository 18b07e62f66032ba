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

// Package identity loads the ordered list of identity descriptors the
// authenticator tries, combining on-disk key files with any smartcard
// present, the way lib/client's Key/KeyPair types are loaded before the
// user-auth dialog begins.
package identity

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/gravitational/trace"
	"golang.org/x/crypto/ssh"

	"github.com/coreshell/sshc/api/utils/keys"
)

// Source names where an identity's key material came from.
type Source int

const (
	// SourceFile is a plain identity file on disk (and its .pub sibling).
	SourceFile Source = iota
	// SourceSmartcard is a key enumerated off an attached smartcard.
	SourceSmartcard
	// SourceAgent is a key whose private half lives only in ssh-agent;
	// no identity file backs it.
	SourceAgent
)

// Entry is one candidate identity. Load reads both halves up front; the
// private half is not deferred until the authenticator signs with it.
// Private is nil when the private file is missing (tolerated — the
// authenticator may still succeed via an agent holding the matching key).
type Entry struct {
	Path    string
	Public  ssh.PublicKey
	Private *keys.PrivateKey
	Source  Source
}

// Substitutions carries the expansion variables for identity path
// patterns: %u (local user), %h (remote host), %r (remote user),
// %l (local hostname), %d (home directory).
type Substitutions struct {
	LocalUser  string
	LocalHost  string
	RemoteUser string
	RemoteHost string
	HomeDir    string
}

// ExpandPath resolves a leading "~" and the %u/%h/%r/%l/%d substitution
// tokens in an identity file path.
func ExpandPath(path string, subs Substitutions) (string, error) {
	expanded := path

	if expanded == "~" || strings.HasPrefix(expanded, "~/") {
		home := subs.HomeDir
		if home == "" {
			u, err := user.Current()
			if err != nil {
				return "", trace.Wrap(err)
			}
			home = u.HomeDir
		}
		expanded = filepath.Join(home, strings.TrimPrefix(expanded, "~"))
	}

	replacer := strings.NewReplacer(
		"%u", subs.LocalUser,
		"%h", subs.RemoteHost,
		"%r", subs.RemoteUser,
		"%l", subs.LocalHost,
		"%d", subs.HomeDir,
	)
	return replacer.Replace(expanded), nil
}

// MaxSmartcardKeys bounds how many keys a single smartcard enumeration
// prepends to the identity list, so a misbehaving or malicious card
// cannot force unbounded authentication attempts.
const MaxSmartcardKeys = 8

// Load builds the ordered identity list: smartcard keys first (if a
// device is configured), then one entry per configured path. A path with
// no ".pub" file takes its public half from the private key; a path for
// which neither file exists is dropped silently rather than treated as a
// configuration error. A file that exists but cannot be read or parsed
// fails the whole load.
func Load(paths []string, subs Substitutions, smartcardDevice string) ([]*Entry, error) {
	var entries []*Entry

	if smartcardDevice != "" {
		cardEntries, err := loadSmartcard(smartcardDevice)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		entries = append(entries, cardEntries...)
	}

	for _, p := range paths {
		expanded, err := ExpandPath(p, subs)
		if err != nil {
			return nil, trace.Wrap(err)
		}

		entry, ok, err := loadFileIdentity(expanded)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if !ok {
			continue
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func loadFileIdentity(path string) (*Entry, bool, error) {
	pubPath := path + ".pub"
	pubBytes, err := os.ReadFile(pubPath)
	switch {
	case err == nil:
		// fall through, parse below
	case os.IsNotExist(err):
		// No detached public key file. The private key file itself may
		// still exist and be loadable below; if neither exists, this
		// identity is simply absent and skipped.
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			return nil, false, nil
		}
		pubBytes = nil
	default:
		return nil, false, trace.ConvertSystemError(err)
	}

	entry := &Entry{Path: path, Source: SourceFile}

	if pubBytes != nil {
		pub, _, _, _, err := ssh.ParseAuthorizedKey(pubBytes)
		if err != nil {
			return nil, false, trace.Wrap(err, "parsing public half of identity %q", path)
		}
		entry.Public = pub
	}

	priv, err := keys.LoadPrivateKey(path)
	switch {
	case err == nil:
		entry.Private = priv
		if entry.Public == nil {
			entry.Public = priv.SSHPublicKey()
		}
	case trace.IsNotFound(err):
		// A missing private file is tolerated; authentication may still
		// succeed through an agent holding the matching key.
	default:
		return nil, false, trace.Wrap(err, "loading private half of identity %q", path)
	}

	if entry.Public == nil && entry.Private == nil {
		return nil, false, nil
	}

	return entry, true, nil
}
