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

// Package knownhosts implements the persisted trust-on-first-use host key
// database: a line-oriented file of hostname-to-key associations that the
// host-key verifier consults and appends to, the way lib/client wires
// golang.org/x/crypto/ssh.ParseKnownHosts into its HostKeyCallback.
package knownhosts

import (
	"bufio"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/gravitational/trace"
	"golang.org/x/crypto/ssh"
)

// Status is the result of a Lookup against the trust store.
type Status int

const (
	// New means no entry for the host exists under any matching name.
	New Status = iota
	// OK means an entry exists and its key matches the presented key.
	OK
	// Changed means an entry exists for the host with a different key of
	// the same type as the presented key.
	Changed
	// Revoked means the host name is explicitly marked revoked.
	Revoked
)

func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case New:
		return "NEW"
	case Changed:
		return "CHANGED"
	case Revoked:
		return "REVOKED"
	default:
		return "UNKNOWN"
	}
}

// Record describes the known_hosts line a Lookup matched or conflicted
// with, for diagnostics (reporting the line number of a changed key).
type Record struct {
	KeyType string
	KeyBits int
	LineNo  int
	Key     ssh.PublicKey
}

const revokedMarker = "@revoked"

// HostKeyName forms the canonical store key for a host: "host" for the
// default port, "[host]:port" otherwise.
func HostKeyName(host string, port, defaultPort int) string {
	if port == 0 || port == defaultPort {
		return host
	}
	return fmt.Sprintf("[%s]:%d", host, port)
}

// Lookup streams file looking for a line whose hostname pattern matches
// hostKeyName. Revoked markers take precedence. If a match is found with
// the same key type as presented but different key material, that is a
// Changed result (the first mismatching line wins the diagnostic line
// number). A byte-equal match is OK. No matching name line at all is New.
func Lookup(file, hostKeyName string, presented ssh.PublicKey) (Status, *Record, error) {
	f, err := os.Open(file)
	if os.IsNotExist(err) {
		return New, nil, nil
	}
	if err != nil {
		return New, nil, trace.ConvertSystemError(err)
	}
	defer f.Close()

	var changed, ok *Record
	lineNo := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		entry, err := parseLine(line, lineNo)
		if err != nil {
			continue
		}
		if !entry.matches(hostKeyName) {
			continue
		}
		if entry.revoked {
			return Revoked, &Record{LineNo: lineNo, Key: entry.key}, nil
		}
		if entry.key.Type() != presented.Type() {
			continue
		}
		if keysEqual(entry.key, presented) {
			if ok == nil {
				ok = &Record{KeyType: entry.key.Type(), LineNo: lineNo, Key: entry.key}
			}
			continue
		}
		if changed == nil {
			changed = &Record{KeyType: entry.key.Type(), LineNo: lineNo, Key: entry.key}
		}
	}
	if err := scanner.Err(); err != nil {
		return New, nil, trace.Wrap(err)
	}

	if ok != nil {
		return OK, ok, nil
	}
	if changed != nil {
		return Changed, changed, nil
	}
	return New, nil, nil
}

// LookupAny returns the first key of keyType stored for hostKeyName,
// regardless of whether it matches any particular presented key.
func LookupAny(file, hostKeyName, keyType string) (ssh.PublicKey, error) {
	f, err := os.Open(file)
	if os.IsNotExist(err) {
		return nil, trace.NotFound("no known_hosts entry for %q", hostKeyName)
	}
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entry, err := parseLine(line, lineNo)
		if err != nil || entry.revoked {
			continue
		}
		if entry.matches(hostKeyName) && entry.key.Type() == keyType {
			return entry.key, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, trace.Wrap(err)
	}
	return nil, trace.NotFound("no known_hosts entry for %q", hostKeyName)
}

// Insert appends an entry for hostKeyName to file, creating it (and its
// parent directory) if necessary. When hash is true the hostname is
// stored in the salted HMAC-SHA1 form OpenSSH uses for HashKnownHosts.
func Insert(file, hostKeyName string, key ssh.PublicKey, hash bool) error {
	if err := os.MkdirAll(dirOf(file), 0700); err != nil {
		return trace.ConvertSystemError(err)
	}

	f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return trace.ConvertSystemError(err)
	}
	defer f.Close()

	name := hostKeyName
	if hash {
		hashed, err := HashHostname(hostKeyName)
		if err != nil {
			return trace.Wrap(err)
		}
		name = hashed
	}

	line := fmt.Sprintf("%s %s\n", name, strings.TrimSpace(string(ssh.MarshalAuthorizedKey(key))))
	if _, err := f.WriteString(line); err != nil {
		return trace.ConvertSystemError(err)
	}
	return nil
}

// HashHostname renders hostname in OpenSSH's hashed known_hosts form,
// "|1|base64(salt)|base64(HMAC-SHA1(salt, hostname))".
func HashHostname(hostname string) (string, error) {
	salt := make([]byte, sha1.Size)
	if _, err := rand.Read(salt); err != nil {
		return "", trace.Wrap(err)
	}
	mac := hmac.New(sha1.New, salt)
	mac.Write([]byte(hostname))
	digest := mac.Sum(nil)

	return fmt.Sprintf("|1|%s|%s",
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(digest),
	), nil
}

// matchesHashedHostname reports whether hostname hashes to the same
// digest as a "|1|salt|hash" entry.
func matchesHashedHostname(hashedEntry, hostname string) bool {
	parts := strings.Split(hashedEntry, "|")
	if len(parts) != 4 || parts[0] != "" || parts[1] != "1" {
		return false
	}
	salt, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return false
	}
	want, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil {
		return false
	}
	mac := hmac.New(sha1.New, salt)
	mac.Write([]byte(hostname))
	return hmac.Equal(mac.Sum(nil), want)
}

type knownHostLine struct {
	patterns []string
	revoked  bool
	key      ssh.PublicKey
}

func (l knownHostLine) matches(hostKeyName string) bool {
	for _, p := range l.patterns {
		if strings.HasPrefix(p, "|1|") {
			if matchesHashedHostname(p, hostKeyName) {
				return true
			}
			continue
		}
		if p == hostKeyName {
			return true
		}
	}
	return false
}

func parseLine(line string, lineNo int) (knownHostLine, error) {
	revoked := false
	if strings.HasPrefix(line, revokedMarker) {
		revoked = true
		line = strings.TrimSpace(strings.TrimPrefix(line, revokedMarker))
	}

	fields := strings.Fields(line)
	if len(fields) < 2 {
		return knownHostLine{}, trace.BadParameter("malformed known_hosts line %d", lineNo)
	}

	patterns := strings.Split(fields[0], ",")

	keyField := strings.Join(fields[1:], " ")
	key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(keyField))
	if err != nil {
		return knownHostLine{}, trace.Wrap(err)
	}

	return knownHostLine{patterns: patterns, revoked: revoked, key: key}, nil
}

func keysEqual(a, b ssh.PublicKey) bool {
	return a.Type() == b.Type() && string(a.Marshal()) == string(b.Marshal())
}

func dirOf(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return "."
	}
	return path[:idx]
}

// KeyBits returns an approximate bit-length label for a key, used only in
// diagnostics; it is not a cryptographic property of the key.
func KeyBits(key ssh.PublicKey) int {
	switch key.Type() {
	case ssh.KeyAlgoRSA:
		return 2048
	case ssh.KeyAlgoED25519:
		return 256
	default:
		return 0
	}
}
