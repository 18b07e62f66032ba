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

// Package banner drives the byte-level SSH version exchange: a
// preamble-tolerant line reader, the v1/v2 negotiation table, and the
// hand-off to golang.org/x/crypto/ssh.NewClientConn for the real key
// exchange. No example repo implements this (golang.org/x/crypto/ssh
// does its own banner exchange internally and doesn't expose this as a
// seam), so the byte-level state machine here is written directly
// against the spec's description; everything past the banner line
// still goes through golang.org/x/crypto/ssh.
package banner

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gravitational/trace"
)

const (
	maxLineLen       = 256
	maxPreambleBytes = 64 * 1024
)

// ErrProtocolV1Unsupported is returned when the negotiation settles on
// SSHv1 but this build was compiled without the sshv1 tag.
var ErrProtocolV1Unsupported = trace.BadParameter("SSH protocol version 1 is not supported in this build")

// Version identifies which major protocol version negotiation chose.
type Version int

const (
	VersionUnknown Version = iota
	Version1
	Version2
)

// VersionContext records what the exchange learned: the remote's
// announced version, what was negotiated, and the feature downgrades
// that follow from an old peer.
type VersionContext struct {
	RemoteBanner   string
	RemoteMajor    int
	RemoteMinor    int
	RemoteSoftware string
	Negotiated     Version

	Legacy13Compat      bool
	DisableAgentForward bool
}

// Options configures one exchange.
type Options struct {
	// ClientVersionString is the software-version token embedded in our
	// own banner, e.g. "sshc_1.0".
	ClientVersionString string

	AcceptV1 bool
	AcceptV2 bool
	PreferV1 bool

	ObfuscationKeyword string // empty disables obfuscation

	Timeout time.Duration
}

// Exchange performs the banner exchange as the connection's initiator:
// reads and discards preamble, reads and parses the peer's banner line,
// negotiates a version, writes our own banner, and returns a net.Conn
// ready for golang.org/x/crypto/ssh.NewClientConn (with any
// already-buffered bytes replayed, and an obfuscation overlay applied
// if configured).
func Exchange(conn net.Conn, opts Options) (net.Conn, *VersionContext, error) {
	if opts.Timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(opts.Timeout)); err != nil {
			return nil, nil, trace.Wrap(err)
		}
		defer conn.SetDeadline(time.Time{})
	}

	wireConn := conn
	if opts.ObfuscationKeyword != "" {
		oc, err := newObfuscatedConn(conn, opts.ObfuscationKeyword)
		if err != nil {
			return nil, nil, trace.Wrap(err)
		}
		wireConn = oc
	}

	r := bufio.NewReader(wireConn)
	line, err := readBannerLine(r)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}

	vc, err := parseBanner(line)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}

	negotiated, err := negotiate(vc, opts)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	vc.Negotiated = negotiated

	if negotiated == Version1 {
		if err := checkV1Supported(); err != nil {
			return nil, nil, trace.Wrap(err)
		}
	}

	ourBanner := fmt.Sprintf("SSH-%d.%d-%s", versionMajor(negotiated), versionMinor(negotiated, vc), opts.ClientVersionString)
	terminator := "\r\n"
	if negotiated == Version1 {
		terminator = "\n"
	}
	if _, err := wireConn.Write([]byte(ourBanner + terminator)); err != nil {
		return nil, nil, trace.Wrap(err)
	}

	return &replayConn{Conn: wireConn, r: r}, vc, nil
}

// readBannerLine discards non-"SSH-" preamble lines (bounded by
// maxPreambleBytes total) and returns the first line starting with
// "SSH-", trimmed of its line terminator. A bare CR is normalized to
// LF per the spec.
func readBannerLine(r *bufio.Reader) (string, error) {
	var preambleConsumed int
	for {
		line, err := readLine(r)
		if err != nil {
			return "", trace.Wrap(err)
		}
		if strings.HasPrefix(line, "SSH-") {
			return line, nil
		}
		preambleConsumed += len(line) + 1
		if preambleConsumed > maxPreambleBytes {
			return "", trace.LimitExceeded("banner preamble exceeded %d bytes", maxPreambleBytes)
		}
	}
}

func readLine(r *bufio.Reader) (string, error) {
	var buf []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", trace.Wrap(err)
		}
		if b == '\r' {
			b = '\n'
		}
		if b == '\n' {
			return string(buf), nil
		}
		buf = append(buf, b)
		if len(buf) > maxLineLen {
			return "", trace.BadParameter("banner line exceeded %d bytes", maxLineLen)
		}
	}
}

func parseBanner(line string) (*VersionContext, error) {
	rest := strings.TrimPrefix(line, "SSH-")
	dashIdx := strings.Index(rest, "-")
	if dashIdx < 0 {
		return nil, trace.BadParameter("malformed banner %q", line)
	}
	versionPart, software := rest[:dashIdx], rest[dashIdx+1:]

	dotIdx := strings.Index(versionPart, ".")
	if dotIdx < 0 {
		return nil, trace.BadParameter("malformed banner version %q", versionPart)
	}
	major, err := strconv.Atoi(versionPart[:dotIdx])
	if err != nil {
		return nil, trace.Wrap(err, "malformed banner major version")
	}
	minor, err := strconv.Atoi(versionPart[dotIdx+1:])
	if err != nil {
		return nil, trace.Wrap(err, "malformed banner minor version")
	}

	return &VersionContext{
		RemoteBanner:   line,
		RemoteMajor:    major,
		RemoteMinor:    minor,
		RemoteSoftware: software,
	}, nil
}

// negotiate implements the spec's §4.4 decision table.
func negotiate(vc *VersionContext, opts Options) (Version, error) {
	switch {
	case vc.RemoteMajor == 2 && opts.AcceptV2:
		return Version2, nil
	case vc.RemoteMajor == 1 && vc.RemoteMinor == 99 && opts.AcceptV2 && !opts.PreferV1:
		return Version2, nil
	case vc.RemoteMajor == 1 && opts.AcceptV1:
		if vc.RemoteMinor == 3 || vc.RemoteMinor == 4 {
			vc.Legacy13Compat = true
			vc.DisableAgentForward = true
		}
		return Version1, nil
	default:
		return VersionUnknown, trace.BadParameter("no compatible SSH protocol version: remote offered %d.%d", vc.RemoteMajor, vc.RemoteMinor)
	}
}

func versionMajor(v Version) int {
	if v == Version1 {
		return 1
	}
	return 2
}

func versionMinor(v Version, vc *VersionContext) int {
	if v == Version1 && vc.Legacy13Compat {
		return vc.RemoteMinor
	}
	if v == Version1 {
		return 5
	}
	return 0
}

// replayConn hands back any bytes bufio.Reader had already buffered
// past the banner line before a raw net.Conn continues serving reads,
// so ssh.NewClientConn sees a contiguous stream.
type replayConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *replayConn) Read(b []byte) (int, error) {
	if c.r.Buffered() > 0 {
		return c.r.Read(b)
	}
	return c.Conn.Read(b)
}

var _ io.Reader = (*replayConn)(nil)
