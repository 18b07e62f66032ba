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

package banner

import (
	"crypto/rand"
	"crypto/rc4"
	"crypto/sha1"
	"io"
	"net"

	"github.com/gravitational/trace"
)

const obfuscationSeedLen = 16

// obfuscatedConn overlays a keyed RC4 keystream on top of the
// pre-key-exchange bytes of a connection: every written byte passes
// through the forward keystream, every read byte through the inverse
// one. The seed is exchanged up front so both ends derive the same pair
// of per-direction keys from seed+keyword, the same construction the
// obfuscated-openssh patch uses to slip the banner and KEXINIT past
// protocol-fingerprinting middleboxes.
type obfuscatedConn struct {
	net.Conn
	send *rc4.Cipher
	recv *rc4.Cipher
}

// newObfuscatedConn generates a fresh seed, writes it to conn, and
// derives the send/receive keystreams from seed+keyword.
func newObfuscatedConn(conn net.Conn, keyword string) (*obfuscatedConn, error) {
	seed := make([]byte, obfuscationSeedLen)
	if _, err := rand.Read(seed); err != nil {
		return nil, trace.Wrap(err)
	}
	if _, err := conn.Write(seed); err != nil {
		return nil, trace.Wrap(err)
	}
	return deriveObfuscatedConn(conn, keyword, seed)
}

// acceptObfuscatedConn reads a seed written by the peer and derives the
// matching keystreams (receive/send swapped relative to the initiator).
func acceptObfuscatedConn(conn net.Conn, keyword string) (*obfuscatedConn, error) {
	seed := make([]byte, obfuscationSeedLen)
	if _, err := io.ReadFull(conn, seed); err != nil {
		return nil, trace.Wrap(err)
	}
	oc, err := deriveObfuscatedConn(conn, keyword, seed)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	oc.send, oc.recv = oc.recv, oc.send
	return oc, nil
}

func deriveObfuscatedConn(conn net.Conn, keyword string, seed []byte) (*obfuscatedConn, error) {
	sendKey := directionKey(seed, keyword, "initiator")
	recvKey := directionKey(seed, keyword, "responder")

	send, err := rc4.NewCipher(sendKey)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	recv, err := rc4.NewCipher(recvKey)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &obfuscatedConn{Conn: conn, send: send, recv: recv}, nil
}

func directionKey(seed []byte, keyword, direction string) []byte {
	h := sha1.New()
	h.Write(seed)
	h.Write([]byte(keyword))
	h.Write([]byte(direction))
	return h.Sum(nil)
}

func (c *obfuscatedConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if n > 0 {
		c.recv.XORKeyStream(b[:n], b[:n])
	}
	return n, err
}

func (c *obfuscatedConn) Write(b []byte) (int, error) {
	out := make([]byte, len(b))
	c.send.XORKeyStream(out, b)
	return c.Conn.Write(out)
}
