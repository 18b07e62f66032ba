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
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/gravitational/trace"
)

// socksHandshake performs the server side of a minimal SOCKS5 handshake:
// no-auth negotiation followed by a CONNECT request, returning the
// requested "host:port". This is the -D dynamic-forward listener's
// protocol; golang.org/x/net/proxy only implements the SOCKS5 client
// side (for dialing out through a proxy), so the server half that a
// dynamic forward listener needs is implemented directly against the
// RFC 1928 wire format.
func socksHandshake(conn net.Conn) (string, error) {
	if err := socksNegotiateAuth(conn); err != nil {
		return "", trace.Wrap(err)
	}
	return socksReadRequest(conn)
}

func socksNegotiateAuth(conn net.Conn) error {
	header := make([]byte, 2)
	if _, err := io.ReadFull(conn, header); err != nil {
		return trace.Wrap(err)
	}
	if header[0] != 0x05 {
		return trace.BadParameter("unsupported SOCKS version %d", header[0])
	}

	nMethods := int(header[1])
	methods := make([]byte, nMethods)
	if _, err := io.ReadFull(conn, methods); err != nil {
		return trace.Wrap(err)
	}

	// Only the no-authentication method (0x00) is offered; a forwarding
	// tunnel already authenticated the user at the SSH layer.
	if _, err := conn.Write([]byte{0x05, 0x00}); err != nil {
		return trace.Wrap(err)
	}
	return nil
}

const (
	socksCmdConnect  = 0x01
	socksAtypIPv4    = 0x01
	socksAtypDomain  = 0x03
	socksAtypIPv6    = 0x04
	socksReplyOK     = 0x00
	socksReplyFailed = 0x01
)

func socksReadRequest(conn net.Conn) (string, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(conn, header); err != nil {
		return "", trace.Wrap(err)
	}
	if header[0] != 0x05 {
		return "", trace.BadParameter("unsupported SOCKS version %d", header[0])
	}
	if header[1] != socksCmdConnect {
		socksReply(conn, socksReplyFailed)
		return "", trace.BadParameter("unsupported SOCKS command %d", header[1])
	}

	var host string
	switch header[3] {
	case socksAtypIPv4:
		addr := make([]byte, 4)
		if _, err := io.ReadFull(conn, addr); err != nil {
			return "", trace.Wrap(err)
		}
		host = net.IP(addr).String()
	case socksAtypIPv6:
		addr := make([]byte, 16)
		if _, err := io.ReadFull(conn, addr); err != nil {
			return "", trace.Wrap(err)
		}
		host = net.IP(addr).String()
	case socksAtypDomain:
		lenBuf := make([]byte, 1)
		if _, err := io.ReadFull(conn, lenBuf); err != nil {
			return "", trace.Wrap(err)
		}
		domain := make([]byte, lenBuf[0])
		if _, err := io.ReadFull(conn, domain); err != nil {
			return "", trace.Wrap(err)
		}
		host = string(domain)
	default:
		socksReply(conn, socksReplyFailed)
		return "", trace.BadParameter("unsupported SOCKS address type %d", header[3])
	}

	portBuf := make([]byte, 2)
	if _, err := io.ReadFull(conn, portBuf); err != nil {
		return "", trace.Wrap(err)
	}
	port := binary.BigEndian.Uint16(portBuf)

	if err := socksReply(conn, socksReplyOK); err != nil {
		return "", trace.Wrap(err)
	}

	return fmt.Sprintf("%s:%d", host, port), nil
}

func socksReply(conn net.Conn, code byte) error {
	// BND.ADDR/BND.PORT are zeroed: this listener never reports the
	// bound address back, matching how a transparent forwarding proxy
	// commonly replies when it doesn't track an outbound socket itself.
	reply := []byte{0x05, code, 0x00, socksAtypIPv4, 0, 0, 0, 0, 0, 0}
	_, err := conn.Write(reply)
	return trace.Wrap(err)
}
