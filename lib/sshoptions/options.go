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

// Package sshoptions holds the fully-resolved, post-merge configuration
// the core consumes: Options is immutable from the moment the
// orchestrator starts using it, the same "resolve once at startup" shape
// lib/config gives Teleport's service configuration.
package sshoptions

// AddressFamily restricts which address families dialing considers.
type AddressFamily int

const (
	FamilyAny AddressFamily = iota
	FamilyInet4
	FamilyInet6
)

// StrictHostKeyChecking mirrors OpenSSH's StrictHostKeyChecking modes.
type StrictHostKeyChecking int

const (
	StrictOff StrictHostKeyChecking = iota
	StrictAsk
	StrictStrict
)

// VerifyHostKeyDNS mirrors OpenSSH's VerifyHostKeyDNS modes. DNS-based
// (SSHFP) verification is out of scope for this core (no resolver
// component exists to validate it against), so no flag or -o key sets
// this field and Verify never reads it.
type VerifyHostKeyDNS int

const (
	VerifyHostKeyDNSOff VerifyHostKeyDNS = iota
	VerifyHostKeyDNSSoft
	VerifyHostKeyDNSStrict
)

// ControlMaster mirrors OpenSSH's ControlMaster modes.
type ControlMaster int

const (
	ControlMasterNo ControlMaster = iota
	ControlMasterYes
	ControlMasterAsk
	ControlMasterAuto
)

// TunMode selects whether and how a tun@openssh.com forward is requested.
type TunMode int

const (
	TunOff TunMode = iota
	TunPointToPoint
	TunEthernet
)

// ProtocolMask is the subset of {v1, v2} a connection will accept.
type ProtocolMask struct {
	AcceptV1 bool
	AcceptV2 bool
	PreferV1 bool
}

// CipherSpec models a user-supplied cipher/MAC/kex list, including
// OpenSSH's `ciphers=-1` "print the compiled-in default list and exit"
// sentinel from the original ssh.c, represented here as an explicit
// variant rather than a magic pointer value.
type CipherSpec struct {
	Names       []string
	Unsupported bool // true for the "-1" query sentinel
}

// LocalForward describes a -L forward: listen locally, connect through
// the remote peer.
type LocalForward struct {
	ListenHost  string
	ListenPort  int
	ConnectHost string
	ConnectPort int
}

// RemoteForward describes a -R forward: ask the remote peer to listen,
// connect locally. ListenPort of 0 asks the peer to pick a free port,
// read back from the confirmation payload.
type RemoteForward struct {
	ListenHost  string
	ListenPort  int
	ConnectHost string
	ConnectPort int
}

// Options is the fully-resolved configuration the core consumes,
// immutable after initialization except for the feature-disabling
// mutations the orchestrator applies: agent forwarding cleared by the
// banner exchange's compatibility flags, and the features the host-key
// verifier reports as downgraded.
type Options struct {
	Protocol      ProtocolMask
	AddressFamily AddressFamily

	Host          string
	Port          int
	User          string
	HostKeyAlias  string
	BindAddress   string

	ConnectionAttempts  int
	ConnectionTimeoutMs int
	TCPKeepAlive        bool

	ProxyCommand string

	CheckHostIP                      bool
	StrictHostKeyChecking            StrictHostKeyChecking
	VerifyHostKeyDNS                 VerifyHostKeyDNS
	HashKnownHosts                   bool
	NoHostAuthenticationForLocalhost bool
	VisualHostKey                    bool

	KnownHostsUser   string
	KnownHostsSystem string

	IdentityFiles []string

	ForwardAgent         bool
	ForwardX11           bool
	ForwardX11Trusted    bool
	GatewayPorts         bool
	ExitOnForwardFailure bool

	LocalForwards   []LocalForward
	RemoteForwards  []RemoteForward
	DynamicForwards []string // resolved "host:port" listen addresses for -D

	TunMode   TunMode
	TunLocal  int
	TunRemote int

	Compression      bool
	CompressionLevel int

	ObfuscationEnabled bool
	ObfuscationKeyword string

	ControlMaster ControlMaster
	ControlPath   string

	EscapeChar         byte
	BatchMode          bool
	PermitLocalCommand bool
	LocalCommand       string

	Ciphers CipherSpec

	ServerAliveInterval int
	ServerAliveCountMax int

	NoRemoteCommand bool
	DisablePTY      bool
	ForcePTY        bool
	Subsystem       string
	SmartcardDevice string
	ForkAfterAuth   bool
	StdinDevNull    bool
	Quiet           bool
	Verbosity       int

	// LogLevel/UseSyslog/ClientVersionString are ambient additions: the
	// logging concern and the software-version token embedded in our
	// banner, neither excluded by a Non-goal.
	LogLevel            string
	UseSyslog           bool
	ClientVersionString string
}

// Sensitive holds private host keys for host-based/legacy rhosts-RSA
// auth, owned by the orchestrator and wiped before steady state.
type Sensitive struct {
	HostKeys               [][]byte
	ExternalSignerRequired bool
}

// Wipe zeroes the held key material; called once, immediately after
// the authenticator returns.
func (s *Sensitive) Wipe() {
	for _, k := range s.HostKeys {
		for i := range k {
			k[i] = 0
		}
	}
	s.HostKeys = nil
}
