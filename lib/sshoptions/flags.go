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

package sshoptions

import (
	"strconv"
	"strings"

	"github.com/gravitational/kingpin"
	"github.com/gravitational/trace"
)

// CLI holds the raw flag destinations kingpin writes into; Resolve then
// folds them, plus any -o key=value overrides, into an Options value.
// Splitting raw flags from the resolved model keeps the kingpin-specific
// plumbing out of the core's data type, the way tool/tsh's command
// structs are themselves separate from the API types they build.
type CLI struct {
	ProtocolV1 bool
	ProtocolV2 bool
	IPv4       bool
	IPv6       bool

	ForwardAgentEnable  bool
	ForwardAgentDisable bool

	Compression bool

	DynamicForward []string
	LocalForward   []string
	RemoteForward  []string

	EscapeChar    string
	ConfigFile    string
	ForkAfterAuth bool
	GatewayPorts  bool

	SmartcardDevice string
	IdentityFiles   []string

	NoRemoteCommand bool
	StdinDevNull    bool

	ControlMasterCount int
	ControlCommand     string
	ConfigOptions      []string

	Port int

	Quiet   bool
	Verbose int

	ControlSocket string
	Subsystem     bool

	DisablePTY    bool
	ForcePTYCount int

	PrintVersion bool

	TunDevice string

	X11Enable  bool
	X11Disable bool
	X11Trusted bool

	UseSyslog bool

	Obfuscate        bool
	ObfuscateKeyword string

	BindAddress string
	CipherSpec  string
	MACSpec     string

	LoginUser string

	Target  string
	Command []string
}

// counter returns a kingpin Action that increments dst each time its
// flag is parsed, the idiom this fork of kingpin uses for repeatable
// no-argument flags like -v/-M/-t instead of a dedicated counter type.
func counter(dst *int) kingpin.Action {
	return func(*kingpin.ParseContext) error {
		*dst++
		return nil
	}
}

// RegisterFlags wires the §6 flag table onto a kingpin command/app.
func RegisterFlags(c interface {
	Flag(name, help string) *kingpin.FlagClause
	Arg(name, help string) *kingpin.ArgClause
}, cli *CLI) {
	c.Flag("1", "Force protocol version 1").BoolVar(&cli.ProtocolV1)
	c.Flag("2", "Force protocol version 2").BoolVar(&cli.ProtocolV2)
	c.Flag("4", "Force IPv4").BoolVar(&cli.IPv4)
	c.Flag("6", "Force IPv6").BoolVar(&cli.IPv6)
	c.Flag("A", "Enable agent forwarding").BoolVar(&cli.ForwardAgentEnable)
	c.Flag("a", "Disable agent forwarding").BoolVar(&cli.ForwardAgentDisable)
	c.Flag("C", "Enable compression").BoolVar(&cli.Compression)
	c.Flag("D", "Dynamic (SOCKS) forward, [addr:]port").StringsVar(&cli.DynamicForward)
	c.Flag("e", "Escape character").StringVar(&cli.EscapeChar)
	c.Flag("F", "Config file").StringVar(&cli.ConfigFile)
	c.Flag("f", "Fork after auth (implies -n)").BoolVar(&cli.ForkAfterAuth)
	c.Flag("g", "Gateway ports on local forwards").BoolVar(&cli.GatewayPorts)
	c.Flag("I", "Smartcard device").StringVar(&cli.SmartcardDevice)
	c.Flag("i", "Identity file").StringsVar(&cli.IdentityFiles)
	c.Flag("L", "Local forward, [addr:]port:host:hostport").StringsVar(&cli.LocalForward)
	c.Flag("l", "Remote login name").StringVar(&cli.LoginUser)
	c.Flag("M", "Control-master (repeat to ask-confirm)").Action(counter(&cli.ControlMasterCount))
	c.Flag("m", "MAC algorithm list").StringVar(&cli.MACSpec)
	c.Flag("N", "No remote command, no PTY").BoolVar(&cli.NoRemoteCommand)
	c.Flag("n", "Redirect stdin from /dev/null").BoolVar(&cli.StdinDevNull)
	c.Flag("O", "Control a running master (check, exit)").StringVar(&cli.ControlCommand)
	c.Flag("o", "Config option key=value").StringsVar(&cli.ConfigOptions)
	c.Flag("p", "Port").IntVar(&cli.Port)
	c.Flag("q", "Quiet").BoolVar(&cli.Quiet)
	c.Flag("R", "Remote forward, [addr:]port:host:hostport").StringsVar(&cli.RemoteForward)
	c.Flag("S", "Control socket path").StringVar(&cli.ControlSocket)
	c.Flag("s", "Invoke a subsystem").BoolVar(&cli.Subsystem)
	c.Flag("T", "Disable PTY").BoolVar(&cli.DisablePTY)
	c.Flag("t", "Force PTY (repeat to force without a tty)").Action(counter(&cli.ForcePTYCount))
	c.Flag("V", "Print version and exit").BoolVar(&cli.PrintVersion)
	c.Flag("v", "Increase verbosity (repeatable, max 3)").Action(counter(&cli.Verbose))
	c.Flag("w", "Tunnel device, local[:remote]").StringVar(&cli.TunDevice)
	c.Flag("X", "Enable X11 forwarding").BoolVar(&cli.X11Enable)
	c.Flag("x", "Disable X11 forwarding").BoolVar(&cli.X11Disable)
	c.Flag("Y", "Trusted X11 forwarding").BoolVar(&cli.X11Trusted)
	c.Flag("y", "Use syslog").BoolVar(&cli.UseSyslog)
	c.Flag("z", "Enable handshake obfuscation").BoolVar(&cli.Obfuscate)
	c.Flag("Z", "Handshake obfuscation keyword").StringVar(&cli.ObfuscateKeyword)
	c.Flag("b", "Bind source address").StringVar(&cli.BindAddress)
	c.Flag("c", "Cipher spec").StringVar(&cli.CipherSpec)

	c.Arg("target", "[user@]host").Required().StringVar(&cli.Target)
	c.Arg("command", "Remote command").StringsVar(&cli.Command)
}

// Resolve folds parsed flags and -o overrides into an Options value,
// applying the defaults a bare invocation would get.
func Resolve(cli *CLI) (*Options, error) {
	opts := &Options{
		ConnectionAttempts:  1,
		ConnectionTimeoutMs: 0,
		TCPKeepAlive:        true,
		Port:                22,
		CompressionLevel:    6,
		EscapeChar:          '~',
		ControlMaster:       ControlMasterNo,
		ClientVersionString: "sshc_1.0",
	}

	user, host, err := splitTarget(cli.Target)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	opts.Host = host
	opts.User = user
	if cli.LoginUser != "" {
		opts.User = cli.LoginUser
	}

	opts.Protocol = ProtocolMask{AcceptV1: true, AcceptV2: true}
	switch {
	case cli.ProtocolV1:
		opts.Protocol = ProtocolMask{AcceptV1: true, PreferV1: true}
	case cli.ProtocolV2:
		opts.Protocol = ProtocolMask{AcceptV2: true}
	}

	switch {
	case cli.IPv4:
		opts.AddressFamily = FamilyInet4
	case cli.IPv6:
		opts.AddressFamily = FamilyInet6
	}

	if cli.Port != 0 {
		opts.Port = cli.Port
	}
	opts.BindAddress = cli.BindAddress
	opts.Compression = cli.Compression
	opts.GatewayPorts = cli.GatewayPorts
	opts.UseSyslog = cli.UseSyslog
	opts.IdentityFiles = cli.IdentityFiles

	opts.ForwardAgent = cli.ForwardAgentEnable && !cli.ForwardAgentDisable
	opts.ForwardX11 = cli.X11Enable && !cli.X11Disable
	opts.ForwardX11Trusted = cli.X11Trusted

	opts.ObfuscationEnabled = cli.Obfuscate || cli.ObfuscateKeyword != ""
	opts.ObfuscationKeyword = cli.ObfuscateKeyword

	if cli.ControlMasterCount > 0 {
		opts.ControlMaster = ControlMasterYes
		if cli.ControlMasterCount > 1 {
			opts.ControlMaster = ControlMasterAsk
		}
	}
	opts.ControlPath = cli.ControlSocket

	if cli.EscapeChar != "" {
		ch, err := parseEscapeChar(cli.EscapeChar)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		opts.EscapeChar = ch
	}

	for _, spec := range cli.LocalForward {
		f, err := parseLocalForward(spec)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		opts.LocalForwards = append(opts.LocalForwards, f)
	}
	for _, spec := range cli.RemoteForward {
		f, err := parseRemoteForward(spec)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		opts.RemoteForwards = append(opts.RemoteForwards, f)
	}
	for _, spec := range cli.DynamicForward {
		addr, err := parseDynamicForward(spec)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		opts.DynamicForwards = append(opts.DynamicForwards, addr)
	}

	opts.NoRemoteCommand = cli.NoRemoteCommand
	opts.DisablePTY = cli.DisablePTY
	opts.ForcePTY = cli.ForcePTYCount > 0
	if cli.Subsystem && len(cli.Command) > 0 {
		opts.Subsystem = cli.Command[0]
		cli.Command = nil
	}
	opts.SmartcardDevice = cli.SmartcardDevice
	opts.ForkAfterAuth = cli.ForkAfterAuth
	opts.StdinDevNull = cli.StdinDevNull || cli.ForkAfterAuth
	opts.Quiet = cli.Quiet
	opts.Verbosity = cli.Verbose

	for _, kv := range cli.ConfigOptions {
		if err := applyConfigOption(opts, kv); err != nil {
			return nil, trace.Wrap(err)
		}
	}

	return opts, nil
}

func splitTarget(target string) (user, host string, err error) {
	if idx := strings.Index(target, "@"); idx >= 0 {
		return target[:idx], target[idx+1:], nil
	}
	if target == "" {
		return "", "", trace.BadParameter("missing target host")
	}
	return "", target, nil
}

func parseEscapeChar(s string) (byte, error) {
	if s == "none" {
		return 0, nil
	}
	if strings.HasPrefix(s, "^") && len(s) == 2 {
		return s[1] - '@', nil
	}
	if len(s) == 1 {
		return s[0], nil
	}
	return 0, trace.BadParameter("invalid escape character %q", s)
}

// parseLocalForward parses "[addr:]port:host:hostport".
func parseLocalForward(spec string) (LocalForward, error) {
	parts := strings.Split(spec, ":")
	switch len(parts) {
	case 3:
		port, err := strconv.Atoi(parts[0])
		if err != nil {
			return LocalForward{}, trace.Wrap(err)
		}
		hostport, err := strconv.Atoi(parts[2])
		if err != nil {
			return LocalForward{}, trace.Wrap(err)
		}
		return LocalForward{ListenPort: port, ConnectHost: parts[1], ConnectPort: hostport}, nil
	case 4:
		port, err := strconv.Atoi(parts[1])
		if err != nil {
			return LocalForward{}, trace.Wrap(err)
		}
		hostport, err := strconv.Atoi(parts[3])
		if err != nil {
			return LocalForward{}, trace.Wrap(err)
		}
		return LocalForward{ListenHost: parts[0], ListenPort: port, ConnectHost: parts[2], ConnectPort: hostport}, nil
	default:
		return LocalForward{}, trace.BadParameter("invalid -L spec %q", spec)
	}
}

// parseDynamicForward parses "[addr:]port" into a listen address; a bare
// port listens on localhost only, matching OpenSSH's -D default.
func parseDynamicForward(spec string) (string, error) {
	if idx := strings.LastIndex(spec, ":"); idx >= 0 {
		if _, err := strconv.Atoi(spec[idx+1:]); err != nil {
			return "", trace.BadParameter("invalid -D spec %q", spec)
		}
		return spec, nil
	}
	if _, err := strconv.Atoi(spec); err != nil {
		return "", trace.BadParameter("invalid -D spec %q", spec)
	}
	return "localhost:" + spec, nil
}

func parseRemoteForward(spec string) (RemoteForward, error) {
	lf, err := parseLocalForward(spec)
	if err != nil {
		return RemoteForward{}, trace.Wrap(err)
	}
	return RemoteForward(lf), nil
}

// applyConfigOption maps a single "-o key=value" onto Options; unknown
// keys are accepted silently, matching OpenSSH's tolerant config
// parsing for options this core doesn't model.
func applyConfigOption(opts *Options, kv string) error {
	idx := strings.Index(kv, "=")
	if idx < 0 {
		return trace.BadParameter("invalid -o option %q, expected key=value", kv)
	}
	key, value := strings.ToLower(kv[:idx]), kv[idx+1:]

	switch key {
	case "stricthostkeychecking":
		switch strings.ToLower(value) {
		case "no", "off":
			opts.StrictHostKeyChecking = StrictOff
		case "ask":
			opts.StrictHostKeyChecking = StrictAsk
		case "yes", "strict":
			opts.StrictHostKeyChecking = StrictStrict
		}
	case "checkhostip":
		opts.CheckHostIP = isTruthy(value)
	case "hashknownhosts":
		opts.HashKnownHosts = isTruthy(value)
	case "nohostauthenticationforlocalhost":
		opts.NoHostAuthenticationForLocalhost = isTruthy(value)
	case "batchmode":
		opts.BatchMode = isTruthy(value)
	case "exitonforwardfailure":
		opts.ExitOnForwardFailure = isTruthy(value)
	case "proxycommand":
		opts.ProxyCommand = value
	case "connectionattempts":
		if n, err := strconv.Atoi(value); err == nil {
			opts.ConnectionAttempts = n
		}
	case "connecttimeout":
		if n, err := strconv.Atoi(value); err == nil {
			opts.ConnectionTimeoutMs = n * 1000
		}
	case "serveraliveinterval":
		if n, err := strconv.Atoi(value); err == nil {
			opts.ServerAliveInterval = n
		}
	case "serveralivecountmax":
		if n, err := strconv.Atoi(value); err == nil {
			opts.ServerAliveCountMax = n
		}
	case "permitlocalcommand":
		opts.PermitLocalCommand = isTruthy(value)
	case "localcommand":
		opts.LocalCommand = value
	case "loglevel":
		opts.LogLevel = value
	}
	return nil
}

func isTruthy(v string) bool {
	switch strings.ToLower(v) {
	case "yes", "true", "1", "on":
		return true
	}
	return false
}

// QueryCapabilities lists the static capability names this core's SSH
// library exposes, not a live negotiation. No CLI flag calls it.
func QueryCapabilities(kind string) ([]string, error) {
	switch kind {
	case "cipher":
		return []string{"aes128-ctr", "aes192-ctr", "aes256-ctr", "aes128-gcm@openssh.com", "chacha20-poly1305@openssh.com"}, nil
	case "mac":
		return []string{"hmac-sha2-256", "hmac-sha2-512", "hmac-sha1"}, nil
	case "key":
		return []string{"ssh-ed25519", "ecdsa-sha2-nistp256", "rsa-sha2-256", "rsa-sha2-512"}, nil
	default:
		return nil, trace.BadParameter("unknown query kind %q", kind)
	}
}
