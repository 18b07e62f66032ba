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

// Command sshc is a standalone SSH client: it parses the flag table,
// resolves it into connection options, loads identities, and hands
// everything to the session orchestrator. Every client-side failure
// (bad flags, failed connect, failed auth, protocol mismatch) exits
// 255; a remote command's own exit status otherwise passes through.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/coreshell/sshc/lib/clientauth"
	"github.com/coreshell/sshc/lib/identity"
	"github.com/coreshell/sshc/lib/orchestrator"
	"github.com/coreshell/sshc/lib/sshoptions"
	"github.com/coreshell/sshc/lib/utils"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	app := utils.InitCLIParser("sshc", "Connect to a remote host over SSH.")
	cli := &sshoptions.CLI{}
	sshoptions.RegisterFlags(app, cli)

	if _, err := app.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, utils.UserMessageFromError(err))
		return 255
	}

	if cli.PrintVersion {
		fmt.Println("sshc_1.0")
		return 0
	}

	opts, err := sshoptions.Resolve(cli)
	if err != nil {
		fmt.Fprintln(os.Stderr, utils.UserMessageFromError(err))
		return 255
	}

	level := logrus.WarnLevel
	switch {
	case opts.Quiet:
		level = logrus.ErrorLevel
	case opts.Verbosity == 1:
		level = logrus.InfoLevel
	case opts.Verbosity >= 2:
		level = logrus.DebugLevel
	}
	utils.InitLogger(utils.LoggingForCLI, level)
	log := logrus.StandardLogger()

	homeDir, _ := os.UserHomeDir()
	opts.KnownHostsUser = filepath.Join(homeDir, ".ssh", "known_hosts")
	opts.KnownHostsSystem = "/etc/ssh/ssh_known_hosts"

	identities, err := loadIdentities(opts, homeDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, utils.UserMessageFromError(err))
		return 255
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	session := &orchestrator.Session{
		Options:    opts,
		Sensitive:  &sshoptions.Sensitive{},
		Identities: identities,
		Prompt:     terminalPrompt{},
		Log:        log,
	}

	exitCode, err := session.Run(ctx, cli.Command)
	if err != nil {
		fmt.Fprintln(os.Stderr, utils.UserMessageFromError(err))
		return 255
	}
	return exitCode
}

func loadIdentities(opts *sshoptions.Options, homeDir string) ([]*identity.Entry, error) {
	files := opts.IdentityFiles
	if len(files) == 0 {
		files = []string{"~/.ssh/id_rsa", "~/.ssh/id_ed25519"}
	}
	subs := identity.Substitutions{
		LocalUser:  currentUser(),
		RemoteUser: opts.User,
		RemoteHost: opts.Host,
		HomeDir:    homeDir,
	}
	if hn, err := os.Hostname(); err == nil {
		subs.LocalHost = hn
	}
	entries, err := identity.Load(files, subs, opts.SmartcardDevice)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return entries, nil
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}

// terminalPrompt implements clientauth.Prompt against the controlling
// terminal, reading passwords without echo the way a real ssh client does.
type terminalPrompt struct{}

func (terminalPrompt) Password(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	defer fmt.Fprintln(os.Stderr)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", trace.Wrap(err)
	}
	return string(pw), nil
}

func (terminalPrompt) KeyboardInteractive(name, instruction string, questions []string, echos []bool) ([]string, error) {
	if name != "" {
		fmt.Fprintln(os.Stderr, name)
	}
	if instruction != "" {
		fmt.Fprintln(os.Stderr, instruction)
	}
	answers := make([]string, len(questions))
	for i, q := range questions {
		fmt.Fprint(os.Stderr, q)
		if i < len(echos) && !echos[i] {
			pw, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return nil, trace.Wrap(err)
			}
			answers[i] = string(pw)
			continue
		}
		var answer string
		if _, err := fmt.Scanln(&answer); err != nil && !strings.Contains(err.Error(), "unexpected newline") {
			return nil, trace.Wrap(err)
		}
		answers[i] = answer
	}
	return answers, nil
}

var _ clientauth.Prompt = terminalPrompt{}
