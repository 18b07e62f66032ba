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

package hostkey

import (
	"crypto/ed25519"
	"crypto/rand"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/coreshell/sshc/lib/knownhosts"
)

func genKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return sshPub
}

func TestDecideLocalWithoutAliasAlwaysAccepts(t *testing.T) {
	t.Parallel()

	d := decide(knownhosts.Revoked, knownhosts.New, StrictStrict, ReadOnlyStore, true, false)
	require.Equal(t, decisionAccept, d)
}

func TestDecideRevokedAlwaysRejects(t *testing.T) {
	t.Parallel()

	d := decide(knownhosts.Revoked, knownhosts.New, StrictOff, ReadWrite, false, false)
	require.Equal(t, decisionReject, d)
}

func TestDecideOKAcceptsUnlessIPChanged(t *testing.T) {
	t.Parallel()

	require.Equal(t, decisionAccept, decide(knownhosts.OK, knownhosts.New, StrictAsk, ReadWrite, false, false))
	require.Equal(t, decisionPrompt, decide(knownhosts.OK, knownhosts.Changed, StrictAsk, ReadWrite, false, false))
	require.Equal(t, decisionReject, decide(knownhosts.OK, knownhosts.Changed, StrictStrict, ReadWrite, false, false))
}

func TestDecideChangedRejectsUnderStrictOtherwiseDowngrades(t *testing.T) {
	t.Parallel()

	require.Equal(t, decisionReject, decide(knownhosts.Changed, knownhosts.New, StrictStrict, ReadWrite, false, false))
	require.Equal(t, decisionAccept, decide(knownhosts.Changed, knownhosts.New, StrictAsk, ReadWrite, false, false))
	require.Equal(t, decisionAccept, decide(knownhosts.Changed, knownhosts.New, StrictOff, ReadWrite, false, false))
}

func TestDecideNewDependsOnStrictAndReadOnly(t *testing.T) {
	t.Parallel()

	require.Equal(t, decisionReject, decide(knownhosts.New, knownhosts.New, StrictStrict, ReadWrite, false, false))
	require.Equal(t, decisionReject, decide(knownhosts.New, knownhosts.New, StrictOff, ReadOnlyStore, false, false))
	require.Equal(t, decisionPrompt, decide(knownhosts.New, knownhosts.New, StrictAsk, ReadWrite, false, false))
	require.Equal(t, decisionAccept, decide(knownhosts.New, knownhosts.New, StrictOff, ReadWrite, false, false))
}

func TestDowngradeDisabled(t *testing.T) {
	t.Parallel()

	require.False(t, Downgrade{}.Disabled())
	require.True(t, fullDowngrade().Disabled())
}

func TestVerifyAcceptsAndPersistsNewHost(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "known_hosts")
	key := genKey(t)

	res, err := Verify(Request{
		Host:         "example.com",
		Port:         22,
		DefaultPort:  22,
		UserFile:     file,
		PresentedKey: key,
		Strict:       StrictOff,
		ReadOnly:     ReadWrite,
	})
	require.NoError(t, err)
	require.True(t, res.Accepted)

	status, _, err := knownhosts.Lookup(file, "example.com", key)
	require.NoError(t, err)
	require.Equal(t, knownhosts.OK, status)
}

func TestVerifyRejectsNewHostUnderStrictMode(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "known_hosts")
	res, err := Verify(Request{
		Host:         "example.com",
		Port:         22,
		DefaultPort:  22,
		UserFile:     file,
		PresentedKey: genKey(t),
		Strict:       StrictStrict,
		ReadOnly:     ReadWrite,
	})
	require.Error(t, err)
	require.False(t, res.Accepted)
}

func TestVerifyPromptsForNewHostUnderAskMode(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "known_hosts")
	key := genKey(t)
	var promptedWith string

	res, err := Verify(Request{
		Host:         "example.com",
		Port:         22,
		DefaultPort:  22,
		UserFile:     file,
		PresentedKey: key,
		Strict:       StrictAsk,
		ReadOnly:     ReadWrite,
		Prompt: func(p string) (bool, error) {
			promptedWith = p
			return true, nil
		},
	})
	require.NoError(t, err)
	require.True(t, res.Accepted)
	require.Contains(t, promptedWith, "authenticity")
}

func TestVerifyRejectsWhenPromptDeclines(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "known_hosts")
	_, err := Verify(Request{
		Host:         "example.com",
		Port:         22,
		DefaultPort:  22,
		UserFile:     file,
		PresentedKey: genKey(t),
		Strict:       StrictAsk,
		ReadOnly:     ReadWrite,
		Prompt:       func(string) (bool, error) { return false, nil },
	})
	require.Error(t, err)
}

func TestVerifyNewHostUnderAskModeWithNoPromptErrors(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "known_hosts")
	_, err := Verify(Request{
		Host:         "example.com",
		Port:         22,
		DefaultPort:  22,
		UserFile:     file,
		PresentedKey: genKey(t),
		Strict:       StrictAsk,
		ReadOnly:     ReadWrite,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "batch mode")
}

func TestVerifyChangedHostDowngradesAndWarns(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "known_hosts")
	original := genKey(t)
	require.NoError(t, knownhosts.Insert(file, "example.com", original, false))

	res, err := Verify(Request{
		Host:         "example.com",
		Port:         22,
		DefaultPort:  22,
		UserFile:     file,
		PresentedKey: genKey(t),
		Strict:       StrictOff,
		ReadOnly:     ReadWrite,
	})
	require.NoError(t, err)
	require.True(t, res.Accepted)
	require.True(t, res.Downgraded.Disabled())
	require.Contains(t, res.Warning, "man-in-the-middle")
}

func TestVerifyLocalhostSkipsLookupWhenConfigured(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "known_hosts")
	res, err := Verify(Request{
		Host:                             "localhost",
		ResolvedAddr:                     "127.0.0.1",
		Port:                             22,
		DefaultPort:                      22,
		UserFile:                         file,
		PresentedKey:                     genKey(t),
		Strict:                           StrictStrict,
		ReadOnly:                         ReadWrite,
		NoHostAuthenticationForLocalhost: true,
	})
	require.NoError(t, err)
	require.True(t, res.Accepted)
}

func TestFingerprintIncludesKeyType(t *testing.T) {
	t.Parallel()

	key := genKey(t)
	fp := Fingerprint(key)
	require.Contains(t, fp, key.Type())
	require.Contains(t, fp, "SHA256:")
}

func TestReadYesNoBatchModeAlwaysNo(t *testing.T) {
	t.Parallel()

	var out strings.Builder
	prompt := ReadYesNo(strings.NewReader(""), &out, true)
	ok, err := prompt("continue? ")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReadYesNoAcceptsPrefixMatch(t *testing.T) {
	t.Parallel()

	var out strings.Builder
	prompt := ReadYesNo(strings.NewReader("y\n"), &out, false)
	ok, err := prompt("continue? ")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestReadYesNoReprompts(t *testing.T) {
	t.Parallel()

	var out strings.Builder
	prompt := ReadYesNo(strings.NewReader("maybe\nno\n"), &out, false)
	ok, err := prompt("continue? ")
	require.NoError(t, err)
	require.False(t, ok)
}
