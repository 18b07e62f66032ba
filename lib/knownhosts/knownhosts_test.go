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

package knownhosts

import (
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func genKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return sshPub
}

func TestHostKeyName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example.com", HostKeyName("example.com", 22, 22))
	require.Equal(t, "example.com", HostKeyName("example.com", 0, 22))
	require.Equal(t, "[example.com]:2222", HostKeyName("example.com", 2222, 22))
}

func TestLookupNewWhenFileMissing(t *testing.T) {
	t.Parallel()

	status, rec, err := Lookup(filepath.Join(t.TempDir(), "missing"), "example.com", genKey(t))
	require.NoError(t, err)
	require.Equal(t, New, status)
	require.Nil(t, rec)
}

func TestInsertThenLookupOK(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "known_hosts")
	key := genKey(t)
	require.NoError(t, Insert(file, "example.com", key, false))

	status, rec, err := Lookup(file, "example.com", key)
	require.NoError(t, err)
	require.Equal(t, OK, status)
	require.NotNil(t, rec)
	require.Equal(t, key.Type(), rec.KeyType)
}

func TestLookupChangedWhenKeyDiffers(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "known_hosts")
	original := genKey(t)
	require.NoError(t, Insert(file, "example.com", original, false))

	status, rec, err := Lookup(file, "example.com", genKey(t))
	require.NoError(t, err)
	require.Equal(t, Changed, status)
	require.Equal(t, 1, rec.LineNo)
}

func TestLookupRevoked(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "known_hosts")
	key := genKey(t)
	require.NoError(t, os.WriteFile(file, []byte("@revoked example.com "+string(ssh.MarshalAuthorizedKey(key))), 0o600))

	status, rec, err := Lookup(file, "example.com", key)
	require.NoError(t, err)
	require.Equal(t, Revoked, status)
	require.NotNil(t, rec)
}

func TestLookupHashedHostnameMatches(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "known_hosts")
	key := genKey(t)
	require.NoError(t, Insert(file, "example.com", key, true))

	status, _, err := Lookup(file, "example.com", key)
	require.NoError(t, err)
	require.Equal(t, OK, status)

	// A different hostname must not match the salted hash.
	status, _, err = Lookup(file, "other.example.com", key)
	require.NoError(t, err)
	require.Equal(t, New, status)
}

func TestLookupAnyReturnsFirstMatchingKeyType(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "known_hosts")
	key := genKey(t)
	require.NoError(t, Insert(file, "example.com", key, false))

	got, err := LookupAny(file, "example.com", ssh.KeyAlgoED25519)
	require.NoError(t, err)
	require.Equal(t, key.Marshal(), got.Marshal())

	_, err = LookupAny(file, "example.com", ssh.KeyAlgoRSA)
	require.Error(t, err)

	_, err = LookupAny(filepath.Join(t.TempDir(), "missing"), "example.com", ssh.KeyAlgoED25519)
	require.Error(t, err)
}

func TestInsertCreatesParentDirectory(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "nested", "dir", "known_hosts")
	require.NoError(t, Insert(file, "example.com", genKey(t), false))

	_, err := os.Stat(file)
	require.NoError(t, err)
}

func TestHashHostnameRoundTrips(t *testing.T) {
	t.Parallel()

	hashed, err := HashHostname("example.com")
	require.NoError(t, err)
	require.True(t, matchesHashedHostname(hashed, "example.com"))
	require.False(t, matchesHashedHostname(hashed, "other.example.com"))
}

func TestParseLineRejectsMalformed(t *testing.T) {
	t.Parallel()

	_, err := parseLine("onlyonefield", 1)
	require.Error(t, err)
}

func TestKeyBits(t *testing.T) {
	t.Parallel()

	require.Equal(t, 256, KeyBits(genKey(t)))
}

func TestStatusString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "OK", OK.String())
	require.Equal(t, "NEW", New.String())
	require.Equal(t, "CHANGED", Changed.String())
	require.Equal(t, "REVOKED", Revoked.String())
	require.Equal(t, "UNKNOWN", Status(99).String())
}
