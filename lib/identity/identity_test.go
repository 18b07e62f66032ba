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

package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/coreshell/sshc/api/utils/keys"
)

func writeTestIdentity(t *testing.T, dir, name string) (privPath string, pub ssh.PublicKey) {
	t.Helper()
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(privKey)
	require.NoError(t, err)
	privPEM := pem.EncodeToMemory(&pem.Block{Type: keys.PKCS8PrivateKeyType, Bytes: der})

	privPath = filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(privPath, privPEM, 0o600))

	sshPub, err := ssh.NewPublicKey(pubKey)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(privPath+".pub", ssh.MarshalAuthorizedKey(sshPub), 0o644))

	return privPath, sshPub
}

func TestExpandPathSubstitutesTokens(t *testing.T) {
	t.Parallel()

	subs := Substitutions{LocalUser: "alice", RemoteHost: "prod.example.com", RemoteUser: "deploy"}
	got, err := ExpandPath("/keys/%u-%r@%h", subs)
	require.NoError(t, err)
	require.Equal(t, "/keys/alice-deploy@prod.example.com", got)
}

func TestExpandPathExpandsHomeDir(t *testing.T) {
	t.Parallel()

	subs := Substitutions{HomeDir: "/home/alice"}
	got, err := ExpandPath("~/.ssh/id_ed25519", subs)
	require.NoError(t, err)
	require.Equal(t, "/home/alice/.ssh/id_ed25519", got)
}

func TestLoadSkipsMissingIdentity(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	entries, err := Load([]string{filepath.Join(dir, "nonexistent")}, Substitutions{}, "")
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestLoadReadsPrivateAndPublicHalves(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path, pub := writeTestIdentity(t, dir, "id_ed25519")

	entries, err := Load([]string{path}, Substitutions{}, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, SourceFile, entries[0].Source)
	require.NotNil(t, entries[0].Private)
	require.Equal(t, pub.Marshal(), entries[0].Public.Marshal())
}

func TestLoadToleratesMissingPrivateHalf(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, pub := writeTestIdentity(t, dir, "id_ed25519")
	path := filepath.Join(dir, "pubonly")
	require.NoError(t, os.WriteFile(path+".pub", ssh.MarshalAuthorizedKey(pub), 0o644))

	entries, err := Load([]string{path}, Substitutions{}, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Nil(t, entries[0].Private)
	require.NotNil(t, entries[0].Public)
}

func TestLoadMultipleIdentitiesPreservesOrder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first, _ := writeTestIdentity(t, dir, "first")
	second, _ := writeTestIdentity(t, dir, "second")

	entries, err := Load([]string{first, second}, Substitutions{}, "")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, first, entries[0].Path)
	require.Equal(t, second, entries[1].Path)
}
