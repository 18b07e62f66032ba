/*
Copyright 2022 Gravitational, Inc.

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
	"crypto"
	"io"
	"strings"

	"github.com/go-piv/piv-go/piv"
	"github.com/gravitational/trace"
	"golang.org/x/crypto/ssh"

	"github.com/coreshell/sshc/api/utils/keys"
)

// smartcardSigner adapts a PIV authentication-slot key to crypto.Signer,
// re-opening the card for each signature so the handle isn't held open
// for the lifetime of the process.
type smartcardSigner struct {
	card string
	pub  crypto.PublicKey
}

func (s *smartcardSigner) Public() crypto.PublicKey { return s.pub }

func (s *smartcardSigner) Sign(rand io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	yk, err := piv.Open(s.card)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer yk.Close()

	priv, err := yk.PrivateKey(piv.SlotAuthentication, s.pub, piv.KeyAuth{PIN: piv.DefaultPIN})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	signer, ok := priv.(crypto.Signer)
	if !ok {
		return nil, trace.BadParameter("PIV authentication slot on %q does not hold a signing key", s.card)
	}
	return signer.Sign(rand, digest, opts)
}

// loadSmartcard enumerates the PIV cards whose name contains device
// (case-insensitive; "" matches every card) and returns each card's
// authentication-slot key as an Entry, bounded by MaxSmartcardKeys.
func loadSmartcard(device string) ([]*Entry, error) {
	cards, err := piv.Cards()
	if err != nil {
		return nil, trace.Wrap(err, "enumerating smartcard devices")
	}

	var matched []string
	for _, card := range cards {
		if device == "" || strings.Contains(strings.ToLower(card), strings.ToLower(device)) {
			matched = append(matched, card)
		}
		if len(matched) >= MaxSmartcardKeys {
			break
		}
	}
	if len(matched) == 0 {
		return nil, trace.NotFound("no smartcard device matching %q", device)
	}

	entries := make([]*Entry, 0, len(matched))
	for _, card := range matched {
		entry, err := cardEntry(card)
		if err != nil {
			return nil, trace.Wrap(err, "reading smartcard %q", card)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func cardEntry(card string) (*Entry, error) {
	yk, err := piv.Open(card)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer yk.Close()

	cert, err := yk.Certificate(piv.SlotAuthentication)
	if err != nil {
		return nil, trace.Wrap(err, "no key provisioned in the PIV authentication slot")
	}

	sshPub, err := ssh.NewPublicKey(cert.PublicKey)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	priv, err := keys.NewPrivateKey(&smartcardSigner{card: card, pub: cert.PublicKey}, nil)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	return &Entry{
		Path:    card,
		Public:  sshPub,
		Private: priv,
		Source:  SourceSmartcard,
	}, nil
}
