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

package keys

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"os"

	"github.com/gravitational/trace"
)

const (
	PKCS1PrivateKeyType = "RSA PRIVATE KEY"
	PKCS8PrivateKeyType = "PRIVATE KEY"
	ECPrivateKeyType    = "EC PRIVATE KEY"
)

// privateKeyParser parses a specific PEM block type's ASN.1 DER into a
// usable crypto.Signer. The identity loader's three key files
// (id_rsa, id_ecdsa, id_ed25519) cover all three PEM types below; there
// is no dynamic registration point since nothing else in this module
// loads a fourth key type.
type privateKeyParser func(keyDER []byte) (crypto.Signer, error)

var parsers = map[string]privateKeyParser{
	PKCS1PrivateKeyType: func(keyDER []byte) (crypto.Signer, error) {
		cryptoSigner, err := x509.ParsePKCS1PrivateKey(keyDER)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		return cryptoSigner, nil
	},
	PKCS8PrivateKeyType: func(keyDER []byte) (crypto.Signer, error) {
		priv, err := x509.ParsePKCS8PrivateKey(keyDER)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		cryptoSigner, ok := priv.(crypto.Signer)
		if !ok {
			return nil, trace.BadParameter("x509.ParsePKCS8PrivateKey returned an invalid private key of type %T", priv)
		}
		return cryptoSigner, nil
	},
	ECPrivateKeyType: func(keyDER []byte) (crypto.Signer, error) {
		cryptoSigner, err := x509.ParseECPrivateKey(keyDER)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		return cryptoSigner, nil
	},
}

func getParser(keyType string) (privateKeyParser, error) {
	parser, ok := parsers[keyType]
	if !ok {
		return nil, trace.BadParameter("unexpected private key PEM type %q", keyType)
	}
	return parser, nil
}

// ParsePrivateKey returns the PrivateKey for the given key PEM block.
func ParsePrivateKey(keyPEM []byte) (*PrivateKey, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, trace.BadParameter("expected PEM encoded private key")
	}

	parser, err := getParser(block.Type)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	signer, err := parser(block.Bytes)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	return NewPrivateKey(signer, keyPEM)
}

// LoadPrivateKey returns the PrivateKey for the given key file.
func LoadPrivateKey(keyFile string) (*PrivateKey, error) {
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}

	priv, err := ParsePrivateKey(keyPEM)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return priv, nil
}
