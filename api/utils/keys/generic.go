package keys

import (
	"crypto"
	"io"

	"github.com/gravitational/trace"
	"golang.org/x/crypto/ssh"
)

type Key interface {
	crypto.Signer
	crypto.PrivateKey
}

type PrivateKey struct {
	key    Key
	sshPub ssh.PublicKey
}

// NewPrivateKey returns a new PrivateKey wrapping the given signer. keyPEM
// is the file's original bytes; this repo's identity loader keeps none of
// the key material around once it has the wrapped signer, so the PEM
// itself isn't retained here.
func NewPrivateKey(signer crypto.Signer, keyPEM []byte) (*PrivateKey, error) {
	sshPub, err := ssh.NewPublicKey(signer.Public())
	if err != nil {
		return nil, trace.Wrap(err)
	}

	return &PrivateKey{
		key:    signer,
		sshPub: sshPub,
	}, nil
}

func (p *PrivateKey) Public() crypto.PublicKey {
	return p.key.Public()
}

func (p *PrivateKey) Sign(rand io.Reader, digest []byte, opts crypto.SignerOpts) (signature []byte, err error) {
	return p.key.Sign(rand, digest, opts)
}

// SSHPublicKey returns the ssh.PublicKey representation of the public key.
func (p *PrivateKey) SSHPublicKey() ssh.PublicKey {
	return p.sshPub
}
