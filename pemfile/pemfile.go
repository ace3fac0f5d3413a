// Package pemfile creates the host key pair of the server.
package pemfile

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"

	gossh "golang.org/x/crypto/ssh"

	blacklist "github.com/xpdustry/simple-blacklist"
)

const KeyBits = 4096

type KeyParams struct {
	// KeyPath receives the PEM encoded private key.
	KeyPath string
	// SSHPubKeyPath receives the public key in authorized_keys format.
	SSHPubKeyPath string
	// Bits defaults to KeyBits.
	Bits int
}

// Generate writes a new RSA key pair, replacing existing files.
func (k KeyParams) Generate() error {
	bits := k.Bits
	if bits == 0 {
		bits = KeyBits
	}
	privateKey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return blacklist.WithStack(err)
	}
	if err := os.WriteFile(k.KeyPath, pem.EncodeToMemory(
		&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
		}),
		0600,
	); err != nil {
		return blacklist.WithStack(err)
	}

	pub, err := gossh.NewPublicKey(&privateKey.PublicKey)
	if err != nil {
		return blacklist.WithStack(err)
	}
	if err := os.WriteFile(k.SSHPubKeyPath, gossh.MarshalAuthorizedKey(pub), 0600); err != nil {
		return blacklist.WithStack(err)
	}
	return nil
}
