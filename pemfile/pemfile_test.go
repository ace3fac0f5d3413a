package pemfile

import (
	"os"
	"path/filepath"
	"testing"

	gossh "golang.org/x/crypto/ssh"
)

func TestGenerate(t *testing.T) {
	dir := t.TempDir()
	k := KeyParams{
		KeyPath:       filepath.Join(dir, "private.pem"),
		SSHPubKeyPath: filepath.Join(dir, "public.pem"),
		Bits:          1024,
	}
	if err := k.Generate(); err != nil {
		t.Fatal(err)
	}
	privBytes, err := os.ReadFile(k.KeyPath)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := gossh.ParsePrivateKey(privBytes)
	if err != nil {
		t.Fatal(err)
	}
	pubBytes, err := os.ReadFile(k.SSHPubKeyPath)
	if err != nil {
		t.Fatal(err)
	}
	pub, _, _, _, err := gossh.ParseAuthorizedKey(pubBytes)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := gossh.FingerprintSHA256(pub), gossh.FingerprintSHA256(signer.PublicKey()); got != want {
		t.Errorf("public key %q does not match private key %q", got, want)
	}
	if fi, err := os.Stat(k.KeyPath); err != nil {
		t.Fatal(err)
	} else if fi.Mode().Perm() != 0600 {
		t.Errorf("private key mode %v, want 0600", fi.Mode().Perm())
	}
}
