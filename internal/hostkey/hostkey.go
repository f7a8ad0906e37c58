// Package hostkey manages the ed25519 key the SSH shell presents to clients.
package hostkey

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

// File names under <dataDir>/hostkey/.
const (
	dirName     = "hostkey"
	privateFile = "ssh_host_ed25519_key"
	publicFile  = "ssh_host_ed25519_key.pub"
)

// HostKey is the server's ED25519 keypair in SSH form.
type HostKey struct {
	PrivateKey  ed25519.PrivateKey
	PublicKey   ed25519.PublicKey
	Signer      ssh.Signer
	Fingerprint string // SHA256:… as printed by ssh-keygen -l
}

// Load reads the host key from dataDir/hostkey/. A missing key is generated
// and persisted; any other read error is returned.
func Load(dataDir string) (*HostKey, error) {
	keyDir := filepath.Join(dataDir, dirName)
	privPath := filepath.Join(keyDir, privateFile)
	pubPath := filepath.Join(keyDir, publicFile)

	privPEM, err := os.ReadFile(privPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading host key: %w", err)
		}
		return generate(keyDir, privPath, pubPath)
	}

	return parse(privPEM)
}

func generate(keyDir, privPath, pubPath string) (*HostKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating host key: %w", err)
	}

	if err := os.MkdirAll(keyDir, 0700); err != nil {
		return nil, fmt.Errorf("creating host key dir: %w", err)
	}

	pkcs8, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshaling host key: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8})
	if err := os.WriteFile(privPath, privPEM, 0600); err != nil {
		return nil, fmt.Errorf("writing host key: %w", err)
	}

	hk, err := fromKeyPair(priv, pub)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(pubPath, ssh.MarshalAuthorizedKey(hk.Signer.PublicKey()), 0644); err != nil {
		return nil, fmt.Errorf("writing host public key: %w", err)
	}
	return hk, nil
}

func parse(privPEM []byte) (*HostKey, error) {
	block, _ := pem.Decode(privPEM)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in host key")
	}

	rawKey, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing host key: %w", err)
	}

	priv, ok := rawKey.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("host key is not ED25519")
	}

	return fromKeyPair(priv, priv.Public().(ed25519.PublicKey))
}

func fromKeyPair(priv ed25519.PrivateKey, pub ed25519.PublicKey) (*HostKey, error) {
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, fmt.Errorf("creating SSH signer: %w", err)
	}
	return &HostKey{
		PrivateKey:  priv,
		PublicKey:   pub,
		Signer:      signer,
		Fingerprint: ssh.FingerprintSHA256(signer.PublicKey()),
	}, nil
}
