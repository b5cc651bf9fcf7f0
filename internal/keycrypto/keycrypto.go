// Package keycrypto implements the master-side crypto operations:
// RSA keypair generation with a minimum-strength floor, public key
// fingerprints, and the detached master signature minions use to verify
// the master's identity out-of-band.
package keycrypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MinKeyBits is the smallest RSA modulus the engine will generate.
// Requests below this are raised to the minimum, never rejected.
const MinKeyBits = 2048

// Well-known file names inside the PKI directory.
const (
	MasterPrivFile = "master.pem"
	MasterPubFile  = "master.pub"
	SignPrivFile   = "master_sign.pem"
	SignPubFile    = "master_sign.pub"
	SignatureFile  = "master_pubkey_signature"
)

// ErrKeyExists reports that key material is already present at the
// target location; existing keys are never overwritten implicitly.
var ErrKeyExists = errors.New("keypair already exists")

// ErrMissingSigningKey reports that a signature was requested but no
// signing keypair exists and auto-create was not enabled.
var ErrMissingSigningKey = errors.New("missing signing key")

// GenerateKeyPair creates an RSA private key of at least MinKeyBits.
// Smaller requests are silently raised to the minimum.
func GenerateKeyPair(bits int) (*rsa.PrivateKey, error) {
	if bits < MinKeyBits {
		bits = MinKeyBits
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	return priv, nil
}

// EncodePrivateKeyPEM renders the private key in PKCS#1 PEM form.
func EncodePrivateKeyPEM(priv *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	})
}

// EncodePublicKeyPEM renders the public key in PKIX PEM form.
func EncodePublicKeyPEM(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// ParsePrivateKeyPEM parses a PKCS#1 or PKCS#8 PEM private key.
func ParsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block in private key")
	}
	if priv, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return priv, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unsupported private key type %T", parsed)
	}
	return priv, nil
}

// ParsePublicKeyPEM parses a PKIX PEM public key.
func ParsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block in public key")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unsupported public key type %T", parsed)
	}
	return pub, nil
}

// WriteKeyPair writes <name>.pem (0600) and <name>.pub (0644) into dir,
// creating the directory as needed. ErrKeyExists if either file is
// already present.
func WriteKeyPair(dir, name string, priv *rsa.PrivateKey) (privPath, pubPath string, err error) {
	if name == "" {
		return "", "", errors.New("key name is empty")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", "", fmt.Errorf("create key directory: %w", err)
	}

	privPath = filepath.Join(dir, name+".pem")
	pubPath = filepath.Join(dir, name+".pub")
	for _, p := range []string{privPath, pubPath} {
		if _, err := os.Stat(p); err == nil {
			return "", "", fmt.Errorf("%w: %s", ErrKeyExists, p)
		}
	}

	pubPEM, err := EncodePublicKeyPEM(&priv.PublicKey)
	if err != nil {
		return "", "", err
	}

	if err := os.WriteFile(privPath, EncodePrivateKeyPEM(priv), 0600); err != nil {
		return "", "", fmt.Errorf("write private key: %w", err)
	}
	if err := os.WriteFile(pubPath, pubPEM, 0644); err != nil {
		os.Remove(privPath)
		return "", "", fmt.Errorf("write public key: %w", err)
	}
	return privPath, pubPath, nil
}

// Fingerprint computes the SHA-256 digest of the DER-encoded public key
// and renders it as colon-separated lowercase hex octets. Deterministic
// for identical input.
func Fingerprint(pubPEM []byte) (string, error) {
	block, _ := pem.Decode(pubPEM)
	if block == nil {
		return "", errors.New("no PEM block in public key")
	}
	sum := sha256.Sum256(block.Bytes)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = hex.EncodeToString([]byte{b})
	}
	return strings.Join(parts, ":"), nil
}

// Sign produces a detached RSA PKCS#1 v1.5 signature over the SHA-256
// digest of data.
func Sign(priv *rsa.PrivateKey, data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return sig, nil
}

// Verify checks a detached signature produced by Sign.
func Verify(pub *rsa.PublicKey, data, sig []byte) error {
	digest := sha256.Sum256(data)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		return fmt.Errorf("verify signature: %w", err)
	}
	return nil
}
