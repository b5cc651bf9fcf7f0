package keycrypto

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// EnsureMasterKeyPair loads the master keypair from the PKI directory,
// generating one if none exists yet. An existing pair is never replaced.
func EnsureMasterKeyPair(pkiDir string, bits int) error {
	privPath := filepath.Join(pkiDir, MasterPrivFile)
	if _, err := os.Stat(privPath); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat master key: %w", err)
	}

	priv, err := GenerateKeyPair(bits)
	if err != nil {
		return err
	}
	if _, _, err := WriteKeyPair(pkiDir, "master", priv); err != nil {
		return err
	}
	log.Printf("Generated master keypair in %s (%d bits)", pkiDir, priv.N.BitLen())
	return nil
}

// SignMasterKey produces the detached signature over the master public
// key using the signing keypair in pkiDir and writes it to the signature
// file. When the signing keypair is absent it fails with
// ErrMissingSigningKey unless autoCreate is set, in which case a new
// signing keypair is generated first.
func SignMasterKey(pkiDir string, signBits int, autoCreate bool) (string, error) {
	signPrivPath := filepath.Join(pkiDir, SignPrivFile)
	if _, err := os.Stat(signPrivPath); err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("stat signing key: %w", err)
		}
		if !autoCreate {
			return "", fmt.Errorf("%w: %s", ErrMissingSigningKey, signPrivPath)
		}
		priv, err := GenerateKeyPair(signBits)
		if err != nil {
			return "", err
		}
		if _, _, err := WriteKeyPair(pkiDir, "master_sign", priv); err != nil {
			return "", err
		}
		log.Printf("Generated signing keypair in %s (%d bits)", pkiDir, priv.N.BitLen())
	}

	signPEM, err := os.ReadFile(signPrivPath)
	if err != nil {
		return "", fmt.Errorf("read signing key: %w", err)
	}
	signKey, err := ParsePrivateKeyPEM(signPEM)
	if err != nil {
		return "", fmt.Errorf("signing key: %w", err)
	}

	masterPub, err := os.ReadFile(filepath.Join(pkiDir, MasterPubFile))
	if err != nil {
		return "", fmt.Errorf("read master public key: %w", err)
	}

	sig, err := Sign(signKey, masterPub)
	if err != nil {
		return "", err
	}

	sigPath := filepath.Join(pkiDir, SignatureFile)
	if err := os.WriteFile(sigPath, sig, 0644); err != nil {
		return "", fmt.Errorf("write signature: %w", err)
	}
	log.Printf("Wrote master public key signature to %s", sigPath)
	return sigPath, nil
}
