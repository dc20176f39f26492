package contract

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// wrapContentKey encrypts a symmetric content key with a recipient's
// PEM-encoded RSA public key using OAEP/SHA-256. No decryption ever happens
// inside the contract; only the recipient unwraps client-side.
func wrapContentKey(publicKeyPEM, contentKey []byte) ([]byte, error) {
	pub, err := parseRSAPublicKey(publicKeyPEM)
	if err != nil {
		return nil, err
	}
	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, contentKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt content key: %w", err)
	}
	return ciphertext, nil
}

// parseRSAPublicKey accepts PKIX ("PUBLIC KEY") and PKCS#1 ("RSA PUBLIC
// KEY") PEM blocks.
func parseRSAPublicKey(publicKeyPEM []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(publicKeyPEM)
	if block == nil {
		return nil, fmt.Errorf("public key is not valid PEM")
	}
	switch block.Type {
	case "PUBLIC KEY":
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKIX public key: %w", err)
		}
		pub, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("public key is %T, expected RSA", parsed)
		}
		return pub, nil
	case "RSA PUBLIC KEY":
		pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS1 public key: %w", err)
		}
		return pub, nil
	default:
		return nil, fmt.Errorf("unsupported PEM block type '%s'", block.Type)
	}
}

// validatePublicKeyPEM checks that the bytes decode as a PEM block. The key
// material itself stays opaque: a registration with a non-RSA key only
// fails later, at wrap time, and is then skipped or surfaced per operation.
func validatePublicKeyPEM(publicKeyPEM []byte) error {
	if block, _ := pem.Decode(publicKeyPEM); block == nil {
		return fmt.Errorf("publicKey is not valid PEM")
	}
	return nil
}
