package envelope

import (
	"crypto"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrInvalidKey is returned when PEM or key type is invalid.
var ErrInvalidKey = errors.New("envelope: invalid key")

// LoadPEM reads content from path if s does not look like inline PEM; otherwise returns s as bytes.
// Inline PEM copied out of JSON or env files often carries literal "\n"; those are expanded.
func LoadPEM(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidKey
	}
	if strings.HasPrefix(s, "-----BEGIN") {
		return []byte(strings.ReplaceAll(s, `\n`, "\n")), nil
	}
	return os.ReadFile(s)
}

// ParsePublicKey parses a PEM-encoded recipient key. RSA (PKIX or PKCS#1) and X25519 (PKIX)
// are supported. s may be inline PEM or a file path.
func ParsePublicKey(s string) (crypto.PublicKey, error) {
	pemBytes, err := LoadPEM(s)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrInvalidKey
	}
	var key any
	switch block.Type {
	case "RSA PUBLIC KEY":
		key, err = x509.ParsePKCS1PublicKey(block.Bytes)
	case "PUBLIC KEY":
		key, err = x509.ParsePKIXPublicKey(block.Bytes)
	default:
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, fmt.Errorf("envelope: parse public key: %w", err)
	}
	return checkPublic(key)
}

// ParsePrivateKey parses the PEM-encoded private half of a recipient key (RSA PKCS#1/PKCS#8
// or X25519 PKCS#8). s may be inline PEM or a file path.
func ParsePrivateKey(s string) (crypto.PrivateKey, error) {
	pemBytes, err := LoadPEM(s)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrInvalidKey
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("envelope: parse private key: %w", err)
		}
		return key, nil
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("envelope: parse private key: %w", err)
		}
		switch k := key.(type) {
		case *rsa.PrivateKey:
			return k, nil
		case *ecdh.PrivateKey:
			if k.Curve() != ecdh.X25519() {
				return nil, ErrInvalidKey
			}
			return k, nil
		}
		return nil, ErrInvalidKey
	default:
		return nil, ErrInvalidKey
	}
}

func checkPublic(key any) (crypto.PublicKey, error) {
	switch k := key.(type) {
	case *rsa.PublicKey:
		return k, nil
	case *ecdh.PublicKey:
		if k.Curve() != ecdh.X25519() {
			return nil, ErrInvalidKey
		}
		return k, nil
	default:
		return nil, ErrInvalidKey
	}
}

// KeyAlg returns "RSA-OAEP-256" for RSA and "X25519-HKDF-SHA256" for X25519 recipients; empty otherwise.
func KeyAlg(pub crypto.PublicKey) string {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return "RSA-OAEP-256"
	case *ecdh.PublicKey:
		if k.Curve() == ecdh.X25519() {
			return "X25519-HKDF-SHA256"
		}
	}
	return ""
}

// GenerateRSAKey returns a new RSA recipient key pair as PKCS#8 / PKIX PEM.
func GenerateRSAKey(bits int) (privatePEM, publicPEM string, err error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return "", "", fmt.Errorf("envelope: generate rsa key: %w", err)
	}
	return marshalPair(key, &key.PublicKey)
}

// GenerateX25519Key returns a new X25519 recipient key pair as PKCS#8 / PKIX PEM.
func GenerateX25519Key() (privatePEM, publicPEM string, err error) {
	key, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("envelope: generate x25519 key: %w", err)
	}
	return marshalPair(key, key.PublicKey())
}

func marshalPair(priv, pub any) (string, string, error) {
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", "", fmt.Errorf("envelope: marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", "", fmt.Errorf("envelope: marshal public key: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return string(privPEM), string(pubPEM), nil
}
