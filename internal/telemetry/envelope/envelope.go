// Package envelope implements the hybrid encryption applied to every outbound event:
// a fresh AES-256-GCM key and IV encrypt the body, and each of the two is wrapped
// separately for the recipient's public key (RSA-OAEP or X25519).
package envelope

import (
	"crypto"
	"crypto/ecdh"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
)

// Envelope is the three-part ciphertext sent to the ingestion endpoint as {key, iv, body}.
// All fields are standard base64.
type Envelope struct {
	EncryptedKey  string `json:"key"`
	EncryptedIV   string `json:"iv"`
	EncryptedBody string `json:"body"`
}

// Encrypt parses publicKeyPEM and seals plaintext for it. See EncryptTo.
func Encrypt(publicKeyPEM string, plaintext []byte) (Envelope, error) {
	pub, err := ParsePublicKey(publicKeyPEM)
	if err != nil {
		return Envelope{}, err
	}
	return EncryptTo(pub, plaintext)
}

// EncryptTo seals plaintext for pub. Every call draws a new key and IV.
func EncryptTo(pub crypto.PublicKey, plaintext []byte) (Envelope, error) {
	wrap, err := wrapperFor(pub)
	if err != nil {
		return Envelope{}, err
	}
	key, err := randomBytes(keySize)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: %w", err)
	}
	iv, err := randomBytes(nonceSize)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: %w", err)
	}
	body, err := aesGCMSeal(key, iv, plaintext, nil)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: seal body: %w", err)
	}
	wrappedKey, err := wrap(key)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: wrap key: %w", err)
	}
	wrappedIV, err := wrap(iv)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: wrap iv: %w", err)
	}
	return Envelope{
		EncryptedKey:  base64.StdEncoding.EncodeToString(wrappedKey),
		EncryptedIV:   base64.StdEncoding.EncodeToString(wrappedIV),
		EncryptedBody: base64.StdEncoding.EncodeToString(body),
	}, nil
}

// Decrypt opens env with the recipient private key and returns the plaintext body.
func Decrypt(priv crypto.PrivateKey, env Envelope) ([]byte, error) {
	unwrap, err := unwrapperFor(priv)
	if err != nil {
		return nil, err
	}
	wrappedKey, err := base64.StdEncoding.DecodeString(env.EncryptedKey)
	if err != nil {
		return nil, fmt.Errorf("envelope: key base64: %w", err)
	}
	wrappedIV, err := base64.StdEncoding.DecodeString(env.EncryptedIV)
	if err != nil {
		return nil, fmt.Errorf("envelope: iv base64: %w", err)
	}
	body, err := base64.StdEncoding.DecodeString(env.EncryptedBody)
	if err != nil {
		return nil, fmt.Errorf("envelope: body base64: %w", err)
	}
	key, err := unwrap(wrappedKey)
	if err != nil {
		return nil, fmt.Errorf("envelope: unwrap key: %w", err)
	}
	iv, err := unwrap(wrappedIV)
	if err != nil {
		return nil, fmt.Errorf("envelope: unwrap iv: %w", err)
	}
	pt, err := aesGCMOpen(key, iv, body, nil)
	if err != nil {
		return nil, fmt.Errorf("envelope: open body: %w", err)
	}
	return pt, nil
}

func wrapperFor(pub crypto.PublicKey) (func([]byte) ([]byte, error), error) {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return func(b []byte) ([]byte, error) { return wrapRSA(k, b) }, nil
	case *ecdh.PublicKey:
		if k.Curve() != ecdh.X25519() {
			return nil, ErrInvalidKey
		}
		return func(b []byte) ([]byte, error) { return wrapX25519(k, b) }, nil
	default:
		return nil, ErrInvalidKey
	}
}

func unwrapperFor(priv crypto.PrivateKey) (func([]byte) ([]byte, error), error) {
	switch k := priv.(type) {
	case *rsa.PrivateKey:
		return func(b []byte) ([]byte, error) { return unwrapRSA(k, b) }, nil
	case *ecdh.PrivateKey:
		if k.Curve() != ecdh.X25519() {
			return nil, ErrInvalidKey
		}
		return func(b []byte) ([]byte, error) { return unwrapX25519(k, b) }, nil
	default:
		return nil, ErrInvalidKey
	}
}
