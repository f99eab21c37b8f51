package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	keySize   = 32
	nonceSize = 12

	kdfInfoWrap = "telemetree/envelope/1 wrap"
)

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("rand: %w", err)
	}
	return b, nil
}

func aesGCMSeal(key, nonce12, plaintext, aad []byte) ([]byte, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("aes key must be %d bytes, got %d", keySize, len(key))
	}
	if len(nonce12) != nonceSize {
		return nil, fmt.Errorf("gcm nonce must be %d bytes, got %d", nonceSize, len(nonce12))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, nonce12, plaintext, aad), nil
}

func aesGCMOpen(key, nonce12, ciphertext, aad []byte) ([]byte, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("aes key must be %d bytes, got %d", keySize, len(key))
	}
	if len(nonce12) != nonceSize {
		return nil, fmt.Errorf("gcm nonce must be %d bytes, got %d", nonceSize, len(nonce12))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	pt, err := gcm.Open(nil, nonce12, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("gcm open: %w", err)
	}
	return pt, nil
}

// wrapRSA encrypts a short secret with RSA-OAEP(SHA-256).
func wrapRSA(pub *rsa.PublicKey, secret []byte) ([]byte, error) {
	out, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, secret, nil)
	if err != nil {
		return nil, fmt.Errorf("rsa-oaep wrap: %w", err)
	}
	return out, nil
}

func unwrapRSA(priv *rsa.PrivateKey, wrapped []byte) ([]byte, error) {
	out, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrapped, nil)
	if err != nil {
		return nil, fmt.Errorf("rsa-oaep unwrap: %w", err)
	}
	return out, nil
}

// wrapX25519 seals secret for pub with a fresh ephemeral key.
// Layout: ephemeral public key (32) || nonce (12) || AES-GCM ciphertext.
func wrapX25519(pub *ecdh.PublicKey, secret []byte) ([]byte, error) {
	eph, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("x25519 ephemeral: %w", err)
	}
	shared, err := eph.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("x25519 ecdh: %w", err)
	}
	ephPub := eph.PublicKey().Bytes()
	kek, err := deriveWrapKey(shared, ephPub, pub.Bytes())
	if err != nil {
		return nil, err
	}
	nonce, err := randomBytes(nonceSize)
	if err != nil {
		return nil, err
	}
	ct, err := aesGCMSeal(kek, nonce, secret, ephPub)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(ephPub)+len(nonce)+len(ct))
	out = append(out, ephPub...)
	out = append(out, nonce...)
	return append(out, ct...), nil
}

func unwrapX25519(priv *ecdh.PrivateKey, wrapped []byte) ([]byte, error) {
	if len(wrapped) < 32+nonceSize {
		return nil, fmt.Errorf("x25519 wrapped secret too short: %d bytes", len(wrapped))
	}
	ephPubBytes, nonce, ct := wrapped[:32], wrapped[32:32+nonceSize], wrapped[32+nonceSize:]
	ephPub, err := ecdh.X25519().NewPublicKey(ephPubBytes)
	if err != nil {
		return nil, fmt.Errorf("x25519 ephemeral: %w", err)
	}
	shared, err := priv.ECDH(ephPub)
	if err != nil {
		return nil, fmt.Errorf("x25519 ecdh: %w", err)
	}
	kek, err := deriveWrapKey(shared, ephPubBytes, priv.PublicKey().Bytes())
	if err != nil {
		return nil, err
	}
	return aesGCMOpen(kek, nonce, ct, ephPubBytes)
}

func deriveWrapKey(shared, ephPub, recipientPub []byte) ([]byte, error) {
	salt := make([]byte, 0, len(ephPub)+len(recipientPub))
	salt = append(salt, ephPub...)
	salt = append(salt, recipientPub...)
	kek := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, []byte(kdfInfoWrap)), kek); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return kek, nil
}
