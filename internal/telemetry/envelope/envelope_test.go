package envelope

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

var (
	rsaOnce               sync.Once
	rsaPrivPEM, rsaPubPEM string
	rsaErr                error
)

// testRSAKey generates one 2048-bit key pair per test binary.
func testRSAKey(t *testing.T) (string, string) {
	t.Helper()
	rsaOnce.Do(func() {
		rsaPrivPEM, rsaPubPEM, rsaErr = GenerateRSAKey(2048)
	})
	if rsaErr != nil {
		t.Fatalf("GenerateRSAKey: %v", rsaErr)
	}
	return rsaPrivPEM, rsaPubPEM
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	rsaPriv, rsaPub := testRSAKey(t)
	xPriv, xPub, err := GenerateX25519Key()
	if err != nil {
		t.Fatalf("GenerateX25519Key: %v", err)
	}
	testCases := []struct {
		name    string
		privPEM string
		pubPEM  string
	}{
		{"rsa", rsaPriv, rsaPub},
		{"x25519", xPriv, xPub},
	}
	plaintext := []byte(`{"event_name":"Click","event_details":{"params":{"x":1}}}`)
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env, err := Encrypt(tc.pubPEM, plaintext)
			if err != nil {
				t.Fatalf("Encrypt: %v", err)
			}
			if env.EncryptedKey == "" || env.EncryptedIV == "" || env.EncryptedBody == "" {
				t.Fatalf("Encrypt returned empty field: %+v", env)
			}
			priv, err := ParsePrivateKey(tc.privPEM)
			if err != nil {
				t.Fatalf("ParsePrivateKey: %v", err)
			}
			got, err := Decrypt(priv, env)
			if err != nil {
				t.Fatalf("Decrypt: %v", err)
			}
			if !bytes.Equal(got, plaintext) {
				t.Errorf("Decrypt = %q, want %q", got, plaintext)
			}
		})
	}
}

func TestEncrypt_NoPlaintextInEnvelope(t *testing.T) {
	_, pub := testRSAKey(t)
	plaintext := []byte(`{"event_name":"very-distinctive-event-name"}`)
	env, err := Encrypt(pub, plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	for _, field := range []string{env.EncryptedKey, env.EncryptedIV, env.EncryptedBody} {
		raw, err := base64.StdEncoding.DecodeString(field)
		if err != nil {
			t.Fatalf("field is not base64: %v", err)
		}
		if bytes.Contains(raw, []byte("very-distinctive-event-name")) {
			t.Fatal("plaintext leaked into envelope")
		}
	}
}

func TestEncrypt_FreshPerCall(t *testing.T) {
	_, pub := testRSAKey(t)
	plaintext := []byte(`{"event_name":"Click"}`)
	a, err := Encrypt(pub, plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	b, err := Encrypt(pub, plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if a.EncryptedKey == b.EncryptedKey {
		t.Error("EncryptedKey repeated across calls")
	}
	if a.EncryptedIV == b.EncryptedIV {
		t.Error("EncryptedIV repeated across calls")
	}
	if a.EncryptedBody == b.EncryptedBody {
		t.Error("EncryptedBody repeated across calls")
	}
}

func TestDecrypt_TamperedBody(t *testing.T) {
	privPEM, pub := testRSAKey(t)
	env, err := Encrypt(pub, []byte("hello"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	raw, _ := base64.StdEncoding.DecodeString(env.EncryptedBody)
	raw[0] ^= 0xff
	env.EncryptedBody = base64.StdEncoding.EncodeToString(raw)
	priv, err := ParsePrivateKey(privPEM)
	if err != nil {
		t.Fatalf("ParsePrivateKey: %v", err)
	}
	if _, err := Decrypt(priv, env); err == nil {
		t.Error("Decrypt should fail for a tampered body")
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	_, pub := testRSAKey(t)
	env, err := Encrypt(pub, []byte("hello"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	otherPriv, _, err := GenerateX25519Key()
	if err != nil {
		t.Fatalf("GenerateX25519Key: %v", err)
	}
	priv, err := ParsePrivateKey(otherPriv)
	if err != nil {
		t.Fatalf("ParsePrivateKey: %v", err)
	}
	if _, err := Decrypt(priv, env); err == nil {
		t.Error("Decrypt with an unrelated key should fail")
	}
}

func TestDecrypt_BadBase64(t *testing.T) {
	privPEM, _ := testRSAKey(t)
	priv, err := ParsePrivateKey(privPEM)
	if err != nil {
		t.Fatalf("ParsePrivateKey: %v", err)
	}
	if _, err := Decrypt(priv, Envelope{EncryptedKey: "!!", EncryptedIV: "", EncryptedBody: ""}); err == nil {
		t.Error("Decrypt should reject non-base64 fields")
	}
}

func TestEncrypt_InvalidKey(t *testing.T) {
	testCases := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"garbage pem", "-----BEGIN PUBLIC KEY-----\ninvalid\n-----END PUBLIC KEY-----"},
		{"certificate", "-----BEGIN CERTIFICATE-----\nMII...\n-----END CERTIFICATE-----"},
		{"missing file", "/nonexistent/key.pem"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Encrypt(tc.key, []byte("x")); err == nil {
				t.Errorf("Encrypt with %s key should fail", tc.name)
			}
		})
	}
}

func TestEncryptTo_UnsupportedKeyType(t *testing.T) {
	if _, err := EncryptTo("not a key", []byte("x")); err != ErrInvalidKey {
		t.Errorf("EncryptTo = %v, want ErrInvalidKey", err)
	}
}

func TestEnvelope_JSONFieldNames(t *testing.T) {
	env := Envelope{EncryptedKey: "k", EncryptedIV: "i", EncryptedBody: "b"}
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(raw) != `{"key":"k","iv":"i","body":"b"}` {
		t.Errorf("JSON = %s", raw)
	}
}

func TestLoadPEM_LiteralNewlines(t *testing.T) {
	_, pub := testRSAKey(t)
	escaped := strings.ReplaceAll(strings.TrimSpace(pub), "\n", `\n`)
	key, err := ParsePublicKey(escaped)
	if err != nil {
		t.Fatalf("ParsePublicKey with literal newlines: %v", err)
	}
	if KeyAlg(key) != "RSA-OAEP-256" {
		t.Errorf("KeyAlg = %q, want RSA-OAEP-256", KeyAlg(key))
	}
}

func TestLoadPEM_EmptyString(t *testing.T) {
	for _, s := range []string{"", "   "} {
		if _, err := LoadPEM(s); err != ErrInvalidKey {
			t.Errorf("LoadPEM(%q) = %v, want ErrInvalidKey", s, err)
		}
	}
}

func TestParsePublicKey_FilePath(t *testing.T) {
	_, pub := testRSAKey(t)
	path := filepath.Join(t.TempDir(), "recipient.pem")
	if err := os.WriteFile(path, []byte(pub), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	key, err := ParsePublicKey(path)
	if err != nil {
		t.Fatalf("ParsePublicKey: %v", err)
	}
	if key == nil {
		t.Fatal("ParsePublicKey returned nil key")
	}
}

func TestKeyAlg_X25519(t *testing.T) {
	_, pub, err := GenerateX25519Key()
	if err != nil {
		t.Fatalf("GenerateX25519Key: %v", err)
	}
	key, err := ParsePublicKey(pub)
	if err != nil {
		t.Fatalf("ParsePublicKey: %v", err)
	}
	if KeyAlg(key) != "X25519-HKDF-SHA256" {
		t.Errorf("KeyAlg = %q", KeyAlg(key))
	}
	if KeyAlg("nope") != "" {
		t.Error("KeyAlg of unsupported type should be empty")
	}
}
