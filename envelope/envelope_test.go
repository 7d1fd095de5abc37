package envelope

import (
	"bytes"
	"crypto/rand"
	"errors"
	"strings"
	"testing"

	"github.com/root-sector-ltd-and-co-kg/evidence-vault/types"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i*7 + 3)
	}
	return key
}

func newTestEnvelope(t *testing.T) *Envelope {
	t.Helper()
	env, err := New(testKey(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(env.Close)
	return env
}

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		key       []byte
		expectErr bool
		errSubstr string
	}{
		{
			name: "Valid Key",
			key:  testKey(t),
		},
		{
			name:      "Short Key",
			key:       make([]byte, 16),
			expectErr: true,
			errSubstr: "must be exactly 32 bytes",
		},
		{
			name:      "Long Key",
			key:       make([]byte, 64),
			expectErr: true,
			errSubstr: "must be exactly 32 bytes",
		},
		{
			name:      "Low Entropy Key",
			key:       bytes.Repeat([]byte{0xAB}, KeySize),
			expectErr: true,
			errSubstr: "insufficient entropy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := New(tt.key)
			if tt.expectErr {
				if err == nil {
					t.Fatalf("Expected an error, but got nil")
				}
				if !errors.Is(err, types.ErrValidation) {
					t.Errorf("Expected ErrValidation, got %v", err)
				}
				if !strings.Contains(err.Error(), tt.errSubstr) {
					t.Errorf("Expected error containing %q, got %q", tt.errSubstr, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Did not expect an error, but got: %v", err)
			}
			env.Close()
		})
	}
}

func TestRoundTrip(t *testing.T) {
	env := newTestEnvelope(t)

	random := make([]byte, 64*1024)
	if _, err := rand.Read(random); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{name: "Empty", plaintext: []byte{}},
		{name: "Single Byte", plaintext: []byte{0x00}},
		{name: "Text", plaintext: []byte("GET /admin HTTP/1.1\r\nHost: victim\r\n\r\n")},
		{name: "Random 64KiB", plaintext: random},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := env.Encrypt(tt.plaintext)
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if len(sealed.IV) != IVSize {
				t.Errorf("IV length = %d, want %d", len(sealed.IV), IVSize)
			}
			if len(sealed.AuthTag) != TagSize {
				t.Errorf("AuthTag length = %d, want %d", len(sealed.AuthTag), TagSize)
			}
			if len(sealed.Ciphertext) != len(tt.plaintext) {
				t.Errorf("Ciphertext length = %d, want %d", len(sealed.Ciphertext), len(tt.plaintext))
			}

			got, err := env.Decrypt(sealed)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(got, tt.plaintext) {
				t.Errorf("Decrypt() returned different plaintext")
			}
		})
	}
}

func TestEncryptUsesFreshIV(t *testing.T) {
	env := newTestEnvelope(t)
	seen := make(map[string]bool)
	for i := 0; i < 256; i++ {
		sealed, err := env.Encrypt([]byte("same plaintext"))
		if err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}
		iv := string(sealed.IV)
		if seen[iv] {
			t.Fatalf("IV reused after %d encryptions", i)
		}
		seen[iv] = true
	}
}

func TestDecryptDetectsTampering(t *testing.T) {
	env := newTestEnvelope(t)
	plaintext := []byte("memory dump of pid 4242")

	tests := []struct {
		name   string
		mutate func(s *types.Sealed)
	}{
		{name: "Flip Ciphertext Bit", mutate: func(s *types.Sealed) { s.Ciphertext[0] ^= 0x01 }},
		{name: "Flip Last Ciphertext Bit", mutate: func(s *types.Sealed) { s.Ciphertext[len(s.Ciphertext)-1] ^= 0x80 }},
		{name: "Flip IV Bit", mutate: func(s *types.Sealed) { s.IV[5] ^= 0x10 }},
		{name: "Flip Tag Bit", mutate: func(s *types.Sealed) { s.AuthTag[TagSize-1] ^= 0x01 }},
		{name: "Truncated Tag", mutate: func(s *types.Sealed) { s.AuthTag = s.AuthTag[:8] }},
		{name: "Short IV", mutate: func(s *types.Sealed) { s.IV = s.IV[:8] }},
		{name: "Appended Ciphertext", mutate: func(s *types.Sealed) { s.Ciphertext = append(s.Ciphertext, 0x00) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := env.Encrypt(plaintext)
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			tt.mutate(sealed)

			got, err := env.Decrypt(sealed)
			if err == nil {
				t.Fatalf("Expected an integrity error, but decryption succeeded")
			}
			if !errors.Is(err, types.ErrIntegrity) {
				t.Errorf("Expected ErrIntegrity, got %v", err)
			}
			if got != nil {
				t.Errorf("Decrypt() returned plaintext alongside an error")
			}
		})
	}
}

func TestDecryptWithDifferentKeyFails(t *testing.T) {
	env := newTestEnvelope(t)
	sealed, err := env.Encrypt([]byte("netflow export"))
	if err != nil {
		t.Fatal(err)
	}

	other := testKey(t)
	other[0] ^= 0xFF
	env2, err := New(other)
	if err != nil {
		t.Fatal(err)
	}
	defer env2.Close()

	if _, err := env2.Decrypt(sealed); !errors.Is(err, types.ErrIntegrity) {
		t.Errorf("Expected ErrIntegrity, got %v", err)
	}
}

func TestDigest(t *testing.T) {
	// Known vectors for "abc"
	d := Digest([]byte("abc"))
	if d.SHA256 != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Errorf("SHA256 = %s", d.SHA256)
	}
	if d.MD5 != "900150983cd24fb0d6963f7d28e17f72" {
		t.Errorf("MD5 = %s", d.MD5)
	}
}

func TestVerifyDigest(t *testing.T) {
	data := []byte("screenshot bytes")
	good := Digest(data)

	tests := []struct {
		name      string
		data      []byte
		expected  types.Digests
		expectErr bool
		errSubstr string
	}{
		{name: "Match", data: data, expected: good},
		{name: "Match Without Legacy", data: data, expected: types.Digests{SHA256: good.SHA256}},
		{name: "Modified Data", data: []byte("screenshot bytez"), expected: good, expectErr: true, errSubstr: "sha256"},
		{name: "Legacy Mismatch", data: data, expected: types.Digests{SHA256: good.SHA256, MD5: strings.Repeat("0", 32)}, expectErr: true, errSubstr: "md5"},
		{name: "Missing Strong Digest", data: data, expected: types.Digests{MD5: good.MD5}, expectErr: true, errSubstr: "no sha256"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyDigest(tt.data, tt.expected)
			if tt.expectErr {
				if !errors.Is(err, types.ErrIntegrity) {
					t.Fatalf("Expected ErrIntegrity, got %v", err)
				}
				if !strings.Contains(err.Error(), tt.errSubstr) {
					t.Errorf("Expected error containing %q, got %q", tt.errSubstr, err.Error())
				}
				return
			}
			if err != nil {
				t.Errorf("Did not expect an error, but got: %v", err)
			}
		})
	}
}

func TestSignVerify(t *testing.T) {
	env := newTestEnvelope(t)
	data := []byte(`{"action":"STORE","evidence_id":"abc"}`)

	sig := env.Sign(data)
	if len(sig) != 32 {
		t.Fatalf("signature length = %d, want 32", len(sig))
	}
	if !env.Verify(data, sig) {
		t.Error("Verify() rejected a valid signature")
	}

	tampered := append([]byte(nil), data...)
	tampered[2] = 'b'
	if env.Verify(tampered, sig) {
		t.Error("Verify() accepted a signature over different data")
	}

	badSig := append([]byte(nil), sig...)
	badSig[0] ^= 0x01
	if env.Verify(data, badSig) {
		t.Error("Verify() accepted a modified signature")
	}

	if env.Verify(data, sig[:16]) {
		t.Error("Verify() accepted a truncated signature")
	}
}

func TestSubkeysAreSeparated(t *testing.T) {
	key := testKey(t)
	env := newTestEnvelope(t)

	// The MAC must not be keyed with the raw vault key
	raw, err := deriveKey(key, signingInfo)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(raw, key) {
		t.Fatal("derived MAC key equals the vault key")
	}
	enc, err := deriveKey(key, encryptionInfo)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(enc, raw) {
		t.Fatal("encryption and MAC subkeys are identical")
	}
	if !bytes.Equal(env.macKey.Get(), raw) {
		t.Fatal("envelope MAC key differs from HKDF derivation")
	}
}
