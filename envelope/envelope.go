// Package envelope provides authenticated encryption, content digests and
// keyed MACs for evidence payloads under the single vault key.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/md5" //nolint:gosec // legacy digest kept for compatibility, never used for integrity decisions alone
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/hkdf"

	"github.com/root-sector-ltd-and-co-kg/evidence-vault/interfaces"
	"github.com/root-sector-ltd-and-co-kg/evidence-vault/types"
)

const (
	// KeySize is the required vault key length (AES-256)
	KeySize = 32

	// IVSize is the GCM nonce length (96 bits)
	IVSize = 12

	// TagSize is the GCM authentication tag length
	TagSize = 16

	encryptionInfo = "evidence-vault/envelope/aes-256-gcm/v1"
	signingInfo    = "evidence-vault/custody/hmac-sha256/v1"
)

// Envelope implements interfaces.Envelope with AES-256-GCM and HMAC-SHA256.
// Separate encryption and MAC subkeys are derived from the vault key with HKDF.
type Envelope struct {
	aead   cipher.AEAD
	macKey *types.SecureBytes
	encKey *types.SecureBytes
}

var _ interfaces.Envelope = (*Envelope)(nil)

// New creates an envelope from the 32-byte vault key. The caller keeps
// ownership of key and may wipe it once New returns.
func New(key []byte) (*Envelope, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: vault key must be exactly %d bytes, got %d", types.ErrValidation, KeySize, len(key))
	}

	if !validateKeyEntropy(key) {
		return nil, fmt.Errorf("%w: vault key has insufficient entropy", types.ErrValidation)
	}

	encKey, err := deriveKey(key, encryptionInfo)
	if err != nil {
		return nil, err
	}
	macKey, err := deriveKey(key, signingInfo)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher block: %w", err)
	}

	gcm, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}

	env := &Envelope{
		aead:   gcm,
		encKey: types.NewSecureBytes(encKey),
		macKey: types.NewSecureBytes(macKey),
	}
	wipe(encKey)
	wipe(macKey)

	log.Debug().Str("component", "envelope").Msg("Crypto envelope initialized")
	return env, nil
}

// validateKeyEntropy performs a basic entropy check on the key
func validateKeyEntropy(key []byte) bool {
	uniqueBytes := make(map[byte]bool)
	for _, b := range key {
		uniqueBytes[b] = true
	}

	// Require at least 16 unique bytes in the key
	return len(uniqueBytes) >= 16
}

func deriveKey(master []byte, info string) ([]byte, error) {
	out := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("failed to derive subkey: %w", err)
	}
	return out, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Encrypt seals plaintext with AES-256-GCM under a fresh random IV.
// There is no way to pass an IV in, so IV reuse cannot happen through this API.
func (e *Envelope) Encrypt(plaintext []byte) (*types.Sealed, error) {
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	out := e.aead.Seal(nil, iv, plaintext, nil)
	split := len(out) - TagSize

	return &types.Sealed{
		Ciphertext: out[:split:split],
		IV:         iv,
		AuthTag:    out[split:],
	}, nil
}

// Decrypt opens a sealed payload and fails with types.ErrIntegrity if anything
// about it does not authenticate
func (e *Envelope) Decrypt(sealed *types.Sealed) ([]byte, error) {
	if sealed == nil {
		return nil, fmt.Errorf("%w: sealed payload is nil", types.ErrIntegrity)
	}
	if len(sealed.IV) != IVSize {
		return nil, fmt.Errorf("%w: iv must be %d bytes, got %d", types.ErrIntegrity, IVSize, len(sealed.IV))
	}
	if len(sealed.AuthTag) != TagSize {
		return nil, fmt.Errorf("%w: auth tag must be %d bytes, got %d", types.ErrIntegrity, TagSize, len(sealed.AuthTag))
	}

	buf := make([]byte, 0, len(sealed.Ciphertext)+TagSize)
	buf = append(buf, sealed.Ciphertext...)
	buf = append(buf, sealed.AuthTag...)

	plaintext, err := e.aead.Open(nil, sealed.IV, buf, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication tag mismatch", types.ErrIntegrity)
	}
	return plaintext, nil
}

// Digest computes the SHA-256 and legacy MD5 digests of data as hex strings
func (e *Envelope) Digest(data []byte) types.Digests {
	return Digest(data)
}

// VerifyDigest recomputes the digests of data and compares them in constant time.
// The legacy digest is only checked when the record carries one.
func (e *Envelope) VerifyDigest(data []byte, expected types.Digests) error {
	return VerifyDigest(data, expected)
}

// Sign returns HMAC-SHA256(data) under the derived MAC key
func (e *Envelope) Sign(data []byte) []byte {
	key := e.macKey.Get()
	defer wipe(key)

	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// Verify checks an HMAC-SHA256 signature in constant time
func (e *Envelope) Verify(data, signature []byte) bool {
	return hmac.Equal(e.Sign(data), signature)
}

// Close wipes the derived key material. The envelope is unusable afterwards.
func (e *Envelope) Close() {
	e.encKey.Clear()
	e.macKey.Clear()
	e.aead = nil
}

// Digest computes the SHA-256 and MD5 digests of data as hex strings
func Digest(data []byte) types.Digests {
	strong := sha256.Sum256(data)
	legacy := md5.Sum(data) //nolint:gosec
	return types.Digests{
		SHA256: hex.EncodeToString(strong[:]),
		MD5:    hex.EncodeToString(legacy[:]),
	}
}

// VerifyDigest compares the digests of data against expected in constant time
func VerifyDigest(data []byte, expected types.Digests) error {
	if expected.SHA256 == "" {
		return fmt.Errorf("%w: no sha256 digest recorded", types.ErrIntegrity)
	}
	actual := Digest(data)
	if subtle.ConstantTimeCompare([]byte(actual.SHA256), []byte(expected.SHA256)) != 1 {
		return fmt.Errorf("%w: sha256 digest mismatch", types.ErrIntegrity)
	}
	if expected.MD5 != "" && subtle.ConstantTimeCompare([]byte(actual.MD5), []byte(expected.MD5)) != 1 {
		return fmt.Errorf("%w: md5 digest mismatch", types.ErrIntegrity)
	}
	return nil
}
