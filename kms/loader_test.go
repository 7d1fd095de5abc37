package kms

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/root-sector-ltd-and-co-kg/evidence-vault/types"
)

func testKey(seed byte) []byte {
	key := make([]byte, VaultKeySize)
	for i := range key {
		key[i] = byte(i)*11 + seed
	}
	return key
}

func testKeyBase64() string {
	return base64.StdEncoding.EncodeToString(testKey(5))
}

func TestLoadKeyRaw(t *testing.T) {
	want := testKey(1)

	tests := []struct {
		name      string
		config    types.KeyConfig
		expectErr bool
		errSubstr string
	}{
		{name: "Raw Key", config: types.KeyConfig{KeyBase64: base64.StdEncoding.EncodeToString(want)}},
		{name: "Nothing Configured", config: types.KeyConfig{}, expectErr: true, errSubstr: "no vault key configured"},
		{name: "Both Configured", config: types.KeyConfig{KeyBase64: "a", WrappedKeyBase64: "b"}, expectErr: true, errSubstr: "mutually exclusive"},
		{name: "Not Base64", config: types.KeyConfig{KeyBase64: "!!"}, expectErr: true, errSubstr: "not valid base64"},
		{name: "Wrong Length", config: types.KeyConfig{KeyBase64: "c2hvcnQ="}, expectErr: true, errSubstr: "must be 32 bytes"},
		{name: "Wrapped Without Provider", config: types.KeyConfig{WrappedKeyBase64: "AAAA"}, expectErr: true, errSubstr: "KMS provider is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := LoadKey(t.Context(), tt.config)
			if tt.expectErr {
				checkErr(t, err, true, tt.errSubstr)
				if !errors.Is(err, types.ErrValidation) {
					t.Errorf("expected ErrValidation, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadKey() error = %v", err)
			}
			if !bytes.Equal(key, want) {
				t.Error("LoadKey() returned a different key")
			}
		})
	}
}

func TestLoadKeyWrapped(t *testing.T) {
	ctx := t.Context()
	p, err := NewProvider(Config{Type: types.ProviderAead, AeadKeyBase64: testKeyBase64(), AeadKeyID: "dev"})
	if err != nil {
		t.Fatal(err)
	}

	vaultKey := testKey(9)
	wrapped, err := Wrap(ctx, p, vaultKey)
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}
	if wrapped == base64.StdEncoding.EncodeToString(vaultKey) {
		t.Fatal("Wrap() returned the key in the clear")
	}

	key, err := LoadKey(ctx, types.KeyConfig{
		WrappedKeyBase64: wrapped,
		Provider:         types.ProviderAead,
		KeyID:            "dev",
		AeadKeyBase64:    testKeyBase64(),
	})
	if err != nil {
		t.Fatalf("LoadKey() error = %v", err)
	}
	if !bytes.Equal(key, vaultKey) {
		t.Error("unwrapped key differs from the wrapped one")
	}

	// A different wrapping key must not unwrap the blob
	other, _ := NewProvider(Config{Type: types.ProviderAead, AeadKeyBase64: base64.StdEncoding.EncodeToString(testKey(77))})
	if _, err := Unwrap(ctx, other, wrapped); err == nil {
		t.Error("Unwrap() with the wrong wrapping key succeeded")
	}

	if _, err := Unwrap(ctx, p, "bm90IGEgYmxvYg=="); err == nil {
		t.Error("Unwrap() of garbage succeeded")
	}
	if _, err := Wrap(ctx, p, []byte("short")); !errors.Is(err, types.ErrValidation) {
		t.Errorf("Wrap(short) error = %v, want ErrValidation", err)
	}
}
