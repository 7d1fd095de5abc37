package kms

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	wrapping "github.com/hashicorp/go-kms-wrapping/v2"
	"google.golang.org/protobuf/proto"

	"github.com/root-sector-ltd-and-co-kg/evidence-vault/interfaces"
	"github.com/root-sector-ltd-and-co-kg/evidence-vault/types"
)

// VaultKeySize is the length of the single symmetric vault key
const VaultKeySize = 32

// LoadKey resolves the vault key from cfg. The caller owns the returned
// bytes and should wipe them once the envelope has been built.
func LoadKey(ctx context.Context, cfg types.KeyConfig) ([]byte, error) {
	raw := strings.TrimSpace(cfg.KeyBase64)
	wrapped := strings.TrimSpace(cfg.WrappedKeyBase64)

	switch {
	case raw != "" && wrapped != "":
		return nil, fmt.Errorf("%w: key_base64 and wrapped_key_base64 are mutually exclusive", types.ErrValidation)
	case raw != "":
		key, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: key_base64 is not valid base64", types.ErrValidation)
		}
		if len(key) != VaultKeySize {
			return nil, fmt.Errorf("%w: vault key must be %d bytes, got %d", types.ErrValidation, VaultKeySize, len(key))
		}
		logger.Debug().Msg("Vault key loaded from configuration")
		return key, nil
	case wrapped != "":
		if cfg.Provider == "" {
			return nil, fmt.Errorf("%w: a KMS provider is required to unwrap the vault key", types.ErrValidation)
		}
		p, err := NewProvider(ConfigFromKey(cfg))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrValidation, err)
		}
		return Unwrap(ctx, p, wrapped)
	default:
		return nil, fmt.Errorf("%w: no vault key configured", types.ErrValidation)
	}
}

// Unwrap decrypts a base64 encoded, protobuf serialized BlobInfo with p
func Unwrap(ctx context.Context, p interfaces.KMSProvider, wrappedBase64 string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(wrappedBase64))
	if err != nil {
		return nil, fmt.Errorf("%w: wrapped key is not valid base64", types.ErrValidation)
	}

	blob := new(wrapping.BlobInfo)
	if err := proto.Unmarshal(data, blob); err != nil {
		return nil, fmt.Errorf("%w: wrapped key is not a blob: %v", types.ErrValidation, err)
	}

	key, err := p.GetWrapper().Decrypt(ctx, blob)
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap vault key: %w", err)
	}
	if len(key) != VaultKeySize {
		return nil, fmt.Errorf("%w: unwrapped vault key must be %d bytes, got %d", types.ErrValidation, VaultKeySize, len(key))
	}

	keyID := ""
	if blob.KeyInfo != nil {
		keyID = blob.KeyInfo.KeyId
	}
	logger.Info().Str("key_id", keyID).Msg("Vault key unwrapped")
	return key, nil
}

// Wrap encrypts key with p and returns the base64 encoded BlobInfo that
// Unwrap and LoadKey accept
func Wrap(ctx context.Context, p interfaces.KMSProvider, key []byte) (string, error) {
	if len(key) != VaultKeySize {
		return "", fmt.Errorf("%w: vault key must be %d bytes, got %d", types.ErrValidation, VaultKeySize, len(key))
	}
	blob, err := p.GetWrapper().Encrypt(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to wrap vault key: %w", err)
	}
	data, err := proto.Marshal(blob)
	if err != nil {
		return "", fmt.Errorf("failed to encode wrapped key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
