package objectstore

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/root-sector-ltd-and-co-kg/evidence-vault/types"
)

// MetadataHeader is the user-metadata key carrying the metadata document
const MetadataHeader = "evidence-metadata"

// ErrMetadataTooLarge is returned when the encoded metadata side-channel
// exceeds the backend's limit
var ErrMetadataTooLarge = errors.New("metadata side-channel too large")

// Encoders are safe for concurrent EncodeAll/DecodeAll calls
var (
	sideChannelEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	sideChannelDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(16<<20))
)

// MarshalMetadata serializes the descriptive part of a metadata record into
// the side-channel document. The custody chain is persisted separately with
// MarshalCustody.
func MarshalMetadata(m *types.Metadata) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: metadata is nil", types.ErrValidation)
	}
	doc := *m
	doc.ChainOfCustody = nil
	data, err := json.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return data, nil
}

// UnmarshalMetadata parses a side-channel document
func UnmarshalMetadata(data []byte) (*types.Metadata, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty metadata document", types.ErrIntegrity)
	}
	var m types.Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: malformed metadata document: %v", types.ErrIntegrity, err)
	}
	return &m, nil
}

// MarshalCustody serializes a custody record into the body of its object
func MarshalCustody(rec *types.CustodyRecord) ([]byte, error) {
	if rec == nil || rec.EvidenceID == "" {
		return nil, fmt.Errorf("%w: custody record needs an evidence id", types.ErrValidation)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal custody record: %w", err)
	}
	return data, nil
}

// UnmarshalCustody parses a custody record body
func UnmarshalCustody(data []byte) (*types.CustodyRecord, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty custody record", types.ErrIntegrity)
	}
	var rec types.CustodyRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: malformed custody record: %v", types.ErrIntegrity, err)
	}
	return &rec, nil
}

// encodeHeader compresses and base64-encodes a metadata document so it fits
// the ASCII-only user-metadata of S3
func encodeHeader(doc []byte, limit int) (string, error) {
	encoded := base64.StdEncoding.EncodeToString(sideChannelEncoder.EncodeAll(doc, nil))
	if size := len(MetadataHeader) + len(encoded); size > limit {
		return "", fmt.Errorf("%w: %d bytes encoded, limit %d", ErrMetadataTooLarge, size, limit)
	}
	return encoded, nil
}

// decodeHeader reverses encodeHeader. Plain JSON values written by other
// tools are accepted as-is.
func decodeHeader(value string) ([]byte, error) {
	if trimmed := bytes.TrimSpace([]byte(value)); len(trimmed) > 0 && trimmed[0] == '{' {
		return trimmed, nil
	}
	compressed, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata header is not base64: %v", types.ErrIntegrity, err)
	}
	doc, err := sideChannelDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata header does not decompress: %v", types.ErrIntegrity, err)
	}
	return doc, nil
}
