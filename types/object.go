package types

// Sealed is the output of authenticated encryption: ciphertext, IV and tag
type Sealed struct {
	Ciphertext []byte
	IV         []byte
	AuthTag    []byte
}

// Object is a full object read from the backing store
type Object struct {
	Key      string
	Body     []byte
	Metadata []byte // opaque side-channel blob (JSON metadata document)
	ETag     string
}

// ObjectHead is an object's metadata without its body
type ObjectHead struct {
	Key      string
	Metadata []byte
	ETag     string
	Size     int64
}

// PutCondition makes a Put conditional on the current state of the key.
// The zero value is an unconditional write.
type PutCondition struct {
	// IfMatch only writes when the stored object's ETag equals this value
	IfMatch string
	// IfNoneMatch only writes when no object exists under the key
	IfNoneMatch bool
}

// StoreBackend selects the object store implementation
type StoreBackend string

const (
	StoreBackendS3     StoreBackend = "s3"
	StoreBackendMemory StoreBackend = "memory"
)

// StoreConfig holds configuration for the object store backend
type StoreConfig struct {
	Backend StoreBackend `json:"backend" koanf:"backend"`
	Bucket  string       `json:"bucket" koanf:"bucket"`
	Region  string       `json:"region" koanf:"region"`

	// Endpoint is an optional custom endpoint (MinIO, R2, LocalStack).
	// Setting it switches the client to path-style addressing.
	Endpoint string `json:"endpoint,omitempty" koanf:"endpoint"`

	// Static credentials; when empty the default AWS credential chain is used
	AccessKeyID     string `json:"-" koanf:"access_key_id"`
	SecretAccessKey string `json:"-" koanf:"secret_access_key"`

	// MaxMetadataBytes bounds the encoded metadata side-channel.
	// If not set, DefaultMaxMetadataBytes will be used
	MaxMetadataBytes int `json:"maxMetadataBytes,omitempty" koanf:"max_metadata_bytes"`
}

// GetEffectiveMaxMetadataBytes returns the effective side-channel limit
func (c *StoreConfig) GetEffectiveMaxMetadataBytes() int {
	if c.MaxMetadataBytes > 0 {
		return c.MaxMetadataBytes
	}
	return DefaultMaxMetadataBytes
}
