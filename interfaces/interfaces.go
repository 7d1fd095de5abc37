// Package interfaces defines all service interfaces for the evidence vault.
// IMPORTANT: This is the single source of truth for service interfaces.
// Do not define interfaces in other files.
package interfaces

import (
	"context"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	wrapping "github.com/hashicorp/go-kms-wrapping/v2"
	"github.com/root-sector-ltd-and-co-kg/evidence-vault/types"
)

// Crypto Interfaces
// Envelope provides authenticated encryption, digests and keyed MACs
// under the single vault key
type Envelope interface {
	// Encrypt seals plaintext under a fresh random IV
	Encrypt(plaintext []byte) (*types.Sealed, error)

	// Decrypt opens a sealed payload. Fails with types.ErrIntegrity if the
	// authentication tag does not verify.
	Decrypt(sealed *types.Sealed) ([]byte, error)

	// Digest computes the strong and legacy digests of data
	Digest(data []byte) types.Digests

	// VerifyDigest recomputes the digests of data and compares them in constant time
	VerifyDigest(data []byte, expected types.Digests) error

	// Sign returns a keyed MAC over data
	Sign(data []byte) []byte

	// Verify checks a keyed MAC in constant time
	Verify(data, signature []byte) bool
}

// Custody Interfaces
// Ledger builds and verifies signed custody chains
type Ledger interface {
	// Start opens a new chain with a single STORE entry
	Start(evidenceID, user, description string) ([]types.CustodyEntry, error)

	// Append returns an extended copy of chain; chain itself is not modified
	Append(chain []types.CustodyEntry, action, user, description string) ([]types.CustodyEntry, error)

	// Verify validates every entry of chain. Fails with types.ErrChainIntegrity.
	Verify(evidenceID string, chain []types.CustodyEntry) error
}

// Store Interfaces
// ObjectStore is the S3-style backend the vault persists artifacts into.
// Implementations map failures to types.ErrNotFound, types.ErrStoreUnavailable
// and types.ErrPreconditionFailed. ETags are derived from the body, as S3 does
// for single-part uploads. A Put is not guaranteed to be visible to an
// immediately following List.
type ObjectStore interface {
	// Put writes body and the optional metadata side-channel under key and
	// returns the new ETag. cond makes the write conditional.
	Put(ctx context.Context, key string, body, metadata []byte, cond types.PutCondition) (string, error)

	// Get reads body and metadata
	Get(ctx context.Context, key string) (*types.Object, error)

	// HeadMetadata reads the metadata side-channel without the body
	HeadMetadata(ctx context.Context, key string) (*types.ObjectHead, error)

	// List returns every key starting with prefix; an empty prefix lists all keys
	List(ctx context.Context, prefix string) ([]string, error)
}

// S3Client is the subset of *s3.Client the S3 object store uses
type S3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, input *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Cache Interfaces
// Storage defines the interface for listing cache backends
type Storage interface {
	Get(ctx context.Context, key string, value *[]string) error
	Set(ctx context.Context, key string, value []string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	// ClearExpiredKeys removes only expired keys and returns the count of removed entries
	ClearExpiredKeys(ctx context.Context) (int, error)
	GetStats(ctx context.Context) types.CacheStats
}

// Search Interfaces
// Index answers metadata queries. The default implementation scans the whole
// store; a secondary index may replace it without changing the Vault contract.
type Index interface {
	// Search returns summaries of every artifact matching filters
	Search(ctx context.Context, filters types.Filters) ([]types.ArtifactSummary, error)

	// Locate resolves an evidence id to its storage key
	Locate(ctx context.Context, evidenceID string) (string, error)

	// Enumerate lists every artifact key from a fresh listing without reading
	// metadata. An empty artifactType enumerates all types.
	Enumerate(ctx context.Context, artifactType types.ArtifactType) ([]types.ArtifactRef, error)

	// Invalidate drops any cached listing so the next query sees fresh keys
	Invalidate(ctx context.Context)
}

// Audit Interfaces
// AuditLogger defines the interface for operational audit logging
type AuditLogger interface {
	// Printf provides basic logging functionality
	Printf(format string, v ...interface{})

	// LogEvent logs an audit event
	LogEvent(ctx context.Context, event *types.AuditEvent) error

	// GetEvents retrieves audit events based on filters
	GetEvents(ctx context.Context, filters map[string]interface{}) ([]*types.AuditEvent, error)
}

// KMS Interfaces
// KMSProvider defines the interface for KMS providers used to unwrap the vault key
type KMSProvider interface {
	// GetWrapper returns the underlying KMS wrapper
	GetWrapper() wrapping.Wrapper

	// Test performs a test encryption/decryption
	Test(ctx context.Context) error

	// HealthCheck performs a comprehensive health check
	HealthCheck(ctx context.Context) error

	// GetLastHealthCheckError returns the last health check error
	GetLastHealthCheckError() error
}

// Vault Interfaces
// Vault is the facade external collaborators (REST layer, CLI) call into
type Vault interface {
	Store(ctx context.Context, data []byte, req types.StoreRequest, user string) (*types.StoreResult, error)
	Retrieve(ctx context.Context, evidenceID, user string, sink io.Writer) (*types.RetrieveResult, error)
	GetMetadata(ctx context.Context, evidenceID string) (*types.Metadata, error)
	GetChainOfCustody(ctx context.Context, evidenceID string) ([]types.CustodyEntry, error)
	AddCustodyEvent(ctx context.Context, evidenceID, action, user, description string) (*types.Metadata, error)
	Search(ctx context.Context, filters types.Filters) ([]types.ArtifactSummary, error)
	VerifyCustody(ctx context.Context, evidenceID string) (bool, error)
}
