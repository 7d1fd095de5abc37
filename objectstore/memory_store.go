package objectstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/root-sector-ltd-and-co-kg/evidence-vault/interfaces"
	"github.com/root-sector-ltd-and-co-kg/evidence-vault/types"
)

type memoryObject struct {
	body     []byte
	metadata []byte
	etag     string
}

// MemoryStore implements interfaces.ObjectStore in process memory.
// Listings are immediately consistent. ETags follow S3 single-part uploads:
// the quoted MD5 of the body, so they change only when the body does.
type MemoryStore struct {
	mu          sync.RWMutex
	objects     map[string]*memoryObject
	maxMetadata int
}

var _ interfaces.ObjectStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store. A maxMetadata of 0
// disables the side-channel size check.
func NewMemoryStore(maxMetadata int) *MemoryStore {
	return &MemoryStore{
		objects:     make(map[string]*memoryObject),
		maxMetadata: maxMetadata,
	}
}

func etagOf(body []byte) string {
	sum := md5.Sum(body)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

func (m *MemoryStore) checkMetadata(metadata []byte) error {
	if m.maxMetadata <= 0 {
		return nil
	}
	_, err := encodeHeader(metadata, m.maxMetadata)
	return err
}

// Put writes body and metadata under key
func (m *MemoryStore) Put(ctx context.Context, key string, body, metadata []byte, cond types.PutCondition) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", types.ErrStoreUnavailable, err)
	}
	if err := m.checkMetadata(metadata); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.objects[key]
	if cond.IfNoneMatch && ok {
		return "", fmt.Errorf("%w: %s already exists", types.ErrPreconditionFailed, key)
	}
	if cond.IfMatch != "" && (!ok || existing.etag != cond.IfMatch) {
		return "", fmt.Errorf("%w: %s etag changed", types.ErrPreconditionFailed, key)
	}

	obj := &memoryObject{
		body:     append([]byte(nil), body...),
		metadata: append([]byte(nil), metadata...),
		etag:     etagOf(body),
	}
	m.objects[key] = obj
	return obj.etag, nil
}

// Get reads body and metadata of key
func (m *MemoryStore) Get(ctx context.Context, key string) (*types.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrStoreUnavailable, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrNotFound, key)
	}
	return &types.Object{
		Key:      key,
		Body:     append([]byte(nil), obj.body...),
		Metadata: append([]byte(nil), obj.metadata...),
		ETag:     obj.etag,
	}, nil
}

// HeadMetadata reads the metadata of key without the body
func (m *MemoryStore) HeadMetadata(ctx context.Context, key string) (*types.ObjectHead, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrStoreUnavailable, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrNotFound, key)
	}
	return &types.ObjectHead{
		Key:      key,
		Metadata: append([]byte(nil), obj.metadata...),
		ETag:     obj.etag,
		Size:     int64(len(obj.body)),
	}, nil
}

// List returns every key under prefix in lexical order
func (m *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrStoreUnavailable, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Mutate applies fn to the raw body of key without touching its metadata or
// ETag. Used to simulate corruption at rest.
func (m *MemoryStore) Mutate(key string, fn func(body []byte) []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[key]
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrNotFound, key)
	}
	obj.body = fn(obj.body)
	return nil
}

// Len returns the number of stored objects
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
