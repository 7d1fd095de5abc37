// Package search answers metadata queries by scanning the object store.
//
// There is no secondary index: every Search lists all keys under the vault
// prefix and heads each object's metadata, so cost grows linearly with the
// number of stored artifacts. Listings may be served from a short-lived cache.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/root-sector-ltd-and-co-kg/evidence-vault/cache"
	"github.com/root-sector-ltd-and-co-kg/evidence-vault/interfaces"
	"github.com/root-sector-ltd-and-co-kg/evidence-vault/objectstore"
	"github.com/root-sector-ltd-and-co-kg/evidence-vault/types"
)

// Scanner implements interfaces.Index with a full listing scan
type Scanner struct {
	store        interfaces.ObjectStore
	prefix       string
	concurrency  int
	callTimeout  time.Duration
	listings     *cache.ListingCache
	onScan       func(scanned int, elapsed time.Duration)
	onUnreadable func(ctx context.Context, key string, err error)
	logger       zerolog.Logger
}

var _ interfaces.Index = (*Scanner)(nil)

// Option configures a Scanner
type Option func(*Scanner)

// WithConcurrency bounds the number of parallel metadata heads
func WithConcurrency(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithCallTimeout bounds every individual object store call
func WithCallTimeout(d time.Duration) Option {
	return func(s *Scanner) {
		s.callTimeout = d
	}
}

// WithListingCache serves listings from c for its configured TTL
func WithListingCache(c *cache.ListingCache) Option {
	return func(s *Scanner) {
		s.listings = c
	}
}

// WithScanObserver is called after every completed scan
func WithScanObserver(fn func(scanned int, elapsed time.Duration)) Option {
	return func(s *Scanner) {
		s.onScan = fn
	}
}

// WithIntegrityObserver is called for every artifact whose metadata cannot
// be read or does not describe the artifact at its key. Search skips such
// artifacts, so the observer is where they get reported.
func WithIntegrityObserver(fn func(ctx context.Context, key string, err error)) Option {
	return func(s *Scanner) {
		s.onUnreadable = fn
	}
}

// NewScanner creates a scanner over every key under prefix
func NewScanner(store interfaces.ObjectStore, prefix string, opts ...Option) (*Scanner, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: object store is required", types.ErrValidation)
	}
	s := &Scanner{
		store:       store,
		prefix:      prefix,
		concurrency: types.DefaultSearchConcurrency,
		listings:    cache.NewListingCache(nil, types.CacheConfig{}),
		logger:      log.With().Str("component", "search").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Search returns a summary of every artifact matching filters, newest first
func (s *Scanner) Search(ctx context.Context, filters types.Filters) ([]types.ArtifactSummary, error) {
	if err := validateFilters(filters); err != nil {
		return nil, err
	}

	start := time.Now()
	keys, _, err := s.listKeys(ctx, false)
	if err != nil {
		return nil, err
	}
	refs := artifactRefs(s.prefix, keys, filters.Type)

	heads := make([]*types.Metadata, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, ref := range refs {
		g.Go(func() error {
			m, err := s.head(gctx, ref)
			if err != nil {
				return err
			}
			heads[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]types.ArtifactSummary, 0)
	for i, m := range heads {
		if m != nil && filters.Match(m) {
			results = append(results, types.Summarize(refs[i].Key, m))
		}
	}
	SortSummaries(results)
	if filters.Limit > 0 && len(results) > filters.Limit {
		results = results[:filters.Limit]
	}

	elapsed := time.Since(start)
	if s.onScan != nil {
		s.onScan(len(refs), elapsed)
	}
	s.logger.Debug().
		Int("scanned", len(refs)).
		Int("matched", len(results)).
		Dur("elapsed", elapsed).
		Msg("Metadata scan completed")
	return results, nil
}

// Locate resolves evidenceID to its storage key. The artifact type is not
// known up front, so the listing is searched for a key ending in /{id}.
func (s *Scanner) Locate(ctx context.Context, evidenceID string) (string, error) {
	if err := ValidateEvidenceID(evidenceID); err != nil {
		return "", err
	}

	keys, cached, err := s.listKeys(ctx, false)
	if err != nil {
		return "", err
	}
	if key, ok := s.match(keys, evidenceID); ok {
		return key, nil
	}

	// A cached listing may predate the object
	if cached {
		keys, _, err = s.listKeys(ctx, true)
		if err != nil {
			return "", err
		}
		if key, ok := s.match(keys, evidenceID); ok {
			return key, nil
		}
	}
	return "", fmt.Errorf("%w: %s", types.ErrNotFound, evidenceID)
}

// Enumerate lists every artifact of artifactType from a fresh listing.
// Metadata is not read, so artifacts with damaged metadata are included.
func (s *Scanner) Enumerate(ctx context.Context, artifactType types.ArtifactType) ([]types.ArtifactRef, error) {
	if artifactType != "" && !artifactType.Valid() {
		return nil, fmt.Errorf("%w: unknown artifact type %q", types.ErrValidation, artifactType)
	}
	keys, _, err := s.listKeys(ctx, true)
	if err != nil {
		return nil, err
	}
	return artifactRefs(s.prefix, keys, artifactType), nil
}

// Invalidate drops the cached listing
func (s *Scanner) Invalidate(ctx context.Context) {
	s.listings.Invalidate(ctx, s.prefix)
}

func (s *Scanner) match(keys []string, evidenceID string) (string, bool) {
	var found []string
	for _, ref := range artifactRefs(s.prefix, keys, "") {
		if ref.EvidenceID == evidenceID {
			found = append(found, ref.Key)
		}
	}
	if len(found) == 0 {
		return "", false
	}
	if len(found) > 1 {
		sort.Strings(found)
		s.logger.Warn().
			Str("evidence_id", evidenceID).
			Strs("keys", found).
			Msg("Evidence id stored under several types, using the first")
	}
	return found[0], true
}

// listKeys returns the listing under the prefix and whether it came from cache
func (s *Scanner) listKeys(ctx context.Context, fresh bool) ([]string, bool, error) {
	if !fresh {
		if keys, ok := s.listings.Get(ctx, s.prefix); ok {
			return keys, true, nil
		}
	}

	lctx, cancel := s.callContext(ctx)
	keys, err := s.store.List(lctx, s.prefix)
	cancel()
	if err != nil {
		return nil, false, fmt.Errorf("failed to list evidence: %w", err)
	}
	s.listings.Put(ctx, s.prefix, keys)
	return keys, false, nil
}

// head fetches and decodes one metadata record. Objects that vanished since
// the listing yield nil. Unreadable records are reported and yield nil.
func (s *Scanner) head(ctx context.Context, ref types.ArtifactRef) (*types.Metadata, error) {
	hctx, cancel := s.callContext(ctx)
	h, err := s.store.HeadMetadata(hctx, ref.Key)
	cancel()
	if errors.Is(err, types.ErrNotFound) {
		return nil, nil
	}
	if errors.Is(err, types.ErrIntegrity) {
		s.unreadable(ctx, ref.Key, err)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata of %s: %w", ref.Key, err)
	}

	m, err := objectstore.UnmarshalMetadata(h.Metadata)
	if err == nil && m.EvidenceID != ref.EvidenceID {
		err = fmt.Errorf("%w: metadata at %s describes evidence %q", types.ErrIntegrity, ref.Key, m.EvidenceID)
	}
	if err != nil {
		s.unreadable(ctx, ref.Key, err)
		return nil, nil
	}
	if m.Size == 0 {
		m.Size = h.Size
	}
	return m, nil
}

func (s *Scanner) unreadable(ctx context.Context, key string, err error) {
	s.logger.Error().Err(err).Str("key", key).Msg("Skipping artifact with unreadable metadata")
	if s.onUnreadable != nil {
		s.onUnreadable(ctx, key, err)
	}
}

// artifactRefs keeps the artifact keys of a listing, optionally of one type
func artifactRefs(prefix string, keys []string, artifactType types.ArtifactType) []types.ArtifactRef {
	refs := make([]types.ArtifactRef, 0, len(keys))
	for _, k := range keys {
		ref, ok := types.ParseStorageKey(prefix, k)
		if !ok || (artifactType != "" && ref.Type != artifactType) {
			continue
		}
		refs = append(refs, ref)
	}
	return refs
}

func (s *Scanner) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.callTimeout)
}

// SortSummaries orders by timestamp descending, evidence id ascending on ties
func SortSummaries(results []types.ArtifactSummary) {
	sort.SliceStable(results, func(i, j int) bool {
		if !results[i].Timestamp.Equal(results[j].Timestamp) {
			return results[i].Timestamp.After(results[j].Timestamp)
		}
		return results[i].EvidenceID < results[j].EvidenceID
	})
}

// ValidateEvidenceID rejects ids that cannot be a single key segment
func ValidateEvidenceID(evidenceID string) error {
	switch {
	case strings.TrimSpace(evidenceID) == "":
		return fmt.Errorf("%w: evidence id is required", types.ErrValidation)
	case len(evidenceID) > 128:
		return fmt.Errorf("%w: evidence id longer than 128 characters", types.ErrValidation)
	case strings.ContainsAny(evidenceID, "/\\*?\x00"), evidenceID == ".", evidenceID == "..":
		return fmt.Errorf("%w: evidence id %q is not a valid key segment", types.ErrValidation, evidenceID)
	case strings.HasSuffix(evidenceID, types.CustodySuffix):
		return fmt.Errorf("%w: evidence id %q ends in the reserved suffix %s", types.ErrValidation, evidenceID, types.CustodySuffix)
	}
	return nil
}

func validateFilters(f types.Filters) error {
	if f.Type != "" && !f.Type.Valid() {
		return fmt.Errorf("%w: unknown artifact type %q", types.ErrValidation, f.Type)
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return fmt.Errorf("%w: from is after to", types.ErrValidation)
	}
	if f.Limit < 0 {
		return fmt.Errorf("%w: limit must not be negative", types.ErrValidation)
	}
	return nil
}
