package vault

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/root-sector-ltd-and-co-kg/evidence-vault/audit"
	"github.com/root-sector-ltd-and-co-kg/evidence-vault/cache/storage"
	"github.com/root-sector-ltd-and-co-kg/evidence-vault/interfaces"
	"github.com/root-sector-ltd-and-co-kg/evidence-vault/objectstore"
	"github.com/root-sector-ltd-and-co-kg/evidence-vault/types"
)

const prefix = "evidence/"

func testKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i*7 + 3)
	}
	return key
}

// recorder is an in-memory audit sink
type recorder struct {
	mu     sync.Mutex
	events []*types.AuditEvent
}

func (r *recorder) Printf(string, ...interface{}) {}

func (r *recorder) LogEvent(_ context.Context, event *types.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) GetEvents(context.Context, map[string]interface{}) ([]*types.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*types.AuditEvent(nil), r.events...), nil
}

func (r *recorder) ofType(eventType string) []*types.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.AuditEvent
	for _, e := range r.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	vault    *Vault
	mem      *objectstore.MemoryStore
	audit    *recorder
	registry *prometheus.Registry
}

func newHarness(t *testing.T, store interfaces.ObjectStore, mem *objectstore.MemoryStore) *harness {
	t.Helper()
	if mem == nil {
		mem = objectstore.NewMemoryStore(types.DefaultMaxMetadataBytes)
	}
	if store == nil {
		store = mem
	}

	listings := storage.NewMemoryAdapter(16)
	t.Cleanup(func() { _ = listings.Shutdown() })

	rec := &recorder{}
	metrics := NewMetrics()
	reg := prometheus.NewRegistry()
	require.NoError(t, metrics.Register(reg))

	v, err := New(Options{
		Key:          testKey(),
		Store:        store,
		ListingCache: listings,
		Audit:        rec,
		Metrics:      metrics,
		Config: types.VaultConfig{
			KeyPrefix:    prefix,
			ListingCache: types.CacheConfig{Enabled: true},
		},
	})
	require.NoError(t, err)
	t.Cleanup(v.Close)

	return &harness{vault: v, mem: mem, audit: rec, registry: reg}
}

func (h *harness) metric(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := h.registry.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			if labelsMatch(m, labels) {
				switch {
				case m.GetCounter() != nil:
					return m.GetCounter().GetValue()
				case m.GetHistogram() != nil:
					return float64(m.GetHistogram().GetSampleCount())
				}
			}
		}
	}
	return 0
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	for k, v := range want {
		found := false
		for _, lp := range m.GetLabel() {
			if lp.GetName() == k && lp.GetValue() == v {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// overwrite replaces the object at key behind the vault's back
func overwrite(t *testing.T, mem *objectstore.MemoryStore, key string, body, metadata []byte) {
	t.Helper()
	_, err := mem.Put(context.Background(), key, body, metadata, types.PutCondition{})
	require.NoError(t, err)
}

func storeLog(t *testing.T, v *Vault, data string) *types.StoreResult {
	t.Helper()
	res, err := v.Store(context.Background(), []byte(data), types.StoreRequest{Type: types.ArtifactLog, Description: "test"}, "alice")
	require.NoError(t, err)
	return res
}

func TestStoreRetrieveVerify(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	res := storeLog(t, h.vault, "auth.log contents")
	require.NotEmpty(t, res.EvidenceID)
	assert.Equal(t, prefix+"log/"+res.EvidenceID, res.Key)
	require.Len(t, res.Metadata.ChainOfCustody, 1)
	assert.Equal(t, types.ActionStore, res.Metadata.ChainOfCustody[0].Action)
	assert.Equal(t, int64(len("auth.log contents")), res.Metadata.Size)

	got, err := h.vault.Retrieve(ctx, res.EvidenceID, "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, "auth.log contents", string(got.Data))
	assert.True(t, got.CustodyRecorded)
	require.Len(t, got.Metadata.ChainOfCustody, 2)
	assert.Equal(t, types.ActionRetrieve, got.Metadata.ChainOfCustody[1].Action)
	assert.Equal(t, "alice", got.Metadata.ChainOfCustody[1].User)

	ok, err := h.vault.VerifyCustody(ctx, res.EvidenceID)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, 1.0, h.metric(t, MetricOperationsTotal, map[string]string{"operation": audit.OperationStore, "status": audit.StatusSuccess}))
	assert.Equal(t, 1.0, h.metric(t, MetricOperationsTotal, map[string]string{"operation": audit.OperationRetrieve, "status": audit.StatusSuccess}))
	assert.Len(t, h.audit.ofType(audit.EventTypeEvidenceStore), 1)
}

func TestStoreNeverWritesPlaintext(t *testing.T) {
	h := newHarness(t, nil, nil)
	res := storeLog(t, h.vault, "secret-marker-0123456789")

	obj, err := h.mem.Get(context.Background(), res.Key)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(obj.Body, []byte("secret-marker")))
	assert.False(t, bytes.Contains(obj.Metadata, []byte("secret-marker")))
	assert.False(t, bytes.Contains(obj.Metadata, testKey()))
	assert.False(t, bytes.Contains(obj.Metadata, []byte("chainOfCustody")))

	record, err := h.mem.Get(context.Background(), types.CustodyKey(res.Key))
	require.NoError(t, err)
	assert.False(t, bytes.Contains(record.Body, []byte("secret-marker")))
	assert.Contains(t, string(record.Body), res.EvidenceID)
}

func TestStoreValidation(t *testing.T) {
	h := newHarness(t, nil, nil)
	existing := storeLog(t, h.vault, "x")

	tests := []struct {
		name string
		req  types.StoreRequest
		user string
	}{
		{name: "Missing User", req: types.StoreRequest{Type: types.ArtifactLog, Description: "d"}},
		{name: "Missing Type", req: types.StoreRequest{Description: "d"}, user: "alice"},
		{name: "Unknown Type", req: types.StoreRequest{Type: "floppy", Description: "d"}, user: "alice"},
		{name: "Missing Description", req: types.StoreRequest{Type: types.ArtifactLog, Description: "  "}, user: "alice"},
		{name: "Unsafe Evidence ID", req: types.StoreRequest{EvidenceID: "../etc", Type: types.ArtifactLog, Description: "d"}, user: "alice"},
		{name: "Duplicate Evidence ID", req: types.StoreRequest{EvidenceID: existing.EvidenceID, Type: types.ArtifactPacketCapture, Description: "d"}, user: "alice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.vault.Store(context.Background(), []byte("data"), tt.req, tt.user)
			assert.ErrorIs(t, err, types.ErrValidation)
		})
	}
	// One artifact and its custody record
	assert.Equal(t, 2, h.mem.Len())
}

func TestStoreNormalizesRequest(t *testing.T) {
	h := newHarness(t, nil, nil)
	res, err := h.vault.Store(context.Background(), nil, types.StoreRequest{
		EvidenceID:  "case-7-capture",
		Type:        " PCAP ",
		Description: " edge tap ",
		Tags:        []string{"tls", "", "tls", "edge"},
	}, "bob")
	require.NoError(t, err)

	assert.Equal(t, "case-7-capture", res.EvidenceID)
	assert.Equal(t, types.ArtifactPacketCapture, res.Metadata.Type)
	assert.Equal(t, "edge tap", res.Metadata.Description)
	assert.Equal(t, []string{"tls", "edge"}, res.Metadata.Tags)

	// Zero length artifacts round trip
	got, err := h.vault.Retrieve(context.Background(), "case-7-capture", "bob", nil)
	require.NoError(t, err)
	assert.Empty(t, got.Data)
}

func TestRetrieveCorruptedCiphertext(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	res := storeLog(t, h.vault, "pristine evidence")

	require.NoError(t, h.mem.Mutate(res.Key, func(body []byte) []byte {
		body[0] ^= 0xff
		return body
	}))

	var sink bytes.Buffer
	got, err := h.vault.Retrieve(ctx, res.EvidenceID, "alice", &sink)
	require.ErrorIs(t, err, types.ErrIntegrity)
	assert.Nil(t, got)
	assert.Zero(t, sink.Len())

	chain, err := h.vault.GetChainOfCustody(ctx, res.EvidenceID)
	require.NoError(t, err)
	assert.Len(t, chain, 1)

	assert.Equal(t, 1.0, h.metric(t, MetricIntegrityViolations, map[string]string{"kind": ViolationCiphertext}))
	violations := h.audit.ofType(audit.EventTypeIntegrityViolation)
	require.Len(t, violations, 1)
	assert.Equal(t, res.EvidenceID, violations[0].EvidenceID)
	assert.Equal(t, "alice", violations[0].User)
	assert.Equal(t, ViolationCiphertext, violations[0].Context[string(audit.KeyIncident)])
}

func TestRetrieveDigestMismatch(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	res := storeLog(t, h.vault, "payload")

	// Stored digest no longer describes the plaintext
	m := res.Metadata.Clone()
	m.Hash.SHA256 = fmt.Sprintf("%064x", 1)
	doc, err := objectstore.MarshalMetadata(m)
	require.NoError(t, err)
	obj, err := h.mem.Get(ctx, res.Key)
	require.NoError(t, err)
	overwrite(t, h.mem, res.Key, obj.Body, doc)

	_, err = h.vault.Retrieve(ctx, res.EvidenceID, "alice", nil)
	require.ErrorIs(t, err, types.ErrIntegrity)
	assert.Equal(t, 1.0, h.metric(t, MetricIntegrityViolations, map[string]string{"kind": ViolationDigest}))
}

func TestRetrieveToSink(t *testing.T) {
	h := newHarness(t, nil, nil)
	res := storeLog(t, h.vault, "streamed")

	var sink bytes.Buffer
	got, err := h.vault.Retrieve(context.Background(), res.EvidenceID, "carol", &sink)
	require.NoError(t, err)
	assert.Nil(t, got.Data)
	assert.Equal(t, "streamed", sink.String())
}

func TestRetrieveCancelledEmitsNothing(t *testing.T) {
	h := newHarness(t, nil, nil)
	res := storeLog(t, h.vault, "never leaves")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var sink bytes.Buffer
	_, err := h.vault.Retrieve(ctx, res.EvidenceID, "alice", &sink)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, sink.Len())

	chain, err := h.vault.GetChainOfCustody(context.Background(), res.EvidenceID)
	require.NoError(t, err)
	assert.Len(t, chain, 1)
}

func TestRetrieveErrors(t *testing.T) {
	h := newHarness(t, nil, nil)

	_, err := h.vault.Retrieve(context.Background(), "does-not-exist", "alice", nil)
	assert.ErrorIs(t, err, types.ErrNotFound)

	res := storeLog(t, h.vault, "x")
	_, err = h.vault.Retrieve(context.Background(), res.EvidenceID, " ", nil)
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestGetMetadataIsIdempotent(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	res := storeLog(t, h.vault, "x")

	first, err := h.vault.GetMetadata(ctx, res.EvidenceID)
	require.NoError(t, err)
	second, err := h.vault.GetMetadata(ctx, res.EvidenceID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, second.ChainOfCustody, 1)

	// Returned metadata does not alias the store
	first.ChainOfCustody[0].User = "mallory"
	third, _ := h.vault.GetMetadata(ctx, res.EvidenceID)
	assert.Equal(t, "alice", third.ChainOfCustody[0].User)
}

func TestCustodyGrowsMonotonically(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	res := storeLog(t, h.vault, "x")

	const n = 6
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			_, err := h.vault.Retrieve(ctx, res.EvidenceID, "alice", nil)
			require.NoError(t, err)
		} else {
			_, err := h.vault.AddCustodyEvent(ctx, res.EvidenceID, "analyze", "bob", fmt.Sprintf("pass %d", i))
			require.NoError(t, err)
		}
	}

	chain, err := h.vault.GetChainOfCustody(ctx, res.EvidenceID)
	require.NoError(t, err)
	require.Len(t, chain, n+1)
	assert.Equal(t, "ANALYZE", chain[2].Action)
	for i := 1; i < len(chain); i++ {
		assert.False(t, chain[i].Timestamp.Before(chain[i-1].Timestamp))
	}

	ok, err := h.vault.VerifyCustody(ctx, res.EvidenceID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAddCustodyEventValidation(t *testing.T) {
	h := newHarness(t, nil, nil)
	res := storeLog(t, h.vault, "x")

	tests := []struct {
		name   string
		id     string
		action string
		user   string
		want   error
	}{
		{name: "Reserved STORE", id: res.EvidenceID, action: "store", user: "bob", want: types.ErrValidation},
		{name: "Empty Action", id: res.EvidenceID, action: " ", user: "bob", want: types.ErrValidation},
		{name: "Empty User", id: res.EvidenceID, action: "TRANSFER", want: types.ErrValidation},
		{name: "Unknown Evidence", id: "nope", action: "TRANSFER", user: "bob", want: types.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.vault.AddCustodyEvent(context.Background(), tt.id, tt.action, tt.user, "")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestVerifyCustodyDetectsTampering(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	res := storeLog(t, h.vault, "x")
	_, err := h.vault.AddCustodyEvent(ctx, res.EvidenceID, "TRANSFER", "bob", "to lab")
	require.NoError(t, err)

	m, err := h.vault.GetMetadata(ctx, res.EvidenceID)
	require.NoError(t, err)
	m.ChainOfCustody[1].User = "mallory"
	record, err := objectstore.MarshalCustody(&types.CustodyRecord{EvidenceID: res.EvidenceID, ChainOfCustody: m.ChainOfCustody})
	require.NoError(t, err)
	overwrite(t, h.mem, types.CustodyKey(res.Key), record, nil)

	ok, err := h.vault.VerifyCustody(ctx, res.EvidenceID)
	assert.False(t, ok)
	require.ErrorIs(t, err, types.ErrChainIntegrity)
	assert.Contains(t, err.Error(), "entry 1")
	assert.Equal(t, 1.0, h.metric(t, MetricIntegrityViolations, map[string]string{"kind": ViolationChain}))
}

// conflictStore loses the first `losses` conditional custody appends
type conflictStore struct {
	*objectstore.MemoryStore
	losses   int32
	attempts atomic.Int32
	outage   bool
}

func (c *conflictStore) Put(ctx context.Context, key string, body, metadata []byte, cond types.PutCondition) (string, error) {
	if !strings.HasSuffix(key, types.CustodySuffix) || cond.IfMatch == "" {
		return c.MemoryStore.Put(ctx, key, body, metadata, cond)
	}
	n := c.attempts.Add(1)
	if c.outage {
		return "", fmt.Errorf("%w: 503", types.ErrStoreUnavailable)
	}
	if c.losses < 0 || n <= c.losses {
		return "", fmt.Errorf("%w: simulated race", types.ErrPreconditionFailed)
	}
	return c.MemoryStore.Put(ctx, key, body, metadata, cond)
}

func TestCustodyRetriesOnConflict(t *testing.T) {
	mem := objectstore.NewMemoryStore(0)
	store := &conflictStore{MemoryStore: mem, losses: 2}
	h := newHarness(t, store, mem)
	ctx := context.Background()
	res := storeLog(t, h.vault, "x")

	updated, err := h.vault.AddCustodyEvent(ctx, res.EvidenceID, "TRANSFER", "bob", "")
	require.NoError(t, err)
	assert.Len(t, updated.ChainOfCustody, 2)
	assert.Equal(t, int32(3), store.attempts.Load())
	assert.Equal(t, 2.0, h.metric(t, MetricCustodyConflicts, nil))
}

func TestCustodyConcurrentModification(t *testing.T) {
	mem := objectstore.NewMemoryStore(0)
	store := &conflictStore{MemoryStore: mem, losses: -1}
	h := newHarness(t, store, mem)
	ctx := context.Background()
	res := storeLog(t, h.vault, "still readable")

	_, err := h.vault.AddCustodyEvent(ctx, res.EvidenceID, "TRANSFER", "bob", "")
	require.ErrorIs(t, err, types.ErrConcurrentModification)
	assert.Equal(t, int32(types.DefaultMaxCustodyRetries+1), store.attempts.Load())

	// The read still succeeds; custody is reported as unrecorded
	got, err := h.vault.Retrieve(ctx, res.EvidenceID, "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, "still readable", string(got.Data))
	assert.False(t, got.CustodyRecorded)
	assert.Len(t, got.Metadata.ChainOfCustody, 1)
	assert.Equal(t, 1.0, h.metric(t, MetricOperationsTotal, map[string]string{"operation": audit.OperationRetrieve, "status": audit.StatusDegraded}))
	assert.Equal(t, 1.0, h.metric(t, MetricCustodyUnrecorded, nil))
}

func TestRetrieveSurvivesCustodyOutage(t *testing.T) {
	mem := objectstore.NewMemoryStore(0)
	store := &conflictStore{MemoryStore: mem, outage: true}
	h := newHarness(t, store, mem)
	res := storeLog(t, h.vault, "available")

	got, err := h.vault.Retrieve(context.Background(), res.EvidenceID, "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, "available", string(got.Data))
	assert.False(t, got.CustodyRecorded)
	assert.Equal(t, int32(1), store.attempts.Load())

	_, err = h.vault.AddCustodyEvent(context.Background(), res.EvidenceID, "TRANSFER", "bob", "")
	assert.ErrorIs(t, err, types.ErrStoreUnavailable)
}

func TestCustodyGrowsPastSideChannelLimit(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	res := storeLog(t, h.vault, "long lived evidence")

	const n = 60
	for i := 0; i < n; i++ {
		_, err := h.vault.AddCustodyEvent(ctx, res.EvidenceID, "ANALYZE", "analyst.bob@example.org", "reviewed in lab 3")
		require.NoError(t, err, "append %d", i+1)
	}

	got, err := h.vault.Retrieve(ctx, res.EvidenceID, "alice", nil)
	require.NoError(t, err)
	assert.True(t, got.CustodyRecorded)
	require.Len(t, got.Metadata.ChainOfCustody, n+2)
	assert.Equal(t, types.ActionRetrieve, got.Metadata.ChainOfCustody[n+1].Action)

	// The side-channel stays the size it had at store time
	head, err := h.mem.HeadMetadata(ctx, res.Key)
	require.NoError(t, err)
	assert.Less(t, len(head.Metadata), types.DefaultMaxMetadataBytes)

	ok, err := h.vault.VerifyCustody(ctx, res.EvidenceID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConcurrentAppendsAreNeverLost(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	res := storeLog(t, h.vault, "contested")

	const writers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	var recorded []string
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			description := fmt.Sprintf("writer %d", i)
			_, err := h.vault.AddCustodyEvent(ctx, res.EvidenceID, "TRANSFER", "bob", description)
			if err != nil {
				assert.ErrorIs(t, err, types.ErrConcurrentModification)
				return
			}
			mu.Lock()
			recorded = append(recorded, description)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	chain, err := h.vault.GetChainOfCustody(ctx, res.EvidenceID)
	require.NoError(t, err)
	require.NotEmpty(t, recorded)
	require.Len(t, chain, len(recorded)+1, "every acknowledged append is in the chain")

	var inChain []string
	for _, e := range chain[1:] {
		inChain = append(inChain, e.Description)
	}
	assert.ElementsMatch(t, recorded, inChain)

	ok, err := h.vault.VerifyCustody(ctx, res.EvidenceID)
	require.NoError(t, err)
	assert.True(t, ok)
}

// interleavingStore runs a competing writer right before the first
// conditional custody write reaches the store
type interleavingStore struct {
	*objectstore.MemoryStore
	compete func()
	fired   atomic.Bool
}

func (s *interleavingStore) Put(ctx context.Context, key string, body, metadata []byte, cond types.PutCondition) (string, error) {
	if strings.HasSuffix(key, types.CustodySuffix) && cond.IfMatch != "" && s.fired.CompareAndSwap(false, true) {
		s.compete()
	}
	return s.MemoryStore.Put(ctx, key, body, metadata, cond)
}

func TestInterleavedAppendKeepsBothEntries(t *testing.T) {
	mem := objectstore.NewMemoryStore(0)
	store := &interleavingStore{MemoryStore: mem}
	h := newHarness(t, store, mem)
	ctx := context.Background()
	res := storeLog(t, h.vault, "shared")

	store.compete = func() {
		_, err := h.vault.AddCustodyEvent(ctx, res.EvidenceID, "TRANSFER", "carol", "handed to courier")
		require.NoError(t, err)
	}

	updated, err := h.vault.AddCustodyEvent(ctx, res.EvidenceID, "ANALYZE", "bob", "imaged")
	require.NoError(t, err)
	require.Len(t, updated.ChainOfCustody, 3)
	assert.Equal(t, "carol", updated.ChainOfCustody[1].User)
	assert.Equal(t, "bob", updated.ChainOfCustody[2].User)
	assert.Equal(t, 1.0, h.metric(t, MetricCustodyConflicts, nil))

	chain, err := h.vault.GetChainOfCustody(ctx, res.EvidenceID)
	require.NoError(t, err)
	assert.Equal(t, updated.ChainOfCustody, chain)
}

// missingCustodyStore hides every custody record
type missingCustodyStore struct {
	*objectstore.MemoryStore
}

func (m *missingCustodyStore) Get(ctx context.Context, key string) (*types.Object, error) {
	if strings.HasSuffix(key, types.CustodySuffix) {
		return nil, fmt.Errorf("%w: %s", types.ErrNotFound, key)
	}
	return m.MemoryStore.Get(ctx, key)
}

func TestRetrieveRefusesDamagedCustodyRecord(t *testing.T) {
	tests := []struct {
		name   string
		hidden bool
		record []byte
	}{
		{name: "Missing Record", hidden: true},
		{name: "Truncated Record", record: []byte(`{"evidence_id":`)},
		{name: "Record Of Another Artifact", record: []byte(`{"evidence_id":"someone-else","chainOfCustody":[]}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := objectstore.NewMemoryStore(0)
			var store interfaces.ObjectStore = mem
			if tt.hidden {
				store = &missingCustodyStore{MemoryStore: mem}
			}
			h := newHarness(t, store, mem)
			ctx := context.Background()
			res := storeLog(t, h.vault, "guarded")
			if tt.record != nil {
				overwrite(t, mem, types.CustodyKey(res.Key), tt.record, nil)
			}

			var sink bytes.Buffer
			got, err := h.vault.Retrieve(ctx, res.EvidenceID, "alice", &sink)
			require.ErrorIs(t, err, types.ErrChainIntegrity)
			assert.Nil(t, got)
			assert.Zero(t, sink.Len())

			ok, err := h.vault.VerifyCustody(ctx, res.EvidenceID)
			assert.False(t, ok)
			assert.ErrorIs(t, err, types.ErrChainIntegrity)
			assert.Equal(t, 2.0, h.metric(t, MetricIntegrityViolations, map[string]string{"kind": ViolationChain}))
		})
	}
}

func TestSearchReportsUnreadableMetadata(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	intact := storeLog(t, h.vault, "intact")
	damaged := storeLog(t, h.vault, "damaged")

	obj, err := h.mem.Get(ctx, damaged.Key)
	require.NoError(t, err)
	overwrite(t, h.mem, damaged.Key, obj.Body, []byte(`{"evidence_id":`))

	results, err := h.vault.Search(ctx, types.Filters{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, intact.EvidenceID, results[0].EvidenceID)

	assert.Equal(t, 1.0, h.metric(t, MetricIntegrityViolations, map[string]string{"kind": ViolationMetadata}))
	violations := h.audit.ofType(audit.EventTypeIntegrityViolation)
	require.Len(t, violations, 1)
	assert.Equal(t, damaged.EvidenceID, violations[0].EvidenceID)
	assert.Equal(t, damaged.Key, violations[0].Context[string(audit.KeyStorageKey)])
}

func TestSearchByCase(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	requests := []types.StoreRequest{
		{Type: types.ArtifactPacketCapture, CaseID: "INC-42", Description: "edge", Tags: []string{"edge"}},
		{Type: types.ArtifactLog, CaseID: "INC-7", Description: "auth"},
		{Type: types.ArtifactMemoryDump, CaseID: "INC-42", Description: "ram"},
		{Type: types.ArtifactScreenshot, Description: "screen"},
		{Type: types.ArtifactNetworkFlow, CaseID: "INC-9", Description: "flows", Tags: []string{"edge"}},
	}
	for i, req := range requests {
		_, err := h.vault.Store(ctx, []byte(fmt.Sprintf("artifact %d", i)), req, "alice")
		require.NoError(t, err)
	}

	results, err := h.vault.Search(ctx, types.Filters{CaseID: "INC-42"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, "INC-42", r.CaseID)
	}

	tagged, err := h.vault.Search(ctx, types.Filters{Tags: []string{"edge"}})
	require.NoError(t, err)
	assert.Len(t, tagged, 2)

	_, err = h.vault.Search(ctx, types.Filters{Type: "floppy"})
	assert.ErrorIs(t, err, types.ErrValidation)

	assert.Equal(t, 2.0, h.metric(t, MetricSearchScannedObjects, nil))
}

func TestNewValidation(t *testing.T) {
	_, err := New(Options{Key: testKey()})
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = New(Options{Key: []byte("short"), Store: objectstore.NewMemoryStore(0)})
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestConcurrentStores(t *testing.T) {
	h := newHarness(t, nil, nil)
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.vault.Store(context.Background(), []byte{byte(i)}, types.StoreRequest{Type: types.ArtifactOther, Description: "bulk"}, "alice")
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 40, h.mem.Len())
}
