// Package vault is the facade external collaborators call into. It composes
// the crypto envelope, the custody ledger, the object store and the search
// index. The facade holds no per-artifact state; everything lives in the
// object store, so a Vault is safe for concurrent use.
package vault

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/root-sector-ltd-and-co-kg/evidence-vault/audit"
	"github.com/root-sector-ltd-and-co-kg/evidence-vault/cache"
	"github.com/root-sector-ltd-and-co-kg/evidence-vault/custody"
	"github.com/root-sector-ltd-and-co-kg/evidence-vault/envelope"
	"github.com/root-sector-ltd-and-co-kg/evidence-vault/interfaces"
	"github.com/root-sector-ltd-and-co-kg/evidence-vault/objectstore"
	"github.com/root-sector-ltd-and-co-kg/evidence-vault/search"
	"github.com/root-sector-ltd-and-co-kg/evidence-vault/types"
)

const tracerName = "evidence-vault/vault"

// Options wires a Vault. Key and Store are required.
type Options struct {
	// Key is the 32 byte vault key. It is copied into the envelope; the
	// caller should wipe its own copy after New returns.
	Key []byte

	Store interfaces.ObjectStore

	// Index defaults to a listing scan over Store under Config.KeyPrefix
	Index interfaces.Index

	// ListingCache backs the default index; nil disables listing caching
	ListingCache interfaces.Storage

	// Audit defaults to a zerolog audit logger
	Audit interfaces.AuditLogger

	// Metrics defaults to an unregistered set of collectors
	Metrics *Metrics

	Config types.VaultConfig

	// Clock overrides time.Now for metadata and custody timestamps
	Clock func() time.Time
}

// Vault implements interfaces.Vault
type Vault struct {
	env     *envelope.Envelope
	ledger  interfaces.Ledger
	store   interfaces.ObjectStore
	index   interfaces.Index
	audit   interfaces.AuditLogger
	metrics *Metrics
	config  types.VaultConfig
	now     func() time.Time
	tracer  trace.Tracer
	logger  zerolog.Logger
}

var _ interfaces.Vault = (*Vault)(nil)

// New builds a Vault from opts
func New(opts Options) (*Vault, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: object store is required", types.ErrValidation)
	}

	env, err := envelope.New(opts.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize envelope: %w", err)
	}

	now := opts.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	ledger, err := custody.NewLedger(env, custody.WithClock(now))
	if err != nil {
		env.Close()
		return nil, err
	}

	cfg := opts.Config.WithDefaults()
	v := &Vault{
		env:     env,
		ledger:  ledger,
		store:   opts.Store,
		index:   opts.Index,
		audit:   opts.Audit,
		metrics: opts.Metrics,
		config:  cfg,
		now:     now,
		tracer:  otel.Tracer(tracerName),
		logger:  log.With().Str("component", "vault").Logger(),
	}
	if v.audit == nil {
		v.audit = audit.NewZerologLogger()
	}
	if v.metrics == nil {
		v.metrics = NewMetrics()
	}
	if v.index == nil {
		scanner, err := search.NewScanner(opts.Store, cfg.KeyPrefix,
			search.WithConcurrency(cfg.SearchConcurrency),
			search.WithCallTimeout(cfg.OperationTimeout),
			search.WithListingCache(cache.NewListingCache(opts.ListingCache, cfg.ListingCache)),
			search.WithScanObserver(func(scanned int, _ time.Duration) { v.metrics.ObserveScan(scanned) }),
			search.WithIntegrityObserver(v.reportUnreadable),
		)
		if err != nil {
			env.Close()
			return nil, err
		}
		v.index = scanner
	}

	v.logger.Info().
		Str("key_prefix", cfg.KeyPrefix).
		Dur("operation_timeout", cfg.OperationTimeout).
		Int("max_custody_retries", cfg.MaxCustodyRetries).
		Msg("Evidence vault initialized")
	return v, nil
}

// Close wipes the key material. The Vault must not be used afterwards.
func (v *Vault) Close() {
	v.env.Close()
}

// Index returns the index the vault resolves evidence ids with
func (v *Vault) Index() interfaces.Index {
	return v.index
}

// Store encrypts data and opens its custody chain. The artifact is persisted
// under {type}/{evidence_id} and the chain in the custody record next to it.
func (v *Vault) Store(ctx context.Context, data []byte, req types.StoreRequest, user string) (result *types.StoreResult, err error) {
	ctx, op := v.begin(ctx, audit.OperationStore, audit.EventTypeEvidenceStore, req.EvidenceID, user)
	defer func() { op.end(ctx, err) }()

	req, err = normalizeStoreRequest(req, user)
	if err != nil {
		return nil, err
	}
	user = strings.TrimSpace(user)

	callerID := req.EvidenceID != ""
	if !callerID {
		req.EvidenceID = uuid.New().String()
	}
	op.setEvidence(req.EvidenceID, req.Type)
	ctx = audit.WithCase(audit.WithEvidence(ctx, req.EvidenceID, req.Type), req.CaseID)

	if callerID {
		if err := v.ensureUnused(ctx, req.EvidenceID); err != nil {
			return nil, err
		}
	}

	sealed, err := v.env.Encrypt(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt artifact: %w", err)
	}
	chain, err := v.ledger.Start(req.EvidenceID, user, req.Description)
	if err != nil {
		return nil, err
	}

	m := &types.Metadata{
		EvidenceID:     req.EvidenceID,
		Timestamp:      v.now().UTC(),
		Type:           req.Type,
		CaseID:         req.CaseID,
		Source:         req.Source,
		Description:    req.Description,
		Tags:           req.Tags,
		ContentType:    req.ContentType,
		Size:           int64(len(data)),
		IV:             base64.StdEncoding.EncodeToString(sealed.IV),
		AuthTag:        base64.StdEncoding.EncodeToString(sealed.AuthTag),
		Hash:           v.env.Digest(data),
		ChainOfCustody: chain,
		Extra:          req.Extra,
	}
	doc, err := objectstore.MarshalMetadata(m)
	if err != nil {
		return nil, err
	}

	record, err := objectstore.MarshalCustody(&types.CustodyRecord{EvidenceID: req.EvidenceID, ChainOfCustody: chain})
	if err != nil {
		return nil, err
	}

	// The custody record is written first so no artifact is listed without one
	key := types.StorageKey(v.config.KeyPrefix, req.Type, req.EvidenceID)
	sctx, cancel := v.callContext(ctx)
	_, err = v.store.Put(sctx, types.CustodyKey(key), record, nil, types.PutCondition{IfNoneMatch: true})
	cancel()
	if errors.Is(err, types.ErrPreconditionFailed) {
		return nil, fmt.Errorf("%w: evidence id %s already exists", types.ErrValidation, req.EvidenceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to persist custody of %s: %w", req.EvidenceID, err)
	}

	sctx, cancel = v.callContext(ctx)
	_, err = v.store.Put(sctx, key, sealed.Ciphertext, doc, types.PutCondition{IfNoneMatch: true})
	cancel()
	if errors.Is(err, types.ErrPreconditionFailed) {
		return nil, fmt.Errorf("%w: evidence id %s already exists", types.ErrValidation, req.EvidenceID)
	}
	if err != nil {
		v.logger.Warn().
			Err(err).
			Str("evidence_id", req.EvidenceID).
			Str("custody_key", types.CustodyKey(key)).
			Msg("Artifact write failed after its custody record was created")
		return nil, fmt.Errorf("failed to persist evidence %s: %w", req.EvidenceID, err)
	}
	v.index.Invalidate(ctx)

	v.logger.Debug().
		Str("evidence_id", req.EvidenceID).
		Str("type", string(req.Type)).
		Str("key", key).
		Int64("size", m.Size).
		Msg("Evidence stored")
	return &types.StoreResult{EvidenceID: req.EvidenceID, Key: key, Metadata: m.Clone()}, nil
}

// Retrieve decrypts an artifact, verifies its digests and records a RETRIEVE
// custody entry. With a non-nil sink the plaintext is written there and
// Data is nil. Plaintext is never emitted when any check fails, the custody
// record is missing or damaged, or ctx is done. A failure to record custody
// is reported through CustodyRecorded and does not fail the read.
func (v *Vault) Retrieve(ctx context.Context, evidenceID, user string, sink io.Writer) (result *types.RetrieveResult, err error) {
	ctx, op := v.begin(ctx, audit.OperationRetrieve, audit.EventTypeEvidenceRetrieve, evidenceID, user)
	defer func() { op.end(ctx, err) }()

	if strings.TrimSpace(user) == "" {
		return nil, fmt.Errorf("%w: user is required", types.ErrValidation)
	}
	user = strings.TrimSpace(user)

	key, err := v.locate(ctx, evidenceID)
	if err != nil {
		return nil, err
	}

	sctx, cancel := v.callContext(ctx)
	obj, err := v.store.Get(sctx, key)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to read evidence %s: %w", evidenceID, err)
	}

	m, err := v.decodeMetadata(ctx, op, evidenceID, obj.Metadata)
	if err != nil {
		return nil, err
	}
	op.setEvidence(evidenceID, m.Type)

	plaintext, err := v.open(ctx, op, m, obj.Body)
	if err != nil {
		return nil, err
	}

	chain, etag, custodyErr := v.readCustody(ctx, op, key, evidenceID)
	if types.IsSecurityIncident(custodyErr) {
		clear(plaintext)
		return nil, custodyErr
	}
	m.ChainOfCustody = chain

	if err := ctx.Err(); err != nil {
		clear(plaintext)
		return nil, fmt.Errorf("retrieve of %s cancelled before emitting plaintext: %w", evidenceID, err)
	}

	result = &types.RetrieveResult{EvidenceID: evidenceID}
	if sink != nil {
		if _, err := io.Copy(sink, bytes.NewReader(plaintext)); err != nil {
			return nil, fmt.Errorf("failed to write evidence %s to sink: %w", evidenceID, err)
		}
	} else {
		result.Data = plaintext
	}

	var updated *types.Metadata
	err = custodyErr
	if err == nil {
		updated, err = v.appendCustody(ctx, op, key, m, etag, types.ActionRetrieve, user, "evidence retrieved")
	}
	if err != nil {
		v.metrics.incUnrecorded()
		op.degrade(err)
		v.logger.Warn().
			Err(err).
			Str("evidence_id", evidenceID).
			Str("user", user).
			Msg("Evidence returned but RETRIEVE custody entry was not persisted")
		result.Metadata = m.Clone()
		return result, nil
	}

	result.Metadata = updated.Clone()
	result.CustodyRecorded = true
	return result, nil
}

// GetMetadata returns the stored metadata without decrypting or touching custody
func (v *Vault) GetMetadata(ctx context.Context, evidenceID string) (result *types.Metadata, err error) {
	ctx, op := v.begin(ctx, audit.OperationGetMetadata, audit.EventTypeEvidenceMetadata, evidenceID, "")
	defer func() { op.end(ctx, err) }()

	m, _, _, err := v.readMetadata(ctx, op, evidenceID)
	if err != nil {
		return nil, err
	}
	return m.Clone(), nil
}

// GetChainOfCustody returns a copy of the stored custody chain
func (v *Vault) GetChainOfCustody(ctx context.Context, evidenceID string) (chain []types.CustodyEntry, err error) {
	ctx, op := v.begin(ctx, audit.OperationGetCustody, audit.EventTypeEvidenceMetadata, evidenceID, "")
	defer func() { op.end(ctx, err) }()

	m, _, _, err := v.readMetadata(ctx, op, evidenceID)
	if err != nil {
		return nil, err
	}
	return append([]types.CustodyEntry(nil), m.ChainOfCustody...), nil
}

// AddCustodyEvent appends an analyst supplied action and persists it
func (v *Vault) AddCustodyEvent(ctx context.Context, evidenceID, action, user, description string) (result *types.Metadata, err error) {
	ctx, op := v.begin(ctx, audit.OperationAddCustody, audit.EventTypeCustodyAppend, evidenceID, user)
	defer func() { op.end(ctx, err) }()

	if strings.TrimSpace(user) == "" {
		return nil, fmt.Errorf("%w: user is required", types.ErrValidation)
	}
	action = custody.NormalizeAction(action)
	if action == "" {
		return nil, fmt.Errorf("%w: action is required", types.ErrValidation)
	}
	if action == types.ActionStore {
		return nil, fmt.Errorf("%w: %s is reserved for the first custody entry", types.ErrValidation, types.ActionStore)
	}
	op.event.Context[string(audit.KeyAction)] = action

	m, key, etag, err := v.readMetadata(ctx, op, evidenceID)
	if err != nil {
		return nil, err
	}
	updated, err := v.appendCustody(ctx, op, key, m, etag, action, strings.TrimSpace(user), description)
	if err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

// Search delegates to the index
func (v *Vault) Search(ctx context.Context, filters types.Filters) (results []types.ArtifactSummary, err error) {
	ctx, op := v.begin(ctx, audit.OperationSearch, audit.EventTypeEvidenceSearch, "", "")
	defer func() { op.end(ctx, err) }()

	results, err = v.index.Search(ctx, filters)
	if err != nil {
		return nil, err
	}
	op.event.Context["results"] = fmt.Sprint(len(results))
	return results, nil
}

// VerifyCustody checks every custody signature and chain invariant.
// It returns (true, nil) or (false, err); err wraps types.ErrChainIntegrity
// when the chain itself is broken.
func (v *Vault) VerifyCustody(ctx context.Context, evidenceID string) (valid bool, err error) {
	ctx, op := v.begin(ctx, audit.OperationVerifyCustody, audit.EventTypeCustodyVerify, evidenceID, "")
	defer func() { op.end(ctx, err) }()

	m, _, _, err := v.readMetadata(ctx, op, evidenceID)
	if err != nil {
		return false, err
	}
	if err := v.ledger.Verify(evidenceID, m.ChainOfCustody); err != nil {
		v.reportViolation(ctx, op, ViolationChain, err)
		return false, err
	}
	return true, nil
}

// ensureUnused rejects a caller supplied id that is already stored under any type
func (v *Vault) ensureUnused(ctx context.Context, evidenceID string) error {
	_, err := v.index.Locate(ctx, evidenceID)
	switch {
	case err == nil:
		return fmt.Errorf("%w: evidence id %s already exists", types.ErrValidation, evidenceID)
	case errors.Is(err, types.ErrNotFound):
		return nil
	default:
		return err
	}
}

func (v *Vault) locate(ctx context.Context, evidenceID string) (string, error) {
	key, err := v.index.Locate(ctx, evidenceID)
	if err != nil {
		return "", err
	}
	return key, nil
}

// readMetadata locates evidenceID and returns its decoded metadata with the
// custody chain, its key and the ETag of its custody record
func (v *Vault) readMetadata(ctx context.Context, op *operation, evidenceID string) (*types.Metadata, string, string, error) {
	key, err := v.locate(ctx, evidenceID)
	if err != nil {
		return nil, "", "", err
	}

	sctx, cancel := v.callContext(ctx)
	head, err := v.store.HeadMetadata(sctx, key)
	cancel()
	if err != nil {
		if errors.Is(err, types.ErrIntegrity) {
			v.reportViolation(ctx, op, ViolationMetadata, err)
		}
		return nil, "", "", fmt.Errorf("failed to read metadata of %s: %w", evidenceID, err)
	}

	m, err := v.decodeMetadata(ctx, op, evidenceID, head.Metadata)
	if err != nil {
		return nil, "", "", err
	}
	if m.Size == 0 {
		m.Size = head.Size
	}
	op.setEvidence(evidenceID, m.Type)

	chain, etag, err := v.readCustody(ctx, op, key, evidenceID)
	if err != nil {
		return nil, "", "", err
	}
	m.ChainOfCustody = chain
	return m, key, etag, nil
}

// readCustody loads the chain stored in the custody record of the artifact at
// key, with the record's ETag. A missing or unreadable record is a chain
// violation.
func (v *Vault) readCustody(ctx context.Context, op *operation, key, evidenceID string) ([]types.CustodyEntry, string, error) {
	sctx, cancel := v.callContext(ctx)
	obj, err := v.store.Get(sctx, types.CustodyKey(key))
	cancel()
	if errors.Is(err, types.ErrNotFound) {
		err = fmt.Errorf("%w: custody record of %s is missing", types.ErrChainIntegrity, evidenceID)
		v.reportViolation(ctx, op, ViolationChain, err)
		return nil, "", err
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to read custody of %s: %w", evidenceID, err)
	}
	if obj.ETag == "" {
		return nil, "", fmt.Errorf("%w: custody record of %s has no ETag", types.ErrStoreUnavailable, evidenceID)
	}

	rec, err := objectstore.UnmarshalCustody(obj.Body)
	if err == nil && rec.EvidenceID != evidenceID {
		err = fmt.Errorf("custody record describes evidence %q", rec.EvidenceID)
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", types.ErrChainIntegrity, err)
		v.reportViolation(ctx, op, ViolationChain, err)
		return nil, "", err
	}
	return rec.ChainOfCustody, obj.ETag, nil
}

// decodeMetadata parses a side-channel document and checks it describes evidenceID
func (v *Vault) decodeMetadata(ctx context.Context, op *operation, evidenceID string, doc []byte) (*types.Metadata, error) {
	m, err := objectstore.UnmarshalMetadata(doc)
	if err == nil && m.EvidenceID != evidenceID {
		err = fmt.Errorf("%w: metadata describes evidence %q", types.ErrIntegrity, m.EvidenceID)
	}
	if err != nil {
		v.reportViolation(ctx, op, ViolationMetadata, err)
		return nil, err
	}
	return m, nil
}

// open decrypts body and verifies the stored digests
func (v *Vault) open(ctx context.Context, op *operation, m *types.Metadata, body []byte) ([]byte, error) {
	iv, ivErr := base64.StdEncoding.DecodeString(m.IV)
	tag, tagErr := base64.StdEncoding.DecodeString(m.AuthTag)
	if ivErr != nil || tagErr != nil {
		err := fmt.Errorf("%w: stored iv or auth tag is not valid base64", types.ErrIntegrity)
		v.reportViolation(ctx, op, ViolationMetadata, err)
		return nil, err
	}

	plaintext, err := v.env.Decrypt(&types.Sealed{Ciphertext: body, IV: iv, AuthTag: tag})
	if err != nil {
		v.reportViolation(ctx, op, ViolationCiphertext, err)
		return nil, err
	}
	if err := v.env.VerifyDigest(plaintext, m.Hash); err != nil {
		clear(plaintext)
		v.reportViolation(ctx, op, ViolationDigest, err)
		return nil, err
	}
	return plaintext, nil
}

// appendCustody appends one entry and rewrites the custody record conditional
// on etag. The record's ETag changes with every append, so a concurrent append
// makes the write fail; the chain is then re-read and the append retried up to
// MaxCustodyRetries times before failing with ErrConcurrentModification.
func (v *Vault) appendCustody(ctx context.Context, op *operation, key string, m *types.Metadata, etag, action, user, description string) (*types.Metadata, error) {
	for attempt := 0; ; attempt++ {
		chain, err := v.ledger.Append(m.ChainOfCustody, action, user, description)
		if err != nil {
			return nil, err
		}
		record, err := objectstore.MarshalCustody(&types.CustodyRecord{EvidenceID: m.EvidenceID, ChainOfCustody: chain})
		if err != nil {
			return nil, err
		}

		sctx, cancel := v.callContext(ctx)
		_, err = v.store.Put(sctx, types.CustodyKey(key), record, nil, types.PutCondition{IfMatch: etag})
		cancel()
		if err == nil {
			v.logger.Debug().
				Str("evidence_id", m.EvidenceID).
				Str("action", action).
				Int("chain_length", len(chain)).
				Int("attempt", attempt+1).
				Msg("Custody entry persisted")
			next := m.Clone()
			next.ChainOfCustody = chain
			return next, nil
		}
		if !errors.Is(err, types.ErrPreconditionFailed) {
			return nil, fmt.Errorf("failed to persist custody of %s: %w", m.EvidenceID, err)
		}

		v.metrics.incConflict()
		if attempt >= v.config.MaxCustodyRetries {
			return nil, fmt.Errorf("%w: %s after %d attempts", types.ErrConcurrentModification, m.EvidenceID, attempt+1)
		}
		v.logger.Debug().
			Str("evidence_id", m.EvidenceID).
			Int("attempt", attempt+1).
			Msg("Custody write lost a race, re-reading")

		fresh, freshETag, err := v.readCustody(ctx, op, key, m.EvidenceID)
		if err != nil {
			return nil, err
		}
		m = m.Clone()
		m.ChainOfCustody = fresh
		etag = freshETag
	}
}

func (v *Vault) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, v.config.OperationTimeout)
}

// reportViolation logs, counts and audits an integrity or chain failure
func (v *Vault) reportViolation(ctx context.Context, op *operation, kind string, cause error) {
	v.metrics.incViolation(kind)
	v.logger.Error().
		Err(cause).
		Str("evidence_id", op.event.EvidenceID).
		Str("operation", op.name).
		Str("user", op.event.User).
		Str("kind", kind).
		Msg("Evidence integrity violation detected")

	event := audit.Failed(audit.NewAuditEvent(audit.EventTypeIntegrityViolation, op.name), cause)
	event.EvidenceID = op.event.EvidenceID
	event.User = op.event.User
	event.Context[string(audit.KeyIncident)] = kind
	v.emit(ctx, event)
}

// reportUnreadable records an artifact the index skipped because its metadata
// could not be read
func (v *Vault) reportUnreadable(ctx context.Context, key string, cause error) {
	v.metrics.incViolation(ViolationMetadata)

	event := audit.Failed(audit.NewAuditEvent(audit.EventTypeIntegrityViolation, audit.OperationSearch), cause)
	if ref, ok := types.ParseStorageKey(v.config.KeyPrefix, key); ok {
		event.EvidenceID = ref.EvidenceID
	}
	event.Context[string(audit.KeyIncident)] = ViolationMetadata
	event.Context[string(audit.KeyStorageKey)] = key
	v.emit(ctx, event)
}

func (v *Vault) emit(ctx context.Context, event *types.AuditEvent) {
	ctx = context.WithoutCancel(ctx)
	audit.Complete(ctx, event)
	if err := v.audit.LogEvent(ctx, event); err != nil {
		v.logger.Warn().Err(err).Str("event_type", event.EventType).Msg("Failed to record audit event")
	}
}

// operation carries the span, audit event and timing of one facade call
type operation struct {
	v     *Vault
	name  string
	start time.Time
	span  trace.Span
	event *types.AuditEvent
	// degraded is set when the call succeeded without recording custody
	degraded error
}

func (v *Vault) begin(ctx context.Context, name, eventType, evidenceID, user string) (context.Context, *operation) {
	ctx = audit.WithUser(audit.WithOperation(ctx, name), user)
	ctx, span := v.tracer.Start(ctx, "vault."+name, trace.WithAttributes(attribute.String("vault.operation", name)))

	event := audit.NewAuditEvent(eventType, name)
	event.User = strings.TrimSpace(user)
	op := &operation{v: v, name: name, start: time.Now(), span: span, event: event}
	op.setEvidence(evidenceID, "")
	return ctx, op
}

func (o *operation) setEvidence(evidenceID string, artifactType types.ArtifactType) {
	if evidenceID != "" {
		o.event.EvidenceID = evidenceID
		o.span.SetAttributes(attribute.String("evidence.id", evidenceID))
	}
	if artifactType != "" {
		o.event.Context[string(audit.KeyArtifactType)] = string(artifactType)
		o.span.SetAttributes(attribute.String("evidence.type", string(artifactType)))
	}
}

func (o *operation) degrade(err error) {
	o.degraded = err
}

func (o *operation) end(ctx context.Context, err error) {
	status := audit.StatusSuccess
	switch {
	case err != nil:
		status = audit.StatusFailed
		audit.Failed(o.event, err)
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, err.Error())
	case o.degraded != nil:
		status = audit.StatusDegraded
		o.event.Context[string(audit.KeyError)] = o.degraded.Error()
		o.span.SetAttributes(attribute.Bool("custody.recorded", false))
	}
	o.event.Status = status
	o.span.End()

	o.v.metrics.observe(o.name, status, time.Since(o.start).Seconds())
	o.v.emit(ctx, o.event)
}

// normalizeStoreRequest validates req and returns a cleaned copy
func normalizeStoreRequest(req types.StoreRequest, user string) (types.StoreRequest, error) {
	if strings.TrimSpace(user) == "" {
		return req, fmt.Errorf("%w: user is required", types.ErrValidation)
	}
	t, err := types.ParseArtifactType(string(req.Type))
	if err != nil {
		return req, err
	}
	req.Type = t

	req.Description = strings.TrimSpace(req.Description)
	if req.Description == "" {
		return req, fmt.Errorf("%w: description is required", types.ErrValidation)
	}

	req.EvidenceID = strings.TrimSpace(req.EvidenceID)
	if req.EvidenceID != "" {
		if err := search.ValidateEvidenceID(req.EvidenceID); err != nil {
			return req, err
		}
	}

	req.Tags = types.NormalizeTags(req.Tags)
	req.CaseID = strings.TrimSpace(req.CaseID)
	req.Source = strings.TrimSpace(req.Source)
	if len(req.Extra) > 0 {
		extra := make(map[string]string, len(req.Extra))
		for k, val := range req.Extra {
			extra[k] = val
		}
		req.Extra = extra
	}
	return req, nil
}
