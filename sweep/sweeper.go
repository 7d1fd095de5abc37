// Package sweep verifies the custody chain of every stored artifact in the
// background and reports the ones that no longer verify.
package sweep

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/root-sector-ltd-and-co-kg/evidence-vault/audit"
	"github.com/root-sector-ltd-and-co-kg/evidence-vault/coordinator"
	"github.com/root-sector-ltd-and-co-kg/evidence-vault/interfaces"
	"github.com/root-sector-ltd-and-co-kg/evidence-vault/types"
)

// ProcessKind identifies custody sweeps in the coordinator
const ProcessKind = "custody_sweep"

const defaultConcurrency = 8

// Sweeper runs custody sweeps over a vault
type Sweeper struct {
	vault       interfaces.Vault
	index       interfaces.Index
	coordinator *coordinator.Coordinator
	audit       interfaces.AuditLogger
	concurrency int
	now         func() time.Time
	logger      zerolog.Logger
}

// Option configures a Sweeper
type Option func(*Sweeper)

// WithConcurrency bounds parallel verifications
func WithConcurrency(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithAuditLogger sets the sink for the sweep summary event
func WithAuditLogger(a interfaces.AuditLogger) Option {
	return func(s *Sweeper) {
		if a != nil {
			s.audit = a
		}
	}
}

// WithClock overrides time.Now for report timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Sweeper. The index enumerates the keys to check, so artifacts
// whose metadata no longer decodes are still visited. A nil coordinator gets
// a private one.
func New(v interfaces.Vault, idx interfaces.Index, c *coordinator.Coordinator, opts ...Option) *Sweeper {
	if c == nil {
		c = coordinator.NewCoordinator()
	}
	s := &Sweeper{
		vault:       v,
		index:       idx,
		coordinator: c,
		audit:       audit.NewZerologLogger(),
		concurrency: defaultConcurrency,
		now:         time.Now,
		logger:      log.With().Str("component", "sweep").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result is delivered once a background sweep finishes
type Result struct {
	Report *types.SweepReport
	Err    error
}

// Start runs a sweep in the background, detached from ctx cancellation. The
// returned channel receives exactly one Result. Progress is visible through the
// coordinator under the process id, and StopProcess cancels it.
func (s *Sweeper) Start(ctx context.Context, filters types.Filters) (string, <-chan Result, error) {
	processID := newProcessID()
	p, err := s.coordinator.StartProcess(context.WithoutCancel(ctx), processID, ProcessKind)
	if err != nil {
		return "", nil, err
	}

	results := make(chan Result, 1)
	go func() {
		report, err := s.sweep(p, filters)
		results <- Result{Report: report, Err: err}
		close(results)
	}()
	return processID, results, nil
}

// Run performs a sweep and blocks until it finishes. Cancelling ctx stops the
// sweep; the partial report is returned with the context error.
func (s *Sweeper) Run(ctx context.Context, filters types.Filters) (*types.SweepReport, error) {
	p, err := s.coordinator.StartProcess(ctx, newProcessID(), ProcessKind)
	if err != nil {
		return nil, err
	}
	return s.sweep(p, filters)
}

func (s *Sweeper) sweep(p *coordinator.Process, filters types.Filters) (report *types.SweepReport, err error) {
	ctx := p.Context()
	report = &types.SweepReport{
		ProcessID:   p.ID,
		StartedAt:   s.now().UTC(),
		Compromised: make(map[string]string),
		Errored:     make(map[string]string),
	}
	logger := s.logger.With().Str("processId", p.ID).Logger()
	defer func() {
		report.CompletedAt = s.now().UTC()
		s.coordinator.Finish(p.ID, err)
		s.emit(ctx, report, err)
	}()

	refs, err := s.index.Enumerate(ctx, filters.Type)
	if err != nil {
		return report, fmt.Errorf("failed to enumerate artifacts: %w", err)
	}
	total := len(refs)
	logger.Info().Int("artifacts", total).Msg("Custody sweep started")
	s.coordinator.UpdateProgress(p.ID, 0, total, 0)

	var mu sync.Mutex
	processed := 0
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, ref := range refs {
		if gctx.Err() != nil {
			break
		}
		id := ref.EvidenceID
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			matched, ok, verr := s.check(gctx, id, filters)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case !matched:
			case ok:
				report.Valid++
				report.Checked++
			case types.IsSecurityIncident(verr):
				report.Compromised[id] = verr.Error()
				report.Checked++
				logger.Error().Str("evidenceId", id).Str("key", ref.Key).Err(verr).Msg("Custody chain compromised")
			case gctx.Err() != nil:
				// cancelled mid-check; not counted
				return nil
			default:
				report.Errored[id] = verr.Error()
				report.Checked++
				logger.Warn().Str("evidenceId", id).Err(verr).Msg("Custody check failed")
			}
			processed++
			s.coordinator.UpdateProgress(p.ID, processed, total, len(report.Compromised)+len(report.Errored))
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		logger.Warn().Int("checked", report.Checked).Int("total", total).Msg("Custody sweep cancelled")
		return report, err
	}

	logger.Info().
		Int("checked", report.Checked).
		Int("valid", report.Valid).
		Int("compromised", len(report.Compromised)).
		Int("errored", len(report.Errored)).
		Msg("Custody sweep finished")
	return report, nil
}

// check verifies one artifact. When filters need metadata it is read first;
// an artifact whose metadata cannot be read is checked, not skipped.
func (s *Sweeper) check(ctx context.Context, evidenceID string, filters types.Filters) (matched, ok bool, err error) {
	if filters.NeedsMetadata() {
		m, err := s.vault.GetMetadata(ctx, evidenceID)
		if err != nil {
			return true, false, err
		}
		if !filters.Match(m) {
			return false, false, nil
		}
	}
	ok, err = s.vault.VerifyCustody(ctx, evidenceID)
	return true, ok, err
}

func (s *Sweeper) emit(ctx context.Context, report *types.SweepReport, err error) {
	event := audit.NewAuditEvent(audit.EventTypeSweep, audit.OperationSweep)
	event.Context["processId"] = report.ProcessID
	event.Context["checked"] = fmt.Sprint(report.Checked)
	event.Context["valid"] = fmt.Sprint(report.Valid)
	event.Context["compromised"] = fmt.Sprint(len(report.Compromised))
	event.Context["errored"] = fmt.Sprint(len(report.Errored))
	if err != nil {
		audit.Failed(event, err)
	}
	if logErr := s.audit.LogEvent(context.WithoutCancel(ctx), event); logErr != nil {
		s.logger.Warn().Err(logErr).Msg("Failed to record sweep audit event")
	}
}

func newProcessID() string {
	return "sweep-" + uuid.NewString()
}
