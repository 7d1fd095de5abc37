// Package custody builds and verifies HMAC-signed chain-of-custody records.
//
// A chain starts with exactly one STORE entry and only ever grows. Each entry
// is signed independently over its RFC 8785 canonical JSON form, so a chain
// read back from any JSON store verifies regardless of field order.
package custody

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gowebpki/jcs"
	"github.com/rs/zerolog/log"

	"github.com/root-sector-ltd-and-co-kg/evidence-vault/interfaces"
	"github.com/root-sector-ltd-and-co-kg/evidence-vault/types"
)

// Ledger implements interfaces.Ledger
type Ledger struct {
	signer interfaces.Envelope
	now    func() time.Time
}

var _ interfaces.Ledger = (*Ledger)(nil)

// Option configures a Ledger
type Option func(*Ledger)

// WithClock overrides the time source used to stamp entries
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// NewLedger creates a ledger that signs entries with signer
func NewLedger(signer interfaces.Envelope, opts ...Option) (*Ledger, error) {
	if signer == nil {
		return nil, fmt.Errorf("%w: signer is required", types.ErrValidation)
	}
	l := &Ledger{
		signer: signer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// NormalizeAction upper-cases and trims an analyst supplied action
func NormalizeAction(action string) string {
	return strings.ToUpper(strings.TrimSpace(action))
}

// Start opens a new chain with a single signed STORE entry
func (l *Ledger) Start(evidenceID, user, description string) ([]types.CustodyEntry, error) {
	if evidenceID == "" {
		return nil, fmt.Errorf("%w: evidence id is required", types.ErrValidation)
	}
	entry, err := l.newEntry(evidenceID, types.ActionStore, user, description)
	if err != nil {
		return nil, err
	}
	return []types.CustodyEntry{entry}, nil
}

// Append returns a copy of chain extended by one signed entry.
// chain itself is never modified.
func (l *Ledger) Append(chain []types.CustodyEntry, action, user, description string) ([]types.CustodyEntry, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: cannot append to an empty chain", types.ErrChainIntegrity)
	}
	action = NormalizeAction(action)
	if action == types.ActionStore {
		return nil, fmt.Errorf("%w: %s may only open a chain", types.ErrValidation, types.ActionStore)
	}

	entry, err := l.newEntry(chain[0].EvidenceID, action, user, description)
	if err != nil {
		return nil, err
	}

	// Never stamp an entry earlier than its predecessor, even if the clock steps back
	if last := chain[len(chain)-1].Timestamp; entry.Timestamp.Before(last) {
		entry.Timestamp = last
		if entry.Signature, err = l.sign(entry); err != nil {
			return nil, err
		}
	}

	out := make([]types.CustodyEntry, len(chain), len(chain)+1)
	copy(out, chain)
	return append(out, entry), nil
}

// Verify checks every entry of chain. The first failure is returned
// wrapped in types.ErrChainIntegrity.
func (l *Ledger) Verify(evidenceID string, chain []types.CustodyEntry) error {
	if len(chain) == 0 {
		return fmt.Errorf("%w: chain is empty", types.ErrChainIntegrity)
	}
	if chain[0].Action != types.ActionStore {
		return fmt.Errorf("%w: entry 0: first action is %q, want %s", types.ErrChainIntegrity, chain[0].Action, types.ActionStore)
	}

	for i, entry := range chain {
		if entry.EvidenceID != evidenceID {
			return fmt.Errorf("%w: entry %d: belongs to evidence %q", types.ErrChainIntegrity, i, entry.EvidenceID)
		}
		if i > 0 {
			if entry.Action == types.ActionStore {
				return fmt.Errorf("%w: entry %d: repeated %s", types.ErrChainIntegrity, i, types.ActionStore)
			}
			if entry.Timestamp.Before(chain[i-1].Timestamp) {
				return fmt.Errorf("%w: entry %d: timestamp precedes entry %d", types.ErrChainIntegrity, i, i-1)
			}
		}

		sig, err := hex.DecodeString(entry.Signature)
		if err != nil || len(sig) == 0 {
			return fmt.Errorf("%w: entry %d: malformed signature", types.ErrChainIntegrity, i)
		}
		payload, err := canonicalize(entry)
		if err != nil {
			return fmt.Errorf("%w: entry %d: %v", types.ErrChainIntegrity, i, err)
		}
		if !l.signer.Verify(payload, sig) {
			log.Warn().
				Str("component", "custody").
				Str("evidence_id", evidenceID).
				Int("entry", i).
				Str("action", entry.Action).
				Msg("Custody signature mismatch")
			return fmt.Errorf("%w: entry %d: signature mismatch", types.ErrChainIntegrity, i)
		}
	}
	return nil
}

func (l *Ledger) newEntry(evidenceID, action, user, description string) (types.CustodyEntry, error) {
	if strings.TrimSpace(user) == "" {
		return types.CustodyEntry{}, fmt.Errorf("%w: user is required", types.ErrValidation)
	}
	if action == "" {
		return types.CustodyEntry{}, fmt.Errorf("%w: action is required", types.ErrValidation)
	}

	entry := types.CustodyEntry{
		Timestamp:   l.now().UTC(),
		EvidenceID:  evidenceID,
		Action:      action,
		User:        user,
		Description: description,
	}
	sig, err := l.sign(entry)
	if err != nil {
		return types.CustodyEntry{}, err
	}
	entry.Signature = sig
	return entry, nil
}

func (l *Ledger) sign(entry types.CustodyEntry) (string, error) {
	payload, err := canonicalize(entry)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(l.signer.Sign(payload)), nil
}

// canonicalize returns the JCS form of entry with its signature removed
func canonicalize(entry types.CustodyEntry) ([]byte, error) {
	entry.Signature = ""
	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal custody entry: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize custody entry: %w", err)
	}
	return out, nil
}
