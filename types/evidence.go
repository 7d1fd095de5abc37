package types

import (
	"fmt"
	"strings"
	"time"
)

// ArtifactType is the closed set of evidence kinds the vault accepts
type ArtifactType string

const (
	ArtifactPacketCapture ArtifactType = "pcap"
	ArtifactLog           ArtifactType = "log"
	ArtifactMemoryDump    ArtifactType = "memory_dump"
	ArtifactDiskImage     ArtifactType = "disk_image"
	ArtifactNetworkFlow   ArtifactType = "netflow"
	ArtifactScreenshot    ArtifactType = "screenshot"
	ArtifactTimeline      ArtifactType = "timeline"
	ArtifactOther         ArtifactType = "other"
)

// ArtifactTypes lists every accepted artifact type in a stable order
var ArtifactTypes = []ArtifactType{
	ArtifactPacketCapture,
	ArtifactLog,
	ArtifactMemoryDump,
	ArtifactDiskImage,
	ArtifactNetworkFlow,
	ArtifactScreenshot,
	ArtifactTimeline,
	ArtifactOther,
}

// Valid reports whether t belongs to the closed set
func (t ArtifactType) Valid() bool {
	for _, known := range ArtifactTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseArtifactType converts a user supplied string into an ArtifactType
func ParseArtifactType(s string) (ArtifactType, error) {
	t := ArtifactType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown artifact type %q", ErrValidation, s)
	}
	return t, nil
}

// Custody actions with fixed meaning. Analysts may record any other action
// through AddCustodyEvent, except ActionStore which only opens a chain.
const (
	ActionStore    = "STORE"
	ActionRetrieve = "RETRIEVE"
)

// Digests holds the integrity record for a plaintext payload.
// SHA256 is authoritative; MD5 is kept for tools that still index by it.
type Digests struct {
	SHA256 string `json:"sha256"`
	MD5    string `json:"md5,omitempty"`
}

// CustodyEntry is one signed, timestamped record of an action on an artifact
type CustodyEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	EvidenceID  string    `json:"evidence_id"`
	Action      string    `json:"action"`
	User        string    `json:"user"`
	Description string    `json:"description"`
	Signature   string    `json:"signature,omitempty"`
}

// Metadata is the record describing a stored artifact. The descriptive fields
// travel in the artifact's metadata side-channel and never change after the
// store; ChainOfCustody is kept in the artifact's custody record.
type Metadata struct {
	EvidenceID     string            `json:"evidence_id"`
	Timestamp      time.Time         `json:"timestamp"`
	Type           ArtifactType      `json:"type"`
	CaseID         string            `json:"caseId,omitempty"`
	Source         string            `json:"source,omitempty"`
	Description    string            `json:"description"`
	Tags           []string          `json:"tags"`
	ContentType    string            `json:"contentType,omitempty"`
	Size           int64             `json:"size"`
	IV             string            `json:"iv"`
	AuthTag        string            `json:"authTag"`
	Hash           Digests           `json:"hash"`
	ChainOfCustody []CustodyEntry    `json:"chainOfCustody,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// Clone returns a deep copy so callers cannot alias the stored chain
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	out := *m
	out.Tags = append([]string(nil), m.Tags...)
	out.ChainOfCustody = append([]CustodyEntry(nil), m.ChainOfCustody...)
	if m.Extra != nil {
		out.Extra = make(map[string]string, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return &out
}

// HasTag reports whether the metadata carries tag
func (m *Metadata) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// StorageKey derives the object key for an artifact: {type}/{evidence_id}
func StorageKey(prefix string, t ArtifactType, evidenceID string) string {
	return prefix + string(t) + "/" + evidenceID
}

// CustodySuffix marks the custody record stored next to each artifact
const CustodySuffix = ".custody"

// CustodyKey derives the key of the custody record of the artifact at key
func CustodyKey(artifactKey string) string {
	return artifactKey + CustodySuffix
}

// ArtifactRef identifies a stored artifact by its key alone
type ArtifactRef struct {
	EvidenceID string       `json:"evidence_id"`
	Type       ArtifactType `json:"type"`
	Key        string       `json:"key"`
}

// ParseStorageKey reverses StorageKey. Custody records and keys that are not
// {type}/{evidence_id} under prefix are rejected.
func ParseStorageKey(prefix, key string) (ArtifactRef, bool) {
	rest, ok := strings.CutPrefix(key, prefix)
	if !ok || strings.HasSuffix(rest, CustodySuffix) {
		return ArtifactRef{}, false
	}
	t, id, ok := strings.Cut(rest, "/")
	if !ok || id == "" || strings.Contains(id, "/") || !ArtifactType(t).Valid() {
		return ArtifactRef{}, false
	}
	return ArtifactRef{EvidenceID: id, Type: ArtifactType(t), Key: key}, true
}

// CustodyRecord is the persisted custody chain of one artifact
type CustodyRecord struct {
	EvidenceID     string         `json:"evidence_id"`
	ChainOfCustody []CustodyEntry `json:"chainOfCustody"`
}

// NormalizeTags trims, drops empties and de-duplicates while keeping order
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// StoreRequest carries the caller supplied metadata for a new artifact
type StoreRequest struct {
	EvidenceID  string            `json:"evidence_id,omitempty"`
	Type        ArtifactType      `json:"type"`
	CaseID      string            `json:"caseId,omitempty"`
	Source      string            `json:"source,omitempty"`
	Description string            `json:"description"`
	Tags        []string          `json:"tags,omitempty"`
	ContentType string            `json:"contentType,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// StoreResult is returned by a successful store
type StoreResult struct {
	EvidenceID string    `json:"evidence_id"`
	Key        string    `json:"key"`
	Metadata   *Metadata `json:"metadata"`
}

// RetrieveResult is returned by a successful retrieve.
// Data is nil when the plaintext was written to a caller supplied sink.
// CustodyRecorded is false when the RETRIEVE entry could not be persisted.
type RetrieveResult struct {
	EvidenceID      string    `json:"evidence_id"`
	Metadata        *Metadata `json:"metadata"`
	Data            []byte    `json:"-"`
	CustodyRecorded bool      `json:"custodyRecorded"`
}

// Filters narrows a metadata search. Zero values match everything.
type Filters struct {
	Type   ArtifactType `json:"type,omitempty"`
	CaseID string       `json:"caseId,omitempty"`
	Source string       `json:"source,omitempty"`
	// Tags matches when ANY of the listed tags is present
	Tags []string   `json:"tags,omitempty"`
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
	// Limit caps the sorted result set; 0 means unlimited
	Limit int `json:"limit,omitempty"`
}

// NeedsMetadata reports whether matching requires more than the key
func (f Filters) NeedsMetadata() bool {
	return f.CaseID != "" || f.Source != "" || len(f.Tags) > 0 || f.From != nil || f.To != nil
}

// Match applies every filter predicate to m. Both ends of the range are inclusive.
func (f Filters) Match(m *Metadata) bool {
	if m == nil {
		return false
	}
	if f.Type != "" && m.Type != f.Type {
		return false
	}
	if f.CaseID != "" && m.CaseID != f.CaseID {
		return false
	}
	if f.Source != "" && m.Source != f.Source {
		return false
	}
	if len(f.Tags) > 0 {
		found := false
		for _, t := range f.Tags {
			if m.HasTag(t) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.From != nil && m.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && m.Timestamp.After(*f.To) {
		return false
	}
	return true
}

// ArtifactSummary is the search projection of a metadata record
type ArtifactSummary struct {
	EvidenceID  string       `json:"evidence_id"`
	Key         string       `json:"key"`
	Timestamp   time.Time    `json:"timestamp"`
	Type        ArtifactType `json:"type"`
	CaseID      string       `json:"caseId,omitempty"`
	Source      string       `json:"source,omitempty"`
	Description string       `json:"description"`
	Tags        []string     `json:"tags"`
	Size        int64        `json:"size"`
}

// Summarize projects m into a search result row
func Summarize(key string, m *Metadata) ArtifactSummary {
	return ArtifactSummary{
		EvidenceID:  m.EvidenceID,
		Key:         key,
		Timestamp:   m.Timestamp,
		Type:        m.Type,
		CaseID:      m.CaseID,
		Source:      m.Source,
		Description: m.Description,
		Tags:        append([]string(nil), m.Tags...),
		Size:        m.Size,
	}
}

// SweepReport summarizes a custody verification sweep
type SweepReport struct {
	ProcessID   string            `json:"processId"`
	StartedAt   time.Time         `json:"startedAt"`
	CompletedAt time.Time         `json:"completedAt"`
	Checked     int               `json:"checked"`
	Valid       int               `json:"valid"`
	Compromised map[string]string `json:"compromised"` // evidence id -> reason
	Errored     map[string]string `json:"errored"`     // evidence id -> error
}
