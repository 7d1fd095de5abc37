package types

import "testing"

func TestParseStorageKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want ArtifactRef
		ok   bool
	}{
		{name: "Artifact", key: "evidence/log/e1", want: ArtifactRef{EvidenceID: "e1", Type: ArtifactLog, Key: "evidence/log/e1"}, ok: true},
		{name: "Custody Record", key: CustodyKey("evidence/log/e1")},
		{name: "Foreign Prefix", key: "backups/log/e1"},
		{name: "Unknown Type", key: "evidence/floppy/e1"},
		{name: "Nested", key: "evidence/log/a/b"},
		{name: "No Id", key: "evidence/log/"},
		{name: "Type Only", key: "evidence/log"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseStorageKey("evidence/", tt.key)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ParseStorageKey(%q) = %+v, %v, want %+v, %v", tt.key, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestCustodyKey(t *testing.T) {
	if got := CustodyKey("evidence/pcap/e1"); got != "evidence/pcap/e1.custody" {
		t.Errorf("CustodyKey = %q", got)
	}
}

func TestFiltersNeedMetadata(t *testing.T) {
	if (Filters{Type: ArtifactLog, Limit: 3}).NeedsMetadata() {
		t.Error("type and limit are answered from keys")
	}
	if !(Filters{CaseID: "IR-1"}).NeedsMetadata() {
		t.Error("case filter needs metadata")
	}
}
