package audit

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

// Context keys for vault operations
const (
	KeyEvidenceID   ContextKey = "evidenceId"   // Artifact identifier
	KeyArtifactType ContextKey = "artifactType" // Closed-set artifact type
	KeyCaseID       ContextKey = "caseId"       // Incident or case reference
	KeyStorageKey   ContextKey = "storageKey"   // Object key in the backing store
	KeyAction       ContextKey = "action"       // Custody action
	KeyError        ContextKey = "error"        // Error message if operation failed
	KeyIncident     ContextKey = "incident"     // Integrity incident kind

	// Caller context keys
	KeyUser      ContextKey = "user"      // Acting analyst or service
	KeyRequestID ContextKey = "requestId" // Correlation id from the caller
	KeyOperation ContextKey = "operation" // Operation being performed
)

// contextKeys lists the keys copied from a context.Context into an event
var contextKeys = []ContextKey{
	KeyEvidenceID,
	KeyArtifactType,
	KeyCaseID,
	KeyUser,
	KeyRequestID,
	KeyOperation,
}
