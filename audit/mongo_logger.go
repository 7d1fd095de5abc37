package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/root-sector-ltd-and-co-kg/evidence-vault/interfaces"
	"github.com/root-sector-ltd-and-co-kg/evidence-vault/types"
)

// DefaultCollection is the collection audit events are written to
const DefaultCollection = "vault_audit_events"

// DefaultQueryLimit caps GetEvents when no limit filter is given
const DefaultQueryLimit = 500

// Filter keys accepted by MongoLogger.GetEvents besides the equality fields
const (
	FilterSince = "since" // time.Time, inclusive
	FilterUntil = "until" // time.Time, inclusive
	FilterLimit = "limit" // int
)

var equalityFilters = map[string]bool{
	"event_type":  true,
	"operation":   true,
	"status":      true,
	"evidence_id": true,
	"user":        true,
}

// MongoLogger implements interfaces.AuditLogger on a MongoDB collection
type MongoLogger struct {
	collection *mongo.Collection
	logger     zerolog.Logger
}

var _ interfaces.AuditLogger = (*MongoLogger)(nil)

// NewMongoLogger creates a MongoDB audit sink. An empty collection name uses
// DefaultCollection.
func NewMongoLogger(db *mongo.Database, collection string) *MongoLogger {
	if collection == "" {
		collection = DefaultCollection
	}
	return &MongoLogger{
		collection: db.Collection(collection),
		logger:     log.With().Str("component", "audit").Str("sink", "mongodb").Str("collection", collection).Logger(),
	}
}

// EnsureIndexes creates the indexes GetEvents relies on
func (l *MongoLogger) EnsureIndexes(ctx context.Context) error {
	_, err := l.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "evidence_id", Value: 1}, {Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "event_type", Value: 1}, {Key: "timestamp", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create audit indexes: %w", err)
	}
	return nil
}

// Printf logs through zerolog; free-form messages are not persisted
func (l *MongoLogger) Printf(format string, v ...interface{}) {
	l.logger.Info().Msgf(format, v...)
}

// LogEvent inserts an audit event
func (l *MongoLogger) LogEvent(ctx context.Context, event *types.AuditEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	Complete(ctx, event)

	if _, err := l.collection.InsertOne(ctx, event); err != nil {
		l.logger.Error().Err(err).Str("auditId", event.ID).Msg("Failed to persist audit event")
		return fmt.Errorf("failed to persist audit event: %w", err)
	}
	return nil
}

// GetEvents returns events matching filters, newest first
func (l *MongoLogger) GetEvents(ctx context.Context, filters map[string]interface{}) ([]*types.AuditEvent, error) {
	query, limit, err := BuildQuery(filters)
	if err != nil {
		return nil, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(limit)

	cursor, err := l.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var events []*types.AuditEvent
	if err := cursor.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("failed to decode audit events: %w", err)
	}
	return events, nil
}

// BuildQuery converts GetEvents filters into a MongoDB query and limit
func BuildQuery(filters map[string]interface{}) (bson.M, int64, error) {
	query := bson.M{}
	limit := int64(DefaultQueryLimit)
	timeRange := bson.M{}

	for k, v := range filters {
		switch {
		case equalityFilters[k]:
			s, ok := v.(string)
			if !ok {
				return nil, 0, fmt.Errorf("%w: audit filter %s must be a string", types.ErrValidation, k)
			}
			query[k] = s
		case k == FilterSince || k == FilterUntil:
			ts, ok := v.(time.Time)
			if !ok {
				return nil, 0, fmt.Errorf("%w: audit filter %s must be a time", types.ErrValidation, k)
			}
			if k == FilterSince {
				timeRange["$gte"] = ts
			} else {
				timeRange["$lte"] = ts
			}
		case k == FilterLimit:
			n, ok := v.(int)
			if !ok || n <= 0 {
				return nil, 0, fmt.Errorf("%w: audit filter limit must be a positive int", types.ErrValidation)
			}
			limit = int64(n)
		default:
			return nil, 0, fmt.Errorf("%w: unknown audit filter %q", types.ErrValidation, k)
		}
	}
	if len(timeRange) > 0 {
		query["timestamp"] = timeRange
	}
	return query, limit, nil
}
