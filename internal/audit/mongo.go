package audit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	serviceName       = "checkout-service"
	DefaultCollection = "audit_logs"
	connectTimeout    = 10 * time.Second
)

type Config struct {
	URI        string
	Database   string
	Collection string
}

// Entry is one audit log document.
type Entry struct {
	ID        string    `bson:"_id,omitempty"`
	Service   string    `bson:"service"`
	Action    string    `bson:"action"`
	EntityID  string    `bson:"entity_id"`
	Data      bson.M    `bson:"data"`
	CreatedAt time.Time `bson:"created_at"`
}

type MongoRecorder struct {
	client     *mongo.Client
	collection *mongo.Collection
	now        func() time.Time
}

func NewMongoRecorder(ctx context.Context, cfg Config) (*MongoRecorder, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("audit: failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("audit: failed to ping mongo: %w", err)
	}

	collection := cfg.Collection
	if collection == "" {
		collection = DefaultCollection
	}

	log.Info().Str("database", cfg.Database).Str("collection", collection).Msg("Connected to MongoDB audit store")
	return &MongoRecorder{
		client:     client,
		collection: client.Database(cfg.Database).Collection(collection),
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// Record stores one audit entry for an order.
func (m *MongoRecorder) Record(ctx context.Context, action string, orderID int64, data map[string]any) error {
	entry := newEntry(action, orderID, data, m.now())
	if _, err := m.collection.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("audit: failed to insert entry: %w", err)
	}
	return nil
}

// History returns the newest entries for an order first.
func (m *MongoRecorder) History(ctx context.Context, orderID int64, limit int64) ([]Entry, error) {
	filter := bson.M{"entity_id": strconv.FormatInt(orderID, 10)}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit)

	cursor, err := m.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to query entries: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []Entry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("audit: failed to decode entries: %w", err)
	}
	return entries, nil
}

func (m *MongoRecorder) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func (m *MongoRecorder) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func newEntry(action string, orderID int64, data map[string]any, at time.Time) *Entry {
	doc := bson.M{}
	for k, v := range data {
		doc[k] = v
	}
	return &Entry{
		Service:   serviceName,
		Action:    action,
		EntityID:  strconv.FormatInt(orderID, 10),
		Data:      doc,
		CreatedAt: at,
	}
}

// LogRecorder writes audit entries to the application log. It is used when
// no MongoDB URI is configured.
type LogRecorder struct{}

func (LogRecorder) Record(ctx context.Context, action string, orderID int64, data map[string]any) error {
	log.Info().Str("action", action).Int64("order_id", orderID).Fields(data).Msg("audit: order event")
	return nil
}
