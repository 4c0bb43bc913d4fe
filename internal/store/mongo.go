// ABOUTME: MongoDB implementation of Store using one collection per topic
// ABOUTME: Reads and writes the existing threads{topic} document layout keyed by userId

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// DefaultMongoDatabase is used when no database name is configured
const DefaultMongoDatabase = "interactive-networks-textbook"

// mongoThread is the persisted document shape. Field names match documents
// written before the bootstrap flag was renamed, so existing data loads as-is.
type mongoThread struct {
	UserID            string         `bson:"userId"`
	ThreadID          string         `bson:"threadId"`
	Messages          []mongoMessage `bson:"messages"`
	HasInitialMessage bool           `bson:"hasInitialMessage"`
	CreatedAt         time.Time      `bson:"createdAt,omitempty"`
	UpdatedAt         time.Time      `bson:"updatedAt,omitempty"`
}

type mongoMessage struct {
	ID               string    `bson:"id,omitempty"`
	Role             string    `bson:"role"`
	Content          string    `bson:"content"`
	Timestamp        time.Time `bson:"timestamp"`
	IsInitialMessage bool      `bson:"isInitialMessage,omitempty"`
}

// MongoStore implements Store on MongoDB
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	logger *slog.Logger

	// collections caches per-topic handles and records which ones have their index ensured
	collections sync.Map // topic -> *mongo.Collection

	ensureIndex func(ctx context.Context, coll *mongo.Collection) error
}

// NewMongoStore connects to MongoDB and verifies the connection.
// The returned store owns the client for the life of the process.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	if database == "" {
		database = DefaultMongoDatabase
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}

	logger := slog.Default().With("component", "store")
	logger.Info("Mongo store initialized", "database", database)
	return &MongoStore{
		client:      client,
		db:          client.Database(database),
		logger:      logger,
		ensureIndex: ensureUserIndex,
	}, nil
}

// CollectionName returns the collection holding records for topic
func CollectionName(topic string) string {
	return "threads" + topic
}

func (s *MongoStore) collection(ctx context.Context, topic string) (*mongo.Collection, error) {
	if c, ok := s.collections.Load(topic); ok {
		return c.(*mongo.Collection), nil
	}

	coll := s.db.Collection(CollectionName(topic))
	if err := s.ensureIndex(ctx, coll); err != nil {
		if !mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("ensuring userId index: %w", err)
		}
		// Older collections can hold duplicate userId documents from racing
		// first contacts. Lookups still resolve one of them.
		s.logger.Warn("collection has duplicate userId documents, continuing without unique index",
			"collection", coll.Name(),
			"error", err,
		)
	}

	actual, _ := s.collections.LoadOrStore(topic, coll)
	return actual.(*mongo.Collection), nil
}

func ensureUserIndex(ctx context.Context, coll *mongo.Collection) error {
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "userId", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

// GetThread loads the document for userID from the topic's collection
func (s *MongoStore) GetThread(ctx context.Context, topic, userID string) (*ThreadRecord, error) {
	coll, err := s.collection(ctx, topic)
	if err != nil {
		return nil, err
	}

	var doc mongoThread
	err = coll.FindOne(ctx, bson.M{"userId": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding thread: %w", err)
	}
	return doc.toRecord(topic), nil
}

// CreateThread inserts a new document. The unique userId index rejects
// duplicates on collections where it could be built.
func (s *MongoStore) CreateThread(ctx context.Context, rec *ThreadRecord) error {
	coll, err := s.collection(ctx, rec.Topic)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = rec.CreatedAt

	_, err = coll.InsertOne(ctx, mongoThread{
		UserID:            rec.UserID,
		ThreadID:          rec.ThreadID,
		Messages:          []mongoMessage{},
		HasInitialMessage: rec.BootstrapCompleted,
		CreatedAt:         rec.CreatedAt,
		UpdatedAt:         rec.UpdatedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateThread
	}
	if err != nil {
		return fmt.Errorf("inserting thread: %w", err)
	}
	return nil
}

// AppendMessage pushes msg in a single update whose filter excludes documents
// already holding a message with the same role and content.
func (s *MongoStore) AppendMessage(ctx context.Context, topic, userID string, msg *Message) (bool, error) {
	if err := validateMessage(msg); err != nil {
		return false, err
	}
	coll, err := s.collection(ctx, topic)
	if err != nil {
		return false, err
	}

	filter := bson.M{
		"userId": userID,
		"messages": bson.M{"$not": bson.M{"$elemMatch": bson.M{
			"role":    string(msg.Role),
			"content": msg.Content,
		}}},
	}
	update := bson.M{
		"$push": bson.M{"messages": mongoMessage{
			ID:               msg.ID,
			Role:             string(msg.Role),
			Content:          msg.Content,
			Timestamp:        msg.Timestamp,
			IsInitialMessage: msg.IsBootstrap,
		}},
		"$set": bson.M{"updatedAt": msg.Timestamp},
	}

	res, err := coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("appending message: %w", err)
	}
	if res.MatchedCount > 0 {
		return true, nil
	}

	n, err := coll.CountDocuments(ctx, bson.M{"userId": userID}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("counting threads: %w", err)
	}
	if n == 0 {
		return false, ErrNotFound
	}
	return false, nil
}

// MarkBootstrapped sets hasInitialMessage on the user's document
func (s *MongoStore) MarkBootstrapped(ctx context.Context, topic, userID string) error {
	coll, err := s.collection(ctx, topic)
	if err != nil {
		return err
	}
	res, err := coll.UpdateOne(ctx,
		bson.M{"userId": userID},
		bson.M{"$set": bson.M{"hasInitialMessage": true, "updatedAt": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("updating thread: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks connectivity to the primary
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (d *mongoThread) toRecord(topic string) *ThreadRecord {
	rec := &ThreadRecord{
		Topic:              topic,
		UserID:             d.UserID,
		ThreadID:           d.ThreadID,
		BootstrapCompleted: d.HasInitialMessage,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
		Messages:           make([]Message, 0, len(d.Messages)),
	}
	for _, m := range d.Messages {
		rec.Messages = append(rec.Messages, Message{
			ID:          m.ID,
			Role:        Role(m.Role),
			Content:     m.Content,
			Timestamp:   m.Timestamp,
			IsBootstrap: m.IsInitialMessage,
		})
	}
	return rec
}

var _ Store = (*MongoStore)(nil)
