// Package mongo provides a MongoDB implementation of store.Store.
//
// Messages live in one collection and inbox entries in another. Reads join
// them server-side with $lookup, so a listing is a single round trip.
package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/rbaliyan/dropmail/store"
)

// Store implements store.Store using MongoDB.
type Store struct {
	client    *mongo.Client
	db        *mongo.Database
	emails    *mongo.Collection
	inboxes   *mongo.Collection
	opts      *options
	connected int32
	logger    *slog.Logger
}

// New creates a new MongoDB store with the provided client.
// Call Connect() to initialize the collections and indexes.
func New(client *mongo.Client, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		client: client,
		opts:   o,
		logger: o.logger,
	}
}

// Connection states.
const (
	stateDisconnected int32 = 0
	stateConnected    int32 = 1
	stateConnecting   int32 = 2
)

// Connect initializes the database, collections, and indexes.
func (s *Store) Connect(ctx context.Context) error {
	// Claim the store before any I/O so concurrent callers fail fast.
	if !atomic.CompareAndSwapInt32(&s.connected, stateDisconnected, stateConnecting) {
		return store.ErrAlreadyConnected
	}
	success := false
	defer func() {
		if success {
			atomic.StoreInt32(&s.connected, stateConnected)
		} else {
			atomic.StoreInt32(&s.connected, stateDisconnected)
		}
	}()

	if s.client == nil {
		return fmt.Errorf("mongo: client is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("mongo ping: %w", err)
	}

	s.db = s.client.Database(s.opts.database)
	s.emails = s.db.Collection(s.opts.emailsCollection)
	s.inboxes = s.db.Collection(s.opts.inboxesCollection)

	if err := s.ensureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}

	success = true
	s.logger.Info("connected to MongoDB", "database", s.opts.database,
		"emails", s.opts.emailsCollection, "inboxes", s.opts.inboxesCollection)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the MongoDB client.
func (s *Store) Close(ctx context.Context) error {
	atomic.CompareAndSwapInt32(&s.connected, stateConnected, stateDisconnected)
	return nil
}

func (s *Store) isConnected() bool {
	return atomic.LoadInt32(&s.connected) == stateConnected
}

// ensureIndexes creates required indexes.
func (s *Store) ensureIndexes(ctx context.Context) error {
	inboxIndexes := []mongo.IndexModel{
		// Listing: match on address, newest first
		{Keys: bson.D{
			bson.E{Key: "address", Value: 1},
			bson.E{Key: "created_at", Value: -1},
		}},
		// $lookup back-reference and orphan sweep
		{Keys: bson.D{bson.E{Key: "email_id", Value: 1}}},
		{Keys: bson.D{bson.E{Key: "created_at", Value: 1}}},
	}
	if _, err := s.inboxes.Indexes().CreateMany(ctx, inboxIndexes); err != nil {
		return fmt.Errorf("inboxes: %w", err)
	}

	emailIndexes := []mongo.IndexModel{
		// Expiry sweep
		{Keys: bson.D{bson.E{Key: "expires_at", Value: 1}}},
	}
	if _, err := s.emails.Indexes().CreateMany(ctx, emailIndexes); err != nil {
		return fmt.Errorf("emails: %w", err)
	}
	return nil
}

// =============================================================================
// Maintenance Operations
// =============================================================================

// DeleteExpired atomically deletes all messages with expires_at <= now.
//
// Safe to call concurrently from multiple instances - DeleteMany is atomic
// per document, so each message is deleted exactly once.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if !s.isConnected() {
		return 0, store.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	result, err := s.emails.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": now}})
	if err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}
	return result.DeletedCount, nil
}

// DeleteOrphans deletes entries created at or before cutoff whose message is
// gone. Candidates are found with $lookup and removed in batches by _id.
// Message IDs are never reused, so an entry that is an orphan stays one.
func (s *Store) DeleteOrphans(ctx context.Context, cutoff time.Time) (int64, error) {
	if !s.isConnected() {
		return 0, store.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	cursor, err := s.inboxes.Aggregate(ctx, orphanPipeline(s.opts.emailsCollection, cutoff))
	if err != nil {
		return 0, fmt.Errorf("find orphans: %w", err)
	}
	defer cursor.Close(ctx)

	var (
		deleted int64
		batch   = make([]string, 0, s.opts.orphanBatchSize)
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		result, err := s.inboxes.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": batch}})
		if err != nil {
			return fmt.Errorf("delete orphans: %w", err)
		}
		deleted += result.DeletedCount
		batch = batch[:0]
		return nil
	}

	for cursor.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return deleted, fmt.Errorf("decode orphan: %w", err)
		}
		batch = append(batch, doc.ID)
		if len(batch) >= s.opts.orphanBatchSize {
			if err := flush(); err != nil {
				return deleted, err
			}
		}
	}
	if err := cursor.Err(); err != nil {
		return deleted, fmt.Errorf("iterate orphans: %w", err)
	}
	if err := flush(); err != nil {
		return deleted, err
	}
	return deleted, nil
}

// Compile-time check
var _ store.Store = (*Store)(nil)
