// Package cached provides a Redis read-through cache for single-entry lookups.
//
// Entries and messages are immutable, so a cached Detail only goes stale when
// the entry is deleted or the message expires. DeleteEntry leaves a
// tombstone and invalidates the key, and cached details are re-checked
// against expiry on every hit, so the cache never serves something the
// backend would not.
//
// Redis failures are logged and the call falls through to the backend.
package cached

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rbaliyan/dropmail/store"
)

// Store wraps a store.Store with a Redis cache in front of GetByEntryID.
type Store struct {
	store.Store
	client redis.Cmdable
	opts   *options
	logger *slog.Logger
}

// Ensure Store implements store.Store.
var _ store.Store = (*Store)(nil)

// New creates a cached store wrapping backend.
func New(backend store.Store, client redis.Cmdable, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		Store:  backend,
		client: client,
		opts:   o,
		logger: o.logger,
	}
}

func (s *Store) key(entryID string) string {
	return s.opts.keyPrefix + entryID
}

// tombstone marks entryID as deleted. Entry IDs are never reused, so a
// tombstone only needs to outlive reads that started before the delete.
func (s *Store) tombstone(entryID string) string {
	return s.opts.keyPrefix + entryID + ":deleted"
}

// GetByEntryID returns the entry from Redis when cached and still visible,
// otherwise loads it from the backend and caches it.
func (s *Store) GetByEntryID(ctx context.Context, entryID string, now time.Time) (*store.Detail, error) {
	key, tomb := s.key(entryID), s.tombstone(entryID)

	vals, err := s.client.MGet(ctx, key, tomb).Result()
	if err == nil && len(vals) == 2 {
		if vals[1] != nil {
			return nil, store.ErrNotFound
		}
		if raw, ok := vals[0].(string); ok {
			var d store.Detail
			if jerr := json.Unmarshal([]byte(raw), &d); jerr == nil {
				if !d.ExpiresAt.After(now) {
					return nil, store.ErrNotFound
				}
				s.logger.Debug("cache hit", "entry_id", entryID)
				return &d, nil
			}
			s.logger.Warn("dropping undecodable cache entry", "entry_id", entryID)
			s.client.Del(ctx, key)
		}
	} else if err != nil {
		s.logger.Warn("cache get failed", "entry_id", entryID, "error", err)
	}

	d, err := s.Store.GetByEntryID(ctx, entryID, now)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, entryID, d, now)
	return d, nil
}

// fill caches d. A delete can land between the backend read and the SET, so
// the tombstone is checked after writing and the key removed if it exists.
func (s *Store) fill(ctx context.Context, entryID string, d *store.Detail, now time.Time) {
	ttl := d.ExpiresAt.Sub(now)
	if ttl > s.opts.ttl {
		ttl = s.opts.ttl
	}
	raw, err := json.Marshal(d)
	if err != nil || ttl <= 0 {
		return
	}
	key := s.key(entryID)
	if err := s.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		s.logger.Warn("cache set failed", "entry_id", entryID, "error", err)
		return
	}
	n, err := s.client.Exists(ctx, s.tombstone(entryID)).Result()
	if err != nil || n > 0 {
		s.client.Del(ctx, key)
	}
}

// DeleteEntry deletes the entry from the backend, then writes a tombstone
// and invalidates the cached copy. The tombstone is written before the key
// is removed so a concurrent fill always sees one of the two.
func (s *Store) DeleteEntry(ctx context.Context, entryID string) (bool, error) {
	deleted, err := s.Store.DeleteEntry(ctx, entryID)
	if err != nil || !deleted {
		return deleted, err
	}
	if err := s.client.Set(ctx, s.tombstone(entryID), 1, s.opts.ttl).Err(); err != nil {
		s.logger.Warn("cache tombstone failed", "entry_id", entryID, "error", err)
	}
	if err := s.client.Del(ctx, s.key(entryID)).Err(); err != nil {
		s.logger.Warn("cache delete failed", "entry_id", entryID, "error", err)
	}
	return true, nil
}
