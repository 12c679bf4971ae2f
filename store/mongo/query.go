package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/rbaliyan/dropmail/store"
)

// joinStages joins inbox entries to their email and drops entries whose
// email is missing or expired at now.
func joinStages(emails string, now time.Time) bson.A {
	return bson.A{
		bson.M{"$lookup": bson.M{
			"from":         emails,
			"localField":   "email_id",
			"foreignField": "_id",
			"as":           "email",
		}},
		// $unwind drops entries with no matching email
		bson.M{"$unwind": "$email"},
		bson.M{"$match": bson.M{"email.expires_at": bson.M{"$gt": now}}},
	}
}

func projectStage(withBodies bool) bson.M {
	p := bson.M{
		"_id":        1,
		"email_id":   1,
		"subject":    "$email.subject",
		"created_at": "$email.created_at",
		"expires_at": "$email.expires_at",
		"from":       bson.M{"$arrayElemAt": bson.A{"$email.from", 0}},
		"to":         "$email.to",
	}
	if withBodies {
		p["text_content"] = "$email.text_content"
		p["html_content"] = "$email.html_content"
	}
	return bson.M{"$project": p}
}

// listPipeline builds the per-address listing: newest first, ties by entry ID.
func listPipeline(emails, address string, now time.Time) bson.A {
	p := bson.A{bson.M{"$match": bson.M{"address": address}}}
	p = append(p, joinStages(emails, now)...)
	p = append(p,
		bson.M{"$sort": bson.D{
			bson.E{Key: "email.created_at", Value: -1},
			bson.E{Key: "_id", Value: 1},
		}},
		projectStage(false),
	)
	return p
}

// detailPipeline builds the single-entry lookup.
func detailPipeline(emails, entryID string, now time.Time) bson.A {
	p := bson.A{bson.M{"$match": bson.M{"_id": entryID}}}
	p = append(p, joinStages(emails, now)...)
	p = append(p, bson.M{"$limit": 1}, projectStage(true))
	return p
}

// orphanPipeline finds entries created at or before cutoff with no email.
func orphanPipeline(emails string, cutoff time.Time) bson.A {
	return bson.A{
		bson.M{"$match": bson.M{"created_at": bson.M{"$lte": cutoff}}},
		bson.M{"$lookup": bson.M{
			"from":         emails,
			"localField":   "email_id",
			"foreignField": "_id",
			"as":           "email",
		}},
		bson.M{"$match": bson.M{"email": bson.M{"$size": 0}}},
		bson.M{"$project": bson.M{"_id": 1}},
	}
}

// ListByAddress returns the visible entries for address, newest first.
func (s *Store) ListByAddress(ctx context.Context, address string, now time.Time) ([]store.Summary, error) {
	if !s.isConnected() {
		return nil, store.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	cursor, err := s.inboxes.Aggregate(ctx, listPipeline(s.opts.emailsCollection, address, now))
	if err != nil {
		return nil, fmt.Errorf("list by address: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []joinedDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode inboxes: %w", err)
	}

	out := make([]store.Summary, len(docs))
	for i := range docs {
		out[i] = docs[i].summary()
	}
	return out, nil
}

// GetByEntryID returns one visible entry with its message bodies.
func (s *Store) GetByEntryID(ctx context.Context, entryID string, now time.Time) (*store.Detail, error) {
	if !s.isConnected() {
		return nil, store.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	cursor, err := s.inboxes.Aggregate(ctx, detailPipeline(s.opts.emailsCollection, entryID, now))
	if err != nil {
		return nil, fmt.Errorf("get inbox: %w", err)
	}
	defer cursor.Close(ctx)

	if !cursor.Next(ctx) {
		if err := cursor.Err(); err != nil {
			return nil, fmt.Errorf("get inbox: %w", err)
		}
		return nil, store.ErrNotFound
	}
	var doc joinedDoc
	if err := cursor.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode inbox: %w", err)
	}
	return doc.detail(), nil
}

// DeleteEntry removes one inbox entry. The email document is left in place.
func (s *Store) DeleteEntry(ctx context.Context, entryID string) (bool, error) {
	if !s.isConnected() {
		return false, store.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	result, err := s.inboxes.DeleteOne(ctx, bson.M{"_id": entryID})
	if err != nil {
		return false, fmt.Errorf("delete inbox: %w", err)
	}
	return result.DeletedCount > 0, nil
}
