package mongo

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/rbaliyan/dropmail/store"
)

// emailDoc is the BSON shape of a message.
type emailDoc struct {
	ID        bson.ObjectID `bson:"_id,omitempty"`
	Subject   string        `bson:"subject"`
	From      []string      `bson:"from"`
	To        []string      `bson:"to"`
	Text      string        `bson:"text_content,omitempty"`
	HTML      string        `bson:"html_content,omitempty"`
	CreatedAt time.Time     `bson:"created_at"`
	ExpiresAt time.Time     `bson:"expires_at"`
}

// inboxDoc is the BSON shape of an inbox entry.
type inboxDoc struct {
	ID        string        `bson:"_id"`
	EmailID   bson.ObjectID `bson:"email_id"`
	Address   string        `bson:"address"`
	CreatedAt time.Time     `bson:"created_at"`
}

// joinedDoc is the projection produced by the read pipelines.
type joinedDoc struct {
	ID        string        `bson:"_id"`
	EmailID   bson.ObjectID `bson:"email_id"`
	Subject   string        `bson:"subject"`
	CreatedAt time.Time     `bson:"created_at"`
	ExpiresAt time.Time     `bson:"expires_at"`
	From      string        `bson:"from,omitempty"`
	To        []string      `bson:"to"`
	Text      string        `bson:"text_content,omitempty"`
	HTML      string        `bson:"html_content,omitempty"`
}

func toEmailDoc(m store.Message) *emailDoc {
	from := m.From
	if from == nil {
		from = []string{}
	}
	to := m.To
	if to == nil {
		to = []string{}
	}
	return &emailDoc{
		ID:        bson.NewObjectID(),
		Subject:   m.Subject,
		From:      from,
		To:        to,
		Text:      m.Text,
		HTML:      m.HTML,
		CreatedAt: m.CreatedAt.UTC(),
		ExpiresAt: m.ExpiresAt.UTC(),
	}
}

func (d *joinedDoc) summary() store.Summary {
	to := d.To
	if to == nil {
		to = []string{}
	}
	return store.Summary{
		EntryID:   d.ID,
		MessageID: d.EmailID.Hex(),
		Subject:   d.Subject,
		CreatedAt: d.CreatedAt,
		ExpiresAt: d.ExpiresAt,
		From:      d.From,
		To:        to,
	}
}

func (d *joinedDoc) detail() *store.Detail {
	return &store.Detail{Summary: d.summary(), Text: d.Text, HTML: d.HTML}
}
