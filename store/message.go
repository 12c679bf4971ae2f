package store

import (
	"sort"
	"time"
)

// Message is a delivered email. Messages are immutable once created.
type Message struct {
	ID        string
	Subject   string
	From      []string
	To        []string
	Text      string
	HTML      string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the message is no longer visible at now.
func (m Message) Expired(now time.Time) bool {
	return !m.ExpiresAt.After(now)
}

// InboxEntry is one recipient's view onto a Message.
type InboxEntry struct {
	ID        string
	MessageID string
	Address   string
	CreatedAt time.Time
}

// Summary is an inbox entry joined with its message, without bodies.
type Summary struct {
	EntryID   string    `json:"id"`
	MessageID string    `json:"messageId"`
	Subject   string    `json:"subject"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	// From is the first sender, or "" if the message had none.
	From string   `json:"fromAddress"`
	To   []string `json:"toAddress"`
}

// Detail is a Summary plus the message bodies.
type Detail struct {
	Summary
	Text string `json:"textContent,omitempty"`
	HTML string `json:"htmlContent,omitempty"`
}

// NewSummary joins an entry with its message.
func NewSummary(e InboxEntry, m Message) Summary {
	s := Summary{
		EntryID:   e.ID,
		MessageID: m.ID,
		Subject:   m.Subject,
		CreatedAt: m.CreatedAt,
		ExpiresAt: m.ExpiresAt,
		To:        append([]string(nil), m.To...),
	}
	if len(m.From) > 0 {
		s.From = m.From[0]
	}
	if s.To == nil {
		s.To = []string{}
	}
	return s
}

// NewDetail joins an entry with its message, including bodies.
func NewDetail(e InboxEntry, m Message) *Detail {
	return &Detail{Summary: NewSummary(e, m), Text: m.Text, HTML: m.HTML}
}

// SortSummaries orders summaries newest first, ties broken by entry ID.
// Backends that cannot sort server-side use this to meet the listing order.
func SortSummaries(s []Summary) {
	sort.SliceStable(s, func(i, j int) bool {
		if !s[i].CreatedAt.Equal(s[j].CreatedAt) {
			return s[i].CreatedAt.After(s[j].CreatedAt)
		}
		return s[i].EntryID < s[j].EntryID
	})
}
