// Package storetest provides a conformance suite that every store.Store
// implementation runs against itself.
//
// Usage from a backend's tests:
//
//	func TestConformance(t *testing.T) {
//		suite.Run(t, &storetest.Suite{
//			NewStore: func(t *testing.T) store.Store { return memory.New() },
//		})
//	}
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/rbaliyan/dropmail/store"
)

// Retention used by the suite's fixtures.
const Retention = 72 * time.Hour

// Base is the fixed instant fixtures are created at.
var Base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Suite exercises the store.Store contract. NewStore must return a fresh,
// empty, not yet connected store for every call.
type Suite struct {
	suite.Suite

	NewStore func(t *testing.T) store.Store

	ctx context.Context
	st  store.Store
}

// SetupTest connects a fresh store for each test.
func (s *Suite) SetupTest() {
	s.ctx = context.Background()
	s.st = s.NewStore(s.T())
	s.Require().NoError(s.st.Connect(s.ctx))
}

// TearDownTest closes the store.
func (s *Suite) TearDownTest() {
	if s.st != nil {
		s.NoError(s.st.Close(s.ctx))
	}
}

// Message builds a fixture message created at createdAt.
func Message(subject string, createdAt time.Time, to ...string) store.Message {
	return store.Message{
		Subject:   subject,
		From:      []string{"sender@example.com", "second@example.com"},
		To:        to,
		Text:      "text of " + subject,
		HTML:      "<p>" + subject + "</p>",
		CreatedAt: createdAt,
		ExpiresAt: createdAt.Add(Retention),
	}
}

func (s *Suite) insert(msg store.Message) string {
	id, err := s.st.Insert(s.ctx, msg, msg.To)
	s.Require().NoError(err)
	s.Require().NotEmpty(id)
	return id
}

func (s *Suite) list(addr string, now time.Time) []store.Summary {
	out, err := s.st.ListByAddress(s.ctx, addr, now)
	s.Require().NoError(err)
	s.Require().NotNil(out)
	return out
}

func (s *Suite) TestNotConnected() {
	st := s.NewStore(s.T())

	_, err := st.Insert(s.ctx, Message("x", Base, "a@x.test"), []string{"a@x.test"})
	s.ErrorIs(err, store.ErrNotConnected)

	_, err = st.ListByAddress(s.ctx, "a@x.test", Base)
	s.ErrorIs(err, store.ErrNotConnected)

	_, err = st.DeleteExpired(s.ctx, Base)
	s.ErrorIs(err, store.ErrNotConnected)
}

func (s *Suite) TestConnectTwice() {
	s.ErrorIs(s.st.Connect(s.ctx), store.ErrAlreadyConnected)
}

func (s *Suite) TestInsertFansOut() {
	to := []string{"a@x.test", "b@x.test", "c@x.test"}
	msgID := s.insert(Message("hello", Base, to...))
	now := Base.Add(time.Minute)

	seen := map[string]bool{}
	for _, addr := range to {
		got := s.list(addr, now)
		s.Require().Len(got, 1, addr)
		sum := got[0]
		s.Equal(msgID, sum.MessageID)
		s.Equal("hello", sum.Subject)
		s.Equal("sender@example.com", sum.From)
		s.Equal(to, sum.To)
		s.WithinDuration(Base, sum.CreatedAt, 0)
		s.WithinDuration(Base.Add(Retention), sum.ExpiresAt, 0)
		s.False(seen[sum.EntryID], "entry ids must be distinct")
		seen[sum.EntryID] = true
	}
	s.Empty(s.list("nobody@x.test", now))
}

func (s *Suite) TestInsertWithoutRecipients() {
	msg := Message("lonely", Base)
	id, err := s.st.Insert(s.ctx, msg, nil)
	s.Require().NoError(err)
	s.NotEmpty(id)

	n, err := s.st.DeleteExpired(s.ctx, Base.Add(Retention))
	s.Require().NoError(err)
	s.EqualValues(1, n)
}

func (s *Suite) TestListOrdering() {
	addr := "order@x.test"
	s.insert(Message("first", Base, addr))
	s.insert(Message("third", Base.Add(2*time.Second), addr))
	s.insert(Message("second", Base.Add(time.Second), addr))

	got := s.list(addr, Base.Add(time.Hour))
	s.Require().Len(got, 3)
	s.Equal("third", got[0].Subject)
	s.Equal("second", got[1].Subject)
	s.Equal("first", got[2].Subject)
}

func (s *Suite) TestListTieBreakIsStable() {
	addr := "tie@x.test"
	for i := 0; i < 4; i++ {
		s.insert(Message(fmt.Sprintf("m%d", i), Base, addr))
	}
	now := Base.Add(time.Hour)

	first := s.list(addr, now)
	s.Require().Len(first, 4)
	for i := 1; i < len(first); i++ {
		s.Less(first[i-1].EntryID, first[i].EntryID)
	}
	s.Equal(first, s.list(addr, now))
}

func (s *Suite) TestListExcludesExpired() {
	addr := "exp@x.test"
	s.insert(Message("old", Base, addr))
	s.insert(Message("new", Base.Add(time.Hour), addr))

	// ExpiresAt == now is already expired.
	got := s.list(addr, Base.Add(Retention))
	s.Require().Len(got, 1)
	s.Equal("new", got[0].Subject)

	got = s.list(addr, Base.Add(Retention).Add(-time.Millisecond))
	s.Len(got, 2)
}

func (s *Suite) TestListEmpty() {
	got := s.list("empty@x.test", Base)
	s.Empty(got)
}

func (s *Suite) TestGetByEntryID() {
	addr := "get@x.test"
	s.insert(Message("detail", Base, addr))
	now := Base.Add(time.Minute)
	entryID := s.list(addr, now)[0].EntryID

	d, err := s.st.GetByEntryID(s.ctx, entryID, now)
	s.Require().NoError(err)
	s.Equal(entryID, d.EntryID)
	s.Equal("detail", d.Subject)
	s.Equal("text of detail", d.Text)
	s.Equal("<p>detail</p>", d.HTML)
	s.Equal("sender@example.com", d.From)

	_, err = s.st.GetByEntryID(s.ctx, entryID, Base.Add(Retention))
	s.ErrorIs(err, store.ErrNotFound)

	_, err = s.st.GetByEntryID(s.ctx, "00000000-0000-0000-0000-000000000000", now)
	s.ErrorIs(err, store.ErrNotFound)

	_, err = s.st.GetByEntryID(s.ctx, "not a valid id", now)
	s.ErrorIs(err, store.ErrNotFound)
}

func (s *Suite) TestOptionalBodies() {
	msg := Message("plain", Base, "plain@x.test")
	msg.HTML = ""
	msg.From = nil
	s.insert(msg)
	now := Base.Add(time.Minute)

	entryID := s.list("plain@x.test", now)[0].EntryID
	d, err := s.st.GetByEntryID(s.ctx, entryID, now)
	s.Require().NoError(err)
	s.Empty(d.HTML)
	s.Empty(d.From)
	s.Equal("text of plain", d.Text)
}

func (s *Suite) TestDeleteEntry() {
	s.insert(Message("shared", Base, "a@x.test", "b@x.test"))
	now := Base.Add(time.Minute)
	a := s.list("a@x.test", now)[0]
	b := s.list("b@x.test", now)[0]

	ok, err := s.st.DeleteEntry(s.ctx, a.EntryID)
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.st.DeleteEntry(s.ctx, a.EntryID)
	s.Require().NoError(err)
	s.False(ok)

	ok, err = s.st.DeleteEntry(s.ctx, "not a valid id")
	s.Require().NoError(err)
	s.False(ok)

	s.Empty(s.list("a@x.test", now))
	got, err := s.st.GetByEntryID(s.ctx, b.EntryID, now)
	s.Require().NoError(err)
	s.Equal("shared", got.Subject)
}

func (s *Suite) TestSweep() {
	s.insert(Message("stale", Base, "a@x.test", "b@x.test"))
	s.insert(Message("fresh", Base.Add(48*time.Hour), "a@x.test"))
	now := Base.Add(Retention)

	n, err := s.st.DeleteExpired(s.ctx, now)
	s.Require().NoError(err)
	s.EqualValues(1, n)

	n, err = s.st.DeleteOrphans(s.ctx, now)
	s.Require().NoError(err)
	s.EqualValues(2, n)

	n, err = s.st.DeleteExpired(s.ctx, now)
	s.Require().NoError(err)
	s.Zero(n)
	n, err = s.st.DeleteOrphans(s.ctx, now)
	s.Require().NoError(err)
	s.Zero(n)

	got := s.list("a@x.test", now)
	s.Require().Len(got, 1)
	s.Equal("fresh", got[0].Subject)
	s.Empty(s.list("b@x.test", now))
}

func (s *Suite) TestDeleteOrphansRespectsCutoff() {
	s.insert(Message("gone", Base, "a@x.test"))
	_, err := s.st.DeleteExpired(s.ctx, Base.Add(Retention))
	s.Require().NoError(err)

	n, err := s.st.DeleteOrphans(s.ctx, Base.Add(-time.Millisecond))
	s.Require().NoError(err)
	s.Zero(n)

	n, err = s.st.DeleteOrphans(s.ctx, Base)
	s.Require().NoError(err)
	s.EqualValues(1, n)
}

func (s *Suite) TestConcurrentInserts() {
	const workers = 8
	addr := "busy@x.test"

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := Message(fmt.Sprintf("c%d", i), Base.Add(time.Duration(i)*time.Second), addr)
			if _, err := s.st.Insert(s.ctx, msg, msg.To); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.Require().NoError(err)
	}

	got := s.list(addr, Base.Add(time.Hour))
	s.Len(got, workers)
}
