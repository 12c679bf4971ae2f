// Package dropmail provides storage for a disposable email service.
//
// Inbound emails are stored once and fanned out to one inbox entry per
// recipient address. Entries can be listed per address and fetched by id
// until the email expires, after which they disappear from every read and
// are physically removed by a background reaper. Storage backends are
// pluggable (MongoDB, PostgreSQL, SQLite, in-memory) and can be wrapped by a
// Redis read cache.
//
// # Basic Usage
//
//	svc, err := dropmail.NewService(
//	    dropmail.WithStore(memory.New()),
//	    dropmail.WithRetention(72*time.Hour),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Connect initializes indexes/schema and starts the reaper
//	if err := svc.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close(ctx)
//
//	id, err := svc.InsertEmail(ctx, dropmail.Email{
//	    Subject: "Welcome",
//	    From:    []dropmail.Address{{Address: "noreply@example.com"}},
//	    To:      []dropmail.Address{{Address: "Alice@Drop.Test"}},
//	    Text:    "hello",
//	})
//
//	inbox, err := svc.GetEmailsForAddress(ctx, "alice@drop.test")
//	detail, err := svc.GetInboxByID(ctx, inbox[0].EntryID)
//
// Raw RFC 5322 messages can be turned into an Email with the content package.
//
// # Expiry
//
// Every email expires retention after it was inserted. Reads hide expired
// entries immediately, whether or not the reaper has run. The reaper runs
// every WithSweepInterval and, with probability WithSweepProbability, after
// an insert. Sweep runs it on demand. Deleting an entry with DeleteInbox
// never deletes the shared message.
//
// # Storage Backends
//
// The store package provides implementations for:
//   - MongoDB (store/mongo) - accepts *mongo.Client
//   - PostgreSQL (store/postgres) - accepts *sqlx.DB or *sql.DB
//   - SQLite (store/sqlite) - single file, single process
//   - In-memory (store/memory) - for testing
//
// store/cached wraps any of them with a Redis cache for GetInboxByID.
//
// # Events
//
// dropmail publishes typed events through github.com/rbaliyan/event/v3.
// Pass WithRedisClient or WithEventTransport to deliver them; by default they
// are dropped.
//
//	events := svc.Events()
//	events.EmailReceived.Subscribe(ctx, handler)
//
// Available events:
//   - EmailReceived - when an email is inserted
//   - InboxDeleted - when an inbox entry is deleted
//   - MailSwept - when a sweep deleted anything
package dropmail
