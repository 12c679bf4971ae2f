package dropmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/event/v3/transport/noop"
	eventredis "github.com/rbaliyan/event/v3/transport/redis"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/rbaliyan/dropmail/store"
)

// Type aliases for the store DTOs returned by the service.
// These allow users to work with the dropmail package without importing store directly.
type (
	InboxSummary = store.Summary
	InboxDetail  = store.Detail
)

// ServiceHealth provides health and state information about the service.
type ServiceHealth interface {
	// IsConnected returns true if the service is connected and ready.
	IsConnected() bool
}

// MailStore ingests and deletes emails.
type MailStore interface {
	// InsertEmail validates e and stores it with one inbox entry per unique
	// recipient. It returns the message id. Inserts are not idempotent.
	InsertEmail(ctx context.Context, e Email) (string, error)
	// DeleteInbox deletes exactly one inbox entry. It reports false with a nil
	// error when the entry does not exist. The shared message is untouched.
	DeleteInbox(ctx context.Context, entryID string) (bool, error)
}

// InboxReader provides read access to unexpired inbox entries.
type InboxReader interface {
	// GetEmailsForAddress lists the unexpired entries for address, newest first.
	// The result is never nil.
	GetEmailsForAddress(ctx context.Context, address string) ([]InboxSummary, error)
	// GetInboxByID returns one unexpired entry with its bodies.
	// Missing and expired entries both return ErrNotFound.
	GetInboxByID(ctx context.Context, entryID string) (*InboxDetail, error)
}

// Reaper reclaims storage held by expired emails.
type Reaper interface {
	// Sweep deletes expired messages and then orphaned inbox entries.
	Sweep(ctx context.Context) (*SweepResult, error)
}

// Service is the disposable mail store.
//
// Composed of:
//   - ServiceHealth: Health and state queries (IsConnected)
//   - MailStore: InsertEmail, DeleteInbox
//   - InboxReader: GetEmailsForAddress, GetInboxByID
//   - Reaper: Sweep
type Service interface {
	ServiceHealth
	MailStore
	InboxReader
	Reaper

	// Connect connects the store, the event bus and plugins, and starts
	// the scheduled reaper.
	Connect(ctx context.Context) error
	// Close stops the reaper, waits for in-flight work and closes all connections.
	Close(ctx context.Context) error
	// Events returns per-service event instances for subscribing and publishing.
	// Nil until Connect succeeds.
	Events() *ServiceEvents
}

// Connection states for the service.
const (
	stateDisconnected int32 = 0
	stateConnecting   int32 = 1
	stateConnected    int32 = 2
)

// service is the default implementation of Service.
type service struct {
	store     store.Store
	logger    *slog.Logger
	opts      *options
	state     int32 // stateDisconnected, stateConnecting, or stateConnected
	plugins   *pluginRegistry
	otel      *otelInstrumentation
	insertSem *semaphore.Weighted // Limits concurrent inserts to prevent resource exhaustion
	eventBus  *event.Bus          // Event bus for publishing events
	events    *ServiceEvents      // Per-service event instances

	sweeps   singleflight.Group // Coalesces concurrent sweeps
	bg       sync.WaitGroup     // Reaper loop and insert-triggered sweeps
	bgCtx    context.Context
	bgCancel context.CancelFunc
}

// NewService creates a new dropmail service.
// Call Connect() to establish connections to backends.
func NewService(opts ...Option) (Service, error) {
	o := newOptions(opts...)

	if o.store == nil {
		return nil, ErrStoreRequired
	}

	plugins := newPluginRegistry(o.logger)
	for _, p := range o.plugins {
		plugins.register(p)
	}

	otelInstr, err := newOtelInstrumentation(o)
	if err != nil {
		return nil, fmt.Errorf("init otel: %w", err)
	}

	return &service{
		store:     o.store,
		logger:    o.logger,
		opts:      o,
		plugins:   plugins,
		otel:      otelInstr,
		insertSem: semaphore.NewWeighted(int64(o.maxConcurrentInserts)),
	}, nil
}

// Events returns per-service event instances for subscribing and publishing.
func (s *service) Events() *ServiceEvents {
	return s.events
}

// IsConnected returns true if the service is connected and ready.
func (s *service) IsConnected() bool {
	return atomic.LoadInt32(&s.state) == stateConnected
}

func (s *service) checkConnected() error {
	if !s.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Connect establishes connections to storage backends.
func (s *service) Connect(ctx context.Context) error {
	// stateDisconnected -> stateConnecting -> stateConnected
	if !atomic.CompareAndSwapInt32(&s.state, stateDisconnected, stateConnecting) {
		return ErrAlreadyConnected
	}

	success := false
	defer func() {
		if success {
			atomic.StoreInt32(&s.state, stateConnected)
		} else {
			atomic.StoreInt32(&s.state, stateDisconnected)
		}
	}()

	if err := s.store.Connect(ctx); err != nil {
		return fmt.Errorf("connect store: %w", err)
	}

	if err := s.initEventBus(ctx); err != nil {
		s.store.Close(ctx)
		return fmt.Errorf("init event bus: %w", err)
	}

	if err := s.plugins.initAll(ctx); err != nil {
		s.closeEventBus(ctx)
		s.store.Close(ctx)
		return fmt.Errorf("init plugins: %w", err)
	}

	s.bgCtx, s.bgCancel = context.WithCancel(context.WithoutCancel(ctx))
	if s.opts.sweepInterval > 0 {
		s.bg.Add(1)
		go s.runReaper(s.bgCtx, s.opts.sweepInterval)
	}

	success = true
	s.logger.Info("dropmail service connected",
		"retention", s.opts.retention,
		"sweep_interval", s.opts.sweepInterval)
	return nil
}

// busCounter generates unique suffixes for event bus names.
var busCounter int64

// initEventBus initializes the event bus for this service.
func (s *service) initEventBus(ctx context.Context) error {
	// Each bus needs a unique name, so append a counter suffix
	busName := fmt.Sprintf("%s-%d", s.opts.serviceName, atomic.AddInt64(&busCounter, 1))

	var bus *event.Bus
	var err error

	switch {
	case s.opts.eventTransport != nil:
		s.logger.Info("initializing event bus with custom transport")
		bus, err = event.NewBus(busName, event.WithTransport(s.opts.eventTransport))
	case s.opts.redisClient != nil:
		s.logger.Info("initializing event bus with Redis transport")
		t, transportErr := eventredis.New(s.opts.redisClient)
		if transportErr != nil {
			return fmt.Errorf("create redis transport: %w", transportErr)
		}
		bus, err = event.NewBus(busName, event.WithTransport(t))
	default:
		s.logger.Debug("initializing event bus with noop transport")
		bus, err = event.NewBus(busName, event.WithTransport(noop.New()))
	}

	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	s.eventBus = bus

	s.events = newServiceEvents(busName)
	if err := registerServiceEvents(ctx, bus, s.events); err != nil {
		bus.Close(ctx)
		return fmt.Errorf("register service events: %w", err)
	}

	return nil
}

// closeEventBus closes the bus only if it uses a real transport.
// A noop bus holds no resources.
func (s *service) closeEventBus(ctx context.Context) error {
	if s.eventBus == nil || (s.opts.eventTransport == nil && s.opts.redisClient == nil) {
		return nil
	}
	return s.eventBus.Close(ctx)
}

// Close stops the reaper and closes connections to storage backends.
func (s *service) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, stateConnected, stateDisconnected) {
		return nil
	}

	var errs []error

	// No new inserts can start once the state is disconnected. Acquiring every
	// semaphore slot waits for the ones already running.
	s.logger.Info("waiting for in-flight operations to complete...", "timeout", s.opts.shutdownTimeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, s.opts.shutdownTimeout)
	defer shutdownCancel()
	if err := s.insertSem.Acquire(shutdownCtx, int64(s.opts.maxConcurrentInserts)); err != nil {
		s.logger.Warn("timeout waiting for in-flight operations, proceeding with shutdown",
			"error", err)
		errs = append(errs, fmt.Errorf("graceful shutdown timeout: %w", err))
	} else {
		s.insertSem.Release(int64(s.opts.maxConcurrentInserts))
	}

	// Stop the reaper and any insert-triggered sweeps.
	s.bgCancel()
	done := make(chan struct{})
	go func() {
		s.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("all in-flight operations completed")
	case <-shutdownCtx.Done():
		s.logger.Warn("timeout waiting for background sweeps, proceeding with shutdown")
		errs = append(errs, fmt.Errorf("graceful shutdown timeout: %w", shutdownCtx.Err()))
	}

	if err := s.plugins.closeAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close plugins: %w", err))
	}

	if err := s.closeEventBus(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close event bus: %w", err))
	}

	if err := s.store.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	return errors.Join(errs...)
}
