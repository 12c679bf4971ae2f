package dropmail

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Sweep triggers, reported in logs, metrics and MailSweptEvent.
const (
	TriggerScheduled = "scheduled"
	TriggerInsert    = "insert"
	TriggerManual    = "manual"
)

// SweepResult contains the result of a sweep.
type SweepResult struct {
	// ExpiredMessages is the number of expired messages deleted.
	ExpiredMessages int64
	// OrphanedEntries is the number of inbox entries deleted because their
	// message no longer exists.
	OrphanedEntries int64
}

// Sweep deletes every expired message and then every inbox entry whose
// message is gone. It is safe to run concurrently with inserts, reads and
// other sweeps, including sweeps in other processes sharing the store.
//
// The service runs Sweep on its own every WithSweepInterval, and
// occasionally after an insert (WithSweepProbability). Calling it directly
// is useful for tests and one-shot maintenance jobs.
func (s *service) Sweep(ctx context.Context) (*SweepResult, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	return s.sweep(ctx, TriggerManual)
}

// sweep coalesces concurrent callers into one pass over the store.
func (s *service) sweep(ctx context.Context, trigger string) (*SweepResult, error) {
	v, err, _ := s.sweeps.Do("sweep", func() (any, error) {
		return s.doSweep(ctx, trigger)
	})
	res, _ := v.(*SweepResult)
	if res == nil {
		return nil, err
	}
	out := *res
	return &out, err
}

func (s *service) doSweep(ctx context.Context, trigger string) (*SweepResult, error) {
	ctx, endSpan := s.otel.startSpan(ctx, "dropmail.sweep",
		attribute.String("trigger", trigger),
	)
	start := time.Now()
	result := &SweepResult{}
	var sweepErr error
	defer func() {
		endSpan(sweepErr)
		s.otel.recordSweep(ctx, time.Since(start), trigger, result, sweepErr)
	}()

	now := s.opts.now()

	// Step 1: messages first. Their entries become orphans for step 2.
	expired, err := s.store.DeleteExpired(ctx, now)
	if err != nil {
		sweepErr = storageErr("delete expired", err)
		return result, sweepErr
	}
	result.ExpiredMessages = expired

	// Step 2: entries created after now are skipped so that an entry whose
	// message is still being written is never taken for an orphan.
	orphans, err := s.store.DeleteOrphans(ctx, now)
	if err != nil {
		sweepErr = storageErr("delete orphans", err)
		return result, sweepErr
	}
	result.OrphanedEntries = orphans

	if expired == 0 && orphans == 0 {
		s.logger.Debug("sweep found nothing to delete", "trigger", trigger)
		return result, nil
	}

	s.logger.Info("swept expired mail",
		"trigger", trigger,
		"expired_messages", expired,
		"orphaned_entries", orphans,
		"duration", time.Since(start))

	if err := publish(ctx, s, s.events.MailSwept, "MailSwept", trigger, MailSweptEvent{
		ExpiredMessages: expired,
		OrphanedEntries: orphans,
		Trigger:         trigger,
		SweptAt:         now,
	}); err != nil {
		sweepErr = err
		return result, sweepErr
	}

	return result, nil
}

// runReaper runs a sweep every interval until ctx is canceled.
func (s *service) runReaper(ctx context.Context, interval time.Duration) {
	defer s.bg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.backgroundSweep(ctx, TriggerScheduled)
		}
	}
}

// maybeSweep starts an out-of-band sweep with probability sweepProbability.
// Callers hold an insert slot, which keeps Close from waiting on bg before
// the goroutine is accounted for.
func (s *service) maybeSweep() {
	p := s.opts.sweepProbability
	if p <= 0 || s.opts.random() >= p {
		return
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		s.backgroundSweep(s.bgCtx, TriggerInsert)
	}()
}

// backgroundSweep runs a sweep and logs failures. The next run retries.
func (s *service) backgroundSweep(ctx context.Context, trigger string) {
	if _, err := s.sweep(ctx, trigger); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("sweep failed", "trigger", trigger, "error", err)
	}
}
