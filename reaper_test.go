package dropmail

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rbaliyan/dropmail/store"
)

// mockStore is a store.Store whose calls are scripted with testify/mock.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) Connect(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *mockStore) Close(ctx context.Context) error   { return m.Called(ctx).Error(0) }

func (m *mockStore) Insert(ctx context.Context, msg store.Message, recipients []string) (string, error) {
	args := m.Called(ctx, msg, recipients)
	return args.String(0), args.Error(1)
}

func (m *mockStore) ListByAddress(ctx context.Context, address string, now time.Time) ([]store.Summary, error) {
	args := m.Called(ctx, address, now)
	list, _ := args.Get(0).([]store.Summary)
	return list, args.Error(1)
}

func (m *mockStore) GetByEntryID(ctx context.Context, entryID string, now time.Time) (*store.Detail, error) {
	args := m.Called(ctx, entryID, now)
	d, _ := args.Get(0).(*store.Detail)
	return d, args.Error(1)
}

func (m *mockStore) DeleteEntry(ctx context.Context, entryID string) (bool, error) {
	args := m.Called(ctx, entryID)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) DeleteOrphans(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func newMockService(t *testing.T, st *mockStore, opts ...Option) Service {
	t.Helper()
	st.On("Connect", mock.Anything).Return(nil)
	// Close runs in cleanup, after the test's own AssertExpectations.
	st.On("Close", mock.Anything).Return(nil).Maybe()

	base := []Option{
		WithStore(st),
		WithLogger(quietLogger()),
		WithSweepInterval(0),
		WithSweepProbability(0),
	}
	svc, err := NewService(append(base, opts...)...)
	require.NoError(t, err)
	require.NoError(t, svc.Connect(context.Background()))
	t.Cleanup(func() { svc.Close(context.Background()) })
	return svc
}

func TestSweep(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes expired messages then orphans", func(t *testing.T) {
		svc, st, clock := setupTestService(t, WithRetention(time.Hour))

		mustInsert(t, svc, testEmail("old", "a@x.test", "b@x.test"))
		clock.Advance(30 * time.Minute)
		mustInsert(t, svc, testEmail("new", "a@x.test"))
		clock.Advance(31 * time.Minute)

		result, err := svc.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), result.ExpiredMessages)
		assert.Equal(t, int64(2), result.OrphanedEntries)

		messages, entries := st.Len()
		assert.Equal(t, 1, messages)
		assert.Equal(t, 1, entries)

		list, err := svc.GetEmailsForAddress(ctx, "a@x.test")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "new", list[0].Subject)
	})

	t.Run("second sweep changes nothing", func(t *testing.T) {
		svc, st, clock := setupTestService(t, WithRetention(time.Hour))

		mustInsert(t, svc, testEmail("old", "a@x.test"))
		clock.Advance(2 * time.Hour)

		_, err := svc.Sweep(ctx)
		require.NoError(t, err)
		messages, entries := st.Len()

		result, err := svc.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, &SweepResult{}, result)

		m2, e2 := st.Len()
		assert.Equal(t, messages, m2)
		assert.Equal(t, entries, e2)
	})

	t.Run("nothing to do", func(t *testing.T) {
		svc, _, _ := setupTestService(t)

		mustInsert(t, svc, testEmail("fresh", "a@x.test"))
		result, err := svc.Sweep(ctx)
		require.NoError(t, err)
		assert.Zero(t, result.ExpiredMessages)
		assert.Zero(t, result.OrphanedEntries)
	})

	t.Run("sweeps use the service clock", func(t *testing.T) {
		st := &mockStore{}
		clock := newFakeClock()
		svc := newMockService(t, st, WithClock(clock.Now))

		atClock := mock.MatchedBy(func(now time.Time) bool { return now.Equal(clock.Now()) })
		st.On("DeleteExpired", mock.Anything, atClock).Return(int64(3), nil).Once()
		st.On("DeleteOrphans", mock.Anything, atClock).Return(int64(4), nil).Once()

		result, err := svc.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, &SweepResult{ExpiredMessages: 3, OrphanedEntries: 4}, result)
		st.AssertExpectations(t)
	})

	t.Run("expired step failure skips orphans", func(t *testing.T) {
		st := &mockStore{}
		svc := newMockService(t, st)

		boom := errors.New("disk on fire")
		st.On("DeleteExpired", mock.Anything, mock.Anything).Return(int64(0), boom).Once()

		_, err := svc.Sweep(ctx)
		var se *StorageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "delete expired", se.Op)
		assert.ErrorIs(t, err, boom)
		assert.True(t, IsRetryableError(err))
		st.AssertNotCalled(t, "DeleteOrphans", mock.Anything, mock.Anything)
	})

	t.Run("orphan step failure keeps expired count", func(t *testing.T) {
		st := &mockStore{}
		svc := newMockService(t, st)

		st.On("DeleteExpired", mock.Anything, mock.Anything).Return(int64(2), nil).Once()
		st.On("DeleteOrphans", mock.Anything, mock.Anything).Return(int64(0), errors.New("timeout")).Once()

		result, err := svc.Sweep(ctx)
		require.Error(t, err)
		require.NotNil(t, result)
		assert.Equal(t, int64(2), result.ExpiredMessages)
	})
}

func TestSweepCoalesces(t *testing.T) {
	st := &mockStore{}
	svc := newMockService(t, st)

	release := make(chan struct{})
	var calls atomic.Int32
	st.On("DeleteExpired", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			calls.Add(1)
			<-release
		}).
		Return(int64(1), nil)
	st.On("DeleteOrphans", mock.Anything, mock.Anything).Return(int64(0), nil)

	const callers = 5
	var wg sync.WaitGroup
	results := make(chan *SweepResult, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := svc.Sweep(context.Background())
			if err == nil {
				results <- r
			}
		}()
	}

	// Let the first sweep start and the others pile up behind it.
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	var n int
	for r := range results {
		assert.Equal(t, int64(1), r.ExpiredMessages)
		n++
	}
	assert.Equal(t, callers, n)
	assert.Less(t, int(calls.Load()), callers, "expected concurrent sweeps to share a run")
}

func TestScheduledReaper(t *testing.T) {
	st := &mockStore{}
	swept := make(chan struct{}, 10)
	st.On("DeleteExpired", mock.Anything, mock.Anything).Return(int64(0), nil)
	st.On("DeleteOrphans", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			select {
			case swept <- struct{}{}:
			default:
			}
		}).
		Return(int64(0), nil)

	svc := newMockService(t, st, WithSweepInterval(10*time.Millisecond))

	select {
	case <-swept:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the scheduled reaper to run")
	}

	require.NoError(t, svc.Close(context.Background()))
}

func TestScheduledReaperSurvivesErrors(t *testing.T) {
	st := &mockStore{}
	var runs atomic.Int32
	st.On("DeleteExpired", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { runs.Add(1) }).
		Return(int64(0), errors.New("unavailable"))

	newMockService(t, st, WithSweepInterval(5*time.Millisecond))

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestSweepOnInsert(t *testing.T) {
	ctx := context.Background()

	t.Run("triggers when the draw is below the probability", func(t *testing.T) {
		st := &mockStore{}
		swept := make(chan struct{}, 1)
		st.On("Insert", mock.Anything, mock.Anything, mock.Anything).Return("m1", nil)
		st.On("DeleteExpired", mock.Anything, mock.Anything).Return(int64(0), nil)
		st.On("DeleteOrphans", mock.Anything, mock.Anything).
			Run(func(mock.Arguments) { swept <- struct{}{} }).
			Return(int64(0), nil).Once()

		svc := newMockService(t, st,
			WithSweepProbability(0.5),
			WithRandom(func() float64 { return 0.1 }),
		)

		_, err := svc.InsertEmail(ctx, testEmail("Hi", "a@x.test"))
		require.NoError(t, err)

		select {
		case <-swept:
		case <-time.After(2 * time.Second):
			t.Fatal("expected insert to trigger a sweep")
		}
	})

	t.Run("does not trigger when the draw is above the probability", func(t *testing.T) {
		st := &mockStore{}
		st.On("Insert", mock.Anything, mock.Anything, mock.Anything).Return("m1", nil)

		svc := newMockService(t, st,
			WithSweepProbability(0.5),
			WithRandom(func() float64 { return 0.9 }),
		)

		_, err := svc.InsertEmail(ctx, testEmail("Hi", "a@x.test"))
		require.NoError(t, err)
		require.NoError(t, svc.Close(ctx))

		st.AssertNotCalled(t, "DeleteExpired", mock.Anything, mock.Anything)
	})
}

func TestInsertStorageFailure(t *testing.T) {
	st := &mockStore{}
	st.On("Insert", mock.Anything, mock.Anything, mock.Anything).
		Return("", store.ErrTransactionFailed)

	svc := newMockService(t, st)

	_, err := svc.InsertEmail(context.Background(), testEmail("Hi", "a@x.test"))
	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "insert", se.Op)
	assert.ErrorIs(t, err, store.ErrTransactionFailed)
	assert.True(t, IsRetryableError(err))
}

func TestInsertPassesNormalizedRecipients(t *testing.T) {
	st := &mockStore{}
	clock := newFakeClock()
	st.On("Insert", mock.Anything, mock.MatchedBy(func(msg store.Message) bool {
		return msg.CreatedAt.Equal(clock.Now()) &&
			msg.ExpiresAt.Equal(clock.Now().Add(time.Hour)) &&
			len(msg.From) == 1 && msg.From[0] == "sender@example.com"
	}), []string{"a@x.test", "b@x.test"}).Return("m1", nil).Once()

	svc := newMockService(t, st, WithClock(clock.Now), WithRetention(time.Hour))

	id, err := svc.InsertEmail(context.Background(), testEmail("Hi", "A@x.test", "b@x.test", "a@X.TEST", ""))
	require.NoError(t, err)
	assert.Equal(t, "m1", id)
	st.AssertExpectations(t)
}

func TestCloseClosesStore(t *testing.T) {
	st := &mockStore{}
	svc := newMockService(t, st)

	require.NoError(t, svc.Close(context.Background()))
	st.AssertExpectations(t)
	st.AssertCalled(t, "Close", mock.Anything)
	assert.False(t, svc.IsConnected())
}
