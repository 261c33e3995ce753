package relay

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tradewind-settlement/internal/config"
	"github.com/tradewind-settlement/internal/domain/outbox"
	"github.com/tradewind-settlement/internal/domain/shared"
)

// fakeStream surfaces changes whose event is still PENDING, mimicking the
// status-driven pending set of the outbox-backed stream.
type fakeStream struct {
	changes []Change
	err     error
}

func (s *fakeStream) Next(_ context.Context, limit int) ([]Change, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []Change
	for _, c := range s.changes {
		if c.Event.Status != outbox.StatusPending {
			continue
		}
		if len(out) < limit {
			out = append(out, c)
		}
	}
	return out, nil
}

type publishedMessage struct {
	key   string
	value interface{}
}

type fakePublisher struct {
	published []publishedMessage
	failAfter int // fail once this many messages have been accepted; <0 never fails
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{failAfter: -1}
}

func (p *fakePublisher) Publish(_ context.Context, key string, value interface{}) error {
	if p.failAfter >= 0 && len(p.published) >= p.failAfter {
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, publishedMessage{key: key, value: value})
	return nil
}

func (p *fakePublisher) Close() error { return nil }

type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) Create(ctx context.Context, event *outbox.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, limit int) ([]*outbox.Event, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*outbox.Event), args.Error(1)
}

func (m *MockOutboxRepository) UpdateStatus(ctx context.Context, id int64, status outbox.Status) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockOutboxRepository) GetByEventID(ctx context.Context, eventID uuid.UUID) (*outbox.Event, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*outbox.Event), args.Error(1)
}

func (m *MockOutboxRepository) WithTx(tx pgx.Tx) outbox.Repository {
	args := m.Called(tx)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(outbox.Repository)
}

func testEvent(t *testing.T, id int64, eventType shared.EventType) *outbox.Event {
	t.Helper()
	event, err := outbox.NewEvent(uuid.New(), shared.AggregateTypeAccount, eventType, shared.ReservationEvent{
		ReservationID: uuid.New(),
		UserID:        uuid.New(),
		OrderID:       uuid.New(),
		Amount:        "10.0000",
	})
	require.NoError(t, err)
	event.ID = id
	return event
}

// markProcessed wires the repo mock so a successful mark actually removes the
// event from the pending set, the way the real table behaves.
func markProcessed(repo *MockOutboxRepository, ctx context.Context, events map[int64]*outbox.Event) {
	repo.On("UpdateStatus", ctx, mock.AnythingOfType("int64"), outbox.StatusProcessed).
		Return(nil).
		Run(func(args mock.Arguments) {
			if event, ok := events[args.Get(1).(int64)]; ok {
				event.Status = outbox.StatusProcessed
			}
		})
}

func eventMap(events ...*outbox.Event) map[int64]*outbox.Event {
	m := make(map[int64]*outbox.Event, len(events))
	for _, e := range events {
		m[e.ID] = e
	}
	return m
}

func newTestRelay(stream ChangeStream, publisher, trigger *fakePublisher, repo outbox.Repository) *Relay {
	cfg := &config.RelayConfig{
		PollInterval:    10 * time.Millisecond,
		BatchSize:       100,
		StalenessWindow: time.Minute,
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	// A nil *fakePublisher must become a nil interface, not a typed nil.
	if trigger == nil {
		return NewRelay(cfg, stream, publisher, nil, repo, NewHealthTracker(cfg.StalenessWindow), NewMetrics(prometheus.NewRegistry()), logger)
	}
	return NewRelay(cfg, stream, publisher, trigger, repo, NewHealthTracker(cfg.StalenessWindow), NewMetrics(prometheus.NewRegistry()), logger)
}

func TestRelay_Drain(t *testing.T) {
	ctx := context.Background()

	t.Run("PublishesPendingInIdOrder", func(t *testing.T) {
		events := []*outbox.Event{
			testEvent(t, 1, shared.EventTypeCashReserved),
			testEvent(t, 2, shared.EventTypeReservationConfirmed),
			testEvent(t, 3, shared.EventTypeTradeSettled),
		}
		stream := &fakeStream{changes: []Change{
			{Op: ChangeOpInsert, Event: events[0]},
			{Op: ChangeOpInsert, Event: events[1]},
			{Op: ChangeOpInsert, Event: events[2]},
		}}
		publisher := newFakePublisher()
		repo := new(MockOutboxRepository)
		markProcessed(repo, ctx, eventMap(events...))

		r := newTestRelay(stream, publisher, nil, repo)

		require.NoError(t, r.drain(ctx))

		require.Len(t, publisher.published, 3)
		for i, event := range events {
			assert.Equal(t, event.AggregateID.String(), publisher.published[i].key)
			env := publisher.published[i].value.(shared.EventEnvelope)
			assert.Equal(t, event.EventID, env.EventID)
			assert.Equal(t, outbox.StatusProcessed, event.Status)
		}

		// Everything was marked, so the next drain finds nothing new.
		require.NoError(t, r.drain(ctx))
		assert.Len(t, publisher.published, 3)
		repo.AssertExpectations(t)
	})

	t.Run("LateCommittingRowIsStillDelivered", func(t *testing.T) {
		// A transaction can take its outbox id early and commit late: by the
		// time its row becomes visible, higher ids are already published. The
		// pending set is defined by status, so the straggler must surface on
		// the next drain instead of being skipped forever.
		early := testEvent(t, 5, shared.EventTypeTradeSettled)
		straggler := testEvent(t, 4, shared.EventTypeCashReserved)

		stream := &fakeStream{changes: []Change{
			{Op: ChangeOpInsert, Event: early},
		}}
		publisher := newFakePublisher()
		repo := new(MockOutboxRepository)
		markProcessed(repo, ctx, eventMap(early, straggler))

		r := newTestRelay(stream, publisher, nil, repo)

		require.NoError(t, r.drain(ctx))
		require.Len(t, publisher.published, 1)

		// The straggler's transaction commits after id 5 went out.
		stream.changes = append(stream.changes, Change{Op: ChangeOpInsert, Event: straggler})

		require.NoError(t, r.drain(ctx))
		require.Len(t, publisher.published, 2)
		env := publisher.published[1].value.(shared.EventEnvelope)
		assert.Equal(t, straggler.EventID, env.EventID)
		assert.Equal(t, outbox.StatusProcessed, straggler.Status)
	})

	t.Run("RoutesCompensationTriggersToBothTopics", func(t *testing.T) {
		trigger := testEvent(t, 1, shared.EventTypeCompensationTrigger)
		plain := testEvent(t, 2, shared.EventTypeCashReserved)
		stream := &fakeStream{changes: []Change{
			{Op: ChangeOpInsert, Event: trigger},
			{Op: ChangeOpInsert, Event: plain},
		}}
		publisher := newFakePublisher()
		triggerPublisher := newFakePublisher()
		repo := new(MockOutboxRepository)
		markProcessed(repo, ctx, eventMap(trigger, plain))

		r := newTestRelay(stream, publisher, triggerPublisher, repo)

		require.NoError(t, r.drain(ctx))

		assert.Len(t, publisher.published, 2, "every event reaches the event topic")
		require.Len(t, triggerPublisher.published, 1, "only triggers reach the compensation topic")
		env := triggerPublisher.published[0].value.(shared.EventEnvelope)
		assert.Equal(t, shared.EventTypeCompensationTrigger, env.EventType)
	})

	t.Run("PublishFailureStopsBatchAtFailedEvent", func(t *testing.T) {
		events := []*outbox.Event{
			testEvent(t, 1, shared.EventTypeCashReserved),
			testEvent(t, 2, shared.EventTypeCashReserved),
			testEvent(t, 3, shared.EventTypeCashReserved),
		}
		stream := &fakeStream{changes: []Change{
			{Op: ChangeOpInsert, Event: events[0]},
			{Op: ChangeOpInsert, Event: events[1]},
			{Op: ChangeOpInsert, Event: events[2]},
		}}
		publisher := newFakePublisher()
		publisher.failAfter = 1 // second publish fails
		repo := new(MockOutboxRepository)
		markProcessed(repo, ctx, eventMap(events...))

		r := newTestRelay(stream, publisher, nil, repo)

		err := r.drain(ctx)

		assert.Error(t, err)
		assert.Len(t, publisher.published, 1)
		assert.Equal(t, outbox.StatusPending, events[1].Status, "an unconfirmed event must stay pending")
		assert.Equal(t, outbox.StatusPending, events[2].Status)

		// The next drain picks up where the failure left off, in id order.
		publisher.failAfter = -1
		require.NoError(t, r.drain(ctx))
		require.Len(t, publisher.published, 3)
		second := publisher.published[1].value.(shared.EventEnvelope)
		assert.Equal(t, events[1].EventID, second.EventID)
	})

	t.Run("DeletesAreSkippedWithoutPublishing", func(t *testing.T) {
		deleted := testEvent(t, 1, shared.EventTypeCashReserved)
		kept := testEvent(t, 2, shared.EventTypeCashReserved)
		stream := &fakeStream{changes: []Change{
			{Op: ChangeOpDelete, Event: deleted},
			{Op: ChangeOpInsert, Event: kept},
		}}
		publisher := newFakePublisher()
		repo := new(MockOutboxRepository)
		markProcessed(repo, ctx, eventMap(kept))

		r := newTestRelay(stream, publisher, nil, repo)

		require.NoError(t, r.drain(ctx))

		require.Len(t, publisher.published, 1)
		env := publisher.published[0].value.(shared.EventEnvelope)
		assert.Equal(t, kept.EventID, env.EventID)
	})

	t.Run("StreamErrorRecordsFailure", func(t *testing.T) {
		stream := &fakeStream{err: errors.New("stream closed")}
		r := newTestRelay(stream, newFakePublisher(), nil, new(MockOutboxRepository))

		assert.Error(t, r.drain(ctx))
		assert.False(t, r.health.Status().Healthy)
	})

	t.Run("StatusUpdateFailureIsNonFatal", func(t *testing.T) {
		event := testEvent(t, 1, shared.EventTypeCashReserved)
		stream := &fakeStream{changes: []Change{
			{Op: ChangeOpInsert, Event: event},
		}}
		publisher := newFakePublisher()
		repo := new(MockOutboxRepository)
		repo.On("UpdateStatus", ctx, int64(1), outbox.StatusProcessed).Return(errors.New("write failed"))

		r := newTestRelay(stream, publisher, nil, repo)

		require.NoError(t, r.drain(ctx))
		assert.Len(t, publisher.published, 1)

		// The row stayed pending, so the next drain republishes it; the
		// duplicate is dropped downstream by event id.
		require.NoError(t, r.drain(ctx))
		assert.Len(t, publisher.published, 2)
	})
}

func TestHealthTracker(t *testing.T) {
	t.Run("IdleWithinWindowIsNotStale", func(t *testing.T) {
		h := NewHealthTracker(time.Minute)
		h.MarkRunning()

		status := h.Status()
		assert.True(t, status.Running)
		assert.True(t, status.Healthy)
		assert.False(t, status.Stale)
		assert.True(t, h.IsHealthy())
	})

	t.Run("NeverRelayedGoesStaleAfterWindow", func(t *testing.T) {
		h := NewHealthTracker(time.Nanosecond)
		h.MarkRunning()
		time.Sleep(time.Millisecond)

		status := h.Status()
		assert.True(t, status.Stale, "zero events must not exempt the relay from the staleness window")
		assert.False(t, h.IsHealthy())
	})

	t.Run("FailureThenSuccess", func(t *testing.T) {
		h := NewHealthTracker(time.Minute)
		h.MarkRunning()

		h.RecordFailure()
		assert.False(t, h.IsHealthy())

		h.RecordSuccess()
		assert.True(t, h.IsHealthy())
		assert.Equal(t, int64(1), h.Status().EventsProcessed)
	})

	t.Run("StoppedIsUnhealthy", func(t *testing.T) {
		h := NewHealthTracker(time.Minute)
		h.MarkRunning()
		h.MarkStopped()

		assert.False(t, h.IsHealthy())
	})

	t.Run("StaleAfterWindow", func(t *testing.T) {
		h := NewHealthTracker(time.Nanosecond)
		h.MarkRunning()
		h.RecordSuccess()
		time.Sleep(time.Millisecond)

		status := h.Status()
		assert.True(t, status.Stale)
		assert.False(t, h.IsHealthy())
	})
}
