package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewind-settlement/internal/domain/saga"
)

func testSaga() *saga.Instance {
	return saga.NewInstance(uuid.New(), uuid.New(), uuid.New(), 30*time.Second)
}

func TestMarshalMetadata(t *testing.T) {
	t.Run("nil map marshals to an empty object", func(t *testing.T) {
		// The metadata column is NOT NULL; a nil slice would bind as SQL NULL
		// and the column default does not rescue an explicit NULL parameter.
		raw, err := marshalMetadata(nil)
		require.NoError(t, err)
		assert.Equal(t, []byte("{}"), raw)
	})

	t.Run("empty map marshals to an empty object", func(t *testing.T) {
		raw, err := marshalMetadata(map[string]string{})
		require.NoError(t, err)
		assert.Equal(t, []byte("{}"), raw)
	})

	t.Run("populated map round-trips", func(t *testing.T) {
		raw, err := marshalMetadata(map[string]string{"abort_reason": "timeout"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"abort_reason":"timeout"}`, string(raw))
	})
}

func TestSagaRepository_Create(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &SagaRepository{querier: mock, logger: logger}

	query := `
		INSERT INTO saga_states \(saga_id, trade_id, order_id, user_id, symbol, state, started_at, timeout_at, completed_at, metadata, version\)
		VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7, \$8, \$9, \$10, \$11\)
	`

	t.Run("fresh saga without metadata stores an empty object", func(t *testing.T) {
		instance := testSaga()
		require.Nil(t, instance.Metadata)

		mock.ExpectExec(query).
			WithArgs(instance.SagaID, instance.TradeID, instance.OrderID, instance.UserID, instance.Symbol,
				instance.State, instance.StartedAt, instance.TimeoutAt, (*time.Time)(nil), []byte("{}"), instance.Version).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		err := repo.Create(ctx, instance)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failure", func(t *testing.T) {
		instance := testSaga()
		dbErr := errors.New("db error")

		mock.ExpectExec(query).
			WithArgs(instance.SagaID, instance.TradeID, instance.OrderID, instance.UserID, instance.Symbol,
				instance.State, instance.StartedAt, instance.TimeoutAt, (*time.Time)(nil), []byte("{}"), instance.Version).
			WillReturnError(dbErr)

		err := repo.Create(ctx, instance)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create saga")
		assert.ErrorIs(t, err, dbErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSagaRepository_Update(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &SagaRepository{querier: mock, logger: logger}

	query := `
		UPDATE saga_states
		SET state = \$1, completed_at = \$2, metadata = \$3, version = \$4
		WHERE saga_id = \$5 AND version = \$6
	`

	t.Run("transition without metadata keeps the column non-null", func(t *testing.T) {
		instance := testSaga()
		require.NoError(t, instance.MarkInProgress())
		require.Nil(t, instance.Metadata)

		mock.ExpectExec(query).
			WithArgs(instance.State, (*time.Time)(nil), []byte("{}"), instance.Version, instance.SagaID, instance.Version-1).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		err := repo.Update(ctx, instance)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("version conflict", func(t *testing.T) {
		instance := testSaga()
		require.NoError(t, instance.MarkInProgress())

		mock.ExpectExec(query).
			WithArgs(instance.State, (*time.Time)(nil), []byte("{}"), instance.Version, instance.SagaID, instance.Version-1).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := repo.Update(ctx, instance)
		assert.ErrorIs(t, err, saga.ErrVersionConflict{SagaID: instance.SagaID})
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSagaRepository_GetBySagaID(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &SagaRepository{querier: mock, logger: logger}
	sagaID := uuid.New()

	query := `
		SELECT saga_id, trade_id, order_id, user_id, symbol, state, started_at, timeout_at, completed_at, metadata, version
		FROM saga_states WHERE saga_id = \$1
	`

	t.Run("success", func(t *testing.T) {
		expected := testSaga()
		expected.SagaID = sagaID
		rows := pgxmock.NewRows([]string{"saga_id", "trade_id", "order_id", "user_id", "symbol", "state", "started_at", "timeout_at", "completed_at", "metadata", "version"}).
			AddRow(expected.SagaID, expected.TradeID, expected.OrderID, expected.UserID, expected.Symbol,
				expected.State, expected.StartedAt, expected.TimeoutAt, (*time.Time)(nil), []byte(`{"abort_reason":"timeout"}`), expected.Version)

		mock.ExpectQuery(query).WithArgs(sagaID).WillReturnRows(rows)

		got, err := repo.GetBySagaID(ctx, sagaID)
		assert.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, sagaID, got.SagaID)
		assert.Equal(t, "timeout", got.Metadata["abort_reason"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs(sagaID).WillReturnError(pgx.ErrNoRows)

		got, err := repo.GetBySagaID(ctx, sagaID)
		assert.Error(t, err)
		assert.Nil(t, got)
		var notFoundErr saga.ErrSagaNotFound
		assert.ErrorAs(t, err, &notFoundErr)
		assert.Equal(t, sagaID, notFoundErr.SagaID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
