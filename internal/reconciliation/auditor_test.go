package reconciliation

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
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tradewind-settlement/internal/config"
	"github.com/tradewind-settlement/internal/domain/account"
	"github.com/tradewind-settlement/internal/domain/ledger"
)

type MockAccountRepository struct {
	mock.Mock
}

func (m *MockAccountRepository) Create(ctx context.Context, acc *account.Account) error {
	args := m.Called(ctx, acc)
	return args.Error(0)
}

func (m *MockAccountRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*account.Account, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*account.Account), args.Error(1)
}

func (m *MockAccountRepository) Update(ctx context.Context, acc *account.Account) error {
	args := m.Called(ctx, acc)
	return args.Error(0)
}

func (m *MockAccountRepository) LockForUpdate(ctx context.Context, userID uuid.UUID) (*account.Account, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*account.Account), args.Error(1)
}

func (m *MockAccountRepository) ListUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *MockAccountRepository) WithTx(tx pgx.Tx) account.Repository {
	args := m.Called(tx)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(account.Repository)
}

type MockLedgerRepository struct {
	mock.Mock
}

func (m *MockLedgerRepository) Create(ctx context.Context, entry *ledger.Entry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockLedgerRepository) GetByUserID(ctx context.Context, userID uuid.UUID) ([]*ledger.Entry, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*ledger.Entry), args.Error(1)
}

func (m *MockLedgerRepository) GetRecentByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]*ledger.Entry, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*ledger.Entry), args.Error(1)
}

func (m *MockLedgerRepository) WithTx(tx pgx.Tx) ledger.Repository {
	args := m.Called(tx)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(ledger.Repository)
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func entry(entryType ledger.EntryType, amount string) *ledger.Entry {
	return &ledger.Entry{
		UserID: uuid.New(),
		Type:   entryType,
		Amount: dec(amount),
	}
}

func TestReplay(t *testing.T) {
	t.Run("FoldsAllEntryTypes", func(t *testing.T) {
		entries := []*ledger.Entry{
			entry(ledger.EntryTypeDeposit, "1000"),
			entry(ledger.EntryTypeBuy, "300"),
			entry(ledger.EntryTypeSell, "150"),
			entry(ledger.EntryTypeWithdrawal, "50"),
			entry(ledger.EntryTypeRollback, "9999"), // balance-neutral
		}

		result := Replay(decimal.Zero, entries)

		assert.True(t, result.Equal(dec("800")), "got %s", result.String())
	})

	t.Run("EmptyLogYieldsInitialBalance", func(t *testing.T) {
		result := Replay(dec("42.5"), nil)
		assert.True(t, result.Equal(dec("42.5")))
	})
}

func newTestAuditor(t *testing.T, accountRepo account.Repository, ledgerRepo ledger.Repository) *Auditor {
	t.Helper()
	cfg := &config.ReconciliationConfig{
		Interval:          time.Minute,
		InitialBalance:    "0",
		Epsilon:           "0.01",
		WarnThresholdRate: 99.99,
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	auditor, err := NewAuditor(cfg, accountRepo, ledgerRepo, NewMetrics(prometheus.NewRegistry()), logger)
	require.NoError(t, err)
	return auditor
}

func TestAuditor_Audit(t *testing.T) {
	ctx := context.Background()

	t.Run("ConsistentAccount", func(t *testing.T) {
		accountRepo := new(MockAccountRepository)
		ledgerRepo := new(MockLedgerRepository)
		auditor := newTestAuditor(t, accountRepo, ledgerRepo)

		userID := uuid.New()
		acct := &account.Account{UserID: userID, CashBalance: dec("700"), AvailableCash: dec("700")}
		entries := []*ledger.Entry{
			entry(ledger.EntryTypeDeposit, "1000"),
			entry(ledger.EntryTypeBuy, "300"),
		}

		accountRepo.On("ListUserIDs", ctx).Return([]uuid.UUID{userID}, nil).Once()
		accountRepo.On("GetByUserID", ctx, userID).Return(acct, nil).Once()
		ledgerRepo.On("GetByUserID", ctx, userID).Return(entries, nil).Once()

		report, err := auditor.Audit(ctx)

		require.NoError(t, err)
		require.NotNil(t, report)
		assert.Equal(t, 1, report.Total)
		assert.Equal(t, 1, report.Consistent)
		assert.Equal(t, 0, report.Inconsistent)
		assert.Equal(t, float64(100), report.Rate)
		accountRepo.AssertExpectations(t)
		ledgerRepo.AssertExpectations(t)
	})

	t.Run("DivergentBalanceRaisesAlert", func(t *testing.T) {
		accountRepo := new(MockAccountRepository)
		ledgerRepo := new(MockLedgerRepository)
		auditor := newTestAuditor(t, accountRepo, ledgerRepo)

		userID := uuid.New()
		acct := &account.Account{UserID: userID, CashBalance: dec("750"), AvailableCash: dec("750")}
		entries := []*ledger.Entry{entry(ledger.EntryTypeDeposit, "700")}

		accountRepo.On("ListUserIDs", ctx).Return([]uuid.UUID{userID}, nil).Once()
		accountRepo.On("GetByUserID", ctx, userID).Return(acct, nil).Once()
		ledgerRepo.On("GetByUserID", ctx, userID).Return(entries, nil).Once()
		ledgerRepo.On("GetRecentByUserID", ctx, userID, recentEntriesInAlert).Return(entries, nil).Once()

		report, err := auditor.Audit(ctx)

		require.NoError(t, err)
		assert.Equal(t, 0, report.Consistent)
		assert.Equal(t, 1, report.Inconsistent)
		assert.Equal(t, float64(0), report.Rate)
		ledgerRepo.AssertExpectations(t)
	})

	t.Run("DivergenceWithinEpsilonPasses", func(t *testing.T) {
		accountRepo := new(MockAccountRepository)
		ledgerRepo := new(MockLedgerRepository)
		auditor := newTestAuditor(t, accountRepo, ledgerRepo)

		userID := uuid.New()
		acct := &account.Account{UserID: userID, CashBalance: dec("700.005"), AvailableCash: dec("700.005")}
		entries := []*ledger.Entry{entry(ledger.EntryTypeDeposit, "700")}

		accountRepo.On("ListUserIDs", ctx).Return([]uuid.UUID{userID}, nil).Once()
		accountRepo.On("GetByUserID", ctx, userID).Return(acct, nil).Once()
		ledgerRepo.On("GetByUserID", ctx, userID).Return(entries, nil).Once()

		report, err := auditor.Audit(ctx)

		require.NoError(t, err)
		assert.Equal(t, 1, report.Consistent)
	})

	t.Run("InvariantViolationIsInconsistent", func(t *testing.T) {
		accountRepo := new(MockAccountRepository)
		ledgerRepo := new(MockLedgerRepository)
		auditor := newTestAuditor(t, accountRepo, ledgerRepo)

		userID := uuid.New()
		// Balance matches the log but available exceeds owned.
		acct := &account.Account{UserID: userID, CashBalance: dec("700"), AvailableCash: dec("900")}
		entries := []*ledger.Entry{entry(ledger.EntryTypeDeposit, "700")}

		accountRepo.On("ListUserIDs", ctx).Return([]uuid.UUID{userID}, nil).Once()
		accountRepo.On("GetByUserID", ctx, userID).Return(acct, nil).Once()
		ledgerRepo.On("GetByUserID", ctx, userID).Return(entries, nil).Once()

		report, err := auditor.Audit(ctx)

		require.NoError(t, err)
		assert.Equal(t, 1, report.Inconsistent)
	})

	t.Run("UnreadableAccountCountsAsInconsistent", func(t *testing.T) {
		accountRepo := new(MockAccountRepository)
		ledgerRepo := new(MockLedgerRepository)
		auditor := newTestAuditor(t, accountRepo, ledgerRepo)

		okID, brokenID := uuid.New(), uuid.New()
		okAcct := &account.Account{UserID: okID, CashBalance: dec("100"), AvailableCash: dec("100")}

		accountRepo.On("ListUserIDs", ctx).Return([]uuid.UUID{okID, brokenID}, nil).Once()
		accountRepo.On("GetByUserID", ctx, okID).Return(okAcct, nil).Once()
		ledgerRepo.On("GetByUserID", ctx, okID).Return([]*ledger.Entry{entry(ledger.EntryTypeDeposit, "100")}, nil).Once()
		accountRepo.On("GetByUserID", ctx, brokenID).Return(nil, errors.New("connection reset")).Once()

		report, err := auditor.Audit(ctx)

		require.NoError(t, err)
		assert.Equal(t, 2, report.Total)
		assert.Equal(t, 1, report.Consistent)
		assert.Equal(t, 1, report.Inconsistent)
		assert.Equal(t, float64(50), report.Rate)
	})

	t.Run("EmptyPortfolioReportsFullConsistency", func(t *testing.T) {
		accountRepo := new(MockAccountRepository)
		ledgerRepo := new(MockLedgerRepository)
		auditor := newTestAuditor(t, accountRepo, ledgerRepo)

		accountRepo.On("ListUserIDs", ctx).Return([]uuid.UUID{}, nil).Once()

		report, err := auditor.Audit(ctx)

		require.NoError(t, err)
		assert.Equal(t, float64(100), report.Rate)
	})

	t.Run("ListFailurePropagates", func(t *testing.T) {
		accountRepo := new(MockAccountRepository)
		ledgerRepo := new(MockLedgerRepository)
		auditor := newTestAuditor(t, accountRepo, ledgerRepo)

		accountRepo.On("ListUserIDs", ctx).Return(nil, errors.New("db down")).Once()

		report, err := auditor.Audit(ctx)

		assert.Error(t, err)
		assert.Nil(t, report)
	})
}
