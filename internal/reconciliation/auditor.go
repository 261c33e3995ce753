package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradewind-settlement/internal/config"
	"github.com/tradewind-settlement/internal/domain/account"
	"github.com/tradewind-settlement/internal/domain/ledger"
)

// recentEntriesInAlert is how many log entries a divergence alert carries
const recentEntriesInAlert = 5

// Report summarizes one audit run
type Report struct {
	Total        int
	Consistent   int
	Inconsistent int
	Rate         float64
}

// Auditor is the reconciliation pass. It replays every account's transaction
// log and compares the result against the stored balance. The auditor only
// observes: a divergence raises a critical alert for human investigation,
// never an automatic correction, because the correct fix depends on which
// side is wrong.
type Auditor struct {
	accountRepo account.Repository
	ledgerRepo  ledger.Repository
	metrics     *Metrics

	interval       time.Duration
	initialBalance decimal.Decimal
	epsilon        decimal.Decimal
	warnThreshold  float64

	running atomic.Bool
	logger  *slog.Logger
}

// NewAuditor creates the reconciliation auditor
func NewAuditor(
	cfg *config.ReconciliationConfig,
	accountRepo account.Repository,
	ledgerRepo ledger.Repository,
	metrics *Metrics,
	logger *slog.Logger,
) (*Auditor, error) {
	initialBalance, err := decimal.NewFromString(cfg.InitialBalance)
	if err != nil {
		return nil, fmt.Errorf("invalid reconciliation initial balance %q: %w", cfg.InitialBalance, err)
	}
	epsilon, err := decimal.NewFromString(cfg.Epsilon)
	if err != nil {
		return nil, fmt.Errorf("invalid reconciliation epsilon %q: %w", cfg.Epsilon, err)
	}

	return &Auditor{
		accountRepo:    accountRepo,
		ledgerRepo:     ledgerRepo,
		metrics:        metrics,
		interval:       cfg.Interval,
		initialBalance: initialBalance,
		epsilon:        epsilon,
		warnThreshold:  cfg.WarnThresholdRate,
		logger:         logger,
	}, nil
}

// Start audits on a ticker until the context is canceled
func (a *Auditor) Start(ctx context.Context) {
	a.logger.Info("Starting reconciliation auditor",
		"interval", a.interval.String(),
		"epsilon", a.epsilon.String(),
	)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("Reconciliation auditor stopping due to context cancellation")
			return
		case <-ticker.C:
			if _, err := a.Audit(ctx); err != nil {
				a.logger.Error("Audit run failed", "error", err)
			}
		}
	}
}

// Audit runs one full pass over all accounts. An audit still in flight is
// never stacked; the tick is skipped instead.
func (a *Auditor) Audit(ctx context.Context) (*Report, error) {
	if !a.running.CompareAndSwap(false, true) {
		a.logger.Debug("Previous audit still running, skipping tick")
		return nil, nil
	}
	defer a.running.Store(false)

	userIDs, err := a.accountRepo.ListUserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts for audit: %w", err)
	}

	report := &Report{Total: len(userIDs)}
	for _, userID := range userIDs {
		consistent, err := a.auditAccount(ctx, userID)
		if err != nil {
			a.logger.Error("Failed to audit account", "user_id", userID.String(), "error", err)
			// An unverifiable account counts as inconsistent until proven otherwise.
			report.Inconsistent++
			continue
		}
		if consistent {
			report.Consistent++
		} else {
			report.Inconsistent++
			a.metrics.DivergencesDetected.Inc()
		}
	}

	if report.Total > 0 {
		report.Rate = float64(report.Consistent) / float64(report.Total) * 100
	} else {
		report.Rate = 100
	}

	a.metrics.ConsistencyRate.Set(report.Rate)
	a.metrics.AccountsAudited.Set(float64(report.Total))
	a.metrics.AuditRuns.Inc()

	if report.Rate < a.warnThreshold {
		a.logger.Warn("Consistency rate below threshold",
			"rate", report.Rate,
			"threshold", a.warnThreshold,
			"inconsistent", report.Inconsistent,
			"total", report.Total,
		)
	} else {
		a.logger.Info("Audit run complete",
			"total", report.Total,
			"consistent", report.Consistent,
			"rate", report.Rate,
		)
	}

	return report, nil
}

// auditAccount replays one account's transaction log and compares the result
// against the stored balance within the configured epsilon
func (a *Auditor) auditAccount(ctx context.Context, userID uuid.UUID) (bool, error) {
	acct, err := a.accountRepo.GetByUserID(ctx, userID)
	if err != nil {
		return false, err
	}

	entries, err := a.ledgerRepo.GetByUserID(ctx, userID)
	if err != nil {
		return false, err
	}

	expected := Replay(a.initialBalance, entries)
	difference := acct.CashBalance.Sub(expected).Abs()

	if difference.GreaterThan(a.epsilon) {
		a.alertDivergence(ctx, acct, expected, difference)
		return false, nil
	}

	if !acct.IsConsistent() {
		a.logger.Error("CRITICAL: account violates its balance invariant",
			"user_id", userID.String(),
			"cash_balance", acct.CashBalance.String(),
			"available_cash", acct.AvailableCash.String(),
		)
		return false, nil
	}

	return true, nil
}

// alertDivergence raises the critical alert with enough context to start an
// investigation without touching the database
func (a *Auditor) alertDivergence(ctx context.Context, acct *account.Account, expected, difference decimal.Decimal) {
	logger := a.logger.With(
		"user_id", acct.UserID.String(),
		"expected_balance", expected.String(),
		"actual_balance", acct.CashBalance.String(),
		"difference", difference.String(),
	)

	recent, err := a.ledgerRepo.GetRecentByUserID(ctx, acct.UserID, recentEntriesInAlert)
	if err != nil {
		logger.Error("CRITICAL: balance diverges from transaction log (recent entries unavailable)", "entries_error", err)
		return
	}

	summaries := make([]string, 0, len(recent))
	for _, entry := range recent {
		summaries = append(summaries, fmt.Sprintf("%s %s -> %s", entry.Type, entry.Amount.String(), entry.BalanceAfter.String()))
	}

	logger.Error("CRITICAL: balance diverges from transaction log",
		"recent_entries", summaries,
	)
}

// Replay folds the transaction log into the balance it implies. BUY and
// WITHDRAWAL remove cash, SELL and DEPOSIT add it, and ROLLBACK is
// balance-neutral: it records a released hold, which never moved CashBalance.
func Replay(initialBalance decimal.Decimal, entries []*ledger.Entry) decimal.Decimal {
	balance := initialBalance
	for _, entry := range entries {
		switch entry.Type {
		case ledger.EntryTypeBuy, ledger.EntryTypeWithdrawal:
			balance = balance.Sub(entry.Amount)
		case ledger.EntryTypeSell, ledger.EntryTypeDeposit:
			balance = balance.Add(entry.Amount)
		case ledger.EntryTypeRollback:
			// no balance effect
		}
	}
	return balance
}
