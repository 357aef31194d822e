// Package timebank operates the two-currency credit economy. Balances are
// integer minutes; debt is allowed down to a hard floor and compounds daily,
// surplus deflates weekly. Every policy check runs before any mutation.
package timebank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"protokoll/internal/audit"
	"protokoll/internal/platform/metrics"
	"protokoll/internal/protocol/models"
	"protokoll/internal/status/store"
	dErrors "protokoll/pkg/domain-errors"
	"protokoll/pkg/platform/sentinel"
)

// Policy constants. Tuning these is a product decision, not configuration.
const (
	// MaxDebtMinutes is the debt floor; no operation may push a balance
	// below -MaxDebtMinutes.
	MaxDebtMinutes = 2880

	// OverdraftMultiplier applies to the whole requested spend once the
	// balance is, or would go, negative.
	OverdraftMultiplier = 1.5

	// EarnRatio is minutes-to-credits at or above zero balance.
	EarnRatio = 3

	// MinEarnRawMinutes and MinEarnCredits gate dust amounts to zero.
	MinEarnRawMinutes = 10
	MinEarnCredits    = 3

	// DailyInterestRate compounds on negative balances once per calendar day.
	DailyInterestRate = 0.10

	// WeeklyInflationRate shaves positive balances once per week.
	WeeklyInflationRate = 0.05
)

const dateLayout = "2006-01-02"

// EarnFlags qualify the session a credit stems from. Any set flag gates the
// earn to zero before ratio math runs.
type EarnFlags struct {
	Punitive   bool
	Forced     bool
	LossDriven bool
}

func (f EarnFlags) gated() bool { return f.Punitive || f.Forced || f.LossDriven }

// Ledger is the time bank service.
type Ledger struct {
	store   store.Store
	logger  *slog.Logger
	audits  *audit.Publisher
	metrics *metrics.Metrics
	userID  string
	now     func() time.Time
}

type Option func(*Ledger)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

func WithAuditPublisher(p *audit.Publisher) Option {
	return func(l *Ledger) { l.audits = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func New(st store.Store, userID string, opts ...Option) (*Ledger, error) {
	if st == nil {
		return nil, fmt.Errorf("status store is required")
	}
	l := &Ledger{
		store:  st,
		logger: slog.Default(),
		userID: userID,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Balance returns both balances. Read failures resolve to zero balances so
// the presentation layer stays available; the error is logged, not returned.
func (l *Ledger) Balance(ctx context.Context) models.TimeBankAccount {
	var acct models.TimeBankAccount
	err := l.store.Get(ctx, models.KeyTimeBank, &acct)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		l.logger.Error("time bank read failed, serving zero balances", "error", err)
		return models.TimeBankAccount{}
	}
	return acct
}

// Earn credits qualifying overtime. Below zero the credit is 1:1 (debt
// repayment is nominal); at or above zero it is EarnRatio:1 truncated down.
// The flag gate runs before any ratio math and always yields zero.
func (l *Ledger) Earn(ctx context.Context, account models.Account, minutes int, flags EarnFlags) (int, error) {
	if !account.Valid() {
		return 0, dErrors.New(dErrors.CodeBadRequest, "unknown account")
	}
	if minutes <= 0 {
		return 0, dErrors.New(dErrors.CodeBadRequest, "minutes must be positive")
	}
	if flags.gated() {
		l.emit(ctx, "ledger_earn_gated", map[string]any{"account": account, "minutes": minutes})
		return 0, nil
	}
	if minutes < MinEarnRawMinutes {
		return 0, nil
	}

	acct, err := l.load(ctx)
	if err != nil {
		return 0, err
	}

	credits := minutes
	if acct.Balance(account) >= 0 {
		credits = minutes / EarnRatio
		if credits < MinEarnCredits {
			return 0, nil
		}
	}

	if _, err := l.store.Increment(ctx, models.KeyTimeBank, string(account), int64(credits)); err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to credit account")
	}
	if l.metrics != nil {
		l.metrics.LedgerEarns.Inc()
	}
	l.emit(ctx, "ledger_earn", map[string]any{"account": account, "minutes": minutes, "credits": credits})
	return credits, nil
}

// Spend debits the account. Once the balance is negative, or the spend would
// drive it negative, the whole requested amount is charged at the overdraft
// multiplier. A spend that would breach the debt floor is rejected without
// mutation, as is any spend from an already insolvent account.
func (l *Ledger) Spend(ctx context.Context, account models.Account, minutes int) (int, error) {
	if !account.Valid() {
		return 0, dErrors.New(dErrors.CodeBadRequest, "unknown account")
	}
	if minutes <= 0 {
		return 0, dErrors.New(dErrors.CodeBadRequest, "minutes must be positive")
	}

	acct, err := l.load(ctx)
	if err != nil {
		return 0, err
	}
	balance := acct.Balance(account)

	if balance <= -MaxDebtMinutes {
		l.reject(ctx, account, minutes, "insolvent")
		return 0, dErrors.New(dErrors.CodeInsolvent, "account is blocked at the debt floor")
	}

	charge := minutes
	if balance < 0 || balance-minutes < 0 {
		charge = int(math.Ceil(float64(minutes) * OverdraftMultiplier))
	}
	if balance-charge < -MaxDebtMinutes {
		l.reject(ctx, account, minutes, "would breach debt floor")
		return 0, dErrors.New(dErrors.CodeInsolvent, "spend would breach the debt floor")
	}

	if _, err := l.store.Increment(ctx, models.KeyTimeBank, string(account), int64(-charge)); err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to debit account")
	}
	if l.metrics != nil {
		l.metrics.LedgerSpends.Inc()
	}
	l.emit(ctx, "ledger_spend", map[string]any{"account": account, "minutes": minutes, "charge": charge})
	return charge, nil
}

// CheckInsolvency reports whether the account has reached the debt floor and
// is blocked from further draw-down.
func (l *Ledger) CheckInsolvency(ctx context.Context, account models.Account) (bool, error) {
	if !account.Valid() {
		return false, dErrors.New(dErrors.CodeBadRequest, "unknown account")
	}
	acct, err := l.load(ctx)
	if err != nil {
		return false, err
	}
	return acct.Balance(account) <= -MaxDebtMinutes, nil
}

// ApplyDailyInterest compounds debt by DailyInterestRate, at most once per
// calendar day. Interest is clamped at the debt floor: the floor invariant
// binds every operation, interest included.
func (l *Ledger) ApplyDailyInterest(ctx context.Context) error {
	acct, err := l.load(ctx)
	if err != nil {
		return err
	}
	today := l.now().Format(dateLayout)
	if acct.LastInterestDate == today {
		return nil
	}

	fields := map[string]any{"lastInterestDate": today}
	for _, account := range []models.Account{models.AccountNC, models.AccountLC} {
		balance := acct.Balance(account)
		if balance >= 0 {
			continue
		}
		interest := int(math.Ceil(float64(-balance) * DailyInterestRate))
		next := balance - interest
		if next < -MaxDebtMinutes {
			next = -MaxDebtMinutes
		}
		fields[string(account)] = next
	}

	if err := l.store.Update(ctx, models.KeyTimeBank, fields); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to apply interest")
	}
	l.emit(ctx, "ledger_interest_applied", map[string]any{"date": today})
	return nil
}

// ApplyWeeklyInflation shaves WeeklyInflationRate off positive balances,
// rounded up, at most once per tracking week.
func (l *Ledger) ApplyWeeklyInflation(ctx context.Context) error {
	acct, err := l.load(ctx)
	if err != nil {
		return err
	}
	now := l.now()
	if sameWeek(acct.LastInflationAt, now) {
		return nil
	}

	fields := map[string]any{"lastInflationAt": now}
	for _, account := range []models.Account{models.AccountNC, models.AccountLC} {
		balance := acct.Balance(account)
		if balance <= 0 {
			continue
		}
		loss := int(math.Ceil(float64(balance) * WeeklyInflationRate))
		fields[string(account)] = balance - loss
	}

	if err := l.store.Update(ctx, models.KeyTimeBank, fields); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to apply inflation")
	}
	l.emit(ctx, "ledger_inflation_applied", nil)
	return nil
}

func (l *Ledger) load(ctx context.Context) (models.TimeBankAccount, error) {
	var acct models.TimeBankAccount
	_, err := l.store.GetOrCreate(ctx, models.KeyTimeBank, models.TimeBankAccount{}, &acct)
	if err != nil {
		return models.TimeBankAccount{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load time bank")
	}
	return acct, nil
}

func (l *Ledger) reject(ctx context.Context, account models.Account, minutes int, reason string) {
	if l.metrics != nil {
		l.metrics.LedgerRejections.Inc()
	}
	l.emit(ctx, "ledger_spend_rejected", map[string]any{
		"account": account,
		"minutes": minutes,
		"reason":  reason,
	})
}

func (l *Ledger) emit(ctx context.Context, kind string, fields map[string]any) {
	if l.audits == nil {
		return
	}
	if err := l.audits.Emit(ctx, audit.Event{UserID: l.userID, Kind: kind, Fields: fields}); err != nil {
		l.logger.Warn("audit emit failed", "kind", kind, "error", err)
	}
}

func sameWeek(a, b time.Time) bool {
	ay, aw := a.ISOWeek()
	by, bw := b.ISOWeek()
	return ay == by && aw == bw
}
