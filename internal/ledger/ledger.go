// Package ledger is the only writer of user token balances.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"cardgen/internal/domain"
	"cardgen/internal/infra"
)

var tracer = otel.Tracer("cardgen.ledger")

// ErrInvalidAmount is returned for non-positive amounts.
var ErrInvalidAmount = errors.New("ledger: amount must be positive")

// Options configures a Ledger.
type Options struct {
	Logger *infra.Logger
}

// Ledger performs atomic spend and refund operations.
type Ledger struct {
	balances domain.BalanceRepository
	logger   *infra.Logger
}

// New binds a ledger to a balance repository. Bind it to transaction-scoped
// repositories to make refunds part of a larger unit of work.
func New(balances domain.BalanceRepository, opts Options) *Ledger {
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &Ledger{balances: balances, logger: logger}
}

// Balance returns the current token balance.
func (l *Ledger) Balance(ctx context.Context, userID string) (int, error) {
	balance, err := l.balances.Get(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("ledger: balance: %w", err)
	}
	return balance, nil
}

// Spend atomically deducts amount when the balance covers it. It returns false
// without mutating anything when the balance is too low.
func (l *Ledger) Spend(ctx context.Context, userID string, amount int, reason, jobID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "Ledger.Spend", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.Int("tokens", amount),
	))
	defer span.End()

	if amount <= 0 {
		return false, ErrInvalidAmount
	}
	after, ok, err := l.balances.Spend(ctx, userID, amount, reason, jobID)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("ledger: spend: %w", err)
	}
	if !ok {
		span.AddEvent("insufficient balance")
		l.logger.Debug().Str("user_id", userID).Int("amount", amount).Msg("ledger: spend rejected")
		return false, nil
	}
	l.logger.Info().
		Str("user_id", userID).
		Str("job_id", jobID).
		Int("amount", amount).
		Int("balance_after", after).
		Msg("ledger: spent")
	return true, nil
}

// Refund credits amount back to the user. Refunds are never blocked by the balance.
func (l *Ledger) Refund(ctx context.Context, userID string, amount int, reason, jobID string) error {
	ctx, span := tracer.Start(ctx, "Ledger.Refund", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.Int("tokens", amount),
		attribute.String("reason", reason),
	))
	defer span.End()

	if amount <= 0 {
		return ErrInvalidAmount
	}
	after, err := l.balances.Credit(ctx, userID, amount, reason, jobID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("ledger: refund: %w", err)
	}
	l.logger.Info().
		Str("user_id", userID).
		Str("job_id", jobID).
		Str("reason", reason).
		Int("amount", amount).
		Int("balance_after", after).
		Msg("ledger: refunded")
	return nil
}

// Grant credits tokens outside of any job, e.g. from the ops CLI.
func (l *Ledger) Grant(ctx context.Context, userID string, amount int, reason string) error {
	if reason == "" {
		reason = domain.ReasonManualGrant
	}
	return l.Refund(ctx, userID, amount, reason, "")
}
