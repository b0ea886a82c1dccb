package repo

import (
	"context"

	"cardgen/internal/domain"
	"cardgen/internal/infra"
	"cardgen/internal/sqlinline"
)

// BalanceRepositoryPG implements domain.BalanceRepository with single-statement
// conditional updates.
type BalanceRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewBalanceRepository(sql infra.SQLExecutor) *BalanceRepositoryPG {
	return &BalanceRepositoryPG{sql: sql}
}

func (r *BalanceRepositoryPG) Get(ctx context.Context, userID string) (int, error) {
	var balance int
	if err := r.sql.QueryRow(ctx, sqlinline.QSelectBalance, userID).Scan(&balance); err != nil {
		if infra.IsNoRows(err) {
			return 0, domain.ErrUserNotFound
		}
		return 0, err
	}
	return balance, nil
}

func (r *BalanceRepositoryPG) Spend(ctx context.Context, userID string, amount int, reason, jobID string) (int, bool, error) {
	var (
		found        bool
		balanceAfter *int
	)
	if err := r.sql.QueryRow(ctx, sqlinline.QSpendTokens, userID, amount, reason, jobID).Scan(&found, &balanceAfter); err != nil {
		return 0, false, err
	}
	if !found {
		return 0, false, domain.ErrUserNotFound
	}
	if balanceAfter == nil {
		return 0, false, nil
	}
	return *balanceAfter, true, nil
}

func (r *BalanceRepositoryPG) Credit(ctx context.Context, userID string, amount int, reason, jobID string) (int, error) {
	var balanceAfter int
	if err := r.sql.QueryRow(ctx, sqlinline.QCreditTokens, userID, amount, reason, jobID).Scan(&balanceAfter); err != nil {
		if infra.IsNoRows(err) {
			return 0, domain.ErrUserNotFound
		}
		return 0, err
	}
	return balanceAfter, nil
}

// EnsureAccount creates an empty balance row for userID if none exists.
func (r *BalanceRepositoryPG) EnsureAccount(ctx context.Context, userID string) error {
	_, err := r.sql.Exec(ctx, sqlinline.QEnsureBalance, userID)
	return err
}

// JobNetAmount sums every ledger entry tied to jobID. Spends are negative.
func (r *BalanceRepositoryPG) JobNetAmount(ctx context.Context, jobID string) (int, error) {
	var total int
	err := r.sql.QueryRow(ctx, sqlinline.QSumJobTransactions, jobID).Scan(&total)
	return total, err
}

var _ domain.BalanceRepository = (*BalanceRepositoryPG)(nil)
