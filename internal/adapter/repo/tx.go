package repo

import (
	"context"

	"cardgen/internal/domain"
	"cardgen/internal/infra"
)

// Bind returns repositories that execute through exec.
func Bind(exec infra.SQLExecutor) domain.Repositories {
	return domain.Repositories{
		Balances:      NewBalanceRepository(exec),
		Jobs:          NewJobRepository(exec),
		Tasks:         NewTaskRepository(exec),
		Notifications: NewNotificationRepository(exec),
	}
}

// Transactor implements domain.Transactor on top of SQLRunner transactions.
type Transactor struct {
	runner *infra.SQLRunner
}

func NewTransactor(runner *infra.SQLRunner) *Transactor {
	return &Transactor{runner: runner}
}

func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context, repos domain.Repositories) error) error {
	return t.runner.WithTx(ctx, func(exec infra.SQLExecutor) error {
		return fn(ctx, Bind(exec))
	})
}

var _ domain.Transactor = (*Transactor)(nil)
