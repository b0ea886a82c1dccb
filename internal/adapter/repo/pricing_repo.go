package repo

import (
	"context"

	"cardgen/internal/domain"
	"cardgen/internal/infra"
	"cardgen/internal/sqlinline"
)

// PricingRepositoryPG implements domain.PricingRepository.
type PricingRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewPricingRepository(sql infra.SQLExecutor) *PricingRepositoryPG {
	return &PricingRepositoryPG{sql: sql}
}

func (r *PricingRepositoryPG) Get(ctx context.Context, op domain.Operation) (int, error) {
	var tokens int
	if err := r.sql.QueryRow(ctx, sqlinline.QSelectPrice, string(op)).Scan(&tokens); err != nil {
		if infra.IsNoRows(err) {
			return 0, domain.ErrPricingNotConfigured
		}
		return 0, err
	}
	return tokens, nil
}

func (r *PricingRepositoryPG) Set(ctx context.Context, op domain.Operation, tokens int) error {
	_, err := r.sql.Exec(ctx, sqlinline.QUpsertPrice, string(op), tokens)
	return err
}

var _ domain.PricingRepository = (*PricingRepositoryPG)(nil)
