package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/swap-arbiter/internal/models"
)

// ArbitratorRepository хранит арбитров, добавленных администраторами.
type ArbitratorRepository struct {
	db *sqlx.DB
}

func NewArbitratorRepository(db *sqlx.DB) *ArbitratorRepository {
	return &ArbitratorRepository{db: db}
}

// Add регистрирует арбитра. Повторное добавление ничего не меняет.
func (r *ArbitratorRepository) Add(ctx context.Context, address, addedBy string) error {
	query := `
		INSERT INTO arbitrators (address, added_by)
		VALUES ($1, $2)
		ON CONFLICT (address) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, models.NormalizeAddress(address), models.NormalizeAddress(addedBy)); err != nil {
		return fmt.Errorf("arbitrator repository: add %w", err)
	}
	return nil
}

// Remove исключает арбитра из реестра.
func (r *ArbitratorRepository) Remove(ctx context.Context, address string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM arbitrators WHERE address = $1`, models.NormalizeAddress(address)); err != nil {
		return fmt.Errorf("arbitrator repository: remove %w", err)
	}
	return nil
}

// List возвращает адреса зарегистрированных арбитров.
func (r *ArbitratorRepository) List(ctx context.Context) ([]string, error) {
	var addresses []string
	if err := r.db.SelectContext(ctx, &addresses, `SELECT address FROM arbitrators ORDER BY address`); err != nil {
		return nil, fmt.Errorf("arbitrator repository: list %w", err)
	}
	return addresses, nil
}
