package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/swap-arbiter/internal/models"
	"github.com/ignatzorin/swap-arbiter/internal/repository/common"
)

// ValidatorRepository хранит профили валидаторов.
type ValidatorRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewValidatorRepository(db *sqlx.DB) *ValidatorRepository {
	return &ValidatorRepository{db: db, now: time.Now}
}

// Get возвращает профиль по адресу.
func (r *ValidatorRepository) Get(ctx context.Context, address string) (*models.ValidatorProfile, error) {
	var profile models.ValidatorProfile
	query := `SELECT * FROM validator_profiles WHERE address = $1`
	if err := r.db.GetContext(ctx, &profile, query, models.NormalizeAddress(address)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrValidatorNotFound
		}
		return nil, fmt.Errorf("validator repository: get %w", err)
	}
	return &profile, nil
}

// Upsert создаёт профиль при отсутствии и атомарно применяет к нему fn.
func (r *ValidatorRepository) Upsert(ctx context.Context, address string, fn func(*models.ValidatorProfile) error) (*models.ValidatorProfile, error) {
	address = models.NormalizeAddress(address)
	var result *models.ValidatorProfile
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		now := r.now()
		insert := `
			INSERT INTO validator_profiles (address, created_at, updated_at)
			VALUES ($1, $2, $2)
			ON CONFLICT (address) DO NOTHING
		`
		if _, err := tx.ExecContext(ctx, insert, address, now); err != nil {
			return fmt.Errorf("validator repository: ensure profile %w", err)
		}

		profile, err := common.LockByID[models.ValidatorProfile](ctx, tx, "validator_profiles", "address", address, ErrValidatorNotFound)
		if err != nil {
			return err
		}
		if err := fn(profile); err != nil {
			return err
		}

		update := `
			UPDATE validator_profiles SET
				total_reviews = :total_reviews,
				total_reward = :total_reward,
				approvals = :approvals,
				flags = :flags,
				resolved_votes = :resolved_votes,
				correct_votes = :correct_votes,
				accuracy = :accuracy,
				updated_at = :updated_at
			WHERE address = :address
		`
		if _, err := tx.NamedExecContext(ctx, update, profile); err != nil {
			return fmt.Errorf("validator repository: update %w", err)
		}
		result = profile
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// List возвращает профили, отсортированные по точности и числу проверок.
func (r *ValidatorRepository) List(ctx context.Context, limit, offset int) ([]models.ValidatorProfile, error) {
	var profiles []models.ValidatorProfile
	query := `
		SELECT * FROM validator_profiles
		ORDER BY accuracy DESC, total_reviews DESC, address
		LIMIT $1 OFFSET $2
	`
	if err := r.db.SelectContext(ctx, &profiles, query, limit, offset); err != nil {
		return nil, fmt.Errorf("validator repository: list %w", err)
	}
	return profiles, nil
}

// ListEligible возвращает адреса валидаторов, прошедших порог для арбитража.
func (r *ValidatorRepository) ListEligible(ctx context.Context, minReviews int, minAccuracy float64) ([]string, error) {
	var addresses []string
	query := `
		SELECT address FROM validator_profiles
		WHERE total_reviews >= $1 AND accuracy >= $2
		ORDER BY address
	`
	if err := r.db.SelectContext(ctx, &addresses, query, minReviews, minAccuracy); err != nil {
		return nil, fmt.Errorf("validator repository: list eligible %w", err)
	}
	return addresses, nil
}
