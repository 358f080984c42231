package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ignatzorin/swap-arbiter/internal/models"
	"github.com/ignatzorin/swap-arbiter/internal/pkg/apperror"
	"github.com/ignatzorin/swap-arbiter/internal/repository/common"
)

// uniqueViolation код ошибки PostgreSQL при нарушении уникального индекса.
const uniqueViolation = "23505"

// DisputeRepository хранит споры.
type DisputeRepository struct {
	db *sqlx.DB
}

func NewDisputeRepository(db *sqlx.DB) *DisputeRepository {
	return &DisputeRepository{db: db}
}

// Create сохраняет спор. Второй активный спор по заказу отклоняется уникальным индексом.
func (r *DisputeRepository) Create(ctx context.Context, dispute *models.Dispute) error {
	query := `
		INSERT INTO disputes (id, order_id, requester, counterparty, raised_by, amount, currency, reason, status,
		                      arbitrators, votes, evidence, voting_deadline, decision, resolved_by, resolution_note,
		                      resolved_at, created_at, updated_at)
		VALUES (:id, :order_id, :requester, :counterparty, :raised_by, :amount, :currency, :reason, :status,
		        :arbitrators, :votes, :evidence, :voting_deadline, :decision, :resolved_by, :resolution_note,
		        :resolved_at, :created_at, :updated_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, dispute); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return apperror.ErrDisputeExists
		}
		return fmt.Errorf("dispute repository: create %w", err)
	}
	return nil
}

// Delete удаляет спор, чей заказ не удалось заморозить.
func (r *DisputeRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM disputes WHERE id = $1`, id); err != nil {
		return fmt.Errorf("dispute repository: delete %w", err)
	}
	return nil
}

// GetByID возвращает спор по идентификатору.
func (r *DisputeRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	dispute, err := common.GetByID[models.Dispute](ctx, r.db, "disputes", id, ErrDisputeNotFound)
	if err != nil {
		if errors.Is(err, ErrDisputeNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("dispute repository: get by id %w", err)
	}
	return dispute, nil
}

// Update атомарно изменяет спор под блокировкой строки.
func (r *DisputeRepository) Update(ctx context.Context, id uuid.UUID, fn func(*models.Dispute) error) (*models.Dispute, error) {
	var result *models.Dispute
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		dispute, err := common.LockByID[models.Dispute](ctx, tx, "disputes", "id", id, ErrDisputeNotFound)
		if err != nil {
			return err
		}
		snapshot := dispute.Clone()
		if err := fn(dispute); err != nil {
			if errors.Is(err, ErrSkipUpdate) {
				result = snapshot
			}
			return err
		}

		query := `
			UPDATE disputes SET
				status = :status,
				arbitrators = :arbitrators,
				votes = :votes,
				evidence = :evidence,
				voting_deadline = :voting_deadline,
				decision = :decision,
				resolved_by = :resolved_by,
				resolution_note = :resolution_note,
				resolved_at = :resolved_at,
				updated_at = :updated_at
			WHERE id = :id
		`
		if _, err := tx.NamedExecContext(ctx, query, dispute); err != nil {
			return fmt.Errorf("dispute repository: update %w", err)
		}
		result = dispute
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSkipUpdate) {
			return result, nil
		}
		return nil, err
	}
	return result, nil
}

// List возвращает споры, новые первыми. Пустой статус означает все споры.
func (r *DisputeRepository) List(ctx context.Context, status models.DisputeStatus, limit, offset int) ([]models.Dispute, error) {
	var disputes []models.Dispute
	query := `
		SELECT * FROM disputes
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	if err := r.db.SelectContext(ctx, &disputes, query, string(status), limit, offset); err != nil {
		return nil, fmt.Errorf("dispute repository: list %w", err)
	}
	return disputes, nil
}

// ListOverdue возвращает споры в голосовании с истёкшим дедлайном.
func (r *DisputeRepository) ListOverdue(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	query := `SELECT id FROM disputes WHERE status = $1 AND voting_deadline <= $2 ORDER BY voting_deadline`
	if err := r.db.SelectContext(ctx, &ids, query, models.DisputeStatusVoting, now); err != nil {
		return nil, fmt.Errorf("dispute repository: list overdue %w", err)
	}
	return ids, nil
}

// ListForParticipant возвращает споры, где адрес - сторона или член панели.
func (r *DisputeRepository) ListForParticipant(ctx context.Context, address string, limit, offset int) ([]models.Dispute, error) {
	var disputes []models.Dispute
	query := `
		SELECT * FROM disputes
		WHERE requester = $1 OR counterparty = $1 OR $1 = ANY(arbitrators)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	if err := r.db.SelectContext(ctx, &disputes, query, models.NormalizeAddress(address), limit, offset); err != nil {
		return nil, fmt.Errorf("dispute repository: list for participant %w", err)
	}
	return disputes, nil
}
