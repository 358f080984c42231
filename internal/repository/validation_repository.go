package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/swap-arbiter/internal/models"
	"github.com/ignatzorin/swap-arbiter/internal/repository/common"
)

// ValidationRepository хранит задачи валидации.
type ValidationRepository struct {
	db *sqlx.DB
}

func NewValidationRepository(db *sqlx.DB) *ValidationRepository {
	return &ValidationRepository{db: db}
}

// Create сохраняет новую задачу.
func (r *ValidationRepository) Create(ctx context.Context, task *models.ValidationTask) error {
	query := `
		INSERT INTO validation_tasks (id, order_id, snapshot, status, votes, threshold, deadline, created_at,
		                              resolved_at, resolved_by, resolution_notes)
		VALUES (:id, :order_id, :snapshot, :status, :votes, :threshold, :deadline, :created_at,
		        :resolved_at, :resolved_by, :resolution_notes)
	`
	if _, err := r.db.NamedExecContext(ctx, query, task); err != nil {
		return fmt.Errorf("validation repository: create %w", err)
	}
	return nil
}

// GetByID возвращает задачу по идентификатору.
func (r *ValidationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ValidationTask, error) {
	task, err := common.GetByID[models.ValidationTask](ctx, r.db, "validation_tasks", id, ErrTaskNotFound)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("validation repository: get by id %w", err)
	}
	return task, nil
}

// Update атомарно изменяет задачу. Голоса и итог пишутся под блокировкой строки,
// поэтому параллельные голоса не теряются и задача разрешается ровно один раз.
func (r *ValidationRepository) Update(ctx context.Context, id uuid.UUID, fn func(*models.ValidationTask) error) (*models.ValidationTask, error) {
	var result *models.ValidationTask
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		task, err := common.LockByID[models.ValidationTask](ctx, tx, "validation_tasks", "id", id, ErrTaskNotFound)
		if err != nil {
			return err
		}
		snapshot := task.Clone()
		if err := fn(task); err != nil {
			if errors.Is(err, ErrSkipUpdate) {
				result = snapshot
			}
			return err
		}

		query := `
			UPDATE validation_tasks SET
				status = :status,
				votes = :votes,
				resolved_at = :resolved_at,
				resolved_by = :resolved_by,
				resolution_notes = :resolution_notes
			WHERE id = :id
		`
		if _, err := tx.NamedExecContext(ctx, query, task); err != nil {
			return fmt.Errorf("validation repository: update %w", err)
		}
		result = task
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

// List возвращает задачи, новые первыми. Пустой статус означает все задачи.
func (r *ValidationRepository) List(ctx context.Context, filter TaskFilter) ([]models.ValidationTask, error) {
	filter = filter.Normalize()
	var tasks []models.ValidationTask
	query := `
		SELECT * FROM validation_tasks
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR (snapshot->>'requester' <> $2 AND COALESCE(snapshot->>'counterparty', '') <> $2))
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	if err := r.db.SelectContext(ctx, &tasks, query, string(filter.Status), filter.ExcludeParty, filter.Limit, filter.Offset); err != nil {
		return nil, fmt.Errorf("validation repository: list %w", err)
	}
	return tasks, nil
}

// ListOverdue возвращает pending-задачи с истёкшим дедлайном.
func (r *ValidationRepository) ListOverdue(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	query := `SELECT id FROM validation_tasks WHERE status = $1 AND deadline <= $2 ORDER BY deadline`
	if err := r.db.SelectContext(ctx, &ids, query, models.TaskStatusPending, now); err != nil {
		return nil, fmt.Errorf("validation repository: list overdue %w", err)
	}
	return ids, nil
}

// FindByOrder возвращает последнюю задачу по заказу.
func (r *ValidationRepository) FindByOrder(ctx context.Context, orderID uuid.UUID) (*models.ValidationTask, error) {
	var tasks []models.ValidationTask
	query := `SELECT * FROM validation_tasks WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1`
	if err := r.db.SelectContext(ctx, &tasks, query, orderID); err != nil {
		return nil, fmt.Errorf("validation repository: find by order %w", err)
	}
	if len(tasks) == 0 {
		return nil, ErrTaskNotFound
	}
	return &tasks[0], nil
}
