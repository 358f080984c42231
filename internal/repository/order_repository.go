package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/swap-arbiter/internal/models"
	"github.com/ignatzorin/swap-arbiter/internal/pkg/apperror"
	"github.com/ignatzorin/swap-arbiter/internal/repository/common"
)

// OrderRepository отвечает за хранение заказов в PostgreSQL.
type OrderRepository struct {
	db *sqlx.DB
}

// NewOrderRepository создаёт новый экземпляр.
func NewOrderRepository(db *sqlx.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `id, requester, counterparty, amount_base, amount_fiat, currency, rail,
	destination_proof, payment_proof, status, created_at, expires_at, matched_at, payment_sent_at,
	dispute_period_end, completed_at, settled_at, cancelled_at, updated_at`

// Create сохраняет новый заказ.
func (r *OrderRepository) Create(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES (:id, :requester, :counterparty, :amount_base, :amount_fiat, :currency, :rail,
		        :destination_proof, :payment_proof, :status, :created_at, :expires_at, :matched_at, :payment_sent_at,
		        :dispute_period_end, :completed_at, :settled_at, :cancelled_at, :updated_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, order); err != nil {
		return apperror.Wrap(err, apperror.ErrCodeDatabaseError, "", "не удалось создать заказ")
	}
	return nil
}

// GetByID возвращает заказ по идентификатору.
func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := common.GetByID[models.Order](ctx, r.db, "orders", id, ErrOrderNotFound)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("order repository: get by id %w", err)
	}
	return order, nil
}

// Update блокирует строку, применяет fn и сохраняет результат в одной транзакции.
// Если fn вернула ErrSkipUpdate, заказ возвращается без изменений.
func (r *OrderRepository) Update(ctx context.Context, id uuid.UUID, fn func(*models.Order) error) (*models.Order, error) {
	var result *models.Order
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		order, err := common.LockByID[models.Order](ctx, tx, "orders", "id", id, ErrOrderNotFound)
		if err != nil {
			return err
		}
		snapshot := order.Clone()
		if err := fn(order); err != nil {
			if errors.Is(err, ErrSkipUpdate) {
				result = snapshot
			}
			return err
		}

		query := `
			UPDATE orders SET
				counterparty = :counterparty,
				destination_proof = :destination_proof,
				payment_proof = :payment_proof,
				status = :status,
				matched_at = :matched_at,
				payment_sent_at = :payment_sent_at,
				dispute_period_end = :dispute_period_end,
				completed_at = :completed_at,
				settled_at = :settled_at,
				cancelled_at = :cancelled_at,
				updated_at = :updated_at
			WHERE id = :id
		`
		if _, err := tx.NamedExecContext(ctx, query, order); err != nil {
			return fmt.Errorf("order repository: update %w", err)
		}
		result = order
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

// List возвращает заказы по фильтру, новые первыми.
func (r *OrderRepository) List(ctx context.Context, filter OrderFilter) ([]models.Order, error) {
	filter = filter.Normalize()

	var (
		where []string
		args  []interface{}
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Requester != "" {
		args = append(args, filter.Requester)
		where = append(where, fmt.Sprintf("requester = $%d", len(args)))
	}
	if filter.Party != "" {
		args = append(args, filter.Party)
		where = append(where, fmt.Sprintf("(requester = $%d OR counterparty = $%d)", len(args), len(args)))
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	var orders []models.Order
	if err := r.db.SelectContext(ctx, &orders, query, args...); err != nil {
		return nil, fmt.Errorf("order repository: list %w", err)
	}
	return orders, nil
}

// ListExpired возвращает идентификаторы неподобранных заявок с истёкшим сроком.
func (r *OrderRepository) ListExpired(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	query := `SELECT id FROM orders WHERE status = $1 AND expires_at <= $2 ORDER BY expires_at`
	if err := r.db.SelectContext(ctx, &ids, query, models.OrderStatusCreated, now); err != nil {
		return nil, fmt.Errorf("order repository: list expired %w", err)
	}
	return ids, nil
}
