package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/swap-arbiter/internal/models"
	"github.com/ignatzorin/swap-arbiter/internal/repository/common"
)

// AuditRepository ведёт журнал действий администраторов.
type AuditRepository struct {
	db *sqlx.DB
}

func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append присваивает записи следующий номер, связывает её с предыдущей и сохраняет.
func (r *AuditRepository) Append(ctx context.Context, entry *models.AuditEntry) error {
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `LOCK TABLE audit_log IN EXCLUSIVE MODE`); err != nil {
			return fmt.Errorf("audit repository: lock %w", err)
		}

		var last struct {
			Seq  int64  `db:"seq"`
			Hash string `db:"hash"`
		}
		err := tx.GetContext(ctx, &last, `SELECT seq, hash FROM audit_log ORDER BY seq DESC LIMIT 1`)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("audit repository: last entry %w", err)
		}

		entry.Seq = last.Seq + 1
		entry.Seal(last.Hash)

		query := `
			INSERT INTO audit_log (id, seq, actor, action, target_type, target_id, notes, prev_hash, hash, created_at)
			VALUES (:id, :seq, :actor, :action, :target_type, :target_id, :notes, :prev_hash, :hash, :created_at)
		`
		if _, err := tx.NamedExecContext(ctx, query, entry); err != nil {
			return fmt.Errorf("audit repository: append %w", err)
		}
		return nil
	})
}

// List возвращает записи журнала по возрастанию номера. targetID фильтрует по объекту.
func (r *AuditRepository) List(ctx context.Context, targetID *uuid.UUID, limit, offset int) ([]models.AuditEntry, error) {
	var (
		entries []models.AuditEntry
		err     error
	)
	if targetID != nil {
		query := `SELECT * FROM audit_log WHERE target_id = $1 ORDER BY seq LIMIT $2 OFFSET $3`
		err = r.db.SelectContext(ctx, &entries, query, *targetID, limit, offset)
	} else {
		query := `SELECT * FROM audit_log ORDER BY seq LIMIT $1 OFFSET $2`
		err = r.db.SelectContext(ctx, &entries, query, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("audit repository: list %w", err)
	}
	return entries, nil
}
