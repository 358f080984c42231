package models

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"
)

// AuditEntry - запись журнала привилегированных действий.
// Записи связаны цепочкой хешей, подмена любой записи ломает цепочку.
type AuditEntry struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Seq        int64     `db:"seq" json:"seq"`
	Actor      string    `db:"actor" json:"actor"`
	Action     string    `db:"action" json:"action"`
	TargetType string    `db:"target_type" json:"target_type"`
	TargetID   uuid.UUID `db:"target_id" json:"target_id"`
	Notes      string    `db:"notes" json:"notes"`
	PrevHash   string    `db:"prev_hash" json:"prev_hash"`
	Hash       string    `db:"hash" json:"hash"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Seal вычисляет хеш записи поверх хеша предыдущей.
func (e *AuditEntry) Seal(prevHash string) {
	e.PrevHash = prevHash
	e.Hash = e.computeHash()
}

// Verify проверяет хеш записи.
func (e *AuditEntry) Verify() bool {
	return e.Hash == e.computeHash()
}

func (e *AuditEntry) computeHash() string {
	payload := fmt.Sprintf("%s|%d|%s|%s|%s|%s|%s|%s|%d",
		e.PrevHash, e.Seq, e.ID, e.Actor, e.Action, e.TargetType, e.TargetID, e.Notes, e.CreatedAt.UnixNano())
	sum := sha3.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
