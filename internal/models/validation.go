package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EvidenceSnapshot - замороженная копия доказательств на момент создания задачи.
type EvidenceSnapshot struct {
	Requester        string          `json:"requester"`
	Counterparty     string          `json:"counterparty"`
	DestinationProof *Proof          `json:"destination_proof,omitempty"`
	PaymentProof     *Proof          `json:"payment_proof,omitempty"`
	AmountBase       decimal.Decimal `json:"amount_base"`
	AmountFiat       decimal.Decimal `json:"amount_fiat"`
	Currency         string          `json:"currency"`
	Rail             string          `json:"rail"`
}

// SnapshotOf копирует доказательства заказа.
func SnapshotOf(o *Order) EvidenceSnapshot {
	return EvidenceSnapshot{
		Requester:        o.Requester,
		Counterparty:     o.CounterpartyAddress(),
		DestinationProof: o.DestinationProof.Clone(),
		PaymentProof:     o.PaymentProof.Clone(),
		AmountBase:       o.AmountBase,
		AmountFiat:       o.AmountFiat,
		Currency:         o.Currency,
		Rail:             o.Rail,
	}
}

// IsParty проверяет адрес по снимку, а не по текущему заказу.
func (s EvidenceSnapshot) IsParty(addr string) bool {
	addr = NormalizeAddress(addr)
	return addr != "" && (addr == s.Requester || addr == s.Counterparty)
}

func (s EvidenceSnapshot) clone() EvidenceSnapshot {
	c := s
	c.DestinationProof = s.DestinationProof.Clone()
	c.PaymentProof = s.PaymentProof.Clone()
	return c
}

func (s EvidenceSnapshot) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *EvidenceSnapshot) Scan(src any) error {
	return scanJSON(src, s)
}

// Vote голос валидатора; после записи не меняется.
type Vote struct {
	Reviewer string    `json:"reviewer"`
	Decision Decision  `json:"decision"`
	Notes    string    `json:"notes,omitempty"`
	CastAt   time.Time `json:"cast_at"`
}

// VoteList хранится в JSONB-колонке.
type VoteList []Vote

func (v VoteList) Value() (driver.Value, error) {
	if v == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(v)
}

func (v *VoteList) Scan(src any) error {
	return scanJSON(src, v)
}

// ValidationTask - проверка заявленной оплаты открытым пулом валидаторов.
type ValidationTask struct {
	ID              uuid.UUID        `db:"id" json:"id"`
	OrderID         uuid.UUID        `db:"order_id" json:"order_id"`
	Snapshot        EvidenceSnapshot `db:"snapshot" json:"snapshot"`
	Status          TaskStatus       `db:"status" json:"status"`
	Votes           VoteList         `db:"votes" json:"votes"`
	Threshold       int              `db:"threshold" json:"threshold"`
	Deadline        time.Time        `db:"deadline" json:"deadline"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	ResolvedAt      *time.Time       `db:"resolved_at" json:"resolved_at,omitempty"`
	ResolvedBy      *ResolvedBy      `db:"resolved_by" json:"resolved_by,omitempty"`
	ResolutionNotes *string          `db:"resolution_notes" json:"resolution_notes,omitempty"`
}

// Tally считает голоса.
func (t *ValidationTask) Tally() (approves, flags int) {
	for _, v := range t.Votes {
		switch v.Decision {
		case DecisionApprove:
			approves++
		case DecisionFlag:
			flags++
		}
	}
	return approves, flags
}

// HasVoted проверяет, голосовал ли адрес.
func (t *ValidationTask) HasVoted(addr string) bool {
	addr = NormalizeAddress(addr)
	for _, v := range t.Votes {
		if v.Reviewer == addr {
			return true
		}
	}
	return false
}

// Resolve фиксирует итог задачи.
func (t *ValidationTask) Resolve(status TaskStatus, by ResolvedBy, notes string, now time.Time) {
	t.Status = status
	t.ResolvedAt = &now
	t.ResolvedBy = &by
	if notes != "" {
		t.ResolutionNotes = &notes
	}
}

// Clone возвращает глубокую копию задачи.
func (t *ValidationTask) Clone() *ValidationTask {
	c := *t
	c.Snapshot = t.Snapshot.clone()
	c.Votes = append(VoteList(nil), t.Votes...)
	c.ResolvedAt = cloneTime(t.ResolvedAt)
	if t.ResolvedBy != nil {
		rb := *t.ResolvedBy
		c.ResolvedBy = &rb
	}
	if t.ResolutionNotes != nil {
		n := *t.ResolutionNotes
		c.ResolutionNotes = &n
	}
	return &c
}

// TaskSummary - облегчённое представление задачи для списка.
// Доказательства передаются только флагами наличия.
type TaskSummary struct {
	ID                  uuid.UUID       `json:"id"`
	OrderID             uuid.UUID       `json:"order_id"`
	Status              TaskStatus      `json:"status"`
	Requester           string          `json:"requester"`
	Counterparty        string          `json:"counterparty"`
	AmountBase          decimal.Decimal `json:"amount_base"`
	AmountFiat          decimal.Decimal `json:"amount_fiat"`
	Currency            string          `json:"currency"`
	Rail                string          `json:"rail"`
	HasDestinationProof bool            `json:"has_destination_proof"`
	HasPaymentProof     bool            `json:"has_payment_proof"`
	Approves            int             `json:"approves"`
	Flags               int             `json:"flags"`
	VoteCount           int             `json:"vote_count"`
	Threshold           int             `json:"threshold"`
	Deadline            time.Time       `json:"deadline"`
	CreatedAt           time.Time       `json:"created_at"`
	ResolvedAt          *time.Time      `json:"resolved_at,omitempty"`
	ResolvedBy          *ResolvedBy     `json:"resolved_by,omitempty"`
}

// Summary строит облегчённое представление.
func (t *ValidationTask) Summary() TaskSummary {
	approves, flags := t.Tally()
	return TaskSummary{
		ID:                  t.ID,
		OrderID:             t.OrderID,
		Status:              t.Status,
		Requester:           t.Snapshot.Requester,
		Counterparty:        t.Snapshot.Counterparty,
		AmountBase:          t.Snapshot.AmountBase,
		AmountFiat:          t.Snapshot.AmountFiat,
		Currency:            t.Snapshot.Currency,
		Rail:                t.Snapshot.Rail,
		HasDestinationProof: t.Snapshot.DestinationProof != nil,
		HasPaymentProof:     t.Snapshot.PaymentProof != nil,
		Approves:            approves,
		Flags:               flags,
		VoteCount:           len(t.Votes),
		Threshold:           t.Threshold,
		Deadline:            t.Deadline,
		CreatedAt:           t.CreatedAt,
		ResolvedAt:          cloneTime(t.ResolvedAt),
		ResolvedBy:          t.ResolvedBy,
	}
}

func scanJSON(src any, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("models: неподдерживаемый тип JSON-колонки: %T", src)
	}
}
