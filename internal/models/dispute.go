package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// DisputeVote голос арбитра; обоснование обязательно.
type DisputeVote struct {
	Arbitrator     string    `json:"arbitrator"`
	FavorRequester bool      `json:"favor_requester"`
	Reasoning      string    `json:"reasoning"`
	CastAt         time.Time `json:"cast_at"`
}

type DisputeVoteList []DisputeVote

func (v DisputeVoteList) Value() (driver.Value, error) {
	if v == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(v)
}

func (v *DisputeVoteList) Scan(src any) error {
	return scanJSON(src, v)
}

// DisputeEvidence ссылка на материал, приложенный стороной спора.
type DisputeEvidence struct {
	Party       string    `json:"party"`
	ArtifactRef string    `json:"artifact_ref"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type DisputeEvidenceList []DisputeEvidence

func (v DisputeEvidenceList) Value() (driver.Value, error) {
	if v == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(v)
}

func (v *DisputeEvidenceList) Scan(src any) error {
	return scanJSON(src, v)
}

// Dispute - спор, разрешаемый фиксированной панелью арбитров.
type Dispute struct {
	ID             uuid.UUID           `db:"id" json:"id"`
	OrderID        uuid.UUID           `db:"order_id" json:"order_id"`
	Requester      string              `db:"requester" json:"requester"`
	Counterparty   string              `db:"counterparty" json:"counterparty"`
	RaisedBy       string              `db:"raised_by" json:"raised_by"`
	Amount         decimal.Decimal     `db:"amount" json:"amount"`
	Currency       string              `db:"currency" json:"currency"`
	Reason         string              `db:"reason" json:"reason"`
	Status         DisputeStatus       `db:"status" json:"status"`
	Arbitrators    pq.StringArray      `db:"arbitrators" json:"arbitrators"`
	Votes          DisputeVoteList     `db:"votes" json:"votes"`
	Evidence       DisputeEvidenceList `db:"evidence" json:"evidence"`
	VotingDeadline *time.Time          `db:"voting_deadline" json:"voting_deadline,omitempty"`
	Decision       *DisputeDecision    `db:"decision" json:"decision,omitempty"`
	ResolvedBy     *string             `db:"resolved_by" json:"resolved_by,omitempty"`
	ResolutionNote *string             `db:"resolution_note" json:"resolution_note,omitempty"`
	ResolvedAt     *time.Time          `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt      time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time           `db:"updated_at" json:"updated_at"`
}

// IsParty проверяет, является ли адрес стороной спора.
func (d *Dispute) IsParty(addr string) bool {
	addr = NormalizeAddress(addr)
	return addr != "" && (addr == d.Requester || addr == d.Counterparty)
}

// IsArbitrator проверяет, входит ли адрес в панель.
func (d *Dispute) IsArbitrator(addr string) bool {
	addr = NormalizeAddress(addr)
	for _, a := range d.Arbitrators {
		if a == addr {
			return true
		}
	}
	return false
}

// HasVoted проверяет, голосовал ли арбитр.
func (d *Dispute) HasVoted(addr string) bool {
	addr = NormalizeAddress(addr)
	for _, v := range d.Votes {
		if v.Arbitrator == addr {
			return true
		}
	}
	return false
}

// Tally считает голоса за каждую сторону.
func (d *Dispute) Tally() (forRequester, forCounterparty int) {
	for _, v := range d.Votes {
		if v.FavorRequester {
			forRequester++
		} else {
			forCounterparty++
		}
	}
	return forRequester, forCounterparty
}

// Resolve фиксирует итог спора.
func (d *Dispute) Resolve(decision DisputeDecision, by, note string, now time.Time) {
	d.Status = DisputeStatusResolved
	d.Decision = &decision
	d.ResolvedBy = &by
	if note != "" {
		d.ResolutionNote = &note
	}
	d.ResolvedAt = &now
	d.UpdatedAt = now
}

// Clone возвращает глубокую копию спора.
func (d *Dispute) Clone() *Dispute {
	c := *d
	c.Arbitrators = append(pq.StringArray(nil), d.Arbitrators...)
	c.Votes = append(DisputeVoteList(nil), d.Votes...)
	c.Evidence = append(DisputeEvidenceList(nil), d.Evidence...)
	c.VotingDeadline = cloneTime(d.VotingDeadline)
	c.ResolvedAt = cloneTime(d.ResolvedAt)
	if d.Decision != nil {
		dec := *d.Decision
		c.Decision = &dec
	}
	if d.ResolvedBy != nil {
		by := *d.ResolvedBy
		c.ResolvedBy = &by
	}
	if d.ResolutionNote != nil {
		n := *d.ResolutionNote
		c.ResolutionNote = &n
	}
	return &c
}
