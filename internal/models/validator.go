package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ValidatorProfile - учёт вознаграждений и точности валидатора.
type ValidatorProfile struct {
	Address       string          `db:"address" json:"address"`
	TotalReviews  int             `db:"total_reviews" json:"total_reviews"`
	TotalReward   decimal.Decimal `db:"total_reward" json:"total_reward"`
	Approvals     int             `db:"approvals" json:"approvals"`
	Flags         int             `db:"flags" json:"flags"`
	ResolvedVotes int             `db:"resolved_votes" json:"resolved_votes"`
	CorrectVotes  int             `db:"correct_votes" json:"correct_votes"`
	Accuracy      float64         `db:"accuracy" json:"accuracy"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// NewValidatorProfile создаёт пустой профиль при первом голосе.
func NewValidatorProfile(addr string, now time.Time) *ValidatorProfile {
	return &ValidatorProfile{
		Address:     NormalizeAddress(addr),
		TotalReward: decimal.Zero,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// CreditReview учитывает поданный голос и начисляет вознаграждение за участие.
func (p *ValidatorProfile) CreditReview(decision Decision, reward decimal.Decimal, now time.Time) {
	p.TotalReviews++
	p.TotalReward = p.TotalReward.Add(reward)
	switch decision {
	case DecisionApprove:
		p.Approvals++
	case DecisionFlag:
		p.Flags++
	}
	p.UpdatedAt = now
}

// RecordOutcome инкрементально пересчитывает точность после решения задачи.
func (p *ValidatorProfile) RecordOutcome(correct bool, now time.Time) {
	p.ResolvedVotes++
	if correct {
		p.CorrectVotes++
	}
	p.Accuracy = float64(p.CorrectVotes) * 100 / float64(p.ResolvedVotes)
	p.UpdatedAt = now
}
