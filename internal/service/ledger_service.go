package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/swap-arbiter/internal/logger"
	"github.com/ignatzorin/swap-arbiter/internal/models"
)

// ValidatorStore хранит профили валидаторов.
type ValidatorStore interface {
	Get(ctx context.Context, address string) (*models.ValidatorProfile, error)
	Upsert(ctx context.Context, address string, fn func(*models.ValidatorProfile) error) (*models.ValidatorProfile, error)
	List(ctx context.Context, limit, offset int) ([]models.ValidatorProfile, error)
	ListEligible(ctx context.Context, minReviews int, minAccuracy float64) ([]string, error)
}

// LedgerService ведёт вознаграждения и точность валидаторов.
type LedgerService struct {
	store  ValidatorStore
	reward decimal.Decimal
	now    func() time.Time
}

func NewLedgerService(store ValidatorStore, reward decimal.Decimal) *LedgerService {
	return &LedgerService{store: store, reward: reward, now: time.Now}
}

// CreditReview начисляет вознаграждение за поданный голос независимо от его правильности.
func (s *LedgerService) CreditReview(ctx context.Context, reviewer string, decision models.Decision) (*models.ValidatorProfile, error) {
	return s.store.Upsert(ctx, reviewer, func(p *models.ValidatorProfile) error {
		p.CreditReview(decision, s.reward, s.now())
		return nil
	})
}

// RecordOutcome пересчитывает точность участников решённой задачи.
func (s *LedgerService) RecordOutcome(ctx context.Context, votes []models.Vote, status models.TaskStatus) error {
	genuine, ok := status.ImpliesGenuine()
	if !ok {
		return nil
	}
	for _, v := range votes {
		correct := (v.Decision == models.DecisionApprove) == genuine
		if _, err := s.store.Upsert(ctx, v.Reviewer, func(p *models.ValidatorProfile) error {
			p.RecordOutcome(correct, s.now())
			return nil
		}); err != nil {
			logger.Log.WithError(err).WithFields(logrus.Fields{
				"reviewer": v.Reviewer,
				"status":   status,
			}).Error("ledger: не удалось обновить точность")
			return err
		}
	}
	return nil
}

// Profile возвращает профиль валидатора.
func (s *LedgerService) Profile(ctx context.Context, address string) (*models.ValidatorProfile, error) {
	return s.store.Get(ctx, address)
}

// Leaderboard возвращает валидаторов по убыванию точности.
func (s *LedgerService) Leaderboard(ctx context.Context, limit, offset int) ([]models.ValidatorProfile, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.List(ctx, limit, offset)
}

// Eligible возвращает валидаторов, допущенных к арбитражу по стажу и точности.
func (s *LedgerService) Eligible(ctx context.Context, minReviews int, minAccuracy float64) ([]string, error) {
	return s.store.ListEligible(ctx, minReviews, minAccuracy)
}
