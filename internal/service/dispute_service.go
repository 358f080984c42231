package service

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/swap-arbiter/internal/goroutine"
	"github.com/ignatzorin/swap-arbiter/internal/logger"
	"github.com/ignatzorin/swap-arbiter/internal/metrics"
	"github.com/ignatzorin/swap-arbiter/internal/models"
	"github.com/ignatzorin/swap-arbiter/internal/pkg/apperror"
	"github.com/ignatzorin/swap-arbiter/internal/repository"
	"github.com/ignatzorin/swap-arbiter/internal/validation"
)

// DisputeStore хранит споры. Create отклоняет второй активный спор по заказу (ErrDisputeExists).
type DisputeStore interface {
	Create(ctx context.Context, dispute *models.Dispute) error
	Delete(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	Update(ctx context.Context, id uuid.UUID, fn func(*models.Dispute) error) (*models.Dispute, error)
	List(ctx context.Context, status models.DisputeStatus, limit, offset int) ([]models.Dispute, error)
	ListForParticipant(ctx context.Context, address string, limit, offset int) ([]models.Dispute, error)
	ListOverdue(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}

// ArbitratorRegistry реестр арбитров, добавленных администраторами.
type ArbitratorRegistry interface {
	Add(ctx context.Context, address, addedBy string) error
	Remove(ctx context.Context, address string) error
	List(ctx context.Context) ([]string, error)
}

// DisputeOrders операции над заказом, нужные движку споров.
type DisputeOrders interface {
	OrderResolver
	Get(ctx context.Context, id uuid.UUID) (*models.Order, error)
	Dispute(ctx context.Context, id uuid.UUID, actor string) (*models.Order, error)
}

// Кто разрешил спор.
const (
	ResolvedByPanel = "panel"
	ResolvedByAdmin = "admin"
)

// DisputePolicy параметры арбитража.
type DisputePolicy struct {
	PanelSize    int
	VotingWindow time.Duration
	Arbitrators  []string
	MinReviews   int
	MinAccuracy  float64
}

// DisputeService - арбитраж фиксированной панелью.
type DisputeService struct {
	store       DisputeStore
	arbitrators ArbitratorRegistry
	ledger      *LedgerService
	orders      DisputeOrders
	hub         Publisher
	policy      DisputePolicy
	shuffle     func(n int, swap func(i, j int))
	now         func() time.Time
}

func NewDisputeService(store DisputeStore, arbitrators ArbitratorRegistry, ledger *LedgerService, orders DisputeOrders, policy DisputePolicy) *DisputeService {
	return &DisputeService{
		store:       store,
		arbitrators: arbitrators,
		ledger:      ledger,
		orders:      orders,
		hub:         NopPublisher{},
		policy:      policy,
		shuffle:     rand.Shuffle,
		now:         time.Now,
	}
}

// SetHub устанавливает шину событий.
func (s *DisputeService) SetHub(hub Publisher) {
	if hub == nil {
		hub = NopPublisher{}
	}
	s.hub = hub
}

// CreateDisputeInput описывает входные данные.
type CreateDisputeInput struct {
	OrderID  uuid.UUID
	RaisedBy string
	Reason   string
}

// Create открывает спор и замораживает заказ. Если панель набрана, сразу начинается голосование.
// При любой ошибке заказ остаётся в прежнем статусе.
func (s *DisputeService) Create(ctx context.Context, in CreateDisputeInput) (*models.Dispute, error) {
	in.RaisedBy = models.NormalizeAddress(in.RaisedBy)
	in.Reason = validation.SanitizeString(in.Reason)
	if err := validation.ValidateDisputeReason(in.Reason); err != nil {
		return nil, err
	}

	order, err := s.orders.Get(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if !order.IsParty(in.RaisedBy) {
		return nil, apperror.Forbidden(apperror.ReasonNotParty, "открыть спор может только сторона сделки")
	}

	now := s.now()
	dispute := &models.Dispute{
		ID:           uuid.New(),
		OrderID:      order.ID,
		Requester:    order.Requester,
		Counterparty: order.CounterpartyAddress(),
		RaisedBy:     in.RaisedBy,
		Amount:       order.AmountFiat,
		Currency:     order.Currency,
		Reason:       in.Reason,
		Status:       models.DisputeStatusOpen,
		Votes:        models.DisputeVoteList{},
		Evidence:     models.DisputeEvidenceList{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	panel, err := s.drawPanel(ctx, dispute)
	if err != nil {
		return nil, err
	}
	s.seatPanel(dispute, panel, now)

	if err := s.store.Create(ctx, dispute); err != nil {
		return nil, err
	}

	// Заказ замораживается только после сохранения спора.
	if _, err := s.orders.Dispute(ctx, in.OrderID, in.RaisedBy); err != nil {
		if derr := s.store.Delete(ctx, dispute.ID); derr != nil {
			logger.Log.WithError(derr).WithField("dispute_id", dispute.ID).Error("dispute: не удалось удалить спор после отказа заморозки")
		}
		return nil, err
	}

	logger.Log.WithFields(logrus.Fields{
		"dispute_id": dispute.ID,
		"order_id":   dispute.OrderID,
		"raised_by":  dispute.RaisedBy,
		"status":     dispute.Status,
		"panel":      []string(dispute.Arbitrators),
	}).Info("dispute: спор открыт")
	s.publish(models.EventDisputeCreated, dispute)
	return dispute, nil
}

// seatPanel назначает панель, если она заполнена полностью.
func (s *DisputeService) seatPanel(d *models.Dispute, panel []string, now time.Time) bool {
	if len(panel) < s.policy.PanelSize {
		return false
	}
	deadline := now.Add(s.policy.VotingWindow)
	d.Arbitrators = panel
	d.Status = models.DisputeStatusVoting
	d.VotingDeadline = &deadline
	d.UpdatedAt = now
	return true
}

// drawPanel случайно выбирает арбитров из реестра, исключая стороны спора.
func (s *DisputeService) drawPanel(ctx context.Context, d *models.Dispute) ([]string, error) {
	pool, err := s.EligibleArbitrators(ctx)
	if err != nil {
		return nil, err
	}
	candidates := make([]string, 0, len(pool))
	for _, addr := range pool {
		if !d.IsParty(addr) {
			candidates = append(candidates, addr)
		}
	}
	if len(candidates) < s.policy.PanelSize {
		return nil, nil
	}
	s.shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	return candidates[:s.policy.PanelSize], nil
}

// EligibleArbitrators объединяет арбитров из конфигурации, реестра и опытных валидаторов.
func (s *DisputeService) EligibleArbitrators(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	add := func(addrs []string) {
		for _, a := range addrs {
			a = models.NormalizeAddress(a)
			if a == "" {
				continue
			}
			if _, ok := seen[a]; ok {
				continue
			}
			seen[a] = struct{}{}
			out = append(out, a)
		}
	}

	add(s.policy.Arbitrators)
	registered, err := s.arbitrators.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("dispute service: arbitrators %w", err)
	}
	add(registered)
	if s.ledger != nil && s.policy.MinReviews > 0 {
		veterans, err := s.ledger.Eligible(ctx, s.policy.MinReviews, s.policy.MinAccuracy)
		if err != nil {
			return nil, fmt.Errorf("dispute service: eligible validators %w", err)
		}
		add(veterans)
	}
	return out, nil
}

// RegisterArbitrator добавляет арбитра в реестр.
func (s *DisputeService) RegisterArbitrator(ctx context.Context, address, addedBy string) error {
	if err := validation.ValidateAddress("адрес арбитра", address); err != nil {
		return err
	}
	return s.arbitrators.Add(ctx, address, addedBy)
}

// Get возвращает спор, закрывая просроченное голосование.
func (s *DisputeService) Get(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	d, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.votingExpired(d) {
		return s.escalateOverdue(ctx, id)
	}
	return d, nil
}

// ListForUser возвращает споры, где адрес - сторона или арбитр.
func (s *DisputeService) ListForUser(ctx context.Context, address string, limit, offset int) ([]models.Dispute, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListForParticipant(ctx, models.NormalizeAddress(address), limit, offset)
}

// SubmitEvidence прикладывает материал стороны к незакрытому спору.
func (s *DisputeService) SubmitEvidence(ctx context.Context, id uuid.UUID, party, artifactRef string) (*models.Dispute, error) {
	party = models.NormalizeAddress(party)
	artifactRef = validation.SanitizeString(artifactRef)
	if err := validation.ValidateArtifactRef(artifactRef); err != nil {
		return nil, err
	}
	d, err := s.store.Update(ctx, id, func(d *models.Dispute) error {
		if !d.IsParty(party) {
			return apperror.Forbidden(apperror.ReasonNotParty, "материалы может приложить только сторона спора")
		}
		if d.Status == models.DisputeStatusResolved {
			return apperror.Conflict(apperror.ReasonAlreadyResolved, "спор уже разрешён")
		}
		now := s.now()
		d.Evidence = append(d.Evidence, models.DisputeEvidence{
			Party:       party,
			ArtifactRef: artifactRef,
			SubmittedAt: now,
		})
		d.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(models.EventDisputeUpdated, d)
	return d, nil
}

// Vote принимает голос арбитра. Когда проголосовала вся панель, побеждает большинство.
func (s *DisputeService) Vote(ctx context.Context, id uuid.UUID, arbitrator string, favorRequester bool, reasoning string) (*models.Dispute, error) {
	arbitrator = models.NormalizeAddress(arbitrator)
	reasoning = validation.SanitizeString(reasoning)
	if err := validation.ValidateReasoning(reasoning); err != nil {
		return nil, err
	}

	var (
		resolved bool
		expired  bool
	)
	d, err := s.store.Update(ctx, id, func(d *models.Dispute) error {
		now := s.now()
		if d.IsParty(arbitrator) {
			return apperror.ErrSelfInterestedVote
		}
		if !d.IsArbitrator(arbitrator) {
			return apperror.Forbidden(apperror.ReasonNotArbitrator, "голосовать могут только назначенные арбитры")
		}
		if d.Status != models.DisputeStatusVoting {
			return apperror.Conflict(apperror.ReasonVotingClosed, fmt.Sprintf("голосование закрыто, статус спора %s", d.Status))
		}
		if s.votingExpired(d) {
			d.Status = models.DisputeStatusEscalated
			d.UpdatedAt = now
			expired = true
			return nil
		}
		if d.HasVoted(arbitrator) {
			return apperror.ErrAlreadyVoted
		}

		d.Votes = append(d.Votes, models.DisputeVote{
			Arbitrator:     arbitrator,
			FavorRequester: favorRequester,
			Reasoning:      reasoning,
			CastAt:         now,
		})
		d.UpdatedAt = now
		if len(d.Votes) >= len(d.Arbitrators) {
			forRequester, forCounterparty := d.Tally()
			decision := models.DecisionFavorCounterparty
			if forRequester > forCounterparty {
				decision = models.DecisionFavorRequester
			}
			d.Resolve(decision, ResolvedByPanel, "", now)
			resolved = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		s.afterEscalation(d, "deadline")
		return nil, apperror.Conflict(apperror.ReasonVotingClosed, "срок голосования истёк, спор передан администратору")
	}

	logger.Log.WithFields(logrus.Fields{
		"dispute_id":      d.ID,
		"arbitrator":      arbitrator,
		"favor_requester": favorRequester,
		"votes":           len(d.Votes),
	}).Info("dispute: голос арбитра принят")

	if resolved {
		s.applyDecision(ctx, d)
	} else {
		s.publish(models.EventDisputeUpdated, d)
	}
	return d, nil
}

// Escalate передаёт спор администратору. Доступно сторонам и арбитрам панели.
func (s *DisputeService) Escalate(ctx context.Context, id uuid.UUID, actor string) (*models.Dispute, error) {
	actor = models.NormalizeAddress(actor)
	d, err := s.store.Update(ctx, id, func(d *models.Dispute) error {
		if !d.IsParty(actor) && !d.IsArbitrator(actor) {
			return apperror.Forbidden(apperror.ReasonNotParty, "эскалировать спор могут только стороны или арбитры")
		}
		switch d.Status {
		case models.DisputeStatusOpen, models.DisputeStatusVoting:
		case models.DisputeStatusEscalated:
			return apperror.IllegalTransition("спор уже передан администратору")
		default:
			return apperror.Conflict(apperror.ReasonAlreadyResolved, "спор уже разрешён")
		}
		d.Status = models.DisputeStatusEscalated
		d.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.afterEscalation(d, actor)
	return d, nil
}

// AdminResolve разрешает спор решением администратора в обход панели.
func (s *DisputeService) AdminResolve(ctx context.Context, id uuid.UUID, favorRequester bool, actor, note string) (*models.Dispute, error) {
	decision := models.DecisionFavorCounterparty
	if favorRequester {
		decision = models.DecisionFavorRequester
	}
	d, err := s.store.Update(ctx, id, func(d *models.Dispute) error {
		if d.Status == models.DisputeStatusResolved {
			return apperror.Conflict(apperror.ReasonAlreadyResolved, "спор уже разрешён")
		}
		d.Resolve(decision, ResolvedByAdmin, note, s.now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Log.WithFields(logrus.Fields{
		"dispute_id": d.ID,
		"actor":      actor,
		"decision":   decision,
	}).Warn("dispute: спор разрешён администратором")
	s.applyDecision(ctx, d)
	return d, nil
}

// CheckDeadlines эскалирует просроченные голосования и пробует набрать панели для открытых споров.
func (s *DisputeService) CheckDeadlines(ctx context.Context) (int, error) {
	ids, err := s.store.ListOverdue(ctx, s.now())
	if err != nil {
		return 0, err
	}
	escalated := 0
	for _, id := range ids {
		d, err := s.escalateOverdue(ctx, id)
		if err != nil {
			logger.Log.WithError(err).WithField("dispute_id", id).Warn("dispute: не удалось эскалировать спор")
			continue
		}
		if d.Status == models.DisputeStatusEscalated {
			escalated++
		}
	}

	open, err := s.store.List(ctx, models.DisputeStatusOpen, 100, 0)
	if err != nil {
		return escalated, err
	}
	for i := range open {
		if err := s.staff(ctx, open[i].ID); err != nil {
			logger.Log.WithError(err).WithField("dispute_id", open[i].ID).Warn("dispute: не удалось набрать панель")
		}
	}
	return escalated, nil
}

func (s *DisputeService) staff(ctx context.Context, id uuid.UUID) error {
	current, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	panel, err := s.drawPanel(ctx, current)
	if err != nil || len(panel) == 0 {
		return err
	}
	seated := false
	d, err := s.store.Update(ctx, id, func(d *models.Dispute) error {
		if d.Status != models.DisputeStatusOpen {
			return repository.ErrSkipUpdate
		}
		seated = s.seatPanel(d, panel, s.now())
		if !seated {
			return repository.ErrSkipUpdate
		}
		return nil
	})
	if err != nil {
		return err
	}
	if seated {
		logger.Log.WithFields(logrus.Fields{
			"dispute_id": d.ID,
			"panel":      []string(d.Arbitrators),
		}).Info("dispute: панель набрана")
		s.publish(models.EventDisputeUpdated, d)
	}
	return nil
}

func (s *DisputeService) votingExpired(d *models.Dispute) bool {
	return d.Status == models.DisputeStatusVoting && d.VotingDeadline != nil && !s.now().Before(*d.VotingDeadline)
}

func (s *DisputeService) escalateOverdue(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	changed := false
	d, err := s.store.Update(ctx, id, func(d *models.Dispute) error {
		if !s.votingExpired(d) {
			return repository.ErrSkipUpdate
		}
		d.Status = models.DisputeStatusEscalated
		d.UpdatedAt = s.now()
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.afterEscalation(d, "deadline")
	}
	return d, nil
}

func (s *DisputeService) afterEscalation(d *models.Dispute, actor string) {
	metrics.RecordDisputeOutcome(string(d.Status), "")
	logger.Log.WithFields(logrus.Fields{
		"dispute_id": d.ID,
		"order_id":   d.OrderID,
		"actor":      actor,
	}).Warn("dispute: спор передан администратору")
	s.publish(models.EventDisputeUpdated, d)
}

// applyDecision: победа заявителя завершает заказ, победа контрагента отменяет его.
func (s *DisputeService) applyDecision(ctx context.Context, d *models.Dispute) {
	decision := ""
	if d.Decision != nil {
		decision = string(*d.Decision)
	}
	metrics.RecordDisputeOutcome(string(d.Status), decision)

	outcome := models.OrderStatusCancelled
	if d.Decision != nil && *d.Decision == models.DecisionFavorRequester {
		outcome = models.OrderStatusCompleted
	}
	entry := logger.Log.WithFields(logrus.Fields{
		"dispute_id": d.ID,
		"order_id":   d.OrderID,
		"decision":   decision,
	})
	if _, err := s.orders.Resolve(ctx, d.OrderID, outcome, SourceArbitration); err != nil {
		entry.WithError(err).Warn("dispute: не удалось применить решение к заказу")
	} else {
		entry.Info("dispute: спор разрешён")
	}
	s.publish(models.EventDisputeUpdated, d)
}

func (s *DisputeService) publish(eventType string, d *models.Dispute) {
	recipients := append([]string{d.Requester, d.Counterparty}, d.Arbitrators...)
	event := models.Event{
		Type:       eventType,
		OrderID:    d.OrderID,
		Status:     string(d.Status),
		Payload:    d.Clone(),
		Recipients: recipients,
		At:         s.now(),
	}
	hub := s.hub
	goroutine.SafeGo(func() {
		hub.Publish(event)
	})
}
