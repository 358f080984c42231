package service

import (
	"context"
	"errors"
	"fmt"
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

// TaskStore хранит задачи валидации. Update атомарен в пределах задачи.
type TaskStore interface {
	Create(ctx context.Context, task *models.ValidationTask) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ValidationTask, error)
	Update(ctx context.Context, id uuid.UUID, fn func(*models.ValidationTask) error) (*models.ValidationTask, error)
	List(ctx context.Context, filter repository.TaskFilter) ([]models.ValidationTask, error)
	ListOverdue(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	FindByOrder(ctx context.Context, orderID uuid.UUID) (*models.ValidationTask, error)
}

// OrderResolver применяет решения движков к заказу.
type OrderResolver interface {
	Resolve(ctx context.Context, id uuid.UUID, outcome models.OrderStatus, source string) (*models.Order, error)
}

// ValidationService - консенсус открытого пула валидаторов.
type ValidationService struct {
	store     TaskStore
	orders    OrderResolver
	ledger    *LedgerService
	hub       Publisher
	threshold int
	timeout   time.Duration
	now       func() time.Time
}

func NewValidationService(store TaskStore, orders OrderResolver, ledger *LedgerService, threshold int, timeout time.Duration) *ValidationService {
	return &ValidationService{
		store:     store,
		orders:    orders,
		ledger:    ledger,
		hub:       NopPublisher{},
		threshold: threshold,
		timeout:   timeout,
		now:       time.Now,
	}
}

// SetHub устанавливает шину событий.
func (s *ValidationService) SetHub(hub Publisher) {
	if hub == nil {
		hub = NopPublisher{}
	}
	s.hub = hub
}

// CreateTask замораживает доказательства заказа и открывает голосование.
func (s *ValidationService) CreateTask(ctx context.Context, order *models.Order) (*models.ValidationTask, error) {
	now := s.now()
	task := &models.ValidationTask{
		ID:        uuid.New(),
		OrderID:   order.ID,
		Snapshot:  models.SnapshotOf(order),
		Status:    models.TaskStatusPending,
		Votes:     models.VoteList{},
		Threshold: s.threshold,
		Deadline:  now.Add(s.timeout),
		CreatedAt: now,
	}
	if err := s.store.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("validation service: create task %w", err)
	}

	logger.Log.WithFields(logrus.Fields{
		"task_id":   task.ID,
		"order_id":  order.ID,
		"threshold": task.Threshold,
		"deadline":  task.Deadline,
	}).Info("validation: задача открыта")
	s.publish(models.EventValidationCreated, task)
	return task, nil
}

// Get возвращает задачу целиком, включая снимок доказательств.
func (s *ValidationService) Get(ctx context.Context, id uuid.UUID) (*models.ValidationTask, error) {
	task, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.isOverdue(task) {
		return s.resolveTimeout(ctx, id)
	}
	return task, nil
}

// ForOrder возвращает последнюю задачу по заказу.
func (s *ValidationService) ForOrder(ctx context.Context, orderID uuid.UUID) (*models.ValidationTask, error) {
	task, err := s.store.FindByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if s.isOverdue(task) {
		return s.resolveTimeout(ctx, task.ID)
	}
	return task, nil
}

// ListPending возвращает открытые задачи, исключая те, где вызывающий - сторона сделки.
func (s *ValidationService) ListPending(ctx context.Context, caller string, limit, offset int) ([]models.TaskSummary, error) {
	if _, err := s.CheckTimeouts(ctx); err != nil {
		logger.Log.WithError(err).Warn("validation: проверка таймаутов при чтении не удалась")
	}

	tasks, err := s.store.List(ctx, repository.TaskFilter{
		Status:       models.TaskStatusPending,
		ExcludeParty: caller,
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.TaskSummary, 0, len(tasks))
	for i := range tasks {
		out = append(out, tasks[i].Summary())
	}
	return out, nil
}

// Vote принимает голос. Добавление голоса, проверка порога и решение выполняются
// в одной атомарной операции над задачей.
func (s *ValidationService) Vote(ctx context.Context, taskID uuid.UUID, reviewer string, decision models.Decision, notes string) (*models.TaskSummary, error) {
	reviewer = models.NormalizeAddress(reviewer)
	if err := validation.ValidateAddress("адрес валидатора", reviewer); err != nil {
		return nil, err
	}
	if !decision.IsValid() {
		return nil, apperror.Validation(fmt.Sprintf("решение должно быть approve или flag, получено %q", decision))
	}
	notes = validation.SanitizeString(notes)
	if err := validation.ValidateNotes(notes); err != nil {
		return nil, err
	}

	var (
		timedOut bool
		resolved bool
	)
	task, err := s.store.Update(ctx, taskID, func(t *models.ValidationTask) error {
		now := s.now()
		if t.Snapshot.IsParty(reviewer) {
			return apperror.ErrSelfInterestedVote
		}
		if t.Status != models.TaskStatusPending {
			return apperror.ErrAlreadyResolved
		}
		if !now.Before(t.Deadline) {
			t.Resolve(models.TaskStatusAutoApproved, models.ResolvedByTimeout, "", now)
			timedOut = true
			return nil
		}
		if t.HasVoted(reviewer) {
			return apperror.ErrAlreadyVoted
		}

		t.Votes = append(t.Votes, models.Vote{
			Reviewer: reviewer,
			Decision: decision,
			Notes:    notes,
			CastAt:   now,
		})
		if len(t.Votes) >= t.Threshold {
			t.Resolve(tallyOutcome(t), models.ResolvedByDAO, "", now)
			resolved = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if timedOut {
		s.finalize(ctx, task)
		return nil, apperror.Conflict(apperror.ReasonVotingClosed, "срок голосования по задаче истёк")
	}

	metrics.RecordVote(string(decision))
	if _, err := s.ledger.CreditReview(ctx, reviewer, decision); err != nil {
		logger.Log.WithError(err).WithField("reviewer", reviewer).Error("validation: не удалось начислить вознаграждение")
	}
	logger.Log.WithFields(logrus.Fields{
		"task_id":  task.ID,
		"reviewer": reviewer,
		"decision": decision,
		"votes":    len(task.Votes),
	}).Info("validation: голос принят")

	if resolved {
		s.finalize(ctx, task)
	}
	summary := task.Summary()
	return &summary, nil
}

// Withdraw отзывает открытую задачу по заказу. Голоса уже начислены, точность не пересчитывается.
func (s *ValidationService) Withdraw(ctx context.Context, orderID uuid.UUID, reason string) error {
	task, err := s.store.FindByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			return nil
		}
		return err
	}

	withdrawn := false
	task, err = s.store.Update(ctx, task.ID, func(t *models.ValidationTask) error {
		if t.Status != models.TaskStatusPending {
			return repository.ErrSkipUpdate
		}
		t.Resolve(models.TaskStatusWithdrawn, models.ResolvedByParty, reason, s.now())
		withdrawn = true
		return nil
	})
	if err != nil {
		return err
	}
	if !withdrawn {
		return nil
	}

	metrics.RecordValidationResolution(string(task.Status), string(models.ResolvedByParty))
	logger.Log.WithFields(logrus.Fields{
		"task_id":  task.ID,
		"order_id": orderID,
		"votes":    len(task.Votes),
		"reason":   reason,
	}).Info("validation: задача отозвана")
	s.publish(models.EventValidationResolved, task)
	return nil
}

// tallyOutcome: approve только при строгом большинстве, ничья уходит на эскалацию.
func tallyOutcome(t *models.ValidationTask) models.TaskStatus {
	approves, flags := t.Tally()
	if approves > flags {
		return models.TaskStatusApproved
	}
	return models.TaskStatusEscalated
}

// CheckTimeouts автоматически одобряет просроченные задачи. Повторный вызов ничего не меняет.
func (s *ValidationService) CheckTimeouts(ctx context.Context) (int, error) {
	ids, err := s.store.ListOverdue(ctx, s.now())
	if err != nil {
		return 0, err
	}
	resolved := 0
	for _, id := range ids {
		task, err := s.resolveTimeout(ctx, id)
		if err != nil {
			logger.Log.WithError(err).WithField("task_id", id).Warn("validation: не удалось закрыть задачу по таймауту")
			continue
		}
		if task.ResolvedBy != nil && *task.ResolvedBy == models.ResolvedByTimeout {
			resolved++
		}
	}
	return resolved, nil
}

func (s *ValidationService) isOverdue(t *models.ValidationTask) bool {
	return t.Status == models.TaskStatusPending && !s.now().Before(t.Deadline)
}

func (s *ValidationService) resolveTimeout(ctx context.Context, id uuid.UUID) (*models.ValidationTask, error) {
	changed := false
	task, err := s.store.Update(ctx, id, func(t *models.ValidationTask) error {
		if !s.isOverdue(t) {
			return repository.ErrSkipUpdate
		}
		t.Resolve(models.TaskStatusAutoApproved, models.ResolvedByTimeout, "", s.now())
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.finalize(ctx, task)
	}
	return task, nil
}

// AdminResolve принудительно решает задачу в pending или escalated.
func (s *ValidationService) AdminResolve(ctx context.Context, id uuid.UUID, status models.TaskStatus, notes string) (*models.ValidationTask, error) {
	if status != models.TaskStatusApproved && status != models.TaskStatusFlagged {
		return nil, apperror.Validation(fmt.Sprintf("администратор не может перевести задачу в %s", status))
	}
	var wasPending bool
	task, err := s.store.Update(ctx, id, func(t *models.ValidationTask) error {
		if t.Status.IsFinal() {
			return apperror.ErrAlreadyResolved
		}
		wasPending = t.Status == models.TaskStatusPending
		t.Resolve(status, models.ResolvedByAdmin, notes, s.now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordValidationResolution(string(task.Status), string(models.ResolvedByAdmin))
	// Голоса эскалированной задачи уже учтены в точности при эскалации.
	if wasPending {
		if err := s.ledger.RecordOutcome(ctx, task.Votes, task.Status); err != nil {
			logger.Log.WithError(err).WithField("task_id", task.ID).Error("validation: не удалось пересчитать точность")
		}
	}
	s.publish(models.EventValidationResolved, task)
	return task, nil
}

// finalize учитывает решение задачи в точности валидаторов и в статусе заказа.
func (s *ValidationService) finalize(ctx context.Context, task *models.ValidationTask) {
	resolvedBy := ""
	if task.ResolvedBy != nil {
		resolvedBy = string(*task.ResolvedBy)
	}
	metrics.RecordValidationResolution(string(task.Status), resolvedBy)

	entry := logger.Log.WithFields(logrus.Fields{
		"task_id":     task.ID,
		"order_id":    task.OrderID,
		"status":      task.Status,
		"resolved_by": resolvedBy,
	})
	entry.Info("validation: задача решена")

	if err := s.ledger.RecordOutcome(ctx, task.Votes, task.Status); err != nil {
		entry.WithError(err).Error("validation: не удалось пересчитать точность")
	}

	var outcome models.OrderStatus
	source := SourceDAO
	switch task.Status {
	case models.TaskStatusApproved:
		outcome = models.OrderStatusCompleted
	case models.TaskStatusAutoApproved:
		outcome = models.OrderStatusCompleted
		source = SourceTimeout
	case models.TaskStatusEscalated:
		outcome = models.OrderStatusDisputed
	}
	if outcome != "" {
		if _, err := s.orders.Resolve(ctx, task.OrderID, outcome, source); err != nil {
			entry.WithError(err).Warn("validation: не удалось применить решение к заказу")
		}
	}
	s.publish(models.EventValidationResolved, task)
}

func (s *ValidationService) publish(eventType string, task *models.ValidationTask) {
	var recipients []string
	if eventType == models.EventValidationResolved {
		recipients = []string{task.Snapshot.Requester, task.Snapshot.Counterparty}
		for _, v := range task.Votes {
			recipients = append(recipients, v.Reviewer)
		}
	}
	event := models.Event{
		Type:       eventType,
		OrderID:    task.OrderID,
		Status:     string(task.Status),
		Payload:    task.Summary(),
		Recipients: recipients,
		At:         s.now(),
	}
	hub := s.hub
	goroutine.SafeGo(func() {
		hub.Publish(event)
	})
}
