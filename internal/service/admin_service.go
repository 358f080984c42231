package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/swap-arbiter/internal/logger"
	"github.com/ignatzorin/swap-arbiter/internal/metrics"
	"github.com/ignatzorin/swap-arbiter/internal/models"
	"github.com/ignatzorin/swap-arbiter/internal/pkg/apperror"
	"github.com/ignatzorin/swap-arbiter/internal/validation"
)

// AuditStore журнал привилегированных действий.
type AuditStore interface {
	Append(ctx context.Context, entry *models.AuditEntry) error
	List(ctx context.Context, targetID *uuid.UUID, limit, offset int) ([]models.AuditEntry, error)
}

// TaskResolver операции над задачами, доступные администратору.
type TaskResolver interface {
	Get(ctx context.Context, id uuid.UUID) (*models.ValidationTask, error)
	AdminResolve(ctx context.Context, id uuid.UUID, status models.TaskStatus, notes string) (*models.ValidationTask, error)
}

// DisputeResolver операции над спорами, доступные администратору.
type DisputeResolver interface {
	AdminResolve(ctx context.Context, id uuid.UUID, favorRequester bool, actor, note string) (*models.Dispute, error)
	RegisterArbitrator(ctx context.Context, address, addedBy string) error
}

// Цели записей журнала.
const (
	AuditTargetTask       = "validation_task"
	AuditTargetDispute    = "dispute"
	AuditTargetArbitrator = "arbitrator"
)

// AdminService - привилегированное разрешение задач и споров по списку администраторов.
type AdminService struct {
	admins   map[string]struct{}
	tasks    TaskResolver
	disputes DisputeResolver
	orders   OrderResolver
	audit    AuditStore
	now      func() time.Time
}

func NewAdminService(admins []string, tasks TaskResolver, disputes DisputeResolver, orders OrderResolver, audit AuditStore) *AdminService {
	set := make(map[string]struct{}, len(admins))
	for _, a := range admins {
		if a = models.NormalizeAddress(a); a != "" {
			set[a] = struct{}{}
		}
	}
	return &AdminService{
		admins:   set,
		tasks:    tasks,
		disputes: disputes,
		orders:   orders,
		audit:    audit,
		now:      time.Now,
	}
}

// IsAdmin проверяет адрес по списку администраторов.
func (s *AdminService) IsAdmin(actor string) bool {
	_, ok := s.admins[models.NormalizeAddress(actor)]
	return ok
}

// ResolveTask разрешает задачу валидации: approve, slash или scheduleMeeting.
func (s *AdminService) ResolveTask(ctx context.Context, actor string, taskID uuid.UUID, resolution models.AdminResolution, notes string) (*models.ValidationTask, error) {
	actor = models.NormalizeAddress(actor)
	if !s.IsAdmin(actor) {
		s.denied(actor, "task."+string(resolution), taskID)
		return nil, apperror.ErrNotAdmin
	}
	if !resolution.IsValid() {
		return nil, apperror.Validation(fmt.Sprintf("неизвестное решение %q", resolution))
	}
	notes = validation.SanitizeString(notes)
	if err := validation.ValidateNotes(notes); err != nil {
		return nil, err
	}

	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status.IsFinal() {
		return nil, apperror.ErrAlreadyResolved
	}

	var outcome models.OrderStatus
	switch resolution {
	case models.AdminScheduleMeeting:
		// Отсрочка: состояние задачи и заказа не меняется.
		s.record(ctx, actor, "task.scheduleMeeting", AuditTargetTask, task.ID, notes)
		return task, nil
	case models.AdminApprove:
		task, err = s.tasks.AdminResolve(ctx, taskID, models.TaskStatusApproved, notes)
		outcome = models.OrderStatusCompleted
	case models.AdminSlash:
		task, err = s.tasks.AdminResolve(ctx, taskID, models.TaskStatusFlagged, notes)
		outcome = models.OrderStatusCancelled
	}
	if err != nil {
		return nil, err
	}

	if _, err := s.orders.Resolve(ctx, task.OrderID, outcome, SourceAdmin); err != nil {
		logger.Log.WithError(err).WithFields(logrus.Fields{
			"actor":    actor,
			"task_id":  task.ID,
			"order_id": task.OrderID,
		}).Warn("admin: не удалось применить решение к заказу")
	}
	s.record(ctx, actor, "task."+string(resolution), AuditTargetTask, task.ID, notes)
	return task, nil
}

// ResolveDispute разрешает спор в пользу одной из сторон.
func (s *AdminService) ResolveDispute(ctx context.Context, actor string, disputeID uuid.UUID, favorRequester bool, notes string) (*models.Dispute, error) {
	actor = models.NormalizeAddress(actor)
	if !s.IsAdmin(actor) {
		s.denied(actor, "dispute.resolve", disputeID)
		return nil, apperror.ErrNotAdmin
	}
	notes = validation.SanitizeString(notes)
	if err := validation.ValidateNotes(notes); err != nil {
		return nil, err
	}

	d, err := s.disputes.AdminResolve(ctx, disputeID, favorRequester, actor, notes)
	if err != nil {
		return nil, err
	}
	action := "dispute.favor_counterparty"
	if favorRequester {
		action = "dispute.favor_requester"
	}
	s.record(ctx, actor, action, AuditTargetDispute, d.ID, notes)
	return d, nil
}

// RegisterArbitrator добавляет арбитра в реестр.
func (s *AdminService) RegisterArbitrator(ctx context.Context, actor, address string) error {
	actor = models.NormalizeAddress(actor)
	if !s.IsAdmin(actor) {
		s.denied(actor, "arbitrator.add", uuid.Nil)
		return apperror.ErrNotAdmin
	}
	if err := s.disputes.RegisterArbitrator(ctx, address, actor); err != nil {
		return err
	}
	s.record(ctx, actor, "arbitrator.add", AuditTargetArbitrator, uuid.Nil, models.NormalizeAddress(address))
	return nil
}

// AuditLog возвращает журнал действий администраторов.
func (s *AdminService) AuditLog(ctx context.Context, actor string, targetID *uuid.UUID, limit, offset int) ([]models.AuditEntry, error) {
	if !s.IsAdmin(actor) {
		return nil, apperror.ErrNotAdmin
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.audit.List(ctx, targetID, limit, offset)
}

func (s *AdminService) record(ctx context.Context, actor, action, targetType string, targetID uuid.UUID, notes string) {
	metrics.RecordAdminAction(action)
	entry := &models.AuditEntry{
		ID:         uuid.New(),
		Actor:      actor,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Notes:      notes,
		CreatedAt:  s.now(),
	}
	fields := logrus.Fields{
		"actor":       actor,
		"action":      action,
		"target_type": targetType,
		"target_id":   targetID,
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		logger.Log.WithError(err).WithFields(fields).Error("admin: не удалось записать действие в журнал")
		return
	}
	fields["audit_seq"] = entry.Seq
	logger.Log.WithFields(fields).Warn("admin: привилегированное действие выполнено")
}

func (s *AdminService) denied(actor, action string, target uuid.UUID) {
	logger.Log.WithFields(logrus.Fields{
		"actor":     actor,
		"action":    action,
		"target_id": target,
	}).Warn("admin: отказано в доступе")
}
