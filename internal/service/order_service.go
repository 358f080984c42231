package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/swap-arbiter/internal/goroutine"
	"github.com/ignatzorin/swap-arbiter/internal/logger"
	"github.com/ignatzorin/swap-arbiter/internal/metrics"
	"github.com/ignatzorin/swap-arbiter/internal/models"
	"github.com/ignatzorin/swap-arbiter/internal/pkg/apperror"
	"github.com/ignatzorin/swap-arbiter/internal/repository"
	"github.com/ignatzorin/swap-arbiter/internal/validation"
)

// OrderStore описывает хранилище заказов.
// Update обязан выполнять fn атомарно относительно других Update того же заказа.
type OrderStore interface {
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	Update(ctx context.Context, id uuid.UUID, fn func(*models.Order) error) (*models.Order, error)
	List(ctx context.Context, filter repository.OrderFilter) ([]models.Order, error)
	ListExpired(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}

// TaskOpener открывает задачу валидации по заказу и отзывает её,
// если заказ ушёл с проверки без решения валидаторов.
type TaskOpener interface {
	CreateTask(ctx context.Context, order *models.Order) (*models.ValidationTask, error)
	Withdraw(ctx context.Context, orderID uuid.UUID, reason string) error
}

// Источники решений по заказу.
const (
	SourceParty       = "party"
	SourceDAO         = "dao"
	SourceTimeout     = "timeout"
	SourceAdmin       = "admin"
	SourceArbitration = "arbitration"
	SourceSweeper     = "sweeper"
)

// OrderPolicy параметры жизненного цикла заказа.
type OrderPolicy struct {
	TTL                 time.Duration
	DisputePeriod       time.Duration
	MinAmount           decimal.Decimal
	MaxAmount           decimal.Decimal
	ConservativeFiatCap decimal.Decimal
}

// OrderService - контроллер жизненного цикла заказа.
type OrderService struct {
	store   OrderStore
	rates   RateOracle
	limits  LimitVerifier
	settler Settler
	hub     Publisher
	tasks   TaskOpener
	policy  OrderPolicy
	now     func() time.Time
}

// NewOrderService создаёт сервис заказов.
func NewOrderService(store OrderStore, rates RateOracle, limits LimitVerifier, settler Settler, policy OrderPolicy) *OrderService {
	if settler == nil {
		settler = LogSettler{}
	}
	return &OrderService{
		store:   store,
		rates:   rates,
		limits:  limits,
		settler: settler,
		hub:     NopPublisher{},
		policy:  policy,
		now:     time.Now,
	}
}

// SetHub устанавливает шину событий.
func (s *OrderService) SetHub(hub Publisher) {
	if hub == nil {
		hub = NopPublisher{}
	}
	s.hub = hub
}

// SetTaskOpener включает открытие задач валидации при отметке оплаты.
func (s *OrderService) SetTaskOpener(tasks TaskOpener) {
	s.tasks = tasks
}

// CreateOrderInput описывает входные данные.
type CreateOrderInput struct {
	Requester  string
	AmountBase decimal.Decimal
	Currency   string
	Rail       string
}

// Create создаёт заявку. Фиатная сумма считается только по курсу оракула.
func (s *OrderService) Create(ctx context.Context, in CreateOrderInput) (*models.Order, error) {
	in.Requester = models.NormalizeAddress(in.Requester)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	in.Rail = strings.ToLower(strings.TrimSpace(in.Rail))

	if err := validation.ValidateAddress("адрес заявителя", in.Requester); err != nil {
		return nil, err
	}
	if err := validation.ValidateCurrency(in.Currency); err != nil {
		return nil, err
	}
	if err := validation.ValidateRail(in.Rail); err != nil {
		return nil, err
	}
	if err := validation.ValidateAmount(in.AmountBase, s.policy.MinAmount, s.policy.MaxAmount); err != nil {
		return nil, err
	}

	fiat, err := s.rates.FiatAmount(ctx, in.AmountBase, in.Currency)
	if err != nil {
		return nil, err
	}

	if err := s.checkLimits(ctx, in.Requester, in.AmountBase, fiat); err != nil {
		return nil, err
	}

	now := s.now()
	order := &models.Order{
		ID:         uuid.New(),
		Requester:  in.Requester,
		AmountBase: in.AmountBase,
		AmountFiat: fiat,
		Currency:   in.Currency,
		Rail:       in.Rail,
		Status:     models.OrderStatusCreated,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.policy.TTL),
		UpdatedAt:  now,
	}
	if err := s.store.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("order service: create %w", err)
	}

	metrics.RecordOrderTransition(string(order.Status))
	logger.Log.WithFields(logrus.Fields{
		"order_id":    order.ID,
		"requester":   order.Requester,
		"amount_base": order.AmountBase.String(),
		"amount_fiat": order.AmountFiat.String(),
		"currency":    order.Currency,
	}).Info("order: заявка создана")

	s.publish(models.EventOrderCreated, order, nil)
	return order, nil
}

// checkLimits вызывает верификатор. При его недоступности действует консервативный лимит.
func (s *OrderService) checkLimits(ctx context.Context, account string, base, fiat decimal.Decimal) error {
	degraded := false

	if err := s.limits.CheckBalance(ctx, account, base); err != nil {
		if !apperror.IsUpstreamUnavailable(err) {
			return err
		}
		degraded = true
		logger.Log.WithError(err).WithField("account", account).Warn("order: проверка баланса недоступна, используем консервативный лимит")
	}
	if err := s.limits.CheckTierLimit(ctx, account, fiat); err != nil {
		if !apperror.IsUpstreamUnavailable(err) {
			return err
		}
		degraded = true
		logger.Log.WithError(err).WithField("account", account).Warn("order: проверка лимита недоступна, используем консервативный лимит")
	}

	if degraded {
		metrics.RecordConservativeFallback()
		if fiat.GreaterThan(s.policy.ConservativeFiatCap) {
			return apperror.New(apperror.ErrCodeValidation, apperror.ReasonTierExceeded,
				fmt.Sprintf("сервис лимитов недоступен: сумма %s превышает временный лимит %s", fiat, s.policy.ConservativeFiatCap))
		}
	}
	return nil
}

// Get возвращает заказ, применяя отложенное истечение срока.
func (s *OrderService) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.IsExpired(s.now()) {
		return s.expire(ctx, id)
	}
	return order, nil
}

// List возвращает заказы по фильтру, применяя отложенное истечение срока.
func (s *OrderService) List(ctx context.Context, filter repository.OrderFilter) ([]models.Order, error) {
	orders, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for i := range orders {
		if !orders[i].IsExpired(now) {
			continue
		}
		expired, err := s.expire(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i] = *expired
	}
	return orders, nil
}

// Match закрепляет контрагента. Успешен ровно один из конкурирующих вызовов.
func (s *OrderService) Match(ctx context.Context, id uuid.UUID, counterparty string) (*models.Order, error) {
	if err := validation.ValidateAddress("адрес контрагента", counterparty); err != nil {
		return nil, err
	}
	return s.transition(ctx, id, "match", counterparty, func(o *models.Order, now time.Time) error {
		return o.Match(counterparty, now)
	})
}

// SubmitProof сохраняет доказательство стороны: реквизиты от заявителя
// (matched -> payment_pending) или подтверждение оплаты от контрагента.
func (s *OrderService) SubmitProof(ctx context.Context, id uuid.UUID, actor string, proof *models.Proof) (*models.Order, error) {
	if proof == nil || proof.Evidence == nil {
		return nil, apperror.Validation("доказательство обязательно")
	}
	actor = models.NormalizeAddress(actor)
	return s.transition(ctx, id, "submit_proof", actor, func(o *models.Order, now time.Time) error {
		switch actor {
		case o.Requester:
			return o.AttachDestinationProof(proof, now)
		case o.CounterpartyAddress():
			return o.AttachPaymentProof(proof, now)
		default:
			return apperror.Forbidden(apperror.ReasonNotParty, "доказательство может добавить только сторона сделки")
		}
	})
}

// MarkPaymentSent фиксирует отправку фиата контрагентом и открывает задачу валидации.
func (s *OrderService) MarkPaymentSent(ctx context.Context, id uuid.UUID, actor string, proof *models.Proof) (*models.Order, error) {
	actor = models.NormalizeAddress(actor)
	order, err := s.transition(ctx, id, "payment_sent", actor, func(o *models.Order, now time.Time) error {
		awaitingPayment := o.Status == models.OrderStatusMatched || o.Status == models.OrderStatusPaymentPending
		if awaitingPayment && (actor == "" || actor != o.CounterpartyAddress()) {
			return apperror.Forbidden(apperror.ReasonNotParty, "отметить оплату может только контрагент")
		}
		return o.MarkPaymentSent(proof, now, s.policy.DisputePeriod)
	})
	if err != nil || s.tasks == nil {
		return order, err
	}

	task, err := s.tasks.CreateTask(ctx, order)
	if err != nil {
		// Заказ остаётся в payment_sent и может быть подтверждён заявителем.
		logger.Log.WithError(err).WithField("order_id", order.ID).Error("order: не удалось открыть задачу валидации")
		return order, nil
	}

	verifying, err := s.Resolve(ctx, order.ID, models.OrderStatusVerifying, SourceDAO)
	if err != nil {
		logger.Log.WithError(err).WithFields(logrus.Fields{
			"order_id": order.ID,
			"task_id":  task.ID,
		}).Warn("order: не удалось перевести заказ на проверку")
		return order, nil
	}
	return verifying, nil
}

// Complete - подтверждение получения фиата заявителем, заказ переходит в settled.
func (s *OrderService) Complete(ctx context.Context, id uuid.UUID, actor string) (*models.Order, error) {
	actor = models.NormalizeAddress(actor)
	order, err := s.transition(ctx, id, "complete", actor, func(o *models.Order, now time.Time) error {
		if actor != o.Requester {
			return apperror.Forbidden(apperror.ReasonNotParty, "подтвердить получение может только заявитель")
		}
		return o.Complete(models.OrderStatusSettled, false, now, s.policy.DisputePeriod)
	})
	if err != nil {
		return nil, err
	}
	s.release(ctx, order)
	s.withdrawTask(ctx, order.ID, "получение подтверждено заявителем")
	return order, nil
}

// Resolve применяет решение движка (консенсус, таймаут, администратор, арбитраж).
func (s *OrderService) Resolve(ctx context.Context, id uuid.UUID, outcome models.OrderStatus, source string) (*models.Order, error) {
	var apply func(o *models.Order, now time.Time) error
	switch outcome {
	case models.OrderStatusCompleted:
		// Замороженный спором заказ завершают только арбитраж и администратор.
		allowDisputed := source == SourceArbitration || source == SourceAdmin
		apply = func(o *models.Order, now time.Time) error {
			return o.Complete(models.OrderStatusCompleted, allowDisputed, now, s.policy.DisputePeriod)
		}
	case models.OrderStatusCancelled:
		apply = func(o *models.Order, now time.Time) error { return o.Void(now) }
	case models.OrderStatusDisputed:
		apply = func(o *models.Order, now time.Time) error { return o.Freeze(now) }
	case models.OrderStatusVerifying:
		apply = func(o *models.Order, now time.Time) error { return o.BeginVerification(now) }
	default:
		return nil, apperror.Validation(fmt.Sprintf("неподдерживаемый исход %q", outcome))
	}

	order, err := s.transition(ctx, id, "resolve:"+string(outcome), source, apply)
	if err != nil {
		return nil, err
	}
	if outcome == models.OrderStatusCompleted {
		s.release(ctx, order)
	}
	return order, nil
}

// Cancel отменяет заявку (created) или возвращает её в пул (matched).
func (s *OrderService) Cancel(ctx context.Context, id uuid.UUID, actor string) (*models.Order, error) {
	return s.transition(ctx, id, "cancel", actor, func(o *models.Order, now time.Time) error {
		return o.Cancel(actor, now)
	})
}

// Dispute замораживает заказ по инициативе стороны. Уже замороженный заказ возвращается как есть.
func (s *OrderService) Dispute(ctx context.Context, id uuid.UUID, actor string) (*models.Order, error) {
	actor = models.NormalizeAddress(actor)
	order, err := s.transition(ctx, id, "dispute", actor, func(o *models.Order, now time.Time) error {
		if !o.IsParty(actor) {
			return apperror.Forbidden(apperror.ReasonNotParty, "открыть спор может только сторона сделки")
		}
		if o.Status == models.OrderStatusDisputed {
			return repository.ErrSkipUpdate
		}
		return o.Freeze(now)
	})
	if err != nil {
		return nil, err
	}
	s.withdrawTask(ctx, order.ID, "по заказу открыт спор")
	return order, nil
}

// withdrawTask закрывает открытую задачу валидации, чтобы по закрытому заказу не голосовали.
func (s *OrderService) withdrawTask(ctx context.Context, orderID uuid.UUID, reason string) {
	if s.tasks == nil {
		return
	}
	if err := s.tasks.Withdraw(ctx, orderID, reason); err != nil {
		logger.Log.WithError(err).WithField("order_id", orderID).Error("order: не удалось отозвать задачу валидации")
	}
}

// ExpireStale переводит просроченные заявки в expired. Повторный вызов безопасен.
func (s *OrderService) ExpireStale(ctx context.Context) (int, error) {
	ids, err := s.store.ListExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, id := range ids {
		order, err := s.expire(ctx, id)
		if err != nil {
			logger.Log.WithError(err).WithField("order_id", id).Warn("order: не удалось завершить просроченную заявку")
			continue
		}
		if order.Status == models.OrderStatusExpired {
			expired++
		}
	}
	return expired, nil
}

func (s *OrderService) expire(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	changed := false
	order, err := s.store.Update(ctx, id, func(o *models.Order) error {
		if !o.Expire(s.now()) {
			return repository.ErrSkipUpdate
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.afterTransition(order, models.OrderStatusCreated, "expire", SourceSweeper)
	}
	return order, nil
}

// transition атомарно применяет переход. Просроченная заявка сначала истекает,
// и действие отклоняется.
func (s *OrderService) transition(ctx context.Context, id uuid.UUID, action, actor string, apply func(*models.Order, time.Time) error) (*models.Order, error) {
	var (
		before  models.OrderStatus
		expired bool
	)
	order, err := s.store.Update(ctx, id, func(o *models.Order) error {
		now := s.now()
		before = o.Status
		if o.Expire(now) {
			expired = true
			return nil
		}
		return apply(o, now)
	})
	if err != nil {
		logger.Log.WithError(err).WithFields(logrus.Fields{
			"order_id": id,
			"action":   action,
			"actor":    actor,
		}).Debug("order: переход отклонён")
		return nil, err
	}
	if expired {
		s.afterTransition(order, before, "expire", SourceSweeper)
		return nil, apperror.IllegalTransition(fmt.Sprintf("нельзя выполнить %s: срок заявки истёк", action))
	}
	if order.Status != before || action == "submit_proof" {
		s.afterTransition(order, before, action, actor)
	}
	return order, nil
}

func (s *OrderService) afterTransition(order *models.Order, from models.OrderStatus, action, actor string) {
	if order.Status != from {
		metrics.RecordOrderTransition(string(order.Status))
	}
	logger.Log.WithFields(logrus.Fields{
		"order_id": order.ID,
		"action":   action,
		"actor":    actor,
		"from":     from,
		"to":       order.Status,
	}).Info("order: статус изменён")

	recipients := []string{order.Requester}
	if cp := order.CounterpartyAddress(); cp != "" {
		recipients = append(recipients, cp)
	}
	s.publish(models.EventOrderUpdated, order, recipients)
}

func (s *OrderService) release(ctx context.Context, order *models.Order) {
	if err := s.settler.Release(ctx, order); err != nil {
		logger.Log.WithError(err).WithField("order_id", order.ID).Error("order: исполнитель расчёта вернул ошибку")
	}
}

// publish отправляет событие асинхронно; ошибки доставки только логируются.
// publish без адресатов рассылает событие всем подключённым, поэтому артефакты скрываются.
func (s *OrderService) publish(eventType string, order *models.Order, recipients []string) {
	var payload any = order.Clone()
	if len(recipients) == 0 {
		payload = order.ViewFor("")
	}
	event := models.Event{
		Type:       eventType,
		OrderID:    order.ID,
		Status:     string(order.Status),
		Payload:    payload,
		Recipients: recipients,
		At:         s.now(),
	}
	hub := s.hub
	goroutine.SafeGo(func() {
		hub.Publish(event)
	})
}
