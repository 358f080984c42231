package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/swap-arbiter/internal/pkg/apperror"
)

// Order описывает заявку на обмен стейблкоина на фиат.
type Order struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	Requester        string          `db:"requester" json:"requester"`
	Counterparty     *string         `db:"counterparty" json:"counterparty,omitempty"`
	AmountBase       decimal.Decimal `db:"amount_base" json:"amount_base"`
	AmountFiat       decimal.Decimal `db:"amount_fiat" json:"amount_fiat"`
	Currency         string          `db:"currency" json:"currency"`
	Rail             string          `db:"rail" json:"rail"`
	DestinationProof *Proof          `db:"destination_proof" json:"destination_proof,omitempty"`
	PaymentProof     *Proof          `db:"payment_proof" json:"payment_proof,omitempty"`
	Status           OrderStatus     `db:"status" json:"status"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	ExpiresAt        time.Time       `db:"expires_at" json:"expires_at"`
	MatchedAt        *time.Time      `db:"matched_at" json:"matched_at,omitempty"`
	PaymentSentAt    *time.Time      `db:"payment_sent_at" json:"payment_sent_at,omitempty"`
	DisputePeriodEnd *time.Time      `db:"dispute_period_end" json:"dispute_period_end,omitempty"`
	CompletedAt      *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	SettledAt        *time.Time      `db:"settled_at" json:"settled_at,omitempty"`
	CancelledAt      *time.Time      `db:"cancelled_at" json:"cancelled_at,omitempty"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// NormalizeAddress приводит адрес аккаунта к каноничному виду.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// IsParty проверяет, является ли адрес стороной сделки.
func (o *Order) IsParty(addr string) bool {
	addr = NormalizeAddress(addr)
	if addr == "" {
		return false
	}
	return o.Requester == addr || o.CounterpartyAddress() == addr
}

// CounterpartyAddress возвращает адрес контрагента или пустую строку.
func (o *Order) CounterpartyAddress() string {
	if o.Counterparty == nil {
		return ""
	}
	return *o.Counterparty
}

// Clone возвращает глубокую копию заказа.
func (o *Order) Clone() *Order {
	c := *o
	if o.Counterparty != nil {
		cp := *o.Counterparty
		c.Counterparty = &cp
	}
	c.DestinationProof = o.DestinationProof.Clone()
	c.PaymentProof = o.PaymentProof.Clone()
	c.MatchedAt = cloneTime(o.MatchedAt)
	c.PaymentSentAt = cloneTime(o.PaymentSentAt)
	c.DisputePeriodEnd = cloneTime(o.DisputePeriodEnd)
	c.CompletedAt = cloneTime(o.CompletedAt)
	c.SettledAt = cloneTime(o.SettledAt)
	c.CancelledAt = cloneTime(o.CancelledAt)
	return &c
}

// OrderView - представление заказа для выдачи наружу. Артефакты доказательств
// видят только стороны сделки, остальным отдаются флаги наличия.
type OrderView struct {
	*Order
	HasDestinationProof bool `json:"has_destination_proof"`
	HasPaymentProof     bool `json:"has_payment_proof"`
}

// ViewFor строит представление заказа для viewer. Пустой viewer - анонимный запрос.
func (o *Order) ViewFor(viewer string) OrderView {
	view := OrderView{
		Order:               o.Clone(),
		HasDestinationProof: o.DestinationProof != nil,
		HasPaymentProof:     o.PaymentProof != nil,
	}
	if !o.IsParty(viewer) {
		view.DestinationProof = nil
		view.PaymentProof = nil
	}
	return view
}

// IsExpired сообщает, истёк ли срок неподобранной заявки.
func (o *Order) IsExpired(now time.Time) bool {
	return o.Status == OrderStatusCreated && !now.Before(o.ExpiresAt)
}

// Expire переводит просроченную заявку в expired. Возвращает false, если переход не нужен.
func (o *Order) Expire(now time.Time) bool {
	if !o.IsExpired(now) {
		return false
	}
	o.Status = OrderStatusExpired
	o.UpdatedAt = now
	return true
}

// Match закрепляет контрагента за заявкой.
func (o *Order) Match(counterparty string, now time.Time) error {
	if err := o.ensureStatus("принять заявку", OrderStatusCreated); err != nil {
		return err
	}
	counterparty = NormalizeAddress(counterparty)
	if counterparty == o.Requester {
		return apperror.Forbidden(apperror.ReasonSelfInterest, "нельзя принять собственную заявку")
	}
	o.Counterparty = &counterparty
	o.MatchedAt = &now
	o.Status = OrderStatusMatched
	o.UpdatedAt = now
	return nil
}

// AttachDestinationProof сохраняет QR/реквизиты получателя и ждёт оплаты.
func (o *Order) AttachDestinationProof(proof *Proof, now time.Time) error {
	if err := o.ensureStatus("добавить реквизиты", OrderStatusMatched); err != nil {
		return err
	}
	o.DestinationProof = proof
	o.Status = OrderStatusPaymentPending
	o.UpdatedAt = now
	return nil
}

// AttachPaymentProof сохраняет подтверждение оплаты контрагента без смены статуса.
func (o *Order) AttachPaymentProof(proof *Proof, now time.Time) error {
	if err := o.ensureStatus("добавить подтверждение оплаты", OrderStatusMatched, OrderStatusPaymentPending); err != nil {
		return err
	}
	o.PaymentProof = proof
	o.UpdatedAt = now
	return nil
}

// MarkPaymentSent фиксирует, что контрагент отправил фиат, и открывает окно споров.
func (o *Order) MarkPaymentSent(proof *Proof, now time.Time, disputePeriod time.Duration) error {
	if err := o.ensureStatus("отметить оплату", OrderStatusMatched, OrderStatusPaymentPending); err != nil {
		return err
	}
	if proof != nil {
		o.PaymentProof = proof
	}
	end := now.Add(disputePeriod)
	o.PaymentSentAt = &now
	o.DisputePeriodEnd = &end
	o.Status = OrderStatusPaymentSent
	o.UpdatedAt = now
	return nil
}

// BeginVerification переводит заказ на проверку валидаторами.
func (o *Order) BeginVerification(now time.Time) error {
	if err := o.ensureStatus("начать проверку", OrderStatusPaymentSent); err != nil {
		return err
	}
	o.Status = OrderStatusVerifying
	o.UpdatedAt = now
	return nil
}

// Complete завершает сделку и разрешает выпуск средств.
// final - completed (решение движка) или settled (подтверждение самой стороной).
func (o *Order) Complete(final OrderStatus, allowDisputed bool, now time.Time, disputePeriod time.Duration) error {
	if final != OrderStatusCompleted && final != OrderStatusSettled {
		return apperror.Validation(fmt.Sprintf("некорректный итоговый статус %s", final))
	}
	allowed := []OrderStatus{OrderStatusPaymentSent, OrderStatusVerifying}
	if allowDisputed {
		allowed = append(allowed, OrderStatusDisputed)
	}
	if err := o.ensureStatus("завершить заказ", allowed...); err != nil {
		return err
	}
	end := now.Add(disputePeriod)
	o.CompletedAt = &now
	o.SettledAt = &now
	o.DisputePeriodEnd = &end
	o.Status = final
	o.UpdatedAt = now
	return nil
}

// Freeze замораживает заказ в статусе disputed до решения арбитров или администратора.
func (o *Order) Freeze(now time.Time) error {
	if err := o.ensureStatus("открыть спор", OrderStatusPaymentPending, OrderStatusPaymentSent, OrderStatusVerifying); err != nil {
		return err
	}
	o.Status = OrderStatusDisputed
	o.UpdatedAt = now
	return nil
}

// Void отменяет заказ после оплаты по решению движка (slash, проигрыш контрагента).
func (o *Order) Void(now time.Time) error {
	if err := o.ensureStatus("аннулировать заказ", OrderStatusPaymentSent, OrderStatusVerifying, OrderStatusDisputed); err != nil {
		return err
	}
	o.CancelledAt = &now
	o.Status = OrderStatusCancelled
	o.UpdatedAt = now
	return nil
}

// Cancel отменяет заявку стороной: created -> cancelled, matched -> created.
func (o *Order) Cancel(actor string, now time.Time) error {
	actor = NormalizeAddress(actor)
	if !o.IsParty(actor) {
		return apperror.Forbidden(apperror.ReasonNotParty, "отменить заказ может только сторона сделки")
	}
	switch o.Status {
	case OrderStatusCreated:
		if actor != o.Requester {
			return apperror.Forbidden(apperror.ReasonNotParty, "отменить заявку может только её автор")
		}
		o.CancelledAt = &now
		o.Status = OrderStatusCancelled
	case OrderStatusMatched:
		o.Counterparty = nil
		o.MatchedAt = nil
		o.PaymentProof = nil
		o.Status = OrderStatusCreated
	default:
		return apperror.IllegalTransition(fmt.Sprintf("нельзя отменить заказ в статусе %s", o.Status))
	}
	o.UpdatedAt = now
	return nil
}

func (o *Order) ensureStatus(action string, allowed ...OrderStatus) error {
	if o.Status.IsTerminal() {
		return apperror.IllegalTransition(fmt.Sprintf("нельзя %s: заказ уже в конечном статусе %s", action, o.Status))
	}
	for _, s := range allowed {
		if o.Status == s {
			return nil
		}
	}
	return apperror.IllegalTransition(fmt.Sprintf("нельзя %s в статусе %s", action, o.Status))
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
