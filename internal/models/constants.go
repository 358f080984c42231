package models

// OrderStatus статус заявки на обмен.
type OrderStatus string

const (
	OrderStatusCreated        OrderStatus = "created"
	OrderStatusMatched        OrderStatus = "matched"
	OrderStatusPaymentPending OrderStatus = "payment_pending"
	OrderStatusPaymentSent    OrderStatus = "payment_sent"
	OrderStatusVerifying      OrderStatus = "verifying"
	OrderStatusCompleted      OrderStatus = "completed"
	OrderStatusDisputed       OrderStatus = "disputed"
	OrderStatusCancelled      OrderStatus = "cancelled"
	OrderStatusExpired        OrderStatus = "expired"
	OrderStatusSettled        OrderStatus = "settled"
)

func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusCreated, OrderStatusMatched, OrderStatusPaymentPending, OrderStatusPaymentSent,
		OrderStatusVerifying, OrderStatusCompleted, OrderStatusDisputed, OrderStatusCancelled,
		OrderStatusExpired, OrderStatusSettled:
		return true
	}
	return false
}

// IsTerminal сообщает, что из статуса переходов больше нет.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusCancelled, OrderStatusExpired, OrderStatusSettled:
		return true
	}
	return false
}

// TaskStatus статус задачи валидации.
type TaskStatus string

const (
	TaskStatusPending      TaskStatus = "pending"
	TaskStatusApproved     TaskStatus = "approved"
	TaskStatusFlagged      TaskStatus = "flagged"
	TaskStatusEscalated    TaskStatus = "escalated"
	TaskStatusAutoApproved TaskStatus = "auto_approved"
	// TaskStatusWithdrawn: заказ покинул проверку без решения пула (подтверждение заявителем или спор).
	TaskStatusWithdrawn TaskStatus = "withdrawn"
)

// IsFinal: escalated не финален, его ещё разрешает администратор.
func (s TaskStatus) IsFinal() bool {
	switch s {
	case TaskStatusApproved, TaskStatusFlagged, TaskStatusAutoApproved, TaskStatusWithdrawn:
		return true
	}
	return false
}

// ImpliesGenuine сообщает, признана ли оплата подлинной. ok=false пока задача не решена
// и для отозванной задачи.
func (s TaskStatus) ImpliesGenuine() (genuine bool, ok bool) {
	switch s {
	case TaskStatusApproved, TaskStatusAutoApproved:
		return true, true
	case TaskStatusEscalated, TaskStatusFlagged:
		return false, true
	}
	return false, false
}

// ResolvedBy кто разрешил задачу.
type ResolvedBy string

const (
	ResolvedByDAO     ResolvedBy = "dao"
	ResolvedByAdmin   ResolvedBy = "admin"
	ResolvedByTimeout ResolvedBy = "timeout"
	ResolvedByParty   ResolvedBy = "party"
)

// Decision голос валидатора.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionFlag    Decision = "flag"
)

func (d Decision) IsValid() bool {
	return d == DecisionApprove || d == DecisionFlag
}

// DisputeStatus статус спора.
type DisputeStatus string

const (
	DisputeStatusOpen      DisputeStatus = "open"
	DisputeStatusVoting    DisputeStatus = "voting"
	DisputeStatusResolved  DisputeStatus = "resolved"
	DisputeStatusEscalated DisputeStatus = "escalated"
)

// DisputeDecision итог спора.
type DisputeDecision string

const (
	DecisionFavorRequester    DisputeDecision = "favor_requester"
	DecisionFavorCounterparty DisputeDecision = "favor_counterparty"
)

// AdminResolution решение администратора по задаче.
type AdminResolution string

const (
	AdminApprove         AdminResolution = "approve"
	AdminSlash           AdminResolution = "slash"
	AdminScheduleMeeting AdminResolution = "scheduleMeeting"
)

func (r AdminResolution) IsValid() bool {
	switch r {
	case AdminApprove, AdminSlash, AdminScheduleMeeting:
		return true
	}
	return false
}
