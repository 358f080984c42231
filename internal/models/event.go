package models

import (
	"time"

	"github.com/google/uuid"
)

// Типы событий для шины уведомлений.
const (
	EventOrderCreated       = "order_created"
	EventOrderUpdated       = "order_updated"
	EventValidationCreated  = "validation_created"
	EventValidationResolved = "validation_resolved"
	EventDisputeCreated     = "dispute_created"
	EventDisputeUpdated     = "dispute_updated"
)

// Event - событие изменения состояния.
// Recipients пуст для широковещательных событий.
type Event struct {
	Type       string    `json:"type"`
	OrderID    uuid.UUID `json:"order_id"`
	Status     string    `json:"status"`
	Payload    any       `json:"payload,omitempty"`
	Recipients []string  `json:"-"`
	At         time.Time `json:"at"`
}
