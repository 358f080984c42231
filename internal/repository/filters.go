package repository

import "github.com/ignatzorin/swap-arbiter/internal/models"

// OrderFilter параметры выборки заказов.
type OrderFilter struct {
	Status    models.OrderStatus
	Requester string
	Party     string
	Limit     int
	Offset    int
}

// Normalize выставляет значения пагинации по умолчанию.
func (f OrderFilter) Normalize() OrderFilter {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	f.Requester = models.NormalizeAddress(f.Requester)
	f.Party = models.NormalizeAddress(f.Party)
	return f
}

// Matches проверяет заказ на соответствие фильтру (используется in-memory хранилищем).
func (f OrderFilter) Matches(o *models.Order) bool {
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.Requester != "" && o.Requester != f.Requester {
		return false
	}
	if f.Party != "" && !o.IsParty(f.Party) {
		return false
	}
	return true
}

// TaskFilter параметры выборки задач валидации. ExcludeParty отбрасывает задачи,
// где адрес является стороной сделки по снимку, до пагинации.
type TaskFilter struct {
	Status       models.TaskStatus
	ExcludeParty string
	Limit        int
	Offset       int
}

// Normalize выставляет значения пагинации по умолчанию.
func (f TaskFilter) Normalize() TaskFilter {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	f.ExcludeParty = models.NormalizeAddress(f.ExcludeParty)
	return f
}

// Matches проверяет задачу на соответствие фильтру (используется in-memory хранилищем).
func (f TaskFilter) Matches(t *models.ValidationTask) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.ExcludeParty != "" && t.Snapshot.IsParty(f.ExcludeParty) {
		return false
	}
	return true
}
