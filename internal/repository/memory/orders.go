// Package memory содержит хранилища в памяти процесса для разработки и тестов.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/swap-arbiter/internal/models"
	"github.com/ignatzorin/swap-arbiter/internal/repository"
)

// OrderStore хранит заказы в памяти. Наружу отдаются только копии.
type OrderStore struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*models.Order
}

func NewOrderStore() *OrderStore {
	return &OrderStore{orders: make(map[uuid.UUID]*models.Order)}
}

func (s *OrderStore) Create(_ context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[order.ID]; ok {
		return fmt.Errorf("memory order store: заказ %s уже существует", order.ID)
	}
	s.orders[order.ID] = order.Clone()
	return nil
}

func (s *OrderStore) GetByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// Update применяет fn к копии и сохраняет её, только если fn не вернула ошибку.
func (s *OrderStore) Update(_ context.Context, id uuid.UUID, fn func(*models.Order) error) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	draft := current.Clone()
	if err := fn(draft); err != nil {
		if errors.Is(err, repository.ErrSkipUpdate) {
			return current.Clone(), nil
		}
		return nil, err
	}
	s.orders[id] = draft
	return draft.Clone(), nil
}

func (s *OrderStore) List(_ context.Context, filter repository.OrderFilter) ([]models.Order, error) {
	filter = filter.Normalize()

	s.mu.Lock()
	matched := make([]models.Order, 0)
	for _, o := range s.orders {
		if filter.Matches(o) {
			matched = append(matched, *o.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return paginate(matched, filter.Limit, filter.Offset), nil
}

func (s *OrderStore) ListExpired(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []uuid.UUID
	for id, o := range s.orders {
		if o.IsExpired(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
