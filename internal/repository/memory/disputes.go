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
	"github.com/ignatzorin/swap-arbiter/internal/pkg/apperror"
	"github.com/ignatzorin/swap-arbiter/internal/repository"
)

// DisputeStore хранит споры в памяти.
type DisputeStore struct {
	mu       sync.Mutex
	disputes map[uuid.UUID]*models.Dispute
}

func NewDisputeStore() *DisputeStore {
	return &DisputeStore{disputes: make(map[uuid.UUID]*models.Dispute)}
}

// Create отклоняет второй незакрытый спор по тому же заказу.
func (s *DisputeStore) Create(_ context.Context, dispute *models.Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.disputes[dispute.ID]; ok {
		return fmt.Errorf("memory dispute store: спор %s уже существует", dispute.ID)
	}
	for _, d := range s.disputes {
		if d.OrderID == dispute.OrderID && d.Status != models.DisputeStatusResolved {
			return apperror.ErrDisputeExists
		}
	}
	s.disputes[dispute.ID] = dispute.Clone()
	return nil
}

// Delete удаляет спор. Отсутствующий спор не считается ошибкой.
func (s *DisputeStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.disputes, id)
	return nil
}

func (s *DisputeStore) GetByID(_ context.Context, id uuid.UUID) (*models.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.disputes[id]
	if !ok {
		return nil, repository.ErrDisputeNotFound
	}
	return d.Clone(), nil
}

func (s *DisputeStore) Update(_ context.Context, id uuid.UUID, fn func(*models.Dispute) error) (*models.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.disputes[id]
	if !ok {
		return nil, repository.ErrDisputeNotFound
	}
	draft := current.Clone()
	if err := fn(draft); err != nil {
		if errors.Is(err, repository.ErrSkipUpdate) {
			return current.Clone(), nil
		}
		return nil, err
	}
	s.disputes[id] = draft
	return draft.Clone(), nil
}

func (s *DisputeStore) List(_ context.Context, status models.DisputeStatus, limit, offset int) ([]models.Dispute, error) {
	s.mu.Lock()
	out := make([]models.Dispute, 0)
	for _, d := range s.disputes {
		if status == "" || d.Status == status {
			out = append(out, *d.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, limit, offset), nil
}

func (s *DisputeStore) ListOverdue(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []uuid.UUID
	for id, d := range s.disputes {
		if d.Status == models.DisputeStatusVoting && d.VotingDeadline != nil && !now.Before(*d.VotingDeadline) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *DisputeStore) ListForParticipant(_ context.Context, address string, limit, offset int) ([]models.Dispute, error) {
	address = models.NormalizeAddress(address)

	s.mu.Lock()
	out := make([]models.Dispute, 0)
	for _, d := range s.disputes {
		if d.IsParty(address) || d.IsArbitrator(address) {
			out = append(out, *d.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, limit, offset), nil
}
