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

// ValidationStore хранит задачи валидации в памяти.
type ValidationStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*models.ValidationTask
}

func NewValidationStore() *ValidationStore {
	return &ValidationStore{tasks: make(map[uuid.UUID]*models.ValidationTask)}
}

func (s *ValidationStore) Create(_ context.Context, task *models.ValidationTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[task.ID]; ok {
		return fmt.Errorf("memory validation store: задача %s уже существует", task.ID)
	}
	s.tasks[task.ID] = task.Clone()
	return nil
}

func (s *ValidationStore) GetByID(_ context.Context, id uuid.UUID) (*models.ValidationTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, repository.ErrTaskNotFound
	}
	return task.Clone(), nil
}

func (s *ValidationStore) Update(_ context.Context, id uuid.UUID, fn func(*models.ValidationTask) error) (*models.ValidationTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.tasks[id]
	if !ok {
		return nil, repository.ErrTaskNotFound
	}
	draft := current.Clone()
	if err := fn(draft); err != nil {
		if errors.Is(err, repository.ErrSkipUpdate) {
			return current.Clone(), nil
		}
		return nil, err
	}
	s.tasks[id] = draft
	return draft.Clone(), nil
}

func (s *ValidationStore) List(_ context.Context, filter repository.TaskFilter) ([]models.ValidationTask, error) {
	filter = filter.Normalize()
	s.mu.Lock()
	tasks := make([]models.ValidationTask, 0)
	for _, t := range s.tasks {
		if filter.Matches(t) {
			tasks = append(tasks, *t.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return paginate(tasks, filter.Limit, filter.Offset), nil
}

func (s *ValidationStore) ListOverdue(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []uuid.UUID
	for id, t := range s.tasks {
		if t.Status == models.TaskStatusPending && !now.Before(t.Deadline) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *ValidationStore) FindByOrder(_ context.Context, orderID uuid.UUID) (*models.ValidationTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *models.ValidationTask
	for _, t := range s.tasks {
		if t.OrderID != orderID {
			continue
		}
		if latest == nil || t.CreatedAt.After(latest.CreatedAt) {
			latest = t
		}
	}
	if latest == nil {
		return nil, repository.ErrTaskNotFound
	}
	return latest.Clone(), nil
}
