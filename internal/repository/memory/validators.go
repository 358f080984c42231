package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ignatzorin/swap-arbiter/internal/models"
	"github.com/ignatzorin/swap-arbiter/internal/repository"
)

// ValidatorStore хранит профили валидаторов в памяти.
type ValidatorStore struct {
	mu       sync.Mutex
	profiles map[string]*models.ValidatorProfile
	now      func() time.Time
}

func NewValidatorStore() *ValidatorStore {
	return &ValidatorStore{profiles: make(map[string]*models.ValidatorProfile), now: time.Now}
}

func (s *ValidatorStore) Get(_ context.Context, address string) (*models.ValidatorProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[models.NormalizeAddress(address)]
	if !ok {
		return nil, repository.ErrValidatorNotFound
	}
	c := *p
	return &c, nil
}

func (s *ValidatorStore) Upsert(_ context.Context, address string, fn func(*models.ValidatorProfile) error) (*models.ValidatorProfile, error) {
	address = models.NormalizeAddress(address)

	s.mu.Lock()
	defer s.mu.Unlock()

	var draft models.ValidatorProfile
	if p, ok := s.profiles[address]; ok {
		draft = *p
	} else {
		draft = *models.NewValidatorProfile(address, s.now())
	}
	if err := fn(&draft); err != nil {
		return nil, err
	}
	stored := draft
	s.profiles[address] = &stored
	return &draft, nil
}

func (s *ValidatorStore) List(_ context.Context, limit, offset int) ([]models.ValidatorProfile, error) {
	s.mu.Lock()
	profiles := make([]models.ValidatorProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		profiles = append(profiles, *p)
	}
	s.mu.Unlock()

	sort.Slice(profiles, func(i, j int) bool {
		a, b := profiles[i], profiles[j]
		if a.Accuracy != b.Accuracy {
			return a.Accuracy > b.Accuracy
		}
		if a.TotalReviews != b.TotalReviews {
			return a.TotalReviews > b.TotalReviews
		}
		return a.Address < b.Address
	})
	return paginate(profiles, limit, offset), nil
}

func (s *ValidatorStore) ListEligible(_ context.Context, minReviews int, minAccuracy float64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for addr, p := range s.profiles {
		if p.TotalReviews >= minReviews && p.Accuracy >= minAccuracy {
			out = append(out, addr)
		}
	}
	sort.Strings(out)
	return out, nil
}
