package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ignatzorin/swap-arbiter/internal/models"
)

// ArbitratorStore реестр арбитров в памяти.
type ArbitratorStore struct {
	mu    sync.Mutex
	addrs map[string]string
}

func NewArbitratorStore() *ArbitratorStore {
	return &ArbitratorStore{addrs: make(map[string]string)}
}

func (s *ArbitratorStore) Add(_ context.Context, address, addedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	address = models.NormalizeAddress(address)
	if _, ok := s.addrs[address]; !ok {
		s.addrs[address] = models.NormalizeAddress(addedBy)
	}
	return nil
}

func (s *ArbitratorStore) Remove(_ context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.addrs, models.NormalizeAddress(address))
	return nil
}

func (s *ArbitratorStore) List(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.addrs))
	for addr := range s.addrs {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out, nil
}
