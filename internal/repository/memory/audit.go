package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ignatzorin/swap-arbiter/internal/models"
)

// AuditStore журнал действий администраторов в памяти.
type AuditStore struct {
	mu      sync.Mutex
	entries []models.AuditEntry
}

func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

func (s *AuditStore) Append(_ context.Context, entry *models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevHash := ""
	if n := len(s.entries); n > 0 {
		prevHash = s.entries[n-1].Hash
	}
	entry.Seq = int64(len(s.entries)) + 1
	entry.Seal(prevHash)
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *AuditStore) List(_ context.Context, targetID *uuid.UUID, limit, offset int) ([]models.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.AuditEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if targetID == nil || e.TargetID == *targetID {
			out = append(out, e)
		}
	}
	return paginate(out, limit, offset), nil
}
