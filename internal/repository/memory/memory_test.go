package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/swap-arbiter/internal/models"
	"github.com/ignatzorin/swap-arbiter/internal/pkg/apperror"
	"github.com/ignatzorin/swap-arbiter/internal/repository"
)

func newOrder(requester string, createdAt time.Time) *models.Order {
	return &models.Order{
		ID:         uuid.New(),
		Requester:  requester,
		AmountBase: decimal.NewFromInt(10),
		AmountFiat: decimal.NewFromInt(830),
		Currency:   "INR",
		Rail:       "upi",
		Status:     models.OrderStatusCreated,
		CreatedAt:  createdAt,
		ExpiresAt:  createdAt.Add(30 * time.Minute),
		UpdatedAt:  createdAt,
	}
}

func TestOrderStore_ReturnsCopies(t *testing.T) {
	store := NewOrderStore()
	ctx := context.Background()
	order := newOrder("alice", time.Now())
	require.NoError(t, store.Create(ctx, order))

	got, err := store.GetByID(ctx, order.ID)
	require.NoError(t, err)
	got.Status = models.OrderStatusCancelled

	again, err := store.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCreated, again.Status)
}

func TestOrderStore_GetMissing(t *testing.T) {
	store := NewOrderStore()
	_, err := store.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, repository.ErrOrderNotFound)
	assert.True(t, apperror.IsNotFound(err))
}

func TestOrderStore_UpdateRollsBackOnError(t *testing.T) {
	store := NewOrderStore()
	ctx := context.Background()
	order := newOrder("alice", time.Now())
	require.NoError(t, store.Create(ctx, order))

	boom := errors.New("boom")
	_, err := store.Update(ctx, order.ID, func(o *models.Order) error {
		o.Status = models.OrderStatusMatched
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, _ := store.GetByID(ctx, order.ID)
	assert.Equal(t, models.OrderStatusCreated, got.Status)
}

func TestOrderStore_UpdateSkip(t *testing.T) {
	store := NewOrderStore()
	ctx := context.Background()
	order := newOrder("alice", time.Now())
	require.NoError(t, store.Create(ctx, order))

	got, err := store.Update(ctx, order.ID, func(o *models.Order) error {
		o.Status = models.OrderStatusMatched
		return repository.ErrSkipUpdate
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCreated, got.Status)
}

func TestOrderStore_ConcurrentMatchIsExclusive(t *testing.T) {
	store := NewOrderStore()
	ctx := context.Background()
	now := time.Now()
	order := newOrder("alice", now)
	require.NoError(t, store.Create(ctx, order))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for _, who := range []string{"bob", "carol", "dave", "erin"} {
		wg.Add(1)
		go func(who string) {
			defer wg.Done()
			_, err := store.Update(ctx, order.ID, func(o *models.Order) error {
				return o.Match(who, now)
			})
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(who)
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

func TestOrderStore_ListFilterAndOrder(t *testing.T) {
	store := NewOrderStore()
	ctx := context.Background()
	base := time.Now()

	first := newOrder("alice", base)
	second := newOrder("alice", base.Add(time.Minute))
	other := newOrder("bob", base.Add(2*time.Minute))
	for _, o := range []*models.Order{first, second, other} {
		require.NoError(t, store.Create(ctx, o))
	}

	orders, err := store.List(ctx, repository.OrderFilter{Requester: "ALICE"})
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, second.ID, orders[0].ID)
	assert.Equal(t, first.ID, orders[1].ID)

	page, err := store.List(ctx, repository.OrderFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, second.ID, page[0].ID)
}

func TestOrderStore_ListExpired(t *testing.T) {
	store := NewOrderStore()
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)
	stale := newOrder("alice", past)
	fresh := newOrder("alice", time.Now())
	require.NoError(t, store.Create(ctx, stale))
	require.NoError(t, store.Create(ctx, fresh))

	ids, err := store.ListExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{stale.ID}, ids)
}

func TestDisputeStore_RejectsSecondActiveDispute(t *testing.T) {
	store := NewDisputeStore()
	ctx := context.Background()
	orderID := uuid.New()

	first := &models.Dispute{ID: uuid.New(), OrderID: orderID, Status: models.DisputeStatusOpen, CreatedAt: time.Now()}
	require.NoError(t, store.Create(ctx, first))

	second := &models.Dispute{ID: uuid.New(), OrderID: orderID, Status: models.DisputeStatusOpen, CreatedAt: time.Now()}
	assert.ErrorIs(t, store.Create(ctx, second), apperror.ErrDisputeExists)

	_, err := store.Update(ctx, first.ID, func(d *models.Dispute) error {
		d.Resolve(models.DecisionFavorRequester, "admin", "", time.Now())
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, store.Create(ctx, second))
}

func TestValidationStore_ListOverdue(t *testing.T) {
	store := NewValidationStore()
	ctx := context.Background()
	now := time.Now()

	overdue := &models.ValidationTask{ID: uuid.New(), Status: models.TaskStatusPending, Deadline: now.Add(-time.Minute), CreatedAt: now}
	pending := &models.ValidationTask{ID: uuid.New(), Status: models.TaskStatusPending, Deadline: now.Add(time.Hour), CreatedAt: now}
	done := &models.ValidationTask{ID: uuid.New(), Status: models.TaskStatusApproved, Deadline: now.Add(-time.Hour), CreatedAt: now}
	for _, task := range []*models.ValidationTask{overdue, pending, done} {
		require.NoError(t, store.Create(ctx, task))
	}

	ids, err := store.ListOverdue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{overdue.ID}, ids)
}

func TestValidatorStore_UpsertCreatesProfile(t *testing.T) {
	store := NewValidatorStore()
	ctx := context.Background()

	p, err := store.Upsert(ctx, "V1", func(p *models.ValidatorProfile) error {
		p.CreditReview(models.DecisionApprove, decimal.RequireFromString("0.5"), time.Now())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "v1", p.Address)
	assert.Equal(t, 1, p.TotalReviews)

	got, err := store.Get(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, got.TotalReward.Equal(decimal.RequireFromString("0.5")))

	_, err = store.Get(ctx, "unknown")
	assert.ErrorIs(t, err, repository.ErrValidatorNotFound)
}

func TestValidatorStore_ListEligible(t *testing.T) {
	store := NewValidatorStore()
	ctx := context.Background()
	seed := func(addr string, reviews, correct int) {
		_, err := store.Upsert(ctx, addr, func(p *models.ValidatorProfile) error {
			for i := 0; i < reviews; i++ {
				p.CreditReview(models.DecisionApprove, decimal.Zero, time.Now())
				p.RecordOutcome(i < correct, time.Now())
			}
			return nil
		})
		require.NoError(t, err)
	}
	seed("veteran", 25, 24)
	seed("novice", 3, 3)
	seed("sloppy", 30, 10)

	eligible, err := store.ListEligible(ctx, 20, 80)
	require.NoError(t, err)
	assert.Equal(t, []string{"veteran"}, eligible)
}

func TestAuditStore_ChainsEntries(t *testing.T) {
	store := NewAuditStore()
	ctx := context.Background()
	target := uuid.New()

	for i := 0; i < 3; i++ {
		entry := &models.AuditEntry{ID: uuid.New(), Actor: "admin", Action: "approve", TargetType: "validation", TargetID: target, CreatedAt: time.Now()}
		require.NoError(t, store.Append(ctx, entry))
	}

	entries, err := store.List(ctx, &target, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "", entries[0].PrevHash)
	for i, e := range entries {
		assert.Equal(t, int64(i+1), e.Seq)
		assert.True(t, e.Verify())
		if i > 0 {
			assert.Equal(t, entries[i-1].Hash, e.PrevHash)
		}
	}
}

func TestArbitratorStore_AddIsIdempotent(t *testing.T) {
	store := NewArbitratorStore()
	ctx := context.Background()
	require.NoError(t, store.Add(ctx, "Arb1", "admin"))
	require.NoError(t, store.Add(ctx, "arb1", "admin"))
	require.NoError(t, store.Add(ctx, "arb2", "admin"))

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"arb1", "arb2"}, list)

	require.NoError(t, store.Remove(ctx, "ARB1"))
	list, _ = store.List(ctx)
	assert.Equal(t, []string{"arb2"}, list)
}

func TestValidationStore_ListExcludesPartyBeforePaging(t *testing.T) {
	store := NewValidationStore()
	ctx := context.Background()
	now := time.Now()

	newTask := func(requester, counterparty string, age time.Duration) *models.ValidationTask {
		task := &models.ValidationTask{
			ID:        uuid.New(),
			Status:    models.TaskStatusPending,
			Snapshot:  models.EvidenceSnapshot{Requester: requester, Counterparty: counterparty},
			Deadline:  now.Add(time.Hour),
			CreatedAt: now.Add(-age),
		}
		require.NoError(t, store.Create(ctx, task))
		return task
	}
	// Свои задачи самые свежие и стоят первыми в выдаче.
	newTask("alice", "bob", time.Second)
	newTask("carol", "alice", 2*time.Second)
	older := newTask("carol", "dave", 3*time.Second)
	oldest := newTask("erin", "dave", 4*time.Second)

	page, err := store.List(ctx, repository.TaskFilter{Status: models.TaskStatusPending, ExcludeParty: "ALICE", Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, older.ID, page[0].ID)
	assert.Equal(t, oldest.ID, page[1].ID)

	next, err := store.List(ctx, repository.TaskFilter{Status: models.TaskStatusPending, ExcludeParty: "alice", Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Empty(t, next)

	all, err := store.List(ctx, repository.TaskFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)
}
