package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/swap-arbiter/internal/models"
	"github.com/ignatzorin/swap-arbiter/internal/pkg/apperror"
)

func TestValidationService_ConsensusApproves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, task := f.verifying(t)

	for _, reviewer := range []string{"val1", "val2"} {
		summary, err := f.validations.Vote(ctx, task.ID, reviewer, models.DecisionApprove, "")
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusPending, summary.Status)
	}
	summary, err := f.validations.Vote(ctx, task.ID, "val3", models.DecisionFlag, "не вижу зачисления")
	require.NoError(t, err)

	assert.Equal(t, models.TaskStatusApproved, summary.Status)
	assert.Equal(t, 2, summary.Approves)
	assert.Equal(t, 1, summary.Flags)
	require.NotNil(t, summary.ResolvedBy)
	assert.Equal(t, models.ResolvedByDAO, *summary.ResolvedBy)

	completed := f.order(t, order.ID)
	assert.Equal(t, models.OrderStatusCompleted, completed.Status)
	assert.Equal(t, 1, f.settler.count(order.ID))

	// Вознаграждение за участие начисляется всем, точность - по итогу.
	for _, reviewer := range []string{"val1", "val2", "val3"} {
		profile, err := f.ledger.Profile(ctx, reviewer)
		require.NoError(t, err)
		assert.Equal(t, 1, profile.TotalReviews)
		assert.True(t, profile.TotalReward.Equal(testReward))
		assert.Equal(t, 1, profile.ResolvedVotes)
	}
	val3, err := f.ledger.Profile(ctx, "val3")
	require.NoError(t, err)
	assert.Zero(t, val3.Accuracy)
	assert.Equal(t, 1, val3.Flags)
	val1, err := f.ledger.Profile(ctx, "val1")
	require.NoError(t, err)
	assert.Equal(t, float64(100), val1.Accuracy)

	assert.Eventually(t, func() bool {
		return f.hub.has(models.EventValidationResolved, string(models.TaskStatusApproved))
	}, time.Second, 10*time.Millisecond)
}

func TestValidationService_FlagMajorityEscalates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, task := f.verifying(t)

	_, err := f.validations.Vote(ctx, task.ID, "val1", models.DecisionFlag, "")
	require.NoError(t, err)
	_, err = f.validations.Vote(ctx, task.ID, "val2", models.DecisionFlag, "")
	require.NoError(t, err)
	summary, err := f.validations.Vote(ctx, task.ID, "val3", models.DecisionApprove, "")
	require.NoError(t, err)

	assert.Equal(t, models.TaskStatusEscalated, summary.Status)
	assert.Equal(t, models.OrderStatusDisputed, f.order(t, order.ID).Status)
	assert.Zero(t, f.settler.count(order.ID))

	flagger, err := f.ledger.Profile(ctx, "val1")
	require.NoError(t, err)
	assert.Equal(t, float64(100), flagger.Accuracy)
	approver, err := f.ledger.Profile(ctx, "val3")
	require.NoError(t, err)
	assert.Zero(t, approver.Accuracy)
}

func TestValidationService_TieEscalates(t *testing.T) {
	f := newFixture(t, withThreshold(2))
	ctx := context.Background()
	order, task := f.verifying(t)

	_, err := f.validations.Vote(ctx, task.ID, "val1", models.DecisionApprove, "")
	require.NoError(t, err)
	summary, err := f.validations.Vote(ctx, task.ID, "val2", models.DecisionFlag, "")
	require.NoError(t, err)

	assert.Equal(t, models.TaskStatusEscalated, summary.Status)
	assert.Equal(t, models.OrderStatusDisputed, f.order(t, order.ID).Status)
}

func TestValidationService_TimeoutAutoApproves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, task := f.verifying(t)

	_, err := f.validations.Vote(ctx, task.ID, "val1", models.DecisionFlag, "")
	require.NoError(t, err)

	f.clock.Advance(time.Hour)

	n, err := f.validations.CheckTimeouts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.validations.CheckTimeouts(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	resolved, err := f.validations.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusAutoApproved, resolved.Status)
	require.NotNil(t, resolved.ResolvedBy)
	assert.Equal(t, models.ResolvedByTimeout, *resolved.ResolvedBy)

	assert.Equal(t, models.OrderStatusCompleted, f.order(t, order.ID).Status)
	assert.Equal(t, 1, f.settler.count(order.ID))

	flagger, err := f.ledger.Profile(ctx, "val1")
	require.NoError(t, err)
	assert.Equal(t, 1, flagger.ResolvedVotes)
	assert.Zero(t, flagger.CorrectVotes)
}

func TestValidationService_VoteAfterDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, task := f.verifying(t)

	f.clock.Advance(2 * time.Hour)

	_, err := f.validations.Vote(ctx, task.ID, "val1", models.DecisionFlag, "")
	require.Error(t, err)
	assert.True(t, apperror.IsConflict(err))
	assert.Equal(t, apperror.ReasonVotingClosed, apperror.ReasonOf(err))

	stored, err := f.validations.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusAutoApproved, stored.Status)
	assert.Empty(t, stored.Votes)
	assert.Equal(t, models.OrderStatusCompleted, f.order(t, order.ID).Status)

	_, err = f.validations.Vote(ctx, task.ID, "val2", models.DecisionApprove, "")
	assert.ErrorIs(t, err, apperror.ErrAlreadyResolved)
}

func TestValidationService_SelfAndDoubleVote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, task := f.verifying(t)

	_, err := f.validations.Vote(ctx, task.ID, alice, models.DecisionApprove, "")
	assert.ErrorIs(t, err, apperror.ErrSelfInterestedVote)
	_, err = f.validations.Vote(ctx, task.ID, "BOB", models.DecisionApprove, "")
	assert.ErrorIs(t, err, apperror.ErrSelfInterestedVote)

	_, err = f.validations.Vote(ctx, task.ID, "val1", models.DecisionApprove, "")
	require.NoError(t, err)
	_, err = f.validations.Vote(ctx, task.ID, "val1", models.DecisionFlag, "")
	assert.ErrorIs(t, err, apperror.ErrAlreadyVoted)

	stored, err := f.validations.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, stored.Votes, 1)
	assert.Equal(t, models.DecisionApprove, stored.Votes[0].Decision)

	_, err = f.ledger.Profile(ctx, alice)
	assert.ErrorIs(t, err, apperror.ErrValidatorNotFound)
}

func TestValidationService_InvalidDecision(t *testing.T) {
	f := newFixture(t)
	_, task := f.verifying(t)

	_, err := f.validations.Vote(context.Background(), task.ID, "val1", models.Decision("maybe"), "")
	assert.True(t, apperror.IsValidation(err))
}

func TestValidationService_ConcurrentVotesResolveOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, task := f.verifying(t)

	const voters = 12
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		closed   int
	)
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(reviewer string) {
			defer wg.Done()
			_, err := f.validations.Vote(ctx, task.ID, reviewer, models.DecisionApprove, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case apperror.IsConflict(err):
				closed++
			}
		}(fmt.Sprintf("val%02d", i))
	}
	wg.Wait()

	assert.Equal(t, 3, accepted)
	assert.Equal(t, voters-3, closed)

	stored, err := f.validations.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Votes, 3)
	assert.Equal(t, models.TaskStatusApproved, stored.Status)
	assert.Equal(t, 1, f.settler.count(order.ID))
}

func TestValidationService_ListPendingHidesOwnTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, task := f.verifying(t)

	visible, err := f.validations.ListPending(ctx, "val1", 0, 0)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, task.ID, visible[0].ID)
	assert.True(t, visible[0].HasDestinationProof)
	assert.True(t, visible[0].HasPaymentProof)

	own, err := f.validations.ListPending(ctx, bob, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, own)

	f.clock.Advance(time.Hour)
	expired, err := f.validations.ListPending(ctx, "val1", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestValidationService_SnapshotIsFrozen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, task := f.verifying(t)

	_, err := f.orders.Dispute(ctx, order.ID, alice)
	require.NoError(t, err)

	stored, err := f.validations.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, bob, stored.Snapshot.Counterparty)
	assert.True(t, stored.Snapshot.AmountFiat.Equal(order.AmountFiat))
}

func TestValidationService_GetNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.validations.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperror.ErrTaskNotFound)
}

func TestValidationService_RequesterSettlementWithdrawsTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, task := f.verifying(t)

	_, err := f.validations.Vote(ctx, task.ID, "val1", models.DecisionApprove, "")
	require.NoError(t, err)

	settled, err := f.orders.Complete(ctx, order.ID, alice)
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusSettled, settled.Status)

	withdrawn, err := f.validations.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusWithdrawn, withdrawn.Status)
	require.NotNil(t, withdrawn.ResolvedBy)
	assert.Equal(t, models.ResolvedByParty, *withdrawn.ResolvedBy)

	pending, err := f.validations.ListPending(ctx, "val2", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = f.validations.Vote(ctx, task.ID, "val2", models.DecisionApprove, "")
	assert.ErrorIs(t, err, apperror.ErrAlreadyResolved)
	_, err = f.ledger.Profile(ctx, "val2")
	assert.ErrorIs(t, err, apperror.ErrValidatorNotFound)

	// Голос до отзыва оплачен, но в точности не учитывается.
	early, err := f.ledger.Profile(ctx, "val1")
	require.NoError(t, err)
	assert.Equal(t, 1, early.TotalReviews)
	assert.Zero(t, early.ResolvedVotes)

	assert.Equal(t, models.OrderStatusSettled, f.order(t, order.ID).Status)
	assert.Equal(t, 1, f.settler.count(order.ID))
	assert.Eventually(t, func() bool {
		return f.hub.has(models.EventValidationResolved, string(models.TaskStatusWithdrawn))
	}, time.Second, 10*time.Millisecond)
}

func TestValidationService_PartyDisputeWithdrawsTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, task := f.verifying(t)

	_, err := f.orders.Dispute(ctx, order.ID, bob)
	require.NoError(t, err)

	withdrawn, err := f.validations.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusWithdrawn, withdrawn.Status)

	_, err = f.validations.Vote(ctx, task.ID, "val1", models.DecisionFlag, "")
	assert.ErrorIs(t, err, apperror.ErrAlreadyResolved)

	_, err = f.admin.ResolveTask(ctx, admin, task.ID, models.AdminApprove, "")
	assert.ErrorIs(t, err, apperror.ErrAlreadyResolved)
	assert.Equal(t, models.OrderStatusDisputed, f.order(t, order.ID).Status)

	// Таймаут не трогает отозванную задачу.
	f.clock.Advance(2 * time.Hour)
	n, err := f.validations.CheckTimeouts(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, models.OrderStatusDisputed, f.order(t, order.ID).Status)
}

func TestValidationService_ListPendingFillsPageAfterOwnTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var foreign []uuid.UUID
	for i := 0; i < 2; i++ {
		task := &models.ValidationTask{
			ID:        uuid.New(),
			OrderID:   uuid.New(),
			Status:    models.TaskStatusPending,
			Snapshot:  models.EvidenceSnapshot{Requester: fmt.Sprintf("carol%d", i), Counterparty: "dave"},
			Threshold: 3,
			Deadline:  f.clock.Now().Add(time.Hour),
			CreatedAt: f.clock.Now().Add(-time.Duration(i+1) * time.Minute),
		}
		require.NoError(t, f.taskStore.Create(ctx, task))
		foreign = append(foreign, task.ID)
	}
	for i := 0; i < 3; i++ {
		f.verifying(t)
	}

	page, err := f.validations.ListPending(ctx, alice, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, foreign[0], page[0].ID)
	assert.Equal(t, foreign[1], page[1].ID)

	all, err := f.validations.ListPending(ctx, "val1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}
