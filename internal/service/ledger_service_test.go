package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/swap-arbiter/internal/models"
	"github.com/ignatzorin/swap-arbiter/internal/pkg/apperror"
	"github.com/ignatzorin/swap-arbiter/internal/repository/memory"
)

func TestLedgerService_AccuracyAndLeaderboard(t *testing.T) {
	ledger := NewLedgerService(memory.NewValidatorStore(), decimal.NewFromInt(1))
	ctx := context.Background()

	vote := func(reviewer string, d models.Decision) models.Vote {
		_, err := ledger.CreditReview(ctx, reviewer, d)
		require.NoError(t, err)
		return models.Vote{Reviewer: reviewer, Decision: d}
	}

	// Две подлинные оплаты и одна поддельная.
	require.NoError(t, ledger.RecordOutcome(ctx, []models.Vote{
		vote("val1", models.DecisionApprove),
		vote("val2", models.DecisionFlag),
	}, models.TaskStatusApproved))
	require.NoError(t, ledger.RecordOutcome(ctx, []models.Vote{
		vote("val1", models.DecisionApprove),
		vote("val2", models.DecisionApprove),
	}, models.TaskStatusAutoApproved))
	require.NoError(t, ledger.RecordOutcome(ctx, []models.Vote{
		vote("val1", models.DecisionFlag),
		vote("val2", models.DecisionApprove),
	}, models.TaskStatusFlagged))

	val1, err := ledger.Profile(ctx, "val1")
	require.NoError(t, err)
	assert.Equal(t, 3, val1.TotalReviews)
	assert.Equal(t, 3, val1.CorrectVotes)
	assert.Equal(t, float64(100), val1.Accuracy)
	assert.True(t, val1.TotalReward.Equal(decimal.NewFromInt(3)))

	val2, err := ledger.Profile(ctx, "val2")
	require.NoError(t, err)
	assert.Equal(t, 1, val2.CorrectVotes)
	assert.InDelta(t, 33.33, val2.Accuracy, 0.01)
	assert.Equal(t, 2, val2.Approvals)
	assert.Equal(t, 1, val2.Flags)

	board, err := ledger.Leaderboard(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "val1", board[0].Address)

	eligible, err := ledger.Eligible(ctx, 3, 80)
	require.NoError(t, err)
	assert.Equal(t, []string{"val1"}, eligible)
}

func TestLedgerService_PendingOutcomeIgnored(t *testing.T) {
	ledger := NewLedgerService(memory.NewValidatorStore(), decimal.NewFromInt(1))
	ctx := context.Background()

	require.NoError(t, ledger.RecordOutcome(ctx, []models.Vote{
		{Reviewer: "val1", Decision: models.DecisionApprove},
	}, models.TaskStatusPending))

	_, err := ledger.Profile(ctx, "val1")
	assert.ErrorIs(t, err, apperror.ErrValidatorNotFound)
}
