package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/swap-arbiter/internal/models"
	"github.com/ignatzorin/swap-arbiter/internal/pkg/apperror"
	"github.com/ignatzorin/swap-arbiter/internal/repository"
)

func TestOrderService_Create_Success(t *testing.T) {
	f := newFixture(t)

	order, err := f.orders.Create(context.Background(), CreateOrderInput{
		Requester:  "  Alice ",
		AmountBase: decimal.NewFromInt(100),
		Currency:   "inr",
		Rail:       "UPI",
	})
	require.NoError(t, err)

	assert.Equal(t, alice, order.Requester)
	assert.Equal(t, "INR", order.Currency)
	assert.Equal(t, "upi", order.Rail)
	assert.Equal(t, models.OrderStatusCreated, order.Status)
	assert.True(t, order.AmountFiat.Equal(decimal.RequireFromString("8325")), "фиат считается по курсу сервера: %s", order.AmountFiat)
	assert.Equal(t, f.clock.Now().Add(30*time.Minute), order.ExpiresAt)
	assert.Nil(t, order.Counterparty)

	assert.Eventually(t, func() bool {
		return f.hub.has(models.EventOrderCreated, string(models.OrderStatusCreated))
	}, time.Second, 10*time.Millisecond)
}

func TestOrderService_Create_AmountBounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		amount string
		reason string
	}{
		{"ниже минимума", "0.5", apperror.ReasonBelowMinimum},
		{"выше максимума", "10001", apperror.ReasonAboveMaximum},
		{"ноль", "0", apperror.ReasonInvalidInput},
		{"отрицательная", "-5", apperror.ReasonInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.orders.Create(ctx, CreateOrderInput{
				Requester:  alice,
				AmountBase: decimal.RequireFromString(tc.amount),
				Currency:   "INR",
				Rail:       "upi",
			})
			require.Error(t, err)
			assert.True(t, apperror.IsValidation(err))
			assert.Equal(t, tc.reason, apperror.ReasonOf(err))
		})
	}
}

func TestOrderService_Create_UnknownCurrency(t *testing.T) {
	f := newFixture(t)

	_, err := f.orders.Create(context.Background(), CreateOrderInput{
		Requester:  alice,
		AmountBase: decimal.NewFromInt(10),
		Currency:   "JPY",
		Rail:       "upi",
	})
	require.Error(t, err)
	assert.True(t, apperror.IsValidation(err))
	assert.Contains(t, err.Error(), "не поддерживается")
}

func TestOrderService_Create_TierExceeded(t *testing.T) {
	f := newFixture(t)

	_, err := f.orders.Create(context.Background(), CreateOrderInput{
		Requester:  alice,
		AmountBase: decimal.NewFromInt(5000),
		Currency:   "INR",
		Rail:       "upi",
	})
	require.Error(t, err)
	assert.Equal(t, apperror.ReasonTierExceeded, apperror.ReasonOf(err))
}

func TestOrderService_Create_InsufficientBalance(t *testing.T) {
	limits := NewStaticLimitVerifier(decimal.NewFromInt(100000), map[string]decimal.Decimal{
		"Alice": decimal.NewFromInt(50),
	})
	f := newFixture(t, withLimits(limits))

	_, err := f.orders.Create(context.Background(), CreateOrderInput{
		Requester:  alice,
		AmountBase: decimal.NewFromInt(100),
		Currency:   "INR",
		Rail:       "upi",
	})
	require.Error(t, err)
	assert.Equal(t, apperror.ReasonInsufficientBalance, apperror.ReasonOf(err))
}

func TestOrderService_Create_VerifierDownUsesConservativeCap(t *testing.T) {
	limits := new(mockLimitVerifier)
	outage := apperror.Upstream(errors.New("connection refused"), "сервис лимитов недоступен")
	limits.On("CheckBalance", mock.Anything, alice, mock.Anything).Return(outage)
	limits.On("CheckTierLimit", mock.Anything, alice, mock.Anything).Return(nil)
	f := newFixture(t, withLimits(limits))
	ctx := context.Background()

	// 50 * 83.25 = 4162.50, в пределах временного лимита 5000.
	order, err := f.orders.Create(ctx, CreateOrderInput{
		Requester:  alice,
		AmountBase: decimal.NewFromInt(50),
		Currency:   "INR",
		Rail:       "upi",
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCreated, order.Status)

	// 100 * 83.25 = 8325, выше временного лимита.
	_, err = f.orders.Create(ctx, CreateOrderInput{
		Requester:  alice,
		AmountBase: decimal.NewFromInt(100),
		Currency:   "INR",
		Rail:       "upi",
	})
	require.Error(t, err)
	assert.True(t, apperror.IsValidation(err))
	assert.Equal(t, apperror.ReasonTierExceeded, apperror.ReasonOf(err))

	limits.AssertNumberOfCalls(t, "CheckBalance", 2)
}

func TestOrderService_Create_VerifierRejectionIsNotDegraded(t *testing.T) {
	limits := new(mockLimitVerifier)
	limits.On("CheckBalance", mock.Anything, alice, mock.Anything).
		Return(apperror.New(apperror.ErrCodeValidation, apperror.ReasonInsufficientBalance, "нет средств"))
	f := newFixture(t, withLimits(limits))

	_, err := f.orders.Create(context.Background(), CreateOrderInput{
		Requester:  alice,
		AmountBase: decimal.NewFromInt(10),
		Currency:   "USD",
		Rail:       "sepa",
	})
	require.Error(t, err)
	assert.Equal(t, apperror.ReasonInsufficientBalance, apperror.ReasonOf(err))
	limits.AssertNotCalled(t, "CheckTierLimit", mock.Anything, mock.Anything, mock.Anything)
}

func TestOrderService_Match_SelfMatchForbidden(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(t)

	_, err := f.orders.Match(context.Background(), order.ID, "ALICE")
	require.Error(t, err)
	assert.True(t, apperror.IsForbidden(err))
	assert.Equal(t, apperror.ReasonSelfInterest, apperror.ReasonOf(err))
}

func TestOrderService_Match_ExactlyOneWinner(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(t)
	ctx := context.Background()

	const takers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  []string
		rejected int
	)
	for i := 0; i < takers; i++ {
		wg.Add(1)
		go func(taker string) {
			defer wg.Done()
			_, err := f.orders.Match(ctx, order.ID, taker)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, taker)
				return
			}
			if apperror.IsIllegalTransition(err) {
				rejected++
			}
		}(fmt.Sprintf("taker%02d", i))
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, takers-1, rejected)

	stored := f.order(t, order.ID)
	assert.Equal(t, models.OrderStatusMatched, stored.Status)
	assert.Equal(t, winners[0], stored.CounterpartyAddress())
}

func TestOrderService_SubmitProof_Roles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t)
	_, err := f.orders.Match(ctx, order.ID, bob)
	require.NoError(t, err)

	_, err = f.orders.SubmitProof(ctx, order.ID, "mallory", qrProof())
	assert.True(t, apperror.IsForbidden(err))

	_, err = f.orders.SubmitProof(ctx, order.ID, alice, nil)
	assert.True(t, apperror.IsValidation(err))

	// Подтверждение контрагента до реквизитов не меняет статус.
	updated, err := f.orders.SubmitProof(ctx, order.ID, bob, utrProof())
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusMatched, updated.Status)
	assert.Equal(t, models.EvidenceUTR, updated.PaymentProof.Kind())

	updated, err = f.orders.SubmitProof(ctx, order.ID, alice, qrProof())
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaymentPending, updated.Status)
	assert.Equal(t, models.EvidenceQR, updated.DestinationProof.Kind())
}

func TestOrderService_MarkPaymentSent_OnlyCounterparty(t *testing.T) {
	f := newFixture(t)
	order := f.matchedWithQR(t)

	_, err := f.orders.MarkPaymentSent(context.Background(), order.ID, alice, utrProof())
	require.Error(t, err)
	assert.True(t, apperror.IsForbidden(err))
	assert.Equal(t, models.OrderStatusPaymentPending, f.order(t, order.ID).Status)
}

func TestOrderService_MarkPaymentSent_OpensValidation(t *testing.T) {
	f := newFixture(t)
	order, task := f.verifying(t)

	assert.Equal(t, order.ID, task.OrderID)
	assert.Equal(t, models.TaskStatusPending, task.Status)
	assert.Equal(t, 3, task.Threshold)
	assert.Equal(t, f.clock.Now().Add(time.Hour), task.Deadline)
	assert.Equal(t, alice, task.Snapshot.Requester)
	assert.Equal(t, bob, task.Snapshot.Counterparty)
	require.NotNil(t, task.Snapshot.PaymentProof)
	assert.Equal(t, models.EvidenceUTR, task.Snapshot.PaymentProof.Kind())
	require.NotNil(t, order.DisputePeriodEnd)
	assert.Equal(t, f.clock.Now().Add(24*time.Hour), *order.DisputePeriodEnd)
}

func TestOrderService_MarkPaymentSent_WithoutValidation(t *testing.T) {
	f := newFixture(t)
	f.orders.SetTaskOpener(nil)
	order := f.matchedWithQR(t)

	updated, err := f.orders.MarkPaymentSent(context.Background(), order.ID, bob, utrProof())
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaymentSent, updated.Status)
}

func TestOrderService_Complete_RequesterSettles(t *testing.T) {
	f := newFixture(t)
	f.orders.SetTaskOpener(nil)
	ctx := context.Background()
	order := f.matchedWithQR(t)
	_, err := f.orders.MarkPaymentSent(ctx, order.ID, bob, utrProof())
	require.NoError(t, err)

	_, err = f.orders.Complete(ctx, order.ID, bob)
	assert.True(t, apperror.IsForbidden(err))

	settled, err := f.orders.Complete(ctx, order.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusSettled, settled.Status)
	assert.NotNil(t, settled.SettledAt)
	assert.Equal(t, 1, f.settler.count(order.ID))

	_, err = f.orders.Complete(ctx, order.ID, alice)
	assert.True(t, apperror.IsIllegalTransition(err))
	assert.Equal(t, 1, f.settler.count(order.ID))
}

func TestOrderService_Cancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("matched возвращается в пул", func(t *testing.T) {
		order := f.createOrder(t)
		_, err := f.orders.Match(ctx, order.ID, bob)
		require.NoError(t, err)

		reopened, err := f.orders.Cancel(ctx, order.ID, bob)
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusCreated, reopened.Status)
		assert.Nil(t, reopened.Counterparty)

		_, err = f.orders.Match(ctx, order.ID, "carol")
		assert.NoError(t, err)
	})

	t.Run("created отменяет только автор", func(t *testing.T) {
		order := f.createOrder(t)
		_, err := f.orders.Cancel(ctx, order.ID, bob)
		assert.True(t, apperror.IsForbidden(err))

		cancelled, err := f.orders.Cancel(ctx, order.ID, alice)
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	})

	t.Run("после оплаты отмена запрещена", func(t *testing.T) {
		order, _ := f.verifying(t)
		_, err := f.orders.Cancel(ctx, order.ID, alice)
		assert.True(t, apperror.IsIllegalTransition(err))
	})
}

func TestOrderService_LazyExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t)

	f.clock.Advance(31 * time.Minute)

	_, err := f.orders.Match(ctx, order.ID, bob)
	require.Error(t, err)
	assert.True(t, apperror.IsIllegalTransition(err))
	assert.Equal(t, models.OrderStatusExpired, f.order(t, order.ID).Status)
}

func TestOrderService_ExpireStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stale := f.createOrder(t)
	matched := f.createOrder(t)
	_, err := f.orders.Match(ctx, matched.ID, bob)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	fresh := f.createOrder(t)

	n, err := f.orders.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.orders.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Equal(t, models.OrderStatusExpired, f.order(t, stale.ID).Status)
	assert.Equal(t, models.OrderStatusMatched, f.order(t, matched.ID).Status)
	assert.Equal(t, models.OrderStatusCreated, f.order(t, fresh.ID).Status)
}

func TestOrderService_List_FiltersAndExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.createOrder(t)
	f.clock.Advance(45 * time.Minute)
	second := f.createOrder(t)

	filter := repository.OrderFilter{Status: models.OrderStatusCreated, Limit: 10}
	listed, err := f.orders.List(ctx, filter)
	require.NoError(t, err)
	statuses := map[uuid.UUID]models.OrderStatus{}
	for _, o := range listed {
		statuses[o.ID] = o.Status
	}
	assert.Equal(t, models.OrderStatusExpired, statuses[first.ID])
	assert.Equal(t, models.OrderStatusCreated, statuses[second.ID])

	open, err := f.orders.List(ctx, filter)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, second.ID, open[0].ID)
}

func TestOrderService_Get_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.orders.Get(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, apperror.IsNotFound(err))
	assert.ErrorIs(t, err, apperror.ErrOrderNotFound)
}

func TestOrderService_Dispute_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.matchedWithQR(t)

	_, err := f.orders.Dispute(ctx, order.ID, "mallory")
	assert.True(t, apperror.IsForbidden(err))

	frozen, err := f.orders.Dispute(ctx, order.ID, bob)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusDisputed, frozen.Status)

	again, err := f.orders.Dispute(ctx, order.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusDisputed, again.Status)
}

func TestOrderService_Resolve_DisputedNeedsArbitration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, _ := f.verifying(t)
	_, err := f.orders.Dispute(ctx, order.ID, alice)
	require.NoError(t, err)

	_, err = f.orders.Resolve(ctx, order.ID, models.OrderStatusCompleted, SourceDAO)
	assert.True(t, apperror.IsIllegalTransition(err))

	completed, err := f.orders.Resolve(ctx, order.ID, models.OrderStatusCompleted, SourceArbitration)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, completed.Status)
	assert.Equal(t, 1, f.settler.count(order.ID))
}
