package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/swap-arbiter/internal/models"
	"github.com/ignatzorin/swap-arbiter/internal/repository/memory"
)

const (
	alice = "alice"
	bob   = "bob"
	admin = "admin"
)

var (
	testArbitrators = []string{"arb1", "arb2", "arb3"}
	testReward      = decimal.RequireFromString("0.5")
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingSettler struct {
	mu       sync.Mutex
	released []uuid.UUID
}

func (s *recordingSettler) Release(_ context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = append(s.released, order.ID)
	return nil
}

func (s *recordingSettler) count(id uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.released {
		if r == id {
			n++
		}
	}
	return n
}

type recordingHub struct {
	mu     sync.Mutex
	events []models.Event
}

func (h *recordingHub) Publish(event models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

func (h *recordingHub) has(eventType, status string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range h.events {
		if e.Type == eventType && e.Status == status {
			return true
		}
	}
	return false
}

type mockLimitVerifier struct {
	mock.Mock
}

func (m *mockLimitVerifier) CheckBalance(ctx context.Context, account string, amount decimal.Decimal) error {
	return m.Called(ctx, account, amount).Error(0)
}

func (m *mockLimitVerifier) CheckTierLimit(ctx context.Context, account string, fiatAmount decimal.Decimal) error {
	return m.Called(ctx, account, fiatAmount).Error(0)
}

type fixture struct {
	clock       *fakeClock
	settler     *recordingSettler
	hub         *recordingHub
	orders      *OrderService
	ledger      *LedgerService
	validations *ValidationService
	disputes    *DisputeService
	admin       *AdminService
	taskStore   *memory.ValidationStore
	auditStore  *memory.AuditStore
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	threshold   int
	limits      LimitVerifier
	arbitrators []string
}

func withThreshold(n int) fixtureOption {
	return func(c *fixtureConfig) { c.threshold = n }
}

func withLimits(l LimitVerifier) fixtureOption {
	return func(c *fixtureConfig) { c.limits = l }
}

func withArbitrators(addrs ...string) fixtureOption {
	return func(c *fixtureConfig) { c.arbitrators = addrs }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	cfg := fixtureConfig{
		threshold:   3,
		limits:      NewStaticLimitVerifier(decimal.NewFromInt(100000), nil),
		arbitrators: testArbitrators,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	clock := newFakeClock()
	settler := &recordingSettler{}
	hub := &recordingHub{}

	rates := NewFiatConverter(NewStaticRates(map[string]decimal.Decimal{
		"INR": decimal.RequireFromString("83.25"),
		"USD": decimal.NewFromInt(1),
	}))

	orders := NewOrderService(memory.NewOrderStore(), rates, cfg.limits, settler, OrderPolicy{
		TTL:                 30 * time.Minute,
		DisputePeriod:       24 * time.Hour,
		MinAmount:           decimal.NewFromInt(1),
		MaxAmount:           decimal.NewFromInt(10000),
		ConservativeFiatCap: decimal.NewFromInt(5000),
	})
	orders.now = clock.Now
	orders.SetHub(hub)

	validatorStore := memory.NewValidatorStore()
	ledger := NewLedgerService(validatorStore, testReward)
	ledger.now = clock.Now

	taskStore := memory.NewValidationStore()
	validations := NewValidationService(taskStore, orders, ledger, cfg.threshold, time.Hour)
	validations.now = clock.Now
	validations.SetHub(hub)
	orders.SetTaskOpener(validations)

	disputes := NewDisputeService(memory.NewDisputeStore(), memory.NewArbitratorStore(), ledger, orders, DisputePolicy{
		PanelSize:    3,
		VotingWindow: 4 * time.Hour,
		Arbitrators:  cfg.arbitrators,
		MinReviews:   20,
		MinAccuracy:  80,
	})
	disputes.now = clock.Now
	disputes.shuffle = func(int, func(i, j int)) {}
	disputes.SetHub(hub)

	auditStore := memory.NewAuditStore()
	adminSvc := NewAdminService([]string{admin}, validations, disputes, orders, auditStore)
	adminSvc.now = clock.Now

	return &fixture{
		clock:       clock,
		settler:     settler,
		hub:         hub,
		orders:      orders,
		ledger:      ledger,
		validations: validations,
		disputes:    disputes,
		admin:       adminSvc,
		taskStore:   taskStore,
		auditStore:  auditStore,
	}
}

func qrProof() *models.Proof {
	return &models.Proof{Evidence: models.QRProof{Payload: "upi://pay?pa=alice@bank&am=8325"}}
}

func utrProof() *models.Proof {
	return &models.Proof{Evidence: models.UTRReference{Reference: "UTR4410029381"}}
}

// createOrder создаёт заявку alice на 100 единиц в INR.
func (f *fixture) createOrder(t *testing.T) *models.Order {
	t.Helper()
	order, err := f.orders.Create(context.Background(), CreateOrderInput{
		Requester:  alice,
		AmountBase: decimal.NewFromInt(100),
		Currency:   "INR",
		Rail:       "upi",
	})
	require.NoError(t, err)
	return order
}

// matchedWithQR доводит заявку до payment_pending.
func (f *fixture) matchedWithQR(t *testing.T) *models.Order {
	t.Helper()
	ctx := context.Background()
	order := f.createOrder(t)
	_, err := f.orders.Match(ctx, order.ID, bob)
	require.NoError(t, err)
	order, err = f.orders.SubmitProof(ctx, order.ID, alice, qrProof())
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusPaymentPending, order.Status)
	return order
}

// verifying доводит заявку до проверки и возвращает открытую задачу.
func (f *fixture) verifying(t *testing.T) (*models.Order, *models.ValidationTask) {
	t.Helper()
	ctx := context.Background()
	order := f.matchedWithQR(t)
	order, err := f.orders.MarkPaymentSent(ctx, order.ID, bob, utrProof())
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusVerifying, order.Status)

	task, err := f.validations.ForOrder(ctx, order.ID)
	require.NoError(t, err)
	return order, task
}

func (f *fixture) order(t *testing.T, id uuid.UUID) *models.Order {
	t.Helper()
	order, err := f.orders.Get(context.Background(), id)
	require.NoError(t, err)
	return order
}
