package checkout_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tienda-labs/checkout-core/internal/application/checkout"
	dominv "github.com/tienda-labs/checkout-core/internal/domain/inventory"
	domorder "github.com/tienda-labs/checkout-core/internal/domain/order"
	domoutbox "github.com/tienda-labs/checkout-core/internal/domain/outbox"
	dompay "github.com/tienda-labs/checkout-core/internal/domain/payment"
	"github.com/tienda-labs/checkout-core/internal/infrastructure/memory"
)

// fakeGateway scripts settlement outcomes per call and counts invocations.
type fakeGateway struct {
	mu       sync.Mutex
	calls    int
	lastKey  string
	outcomes []func(attemptID string, amountCents int64) (*dompay.Outcome, error)
}

func (g *fakeGateway) Settle(_ context.Context, attemptID string, amountCents int64, _ string) (*dompay.Outcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.lastKey = attemptID
	if len(g.outcomes) == 0 {
		return &dompay.Outcome{TransactionID: "txn-ok", Settled: true, AmountCents: amountCents}, nil
	}
	next := g.outcomes[0]
	g.outcomes = g.outcomes[1:]
	return next(attemptID, amountCents)
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func settleOK(attemptID string, amountCents int64) (*dompay.Outcome, error) {
	return &dompay.Outcome{TransactionID: "txn-" + attemptID, Settled: true, AmountCents: amountCents, GatewayReference: "ref"}, nil
}

func settleDeclined(string, int64) (*dompay.Outcome, error) {
	return &dompay.Outcome{TransactionID: "txn-declined", Settled: false, DeclineReason: "card_declined"}, nil
}

func settleAmbiguous(attemptID string, _ int64) (*dompay.Outcome, error) {
	return nil, &dompay.AmbiguousError{AttemptID: attemptID, Cause: errors.New("gateway timeout")}
}

// countingStore wraps the in-memory store to count reserve calls.
type countingStore struct {
	*memory.InventoryStore
	mu       sync.Mutex
	reserves int
}

func (s *countingStore) CheckAndReserve(ctx context.Context, attemptID string, lines []dominv.CartLine) (*dominv.Reservation, error) {
	s.mu.Lock()
	s.reserves++
	s.mu.Unlock()
	return s.InventoryStore.CheckAndReserve(ctx, attemptID, lines)
}

func (s *countingStore) reserveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reserves
}

// failingLedger fails Append a fixed number of times, then delegates.
type failingLedger struct {
	*memory.OrderLedger
	failures int
}

func (l *failingLedger) Append(ctx context.Context, o *domorder.Order) (string, error) {
	if l.failures > 0 {
		l.failures--
		return "", errors.New("ledger unavailable")
	}
	return l.OrderLedger.Append(ctx, o)
}

type seqIDs struct {
	mu   sync.Mutex
	next int
}

func (g *seqIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return "order-" + string(rune('0'+g.next))
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domoutbox.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e domoutbox.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventName())
	}
	return out
}

type fixture struct {
	store     *countingStore
	gateway   *fakeGateway
	ledger    *failingLedger
	attempts  *memory.AttemptStore
	publisher *recordingPublisher
	coord     *checkout.Coordinator
}

func newFixture(t *testing.T, products ...dominv.Product) *fixture {
	t.Helper()
	inv := memory.NewInventoryStore(time.Minute)
	inv.Seed(products...)

	f := &fixture{
		store:     &countingStore{InventoryStore: inv},
		gateway:   &fakeGateway{},
		ledger:    &failingLedger{OrderLedger: memory.NewOrderLedger()},
		attempts:  memory.NewAttemptStore(),
		publisher: &recordingPublisher{},
	}
	f.coord = checkout.NewCoordinator(
		f.store, f.gateway, f.ledger, f.attempts, &seqIDs{}, f.publisher, nil,
	)
	return f
}

func twoProducts() []dominv.Product {
	return []dominv.Product{
		{ID: "p1", Name: "one", UnitPriceCents: 1000, Available: 5},
		{ID: "p2", Name: "two", UnitPriceCents: 1000, Available: 5},
	}
}

func cart() []dominv.CartLine {
	return []dominv.CartLine{
		{ProductID: "p1", Quantity: 1},
		{ProductID: "p2", Quantity: 1},
	}
}

func input(attemptID string) checkout.Input {
	return checkout.Input{
		AttemptID:    attemptID,
		BuyerID:      "buyer-1",
		PaymentToken: "tok_visa",
		Lines:        cart(),
	}
}

func TestCheckoutHappyPath(t *testing.T) {
	f := newFixture(t, twoProducts()...)
	f.gateway.outcomes = append(f.gateway.outcomes, settleOK)

	res, err := f.coord.Execute(context.Background(), input("a1"))
	require.NoError(t, err)
	require.Equal(t, checkout.StateCommitted, res.State)
	require.NotEmpty(t, res.OrderID)

	// Amount charged equals the store-priced cart total.
	o, err := f.ledger.Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	require.Equal(t, int64(2000), o.Payment.AmountCents)
	require.Equal(t, int64(2000), o.TotalCents())
	require.Equal(t, domorder.StatusSettled, o.Status)

	// Stock decrement is final.
	left, err := f.store.Available(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, 4, left)

	require.Equal(t, []string{domorder.OrderSettledEventName}, f.publisher.names())
}

func TestValidationRejectsBeforeAnySideEffect(t *testing.T) {
	f := newFixture(t, twoProducts()...)

	cases := []checkout.Input{
		{AttemptID: "a1", BuyerID: "b", PaymentToken: "tok", Lines: nil},
		{AttemptID: "a1", BuyerID: "b", PaymentToken: "tok", Lines: []dominv.CartLine{{ProductID: "p1", Quantity: 0}}},
		{AttemptID: "a1", BuyerID: "b", PaymentToken: "tok", Lines: []dominv.CartLine{{ProductID: "p1", Quantity: -3}}},
		{AttemptID: "a1", BuyerID: "b", PaymentToken: "", Lines: cart()},
		{AttemptID: "a1", BuyerID: "", PaymentToken: "tok", Lines: cart()},
		{AttemptID: "", BuyerID: "b", PaymentToken: "tok", Lines: cart()},
	}
	for _, in := range cases {
		_, err := f.coord.Execute(context.Background(), in)
		require.True(t, checkout.IsValidation(err), "input %+v", in)
	}

	// Neither the store nor the gateway was ever touched.
	require.Zero(t, f.store.reserveCount())
	require.Zero(t, f.gateway.callCount())
}

func TestInsufficientStockMakesNoPaymentAttempt(t *testing.T) {
	f := newFixture(t, dominv.Product{ID: "p1", UnitPriceCents: 1000, Available: 2})

	res, err := f.coord.Execute(context.Background(), checkout.Input{
		AttemptID:    "a1",
		BuyerID:      "buyer-1",
		PaymentToken: "tok_visa",
		Lines:        []dominv.CartLine{{ProductID: "p1", Quantity: 3}},
	})
	require.NoError(t, err)
	require.Equal(t, checkout.StateInsufficientStock, res.State)
	require.Equal(t, "p1", res.ProductID)
	require.Zero(t, f.gateway.callCount())

	left, err := f.store.Available(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, 2, left)
}

func TestUnknownProductFailsClosed(t *testing.T) {
	f := newFixture(t, twoProducts()...)

	res, err := f.coord.Execute(context.Background(), checkout.Input{
		AttemptID:    "a1",
		BuyerID:      "buyer-1",
		PaymentToken: "tok_visa",
		Lines:        []dominv.CartLine{{ProductID: "deleted-sku", Quantity: 1}},
	})
	require.NoError(t, err)
	require.Equal(t, checkout.StateUnknownProduct, res.State)
	require.Equal(t, "deleted-sku", res.ProductID)
	require.Zero(t, f.gateway.callCount())
}

func TestDeclineReleasesHoldAndWritesNoOrder(t *testing.T) {
	f := newFixture(t, twoProducts()...)
	f.gateway.outcomes = append(f.gateway.outcomes, settleDeclined)

	res, err := f.coord.Execute(context.Background(), input("a1"))
	require.NoError(t, err)
	require.Equal(t, checkout.StatePaymentDeclined, res.State)
	require.Equal(t, "card_declined", res.DeclineReason)

	// Stock back at pre-checkout level, no order anywhere.
	left, err := f.store.Available(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, 5, left)
	require.Empty(t, f.publisher.names())

	// Replaying the declined attempt returns the recorded outcome without a
	// second gateway call.
	calls := f.gateway.callCount()
	res, err = f.coord.Execute(context.Background(), input("a1"))
	require.NoError(t, err)
	require.Equal(t, checkout.StatePaymentDeclined, res.State)
	require.Equal(t, calls, f.gateway.callCount())
}

func TestAmbiguousOutcomeKeepsHold(t *testing.T) {
	f := newFixture(t, twoProducts()...)
	f.gateway.outcomes = append(f.gateway.outcomes, settleAmbiguous)

	res, err := f.coord.Execute(context.Background(), input("a1"))
	require.NoError(t, err)
	require.Equal(t, checkout.StateAmbiguousHold, res.State)

	// No order, no release: the hold must survive until resolution or expiry.
	left, err := f.store.Available(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, 4, left)

	attempt, err := f.attempts.Get(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, checkout.AttemptAmbiguous, attempt.State)
}

func TestAmbiguousResumeSettlesWithSameKey(t *testing.T) {
	f := newFixture(t, twoProducts()...)
	f.gateway.outcomes = append(f.gateway.outcomes, settleAmbiguous, settleOK)

	res, err := f.coord.Execute(context.Background(), input("a1"))
	require.NoError(t, err)
	require.Equal(t, checkout.StateAmbiguousHold, res.State)

	// Retry with the same attempt id resumes settlement instead of reserving
	// again, and the idempotency key stays the attempt id.
	res, err = f.coord.Execute(context.Background(), input("a1"))
	require.NoError(t, err)
	require.Equal(t, checkout.StateCommitted, res.State)
	require.Equal(t, "a1", f.gateway.lastKey)
	require.Equal(t, 2, f.gateway.callCount())

	// One reservation total; no double decrement.
	left, err := f.store.Available(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, 4, left)
}

func TestCommittedReplayDoesNotChargeTwice(t *testing.T) {
	f := newFixture(t, twoProducts()...)
	f.gateway.outcomes = append(f.gateway.outcomes, settleOK)

	first, err := f.coord.Execute(context.Background(), input("a1"))
	require.NoError(t, err)
	require.Equal(t, checkout.StateCommitted, first.State)

	second, err := f.coord.Execute(context.Background(), input("a1"))
	require.NoError(t, err)
	require.Equal(t, checkout.StateCommitted, second.State)
	require.Equal(t, first.OrderID, second.OrderID)

	require.Equal(t, 1, f.gateway.callCount())
	left, err := f.store.Available(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, 4, left)
}

func TestLedgerFailureAfterSettlementOrphansThePayment(t *testing.T) {
	f := newFixture(t, twoProducts()...)
	f.gateway.outcomes = append(f.gateway.outcomes, settleOK)
	f.ledger.failures = 1

	res, err := f.coord.Execute(context.Background(), input("a1"))
	require.NoError(t, err)
	require.Equal(t, checkout.StateOrphanedPayment, res.State)

	// The charge exists, so the stock stays sold rather than released.
	left, err := f.store.Available(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, 4, left)

	attempt, err := f.attempts.Get(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, checkout.AttemptOrphaned, attempt.State)
	require.NotEmpty(t, attempt.OrderID)
	require.Equal(t, []string{domorder.OrderOrphanedEventName}, f.publisher.names())
}

func TestOrphanedRetryAppendsLateWithSameOrderID(t *testing.T) {
	f := newFixture(t, twoProducts()...)
	f.gateway.outcomes = append(f.gateway.outcomes, settleOK)
	f.ledger.failures = 1

	res, err := f.coord.Execute(context.Background(), input("a1"))
	require.NoError(t, err)
	require.Equal(t, checkout.StateOrphanedPayment, res.State)

	orphaned, err := f.attempts.Get(context.Background(), "a1")
	require.NoError(t, err)

	// The ledger is back; the retry appends under the fixed order id without
	// contacting the gateway again.
	res, err = f.coord.Execute(context.Background(), input("a1"))
	require.NoError(t, err)
	require.Equal(t, checkout.StateCommitted, res.State)
	require.Equal(t, orphaned.OrderID, res.OrderID)
	require.Equal(t, 1, f.gateway.callCount())

	o, err := f.ledger.Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	require.Equal(t, int64(2000), o.Payment.AmountCents)
}

func TestSweepDuringSettlementDoesNotOversell(t *testing.T) {
	f := newFixture(t, dominv.Product{ID: "p1", Name: "one", UnitPriceCents: 1000, Available: 5})

	// The hold expires while the gateway call is in flight; the sweeper
	// returns the reserved units to stock before settlement lands.
	f.gateway.outcomes = append(f.gateway.outcomes, func(attemptID string, amountCents int64) (*dompay.Outcome, error) {
		released, err := f.store.ReleaseExpired(context.Background(), time.Now().UTC().Add(2*time.Minute))
		require.NoError(t, err)
		require.Len(t, released, 1)
		return settleOK(attemptID, amountCents)
	})

	res, err := f.coord.Execute(context.Background(), checkout.Input{
		AttemptID:    "a1",
		BuyerID:      "buyer-1",
		PaymentToken: "tok_visa",
		Lines:        []dominv.CartLine{{ProductID: "p1", Quantity: 3}},
	})
	require.NoError(t, err)
	require.Equal(t, checkout.StateCommitted, res.State)

	// The sold units were re-taken after the sweep; they never re-enter stock.
	left, err := f.store.Available(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, 2, left)

	res, err = f.coord.Execute(context.Background(), checkout.Input{
		AttemptID:    "a2",
		BuyerID:      "buyer-2",
		PaymentToken: "tok_visa",
		Lines:        []dominv.CartLine{{ProductID: "p1", Quantity: 5}},
	})
	require.NoError(t, err)
	require.Equal(t, checkout.StateInsufficientStock, res.State)
}

func TestSweptHoldResoldOrphansInsteadOfOverselling(t *testing.T) {
	f := newFixture(t, dominv.Product{ID: "p1", Name: "one", UnitPriceCents: 1000, Available: 5})

	// The sweep frees the units mid-settlement and a rival buys them all, so
	// the settled charge cannot be backed by stock anymore.
	f.gateway.outcomes = append(f.gateway.outcomes, func(attemptID string, amountCents int64) (*dompay.Outcome, error) {
		_, err := f.store.ReleaseExpired(context.Background(), time.Now().UTC().Add(2*time.Minute))
		require.NoError(t, err)
		rival, err := f.store.CheckAndReserve(context.Background(), "rival", []dominv.CartLine{{ProductID: "p1", Quantity: 5}})
		require.NoError(t, err)
		require.NoError(t, f.store.Commit(context.Background(), rival.ID))
		return settleOK(attemptID, amountCents)
	})

	res, err := f.coord.Execute(context.Background(), checkout.Input{
		AttemptID:    "a1",
		BuyerID:      "buyer-1",
		PaymentToken: "tok_visa",
		Lines:        []dominv.CartLine{{ProductID: "p1", Quantity: 3}},
	})
	require.NoError(t, err)
	require.Equal(t, checkout.StateOrphanedPayment, res.State)

	// The rival's purchase stands and no order was written for the orphan.
	left, err := f.store.Available(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, 0, left)

	attempt, err := f.attempts.Get(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, checkout.AttemptOrphaned, attempt.State)
	_, err = f.ledger.Get(context.Background(), attempt.OrderID)
	require.Error(t, err)
	require.Equal(t, []string{domorder.OrderOrphanedEventName}, f.publisher.names())
}

func TestAmbiguousRetryRetakesSweptHold(t *testing.T) {
	f := newFixture(t, dominv.Product{ID: "p1", Name: "one", UnitPriceCents: 1000, Available: 5})
	f.gateway.outcomes = append(f.gateway.outcomes, settleAmbiguous, settleOK)

	in := checkout.Input{
		AttemptID:    "a1",
		BuyerID:      "buyer-1",
		PaymentToken: "tok_visa",
		Lines:        []dominv.CartLine{{ProductID: "p1", Quantity: 3}},
	}
	res, err := f.coord.Execute(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, checkout.StateAmbiguousHold, res.State)

	// The sweeper released the hold while the attempt sat ambiguous, but the
	// attempt itself has not been expired yet.
	released, err := f.store.ReleaseExpired(context.Background(), time.Now().UTC().Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, released, 1)
	left, err := f.store.Available(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, 5, left)

	// The retry re-takes the hold before settling, under the same key.
	res, err = f.coord.Execute(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, checkout.StateCommitted, res.State)
	require.Equal(t, "a1", f.gateway.lastKey)

	left, err = f.store.Available(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, 2, left)
}

func TestExpiredAttemptRestartsFresh(t *testing.T) {
	f := newFixture(t, twoProducts()...)
	f.gateway.outcomes = append(f.gateway.outcomes, settleAmbiguous, settleOK)

	res, err := f.coord.Execute(context.Background(), input("a1"))
	require.NoError(t, err)
	require.Equal(t, checkout.StateAmbiguousHold, res.State)

	// The sweeper released the hold and expired the attempt.
	released, err := f.store.ReleaseExpired(context.Background(), time.Now().UTC().Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, released, 1)
	attempt, err := f.attempts.Get(context.Background(), "a1")
	require.NoError(t, err)
	attempt.State = checkout.AttemptExpired
	require.NoError(t, f.attempts.Put(context.Background(), attempt))

	// Retrying the expired attempt runs the whole protocol again.
	res, err = f.coord.Execute(context.Background(), input("a1"))
	require.NoError(t, err)
	require.Equal(t, checkout.StateCommitted, res.State)

	left, err := f.store.Available(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, 4, left)
}
