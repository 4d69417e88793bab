package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tienda-labs/checkout-core/internal/application"
	dominv "github.com/tienda-labs/checkout-core/internal/domain/inventory"
	domorder "github.com/tienda-labs/checkout-core/internal/domain/order"
	domoutbox "github.com/tienda-labs/checkout-core/internal/domain/outbox"
	dompay "github.com/tienda-labs/checkout-core/internal/domain/payment"
	"github.com/tienda-labs/checkout-core/internal/observability"
	"github.com/tienda-labs/checkout-core/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	checkoutService = "checkout-service"
	useCaseCheckout = "checkout.execute"
	spanPrefix      = "UC."
	publishPeer     = "outbox"
	publishTimeout  = 300 * time.Millisecond
)

var ErrInternal = errors.New("checkout: internal failure")

var _ application.UseCase[Input, *Result] = (*Coordinator)(nil)

// Input is one checkout request: cart plus payment instrument token. The
// attempt id is caller-stable; resubmitting with the same id resumes or
// replays rather than re-executing.
type Input struct {
	AttemptID    string
	BuyerID      string
	PaymentToken string
	Lines        []dominv.CartLine
}

// Coordinator executes the checkout protocol: validate, reserve, settle,
// append, commit. It owns the failure policy; the store, gateway, and ledger
// stay single-purpose.
type Coordinator struct {
	store     dominv.Store
	gateway   dompay.Gateway
	ledger    domorder.Ledger
	attempts  AttemptStore
	idGen     IDGenerator
	publisher domoutbox.Publisher

	log          observability.Logger
	tracer       observability.Tracer
	reqCounter   observability.Counter
	durHistogram observability.Histogram
	extCounter   observability.Counter
	extHistogram observability.Histogram
	ambiguous    observability.Counter
	orphaned     observability.Counter
}

// NewCoordinator wires the collaborators required to execute checkouts.
func NewCoordinator(
	store dominv.Store,
	gateway dompay.Gateway,
	ledger domorder.Ledger,
	attempts AttemptStore,
	idGen IDGenerator,
	publisher domoutbox.Publisher,
	tel observability.Observability,
) *Coordinator {
	if tel == nil {
		tel = observability.Nop()
	}
	metrics := tel.Metrics()

	return &Coordinator{
		store:        store,
		gateway:      gateway,
		ledger:       ledger,
		attempts:     attempts,
		idGen:        idGen,
		publisher:    publisher,
		log:          tel.Logger().With(observability.F("service", checkoutService)),
		tracer:       tel.Tracer(),
		reqCounter:   metrics.Counter(observability.MUsecaseRequests),
		durHistogram: metrics.Histogram(observability.MUsecaseDuration),
		extCounter:   metrics.Counter(observability.MExternalRequests),
		extHistogram: metrics.Histogram(observability.MExternalRequestDuration),
		ambiguous:    metrics.Counter(observability.MAmbiguousHolds),
		orphaned:     metrics.Counter(observability.MOrphanedPayments),
	}
}

// Execute runs one checkout attempt end to end.
func (c *Coordinator) Execute(ctx context.Context, cmd Input) (_ *Result, err error) {
	logger := logctx.FromOr(ctx, c.log).With(
		observability.F("use_case", useCaseCheckout),
		observability.F("attempt_id", cmd.AttemptID),
		observability.F("buyer_id", cmd.BuyerID),
	)

	ctx, span := c.tracer.Start(ctx, spanPrefix+"Checkout",
		attribute.String("use_case", useCaseCheckout),
		attribute.String("checkout.attempt_id", cmd.AttemptID),
		attribute.String("checkout.buyer_id", cmd.BuyerID),
		attribute.Int("checkout.lines", len(cmd.Lines)),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"
	var result *Result

	defer func() {
		lat := time.Since(start).Seconds()

		if span != nil {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, statusText)
			} else {
				span.SetStatus(codes.Ok, statusText)
			}
			span.End()
		}

		c.reqCounter.Add(1,
			observability.L("use_case", useCaseCheckout),
			observability.L("outcome", outcome),
		)
		c.durHistogram.Observe(lat,
			observability.L("use_case", useCaseCheckout),
		)

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", lat),
		}
		if result != nil {
			fields = append(fields, observability.F("result_state", string(result.State)))
			if result.OrderID != "" {
				fields = append(fields, observability.F("order_id", result.OrderID))
			}
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}
		logger.Info("use_case_done", fields...)
	}()

	if verr := validate(cmd); verr != nil {
		outcome, statusText = "error", "VALIDATION_FAILED"
		return nil, verr
	}

	// Replay or resume a known attempt before touching the store again.
	prior, aerr := c.attempts.Get(ctx, cmd.AttemptID)
	switch {
	case aerr == nil:
		result, err = c.resume(ctx, logger, span, prior, cmd)
	case errors.Is(aerr, ErrAttemptNotFound):
		result, err = c.fresh(ctx, logger, span, cmd)
	default:
		outcome, statusText = "error", "ATTEMPT_LOOKUP_FAILED"
		return nil, fmt.Errorf("%w: attempt lookup: %w", ErrInternal, aerr)
	}
	if err != nil {
		outcome = "error"
		statusText = statusFromError(err)
		return nil, err
	}

	statusText = statusFromResult(result)
	span.SetAttributes(attribute.String("checkout.result", string(result.State)))
	return result, nil
}

// fresh runs the full protocol: reserve, settle, append, commit.
func (c *Coordinator) fresh(ctx context.Context, logger observability.Logger, span trace.Span, cmd Input) (*Result, error) {
	res, rerr := c.store.CheckAndReserve(ctx, cmd.AttemptID, cmd.Lines)
	if rerr != nil {
		var short *dominv.InsufficientStockError
		if errors.As(rerr, &short) {
			// No payment attempt is ever made for a cart the stock cannot
			// cover.
			return &Result{
				State:     StateInsufficientStock,
				AttemptID: cmd.AttemptID,
				ProductID: short.ProductID,
			}, nil
		}
		var unknown *dominv.UnknownProductError
		if errors.As(rerr, &unknown) {
			return &Result{
				State:     StateUnknownProduct,
				AttemptID: cmd.AttemptID,
				ProductID: unknown.ProductID,
			}, nil
		}
		return nil, fmt.Errorf("%w: reserve: %w", ErrInternal, rerr)
	}

	span.AddEvent("inventory.reserved",
		trace.WithAttributes(
			attribute.String("reservation.id", res.ID),
			attribute.Int64("reservation.total_cents", res.TotalCents),
		),
	)

	attempt := &Attempt{
		ID:            cmd.AttemptID,
		BuyerID:       cmd.BuyerID,
		ReservationID: res.ID,
		AmountCents:   res.TotalCents,
		State:         AttemptSettling,
		UpdatedAt:     time.Now().UTC(),
	}
	// Recorded before the gateway call: past this point the attempt must be
	// resolved, never restarted from scratch.
	if perr := c.attempts.Put(ctx, attempt); perr != nil {
		// Nothing has been charged yet, so the failed hold can be returned.
		_ = c.store.Release(ctx, res.ID)
		return nil, fmt.Errorf("%w: record attempt: %w", ErrInternal, perr)
	}

	return c.settle(ctx, logger, span, attempt, res.Lines, cmd.PaymentToken)
}

// resume picks an already-known attempt back up without repeating completed
// side effects.
func (c *Coordinator) resume(ctx context.Context, logger observability.Logger, span trace.Span, prior *Attempt, cmd Input) (*Result, error) {
	switch prior.State {
	case AttemptCommitted:
		span.AddEvent("checkout.idempotent_replay",
			trace.WithAttributes(attribute.String("order.id", prior.OrderID)),
		)
		return &Result{State: StateCommitted, AttemptID: prior.ID, OrderID: prior.OrderID}, nil

	case AttemptDeclined:
		result := &Result{State: StatePaymentDeclined, AttemptID: prior.ID}
		if prior.Outcome != nil {
			result.DeclineReason = prior.Outcome.DeclineReason
		}
		return result, nil

	case AttemptOrphaned:
		// The charge exists; only the ledger append is missing. Retry it
		// with the recorded order id so the append stays idempotent.
		return c.append(ctx, logger, span, prior)

	case AttemptSettling, AttemptAmbiguous:
		if prior.Outcome != nil && prior.Outcome.Settled {
			// Settlement already landed; only the append chain is left.
			return c.append(ctx, logger, span, prior)
		}
		// The gateway call ran (or may have run) without a knowable outcome.
		// Settling again with the same idempotency key cannot double-charge.
		res, lerr := c.rehold(ctx, logger, prior, cmd)
		if lerr != nil {
			return nil, lerr
		}
		return c.settle(ctx, logger, span, prior, res.Lines, cmd.PaymentToken)

	case AttemptExpired:
		// The hold was swept; nothing was charged. Start over under the same
		// attempt id.
		logger.Info("attempt_restarted_after_expiry")
		return c.fresh(ctx, logger, span, cmd)

	default:
		return nil, fmt.Errorf("%w: attempt %s in unknown state %q", ErrInternal, prior.ID, prior.State)
	}
}

// settle performs the gateway call and drives the attempt to a terminal
// state. The reservation referenced by the attempt is held on entry.
func (c *Coordinator) settle(ctx context.Context, logger observability.Logger, span trace.Span, attempt *Attempt, lines []dominv.ReservedLine, token string) (*Result, error) {
	gwStart := time.Now()
	out, gerr := c.gateway.Settle(ctx, attempt.ID, attempt.AmountCents, token)
	gwOutcome := "success"
	if gerr != nil {
		gwOutcome = "error"
	}
	c.extCounter.Add(1,
		observability.L("peer", "payment_gateway"),
		observability.L("endpoint", "settle"),
		observability.L("outcome", gwOutcome),
	)
	c.extHistogram.Observe(time.Since(gwStart).Seconds(),
		observability.L("peer", "payment_gateway"),
		observability.L("endpoint", "settle"),
	)

	if gerr != nil {
		if errors.Is(gerr, dompay.ErrAmbiguousSettlement) {
			// The customer may or may not have been charged. The hold stays
			// in place until resolution or expiry; guessing either way risks
			// a double charge or an unpaid order.
			attempt.State = AttemptAmbiguous
			attempt.UpdatedAt = time.Now().UTC()
			if perr := c.attempts.Put(ctx, attempt); perr != nil {
				return nil, fmt.Errorf("%w: record ambiguous attempt: %w", ErrInternal, perr)
			}
			c.ambiguous.Add(1)
			span.AddEvent("settlement.ambiguous")
			logger.Warn("settlement_ambiguous",
				observability.F("reservation_id", attempt.ReservationID),
			)
			return &Result{State: StateAmbiguousHold, AttemptID: attempt.ID}, nil
		}
		// Transport-level faults with a known no-charge outcome surface as
		// internal errors; the hold is returned.
		_ = c.store.Release(ctx, attempt.ReservationID)
		return nil, fmt.Errorf("%w: settle: %w", ErrInternal, gerr)
	}

	if !out.Settled {
		// Definite decline: expected business outcome. Give the stock back.
		if relErr := c.store.Release(ctx, attempt.ReservationID); relErr != nil {
			return nil, fmt.Errorf("%w: release after decline: %w", ErrInternal, relErr)
		}
		attempt.State = AttemptDeclined
		attempt.Outcome = out
		attempt.UpdatedAt = time.Now().UTC()
		if perr := c.attempts.Put(ctx, attempt); perr != nil {
			return nil, fmt.Errorf("%w: record declined attempt: %w", ErrInternal, perr)
		}
		span.AddEvent("settlement.declined")
		return &Result{State: StatePaymentDeclined, AttemptID: attempt.ID, DeclineReason: out.DeclineReason}, nil
	}

	// Settled. Fix the order id before appending so any retry reuses it.
	if attempt.OrderID == "" {
		attempt.OrderID = c.idGen.NewID()
	}
	attempt.Outcome = out
	attempt.Lines = orderLines(lines)
	attempt.UpdatedAt = time.Now().UTC()
	if perr := c.attempts.Put(ctx, attempt); perr != nil {
		// Funds are captured; this must not look like a no-charge failure.
		return c.orphan(ctx, logger, span, attempt, fmt.Errorf("record settled attempt: %w", perr))
	}
	span.AddEvent("settlement.settled",
		trace.WithAttributes(attribute.String("payment.transaction_id", out.TransactionID)),
	)

	return c.append(ctx, logger, span, attempt)
}

// append writes the order, finalizes the stock decrement, and commits the
// attempt. Funds are already captured when it runs.
func (c *Coordinator) append(ctx context.Context, logger observability.Logger, span trace.Span, attempt *Attempt) (*Result, error) {
	// Finalize the decrement before the order becomes durable. The sweeper may
	// have released the hold back to stock while the gateway call was in
	// flight; the sold quantities must be re-taken before anything else can
	// buy them, or the charge goes to reconciliation instead.
	if cerr := c.store.Commit(ctx, attempt.ReservationID); cerr != nil {
		if !errors.Is(cerr, dominv.ErrUnknownReservation) {
			return c.orphan(ctx, logger, span, attempt, fmt.Errorf("commit reservation: %w", cerr))
		}
		res, rerr := c.store.CheckAndReserve(ctx, attempt.ID, cartLines(attempt.Lines))
		if rerr != nil {
			return c.orphan(ctx, logger, span, attempt, fmt.Errorf("re-reserve swept hold: %w", rerr))
		}
		if cerr := c.store.Commit(ctx, res.ID); cerr != nil {
			return c.orphan(ctx, logger, span, attempt, fmt.Errorf("commit re-taken hold: %w", cerr))
		}
		attempt.ReservationID = res.ID
		logger.Warn("hold_retaken_after_sweep",
			observability.F("reservation_id", res.ID),
		)
	}

	o, oerr := domorder.New(attempt.OrderID, attempt.BuyerID, attempt.ID, attempt.Lines, *attempt.Outcome)
	if oerr != nil {
		return c.orphan(ctx, logger, span, attempt, fmt.Errorf("construct order: %w", oerr))
	}

	orderID, aerr := c.ledger.Append(ctx, o)
	if aerr != nil {
		return c.orphan(ctx, logger, span, attempt, fmt.Errorf("ledger append: %w", aerr))
	}

	if uerr := c.ledger.UpdateStatus(ctx, orderID, domorder.StatusSettled); uerr != nil {
		logger.Error("order_status_update_failed",
			observability.F("order_id", orderID),
			observability.F("error", uerr.Error()),
		)
	} else {
		o.Status = domorder.StatusSettled
	}

	attempt.State = AttemptCommitted
	attempt.OrderID = orderID
	attempt.UpdatedAt = time.Now().UTC()
	if perr := c.attempts.Put(ctx, attempt); perr != nil {
		// The order exists; a replay will fall through the ledger's
		// idempotent append rather than charging again.
		logger.Error("attempt_commit_record_failed",
			observability.F("error", perr.Error()),
		)
	}

	c.publish(ctx, "order.settled", domorder.NewOrderSettledEvent(o))
	span.AddEvent("order.committed",
		trace.WithAttributes(attribute.String("order.id", orderID)),
	)

	return &Result{State: StateCommitted, AttemptID: attempt.ID, OrderID: orderID}, nil
}

// orphan records a settled charge with no durable order. The hold is
// committed: the stock is sold and must not be swept back or resold while
// reconciliation decides between refund and late append.
func (c *Coordinator) orphan(ctx context.Context, logger observability.Logger, span trace.Span, attempt *Attempt, cause error) (*Result, error) {
	if cerr := c.store.Commit(ctx, attempt.ReservationID); cerr != nil {
		logger.Error("orphan_reservation_commit_failed",
			observability.F("reservation_id", attempt.ReservationID),
			observability.F("error", cerr.Error()),
		)
	}

	attempt.State = AttemptOrphaned
	attempt.UpdatedAt = time.Now().UTC()
	if perr := c.attempts.Put(ctx, attempt); perr != nil {
		logger.Error("orphan_record_failed",
			observability.F("error", perr.Error()),
		)
	}

	c.orphaned.Add(1)
	span.AddEvent("payment.orphaned")
	logger.Error("orphaned_payment",
		observability.F("transaction_id", transactionID(attempt)),
		observability.F("amount_cents", attempt.AmountCents),
		observability.F("cause", cause.Error()),
	)

	evt := domorder.OrderOrphanedEvent{
		AttemptID:     attempt.ID,
		BuyerID:       attempt.BuyerID,
		TransactionID: transactionID(attempt),
		AmountCents:   attempt.AmountCents,
		OccurredAt:    time.Now().UTC(),
	}
	c.publish(ctx, "order.orphaned_payment", evt)

	return &Result{State: StateOrphanedPayment, AttemptID: attempt.ID}, nil
}

// rehold re-secures the attempt's stock before settlement is retried. The
// idempotent reserve returns the active hold unchanged, or takes a fresh one
// when the sweeper released it while the attempt was parked.
func (c *Coordinator) rehold(ctx context.Context, logger observability.Logger, attempt *Attempt, cmd Input) (*dominv.Reservation, error) {
	res, err := c.store.CheckAndReserve(ctx, attempt.ID, cmd.Lines)
	if err != nil {
		// The charge may already exist under this attempt, so a shortage here
		// must not surface as a definite business outcome.
		return nil, fmt.Errorf("%w: re-secure hold: %w", ErrInternal, err)
	}
	if res.ID != attempt.ReservationID {
		attempt.ReservationID = res.ID
		attempt.UpdatedAt = time.Now().UTC()
		if perr := c.attempts.Put(ctx, attempt); perr != nil {
			return nil, fmt.Errorf("%w: record renewed hold: %w", ErrInternal, perr)
		}
		logger.Warn("hold_retaken_after_sweep",
			observability.F("reservation_id", res.ID),
		)
	}
	return res, nil
}

func cartLines(lines []domorder.Line) []dominv.CartLine {
	out := make([]dominv.CartLine, 0, len(lines))
	for _, l := range lines {
		out = append(out, dominv.CartLine{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	return out
}

func (c *Coordinator) publish(ctx context.Context, endpoint string, e domoutbox.Event) {
	if c.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	start := time.Now()
	err := c.publisher.Publish(pubCtx, e)
	outcome := "success"
	if err != nil {
		outcome = "error"
		logctx.FromOr(ctx, c.log).Warn("event_publish_failed",
			observability.F("event", e.EventName()),
			observability.F("error", err.Error()),
		)
	}
	c.extCounter.Add(1,
		observability.L("peer", publishPeer),
		observability.L("endpoint", endpoint),
		observability.L("outcome", outcome),
	)
	c.extHistogram.Observe(time.Since(start).Seconds(),
		observability.L("peer", publishPeer),
		observability.L("endpoint", endpoint),
	)
}

func validate(cmd Input) error {
	if cmd.AttemptID == "" {
		return &ValidationError{Reason: "attempt id is required"}
	}
	if cmd.BuyerID == "" {
		return &ValidationError{Reason: "buyer id is required"}
	}
	if cmd.PaymentToken == "" {
		return &ValidationError{Reason: "payment token is required"}
	}
	if len(cmd.Lines) == 0 {
		return &ValidationError{Reason: "cart is empty"}
	}
	for _, l := range cmd.Lines {
		if l.ProductID == "" {
			return &ValidationError{Reason: "line product id is required"}
		}
		if l.Quantity <= 0 {
			return &ValidationError{Reason: fmt.Sprintf("quantity for product %s must be greater than zero", l.ProductID)}
		}
	}
	return nil
}

func orderLines(lines []dominv.ReservedLine) []domorder.Line {
	out := make([]domorder.Line, 0, len(lines))
	for _, l := range lines {
		out = append(out, domorder.Line{
			ProductID:      l.ProductID,
			Quantity:       l.Quantity,
			UnitPriceCents: l.UnitPriceCents,
		})
	}
	return out
}

func transactionID(a *Attempt) string {
	if a.Outcome == nil {
		return ""
	}
	return a.Outcome.TransactionID
}

func statusFromResult(r *Result) string {
	switch r.State {
	case StateCommitted:
		return "OK"
	case StateInsufficientStock:
		return "INSUFFICIENT_STOCK"
	case StateUnknownProduct:
		return "UNKNOWN_PRODUCT"
	case StatePaymentDeclined:
		return "DECLINED"
	case StateAmbiguousHold:
		return "AMBIGUOUS_HOLD"
	case StateOrphanedPayment:
		return "ORPHANED_PAYMENT"
	default:
		return string(r.State)
	}
}

func statusFromError(err error) string {
	switch {
	case IsValidation(err):
		return "VALIDATION_FAILED"
	case errors.Is(err, ErrInternal):
		return "INTERNAL_ERROR"
	default:
		return "ERROR"
	}
}
