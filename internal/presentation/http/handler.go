package httppresentation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	appcheckout "github.com/tienda-labs/checkout-core/internal/application/checkout"
	dominv "github.com/tienda-labs/checkout-core/internal/domain/inventory"
	domorder "github.com/tienda-labs/checkout-core/internal/domain/order"
	"github.com/tienda-labs/checkout-core/internal/observability"
)

// CheckoutExecutor runs one checkout attempt. Satisfied by checkout.Coordinator.
type CheckoutExecutor interface {
	Execute(ctx context.Context, in appcheckout.Input) (*appcheckout.Result, error)
}

type Handler struct {
	checkout CheckoutExecutor
	orders   domorder.Ledger
	log      observability.Logger
	tel      observability.Observability
}

const (
	componentHTTPHandler = "http_server"
	headerRequestID      = "X-Request-ID"
)

func NewHandler(checkout CheckoutExecutor, orders domorder.Ledger, tel observability.Observability) *Handler {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Handler{
		checkout: checkout,
		orders:   orders,
		log:      tel.Logger().With(observability.F("component", componentHTTPHandler)),
		tel:      tel,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Trace -> request logger -> metrics -> access log -> handler
	r.Use(TraceMiddleware("checkout.http"))
	r.Use(RequestLoggerMiddleware(h.log))
	r.Use(MetricsMiddleware(h.tel))
	r.Use(AccessLogMiddleware(h.log))

	r.Post("/checkout", h.handleCheckout)
	r.Get("/orders/{orderID}", h.handleGetOrder)
	r.Get("/health", h.handleHealth)

	return r
}

type checkoutLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type checkoutRequest struct {
	AttemptID    string         `json:"attempt_id"`
	BuyerID      string         `json:"buyer_id"`
	PaymentToken string         `json:"payment_token"`
	Lines        []checkoutLine `json:"lines"`
}

type checkoutResponse struct {
	OK            bool   `json:"ok"`
	AttemptID     string `json:"attempt_id"`
	OrderID       string `json:"order_id,omitempty"`
	Error         string `json:"error,omitempty"`
	ProductID     string `json:"product_id,omitempty"`
	DeclineReason string `json:"decline_reason,omitempty"`
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}

	// Callers that want retry safety supply their own attempt id; one is
	// minted otherwise and echoed back so the response stays replayable.
	if req.AttemptID == "" {
		req.AttemptID = uuid.NewString()
	}

	lines := make([]dominv.CartLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, dominv.CartLine{ProductID: l.ProductID, Quantity: l.Quantity})
	}

	result, err := h.checkout.Execute(r.Context(), appcheckout.Input{
		AttemptID:    req.AttemptID,
		BuyerID:      req.BuyerID,
		PaymentToken: req.PaymentToken,
		Lines:        lines,
	})
	if err != nil {
		if appcheckout.IsValidation(err) {
			writeJSON(w, http.StatusBadRequest, checkoutResponse{
				AttemptID: req.AttemptID,
				Error:     err.Error(),
			})
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	writeJSON(w, statusForResult(result), responseForResult(result))
}

func statusForResult(res *appcheckout.Result) int {
	switch res.State {
	case appcheckout.StateCommitted:
		return http.StatusCreated
	case appcheckout.StateInsufficientStock:
		return http.StatusConflict
	case appcheckout.StateUnknownProduct:
		return http.StatusNotFound
	case appcheckout.StatePaymentDeclined:
		return http.StatusPaymentRequired
	case appcheckout.StateAmbiguousHold:
		// Not resolved yet; the caller retries with the same attempt id.
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}

func responseForResult(res *appcheckout.Result) checkoutResponse {
	out := checkoutResponse{AttemptID: res.AttemptID}
	switch res.State {
	case appcheckout.StateCommitted:
		out.OK = true
		out.OrderID = res.OrderID
	case appcheckout.StateInsufficientStock:
		out.Error = "insufficient_stock"
		out.ProductID = res.ProductID
	case appcheckout.StateUnknownProduct:
		out.Error = "unknown_product"
		out.ProductID = res.ProductID
	case appcheckout.StatePaymentDeclined:
		out.Error = "payment_declined"
		out.DeclineReason = res.DeclineReason
	case appcheckout.StateAmbiguousHold:
		out.Error = "ambiguous_settlement"
	case appcheckout.StateOrphanedPayment:
		out.Error = "orphaned_payment"
	default:
		out.Error = "internal_error"
	}
	return out
}

type orderLineResponse struct {
	ProductID      string `json:"product_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type orderResponse struct {
	OrderID    string              `json:"order_id"`
	BuyerID    string              `json:"buyer_id"`
	Status     domorder.Status     `json:"status"`
	TotalCents int64               `json:"total_cents"`
	Lines      []orderLineResponse `json:"lines"`
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	o, err := h.orders.Get(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, domorder.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	lines := make([]orderLineResponse, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, orderLineResponse{
			ProductID:      l.ProductID,
			Quantity:       l.Quantity,
			UnitPriceCents: l.UnitPriceCents,
		})
	}
	writeJSON(w, http.StatusOK, orderResponse{
		OrderID:    o.ID,
		BuyerID:    o.BuyerID,
		Status:     o.Status,
		TotalCents: o.TotalCents(),
		Lines:      lines,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": code})
}
