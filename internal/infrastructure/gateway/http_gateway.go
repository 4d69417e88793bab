package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	domain "github.com/tienda-labs/checkout-core/internal/domain/payment"
	"github.com/tienda-labs/checkout-core/internal/observability"
)

// HTTPGateway settles payments against a remote gateway over HTTP. It makes
// exactly one call per Settle and normalizes the response into the three
// outcomes the coordinator distinguishes:
//
//   - 2xx with a settled body        -> settled outcome
//   - 402 or an explicit decline body -> declined outcome, nil error
//   - timeout, transport failure, 5xx -> ambiguous: the charge may exist
//
// 4xx other than 402 means the gateway rejected the request before
// processing, so no charge can exist and a plain error is returned.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
	log     observability.Logger
}

func NewHTTPGateway(baseURL string, timeout time.Duration, logger observability.Logger) *HTTPGateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &HTTPGateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		log:     logger.With(observability.F("component", "payment_gateway")),
	}
}

type settleRequest struct {
	AmountCents  int64  `json:"amount_cents"`
	PaymentToken string `json:"payment_token"`
}

type settleResponse struct {
	TransactionID string `json:"transaction_id"`
	Settled       bool   `json:"settled"`
	Reference     string `json:"reference"`
	DeclineReason string `json:"decline_reason"`
}

func (g *HTTPGateway) Settle(ctx context.Context, attemptID string, amountCents int64, token string) (*domain.Outcome, error) {
	body, err := json.Marshal(settleRequest{AmountCents: amountCents, PaymentToken: token})
	if err != nil {
		return nil, fmt.Errorf("gateway: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/settlements", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// The remote gateway dedupes on this key; a retried Settle for the same
	// attempt can never charge twice.
	req.Header.Set("Idempotency-Key", attemptID)

	resp, err := g.client.Do(req)
	if err != nil {
		// The request may have reached the gateway before the failure.
		if isAmbiguousTransport(err) {
			g.log.Warn("settlement_transport_ambiguous",
				observability.F("attempt_id", attemptID),
				observability.F("error", err.Error()),
			)
			return nil, &domain.AmbiguousError{AttemptID: attemptID, Cause: err}
		}
		return nil, fmt.Errorf("gateway: settle: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 500:
		// The gateway crashed while (possibly after) processing.
		g.log.Warn("settlement_gateway_error",
			observability.F("attempt_id", attemptID),
			observability.F("status", resp.StatusCode),
		)
		return nil, &domain.AmbiguousError{
			AttemptID: attemptID,
			Cause:     fmt.Errorf("gateway returned %d", resp.StatusCode),
		}
	case resp.StatusCode == http.StatusPaymentRequired:
		var sr settleResponse
		_ = json.NewDecoder(resp.Body).Decode(&sr)
		return &domain.Outcome{
			TransactionID: sr.TransactionID,
			Settled:       false,
			AmountCents:   amountCents,
			DeclineReason: declineReason(sr),
		}, nil
	case resp.StatusCode >= 400:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("gateway: rejected request with %d: %s", resp.StatusCode, raw)
	}

	var sr settleResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		// Accepted status with an unreadable body: outcome unknown.
		return nil, &domain.AmbiguousError{AttemptID: attemptID, Cause: err}
	}
	if !sr.Settled {
		return &domain.Outcome{
			TransactionID: sr.TransactionID,
			Settled:       false,
			AmountCents:   amountCents,
			DeclineReason: declineReason(sr),
		}, nil
	}

	return &domain.Outcome{
		TransactionID:    sr.TransactionID,
		Settled:          true,
		AmountCents:      amountCents,
		GatewayReference: sr.Reference,
	}, nil
}

func declineReason(sr settleResponse) string {
	if sr.DeclineReason != "" {
		return sr.DeclineReason
	}
	return "declined"
}

func isAmbiguousTransport(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	// Connection resets and broken pipes arrive after the request was sent.
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op != "dial"
}
