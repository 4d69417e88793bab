package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	dompay "github.com/tienda-labs/checkout-core/internal/domain/payment"
	"github.com/tienda-labs/checkout-core/internal/infrastructure/gateway"
)

func TestHTTPGatewaySettled(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/settlements", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, float64(2500), body["amount_cents"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"transaction_id": "txn-9",
			"settled":        true,
			"reference":      "ref-9",
		})
	}))
	defer srv.Close()

	g := gateway.NewHTTPGateway(srv.URL, time.Second, nil)
	out, err := g.Settle(context.Background(), "attempt-1", 2500, "tok_visa")
	require.NoError(t, err)
	require.True(t, out.Settled)
	require.Equal(t, "txn-9", out.TransactionID)
	require.Equal(t, "ref-9", out.GatewayReference)
	require.Equal(t, int64(2500), out.AmountCents)
	require.Equal(t, "attempt-1", gotKey)
}

func TestHTTPGatewayDecline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"transaction_id": "txn-d",
			"settled":        false,
			"decline_reason": "insufficient_funds",
		})
	}))
	defer srv.Close()

	g := gateway.NewHTTPGateway(srv.URL, time.Second, nil)
	out, err := g.Settle(context.Background(), "attempt-1", 2500, "tok_bad")
	require.NoError(t, err)
	require.False(t, out.Settled)
	require.Equal(t, "insufficient_funds", out.DeclineReason)
}

func TestHTTPGatewayDeclineInBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"transaction_id": "txn-d",
			"settled":        false,
		})
	}))
	defer srv.Close()

	g := gateway.NewHTTPGateway(srv.URL, time.Second, nil)
	out, err := g.Settle(context.Background(), "attempt-1", 2500, "tok_bad")
	require.NoError(t, err)
	require.False(t, out.Settled)
	require.Equal(t, "declined", out.DeclineReason)
}

func TestHTTPGatewayServerErrorIsAmbiguous(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	g := gateway.NewHTTPGateway(srv.URL, time.Second, nil)
	_, err := g.Settle(context.Background(), "attempt-1", 2500, "tok_visa")
	require.ErrorIs(t, err, dompay.ErrAmbiguousSettlement)

	var amb *dompay.AmbiguousError
	require.ErrorAs(t, err, &amb)
	require.Equal(t, "attempt-1", amb.AttemptID)
}

func TestHTTPGatewayTimeoutIsAmbiguous(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	g := gateway.NewHTTPGateway(srv.URL, 50*time.Millisecond, nil)
	_, err := g.Settle(context.Background(), "attempt-1", 2500, "tok_visa")
	require.ErrorIs(t, err, dompay.ErrAmbiguousSettlement)
}

func TestHTTPGatewayRejectedRequestIsNotAmbiguous(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	g := gateway.NewHTTPGateway(srv.URL, time.Second, nil)
	_, err := g.Settle(context.Background(), "attempt-1", 2500, "tok_visa")
	require.Error(t, err)
	require.NotErrorIs(t, err, dompay.ErrAmbiguousSettlement)
}
