package gateway_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	dompay "github.com/tienda-labs/checkout-core/internal/domain/payment"
	"github.com/tienda-labs/checkout-core/internal/infrastructure/gateway"
)

func TestSimulatedSettles(t *testing.T) {
	g := gateway.NewSimulated()

	out, err := g.Settle(context.Background(), "a1", 1200, "tok_visa")
	require.NoError(t, err)
	require.True(t, out.Settled)
	require.Equal(t, int64(1200), out.AmountCents)
	require.NotEmpty(t, out.TransactionID)
}

func TestSimulatedDeclineToken(t *testing.T) {
	g := gateway.NewSimulated()

	out, err := g.Settle(context.Background(), "a1", 1200, gateway.TokenDeclined)
	require.NoError(t, err)
	require.False(t, out.Settled)
	require.Equal(t, "card_declined", out.DeclineReason)
}

func TestSimulatedIdempotentPerAttempt(t *testing.T) {
	g := gateway.NewSimulated()

	first, err := g.Settle(context.Background(), "a1", 1200, "tok_visa")
	require.NoError(t, err)

	// Same attempt id returns the stored outcome, not a second charge.
	second, err := g.Settle(context.Background(), "a1", 1200, "tok_visa")
	require.NoError(t, err)
	require.Equal(t, first.TransactionID, second.TransactionID)

	other, err := g.Settle(context.Background(), "a2", 1200, "tok_visa")
	require.NoError(t, err)
	require.NotEqual(t, first.TransactionID, other.TransactionID)
}

func TestSimulatedAmbiguousThenResolved(t *testing.T) {
	g := gateway.NewSimulated()

	_, err := g.Settle(context.Background(), "a1", 1200, gateway.TokenAmbiguous)
	require.ErrorIs(t, err, dompay.ErrAmbiguousSettlement)

	// The charge went through before the response was lost; the retry with
	// the same idempotency key resolves to settled.
	out, err := g.Settle(context.Background(), "a1", 1200, gateway.TokenAmbiguous)
	require.NoError(t, err)
	require.True(t, out.Settled)
}
