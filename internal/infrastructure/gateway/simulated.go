package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	domain "github.com/tienda-labs/checkout-core/internal/domain/payment"
)

// Token values the simulated gateway reacts to. Any other token settles.
const (
	TokenDeclined  = "tok_declined"
	TokenAmbiguous = "tok_ambiguous"
)

// Simulated is an in-process gateway for local runs and tests. Outcomes are
// driven by the payment token and recorded per attempt, so a retried Settle
// for the same attempt returns the stored outcome instead of charging again.
type Simulated struct {
	mu       sync.Mutex
	outcomes map[string]*domain.Outcome
}

func NewSimulated() *Simulated {
	return &Simulated{outcomes: make(map[string]*domain.Outcome)}
}

func (g *Simulated) Settle(ctx context.Context, attemptID string, amountCents int64, token string) (*domain.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if out, ok := g.outcomes[attemptID]; ok {
		cp := *out
		return &cp, nil
	}

	var out *domain.Outcome
	switch token {
	case TokenAmbiguous:
		// The "charge" is recorded before the error surfaces, so a retry of
		// the same attempt resolves to a settled outcome. This mirrors a
		// gateway that processed the charge but lost the response.
		out = g.settled(attemptID, amountCents)
		g.outcomes[attemptID] = out
		return nil, &domain.AmbiguousError{AttemptID: attemptID, Cause: errors.New("simulated response loss")}
	case TokenDeclined:
		out = &domain.Outcome{
			TransactionID: newTransactionID(),
			Settled:       false,
			AmountCents:   amountCents,
			DeclineReason: "card_declined",
		}
	default:
		out = g.settled(attemptID, amountCents)
	}

	g.outcomes[attemptID] = out
	cp := *out
	return &cp, nil
}

func (g *Simulated) settled(attemptID string, amountCents int64) *domain.Outcome {
	return &domain.Outcome{
		TransactionID:    newTransactionID(),
		Settled:          true,
		AmountCents:      amountCents,
		GatewayReference: fmt.Sprintf("sim-%s", attemptID),
	}
}

func newTransactionID() string {
	return "txn_" + uuid.NewString()
}
