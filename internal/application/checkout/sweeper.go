package checkout

import (
	"context"
	"errors"
	"sync"
	"time"

	dominv "github.com/tienda-labs/checkout-core/internal/domain/inventory"
	"github.com/tienda-labs/checkout-core/internal/observability"
)

const sweeperService = "hold-sweeper"

// Sweeper periodically releases reservations whose hold window passed without
// resolution, trading a short liquidity delay for overselling safety.
// Attempts backing the released holds are marked expired so a later retry of
// the same attempt id restarts cleanly.
type Sweeper struct {
	store    dominv.Store
	attempts AttemptStore
	interval time.Duration
	now      func() time.Time

	log      observability.Logger
	released observability.Counter

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewSweeper(store dominv.Store, attempts AttemptStore, interval time.Duration, tel observability.Observability) *Sweeper {
	if tel == nil {
		tel = observability.Nop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		store:    store,
		attempts: attempts,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
		log:      tel.Logger().With(observability.F("service", sweeperService)),
		released: tel.Metrics().Counter(observability.MHoldsReleased),
		done:     make(chan struct{}),
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
		s.cancel = cancel
		go s.loop(bg)
		s.log.Info("hold_sweeper_started",
			observability.F("interval", s.interval.String()),
		)
	})
}

func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		<-s.done
		s.log.Info("hold_sweeper_stopped")
	})
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass. Exported so operators (and tests) can force a pass
// without waiting for the ticker.
func (s *Sweeper) Sweep(ctx context.Context) {
	released, err := s.store.ReleaseExpired(ctx, s.now())
	if err != nil {
		s.log.Error("expired_hold_sweep_failed",
			observability.F("error", err.Error()),
		)
		return
	}
	if len(released) == 0 {
		return
	}

	s.released.Add(float64(len(released)))
	for _, res := range released {
		s.log.Warn("expired_hold_released",
			observability.F("reservation_id", res.ID),
			observability.F("attempt_id", res.AttemptID),
			observability.F("total_cents", res.TotalCents),
		)
		s.expireAttempt(ctx, res.AttemptID)
	}
}

func (s *Sweeper) expireAttempt(ctx context.Context, attemptID string) {
	if s.attempts == nil || attemptID == "" {
		return
	}
	attempt, err := s.attempts.Get(ctx, attemptID)
	if err != nil {
		if !errors.Is(err, ErrAttemptNotFound) {
			s.log.Error("attempt_expire_lookup_failed",
				observability.F("attempt_id", attemptID),
				observability.F("error", err.Error()),
			)
		}
		return
	}
	// Only unresolved attempts expire; committed or orphaned ones already
	// own their stock.
	if attempt.State != AttemptSettling && attempt.State != AttemptAmbiguous {
		return
	}
	attempt.State = AttemptExpired
	attempt.UpdatedAt = s.now()
	if err := s.attempts.Put(ctx, attempt); err != nil {
		s.log.Error("attempt_expire_record_failed",
			observability.F("attempt_id", attemptID),
			observability.F("error", err.Error()),
		)
	}
}
