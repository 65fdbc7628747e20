// Package refresher keeps the contract_enriched materialized view fresh
// without refreshing it once per registration burst.
package refresher

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fundrate-collector/internal/metrics"
)

// Executor runs one standalone statement outside any unit of work.
type Executor interface {
	ExecRaw(ctx context.Context, sql string) error
}

const (
	// debounce is how long the last signal must settle before a refresh
	// runs; registrations arriving in a burst collapse into one refresh.
	debounce = 10 * time.Second

	refreshSQL = "REFRESH MATERIALIZED VIEW CONCURRENTLY contract_enriched"
)

// Refresher is the process-wide materialized view refresher. Signal is
// safe to call from any goroutine.
type Refresher struct {
	exec Executor
	log  zerolog.Logger
	now  func() time.Time

	mu         sync.Mutex
	pending    bool
	lastSignal time.Time
}

// New builds the refresher.
func New(exec Executor, log zerolog.Logger) *Refresher {
	return &Refresher{exec: exec, log: log, now: time.Now}
}

// Signal records that contract rows changed and a refresh is owed.
func (r *Refresher) Signal() {
	r.mu.Lock()
	r.pending = true
	r.lastSignal = r.now()
	r.mu.Unlock()
}

// Tick runs the refresh once a pending signal has settled for the full
// debounce window. A failed refresh stays pending so the next tick
// retries.
func (r *Refresher) Tick(ctx context.Context) {
	r.mu.Lock()
	signalAt := r.lastSignal
	due := r.pending && r.now().Sub(signalAt) >= debounce
	r.mu.Unlock()
	if !due {
		return
	}

	if err := r.exec.ExecRaw(ctx, refreshSQL); err != nil {
		metrics.MVRefreshFailures.Inc()
		r.log.Error().Err(err).Msg("Materialized view refresh failed; will retry")
		return
	}

	// A signal that arrived mid-refresh moves lastSignal and must
	// survive this refresh.
	r.mu.Lock()
	if r.lastSignal.Equal(signalAt) {
		r.pending = false
	}
	r.mu.Unlock()

	metrics.MVRefreshes.Inc()
	r.log.Info().Msg("Refreshed contract_enriched view")
}
