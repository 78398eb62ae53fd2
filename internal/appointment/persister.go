package appointment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-scheduling/internal/metrics"
)

const (
	persistRetryBase = 100 * time.Millisecond
	persistRetryMax  = 5 * time.Second

	// A change still failing after this many attempts is reported as stuck,
	// and again every this many attempts after that.
	persistStallAttempts = 10
)

// Persister drains a Journal into a Store, one change at a time and in
// sequence order. A change that fails to save is retried with backoff; later
// changes wait behind it so storage never sees them out of order.
type Persister struct {
	flushMu sync.Mutex // one drainer at a time keeps writes in order

	journal *Journal
	store   Store
	logger  zerolog.Logger
	metrics *metrics.SchedulingMetrics

	retryBase  time.Duration
	retryMax   time.Duration
	stallAfter int
}

func NewPersister(journal *Journal, store Store, logger zerolog.Logger, m *metrics.SchedulingMetrics) *Persister {
	return &Persister{
		journal: journal,
		store:   store,
		logger:  logger.With().Str("component", "persister").Logger(),
		metrics: m,

		retryBase:  persistRetryBase,
		retryMax:   persistRetryMax,
		stallAfter: persistStallAttempts,
	}
}

// Run persists changes as they are journalled until ctx is cancelled, then
// makes a final attempt with a fresh context bounded by drainTimeout.
func (p *Persister) Run(ctx context.Context, drainTimeout time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
			if err := p.Flush(drainCtx); err != nil {
				p.logger.Error().Err(err).Int("pending", p.journal.Len()).Msg("changes left unpersisted at shutdown")
				return err
			}
			return nil
		case <-p.journal.Ready():
			if err := p.Flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
				p.logger.Error().Err(err).Msg("flush journal")
			}
		}
	}
}

// Flush writes every pending change before returning. If ctx ends first the
// unwritten changes are put back on the journal and ctx's error is returned.
func (p *Persister) Flush(ctx context.Context) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()
	for {
		changes := p.journal.Drain()
		if len(changes) == 0 {
			p.metrics.SetPendingChanges(0)
			return nil
		}
		for i, c := range changes {
			p.metrics.SetPendingChanges(len(changes) - i + p.journal.Len())
			if err := p.save(ctx, c); err != nil {
				p.journal.requeue(changes[i:])
				p.metrics.SetPendingChanges(p.journal.Len())
				return err
			}
		}
		p.metrics.SetPendingChanges(p.journal.Len())
	}
}

// save retries c until storage accepts it or ctx ends. Every later change
// waits behind it, so a change storage keeps rejecting shows up in the
// stalled_attempts gauge and as an error log every stallAfter attempts.
func (p *Persister) save(ctx context.Context, c Change) error {
	delay := p.retryBase
	for attempt := 1; ; attempt++ {
		err := p.store.SaveChange(ctx, c)
		if err == nil {
			p.metrics.SetStalledAttempts(0)
			return nil
		}
		p.metrics.IncPersistFailure()
		p.metrics.SetStalledAttempts(attempt)

		msg, ev := "save change failed", p.logger.Warn()
		if p.stallAfter > 0 && attempt%p.stallAfter == 0 {
			msg, ev = "change is stuck, later changes are queued behind it", p.logger.Error()
		}
		ev.Err(err).
			Uint64("seq", c.Seq).
			Str("event", c.Event).
			Str("appointment_id", c.Appointment.ID.String()).
			Int("attempt", attempt).
			Int("queued", p.journal.Len()).
			Dur("retry_in", delay).
			Msg(msg)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > p.retryMax {
			delay = p.retryMax
		}
	}
}
