// Package sweeper holds the two periodic processes that force
// time-based transitions: the expiry sweep, which terminates postings
// past their deadline, and the timeout sweep, which reverts abandoned
// claims. Both are idempotent: every candidate gets its own conditional
// write, and a lost write just means a user action got there first.
package sweeper

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SirClappington/gigboard/internal/domain"
	"github.com/SirClappington/gigboard/internal/event"
	"github.com/SirClappington/gigboard/internal/queue"
	"github.com/SirClappington/gigboard/internal/storage"
)

// Notifier is the durable queue successful sweep transitions are fanned
// into for downstream notification processing.
type Notifier interface {
	Enqueue(ctx context.Context, t queue.Task) (bool, error)
}

type Sweeper struct {
	store  storage.JobStore
	bus    event.Publisher
	notify Notifier
	log    *zap.Logger
	batch  int
	now    func() time.Time
}

func New(store storage.JobStore, bus event.Publisher, notify Notifier, log *zap.Logger, batch int) *Sweeper {
	return &Sweeper{store: store, bus: bus, notify: notify, log: log, batch: batch, now: time.Now}
}

// WithClock overrides the sweeper clock. Test hook.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// RunExpiry ticks the expiry sweep every interval until ctx is done.
func (s *Sweeper) RunExpiry(ctx context.Context, interval time.Duration) error {
	return s.run(ctx, interval, "expiry", s.SweepExpired)
}

// RunTimeout ticks the timeout sweep every interval until ctx is done.
func (s *Sweeper) RunTimeout(ctx context.Context, interval time.Duration) error {
	return s.run(ctx, interval, "timeout", s.SweepTimedOut)
}

func (s *Sweeper) run(ctx context.Context, interval time.Duration, name string, sweep func(context.Context) (int, error)) error {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			n, err := sweep(ctx)
			if err != nil {
				// Enumeration failure is fatal for this tick only;
				// the next tick supersedes stale work.
				s.log.Error("sweep failed", zap.String("sweep", name), zap.Error(err))
				continue
			}
			if n > 0 {
				s.log.Info("sweep done", zap.String("sweep", name), zap.Int("transitioned", n))
			}
		}
	}
}

// SweepExpired forces jobs past their posting deadline to Expired and
// returns how many transitioned. A per-candidate precondition failure is
// swallowed: the candidate was already moved by a racing actor.
func (s *Sweeper) SweepExpired(ctx context.Context) (int, error) {
	now := s.now()
	candidates, err := s.store.ScanPastExpiry(ctx, now, s.batch)
	if err != nil {
		return 0, errors.Wrap(err, "enumerate expired")
	}
	return s.apply(ctx, candidates, func(j *domain.Job) (domain.Transition, error) {
		return domain.DecideExpire(j, now)
	}), nil
}

// SweepTimedOut reverts Claimed jobs past their submission deadline to
// Open and returns how many transitioned.
func (s *Sweeper) SweepTimedOut(ctx context.Context) (int, error) {
	now := s.now()
	candidates, err := s.store.ScanClaimedPastDeadline(ctx, now, s.batch)
	if err != nil {
		return 0, errors.Wrap(err, "enumerate timed out")
	}
	return s.apply(ctx, candidates, func(j *domain.Job) (domain.Transition, error) {
		return domain.DecideTimeout(j, now)
	}), nil
}

func (s *Sweeper) apply(ctx context.Context, candidates []*domain.Job, decide func(*domain.Job) (domain.Transition, error)) int {
	var n int
	for _, j := range candidates {
		tr, err := decide(j)
		if err != nil {
			continue
		}
		updated, err := s.store.ApplyTransition(ctx, j.ID, tr)
		if err != nil {
			if errors.Is(err, storage.ErrPreconditionFailed) || errors.Is(err, domain.ErrNotFound) {
				s.log.Debug("candidate already transitioned", zap.String("job_id", j.ID))
				continue
			}
			s.log.Error("sweep write failed", zap.String("job_id", j.ID), zap.Error(err))
			continue
		}
		n++
		s.fanOut(ctx, event.KindFor(tr.Action), j, updated, tr.At)
	}
	return n
}

// fanOut queues the notification task (deduped downstream by job and
// transition instant) and publishes the bus event. The pre-transition
// candidate supplies the displaced claimer for reverted claims. Neither
// failure reverts the committed transition.
func (s *Sweeper) fanOut(ctx context.Context, kind event.Kind, before, after *domain.Job, at time.Time) {
	if _, err := s.notify.Enqueue(ctx, queue.Task{JobID: after.ID, Kind: string(kind), At: at}); err != nil {
		s.log.Warn("queue notification", zap.String("job_id", after.ID), zap.Error(err))
	}
	if err := s.bus.Publish(ctx, event.FromTransition(kind, before, after, at)); err != nil {
		s.log.Warn("publish event", zap.String("job_id", after.ID), zap.Error(err))
	}
}
