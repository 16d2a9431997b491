package sweeper

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/SirClappington/gigboard/internal/domain"
	"github.com/SirClappington/gigboard/internal/event"
	"github.com/SirClappington/gigboard/internal/queue"
	"github.com/SirClappington/gigboard/internal/storage"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeBus struct {
	mu     sync.Mutex
	events []event.Event
}

func (b *fakeBus) Publish(_ context.Context, ev event.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *fakeBus) kinds() []event.Kind {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]event.Kind, len(b.events))
	for i, ev := range b.events {
		out[i] = ev.Kind
	}
	return out
}

type fakeNotifier struct {
	mu    sync.Mutex
	tasks []queue.Task
}

func (n *fakeNotifier) Enqueue(_ context.Context, t queue.Task) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tasks = append(n.tasks, t)
	return true, nil
}

func fixture(t *testing.T, at time.Time) (*Sweeper, *storage.Memory, *fakeBus, *fakeNotifier) {
	t.Helper()
	store := storage.NewMemory()
	bus := &fakeBus{}
	notify := &fakeNotifier{}
	sw := New(store, bus, notify, zap.NewNop(), 100).WithClock(func() time.Time { return at })
	return sw, store, bus, notify
}

func seed(t *testing.T, store *storage.Memory, id string, status domain.Status, expiry time.Time, mutate func(*domain.Job)) {
	t.Helper()
	j := &domain.Job{
		ID:             id,
		OwnerID:        "owner",
		Name:           "mow the lawn",
		Description:    "back garden",
		CategoryID:     "garden",
		PayAmount:      500,
		TimeToComplete: 60,
		Status:         status,
		ExpiryDate:     expiry,
		CreatedAt:      base,
		UpdatedAt:      base,
	}
	if mutate != nil {
		mutate(j)
	}
	if err := store.Create(context.Background(), j); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func withClaim(claimer string, claimedAt time.Time, ttc int64) func(*domain.Job) {
	return func(j *domain.Job) {
		deadline := claimedAt.Add(time.Duration(ttc) * time.Second)
		j.ClaimerID = &claimer
		j.ClaimedAt = &claimedAt
		j.SubmissionDeadline = &deadline
	}
}

func TestSweepExpired(t *testing.T) {
	t.Parallel()
	now := base.Add(48 * time.Hour)
	sw, store, bus, notify := fixture(t, now)
	ctx := context.Background()

	seed(t, store, "lapsed-open", domain.Open, base.Add(24*time.Hour), nil)
	seed(t, store, "lapsed-claimed", domain.Claimed, base.Add(24*time.Hour), withClaim("seeker", base, 60))
	seed(t, store, "still-live", domain.Open, now.Add(time.Hour), nil)
	seed(t, store, "done", domain.Approved, base.Add(24*time.Hour), nil)

	n, err := sw.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 2 {
		t.Fatalf("transitioned = %d, want 2", n)
	}

	for _, id := range []string{"lapsed-open", "lapsed-claimed"} {
		j, _ := store.Get(ctx, id)
		if j.Status != domain.Expired {
			t.Fatalf("%s status = %s", id, j.Status)
		}
		if j.ClaimerID != nil {
			t.Fatalf("%s claim not cleared", id)
		}
	}
	for _, id := range []string{"still-live", "done"} {
		j, _ := store.Get(ctx, id)
		if j.Status == domain.Expired {
			t.Fatalf("%s was wrongly expired", id)
		}
	}

	if got := len(bus.kinds()); got != 2 {
		t.Fatalf("events = %d, want 2", got)
	}
	if got := len(notify.tasks); got != 2 {
		t.Fatalf("notifications = %d, want 2", got)
	}
}

func TestSweepExpiredIdempotent(t *testing.T) {
	t.Parallel()
	now := base.Add(48 * time.Hour)
	sw, store, bus, _ := fixture(t, now)
	ctx := context.Background()

	seed(t, store, "lapsed", domain.Open, base.Add(24*time.Hour), nil)

	for i := 0; i < 2; i++ {
		if _, err := sw.SweepExpired(ctx); err != nil {
			t.Fatalf("sweep %d: %v", i, err)
		}
	}
	j, _ := store.Get(ctx, "lapsed")
	if j.Status != domain.Expired {
		t.Fatalf("status = %s", j.Status)
	}
	// the second pass finds no candidate; exactly one event total
	if got := len(bus.kinds()); got != 1 {
		t.Fatalf("events = %d, want 1", got)
	}
}

func TestSweepTimedOut(t *testing.T) {
	t.Parallel()
	// claim at T0 with a 60s window; sweep at T0+120s
	now := base.Add(120 * time.Second)
	sw, store, bus, notify := fixture(t, now)
	ctx := context.Background()

	seed(t, store, "abandoned", domain.Claimed, base.Add(24*time.Hour), withClaim("seeker", base, 60))
	seed(t, store, "working", domain.Claimed, base.Add(24*time.Hour), withClaim("seeker", base, 3600))

	n, err := sw.SweepTimedOut(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("transitioned = %d, want 1", n)
	}

	j, _ := store.Get(ctx, "abandoned")
	if j.Status != domain.Open || j.ClaimerID != nil || j.SubmissionDeadline != nil {
		t.Fatalf("abandoned = %+v", j)
	}
	if j.TimedOutAt == nil {
		t.Fatal("timedOutAt not set")
	}

	live, _ := store.Get(ctx, "working")
	if live.Status != domain.Claimed {
		t.Fatalf("working status = %s", live.Status)
	}

	kinds := bus.kinds()
	if len(kinds) != 1 || kinds[0] != event.JobTimedOut {
		t.Fatalf("events = %v", kinds)
	}
	// consumers of the revert need the displaced claimer even though the
	// row no longer has one
	ev := bus.events[0]
	if ev.ClaimerID == nil || *ev.ClaimerID != "seeker" {
		t.Fatalf("event claimer = %v, want seeker", ev.ClaimerID)
	}
	if ev.ClaimedAt == nil || !ev.ClaimedAt.Equal(base) {
		t.Fatalf("event claimedAt = %v", ev.ClaimedAt)
	}
	if ev.Status != string(domain.Open) {
		t.Fatalf("event status = %s", ev.Status)
	}
	if len(notify.tasks) != 1 || notify.tasks[0].JobID != "abandoned" {
		t.Fatalf("notifications = %v", notify.tasks)
	}
}

func TestSweepSkipsRacedCandidates(t *testing.T) {
	t.Parallel()
	now := base.Add(120 * time.Second)
	sw, store, bus, _ := fixture(t, now)
	ctx := context.Background()

	seed(t, store, "raced", domain.Claimed, base.Add(24*time.Hour), withClaim("seeker", base, 60))

	candidates, err := store.ScanClaimedPastDeadline(ctx, now, 100)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("candidates = %d, want 1", len(candidates))
	}

	// a late submit lands between enumeration and the sweep write; the
	// claimer's deadline had not lapsed at the instant they decided
	j, _ := store.Get(ctx, "raced")
	tr, err := domain.DecideSubmit(j, domain.Caller{ID: "seeker"}, base.Add(30*time.Second))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := store.ApplyTransition(ctx, "raced", tr); err != nil {
		t.Fatalf("apply: %v", err)
	}

	n := sw.apply(ctx, candidates, func(c *domain.Job) (domain.Transition, error) {
		return domain.DecideTimeout(c, now)
	})
	if n != 0 {
		t.Fatalf("transitioned = %d, want 0", n)
	}
	if len(bus.kinds()) != 0 {
		t.Fatal("no event expected for a raced candidate")
	}
	got, _ := store.Get(ctx, "raced")
	if got.Status != domain.Submitted {
		t.Fatalf("status = %s, want submitted", got.Status)
	}
}
