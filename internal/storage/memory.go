package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/SirClappington/gigboard/internal/domain"
)

// Memory is an in-memory JobStore with the same conditional-write
// semantics as the Postgres store. Safe for concurrent use; intended for
// unit tests and development.
type Memory struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]*domain.Job)}
}

var _ JobStore = (*Memory)(nil)

func (m *Memory) Create(_ context.Context, j *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[j.ID]; ok {
		return errors.New("duplicate job id")
	}
	cp := *j
	m.jobs[j.ID] = &cp
	return nil
}

func (m *Memory) Get(_ context.Context, jobID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *Memory) ApplyTransition(_ context.Context, jobID string, tr domain.Transition) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !tr.Pre.Holds(j, tr.At) {
		return nil, ErrPreconditionFailed
	}
	tr.Mut.Apply(j, tr.At)
	cp := *j
	return &cp, nil
}

func (m *Memory) ConditionalDelete(_ context.Context, jobID string, pre domain.Precondition, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if !pre.Holds(j, at) {
		return ErrPreconditionFailed
	}
	delete(m.jobs, jobID)
	return nil
}

func (m *Memory) ListByOwner(_ context.Context, ownerID string) ([]*domain.Job, error) {
	return m.collect(func(j *domain.Job) bool { return j.OwnerID == ownerID }, createdDesc), nil
}

func (m *Memory) ListByClaimer(_ context.Context, claimerID string) ([]*domain.Job, error) {
	return m.collect(func(j *domain.Job) bool {
		return j.ClaimerID != nil && *j.ClaimerID == claimerID
	}, claimedDesc), nil
}

func (m *Memory) ListOpen(_ context.Context, categoryID string, now time.Time) ([]*domain.Job, error) {
	return m.collect(func(j *domain.Job) bool {
		if j.Status != domain.Open || !j.ExpiryDate.After(now) {
			return false
		}
		return categoryID == "" || j.CategoryID == categoryID
	}, createdDesc), nil
}

func (m *Memory) ScanPastExpiry(_ context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	out := m.collect(func(j *domain.Job) bool {
		return !j.Status.Terminal() && j.ExpiryDate.Before(now)
	}, expiryAsc)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ScanClaimedPastDeadline(_ context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	out := m.collect(func(j *domain.Job) bool {
		return j.Status == domain.Claimed &&
			j.SubmissionDeadline != nil && j.SubmissionDeadline.Before(now)
	}, deadlineAsc)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Ping(_ context.Context) error { return nil }

// Orderings mirror the SQL store's order by clauses.
func createdDesc(a, b *domain.Job) bool { return a.CreatedAt.After(b.CreatedAt) }

func claimedDesc(a, b *domain.Job) bool {
	if a.ClaimedAt == nil || b.ClaimedAt == nil {
		return b.ClaimedAt == nil && a.ClaimedAt != nil
	}
	return a.ClaimedAt.After(*b.ClaimedAt)
}

func expiryAsc(a, b *domain.Job) bool { return a.ExpiryDate.Before(b.ExpiryDate) }

func deadlineAsc(a, b *domain.Job) bool {
	if a.SubmissionDeadline == nil || b.SubmissionDeadline == nil {
		return a.SubmissionDeadline == nil && b.SubmissionDeadline != nil
	}
	return a.SubmissionDeadline.Before(*b.SubmissionDeadline)
}

func (m *Memory) collect(keep func(*domain.Job) bool, less func(a, b *domain.Job) bool) []*domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Job
	for _, j := range m.jobs {
		if keep(j) {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return less(out[a], out[b]) })
	return out
}
