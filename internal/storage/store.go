package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/SirClappington/gigboard/internal/domain"
)

// ErrPreconditionFailed signals a conditional write that lost: the row
// changed between load and commit. Handlers map it to a conflict.
var ErrPreconditionFailed = errors.New("precondition failed")

// JobStore is the single shared mutable resource. Every mutation is a
// single-key conditional write; there are no multi-key transactions.
type JobStore interface {
	Create(ctx context.Context, j *domain.Job) error
	Get(ctx context.Context, jobID string) (*domain.Job, error)

	// ApplyTransition commits tr's mutation iff tr.Pre holds on the row
	// at commit time, returning the updated job.
	ApplyTransition(ctx context.Context, jobID string, tr domain.Transition) (*domain.Job, error)

	// ConditionalDelete removes the row iff pre holds at commit time.
	ConditionalDelete(ctx context.Context, jobID string, pre domain.Precondition, at time.Time) error

	ListByOwner(ctx context.Context, ownerID string) ([]*domain.Job, error)
	ListByClaimer(ctx context.Context, claimerID string) ([]*domain.Job, error)
	ListOpen(ctx context.Context, categoryID string, now time.Time) ([]*domain.Job, error)

	// Sweeper enumeration. Both return at most limit candidates; a
	// candidate may have moved on by the time its write is attempted.
	ScanPastExpiry(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error)
	ScanClaimedPastDeadline(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error)

	Ping(ctx context.Context) error
}

const jobColumns = `id, owner_id, claimer_id, name, description, category_id,
pay_amount, time_to_complete_sec, status, expiry_date, claimed_at,
submission_deadline, submitted_at, expired_at, timed_out_at,
approval_message, rejection_message, created_at, updated_at`

// Store is the Postgres JobStore backed by pgxpool.
type Store struct{ db *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{db} }

var _ JobStore = (*Store)(nil)

func (s *Store) Create(ctx context.Context, j *domain.Job) error {
	_, err := s.db.Exec(ctx, `insert into jobs(
id, owner_id, claimer_id, name, description, category_id,
pay_amount, time_to_complete_sec, status, expiry_date, claimed_at,
submission_deadline, submitted_at, expired_at, timed_out_at,
approval_message, rejection_message, created_at, updated_at
) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		j.ID, j.OwnerID, j.ClaimerID, j.Name, j.Description, j.CategoryID,
		j.PayAmount, j.TimeToComplete, string(j.Status), j.ExpiryDate, j.ClaimedAt,
		j.SubmissionDeadline, j.SubmittedAt, j.ExpiredAt, j.TimedOutAt,
		j.ApprovalMessage, j.RejectionMessage, j.CreatedAt, j.UpdatedAt,
	)
	if isDuplicateKey(err) {
		return errors.Wrap(err, "duplicate job id")
	}
	return errors.Wrap(err, "insert job")
}

func (s *Store) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	row := s.db.QueryRow(ctx, `select `+jobColumns+` from jobs where id = $1`, jobID)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get job")
	}
	return j, nil
}

func (s *Store) ApplyTransition(ctx context.Context, jobID string, tr domain.Transition) (*domain.Job, error) {
	// $1 = id, $2 = instant the transition was decided at.
	args := []any{jobID, tr.At.UTC()}
	set := []string{"status = " + arg(&args, string(tr.Mut.Status)), "updated_at = $2"}

	m := tr.Mut
	if m.ClearClaim {
		set = append(set, "claimer_id = null", "claimed_at = null",
			"submission_deadline = null", "submitted_at = null")
	}
	if m.ClearStamps {
		set = append(set, "expired_at = null", "timed_out_at = null")
	}
	if m.ClearMessages {
		set = append(set, "approval_message = null", "rejection_message = null")
	}
	if m.Claimer != nil {
		set = append(set, "claimer_id = "+arg(&args, *m.Claimer))
	}
	if m.ClaimedAt != nil {
		set = append(set, "claimed_at = "+arg(&args, *m.ClaimedAt))
	}
	if m.SubmissionDeadline != nil {
		set = append(set, "submission_deadline = "+arg(&args, *m.SubmissionDeadline))
	}
	if m.SubmittedAt != nil {
		set = append(set, "submitted_at = "+arg(&args, *m.SubmittedAt))
	}
	if m.ExpiredAt != nil {
		set = append(set, "expired_at = "+arg(&args, *m.ExpiredAt))
	}
	if m.TimedOutAt != nil {
		set = append(set, "timed_out_at = "+arg(&args, *m.TimedOutAt))
	}
	if m.ApprovalMessage != nil {
		set = append(set, "approval_message = "+arg(&args, *m.ApprovalMessage))
	}
	if m.RejectionMessage != nil {
		set = append(set, "rejection_message = "+arg(&args, *m.RejectionMessage))
	}
	if m.ExpiryDate != nil {
		set = append(set, "expiry_date = "+arg(&args, *m.ExpiryDate))
	}
	if m.Name != nil {
		set = append(set, "name = "+arg(&args, *m.Name))
	}
	if m.Description != nil {
		set = append(set, "description = "+arg(&args, *m.Description))
	}
	if m.PayAmount != nil {
		set = append(set, "pay_amount = "+arg(&args, *m.PayAmount))
	}
	if m.TimeToComplete != nil {
		set = append(set, "time_to_complete_sec = "+arg(&args, *m.TimeToComplete))
	}

	query := "update jobs set " + strings.Join(set, ", ") +
		" where id = $1" + compileWhere(tr.Pre, &args, tr.At, "$2") +
		" returning " + jobColumns

	row := s.db.QueryRow(ctx, query, args...)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.missOrConflict(ctx, jobID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "apply transition")
	}
	return j, nil
}

func (s *Store) ConditionalDelete(ctx context.Context, jobID string, pre domain.Precondition, at time.Time) error {
	args := []any{jobID}
	tag, err := s.db.Exec(ctx,
		"delete from jobs where id = $1"+compileWhere(pre, &args, at, ""), args...)
	if err != nil {
		return errors.Wrap(err, "delete job")
	}
	if tag.RowsAffected() == 0 {
		return s.missOrConflict(ctx, jobID)
	}
	return nil
}

// missOrConflict disambiguates a zero-row conditional write: the row is
// either gone or changed under us.
func (s *Store) missOrConflict(ctx context.Context, jobID string) error {
	var exists bool
	err := s.db.QueryRow(ctx, `select exists(select 1 from jobs where id = $1)`, jobID).Scan(&exists)
	if err != nil {
		return errors.Wrap(err, "check job exists")
	}
	if !exists {
		return domain.ErrNotFound
	}
	return ErrPreconditionFailed
}

func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Job, error) {
	rows, err := s.db.Query(ctx,
		`select `+jobColumns+` from jobs where owner_id = $1 order by created_at desc`, ownerID)
	if err != nil {
		return nil, errors.Wrap(err, "list by owner")
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (s *Store) ListByClaimer(ctx context.Context, claimerID string) ([]*domain.Job, error) {
	rows, err := s.db.Query(ctx,
		`select `+jobColumns+` from jobs where claimer_id = $1 order by claimed_at desc`, claimerID)
	if err != nil {
		return nil, errors.Wrap(err, "list by claimer")
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (s *Store) ListOpen(ctx context.Context, categoryID string, now time.Time) ([]*domain.Job, error) {
	query := `select ` + jobColumns + ` from jobs where status = 'open' and expiry_date > $1`
	args := []any{now.UTC()}
	if categoryID != "" {
		query += ` and category_id = $2`
		args = append(args, categoryID)
	}
	rows, err := s.db.Query(ctx, query+` order by created_at desc`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list open")
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (s *Store) ScanPastExpiry(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	rows, err := s.db.Query(ctx, `select `+jobColumns+` from jobs
where expiry_date < $1 and status in ('open','claimed','submitted')
order by expiry_date asc limit $2`, now.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "scan past expiry")
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (s *Store) ScanClaimedPastDeadline(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	rows, err := s.db.Query(ctx, `select `+jobColumns+` from jobs
where status = 'claimed' and submission_deadline < $1
order by submission_deadline asc limit $2`, now.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "scan claimed past deadline")
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (s *Store) Ping(ctx context.Context) error {
	return errors.Wrap(s.db.Ping(ctx), "ping")
}

// arg appends v to args and returns its placeholder.
func arg(args *[]any, v any) string {
	*args = append(*args, v)
	return fmt.Sprintf("$%d", len(*args))
}

// compileWhere renders pre as additional WHERE clauses. Deadline
// comparisons use the transition instant decided by the executor, so
// the guard matches exactly what was decided against. atRef names an
// already-bound placeholder for that instant, or "" to bind it on
// first use; either way the statement never carries a parameter it
// does not reference, which Postgres rejects at prepare time.
func compileWhere(pre domain.Precondition, args *[]any, at time.Time, atRef string) string {
	atArg := func() string {
		if atRef == "" {
			atRef = arg(args, at.UTC())
		}
		return atRef
	}
	var b strings.Builder
	b.WriteString(" and status = " + arg(args, string(pre.Status)))
	if pre.OwnerIs != "" {
		b.WriteString(" and owner_id = " + arg(args, pre.OwnerIs))
	}
	if pre.ClaimerUnset {
		b.WriteString(" and claimer_id is null")
	}
	if pre.ClaimerIs != "" {
		b.WriteString(" and claimer_id = " + arg(args, pre.ClaimerIs))
	}
	if pre.ExpiryBefore {
		b.WriteString(" and expiry_date < " + atArg())
	}
	if pre.ExpiryAfter {
		b.WriteString(" and expiry_date > " + atArg())
	}
	if pre.DeadlineBefore {
		b.WriteString(" and submission_deadline < " + atArg())
	}
	if pre.DeadlineAfter {
		b.WriteString(" and submission_deadline > " + atArg())
	}
	return b.String()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*domain.Job, error) {
	var j domain.Job
	var status string
	err := row.Scan(
		&j.ID, &j.OwnerID, &j.ClaimerID, &j.Name, &j.Description, &j.CategoryID,
		&j.PayAmount, &j.TimeToComplete, &status, &j.ExpiryDate, &j.ClaimedAt,
		&j.SubmissionDeadline, &j.SubmittedAt, &j.ExpiredAt, &j.TimedOutAt,
		&j.ApprovalMessage, &j.RejectionMessage, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Status = domain.Status(status)
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*domain.Job, error) {
	var out []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan job")
		}
		out = append(out, j)
	}
	return out, errors.Wrap(rows.Err(), "iterate jobs")
}

// isDuplicateKey checks for a Postgres unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
