package event

import (
	"time"

	"github.com/SirClappington/gigboard/internal/domain"
)

// Kind is the routing key of a lifecycle event.
type Kind string

const (
	JobCreated   Kind = "job.created"
	JobClaimed   Kind = "job.claimed"
	JobSubmitted Kind = "job.submitted"
	JobApproved  Kind = "job.approved"
	JobRejected  Kind = "job.rejected"
	JobExpired   Kind = "job.expired"
	JobTimedOut  Kind = "job.timedout"
	JobRelisted  Kind = "job.relisted"
	JobEdited    Kind = "job.edited"
	JobDeleted   Kind = "job.deleted"
)

// KindFor maps a transition action to its event kind.
func KindFor(a domain.Action) Kind {
	switch a {
	case domain.ActionClaim:
		return JobClaimed
	case domain.ActionSubmit:
		return JobSubmitted
	case domain.ActionApprove:
		return JobApproved
	case domain.ActionReject:
		return JobRejected
	case domain.ActionExpire:
		return JobExpired
	case domain.ActionTimeout:
		return JobTimedOut
	case domain.ActionRelist:
		return JobRelisted
	case domain.ActionEdit:
		return JobEdited
	case domain.ActionDelete:
		return JobDeleted
	}
	return ""
}

// Event is the versioned, immutable record published per successful
// transition. It is denormalized so consumers never re-query the store.
type Event struct {
	Version    int        `json:"version"`
	Kind       Kind       `json:"kind"`
	JobID      string     `json:"job_id"`
	Name       string     `json:"name"`
	OwnerID    string     `json:"owner_id"`
	ClaimerID  *string    `json:"claimer_id,omitempty"`
	CategoryID string     `json:"category_id"`
	PayAmount  int64      `json:"pay_amount"`
	Status     string     `json:"status"`
	ExpiryDate time.Time  `json:"expiry_date"`
	ClaimedAt  *time.Time `json:"claimed_at,omitempty"`
	Deadline   *time.Time `json:"submission_deadline,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// FromTransition snapshots the post-transition row, keeping the party
// fields of before when the transition displaced a claimer. Consumers
// of job.rejected or job.timedout need to know who lost the claim.
func FromTransition(kind Kind, before, after *domain.Job, at time.Time) Event {
	ev := FromJob(kind, after, at)
	if after.ClaimerID == nil && before.ClaimerID != nil {
		ev.ClaimerID = before.ClaimerID
		ev.ClaimedAt = before.ClaimedAt
		ev.Deadline = before.SubmissionDeadline
	}
	return ev
}

// FromJob snapshots j into an event of the given kind at instant at.
func FromJob(kind Kind, j *domain.Job, at time.Time) Event {
	return Event{
		Version:    1,
		Kind:       kind,
		JobID:      j.ID,
		Name:       j.Name,
		OwnerID:    j.OwnerID,
		ClaimerID:  j.ClaimerID,
		CategoryID: j.CategoryID,
		PayAmount:  j.PayAmount,
		Status:     string(j.Status),
		ExpiryDate: j.ExpiryDate,
		ClaimedAt:  j.ClaimedAt,
		Deadline:   j.SubmissionDeadline,
		OccurredAt: at.UTC(),
	}
}
