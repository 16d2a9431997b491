package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	Open      Status = "open"
	Claimed   Status = "claimed"
	Submitted Status = "submitted"
	Approved  Status = "approved"
	Expired   Status = "expired"
)

const (
	maxNameLen        = 140
	maxDescriptionLen = 4000
	maxMessageLen     = 2000
)

// Job is the work-order aggregate. Pay amounts are minor currency units.
// status is the only field concurrency control pivots on; every writer
// goes through a Transition so the store can guard the row.
type Job struct {
	ID        string
	OwnerID   string
	ClaimerID *string

	Name           string
	Description    string
	CategoryID     string
	PayAmount      int64
	TimeToComplete int64 // seconds granted to the claimer

	Status Status

	ExpiryDate         time.Time
	ClaimedAt          *time.Time
	SubmissionDeadline *time.Time // always claimedAt + timeToComplete
	SubmittedAt        *time.Time
	ExpiredAt          *time.Time
	TimedOutAt         *time.Time

	ApprovalMessage  *string
	RejectionMessage *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Caller is the resolved identity behind a request.
type Caller struct {
	ID    string
	Admin bool
}

func (c Caller) mayModerate(j *Job) bool {
	return c.Admin || c.ID == j.OwnerID
}

// NewJobParams carries owner-supplied fields for job creation.
type NewJobParams struct {
	OwnerID        string
	Name           string
	Description    string
	CategoryID     string
	PayAmount      int64
	TimeToComplete int64
	ExpiresIn      int64 // seconds until the posting lapses
}

// NewJob validates params and builds an Open job. Validation failures are
// reported before any store write.
func NewJob(p NewJobParams, now time.Time) (*Job, error) {
	if p.OwnerID == "" {
		return nil, Unauthorized("no caller identity")
	}
	if err := validatePosting(p.Name, p.Description, p.PayAmount, p.TimeToComplete); err != nil {
		return nil, err
	}
	if p.CategoryID == "" {
		return nil, Invalid("category_id is required")
	}
	if p.ExpiresIn <= 0 {
		return nil, Invalid("expires_in_seconds must be positive")
	}
	now = now.UTC()
	return &Job{
		ID:             uuid.NewString(),
		OwnerID:        p.OwnerID,
		Name:           p.Name,
		Description:    p.Description,
		CategoryID:     p.CategoryID,
		PayAmount:      p.PayAmount,
		TimeToComplete: p.TimeToComplete,
		Status:         Open,
		ExpiryDate:     now.Add(time.Duration(p.ExpiresIn) * time.Second),
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func validatePosting(name, description string, pay, ttc int64) error {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return Invalid("name must not be empty")
	case len(name) > maxNameLen:
		return Invalid("name too long")
	case strings.TrimSpace(description) == "":
		return Invalid("description must not be empty")
	case len(description) > maxDescriptionLen:
		return Invalid("description too long")
	case pay <= 0:
		return Invalid("pay_amount must be positive")
	case ttc <= 0:
		return Invalid("time_to_complete_seconds must be positive")
	}
	return nil
}

// Terminal reports whether no transition except relist applies.
func (s Status) Terminal() bool { return s == Approved || s == Expired }
