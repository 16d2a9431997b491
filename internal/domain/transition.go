package domain

import (
	"strings"
	"time"
)

// Action identifies a lifecycle transition.
type Action string

const (
	ActionClaim   Action = "claim"
	ActionSubmit  Action = "submit"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionEdit    Action = "edit"
	ActionDelete  Action = "delete"
	ActionRelist  Action = "relist"
	ActionExpire  Action = "expire"
	ActionTimeout Action = "timeout"
)

// Precondition is the guard a conditional write must re-check at commit
// time. Deadline comparisons are made against Transition.At, not the
// store's clock, so a single instant governs decision and write.
type Precondition struct {
	Status         Status // required status
	OwnerIs        string // require owner_id = this when non-empty
	ClaimerIs      string // require claimer_id = this when non-empty
	ClaimerUnset   bool   // require claimer_id is null
	ExpiryBefore   bool   // require expiry_date < At
	ExpiryAfter    bool   // require expiry_date > At
	DeadlineAfter  bool   // require submission_deadline > At
	DeadlineBefore bool   // require submission_deadline < At
}

// Holds evaluates the precondition against a row at instant at. The
// in-memory store uses it directly; the Postgres store compiles the same
// clauses into the UPDATE's WHERE.
func (p Precondition) Holds(j *Job, at time.Time) bool {
	if j.Status != p.Status {
		return false
	}
	if p.OwnerIs != "" && j.OwnerID != p.OwnerIs {
		return false
	}
	if p.ClaimerUnset && j.ClaimerID != nil {
		return false
	}
	if p.ClaimerIs != "" && (j.ClaimerID == nil || *j.ClaimerID != p.ClaimerIs) {
		return false
	}
	if p.ExpiryBefore && !j.ExpiryDate.Before(at) {
		return false
	}
	if p.ExpiryAfter && !j.ExpiryDate.After(at) {
		return false
	}
	if p.DeadlineAfter && (j.SubmissionDeadline == nil || !j.SubmissionDeadline.After(at)) {
		return false
	}
	if p.DeadlineBefore && (j.SubmissionDeadline == nil || !j.SubmissionDeadline.Before(at)) {
		return false
	}
	return true
}

// Mutation is the set of fields a transition writes. Nil pointers leave
// the column untouched.
type Mutation struct {
	Status Status

	Claimer            *string
	ClaimedAt          *time.Time
	SubmissionDeadline *time.Time
	SubmittedAt        *time.Time
	ExpiredAt          *time.Time
	TimedOutAt         *time.Time

	ClearClaim  bool // unset claimer, claimedAt, submissionDeadline, submittedAt
	ClearStamps bool // unset expiredAt, timedOutAt

	ApprovalMessage  *string
	RejectionMessage *string
	ClearMessages    bool

	ExpiryDate *time.Time

	Name           *string
	Description    *string
	PayAmount      *int64
	TimeToComplete *int64
}

// Apply writes the mutation onto j in place, stamping updatedAt.
func (m Mutation) Apply(j *Job, at time.Time) {
	j.Status = m.Status
	if m.ClearClaim {
		j.ClaimerID, j.ClaimedAt, j.SubmissionDeadline, j.SubmittedAt = nil, nil, nil, nil
	}
	if m.ClearStamps {
		j.ExpiredAt, j.TimedOutAt = nil, nil
	}
	if m.ClearMessages {
		j.ApprovalMessage, j.RejectionMessage = nil, nil
	}
	if m.Claimer != nil {
		j.ClaimerID = m.Claimer
	}
	if m.ClaimedAt != nil {
		j.ClaimedAt = m.ClaimedAt
	}
	if m.SubmissionDeadline != nil {
		j.SubmissionDeadline = m.SubmissionDeadline
	}
	if m.SubmittedAt != nil {
		j.SubmittedAt = m.SubmittedAt
	}
	if m.ExpiredAt != nil {
		j.ExpiredAt = m.ExpiredAt
	}
	if m.TimedOutAt != nil {
		j.TimedOutAt = m.TimedOutAt
	}
	if m.ApprovalMessage != nil {
		j.ApprovalMessage = m.ApprovalMessage
	}
	if m.RejectionMessage != nil {
		j.RejectionMessage = m.RejectionMessage
	}
	if m.ExpiryDate != nil {
		j.ExpiryDate = *m.ExpiryDate
	}
	if m.Name != nil {
		j.Name = *m.Name
	}
	if m.Description != nil {
		j.Description = *m.Description
	}
	if m.PayAmount != nil {
		j.PayAmount = *m.PayAmount
	}
	if m.TimeToComplete != nil {
		j.TimeToComplete = *m.TimeToComplete
	}
	j.UpdatedAt = at.UTC()
}

// Transition is one decided state change: the guard the write must hold
// and the fields it sets. At is the instant the decision was made.
type Transition struct {
	Action Action
	At     time.Time
	Pre    Precondition
	Mut    Mutation
}

// DecideClaim grants the caller an exclusive, time-boxed claim on an Open
// job whose posting deadline has not lapsed.
func DecideClaim(j *Job, caller Caller, now time.Time) (Transition, error) {
	if caller.ID == "" {
		return Transition{}, Unauthorized("no caller identity")
	}
	if caller.ID == j.OwnerID {
		return Transition{}, Forbidden("owner cannot claim their own job")
	}
	if j.Status != Open {
		if j.Status == Claimed || j.Status == Submitted {
			return Transition{}, Conflicted(ReasonAlreadyClaimed)
		}
		return Transition{}, Conflicted(ReasonWrongStatus)
	}
	if !j.ExpiryDate.After(now) {
		return Transition{}, Conflicted(ReasonDeadlinePassed)
	}
	now = now.UTC()
	deadline := now.Add(time.Duration(j.TimeToComplete) * time.Second)
	claimer := caller.ID
	return Transition{
		Action: ActionClaim,
		At:     now,
		Pre:    Precondition{Status: Open, ClaimerUnset: true, ExpiryAfter: true},
		Mut: Mutation{
			Status:             Claimed,
			Claimer:            &claimer,
			ClaimedAt:          &now,
			SubmissionDeadline: &deadline,
			ClearMessages:      true,
		},
	}, nil
}

// DecideSubmit marks the claimer's work as handed in. Only the claimer
// may submit, and only before the submission deadline — even if the
// timeout sweeper has not caught the claim yet.
func DecideSubmit(j *Job, caller Caller, now time.Time) (Transition, error) {
	if caller.ID == "" {
		return Transition{}, Unauthorized("no caller identity")
	}
	if j.Status != Claimed {
		return Transition{}, Conflicted(ReasonWrongStatus)
	}
	if j.ClaimerID == nil || *j.ClaimerID != caller.ID {
		return Transition{}, Forbidden("only the claimer may submit")
	}
	if j.SubmissionDeadline == nil || !j.SubmissionDeadline.After(now) {
		return Transition{}, Conflicted(ReasonDeadlinePassed)
	}
	now = now.UTC()
	return Transition{
		Action: ActionSubmit,
		At:     now,
		Pre:    Precondition{Status: Claimed, ClaimerIs: caller.ID, DeadlineAfter: true},
		Mut:    Mutation{Status: Submitted, SubmittedAt: &now},
	}, nil
}

// DecideApprove accepts submitted work. Owner or admin only; Approved is
// terminal.
func DecideApprove(j *Job, caller Caller, message string, now time.Time) (Transition, error) {
	if caller.ID == "" {
		return Transition{}, Unauthorized("no caller identity")
	}
	if j.Status != Submitted {
		return Transition{}, Conflicted(ReasonWrongStatus)
	}
	if !caller.mayModerate(j) {
		return Transition{}, Forbidden("only the owner or an admin may approve")
	}
	if len(message) > maxMessageLen {
		return Transition{}, Invalid("approval_message too long")
	}
	mut := Mutation{Status: Approved}
	if message != "" {
		mut.ApprovalMessage = &message
	}
	return Transition{
		Action: ActionApprove,
		At:     now.UTC(),
		Pre:    Precondition{Status: Submitted},
		Mut:    mut,
	}, nil
}

// DecideReject sends submitted work back: the job re-opens for claiming
// and the rejection reason is kept as an annotation, not a status.
func DecideReject(j *Job, caller Caller, reason string, now time.Time) (Transition, error) {
	if caller.ID == "" {
		return Transition{}, Unauthorized("no caller identity")
	}
	if j.Status != Submitted {
		return Transition{}, Conflicted(ReasonWrongStatus)
	}
	if !caller.mayModerate(j) {
		return Transition{}, Forbidden("only the owner or an admin may reject")
	}
	if strings.TrimSpace(reason) == "" {
		return Transition{}, Invalid("rejection reason must not be empty")
	}
	if len(reason) > maxMessageLen {
		return Transition{}, Invalid("rejection reason too long")
	}
	return Transition{
		Action: ActionReject,
		At:     now.UTC(),
		Pre:    Precondition{Status: Submitted},
		Mut: Mutation{
			Status:           Open,
			ClearClaim:       true,
			RejectionMessage: &reason,
		},
	}, nil
}

// EditPatch carries the owner-editable fields; nil means unchanged.
type EditPatch struct {
	Name           *string
	Description    *string
	PayAmount      *int64
	TimeToComplete *int64
	ExpiresIn      *int64 // seconds from now
}

// DecideEdit updates an Open job's posting fields. The merged result is
// validated as a whole before the write.
func DecideEdit(j *Job, caller Caller, patch EditPatch, now time.Time) (Transition, error) {
	if caller.ID == "" {
		return Transition{}, Unauthorized("no caller identity")
	}
	if caller.ID != j.OwnerID {
		return Transition{}, Forbidden("only the owner may edit")
	}
	if j.Status != Open {
		return Transition{}, Conflicted(ReasonWrongStatus)
	}

	name, description := j.Name, j.Description
	pay, ttc := j.PayAmount, j.TimeToComplete
	if patch.Name != nil {
		name = *patch.Name
	}
	if patch.Description != nil {
		description = *patch.Description
	}
	if patch.PayAmount != nil {
		pay = *patch.PayAmount
	}
	if patch.TimeToComplete != nil {
		ttc = *patch.TimeToComplete
	}
	if err := validatePosting(name, description, pay, ttc); err != nil {
		return Transition{}, err
	}

	now = now.UTC()
	mut := Mutation{
		Status:         Open,
		Name:           patch.Name,
		Description:    patch.Description,
		PayAmount:      patch.PayAmount,
		TimeToComplete: patch.TimeToComplete,
	}
	if patch.ExpiresIn != nil {
		if *patch.ExpiresIn <= 0 {
			return Transition{}, Invalid("expires_in_seconds must be positive")
		}
		expiry := now.Add(time.Duration(*patch.ExpiresIn) * time.Second)
		mut.ExpiryDate = &expiry
	}
	return Transition{
		Action: ActionEdit,
		At:     now,
		Pre:    Precondition{Status: Open, OwnerIs: caller.ID},
		Mut:    mut,
	}, nil
}

// DecideDelete authorizes removal of an Open job. The returned
// precondition guards the conditional delete.
func DecideDelete(j *Job, caller Caller, now time.Time) (Precondition, error) {
	if caller.ID == "" {
		return Precondition{}, Unauthorized("no caller identity")
	}
	if caller.ID != j.OwnerID {
		return Precondition{}, Forbidden("only the owner may delete")
	}
	if j.Status != Open {
		return Precondition{}, Conflicted(ReasonWrongStatus)
	}
	return Precondition{Status: Open, OwnerIs: caller.ID}, nil
}

// DecideRelist reopens a finished or lapsed job with a fresh posting
// window. Jobs past their expiry date are relistable even before the
// expiry sweeper has caught them; the precondition pins the observed
// status so a racing sweep wins cleanly.
func DecideRelist(j *Job, caller Caller, expiresIn int64, now time.Time) (Transition, error) {
	if caller.ID == "" {
		return Transition{}, Unauthorized("no caller identity")
	}
	if caller.ID != j.OwnerID {
		return Transition{}, Forbidden("only the owner may relist")
	}
	if expiresIn <= 0 {
		return Transition{}, Invalid("expires_in_seconds must be positive")
	}
	lapsed := j.ExpiryDate.Before(now)
	if j.Status != Expired && j.Status != Approved && !lapsed {
		return Transition{}, Conflicted(ReasonWrongStatus)
	}

	now = now.UTC()
	expiry := now.Add(time.Duration(expiresIn) * time.Second)
	pre := Precondition{Status: j.Status, OwnerIs: caller.ID}
	if j.Status != Expired && j.Status != Approved {
		pre.ExpiryBefore = true
	}
	return Transition{
		Action: ActionRelist,
		At:     now,
		Pre:    pre,
		Mut: Mutation{
			Status:        Open,
			ClearClaim:    true,
			ClearStamps:   true,
			ClearMessages: true,
			ExpiryDate:    &expiry,
		},
	}, nil
}

// DecideExpire forces a job past its posting deadline to terminal
// Expired. Approved and Expired are absorbing; the sweeper never
// revisits them.
func DecideExpire(j *Job, now time.Time) (Transition, error) {
	if j.Status.Terminal() {
		return Transition{}, Conflicted(ReasonWrongStatus)
	}
	if !j.ExpiryDate.Before(now) {
		return Transition{}, Conflicted(ReasonWrongStatus)
	}
	now = now.UTC()
	return Transition{
		Action: ActionExpire,
		At:     now,
		Pre:    Precondition{Status: j.Status, ExpiryBefore: true},
		Mut: Mutation{
			Status:     Expired,
			ClearClaim: true,
			ExpiredAt:  &now,
		},
	}, nil
}

// DecideTimeout reverts an abandoned claim: a Claimed job whose
// submission deadline lapsed goes back to Open with all claim fields
// cleared.
func DecideTimeout(j *Job, now time.Time) (Transition, error) {
	if j.Status != Claimed {
		return Transition{}, Conflicted(ReasonWrongStatus)
	}
	if j.SubmissionDeadline == nil || !j.SubmissionDeadline.Before(now) {
		return Transition{}, Conflicted(ReasonWrongStatus)
	}
	now = now.UTC()
	return Transition{
		Action: ActionTimeout,
		At:     now,
		Pre:    Precondition{Status: Claimed, DeadlineBefore: true},
		Mut: Mutation{
			Status:     Open,
			ClearClaim: true,
			TimedOutAt: &now,
		},
	}, nil
}
