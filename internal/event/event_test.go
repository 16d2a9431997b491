package event

import (
	"testing"
	"time"

	"github.com/SirClappington/gigboard/internal/domain"
)

func TestKindFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		action domain.Action
		want   Kind
	}{
		{domain.ActionClaim, JobClaimed},
		{domain.ActionSubmit, JobSubmitted},
		{domain.ActionApprove, JobApproved},
		{domain.ActionReject, JobRejected},
		{domain.ActionExpire, JobExpired},
		{domain.ActionTimeout, JobTimedOut},
		{domain.ActionRelist, JobRelisted},
		{domain.ActionEdit, JobEdited},
		{domain.ActionDelete, JobDeleted},
	}
	for _, tt := range tests {
		if got := KindFor(tt.action); got != tt.want {
			t.Errorf("KindFor(%s) = %s, want %s", tt.action, got, tt.want)
		}
	}
}

func TestFromTransitionKeepsDisplacedClaimer(t *testing.T) {
	t.Parallel()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	claimer := "seeker"
	claimedAt := at.Add(-time.Hour)
	deadline := at.Add(-time.Minute)
	before := &domain.Job{
		ID:                 "j1",
		OwnerID:            "owner",
		ClaimerID:          &claimer,
		Name:               "clean the gutters",
		CategoryID:         "garden",
		PayAmount:          500,
		Status:             domain.Claimed,
		ClaimedAt:          &claimedAt,
		SubmissionDeadline: &deadline,
		ExpiryDate:         at.Add(24 * time.Hour),
	}
	after := *before
	after.Status = domain.Open
	after.ClaimerID = nil
	after.ClaimedAt = nil
	after.SubmissionDeadline = nil

	ev := FromTransition(JobTimedOut, before, &after, at)
	if ev.Status != string(domain.Open) {
		t.Fatalf("status = %s", ev.Status)
	}
	if ev.ClaimerID == nil || *ev.ClaimerID != "seeker" {
		t.Fatalf("claimer = %v, want displaced seeker", ev.ClaimerID)
	}
	if ev.ClaimedAt == nil || !ev.ClaimedAt.Equal(claimedAt) {
		t.Fatalf("claimedAt = %v", ev.ClaimedAt)
	}
	if ev.Deadline == nil || !ev.Deadline.Equal(deadline) {
		t.Fatalf("deadline = %v", ev.Deadline)
	}

	// a claim keeps the fresh row's fields untouched
	cev := FromTransition(JobClaimed, &after, before, at)
	if cev.ClaimerID == nil || *cev.ClaimerID != "seeker" {
		t.Fatalf("claim event claimer = %v", cev.ClaimerID)
	}
}

func TestFromJobDenormalizes(t *testing.T) {
	t.Parallel()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	claimer := "seeker"
	j := &domain.Job{
		ID:         "j1",
		OwnerID:    "owner",
		ClaimerID:  &claimer,
		Name:       "clean the gutters",
		CategoryID: "garden",
		PayAmount:  500,
		Status:     domain.Claimed,
		ExpiryDate: at.Add(24 * time.Hour),
	}
	ev := FromJob(JobClaimed, j, at)
	if ev.Version != 1 || ev.Kind != JobClaimed {
		t.Fatalf("event = %+v", ev)
	}
	if ev.JobID != "j1" || ev.OwnerID != "owner" || *ev.ClaimerID != "seeker" {
		t.Fatalf("party ids = %+v", ev)
	}
	if ev.PayAmount != 500 || ev.Name != "clean the gutters" {
		t.Fatalf("denormalized fields = %+v", ev)
	}
	if !ev.OccurredAt.Equal(at) {
		t.Fatalf("occurredAt = %v", ev.OccurredAt)
	}
}
