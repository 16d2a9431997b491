package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/SirClappington/gigboard/internal/domain"
)

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// respondError maps the domain taxonomy onto HTTP. Anything outside the
// taxonomy is an internal failure; its detail stays out of the response.
func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		respondJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	case errors.Is(err, domain.ErrInvalidInput):
		respondJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, domain.ErrUnauthorized):
		respondJSON(w, http.StatusUnauthorized, errorBody{Error: err.Error()})
	case errors.Is(err, domain.ErrForbidden):
		respondJSON(w, http.StatusForbidden, errorBody{Error: err.Error()})
	case errors.Is(err, domain.ErrConflict):
		respondJSON(w, http.StatusConflict, errorBody{Error: "conflict", Reason: domain.ConflictReason(err)})
	default:
		respondJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// jobView is the wire shape of a job.
type jobView struct {
	ID                 string     `json:"id"`
	OwnerID            string     `json:"owner_id"`
	ClaimerID          *string    `json:"claimer_id,omitempty"`
	Name               string     `json:"name"`
	Description        string     `json:"description"`
	CategoryID         string     `json:"category_id"`
	PayAmount          int64      `json:"pay_amount"`
	TimeToComplete     int64      `json:"time_to_complete_seconds"`
	Status             string     `json:"status"`
	ExpiryDate         time.Time  `json:"expiry_date"`
	ClaimedAt          *time.Time `json:"claimed_at,omitempty"`
	SubmissionDeadline *time.Time `json:"submission_deadline,omitempty"`
	SubmittedAt        *time.Time `json:"submitted_at,omitempty"`
	ApprovalMessage    *string    `json:"approval_message,omitempty"`
	RejectionMessage   *string    `json:"rejection_message,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func viewOf(j *domain.Job) jobView {
	return jobView{
		ID:                 j.ID,
		OwnerID:            j.OwnerID,
		ClaimerID:          j.ClaimerID,
		Name:               j.Name,
		Description:        j.Description,
		CategoryID:         j.CategoryID,
		PayAmount:          j.PayAmount,
		TimeToComplete:     j.TimeToComplete,
		Status:             string(j.Status),
		ExpiryDate:         j.ExpiryDate,
		ClaimedAt:          j.ClaimedAt,
		SubmissionDeadline: j.SubmissionDeadline,
		SubmittedAt:        j.SubmittedAt,
		ApprovalMessage:    j.ApprovalMessage,
		RejectionMessage:   j.RejectionMessage,
		CreatedAt:          j.CreatedAt,
		UpdatedAt:          j.UpdatedAt,
	}
}

func viewsOf(jobs []*domain.Job) []jobView {
	out := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, viewOf(j))
	}
	return out
}
