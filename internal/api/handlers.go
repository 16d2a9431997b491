package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SirClappington/gigboard/internal/domain"
	"github.com/SirClappington/gigboard/internal/event"
	"github.com/SirClappington/gigboard/internal/storage"
)

const emitTimeout = 5 * time.Second

// Handler serves the job lifecycle surface. Every mutating request makes
// exactly one conditional store write and one event publish attempt.
type Handler struct {
	store storage.JobStore
	bus   event.Publisher
	log   *zap.Logger
	now   func() time.Time
}

func NewHandler(store storage.JobStore, bus event.Publisher, log *zap.Logger) *Handler {
	return &Handler{store: store, bus: bus, log: log, now: time.Now}
}

// WithClock overrides the handler clock. Test hook.
func (h *Handler) WithClock(now func() time.Time) *Handler {
	h.now = now
	return h
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/jobs", h.Create)
	r.Get("/jobs", h.ListOpen)
	r.Get("/jobs/mine", h.ListMine)
	r.Get("/jobs/claimed", h.ListClaimed)
	r.Get("/jobs/{id}", h.View)
	r.Patch("/jobs/{id}", h.Edit)
	r.Delete("/jobs/{id}", h.Delete)
	r.Post("/jobs/{id}/claim", h.Claim)
	r.Post("/jobs/{id}/submit", h.Submit)
	r.Post("/jobs/{id}/approve", h.Approve)
	r.Post("/jobs/{id}/reject", h.Reject)
	r.Post("/jobs/{id}/relist", h.Relist)
	return r
}

type createRequest struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	CategoryID     string `json:"category_id"`
	PayAmount      int64  `json:"pay_amount"`
	TimeToComplete int64  `json:"time_to_complete_seconds"`
	ExpiresIn      int64  `json:"expires_in_seconds"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		respondError(w, domain.Unauthorized("no caller identity"))
		return
	}
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, domain.Invalid("malformed body"))
		return
	}
	j, err := domain.NewJob(domain.NewJobParams{
		OwnerID:        caller.ID,
		Name:           req.Name,
		Description:    req.Description,
		CategoryID:     req.CategoryID,
		PayAmount:      req.PayAmount,
		TimeToComplete: req.TimeToComplete,
		ExpiresIn:      req.ExpiresIn,
	}, h.now())
	if err != nil {
		respondError(w, err)
		return
	}
	if err := h.store.Create(r.Context(), j); err != nil {
		h.log.Error("create job", zap.Error(err))
		respondError(w, err)
		return
	}
	h.emit(event.JobCreated, j, j, j.CreatedAt)
	respondJSON(w, http.StatusCreated, viewOf(j))
}

func (h *Handler) View(w http.ResponseWriter, r *http.Request) {
	j, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, viewOf(j))
}

func (h *Handler) ListOpen(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.store.ListOpen(r.Context(), r.URL.Query().Get("category"), h.now())
	if err != nil {
		h.log.Error("list open", zap.Error(err))
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, viewsOf(jobs))
}

func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		respondError(w, domain.Unauthorized("no caller identity"))
		return
	}
	jobs, err := h.store.ListByOwner(r.Context(), caller.ID)
	if err != nil {
		h.log.Error("list by owner", zap.Error(err))
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, viewsOf(jobs))
}

func (h *Handler) ListClaimed(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		respondError(w, domain.Unauthorized("no caller identity"))
		return
	}
	jobs, err := h.store.ListByClaimer(r.Context(), caller.ID)
	if err != nil {
		h.log.Error("list by claimer", zap.Error(err))
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, viewsOf(jobs))
}

func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(j *domain.Job, c domain.Caller, now time.Time) (domain.Transition, error) {
		return domain.DecideClaim(j, c, now)
	})
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(j *domain.Job, c domain.Caller, now time.Time) (domain.Transition, error) {
		return domain.DecideSubmit(j, c, now)
	})
}

type moderateRequest struct {
	Message string `json:"message"`
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	var req moderateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	h.transition(w, r, func(j *domain.Job, c domain.Caller, now time.Time) (domain.Transition, error) {
		return domain.DecideApprove(j, c, req.Message, now)
	})
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	var req moderateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	h.transition(w, r, func(j *domain.Job, c domain.Caller, now time.Time) (domain.Transition, error) {
		return domain.DecideReject(j, c, req.Message, now)
	})
}

type editRequest struct {
	Name           *string `json:"name"`
	Description    *string `json:"description"`
	PayAmount      *int64  `json:"pay_amount"`
	TimeToComplete *int64  `json:"time_to_complete_seconds"`
	ExpiresIn      *int64  `json:"expires_in_seconds"`
}

func (h *Handler) Edit(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	patch := domain.EditPatch{
		Name:           req.Name,
		Description:    req.Description,
		PayAmount:      req.PayAmount,
		TimeToComplete: req.TimeToComplete,
		ExpiresIn:      req.ExpiresIn,
	}
	h.transition(w, r, func(j *domain.Job, c domain.Caller, now time.Time) (domain.Transition, error) {
		return domain.DecideEdit(j, c, patch, now)
	})
}

type relistRequest struct {
	ExpiresIn int64 `json:"expires_in_seconds"`
}

func (h *Handler) Relist(w http.ResponseWriter, r *http.Request) {
	var req relistRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	h.transition(w, r, func(j *domain.Job, c domain.Caller, now time.Time) (domain.Transition, error) {
		return domain.DecideRelist(j, c, req.ExpiresIn, now)
	})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := CallerFrom(ctx)
	if !ok {
		respondError(w, domain.Unauthorized("no caller identity"))
		return
	}
	jobID := chi.URLParam(r, "id")
	j, err := h.store.Get(ctx, jobID)
	if err != nil {
		respondError(w, err)
		return
	}
	now := h.now()
	pre, err := domain.DecideDelete(j, caller, now)
	if err != nil {
		respondError(w, err)
		return
	}
	err = h.store.ConditionalDelete(ctx, jobID, pre, now)
	if errors.Is(err, storage.ErrPreconditionFailed) {
		respondError(w, h.refreshConflict(ctx, jobID, func(fresh *domain.Job) error {
			_, derr := domain.DecideDelete(fresh, caller, h.now())
			return derr
		}))
		return
	}
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			h.log.Error("delete job", zap.Error(err))
		}
		respondError(w, err)
		return
	}
	h.emit(event.JobDeleted, j, j, now)
	respondJSON(w, http.StatusOK, map[string]string{"id": jobID, "status": "deleted"})
}

type decideFunc func(*domain.Job, domain.Caller, time.Time) (domain.Transition, error)

// transition is the one flow every command handler shares: resolve
// identity, load, decide, apply as a single conditional write, emit.
func (h *Handler) transition(w http.ResponseWriter, r *http.Request, decide decideFunc) {
	ctx := r.Context()
	caller, ok := CallerFrom(ctx)
	if !ok {
		respondError(w, domain.Unauthorized("no caller identity"))
		return
	}
	jobID := chi.URLParam(r, "id")
	j, err := h.store.Get(ctx, jobID)
	if err != nil {
		respondError(w, err)
		return
	}
	tr, err := decide(j, caller, h.now())
	if err != nil {
		respondError(w, err)
		return
	}
	updated, err := h.store.ApplyTransition(ctx, jobID, tr)
	if errors.Is(err, storage.ErrPreconditionFailed) {
		respondError(w, h.refreshConflict(ctx, jobID, func(fresh *domain.Job) error {
			_, derr := decide(fresh, caller, h.now())
			return derr
		}))
		return
	}
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			h.log.Error("apply transition", zap.String("job_id", jobID),
				zap.String("action", string(tr.Action)), zap.Error(err))
		}
		respondError(w, err)
		return
	}
	h.emit(event.KindFor(tr.Action), j, updated, tr.At)
	respondJSON(w, http.StatusOK, viewOf(updated))
}

// refreshConflict turns a lost conditional write into a specific
// conflict by re-deciding against the fresh row. No retry is attempted:
// the loser of a race simply fails.
func (h *Handler) refreshConflict(ctx context.Context, jobID string, redecide func(*domain.Job) error) error {
	fresh, err := h.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if derr := redecide(fresh); derr != nil {
		return derr
	}
	return domain.Conflicted(domain.ReasonLostRace)
}

// emit publishes the lifecycle event off the request path. The
// pre-transition row supplies the displaced claimer when the write
// cleared one. A failed publish never rolls back the committed
// transition; it is only logged.
func (h *Handler) emit(kind event.Kind, before, after *domain.Job, at time.Time) {
	ev := event.FromTransition(kind, before, after, at)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := h.bus.Publish(ctx, ev); err != nil {
			h.log.Warn("publish event",
				zap.String("kind", string(kind)),
				zap.String("job_id", after.ID),
				zap.Error(err))
		}
	}()
}

// decodeBody fills dst from the request body. An absent body is fine,
// anything present must parse.
func decodeBody(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return domain.Invalid("malformed body")
}
