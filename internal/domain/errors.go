package domain

import "errors"

// Error taxonomy. Handlers match these with errors.Is and map them to
// transport codes; storage and bus failures are wrapped separately and
// surface as internal.
var (
	ErrNotFound     = errors.New("job not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
)

// Conflict sub-reasons, reported alongside ErrConflict so callers can
// tell a lost claim race from a stale-status request.
const (
	ReasonAlreadyClaimed = "already-claimed"
	ReasonWrongStatus    = "wrong-status"
	ReasonDeadlinePassed = "deadline-passed"
	ReasonNotOwner       = "not-owner"
	ReasonLostRace       = "lost-race"
)

// ConflictError is returned when a transition's precondition does not
// hold, either on the loaded row or at conditional-write commit time.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return "conflict: " + e.Reason }

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// Conflicted builds a ConflictError with the given sub-reason.
func Conflicted(reason string) error { return &ConflictError{Reason: reason} }

// ConflictReason extracts the sub-reason from err, or "" if err is not a
// conflict.
func ConflictReason(err error) string {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return ""
}

// InvalidError carries a field-level validation message.
type InvalidError struct {
	Msg string
}

func (e *InvalidError) Error() string { return "invalid input: " + e.Msg }

func (e *InvalidError) Is(target error) bool { return target == ErrInvalidInput }

// Invalid builds an InvalidError.
func Invalid(msg string) error { return &InvalidError{Msg: msg} }

// ForbiddenError names the right the caller lacks.
type ForbiddenError struct {
	Msg string
}

func (e *ForbiddenError) Error() string { return "forbidden: " + e.Msg }

func (e *ForbiddenError) Is(target error) bool { return target == ErrForbidden }

// Forbidden builds a ForbiddenError.
func Forbidden(msg string) error { return &ForbiddenError{Msg: msg} }

// UnauthorizedError means no caller identity could be resolved.
type UnauthorizedError struct {
	Msg string
}

func (e *UnauthorizedError) Error() string { return "unauthorized: " + e.Msg }

func (e *UnauthorizedError) Is(target error) bool { return target == ErrUnauthorized }

// Unauthorized builds an UnauthorizedError.
func Unauthorized(msg string) error { return &UnauthorizedError{Msg: msg} }
