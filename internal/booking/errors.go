package booking

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/wolfman30/salon-booking-bot/internal/appointment"
)

var (
	// ErrValidation marks malformed or past dates and times.
	ErrValidation = errors.New("booking: invalid request")
	// ErrNotFound covers unresolved services, staff, and appointments not owned by the caller.
	ErrNotFound = errors.New("booking: not found")
	// ErrSlotUnavailable is returned when the overlap check fails at write time.
	ErrSlotUnavailable = errors.New("slot no longer available")
)

const (
	pgExclusionViolation = "23P01"
	pgUniqueViolation    = "23505"
	pgUndefinedFunction  = "42883"
)

// TechnicalProblemMessage is shown to clients when an external dependency failed.
const TechnicalProblemMessage = "Sorry, we hit a technical problem. We'll follow up with you shortly."

// IsConflict reports whether err is an overlap rejected by the database.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgExclusionViolation || pgErr.Code == pgUniqueViolation
	}
	return false
}

// IsUndefinedFunction reports whether the stored booking procedure is missing.
func IsUndefinedFunction(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUndefinedFunction
}

// IsNotFound reports whether err is a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, ErrNotFound)
}

// UserFacing reports whether err belongs to a class that is recovered locally
// and phrased for the client rather than treated as a system failure.
func UserFacing(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrSlotUnavailable) ||
		errors.Is(err, appointment.ErrInvalidTransition) ||
		errors.Is(err, appointment.ErrAlreadyInState)
}

// Message maps err to the text returned in an {error: ...} tool result.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSlotUnavailable):
		return ErrSlotUnavailable.Error()
	case errors.Is(err, appointment.ErrAlreadyInState):
		return "the appointment is already in that state"
	case errors.Is(err, appointment.ErrInvalidTransition):
		return "this appointment can no longer be changed"
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrValidation):
		return stripPrefix(err.Error())
	default:
		return TechnicalProblemMessage
	}
}

func stripPrefix(msg string) string {
	const prefix = "booking: "
	if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	return msg
}
