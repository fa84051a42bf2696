package appointment

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusInService Status = "in_service"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
)

var (
	// ErrInvalidTransition is returned for any move not listed in the transition table.
	ErrInvalidTransition = errors.New("appointment: invalid status transition")
	// ErrAlreadyInState is returned when a terminal target equals the current state.
	ErrAlreadyInState = errors.New("appointment: already in that state")
	// ErrUnknownStatus is returned when a stored status string is not recognised.
	ErrUnknownStatus = errors.New("appointment: unknown status")
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCanceled},
	StatusConfirmed: {StatusInService, StatusCanceled},
	StatusInService: {StatusCompleted},
}

// ParseStatus validates a raw status value.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	switch s {
	case StatusPending, StatusConfirmed, StatusInService, StatusCompleted, StatusCanceled:
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
}

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// Blocks reports whether an appointment in s occupies its staff member's time.
func (s Status) Blocks() bool {
	return s == StatusPending || s == StatusConfirmed || s == StatusInService
}

// Reschedulable reports whether s allows moving the appointment to a new interval.
func (s Status) Reschedulable() bool {
	return s == StatusPending || s == StatusConfirmed
}

// Blocking returns the statuses that take part in overlap checks.
func Blocking() []Status {
	return []Status{StatusPending, StatusConfirmed, StatusInService}
}

// BlockingStrings is Blocking as plain strings for query arguments.
func BlockingStrings() []string {
	out := make([]string, 0, 3)
	for _, s := range Blocking() {
		out = append(out, string(s))
	}
	return out
}

// CanTransition reports whether from -> to is listed in the transition table.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates from -> to. A request to move into the state the
// appointment is already in, or canceling one that is already terminal, yields
// ErrAlreadyInState so callers can report it instead of treating it as a no-op.
func Transition(from, to Status) error {
	if from == to {
		return fmt.Errorf("%w: %s", ErrAlreadyInState, from)
	}
	if to == StatusCanceled && from.Terminal() {
		return fmt.Errorf("%w: %s", ErrAlreadyInState, from)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// RescheduleTarget validates a reschedule request from the current status and
// returns the resulting status, which is always confirmed.
func RescheduleTarget(from Status) (Status, error) {
	if !from.Reschedulable() {
		return "", fmt.Errorf("%w: cannot reschedule a %s appointment", ErrInvalidTransition, from)
	}
	return StatusConfirmed, nil
}
