package domain

import (
	"errors"
	"fmt"
)

// Reason is a stable code attached to every local validation failure.
type Reason string

const (
	ReasonUnresolvedAddress    Reason = "unresolved_address"
	ReasonEmptyPassengers      Reason = "empty_passengers"
	ReasonEmptySchedule        Reason = "empty_schedule"
	ReasonInvalidSchedule      Reason = "invalid_schedule"
	ReasonInvalidAddress       Reason = "invalid_address"
	ReasonInvalidInput         Reason = "invalid_input"
	ReasonTaxiFull             Reason = "taxi_full"
	ReasonTaxiNotEmpty         Reason = "taxi_not_empty"
	ReasonLastTaxi             Reason = "last_taxi"
	ReasonTaxiDispatched       Reason = "taxi_dispatched"
	ReasonIncompleteAllocation Reason = "incomplete_allocation"
	ReasonAlreadyAssigned      Reason = "already_assigned"
	ReasonUnknownPassenger     Reason = "unknown_passenger"
	ReasonUnknownTaxi          Reason = "unknown_taxi"
	ReasonUnknownEmployee      Reason = "unknown_employee"
	ReasonSessionFinalized     Reason = "session_finalized"
	ReasonInvalidTransition    Reason = "invalid_transition"
)

// ValidationError is a synchronous local failure. The operation that returns
// it has not changed any state.
type ValidationError struct {
	Reason  Reason
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Invalid builds a ValidationError.
func Invalid(reason Reason, format string, args ...any) error {
	return &ValidationError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// HasReason reports whether err carries a ValidationError with the given reason.
func HasReason(err error, reason Reason) bool {
	var ve *ValidationError
	return errors.As(err, &ve) && ve.Reason == reason
}

// CollaboratorError wraps a failure of the address resolver or request gateway.
type CollaboratorError struct {
	Service string
	Op      string
	Err     error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

func Collaborator(service, op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *CollaboratorError
	if errors.As(err, &ce) {
		return err
	}
	return &CollaboratorError{Service: service, Op: op, Err: err}
}

// PersistenceError wraps a local store failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}
