package txflow

import (
	"errors"
	"fmt"
)

var (
	// ErrActionInFlight is returned when a submission for the same action is
	// still running.
	ErrActionInFlight = errors.New("txflow: action in flight")
	// ErrPrecondition is wrapped by every PreconditionError.
	ErrPrecondition = errors.New("txflow: precondition failed")
	// ErrUnknownAction is returned for action names outside the catalogue.
	ErrUnknownAction = errors.New("txflow: unknown action")
)

// PreconditionError reports a local validation failure. The network was not
// contacted.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s", ErrPrecondition.Error(), e.Reason)
}

func (e *PreconditionError) Unwrap() error { return ErrPrecondition }

// CallError is returned by contract-call clients. Kind and Code carry the
// structured cause when the backend provides one.
type CallError struct {
	Op   string
	Kind Kind
	Code int
	Err  error
}

func (e *CallError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("txflow: %s failed", e.Op)
	}
	return fmt.Sprintf("txflow: %s: %v", e.Op, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// ErrorCode exposes the backend error code in the go-ethereum rpc.Error shape.
func (e *CallError) ErrorCode() int { return e.Code }
