package engine

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidMiddlewareType = errors.New("invalid middleware type. Type should be either 'incoming' or 'outgoing'")
	ErrInvalidController     = errors.New("invalid middleware controller")
	ErrUnknownBot            = errors.New("unknown bot")
	ErrNilUpdate             = errors.New("update is required")
	ErrNilMessage            = errors.New("message is required")
)

// InvalidControllerError reports a middleware controller that cannot be called.
type InvalidControllerError struct {
	Scope Scope
	Type  string
	// Mismatch is set when the controller is a function with the wrong signature.
	Mismatch bool
}

func (e *InvalidControllerError) Error() string {
	if e.Mismatch {
		return fmt.Sprintf("middleware controller of type %s does not match the %s middleware signature", e.Type, e.Scope)
	}
	return fmt.Sprintf("middleware controller can't be of type %s. It needs to be a function", e.Type)
}

func (e *InvalidControllerError) Is(target error) bool {
	return target == ErrInvalidController
}

// IncomingHandlerError wraps a failure raised by incoming middleware or an update observer.
// It is delivered to error observers and never returned from ReceiveUpdate.
type IncomingHandlerError struct {
	BotID      string
	BotType    string
	UpdateID   string
	Middleware string
	Err        error
}

func (e *IncomingHandlerError) Error() string {
	return `"` + e.Err.Error() + `". This is most probably on your end.`
}

func (e *IncomingHandlerError) Unwrap() error {
	return e.Err
}

// OutgoingHandlerError wraps a failure raised by outgoing middleware. It is
// returned to the caller of the send and the adapter is not invoked.
type OutgoingHandlerError struct {
	BotID      string
	Middleware string
	Err        error
}

func (e *OutgoingHandlerError) Error() string {
	return `"` + e.Err.Error() + `". In outgoing middleware`
}

func (e *OutgoingHandlerError) Unwrap() error {
	return e.Err
}

// PanicError carries a value recovered from a panicking handler.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	if err, ok := e.Value.(error); ok {
		return err.Error()
	}
	return fmt.Sprintf("%v", e.Value)
}

func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}
