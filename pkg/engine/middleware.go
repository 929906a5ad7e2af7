package engine

import (
	"context"
	"fmt"
	"reflect"

	"botmux/pkg/bus"
	"botmux/pkg/capability"
)

// Scope selects the pipeline a middleware joins.
type Scope string

const (
	Incoming Scope = "incoming"
	Outgoing Scope = "outgoing"
)

// Verdict is what a handler returns to steer the walk.
type Verdict int

const (
	// Next continues with the following entry.
	Next Verdict = iota
	// Skip ends the walk. Incoming walks end Skipped; outgoing sends still deliver.
	Skip
	// SkipAllOutgoing ends the outgoing walk and marks the send as bypassing all middleware.
	SkipAllOutgoing
	// SkipNonWrappedOutgoingOnly stops global outgoing entries for this send.
	// Entries registered on the sending bot still run.
	SkipNonWrappedOutgoingOnly
)

func (v Verdict) String() string {
	switch v {
	case Next:
		return "next"
	case Skip:
		return "skip"
	case SkipAllOutgoing:
		return "skipAllOutgoing"
	case SkipNonWrappedOutgoingOnly:
		return "skipNonWrappedOutgoingOnly"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// IncomingFunc handles one update. The bot is patched with the update, so
// sends made through it are correlated.
type IncomingFunc func(ctx context.Context, bot *Bot, update *bus.Update) (Verdict, error)

// OutgoingFunc handles one outbound message. update is nil when the send is
// not correlated with an update.
type OutgoingFunc func(ctx context.Context, bot *Bot, update *bus.Update, message *bus.Message) (Verdict, error)

// Middleware is a registration request. Controller must be an IncomingFunc or
// OutgoingFunc matching Type. Filter only applies to incoming middleware.
type Middleware struct {
	Type       Scope
	Controller any
	Filter     capability.Filter
	Name       string
}

func incomingController(c any) (IncomingFunc, error) {
	switch fn := c.(type) {
	case IncomingFunc:
		if fn != nil {
			return fn, nil
		}
	case func(context.Context, *Bot, *bus.Update) (Verdict, error):
		if fn != nil {
			return fn, nil
		}
	}
	return nil, controllerError(Incoming, c)
}

func outgoingController(c any) (OutgoingFunc, error) {
	switch fn := c.(type) {
	case OutgoingFunc:
		if fn != nil {
			return fn, nil
		}
	case func(context.Context, *Bot, *bus.Update, *bus.Message) (Verdict, error):
		if fn != nil {
			return fn, nil
		}
	}
	return nil, controllerError(Outgoing, c)
}

func controllerError(scope Scope, c any) error {
	rv := reflect.ValueOf(c)
	if !rv.IsValid() || (rv.Kind() == reflect.Func && rv.IsNil()) {
		return &InvalidControllerError{Scope: scope, Type: "<nil>"}
	}
	return &InvalidControllerError{
		Scope:    scope,
		Type:     fmt.Sprintf("%T", c),
		Mismatch: rv.Kind() == reflect.Func,
	}
}
