package engine

import (
	"iter"
	"sync"

	"botmux/pkg/capability"
)

type entry struct {
	order    uint64
	scope    Scope
	name     string
	match    capability.Matcher
	incoming IncomingFunc
	outgoing OutgoingFunc
	// botID is set for outgoing entries registered on a single bot.
	botID string
}

func (e *entry) boundToBot() bool {
	return e.botID != ""
}

// registry holds append-only middleware lists. Readers take a capped view of
// the slice under the read lock; later appends never touch that view.
type registry struct {
	mu       sync.RWMutex
	next     uint64
	incoming []*entry
	outgoing []*entry
}

func (r *registry) add(e *entry) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	e.order = r.next
	switch e.scope {
	case Incoming:
		r.incoming = append(r.incoming, e)
	case Outgoing:
		r.outgoing = append(r.outgoing, e)
	}
	return e.order
}

func (r *registry) snapshot(scope Scope) []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch scope {
	case Incoming:
		return r.incoming[:len(r.incoming):len(r.incoming)]
	case Outgoing:
		return r.outgoing[:len(r.outgoing):len(r.outgoing)]
	default:
		return nil
	}
}

// incomingFor yields incoming entries whose filter accepts d, in registration order.
func (r *registry) incomingFor(d capability.Descriptor) iter.Seq[*entry] {
	return func(yield func(*entry) bool) {
		for _, e := range r.snapshot(Incoming) {
			if !e.match.Match(d) {
				continue
			}
			if !yield(e) {
				return
			}
		}
	}
}

// outgoingFor yields global entries and entries bound to botID, in registration order.
func (r *registry) outgoingFor(botID string) iter.Seq[*entry] {
	return func(yield func(*entry) bool) {
		for _, e := range r.snapshot(Outgoing) {
			if e.boundToBot() && e.botID != botID {
				continue
			}
			if !yield(e) {
				return
			}
		}
	}
}

func (r *registry) len(scope Scope) int {
	return len(r.snapshot(scope))
}
