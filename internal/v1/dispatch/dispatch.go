// Package dispatch defines the contract between a joint room and the user
// reducer that owns its state, and provides a reflection-based way to wire
// a reducer's exported methods to action names without any codegen step.
package dispatch

import (
	"encoding/json"
	"fmt"
)

// BroadcastPolicy controls whether an accepted action is fanned out to the
// members of the room after the response is sent to the caller.
type BroadcastPolicy int

const (
	// NoBroadcast sends only the Response to the acting client.
	NoBroadcast BroadcastPolicy = iota
	// BroadcastToRoom additionally sends an ActionApplied broadcast to
	// every member of the room, the acting client included.
	BroadcastToRoom
)

// Result is what a Dispatcher returns for a successfully applied action.
type Result struct {
	// Payload is attached to both the caller's Response and, when
	// Broadcast is BroadcastToRoom, the fan-out Broadcast.
	Payload json.RawMessage
	// Broadcast selects whether the room's members are notified.
	Broadcast BroadcastPolicy
}

// Dispatcher applies a named action against a room's reducer state.
// Exactly one Dispatcher instance exists per room (spec.md §3); calls to
// Apply for a given room are always serialized by the joint core, so
// implementations do not need their own locking.
type Dispatcher interface {
	Apply(clientID uint64, action string, payload json.RawMessage) (Result, error)
}

// Factory builds a fresh Dispatcher (and the reducer state it wraps) for a
// newly created room.
type Factory func() Dispatcher

// StateSnapshotter is an optional interface a reducer may implement to
// expose its current state for inclusion in broadcasts (Open Question 1 in
// DESIGN.md: snapshot inclusion is opt-in per registration, not per
// reducer — a reducer can implement this and still have some actions
// decline to include it).
type StateSnapshotter interface {
	Snapshot() (json.RawMessage, error)
}

// StateIncluder is implemented by a Dispatcher that can report, per action,
// whether its registration opted into attaching a StateSnapshotter snapshot
// to that action's broadcast. A Dispatcher implementing StateSnapshotter
// but not StateIncluder is treated as always including state.
type StateIncluder interface {
	IncludesState(action string) bool
}

// UnknownActionError is returned by a Dispatcher when the action name has
// no registered handler. The joint core treats this as a protocol error
// per spec.md §7 (Err response, no state change, no breaker failure).
type UnknownActionError struct {
	Action string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("dispatch: unknown action %q", e.Action)
}

// ArityMismatchError is returned when an action's payload array has a
// different number of elements than the handler declares, distinct from a
// per-element type mismatch so callers can tell "wrong shape" from "wrong
// count" apart.
type ArityMismatchError struct {
	Action string
	Want   int
	Got    int
}

func (e *ArityMismatchError) Error() string {
	return fmt.Sprintf("dispatch: action %q expects %d positional argument(s), got %d", e.Action, e.Want, e.Got)
}
