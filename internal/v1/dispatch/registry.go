package dispatch

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Registration binds an action name to a reducer method, substituting the
// macro-generated dispatch glue spec.md's Design Notes (§9) name as an
// external collaborator. Handler must be a function value of shape:
//
//	func(clientID uint64) (R, error)
//	func(clientID uint64, a A) (R, error)
//	func(clientID uint64, a A, b B, ...) (R, error)
//
// where each positional argument is any JSON-unmarshalable type and R is
// any JSON-marshalable type. The wire payload is a JSON array whose
// elements are decoded positionally into the handler's declared arguments
// (spec.md §4.2, §6). The registrar validates this shape once at
// construction time, so a caller mistake here is a construction-time
// panic, not a runtime dispatch failure (spec.md §7 reserves "unknown
// action"/"bad payload shape" for caller mistakes made over the wire, not
// in Go source).
type Registration struct {
	Name         string
	Handler      any
	Broadcast    BroadcastPolicy
	IncludeState bool
}

var (
	errType        = reflect.TypeOf((*error)(nil)).Elem()
	clientIDType   = reflect.TypeOf(uint64(0))
	rawMessageType = reflect.TypeOf(json.RawMessage(nil))
)

type boundHandler struct {
	fn           reflect.Value
	argTypes     []reflect.Type // positional argument types, after clientID
	broadcast    BroadcastPolicy
	includeState bool
}

// ReflectiveDispatcher dispatches by looking up a Registration by action
// name and invoking its handler via reflection, unmarshaling each element
// of the wire payload array into the handler's declared argument types,
// positionally.
type ReflectiveDispatcher struct {
	reducer  any
	handlers map[string]boundHandler
}

// NewReflectiveDispatcher validates each registration's handler shape and
// returns a Dispatcher that routes Apply calls to them. It panics if any
// handler does not match the required shape — this is a programmer
// contract violation in the reducer's own registration code, not a
// runtime/caller error, so it is surfaced immediately at room-factory
// construction rather than deferred to the first dispatch.
func NewReflectiveDispatcher(reducer any, registrations ...Registration) *ReflectiveDispatcher {
	handlers := make(map[string]boundHandler, len(registrations))
	for _, reg := range registrations {
		if reg.Name == "" {
			panic("dispatch: registration has empty Name")
		}
		if _, exists := handlers[reg.Name]; exists {
			panic(fmt.Sprintf("dispatch: action %q registered twice", reg.Name))
		}
		handlers[reg.Name] = bind(reg)
	}
	return &ReflectiveDispatcher{reducer: reducer, handlers: handlers}
}

func bind(reg Registration) boundHandler {
	fn := reflect.ValueOf(reg.Handler)
	t := fn.Type()
	if t.Kind() != reflect.Func {
		panic(fmt.Sprintf("dispatch: action %q handler is not a function", reg.Name))
	}
	if t.NumOut() != 2 || !t.Out(1).Implements(errType) {
		panic(fmt.Sprintf("dispatch: action %q handler must return (R, error)", reg.Name))
	}

	if t.NumIn() < 1 || t.In(0) != clientIDType {
		panic(fmt.Sprintf("dispatch: action %q handler's first argument must be uint64", reg.Name))
	}

	argTypes := make([]reflect.Type, t.NumIn()-1)
	for i := range argTypes {
		argTypes[i] = t.In(i + 1)
	}
	return boundHandler{fn: fn, argTypes: argTypes, broadcast: reg.Broadcast, includeState: reg.IncludeState}
}

// Apply implements Dispatcher.
func (d *ReflectiveDispatcher) Apply(clientID uint64, action string, payload json.RawMessage) (result Result, err error) {
	h, ok := d.handlers[action]
	if !ok {
		return Result{}, &UnknownActionError{Action: action}
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch: action %q panicked: %v", action, r)
		}
	}()

	var elements []json.RawMessage
	if len(payload) > 0 {
		if jsonErr := json.Unmarshal(payload, &elements); jsonErr != nil {
			return Result{}, fmt.Errorf("dispatch: action %q payload decode: %w", action, jsonErr)
		}
	}
	if len(elements) != len(h.argTypes) {
		return Result{}, &ArityMismatchError{Action: action, Want: len(h.argTypes), Got: len(elements)}
	}

	args := []reflect.Value{reflect.ValueOf(clientID)}
	for i, argType := range h.argTypes {
		argPtr := reflect.New(argType)
		if jsonErr := json.Unmarshal(elements[i], argPtr.Interface()); jsonErr != nil {
			return Result{}, fmt.Errorf("dispatch: action %q argument %d decode: %w", action, i, jsonErr)
		}
		args = append(args, argPtr.Elem())
	}

	out := h.fn.Call(args)
	if errVal := out[1].Interface(); errVal != nil {
		return Result{}, errVal.(error)
	}

	respPayload, marshalErr := marshalResult(out[0])
	if marshalErr != nil {
		return Result{}, fmt.Errorf("dispatch: action %q response encode: %w", action, marshalErr)
	}

	return Result{Payload: respPayload, Broadcast: h.broadcast}, nil
}

func marshalResult(v reflect.Value) (json.RawMessage, error) {
	if v.Type() == rawMessageType {
		return v.Interface().(json.RawMessage), nil
	}
	return json.Marshal(v.Interface())
}

// IncludesState reports whether action's registration opted into a state
// snapshot on broadcast. Implements dispatch.StateIncluder.
func (d *ReflectiveDispatcher) IncludesState(action string) bool {
	h, ok := d.handlers[action]
	return ok && h.includeState
}

// Snapshot implements dispatch.StateSnapshotter by delegating to the
// wrapped reducer when it supports snapshotting; otherwise it reports no
// state, leaving broadcasts unchanged.
func (d *ReflectiveDispatcher) Snapshot() (json.RawMessage, error) {
	snap, ok := d.reducer.(StateSnapshotter)
	if !ok {
		return nil, nil
	}
	return snap.Snapshot()
}
