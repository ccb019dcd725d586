// Package chatroom is a worked-example reducer: a minimal chat room that
// accumulates messages and lets members rename themselves, built to
// exercise the dispatch contract end to end rather than to be a complete
// chat product.
package chatroom

import (
	"encoding/json"
	"sync"
	"time"
)

// Message is one chat line, kept in send order.
type Message struct {
	From uint64    `json:"from"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// State is the chatroom's reducer state, JSON-encodable for snapshotting.
type State struct {
	Messages []Message         `json:"messages"`
	Names    map[uint64]string `json:"names"`
}

// Reducer is the chat room's reducer state; NewDispatcher wraps it in a
// dispatch.NewReflectiveDispatcher to obtain a dispatch.Dispatcher. Its
// methods are the handler
// shapes registered against named actions, not called directly by a
// transport or the joint core.
type Reducer struct {
	mu    sync.Mutex
	state State
}

// NewState constructs an empty chatroom state.
func NewState() *Reducer {
	return &Reducer{
		state: State{Names: make(map[uint64]string)},
	}
}

// SendMessageResult is returned to the sender and, when broadcast, to every
// room member, the sender included.
type SendMessageResult struct {
	From uint64 `json:"from"`
	Text string `json:"text"`
}

// SendMessage appends a chat line from clientID and returns it for
// broadcast to the whole room. The wire payload for this action is
// the single-element array `[text]`.
func (r *Reducer) SendMessage(clientID uint64, text string) (SendMessageResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state.Messages = append(r.state.Messages, Message{
		From: clientID,
		Text: text,
	})

	return SendMessageResult{From: clientID, Text: text}, nil
}

// SetNameResult echoes the accepted name.
type SetNameResult struct {
	Name string `json:"name"`
}

// SetName records a display name for clientID. The wire payload for this
// action is the single-element array `[name]`.
func (r *Reducer) SetName(clientID uint64, name string) (SetNameResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state.Names[clientID] = name
	return SetNameResult{Name: name}, nil
}

// MessageCountResult is the zero-payload "message_count" action's response.
type MessageCountResult struct {
	Count int `json:"count"`
}

// MessageCount reports how many messages the room has seen, a handler that
// takes no payload argument (only clientID).
func (r *Reducer) MessageCount(clientID uint64) (MessageCountResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return MessageCountResult{Count: len(r.state.Messages)}, nil
}

// Snapshot implements dispatch.StateSnapshotter so actions registered with
// IncludeState can attach the running room state to their broadcast.
func (r *Reducer) Snapshot() (json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return json.Marshal(r.state)
}
