package joint

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/injoint/joint/internal/v1/dispatch"
	"github.com/injoint/joint/internal/v1/metrics"
)

// Room is a single named room's membership and reducer state. The mutex
// guards the membership and owner fields and is held for the whole of each
// reducer dispatch. All calls come from the joint core's single intake
// loop, so in normal operation it is acquired without contention.
type Room struct {
	ID string

	mu       sync.Mutex
	owner    uint64
	members  map[uint64]uint64 // client id -> join sequence number
	nextSeq  uint64
	hasOwner bool

	dispatcher dispatch.Dispatcher
	breaker    *gobreaker.CircuitBreaker
}

func newRoom(id string, dispatcher dispatch.Dispatcher) *Room {
	r := &Room{
		ID:         id,
		members:    make(map[uint64]uint64),
		dispatcher: dispatcher,
	}
	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "room-" + id,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// An unknown action name is a caller mistake, not a reducer
		// failure, so it does not count toward tripping the breaker.
		IsSuccessful: func(err error) bool {
			var unknown *dispatch.UnknownActionError
			return err == nil || errors.As(err, &unknown)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(id).Set(float64(to))
		},
	})
	return r
}

// addFirstMember adds the room's creator as both member and owner.
func (r *Room) addFirstMember(clientID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[clientID] = r.nextSeq
	r.nextSeq++
	r.owner = clientID
	r.hasOwner = true
}

// addMember adds clientID to the room. Does not affect ownership.
func (r *Room) addMember(clientID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[clientID] = r.nextSeq
	r.nextSeq++
}

// removeMember removes clientID, promoting the earliest-joined remaining
// member to owner if the departing client was the owner (spec.md §3: owner
// always a member; deterministic owner succession to earliest-joined
// remaining member). Returns whether the room is now empty.
func (r *Room) removeMember(clientID uint64) (empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.members, clientID)

	if len(r.members) == 0 {
		r.hasOwner = false
		return true
	}

	if clientID == r.owner {
		r.owner = earliestJoined(r.members)
	}

	return false
}

func earliestJoined(members map[uint64]uint64) uint64 {
	var chosen uint64
	best := ^uint64(0)
	for id, seq := range members {
		if seq < best {
			best = seq
			chosen = id
		}
	}
	return chosen
}

// IsMember reports whether clientID currently belongs to the room.
func (r *Room) IsMember(clientID uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[clientID]
	return ok
}

// MemberIDs returns a snapshot of current member ids.
func (r *Room) MemberIDs() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]uint64, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	return ids
}

// MemberCount reports the current number of members.
func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Owner returns the current owner's client id.
func (r *Room) Owner() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.owner
}

// dispatch runs action through the room's reducer, guarded by a circuit
// breaker so a reducer that panics or errors repeatedly trips the breaker
// instead of being retried indefinitely (spec.md §7: programmer contract
// violations are fatal to the offending room only).
func (r *Room) dispatch(clientID uint64, action string, payload []byte) (dispatch.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out, err := r.breaker.Execute(func() (any, error) {
		return r.dispatcher.Apply(clientID, action, payload)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerRejections.WithLabelValues(r.ID).Inc()
		}
		return dispatch.Result{}, err
	}
	return out.(dispatch.Result), nil
}
