// Package joint implements the core intake loop, client/room registries,
// and dispatch plumbing described by the injoint specification: clients
// attach, create or join rooms, dispatch actions against a per-room
// reducer, and receive broadcasts.
package joint

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/injoint/joint/internal/v1/dispatch"
	"github.com/injoint/joint/internal/v1/logging"
	"github.com/injoint/joint/internal/v1/metrics"
	"github.com/injoint/joint/internal/v1/ratelimit"
	"github.com/injoint/joint/internal/v1/wire"
)

const defaultQueueDepth = 256
const defaultOutboundDepth = 64
const defaultSendTimeout = 2 * time.Second

// ClientHandle is what Attach returns to a transport: the assigned id and
// the outbound channel its writer pump should drain. Transports never see
// the Client type itself.
type ClientHandle struct {
	ID       uint64
	Outbound <-chan []byte
}

type eventKind int

const (
	eventFrame eventKind = iota
	eventDetach
)

type intakeEvent struct {
	kind     eventKind
	clientID uint64
	frame    []byte
}

// Option configures a Joint at construction time.
type Option func(*Joint)

// WithIntakeQueueDepth overrides the default bound on the intake channel.
func WithIntakeQueueDepth(n int) Option {
	return func(j *Joint) { j.intake = make(chan intakeEvent, n) }
}

// WithOutboundQueueDepth overrides the default per-client outbound buffer size.
func WithOutboundQueueDepth(n int) Option {
	return func(j *Joint) { j.outboundDepth = n }
}

// WithOutboundSendTimeout overrides how long the intake loop awaits a slow
// client's outbound buffer draining before giving up and detaching it. Zero
// disables waiting entirely, reverting to a reject-if-full policy.
func WithOutboundSendTimeout(d time.Duration) Option {
	return func(j *Joint) { j.sendTimeout = d }
}

// WithRateLimiter attaches a rate limiter gating dispatched actions.
func WithRateLimiter(rl *ratelimit.RateLimiter) Option {
	return func(j *Joint) { j.rateLimiter = rl }
}

// Joint is the single-process core: one intake loop serializing every
// room-mutating operation, a client registry, and a room registry.
type Joint struct {
	factory dispatch.Factory

	intake        chan intakeEvent
	outboundDepth int
	sendTimeout   time.Duration
	rateLimiter   *ratelimit.RateLimiter

	nextClientID atomic.Uint64

	clientsMu sync.RWMutex
	clients   map[uint64]*Client
	rooms     map[string]*Room
}

// New constructs a Joint whose rooms are built by factory.
func New(factory dispatch.Factory, opts ...Option) *Joint {
	j := &Joint{
		factory:       factory,
		intake:        make(chan intakeEvent, defaultQueueDepth),
		outboundDepth: defaultOutboundDepth,
		sendTimeout:   defaultSendTimeout,
		clients:       make(map[uint64]*Client),
		rooms:         make(map[string]*Room),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Attach registers a new connection and returns its handle. The transport
// is responsible for reading frames off conn and calling Inbound, and for
// draining ClientHandle.Outbound and writing those frames back to conn.
func (j *Joint) Attach(conn Conn) *ClientHandle {
	id := j.nextClientID.Add(1)
	c := newClient(id, conn, j.outboundDepth, j.sendTimeout)

	j.clientsMu.Lock()
	j.clients[id] = c
	j.clientsMu.Unlock()

	metrics.IncConnection()
	logging.Info(context.Background(), "client attached", zap.Uint64("client_id", id))

	return &ClientHandle{ID: id, Outbound: c.Outbound()}
}

// Inbound delivers one frame received from clientID into the intake loop.
func (j *Joint) Inbound(clientID uint64, frame []byte) {
	j.intake <- intakeEvent{kind: eventFrame, clientID: clientID, frame: frame}
}

// Detach notifies the joint that clientID's connection has closed. Room
// membership cleanup (owner succession, Left broadcast) happens inside the
// intake loop before the client is removed from the registry.
func (j *Joint) Detach(clientID uint64) {
	j.intake <- intakeEvent{kind: eventDetach, clientID: clientID}
}

// ClientCount reports the number of currently attached clients.
func (j *Joint) ClientCount() int {
	j.clientsMu.RLock()
	defer j.clientsMu.RUnlock()
	return len(j.clients)
}

// RoomCount reports the number of currently active rooms.
func (j *Joint) RoomCount() int {
	j.clientsMu.RLock()
	defer j.clientsMu.RUnlock()
	return len(j.rooms)
}

// Run drives the intake loop until ctx is canceled.
func (j *Joint) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-j.intake:
			j.handleEvent(ctx, ev)
		}
	}
}

func (j *Joint) handleEvent(ctx context.Context, ev intakeEvent) {
	switch ev.kind {
	case eventFrame:
		j.handleFrame(ctx, ev.clientID, ev.frame)
	case eventDetach:
		j.handleDetach(ctx, ev.clientID)
	}
}

func (j *Joint) handleFrame(ctx context.Context, clientID uint64, frame []byte) {
	client := j.getClient(clientID)
	if client == nil {
		return // already detached
	}

	var req wire.Request
	if err := json.Unmarshal(frame, &req); err != nil {
		j.reply(client, wire.ErrResponse("malformed request: "+err.Error()))
		return
	}

	switch req.Type {
	case wire.KindCreateRoom:
		j.handleCreateRoom(ctx, client)
	case wire.KindJoinRoom:
		j.handleJoinRoom(ctx, client, req.Room)
	case wire.KindLeaveRoom:
		j.handleLeaveRoom(ctx, client)
	case wire.KindAction:
		j.handleAction(ctx, client, req.Name, req.Payload)
	default:
		j.reply(client, wire.ErrResponse("unknown request type: "+req.Type))
	}
}

func (j *Joint) handleCreateRoom(ctx context.Context, client *Client) {
	if client.RoomID() != "" {
		j.reply(client, wire.ErrResponse(ErrAlreadyInRoom.Error()))
		return
	}

	id, err := j.newUniqueRoomID()
	if err != nil {
		logging.Error(ctx, "room id generation failed", zap.Error(err))
		j.reply(client, wire.ErrResponse("internal error"))
		return
	}

	room := newRoom(id, j.factory())
	room.addFirstMember(client.ID)

	j.clientsMu.Lock()
	j.rooms[id] = room
	j.clientsMu.Unlock()

	client.setRoomID(id)
	metrics.ActiveRooms.Inc()
	metrics.RoomMembers.WithLabelValues(id).Set(1)

	j.reply(client, wire.OkResponse(id, nil))
}

func (j *Joint) handleJoinRoom(ctx context.Context, client *Client, roomID string) {
	if client.RoomID() != "" {
		j.reply(client, wire.ErrResponse(ErrAlreadyInRoom.Error()))
		return
	}

	room := j.getRoom(roomID)
	if room == nil {
		j.reply(client, wire.ErrResponse(ErrRoomNotFound.Error()))
		return
	}

	room.addMember(client.ID)
	client.setRoomID(roomID)
	metrics.RoomMembers.WithLabelValues(roomID).Set(float64(room.MemberCount()))

	j.reply(client, wire.OkResponse(roomID, nil))
	j.broadcast(ctx, room, client.ID, wire.Broadcast{
		Event:  wire.EventJoined,
		Client: wire.ClientID(client.ID),
	})
}

func (j *Joint) handleLeaveRoom(ctx context.Context, client *Client) {
	roomID := client.RoomID()
	if roomID == "" {
		j.reply(client, wire.ErrResponse(ErrNotInRoom.Error()))
		return
	}

	room := j.getRoom(roomID)
	if room == nil {
		client.setRoomID("")
		j.reply(client, wire.ErrResponse(ErrNotInRoom.Error()))
		return
	}

	j.detachFromRoom(ctx, client, room)
	j.reply(client, wire.OkResponse("", nil))
}

func (j *Joint) handleAction(ctx context.Context, client *Client, name string, payload json.RawMessage) {
	roomID := client.RoomID()
	if roomID == "" {
		j.reply(client, wire.ErrResponse(ErrNotInRoom.Error()))
		return
	}

	room := j.getRoom(roomID)
	if room == nil {
		j.reply(client, wire.ErrResponse(ErrNotInRoom.Error()))
		return
	}

	if j.rateLimiter != nil && !j.rateLimiter.CheckAction(ctx, client.ID) {
		j.reply(client, wire.ErrResponse(ErrRateLimited.Error()))
		return
	}

	start := time.Now()
	result, err := room.dispatch(client.ID, name, payload)
	metrics.ActionDispatchDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.ActionsDispatched.WithLabelValues(name, "err").Inc()
		j.reply(client, wire.ErrResponse(err.Error()))
		return
	}
	metrics.ActionsDispatched.WithLabelValues(name, "ok").Inc()

	j.reply(client, wire.OkResponse(roomID, result.Payload))

	if result.Broadcast == dispatch.BroadcastToRoom {
		var state json.RawMessage
		if snap, ok := room.dispatcher.(dispatch.StateSnapshotter); ok {
			includeState := true
			if sel, ok := room.dispatcher.(dispatch.StateIncluder); ok {
				includeState = sel.IncludesState(name)
			}
			if includeState {
				if s, err := snap.Snapshot(); err == nil {
					state = s
				} else {
					logging.Warn(ctx, "state snapshot failed", zap.Error(err), zap.String("room_id", roomID))
				}
			}
		}
		j.broadcastAll(ctx, room, wire.Broadcast{
			Event:   wire.EventActionApplied,
			Client:  wire.ClientID(client.ID),
			Name:    name,
			Payload: result.Payload,
			State:   state,
		})
	}
}

func (j *Joint) handleDetach(ctx context.Context, clientID uint64) {
	client := j.getClient(clientID)
	if client == nil {
		return
	}

	if roomID := client.RoomID(); roomID != "" {
		if room := j.getRoom(roomID); room != nil {
			j.detachFromRoom(ctx, client, room)
		}
	}

	j.clientsMu.Lock()
	delete(j.clients, clientID)
	j.clientsMu.Unlock()

	client.closeOutbound()
	metrics.DecConnection()
	logging.Info(ctx, "client detached", zap.Uint64("client_id", clientID))
}

func (j *Joint) detachFromRoom(ctx context.Context, client *Client, room *Room) {
	empty := room.removeMember(client.ID)
	client.setRoomID("")

	if empty {
		j.clientsMu.Lock()
		delete(j.rooms, room.ID)
		j.clientsMu.Unlock()
		metrics.ActiveRooms.Dec()
		metrics.RoomMembers.DeleteLabelValues(room.ID)
		return
	}

	metrics.RoomMembers.WithLabelValues(room.ID).Set(float64(room.MemberCount()))
	j.broadcast(ctx, room, client.ID, wire.Broadcast{
		Event:  wire.EventLeft,
		Client: wire.ClientID(client.ID),
	})
}

// broadcast sends frame to every member of room except excludeID, used for
// Joined/Left: the departing or arriving member already has its own direct
// Response for the join/leave itself, so it does not also get the
// membership-change event about its own arrival or departure.
func (j *Joint) broadcast(ctx context.Context, room *Room, excludeID uint64, b wire.Broadcast) {
	j.broadcastFiltered(ctx, room, b, func(id uint64) bool { return id != excludeID })
}

// broadcastAll sends frame to every member of room, including the client
// whose action triggered it: an ActionApplied broadcast is how every member,
// actor included, learns the post-action room state, and per-room broadcast
// order must be a consistent prefix across all members (§8 scenario 2).
func (j *Joint) broadcastAll(ctx context.Context, room *Room, b wire.Broadcast) {
	j.broadcastFiltered(ctx, room, b, func(uint64) bool { return true })
}

func (j *Joint) broadcastFiltered(ctx context.Context, room *Room, b wire.Broadcast, include func(uint64) bool) {
	frame, err := json.Marshal(b)
	if err != nil {
		logging.Error(ctx, "broadcast encode failed", zap.Error(err))
		return
	}

	for _, id := range room.MemberIDs() {
		if !include(id) {
			continue
		}
		client := j.getClient(id)
		if client == nil {
			continue
		}
		if !client.enqueue(frame) {
			logging.Warn(ctx, "client outbound buffer full, detaching", zap.Uint64("client_id", id))
			go j.Detach(id)
		}
	}
}

func (j *Joint) reply(client *Client, resp wire.Response) {
	frame, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if !client.enqueue(frame) {
		logging.Warn(context.Background(), "client outbound buffer full, detaching", zap.Uint64("client_id", client.ID))
		go j.Detach(client.ID)
	}
}

func (j *Joint) getClient(id uint64) *Client {
	j.clientsMu.RLock()
	defer j.clientsMu.RUnlock()
	return j.clients[id]
}

func (j *Joint) getRoom(id string) *Room {
	j.clientsMu.RLock()
	defer j.clientsMu.RUnlock()
	return j.rooms[id]
}

func (j *Joint) newUniqueRoomID() (string, error) {
	for {
		id, err := generateRoomID()
		if err != nil {
			return "", err
		}
		j.clientsMu.RLock()
		_, exists := j.rooms[id]
		j.clientsMu.RUnlock()
		if !exists {
			return id, nil
		}
	}
}
