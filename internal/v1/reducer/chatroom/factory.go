package chatroom

import "github.com/injoint/joint/internal/v1/dispatch"

// NewDispatcher builds a dispatch.Dispatcher for a single chat room, wiring
// a fresh Reducer's methods to their action names. Pass this as the
// dispatch.Factory a joint.Joint is constructed with (one call per room
// created).
func NewDispatcher() dispatch.Dispatcher {
	r := NewState()
	return dispatch.NewReflectiveDispatcher(r,
		dispatch.Registration{
			Name:         "send_message",
			Handler:      r.SendMessage,
			Broadcast:    dispatch.BroadcastToRoom,
			IncludeState: true,
		},
		dispatch.Registration{
			Name:      "set_name",
			Handler:   r.SetName,
			Broadcast: dispatch.BroadcastToRoom,
		},
		dispatch.Registration{
			Name:      "message_count",
			Handler:   r.MessageCount,
			Broadcast: dispatch.NoBroadcast,
		},
	)
}
