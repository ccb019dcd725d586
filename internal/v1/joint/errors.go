package joint

import "errors"

var (
	// ErrAlreadyInRoom is returned when a client tries to create or join a
	// room while already a member of one (spec.md §3: at most one room
	// per client).
	ErrAlreadyInRoom = errors.New("joint: client already in a room")
	// ErrNotInRoom is returned when a client tries to leave or act
	// without being a room member.
	ErrNotInRoom = errors.New("joint: client is not in a room")
	// ErrRoomNotFound is returned when a client tries to join a room id
	// that does not exist.
	ErrRoomNotFound = errors.New("joint: room not found")
	// ErrRateLimited is returned when a client's action rate exceeds the
	// configured limit.
	ErrRateLimited = errors.New("joint: action rate limit exceeded")
)
