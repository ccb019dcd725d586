package joint

import (
	"crypto/rand"
)

// roomIDAlphabet avoids visually ambiguous characters (0/O, 1/I/l).
const roomIDAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
const roomIDLength = 10

// generateRoomID returns a random room id. Collision probability at this
// alphabet/length is negligible (spec.md §4.1); callers still retry on the
// rare collision rather than relying on that alone.
func generateRoomID() (string, error) {
	buf := make([]byte, roomIDLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	id := make([]byte, roomIDLength)
	for i, b := range buf {
		id[i] = roomIDAlphabet[int(b)%len(roomIDAlphabet)]
	}
	return string(id), nil
}
