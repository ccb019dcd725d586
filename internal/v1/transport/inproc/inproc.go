// Package inproc is an in-process transport adapter for tests and for
// embedding a joint directly into a host process without a network hop —
// two buffered channels standing in for a socket, satisfying the same
// joint.Conn contract the network transports do.
package inproc

import (
	"errors"

	"github.com/injoint/joint/internal/v1/joint"
)

// ErrClosed is returned by ReadMessage/WriteMessage once the pipe end has
// been closed.
var ErrClosed = errors.New("inproc: pipe closed")

// Pipe is a joint.Conn backed by two in-memory channels. A Pipe is one end
// of the connection; Attach the Pipe returned for the joint side, and drive
// the Pipe returned for the caller side directly (Send/Recv) instead of
// wrapping it in another transport.
type Pipe struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
}

// New returns a connected pair of Pipes: frames written to one arrive on
// the other's Recv, and vice versa.
func New(bufferDepth int) (client *Pipe, server *Pipe) {
	a := make(chan []byte, bufferDepth)
	b := make(chan []byte, bufferDepth)
	closed := make(chan struct{})
	return &Pipe{in: b, out: a, closed: closed}, &Pipe{in: a, out: b, closed: closed}
}

// ReadMessage implements joint.Conn by receiving the next frame written to
// the peer's Send.
func (p *Pipe) ReadMessage() ([]byte, error) {
	select {
	case frame, ok := <-p.in:
		if !ok {
			return nil, ErrClosed
		}
		return frame, nil
	case <-p.closed:
		return nil, ErrClosed
	}
}

// WriteMessage implements joint.Conn by delivering frame to the peer's
// ReadMessage/Recv.
func (p *Pipe) WriteMessage(frame []byte) error {
	select {
	case p.out <- frame:
		return nil
	case <-p.closed:
		return ErrClosed
	}
}

// Close implements joint.Conn. Safe to call from either end or both.
func (p *Pipe) Close() error {
	select {
	case <-p.closed:
	default:
		close(p.closed)
	}
	return nil
}

// Send is a caller-side convenience over WriteMessage.
func (p *Pipe) Send(frame []byte) error {
	return p.WriteMessage(frame)
}

// Recv is a caller-side convenience over ReadMessage.
func (p *Pipe) Recv() ([]byte, error) {
	return p.ReadMessage()
}

var _ joint.Conn = (*Pipe)(nil)

// Attach wires the server end of a fresh Pipe pair into j and returns the
// client end to the caller alongside the joint's ClientHandle. Unlike the
// network transports, inproc must pump frames itself since there is no
// socket read/write loop driving the connection from outside.
func Attach(j *joint.Joint, bufferDepth int) (client *Pipe, handle *joint.ClientHandle) {
	clientSide, serverSide := New(bufferDepth)
	h := j.Attach(serverSide)

	go func() {
		defer j.Detach(h.ID)
		defer serverSide.Close()
		for {
			frame, err := serverSide.ReadMessage()
			if err != nil {
				return
			}
			j.Inbound(h.ID, frame)
		}
	}()

	go func() {
		defer serverSide.Close()
		for frame := range h.Outbound {
			if err := serverSide.WriteMessage(frame); err != nil {
				return
			}
		}
	}()

	return clientSide, h
}
