package peer

import (
	"context"
	"errors"
	"sync"

	apperrors "github.com/agbru/atmoworker/internal/errors"
)

//go:generate mockgen -destination=mock_peer/mock_peer.go github.com/agbru/atmoworker/internal/peer Channel,Spawner

// Channel is a blocking collective endpoint to one peer group.
type Channel interface {
	// Send writes one frame.
	Send(ctx context.Context, f Frame) error
	// Receive reads the next frame, which must carry op.
	Receive(ctx context.Context, op Op) (Frame, error)
	// Barrier returns once both ends have reached it.
	Barrier(ctx context.Context) error
	// Disconnect performs the closing handshake and releases the transport.
	Disconnect(ctx context.Context) error
}

// Role says which end of a channel a Conn is.
type Role int

const (
	// Parent is the spawning end: it speaks first in barriers and
	// disconnects.
	Parent Role = iota
	// Child is the spawned end: it waits, then answers.
	Child
)

func (r Role) String() string {
	if r == Parent {
		return "parent"
	}
	return "child"
}

// transport moves whole frames.
type transport interface {
	WriteFrame(Frame) error
	ReadFrame() (Frame, error)
	Close() error
}

// Conn is a Channel over a frame transport.
type Conn struct {
	role Role
	t    transport

	closeOnce sync.Once
	closeErr  error
}

func newConn(t transport, role Role) *Conn {
	return &Conn{role: role, t: t}
}

// Role returns the end this Conn represents.
func (c *Conn) Role() Role { return c.role }

// Send writes one frame.
func (c *Conn) Send(ctx context.Context, f Frame) error {
	return c.do(ctx, f.Op.String(), func() error { return c.t.WriteFrame(f) })
}

// Next reads the next frame whatever its op.
func (c *Conn) Next(ctx context.Context) (Frame, error) {
	var f Frame
	err := c.do(ctx, "receive", func() error {
		var err error
		f, err = c.t.ReadFrame()
		return err
	})
	return f, err
}

// Receive reads the next frame and checks its op.
func (c *Conn) Receive(ctx context.Context, op Op) (Frame, error) {
	var f Frame
	err := c.do(ctx, op.String(), func() error {
		var err error
		f, err = c.t.ReadFrame()
		return err
	})
	if err != nil {
		return Frame{}, err
	}
	if f.Op != op {
		return Frame{}, apperrors.ProtocolError{Op: op.String(), Want: op.String(), Got: f.String()}
	}
	return f, nil
}

// Barrier synchronises both ends.
func (c *Conn) Barrier(ctx context.Context) error {
	return c.exchange(ctx, OpBarrier)
}

// Disconnect performs the closing handshake and closes the transport. The
// transport is closed even when the handshake fails.
func (c *Conn) Disconnect(ctx context.Context) error {
	err := c.exchange(ctx, OpDisconnect)
	if cerr := c.Close(); err == nil && cerr != nil {
		err = apperrors.PeerError{Op: "disconnect", Cause: cerr}
	}
	return err
}

// Close releases the transport without a handshake.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { c.closeErr = c.t.Close() })
	return c.closeErr
}

// exchange sends and receives an empty frame of op in role order.
func (c *Conn) exchange(ctx context.Context, op Op) error {
	if c.role == Parent {
		if err := c.Send(ctx, Frame{Op: op}); err != nil {
			return err
		}
		_, err := c.Receive(ctx, op)
		return err
	}
	if _, err := c.Receive(ctx, op); err != nil {
		return err
	}
	return c.Send(ctx, Frame{Op: op})
}

// do runs fn with the transport closed on cancellation.
func (c *Conn) do(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return apperrors.PeerError{Op: op, Cause: err}
	}
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	err := fn()
	stop()
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return apperrors.PeerError{Op: op, Cause: ctxErr}
	}
	return apperrors.PeerError{Op: op, Cause: err}
}

// WaitHello blocks until the peer announces itself.
func WaitHello(ctx context.Context, ch Channel) error {
	_, err := ch.Receive(ctx, OpHello)
	return err
}

func sendHello(ctx context.Context, ch Channel) error {
	return ch.Send(ctx, Frame{Op: OpHello})
}

// BroadcastOut sends vals to every member of the group.
func BroadcastOut[T Number](ctx context.Context, ch Channel, vals []T) error {
	return ch.Send(ctx, Encode(OpBroadcast, vals))
}

// BroadcastIn receives n broadcast values.
func BroadcastIn[T Number](ctx context.Context, ch Channel, n int) ([]T, error) {
	return receive[T](ctx, ch, OpBroadcast, n)
}

// ScatterOut sends this member's share of a scatter.
func ScatterOut[T Number](ctx context.Context, ch Channel, vals []T) error {
	return ch.Send(ctx, Encode(OpScatter, vals))
}

// ScatterIn receives this member's share of a scatter.
func ScatterIn[T Number](ctx context.Context, ch Channel, n int) ([]T, error) {
	return receive[T](ctx, ch, OpScatter, n)
}

// GatherOut contributes vals to a gather at the other end.
func GatherOut[T Number](ctx context.Context, ch Channel, vals []T) error {
	return ch.Send(ctx, Encode(OpGather, vals))
}

// GatherIn collects n values gathered from the other end.
func GatherIn[T Number](ctx context.Context, ch Channel, n int) ([]T, error) {
	return receive[T](ctx, ch, OpGather, n)
}

func receive[T Number](ctx context.Context, ch Channel, op Op, n int) ([]T, error) {
	f, err := ch.Receive(ctx, op)
	if err != nil {
		return nil, err
	}
	kind := kindOf[T]()
	if f.Kind != kind || int(f.Count) != n {
		return nil, apperrors.ProtocolError{Op: op.String(), Want: describe(op, kind, n), Got: f.String()}
	}
	return decode[T](f), nil
}

// IsProtocolError reports whether err is a detected desynchronisation.
func IsProtocolError(err error) bool {
	var pErr apperrors.ProtocolError
	return errors.As(err, &pErr)
}
