package peer

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
)

// streamTransport frames a byte stream.
type streamTransport struct {
	r *bufio.Reader
	w io.Writer
	c io.Closer
}

func (s *streamTransport) WriteFrame(f Frame) error  { return writeFrame(s.w, f) }
func (s *streamTransport) ReadFrame() (Frame, error) { return readFrame(s.r) }
func (s *streamTransport) Close() error              { return s.c.Close() }

// NewStream returns a Conn over rwc without a hello exchange.
func NewStream(rwc io.ReadWriteCloser, role Role) *Conn {
	return newConn(&streamTransport{r: bufio.NewReader(rwc), w: rwc, c: rwc}, role)
}

// Accept takes the parent end of rwc and waits for the child's hello.
func Accept(ctx context.Context, rwc io.ReadWriteCloser) (*Conn, error) {
	c := NewStream(rwc, Parent)
	if err := WaitHello(ctx, c); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Join takes the child end of rwc and announces itself.
func Join(ctx context.Context, rwc io.ReadWriteCloser) (*Conn, error) {
	c := NewStream(rwc, Child)
	if err := sendHello(ctx, c); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// ParentConn joins the process that spawned this one over stdin/stdout.
// Nothing else may write to stdout afterwards.
func ParentConn(ctx context.Context) (*Conn, error) {
	return Join(ctx, stdio{})
}

type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdio) Close() error {
	return errors.Join(os.Stdout.Close(), os.Stdin.Close())
}
