package peer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	apperrors "github.com/agbru/atmoworker/internal/errors"
	"github.com/agbru/atmoworker/internal/logging"
)

// Spawner launches a cooperating peer process.
type Spawner interface {
	Spawn(ctx context.Context, path string, workers int, args []string) (Channel, error)
}

// ProcessSpawner runs the peer as a child process talking over its
// stdin/stdout. Its stderr is forwarded to Logger line by line.
type ProcessSpawner struct {
	Logger logging.Logger
	// WaitDelay bounds how long Disconnect waits for the child to exit.
	WaitDelay time.Duration
}

// Spawn starts path and waits for its hello. Only a single worker is
// supported.
func (s ProcessSpawner) Spawn(ctx context.Context, path string, workers int, args []string) (Channel, error) {
	if workers != 1 {
		return nil, apperrors.NewConfigError("engine worker count must be 1, got %d", workers)
	}
	logger := s.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.WaitDelay = s.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 5 * time.Second
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, apperrors.PeerError{Op: "spawn", Cause: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apperrors.PeerError{Op: "spawn", Cause: err}
	}
	stderr := &lineWriter{logger: logger, fields: []logging.Field{logging.String("peer", path)}}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, apperrors.PeerError{Op: "spawn", Cause: err}
	}
	logger.Debug("peer process started", logging.String("path", path), logging.Int("pid", cmd.Process.Pid))

	c := NewStream(&process{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr}, Parent)
	if err := WaitHello(ctx, c); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// process adapts a running command to io.ReadWriteCloser.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr *lineWriter
}

func (p *process) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p *process) Write(b []byte) (int, error) { return p.stdin.Write(b) }

// Close closes the child's stdin and reaps it. Wait returns once stderr is
// drained, so any unterminated last line is flushed after it.
func (p *process) Close() error {
	err := p.stdin.Close()
	err = errors.Join(err, p.cmd.Wait())
	p.stderr.Flush()
	return err
}

// lineWriter logs each complete line written to it.
type lineWriter struct {
	mu     sync.Mutex
	logger logging.Logger
	fields []logging.Field
	buf    bytes.Buffer
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadBytes('\n')
		if err != nil {
			// keep the partial line for the next write
			w.buf.Reset()
			w.buf.Write(line)
			return len(p), nil
		}
		w.log(string(bytes.TrimRight(line, "\r\n")))
	}
}

// Flush logs a buffered partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.log(w.buf.String())
		w.buf.Reset()
	}
}

// log picks the level from the line's wording so engine diagnostics survive
// a quiet worker.
func (w *lineWriter) log(line string) {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "error"), strings.Contains(lower, "fatal"), strings.Contains(lower, "panic"):
		w.logger.Error(line, nil, w.fields...)
	case strings.Contains(lower, "warn"):
		w.logger.Warn(line, w.fields...)
	default:
		w.logger.Info(line, w.fields...)
	}
}
