package peer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/agbru/atmoworker/internal/errors"
	"github.com/agbru/atmoworker/internal/logging"
)

// pipePair returns connected parent and child ends over net.Pipe.
func pipePair(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	a, b := net.Pipe()
	parent, child := NewStream(a, Parent), NewStream(b, Child)
	t.Cleanup(func() {
		parent.Close()
		child.Close()
	})
	return parent, child
}

// run executes fn in a goroutine and returns its error on the channel.
func run(fn func() error) <-chan error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	return done
}

func TestFrame_Encoding(t *testing.T) {
	t.Parallel()

	t.Run("header layout is little-endian", func(t *testing.T) {
		t.Parallel()
		b, err := Encode(OpScatter, []int32{1, -2}).MarshalBinary()
		if err != nil {
			t.Fatal(err)
		}
		want := []byte{3, 1, 0, 0, 2, 0, 0, 0, 1, 0, 0, 0, 0xfe, 0xff, 0xff, 0xff}
		if !bytes.Equal(b, want) {
			t.Errorf("encoded = % x, want % x", b, want)
		}
	})

	t.Run("float payload decodes to the same values", func(t *testing.T) {
		t.Parallel()
		vals := []float64{-1, 0.5, 1e300}
		var f Frame
		b, _ := Encode(OpGather, vals).MarshalBinary()
		if err := f.UnmarshalBinary(b); err != nil {
			t.Fatal(err)
		}
		if got := decode[float64](f); !reflect.DeepEqual(got, vals) {
			t.Errorf("decoded %v, want %v", got, vals)
		}
		if f.String() != "gather float64[3]" {
			t.Errorf("String() = %q", f.String())
		}
	})

	tests := []struct {
		name string
		raw  []byte
	}{
		{"short header", []byte{1, 0, 0}},
		{"unknown op", []byte{42, 0, 0, 0, 0, 0, 0, 0}},
		{"unknown kind", []byte{2, 9, 0, 0, 0, 0, 0, 0}},
		{"truncated payload", []byte{2, 1, 0, 0, 2, 0, 0, 0, 1, 0, 0, 0}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var f Frame
			if err := f.UnmarshalBinary(tt.raw); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestReadFrame_Stream(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	for _, f := range []Frame{{Op: OpHello}, Encode(OpBroadcast, []int32{7, 3})} {
		if err := writeFrame(&buf, f); err != nil {
			t.Fatal(err)
		}
	}
	first, err := readFrame(&buf)
	if err != nil || first.Op != OpHello {
		t.Fatalf("first frame = %v, %v", first, err)
	}
	second, err := readFrame(&buf)
	if err != nil || !reflect.DeepEqual(decode[int32](second), []int32{7, 3}) {
		t.Fatalf("second frame = %v, %v", second, err)
	}
	if _, err := readFrame(&buf); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestCollectives_Pipe(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	driver, worker := pipePair(t)

	done := run(func() error {
		if err := BroadcastOut(ctx, driver, []int32{3, 2}); err != nil {
			return err
		}
		if err := ScatterOut(ctx, driver, []float64{0.5, 0.25, 0.125}); err != nil {
			return err
		}
		obs, err := GatherIn[float64](ctx, driver, 2)
		if err != nil {
			return err
		}
		if !reflect.DeepEqual(obs, []float64{0.875, -1}) {
			t.Errorf("driver gathered %v", obs)
		}
		if err := driver.Barrier(ctx); err != nil {
			return err
		}
		return driver.Disconnect(ctx)
	})

	head, err := BroadcastIn[int32](ctx, worker, 2)
	if err != nil {
		t.Fatalf("BroadcastIn failed: %v", err)
	}
	params, err := ScatterIn[float64](ctx, worker, int(head[0]))
	if err != nil {
		t.Fatalf("ScatterIn failed: %v", err)
	}
	if err := GatherOut(ctx, worker, []float64{params[0] + params[1] + params[2], -1}); err != nil {
		t.Fatalf("GatherOut failed: %v", err)
	}
	if err := worker.Barrier(ctx); err != nil {
		t.Fatalf("Barrier failed: %v", err)
	}
	if err := worker.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("driver side failed: %v", err)
	}
}

func TestReceive_Desync(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		send Frame
		recv func(ctx context.Context, ch Channel) error
	}{
		{
			name: "op mismatch",
			send: Frame{Op: OpBarrier},
			recv: func(ctx context.Context, ch Channel) error {
				_, err := GatherIn[float64](ctx, ch, 4)
				return err
			},
		},
		{
			name: "kind mismatch",
			send: Encode(OpBroadcast, []float64{1, 2}),
			recv: func(ctx context.Context, ch Channel) error {
				_, err := BroadcastIn[int32](ctx, ch, 2)
				return err
			},
		},
		{
			name: "count mismatch",
			send: Encode(OpScatter, []float64{1, 2, 3}),
			recv: func(ctx context.Context, ch Channel) error {
				_, err := ScatterIn[float64](ctx, ch, 4)
				return err
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			parent, child := pipePair(t)
			done := run(func() error { return parent.Send(ctx, tt.send) })

			err := tt.recv(ctx, child)
			if !IsProtocolError(err) {
				t.Errorf("expected ProtocolError, got %v", err)
			}
			if code := apperrors.ExitCode(err); code != apperrors.ExitErrorProtocol {
				t.Errorf("ExitCode = %d, want %d", code, apperrors.ExitErrorProtocol)
			}
			if err := <-done; err != nil {
				t.Errorf("send failed: %v", err)
			}
		})
	}
}

func TestConn_Cancel(t *testing.T) {
	t.Parallel()
	_, child := pipePair(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := run(func() error {
		_, err := ScatterIn[float64](ctx, child, 3)
		return err
	})
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		var peerErr apperrors.PeerError
		if !errors.As(err, &peerErr) || !errors.Is(err, context.Canceled) {
			t.Errorf("expected PeerError wrapping context.Canceled, got %v", err)
		}
		if code := apperrors.ExitCode(err); code != apperrors.ExitErrorCanceled {
			t.Errorf("ExitCode = %d, want %d", code, apperrors.ExitErrorCanceled)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending receive did not return after cancellation")
	}
}

func TestConn_PeerGone(t *testing.T) {
	t.Parallel()
	parent, child := pipePair(t)
	parent.Close()

	_, err := GatherIn[float64](context.Background(), child, 1)
	var peerErr apperrors.PeerError
	if !errors.As(err, &peerErr) {
		t.Fatalf("expected PeerError, got %v", err)
	}
	if peerErr.Op != "gather" {
		t.Errorf("Op = %q, want gather", peerErr.Op)
	}
}

func TestAcceptJoin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a, b := net.Pipe()

	joined := make(chan *Conn, 1)
	go func() {
		c, err := Join(ctx, b)
		if err != nil {
			t.Errorf("Join failed: %v", err)
		}
		joined <- c
	}()
	parent, err := Accept(ctx, a)
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	child := <-joined
	defer parent.Close()
	defer child.Close()

	if parent.Role() != Parent || child.Role() != Child {
		t.Errorf("roles = %v, %v", parent.Role(), child.Role())
	}
}

func TestWebSocket(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	driverDone := make(chan error, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		driver, err := UpgradeWebSocket(w, r)
		if err != nil {
			driverDone <- err
			return
		}
		go func() {
			driverDone <- func() error {
				if err := WaitHello(ctx, driver); err != nil {
					return err
				}
				if err := BroadcastOut(ctx, driver, []int32{1, 1}); err != nil {
					return err
				}
				if err := ScatterOut(ctx, driver, []float64{42}); err != nil {
					return err
				}
				got, err := GatherIn[float64](ctx, driver, 1)
				if err != nil {
					return err
				}
				if got[0] != 84 {
					t.Errorf("driver gathered %v, want [84]", got)
				}
				return driver.Disconnect(ctx)
			}()
		}()
	}))
	t.Cleanup(srv.Close)

	worker, err := DialWebSocket(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"))
	if err != nil {
		t.Fatalf("DialWebSocket failed: %v", err)
	}
	head, err := BroadcastIn[int32](ctx, worker, 2)
	if err != nil {
		t.Fatalf("BroadcastIn failed: %v", err)
	}
	params, err := ScatterIn[float64](ctx, worker, int(head[0]))
	if err != nil {
		t.Fatalf("ScatterIn failed: %v", err)
	}
	if err := GatherOut(ctx, worker, []float64{2 * params[0]}); err != nil {
		t.Fatalf("GatherOut failed: %v", err)
	}
	if err := worker.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if err := <-driverDone; err != nil {
		t.Fatalf("driver side failed: %v", err)
	}
}

func TestDialWebSocket_Refused(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	_, err := DialWebSocket(context.Background(), url)
	if apperrors.ExitCode(err) != apperrors.ExitErrorPeer {
		t.Errorf("expected a peer error, got %v", err)
	}
}

func TestProcessSpawner_WorkerCount(t *testing.T) {
	t.Parallel()
	for _, workers := range []int{0, 2, 8} {
		_, err := ProcessSpawner{}.Spawn(context.Background(), "true", workers, nil)
		var cfgErr apperrors.ConfigError
		if !errors.As(err, &cfgErr) {
			t.Errorf("workers=%d: expected ConfigError, got %v", workers, err)
		}
	}
}

func TestProcessSpawner_MissingExecutable(t *testing.T) {
	t.Parallel()
	_, err := ProcessSpawner{}.Spawn(context.Background(), "/nonexistent/transit", 1, nil)
	var peerErr apperrors.PeerError
	if !errors.As(err, &peerErr) || peerErr.Op != "spawn" {
		t.Errorf("expected spawn PeerError, got %v", err)
	}
}

const helperEnv = "ATMOWORKER_PEER_HELPER"

// TestHelperProcess is the child side of TestProcessSpawner. It only runs
// when spawned by that test.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		t.Skip("helper process")
	}
	ctx := context.Background()
	fmt.Fprintln(os.Stderr, "helper ready")
	parent, err := ParentConn(ctx)
	if err != nil {
		os.Exit(2)
	}
	vals, err := BroadcastIn[int32](ctx, parent, 1)
	if err != nil {
		os.Exit(3)
	}
	if err := GatherOut(ctx, parent, []int32{vals[0] + 1}); err != nil {
		os.Exit(4)
	}
	if err := parent.Barrier(ctx); err != nil {
		os.Exit(5)
	}
	if err := parent.Disconnect(ctx); err != nil {
		os.Exit(6)
	}
	os.Exit(0)
}

func TestProcessSpawner(t *testing.T) {
	t.Setenv(helperEnv, "1")
	ctx := context.Background()

	var logs bytes.Buffer
	logger := logging.NewStdLoggerAdapter(log.New(&logs, "", 0))
	ch, err := ProcessSpawner{Logger: logger}.Spawn(ctx, os.Args[0], 1, []string{"-test.run=^TestHelperProcess$"})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	if err := BroadcastOut(ctx, ch, []int32{41}); err != nil {
		t.Fatalf("BroadcastOut failed: %v", err)
	}
	got, err := GatherIn[int32](ctx, ch, 1)
	if err != nil {
		t.Fatalf("GatherIn failed: %v", err)
	}
	if got[0] != 42 {
		t.Errorf("gathered %d, want 42", got[0])
	}
	if err := ch.Barrier(ctx); err != nil {
		t.Fatalf("Barrier failed: %v", err)
	}
	if err := ch.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if !strings.Contains(logs.String(), "helper ready") {
		t.Errorf("child stderr should be forwarded to the log, got: %s", logs.String())
	}
}

func TestLineWriter(t *testing.T) {
	t.Parallel()
	var logs bytes.Buffer
	w := &lineWriter{logger: logging.NewStdLoggerAdapter(log.New(&logs, "", 0))}

	w.Write([]byte("first li"))
	if logs.Len() != 0 {
		t.Fatalf("partial line should be buffered, got: %s", logs.String())
	}
	w.Write([]byte("ne\nsecond line\nthi"))
	out := logs.String()
	if !strings.Contains(out, "first line") || !strings.Contains(out, "second line") || strings.Contains(out, "thi\n") {
		t.Errorf("unexpected log output: %q", out)
	}
}

func TestLineWriter_Flush(t *testing.T) {
	t.Parallel()
	var logs bytes.Buffer
	w := &lineWriter{logger: logging.NewStdLoggerAdapter(log.New(&logs, "", 0))}

	w.Write([]byte("no newline at exit"))
	w.Flush()
	w.Flush()
	if got := strings.Count(logs.String(), "no newline at exit"); got != 1 {
		t.Errorf("partial line logged %d times, want 1: %q", got, logs.String())
	}
}

func TestLineWriter_Levels(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		line   string
		prefix string
	}{
		{"plain line", "grid loaded", "[INFO]"},
		{"error line", "ERROR: opacity table missing", "[ERROR]"},
		{"structured error", `{"level":"error","message":"session failed"}`, "[ERROR]"},
		{"fatal line", "Fatal: cannot allocate", "[ERROR]"},
		{"warning line", "Warning: extrapolating below 100 K", "[WARN]"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var logs bytes.Buffer
			w := &lineWriter{logger: logging.NewStdLoggerAdapter(log.New(&logs, "", 0))}
			w.Write([]byte(tt.line + "\n"))
			if out := logs.String(); !strings.HasPrefix(out, tt.prefix) || !strings.Contains(out, tt.line) {
				t.Errorf("logged %q, want prefix %s", out, tt.prefix)
			}
		})
	}
}

func TestLineWriter_QuietWorkerKeepsErrors(t *testing.T) {
	t.Parallel()
	var logs bytes.Buffer
	w := &lineWriter{logger: logging.NewLogger(&logs, "test").WithLevel(zerolog.WarnLevel)}

	w.Write([]byte("reading opacity grid\nerror: line list truncated\n"))
	out := logs.String()
	if strings.Contains(out, "reading opacity grid") {
		t.Errorf("informational engine output should be filtered: %s", out)
	}
	if !strings.Contains(out, "line list truncated") {
		t.Errorf("engine error should survive a warn-level logger: %s", out)
	}
}
