package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/agbru/atmoworker/internal/config"
	apperrors "github.com/agbru/atmoworker/internal/errors"
	"github.com/agbru/atmoworker/internal/logging"
	"github.com/agbru/atmoworker/internal/metrics"
	"github.com/agbru/atmoworker/internal/orchestration"
	"github.com/agbru/atmoworker/internal/peer"
)

// DriverConnector opens the channel to the fitting driver.
type DriverConnector func(ctx context.Context, cfg config.AppConfig) (peer.Channel, error)

// Application represents the atmoworker application instance.
type Application struct {
	Config    config.AppConfig
	ErrWriter io.Writer
	Spawner   peer.Spawner
	Connect   DriverConnector
}

// AppOption configures an Application during construction.
type AppOption func(*Application)

// WithSpawner sets how the transfer engine is launched.
func WithSpawner(s peer.Spawner) AppOption {
	return func(a *Application) { a.Spawner = s }
}

// WithDriver sets how the driver channel is opened.
func WithDriver(c DriverConnector) AppOption {
	return func(a *Application) { a.Connect = c }
}

// New creates a new Application instance by parsing and validating
// command-line arguments.
func New(args []string, errWriter io.Writer, opts ...AppOption) (*Application, error) {
	app := &Application{ErrWriter: errWriter, Connect: ConnectDriver}
	for _, opt := range opts {
		opt(app)
	}

	programName := "atmoworker"
	var cmdArgs []string
	if len(args) > 0 {
		programName = args[0]
		cmdArgs = args[1:]
	}

	cfg, err := config.ParseConfig(programName, cmdArgs, errWriter)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	app.Config = cfg
	return app, nil
}

// Run executes one worker session and returns the process exit code.
// Nothing is written to stdout, which may carry the driver channel.
func (a *Application) Run(ctx context.Context) int {
	ctx, stopSignals := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	logger := NewLogger(a.Config, a.ErrWriter)
	recorder := metrics.New()

	if a.Config.MetricsAddr != "" {
		metricsCtx, stopMetrics := context.WithCancel(ctx)
		defer stopMetrics()
		addr, _, err := metrics.Serve(metricsCtx, a.Config.MetricsAddr, recorder)
		if err != nil {
			err = apperrors.NewConfigError("metrics listener %s: %v", a.Config.MetricsAddr, err)
			logger.Error("cannot serve metrics", err)
			return apperrors.ExitCode(err)
		}
		logger.Info("serving metrics", logging.String("addr", addr.String()))
	}

	spawner := a.Spawner
	if spawner == nil {
		spawner = peer.ProcessSpawner{Logger: logger}
	}

	driver, err := a.Connect(ctx, a.Config)
	if err != nil {
		logger.Error("cannot reach driver", err, logging.String("driver", a.Config.Driver))
		return apperrors.ExitCode(err)
	}

	orch := orchestration.New(a.Config, driver, spawner,
		orchestration.WithLogger(logger),
		orchestration.WithMetrics(recorder))
	if _, err := orch.Run(ctx); err != nil {
		logger.Error("run failed", err, logging.String("state", orch.State().String()))
		return apperrors.ExitCode(err)
	}
	return apperrors.ExitSuccess
}

// ConnectDriver joins the driver named by cfg.Driver: the process's own
// stdin/stdout, or a WebSocket URL.
func ConnectDriver(ctx context.Context, cfg config.AppConfig) (peer.Channel, error) {
	if strings.HasPrefix(cfg.Driver, "ws://") || strings.HasPrefix(cfg.Driver, "wss://") {
		return peer.DialWebSocket(ctx, cfg.Driver)
	}
	return peer.ParentConn(ctx)
}

// NewLogger builds the logger selected by the log format, writing to w.
// Verbose lowers the level to debug; quiet raises it to warn.
func NewLogger(cfg config.AppConfig, w io.Writer) logging.Logger {
	level := zerolog.InfoLevel
	switch {
	case cfg.Verbose:
		level = zerolog.DebugLevel
	case cfg.Quiet:
		level = zerolog.WarnLevel
	}

	switch cfg.LogFormat {
	case config.LogFormatConsole:
		return logging.NewConsoleLogger(w, "worker").WithLevel(level)
	case config.LogFormatPlain:
		l := logging.NewStdLoggerAdapter(log.New(w, "atmoworker ", log.LstdFlags))
		l.SetDebug(cfg.Verbose)
		if cfg.Quiet {
			return quietLogger{l}
		}
		return l
	default:
		return logging.NewLogger(w, "worker").WithLevel(level)
	}
}

// quietLogger drops Info and Debug output of a plain logger.
type quietLogger struct {
	logging.Logger
}

func (quietLogger) Info(string, ...logging.Field)  {}
func (quietLogger) Debug(string, ...logging.Field) {}

// IsHelpError checks if the error is a help flag error (--help was used).
func IsHelpError(err error) bool {
	return errors.Is(err, flag.ErrHelp)
}

// ReportError prints a startup error to w.
func ReportError(w io.Writer, err error) {
	fmt.Fprintf(w, "atmoworker: %v\n", err)
}
