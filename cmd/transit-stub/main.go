// Command transit-stub is a stand-in radiative-transfer engine. It speaks
// the engine side of the worker protocol on stdin/stdout and returns flat
// synthetic spectra.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/agbru/atmoworker/internal/enginestub"
	apperrors "github.com/agbru/atmoworker/internal/errors"
	"github.com/agbru/atmoworker/internal/logging"
	"github.com/agbru/atmoworker/internal/peer"
)

func main() {
	fs := flag.NewFlagSet("transit-stub", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "transfer configuration file")
	quiet := fs.Bool("quiet", false, "log warnings only")
	fs.Int("verb", 1, "verbosity level (accepted for compatibility)")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(apperrors.ExitErrorConfig)
	}

	level := zerolog.InfoLevel
	if *quiet {
		level = zerolog.WarnLevel
	}
	logger := logging.NewLogger(os.Stderr, "transit-stub").WithLevel(level)

	os.Exit(run(*cfgPath, logger))
}

func run(cfgPath string, logger logging.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfgPath == "" {
		err := apperrors.NewConfigError("--config is required")
		fmt.Fprintln(os.Stderr, err)
		return apperrors.ExitCode(err)
	}
	cfg, err := enginestub.ReadConfig(cfgPath)
	if err != nil {
		logger.Error("cannot read configuration", err)
		return apperrors.ExitCode(err)
	}
	engine, err := enginestub.New(cfg, logger)
	if err != nil {
		logger.Error("cannot load atmosphere", err)
		return apperrors.ExitCode(err)
	}

	ch, err := peer.ParentConn(ctx)
	if err != nil {
		logger.Error("cannot reach worker", err)
		return apperrors.ExitCode(err)
	}
	if err := engine.Serve(ctx, ch); err != nil {
		logger.Error("session failed", err, logging.Int("served", engine.Served()))
		return apperrors.ExitCode(err)
	}
	logger.Info("session complete", logging.Int("served", engine.Served()))
	return apperrors.ExitSuccess
}
