package main

import (
	"context"
	"os"

	"github.com/agbru/atmoworker/internal/app"
	apperrors "github.com/agbru/atmoworker/internal/errors"
)

func main() {
	if app.HasVersionFlag(os.Args[1:]) {
		app.PrintVersion(os.Stdout)
		return
	}

	application, err := app.New(os.Args, os.Stderr)
	if err != nil {
		if app.IsHelpError(err) {
			os.Exit(0)
		}
		app.ReportError(os.Stderr, err)
		os.Exit(apperrors.ExitCode(err))
	}

	os.Exit(application.Run(context.Background()))
}
