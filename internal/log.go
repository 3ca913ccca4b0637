package internal

import (
	"context"
	"os"

	charm "github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5/middleware"
)

var _logHandler = charm.NewWithOptions(os.Stderr, charm.Options{
	ReportCaller:    false,
	ReportTimestamp: true,
})

// Log returns a logger enriched with the request ID found in ctx, if any.
// Exported for use by package main.
func Log(ctx context.Context) *charm.Logger {
	return log(ctx)
}

// log is the unexported convenience form used throughout this package.
func log(ctx context.Context) *charm.Logger {
	if id, ok := ctx.Value(middleware.RequestIDKey).(string); ok && id != "" {
		return _logHandler.With("request_id", id)
	}
	return _logHandler
}

// SetVerbose raises the log level to debug, called from the CLI's
// --verbose flag.
func SetVerbose() {
	_logHandler.SetLevel(charm.DebugLevel)
}
