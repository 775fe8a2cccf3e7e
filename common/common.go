// Package common holds the process-wide logging setup and build information.
package common

import (
	"log/slog"
	"os"
)

var (
	// PackageName is the name used for metrics namespaces and log service tags.
	PackageName = "chunkstore"

	// Version is set at build time with -ldflags "-X github.com/ruteri/chunkstore/common.Version=..."
	Version = "dev"
)

// LoggingOpts selects the log handler and the attributes added to every record.
type LoggingOpts struct {
	Debug   bool
	JSON    bool
	Service string
	Version string
}

// SetupLogger builds the root logger. JSON output is meant for production,
// text output for local runs.
func SetupLogger(opts *LoggingOpts) (log *slog.Logger) {
	logLevel := slog.LevelInfo
	if opts.Debug {
		logLevel = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	if opts.JSON {
		log = slog.New(slog.NewJSONHandler(os.Stdout, handlerOpts))
	} else {
		log = slog.New(slog.NewTextHandler(os.Stdout, handlerOpts))
	}

	if opts.Service != "" {
		log = log.With("service", opts.Service)
	}

	if opts.Version != "" {
		log = log.With("version", opts.Version)
	}

	return log
}
