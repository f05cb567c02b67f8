// Package logger builds the process-wide logr.Logger, backed by zerolog. Reconstructed
// from pkg/client/client.go's logger.NewZeroLogr().WithName(...) call sites — the
// retrieval pack's copy of the teacher omitted internal/logger itself.
package logger

import (
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/rs/zerolog"
)

func init() {
	zerologr.SetMaxV(1)
}

// NewZeroLogr returns a logr.Logger backed by a zerolog.Logger writing to stderr, with
// RFC3339 timestamps and (outside debug mode) JSON output suitable for log aggregation.
func NewZeroLogr() logr.Logger {
	zl := zerolog.New(os.Stderr).With().Timestamp().Logger()
	return zerologr.New(&zl)
}

// NewDebugZeroLogr returns a logr.Logger backed by zerolog's human-readable console
// writer, used when DebugMode is set.
func NewDebugZeroLogr() logr.Logger {
	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	return zerologr.New(&zl)
}
