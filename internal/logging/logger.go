// Package logging builds the logr.Logger handed to the pack pipeline.
package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-logr/logr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	crzap "sigs.k8s.io/controller-runtime/pkg/log/zap"
)

// New returns a zap-backed logger writing to w at the given level. debug
// switches to development encoding and enables V(1) decision logs.
func New(level string, w io.Writer) (logr.Logger, error) {
	lower := strings.ToLower(strings.TrimSpace(level))
	opts := crzap.Options{}
	var zapLevel zapcore.Level
	switch lower {
	case "debug":
		opts.Development = true
		zapLevel = zapcore.DebugLevel
	case "info", "":
		zapLevel = zapcore.InfoLevel
	case "warn", "warning":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		return logr.Logger{}, fmt.Errorf("unknown log level %q (expected debug, info, warn, or error)", level)
	}
	atomic := zap.NewAtomicLevelAt(zapLevel)
	opts.Level = &atomic
	if w != nil {
		opts.DestWriter = w
	}
	return crzap.New(crzap.UseFlagOptions(&opts)), nil
}
