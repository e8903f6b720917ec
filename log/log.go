// Package log - structured logging shared by the detectors and the CLI.
package log

import (
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"strings"
	"sync"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"
)

var (
	logger *logrus.Logger
	once   sync.Once
)

// Fields is an alias for logrus fields.
type Fields = logrus.Fields

// DebugLevel is the level of per-call diagnostics.
const DebugLevel = logrus.DebugLevel

// NewLogger returns the process-wide logger, creating it on first use.
//
// The level defaults to Info and can be overridden with DETECT_LOG_LEVEL.
func NewLogger() *logrus.Logger {
	once.Do(func() {
		logger = logrus.New()
		logger.SetLevel(logrus.InfoLevel)
		if lvl, err := logrus.ParseLevel(os.Getenv("DETECT_LOG_LEVEL")); err == nil {
			logger.SetLevel(lvl)
		}

		logger.SetFormatter(&formatter.Formatter{
			NoColors:        true,
			TimestampFormat: "02 Jan 06 - 15:04:05",
			HideKeys:        false,
			CallerFirst:     true,
			CustomCallerFormatter: func(f *runtime.Frame) string {
				s := strings.Split(f.Function, ".")
				funcName := s[len(s)-1]
				return fmt.Sprintf(" [%s:%d][%s()]", path.Base(f.File), f.Line, funcName)
			},
		})
		logger.SetOutput(os.Stderr)
		logger.SetReportCaller(true)
	})

	return logger
}

// SetOutput replaces the logger output, e.g. to tee into a rotating file.
func SetOutput(writers ...io.Writer) {
	NewLogger().SetOutput(io.MultiWriter(writers...))
}

// SetLevel changes the logger level.
func SetLevel(level logrus.Level) {
	NewLogger().SetLevel(level)
}

// Enabled reports whether entries at level would be written. Callers use it
// to skip building fields that would be discarded.
func Enabled(level logrus.Level) bool {
	return NewLogger().IsLevelEnabled(level)
}

func Debug(fields Fields, msg string) {
	NewLogger().WithFields(fields).Debug(msg)
}

func Info(fields Fields, msg string) {
	NewLogger().WithFields(fields).Info(msg)
}

func Warn(fields Fields, msg string) {
	NewLogger().WithFields(fields).Warn(msg)
}

func Error(fields Fields, msg string) {
	NewLogger().WithFields(fields).Error(msg)
}

// WithTrace returns an entry tagged with a trace id.
func WithTrace(traceID string) *logrus.Entry {
	return NewLogger().WithField("trace_id", traceID)
}
