// Package logging provides the Logger interface used by all components.
// The global log level can be overridden on a per-package basis, which is
// useful when debugging a single component of a node.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mut           sync.RWMutex
	globalLevel   = zap.InfoLevel
	packageLevels = make(map[string]zapcore.Level)
)

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zap.DebugLevel
	case "info":
		return zap.InfoLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	case "panic":
		return zap.PanicLevel
	case "fatal":
		return zap.FatalLevel
	default:
		panic("invalid log level '" + level + "'")
	}
}

// SetLogLevel sets the global log level.
func SetLogLevel(level string) {
	l := parseLevel(level)
	mut.Lock()
	globalLevel = l
	mut.Unlock()
}

// SetPackageLogLevel sets the log level for loggers named after the given
// package, overriding the global level.
func SetPackageLogLevel(packageName, level string) {
	l := parseLevel(level)
	mut.Lock()
	packageLevels[packageName] = l
	mut.Unlock()
}

func levelFor(name string) zapcore.Level {
	mut.RLock()
	defer mut.RUnlock()
	if l, ok := packageLevels[name]; ok {
		return l
	}
	return globalLevel
}

// Logger is the logging interface used throughout the node.
// It matches a subset of zap.SugaredLogger.
type Logger interface {
	Debug(args ...any)
	Debugf(template string, args ...any)
	Info(args ...any)
	Infof(template string, args ...any)
	Warn(args ...any)
	Warnf(template string, args ...any)
	Error(args ...any)
	Errorf(template string, args ...any)
	Panicf(template string, args ...any)
	Fatalf(template string, args ...any)
}

// New returns a named logger writing to stderr. The level is resolved from
// the per-package overrides and the global level at creation time, so
// SetLogLevel should be called before any component is constructed.
func New(name string) Logger {
	return NewWithDest(os.Stderr, name)
}

// NewWithDest returns a named logger writing to the given destination.
func NewWithDest(dest io.Writer, name string) Logger {
	var encoder zapcore.Encoder
	if strings.ToLower(os.Getenv("HETPAXOS_LOG_TYPE")) == "json" {
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	} else {
		cfg := zap.NewDevelopmentEncoderConfig()
		if f, ok := dest.(interface{ Fd() uintptr }); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
			cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		encoder = zapcore.NewConsoleEncoder(cfg)
	}
	core := zapcore.NewCore(encoder, zapcore.AddSync(dest), levelFor(name))
	return zap.New(core).Sugar().Named(name)
}
