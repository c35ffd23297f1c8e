package log

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelError Level = "ERROR"
)

// Options controls how the global logger is built.
type Options struct {
	Level Level
	// Production switches to JSON output with sampling; otherwise a
	// colored console encoder is used.
	Production bool
}

var (
	mu      sync.RWMutex
	sugared *zap.SugaredLogger
	atom    = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	once    sync.Once
)

// initLogger lazily installs a development logger so that packages can log
// before main has called Init (tests, mostly).
func initLogger() {
	once.Do(func() {
		mu.Lock()
		defer mu.Unlock()
		if sugared == nil {
			sugared = build(Options{Level: LevelInfo})
		}
	})
}

// Init replaces the global logger.
func Init(opts Options) {
	once.Do(func() {})
	l := build(opts)
	mu.Lock()
	old := sugared
	sugared = l
	mu.Unlock()
	if old != nil {
		_ = old.Sync()
	}
}

func build(opts Options) *zap.SugaredLogger {
	atom.SetLevel(toZap(opts.Level))

	var conf zap.Config
	if opts.Production {
		conf = zap.NewProductionConfig()
	} else {
		conf = zap.NewDevelopmentConfig()
		conf.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		conf.DisableStacktrace = true
	}
	conf.Level = atom

	logger, err := conf.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Config is static; a build failure leaves us with a no-op logger.
		return zap.NewNop().Sugar()
	}
	return logger.Sugar()
}

// ParseLevel maps a case-insensitive level name to a Level. Unknown names
// fall back to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func SetLevel(l Level) {
	initLogger()
	atom.SetLevel(toZap(l))
}

func Debug(msg string, kv ...any) {
	current().Debugw(msg, kv...)
}

func Info(msg string, kv ...any) {
	current().Infow(msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	current().Errorw(msg, extended...)
}

// Sync flushes buffered entries. Call before exit.
func Sync() {
	_ = current().Sync()
}

func current() *zap.SugaredLogger {
	initLogger()
	mu.RLock()
	defer mu.RUnlock()
	return sugared
}

func toZap(l Level) zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
