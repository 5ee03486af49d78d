package pkg

import (
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogLevel int

const (
	LogLevelNone LogLevel = iota
	LogLevelErrOnly
	LogLevelDebug
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelNone:
		return "none"
	case LogLevelErrOnly:
		return "error"
	case LogLevelDebug:
		return "debug"
	}
	return "unknown"
}

// ParseLogLevel maps the names accepted on the command line to a LogLevel.
func ParseLogLevel(s string) (LogLevel, bool) {
	switch s {
	case "none", "off":
		return LogLevelNone, true
	case "error", "err":
		return LogLevelErrOnly, true
	case "debug", "all":
		return LogLevelDebug, true
	}
	return LogLevelErrOnly, false
}

var (
	log_mu    sync.RWMutex
	log_level = LogLevelErrOnly
	atom      = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	base      = newLogger()
	sugar     = base.Sugar()
)

func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006/01/02 15:04:05"))
}

func newLogger() *zap.Logger {
	cfg := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     timeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	// errors go to stderr, everything else to stdout
	high := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return atom.Enabled(l) && l >= zapcore.ErrorLevel
	})
	low := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return atom.Enabled(l) && l < zapcore.ErrorLevel
	})

	enc := zapcore.NewConsoleEncoder(cfg)
	core := zapcore.NewTee(
		zapcore.NewCore(enc, zapcore.Lock(os.Stderr), high),
		zapcore.NewCore(enc, zapcore.Lock(os.Stdout), low),
	)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
}

func SetLogLevel(level LogLevel) {
	log_mu.Lock()
	defer log_mu.Unlock()
	log_level = level

	switch level {
	case LogLevelNone:
		// above fatal, nothing gets through
		atom.SetLevel(zapcore.FatalLevel + 1)
	case LogLevelErrOnly:
		atom.SetLevel(zapcore.ErrorLevel)
	case LogLevelDebug:
		atom.SetLevel(zapcore.DebugLevel)
	}
	sugar.Infoln("log level set to", level)
}

func GetLogLevel() LogLevel {
	log_mu.RLock()
	defer log_mu.RUnlock()
	return log_level
}

// Logger returns the structured logger behind the leveled helpers.
func Logger() *zap.Logger { return base }

func InfoLog(args ...any)  { sugar.Infoln(args...) }
func ErrorLog(args ...any) { sugar.Errorln(args...) }
func FatalLog(args ...any) { sugar.Fatalln(args...) }
func WarnLog(args ...any)  { sugar.Warnln(args...) }
func DebugLog(args ...any) { sugar.Debugln(args...) }
