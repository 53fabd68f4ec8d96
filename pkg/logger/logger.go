package logger

import (
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel constants
const (
	LogLevelError = "error"
	LogLevelWarn  = "warn"
	LogLevelInfo  = "info"
	LogLevelDebug = "debug"
	LogLevelTrace = "trace"
)

// TraceLevel sits below zap's debug level
const TraceLevel = zapcore.DebugLevel - 1

// LoggingConfig represents the logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	Format     string `yaml:"format" mapstructure:"format"` // console | json
	File       string `yaml:"file" mapstructure:"file"`
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"` // MB
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`   // days
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	Compress   bool   `yaml:"compress" mapstructure:"compress"`
}

// Global logging configuration
var GlobalLogging *LoggingConfig

var (
	globalMu    sync.RWMutex
	global      = zap.NewNop().Sugar()
	startup     = newStartupLogger(zapcore.AddSync(os.Stdout))
	levelSwitch = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Logger wraps a zap sugared logger with the leveled printf API
type Logger struct {
	sugar *zap.SugaredLogger
	zap   *zap.Logger
}

// ParseLevel maps a configured level name to a zap level; unknown names mean info
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case LogLevelError:
		return zapcore.ErrorLevel
	case LogLevelWarn, "warning":
		return zapcore.WarnLevel
	case LogLevelDebug:
		return zapcore.DebugLevel
	case LogLevelTrace:
		return TraceLevel
	default:
		return zapcore.InfoLevel
	}
}

func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l == TraceLevel {
		enc.AppendString("trace")
		return
	}
	zapcore.LowercaseLevelEncoder(l, enc)
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stack",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    encodeLevel,
		EncodeTime:     func(t time.Time, enc zapcore.PrimitiveArrayEncoder) { enc.AppendString(t.Format(time.RFC3339Nano)) },
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

func newEncoder(format string) zapcore.Encoder {
	if strings.ToLower(format) == "json" {
		return zapcore.NewJSONEncoder(encoderConfig())
	}
	return zapcore.NewConsoleEncoder(encoderConfig())
}

func newStartupLogger(ws zapcore.WriteSyncer) *zap.SugaredLogger {
	core := zapcore.NewCore(newEncoder("console"), ws, zap.LevelEnablerFunc(func(zapcore.Level) bool { return true }))
	return zap.New(core).Sugar()
}

// NewLogger builds the zap logger described by config and installs it as
// the global logger used by the LogX helpers
func NewLogger(config *LoggingConfig) *Logger {
	level := ParseLevel(config.Level)

	ws := zapcore.AddSync(os.Stdout)
	if config.File != "" {
		lj := &lumberjack.Logger{
			Filename:   config.File,
			MaxSize:    config.MaxSize,
			MaxAge:     config.MaxAge,
			MaxBackups: config.MaxBackups,
			Compress:   config.Compress,
		}
		ws = zapcore.NewMultiWriteSyncer(ws, zapcore.AddSync(lj))
	}

	levelSwitch.SetLevel(level)
	core := zapcore.NewCore(newEncoder(config.Format), ws, levelSwitch)
	l := install(core, config)

	globalMu.Lock()
	startup = newStartupLogger(ws)
	globalMu.Unlock()
	return l
}

// install makes core the global logging backend
func install(core zapcore.Core, config *LoggingConfig) *Logger {
	z := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	l := &Logger{sugar: z.Sugar(), zap: z}

	globalMu.Lock()
	global = l.sugar
	GlobalLogging = config
	globalMu.Unlock()
	return l
}

func current() *zap.SugaredLogger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}

// Zap exposes the underlying zap logger for structured fields
func (l *Logger) Zap() *zap.Logger {
	return l.zap
}

// Sync flushes buffered output
func (l *Logger) Sync() error {
	return l.zap.Sync()
}

// Error logs error messages
func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf("❌ "+format, args...)
}

// Warn logs warning messages
func (l *Logger) Warn(format string, args ...interface{}) {
	l.sugar.Warnf("⚠️ "+format, args...)
}

// Info logs info messages
func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof("ℹ️ "+format, args...)
}

// Debug logs debug messages
func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf("🔧 "+format, args...)
}

// Trace logs trace messages
func (l *Logger) Trace(format string, args ...interface{}) {
	l.sugar.Logf(TraceLevel, "🔍 "+format, args...)
}

// LogStartup logs startup messages that should always be visible regardless of log level
func LogStartup(format string, args ...interface{}) {
	globalMu.RLock()
	s := startup
	globalMu.RUnlock()
	s.Infof("🔧 "+format, args...)
}

// Helper functions for global logging
func LogError(format string, args ...interface{}) {
	current().Errorf("❌ "+format, args...)
}

func LogWarn(format string, args ...interface{}) {
	current().Warnf("⚠️ "+format, args...)
}

func LogInfo(format string, args ...interface{}) {
	current().Infof("ℹ️ "+format, args...)
}

func LogDebug(format string, args ...interface{}) {
	current().Debugf("🔧 "+format, args...)
}

func LogTrace(format string, args ...interface{}) {
	current().Logf(TraceLevel, "🔍 "+format, args...)
}

// IsDebugEnabled checks if debug logging is enabled
func IsDebugEnabled() bool {
	return current().Desugar().Core().Enabled(zapcore.DebugLevel)
}

// IsTraceEnabled checks if trace logging is enabled
func IsTraceEnabled() bool {
	return current().Desugar().Core().Enabled(TraceLevel)
}

// Sync flushes the global logger
func Sync() {
	_ = current().Sync()
}
