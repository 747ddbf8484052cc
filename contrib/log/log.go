// Package log is the proxy's structured logging layer: a small
// Logger/Helper interface pair in the shape the teacher repo's own
// contrib/log exposes, backed by zap and rotated through lumberjack
// (spec ambient stack — logging).
package log

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/omalloc/waypoint/conf"
)

// Level mirrors the handful of severities callers actually branch on.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelFatal:
		return "fatal"
	default:
		return "info"
	}
}

// Logger is the narrow sink every Helper writes through. keyvals is an
// alternating key/value list, same convention as kratos's log.Logger.
type Logger interface {
	Log(level Level, keyvals ...any) error
}

type zapLogger struct {
	z *zap.SugaredLogger
}

func (l *zapLogger) Log(level Level, keyvals ...any) error {
	msg := fmt.Sprint(keyvals...)
	switch level {
	case LevelDebug:
		l.z.Debug(msg)
	case LevelWarn:
		l.z.Warn(msg)
	case LevelError, LevelFatal:
		l.z.Error(msg)
	default:
		l.z.Info(msg)
	}
	return nil
}

var defaultLogger Logger = &zapLogger{z: zap.NewNop().Sugar()}

// DefaultLogger is the process-wide sink, swappable via SetLogger; it
// satisfies Logger so callers can pass it directly (log.DefaultLogger).
var DefaultLogger Logger = defaultLogger

// GetLogger returns the current default sink.
func GetLogger() Logger { return defaultLogger }

// SetLogger replaces the default sink.
func SetLogger(l Logger) {
	defaultLogger = l
	DefaultLogger = l
	defaultHelper = NewHelper(l)
}

// Init builds the default zap-backed sink from conf.Logger, rotated
// through lumberjack the way the teacher rotates its own log files. A
// nil cfg falls back to a development console logger.
func Init(cfg *conf.Logger) {
	if cfg == nil {
		zl, _ := zap.NewDevelopment()
		SetLogger(&zapLogger{z: zl.Sugar()})
		return
	}

	level := zapcore.InfoLevel
	_ = level.UnmarshalText([]byte(cfg.Level))

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.NoPid {
		encCfg.CallerKey = ""
	}

	var sink zapcore.WriteSyncer
	if cfg.Path == "" {
		sink = zapcore.AddSync(os.Stdout)
	} else {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSize,
			MaxAge:     cfg.MaxAge,
			MaxBackups: cfg.MaxBackups,
			Compress:   cfg.Compress,
			LocalTime:  true,
		})
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), sink, level)

	opts := []zap.Option{zap.AddCallerSkip(2)}
	if cfg.Caller {
		opts = append(opts, zap.AddCaller())
	}

	SetLogger(&zapLogger{z: zap.New(core, opts...).Sugar()})
}

// Sync flushes any buffered log entries; called once at shutdown.
func Sync() {
	if zl, ok := defaultLogger.(*zapLogger); ok {
		_ = zl.z.Sync()
	}
}

// enabledLevel gates Enabled; defaults to LevelDebug (every level
// enabled) until NewFilter sets it to the filter's floor.
var enabledLevel = LevelDebug

// Enabled reports whether level would actually be emitted, letting
// callers skip building an expensive log line ahead of time.
func Enabled(level Level) bool { return level >= enabledLevel }

type filterOptions struct {
	level Level
}

// FilterOption configures NewFilter.
type FilterOption func(*filterOptions)

// FilterLevel sets the minimum level a filtered Logger passes through.
func FilterLevel(level Level) FilterOption {
	return func(o *filterOptions) { o.level = level }
}

type filteredLogger struct {
	next Logger
	opts filterOptions
}

func (f *filteredLogger) Log(level Level, keyvals ...any) error {
	if level < f.opts.level {
		return nil
	}
	return f.next.Log(level, keyvals...)
}

// NewFilter wraps logger so only level >= the configured floor passes
// through, and updates the package's Enabled floor to match.
func NewFilter(logger Logger, opts ...FilterOption) Logger {
	fo := filterOptions{level: LevelInfo}
	for _, opt := range opts {
		opt(&fo)
	}
	enabledLevel = fo.level
	return &filteredLogger{next: logger, opts: fo}
}

// Helper is the formatted-logging facade every call site actually uses.
type Helper struct {
	logger Logger
}

// NewHelper wraps logger in the Infof/Warnf/Errorf/Debugf surface.
func NewHelper(logger Logger) *Helper {
	return &Helper{logger: logger}
}

func (h *Helper) Debug(a ...any)                  { _ = h.logger.Log(LevelDebug, a...) }
func (h *Helper) Debugf(format string, a ...any)  { _ = h.logger.Log(LevelDebug, fmt.Sprintf(format, a...)) }
func (h *Helper) Infof(format string, a ...any)   { _ = h.logger.Log(LevelInfo, fmt.Sprintf(format, a...)) }
func (h *Helper) Warnf(format string, a ...any)   { _ = h.logger.Log(LevelWarn, fmt.Sprintf(format, a...)) }
func (h *Helper) Errorf(format string, a ...any)  { _ = h.logger.Log(LevelError, fmt.Sprintf(format, a...)) }

var defaultHelper = NewHelper(defaultLogger)

func Debug(a ...any)                 { defaultHelper.Debug(a...) }
func Debugf(format string, a ...any) { defaultHelper.Debugf(format, a...) }
func Infof(format string, a ...any)  { defaultHelper.Infof(format, a...) }
func Warnf(format string, a ...any)  { defaultHelper.Warnf(format, a...) }
func Errorf(format string, a ...any) { defaultHelper.Errorf(format, a...) }

type ctxKey struct{}

// WithContext attaches a Helper carrying extra fields (request id,
// client ip, ...) so Context(ctx) later returns a scoped logger.
func WithContext(ctx context.Context, keyvals ...any) context.Context {
	prefixed := &prefixLogger{next: defaultLogger, prefix: fmt.Sprint(keyvals...)}
	return context.WithValue(ctx, ctxKey{}, NewHelper(prefixed))
}

// Context returns the Helper attached by WithContext, or one bound to
// the default logger if none was attached.
func Context(ctx context.Context) *Helper {
	if h, ok := ctx.Value(ctxKey{}).(*Helper); ok {
		return h
	}
	return defaultHelper
}

type prefixLogger struct {
	next   Logger
	prefix string
}

func (p *prefixLogger) Log(level Level, keyvals ...any) error {
	return p.next.Log(level, append([]any{p.prefix, " "}, keyvals...)...)
}
