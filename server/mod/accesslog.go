package mod

import (
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/omalloc/waypoint/conf"
	"github.com/omalloc/waypoint/contrib/log"
	"github.com/omalloc/waypoint/core/httpwire"
	"github.com/omalloc/waypoint/metrics"
)

// AccessLogger writes one line per completed transaction. The worker
// pool calls LogTransaction when a Transaction reaches a terminal
// state, the same point the teacher's HandleAccessLog middleware used
// to fire on response completion.
type AccessLogger struct {
	enabled bool
	encrypt bool
	zl      *zap.Logger
}

// NewAccessLogger builds the logger from conf. A nil/disabled opt
// yields a no-op logger so callers never need a nil check.
func NewAccessLogger(opt *conf.ServerAccessLog) *AccessLogger {
	if opt == nil || !opt.Enabled {
		log.Infof("access-log is turned off")
		return &AccessLogger{}
	}

	if opt.Path == "" {
		log.Warnf("access-log `path` is empty, will be written to stdout")
		return &AccessLogger{enabled: true, zl: newAccessLog("")}
	}

	return &AccessLogger{
		enabled: true,
		encrypt: opt.Encrypt.Enabled,
		zl:      newAccessLog(opt.Path),
	}
}

// LogTransaction renders and writes one access-log line. When
// encryption was enabled at construction (opt.Encrypt), no line is
// written at all.
func (a *AccessLogger) LogTransaction(tx *httpwire.Transaction, metric *metrics.RequestMetric) {
	if !a.enabled {
		return
	}
	if a.encrypt {
		// TODO: encrypt the rendered line before it reaches the sink.
		return
	}
	a.zl.Info(string(WithNormalFields(tx, metric)))
}

func newAccessLog(path string) *zap.Logger {
	var sink zapcore.WriteSyncer
	if path == "" {
		sink = zapcore.AddSync(os.Stdout)
	} else {
		_ = os.MkdirAll(filepath.Dir(path), 0o755)
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   path,
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     1,
			LocalTime:  true,
			Compress:   false,
		})
	}

	cfg := zap.NewProductionConfig().EncoderConfig
	cfg.ConsoleSeparator = " "
	cfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {}
	cfg.EncodeLevel = func(_ zapcore.Level, _ zapcore.PrimitiveArrayEncoder) {}

	return zap.New(zapcore.NewCore(
		zapcore.NewConsoleEncoder(cfg),
		sink,
		zapcore.InfoLevel,
	))
}
