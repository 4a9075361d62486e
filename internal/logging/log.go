// Package logging provides the process-wide structured logger used by
// every RobustMQ component. It mirrors the teacher's pkg/util/log package:
// one go-kit logger built at startup, leveled via go-kit/log/level, and
// passed down explicitly rather than reached for as a global.
package logging

import (
	"os"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// New builds a logfmt logger at the given minimum level ("debug", "info",
// "warn", "error"). Unknown levels fall back to "info".
func New(component string, lvl string) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.TimestampFormat(time.Now, time.RFC3339Nano), "component", component)

	filter := level.AllowInfo()
	switch lvl {
	case "debug":
		filter = level.AllowDebug()
	case "warn":
		filter = level.AllowWarn()
	case "error":
		filter = level.AllowError()
	}
	return level.NewFilter(logger, filter)
}

// Debug, Info, Warn and Error are thin convenience wrappers so call sites
// read as `logging.Info(logger, "msg", "...", "k", v)` the way the teacher
// writes `level.Info(logger).Log(...)`.
func Debug(logger log.Logger, keyvals ...interface{}) error {
	return level.Debug(logger).Log(keyvals...)
}

func Info(logger log.Logger, keyvals ...interface{}) error {
	return level.Info(logger).Log(keyvals...)
}

func Warn(logger log.Logger, keyvals ...interface{}) error {
	return level.Warn(logger).Log(keyvals...)
}

func Error(logger log.Logger, keyvals ...interface{}) error {
	return level.Error(logger).Log(keyvals...)
}
