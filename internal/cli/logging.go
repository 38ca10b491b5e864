package cli

import (
	"io"
	"strings"

	"github.com/GabrielNunesIT/go-libs/logger"
)

// SetupLogging creates a console logger writing to w at the given level and
// installs it as the default logger. Unknown levels fall back to info.
func SetupLogging(level string, w io.Writer) logger.ILogger {
	log := logger.NewConsoleLogger(w)

	known := true
	switch strings.ToLower(level) {
	case "trace":
		log.SetLevel(logger.LevelTrace)
	case "debug":
		log.SetLevel(logger.LevelDebug)
	case "", "info":
		log.SetLevel(logger.LevelInfo)
	case "warn", "warning":
		log.SetLevel(logger.LevelWarning)
	case "error":
		log.SetLevel(logger.LevelError)
	default:
		log.SetLevel(logger.LevelInfo)
		known = false
	}

	logger.SetDefaultLogger(log)
	logger.SetCtxFallbackLogger(log)

	if !known {
		log.Warningf("unknown log level %q, using info", level)
	}
	return log
}
