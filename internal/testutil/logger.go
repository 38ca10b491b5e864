package testutil

import (
	"bytes"
	"io"
	"sync"

	"github.com/GabrielNunesIT/go-libs/logger"
)

// NewTestLogger creates a logger that discards output, suitable for tests.
func NewTestLogger() logger.ILogger {
	return logger.NewConsoleLogger(io.Discard)
}

// LogBuffer collects log output for assertions. It is safe for use by
// concurrent loggers.
type LogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// String returns everything logged so far.
func (b *LogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// NewCaptureLogger creates a debug level logger writing to the returned
// buffer.
func NewCaptureLogger() (logger.ILogger, *LogBuffer) {
	buf := &LogBuffer{}
	log := logger.NewConsoleLogger(buf)
	log.SetLevel(logger.LevelDebug)
	return log, buf
}
