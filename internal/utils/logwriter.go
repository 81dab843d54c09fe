package utils

import (
	"bytes"
	"sync"

	"github.com/rs/zerolog"
)

// LogWriterCtx logs every complete line written to it as a warning. A
// trailing partial line is held back until its newline arrives.
type LogWriterCtx struct {
	logger zerolog.Logger

	mu      sync.Mutex
	pending []byte
}

func LogWriter(l zerolog.Logger) *LogWriterCtx {
	return &LogWriterCtx{
		logger: l,
	}
}

func (l *LogWriterCtx) Write(p []byte) (n int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pending = append(l.pending, p...)
	for {
		i := bytes.IndexByte(l.pending, '\n')
		if i < 0 {
			break
		}

		l.emit(l.pending[:i])
		l.pending = l.pending[i+1:]
	}

	return len(p), nil
}

// Flush logs the held back partial line, if any.
func (l *LogWriterCtx) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.emit(l.pending)
	l.pending = nil
}

func (l *LogWriterCtx) emit(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	l.logger.Warn().Msg(string(line))
}
