package sandbox

import (
	"bytes"
	"sync"

	"go.uber.org/zap"
)

// processLogger forwards the sandbox's stderr line by line.
type processLogger struct {
	logger *zap.SugaredLogger
	mu     sync.Mutex
	buf    bytes.Buffer
}

func (l *processLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.Write(p)
	for {
		line, err := l.buf.ReadString('\n')
		if err != nil {
			// keep the partial line for the next write
			l.buf.Reset()
			l.buf.WriteString(line)
			break
		}
		if line = line[:len(line)-1]; line != "" {
			l.logger.Debugw("sandbox: " + line)
		}
	}
	return len(p), nil
}
