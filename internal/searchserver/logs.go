package searchserver

import (
	"bytes"
	"sync"

	"github.com/go-kit/log"
)

// logBuffer keeps everything an instance and its node logged, the way a
// container runtime keeps a container's output.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// tee sends every record to both loggers.
func tee(a, b log.Logger) log.Logger {
	return log.LoggerFunc(func(keyvals ...interface{}) error {
		errA := a.Log(keyvals...)
		errB := b.Log(keyvals...)
		if errA != nil {
			return errA
		}
		return errB
	})
}
