// Package utils holds small helpers shared by the client and the server.
package utils

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"
)

// LogInterceptor prefixes every complete line written to it with a sequence
// number and a timestamp. An unterminated tail is held until Close.
type LogInterceptor struct {
	mu      sync.Mutex
	target  io.Writer
	seq     uint64
	partial []byte
	now     func() time.Time
}

func NewLogInterceptor(target io.Writer) *LogInterceptor {
	return &LogInterceptor{target: target, now: time.Now}
}

// Write reports len(p) on success so callers never see a short write.
func (i *LogInterceptor) Write(p []byte) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	buf := append(i.partial, p...)
	for {
		idx := bytes.IndexByte(buf, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimSuffix(buf[:idx], []byte{'\r'})
		if err := i.writeLine(line); err != nil {
			return 0, err
		}
		buf = buf[idx+1:]
	}
	i.partial = append(i.partial[:0], buf...)
	return len(p), nil
}

func (i *LogInterceptor) writeLine(line []byte) error {
	i.seq++
	_, err := fmt.Fprintf(i.target, "line=%d time=%s %s\n", i.seq, i.now().Format(time.RFC3339), line)
	return err
}

// Close flushes the unterminated tail, if any.
func (i *LogInterceptor) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if len(i.partial) == 0 {
		return nil
	}
	err := i.writeLine(i.partial)
	i.partial = nil
	return err
}
