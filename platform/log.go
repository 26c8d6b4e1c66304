package platform

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type LogFormatter struct {
}

func (m *LogFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b *bytes.Buffer
	if entry.Buffer != nil {
		b = entry.Buffer
	} else {
		b = &bytes.Buffer{}
	}

	timestamp := entry.Time.Format("2006-01-02 15:04:05.000")
	newLog := fmt.Sprintf("[%s] [%s] %s\n", timestamp, entry.Level, entry.Message)

	b.WriteString(newLog)
	return b.Bytes(), nil
}

// RingBuffer keeps the most recent log lines for the admin diagnostics
// endpoint. Oldest lines are dropped once capacity is reached.
type RingBuffer struct {
	mu    sync.Mutex
	lines []string
	max   int
}

func NewRingBuffer(max int) *RingBuffer {
	if max <= 0 {
		max = 500
	}
	return &RingBuffer{max: max}
}

func (r *RingBuffer) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook.
func (r *RingBuffer) Fire(entry *logrus.Entry) error {
	line := fmt.Sprintf("%s | %s", entry.Time.UTC().Format(time.RFC3339), entry.Message)
	r.mu.Lock()
	r.lines = append(r.lines, line)
	if len(r.lines) > r.max {
		r.lines = r.lines[len(r.lines)-r.max:]
	}
	r.mu.Unlock()
	return nil
}

// Tail returns the most recent n lines, oldest first.
func (r *RingBuffer) Tail(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n > len(r.lines) {
		n = len(r.lines)
	}
	out := make([]string, n)
	copy(out, r.lines[len(r.lines)-n:])
	return out
}

// InitAppLogger builds the application logger writing to a dated file under
// logPath and to stderr, with the ring buffer attached as a hook.
func InitAppLogger(logPath string, fileName string, ring *RingBuffer) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&LogFormatter{})
	if ring != nil {
		logger.AddHook(ring)
	}

	if err := os.MkdirAll(logPath, os.ModePerm); err != nil {
		logger.SetOutput(os.Stderr)
		logger.Errorf("create log dir: %v", err)
		return logger
	}
	timer := time.Now().Format("2006-01-02")
	filename := fmt.Sprintf("%s/%s-%s.log", logPath, timer, fileName)
	logFile, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
	if err != nil {
		logger.SetOutput(os.Stderr)
		logger.Errorf("open log file: %v", err)
		return logger
	}
	logger.SetOutput(io.MultiWriter(logFile, os.Stderr))
	return logger
}
