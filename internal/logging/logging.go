package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// DevMode indicates if development logging is enabled
	DevMode = os.Getenv("DEV_MODE") == "1"
	// Logger is the shared logger instance
	Logger *log.Logger
)

func init() {
	Logger = log.Default()
}

const (
	logFileName  = "momoka.log"
	chatFileName = "chat_history.log"
)

// Setup points the shared logger at a rotating momoka.log under dir. With
// fresh set the previous log is truncated first.
func Setup(dir string, fresh bool) (*lumberjack.Logger, error) {
	w, err := openRotating(dir, logFileName, fresh)
	if err != nil {
		return nil, err
	}
	Logger = log.New(w, "momoka ", log.LstdFlags|log.Lmicroseconds)
	return w, nil
}

func openRotating(dir, name string, fresh bool) (*lumberjack.Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(dir, name)
	if fresh {
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			return nil, fmt.Errorf("truncate %s: %w", name, err)
		}
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28,
	}, nil
}

// DevLog logs only when DEV_MODE=1
func DevLog(format string, args ...interface{}) {
	if DevMode {
		Logger.Printf("[DEV] "+format, args...)
	}
}

// UserLog logs important user-facing information (always visible)
func UserLog(format string, args ...interface{}) {
	Logger.Printf("[USER] "+format, args...)
}

// ErrorLog logs errors (always visible)
func ErrorLog(format string, args ...interface{}) {
	Logger.Printf("[ERROR] "+format, args...)
}

// ChatLog appends conversation turns to chat_history.log. A nil *ChatLog
// discards writes.
type ChatLog struct {
	mu sync.Mutex
	w  *lumberjack.Logger
}

// OpenChatLog opens the transcript log under dir.
func OpenChatLog(dir string, fresh bool) (*ChatLog, error) {
	w, err := openRotating(dir, chatFileName, fresh)
	if err != nil {
		return nil, err
	}
	return &ChatLog{w: w}, nil
}

func (c *ChatLog) Write(role, content string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "[%s] %s:\n%s\n\n", time.Now().Format("2006-01-02 15:04:05"), role, content)
}

func (c *ChatLog) Close() error {
	if c == nil {
		return nil
	}
	return c.w.Close()
}
