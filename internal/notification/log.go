package notification

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const defaultMaxLogBytes = 1 << 20

// logChannel appends one line per notification:
//
//	2026-10-15T10:30:00Z [SYNC_DROPPED] Title: Message
type logChannel struct {
	path     string
	maxBytes int64

	mu   sync.Mutex
	file *os.File
}

func newLogChannel(path string, maxBytes int64) *logChannel {
	if maxBytes <= 0 {
		maxBytes = defaultMaxLogBytes
	}
	return &logChannel{path: path, maxBytes: maxBytes}
}

func (c *logChannel) Send(n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.open(); err != nil {
		return err
	}
	line := fmt.Sprintf("%s [%s] %s: %s\n",
		n.Timestamp.UTC().Format("2006-01-02T15:04:05Z"),
		strings.ToUpper(string(n.Type)), n.Title, oneLine(n.Message))
	if _, err := c.file.WriteString(line); err != nil {
		return fmt.Errorf("writing notification log: %w", err)
	}
	return nil
}

func (c *logChannel) open() error {
	if c.file != nil {
		if info, err := c.file.Stat(); err == nil && info.Size() < c.maxBytes {
			return nil
		}
		_ = c.file.Close()
		c.file = nil
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("creating notification log directory: %w", err)
	}
	if info, err := os.Stat(c.path); err == nil && info.Size() >= c.maxBytes {
		if err := os.Rename(c.path, c.path+".old"); err != nil {
			return fmt.Errorf("rotating notification log: %w", err)
		}
	}
	f, err := os.OpenFile(c.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening notification log: %w", err)
	}
	c.file = f
	return nil
}

func (c *logChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ReadLog returns the log lines, oldest first. A missing log is empty.
func ReadLog(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

// ClearLog truncates the log. A missing log is not an error.
func ClearLog(path string) error {
	err := os.Truncate(path, 0)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
