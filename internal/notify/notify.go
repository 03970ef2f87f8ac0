// Package notify carries user-facing notifications out of the lower
// layers. Messages shown to the user are in Arabic; the log mirror is
// structured English.
package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mohamedyehyamoubarik5566/basira-app/internal/util"
)

// Notification levels.
const (
	LevelSuccess = "success"
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

const defaultDuration = 3 * time.Second

// maxFeed bounds the retained notification feed.
const maxFeed = 100

type Notification struct {
	Message   string    `json:"message"`
	Level     string    `json:"level"`
	Duration  int64     `json:"duration_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// Manager is the default notifier: it logs every notification and keeps
// a bounded in-memory feed clients can poll.
type Manager struct {
	mu   sync.Mutex
	feed []Notification
	now  func() time.Time
}

func NewManager() *Manager {
	return &Manager{now: time.Now}
}

// Show records a notification. A zero duration gets the default.
func (m *Manager) Show(message, level string, duration time.Duration) {
	if level == "" {
		level = LevelInfo
	}
	if duration <= 0 {
		duration = defaultDuration
	}

	n := Notification{
		Message:   message,
		Level:     level,
		Duration:  duration.Milliseconds(),
		CreatedAt: m.now(),
	}

	m.mu.Lock()
	m.feed = append(m.feed, n)
	if len(m.feed) > maxFeed {
		m.feed = m.feed[len(m.feed)-maxFeed:]
	}
	m.mu.Unlock()

	switch level {
	case LevelError:
		util.Error("User notification", zap.String("level", level), zap.String("message", message))
	case LevelWarning:
		util.Warn("User notification", zap.String("level", level), zap.String("message", message))
	default:
		util.Info("User notification", zap.String("level", level), zap.String("message", message))
	}
}

// Feed returns a copy of the retained notifications, newest last.
func (m *Manager) Feed() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Notification, len(m.feed))
	copy(out, m.feed)
	return out
}

// Drain returns the retained notifications and clears the feed.
func (m *Manager) Drain() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.feed
	m.feed = nil
	return out
}

// SetClock overrides the time source, for tests.
func (m *Manager) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}
