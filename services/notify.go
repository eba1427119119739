package services

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lborres/kapitbahay/core"
)

const defaultNotificationLimit = 20

// NotificationQueue buffers the toasts of one client until the client
// polls for them. When full, the oldest toast is dropped.
type NotificationQueue struct {
	mu    sync.Mutex
	items []core.Notification
	limit int
	log   zerolog.Logger
	now   func() time.Time
}

var _ core.Notifier = (*NotificationQueue)(nil)

func NewNotificationQueue(limit int, log zerolog.Logger) *NotificationQueue {
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	return &NotificationQueue{limit: limit, log: log, now: time.Now}
}

func (q *NotificationQueue) Notify(n core.Notification) {
	if n.At.IsZero() {
		n.At = q.now()
	}

	var ev *zerolog.Event
	switch n.Level {
	case core.LevelError:
		ev = q.log.Error()
	case core.LevelWarning:
		ev = q.log.Warn()
	default:
		ev = q.log.Info()
	}
	ev.Str("toast", string(n.Level)).Str("title", n.Title).Msg("notification")

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.limit {
		q.items = q.items[1:]
	}
	q.items = append(q.items, n)
}

// Drain returns and removes every queued toast, oldest first
func (q *NotificationQueue) Drain() []core.Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	if items == nil {
		return []core.Notification{}
	}
	return items
}

func (q *NotificationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
