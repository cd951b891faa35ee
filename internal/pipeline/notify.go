package pipeline

import (
	"sync"
	"time"
)

// Level is a notification severity.
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

const defaultNotificationCapacity = 100

// Notification is a user-visible message about a walk.
type Notification struct {
	Seq       int64     `json:"seq"`
	Time      time.Time `json:"time"`
	ProjectID string    `json:"project_id"`
	Book      string    `json:"book"`
	Chapter   int       `json:"chapter,omitempty"`
	Verse     int       `json:"verse,omitempty"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
}

// NotificationLog keeps the most recent notifications per project.
type NotificationLog struct {
	mu       sync.Mutex
	capacity int
	seq      int64
	byProj   map[string][]Notification
}

// NewNotificationLog creates a log holding up to capacity entries per project.
func NewNotificationLog(capacity int) *NotificationLog {
	if capacity <= 0 {
		capacity = defaultNotificationCapacity
	}
	return &NotificationLog{capacity: capacity, byProj: make(map[string][]Notification)}
}

// Add appends n, dropping the oldest entry once the project is at capacity.
func (l *NotificationLog) Add(n Notification) Notification {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	n.Seq = l.seq
	if n.Time.IsZero() {
		n.Time = time.Now().UTC()
	}
	entries := append(l.byProj[n.ProjectID], n)
	if len(entries) > l.capacity {
		entries = entries[len(entries)-l.capacity:]
	}
	l.byProj[n.ProjectID] = entries
	return n
}

// List returns a project's notifications with Seq greater than since,
// oldest first.
func (l *NotificationLog) List(projectID string, since int64) []Notification {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []Notification{}
	for _, n := range l.byProj[projectID] {
		if n.Seq > since {
			out = append(out, n)
		}
	}
	return out
}

// Forget drops a project's notifications.
func (l *NotificationLog) Forget(projectID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.byProj, projectID)
}
