package helpers

import (
	"fmt"
	"io"
	"sync"

	log "github.com/sirupsen/logrus"
)

type NotificationLevel string

const (
	NOTIFY_SUCCESS NotificationLevel = "success"
	NOTIFY_ERROR   NotificationLevel = "error"
	NOTIFY_INFO    NotificationLevel = "info"
)

type Notification struct {
	Level   NotificationLevel `json:"level"`
	Message string            `json:"message"`
}

/**
Notifier is the toast surface: something the user sees, as opposed to the logs
*/
type Notifier interface {
	Notify(n Notification)
}

type LogNotifier struct{}

func (LogNotifier) Notify(n Notification) {
	entry := log.WithField("notification", string(n.Level))
	switch n.Level {
	case NOTIFY_ERROR:
		entry.Error(n.Message)
	default:
		entry.Info(n.Message)
	}
}

/**
prints notifications as plain lines, for the command line
*/
type WriterNotifier struct {
	Out io.Writer
}

func (w WriterNotifier) Notify(n Notification) {
	fmt.Fprintf(w.Out, "[%s] %s\n", n.Level, n.Message)
}

/**
keeps every notification in memory. Used by the CLI to print a summary and by tests.
*/
type RecordingNotifier struct {
	mutex   sync.Mutex
	records []Notification
}

func (r *RecordingNotifier) Notify(n Notification) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.records = append(r.records, n)
}

func (r *RecordingNotifier) Notifications() []Notification {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	rtn := make([]Notification, len(r.records))
	copy(rtn, r.records)
	return rtn
}
