package agent

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/devraulu/hilight/pkg/bus"
)

type Status struct {
	At      time.Time `json:"at"`
	From    string    `json:"from"`
	Message string    `json:"message"`
}

// StatusLog is the ui endpoint. It keeps the most recent status lines.
type StatusLog struct {
	mu      sync.Mutex
	entries []Status
	max     int
}

func NewStatusLog(size int) *StatusLog {
	if size <= 0 {
		size = 100
	}
	return &StatusLog{max: size}
}

func (l *StatusLog) Handle(_ context.Context, msg bus.Message) bus.Reply {
	if msg.Action != ActionShowStatus {
		return fail(CodeUnknownAction, "ui only shows status")
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := msg.Decode(&body); err != nil {
		return invalid(msg.Action, err)
	}

	l.mu.Lock()
	l.entries = append(l.entries, Status{At: time.Now().UTC(), From: msg.From, Message: body.Message})
	if over := len(l.entries) - l.max; over > 0 {
		l.entries = slices.Delete(l.entries, 0, over)
	}
	l.mu.Unlock()

	slog.Info("status", slog.String("from", msg.From), slog.String("message", body.Message))
	return ok("", nil)
}

// Recent returns the stored lines, oldest first.
func (l *StatusLog) Recent() []Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.entries)
}
