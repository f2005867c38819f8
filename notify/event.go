package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Event kinds emitted by the authorization server.
const (
	KindCodeIssued     = "code_issued"
	KindTokenIssued    = "token_issued"
	KindTokenRefreshed = "token_refreshed"
	KindTokenRevoked   = "token_revoked"
)

// Event describes something that happened in an OAuth flow. It never carries
// credential values.
type Event struct {
	Kind       string            `json:"kind"`
	ClientID   string            `json:"client_id,omitempty"`
	UserID     string            `json:"user_id,omitempty"`
	Scope      string            `json:"scope,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Notifier delivers events to an external system.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, event Event) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// LogNotifier writes events to a structured logger at Info level.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify logs the event.
func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		"kind", event.Kind,
		"client_id", event.ClientID,
		"scope", event.Scope,
		"occurred_at", event.OccurredAt,
	}
	for k, v := range event.Attributes {
		attrs = append(attrs, k, v)
	}
	logger.InfoContext(ctx, "OAuth event", attrs...)
	return nil
}

// MultiNotifier delivers each event to every notifier and joins their errors.
type MultiNotifier []Notifier

// Notify calls every notifier even if an earlier one fails.
func (m MultiNotifier) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = MultiNotifier(nil)
	_ Notifier = NotifierFunc(nil)
)
