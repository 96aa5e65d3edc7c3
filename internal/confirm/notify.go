package confirm

import (
	"context"
	"log/slog"

	"github.com/meridian-agents/meridian/jobs"
)

// Notification lifecycle events.
const (
	EventCreated   = "created"
	EventUpdated   = "updated"
	EventCompleted = "completed"
)

// NotifierPort dispatches lifecycle notifications. Delivery is best effort:
// the service logs and swallows dispatch failures so notifications never
// block or fail the primary operation.
type NotifierPort interface {
	Dispatch(ctx context.Context, p ConfirmProtocol, event string) error
}

// AsynqNotifier enqueues notification delivery as background tasks.
type AsynqNotifier struct {
	client *jobs.Client
}

// NewAsynqNotifier constructs an AsynqNotifier.
func NewAsynqNotifier(client *jobs.Client) *AsynqNotifier {
	return &AsynqNotifier{client: client}
}

// Dispatch enqueues one delivery task per recipient group.
func (n *AsynqNotifier) Dispatch(ctx context.Context, p ConfirmProtocol, event string) error {
	if !p.NotificationSettings.wants(event) {
		return nil
	}
	payload := jobs.ConfirmNotificationPayload{
		ConfirmID: p.ConfirmID,
		ContextID: p.ContextID,
		Event:     event,
		Status:    string(p.Status),
		Priority:  string(p.Priority),
	}
	if p.NotificationSettings != nil {
		payload.Recipients = p.NotificationSettings.Recipients
		payload.Channels = p.NotificationSettings.Channels
	}
	_, err := n.client.EnqueueConfirmNotification(ctx, payload)
	return err
}

// LogNotifier writes notifications to the log. Used when no queue is wired,
// typically in tests and local runs.
type LogNotifier struct {
	Logger *slog.Logger
}

// Dispatch logs the notification.
func (n LogNotifier) Dispatch(ctx context.Context, p ConfirmProtocol, event string) error {
	if !p.NotificationSettings.wants(event) {
		return nil
	}
	n.Logger.Info("confirmation notification",
		slog.String("confirm_id", p.ConfirmID),
		slog.String("event", event),
		slog.String("status", string(p.Status)))
	return nil
}
