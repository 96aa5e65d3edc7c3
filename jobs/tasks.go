package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskConfirmNotification delivers a confirmation lifecycle notification.
	TaskConfirmNotification = "confirm:notify"
	// TaskConfirmExpirySweep marks overdue confirmations expired.
	TaskConfirmExpirySweep = "confirm:expiry_sweep"
)

// ConfirmNotificationPayload describes one notification delivery.
type ConfirmNotificationPayload struct {
	ConfirmID  string   `json:"confirm_id"`
	ContextID  string   `json:"context_id"`
	Event      string   `json:"event"`
	Status     string   `json:"status"`
	Priority   string   `json:"priority"`
	Recipients []string `json:"recipients,omitempty"`
	Channels   []string `json:"channels,omitempty"`
}

// NewConfirmNotificationTask constructs an Asynq task.
func NewConfirmNotificationTask(payload ConfirmNotificationPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskConfirmNotification, data), nil
}

// NewConfirmExpirySweepTask constructs the periodic expiry sweep task.
func NewConfirmExpirySweepTask() *asynq.Task {
	return asynq.NewTask(TaskConfirmExpirySweep, nil)
}

// NotificationDeliverer sends a notification to its recipients over the
// configured channels.
type NotificationDeliverer interface {
	Deliver(ctx context.Context, payload ConfirmNotificationPayload) error
}

// LogDeliverer writes deliveries to the log. Channel integrations replace it
// in deployments that route to chat or email.
type LogDeliverer struct {
	Logger *slog.Logger
}

// Deliver logs the notification payload.
func (d LogDeliverer) Deliver(ctx context.Context, payload ConfirmNotificationPayload) error {
	d.Logger.Info("deliver confirmation notification",
		slog.String("confirm_id", payload.ConfirmID),
		slog.String("event", payload.Event),
		slog.Int("recipients", len(payload.Recipients)))
	return nil
}

// NewConfirmNotificationHandler builds the handler for notification tasks.
func NewConfirmNotificationHandler(deliverer NotificationDeliverer) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ConfirmNotificationPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		return deliverer.Deliver(ctx, payload)
	}
}

// ExpirySweeper marks overdue confirmations expired.
type ExpirySweeper interface {
	ExpireOverdue(ctx context.Context) (int, error)
}

// NewConfirmExpirySweepHandler builds the handler for expiry sweep tasks.
func NewConfirmExpirySweepHandler(sweeper ExpirySweeper, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		n, err := sweeper.ExpireOverdue(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info("expired overdue confirmations", slog.Int("count", n))
		}
		return nil
	}
}
