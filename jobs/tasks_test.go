package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingDeliverer struct {
	payloads []ConfirmNotificationPayload
}

func (d *recordingDeliverer) Deliver(ctx context.Context, payload ConfirmNotificationPayload) error {
	d.payloads = append(d.payloads, payload)
	return nil
}

type fakeSweeper struct {
	n   int
	err error
}

func (f fakeSweeper) ExpireOverdue(ctx context.Context) (int, error) {
	return f.n, f.err
}

func TestClientEnqueueConfirmNotification(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	require.NoError(t, err)
	defer func() { require.NoError(t, client.Close()) }()

	info, err := client.EnqueueConfirmNotification(context.Background(), ConfirmNotificationPayload{
		ConfirmID: "c-1",
		ContextID: "ctx-1",
		Event:     "created",
		Status:    "pending",
		Priority:  "high",
	})
	require.NoError(t, err)
	require.Equal(t, TaskConfirmNotification, info.Type)
	require.Equal(t, QueueDefault, info.Queue)
}

func TestConfirmNotificationHandler(t *testing.T) {
	deliverer := &recordingDeliverer{}
	handler := NewConfirmNotificationHandler(deliverer)

	task, err := NewConfirmNotificationTask(ConfirmNotificationPayload{
		ConfirmID:  "c-1",
		Event:      "completed",
		Recipients: []string{"ops"},
	})
	require.NoError(t, err)
	require.NoError(t, handler(context.Background(), task))
	require.Len(t, deliverer.payloads, 1)
	require.Equal(t, "c-1", deliverer.payloads[0].ConfirmID)
	require.Equal(t, []string{"ops"}, deliverer.payloads[0].Recipients)

	// A malformed payload must not be retried.
	err = handler(context.Background(), asynq.NewTask(TaskConfirmNotification, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Len(t, deliverer.payloads, 1)
}

func TestConfirmExpirySweepHandler(t *testing.T) {
	handler := NewConfirmExpirySweepHandler(fakeSweeper{n: 2}, testLogger())
	require.NoError(t, handler(context.Background(), NewConfirmExpirySweepTask()))

	boom := errors.New("repository down")
	handler = NewConfirmExpirySweepHandler(fakeSweeper{err: boom}, testLogger())
	require.ErrorIs(t, handler(context.Background(), NewConfirmExpirySweepTask()), boom)
}

func TestHandlerHealthWithoutInspector(t *testing.T) {
	h := NewHandler(nil, testLogger())
	r := chi.NewRouter()
	r.Route("/jobs", func(jr chi.Router) { h.MountRoutes(jr) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queue":"default","pending":0}`, rec.Body.String())
}
