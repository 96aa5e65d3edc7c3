package confirm

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/meridian-agents/meridian/jobs"
)

func TestAsynqNotifierEnqueues(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := jobs.NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	require.NoError(t, err)
	defer func() { require.NoError(t, client.Close()) }()

	notifier := NewAsynqNotifier(client)
	p := ConfirmProtocol{
		ConfirmID: "c-1",
		ContextID: "ctx-1",
		Status:    StatusApproved,
		Priority:  PriorityHigh,
		NotificationSettings: &NotificationSettings{
			NotifyOn:   []string{EventCompleted},
			Recipients: []string{"ops"},
		},
	}

	// Unsubscribed events are dropped before reaching the queue.
	require.NoError(t, notifier.Dispatch(context.Background(), p, EventCreated))
	require.Empty(t, mr.Keys())

	require.NoError(t, notifier.Dispatch(context.Background(), p, EventCompleted))
	require.NotEmpty(t, mr.Keys())
}
