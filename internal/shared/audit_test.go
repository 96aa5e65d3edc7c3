package shared

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAppendEventChainsHashes(t *testing.T) {
	now := time.Now().UTC()
	trail := AppendEvent(nil, AuditEvent{
		Timestamp:   now,
		EventType:   "created",
		Actor:       Actor{UserID: "u1", Role: "requester"},
		Description: "opened",
	})
	trail = AppendEvent(trail, AuditEvent{
		Timestamp:   now.Add(time.Second),
		EventType:   "step_approve",
		Actor:       Actor{UserID: "u2", Role: "approver"},
		Description: "step 1 approved",
	})

	require.Len(t, trail, 2)
	require.NotEmpty(t, trail[0].EventID)
	require.NotEmpty(t, trail[0].Hash)
	require.Empty(t, trail[0].PrevHash)
	require.Equal(t, trail[0].Hash, trail[1].PrevHash)
	require.Equal(t, -1, VerifyTrail(trail))
}

func TestAppendEventDoesNotMutateInput(t *testing.T) {
	now := time.Now().UTC()
	base := AppendEvent(nil, AuditEvent{Timestamp: now, EventType: "created"})

	a := AppendEvent(base, AuditEvent{Timestamp: now.Add(time.Second), EventType: "a"})
	b := AppendEvent(base, AuditEvent{Timestamp: now.Add(time.Second), EventType: "b"})

	require.Len(t, base, 1)
	require.Equal(t, "a", a[1].EventType)
	require.Equal(t, "b", b[1].EventType)
}

func TestVerifyTrailDetectsTampering(t *testing.T) {
	now := time.Now().UTC()
	trail := AppendEvent(nil, AuditEvent{Timestamp: now, EventType: "created", Description: "opened"})
	trail = AppendEvent(trail, AuditEvent{Timestamp: now.Add(time.Second), EventType: "updated", Description: "amended"})
	trail = AppendEvent(trail, AuditEvent{Timestamp: now.Add(2 * time.Second), EventType: "completed", Description: "done"})

	tampered := append([]AuditEvent(nil), trail...)
	tampered[1].Description = "rewritten"
	require.Equal(t, 1, VerifyTrail(tampered))

	unlinked := append([]AuditEvent(nil), trail...)
	unlinked[2].PrevHash = "0000"
	require.Equal(t, 2, VerifyTrail(unlinked))
}

func TestEventIDsSortChronologically(t *testing.T) {
	earlier := NewEventID(time.Now().Add(-time.Hour))
	later := NewEventID(time.Now())
	require.Less(t, earlier, later)
}

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	km := NewKeyedMutex()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			km.Lock("confirm-1")
			counter++
			km.Unlock("confirm-1")
		}()
	}
	wg.Wait()
	require.Equal(t, 50, counter)
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	km := NewKeyedMutex()
	km.Lock("a")
	done := make(chan struct{})
	go func() {
		km.Lock("b")
		km.Unlock("b")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on independent key blocked")
	}
	km.Unlock("a")
}

func TestErrorCodes(t *testing.T) {
	err := FieldError("name", "is required")
	require.Equal(t, CodeValidation, CodeOf(err))
	require.True(t, IsCode(err, CodeValidation))
	require.Contains(t, err.Error(), "name")

	plain := NewError(CodeWorkflow, "already terminal")
	require.Equal(t, CodeWorkflow, CodeOf(plain))
	require.Equal(t, CodeInternal, CodeOf(nil))
}
