package ingest

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wolpertingerlabs/mcp-secure-proxy/internal/ingest/event"
)

func TestPushEvent_IDsStrictlyIncreaseByOne(t *testing.T) {
	b := NewBase("discord-bot", TypeWebSocket, "", 10, nil)

	e1, ok := b.PushEvent("MESSAGE_CREATE", map[string]any{"a": 1}, "")
	require.True(t, ok)
	e2, ok := b.PushEvent("MESSAGE_CREATE", map[string]any{"a": 2}, "")
	require.True(t, ok)

	require.Less(t, e1.ID, e2.ID)
	require.Equal(t, e1.ID+1, e2.ID)
}

func TestPushEvent_DedupByIdempotencyKey(t *testing.T) {
	b := NewBase("discord-bot", TypeWebSocket, "", 10, nil)

	_, ok1 := b.PushEvent("MESSAGE_CREATE", "first", "x")
	_, ok2 := b.PushEvent("MESSAGE_CREATE", "second", "x")

	require.True(t, ok1)
	require.False(t, ok2)
	require.Equal(t, 1, b.GetStatus().BufferedEvents)
}

func TestPushEvent_SynthesizesKeyWhenAbsent(t *testing.T) {
	b := NewBase("discord-bot", TypeWebSocket, "", 10, nil)

	e, ok := b.PushEvent("TYPING", nil, "")
	require.True(t, ok)
	require.NotEmpty(t, e.IdempotencyKey)
	require.Contains(t, e.IdempotencyKey, "discord-bot:")
}

func TestGetEvents_NegativeReturnsWholeBuffer(t *testing.T) {
	b := NewBase("discord-bot", TypeWebSocket, "", 10, nil)
	b.PushEvent("A", nil, "")
	b.PushEvent("B", nil, "")

	require.Len(t, b.GetEvents(-1), 2)
}

func TestGetEvents_AfterIDFiltersCorrectly(t *testing.T) {
	b := NewBase("discord-bot", TypeWebSocket, "", 10, nil)
	first, _ := b.PushEvent("A", nil, "")
	second, _ := b.PushEvent("B", nil, "")

	got := b.GetEvents(int64(first.ID))
	require.Len(t, got, 1)
	require.Equal(t, second.ID, got[0].ID)
}

func TestStopOnce_RunsExactlyOnce(t *testing.T) {
	b := NewBase("discord-bot", TypeWebSocket, "", 10, nil)
	var calls atomic.Int32

	for range 3 {
		b.StopOnce(func() { calls.Add(1) })
	}

	require.Equal(t, int32(1), calls.Load())
}

type recordingObserver struct {
	alias, instance string
	count           int
}

func (r *recordingObserver) OnEvent(alias, instanceID string, ev event.IngestedEvent) {
	r.alias, r.instance = alias, instanceID
	r.count++
}

func TestObserver_NotifiedOnPush(t *testing.T) {
	b := NewBase("discord-bot", TypeWebSocket, "instance-1", 10, nil)
	obs := &recordingObserver{}
	b.Subscribe(obs)

	b.PushEvent("MESSAGE_CREATE", nil, "")

	require.Equal(t, 1, obs.count)
	require.Equal(t, "discord-bot", obs.alias)
	require.Equal(t, "instance-1", obs.instance)
}
