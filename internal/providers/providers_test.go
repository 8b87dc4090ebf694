package providers

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signaltrader/internal/domain"
	"signaltrader/internal/ports"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// recordingEngine collects every delivered message.
type recordingEngine struct {
	mu   sync.Mutex
	msgs []domain.Message
}

func (r *recordingEngine) HandleMessage(ctx context.Context, msg domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recordingEngine) snapshot() []domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Message, len(r.msgs))
	copy(out, r.msgs)
	return out
}

func writeReplayFile(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(lines), 0o644))
	return path
}

func TestReplaySource_DeliversInOrder(t *testing.T) {
	path := writeReplayFile(t, `{"channel_id":1,"message_id":10,"text":"buy GOLD @ 4000"}
{"channel_id":1,"message_id":11,"reply_to":10,"text":"risk free"}
{"channel_id":1,"message_id":12,"reply_to":10,"text":"close it","deleted":true}
`)
	src := NewReplaySource(path, &mockLogger{})

	var mu sync.Mutex
	var got []domain.Message
	err := src.Start(context.Background(), func(msg domain.Message) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	})
	require.NoError(t, err)
	require.NoError(t, src.Stop(context.Background()))

	require.Len(t, got, 3)
	assert.Equal(t, int64(10), got[0].MessageID)
	assert.Equal(t, int64(10), got[1].ReplyToMessageID)
	assert.True(t, got[2].Deleted)
}

func TestReplaySource_SkipsMalformedLines(t *testing.T) {
	path := writeReplayFile(t, `{"channel_id":1,"message_id":10,"text":"buy GOLD @ 4000"}
not json at all
{"channel_id":1,"message_id":11,"text":"sl 3990"}
`)
	src := NewReplaySource(path, &mockLogger{})

	var mu sync.Mutex
	var got []domain.Message
	err := src.Start(context.Background(), func(msg domain.Message) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	})
	require.NoError(t, err)
	require.NoError(t, src.Stop(context.Background()))

	require.Len(t, got, 2)
	assert.Equal(t, int64(11), got[1].MessageID)
}

func TestReplaySource_MissingFile(t *testing.T) {
	src := NewReplaySource(filepath.Join(t.TempDir(), "nope.jsonl"), &mockLogger{})
	err := src.Start(context.Background(), func(domain.Message) {})
	assert.Error(t, err)
}

// scriptedSource hands a fixed batch of messages to the dispatcher on Start.
type scriptedSource struct {
	name string
	msgs []domain.Message
}

func (s *scriptedSource) Name() string { return s.name }

func (s *scriptedSource) Start(ctx context.Context, handler ports.MessageHandler) error {
	for _, msg := range s.msgs {
		handler(msg)
	}
	return nil
}

func (s *scriptedSource) Stop(ctx context.Context) error { return nil }

func TestDispatcher_PreservesPerChannelOrder(t *testing.T) {
	eng := &recordingEngine{}
	src := &scriptedSource{name: "scripted", msgs: []domain.Message{
		{ChannelID: 1, MessageID: 1, Text: "a"},
		{ChannelID: 2, MessageID: 1, Text: "x"},
		{ChannelID: 1, MessageID: 2, Text: "b"},
		{ChannelID: 1, MessageID: 3, Text: "c"},
		{ChannelID: 2, MessageID: 2, Text: "y"},
	}}
	d := NewDispatcher(&mockLogger{}, eng, src)

	ctx := context.Background()
	require.NoError(t, d.Start(ctx))
	d.Stop(ctx)

	got := eng.snapshot()
	require.Len(t, got, 5)

	var ch1, ch2 []int64
	for _, msg := range got {
		switch msg.ChannelID {
		case 1:
			ch1 = append(ch1, msg.MessageID)
		case 2:
			ch2 = append(ch2, msg.MessageID)
		}
	}
	assert.Equal(t, []int64{1, 2, 3}, ch1)
	assert.Equal(t, []int64{1, 2}, ch2)
}

// gatedEngine holds every delivery until the gate opens.
type gatedEngine struct {
	recordingEngine
	gate chan struct{}
}

func (g *gatedEngine) HandleMessage(ctx context.Context, msg domain.Message) error {
	<-g.gate
	return g.recordingEngine.HandleMessage(ctx, msg)
}

func TestDispatcher_FullQueueBlocksInsteadOfDropping(t *testing.T) {
	eng := &gatedEngine{gate: make(chan struct{})}
	src := &scriptedSource{name: "scripted", msgs: []domain.Message{
		{ChannelID: 1, MessageID: 1, Text: "buy GOLD @ 4000"},
		{ChannelID: 1, MessageID: 2, Text: "sl 3990"},
		{ChannelID: 1, MessageID: 3, Text: "close it"},
	}}
	d := NewDispatcher(&mockLogger{}, eng, src)
	d.queueSize = 1

	// With a single-slot queue and a stalled engine, Start blocks inside the
	// source handler until the engine catches up; nothing may be dropped.
	done := make(chan error, 1)
	go func() { done <- d.Start(context.Background()) }()
	close(eng.gate)
	require.NoError(t, <-done)
	d.Stop(context.Background())

	got := eng.snapshot()
	require.Len(t, got, 3)
	assert.Equal(t, int64(3), got[2].MessageID)
}

func TestDispatcher_StartFailsWhenSourceFails(t *testing.T) {
	eng := &recordingEngine{}
	d := NewDispatcher(&mockLogger{}, eng, NewReplaySource("/does/not/exist.jsonl", &mockLogger{}))
	assert.Error(t, d.Start(context.Background()))
}

func TestRegistry_BuildReplay(t *testing.T) {
	src, err := Build("replay", "capture.jsonl", &mockLogger{})
	require.NoError(t, err)
	assert.Equal(t, "replay", src.Name())

	_, err = Build("replay", "", &mockLogger{})
	assert.Error(t, err)

	_, err = Build("carrier-pigeon", "x", &mockLogger{})
	assert.Error(t, err)
}

func TestRegistry_RegisterCustomSource(t *testing.T) {
	Register("scripted", func(arg string, _ ports.Logger) (ports.MessageSource, error) {
		return &scriptedSource{name: arg}, nil
	})
	src, err := Build("scripted", "mine", &mockLogger{})
	require.NoError(t, err)
	assert.Equal(t, "mine", src.Name())
}

func TestDispatcher_StopIsIdempotentWithNoTraffic(t *testing.T) {
	d := NewDispatcher(&mockLogger{}, &recordingEngine{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Start(ctx))
	d.Stop(ctx)
	d.Stop(ctx)
}
