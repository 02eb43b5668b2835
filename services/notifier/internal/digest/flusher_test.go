package digest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpwatch/mcpwatch/services/notifier/internal/model"
)

type fakeBuffer struct {
	mu      sync.Mutex
	items   map[string][]Item
	flushed map[string]time.Time
}

func newFakeBuffer() *fakeBuffer {
	return &fakeBuffer{
		items:   make(map[string][]Item),
		flushed: make(map[string]time.Time),
	}
}

func (b *fakeBuffer) Enqueue(_ context.Context, ch model.Channel, message string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items[ch.ID] = append(b.items[ch.ID], Item{
		ChannelID: ch.ID,
		Address:   ch.Config.Address,
		Frequency: ch.Config.Digest,
		Message:   message,
	})
	return nil
}

func (b *fakeBuffer) peek(_ context.Context, channelID string) (*Item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	items := b.items[channelID]
	if len(items) == 0 {
		return nil, nil
	}
	head := items[0]
	return &head, nil
}

func (b *fakeBuffer) drain(_ context.Context, channelID string) ([]Item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	items := b.items[channelID]
	delete(b.items, channelID)
	return items, nil
}

func (b *fakeBuffer) lastFlushed(_ context.Context, channelID string) (time.Time, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushed[channelID], nil
}

func (b *fakeBuffer) markFlushed(_ context.Context, channelID string, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushed[channelID] = at
	return nil
}

func (b *fakeBuffer) pendingChannels(context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.items))
	for id := range b.items {
		ids = append(ids, id)
	}
	return ids, nil
}

func (b *fakeBuffer) itemCount(channelID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items[channelID])
}

type recordingMailer struct {
	mu      sync.Mutex
	fail    bool
	to      string
	subject string
	body    string
	calls   int
}

func (m *recordingMailer) SendMail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.fail {
		return fmt.Errorf("smtp relay unavailable")
	}
	m.to = to
	m.subject = subject
	m.body = body
	return nil
}

func hourlyChannel() model.Channel {
	return model.Channel{
		ID: "ch-1",
		Config: model.ChannelConfig{
			Address: "ops@example.com",
			Digest:  model.DigestHourly,
		},
	}
}

func newTestFlusher(buf *fakeBuffer, mailer *recordingMailer, now time.Time) (*Flusher, *time.Time) {
	current := now
	f := &Flusher{
		queue:    buf,
		mailer:   mailer,
		interval: time.Minute,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      func() time.Time { return current },
	}
	return f, &current
}

func TestFirstDigestWaitsFullWindow(t *testing.T) {
	buf := newFakeBuffer()
	mailer := &recordingMailer{}
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f, now := newTestFlusher(buf, mailer, start)

	require.NoError(t, buf.Enqueue(context.Background(), hourlyChannel(), "first change"))

	// first tick after items appear: window starts, nothing goes out
	require.NoError(t, f.flushDue(context.Background()))
	assert.Zero(t, mailer.calls, "first tick must not flush a fresh channel")
	assert.Equal(t, 1, buf.itemCount("ch-1"), "items stay buffered")

	// half the window: still nothing
	*now = start.Add(30 * time.Minute)
	require.NoError(t, f.flushDue(context.Background()))
	assert.Zero(t, mailer.calls)

	// window elapsed: digest goes out
	*now = start.Add(time.Hour)
	require.NoError(t, f.flushDue(context.Background()))
	assert.Equal(t, 1, mailer.calls)
	assert.Equal(t, "ops@example.com", mailer.to)
	assert.Zero(t, buf.itemCount("ch-1"))
}

func TestDigestCombinesBufferedItems(t *testing.T) {
	buf := newFakeBuffer()
	mailer := &recordingMailer{}
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f, now := newTestFlusher(buf, mailer, start)

	ch := hourlyChannel()
	require.NoError(t, buf.Enqueue(context.Background(), ch, "change one"))
	require.NoError(t, buf.Enqueue(context.Background(), ch, "change two"))
	buf.markFlushed(context.Background(), ch.ID, start.Add(-2*time.Hour))

	*now = start
	require.NoError(t, f.flushDue(context.Background()))

	require.Equal(t, 1, mailer.calls, "one mail for the whole buffer")
	assert.Contains(t, mailer.subject, "hourly digest: 2 registry change(s)")
	assert.Contains(t, mailer.body, "change one")
	assert.Contains(t, mailer.body, "change two")
	assert.Contains(t, mailer.body, "---", "items separated in the combined body")

	last, err := buf.lastFlushed(context.Background(), ch.ID)
	require.NoError(t, err)
	assert.Equal(t, start, last, "flush marker advances to the flush time")
}

func TestDigestHonorsWindowBetweenFlushes(t *testing.T) {
	buf := newFakeBuffer()
	mailer := &recordingMailer{}
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f, now := newTestFlusher(buf, mailer, start)

	ch := hourlyChannel()
	require.NoError(t, buf.Enqueue(context.Background(), ch, "buffered"))
	buf.markFlushed(context.Background(), ch.ID, start.Add(-10*time.Minute))

	*now = start
	require.NoError(t, f.flushDue(context.Background()))
	assert.Zero(t, mailer.calls, "only ten minutes into an hourly window")
	assert.Equal(t, 1, buf.itemCount("ch-1"))
}

func TestDigestRequeuesOnSendFailure(t *testing.T) {
	buf := newFakeBuffer()
	mailer := &recordingMailer{fail: true}
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f, now := newTestFlusher(buf, mailer, start)

	ch := hourlyChannel()
	require.NoError(t, buf.Enqueue(context.Background(), ch, "must not be lost"))
	buf.markFlushed(context.Background(), ch.ID, start.Add(-2*time.Hour))

	*now = start
	require.NoError(t, f.flushDue(context.Background()))

	assert.Equal(t, 1, mailer.calls)
	assert.Equal(t, 1, buf.itemCount("ch-1"), "failed digest items go back in the buffer")
	last, err := buf.lastFlushed(context.Background(), ch.ID)
	require.NoError(t, err)
	assert.Equal(t, start.Add(-2*time.Hour), last,
		"flush marker unchanged after a failed send, so the next tick retries")
}

func TestWeeklyDigestUsesItsOwnWindow(t *testing.T) {
	buf := newFakeBuffer()
	mailer := &recordingMailer{}
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f, now := newTestFlusher(buf, mailer, start)

	ch := hourlyChannel()
	ch.Config.Digest = model.DigestWeekly
	require.NoError(t, buf.Enqueue(context.Background(), ch, "weekly item"))
	buf.markFlushed(context.Background(), ch.ID, start.Add(-3*24*time.Hour))

	*now = start
	require.NoError(t, f.flushDue(context.Background()))
	assert.Zero(t, mailer.calls, "three days into a weekly window")

	*now = start.Add(5 * 24 * time.Hour)
	require.NoError(t, f.flushDue(context.Background()))
	assert.Equal(t, 1, mailer.calls)
	if !strings.Contains(mailer.subject, "weekly") {
		t.Errorf("subject %q should name the weekly frequency", mailer.subject)
	}
}
