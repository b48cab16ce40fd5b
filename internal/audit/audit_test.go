package audit_test

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/provisioner/internal/audit"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// blockingHandler stalls the writer goroutine until released.
type blockingHandler struct {
	slog.Handler
	release chan struct{}
}

func (h blockingHandler) Handle(ctx context.Context, r slog.Record) error {
	<-h.release
	return h.Handler.Handle(ctx, r)
}

func (h blockingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return blockingHandler{Handler: h.Handler.WithAttrs(attrs), release: h.release}
}

func TestLoggerWritesEvents(t *testing.T) {
	t.Parallel()

	buf := &syncBuffer{}
	l := audit.NewLogger(slog.New(slog.NewJSONHandler(buf, nil)), 8)

	l.Record(context.Background(), audit.Event{
		Action:   "domain.verify",
		ActorID:  "u1",
		TargetID: "d1",
		Outcome:  audit.OutcomeSuccess,
		Attrs:    []slog.Attr{slog.String("domain", "acme.com")},
	})

	require.Eventually(t, func() bool { return bytes.Contains([]byte(buf.String()), []byte("domain.verify")) },
		time.Second, 5*time.Millisecond)
	out := buf.String()
	assert.Contains(t, out, `"actor_id":"u1"`)
	assert.Contains(t, out, `"domain":"acme.com"`)
	assert.Contains(t, out, `"channel":"audit"`)
	require.NoError(t, l.Close())
}

func TestLoggerDropsWhenFull(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	h := blockingHandler{Handler: slog.NewJSONHandler(&syncBuffer{}, nil), release: release}

	var drops int
	var mu sync.Mutex
	l := audit.NewLogger(slog.New(h), 1, audit.WithDropHook(func() {
		mu.Lock()
		drops++
		mu.Unlock()
	}))

	start := time.Now()
	for range 50 {
		l.Record(context.Background(), audit.Event{Action: "x"})
	}
	// Record never waits on the stalled writer.
	assert.Less(t, time.Since(start), time.Second)
	assert.GreaterOrEqual(t, l.Dropped(), int64(48))

	mu.Lock()
	assert.Equal(t, l.Dropped(), int64(drops))
	mu.Unlock()

	close(release)
	require.NoError(t, l.Close())
}

func TestRecordAfterCloseDrops(t *testing.T) {
	t.Parallel()

	l := audit.NewLogger(nil, 4)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	l.Record(context.Background(), audit.Event{Action: "late"})
	assert.Equal(t, int64(1), l.Dropped())
}
