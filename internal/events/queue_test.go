package events

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web8kameleon-hub/tokengate/internal/messaging"
	"github.com/web8kameleon-hub/tokengate/internal/models"
)

type blockingPublisher struct {
	release chan struct{}
	mu      sync.Mutex
	got     []string
}

func (b *blockingPublisher) Publish(_ context.Context, subject string, _ []byte) error {
	<-b.release
	b.mu.Lock()
	b.got = append(b.got, subject)
	b.mu.Unlock()
	return nil
}

func (b *blockingPublisher) Close() error { return nil }

func TestQueue_PublishesEnvelope(t *testing.T) {
	bus := messaging.NewMemory()
	var (
		mu       sync.Mutex
		received []Envelope
	)
	_, err := bus.Subscribe(SubjectTokenVerified, func(_ context.Context, m *messaging.Message) error {
		var env Envelope
		require.NoError(t, json.Unmarshal(m.Data, &env))
		mu.Lock()
		received = append(received, env)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	q := NewQueue(bus, 8, slog.New(slog.NewTextHandler(io.Discard, nil)))
	q.Emit(SubjectTokenVerified, models.TokenEvent{TokenID: "T1", Status: models.TokenVerified})
	q.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, SubjectTokenVerified, received[0].Subject)

	var ev models.TokenEvent
	require.NoError(t, json.Unmarshal(received[0].Data, &ev))
	assert.Equal(t, "T1", ev.TokenID)
}

func TestQueue_DropsWhenFull(t *testing.T) {
	pub := &blockingPublisher{release: make(chan struct{})}
	q := NewQueue(pub, 1, slog.New(slog.NewTextHandler(io.Discard, nil)))

	// One in flight in the worker, one buffered, the rest dropped. The worker
	// may not have picked up the first event yet, so allow one extra drop.
	for i := 0; i < 5; i++ {
		q.Emit(SubjectNodeUpdated, i)
	}
	assert.GreaterOrEqual(t, q.Dropped(), int64(3))

	close(pub.release)
	q.Close()
	q.Close()

	q.Emit(SubjectNodeUpdated, "after close")
	assert.LessOrEqual(t, len(pub.got), 2)
}

func TestTokenSubject(t *testing.T) {
	assert.Equal(t, SubjectTokenRegistered, TokenSubject(models.TokenPending))
	assert.Equal(t, SubjectTokenVerified, TokenSubject(models.TokenVerified))
	assert.Equal(t, SubjectTokenFailed, TokenSubject(models.TokenFailed))
}
