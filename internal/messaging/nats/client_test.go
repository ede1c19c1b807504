package nats

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web8kameleon-hub/tokengate/internal/messaging"
)

var _ messaging.Client = (*Client)(nil)

func TestNatsToMessage(t *testing.T) {
	msg := &nats.Msg{Subject: "tokengate.telemetry.packet", Data: []byte(`{}`), Header: nats.Header{}}
	msg.Header.Set("X-Request-ID", "abc")

	m := natsToMessage(msg)
	assert.Equal(t, "tokengate.telemetry.packet", m.Subject)
	assert.Equal(t, "abc", m.Metadata["X-Request-ID"])
	assert.False(t, m.Timestamp.IsZero())
}

func TestNewClient_Unreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "nats://127.0.0.1:1"
	cfg.Timeout = 200 * time.Millisecond
	_, err := NewClient(cfg, nil)
	assert.Error(t, err)
}

// TestClient_PublishSubscribe runs against a live server when
// TOKENGATE_TEST_NATS_URL is set.
func TestClient_PublishSubscribe(t *testing.T) {
	url := os.Getenv("TOKENGATE_TEST_NATS_URL")
	if url == "" {
		t.Skip("TOKENGATE_TEST_NATS_URL not set")
	}

	cfg := DefaultConfig()
	cfg.URL = url
	c, err := NewClient(cfg, nil)
	require.NoError(t, err)
	defer c.Close()

	got := make(chan string, 1)
	_, err = c.QueueSubscribe("tokengate.test", "q", func(_ context.Context, m *messaging.Message) error {
		got <- string(m.Data)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, c.Publish(context.Background(), "tokengate.test", []byte("hello")))
	select {
	case v := <-got:
		assert.Equal(t, "hello", v)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}
