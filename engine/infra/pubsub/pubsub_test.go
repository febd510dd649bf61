package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisProvider(t *testing.T) *RedisProvider {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	provider, err := NewRedisProvider(client)
	require.NoError(t, err)
	return provider
}

func receive(t *testing.T, sub Subscription) Message {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return Message{}
}

func TestProviders(t *testing.T) {
	providers := map[string]func(t *testing.T) Provider{
		"redis":  func(t *testing.T) Provider { return newRedisProvider(t) },
		"memory": func(*testing.T) Provider { return NewMemoryProvider() },
	}
	for name, build := range providers {
		t.Run("Should deliver published payloads on "+name, func(t *testing.T) {
			provider := build(t)
			sub, err := provider.Subscribe(t.Context(), "events")
			require.NoError(t, err)
			t.Cleanup(func() { _ = sub.Close() })
			require.NoError(t, provider.Publish(t.Context(), "events", []byte(`{"id":1}`)))
			msg := receive(t, sub)
			assert.Equal(t, "events", msg.Channel)
			assert.JSONEq(t, `{"id":1}`, string(msg.Payload))
		})

		t.Run("Should not deliver other channels on "+name, func(t *testing.T) {
			provider := build(t)
			sub, err := provider.Subscribe(t.Context(), "a")
			require.NoError(t, err)
			t.Cleanup(func() { _ = sub.Close() })
			require.NoError(t, provider.Publish(t.Context(), "b", []byte("x")))
			require.NoError(t, provider.Publish(t.Context(), "a", []byte("y")))
			assert.Equal(t, "y", string(receive(t, sub).Payload))
		})

		t.Run("Should finish when the context ends on "+name, func(t *testing.T) {
			provider := build(t)
			ctx, cancel := context.WithCancel(t.Context())
			sub, err := provider.Subscribe(ctx, "events")
			require.NoError(t, err)
			cancel()
			select {
			case <-sub.Done():
			case <-time.After(2 * time.Second):
				t.Fatal("subscription did not finish")
			}
			assert.NoError(t, sub.Err())
			assert.NoError(t, sub.Close())
		})
	}

	t.Run("Should reject a nil redis client", func(t *testing.T) {
		_, err := NewRedisProvider(nil)
		assert.Error(t, err)
	})
}
