package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/compozy/conductor/engine/core"
	"github.com/compozy/conductor/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolRegistry(t *testing.T) {
	t.Run("Should invoke registered tools with copied params", func(t *testing.T) {
		reg := NewToolRegistry()
		require.NoError(t, reg.Register("upper", func(_ context.Context, params map[string]any) (any, error) {
			params["mutated"] = true
			return params["text"], nil
		}))
		params := map[string]any{"text": "hi"}
		out, err := reg.Invoke(t.Context(), "upper", params)
		require.NoError(t, err)
		assert.Equal(t, "hi", out)
		assert.NotContains(t, params, "mutated")
		assert.Equal(t, []string{"upper"}, reg.Names())
	})

	t.Run("Should report unknown tools as not found", func(t *testing.T) {
		_, err := NewToolRegistry().Invoke(t.Context(), "missing", nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, core.ErrNotFound))
	})

	t.Run("Should reject invalid registrations", func(t *testing.T) {
		reg := NewToolRegistry()
		assert.Error(t, reg.Register("", func(context.Context, map[string]any) (any, error) { return nil, nil }))
		assert.Error(t, reg.Register("nil", nil))
	})
}

func TestHTTPIntegrationInvoker(t *testing.T) {
	t.Run("Should post the integration request and decode the reply", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/integrations/zapier", r.URL.Path)
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "zapier", body["type"])
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"job_id":"j-1","status":"queued"}`))
		}))
		defer srv.Close()

		inv, err := NewHTTPIntegrationInvoker(&config.IntegrationConfig{BaseURL: srv.URL})
		require.NoError(t, err)
		out, err := inv.Invoke(t.Context(), "zapier", map[string]any{"zap": "123"})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"job_id": "j-1", "status": "queued"}, out)
	})

	t.Run("Should retry server errors then fail", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		inv, err := NewHTTPIntegrationInvoker(&config.IntegrationConfig{
			BaseURL:       srv.URL,
			RetryTimes:    2,
			RetryWaitBase: time.Millisecond,
		})
		require.NoError(t, err)
		_, err = inv.Invoke(t.Context(), "jenkins", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 502")
		assert.Equal(t, int32(3), hits.Load())
	})

	t.Run("Should require a base url", func(t *testing.T) {
		_, err := NewHTTPIntegrationInvoker(&config.IntegrationConfig{})
		assert.Error(t, err)
	})
}

func TestResilient(t *testing.T) {
	base := &ResilienceConfig{
		ErrorPercentThresholdToOpen: 50,
		MinimumRequestToOpen:        2,
		WaitDurationInOpenState:     time.Minute,
	}

	t.Run("Should time out slow calls", func(t *testing.T) {
		cfg := *base
		cfg.TimeoutDuration = 20 * time.Millisecond
		slow := IntegrationFunc(func(ctx context.Context, _ string, _ map[string]any) (any, error) {
			select {
			case <-time.After(time.Second):
				return "late", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		})
		_, err := NewResilientIntegration(slow, &cfg).Invoke(t.Context(), "slow", nil)
		require.Error(t, err)
	})

	t.Run("Should retry transient tool failures", func(t *testing.T) {
		cfg := *base
		cfg.MinimumRequestToOpen = 100
		cfg.RetryTimes = 2
		cfg.RetryWaitBase = time.Millisecond
		var calls atomic.Int32
		reg := NewToolRegistry()
		require.NoError(t, reg.Register("flaky", func(context.Context, map[string]any) (any, error) {
			if calls.Add(1) < 2 {
				return nil, errors.New("transient")
			}
			return "ok", nil
		}))
		out, err := NewResilientTool(reg, &cfg).Invoke(t.Context(), "flaky", nil)
		require.NoError(t, err)
		assert.Equal(t, "ok", out)
	})

	t.Run("Should open the circuit after repeated failures", func(t *testing.T) {
		cfg := *base
		var calls atomic.Int32
		failing := IntegrationFunc(func(context.Context, string, map[string]any) (any, error) {
			calls.Add(1)
			return nil, errors.New("down")
		})
		inv := NewResilientIntegration(failing, &cfg)
		var lastErr error
		for range 5 {
			_, lastErr = inv.Invoke(t.Context(), "x", nil)
		}
		assert.ErrorIs(t, lastErr, ErrCircuitOpen)
		assert.Less(t, calls.Load(), int32(5))
	})

	t.Run("Should keep a separate breaker per tool", func(t *testing.T) {
		cfg := *base
		reg := NewToolRegistry()
		require.NoError(t, reg.Register("bad", func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("down")
		}))
		require.NoError(t, reg.Register("good", func(context.Context, map[string]any) (any, error) {
			return "ok", nil
		}))
		inv := NewResilientTool(reg, &cfg)
		var lastErr error
		for range 12 {
			_, lastErr = inv.Invoke(t.Context(), "bad", nil)
		}
		require.ErrorIs(t, lastErr, ErrCircuitOpen)
		out, err := inv.Invoke(t.Context(), "good", nil)
		require.NoError(t, err)
		assert.Equal(t, "ok", out)
	})

	t.Run("Should convert panics into errors", func(t *testing.T) {
		cfg := *base
		cfg.MinimumRequestToOpen = 100
		boom := IntegrationFunc(func(context.Context, string, map[string]any) (any, error) {
			panic("kaboom")
		})
		_, err := NewResilientIntegration(boom, &cfg).Invoke(t.Context(), "x", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "panic recovered")
	})
}
