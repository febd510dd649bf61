package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/compozy/conductor/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewService(t *testing.T) {
	t.Run("Should use defaults when no config is given", func(t *testing.T) {
		service, err := NewService(t.Context(), nil)
		require.NoError(t, err)
		assert.False(t, service.IsInitialized())
		assert.Equal(t, "/metrics", service.Path())
		assert.NotNil(t, service.Meter())
	})

	t.Run("Should reject invalid paths", func(t *testing.T) {
		_, err := NewService(t.Context(), &config.MonitoringConfig{Enabled: true})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "monitoring path cannot be empty")
		_, err = NewService(t.Context(), &config.MonitoringConfig{Enabled: true, Path: "metrics"})
		assert.ErrorContains(t, err, "must start with '/'")
		_, err = NewService(t.Context(), &config.MonitoringConfig{Enabled: true, Path: "/m?x=1"})
		assert.ErrorContains(t, err, "query parameters")
	})

	t.Run("Should initialize the Prometheus exporter when enabled", func(t *testing.T) {
		service, err := NewService(t.Context(), &config.MonitoringConfig{Enabled: true, Path: "/metrics"})
		require.NoError(t, err)
		t.Cleanup(func() { _ = service.Shutdown(t.Context()) })
		assert.True(t, service.IsInitialized())
		assert.NotNil(t, service.exporter)
		assert.NotNil(t, service.provider)
		assert.NoError(t, service.InitializationError())
	})
}

func TestNewServiceWithFallback(t *testing.T) {
	t.Run("Should degrade to a no-op service on invalid config", func(t *testing.T) {
		service := NewServiceWithFallback(t.Context(), &config.MonitoringConfig{Enabled: true, Path: "bad"})
		assert.False(t, service.IsInitialized())
		assert.Error(t, service.InitializationError())
		assert.NotNil(t, service.Meter())
	})
}

func TestService_ExporterHandler(t *testing.T) {
	t.Run("Should return 503 when disabled", func(t *testing.T) {
		service, err := NewService(t.Context(), &config.MonitoringConfig{Path: "/metrics"})
		require.NoError(t, err)
		w := httptest.NewRecorder()
		service.ExporterHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("Should expose recorded instruments", func(t *testing.T) {
		service, err := NewService(t.Context(), &config.MonitoringConfig{Enabled: true, Path: "/metrics"})
		require.NoError(t, err)
		t.Cleanup(func() { _ = service.Shutdown(t.Context()) })
		counter, err := service.Meter().Int64Counter("conductor_test_events_total")
		require.NoError(t, err)
		counter.Add(t.Context(), 3)
		w := httptest.NewRecorder()
		service.ExporterHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
		assert.Contains(t, w.Body.String(), "conductor_test_events_total")
		assert.Contains(t, w.Body.String(), "conductor_build_info")
	})
}
