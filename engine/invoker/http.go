package invoker

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/compozy/conductor/pkg/config"
	"github.com/compozy/conductor/pkg/logger"
	"github.com/go-resty/resty/v2"
)

// HTTPIntegrationInvoker posts integration requests to an automation
// endpoint at {base_url}/integrations/{type}.
type HTTPIntegrationInvoker struct {
	client *resty.Client
}

// NewHTTPIntegrationInvoker builds a resty-backed invoker from cfg.
func NewHTTPIntegrationInvoker(cfg *config.IntegrationConfig) (*HTTPIntegrationInvoker, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("integration base_url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid integration base_url: %w", err)
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetRetryCount(cfg.RetryTimes).
		SetRetryWaitTime(cfg.RetryWaitBase).
		SetRetryMaxWaitTime(2 * time.Second)
	client.AddRetryCondition(retryCondition)
	return &HTTPIntegrationInvoker{client: client}, nil
}

func retryCondition(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	return code >= 500 || code == 429 || code == 408
}

func (h *HTTPIntegrationInvoker) Invoke(ctx context.Context, integrationType string, cfg map[string]any) (any, error) {
	log := logger.FromContext(ctx)
	var result any
	resp, err := h.client.R().
		SetContext(ctx).
		SetBody(map[string]any{"type": integrationType, "config": cfg}).
		SetResult(&result).
		SetPathParam("type", integrationType).
		Post("/integrations/{type}")
	if err != nil {
		return nil, fmt.Errorf("integration %s request failed: %w", integrationType, err)
	}
	log.Debug("Integration request completed", "type", integrationType, "status", resp.StatusCode())
	if resp.StatusCode() >= 400 {
		return nil, fmt.Errorf("integration %s error: %s (status %d)", integrationType, resp.String(), resp.StatusCode())
	}
	if result == nil && len(resp.Body()) > 0 {
		return resp.String(), nil
	}
	return result, nil
}
