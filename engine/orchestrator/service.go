package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/compozy/conductor/engine/collab"
	"github.com/compozy/conductor/engine/expr"
	"github.com/compozy/conductor/engine/infra/monitoring"
	"github.com/compozy/conductor/engine/infra/pubsub"
	"github.com/compozy/conductor/engine/invoker"
	"github.com/compozy/conductor/engine/metrics"
	"github.com/compozy/conductor/engine/node"
	"github.com/compozy/conductor/engine/oracle"
	"github.com/compozy/conductor/engine/report"
	"github.com/compozy/conductor/engine/store"
	"github.com/compozy/conductor/engine/workflow"
	"github.com/compozy/conductor/pkg/config"
	"github.com/compozy/conductor/pkg/logger"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
)

// Service is the caller-facing entry point over both engines.
type Service struct {
	cfg        *config.Config
	workflows  *workflow.Engine
	crews      *collab.Engine
	metrics    *metrics.Aggregator
	store      store.Store
	reporter   report.Reporter
	results    *lru.Cache[string, *Execution]
	monitoring *monitoring.Service
	evaluator  *expr.CELEvaluator
	redis      redis.UniversalClient
	ownsRedis  bool
}

type options struct {
	oracle       oracle.CompletionOracle
	tools        invoker.ToolInvoker
	integrations invoker.IntegrationInvoker
	store        store.Store
	reporter     report.Reporter
	meter        metric.Meter
	redis        redis.UniversalClient
}

type Option func(*options)

// WithOracle replaces the oracle built from the llm config section.
func WithOracle(o oracle.CompletionOracle) Option {
	return func(opts *options) {
		opts.oracle = o
	}
}

// WithTools sets the tools available to tool nodes and agent capabilities.
func WithTools(tools invoker.ToolInvoker) Option {
	return func(opts *options) {
		opts.tools = tools
	}
}

// WithIntegrations replaces the HTTP integration invoker.
func WithIntegrations(i invoker.IntegrationInvoker) Option {
	return func(opts *options) {
		opts.integrations = i
	}
}

func WithStore(s store.Store) Option {
	return func(opts *options) {
		opts.store = s
	}
}

func WithReporter(r report.Reporter) Option {
	return func(opts *options) {
		opts.reporter = r
	}
}

// WithMeter records metrics on meter instead of the monitoring service.
func WithMeter(m metric.Meter) Option {
	return func(opts *options) {
		opts.meter = m
	}
}

// WithRedisClient shares an existing client with the redis store and
// reporter.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(opts *options) {
		opts.redis = client
	}
}

// New wires the engines and their collaborators from cfg. Options override
// the config-built defaults.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	ctx = config.ContextWithConfig(ctx, cfg)
	log := logger.FromContext(ctx)
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	s := &Service{cfg: cfg, redis: o.redis}

	evaluator, err := expr.NewCELEvaluator(
		expr.WithCostLimit(cfg.Expr.CostLimit),
		expr.WithCacheSize(cfg.Expr.CacheSize),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create condition evaluator: %w", err)
	}
	s.evaluator = evaluator

	completer := o.oracle
	if completer == nil {
		llm, err := oracle.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create oracle: %w", err)
		}
		completer = llm
	}
	tools := o.tools
	if tools == nil {
		tools = invoker.NewToolRegistry()
	}
	tools = invoker.NewResilientTool(tools, &invoker.ResilienceConfig{
		ErrorPercentThresholdToOpen: cfg.Integration.ErrorPercentThresholdToOpen,
		MinimumRequestToOpen:        cfg.Integration.MinimumRequestToOpen,
		WaitDurationInOpenState:     cfg.Integration.WaitDurationInOpenState,
	})
	integrations, err := s.buildIntegrations(cfg, o.integrations)
	if err != nil {
		return nil, err
	}
	registry, err := node.NewDefaultRegistry(&node.Dependencies{
		Oracle:       completer,
		Tools:        tools,
		Integrations: integrations,
		Evaluator:    evaluator,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build node registry: %w", err)
	}

	meter := o.meter
	if meter == nil {
		s.monitoring = monitoring.NewServiceWithFallback(ctx, &cfg.Monitoring)
		meter = s.monitoring.Meter()
	}
	s.metrics = metrics.NewAggregator(ctx, meter)
	s.workflows = workflow.NewEngine(registry, evaluator, completer,
		workflow.WithRecorder(s.metrics),
		workflow.WithCostPer1KTokens(cfg.Report.CostPer1KTokens),
	)
	s.crews = collab.NewEngine(completer,
		collab.WithRecorder(s.metrics),
		collab.WithTools(tools),
	)

	if s.store, err = s.buildStore(cfg, o.store); err != nil {
		return nil, err
	}
	s.reporter = s.buildReporter(cfg, o.reporter)
	if s.results, err = lru.New[string, *Execution](cfg.Engine.ResultCacheSize); err != nil {
		return nil, fmt.Errorf("failed to create result cache: %w", err)
	}
	log.Info("Orchestrator ready",
		"store", cfg.Store.Driver,
		"llm_provider", cfg.LLM.Provider,
		"report", cfg.Report.Enabled,
		"monitoring", s.monitoring != nil && s.monitoring.IsInitialized(),
	)
	return s, nil
}

func (s *Service) buildIntegrations(
	cfg *config.Config,
	given invoker.IntegrationInvoker,
) (invoker.IntegrationInvoker, error) {
	if given != nil {
		return given, nil
	}
	if cfg.Integration.BaseURL == "" {
		return nil, nil
	}
	httpInvoker, err := invoker.NewHTTPIntegrationInvoker(&cfg.Integration)
	if err != nil {
		return nil, fmt.Errorf("failed to create integration invoker: %w", err)
	}
	// resty already retries transient statuses
	policy := invoker.ResilienceFromConfig(&cfg.Integration, 0)
	policy.RetryTimes = 0
	return invoker.NewResilientIntegration(httpInvoker, policy), nil
}

func (s *Service) redisClient(cfg *config.Config) redis.UniversalClient {
	if s.redis == nil {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: string(cfg.Redis.Password),
			DB:       cfg.Redis.DB,
		})
		s.ownsRedis = true
	}
	return s.redis
}

func (s *Service) buildStore(cfg *config.Config, given store.Store) (store.Store, error) {
	if given != nil {
		return given, nil
	}
	switch cfg.Store.Driver {
	case "", "memory":
		return store.NewMemoryStore(), nil
	case "redis":
		return store.NewRedisStore(s.redisClient(cfg), store.WithPrefix(cfg.Store.Prefix)), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

func (s *Service) buildReporter(cfg *config.Config, given report.Reporter) report.Reporter {
	if given != nil {
		return given
	}
	if !cfg.Report.Enabled {
		return report.Nop{}
	}
	var provider pubsub.Provider = pubsub.NewMemoryProvider()
	if cfg.Store.Driver == "redis" {
		if rp, err := pubsub.NewRedisProvider(s.redisClient(cfg)); err == nil {
			provider = rp
		}
	}
	return report.Multi{report.LogReporter{}, report.NewPubSubReporter(provider, cfg.Report.Channel)}
}

// Monitoring returns the Prometheus service, or nil when a meter was given.
func (s *Service) Monitoring() *monitoring.Service {
	return s.monitoring
}

// GetMetrics snapshots the shared aggregator.
func (s *Service) GetMetrics() metrics.Snapshot {
	return s.metrics.Snapshot()
}

// Close releases the evaluator cache, store, meter provider and any redis
// client the service created.
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	s.evaluator.Close()
	if err := s.store.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.monitoring != nil {
		if err := s.monitoring.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if s.ownsRedis {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) withConfig(ctx context.Context) context.Context {
	return config.ContextWithConfig(ctx, s.cfg)
}
