package node

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/compozy/conductor/engine/expr"
	"github.com/compozy/conductor/engine/graph"
	"github.com/compozy/conductor/engine/invoker"
	"github.com/compozy/conductor/engine/oracle"
	"github.com/compozy/conductor/pkg/config"
	"github.com/compozy/conductor/pkg/logger"
	"github.com/compozy/conductor/pkg/tplengine"
	"github.com/go-viper/mapstructure/v2"
)

// Dependencies are the collaborators the built-in executors call out to.
// Nil collaborators leave the matching node type unregistered.
type Dependencies struct {
	Oracle       oracle.CompletionOracle
	Tools        invoker.ToolInvoker
	Integrations invoker.IntegrationInvoker
	Evaluator    expr.Evaluator
	Templates    *tplengine.TemplateEngine
}

// NewDefaultRegistry registers an executor for every node type whose
// collaborator is available. The human executor needs none.
func NewDefaultRegistry(deps *Dependencies) (*Registry, error) {
	if deps.Templates == nil {
		deps.Templates = tplengine.NewEngine()
	}
	reg := NewRegistry()
	bindings := map[graph.NodeType]Executor{
		graph.NodeTypeHuman: &HumanExecutor{},
	}
	if deps.Oracle != nil {
		bindings[graph.NodeTypeLLM] = &LLMExecutor{oracle: deps.Oracle, templates: deps.Templates}
		bindings[graph.NodeTypeDecision] = &DecisionExecutor{oracle: deps.Oracle, templates: deps.Templates}
	}
	if deps.Tools != nil {
		bindings[graph.NodeTypeTool] = &ToolExecutor{tools: deps.Tools, templates: deps.Templates}
	}
	if deps.Integrations != nil {
		bindings[graph.NodeTypeIntegration] = &IntegrationExecutor{
			integrations: deps.Integrations,
			templates:    deps.Templates,
		}
	}
	if deps.Evaluator != nil {
		bindings[graph.NodeTypeCondition] = &ConditionExecutor{evaluator: deps.Evaluator}
	}
	for t, exec := range bindings {
		if err := reg.Register(t, exec); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func decodeConfig(
	templates *tplengine.TemplateEngine,
	req *Request,
	out any,
	skip ...string,
) error {
	raw := make(map[string]any, len(req.Node.Config))
	for k, v := range req.Node.Config {
		raw[k] = v
	}
	for k, v := range raw {
		if containsKey(skip, k) {
			continue
		}
		rendered, err := templates.ParseMap(v, req.Context)
		if err != nil {
			return fmt.Errorf("failed to render config %q: %w", k, err)
		}
		raw[k] = rendered
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("invalid %s node config: %w", req.Node.Type, err)
	}
	return nil
}

func containsKey(keys []string, k string) bool {
	for _, key := range keys {
		if key == k {
			return true
		}
	}
	return false
}

func withCallTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// -----------------------------------------------------------------------------
// LLM
// -----------------------------------------------------------------------------

type llmConfig struct {
	Prompt      string         `mapstructure:"prompt"`
	ModelParams map[string]any `mapstructure:"model_params"`
}

// LLMExecutor renders a prompt and asks the oracle to complete it.
type LLMExecutor struct {
	oracle    oracle.CompletionOracle
	templates *tplengine.TemplateEngine
}

func (e *LLMExecutor) Execute(ctx context.Context, req *Request) (*Result, error) {
	var cfg llmConfig
	if err := decodeConfig(e.templates, req, &cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Prompt) == "" {
		return nil, errors.New("llm node requires a prompt")
	}
	callCtx, cancel := withCallTimeout(ctx, config.FromContext(ctx).Engine.CompletionTimeout)
	defer cancel()
	out, err := e.oracle.Complete(callCtx, cfg.Prompt, cfg.ModelParams)
	if err != nil {
		return nil, err
	}
	return &Result{
		Output:     map[string]any{"text": out.Text, "tokens_used": out.TokensUsed},
		TokensUsed: out.TokensUsed,
	}, nil
}

// -----------------------------------------------------------------------------
// Tool
// -----------------------------------------------------------------------------

type toolConfig struct {
	Tool       string         `mapstructure:"tool"`
	Parameters map[string]any `mapstructure:"parameters"`
}

// ToolExecutor invokes a named tool with rendered parameters.
type ToolExecutor struct {
	tools     invoker.ToolInvoker
	templates *tplengine.TemplateEngine
}

func (e *ToolExecutor) Execute(ctx context.Context, req *Request) (*Result, error) {
	var cfg toolConfig
	if err := decodeConfig(e.templates, req, &cfg); err != nil {
		return nil, err
	}
	if cfg.Tool == "" {
		return nil, errors.New("tool node requires a tool name")
	}
	callCtx, cancel := withCallTimeout(ctx, config.FromContext(ctx).Engine.ToolTimeout)
	defer cancel()
	out, err := e.tools.Invoke(callCtx, cfg.Tool, cfg.Parameters)
	if err != nil {
		return nil, fmt.Errorf("tool %s failed: %w", cfg.Tool, err)
	}
	return &Result{Output: out}, nil
}

// -----------------------------------------------------------------------------
// Condition
// -----------------------------------------------------------------------------

// ConditionExecutor evaluates config.expression against the context.
type ConditionExecutor struct {
	evaluator expr.Evaluator
}

func (e *ConditionExecutor) Execute(ctx context.Context, req *Request) (*Result, error) {
	expression, _ := req.Node.Config["expression"].(string)
	if expression == "" {
		return nil, errors.New("condition node requires an expression")
	}
	ok, err := e.evaluator.Evaluate(ctx, expression, req.Context)
	if err != nil {
		return nil, err
	}
	return &Result{Output: map[string]any{"result": ok}}, nil
}

// -----------------------------------------------------------------------------
// Integration
// -----------------------------------------------------------------------------

type integrationConfig struct {
	IntegrationType string         `mapstructure:"integration_type"`
	Config          map[string]any `mapstructure:"config"`
}

// IntegrationExecutor triggers an external automation.
type IntegrationExecutor struct {
	integrations invoker.IntegrationInvoker
	templates    *tplengine.TemplateEngine
}

func (e *IntegrationExecutor) Execute(ctx context.Context, req *Request) (*Result, error) {
	var cfg integrationConfig
	if err := decodeConfig(e.templates, req, &cfg); err != nil {
		return nil, err
	}
	if cfg.IntegrationType == "" {
		return nil, errors.New("integration node requires integration_type")
	}
	callCtx, cancel := withCallTimeout(ctx, config.FromContext(ctx).Engine.IntegrationTimeout)
	defer cancel()
	out, err := e.integrations.Invoke(callCtx, cfg.IntegrationType, cfg.Config)
	if err != nil {
		return nil, fmt.Errorf("integration %s failed: %w", cfg.IntegrationType, err)
	}
	return &Result{Output: out}, nil
}

// -----------------------------------------------------------------------------
// Human
// -----------------------------------------------------------------------------

// HumanExecutor reads a human answer from the context, falling back to a
// configured default.
type HumanExecutor struct{}

func (e *HumanExecutor) Execute(ctx context.Context, req *Request) (*Result, error) {
	key, _ := req.Node.Config["input_key"].(string)
	if key == "" {
		key = req.Node.ID + "_response"
	}
	if answer, ok := req.Context[key]; ok && answer != nil {
		return &Result{Output: map[string]any{"response": answer, "source": "context"}}, nil
	}
	if def, ok := req.Node.Config["default"]; ok {
		logger.FromContext(ctx).Debug("Using default human response", "node_id", req.Node.ID)
		return &Result{Output: map[string]any{"response": def, "source": "default"}}, nil
	}
	return nil, fmt.Errorf("awaiting human input at %q", key)
}

// -----------------------------------------------------------------------------
// Decision
// -----------------------------------------------------------------------------

type decisionConfig struct {
	Prompt      string         `mapstructure:"prompt"`
	Options     []string       `mapstructure:"options"`
	ModelParams map[string]any `mapstructure:"model_params"`
}

// DecisionExecutor asks the oracle to pick one of config.options.
type DecisionExecutor struct {
	oracle    oracle.CompletionOracle
	templates *tplengine.TemplateEngine
}

func (e *DecisionExecutor) Execute(ctx context.Context, req *Request) (*Result, error) {
	var cfg decisionConfig
	if err := decodeConfig(e.templates, req, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Options) == 0 {
		return nil, errors.New("decision node requires options")
	}
	var prompt strings.Builder
	prompt.WriteString(cfg.Prompt)
	prompt.WriteString("\nChoose exactly one of: ")
	prompt.WriteString(strings.Join(cfg.Options, ", "))
	callCtx, cancel := withCallTimeout(ctx, config.FromContext(ctx).Engine.CompletionTimeout)
	defer cancel()
	out, err := e.oracle.Complete(callCtx, prompt.String(), cfg.ModelParams)
	if err != nil {
		return nil, err
	}
	return &Result{
		Output:     map[string]any{"decision": pickOption(out.Text, cfg.Options), "text": out.Text},
		TokensUsed: out.TokensUsed,
	}, nil
}

// pickOption returns the option named earliest in text, or the first option.
func pickOption(text string, options []string) string {
	lower := strings.ToLower(text)
	best, bestPos := options[0], -1
	for _, opt := range options {
		pos := strings.Index(lower, strings.ToLower(opt))
		if pos >= 0 && (bestPos < 0 || pos < bestPos) {
			best, bestPos = opt, pos
		}
	}
	return best
}
