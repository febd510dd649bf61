package oracle

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/compozy/conductor/pkg/logger"
	"github.com/sethvargo/go-retry"
	"github.com/tidwall/gjson"
	"github.com/tmc/langchaingo/llms"
	"golang.org/x/time/rate"
)

const (
	defaultRetryAttempts = 2
	retryBackoffBase     = 200 * time.Millisecond
	retryBackoffMax      = 5 * time.Second
)

// LLMOracle implements CompletionOracle on top of any langchaingo model.
type LLMOracle struct {
	model         llms.Model
	retryAttempts int
	limiter       *rate.Limiter
	systemPrompt  string
}

type LLMOption func(*LLMOracle)

// WithRetryAttempts sets how many times a failed generation is retried.
func WithRetryAttempts(n int) LLMOption {
	return func(o *LLMOracle) {
		if n >= 0 && n <= 10 {
			o.retryAttempts = n
		}
	}
}

// WithRateLimit caps model calls per second; zero disables the limiter.
func WithRateLimit(rps float64) LLMOption {
	return func(o *LLMOracle) {
		if rps > 0 {
			o.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
		}
	}
}

// WithSystemPrompt prefixes every call with a system message.
func WithSystemPrompt(prompt string) LLMOption {
	return func(o *LLMOracle) {
		o.systemPrompt = prompt
	}
}

func NewLLMOracle(model llms.Model, opts ...LLMOption) *LLMOracle {
	o := &LLMOracle{model: model, retryAttempts: defaultRetryAttempts}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Complete generates text for prompt.
func (o *LLMOracle) Complete(ctx context.Context, prompt string, params ModelParams) (*Completion, error) {
	resp, err := o.generate(ctx, prompt, params)
	if err != nil {
		return nil, wrapUnavailable(err, "complete")
	}
	return resp, nil
}

// Decide asks the model to pick one of the candidates and parses its JSON
// reply. Replies naming an unknown candidate are errors.
func (o *LLMOracle) Decide(ctx context.Context, req *DecisionRequest) (*Decision, error) {
	if req == nil || len(req.Candidates) == 0 {
		return nil, ErrUnavailable("decision request has no candidates")
	}
	resp, err := o.generate(ctx, decisionPrompt(req), ModelParams{"temperature": 0.0, "json": true})
	if err != nil {
		return nil, wrapUnavailable(err, "decide")
	}
	decision, err := parseDecision(resp.Text)
	if err != nil {
		return nil, wrapUnavailable(err, "decide")
	}
	for _, c := range req.Candidates {
		if c.NodeID == decision.NextNodeID {
			return decision, nil
		}
	}
	return nil, ErrUnavailable("model chose unknown node %q", decision.NextNodeID)
}

func (o *LLMOracle) generate(ctx context.Context, prompt string, params ModelParams) (*Completion, error) {
	log := logger.FromContext(ctx)
	messages := make([]llms.MessageContent, 0, 2)
	if o.systemPrompt != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, o.systemPrompt))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, prompt))
	callOpts := callOptions(params)

	exponential := retry.WithMaxDuration(retryBackoffMax, retry.NewExponential(retryBackoffBase))
	backoff := retry.WithMaxRetries(uint64(o.retryAttempts), retry.WithJitter(50*time.Millisecond, exponential)) // #nosec G115
	var resp *llms.ContentResponse
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if o.limiter != nil {
			if err := o.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		var callErr error
		resp, callErr = o.model.GenerateContent(ctx, messages, callOpts...)
		if callErr != nil {
			if isRetryable(ctx, callErr) {
				log.Debug("Retrying model call", "error", callErr)
				return retry.RetryableError(callErr)
			}
			return callErr
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, errors.New("model returned no choices")
	}
	choice := resp.Choices[0]
	return &Completion{Text: choice.Content, TokensUsed: tokensUsed(choice, prompt)}, nil
}

func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func callOptions(params ModelParams) []llms.CallOption {
	var opts []llms.CallOption
	if m, ok := params["model"].(string); ok && m != "" {
		opts = append(opts, llms.WithModel(m))
	}
	if t, ok := asFloat(params["temperature"]); ok {
		opts = append(opts, llms.WithTemperature(t))
	}
	if n, ok := asFloat(params["max_tokens"]); ok && n > 0 {
		opts = append(opts, llms.WithMaxTokens(int(n)))
	}
	if p, ok := asFloat(params["top_p"]); ok {
		opts = append(opts, llms.WithTopP(p))
	}
	if j, ok := params["json"].(bool); ok && j {
		opts = append(opts, llms.WithJSONMode())
	}
	return opts
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// tokensUsed reads provider usage info, falling back to a word count.
func tokensUsed(choice *llms.ContentChoice, prompt string) int {
	for _, key := range []string{"TotalTokens", "total_tokens"} {
		if v, ok := choice.GenerationInfo[key]; ok {
			if n, ok := asFloat(v); ok {
				return int(n)
			}
		}
	}
	return len(strings.Fields(prompt)) + len(strings.Fields(choice.Content))
}

func decisionPrompt(req *DecisionRequest) string {
	var b strings.Builder
	b.WriteString("You are routing a workflow execution. Choose the next node.\n")
	fmt.Fprintf(&b, "Current node: %s\n", req.CurrentNodeID)
	b.WriteString("Candidates:\n")
	for _, c := range req.Candidates {
		fmt.Fprintf(&b, "- %s", c.NodeID)
		if c.NodeType != "" {
			fmt.Fprintf(&b, " (%s)", c.NodeType)
		}
		if c.Description != "" {
			fmt.Fprintf(&b, ": %s", c.Description)
		}
		b.WriteString("\n")
	}
	b.WriteString("State keys: ")
	b.WriteString(strings.Join(slices.Sorted(maps.Keys(req.State)), ", "))
	b.WriteString("\nRespond with JSON: {\"next_node_id\": string, \"confidence\": number, \"rationale\": string}\n")
	return b.String()
}

// parseDecision extracts the decision object from a reply that may wrap the
// JSON in prose or code fences.
func parseDecision(text string) (*Decision, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in model reply")
	}
	raw := text[start : end+1]
	if !gjson.Valid(raw) {
		return nil, fmt.Errorf("malformed JSON in model reply")
	}
	next := gjson.Get(raw, "next_node_id")
	if !next.Exists() || next.String() == "" {
		return nil, fmt.Errorf("model reply has no next_node_id")
	}
	return &Decision{
		NextNodeID: next.String(),
		Confidence: gjson.Get(raw, "confidence").Float(),
		Rationale:  gjson.Get(raw, "rationale").String(),
	}, nil
}
