package collab

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"dario.cat/mergo"
	"github.com/bytedance/sonic"
	"github.com/compozy/conductor/engine/core"
	"github.com/compozy/conductor/engine/crew"
	"github.com/compozy/conductor/engine/invoker"
	"github.com/compozy/conductor/engine/oracle"
	"github.com/compozy/conductor/pkg/config"
	"github.com/compozy/conductor/pkg/logger"
)

// Recorder receives crew execution measurements.
type Recorder interface {
	CrewStarted(ctx context.Context)
	CrewFinished(ctx context.Context, status core.StatusType, d time.Duration)
	TaskExecuted(ctx context.Context, strategy string, success bool, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) CrewStarted(context.Context)                                 {}
func (nopRecorder) CrewFinished(context.Context, core.StatusType, time.Duration) {}
func (nopRecorder) TaskExecuted(context.Context, string, bool, time.Duration)    {}

type entry struct {
	crew *crew.Crew
	pool *pool
}

// Engine registers crews and runs them under one of three strategies.
type Engine struct {
	oracle   oracle.CompletionOracle
	tools    invoker.ToolInvoker
	recorder Recorder

	mu    sync.RWMutex
	crews map[string]*entry
}

type Option func(*Engine)

func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithTools lets agents call the tools named by their capabilities.
func WithTools(tools invoker.ToolInvoker) Option {
	return func(e *Engine) {
		e.tools = tools
	}
}

func NewEngine(completer oracle.CompletionOracle, opts ...Option) *Engine {
	e := &Engine{
		oracle:   completer,
		recorder: nopRecorder{},
		crews:    make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateCrew validates and registers a crew. Re-creating an id stores a new
// version with a fresh agent pool.
func (e *Engine) CreateCrew(ctx context.Context, spec *crew.Spec) (*crew.Crew, error) {
	cfg := config.FromContext(ctx)
	c, err := crew.New(spec, crew.Defaults{
		MaxConcurrentTasks: cfg.Engine.DefaultMaxConcurrentTasks,
		PerformanceScore:   cfg.Engine.InitialPerformanceScore,
	})
	if err != nil {
		return nil, err
	}
	id := spec.ID
	if id == "" {
		newID, err := core.NewID()
		if err != nil {
			return nil, err
		}
		id = newID.String()
	}
	e.mu.Lock()
	version := 1
	if prev, ok := e.crews[id]; ok {
		version = prev.crew.Version + 1
	}
	c = c.WithVersion(id, version)
	e.crews[id] = &entry{crew: c, pool: newPool(c)}
	e.mu.Unlock()
	logger.FromContext(ctx).Info("Crew created",
		"crew_id", id,
		"version", version,
		"strategy", c.Strategy,
		"agents", len(c.Agents),
	)
	return c, nil
}

// Install adds an already-validated crew unless a newer version is present.
func (e *Engine) Install(c *crew.Crew) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if prev, ok := e.crews[c.ID]; ok && prev.crew.Version >= c.Version {
		return
	}
	e.crews[c.ID] = &entry{crew: c, pool: newPool(c)}
}

// Crew returns the latest version of a registered crew.
func (e *Engine) Crew(id string) (*crew.Crew, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ent, ok := e.crews[id]
	if !ok {
		return nil, false
	}
	return ent.crew, true
}

// ExecuteCrew runs crewID's tasks. Only an unknown crew is an error; task
// failures are carried in the result.
func (e *Engine) ExecuteCrew(ctx context.Context, crewID string, input map[string]any) (*CollaborationResult, error) {
	e.mu.RLock()
	ent, ok := e.crews[crewID]
	e.mu.RUnlock()
	if !ok {
		return nil, core.NewErrorf(core.ErrCodeNotFound, "crew %s not found", crewID)
	}
	execID := core.MustNewID()
	log := logger.FromContext(ctx).With("crew_id", crewID, "exec_id", execID)
	ctx = logger.ContextWithLogger(ctx, log)
	started := time.Now()
	e.recorder.CrewStarted(ctx)
	log.Info("Crew execution started", "strategy", ent.crew.Strategy)

	r := &run{
		engine: e,
		crew:   ent.crew,
		pool:   ent.pool,
		execID: execID,
		input:  core.CloneMap(input),
		tasks:  ent.crew.RunTasks(),
	}
	res := &CollaborationResult{
		CrewID:      ent.crew.ID,
		Version:     ent.crew.Version,
		ExecutionID: execID,
		Strategy:    ent.crew.Strategy,
		StartedAt:   started.UTC(),
	}
	switch ent.crew.Strategy {
	case crew.StrategyHierarchical:
		r.hierarchical(ctx, res)
	case crew.StrategyDemocratic:
		r.democratic(ctx, res)
	case crew.StrategySwarm:
		r.swarm(ctx, res)
	}
	if err := ctx.Err(); err != nil {
		res.Status = core.StatusCanceled
		res.Error = core.NewError(err, core.ErrCodeCanceled, nil)
	}
	res.summarize()
	finished := time.Now()
	res.FinishedAt = finished.UTC()
	res.Duration = finished.Sub(started)
	e.recorder.CrewFinished(ctx, res.Status, res.Duration)
	log.Info("Crew execution finished", "status", res.Status, "duration", res.Duration)
	return res, nil
}

// run is the per-execution view of a crew: a private task list over the
// shared agent pool.
type run struct {
	engine *Engine
	crew   *crew.Crew
	pool   *pool
	execID core.ID
	input  map[string]any
	tasks  []crew.Task

	mu sync.Mutex
}

func (r *run) status(i int) crew.TaskStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tasks[i].Status
}

func (r *run) setStatus(i int, s crew.TaskStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[i].Status = s
}

func (r *run) finish(i int, rec *TaskRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := &r.tasks[i]
	t.Status = rec.Status
	t.AssignedAgent = rec.AgentID
	t.Result = rec.Output
	t.Error = rec.Error
	t.Duration = rec.Duration
}

// unmetDependency returns the first dependency of task i that did not
// complete.
func (r *run) unmetDependency(i int) string {
	for _, dep := range r.tasks[i].Dependencies {
		for j := range r.tasks {
			if r.tasks[j].ID == dep && r.status(j) != crew.TaskCompleted {
				return dep
			}
		}
	}
	return ""
}

func failedTask(task *crew.Task, code, format string, args ...any) *TaskRecord {
	return &TaskRecord{
		TaskID:    task.ID,
		Status:    crew.TaskFailed,
		Error:     core.NewErrorf(code, format, args...),
		StartedAt: time.Now().UTC(),
	}
}

// execute claims an agent from order and runs task i with it.
func (r *run) execute(ctx context.Context, i int, order []int, extra map[string]any) *TaskRecord {
	task := &r.tasks[i]
	log := logger.FromContext(ctx).With("task_id", task.ID)
	if err := ctx.Err(); err != nil {
		return failedTask(task, core.ErrCodeCanceled, "task %s canceled: %v", task.ID, err)
	}
	if dep := r.unmetDependency(i); dep != "" {
		return failedTask(task, core.ErrCodeTaskExecution, "dependency %s of task %s did not complete", dep, task.ID)
	}
	if err := r.pool.acquireSlot(ctx); err != nil {
		return failedTask(task, core.ErrCodeCanceled, "task %s canceled while waiting for a slot: %v", task.ID, err)
	}
	defer r.pool.releaseSlot()
	agent, err := r.pool.claim(ctx, order)
	if err != nil {
		return failedTask(task, core.ErrCodeCanceled, "task %s canceled while waiting for an agent: %v", task.ID, err)
	}
	r.setStatus(i, crew.TaskInProgress)
	started := time.Now()
	log.Debug("Task assigned", "agent_id", agent.ID)
	rec := &TaskRecord{TaskID: task.ID, AgentID: agent.ID, StartedAt: started.UTC()}

	taskCtx := ctx
	if timeout := config.FromContext(ctx).Engine.TaskTimeout; timeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	out, err := r.safePerform(taskCtx, agent, task, extra)
	rec.Duration = time.Since(started)
	if err != nil {
		rec.Status = crew.TaskFailed
		rec.Error = core.NewError(err, core.ErrCodeTaskExecution, map[string]any{
			"task_id":  task.ID,
			"agent_id": agent.ID,
		})
		log.Warn("Task failed", "agent_id", agent.ID, "error", err)
	} else {
		rec.Status = crew.TaskCompleted
		rec.Output = out.Text
		rec.TokensUsed = out.TokensUsed
	}
	r.pool.release(agent, crew.HistoryEntry{
		ExecutionID: r.execID.String(),
		TaskID:      task.ID,
		Success:     err == nil,
		Duration:    rec.Duration,
	})
	r.engine.recorder.TaskExecuted(ctx, string(r.crew.Strategy), err == nil, rec.Duration)
	return rec
}

func (r *run) safePerform(
	ctx context.Context,
	agent *crew.Agent,
	task *crew.Task,
	extra map[string]any,
) (out *oracle.Completion, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, err = nil, fmt.Errorf("task %s panicked: %v", task.ID, p)
		}
	}()
	return r.perform(ctx, agent, task, extra)
}

// perform builds the agent prompt, runs matching capability tools and asks
// the oracle for the task output.
func (r *run) perform(
	ctx context.Context,
	agent *crew.Agent,
	task *crew.Task,
	extra map[string]any,
) (*oracle.Completion, error) {
	if r.engine.oracle == nil {
		return nil, oracle.ErrUnavailable("no completion oracle configured")
	}
	input := core.CloneMap(r.input)
	for k, v := range task.Input {
		input[k] = v
	}
	for k, v := range extra {
		input[k] = v
	}
	toolNotes := r.runTools(ctx, agent, task, input)
	prompt, err := buildPrompt(agent, task, input, toolNotes)
	if err != nil {
		return nil, err
	}
	params := oracle.ModelParams{}
	for k, v := range agent.ModelParams {
		params[k] = v
	}
	if len(r.crew.ModelParams) > 0 {
		if err := mergo.Merge(&params, oracle.ModelParams(r.crew.ModelParams)); err != nil {
			return nil, fmt.Errorf("failed to merge model params: %w", err)
		}
	}
	callCtx := ctx
	if timeout := config.FromContext(ctx).Engine.CompletionTimeout; timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return r.engine.oracle.Complete(callCtx, prompt, params)
}

func (r *run) runTools(ctx context.Context, agent *crew.Agent, task *crew.Task, input map[string]any) []string {
	if r.engine.tools == nil {
		return nil
	}
	var notes []string
	timeout := config.FromContext(ctx).Engine.ToolTimeout
	for _, capability := range crew.MatchedCapabilities(agent, task) {
		if capability.Tool == "" {
			continue
		}
		toolCtx, cancel := ctx, context.CancelFunc(func() {})
		if timeout > 0 {
			toolCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		out, err := r.engine.tools.Invoke(toolCtx, capability.Tool, map[string]any{
			"task":  task.Description,
			"input": input,
		})
		cancel()
		if err != nil {
			logger.FromContext(ctx).Warn("Capability tool failed", "tool", capability.Tool, "error", err)
			notes = append(notes, fmt.Sprintf("%s: unavailable (%v)", capability.Tool, err))
			continue
		}
		notes = append(notes, fmt.Sprintf("%s: %v", capability.Tool, out))
	}
	return notes
}

func buildPrompt(agent *crew.Agent, task *crew.Task, input map[string]any, toolNotes []string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.\n", agent.Role.Name)
	if len(agent.Role.ExpertiseAreas) > 0 {
		fmt.Fprintf(&b, "Expertise: %s\n", strings.Join(agent.Role.ExpertiseAreas, ", "))
	}
	fmt.Fprintf(&b, "Task: %s\n", task.Description)
	if len(input) > 0 {
		encoded, err := sonic.ConfigStd.MarshalToString(input)
		if err != nil {
			return "", fmt.Errorf("failed to encode task input: %w", err)
		}
		fmt.Fprintf(&b, "Input: %s\n", encoded)
	}
	if len(toolNotes) > 0 {
		b.WriteString("Tool results:\n")
		for _, note := range toolNotes {
			fmt.Fprintf(&b, "- %s\n", note)
		}
	}
	return b.String(), nil
}
