package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/compozy/conductor/engine/core"
	"github.com/compozy/conductor/pkg/logger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "conductor"

// DurationBuckets are the histogram boundaries, in seconds, for workflow,
// crew, node and task durations.
var DurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// Counts tracks executions of one kind.
type Counts struct {
	Total     int64 `json:"total"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Snapshot is a point-in-time copy of the aggregator.
type Snapshot struct {
	Workflows            Counts        `json:"workflows"`
	Crews                Counts        `json:"crews"`
	NodesExecuted        int64         `json:"nodes_executed"`
	TasksExecuted        int64         `json:"tasks_executed"`
	AverageExecutionTime time.Duration `json:"average_execution_time"`
}

type counters struct {
	total, active, completed, failed atomic.Int64
}

func (c *counters) snapshot() Counts {
	return Counts{
		Total:     c.total.Load(),
		Active:    c.active.Load(),
		Completed: c.completed.Load(),
		Failed:    c.failed.Load(),
	}
}

func (c *counters) finish(status core.StatusType) {
	c.active.Add(-1)
	if status == core.StatusFailed || status == core.StatusCanceled {
		c.failed.Add(1)
		return
	}
	c.completed.Add(1)
}

// Aggregator is the one metrics sink shared by both engines. Partial
// successes count as completed; cancellations count as failed.
type Aggregator struct {
	workflows counters
	crews     counters
	nodes     atomic.Int64
	tasks     atomic.Int64

	avgMu sync.Mutex
	avg   time.Duration

	executions metric.Int64Counter
	active     metric.Int64UpDownCounter
	duration   metric.Float64Histogram
	steps      metric.Int64Counter
	stepTime   metric.Float64Histogram
}

// NewAggregator builds an aggregator recording instruments on meter. A nil
// meter records nothing beyond the in-memory counters.
func NewAggregator(ctx context.Context, meter metric.Meter) *Aggregator {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(meterName)
	}
	a := &Aggregator{}
	log := logger.FromContext(ctx)
	var err error
	if a.executions, err = meter.Int64Counter(
		"conductor_executions_total",
		metric.WithDescription("Finished workflow and crew executions by kind and status"),
	); err != nil {
		log.Error("Failed to create executions counter", "error", err)
	}
	if a.active, err = meter.Int64UpDownCounter(
		"conductor_executions_active",
		metric.WithDescription("Executions currently running by kind"),
	); err != nil {
		log.Error("Failed to create active executions gauge", "error", err)
	}
	if a.duration, err = meter.Float64Histogram(
		"conductor_execution_duration_seconds",
		metric.WithDescription("Workflow and crew execution duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(DurationBuckets...),
	); err != nil {
		log.Error("Failed to create execution duration histogram", "error", err)
	}
	if a.steps, err = meter.Int64Counter(
		"conductor_steps_total",
		metric.WithDescription("Executed nodes and tasks by kind, type and outcome"),
	); err != nil {
		log.Error("Failed to create steps counter", "error", err)
	}
	if a.stepTime, err = meter.Float64Histogram(
		"conductor_step_duration_seconds",
		metric.WithDescription("Node and task duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(DurationBuckets...),
	); err != nil {
		log.Error("Failed to create step duration histogram", "error", err)
	}
	return a
}

func (a *Aggregator) WorkflowStarted(ctx context.Context) {
	a.started(ctx, &a.workflows, "workflow")
}

func (a *Aggregator) WorkflowFinished(ctx context.Context, status core.StatusType, d time.Duration) {
	a.finished(ctx, &a.workflows, "workflow", status, d)
}

func (a *Aggregator) NodeExecuted(ctx context.Context, nodeType string, success bool, d time.Duration) {
	a.nodes.Add(1)
	a.step(ctx, "node", nodeType, success, d)
}

func (a *Aggregator) CrewStarted(ctx context.Context) {
	a.started(ctx, &a.crews, "crew")
}

func (a *Aggregator) CrewFinished(ctx context.Context, status core.StatusType, d time.Duration) {
	a.finished(ctx, &a.crews, "crew", status, d)
}

func (a *Aggregator) TaskExecuted(ctx context.Context, strategy string, success bool, d time.Duration) {
	a.tasks.Add(1)
	a.step(ctx, "task", strategy, success, d)
}

// Snapshot copies the current values.
func (a *Aggregator) Snapshot() Snapshot {
	a.avgMu.Lock()
	avg := a.avg
	a.avgMu.Unlock()
	return Snapshot{
		Workflows:            a.workflows.snapshot(),
		Crews:                a.crews.snapshot(),
		NodesExecuted:        a.nodes.Load(),
		TasksExecuted:        a.tasks.Load(),
		AverageExecutionTime: avg,
	}
}

func (a *Aggregator) started(ctx context.Context, c *counters, kind string) {
	c.total.Add(1)
	c.active.Add(1)
	if a.active != nil {
		a.active.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
}

func (a *Aggregator) finished(ctx context.Context, c *counters, kind string, status core.StatusType, d time.Duration) {
	c.finish(status)
	a.observe(d)
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	if a.active != nil {
		a.active.Add(ctx, -1, attrs)
	}
	if a.executions != nil {
		a.executions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", string(status)),
		))
	}
	if a.duration != nil {
		a.duration.Record(ctx, d.Seconds(), attrs)
	}
}

// observe blends d into the average as (avg + d) / 2, starting from zero.
// This weights recent runs heavily and is not a true mean.
func (a *Aggregator) observe(d time.Duration) {
	a.avgMu.Lock()
	defer a.avgMu.Unlock()
	a.avg = (a.avg + d) / 2
}

func (a *Aggregator) step(ctx context.Context, kind, label string, success bool, d time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	if a.steps != nil {
		a.steps.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("type", label),
			attribute.String("outcome", outcome),
		))
	}
	if a.stepTime != nil {
		a.stepTime.Record(ctx, d.Seconds(), metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("type", label),
		))
	}
}
