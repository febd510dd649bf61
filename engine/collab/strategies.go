package collab

import (
	"context"
	"sync"

	"github.com/compozy/conductor/engine/crew"
	"github.com/compozy/conductor/pkg/logger"
)

// hierarchical runs tasks one at a time in list order, feeding each task the
// previous completed output. The manager only directs; tasks go to the best
// fitting agent.
func (r *run) hierarchical(ctx context.Context, res *CollaborationResult) {
	manager := r.crew.Agents[r.crew.Manager()]
	res.ManagerID = manager.ID
	logger.FromContext(ctx).Debug("Manager selected", "agent_id", manager.ID)
	var previous any
	for _, i := range r.sequence() {
		var extra map[string]any
		if previous != nil {
			extra = map[string]any{"previous_output": previous}
		}
		rec := r.execute(ctx, i, crew.Rank(r.crew.Agents, &r.tasks[i]), extra)
		r.finish(i, rec)
		res.Tasks = append(res.Tasks, rec)
		if rec.Status == crew.TaskCompleted {
			previous = rec.Output
			res.FinalOutput = rec.Output
		}
	}
}

// democratic runs tasks sequentially; each task goes to the agent collecting
// the most votes.
func (r *run) democratic(ctx context.Context, res *CollaborationResult) {
	for _, i := range r.sequence() {
		votes, winner := r.vote(&r.tasks[i])
		rec := r.execute(ctx, i, []int{winner}, nil)
		rec.Votes = votes
		r.finish(i, rec)
		res.Tasks = append(res.Tasks, rec)
		if rec.Status == crew.TaskCompleted {
			res.FinalOutput = rec.Output
		}
	}
}

// vote lets each agent cast one vote for itself when it fits the task at
// all. The winner is the earliest agent with the most votes, or the best fit
// when nobody voted.
func (r *run) vote(task *crew.Task) (map[string]int, int) {
	votes := make(map[string]int, len(r.crew.Agents))
	winner, most := -1, 0
	for i, a := range r.crew.Agents {
		if crew.FitScore(a, task) > 0 {
			votes[a.ID]++
		}
		if n := votes[a.ID]; n > most {
			winner, most = i, n
		}
	}
	if winner < 0 {
		winner = crew.Best(r.crew.Agents, task)
	}
	return votes, winner
}

// swarm runs every task on its own goroutine. The crew slot semaphore caps
// how many are in progress; a task starts once its dependencies are done.
func (r *run) swarm(ctx context.Context, res *CollaborationResult) {
	done := make(map[string]chan struct{}, len(r.tasks))
	for i := range r.tasks {
		done[r.tasks[i].ID] = make(chan struct{})
	}
	records := make([]*TaskRecord, len(r.tasks))
	var wg sync.WaitGroup
	for i := range r.tasks {
		wg.Go(func() {
			defer close(done[r.tasks[i].ID])
			for _, dep := range r.tasks[i].Dependencies {
				select {
				case <-done[dep]:
				case <-ctx.Done():
				}
			}
			rec := r.execute(ctx, i, crew.Rank(r.crew.Agents, &r.tasks[i]), nil)
			r.finish(i, rec)
			records[i] = rec
		})
	}
	wg.Wait()
	outputs := make(map[string]any, len(records))
	for _, rec := range records {
		if rec.Status == crew.TaskCompleted {
			outputs[rec.TaskID] = rec.Output
		}
	}
	res.Tasks = records
	res.FinalOutput = outputs
}

// sequence orders task indices so dependencies come first, keeping list order
// otherwise. Crews are validated acyclic.
func (r *run) sequence() []int {
	index := make(map[string]int, len(r.tasks))
	for i := range r.tasks {
		index[r.tasks[i].ID] = i
	}
	placed := make([]bool, len(r.tasks))
	order := make([]int, 0, len(r.tasks))
	var visit func(i int)
	visit = func(i int) {
		if placed[i] {
			return
		}
		placed[i] = true
		for _, dep := range r.tasks[i].Dependencies {
			if j, ok := index[dep]; ok {
				visit(j)
			}
		}
		order = append(order, i)
	}
	for i := range r.tasks {
		visit(i)
	}
	return order
}
