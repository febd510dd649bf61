package collab

import (
	"context"
	"sync"

	"github.com/compozy/conductor/engine/crew"
	"golang.org/x/sync/semaphore"
)

// pool hands out a crew's agents to tasks. Agents are shared by every run of
// the crew; claims go through the agent's own idle->busy transition.
type pool struct {
	agents []*crew.Agent
	slots  *semaphore.Weighted

	mu       sync.Mutex
	released chan struct{}
}

func newPool(c *crew.Crew) *pool {
	return &pool{
		agents:   c.Agents,
		slots:    semaphore.NewWeighted(int64(c.MaxConcurrentTasks)),
		released: make(chan struct{}),
	}
}

// claim takes the first idle agent in order, waiting for a release when all
// of them are busy.
func (p *pool) claim(ctx context.Context, order []int) (*crew.Agent, error) {
	for {
		p.mu.Lock()
		wait := p.released
		p.mu.Unlock()
		for _, i := range order {
			if p.agents[i].TryClaim() {
				return p.agents[i], nil
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

// release returns agent to the pool and wakes waiting claimers.
func (p *pool) release(agent *crew.Agent, entry crew.HistoryEntry) {
	if !entry.Success {
		agent.MarkFailed()
	}
	agent.Release(entry)
	p.mu.Lock()
	close(p.released)
	p.released = make(chan struct{})
	p.mu.Unlock()
}

// acquireSlot bounds the number of in-progress tasks across all runs.
func (p *pool) acquireSlot(ctx context.Context) error {
	return p.slots.Acquire(ctx, 1)
}

func (p *pool) releaseSlot() {
	p.slots.Release(1)
}
