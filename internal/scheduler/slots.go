package scheduler

import (
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// agentSlots tracks one agent's execution slots within a job.
type agentSlots struct {
	group   *agentGroup
	sem     *semaphore.Weighted // nil when the agent is unbounded
	limiter *rate.Limiter       // nil when the agent has no rate limit
	running int
}

// slotManager provides per-agent concurrency accounting for one job.
// Slots never span agents or jobs.
type slotManager struct {
	agents map[string]*agentSlots
}

func newSlotManager(groups map[string]*agentGroup) *slotManager {
	m := &slotManager{agents: make(map[string]*agentSlots, len(groups))}
	for name, group := range groups {
		slots := &agentSlots{group: group}
		if group.def.Concurrency > 0 {
			slots.sem = semaphore.NewWeighted(int64(group.def.Concurrency))
		}
		if group.def.RateLimit > 0 {
			slots.limiter = rate.NewLimiter(rate.Limit(group.def.RateLimit), group.def.Burst)
		}
		m.agents[name] = slots
	}
	return m
}

// tryAcquire takes a slot for inst without blocking.
// Ordered agents hand out a single slot, and only to the first non-terminal
// task in declaration order.
func (m *slotManager) tryAcquire(inst *TaskInstance) bool {
	slots := m.agents[inst.Ref.Agent]
	if slots.group.def.Ordered {
		if slots.running > 0 || slots.nextInOrder() != inst {
			return false
		}
	}
	if slots.sem != nil && !slots.sem.TryAcquire(1) {
		return false
	}
	slots.running++
	return true
}

// release returns the slot held by inst.
func (m *slotManager) release(inst *TaskInstance) {
	slots := m.agents[inst.Ref.Agent]
	if slots.running == 0 {
		return
	}
	slots.running--
	if slots.sem != nil {
		slots.sem.Release(1)
	}
}

// limiter returns the agent's rate limiter, or nil.
func (m *slotManager) limiter(agent string) *rate.Limiter {
	return m.agents[agent].limiter
}

// nextInOrder returns the first task of the agent that has not reached a terminal state.
func (s *agentSlots) nextInOrder() *TaskInstance {
	for _, inst := range s.group.tasks {
		if !inst.State.Terminal() {
			return inst
		}
	}
	return nil
}
