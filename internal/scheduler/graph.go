package scheduler

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gammazero/toposort"

	"github.com/aristath/yakuza/internal/definition"
)

// agentGroup is the part of an agent that a job's graph includes.
type agentGroup struct {
	def   *definition.AgentDefinition
	tasks []*TaskInstance // declaration order
}

// TaskGraph is the resolved, acyclic dependency structure of one job.
// Readers get snapshots; only the scheduler mutates instances.
type TaskGraph struct {
	mu        sync.RWMutex
	entry     string
	instances map[definition.TaskRef]*TaskInstance
	order     []*TaskInstance // topological
	agents    map[string]*agentGroup
}

// BuildGraph resolves the tasks reachable from the entry agent into a TaskGraph.
// Reachable means every task of the entry agent plus, transitively, every task
// they depend on, possibly in other agents.
func BuildGraph(scraper *definition.ScraperDefinition, entry string) (*TaskGraph, error) {
	entryAgent, ok := scraper.Lookup(entry)
	if !ok {
		return nil, &definition.NotFoundError{Kind: "agent", ID: entry}
	}

	// Collect reachable definitions, breadth first from the entry agent's tasks
	defs := make(map[definition.TaskRef]*definition.TaskDefinition)
	var discovered []definition.TaskRef
	queue := entryAgent.Tasks()
	for len(queue) > 0 {
		task := queue[0]
		queue = queue[1:]

		ref := task.Ref()
		if _, seen := defs[ref]; seen {
			continue
		}
		defs[ref] = task
		discovered = append(discovered, ref)

		for _, depRef := range task.DependsOn {
			dep, ok := scraper.Resolve(depRef)
			if !ok {
				return nil, &UnresolvedDependencyError{From: ref, Missing: depRef}
			}
			queue = append(queue, dep)
		}
	}

	// Group included tasks per agent in declaration order
	groups := make(map[string]*agentGroup)
	seq := make(map[definition.TaskRef]int)
	for _, agent := range scraper.Agents() {
		var included []*definition.TaskDefinition
		for _, task := range agent.Tasks() {
			if _, ok := defs[task.Ref()]; ok {
				included = append(included, task)
			}
		}
		if len(included) == 0 {
			continue
		}
		groups[agent.Name] = &agentGroup{def: agent}
		for i, task := range included {
			seq[task.Ref()] = i
		}
	}

	if cycle := findCycle(discovered, defs, groups, seq); cycle != nil {
		return nil, &CyclicDependencyError{Cycle: cycle}
	}

	instances := make(map[definition.TaskRef]*TaskInstance, len(defs))
	for _, ref := range discovered {
		instances[ref] = &TaskInstance{
			Ref: ref,
			def: defs[ref],
			seq: seq[ref],
		}
	}
	for _, inst := range instances {
		for _, depRef := range inst.def.DependsOn {
			dep := instances[depRef]
			inst.deps = append(inst.deps, dep)
			dep.dependents = append(dep.dependents, inst)
		}
		if len(inst.deps) == 0 {
			inst.State = TaskReady
		}
	}
	for _, agent := range scraper.Agents() {
		group, ok := groups[agent.Name]
		if !ok {
			continue
		}
		for _, task := range agent.Tasks() {
			if inst, ok := instances[task.Ref()]; ok {
				group.tasks = append(group.tasks, inst)
			}
		}
	}

	order, err := topoOrder(discovered, instances, groups)
	if err != nil {
		return nil, err
	}

	return &TaskGraph{
		entry:     entry,
		instances: instances,
		order:     order,
		agents:    groups,
	}, nil
}

// predecessors returns what a task must wait for: its dependencies and, for
// ordered agents, the task declared right before it.
func predecessors(ref definition.TaskRef, defs map[definition.TaskRef]*definition.TaskDefinition, groups map[string]*agentGroup, seq map[definition.TaskRef]int) []definition.TaskRef {
	preds := append([]definition.TaskRef(nil), defs[ref].DependsOn...)
	group := groups[ref.Agent]
	if group != nil && group.def.Ordered && seq[ref] > 0 {
		pos := seq[ref]
		for _, task := range group.def.Tasks() {
			if _, ok := defs[task.Ref()]; ok && seq[task.Ref()] == pos-1 {
				preds = append(preds, task.Ref())
				break
			}
		}
	}
	return preds
}

// findCycle runs a depth-first search with a recursion-stack marker and
// returns the first cycle found, or nil.
func findCycle(discovered []definition.TaskRef, defs map[definition.TaskRef]*definition.TaskDefinition, groups map[string]*agentGroup, seq map[definition.TaskRef]int) []definition.TaskRef {
	const (
		white = iota
		gray
		black
	)
	color := make(map[definition.TaskRef]int, len(defs))
	var stack []definition.TaskRef

	var visit func(ref definition.TaskRef) []definition.TaskRef
	visit = func(ref definition.TaskRef) []definition.TaskRef {
		color[ref] = gray
		stack = append(stack, ref)

		for _, pred := range predecessors(ref, defs, groups, seq) {
			switch color[pred] {
			case gray:
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == pred {
						cycle := append([]definition.TaskRef(nil), stack[i:]...)
						return append(cycle, pred)
					}
				}
			case white:
				if cycle := visit(pred); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[ref] = black
		return nil
	}

	for _, ref := range discovered {
		if color[ref] == white {
			if cycle := visit(ref); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// topoOrder sorts instances so that every task comes after what it waits for.
func topoOrder(discovered []definition.TaskRef, instances map[definition.TaskRef]*TaskInstance, groups map[string]*agentGroup) ([]*TaskInstance, error) {
	var edges []toposort.Edge
	for _, ref := range discovered {
		inst := instances[ref]
		var preds []definition.TaskRef
		for _, dep := range inst.deps {
			preds = append(preds, dep.Ref)
		}
		if group := groups[ref.Agent]; group.def.Ordered && inst.seq > 0 {
			preds = append(preds, group.tasks[inst.seq-1].Ref)
		}

		if len(preds) == 0 {
			// Edge from nil keeps tasks without predecessors in the result
			edges = append(edges, toposort.Edge{nil, ref})
			continue
		}
		for _, pred := range preds {
			edges = append(edges, toposort.Edge{pred, ref})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("task graph contains cycle: %w", err)
	}

	order := make([]*TaskInstance, 0, len(instances))
	for _, id := range sorted {
		if id == nil {
			continue
		}
		order = append(order, instances[id.(definition.TaskRef)])
	}

	if len(order) != len(instances) {
		found := make(map[definition.TaskRef]bool, len(order))
		for _, inst := range order {
			found[inst.Ref] = true
		}
		var missing []string
		for ref := range instances {
			if !found[ref] {
				missing = append(missing, ref.String())
			}
		}
		return nil, fmt.Errorf("topological sort lost %d tasks: %s", len(missing), strings.Join(missing, ", "))
	}

	return order, nil
}

// Entry returns the name of the agent the graph was built from.
func (g *TaskGraph) Entry() string {
	return g.entry
}

// Len returns the number of task instances.
func (g *TaskGraph) Len() int {
	return len(g.order)
}

// Get returns a snapshot of one instance.
func (g *TaskGraph) Get(ref definition.TaskRef) (TaskSnapshot, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	inst, ok := g.instances[ref]
	if !ok {
		return TaskSnapshot{}, false
	}
	return inst.snapshot(), true
}

// Tasks returns snapshots of all instances in topological order.
func (g *TaskGraph) Tasks() []TaskSnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	tasks := make([]TaskSnapshot, 0, len(g.order))
	for _, inst := range g.order {
		tasks = append(tasks, inst.snapshot())
	}
	return tasks
}

// Counts returns how many instances are in each state.
func (g *TaskGraph) Counts() map[TaskState]int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	counts := make(map[TaskState]int)
	for _, inst := range g.order {
		counts[inst.State]++
	}
	return counts
}
