package compiler

import (
	"container/heap"
	"slices"
)

// StepGraph is the step registry: a directed acyclic graph of steps that
// remembers registration order so plans resolve deterministically.
type StepGraph struct {
	steps      map[string]Step
	order      map[string]int      // step ID -> registration index
	ids        []string            // step IDs in registration order
	dependsOn  map[string][]string // step ID -> list of dependency IDs
	dependedBy map[string][]string // step ID -> list of steps that depend on it
}

// NewStepGraph creates an empty StepGraph.
func NewStepGraph() *StepGraph {
	return &StepGraph{
		steps:      make(map[string]Step),
		order:      make(map[string]int),
		dependsOn:  make(map[string][]string),
		dependedBy: make(map[string][]string),
	}
}

// Len returns the number of steps in the graph.
func (g *StepGraph) Len() int {
	return len(g.steps)
}

// Add registers a step.
// Returns a DUPLICATE_STEP error if a step with the same ID already exists.
func (g *StepGraph) Add(step Step) error {
	id := step.ID().String()

	if _, exists := g.steps[id]; exists {
		return NewStepDuplicateError(id)
	}

	g.steps[id] = step
	g.order[id] = len(g.ids)
	g.ids = append(g.ids, id)

	deps := step.DependsOn()
	depIDs := make([]string, 0, len(deps))
	for _, dep := range deps {
		depID := dep.String()
		if slices.Contains(depIDs, depID) {
			continue
		}
		depIDs = append(depIDs, depID)
		g.dependedBy[depID] = append(g.dependedBy[depID], id)
	}
	g.dependsOn[id] = depIDs

	return nil
}

// Get retrieves a step by ID.
func (g *StepGraph) Get(id StepID) (Step, bool) {
	step, ok := g.steps[id.String()]
	return step, ok
}

// Steps returns all steps in registration order.
func (g *StepGraph) Steps() []Step {
	steps := make([]Step, 0, len(g.ids))
	for _, id := range g.ids {
		steps = append(steps, g.steps[id])
	}
	return steps
}

// Dependencies returns the direct dependency IDs of a step.
func (g *StepGraph) Dependencies(id StepID) []string {
	return slices.Clone(g.dependsOn[id.String()])
}

// Validate checks that every dependency references a registered step.
// Steps are visited in registration order so the reported error is stable.
func (g *StepGraph) Validate() error {
	for _, id := range g.ids {
		for _, depID := range g.dependsOn[id] {
			if _, exists := g.steps[depID]; !exists {
				return NewUnknownDependencyError(id, depID)
			}
		}
	}
	return nil
}

// Resolve validates the graph and returns steps in dependency order.
// Ties between steps with no ordering constraint are broken by registration
// order, so the same registration sequence always yields the same plan.
func (g *StepGraph) Resolve() ([]Step, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g.TopologicalSort()
}

// TopologicalSort returns steps in dependency order using Kahn's algorithm
// with a registration-order priority queue.
// Returns a CYCLIC_DEPENDENCY error naming one cycle if the graph has one.
func (g *StepGraph) TopologicalSort() ([]Step, error) {
	inDegree := make(map[string]int, len(g.steps))
	for id := range g.steps {
		for _, depID := range g.dependsOn[id] {
			if _, exists := g.steps[depID]; exists {
				inDegree[id]++
			}
		}
	}

	ready := &indexQueue{}
	for _, id := range g.ids {
		if inDegree[id] == 0 {
			heap.Push(ready, g.order[id])
		}
	}

	sorted := make([]Step, 0, len(g.steps))
	for ready.Len() > 0 {
		id := g.ids[heap.Pop(ready).(int)]
		sorted = append(sorted, g.steps[id])

		for _, dependentID := range g.dependedBy[id] {
			if _, exists := g.steps[dependentID]; !exists {
				continue
			}
			inDegree[dependentID]--
			if inDegree[dependentID] == 0 {
				heap.Push(ready, g.order[dependentID])
			}
		}
	}

	if len(sorted) != len(g.steps) {
		return nil, NewCyclicDependencyError(g.findCycle(inDegree))
	}

	return sorted, nil
}

// findCycle walks the unsorted remainder to name one concrete cycle.
// Every step left with a positive in-degree has at least one unsorted
// dependency, so following them must eventually revisit a step.
func (g *StepGraph) findCycle(inDegree map[string]int) []string {
	var start string
	for _, id := range g.ids {
		if inDegree[id] > 0 {
			start = id
			break
		}
	}

	seen := make(map[string]int)
	path := make([]string, 0)
	current := start
	for {
		if idx, ok := seen[current]; ok {
			cycle := slices.Clone(path[idx:])
			// Report in dependency direction, closing the loop.
			return append(cycle, current)
		}
		seen[current] = len(path)
		path = append(path, current)

		next := ""
		for _, depID := range g.dependsOn[current] {
			if inDegree[depID] > 0 {
				next = depID
				break
			}
		}
		if next == "" {
			return path
		}
		current = next
	}
}

// indexQueue is a min-heap of registration indexes.
type indexQueue []int

func (q indexQueue) Len() int           { return len(q) }
func (q indexQueue) Less(i, j int) bool { return q[i] < q[j] }
func (q indexQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }

func (q *indexQueue) Push(x any) { *q = append(*q, x.(int)) }

func (q *indexQueue) Pop() any {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[:n-1]
	return x
}
