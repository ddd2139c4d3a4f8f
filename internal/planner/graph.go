package planner

import (
	"github.com/planforge/planforge/internal/task"
)

// Graph is the dependency structure over a validated task set. Edges
// run parent -> child. Children maps preserve task-array order so every
// traversal is deterministic.
type Graph struct {
	Tasks    []task.Task
	byID     map[string]int
	children map[string][]string
	indegree map[string]int
}

// BuildGraph derives the dependency graph from a validated task slice.
// Validation guarantees ids are unique and parents exist, so BuildGraph
// cannot fail on validated input.
func BuildGraph(tasks []task.Task) *Graph {
	g := &Graph{
		Tasks:    tasks,
		byID:     make(map[string]int, len(tasks)),
		children: make(map[string][]string, len(tasks)),
		indegree: make(map[string]int, len(tasks)),
	}
	for i, t := range tasks {
		g.byID[t.ID] = i
		g.indegree[t.ID] = 0
	}
	for _, t := range tasks {
		if t.ParentID == "" {
			continue
		}
		g.children[t.ParentID] = append(g.children[t.ParentID], t.ID)
		g.indegree[t.ID]++
	}
	return g
}

// Task returns the task with the given id.
func (g *Graph) Task(id string) (task.Task, bool) {
	i, ok := g.byID[id]
	if !ok {
		return task.Task{}, false
	}
	return g.Tasks[i], true
}

// TopologicalSort orders tasks so every parent precedes its children,
// using Kahn's algorithm. Roots are seeded in task-array order and each
// node's children are released in task-array order, so the result is
// deterministic for a given input. Returns CycleDetectedError when not
// every task can be placed.
func (g *Graph) TopologicalSort() ([]task.Task, error) {
	indegree := make(map[string]int, len(g.indegree))
	for id, d := range g.indegree {
		indegree[id] = d
	}

	queue := make([]string, 0, len(g.Tasks))
	for _, t := range g.Tasks {
		if indegree[t.ID] == 0 {
			queue = append(queue, t.ID)
		}
	}

	order := make([]task.Task, 0, len(g.Tasks))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, g.Tasks[g.byID[id]])
		for _, child := range g.children[id] {
			indegree[child]--
			if indegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}

	if len(order) != len(g.Tasks) {
		placed := make(map[string]bool, len(order))
		for _, t := range order {
			placed[t.ID] = true
		}
		var missing []string
		for _, t := range g.Tasks {
			if !placed[t.ID] {
				missing = append(missing, t.ID)
			}
		}
		return nil, &CycleDetectedError{TaskIDs: missing}
	}
	return order, nil
}

// ValidateNoCycles reports whether the graph is acyclic.
func (g *Graph) ValidateNoCycles() bool {
	_, err := g.TopologicalSort()
	return err == nil
}

// ParallelBatches partitions the tasks into dependency waves: batch k
// holds every task whose parent completed in an earlier batch, so all
// tasks in one batch can run concurrently. Within a batch, tasks keep
// their topological (and therefore task-array) order.
func (g *Graph) ParallelBatches() ([][]task.Task, error) {
	order, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}

	completed := make(map[string]bool, len(order))
	pending := order
	var batches [][]task.Task
	for len(pending) > 0 {
		var batch []task.Task
		var rest []task.Task
		for _, t := range pending {
			if t.ParentID == "" || completed[t.ParentID] {
				batch = append(batch, t)
			} else {
				rest = append(rest, t)
			}
		}
		if len(batch) == 0 {
			ids := make([]string, 0, len(rest))
			for _, t := range rest {
				ids = append(ids, t.ID)
			}
			return nil, &ConsistencyError{Remaining: ids}
		}
		for _, t := range batch {
			completed[t.ID] = true
		}
		batches = append(batches, batch)
		pending = rest
	}
	return batches, nil
}
