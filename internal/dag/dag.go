package dag

import (
	"fmt"

	"github.com/arjunmehta/pipeworks/pkg/pipeline"
)

// Validator checks the DAG structure rule of pipeline validation: every
// dependsOn id resolves, the graph is acyclic, and there is at most one
// disconnected root task (one with neither dependencies nor dependents).
// It runs after the per-task pass has already dropped tasks with fatal
// per-task errors.
type Validator struct{}

// NewValidator creates a new structural validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateStructure runs rule 6 of the pipeline parser's ordered rule list
// and returns the errors it collects; an empty slice means the structure is
// sound. It never stops at the first problem: unresolved dependencies,
// every cycle found, and the root-task count are all reported together.
func (v *Validator) ValidateStructure(p *pipeline.Pipeline) []string {
	var errs []string

	taskIDs := make(map[string]bool, len(p.Tasks))
	for _, t := range p.Tasks {
		taskIDs[t.ID] = true
	}

	for _, t := range p.Tasks {
		for _, dep := range t.DependsOn {
			if !taskIDs[dep] {
				errs = append(errs, fmt.Sprintf("task %q depends on unknown task %q", t.ID, dep))
			}
		}
	}

	errs = append(errs, v.detectCycles(p)...)

	g := NewGraph(p)
	var disconnectedRoots []string
	for _, id := range g.order {
		if len(g.revAdjList[id]) == 0 && len(g.adjList[id]) == 0 {
			disconnectedRoots = append(disconnectedRoots, id)
		}
	}
	if len(disconnectedRoots) > 1 {
		errs = append(errs, fmt.Sprintf("multiple disconnected root tasks found: %v", disconnectedRoots))
	}

	return errs
}

// detectCycles runs a grey/black depth-first search over every task,
// naming each offending task it revisits and continuing the search so all
// cycles are reported, not just the first.
func (v *Validator) detectCycles(p *pipeline.Pipeline) []string {
	const (
		white = 0
		grey  = 1
		black = 2
	)

	adj := make(map[string][]string, len(p.Tasks))
	for _, t := range p.Tasks {
		adj[t.ID] = t.DependsOn
	}

	color := make(map[string]int, len(p.Tasks))
	var errs []string

	var dfs func(id string)
	dfs = func(id string) {
		color[id] = grey
		for _, dep := range adj[id] {
			switch color[dep] {
			case grey:
				errs = append(errs, fmt.Sprintf("cycle detected at task %q", dep))
			case white:
				dfs(dep)
			}
		}
		color[id] = black
	}

	for _, t := range p.Tasks {
		if color[t.ID] == white {
			dfs(t.ID)
		}
	}

	return errs
}
