package dag

import (
	"fmt"
	"time"

	"github.com/arjunmehta/pipeworks/pkg/pipeline"
)

// Graph is an adjacency-list view of a Pipeline's tasks. The validator,
// the executor's scheduling loop and the CLI's visualize command each
// build their own from the pipeline they hold.
type Graph struct {
	tasks      map[string]*pipeline.Task
	adjList    map[string][]string // taskID -> tasks that depend on it
	revAdjList map[string][]string // taskID -> its dependency task IDs
	order      []string            // declaration order, preserved for iteration
}

// NewGraph builds a Graph from a Pipeline's task list.
func NewGraph(p *pipeline.Pipeline) *Graph {
	g := &Graph{
		tasks:      make(map[string]*pipeline.Task),
		adjList:    make(map[string][]string),
		revAdjList: make(map[string][]string),
	}

	for i := range p.Tasks {
		task := &p.Tasks[i]
		g.tasks[task.ID] = task
		g.order = append(g.order, task.ID)
		if _, ok := g.adjList[task.ID]; !ok {
			g.adjList[task.ID] = nil
		}
		g.revAdjList[task.ID] = append([]string(nil), task.DependsOn...)
	}

	for _, task := range p.Tasks {
		for _, depID := range task.DependsOn {
			g.adjList[depID] = append(g.adjList[depID], task.ID)
		}
	}

	return g
}

// TaskIDs returns task ids in declaration order.
func (g *Graph) TaskIDs() []string {
	return g.order
}

// Ready returns the ids of pending tasks whose dependencies are all
// satisfied, given a map of completed task ids (success or skipped).
func (g *Graph) Ready(pending map[string]bool, satisfied map[string]bool) []string {
	var ready []string
	for taskID := range pending {
		if !pending[taskID] {
			continue
		}
		allSatisfied := true
		for _, depID := range g.revAdjList[taskID] {
			if !satisfied[depID] {
				allSatisfied = false
				break
			}
		}
		if allSatisfied {
			ready = append(ready, taskID)
		}
	}
	return ready
}

// GetUpstreamTasks returns all tasks this task transitively depends on.
func (g *Graph) GetUpstreamTasks(taskID string) ([]string, error) {
	if _, exists := g.tasks[taskID]; !exists {
		return nil, fmt.Errorf("task not found: %s", taskID)
	}

	upstream := make(map[string]bool)
	visited := make(map[string]bool)

	var dfs func(string)
	dfs = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, depID := range g.revAdjList[id] {
			upstream[depID] = true
			dfs(depID)
		}
	}
	dfs(taskID)

	result := make([]string, 0, len(upstream))
	for id := range upstream {
		result = append(result, id)
	}
	return result, nil
}

// GetDownstreamTasks returns all tasks that transitively depend on this task.
func (g *Graph) GetDownstreamTasks(taskID string) ([]string, error) {
	if _, exists := g.tasks[taskID]; !exists {
		return nil, fmt.Errorf("task not found: %s", taskID)
	}

	downstream := make(map[string]bool)
	visited := make(map[string]bool)

	var dfs func(string)
	dfs = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, depTaskID := range g.adjList[id] {
			downstream[depTaskID] = true
			dfs(depTaskID)
		}
	}
	dfs(taskID)

	result := make([]string, 0, len(downstream))
	for id := range downstream {
		result = append(result, id)
	}
	return result, nil
}

// GetImmediateDependencies returns direct dependencies of a task.
func (g *Graph) GetImmediateDependencies(taskID string) ([]string, error) {
	if _, exists := g.tasks[taskID]; !exists {
		return nil, fmt.Errorf("task not found: %s", taskID)
	}
	return g.revAdjList[taskID], nil
}

// GetImmediateDependents returns tasks that directly depend on this task.
func (g *Graph) GetImmediateDependents(taskID string) ([]string, error) {
	if _, exists := g.tasks[taskID]; !exists {
		return nil, fmt.Errorf("task not found: %s", taskID)
	}
	return g.adjList[taskID], nil
}

// GetRootTasks returns all tasks with no dependencies.
func (g *Graph) GetRootTasks() []string {
	var roots []string
	for _, taskID := range g.order {
		if len(g.revAdjList[taskID]) == 0 {
			roots = append(roots, taskID)
		}
	}
	return roots
}

// GetLeafTasks returns all tasks that no other task depends on.
func (g *Graph) GetLeafTasks() []string {
	var leaves []string
	for _, taskID := range g.order {
		if len(g.adjList[taskID]) == 0 {
			leaves = append(leaves, taskID)
		}
	}
	return leaves
}

// GetTask returns a task by id.
func (g *Graph) GetTask(taskID string) (*pipeline.Task, error) {
	task, exists := g.tasks[taskID]
	if !exists {
		return nil, fmt.Errorf("task not found: %s", taskID)
	}
	return task, nil
}

// TopologicalOrder returns task ids in topological order via Kahn's
// algorithm, or an error if a cycle prevents a total order.
func (g *Graph) TopologicalOrder() ([]string, error) {
	inDegree := make(map[string]int, len(g.tasks))
	for taskID := range g.tasks {
		inDegree[taskID] = len(g.revAdjList[taskID])
	}

	var queue []string
	for _, taskID := range g.order {
		if inDegree[taskID] == 0 {
			queue = append(queue, taskID)
		}
	}

	result := make([]string, 0, len(g.tasks))
	for len(queue) > 0 {
		taskID := queue[0]
		queue = queue[1:]
		result = append(result, taskID)

		for _, neighbor := range g.adjList[taskID] {
			inDegree[neighbor]--
			if inDegree[neighbor] == 0 {
				queue = append(queue, neighbor)
			}
		}
	}

	if len(result) != len(g.tasks) {
		return nil, fmt.Errorf("cycle detected in pipeline graph")
	}
	return result, nil
}

// CriticalPathResult is the outcome of a critical-path (longest-path)
// analysis over task timeouts, used by the visualize command to annotate
// the slowest chain through the pipeline.
type CriticalPathResult struct {
	Path           []string
	TotalDuration  time.Duration
	TaskDurations  map[string]time.Duration
	EarliestStart  map[string]time.Duration
	LatestStart    map[string]time.Duration
	Slack          map[string]time.Duration
	IsCriticalTask map[string]bool
}

// CalculateCriticalPath computes the longest path through the graph using
// each task's configured timeout as its estimated duration (default one
// minute when no timeout is set), for reporting only; it does not
// influence scheduling.
func (g *Graph) CalculateCriticalPath() (*CriticalPathResult, error) {
	topoOrder, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	result := &CriticalPathResult{
		TaskDurations:  make(map[string]time.Duration),
		EarliestStart:  make(map[string]time.Duration),
		LatestStart:    make(map[string]time.Duration),
		Slack:          make(map[string]time.Duration),
		IsCriticalTask: make(map[string]bool),
	}

	for taskID, task := range g.tasks {
		if task.Timeout > 0 {
			result.TaskDurations[taskID] = task.Timeout
		} else {
			result.TaskDurations[taskID] = time.Minute
		}
	}

	for _, taskID := range topoOrder {
		var maxPredecessorFinish time.Duration
		for _, depID := range g.revAdjList[taskID] {
			finish := result.EarliestStart[depID] + result.TaskDurations[depID]
			if finish > maxPredecessorFinish {
				maxPredecessorFinish = finish
			}
		}
		result.EarliestStart[taskID] = maxPredecessorFinish
	}

	var projectDuration time.Duration
	for taskID := range g.tasks {
		finish := result.EarliestStart[taskID] + result.TaskDurations[taskID]
		if finish > projectDuration {
			projectDuration = finish
		}
	}
	result.TotalDuration = projectDuration

	for i := len(topoOrder) - 1; i >= 0; i-- {
		taskID := topoOrder[i]
		successors := g.adjList[taskID]
		if len(successors) == 0 {
			result.LatestStart[taskID] = projectDuration - result.TaskDurations[taskID]
			continue
		}
		minSuccessorStart := time.Duration(1<<63 - 1)
		for _, succID := range successors {
			if result.LatestStart[succID] < minSuccessorStart {
				minSuccessorStart = result.LatestStart[succID]
			}
		}
		result.LatestStart[taskID] = minSuccessorStart - result.TaskDurations[taskID]
	}

	for taskID := range g.tasks {
		slack := result.LatestStart[taskID] - result.EarliestStart[taskID]
		result.Slack[taskID] = slack
		if slack == 0 {
			result.IsCriticalTask[taskID] = true
		}
	}

	result.Path = g.buildCriticalPath(result)
	return result, nil
}

func (g *Graph) buildCriticalPath(result *CriticalPathResult) []string {
	var path []string
	visited := make(map[string]bool)

	var startTasks []string
	for _, taskID := range g.order {
		if result.IsCriticalTask[taskID] && len(g.revAdjList[taskID]) == 0 {
			startTasks = append(startTasks, taskID)
		}
	}
	if len(startTasks) == 0 {
		for _, taskID := range g.order {
			if result.IsCriticalTask[taskID] && result.EarliestStart[taskID] == 0 {
				startTasks = append(startTasks, taskID)
			}
		}
	}

	var dfs func(string)
	dfs = func(taskID string) {
		if visited[taskID] {
			return
		}
		visited[taskID] = true
		path = append(path, taskID)
		for _, succID := range g.adjList[taskID] {
			if result.IsCriticalTask[succID] && !visited[succID] {
				dfs(succID)
				return
			}
		}
	}

	for _, startTask := range startTasks {
		if !visited[startTask] {
			dfs(startTask)
		}
	}
	return path
}
