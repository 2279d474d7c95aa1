package dag

import (
	"fmt"
	"sort"

	"github.com/therealutkarshpriyadarshi/factorflow/pkg/models"
)

// Graph represents a DAG run as adjacency lists for dependency queries
type Graph struct {
	order      []string
	adjList    map[string][]string // taskID -> list of dependent task IDs
	revAdjList map[string][]string // taskID -> list of dependency task IDs
}

// NewGraph creates a new Graph from the task nodes of a run
func NewGraph(run *models.DAGRun) *Graph {
	order := run.TaskOrder
	if len(order) != len(run.Tasks) {
		order = sortedKeys(run.Tasks)
	}

	g := &Graph{
		order:      order,
		adjList:    make(map[string][]string, len(order)),
		revAdjList: make(map[string][]string, len(order)),
	}

	for _, id := range order {
		g.adjList[id] = []string{}
		g.revAdjList[id] = run.Tasks[id].DependsOn
	}

	// Forward edges: task -> tasks that depend on it
	for _, id := range order {
		for _, depID := range run.Tasks[id].DependsOn {
			g.adjList[depID] = append(g.adjList[depID], id)
		}
	}

	return g
}

// Layers returns the execution layers of the graph
func (g *Graph) Layers(dagID string) ([][]string, error) {
	return kahnLayers(dagID, g.order, g.revAdjList)
}

// GetDownstreamTasks returns all tasks that depend on this task (directly or indirectly)
func (g *Graph) GetDownstreamTasks(taskID string) ([]string, error) {
	if _, exists := g.adjList[taskID]; !exists {
		return nil, fmt.Errorf("task not found: %s", taskID)
	}

	reached := make(map[string]bool)
	var dfs func(string)
	dfs = func(id string) {
		for _, next := range g.adjList[id] {
			if !reached[next] {
				reached[next] = true
				dfs(next)
			}
		}
	}
	dfs(taskID)

	// Report in declaration order
	result := make([]string, 0, len(reached))
	for _, id := range g.order {
		if reached[id] {
			result = append(result, id)
		}
	}
	return result, nil
}

// GetRootTasks returns all tasks with no dependencies
func (g *Graph) GetRootTasks() []string {
	var roots []string
	for _, id := range g.order {
		if len(g.revAdjList[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// GetLeafTasks returns all tasks that no other task depends on
func (g *Graph) GetLeafTasks() []string {
	var leaves []string
	for _, id := range g.order {
		if len(g.adjList[id]) == 0 {
			leaves = append(leaves, id)
		}
	}
	return leaves
}

func sortedKeys(tasks map[string]*models.TaskNode) []string {
	keys := make([]string, 0, len(tasks))
	for id := range tasks {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	return keys
}
