package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/versus-control/web-topology/internal/logging"
	"github.com/versus-control/web-topology/pkg/types"
)

// CycleError is returned when no topological order exists
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("circular dependency detected involving resources: %s", strings.Join(e.Cycle, " -> "))
}

// Manager handles dependency graph management for declared resources.
// Edges map a node to the nodes it depends on.
type Manager struct {
	logger *logging.Logger
	graph  *types.DependencyGraph
}

// NewManager creates a new dependency graph manager
func NewManager(logger *logging.Logger) *Manager {
	return &Manager{
		logger: logger,
		graph: &types.DependencyGraph{
			Nodes: make(map[string]*types.DependencyNode),
			Edges: make(map[string][]string),
		},
	}
}

// AddNode registers a node. The index orders otherwise independent nodes.
func (m *Manager) AddNode(id, resourceType string, index int, properties map[string]string) {
	if properties == nil {
		properties = make(map[string]string)
	}
	m.graph.Nodes[id] = &types.DependencyNode{
		ID:           id,
		ResourceType: resourceType,
		Index:        index,
		Properties:   properties,
	}
}

// AddDependency records that nodeID requires dependsOn to be realized first.
// Self edges are ignored.
func (m *Manager) AddDependency(nodeID, dependsOn string) {
	if nodeID == dependsOn {
		return
	}
	m.addEdge(nodeID, dependsOn)
}

// addEdge adds a directed edge from resource to dependency
func (m *Manager) addEdge(fromID, toID string) {
	if m.graph.Edges[fromID] == nil {
		m.graph.Edges[fromID] = []string{}
	}

	for _, edge := range m.graph.Edges[fromID] {
		if edge == toID {
			return
		}
	}

	m.graph.Edges[fromID] = append(m.graph.Edges[fromID], toID)
}

// GetDeploymentOrder returns nodes in deployment order. Among nodes that are
// ready at the same time the one with the lowest index goes first, so the
// order is a pure function of the graph.
func (m *Manager) GetDeploymentOrder() ([]string, error) {
	m.logger.Debug("Calculating deployment order")

	if err := m.ValidateGraph(); err != nil {
		return nil, err
	}

	remaining := make(map[string]int, len(m.graph.Nodes))
	for nodeID := range m.graph.Nodes {
		remaining[nodeID] = len(m.graph.Edges[nodeID])
	}
	dependents := m.dependentsIndex()

	var ready []string
	for nodeID, count := range remaining {
		if count == 0 {
			ready = append(ready, nodeID)
		}
	}

	order := make([]string, 0, len(m.graph.Nodes))
	for len(ready) > 0 {
		m.sortByIndex(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, dependent := range dependents[next] {
			remaining[dependent]--
			if remaining[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(order) != len(m.graph.Nodes) {
		cycle := m.FindCycle()
		m.logger.WithField("cycle", cycle).Warn("Dependency cycle detected")
		return nil, &CycleError{Cycle: cycle}
	}

	m.logger.WithField("deployment_order", order).Debug("Deployment order calculated")
	return order, nil
}

// GetDeletionOrder returns resources in deletion order (reverse of deployment order)
func (m *Manager) GetDeletionOrder() ([]string, error) {
	deploymentOrder, err := m.GetDeploymentOrder()
	if err != nil {
		return nil, err
	}

	deletionOrder := make([]string, len(deploymentOrder))
	for i, nodeID := range deploymentOrder {
		deletionOrder[len(deploymentOrder)-1-i] = nodeID
	}

	m.logger.WithField("deletion_order", deletionOrder).Debug("Deletion order calculated")
	return deletionOrder, nil
}

// GetDependents returns all nodes that directly depend on the given node
func (m *Manager) GetDependents(resourceID string) []string {
	var dependents []string

	for nodeID, edges := range m.graph.Edges {
		for _, depID := range edges {
			if depID == resourceID {
				dependents = append(dependents, nodeID)
				break
			}
		}
	}

	sort.Strings(dependents)
	return dependents
}

// GetTransitiveDependents returns every node that depends on the given node,
// directly or through other nodes.
func (m *Manager) GetTransitiveDependents(resourceID string) []string {
	dependents := m.dependentsIndex()
	seen := make(map[string]bool)
	queue := []string{resourceID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, dependent := range dependents[current] {
			if !seen[dependent] {
				seen[dependent] = true
				queue = append(queue, dependent)
			}
		}
	}

	result := make([]string, 0, len(seen))
	for nodeID := range seen {
		result = append(result, nodeID)
	}
	sort.Strings(result)
	return result
}

// GetDependencies returns all resources that the given resource depends on
func (m *Manager) GetDependencies(resourceID string) []string {
	dependencies := m.graph.Edges[resourceID]
	if dependencies == nil {
		return []string{}
	}

	result := make([]string, len(dependencies))
	copy(result, dependencies)
	m.sortByIndex(result)
	return result
}

// ValidateGraph checks that every edge points at a known node
func (m *Manager) ValidateGraph() error {
	for nodeID, edges := range m.graph.Edges {
		if _, exists := m.graph.Nodes[nodeID]; !exists {
			return fmt.Errorf("orphaned edge found: node %s does not exist", nodeID)
		}

		for _, depID := range edges {
			if _, exists := m.graph.Nodes[depID]; !exists {
				return fmt.Errorf("invalid dependency: node %s depends on non-existent node %s", nodeID, depID)
			}
		}
	}

	return nil
}

// FindCycle returns one dependency cycle as a closed path (first element
// repeated at the end), or nil when the graph is acyclic.
func (m *Manager) FindCycle() []string {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	var findCycle func(nodeID string, path []string) []string
	findCycle = func(nodeID string, path []string) []string {
		if recStack[nodeID] {
			for i, node := range path {
				if node == nodeID {
					cycle := append([]string{}, path[i:]...)
					return append(cycle, nodeID)
				}
			}
		}

		if visited[nodeID] {
			return nil
		}

		visited[nodeID] = true
		recStack[nodeID] = true
		currentPath := append(append([]string{}, path...), nodeID)

		for _, depID := range m.GetDependencies(nodeID) {
			if cycle := findCycle(depID, currentPath); cycle != nil {
				return cycle
			}
		}

		recStack[nodeID] = false
		return nil
	}

	for _, nodeID := range m.sortedNodes() {
		if !visited[nodeID] {
			if cycle := findCycle(nodeID, nil); cycle != nil {
				return cycle
			}
		}
	}

	return nil
}

// GetGraph returns the current dependency graph
func (m *Manager) GetGraph() *types.DependencyGraph {
	return m.graph
}

// CalculateDeploymentLevels groups nodes into levels. Every node in a level
// depends only on nodes in earlier levels, so a level can be realized in
// parallel.
func (m *Manager) CalculateDeploymentLevels() ([][]string, error) {
	m.logger.Debug("Calculating deployment levels")

	remaining := make(map[string]int, len(m.graph.Nodes))
	for nodeID := range m.graph.Nodes {
		remaining[nodeID] = len(m.graph.Edges[nodeID])
	}
	dependents := m.dependentsIndex()

	var levels [][]string
	processed := 0

	for processed < len(m.graph.Nodes) {
		var currentLevel []string
		for nodeID, count := range remaining {
			if count == 0 {
				currentLevel = append(currentLevel, nodeID)
			}
		}

		if len(currentLevel) == 0 {
			return nil, &CycleError{Cycle: m.FindCycle()}
		}

		m.sortByIndex(currentLevel)
		levels = append(levels, currentLevel)

		for _, nodeID := range currentLevel {
			delete(remaining, nodeID)
			processed++
		}
		for _, nodeID := range currentLevel {
			for _, dependent := range dependents[nodeID] {
				remaining[dependent]--
			}
		}
	}

	m.logger.WithFields(logrus.Fields{
		"levels": len(levels),
		"nodes":  len(m.graph.Nodes),
	}).Debug("Deployment levels calculated")
	return levels, nil
}

// dependentsIndex inverts the edge map
func (m *Manager) dependentsIndex() map[string][]string {
	dependents := make(map[string][]string)
	for nodeID, edges := range m.graph.Edges {
		for _, depID := range edges {
			dependents[depID] = append(dependents[depID], nodeID)
		}
	}
	for nodeID := range dependents {
		m.sortByIndex(dependents[nodeID])
	}
	return dependents
}

func (m *Manager) sortedNodes() []string {
	nodes := make([]string, 0, len(m.graph.Nodes))
	for nodeID := range m.graph.Nodes {
		nodes = append(nodes, nodeID)
	}
	m.sortByIndex(nodes)
	return nodes
}

// sortByIndex orders node ids by declaration index, then by id
func (m *Manager) sortByIndex(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := m.graph.Nodes[ids[i]], m.graph.Nodes[ids[j]]
		if a != nil && b != nil && a.Index != b.Index {
			return a.Index < b.Index
		}
		return ids[i] < ids[j]
	})
}

// getTotalEdges returns the total number of edges in the graph
func (m *Manager) getTotalEdges() int {
	total := 0
	for _, edges := range m.graph.Edges {
		total += len(edges)
	}
	return total
}
