package graph

import (
	"fmt"
	"sort"
	"strings"
)

// minBlocked is the number of steps a failure must block before the step is
// reported as critical.
const minBlocked = 3

// Summary describes the shape of a provisioning graph.
type Summary struct {
	Steps        int            `json:"steps"`
	Dependencies int            `json:"dependencies"`
	Levels       [][]string     `json:"levels"`
	MaxFanIn     int            `json:"maxFanIn"`
	MaxFanOut    int            `json:"maxFanOut"`
	Critical     []CriticalStep `json:"critical,omitempty"`
}

// CriticalStep is a step whose failure skips every step in Blocked.
type CriticalStep struct {
	ID      string   `json:"id"`
	Kind    string   `json:"kind"`
	Blocked []string `json:"blocked"`
}

// Summarize computes the summary of the graph. Critical steps are ordered by
// how many steps they block, most first.
func (m *Manager) Summarize() (*Summary, error) {
	levels, err := m.CalculateDeploymentLevels()
	if err != nil {
		return nil, err
	}

	s := &Summary{
		Steps:        len(m.graph.Nodes),
		Dependencies: m.getTotalEdges(),
		Levels:       levels,
	}

	dependents := m.dependentsIndex()
	for _, nodeID := range m.sortedNodes() {
		if n := len(m.graph.Edges[nodeID]); n > s.MaxFanIn {
			s.MaxFanIn = n
		}
		if n := len(dependents[nodeID]); n > s.MaxFanOut {
			s.MaxFanOut = n
		}

		blocked := m.GetTransitiveDependents(nodeID)
		if len(blocked) < minBlocked {
			continue
		}
		s.Critical = append(s.Critical, CriticalStep{
			ID:      nodeID,
			Kind:    m.graph.Nodes[nodeID].ResourceType,
			Blocked: blocked,
		})
	}
	sort.SliceStable(s.Critical, func(i, j int) bool {
		return len(s.Critical[i].Blocked) > len(s.Critical[j].Blocked)
	})

	return s, nil
}

// renderText lists the summary, the provisioning levels and the steps
// grouped by kind with their dependencies.
func (m *Manager) renderText(title string) (string, error) {
	summary, err := m.Summarize()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(title + "\n")
	b.WriteString(strings.Repeat("=", len(title)) + "\n\n")

	fmt.Fprintf(&b, "Steps: %d\n", summary.Steps)
	fmt.Fprintf(&b, "Dependencies: %d\n", summary.Dependencies)
	fmt.Fprintf(&b, "Levels: %d\n", len(summary.Levels))
	fmt.Fprintf(&b, "Max fan-in: %d, max fan-out: %d\n\n", summary.MaxFanIn, summary.MaxFanOut)

	b.WriteString("LEVELS:\n")
	for i, level := range summary.Levels {
		fmt.Fprintf(&b, "  %d: %s\n", i, strings.Join(level, ", "))
	}
	b.WriteString("\n")

	var kinds []string
	byKind := make(map[string][]string)
	for _, nodeID := range m.sortedNodes() {
		kind := m.graph.Nodes[nodeID].ResourceType
		if _, seen := byKind[kind]; !seen {
			kinds = append(kinds, kind)
		}
		byKind[kind] = append(byKind[kind], nodeID)
	}
	for _, kind := range kinds {
		fmt.Fprintf(&b, "%s (%d):\n", strings.ToUpper(kind), len(byKind[kind]))
		for _, nodeID := range byKind[kind] {
			fmt.Fprintf(&b, "  - %s\n", nodeID)
			if deps := m.GetDependencies(nodeID); len(deps) > 0 {
				fmt.Fprintf(&b, "    Depends on: %s\n", strings.Join(deps, ", "))
			}
		}
		b.WriteString("\n")
	}

	if len(summary.Critical) > 0 {
		b.WriteString("CRITICAL STEPS:\n")
		for _, step := range summary.Critical {
			fmt.Fprintf(&b, "  - %s blocks %d steps\n", step.ID, len(step.Blocked))
		}
	}

	return b.String(), nil
}
