package graph

import (
	"fmt"
	"io"
	"strings"

	"github.com/emicklei/dot"
)

// Format specifies the output format for a rendered graph.
type Format string

const (
	// FormatDOT outputs Graphviz DOT.
	FormatDOT Format = "dot"
	// FormatMermaid outputs Mermaid for markdown rendering.
	FormatMermaid Format = "mermaid"
	// FormatText outputs the plain textual summary.
	FormatText Format = "text"
)

// ParseFormat validates a user supplied format name
func ParseFormat(name string) (Format, error) {
	switch Format(strings.ToLower(name)) {
	case "", FormatDOT:
		return FormatDOT, nil
	case FormatMermaid:
		return FormatMermaid, nil
	case FormatText:
		return FormatText, nil
	}
	return "", fmt.Errorf("unsupported graph format %q (expected dot, mermaid or text)", name)
}

var kindColors = map[string]string{
	"network":             "#e1f5fe",
	"security-policy":     "#f3e5f5",
	"instance":            "#fff3e0",
	"parameter":           "#fffde7",
	"target-group":        "#e8f5e8",
	"load-balancer":       "#e8f5e8",
	"listener":            "#e0f2f1",
	"load-balancer-ready": "#c8e6c9",
}

// Render writes the graph in the requested format. Arrows point from a
// dependency to the node that requires it, following provisioning order.
func (m *Manager) Render(w io.Writer, format Format, title string) error {
	var output string
	switch format {
	case FormatText:
		text, err := m.renderText(title)
		if err != nil {
			return err
		}
		output = text
	case FormatMermaid:
		output = dot.MermaidGraph(m.buildDotGraph(title), dot.MermaidTopToBottom)
	default:
		output = m.buildDotGraph(title).String()
	}

	_, err := io.WriteString(w, output)
	return err
}

// RenderString is a convenience wrapper around Render
func (m *Manager) RenderString(format Format, title string) (string, error) {
	var sb strings.Builder
	if err := m.Render(&sb, format, title); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (m *Manager) buildDotGraph(title string) *dot.Graph {
	g := dot.NewGraph(dot.Directed)
	g.Attr("rankdir", "TB")
	if title != "" {
		g.Attr("label", title)
	}

	g.NodeInitializer(func(n dot.Node) {
		n.Attr("shape", "box")
		n.Attr("style", "rounded,filled")
		n.Attr("fontname", "Arial")
	})

	ids := m.diagramIDs()
	nodes := make(map[string]dot.Node, len(m.graph.Nodes))
	for _, nodeID := range m.sortedNodes() {
		node := m.graph.Nodes[nodeID]
		n := g.Node(ids[nodeID])
		label := nodeID
		if name, ok := node.Properties["name"]; ok && name != "" {
			label = name + "\\n[" + node.ResourceType + "]"
		}
		n.Label(label)
		if color, ok := kindColors[node.ResourceType]; ok {
			n.Attr("fillcolor", color)
		}
		nodes[nodeID] = n
	}

	for _, nodeID := range m.sortedNodes() {
		for _, depID := range m.GetDependencies(nodeID) {
			g.Edge(nodes[depID], nodes[nodeID])
		}
	}

	return g
}

// diagramIDs maps node ids to identifiers that are valid in DOT and Mermaid.
// Ids that sanitize to the same identifier get a numeric suffix in
// declaration order.
func (m *Manager) diagramIDs() map[string]string {
	ids := make(map[string]string, len(m.graph.Nodes))
	taken := make(map[string]bool, len(m.graph.Nodes))
	for _, nodeID := range m.sortedNodes() {
		id := sanitizeID(nodeID)
		for n := 2; taken[id]; n++ {
			id = fmt.Sprintf("%s_%d", sanitizeID(nodeID), n)
		}
		taken[id] = true
		ids[nodeID] = id
	}
	return ids
}

// sanitizeID sanitizes node IDs for DOT and Mermaid identifiers
func sanitizeID(id string) string {
	replacer := strings.NewReplacer("-", "_", ":", "_", "/", "_", ".", "_", " ", "_")
	return replacer.Replace(id)
}
