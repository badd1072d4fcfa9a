package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versus-control/web-topology/internal/logging"
)

func newTestManager(nodes ...string) *Manager {
	m := NewManager(logging.NewDiscardLogger())
	for i, node := range nodes {
		m.AddNode(node, "test", i, map[string]string{"name": node})
	}
	return m
}

func TestDeploymentOrderBreaksTiesByIndex(t *testing.T) {
	m := newTestManager("vpc", "sg-b", "sg-a", "web")
	m.AddDependency("sg-b", "vpc")
	m.AddDependency("sg-a", "vpc")
	m.AddDependency("web", "sg-a")
	m.AddDependency("web", "sg-b")

	order, err := m.GetDeploymentOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"vpc", "sg-b", "sg-a", "web"}, order)

	deletion, err := m.GetDeletionOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"web", "sg-a", "sg-b", "vpc"}, deletion)
}

func TestDeploymentOrderReportsCycle(t *testing.T) {
	m := newTestManager("a", "b", "c")
	m.AddDependency("a", "c")
	m.AddDependency("c", "b")
	m.AddDependency("b", "a")

	order, err := m.GetDeploymentOrder()
	assert.Nil(t, order)

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, []string{"a", "c", "b", "a"}, cycleErr.Cycle)
	assert.Contains(t, err.Error(), "a -> c -> b -> a")
}

func TestSelfDependencyIgnored(t *testing.T) {
	m := newTestManager("a")
	m.AddDependency("a", "a")

	order, err := m.GetDeploymentOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, order)
	assert.Nil(t, m.FindCycle())
}

func TestAddDependencyDeduplicates(t *testing.T) {
	m := newTestManager("a", "b")
	m.AddDependency("b", "a")
	m.AddDependency("b", "a")

	assert.Equal(t, []string{"a"}, m.GetDependencies("b"))
	assert.Equal(t, []string{"b"}, m.GetDependents("a"))
}

func TestValidateGraphRejectsUnknownNodes(t *testing.T) {
	m := newTestManager("a")
	m.AddDependency("a", "missing")

	require.Error(t, m.ValidateGraph())
	_, err := m.GetDeploymentOrder()
	require.Error(t, err)
}

func TestTransitiveDependents(t *testing.T) {
	m := newTestManager("vpc", "sg", "web", "tg", "listener", "bastion")
	m.AddDependency("sg", "vpc")
	m.AddDependency("web", "sg")
	m.AddDependency("tg", "web")
	m.AddDependency("listener", "tg")
	m.AddDependency("bastion", "vpc")

	assert.Equal(t, []string{"listener", "tg"}, m.GetTransitiveDependents("web"))
	assert.Equal(t, []string{"bastion", "listener", "sg", "tg", "web"}, m.GetTransitiveDependents("vpc"))
	assert.Empty(t, m.GetTransitiveDependents("listener"))
}

func TestCalculateDeploymentLevels(t *testing.T) {
	m := newTestManager("vpc", "sg", "bastion", "web")
	m.AddDependency("sg", "vpc")
	m.AddDependency("bastion", "vpc")
	m.AddDependency("web", "sg")

	levels, err := m.CalculateDeploymentLevels()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"vpc"}, {"sg", "bastion"}, {"web"}}, levels)
}

func TestSummarize(t *testing.T) {
	m := newTestManager("vpc", "sg", "web", "tg")
	m.AddDependency("sg", "vpc")
	m.AddDependency("web", "sg")
	m.AddDependency("web", "vpc")
	m.AddDependency("tg", "web")

	summary, err := m.Summarize()
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Steps)
	assert.Equal(t, 4, summary.Dependencies)
	assert.Equal(t, 2, summary.MaxFanIn)
	assert.Equal(t, 2, summary.MaxFanOut)
	assert.Equal(t, [][]string{{"vpc"}, {"sg"}, {"web"}, {"tg"}}, summary.Levels)

	require.Len(t, summary.Critical, 1)
	assert.Equal(t, "vpc", summary.Critical[0].ID)
	assert.Equal(t, []string{"sg", "tg", "web"}, summary.Critical[0].Blocked)

	text, err := m.RenderString(FormatText, "Stack")
	require.NoError(t, err)
	assert.Contains(t, text, "Levels: 4")
	assert.Contains(t, text, "  1: sg\n")
	assert.Contains(t, text, "    Depends on: vpc, sg\n")
	assert.Contains(t, text, "  - vpc blocks 3 steps\n")
}

func TestSummarizeReportsCycle(t *testing.T) {
	m := newTestManager("a", "b")
	m.AddDependency("a", "b")
	m.AddDependency("b", "a")

	_, err := m.Summarize()
	var cycleErr *CycleError
	assert.ErrorAs(t, err, &cycleErr)

	_, err = m.RenderString(FormatText, "Stack")
	assert.Error(t, err)
}

func TestDiagramIDsStayDistinct(t *testing.T) {
	m := newTestManager("a-b", "a_b", "a.b")
	m.AddDependency("a_b", "a-b")

	ids := m.diagramIDs()
	assert.Equal(t, "a_b", ids["a-b"])
	assert.Equal(t, "a_b_2", ids["a_b"])
	assert.Equal(t, "a_b_3", ids["a.b"])

	g := m.buildDotGraph("Stack")
	assert.Len(t, g.FindNodes(), 3)
	from, ok := g.FindNodeById("a_b")
	require.True(t, ok)
	to, ok := g.FindNodeById("a_b_2")
	require.True(t, ok)
	assert.Len(t, g.FindEdges(from, to), 1)

	mermaid, err := m.RenderString(FormatMermaid, "Stack")
	require.NoError(t, err)
	assert.Contains(t, mermaid, "a-b")
	assert.Contains(t, mermaid, "a.b")
}

func TestParseFormat(t *testing.T) {
	for input, want := range map[string]Format{"": FormatDOT, "DOT": FormatDOT, "mermaid": FormatMermaid, "text": FormatText} {
		got, err := ParseFormat(input)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseFormat("svg")
	assert.Error(t, err)
}
