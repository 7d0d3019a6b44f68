package execengine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkAtoms(ids ...string) []Atom {
	atoms := make([]Atom, len(ids))
	for i, id := range ids {
		atoms[i] = Atom{ID: id, Complexity: ComplexityMedium}
	}
	return atoms
}

func TestBuildGraph_RejectsUnknownAtoms(t *testing.T) {
	atoms := mkAtoms("a", "b")
	_, err := BuildGraph(atoms, []Edge{{Src: "a", Dst: "missing", Confidence: 1}}, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidEdge))
}

func TestBuildGraph_DropsLowConfidenceEdges(t *testing.T) {
	atoms := mkAtoms("a", "b")
	g, err := BuildGraph(atoms, []Edge{{Src: "a", Dst: "b", Confidence: 0.1, Weight: 1}}, 0.3)
	require.NoError(t, err)
	assert.Equal(t, 0, g.FanOut("a"))
	assert.Equal(t, 0, g.FanIn("b"))
}

func TestBuildGraph_CoalescesParallelEdges(t *testing.T) {
	atoms := mkAtoms("a", "b")
	edges := []Edge{
		{Src: "a", Dst: "b", Kind: EdgeKindCall, Weight: 1, Confidence: 0.8},
		{Src: "a", Dst: "b", Kind: EdgeKindCall, Weight: 2, Confidence: 1.0},
	}
	g, err := BuildGraph(atoms, edges, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, g.FanOut("a"))
	assert.Equal(t, 1, g.FanIn("b"))
}

func TestGraph_IsAcyclic(t *testing.T) {
	atoms := mkAtoms("a", "b", "c")
	g, err := BuildGraph(atoms, []Edge{
		{Src: "a", Dst: "b", Confidence: 1},
		{Src: "b", Dst: "c", Confidence: 1},
	}, 0)
	require.NoError(t, err)
	assert.True(t, g.IsAcyclic())
	assert.Empty(t, g.Cycles())
}

func TestGraph_CyclesDetectsAndBreaksLoop(t *testing.T) {
	atoms := mkAtoms("a", "b", "c")
	g, err := BuildGraph(atoms, []Edge{
		{Src: "a", Dst: "b", Weight: 1, Confidence: 0.9},
		{Src: "b", Dst: "c", Weight: 1, Confidence: 0.9},
		{Src: "c", Dst: "a", Weight: 0.1, Confidence: 0.5},
	}, 0)
	require.NoError(t, err)
	require.False(t, g.IsAcyclic())
	require.Len(t, g.Cycles(), 1)

	removed := g.BreakCycles()
	require.NotEmpty(t, removed)
	assert.True(t, g.IsAcyclic())
	assert.Equal(t, "c", removed[0].Edge.Src)
	assert.Equal(t, "a", removed[0].Edge.Dst)
}

func TestGraph_BreakCyclesIsDeterministic(t *testing.T) {
	atoms := mkAtoms("a", "b", "c")
	edges := []Edge{
		{Src: "a", Dst: "b", Weight: 1, Confidence: 0.9},
		{Src: "b", Dst: "c", Weight: 1, Confidence: 0.9},
		{Src: "c", Dst: "a", Weight: 0.1, Confidence: 0.5},
	}

	g1, _ := BuildGraph(atoms, edges, 0)
	removed1 := g1.BreakCycles()

	g2, _ := BuildGraph(atoms, edges, 0)
	removed2 := g2.BreakCycles()

	require.Len(t, removed1, len(removed2))
	for i := range removed1 {
		assert.Equal(t, removed1[i].Edge.Src, removed2[i].Edge.Src)
		assert.Equal(t, removed1[i].Edge.Dst, removed2[i].Edge.Dst)
	}
}
