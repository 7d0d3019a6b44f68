package execengine

import (
	"fmt"
	"sort"

	"github.com/devmatrix-ai/devmatrix-mvp-sub020/internal/observability"
)

// Graph is an owned, read-only-after-build adjacency representation over a
// masterplan's atoms and dependency edges. Node references are dense
// integer indices internally; string atom ids are resolved once at build
// time and never again.
type Graph struct {
	atomIDs  []string
	indexOf  map[string]int
	out      [][]int   // out[i] = indices of nodes i points to
	edgesOut [][]*Edge // edgesOut[i][k] corresponds to out[i][k]
	inDegree []int
}

// Index returns the dense index assigned to atomID, or false if unknown.
func (g *Graph) Index(atomID string) (int, bool) {
	i, ok := g.indexOf[atomID]
	return i, ok
}

// AtomID returns the atom id at dense index i.
func (g *Graph) AtomID(i int) string { return g.atomIDs[i] }

// NodeCount returns the number of atoms in the graph.
func (g *Graph) NodeCount() int { return len(g.atomIDs) }

// FanIn returns the in-degree of the atom.
func (g *Graph) FanIn(atomID string) int {
	i, ok := g.indexOf[atomID]
	if !ok {
		return 0
	}
	return g.inDegree[i]
}

// FanOut returns the out-degree of the atom.
func (g *Graph) FanOut(atomID string) int {
	i, ok := g.indexOf[atomID]
	if !ok {
		return 0
	}
	return len(g.out[i])
}

// BuildGraph constructs a Graph from atoms and edges. Edges referencing an
// unknown atom return ErrInvalidEdge. Edges whose confidence is below floor
// are dropped. Parallel edges of the same (src, dst, kind) are coalesced by
// summing weight and replacing confidence with (current+next)/2 for each
// merged edge, which equals the plain average only for two edges.
func BuildGraph(atoms []Atom, edges []Edge, confidenceFloor float64) (*Graph, error) {
	indexOf := make(map[string]int, len(atoms))
	atomIDs := make([]string, len(atoms))
	for i, a := range atoms {
		indexOf[a.ID] = i
		atomIDs[i] = a.ID
	}

	type coalesceKey struct {
		src, dst int
		kind     EdgeKind
	}
	coalesced := make(map[coalesceKey]*Edge)
	order := make([]coalesceKey, 0, len(edges))

	for _, e := range edges {
		if e.Confidence < confidenceFloor {
			continue
		}
		srcIdx, ok := indexOf[e.Src]
		if !ok {
			return nil, fmt.Errorf("%w: unknown src %q", ErrInvalidEdge, e.Src)
		}
		dstIdx, ok := indexOf[e.Dst]
		if !ok {
			return nil, fmt.Errorf("%w: unknown dst %q", ErrInvalidEdge, e.Dst)
		}
		key := coalesceKey{srcIdx, dstIdx, e.Kind}
		if existing, found := coalesced[key]; found {
			existing.Weight += e.Weight
			existing.Confidence = (existing.Confidence + e.Confidence) / 2
			continue
		}
		cp := e
		coalesced[key] = &cp
		order = append(order, key)
	}

	g := &Graph{
		atomIDs:  atomIDs,
		indexOf:  indexOf,
		out:      make([][]int, len(atoms)),
		edgesOut: make([][]*Edge, len(atoms)),
		inDegree: make([]int, len(atoms)),
	}

	for _, key := range order {
		e := coalesced[key]
		g.out[key.src] = append(g.out[key.src], key.dst)
		g.edgesOut[key.src] = append(g.edgesOut[key.src], e)
		g.inDegree[key.dst]++
	}

	return g, nil
}

// SCC is a strongly connected component; only components of size > 1 are of
// interest for cycle breaking (a single node with no self-loop is acyclic).
type SCC struct {
	Nodes []int
}

// Cycles returns the non-trivial strongly connected components (size > 1)
// via Tarjan's algorithm, run iteratively to avoid recursion-depth limits on
// large plans.
func (g *Graph) Cycles() []SCC {
	n := g.NodeCount()
	indices := make([]int, n)
	lowlink := make([]int, n)
	onStack := make([]bool, n)
	for i := range indices {
		indices[i] = -1
	}

	var stack []int
	var sccs []SCC
	nextIndex := 0

	type frame struct {
		node    int
		edgeIdx int
	}

	for start := 0; start < n; start++ {
		if indices[start] != -1 {
			continue
		}

		var work []frame
		work = append(work, frame{node: start, edgeIdx: 0})
		indices[start] = nextIndex
		lowlink[start] = nextIndex
		nextIndex++
		stack = append(stack, start)
		onStack[start] = true

		for len(work) > 0 {
			top := &work[len(work)-1]
			v := top.node

			if top.edgeIdx < len(g.out[v]) {
				w := g.out[v][top.edgeIdx]
				top.edgeIdx++

				if indices[w] == -1 {
					indices[w] = nextIndex
					lowlink[w] = nextIndex
					nextIndex++
					stack = append(stack, w)
					onStack[w] = true
					work = append(work, frame{node: w, edgeIdx: 0})
				} else if onStack[w] {
					if indices[w] < lowlink[v] {
						lowlink[v] = indices[w]
					}
				}
				continue
			}

			// Done with v's successors.
			work = work[:len(work)-1]
			if len(work) > 0 {
				parent := &work[len(work)-1].node
				if lowlink[v] < lowlink[*parent] {
					lowlink[*parent] = lowlink[v]
				}
			}

			if lowlink[v] == indices[v] {
				var comp []int
				for {
					w := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack[w] = false
					comp = append(comp, w)
					if w == v {
						break
					}
				}
				if len(comp) > 1 {
					sccs = append(sccs, SCC{Nodes: comp})
				}
			}
		}
	}

	return sccs
}

// BreakCycles removes a greedy minimum-feedback-arc-set from each
// non-trivial SCC until the residual graph is acyclic. For each SCC it
// repeatedly removes the edge with the lowest weight-to-cycle-participation
// ratio, tie-broken by lower confidence then lexicographic (src_id, dst_id),
// until that component's induced subgraph is acyclic. Deterministic for
// identical input.
func (g *Graph) BreakCycles() []RemovedEdge {
	var removed []RemovedEdge

	for {
		sccs := g.Cycles()
		if len(sccs) == 0 {
			break
		}

		progressed := false
		for _, scc := range sccs {
			victim, hasVictim := g.pickMFASVictim(scc)
			if !hasVictim {
				continue
			}
			g.removeEdge(victim.src, victim.dst)
			removed = append(removed, RemovedEdge{
				Edge:   *victim.edge,
				Reason: "mfas: lowest weight-to-cycle-participation ratio",
			})
			progressed = true
		}
		if !progressed {
			// Defensive: should be unreachable given every non-trivial SCC
			// has at least one internal edge.
			break
		}
	}

	if len(removed) > 0 {
		observability.RecordCyclesBroken(len(removed))
	}
	return removed
}

type mfasCandidate struct {
	src, dst int
	edge     *Edge
	ratio    float64
}

// pickMFASVictim selects the edge to remove from one SCC: participation
// count is the number of edges within the component whose endpoints are
// both in scc.Nodes; ratio is weight / participation.
func (g *Graph) pickMFASVictim(scc SCC) (mfasCandidate, bool) {
	inSCC := make(map[int]bool, len(scc.Nodes))
	for _, n := range scc.Nodes {
		inSCC[n] = true
	}

	var candidates []mfasCandidate
	participation := 0
	for _, u := range scc.Nodes {
		for _, v := range g.out[u] {
			if inSCC[v] {
				participation++
			}
		}
	}
	if participation == 0 {
		return mfasCandidate{}, false
	}

	for _, u := range scc.Nodes {
		for k, v := range g.out[u] {
			if !inSCC[v] {
				continue
			}
			e := g.edgesOut[u][k]
			candidates = append(candidates, mfasCandidate{
				src:   u,
				dst:   v,
				edge:  e,
				ratio: e.Weight / float64(participation),
			})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.ratio != b.ratio {
			return a.ratio < b.ratio
		}
		if a.edge.Confidence != b.edge.Confidence {
			return a.edge.Confidence < b.edge.Confidence
		}
		if a.edge.Src != b.edge.Src {
			return a.edge.Src < b.edge.Src
		}
		return a.edge.Dst < b.edge.Dst
	})

	return candidates[0], true
}

func (g *Graph) removeEdge(src, dst int) {
	outs := g.out[src]
	edges := g.edgesOut[src]
	for k, v := range outs {
		if v == dst {
			g.out[src] = append(outs[:k], outs[k+1:]...)
			g.edgesOut[src] = append(edges[:k], edges[k+1:]...)
			g.inDegree[dst]--
			return
		}
	}
}

// IsAcyclic reports whether the graph currently has no non-trivial SCC.
func (g *Graph) IsAcyclic() bool {
	return len(g.Cycles()) == 0
}
