package execengine

import "sort"

// PlannerConfig controls wave balancing.
type PlannerConfig struct {
	MaxWaveSize      int
	GlobalMaxParallel int
}

// DefaultPlannerConfig mirrors cfg.max_wave_size / cfg.global_parallelism
// defaults from the external configuration surface.
func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{MaxWaveSize: 100, GlobalMaxParallel: 16}
}

// atomLookup is the minimal per-atom data the planner needs beyond the
// graph's own topology: complexity rank for tie-breaking.
type atomLookup struct {
	complexity Complexity
}

// CreatePlan converts an acyclic graph into a level-partitioned
// ExecutionPlan using Kahn's algorithm: each atom's wave is its
// longest-path depth from any source. Atoms at equal depth form one wave,
// ordered (complexity_rank_desc, id_asc). Waves larger than
// cfg.MaxWaveSize are split into deterministic chunks. removedEdges is
// passed through verbatim from BreakCycles for plan audit.
func CreatePlan(g *Graph, atoms []Atom, removedEdges []RemovedEdge, cfg PlannerConfig) (ExecutionPlan, error) {
	if !g.IsAcyclic() {
		return ExecutionPlan{}, ErrCyclicDependency
	}

	lookup := make(map[int]atomLookup, len(atoms))
	for _, a := range atoms {
		if idx, ok := g.Index(a.ID); ok {
			lookup[idx] = atomLookup{complexity: a.Complexity}
		}
	}

	n := g.NodeCount()
	depth := make([]int, n)
	for i := range depth {
		depth[i] = -1
	}

	inDegree := make([]int, n)
	copy(inDegree, g.inDegree)

	var frontier []int
	for i := 0; i < n; i++ {
		if inDegree[i] == 0 {
			frontier = append(frontier, i)
			depth[i] = 0
		}
	}

	processed := 0
	levels := map[int][]int{}
	for len(frontier) > 0 {
		var next []int
		for _, u := range frontier {
			levels[depth[u]] = append(levels[depth[u]], u)
			processed++
			for k, v := range g.out[u] {
				_ = k
				inDegree[v]--
				if depth[v] < depth[u]+1 {
					depth[v] = depth[u] + 1
				}
				if inDegree[v] == 0 {
					next = append(next, v)
				}
			}
		}
		frontier = next
	}

	if processed != n {
		return ExecutionPlan{}, ErrGraphNonAcyclic
	}

	maxDepth := -1
	for d := range levels {
		if d > maxDepth {
			maxDepth = d
		}
	}

	maxWaveSize := cfg.MaxWaveSize
	if maxWaveSize <= 0 {
		maxWaveSize = 100
	}
	globalMax := cfg.GlobalMaxParallel
	if globalMax <= 0 {
		globalMax = 16
	}

	var waves []Wave
	waveIndex := 0
	for d := 0; d <= maxDepth; d++ {
		nodes := levels[d]
		if len(nodes) == 0 {
			continue
		}

		sort.Slice(nodes, func(i, j int) bool {
			a, b := lookup[nodes[i]], lookup[nodes[j]]
			ra, rb := a.complexity.rank(), b.complexity.rank()
			if ra != rb {
				return ra > rb
			}
			return g.AtomID(nodes[i]) < g.AtomID(nodes[j])
		})

		for start := 0; start < len(nodes); start += maxWaveSize {
			end := start + maxWaveSize
			if end > len(nodes) {
				end = len(nodes)
			}
			chunk := nodes[start:end]
			atomIDs := make([]string, len(chunk))
			for i, idx := range chunk {
				atomIDs[i] = g.AtomID(idx)
			}
			maxParallel := globalMax
			if len(atomIDs) < maxParallel {
				maxParallel = len(atomIDs)
			}
			waves = append(waves, Wave{
				Index:       waveIndex,
				AtomIDs:     atomIDs,
				MaxParallel: maxParallel,
			})
			waveIndex++
		}
	}

	return ExecutionPlan{
		Waves:            waves,
		TotalAtoms:       n,
		CycleBrokenEdges: removedEdges,
	}, nil
}

// ValidatePlan checks every atom appears in exactly one wave and every
// remaining graph edge points strictly forward across wave indices.
func ValidatePlan(plan ExecutionPlan, g *Graph) error {
	waveOf := make(map[string]int)
	for _, w := range plan.Waves {
		for _, id := range w.AtomIDs {
			if _, dup := waveOf[id]; dup {
				return ErrInvalidInput
			}
			waveOf[id] = w.Index
		}
	}
	if len(waveOf) != plan.TotalAtoms {
		return ErrInvalidInput
	}

	for u := 0; u < g.NodeCount(); u++ {
		srcID := g.AtomID(u)
		srcWave, ok := waveOf[srcID]
		if !ok {
			return ErrInvalidInput
		}
		for _, v := range g.out[u] {
			dstID := g.AtomID(v)
			dstWave, ok := waveOf[dstID]
			if !ok || dstWave <= srcWave {
				return ErrInvalidInput
			}
		}
	}
	return nil
}
