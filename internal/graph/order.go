package graph

import (
	"fmt"

	"specline/internal/domain"
)

const (
	white uint8 = iota
	gray
	black
)

// adjacency indexes items by first occurrence and keeps only edges whose
// target is in the set, deduplicated in declaration order.
func adjacency(items []*domain.Spec) ([]string, [][]int) {
	index := make(map[string]int, len(items))
	var ids []string
	var specs []*domain.Spec
	for _, spec := range items {
		if _, dup := index[spec.ID]; dup {
			continue
		}
		index[spec.ID] = len(ids)
		ids = append(ids, spec.ID)
		specs = append(specs, spec)
	}
	adj := make([][]int, len(ids))
	for i, spec := range specs {
		seen := map[int]bool{}
		for _, dep := range spec.DependsOn {
			j, ok := index[dep]
			if !ok || seen[j] {
				continue
			}
			seen[j] = true
			adj[i] = append(adj[i], j)
		}
	}
	return ids, adj
}

type frame struct {
	node int
	edge int
}

// DetectCycles walks depends_on edges depth-first with an explicit stack and
// reports every back edge as the stack slice from its target to the top.
// A self-dependency is a one-element cycle. Edges to ids outside items are
// ignored.
func DetectCycles(items []*domain.Spec) [][]string {
	ids, adj := adjacency(items)
	color := make([]uint8, len(ids))
	pos := make([]int, len(ids))
	var cycles [][]string

	for start := range ids {
		if color[start] != white {
			continue
		}
		color[start] = gray
		pos[start] = 0
		stack := []frame{{node: start}}
		for len(stack) > 0 {
			top := len(stack) - 1
			node := stack[top].node
			if stack[top].edge < len(adj[node]) {
				next := adj[node][stack[top].edge]
				stack[top].edge++
				switch color[next] {
				case white:
					color[next] = gray
					pos[next] = len(stack)
					stack = append(stack, frame{node: next})
				case gray:
					cycle := make([]string, 0, len(stack)-pos[next])
					for _, f := range stack[pos[next]:] {
						cycle = append(cycle, ids[f.node])
					}
					cycles = append(cycles, cycle)
				}
				continue
			}
			color[node] = black
			stack = stack[:top]
		}
	}
	return cycles
}

// TopoSort orders items so every dependency precedes its dependents. Ties
// keep input order. A cycle fails the whole sort.
func TopoSort(items []*domain.Spec) ([]string, error) {
	if cycles := DetectCycles(items); len(cycles) > 0 {
		return nil, &CycleError{Cycle: cycles[0]}
	}
	ids, adj := adjacency(items)
	indeg := make([]int, len(ids))
	dependents := make([][]int, len(ids))
	for i, deps := range adj {
		indeg[i] = len(deps)
		for _, j := range deps {
			dependents[j] = append(dependents[j], i)
		}
	}
	queue := make([]int, 0, len(ids))
	for i := range ids {
		if indeg[i] == 0 {
			queue = append(queue, i)
		}
	}
	out := make([]string, 0, len(ids))
	for head := 0; head < len(queue); head++ {
		n := queue[head]
		out = append(out, ids[n])
		for _, m := range dependents[n] {
			indeg[m]--
			if indeg[m] == 0 {
				queue = append(queue, m)
			}
		}
	}
	if len(out) != len(ids) {
		return nil, fmt.Errorf("%w: topological order has %d of %d specs", ErrInternalInvariant, len(out), len(ids))
	}
	return out, nil
}
