package batch

import "github.com/vitaliisemenov/codegraph-sync/internal/core"

// dagNode is one change fragment placed in the dependency graph. Adjacency
// is expressed as id lists, never back-pointers, per the design notes'
// "avoid any back-pointer graph" guidance.
type dagNode struct {
	fragment     core.ChangeFragment
	dependsOn    []string // ids this node must wait on
	dependents   []string // ids that wait on this node
	completed    bool
}

// dependencyDAG is the full graph built from a set of fragments' DependencyHints.
type dependencyDAG struct {
	nodes map[string]*dagNode
	order []string // insertion order, for deterministic iteration
}

func buildDAG(fragments []core.ChangeFragment) *dependencyDAG {
	d := &dependencyDAG{nodes: make(map[string]*dagNode, len(fragments))}
	for _, f := range fragments {
		d.nodes[f.ID] = &dagNode{fragment: f}
		d.order = append(d.order, f.ID)
	}
	for _, f := range fragments {
		for _, dep := range f.DependencyHints {
			if target, ok := d.nodes[dep]; ok {
				d.nodes[f.ID].dependsOn = append(d.nodes[f.ID].dependsOn, dep)
				target.dependents = append(target.dependents, f.ID)
			}
		}
	}
	return d
}

// roots returns fragment ids with no dependencies.
func (d *dependencyDAG) roots() []string {
	var r []string
	for _, id := range d.order {
		if len(d.nodes[id].dependsOn) == 0 {
			r = append(r, id)
		}
	}
	return r
}

// leaves returns fragment ids with no dependents.
func (d *dependencyDAG) leaves() []string {
	var l []string
	for _, id := range d.order {
		if len(d.nodes[id].dependents) == 0 {
			l = append(l, id)
		}
	}
	return l
}

// detectCycles runs DFS with an explicit recursion stack and records every
// cycle found rather than aborting on the first one, per §4.3 algorithm 4.
func (d *dependencyDAG) detectCycles() [][]string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(d.nodes))
	var cycles [][]string
	var stack []string

	var visit func(id string)
	visit = func(id string) {
		color[id] = gray
		stack = append(stack, id)

		for _, dep := range d.nodes[id].dependsOn {
			switch color[dep] {
			case white:
				visit(dep)
			case gray:
				// found a back-edge into the current recursion stack: extract the cycle
				cycle := extractCycle(stack, dep)
				cycles = append(cycles, cycle)
			}
		}

		stack = stack[:len(stack)-1]
		color[id] = black
	}

	for _, id := range d.order {
		if color[id] == white {
			visit(id)
		}
	}
	return cycles
}

func extractCycle(stack []string, target string) []string {
	for i, id := range stack {
		if id == target {
			cycle := append([]string(nil), stack[i:]...)
			return cycle
		}
	}
	return []string{target}
}

// readyNodes returns the ids of nodes whose dependencies are all completed
// and which are not yet completed themselves.
func (d *dependencyDAG) readyNodes() []string {
	var ready []string
	for _, id := range d.order {
		node := d.nodes[id]
		if node.completed {
			continue
		}
		allDepsDone := true
		for _, dep := range node.dependsOn {
			if depNode, ok := d.nodes[dep]; ok && !depNode.completed {
				allDepsDone = false
				break
			}
		}
		if allDepsDone {
			ready = append(ready, id)
		}
	}
	return ready
}

// markCompleted flags a node done so its dependents can become ready.
func (d *dependencyDAG) markCompleted(id string) {
	if node, ok := d.nodes[id]; ok {
		node.completed = true
	}
}

// remaining returns the number of nodes not yet completed.
func (d *dependencyDAG) remaining() int {
	n := 0
	for _, id := range d.order {
		if !d.nodes[id].completed {
			n++
		}
	}
	return n
}
