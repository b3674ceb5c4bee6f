package graph

import (
	"fmt"
	"sort"
	"strings"
)

// SchedulingError reports nodes that never reached in-degree zero,
// because they sit on or behind a dependency cycle.
type SchedulingError struct {
	Unscheduled []string
}

func (e *SchedulingError) Error() string {
	return fmt.Sprintf("%d node(s) could not be scheduled: %s", len(e.Unscheduled), strings.Join(e.Unscheduled, ", "))
}

// Levels groups nodeIDs into execution levels using Kahn's algorithm.
// Every edge points from an earlier level to a later one, and members of a level
// keep the order they had in nodeIDs. Edges with an endpoint outside nodeIDs are ignored.
//
// When some nodes can never be scheduled the levels computed so far are returned
// together with a *SchedulingError naming the rest.
func Levels(nodeIDs []string, edges []Edge) ([][]string, error) {
	index := make(map[string]int, len(nodeIDs))
	var order []string
	for _, id := range nodeIDs {
		if _, dup := index[id]; dup {
			continue
		}
		index[id] = len(order)
		order = append(order, id)
	}

	inDegree := make([]int, len(order))
	adjacent := make([][]int, len(order))
	for _, e := range edges {
		s, ok := index[e.Source]
		if !ok {
			continue
		}
		t, ok := index[e.Target]
		if !ok {
			continue
		}
		adjacent[s] = append(adjacent[s], t)
		inDegree[t]++
	}

	var current []int
	for i := range order {
		if inDegree[i] == 0 {
			current = append(current, i)
		}
	}

	var levels [][]string
	scheduled := make([]bool, len(order))
	for len(current) > 0 {
		level := make([]string, len(current))
		var next []int
		for i, n := range current {
			level[i] = order[n]
			scheduled[n] = true
			for _, t := range adjacent[n] {
				inDegree[t]--
				if inDegree[t] == 0 {
					next = append(next, t)
				}
			}
		}
		levels = append(levels, level)
		sort.Ints(next)
		current = next
	}

	var unscheduled []string
	for i, id := range order {
		if !scheduled[i] {
			unscheduled = append(unscheduled, id)
		}
	}
	if len(unscheduled) > 0 {
		return levels, &SchedulingError{Unscheduled: unscheduled}
	}
	return levels, nil
}
