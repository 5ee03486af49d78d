package view

import (
	"math"
	"slices"

	"github.com/tobsdb/pivot/internal/types"
)

// compareSorted orders two values under a sort direction. Absolute sorts
// compare magnitudes and break ties on the signed value, ascending.
func compareSorted(a, b any, dir SortDir) int {
	var c int
	if dir.abs() {
		fa, aok := types.ToFloat(a)
		fb, bok := types.ToFloat(b)
		if aok && bok {
			c = types.Compare(math.Abs(fa), math.Abs(fb))
			if c == 0 {
				// signed tie-break is always ascending
				return types.Compare(fa, fb)
			}
		} else {
			c = types.Compare(a, b)
		}
	} else {
		c = types.Compare(a, b)
	}
	if dir.desc() {
		return -c
	}
	return c
}

// sortedChildren returns n's children in output order: by each sort in turn,
// then by group value ascending.
func (v *View) sortedChildren(n *node) []*node {
	children := make([]*node, 0, len(n.children))
	for _, child := range n.children {
		children = append(children, child)
	}

	level := n.depth
	group_col := v.config.GroupBy[level]
	key := func(child *node, col string) any {
		if col == group_col {
			return child.path[level]
		}
		return v.value(child, totalKey, col)
	}

	slices.SortStableFunc(children, func(a, b *node) int {
		for _, s := range v.sorts {
			if c := compareSorted(key(a, s.Column), key(b, s.Column), s.Direction); c != 0 {
				return c
			}
		}
		return types.Compare(a.path[level], b.path[level])
	})
	return children
}

// flatOrder returns the ids of the view's rows in output order: by each sort
// in turn, then by the table index when there is one, then by insertion.
func (v *View) flatOrder() []int {
	ids := make([]int, 0, len(v.rows))
	for id := range v.rows {
		ids = append(ids, id)
	}
	index := v.src.Index()

	slices.SortFunc(ids, func(a, b int) int {
		ra, rb := v.rows[a], v.rows[b]
		for _, s := range v.sorts {
			if c := compareSorted(ra.Get(s.Column), rb.Get(s.Column), s.Direction); c != 0 {
				return c
			}
		}
		if index != "" {
			if c := types.Compare(ra.Get(index), rb.Get(index)); c != 0 {
				return c
			}
		}
		return a - b
	})
	return ids
}
