package view

import (
	"sort"

	"github.com/tobsdb/pivot/internal/types"
)

// cell holds the aggregates of the rows sharing one row path and one split path.
type cell struct {
	members map[int]struct{}
	accs    map[string]*accumulator
}

// node is one row of the group-by tree. The root is the grand total.
type node struct {
	path     []any
	key      string
	depth    int
	parent   *node
	children map[string]*node
	// split key -> cell; totalKey holds the unsplit aggregates
	cells    map[string]*cell
	expanded bool
}

const totalKey = ""

type splitPath struct {
	key  string
	path []any
}

func (v *View) newNode(parent *node, value any) *node {
	n := &node{
		children: map[string]*node{},
		cells:    map[string]*cell{},
		parent:   parent,
		path:     []any{},
	}
	if parent != nil {
		n.path = append(append(n.path, parent.path...), value)
		n.depth = parent.depth + 1
	}
	n.key = types.PathKey(n.path)
	n.expanded = n.depth < v.depth
	return n
}

func (v *View) newCell() *cell {
	c := &cell{members: map[int]struct{}{}, accs: make(map[string]*accumulator, len(v.aggOrder))}
	for _, col := range v.aggOrder {
		c.accs[col] = newAccumulator(v.aggs[col])
	}
	return c
}

func (n *node) total() *cell { return n.cells[totalKey] }

func (v *View) cellAdd(n *node, key string, id int, row types.Row) {
	c, ok := n.cells[key]
	if !ok {
		c = v.newCell()
		n.cells[key] = c
	}
	c.members[id] = struct{}{}
	for _, acc := range c.accs {
		acc.add(row)
	}
}

func (v *View) cellRemove(n *node, key string, id int, row types.Row) {
	c, ok := n.cells[key]
	if !ok {
		return
	}
	if _, ok := c.members[id]; !ok {
		return
	}
	delete(c.members, id)
	if len(c.members) == 0 {
		delete(n.cells, key)
		return
	}
	for _, acc := range c.accs {
		acc.remove(row)
	}
}

// rowsOf returns the member rows of c in row id order.
func (v *View) rowsOf(c *cell) []types.Row {
	ids := make([]int, 0, len(c.members))
	for id := range c.members {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	rows := make([]types.Row, len(ids))
	for i, id := range ids {
		rows[i] = v.rows[id]
	}
	return rows
}

func (v *View) value(n *node, key, col string) any {
	c, ok := n.cells[key]
	if !ok {
		return nil
	}
	acc, ok := c.accs[col]
	if !ok {
		return nil
	}
	return acc.value(func() []types.Row { return v.rowsOf(c) })
}

func (v *View) splitValues(row types.Row) []any {
	path := make([]any, len(v.config.SplitBy))
	for i, col := range v.config.SplitBy {
		path[i] = row.Get(col)
	}
	return path
}

// registerSplit records a split path the first time it is seen. The set of
// split paths only grows until the view is reset.
func (v *View) registerSplit(path []any) string {
	key := types.PathKey(path)
	if v.splitIdx[key] {
		return key
	}
	v.splitIdx[key] = true
	i := sort.Search(len(v.splits), func(i int) bool {
		return types.ComparePaths(v.splits[i].path, path) > 0
	})
	v.splits = append(v.splits, splitPath{})
	copy(v.splits[i+1:], v.splits[i:])
	v.splits[i] = splitPath{key, path}
	v.columnsChanged = true
	return key
}

func (v *View) addGrouped(id int, row types.Row) {
	split := totalKey
	if len(v.config.SplitBy) > 0 {
		split = v.registerSplit(v.splitValues(row))
	}

	n := v.root
	for i := 0; ; i++ {
		v.cellAdd(n, totalKey, id, row)
		if split != totalKey {
			v.cellAdd(n, split, id, row)
		}
		v.markDirty(n.key)
		if i == len(v.config.GroupBy) {
			return
		}

		value := row.Get(v.config.GroupBy[i])
		vk := types.Key(value)
		child, ok := n.children[vk]
		if !ok {
			child = v.newNode(n, value)
			n.children[vk] = child
		}
		n = child
	}
}

func (v *View) removeGrouped(id int, row types.Row) {
	split := totalKey
	if len(v.config.SplitBy) > 0 {
		split = types.PathKey(v.splitValues(row))
	}

	chain := []*node{v.root}
	n := v.root
	for _, col := range v.config.GroupBy {
		child, ok := n.children[types.Key(row.Get(col))]
		if !ok {
			break
		}
		chain = append(chain, child)
		n = child
	}

	for i := len(chain) - 1; i >= 0; i-- {
		n := chain[i]
		v.cellRemove(n, totalKey, id, row)
		if split != totalKey {
			v.cellRemove(n, split, id, row)
		}
		if n.total() == nil && n.parent != nil {
			delete(n.parent.children, types.Key(n.path[len(n.path)-1]))
			v.markRemoved(n.key, n.path)
			continue
		}
		v.markDirty(n.key)
	}
}

// walk visits every node below and including n, depth first.
func walk(n *node, fn func(*node)) {
	fn(n)
	for _, child := range n.children {
		walk(child, fn)
	}
}
