package view

import (
	"context"
	"fmt"
	"strings"

	"github.com/tobsdb/pivot/internal/format"
	"github.com/tobsdb/pivot/internal/types"
)

// outColumn is one output column: a base column, optionally under a split path.
type outColumn struct {
	name  string
	col   string
	split string
}

func (v *View) outColumns() []outColumn {
	if len(v.config.SplitBy) == 0 {
		out := make([]outColumn, len(v.columns))
		for i, col := range v.columns {
			out[i] = outColumn{name: col, col: col, split: totalKey}
		}
		return out
	}

	out := make([]outColumn, 0, len(v.splits)*len(v.columns))
	for _, sp := range v.splits {
		parts := make([]string, len(sp.path))
		for i, val := range sp.path {
			parts[i] = types.FormatValue(val)
		}
		prefix := strings.Join(parts, "|")
		for _, col := range v.columns {
			out = append(out, outColumn{name: prefix + "|" + col, col: col, split: sp.key})
		}
	}
	return out
}

// visible returns the grouped rows in output order, honoring expansion.
func (v *View) visible() []*node {
	if v.root == nil || v.root.total() == nil {
		return []*node{}
	}
	out := []*node{}
	var visit func(n *node)
	visit = func(n *node) {
		out = append(out, n)
		if !n.expanded || n.depth >= len(v.config.GroupBy) {
			return
		}
		for _, child := range v.sortedChildren(n) {
			visit(child)
		}
	}
	visit(v.root)
	return out
}

func (v *View) lookup(path []any) *node {
	n := v.root
	for _, val := range path {
		if n == nil {
			return nil
		}
		n = n.children[types.Key(val)]
	}
	return n
}

func (v *View) windowColumns(vp format.Viewport) []outColumn {
	cols := v.outColumns()
	start, end := vp.Cols(len(cols))
	return cols[start:end]
}

func (v *View) groupedFrame(ctx context.Context, nodes []*node, cols []outColumn) (*format.Frame, error) {
	f := &format.Frame{
		GroupBy:  v.config.GroupBy,
		RowPaths: make([][]any, len(nodes)),
		Columns:  make([]format.Column, len(cols)),
	}
	for j, oc := range cols {
		f.Columns[j] = format.Column{Name: oc.name, Type: v.columnType(oc.col), Values: make([]any, len(nodes))}
	}
	for i, n := range nodes {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		f.RowPaths[i] = n.path
		for j, oc := range cols {
			f.Columns[j].Values[i] = v.value(n, oc.split, oc.col)
		}
	}
	return f, nil
}

func (v *View) flatFrame(ctx context.Context, ids []int, cols []outColumn) (*format.Frame, error) {
	f := &format.Frame{Columns: make([]format.Column, len(cols))}
	for j, oc := range cols {
		f.Columns[j] = format.Column{Name: oc.name, Type: v.columnType(oc.col), Values: make([]any, len(ids))}
	}
	split := len(v.config.SplitBy) > 0
	for i, id := range ids {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		row := v.rows[id]
		row_split := totalKey
		if split {
			row_split = types.PathKey(v.splitValues(row))
		}
		for j, oc := range cols {
			if oc.split != row_split {
				continue
			}
			f.Columns[j].Values[i] = row.Get(oc.col)
		}
	}
	return f, nil
}

// frame materializes the rows and columns inside vp.
func (v *View) frame(ctx context.Context, vp format.Viewport) (*format.Frame, error) {
	v.locker.Lock()
	defer v.locker.Unlock()
	if err := v.check(); err != nil {
		return nil, err
	}

	cols := v.windowColumns(vp)
	if v.grouped() {
		nodes := v.visible()
		start, end := vp.Rows(len(nodes))
		return v.groupedFrame(ctx, nodes[start:end], cols)
	}
	ids := v.flatOrder()
	start, end := vp.Rows(len(ids))
	return v.flatFrame(ctx, ids[start:end], cols)
}

func (v *View) ToJSON(vp format.Viewport) ([]map[string]any, error) {
	return v.ToJSONContext(context.Background(), vp)
}

func (v *View) ToJSONContext(ctx context.Context, vp format.Viewport) ([]map[string]any, error) {
	f, err := v.frame(ctx, vp)
	if err != nil {
		return nil, err
	}
	return format.ToRows(f), nil
}

func (v *View) ToColumns(vp format.Viewport) (map[string][]any, error) {
	return v.ToColumnsContext(context.Background(), vp)
}

func (v *View) ToColumnsContext(ctx context.Context, vp format.Viewport) (map[string][]any, error) {
	f, err := v.frame(ctx, vp)
	if err != nil {
		return nil, err
	}
	return format.ToColumns(f), nil
}

func (v *View) ToCSV(vp format.Viewport) (string, error) {
	return v.ToCSVContext(context.Background(), vp)
}

func (v *View) ToCSVContext(ctx context.Context, vp format.Viewport) (string, error) {
	f, err := v.frame(ctx, vp)
	if err != nil {
		return "", err
	}
	return format.ToCSV(f)
}

// ToArrow renders the viewport as an Arrow IPC stream.
func (v *View) ToArrow(vp format.Viewport) ([]byte, error) {
	return v.ToArrowContext(context.Background(), vp)
}

func (v *View) ToArrowContext(ctx context.Context, vp format.Viewport) ([]byte, error) {
	f, err := v.frame(ctx, vp)
	if err != nil {
		return nil, err
	}
	return format.ToArrow(f)
}

// GetMinMax returns the smallest and largest non-null value of col. Grouped
// views consider the aggregates of their leaf rows; flat views the raw values.
func (v *View) GetMinMax(col string) ([2]any, error) {
	v.locker.Lock()
	defer v.locker.Unlock()
	var out [2]any
	if err := v.check(); err != nil {
		return out, err
	}

	seen := false
	consider := func(val any) {
		if val == nil {
			return
		}
		if !seen || types.Compare(val, out[0]) < 0 {
			out[0] = val
		}
		if !seen || types.Compare(val, out[1]) > 0 {
			out[1] = val
		}
		seen = true
	}

	if v.grouped() {
		if _, ok := v.aggs[col]; !ok {
			return out, fmt.Errorf("Column %q is not in the view.", col)
		}
		leaf := len(v.config.GroupBy)
		walk(v.root, func(n *node) {
			if n.depth != leaf {
				return
			}
			for key := range n.cells {
				if len(v.config.SplitBy) > 0 && key == totalKey {
					continue
				}
				consider(v.value(n, key, col))
			}
		})
		return out, nil
	}

	if !v.schema.Has(col) {
		return out, fmt.Errorf("Column %q is not in the view.", col)
	}
	for _, row := range v.rows {
		consider(row.Get(col))
	}
	return out, nil
}
