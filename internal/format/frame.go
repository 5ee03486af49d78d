package format

import (
	"github.com/tobsdb/pivot/internal/types"
	"github.com/tobsdb/pivot/pkg"
)

// RowPathColumn names the row path of grouped output.
const RowPathColumn = "__ROW_PATH__"

type Column struct {
	Name   string
	Type   types.Type
	Values []any
}

// Frame is a column-major slice of materialized output.
type Frame struct {
	// GroupBy is set for grouped output; RowPaths then has one path per row.
	GroupBy  []string
	RowPaths [][]any
	Columns  []Column
}

func (f *Frame) Grouped() bool { return f.GroupBy != nil }

func (f *Frame) NumRows() int {
	if f.Grouped() {
		return len(f.RowPaths)
	}
	if len(f.Columns) == 0 {
		return 0
	}
	return len(f.Columns[0].Values)
}

// Column finds a column by name.
func (f *Frame) Column(name string) (*Column, bool) {
	for i := range f.Columns {
		if f.Columns[i].Name == name {
			return &f.Columns[i], true
		}
	}
	return nil, false
}

// Viewport selects a window of rows and columns. End bounds are exclusive;
// an end of zero or less means no bound.
type Viewport struct {
	StartRow int `json:"start_row"`
	EndRow   int `json:"end_row"`
	StartCol int `json:"start_col"`
	EndCol   int `json:"end_col"`
}

// Rows resolves the row window against n available rows.
func (v Viewport) Rows(n int) (int, int) {
	return bounds(v.StartRow, v.EndRow, n)
}

// Cols resolves the column window against n available columns.
func (v Viewport) Cols(n int) (int, int) {
	return bounds(v.StartCol, v.EndCol, n)
}

func bounds(start, end, n int) (int, int) {
	if end <= 0 || end > n {
		end = n
	}
	start = pkg.Clamp(start, 0, end)
	return start, end
}
