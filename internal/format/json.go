package format

import (
	"time"
)

// JSONValue converts a canonical value to its JSON form. Dates and datetimes
// become milliseconds since the epoch.
func JSONValue(v any) any {
	switch v := v.(type) {
	case time.Time:
		return v.UnixMilli()
	}
	return v
}

func jsonPath(path []any) []any {
	out := make([]any, len(path))
	for i, v := range path {
		out[i] = JSONValue(v)
	}
	return out
}

// ToRows renders the frame row-major, one map per row.
func ToRows(f *Frame) []map[string]any {
	n := f.NumRows()
	rows := make([]map[string]any, n)
	for i := 0; i < n; i++ {
		row := make(map[string]any, len(f.Columns)+1)
		if f.Grouped() {
			row[RowPathColumn] = jsonPath(f.RowPaths[i])
		}
		for _, col := range f.Columns {
			row[col.Name] = JSONValue(col.Values[i])
		}
		rows[i] = row
	}
	return rows
}

// ToColumns renders the frame column-major.
func ToColumns(f *Frame) map[string][]any {
	out := make(map[string][]any, len(f.Columns)+1)
	if f.Grouped() {
		paths := make([]any, len(f.RowPaths))
		for i, p := range f.RowPaths {
			paths[i] = jsonPath(p)
		}
		out[RowPathColumn] = paths
	}
	for _, col := range f.Columns {
		values := make([]any, len(col.Values))
		for i, v := range col.Values {
			values[i] = JSONValue(v)
		}
		out[col.Name] = values
	}
	return out
}
