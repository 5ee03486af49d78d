package table

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/tobsdb/pivot/internal/format"
	"github.com/tobsdb/pivot/internal/types"
)

// batch is table input normalized to rows of raw values.
type batch struct {
	// set for schema input and for typed payloads (Arrow, CSV)
	schema     *types.Schema
	schemaOnly bool
	names      []string
	rows       []map[string]any
	// called once the batch was applied
	release func()
}

func (b *batch) done() {
	if b.release != nil {
		b.release()
	}
}

func badInput(msg string, args ...any) *QueryError {
	return NewQueryError(http.StatusBadRequest, fmt.Sprintf(msg, args...))
}

// readInput accepts a schema, row-major rows, column-major columns, CSV
// text or an Arrow IPC stream.
func readInput(data any) (*batch, error) {
	switch d := data.(type) {
	case nil:
		return nil, badInput("Table data is required")
	case *types.Schema:
		return &batch{schema: d.Clone(), schemaOnly: true, names: d.Names()}, nil
	case map[string]string:
		return schemaInput(d)
	case map[string]types.Type:
		m := make(map[string]string, len(d))
		for k, t := range d {
			m[k] = string(t)
		}
		return schemaInput(m)
	case []map[string]any:
		return rowsInput(d), nil
	case []types.Row:
		rows := make([]map[string]any, len(d))
		for i, r := range d {
			rows[i] = r
		}
		return rowsInput(rows), nil
	case []any:
		rows := make([]map[string]any, len(d))
		for i, r := range d {
			m, ok := r.(map[string]any)
			if !ok {
				return nil, badInput("Row %d is not an object", i)
			}
			rows[i] = m
		}
		return rowsInput(rows), nil
	case map[string][]any:
		return columnsInput(d)
	case map[string]any:
		return objectInput(d)
	case format.CSV:
		return csvInput(string(d))
	case string:
		return csvInput(d)
	case *format.Arrow:
		b, err := arrowInput(d.Bytes())
		if err != nil {
			return nil, err
		}
		b.release = d.Release
		return b, nil
	case []byte:
		return arrowInput(d)
	}
	return nil, badInput("Unsupported table data of type %T", data)
}

func schemaInput(m map[string]string) (*batch, error) {
	schema, err := types.SchemaFromMap(m)
	if err != nil {
		return nil, badInput("%s", err)
	}
	return &batch{schema: schema, schemaOnly: true, names: schema.Names()}, nil
}

// rowsInput takes column names from every row, sorted.
func rowsInput(rows []map[string]any) *batch {
	seen := map[string]bool{}
	names := []string{}
	for _, row := range rows {
		for k := range row {
			if !seen[k] {
				seen[k] = true
				names = append(names, k)
			}
		}
	}
	sort.Strings(names)
	return &batch{names: names, rows: rows}
}

func columnsInput(cols map[string][]any) (*batch, error) {
	names := make([]string, 0, len(cols))
	for k := range cols {
		names = append(names, k)
	}
	sort.Strings(names)

	n := -1
	for _, name := range names {
		if n >= 0 && len(cols[name]) != n {
			return nil, badInput("Column %q has %d values, expected %d", name, len(cols[name]), n)
		}
		n = len(cols[name])
	}
	rows := make([]map[string]any, max(n, 0))
	for i := range rows {
		row := make(map[string]any, len(names))
		for _, name := range names {
			row[name] = cols[name][i]
		}
		rows[i] = row
	}
	return &batch{names: names, rows: rows}, nil
}

// objectInput handles decoded JSON objects: either columns of values or a schema.
func objectInput(obj map[string]any) (*batch, error) {
	cols := make(map[string][]any, len(obj))
	schema := make(map[string]string, len(obj))
	for k, v := range obj {
		switch v := v.(type) {
		case []any:
			cols[k] = v
		case string:
			schema[k] = v
		default:
			return nil, badInput("Column %q must be a list of values or a type name", k)
		}
	}
	if len(cols) > 0 && len(schema) > 0 {
		return nil, badInput("Table data mixes columns and type names")
	}
	if len(schema) > 0 {
		return schemaInput(schema)
	}
	return columnsInput(cols)
}

func frameInput(f *format.Frame) (*batch, error) {
	schema := types.NewSchema()
	names := make([]string, len(f.Columns))
	for i, col := range f.Columns {
		if err := schema.Add(col.Name, col.Type); err != nil {
			return nil, badInput("%s", err)
		}
		names[i] = col.Name
	}
	n := f.NumRows()
	rows := make([]map[string]any, n)
	for i := range rows {
		row := make(map[string]any, len(names))
		for _, col := range f.Columns {
			row[col.Name] = col.Values[i]
		}
		rows[i] = row
	}
	return &batch{schema: schema, names: names, rows: rows}, nil
}

func csvInput(text string) (*batch, error) {
	f, err := format.FromCSV(text)
	if err != nil {
		return nil, badInput("%s", err)
	}
	return frameInput(f)
}

func arrowInput(buf []byte) (*batch, error) {
	f, err := format.FromArrow(buf)
	if err != nil {
		return nil, badInput("%s", err)
	}
	return frameInput(f)
}

// inferSchema types each column from its values.
func inferSchema(b *batch) (*types.Schema, error) {
	if len(b.names) == 0 {
		return nil, badInput("Cannot infer a schema from empty data")
	}
	schema := types.NewSchema()
	for _, name := range b.names {
		values := make([]any, len(b.rows))
		for i, row := range b.rows {
			values[i] = row[name]
		}
		if err := schema.Add(name, types.Infer(values)); err != nil {
			return nil, badInput("%s", err)
		}
	}
	return schema, nil
}
