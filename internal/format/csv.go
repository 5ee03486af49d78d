package format

import (
	"bytes"
	stdcsv "encoding/csv"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/tobsdb/pivot/internal/types"
)

// CSV is comma separated text handed to a table, with a header row.
type CSV string

// GroupByHeader names the CSV column holding level i (0-based) of the row path.
func GroupByHeader(column string, i int) string {
	return fmt.Sprintf("%s (Group by %d)", column, i+1)
}

// flatten turns row paths into one string column per group level, since CSV has no lists.
func flatten(f *Frame) []Column {
	if !f.Grouped() {
		return f.Columns
	}
	cols := make([]Column, 0, len(f.GroupBy)+len(f.Columns))
	for level, name := range f.GroupBy {
		values := make([]any, len(f.RowPaths))
		for i, path := range f.RowPaths {
			if level < len(path) {
				values[i] = types.FormatValue(path[level])
			}
		}
		cols = append(cols, Column{Name: GroupByHeader(name, level), Type: types.TypeString, Values: values})
	}
	return append(cols, f.Columns...)
}

// ToCSV renders the frame as CSV with a header row. Nulls are empty cells.
func ToCSV(f *Frame) (string, error) {
	mem := memory.NewGoAllocator()
	cols := flatten(f)

	fields := make([]arrow.Field, len(cols))
	for i, col := range cols {
		fields[i] = arrow.Field{Name: col.Name, Type: arrowType(col.Type), Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()
	for i, col := range cols {
		for _, v := range col.Values {
			if err := appendValue(b.Field(i), col.Type, v); err != nil {
				return "", fmt.Errorf("column %q: %w", col.Name, err)
			}
		}
	}
	rec := b.NewRecord()
	defer rec.Release()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf, schema, csv.WithHeader(true), csv.WithNullWriter(""))
	if err := w.Write(rec); err != nil {
		return "", err
	}
	if err := w.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// FromCSV reads CSV text into a frame of raw string cells. Column types are
// inferred from the text; empty cells are null.
func FromCSV(text string) (*Frame, error) {
	header, err := stdcsv.NewReader(strings.NewReader(text)).Read()
	if err != nil {
		return nil, fmt.Errorf("Invalid CSV: could not read header: %w", err)
	}

	// every column is read as text; the table coerces to its own schema
	fields := make([]arrow.Field, len(header))
	for i, name := range header {
		fields[i] = arrow.Field{Name: name, Type: arrow.BinaryTypes.String, Nullable: true}
	}

	r := csv.NewReader(strings.NewReader(text), arrow.NewSchema(fields, nil),
		csv.WithHeader(true),
		csv.WithChunk(-1),
		csv.WithNullReader(true, ""),
		csv.WithAllocator(memory.NewGoAllocator()),
	)
	defer r.Release()

	f := &Frame{Columns: make([]Column, len(header))}
	raw := make([][]string, len(header))
	for i, name := range header {
		f.Columns[i] = Column{Name: name, Values: []any{}}
	}

	for r.Next() {
		rec := r.Record()
		for c := 0; c < int(rec.NumCols()); c++ {
			col := rec.Column(c).(*array.String)
			for i := 0; i < col.Len(); i++ {
				if col.IsNull(i) {
					f.Columns[c].Values = append(f.Columns[c].Values, nil)
					continue
				}
				s := col.Value(i)
				f.Columns[c].Values = append(f.Columns[c].Values, s)
				raw[c] = append(raw[c], s)
			}
		}
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("Invalid CSV: %w", err)
	}

	for i := range f.Columns {
		f.Columns[i].Type = types.InferStrings(raw[i])
	}
	return f, nil
}
