package format

import (
	"bytes"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/goccy/go-json"
	"github.com/tobsdb/pivot/internal/types"
)

// Arrow is an Arrow IPC stream handed to a table. Ingestion takes ownership
// of the buffer and empties the holder.
type Arrow struct {
	buf []byte
}

func NewArrow(buf []byte) *Arrow { return &Arrow{buf: buf} }

func (a *Arrow) Bytes() []byte { return a.buf }

func (a *Arrow) Len() int { return len(a.buf) }

// Release drops the holder's reference to the buffer.
func (a *Arrow) Release() { a.buf = nil }

func arrowType(t types.Type) arrow.DataType {
	switch t {
	case types.TypeInteger:
		return arrow.PrimitiveTypes.Int64
	case types.TypeFloat:
		return arrow.PrimitiveTypes.Float64
	case types.TypeBoolean:
		return arrow.FixedWidthTypes.Boolean
	case types.TypeDate:
		return arrow.FixedWidthTypes.Date32
	case types.TypeDateTime:
		return arrow.FixedWidthTypes.Timestamp_ms
	}
	return arrow.BinaryTypes.String
}

func typeFromArrow(dt arrow.DataType) types.Type {
	switch dt.ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		return types.TypeInteger
	case arrow.FLOAT16, arrow.FLOAT32, arrow.FLOAT64, arrow.DECIMAL128, arrow.DECIMAL256:
		return types.TypeFloat
	case arrow.BOOL:
		return types.TypeBoolean
	case arrow.DATE32, arrow.DATE64:
		return types.TypeDate
	case arrow.TIMESTAMP:
		return types.TypeDateTime
	case arrow.STRING, arrow.LARGE_STRING, arrow.DICTIONARY:
		return types.TypeString
	}
	return types.TypeObject
}

func appendValue(b array.Builder, t types.Type, v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	switch b := b.(type) {
	case *array.Int64Builder:
		if n, ok := v.(int64); ok {
			b.Append(n)
		} else {
			f, _ := types.ToFloat(v)
			b.Append(int64(f))
		}
	case *array.Float64Builder:
		f, _ := types.ToFloat(v)
		b.Append(f)
	case *array.BooleanBuilder:
		b.Append(v.(bool))
	case *array.Date32Builder:
		b.Append(arrow.Date32FromTime(v.(time.Time)))
	case *array.TimestampBuilder:
		ts, err := arrow.TimestampFromTime(v.(time.Time), arrow.Millisecond)
		if err != nil {
			return err
		}
		b.Append(ts)
	case *array.StringBuilder:
		if s, ok := v.(string); ok {
			b.Append(s)
		} else if t == types.TypeObject {
			raw, err := json.Marshal(v)
			if err != nil {
				return err
			}
			b.Append(string(raw))
		} else {
			b.Append(types.FormatValue(v))
		}
	default:
		return fmt.Errorf("unsupported arrow builder %T", b)
	}
	return nil
}

// ToArrow encodes the frame as an Arrow IPC stream holding one record batch.
// Grouped frames carry their row paths as a list<string> column.
func ToArrow(f *Frame) ([]byte, error) {
	mem := memory.NewGoAllocator()

	fields := []arrow.Field{}
	if f.Grouped() {
		fields = append(fields, arrow.Field{
			Name: RowPathColumn, Type: arrow.ListOf(arrow.BinaryTypes.String), Nullable: true,
		})
	}
	for _, col := range f.Columns {
		fields = append(fields, arrow.Field{Name: col.Name, Type: arrowType(col.Type), Nullable: true})
	}
	schema := arrow.NewSchema(fields, nil)

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	offset := 0
	if f.Grouped() {
		lb := b.Field(0).(*array.ListBuilder)
		vb := lb.ValueBuilder().(*array.StringBuilder)
		for _, path := range f.RowPaths {
			lb.Append(true)
			for _, v := range path {
				vb.Append(types.FormatValue(v))
			}
		}
		offset = 1
	}
	for i, col := range f.Columns {
		fb := b.Field(i + offset)
		for _, v := range col.Values {
			if err := appendValue(fb, col.Type, v); err != nil {
				return nil, fmt.Errorf("column %q: %w", col.Name, err)
			}
		}
	}

	rec := b.NewRecord()
	defer rec.Release()

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	if err := w.Write(rec); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func arrowValue(arr arrow.Array, i int) any {
	if arr.IsNull(i) {
		return nil
	}
	switch a := arr.(type) {
	case *array.Int8:
		return int64(a.Value(i))
	case *array.Int16:
		return int64(a.Value(i))
	case *array.Int32:
		return int64(a.Value(i))
	case *array.Int64:
		return a.Value(i)
	case *array.Uint8:
		return int64(a.Value(i))
	case *array.Uint16:
		return int64(a.Value(i))
	case *array.Uint32:
		return int64(a.Value(i))
	case *array.Uint64:
		return int64(a.Value(i))
	case *array.Float32:
		return float64(a.Value(i))
	case *array.Float64:
		return a.Value(i)
	case *array.Boolean:
		return a.Value(i)
	case *array.String:
		return a.Value(i)
	case *array.LargeString:
		return a.Value(i)
	case *array.Date32:
		return a.Value(i).ToTime().UTC()
	case *array.Date64:
		return types.TruncateDay(a.Value(i).ToTime())
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return a.Value(i).ToTime(unit).UTC()
	case *array.List:
		start, end := a.ValueOffsets(i)
		values := a.ListValues()
		out := make([]any, 0, end-start)
		for j := start; j < end; j++ {
			out = append(out, arrowValue(values, int(j)))
		}
		return out
	}
	return arr.ValueStr(i)
}

// FromArrow decodes every record batch of an Arrow IPC stream into one frame.
func FromArrow(buf []byte) (*Frame, error) {
	r, err := ipc.NewReader(bytes.NewReader(buf), ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, fmt.Errorf("Invalid arrow payload: %w", err)
	}
	defer r.Release()

	schema := r.Schema()
	f := &Frame{Columns: make([]Column, schema.NumFields())}
	for i, field := range schema.Fields() {
		f.Columns[i] = Column{Name: field.Name, Type: typeFromArrow(field.Type), Values: []any{}}
	}

	for r.Next() {
		rec := r.Record()
		for c := 0; c < int(rec.NumCols()); c++ {
			col := rec.Column(c)
			for i := 0; i < col.Len(); i++ {
				f.Columns[c].Values = append(f.Columns[c].Values, arrowValue(col, i))
			}
		}
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("Invalid arrow payload: %w", err)
	}
	return f, nil
}
