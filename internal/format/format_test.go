package format_test

import (
	"strings"
	"testing"
	"time"

	. "github.com/tobsdb/pivot/internal/format"
	"github.com/tobsdb/pivot/internal/types"
	"gotest.tools/assert"
)

var day = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func flatFrame() *Frame {
	return &Frame{Columns: []Column{
		{Name: "x", Type: types.TypeInteger, Values: []any{int64(1), nil, int64(3)}},
		{Name: "y", Type: types.TypeString, Values: []any{"a", "b", nil}},
		{Name: "d", Type: types.TypeDate, Values: []any{day, day, nil}},
	}}
}

func groupedFrame() *Frame {
	return &Frame{
		GroupBy:  []string{"y"},
		RowPaths: [][]any{{}, {"a"}, {"b"}},
		Columns: []Column{
			{Name: "x", Type: types.TypeFloat, Values: []any{4.5, 1.5, 3.0}},
		},
	}
}

func TestViewport(t *testing.T) {
	s, e := Viewport{}.Rows(10)
	assert.Equal(t, s, 0)
	assert.Equal(t, e, 10)

	s, e = Viewport{StartRow: 2, EndRow: 4}.Rows(10)
	assert.Equal(t, s, 2)
	assert.Equal(t, e, 4)

	s, e = Viewport{StartRow: 8, EndRow: 40}.Rows(5)
	assert.Equal(t, s, 5)
	assert.Equal(t, e, 5)

	s, e = Viewport{StartCol: 1}.Cols(3)
	assert.Equal(t, s, 1)
	assert.Equal(t, e, 3)
}

func TestJSON(t *testing.T) {
	t.Run("flat rows", func(t *testing.T) {
		rows := ToRows(flatFrame())
		assert.Equal(t, len(rows), 3)
		assert.DeepEqual(t, rows[0], map[string]any{"x": int64(1), "y": "a", "d": day.UnixMilli()})
		_, has_path := rows[0][RowPathColumn]
		assert.Assert(t, !has_path)
	})

	t.Run("grouped rows carry the row path", func(t *testing.T) {
		rows := ToRows(groupedFrame())
		assert.DeepEqual(t, rows[0][RowPathColumn], []any{})
		assert.DeepEqual(t, rows[1][RowPathColumn], []any{"a"})
	})

	t.Run("columns", func(t *testing.T) {
		cols := ToColumns(groupedFrame())
		assert.DeepEqual(t, cols["x"], []any{4.5, 1.5, 3.0})
		assert.DeepEqual(t, cols[RowPathColumn], []any{[]any{}, []any{"a"}, []any{"b"}})
	})
}

func TestCSV(t *testing.T) {
	t.Run("flat", func(t *testing.T) {
		out, err := ToCSV(flatFrame())
		assert.NilError(t, err)
		lines := strings.Split(strings.TrimSpace(out), "\n")
		assert.DeepEqual(t, lines, []string{
			"x,y,d",
			"1,a,2024-01-02",
			",b,2024-01-02",
			"3,,",
		})
	})

	t.Run("grouped flattens row paths", func(t *testing.T) {
		out, err := ToCSV(groupedFrame())
		assert.NilError(t, err)
		lines := strings.Split(strings.TrimSpace(out), "\n")
		assert.Equal(t, lines[0], "y (Group by 1),x")
		assert.Equal(t, lines[1], ",4.5")
		assert.Equal(t, lines[2], "a,1.5")
	})

	t.Run("read back", func(t *testing.T) {
		f, err := FromCSV("a,b,c\n1,x,2024-01-02\n2.5,,2024-01-03\n")
		assert.NilError(t, err)
		assert.Equal(t, f.NumRows(), 2)
		assert.Equal(t, f.Columns[0].Type, types.TypeFloat)
		assert.Equal(t, f.Columns[1].Type, types.TypeString)
		assert.Equal(t, f.Columns[2].Type, types.TypeDate)
		assert.DeepEqual(t, f.Columns[1].Values, []any{"x", nil})
	})

	t.Run("no header", func(t *testing.T) {
		_, err := FromCSV("")
		assert.ErrorContains(t, err, "Invalid CSV")
	})
}

func TestArrow(t *testing.T) {
	t.Run("flat round trip", func(t *testing.T) {
		buf, err := ToArrow(flatFrame())
		assert.NilError(t, err)
		assert.Assert(t, len(buf) > 0)

		f, err := FromArrow(buf)
		assert.NilError(t, err)
		assert.Equal(t, f.NumRows(), 3)
		assert.Equal(t, f.Columns[0].Type, types.TypeInteger)
		assert.DeepEqual(t, f.Columns[0].Values, []any{int64(1), nil, int64(3)})
		assert.Equal(t, f.Columns[2].Type, types.TypeDate)
		assert.DeepEqual(t, f.Columns[2].Values, []any{day, day, nil})
	})

	t.Run("grouped row paths", func(t *testing.T) {
		buf, err := ToArrow(groupedFrame())
		assert.NilError(t, err)

		f, err := FromArrow(buf)
		assert.NilError(t, err)
		assert.Equal(t, f.Columns[0].Name, RowPathColumn)
		assert.DeepEqual(t, f.Columns[0].Values, []any{[]any{}, []any{"a"}, []any{"b"}})
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := FromArrow([]byte("not arrow"))
		assert.ErrorContains(t, err, "Invalid arrow payload")
	})

	t.Run("holder release", func(t *testing.T) {
		a := NewArrow([]byte{1, 2, 3})
		assert.Equal(t, a.Len(), 3)
		a.Release()
		assert.Equal(t, a.Len(), 0)
	})
}
