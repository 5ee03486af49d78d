package table_test

import (
	"sync"
	"testing"

	"github.com/tobsdb/pivot/internal/format"
	. "github.com/tobsdb/pivot/internal/table"
	"github.com/tobsdb/pivot/internal/types"
	"github.com/tobsdb/pivot/internal/view"
	"gotest.tools/assert"
)

func rows(n int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = map[string]any{"id": i, "name": string(rune('a' + i%26)), "score": float64(i) + 0.5}
	}
	return out
}

func toJSON(t *testing.T, v *view.View) []map[string]any {
	out, err := v.ToJSON(format.Viewport{})
	assert.NilError(t, err)
	return out
}

func TestNew(t *testing.T) {
	t.Run("from rows", func(t *testing.T) {
		tbl, err := New(rows(3), Options{})
		assert.NilError(t, err)
		size, _ := tbl.Size()
		assert.Equal(t, size, 3)
		schema, _ := tbl.Schema()
		assert.DeepEqual(t, schema.Map(), map[string]string{"id": "integer", "name": "string", "score": "float"})
		cols, _ := tbl.Columns()
		assert.DeepEqual(t, cols, []string{"id", "name", "score"})
	})

	t.Run("from columns", func(t *testing.T) {
		tbl, err := New(map[string][]any{"a": {1, 2}, "b": {"x", nil}}, Options{})
		assert.NilError(t, err)
		v, err := tbl.View(view.Config{})
		assert.NilError(t, err)
		assert.DeepEqual(t, toJSON(t, v), []map[string]any{
			{"a": int64(1), "b": "x"},
			{"a": int64(2), "b": nil},
		})
	})

	t.Run("from schema", func(t *testing.T) {
		tbl, err := New(map[string]string{"a": "integer", "b": "date"}, Options{Index: "a"})
		assert.NilError(t, err)
		size, _ := tbl.Size()
		assert.Equal(t, size, 0)
		assert.Equal(t, tbl.GetIndex(), "a")
	})

	t.Run("from csv", func(t *testing.T) {
		tbl, err := New(format.CSV("x,y\n1,a\n2,b\n"), Options{})
		assert.NilError(t, err)
		schema, _ := tbl.Schema()
		assert.DeepEqual(t, schema.Map(), map[string]string{"x": "integer", "y": "string"})
	})

	t.Run("config errors", func(t *testing.T) {
		_, err := New(rows(1), Options{Index: "id", Limit: 2})
		assert.ErrorContains(t, err, "both index and limit")
		_, err = New(rows(1), Options{Index: "nope"})
		assert.ErrorContains(t, err, `Index column "nope" does not exist`)
		_, err = New([]map[string]any{}, Options{})
		assert.ErrorContains(t, err, "empty data")
		_, err = New(42, Options{})
		assert.ErrorContains(t, err, "Unsupported table data")
	})
}

func TestUpdate(t *testing.T) {
	t.Run("append without index", func(t *testing.T) {
		tbl, _ := New(rows(2), Options{})
		assert.NilError(t, tbl.Update(rows(2), UpdateOptions{}))
		size, _ := tbl.Size()
		assert.Equal(t, size, 4)
	})

	t.Run("upsert keeps one row per key", func(t *testing.T) {
		tbl, _ := New(rows(3), Options{Index: "id"})
		assert.NilError(t, tbl.Update([]map[string]any{{"id": 1, "name": "first"}}, UpdateOptions{}))
		assert.NilError(t, tbl.Update([]map[string]any{{"id": 1, "name": "second"}}, UpdateOptions{}))
		size, _ := tbl.Size()
		assert.Equal(t, size, 3)

		v, _ := tbl.View(view.Config{Filter: []view.Filter{{Column: "id", Op: types.OpEq, Operand: 1}}})
		// absent columns keep their values
		assert.DeepEqual(t, toJSON(t, v), []map[string]any{{"id": int64(1), "name": "second", "score": 1.5}})
	})

	t.Run("explicit null sets null", func(t *testing.T) {
		tbl, _ := New(rows(1), Options{Index: "id"})
		assert.NilError(t, tbl.Update([]map[string]any{{"id": 0, "score": nil}}, UpdateOptions{}))
		v, _ := tbl.View(view.Config{Columns: []string{"score"}})
		assert.DeepEqual(t, toJSON(t, v), []map[string]any{{"score": nil}})
	})

	t.Run("limit evicts oldest", func(t *testing.T) {
		tbl, _ := New(rows(3), Options{Limit: 2})
		v, _ := tbl.View(view.Config{Columns: []string{"id"}})
		assert.DeepEqual(t, toJSON(t, v), []map[string]any{{"id": int64(1)}, {"id": int64(2)}})

		assert.NilError(t, tbl.Update([]map[string]any{{"id": 7}}, UpdateOptions{}))
		assert.DeepEqual(t, toJSON(t, v), []map[string]any{{"id": int64(2)}, {"id": int64(7)}})
	})

	t.Run("all or nothing", func(t *testing.T) {
		tbl, _ := New(rows(2), Options{})
		err := tbl.Update([]map[string]any{{"id": 5}, {"id": "nope"}}, UpdateOptions{})
		assert.ErrorContains(t, err, `Invalid value for column "id" at row 1`)
		size, _ := tbl.Size()
		assert.Equal(t, size, 2)
	})

	t.Run("unknown column", func(t *testing.T) {
		tbl, _ := New(rows(1), Options{})
		err := tbl.Update([]map[string]any{{"nope": 1}}, UpdateOptions{})
		assert.ErrorContains(t, err, `Column "nope" does not exist`)
	})

	t.Run("missing index value", func(t *testing.T) {
		tbl, _ := New(rows(1), Options{Index: "id"})
		err := tbl.Update([]map[string]any{{"name": "x"}}, UpdateOptions{})
		assert.ErrorContains(t, err, "no value for index column")
	})

	t.Run("unknown port", func(t *testing.T) {
		tbl, _ := New(rows(1), Options{})
		err := tbl.Update(rows(1), UpdateOptions{PortID: 3})
		assert.ErrorContains(t, err, "Port 3 does not exist")
		assert.Equal(t, StatusOf(err), 404)
	})
}

func TestRemove(t *testing.T) {
	t.Run("requires index", func(t *testing.T) {
		tbl, _ := New(rows(2), Options{})
		assert.Equal(t, tbl.Remove([]any{1}, UpdateOptions{}), ErrNoIndex)
	})

	t.Run("by key", func(t *testing.T) {
		tbl, _ := New(rows(4), Options{Index: "id"})
		v, _ := tbl.View(view.Config{Columns: []string{"id"}})
		assert.NilError(t, tbl.Remove([]any{1, 3, 99}, UpdateOptions{}))
		assert.DeepEqual(t, toJSON(t, v), []map[string]any{{"id": int64(0)}, {"id": int64(2)}})
	})
}

func TestReplaceAndClear(t *testing.T) {
	tbl, _ := New(rows(3), Options{Index: "id"})
	v, _ := tbl.View(view.Config{GroupBy: []string{"name"}, Columns: []string{"score"}})
	var last view.Update
	_, err := v.OnUpdate(func(u view.Update) { last = u }, view.UpdateRow)
	assert.NilError(t, err)

	assert.NilError(t, tbl.Replace(rows(2)))
	first := toJSON(t, v)
	assert.Assert(t, last.Reset)
	assert.DeepEqual(t, last.Delta, first)
	assert.NilError(t, tbl.Replace(rows(2)))
	assert.DeepEqual(t, toJSON(t, v), first)
	assert.Equal(t, len(first), 3)

	assert.NilError(t, tbl.Update(rows(1), UpdateOptions{}))
	assert.Assert(t, !last.Reset)

	assert.NilError(t, tbl.Clear())
	size, _ := tbl.Size()
	assert.Equal(t, size, 0)
	assert.Equal(t, len(toJSON(t, v)), 0)
	assert.Assert(t, last.Reset)
	assert.Equal(t, len(last.Delta), 0)
}

func TestMirrorFromDeltas(t *testing.T) {
	tbl, _ := New(rows(3), Options{Index: "id"})
	v, _ := tbl.View(view.Config{})

	mirror := map[any]map[string]any{}
	for _, row := range toJSON(t, v) {
		mirror[row["id"]] = row
	}
	_, err := v.OnUpdate(func(u view.Update) {
		if u.Reset {
			mirror = map[any]map[string]any{}
		}
		for _, key := range u.Removed {
			delete(mirror, key)
		}
		for _, row := range u.Delta {
			mirror[row["id"]] = row
		}
	}, view.UpdateRow)
	assert.NilError(t, err)

	check := func(t *testing.T) {
		size, _ := tbl.Size()
		assert.Equal(t, len(mirror), size)
		for _, row := range toJSON(t, v) {
			assert.DeepEqual(t, mirror[row["id"]], row)
		}
	}

	t.Run("remove", func(t *testing.T) {
		assert.NilError(t, tbl.Remove([]any{1}, UpdateOptions{}))
		check(t)
	})

	t.Run("clear", func(t *testing.T) {
		assert.NilError(t, tbl.Clear())
		assert.Equal(t, len(mirror), 0)
		check(t)
	})

	t.Run("replace", func(t *testing.T) {
		assert.NilError(t, tbl.Update(rows(3), UpdateOptions{}))
		assert.NilError(t, tbl.Replace([]map[string]any{{"id": 9, "name": "z", "score": 1.5}}))
		assert.Equal(t, len(mirror), 1)
		assert.Equal(t, mirror[int64(9)]["name"], "z")
		check(t)
	})
}

func TestPorts(t *testing.T) {
	tbl, _ := New(rows(1), Options{Index: "id"})
	assert.Equal(t, tbl.NumPorts(), 1)
	p1, _ := tbl.MakePort()
	p2, _ := tbl.MakePort()
	assert.Equal(t, p1, 1)
	assert.Equal(t, p2, 2)

	t.Run("port id survives the round trip", func(t *testing.T) {
		v, _ := tbl.View(view.Config{})
		ports := []int{}
		_, err := v.OnUpdate(func(u view.Update) { ports = append(ports, u.PortID) }, view.UpdateNone)
		assert.NilError(t, err)

		assert.NilError(t, tbl.Update(rows(1), UpdateOptions{PortID: p2}))
		assert.NilError(t, tbl.Update(rows(1), UpdateOptions{PortID: p1}))
		assert.DeepEqual(t, ports, []int{p2, p1})
	})

	t.Run("forwarding stops after one hop", func(t *testing.T) {
		local, _ := New(rows(1), Options{Index: "id"})
		remote, _ := New(rows(1), Options{Index: "id"})
		edit_port, _ := local.MakePort()
		remote_port, _ := remote.MakePort()

		lv, _ := local.View(view.Config{})
		rv, _ := remote.View(view.Config{})
		local_calls, remote_calls := 0, 0

		// local edits are forwarded to the remote, remote changes come back on
		// a port the local side does not forward
		lv.OnUpdate(func(u view.Update) {
			local_calls++
			if u.PortID == edit_port {
				assert.NilError(t, remote.Update(u.Delta, UpdateOptions{PortID: remote_port}))
			}
		}, view.UpdateRow)
		rv.OnUpdate(func(u view.Update) {
			remote_calls++
			if u.PortID == remote_port {
				return
			}
			assert.NilError(t, local.Update(u.Delta, UpdateOptions{}))
		}, view.UpdateRow)

		assert.NilError(t, local.Update([]map[string]any{{"id": 0, "name": "edit"}}, UpdateOptions{PortID: edit_port}))
		assert.Equal(t, local_calls, 1)
		assert.Equal(t, remote_calls, 1)

		out := toJSON(t, rv)
		assert.Equal(t, out[0]["name"], "edit")
	})
}

func TestUpdateCallbacks(t *testing.T) {
	t.Run("reentrant update runs after the current callbacks", func(t *testing.T) {
		tbl, _ := New(rows(1), Options{})
		v, _ := tbl.View(view.Config{})
		order := []string{}
		first := true
		v.OnUpdate(func(u view.Update) {
			order = append(order, "a")
			if first {
				first = false
				assert.NilError(t, tbl.Update(rows(1), UpdateOptions{}))
			}
		}, view.UpdateNone)
		v.OnUpdate(func(u view.Update) { order = append(order, "b") }, view.UpdateNone)

		assert.NilError(t, tbl.Update(rows(1), UpdateOptions{}))
		assert.DeepEqual(t, order, []string{"a", "b", "a", "b"})
	})

	t.Run("panicking callback does not stop dispatch", func(t *testing.T) {
		tbl, _ := New(rows(1), Options{})
		v, _ := tbl.View(view.Config{})
		called := false
		v.OnUpdate(func(u view.Update) { panic("boom") }, view.UpdateNone)
		v.OnUpdate(func(u view.Update) { called = true }, view.UpdateNone)
		assert.NilError(t, tbl.Update(rows(1), UpdateOptions{}))
		assert.Assert(t, called)
	})

	t.Run("arrow deltas", func(t *testing.T) {
		tbl, _ := New(rows(1), Options{})
		v, _ := tbl.View(view.Config{Columns: []string{"id"}})
		var got view.Update
		v.OnUpdate(func(u view.Update) { got = u }, view.UpdateArrow)
		assert.NilError(t, tbl.Update([]map[string]any{{"id": 9}}, UpdateOptions{}))

		f, err := format.FromArrow(got.Arrow)
		assert.NilError(t, err)
		col, ok := f.Column("id")
		assert.Assert(t, ok)
		assert.DeepEqual(t, col.Values, []any{int64(9)})
	})
}

func TestGetMinMax(t *testing.T) {
	tbl, err := New([]map[string]any{
		{"g": "a", "x": -9.5},
		{"g": "a", "x": 5.5},
		{"g": "b", "x": 8.5},
		{"g": "b", "x": -7.5},
	}, Options{})
	assert.NilError(t, err)

	flat, _ := tbl.View(view.Config{})
	mm, err := flat.GetMinMax("x")
	assert.NilError(t, err)
	assert.DeepEqual(t, mm, [2]any{-9.5, 8.5})

	grouped, _ := tbl.View(view.Config{GroupBy: []string{"g"}})
	mm, err = grouped.GetMinMax("x")
	assert.NilError(t, err)
	assert.DeepEqual(t, mm, [2]any{-4.0, 1.0})
}

func TestSortStability(t *testing.T) {
	tbl, _ := New([]map[string]any{
		{"k": 1, "v": "first"},
		{"k": 0, "v": "zero"},
		{"k": 1, "v": "second"},
		{"k": 1, "v": "third"},
	}, Options{})
	v, _ := tbl.View(view.Config{Columns: []string{"v"}, Sort: []view.Sort{{Column: "k", Direction: view.SortDesc}}})
	assert.DeepEqual(t, toJSON(t, v), []map[string]any{
		{"v": "first"}, {"v": "second"}, {"v": "third"}, {"v": "zero"},
	})
}

func TestAbsSort(t *testing.T) {
	tbl, _ := New([]map[string]any{
		{"x": -2}, {"x": 2}, {"x": 1}, {"x": -3},
	}, Options{})
	xs := func(dir view.SortDir) []any {
		v, err := tbl.View(view.Config{Sort: []view.Sort{{Column: "x", Direction: dir}}})
		assert.NilError(t, err)
		cols, err := v.ToColumns(format.Viewport{})
		assert.NilError(t, err)
		return cols["x"]
	}

	t.Run("asc abs", func(t *testing.T) {
		assert.DeepEqual(t, xs(view.SortAscAbs), []any{int64(1), int64(-2), int64(2), int64(-3)})
	})

	t.Run("desc abs keeps signed ties ascending", func(t *testing.T) {
		assert.DeepEqual(t, xs(view.SortDescAbs), []any{int64(-3), int64(-2), int64(2), int64(1)})
	})
}

func TestArrowIngestion(t *testing.T) {
	src, _ := New(rows(3), Options{})
	v, _ := src.View(view.Config{})
	buf, err := v.ToArrow(format.Viewport{})
	assert.NilError(t, err)

	holder := format.NewArrow(buf)
	tbl, err := New(holder, Options{Index: "id"})
	assert.NilError(t, err)
	assert.Equal(t, holder.Len(), 0)

	copied, _ := tbl.View(view.Config{})
	assert.DeepEqual(t, toJSON(t, copied), toJSON(t, v))

	t.Run("failed ingestion keeps the buffer", func(t *testing.T) {
		holder := format.NewArrow(buf)
		err := tbl.Update(holder, UpdateOptions{PortID: 9})
		assert.ErrorContains(t, err, "Port 9")
		assert.Equal(t, holder.Len(), len(buf))
	})
}

func TestValidateExpressions(t *testing.T) {
	tbl, _ := New(rows(1), Options{})
	res, err := tbl.ValidateExpressions(map[string]string{
		"ok":  `"score" * 2`,
		"bad": `"nope" + 1`,
	})
	assert.NilError(t, err)
	assert.DeepEqual(t, res.ExpressionSchema, map[string]types.Type{"ok": types.TypeFloat})
	assert.Equal(t, len(res.Errors), 1)
	assert.ErrorContains(t, res.Errors["bad"], `Column "nope" does not exist`)
}

func TestDelete(t *testing.T) {
	tbl, _ := New(rows(2), Options{})
	v, _ := tbl.View(view.Config{})
	table_deleted, view_deleted := 0, 0
	tbl.OnDelete(func() { table_deleted++ })
	v.OnDelete(func() { view_deleted++ })

	assert.NilError(t, tbl.Delete())
	assert.Equal(t, tbl.Delete(), ErrTableDeleted)
	assert.Equal(t, table_deleted, 1)
	assert.Equal(t, view_deleted, 1)

	_, err := v.ToJSON(format.Viewport{})
	assert.Equal(t, err, view.ErrSourceDeleted)
	_, err = tbl.View(view.Config{})
	assert.Equal(t, err, ErrTableDeleted)
	assert.Equal(t, tbl.Update(rows(1), UpdateOptions{}), ErrTableDeleted)
	assert.Assert(t, tbl.IsDeleted())

	t.Run("view delete detaches", func(t *testing.T) {
		tbl, _ := New(rows(2), Options{})
		v, _ := tbl.View(view.Config{})
		assert.Equal(t, tbl.NumViews(), 1)
		assert.NilError(t, v.Delete())
		assert.Equal(t, tbl.NumViews(), 0)
		assert.NilError(t, tbl.Update(rows(1), UpdateOptions{}))
	})

	t.Run("panicking view delete callback", func(t *testing.T) {
		tbl, _ := New(rows(2), Options{})
		v, _ := tbl.View(view.Config{})
		after := 0
		v.OnDelete(func() { panic("boom") })
		v.OnDelete(func() { after++ })

		assert.NilError(t, v.Delete())
		assert.Equal(t, after, 1)
		assert.Equal(t, tbl.NumViews(), 0)
		assert.Equal(t, v.Delete(), view.ErrViewDeleted)
	})
}

func TestConcurrentUpdates(t *testing.T) {
	tbl, _ := New(map[string]string{"id": "integer", "g": "string"}, Options{})
	grouped, _ := tbl.View(view.Config{GroupBy: []string{"g"}, Columns: []string{"id"}, Aggregates: map[string]view.Aggregate{"id": {Kind: types.AggCount}}})
	flat, _ := tbl.View(view.Config{})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				assert.NilError(t, tbl.Update([]map[string]any{{"id": i, "g": string(rune('a' + w))}}, UpdateOptions{}))
				_, err := flat.ToColumns(format.Viewport{EndRow: 10})
				assert.NilError(t, err)
			}
		}()
	}
	wg.Wait()

	n, _ := flat.NumRows()
	assert.Equal(t, n, 200)
	out := toJSON(t, grouped)
	assert.Equal(t, out[0]["id"], int64(200))
	assert.Equal(t, len(out), 9)
}
