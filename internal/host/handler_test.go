package host_test

import (
	"net/http"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	. "github.com/tobsdb/pivot/internal/host"
	"gotest.tools/assert"
)

type recorder struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (r *recorder) WriteMessage(_ int, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, data)
	return nil
}

func (r *recorder) updates(t *testing.T) []UpdateMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]UpdateMessage, len(r.msgs))
	for i, m := range r.msgs {
		assert.NilError(t, json.Unmarshal(m, &out[i]))
	}
	return out
}

func reqEncode(fields map[string]any) []byte {
	v, _ := json.Marshal(fields)
	return v
}

func newTestHost(t *testing.T) (*Host, *ConnCtx, *recorder) {
	h := New(Options{})
	rec := &recorder{}
	ctx := NewConnCtx(rec, nil)
	res := ActionHandler(h, RequestActionTable, ctx, reqEncode(map[string]any{
		"name": "t",
		"data": []map[string]any{
			{"k": "a", "v": 1},
			{"k": "b", "v": 2},
			{"k": "a", "v": 3},
		},
	}))
	assert.Equal(t, res.Status, http.StatusCreated, res.Message)
	return h, ctx, rec
}

func newTestView(t *testing.T, h *Host, ctx *ConnCtx, name string, config map[string]any) {
	res := ActionHandler(h, RequestActionView, ctx, reqEncode(map[string]any{
		"table": "t", "name": name, "config": config,
	}))
	assert.Equal(t, res.Status, http.StatusCreated, res.Message)
}

func TestCreateTableReqHandler(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		h, ctx, _ := newTestHost(t)
		res := ActionHandler(h, RequestActionSize, ctx, reqEncode(map[string]any{"table": "t"}))
		assert.Equal(t, res.Status, http.StatusOK, res.Message)
		assert.Equal(t, res.Data, 3)

		res = ActionHandler(h, RequestActionTableSchema, ctx, reqEncode(map[string]any{"table": "t"}))
		assert.Equal(t, res.Status, http.StatusOK, res.Message)
		assert.DeepEqual(t, res.Data.(map[string]any)["schema"], map[string]string{"k": "string", "v": "integer"})
	})

	t.Run("duplicate name", func(t *testing.T) {
		h, ctx, _ := newTestHost(t)
		res := ActionHandler(h, RequestActionTable, ctx, reqEncode(map[string]any{
			"name": "t", "data": map[string]any{"a": "integer"},
		}))
		assert.Equal(t, res.Status, http.StatusConflict, res.Message)
	})

	t.Run("from csv", func(t *testing.T) {
		h := New(Options{})
		ctx := NewConnCtx(&recorder{}, nil)
		res := ActionHandler(h, RequestActionTable, ctx, reqEncode(map[string]any{
			"csv": "x,y\n1,a\n", "options": map[string]any{"index": "x"},
		}))
		assert.Equal(t, res.Status, http.StatusCreated, res.Message)
		name := res.Data.(map[string]any)["name"].(string)
		assert.Assert(t, name != "")
	})

	t.Run("bad options", func(t *testing.T) {
		h := New(Options{})
		ctx := NewConnCtx(&recorder{}, nil)
		res := ActionHandler(h, RequestActionTable, ctx, reqEncode(map[string]any{
			"data": map[string]any{"a": "integer"}, "options": map[string]any{"index": "b"},
		}))
		assert.Equal(t, res.Status, http.StatusBadRequest, res.Message)
		assert.ErrorContains(t, errorOf(res), `Index column "b" does not exist`)
	})
}

type responseError string

func (e responseError) Error() string { return string(e) }

func errorOf(res Response) error { return responseError(res.Message) }

func TestViewReqHandlers(t *testing.T) {
	h, ctx, _ := newTestHost(t)
	newTestView(t, h, ctx, "g", map[string]any{"group_by": []string{"k"}, "columns": []string{"v"}})

	t.Run("to_json", func(t *testing.T) {
		res := ActionHandler(h, RequestActionToJSON, ctx, reqEncode(map[string]any{"view": "g"}))
		assert.Equal(t, res.Status, http.StatusOK, res.Message)
		assert.DeepEqual(t, res.Data, []map[string]any{
			{"__ROW_PATH__": []any{}, "v": int64(6)},
			{"__ROW_PATH__": []any{"a"}, "v": int64(4)},
			{"__ROW_PATH__": []any{"b"}, "v": int64(2)},
		})
	})

	t.Run("to_columns with viewport", func(t *testing.T) {
		res := ActionHandler(h, RequestActionToColumns, ctx, reqEncode(map[string]any{
			"view": "g", "viewport": map[string]any{"start_row": 1},
		}))
		assert.Equal(t, res.Status, http.StatusOK, res.Message)
		assert.DeepEqual(t, res.Data.(map[string][]any)["v"], []any{int64(4), int64(2)})
	})

	t.Run("to_csv", func(t *testing.T) {
		res := ActionHandler(h, RequestActionToCSV, ctx, reqEncode(map[string]any{"view": "g"}))
		assert.Equal(t, res.Status, http.StatusOK, res.Message)
		assert.Assert(t, len(res.Data.(string)) > 0)
	})

	t.Run("to_arrow", func(t *testing.T) {
		res := ActionHandler(h, RequestActionToArrow, ctx, reqEncode(map[string]any{"view": "g"}))
		assert.Equal(t, res.Status, http.StatusOK, res.Message)
		assert.Assert(t, len(res.Data.([]byte)) > 0)
	})

	t.Run("num_rows and collapse", func(t *testing.T) {
		res := ActionHandler(h, RequestActionNumRows, ctx, reqEncode(map[string]any{"view": "g"}))
		assert.DeepEqual(t, res.Data, map[string]int{"rows": 3, "columns": 1})

		res = ActionHandler(h, RequestActionCollapse, ctx, reqEncode(map[string]any{"view": "g", "row": 0}))
		assert.Equal(t, res.Status, http.StatusOK, res.Message)
		assert.Equal(t, res.Data, 1)

		res = ActionHandler(h, RequestActionSetDepth, ctx, reqEncode(map[string]any{"view": "g", "depth": 1}))
		assert.Equal(t, res.Status, http.StatusOK, res.Message)
		assert.Equal(t, res.Data, 3)
	})

	t.Run("get_min_max", func(t *testing.T) {
		res := ActionHandler(h, RequestActionGetMinMax, ctx, reqEncode(map[string]any{"view": "g", "column": "v"}))
		assert.Equal(t, res.Status, http.StatusOK, res.Message)
		assert.DeepEqual(t, res.Data, []any{int64(2), int64(4)})
	})

	t.Run("invalid config", func(t *testing.T) {
		res := ActionHandler(h, RequestActionView, ctx, reqEncode(map[string]any{
			"table": "t", "config": map[string]any{"group_by": []string{"nope"}},
		}))
		assert.Equal(t, res.Status, http.StatusBadRequest, res.Message)
		assert.ErrorContains(t, errorOf(res), `Invalid column "nope"`)
	})

	t.Run("unknown view", func(t *testing.T) {
		res := ActionHandler(h, RequestActionToJSON, ctx, reqEncode(map[string]any{"view": "nope"}))
		assert.Equal(t, res.Status, http.StatusNotFound, res.Message)
	})

	t.Run("delete_view", func(t *testing.T) {
		newTestView(t, h, ctx, "tmp", map[string]any{})
		res := ActionHandler(h, RequestActionDeleteView, ctx, reqEncode(map[string]any{"view": "tmp"}))
		assert.Equal(t, res.Status, http.StatusOK, res.Message)
		res = ActionHandler(h, RequestActionSchema, ctx, reqEncode(map[string]any{"view": "tmp"}))
		assert.Equal(t, res.Status, http.StatusNotFound, res.Message)
	})
}

func TestUpdateReqHandlers(t *testing.T) {
	t.Run("update pushes deltas", func(t *testing.T) {
		h, ctx, rec := newTestHost(t)
		newTestView(t, h, ctx, "f", map[string]any{})

		res := ActionHandler(h, RequestActionOnUpdate, ctx, reqEncode(map[string]any{"view": "f", "mode": "row"}))
		assert.Equal(t, res.Status, http.StatusCreated, res.Message)
		sub := res.Data.(string)

		res = ActionHandler(h, RequestActionUpdate, ctx, reqEncode(map[string]any{
			"table": "t", "data": []map[string]any{{"k": "c", "v": 4}},
		}))
		assert.Equal(t, res.Status, http.StatusOK, res.Message)

		updates := rec.updates(t)
		assert.Equal(t, len(updates), 1)
		assert.Equal(t, updates[0].Subscription, sub)
		assert.Equal(t, updates[0].View, "f")
		assert.DeepEqual(t, updates[0].Delta, []map[string]any{{"k": "c", "v": float64(4)}})

		res = ActionHandler(h, RequestActionRemoveUpdate, ctx, reqEncode(map[string]any{"subscription": sub}))
		assert.Equal(t, res.Status, http.StatusOK, res.Message)
		ActionHandler(h, RequestActionClear, ctx, reqEncode(map[string]any{"table": "t"}))
		assert.Equal(t, len(rec.updates(t)), 1)

		res = ActionHandler(h, RequestActionRemoveUpdate, ctx, reqEncode(map[string]any{"subscription": sub}))
		assert.Equal(t, res.Status, http.StatusNotFound, res.Message)
	})

	t.Run("ports", func(t *testing.T) {
		h, ctx, rec := newTestHost(t)
		newTestView(t, h, ctx, "f", map[string]any{})
		ActionHandler(h, RequestActionOnUpdate, ctx, reqEncode(map[string]any{"view": "f"}))

		res := ActionHandler(h, RequestActionMakePort, ctx, reqEncode(map[string]any{"table": "t"}))
		assert.Equal(t, res.Status, http.StatusCreated, res.Message)
		port := res.Data.(int)
		assert.Equal(t, port, 1)

		ActionHandler(h, RequestActionUpdate, ctx, reqEncode(map[string]any{
			"table": "t", "data": []map[string]any{{"k": "d", "v": 5}}, "port_id": port,
		}))
		updates := rec.updates(t)
		assert.Equal(t, len(updates), 1)
		assert.Equal(t, updates[0].PortID, 1)
		assert.Assert(t, updates[0].Delta == nil)

		res = ActionHandler(h, RequestActionUpdate, ctx, reqEncode(map[string]any{
			"table": "t", "data": []map[string]any{{"k": "d"}}, "port_id": 9,
		}))
		assert.Equal(t, res.Status, http.StatusNotFound, res.Message)
	})

	t.Run("remove requires an index", func(t *testing.T) {
		h, ctx, _ := newTestHost(t)
		res := ActionHandler(h, RequestActionRemove, ctx, reqEncode(map[string]any{"table": "t", "keys": []any{"a"}}))
		assert.Equal(t, res.Status, http.StatusBadRequest, res.Message)
	})

	t.Run("replace", func(t *testing.T) {
		h, ctx, rec := newTestHost(t)
		newTestView(t, h, ctx, "f", map[string]any{})
		res := ActionHandler(h, RequestActionOnUpdate, ctx, reqEncode(map[string]any{"view": "f", "mode": "row"}))
		assert.Equal(t, res.Status, http.StatusCreated, res.Message)

		res = ActionHandler(h, RequestActionReplace, ctx, reqEncode(map[string]any{
			"table": "t", "data": []map[string]any{{"k": "z", "v": 9}},
		}))
		assert.Equal(t, res.Status, http.StatusOK, res.Message)
		res = ActionHandler(h, RequestActionSize, ctx, reqEncode(map[string]any{"table": "t"}))
		assert.Equal(t, res.Data, 1)

		updates := rec.updates(t)
		assert.Equal(t, len(updates), 1)
		assert.Assert(t, updates[0].Reset)
		assert.DeepEqual(t, updates[0].Delta, []map[string]any{{"k": "z", "v": float64(9)}})

		res = ActionHandler(h, RequestActionClear, ctx, reqEncode(map[string]any{"table": "t"}))
		assert.Equal(t, res.Status, http.StatusOK, res.Message)
		updates = rec.updates(t)
		assert.Equal(t, len(updates), 2)
		assert.Assert(t, updates[1].Reset)
		assert.Equal(t, len(updates[1].Delta), 0)
	})

	t.Run("validate_expressions", func(t *testing.T) {
		h, ctx, _ := newTestHost(t)
		res := ActionHandler(h, RequestActionValidateExpressions, ctx, reqEncode(map[string]any{
			"table": "t", "expressions": map[string]string{"double": `"v" * 2`, "bad": `"nope" + 1`},
		}))
		assert.Equal(t, res.Status, http.StatusOK, res.Message)
		out, _ := json.Marshal(res.Data)
		var v struct {
			ExpressionSchema map[string]string `json:"expression_schema"`
			Errors           map[string]any    `json:"errors"`
		}
		assert.NilError(t, json.Unmarshal(out, &v))
		assert.Equal(t, v.ExpressionSchema["double"], "float")
		_, bad := v.Errors["bad"]
		assert.Assert(t, bad)
	})

	t.Run("delete_table invalidates views", func(t *testing.T) {
		h, ctx, _ := newTestHost(t)
		newTestView(t, h, ctx, "f", map[string]any{})
		res := ActionHandler(h, RequestActionDeleteTable, ctx, reqEncode(map[string]any{"table": "t"}))
		assert.Equal(t, res.Status, http.StatusOK, res.Message)

		res = ActionHandler(h, RequestActionToJSON, ctx, reqEncode(map[string]any{"view": "f"}))
		assert.Equal(t, res.Status, http.StatusNotFound, res.Message)
		res = ActionHandler(h, RequestActionUpdate, ctx, reqEncode(map[string]any{"table": "t", "data": []any{}}))
		assert.Equal(t, res.Status, http.StatusNotFound, res.Message)
	})

	t.Run("unknown action", func(t *testing.T) {
		h, ctx, _ := newTestHost(t)
		res := ActionHandler(h, RequestAction("explode"), ctx, nil)
		assert.Equal(t, res.Status, http.StatusBadRequest, res.Message)
	})
}

func TestPermissions(t *testing.T) {
	reader, err := NewUser("reader", "pass", UserRoleReadOnly)
	assert.NilError(t, err)
	h, _, _ := newTestHost(t)
	ctx := NewConnCtx(&recorder{}, reader)

	res := ActionHandler(h, RequestActionUpdate, ctx, reqEncode(map[string]any{"table": "t", "data": []any{}}))
	assert.Equal(t, res.Status, http.StatusForbidden, res.Message)

	res = ActionHandler(h, RequestActionView, ctx, reqEncode(map[string]any{"table": "t", "name": "r"}))
	assert.Equal(t, res.Status, http.StatusCreated, res.Message)

	res = ActionHandler(h, RequestActionCreateUser, ctx, reqEncode(map[string]any{"name": "x", "password": "y"}))
	assert.Equal(t, res.Status, http.StatusForbidden, res.Message)
}

func TestCreateUser(t *testing.T) {
	h := New(Options{})
	ctx := NewConnCtx(&recorder{}, nil)
	res := ActionHandler(h, RequestActionCreateUser, ctx, []byte(`{
        "name": "test",
        "password": "test",
        "role": 1
        }`))
	assert.Equal(t, res.Status, http.StatusCreated, res.Message)
	assert.Equal(t, h.Users.Get("test").Role, UserRoleReadWrite)
	assert.Assert(t, h.Users.Get("test").ValidateUser("test"))

	res = ActionHandler(h, RequestActionCreateUser, ctx, []byte(`{"name": "test", "password": "x"}`))
	assert.Equal(t, res.Status, http.StatusConflict, res.Message)

	res = ActionHandler(h, RequestActionDeleteUser, ctx, []byte(`{"name": "test"}`))
	assert.Equal(t, res.Status, http.StatusOK, res.Message)
	assert.Assert(t, !h.Users.Has("test"))
}
