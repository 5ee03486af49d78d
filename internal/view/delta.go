package view

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/google/uuid"
	"github.com/tobsdb/pivot/internal/format"
	"github.com/tobsdb/pivot/pkg"
)

type UpdateMode string

const (
	// UpdateNone only reports which port changed.
	UpdateNone UpdateMode = "none"
	// UpdateRow carries the changed rows as JSON rows.
	UpdateRow UpdateMode = "row"
	// UpdateArrow carries the changed rows as an Arrow IPC stream.
	UpdateArrow UpdateMode = "arrow"
)

func (m UpdateMode) IsValid() bool {
	return m == UpdateNone || m == UpdateRow || m == UpdateArrow
}

// Update is delivered to on_update subscribers after every table change.
//
// A Reset update follows a replace or clear: every earlier row is gone and
// Delta holds the whole new content. Flat deltas only name their row through
// the index column when it is among the view's columns; Removed always names
// flat rows by index value, or by row id without an index.
type Update struct {
	PortID int              `json:"port_id"`
	Reset  bool             `json:"reset,omitempty"`
	Delta  []map[string]any `json:"delta,omitempty"`
	// Removed names rows that disappeared: row paths when grouped, index
	// values (or row ids) when flat.
	Removed        []any  `json:"removed,omitempty"`
	Arrow          []byte `json:"-"`
	ColumnsChanged bool   `json:"columns_changed,omitempty"`
}

type subscription struct {
	cb   func(Update)
	mode UpdateMode
}

type removal struct {
	path []any
	id   int
}

// pending collects what one change touched.
type pending struct {
	reset   bool
	dirty   map[string]bool
	removed map[string]removal
}

func newPending() *pending {
	return &pending{dirty: map[string]bool{}, removed: map[string]removal{}}
}

func (v *View) markDirty(key string) {
	if v.pending == nil {
		return
	}
	v.pending.dirty[key] = true
}

func (v *View) markRemoved(key string, path []any) {
	if v.pending == nil {
		return
	}
	id := -1
	if !v.grouped() {
		id, _ = strconv.Atoi(key)
	}
	v.pending.removed[key] = removal{path: path, id: id}
}

// OnUpdate subscribes cb to every change of the view's table and returns a
// handle for RemoveUpdate.
func (v *View) OnUpdate(cb func(Update), mode UpdateMode) (string, error) {
	if mode == "" {
		mode = UpdateNone
	}
	if !mode.IsValid() {
		return "", fmt.Errorf("Invalid update mode %q", mode)
	}
	v.locker.Lock()
	defer v.locker.Unlock()
	if err := v.check(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	v.updates.Push(id, &subscription{cb: cb, mode: mode})
	return id, nil
}

func (v *View) RemoveUpdate(id string) error {
	v.locker.Lock()
	defer v.locker.Unlock()
	if err := v.check(); err != nil {
		return err
	}
	if !v.updates.Has(id) {
		return fmt.Errorf("No update callback with id %q", id)
	}
	v.updates.Delete(id)
	return nil
}

// notify builds the update payloads for the pending change and returns the
// subscriber calls. Payloads are only built for modes someone asked for.
func (v *View) notify(port int) []func() {
	subs := v.updates.Values()
	if len(subs) == 0 {
		return nil
	}

	base := Update{PortID: port, Reset: v.pending.reset, ColumnsChanged: v.columnsChanged}
	need_row, need_arrow := false, false
	for _, sub := range subs {
		need_row = need_row || sub.mode == UpdateRow
		need_arrow = need_arrow || sub.mode == UpdateArrow
	}

	row_update, arrow_update := base, base
	if need_row || need_arrow {
		f, removed, err := v.deltaFrame()
		if err != nil {
			pkg.ErrorLog("failed to build update delta:", err)
		} else {
			row_update.Removed, arrow_update.Removed = removed, removed
			if need_row {
				row_update.Delta = format.ToRows(f)
			}
			if need_arrow {
				if buf, err := format.ToArrow(f); err != nil {
					pkg.ErrorLog("failed to encode arrow delta:", err)
				} else {
					arrow_update.Arrow = buf
				}
			}
		}
	}

	calls := make([]func(), 0, len(subs))
	for _, sub := range subs {
		u := base
		switch sub.mode {
		case UpdateRow:
			u = row_update
		case UpdateArrow:
			u = arrow_update
		}
		cb := sub.cb
		calls = append(calls, func() { cb(u) })
	}
	return calls
}

// deltaFrame materializes the rows the pending change touched, in output
// order, plus the identities of rows that no longer exist.
func (v *View) deltaFrame() (*format.Frame, []any, error) {
	p := v.pending
	ctx := context.Background()
	cols := v.outColumns()

	removed := []any{}
	keys := make([]string, 0, len(p.removed))
	for key := range p.removed {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	if v.grouped() {
		for _, key := range keys {
			r := p.removed[key]
			if v.lookup(r.path) == nil {
				path := make([]any, len(r.path))
				for i, val := range r.path {
					path[i] = format.JSONValue(val)
				}
				removed = append(removed, path)
			}
		}
		nodes := pkg.Filter(v.visible(), func(n *node) bool { return p.reset || p.dirty[n.key] })
		f, err := v.groupedFrame(ctx, nodes, cols)
		return f, removed, err
	}

	for _, key := range keys {
		r := p.removed[key]
		if _, ok := v.rows[r.id]; !ok && !p.dirty[key] {
			removed = append(removed, format.JSONValue(r.path[0]))
		}
	}
	ids := pkg.Filter(v.flatOrder(), func(id int) bool { return p.reset || p.dirty[v.rowKey(id)] })
	f, err := v.flatFrame(ctx, ids, cols)
	return f, removed, err
}
