package view

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/tobsdb/pivot/internal/expression"
	"github.com/tobsdb/pivot/internal/types"
	"github.com/tobsdb/pivot/pkg"
)

var (
	ErrViewDeleted   = errors.New("View already deleted")
	ErrSourceDeleted = errors.New("View is unusable: its table has been deleted")
)

// Source is the table a view reads from. Calls arrive while the table
// holds its own lock, so implementations must not lock it again.
type Source interface {
	Schema() *types.Schema
	Index() string
	Compile(src string) (*expression.Compiled, error)
	// Detach unregisters a deleted view from the table and runs the
	// view's delete callbacks.
	Detach(v *View, calls []func())
}

type View struct {
	locker sync.RWMutex
	src    Source
	config Config

	// table columns followed by expression columns
	schema    *types.Schema
	exprs     map[string]*expression.Compiled
	exprNames []string

	columns  []string
	aggs     map[string]*aggSpec
	aggOrder []string
	sorts    []Sort
	filters  []*filterFn

	// rows that pass the filters, with expression columns filled in
	rows map[int]types.Row

	root     *node
	depth    int
	splits   []splitPath
	splitIdx map[string]bool

	pending        *pending
	columnsChanged bool

	updates *pkg.InsertSortMap[string, *subscription]
	deletes *pkg.InsertSortMap[string, func()]
	closed  error
}

func (v *View) GetLocker() *sync.RWMutex { return &v.locker }

// New builds a view over rows, which must be in row id order.
func New(src Source, cfg Config, rows []types.Record) (*View, error) {
	v := &View{
		src:      src,
		config:   cfg,
		schema:   src.Schema().Clone(),
		exprs:    map[string]*expression.Compiled{},
		rows:     map[int]types.Row{},
		splitIdx: map[string]bool{},
		depth:    len(cfg.GroupBy),
		updates:  pkg.NewInsertSortMap[string, *subscription](),
		deletes:  pkg.NewInsertSortMap[string, func()](),
	}

	for name := range cfg.Expressions {
		v.exprNames = append(v.exprNames, name)
	}
	sort.Strings(v.exprNames)
	for _, name := range v.exprNames {
		if v.schema.Has(name) {
			return nil, fmt.Errorf("Expression name %q collides with a table column.", name)
		}
		c, err := src.Compile(cfg.Expressions[name])
		if err != nil {
			return nil, fmt.Errorf("Invalid expression %q: %w", name, err)
		}
		v.exprs[name] = c
		if err := v.schema.Add(name, c.Type); err != nil {
			return nil, err
		}
	}

	if err := v.resolve(cfg); err != nil {
		return nil, err
	}

	v.reset()
	for _, rec := range rows {
		v.insert(rec.ID, rec.Values)
	}
	v.pending = nil
	pkg.DebugLog("created view", v.describe(), "over", len(rows), "rows")
	return v, nil
}

func (v *View) describe() string {
	return fmt.Sprintf("group_by=%v split_by=%v columns=%v", v.config.GroupBy, v.config.SplitBy, v.columns)
}

func (v *View) grouped() bool { return len(v.config.GroupBy) > 0 }

func (v *View) reset() {
	v.rows = map[int]types.Row{}
	v.splits = []splitPath{}
	v.splitIdx = map[string]bool{}
	v.columnsChanged = true
	if v.grouped() {
		v.root = v.newNode(nil, nil)
	}
}

// augment copies a table row and fills in the expression columns.
func (v *View) augment(values types.Row) types.Row {
	row := make(types.Row, len(values)+len(v.exprNames))
	for k, val := range values {
		row[k] = val
	}
	for _, name := range v.exprNames {
		row[name] = v.exprs[name].Eval(values)
	}
	return row
}

func (v *View) passes(row types.Row) bool {
	for _, f := range v.filters {
		if !f.test(row) {
			return false
		}
	}
	return true
}

func (v *View) rowKey(id int) string { return strconv.Itoa(id) }

// identity is how a flat row is named in removal notices.
func (v *View) identity(id int, row types.Row) any {
	if index := v.src.Index(); index != "" {
		return row.Get(index)
	}
	return id
}

func (v *View) insert(id int, values types.Row) {
	row := v.augment(values)
	if !v.passes(row) {
		return
	}
	v.rows[id] = row
	if v.grouped() {
		v.addGrouped(id, row)
		return
	}
	if len(v.config.SplitBy) > 0 {
		v.registerSplit(v.splitValues(row))
	}
	v.markDirty(v.rowKey(id))
}

func (v *View) delete(id int) {
	row, ok := v.rows[id]
	if !ok {
		return
	}
	if v.grouped() {
		v.removeGrouped(id, row)
	} else {
		v.markRemoved(v.rowKey(id), []any{v.identity(id, row)})
	}
	delete(v.rows, id)
}

// Apply folds a table change into the view and returns the update callbacks
// to run once every view has applied it.
func (v *View) Apply(change *types.Change) []func() {
	v.locker.Lock()
	defer v.locker.Unlock()
	if v.closed != nil {
		return nil
	}

	v.pending = newPending()
	v.columnsChanged = false
	if change.Reset {
		v.reset()
		v.pending.reset = true
	}
	for _, id := range change.Removed {
		v.delete(id)
	}
	for _, rec := range change.Upserted {
		v.delete(rec.ID)
		v.insert(rec.ID, rec.Values)
	}

	calls := v.notify(change.PortID)
	v.pending = nil
	return calls
}

func (v *View) check() error {
	if v.closed != nil {
		return v.closed
	}
	return nil
}

// Delete releases the view. Later calls on it fail with ErrViewDeleted.
func (v *View) Delete() error {
	v.locker.Lock()
	if v.closed != nil {
		v.locker.Unlock()
		return ErrViewDeleted
	}
	calls := v.close(ErrViewDeleted)
	v.locker.Unlock()

	v.src.Detach(v, calls)
	pkg.DebugLog("deleted view", v.describe())
	return nil
}

// SourceDeleted marks the view unusable after its table was deleted and
// returns the delete callbacks for the table to run.
func (v *View) SourceDeleted() []func() {
	v.locker.Lock()
	defer v.locker.Unlock()
	if v.closed != nil {
		return nil
	}
	return v.close(ErrSourceDeleted)
}

func (v *View) close(reason error) []func() {
	v.closed = reason
	v.rows = nil
	v.root = nil
	v.splits = nil
	calls := v.deletes.Values()
	v.updates = pkg.NewInsertSortMap[string, *subscription]()
	v.deletes = pkg.NewInsertSortMap[string, func()]()
	return calls
}

func (v *View) IsDeleted() bool {
	v.locker.RLock()
	defer v.locker.RUnlock()
	return v.closed != nil
}

func (v *View) GetConfig() (Config, error) {
	v.locker.RLock()
	defer v.locker.RUnlock()
	if err := v.check(); err != nil {
		return Config{}, err
	}
	return v.config, nil
}

// Schema maps each output column to the type of its values, after aggregation.
func (v *View) Schema() (*types.Schema, error) {
	v.locker.RLock()
	defer v.locker.RUnlock()
	if err := v.check(); err != nil {
		return nil, err
	}
	s := types.NewSchema()
	for _, col := range v.columns {
		if err := s.Add(col, v.columnType(col)); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (v *View) columnType(col string) types.Type {
	if v.grouped() {
		return v.aggs[col].ResultType
	}
	return v.schema.Get(col)
}

func (v *View) ExpressionSchema() (map[string]types.Type, error) {
	v.locker.RLock()
	defer v.locker.RUnlock()
	if err := v.check(); err != nil {
		return nil, err
	}
	out := make(map[string]types.Type, len(v.exprs))
	for name, c := range v.exprs {
		out[name] = c.Type
	}
	return out, nil
}

func (v *View) OnDelete(cb func()) (string, error) {
	v.locker.Lock()
	defer v.locker.Unlock()
	if err := v.check(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	v.deletes.Push(id, cb)
	return id, nil
}

func (v *View) RemoveDelete(id string) error {
	v.locker.Lock()
	defer v.locker.Unlock()
	if err := v.check(); err != nil {
		return err
	}
	if !v.deletes.Has(id) {
		return fmt.Errorf("No delete callback with id %q", id)
	}
	v.deletes.Delete(id)
	return nil
}

// Expand shows the children of the row at the given visible index.
func (v *View) Expand(row int) error { return v.setExpanded(row, true) }

// Collapse hides the children of the row at the given visible index.
func (v *View) Collapse(row int) error { return v.setExpanded(row, false) }

func (v *View) setExpanded(row int, expanded bool) error {
	v.locker.Lock()
	defer v.locker.Unlock()
	if err := v.check(); err != nil {
		return err
	}
	if !v.grouped() {
		return nil
	}
	nodes := v.visible()
	if row < 0 || row >= len(nodes) {
		return fmt.Errorf("Row %d is out of range", row)
	}
	nodes[row].expanded = expanded
	return nil
}

func (v *View) GetRowExpanded(row int) (bool, error) {
	v.locker.Lock()
	defer v.locker.Unlock()
	if err := v.check(); err != nil {
		return false, err
	}
	if !v.grouped() {
		return false, nil
	}
	nodes := v.visible()
	if row < 0 || row >= len(nodes) {
		return false, fmt.Errorf("Row %d is out of range", row)
	}
	n := nodes[row]
	return n.expanded && n.depth < len(v.config.GroupBy), nil
}

// SetDepth expands every row above depth and collapses the rest. Rows
// created later follow the same rule.
func (v *View) SetDepth(depth int) error {
	v.locker.Lock()
	defer v.locker.Unlock()
	if err := v.check(); err != nil {
		return err
	}
	if !v.grouped() {
		return nil
	}
	if depth < 0 || depth > len(v.config.GroupBy) {
		return fmt.Errorf("Depth %d is out of range [0, %d]", depth, len(v.config.GroupBy))
	}
	v.depth = depth
	walk(v.root, func(n *node) { n.expanded = n.depth < depth })
	return nil
}

func (v *View) NumRows() (int, error) {
	v.locker.Lock()
	defer v.locker.Unlock()
	if err := v.check(); err != nil {
		return 0, err
	}
	if v.grouped() {
		return len(v.visible()), nil
	}
	return len(v.rows), nil
}

func (v *View) NumColumns() (int, error) {
	v.locker.RLock()
	defer v.locker.RUnlock()
	if err := v.check(); err != nil {
		return 0, err
	}
	return len(v.outColumns()), nil
}
