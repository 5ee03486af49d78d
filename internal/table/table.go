package table

import (
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tobsdb/pivot/internal/expression"
	"github.com/tobsdb/pivot/internal/metrics"
	"github.com/tobsdb/pivot/internal/types"
	"github.com/tobsdb/pivot/internal/view"
	"github.com/tobsdb/pivot/pkg"
	"golang.org/x/sync/errgroup"
)

const exprCacheSize = 256

type Options struct {
	// Index names the primary key column. Updates to an existing key overwrite that row.
	Index string `json:"index,omitempty"`
	// Limit bounds the row count. The oldest rows are evicted first.
	Limit int `json:"limit,omitempty"`
}

type UpdateOptions struct {
	PortID int `json:"port_id"`
}

type Table struct {
	locker sync.RWMutex
	schema *types.Schema
	index  string
	limit  int

	store *rowStore
	ports int
	// in registration order
	views   []*view.View
	deletes *pkg.InsertSortMap[string, func()]
	exprs   *lru.Cache[string, *expression.Compiled]
	queue   dispatcher
	deleted bool
}

func (t *Table) GetLocker() *sync.RWMutex { return &t.locker }

// New creates a table from a schema or from data. Data columns are typed
// from their values unless the payload carries types (Arrow, CSV).
func New(data any, opts Options) (*Table, error) {
	if opts.Limit < 0 {
		return nil, badInput("Limit must be positive, got %d", opts.Limit)
	}
	if opts.Index != "" && opts.Limit > 0 {
		return nil, badInput("Cannot specify both index and limit")
	}

	b, err := readInput(data)
	if err != nil {
		return nil, err
	}
	schema := b.schema
	if schema == nil {
		if schema, err = inferSchema(b); err != nil {
			return nil, err
		}
	}
	if opts.Index != "" && !schema.Has(opts.Index) {
		return nil, badInput("Index column %q does not exist in the schema", opts.Index)
	}

	exprs, err := lru.New[string, *expression.Compiled](exprCacheSize)
	if err != nil {
		return nil, err
	}
	t := &Table{
		schema:  schema,
		index:   opts.Index,
		limit:   opts.Limit,
		store:   newRowStore(opts.Index),
		ports:   1,
		views:   []*view.View{},
		deletes: pkg.NewInsertSortMap[string, func()](),
		exprs:   exprs,
	}

	if !b.schemaOnly {
		rows, err := t.prepare(b)
		if err != nil {
			return nil, err
		}
		t.apply(rows, 0)
		b.done()
	}

	metrics.TableCreated()
	pkg.DebugLog("created table with", t.store.len(), "rows and columns", schema.Names())
	return t, nil
}

// prepare coerces every row of b to the schema, failing on the first bad value.
func (t *Table) prepare(b *batch) ([]types.Row, error) {
	if b.schemaOnly {
		return nil, badInput("Cannot update a table with a schema")
	}
	for _, name := range b.names {
		if !t.schema.Has(name) {
			return nil, badInput("Column %q does not exist in the table", name)
		}
	}

	out := make([]types.Row, len(b.rows))
	for i, raw := range b.rows {
		row := make(types.Row, len(raw))
		for col, v := range raw {
			c, err := types.Coerce(t.schema.Get(col), v)
			if err != nil {
				return nil, badInput("Invalid value for column %q at row %d: %s", col, i, err)
			}
			row[col] = c
		}
		if t.index != "" && row.Get(t.index) == nil {
			return nil, badInput("Row %d has no value for index column %q", i, t.index)
		}
		out[i] = row
	}
	return out, nil
}

// apply writes coerced rows and describes what changed.
func (t *Table) apply(rows []types.Row, port int) *types.Change {
	first_new := t.store.next_id
	touched := []int{}
	seen := map[int]bool{}
	touch := func(id int) {
		if !seen[id] {
			seen[id] = true
			touched = append(touched, id)
		}
	}

	names := t.schema.Names()
	for _, row := range rows {
		if t.index != "" {
			if id, ok := t.store.lookup(row.Get(t.index)); ok {
				old, _ := t.store.get(id)
				merged := make(types.Row, len(old.Values))
				for k, v := range old.Values {
					merged[k] = v
				}
				for k, v := range row {
					merged[k] = v
				}
				t.store.replace(types.Record{ID: id, Values: merged})
				touch(id)
				continue
			}
		}
		full := make(types.Row, len(names))
		for _, name := range names {
			full[name] = row[name]
		}
		touch(t.store.insert(full).ID)
	}

	change := &types.Change{PortID: port}
	if t.limit > 0 && t.store.len() > t.limit {
		for _, id := range t.store.oldest(t.store.len() - t.limit) {
			t.store.delete(id)
			if id < first_new {
				change.Removed = append(change.Removed, id)
			}
		}
	}
	for _, id := range touched {
		if rec, ok := t.store.get(id); ok {
			change.Upserted = append(change.Upserted, rec)
		}
	}
	return change
}

// publish applies change to every view concurrently and queues the
// resulting callbacks in view registration order.
func (t *Table) publish(change *types.Change) {
	if len(t.views) == 0 {
		return
	}
	start := time.Now()
	results := make([][]func(), len(t.views))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, v := range t.views {
		g.Go(func() error {
			results[i] = v.Apply(change)
			return nil
		})
	}
	_ = g.Wait()
	metrics.RecordFanout(len(t.views), time.Since(start))

	for _, calls := range results {
		t.queue.push(calls...)
	}
}

// mutate runs fn under the write lock, publishes its change and then runs
// the queued callbacks outside the lock.
func (t *Table) mutate(op string, fn func() (*types.Change, int, error)) error {
	t.locker.Lock()
	if t.deleted {
		t.locker.Unlock()
		return ErrTableDeleted
	}
	change, n, err := fn()
	if err != nil {
		t.locker.Unlock()
		return err
	}
	metrics.RecordTableUpdate(op, n)
	t.publish(change)
	t.locker.Unlock()

	t.queue.drain()
	return nil
}

func (t *Table) checkPort(port int) error {
	if port < 0 || port >= t.ports {
		return NewQueryError(http.StatusNotFound, fmt.Sprintf("Port %d does not exist", port))
	}
	return nil
}

// Update appends rows, or upserts them by index when the table has one.
// Absent columns of an upserted row keep their values. The whole batch is
// rejected if any value fails to coerce.
func (t *Table) Update(data any, opts UpdateOptions) error {
	b, err := readInput(data)
	if err != nil {
		return err
	}
	return t.mutate(metrics.OpUpdate, func() (*types.Change, int, error) {
		if err := t.checkPort(opts.PortID); err != nil {
			return nil, 0, err
		}
		rows, err := t.prepare(b)
		if err != nil {
			return nil, 0, err
		}
		change := t.apply(rows, opts.PortID)
		b.done()
		return change, len(rows), nil
	})
}

// Remove deletes rows by index value. Unknown keys are ignored.
func (t *Table) Remove(keys []any, opts UpdateOptions) error {
	return t.mutate(metrics.OpRemove, func() (*types.Change, int, error) {
		if t.index == "" {
			return nil, 0, ErrNoIndex
		}
		if err := t.checkPort(opts.PortID); err != nil {
			return nil, 0, err
		}
		index_type := t.schema.Get(t.index)
		ids := []int{}
		for i, key := range keys {
			c, err := types.Coerce(index_type, key)
			if err != nil {
				return nil, 0, badInput("Invalid key at position %d: %s", i, err)
			}
			if id, ok := t.store.lookup(c); ok {
				ids = append(ids, id)
			}
		}
		change := &types.Change{PortID: opts.PortID}
		for _, id := range ids {
			if t.store.delete(id) {
				change.Removed = append(change.Removed, id)
			}
		}
		return change, len(change.Removed), nil
	})
}

// Replace swaps every row for data, keeping the schema.
func (t *Table) Replace(data any) error {
	b, err := readInput(data)
	if err != nil {
		return err
	}
	return t.mutate(metrics.OpReplace, func() (*types.Change, int, error) {
		rows, err := t.prepare(b)
		if err != nil {
			return nil, 0, err
		}
		t.store.reset()
		change := t.apply(rows, 0)
		change.Reset = true
		b.done()
		return change, len(rows), nil
	})
}

// Clear removes every row, keeping the schema.
func (t *Table) Clear() error {
	return t.mutate(metrics.OpClear, func() (*types.Change, int, error) {
		t.store.reset()
		return &types.Change{Reset: true}, 0, nil
	})
}

// MakePort allocates a new port id. Ids are never reused.
func (t *Table) MakePort() (int, error) {
	t.locker.Lock()
	defer t.locker.Unlock()
	if t.deleted {
		return 0, ErrTableDeleted
	}
	id := t.ports
	t.ports++
	pkg.DebugLog("allocated port", id)
	return id, nil
}

// View creates a view over the table's current rows. It receives every
// later change.
func (t *Table) View(cfg view.Config) (*view.View, error) {
	t.locker.Lock()
	defer t.locker.Unlock()
	if t.deleted {
		return nil, ErrTableDeleted
	}
	v, err := view.New(source{t}, cfg, t.store.records())
	if err != nil {
		return nil, err
	}
	t.views = append(t.views, v)
	metrics.ViewCreated()
	return v, nil
}

// ValidateExpressions type-checks exprs (name -> source) without installing
// them. Failures are reported per name in the result, not as an error.
func (t *Table) ValidateExpressions(exprs map[string]string) (*expression.Validation, error) {
	t.locker.RLock()
	defer t.locker.RUnlock()
	if t.deleted {
		return nil, ErrTableDeleted
	}
	return expression.ValidateWith(exprs, t.schema, t.compile), nil
}

// Delete releases the table. Its views become unusable and every delete
// callback runs once.
func (t *Table) Delete() error {
	t.locker.Lock()
	if t.deleted {
		t.locker.Unlock()
		return ErrTableDeleted
	}
	t.deleted = true
	for _, v := range t.views {
		t.queue.push(v.SourceDeleted()...)
		metrics.ViewDeleted()
	}
	t.views = nil
	t.queue.push(t.deletes.Values()...)
	t.deletes = pkg.NewInsertSortMap[string, func()]()
	t.store.reset()
	t.exprs.Purge()
	t.locker.Unlock()

	t.queue.drain()
	metrics.TableDeleted()
	pkg.DebugLog("deleted table")
	return nil
}

func (t *Table) OnDelete(cb func()) (string, error) {
	t.locker.Lock()
	defer t.locker.Unlock()
	if t.deleted {
		return "", ErrTableDeleted
	}
	id := uuid.NewString()
	t.deletes.Push(id, cb)
	return id, nil
}

func (t *Table) RemoveDelete(id string) error {
	t.locker.Lock()
	defer t.locker.Unlock()
	if t.deleted {
		return ErrTableDeleted
	}
	if !t.deletes.Has(id) {
		return NewQueryError(http.StatusNotFound, fmt.Sprintf("No delete callback with id %q", id))
	}
	t.deletes.Delete(id)
	return nil
}

func (t *Table) IsDeleted() bool {
	t.locker.RLock()
	defer t.locker.RUnlock()
	return t.deleted
}

func (t *Table) Schema() (*types.Schema, error) {
	t.locker.RLock()
	defer t.locker.RUnlock()
	if t.deleted {
		return nil, ErrTableDeleted
	}
	return t.schema.Clone(), nil
}

func (t *Table) Columns() ([]string, error) {
	t.locker.RLock()
	defer t.locker.RUnlock()
	if t.deleted {
		return nil, ErrTableDeleted
	}
	return t.schema.Names(), nil
}

func (t *Table) Size() (int, error) {
	t.locker.RLock()
	defer t.locker.RUnlock()
	if t.deleted {
		return 0, ErrTableDeleted
	}
	return t.store.len(), nil
}

func (t *Table) GetIndex() string { return t.index }
func (t *Table) GetLimit() int    { return t.limit }

func (t *Table) NumPorts() int {
	t.locker.RLock()
	defer t.locker.RUnlock()
	return t.ports
}

func (t *Table) NumViews() int {
	t.locker.RLock()
	defer t.locker.RUnlock()
	return len(t.views)
}
