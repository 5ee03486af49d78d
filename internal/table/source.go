package table

import (
	"github.com/tobsdb/pivot/internal/expression"
	"github.com/tobsdb/pivot/internal/metrics"
	"github.com/tobsdb/pivot/internal/types"
	"github.com/tobsdb/pivot/internal/view"
)

// source is the table as its views see it. Everything it reads is fixed
// after the table is created, so no lock is taken.
type source struct{ t *Table }

func (s source) Schema() *types.Schema { return s.t.schema }
func (s source) Index() string         { return s.t.index }

func (s source) Compile(src string) (*expression.Compiled, error) { return s.t.compile(src) }

func (s source) Detach(v *view.View, calls []func()) { s.t.detach(v, calls) }

// compile type-checks an expression against the table schema, reusing
// earlier results.
func (t *Table) compile(src string) (*expression.Compiled, error) {
	if c, ok := t.exprs.Get(src); ok {
		return c, nil
	}
	c, err := expression.Compile(src, t.schema)
	if err != nil {
		return nil, err
	}
	t.exprs.Add(src, c)
	return c, nil
}

// detach drops a deleted view and runs its delete callbacks on the table's
// callback queue.
func (t *Table) detach(v *view.View, calls []func()) {
	t.locker.Lock()
	for i, other := range t.views {
		if other == v {
			t.views = append(t.views[:i], t.views[i+1:]...)
			metrics.ViewDeleted()
			break
		}
	}
	t.queue.push(calls...)
	t.locker.Unlock()

	t.queue.drain()
}
