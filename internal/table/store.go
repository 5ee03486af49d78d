package table

import (
	"github.com/tobsdb/pivot/internal/types"
	sorted "github.com/tobshub/go-sortedmap"
)

// rowStore keeps rows ordered by id, which is insertion order. Stored row
// maps are never mutated; an overwrite stores a fresh map.
type rowStore struct {
	rows *sorted.SortedMap[int, types.Record]
	// index key -> row id
	keys    map[string]int
	index   string
	next_id int
	count   int
}

func recordLess(a, b types.Record) bool { return a.ID < b.ID }

func newRowStore(index string) *rowStore {
	return &rowStore{
		rows:  sorted.New[int, types.Record](0, recordLess),
		keys:  map[string]int{},
		index: index,
	}
}

func (s *rowStore) len() int { return s.count }

func (s *rowStore) get(id int) (types.Record, bool) { return s.rows.Get(id) }

func (s *rowStore) lookup(key any) (int, bool) {
	id, ok := s.keys[types.Key(key)]
	return id, ok
}

func (s *rowStore) insert(values types.Row) types.Record {
	rec := types.Record{ID: s.next_id, Values: values}
	s.next_id++
	s.rows.Insert(rec.ID, rec)
	s.count++
	if s.index != "" {
		s.keys[types.Key(values.Get(s.index))] = rec.ID
	}
	return rec
}

func (s *rowStore) replace(rec types.Record) {
	s.rows.Replace(rec.ID, rec)
}

func (s *rowStore) delete(id int) bool {
	rec, ok := s.rows.Get(id)
	if !ok {
		return false
	}
	s.rows.Delete(id)
	s.count--
	if s.index != "" {
		delete(s.keys, types.Key(rec.Values.Get(s.index)))
	}
	return true
}

// each visits rows in id order until fn returns false.
func (s *rowStore) each(fn func(rec types.Record) bool) {
	if s.count == 0 {
		return
	}
	s.rows.IterFunc(false, func(rec sorted.Record[int, types.Record]) bool {
		return fn(rec.Val)
	})
}

// records returns every row in id order.
func (s *rowStore) records() []types.Record {
	out := make([]types.Record, 0, s.count)
	s.each(func(rec types.Record) bool {
		out = append(out, rec)
		return true
	})
	return out
}

// oldest returns the ids of the n oldest rows.
func (s *rowStore) oldest(n int) []int {
	ids := make([]int, 0, min(n, s.count))
	if n <= 0 {
		return ids
	}
	s.each(func(rec types.Record) bool {
		ids = append(ids, rec.ID)
		return len(ids) < n
	})
	return ids
}

// reset drops every row. Ids keep growing so later rows still sort last.
func (s *rowStore) reset() {
	s.rows = sorted.New[int, types.Record](0, recordLess)
	s.keys = map[string]int{}
	s.count = 0
}
