package table

import (
	"testing"

	"github.com/tobsdb/pivot/internal/types"
	"gotest.tools/assert"
)

func TestRowStore(t *testing.T) {
	s := newRowStore("id")
	for i := 0; i < 5; i++ {
		s.insert(types.Row{"id": i})
	}
	assert.Assert(t, s.delete(1))

	t.Run("oldest stops after n", func(t *testing.T) {
		assert.DeepEqual(t, s.oldest(2), []int{0, 2})
		assert.DeepEqual(t, s.oldest(0), []int{})
		assert.DeepEqual(t, s.oldest(10), []int{0, 2, 3, 4})
	})

	t.Run("records in id order", func(t *testing.T) {
		ids := []int{}
		for _, rec := range s.records() {
			ids = append(ids, rec.ID)
		}
		assert.DeepEqual(t, ids, []int{0, 2, 3, 4})
	})

	t.Run("empty after reset", func(t *testing.T) {
		s.reset()
		assert.Equal(t, len(s.records()), 0)
		assert.DeepEqual(t, s.oldest(3), []int{})
		rec := s.insert(types.Row{"id": 7})
		assert.Equal(t, rec.ID, 5)
	})
}
