package types

import "github.com/tobsdb/pivot/pkg"

// Maps column name to its stored value
type Row = pkg.Map[string, any]

// Record is a stored row with its table-assigned id.
// Ids grow monotonically, so ordering by id is insertion order.
type Record struct {
	ID     int
	Values Row
}

// Change describes one applied table mutation.
type Change struct {
	PortID int
	// rows that were inserted or overwritten, with their new values
	Upserted []Record
	// ids of rows that no longer exist
	Removed []int
	// when set, all previous rows are gone and Upserted holds the full new contents
	Reset bool
}

func (c *Change) Empty() bool {
	return !c.Reset && len(c.Upserted) == 0 && len(c.Removed) == 0
}
