package zodbc

import (
	"context"

	"github.com/zodbc/zodbc/driver"
)

// NamedRow is a row whose values can be read by position or by column name. Unlike the maps returned by
// FetchDicts, columns sharing a name stay distinguishable by position.
type NamedRow struct {
	names  []string
	values []any
}

// Len returns the number of columns.
func (r NamedRow) Len() int {
	return len(r.values)
}

// Index returns the value of column i.
func (r NamedRow) Index(i int) any {
	return r.values[i]
}

// Get returns the value of the leftmost column called name.
func (r NamedRow) Get(name string) (any, bool) {
	for i, n := range r.names {
		if n == name {
			return r.values[i], true
		}
	}
	return nil, false
}

// Names returns the column names in order.
func (r NamedRow) Names() []string {
	names := make([]string, len(r.names))
	copy(names, r.names)
	return names
}

// Values returns the positional values of the row.
func (r NamedRow) Values() []any {
	return r.values
}

// RowIter iterates over the rows of the current result set, fetching batchSize rows at a time. It
// visits every row exactly once in server order.
//
//	it := cur.Rows(ctx, 1000)
//	defer it.Close()
//	for it.Next() {
//		values := it.Values()
//	}
//	if err := it.Err(); err != nil {
//		return err
//	}
type RowIter struct {
	ctx       context.Context
	cur       *Cursor
	batchSize int

	buf    [][]any
	pos    int
	values []any
	last   bool
	closed bool
	err    error
}

// Rows returns an iterator over the remaining rows. A batchSize of zero or less uses the cursor's
// default batch size.
func (cur *Cursor) Rows(ctx context.Context, batchSize int) *RowIter {
	if batchSize <= 0 {
		batchSize = cur.batchSize
	}
	return &RowIter{ctx: ctx, cur: cur, batchSize: batchSize}
}

// Next prepares the next row for reading. It returns false when the result set is exhausted or an error
// occurred; check Err to tell them apart.
func (it *RowIter) Next() bool {
	if it.closed {
		return false
	}

	for it.pos >= len(it.buf) {
		if it.last {
			it.Close()
			return false
		}

		rec, err := it.cur.fetchBatch(it.ctx, it.batchSize, driver.EncodingTuples)
		if err != nil {
			it.err = err
			it.Close()
			return false
		}
		it.last = rec.NumRows() < int64(it.batchSize)
		it.buf, err = appendTuples(it.buf[:0], rec)
		rec.Release()
		if err != nil {
			it.err = &QueryError{SQL: it.cur.sql, Err: err}
			it.Close()
			return false
		}
		it.pos = 0
	}

	it.values = it.buf[it.pos]
	it.pos++
	return true
}

// Values returns the values of the current row.
func (it *RowIter) Values() []any {
	return it.values
}

// Err returns the error, if any, that stopped the iteration.
func (it *RowIter) Err() error {
	return it.err
}

// Close stops the iteration and drops buffered rows. Rows not yet fetched from the driver stay in the
// result set. It is safe to call Close more than once.
func (it *RowIter) Close() {
	it.closed = true
	it.buf = nil
	it.values = nil
}
