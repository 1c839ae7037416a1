package zodbc

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/zodbc/zodbc/driver"
)

// FetchBatch returns at most n rows of the current result set as one Arrow record. A record with fewer
// than n rows means the result set is exhausted; every fetch after that returns an empty record with the
// same schema until NextSet moves to another result set. The caller must Release the record.
func (cur *Cursor) FetchBatch(ctx context.Context, n int) (arrow.Record, error) {
	if n <= 0 {
		return nil, invalidBatchSizeError(n)
	}
	return cur.fetchBatch(ctx, n, driver.EncodingArrow)
}

// fetchBatch fetches one batch that the caller will materialize as enc.
func (cur *Cursor) fetchBatch(ctx context.Context, n int, enc driver.RowEncoding) (rec arrow.Record, err error) {
	stmt, err := cur.checkResultSet()
	if err != nil {
		return nil, err
	}

	if cur.state == CursorExhausted {
		schema := cur.schema
		if schema == nil {
			schema = arrow.NewSchema(nil, nil)
		}
		return emptyRecord(cur.conn.config.Allocator, schema), nil
	}

	if cur.conn.fetchTracer != nil {
		ctx = cur.conn.fetchTracer.TraceFetchStart(ctx, cur.conn, TraceFetchStartData{CursorID: cur.id, Requested: n, Encoding: enc})
		defer func() {
			data := TraceFetchEndData{Err: err}
			if rec != nil {
				data.Rows = rec.NumRows()
				data.Exhausted = rec.NumRows() < int64(n)
			}
			cur.conn.fetchTracer.TraceFetchEnd(ctx, cur.conn, data)
		}()
	}

	rec, err = stmt.FetchBatch(ctx, n)
	if err != nil {
		return nil, &QueryError{SQL: cur.sql, Err: normalizeCtxError(ctx, err)}
	}
	if rec == nil {
		return nil, &QueryError{SQL: cur.sql, Err: fmt.Errorf("%w: nil batch", errDriverContract)}
	}
	if rec.NumRows() > int64(n) {
		rows := rec.NumRows()
		rec.Release()
		return nil, &QueryError{SQL: cur.sql, Err: fmt.Errorf("%w: %d rows returned for a batch of %d", errDriverContract, rows, n)}
	}

	cur.schema = rec.Schema()
	if rec.NumRows() < int64(n) {
		cur.state = CursorExhausted
	} else {
		cur.state = CursorFetching
	}
	return rec, nil
}

func (cur *Cursor) checkResultSet() (driver.Stmt, error) {
	stmt, err := cur.native()
	if err != nil {
		return nil, err
	}
	if cur.state == CursorOpen {
		return nil, ErrNoResultSet
	}
	return stmt, nil
}

// Batches drains the current result set n rows at a time and returns the batches in server order.
//
// A batch shorter than n is the only end of stream signal, so a result set whose size is an exact
// multiple of n costs one extra fetch that returns no rows. That empty batch is dropped unless it is the
// only batch: an empty result set yields exactly one empty batch so the schema is preserved.
func (cur *Cursor) Batches(ctx context.Context, n int) ([]arrow.Record, error) {
	if n <= 0 {
		return nil, invalidBatchSizeError(n)
	}
	return cur.batches(ctx, n, driver.EncodingArrow)
}

func (cur *Cursor) batches(ctx context.Context, n int, enc driver.RowEncoding) ([]arrow.Record, error) {
	var batches []arrow.Record
	for {
		rec, err := cur.fetchBatch(ctx, n, enc)
		if err != nil {
			releaseRecords(batches)
			return nil, err
		}

		if rec.NumRows() < int64(n) {
			if len(batches) == 0 || rec.NumRows() > 0 {
				batches = append(batches, rec)
			} else {
				rec.Release()
			}
			break
		}
		batches = append(batches, rec)
	}

	schema := batches[0].Schema()
	for _, b := range batches[1:] {
		if !b.Schema().Equal(schema) {
			releaseRecords(batches)
			return nil, &QueryError{SQL: cur.sql, Err: fmt.Errorf("%w: schema changed within a result set", errDriverContract)}
		}
	}

	return batches, nil
}

// Arrow drains the current result set n rows at a time and concatenates the batches into one table.
// The caller must Release the table.
func (cur *Cursor) Arrow(ctx context.Context, n int) (arrow.Table, error) {
	batches, err := cur.Batches(ctx, n)
	if err != nil {
		return nil, err
	}
	defer releaseRecords(batches)

	return array.NewTableFromRecords(batches[0].Schema(), batches), nil
}

// ArrowAll is Arrow with the cursor's default batch size.
func (cur *Cursor) ArrowAll(ctx context.Context) (arrow.Table, error) {
	return cur.Arrow(ctx, cur.batchSize)
}

// fetchRecords implements the n argument of the row oriented fetch methods: AllRows drains the result
// set, zero fetches nothing and any other positive n fetches one batch.
func (cur *Cursor) fetchRecords(ctx context.Context, n int, enc driver.RowEncoding) ([]arrow.Record, error) {
	switch {
	case n == AllRows:
		return cur.batches(ctx, cur.batchSize, enc)
	case n < 0:
		return nil, &InvalidArgumentError{Arg: "n", Msg: fmt.Sprintf("must be non-negative or AllRows, got %d", n)}
	case n == 0:
		if _, err := cur.checkResultSet(); err != nil {
			return nil, err
		}
		return nil, nil
	default:
		rec, err := cur.fetchBatch(ctx, n, enc)
		if err != nil {
			return nil, err
		}
		return []arrow.Record{rec}, nil
	}
}

// FetchTuples returns up to n rows as positional values. n may be AllRows.
func (cur *Cursor) FetchTuples(ctx context.Context, n int) ([][]any, error) {
	batches, err := cur.fetchRecords(ctx, n, driver.EncodingTuples)
	if err != nil {
		return nil, err
	}
	defer releaseRecords(batches)

	rows := make([][]any, 0, countRows(batches))
	for _, rec := range batches {
		rows, err = appendTuples(rows, rec)
		if err != nil {
			return nil, &QueryError{SQL: cur.sql, Err: err}
		}
	}
	return rows, nil
}

// FetchMany is FetchTuples.
func (cur *Cursor) FetchMany(ctx context.Context, n int) ([][]any, error) {
	return cur.FetchTuples(ctx, n)
}

// FetchAll returns every remaining row as positional values.
func (cur *Cursor) FetchAll(ctx context.Context) ([][]any, error) {
	return cur.FetchTuples(ctx, AllRows)
}

// FetchDicts returns up to n rows as maps from column name to value. Every row gets its own map. When
// column names repeat, the rightmost column wins; use FetchNamed or FetchTuples to see all of them.
func (cur *Cursor) FetchDicts(ctx context.Context, n int) ([]map[string]any, error) {
	batches, err := cur.fetchRecords(ctx, n, driver.EncodingDicts)
	if err != nil {
		return nil, err
	}
	defer releaseRecords(batches)

	rows := make([]map[string]any, 0, countRows(batches))
	for _, rec := range batches {
		tuples, err := appendTuples(nil, rec)
		if err != nil {
			return nil, &QueryError{SQL: cur.sql, Err: err}
		}
		names := columnNames(rec.Schema())
		for _, t := range tuples {
			m := make(map[string]any, len(names))
			for i, name := range names {
				m[name] = t[i]
			}
			rows = append(rows, m)
		}
	}
	return rows, nil
}

// FetchNamed returns up to n rows as NamedRow values.
func (cur *Cursor) FetchNamed(ctx context.Context, n int) ([]NamedRow, error) {
	batches, err := cur.fetchRecords(ctx, n, driver.EncodingNamed)
	if err != nil {
		return nil, err
	}
	defer releaseRecords(batches)

	rows := make([]NamedRow, 0, countRows(batches))
	for _, rec := range batches {
		tuples, err := appendTuples(nil, rec)
		if err != nil {
			return nil, &QueryError{SQL: cur.sql, Err: err}
		}
		names := columnNames(rec.Schema())
		for _, t := range tuples {
			rows = append(rows, NamedRow{names: names, values: t})
		}
	}
	return rows, nil
}

// FetchOne fetches exactly one row through the same path as FetchTuples so that values are converted
// identically. It returns ErrNoRows when the result set has no more rows.
func (cur *Cursor) FetchOne(ctx context.Context) ([]any, error) {
	rows, err := cur.FetchTuples(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	return rows[0], nil
}

// FetchVal returns the first value of the next row or ErrNoRows.
func (cur *Cursor) FetchVal(ctx context.Context) (any, error) {
	row, err := cur.FetchOne(ctx)
	if err != nil {
		return nil, err
	}
	if len(row) == 0 {
		return nil, &InvalidStateError{Msg: "result set has no columns"}
	}
	return row[0], nil
}

func emptyRecord(mem memory.Allocator, schema *arrow.Schema) arrow.Record {
	cols := make([]arrow.Array, schema.NumFields())
	for i, f := range schema.Fields() {
		cols[i] = array.MakeArrayOfNull(mem, f.Type, 0)
	}
	rec := array.NewRecord(schema, cols, 0)
	for _, c := range cols {
		c.Release()
	}
	return rec
}

func releaseRecords(recs []arrow.Record) {
	for _, r := range recs {
		r.Release()
	}
}

func countRows(recs []arrow.Record) int {
	var n int64
	for _, r := range recs {
		n += r.NumRows()
	}
	return int(n)
}

func columnNames(schema *arrow.Schema) []string {
	names := make([]string, schema.NumFields())
	for i, f := range schema.Fields() {
		names[i] = f.Name
	}
	return names
}
