package zodbc

import (
	"context"
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/zodbc/zodbc/driver"
)

// CursorState is the position of a Cursor in its result set lifecycle.
type CursorState uint8

const (
	// CursorOpen is a cursor that has not executed a statement or whose last execute failed.
	CursorOpen CursorState = iota
	// CursorExecuted has a current result set from which nothing has been fetched yet.
	CursorExecuted
	// CursorFetching has returned full batches and may have more rows.
	CursorFetching
	// CursorExhausted has returned a short batch. Further fetches return no rows until NextSet.
	CursorExhausted
	// CursorClosed has released its statement handle.
	CursorClosed
)

func (s CursorState) String() string {
	switch s {
	case CursorOpen:
		return "open"
	case CursorExecuted:
		return "executed"
	case CursorFetching:
		return "fetching"
	case CursorExhausted:
		return "exhausted"
	case CursorClosed:
		return "closed"
	default:
		return fmt.Sprintf("invalid state %d", uint8(s))
	}
}

// Cursor executes statements and fetches their results over one native statement handle. A Cursor
// must not be used after its Conn is closed; doing so returns ErrConnClosed.
type Cursor struct {
	conn      *Conn
	stmt      driver.Stmt
	id        uint64
	precision driver.Precision
	batchSize int

	state    CursorState
	sql      string
	rowCount int64

	// schema of the most recent batch of the current result set
	schema *arrow.Schema
}

// Conn returns the connection the cursor was created from.
func (cur *Cursor) Conn() *Conn {
	return cur.conn
}

// ID returns an identifier unique among the cursors of its Conn.
func (cur *Cursor) ID() uint64 {
	return cur.id
}

// Precision returns the datetime precision mode fixed at creation.
func (cur *Cursor) Precision() driver.Precision {
	return cur.precision
}

// State returns the current state of the cursor.
func (cur *Cursor) State() CursorState {
	return cur.state
}

// RowCount returns the number of rows affected by the last Execute or ExecuteManyArrow. The value is
// driver defined for queries that return rows and -1 when nothing has been executed.
func (cur *Cursor) RowCount() int64 {
	return cur.rowCount
}

// IsClosed reports if the cursor has been closed.
func (cur *Cursor) IsClosed() bool {
	return cur.stmt == nil
}

// Close releases the statement handle. Closing a closed cursor is a no-op.
func (cur *Cursor) Close(ctx context.Context) error {
	if cur.stmt == nil {
		return nil
	}
	stmt := cur.stmt
	cur.stmt = nil
	cur.state = CursorClosed
	cur.schema = nil

	if err := stmt.Close(ctx); err != nil {
		return &DriverError{Op: "close cursor", Err: err}
	}
	return nil
}

func (cur *Cursor) native() (driver.Stmt, error) {
	if cur.stmt == nil {
		return nil, ErrCursorClosed
	}
	if cur.conn.IsClosed() {
		return nil, ErrConnClosed
	}
	return cur.stmt, nil
}

func (cur *Cursor) resetResult(sql string) {
	cur.state = CursorOpen
	cur.sql = sql
	cur.rowCount = -1
	cur.schema = nil
}

// Execute runs query. args are normalized before they are handed to the driver:
//
//   - no args binds no parameters;
//   - a single NamedArgs or map[string]any binds parameters by name;
//   - a single slice or array (other than []byte) is the positional parameter list;
//   - otherwise every argument is one positional parameter.
//
// So cur.Execute(ctx, sql, 1, "a") and cur.Execute(ctx, sql, []any{1, "a"}) are equivalent. A driver
// failure is returned as a *QueryError and leaves the cursor usable.
func (cur *Cursor) Execute(ctx context.Context, query string, args ...any) (err error) {
	stmt, err := cur.native()
	if err != nil {
		return err
	}

	params, err := normalizeArgs(args)
	if err != nil {
		return err
	}

	if cur.conn.queryTracer != nil {
		ctx = cur.conn.queryTracer.TraceQueryStart(ctx, cur.conn, TraceQueryStartData{CursorID: cur.id, SQL: query, Args: args})
		defer func() {
			cur.conn.queryTracer.TraceQueryEnd(ctx, cur.conn, TraceQueryEndData{RowCount: cur.rowCount, Err: err})
		}()
	}

	cur.resetResult(query)
	if err := stmt.Execute(ctx, query, params); err != nil {
		return &QueryError{SQL: query, Err: normalizeCtxError(ctx, err)}
	}
	return cur.afterExecute(ctx, stmt)
}

// ExecuteManyArrow runs query once for every row of batch, binding the batch columns as positional
// parameters. It is the bulk insert path. A mismatch between the batch schema and the statement
// parameters is returned as a *QueryError. batch is only borrowed for the duration of the call.
func (cur *Cursor) ExecuteManyArrow(ctx context.Context, query string, batch arrow.Record) (err error) {
	stmt, err := cur.native()
	if err != nil {
		return err
	}
	if batch == nil {
		return &InvalidArgumentError{Arg: "batch", Msg: "must not be nil"}
	}

	if cur.conn.queryTracer != nil {
		ctx = cur.conn.queryTracer.TraceQueryStart(ctx, cur.conn, TraceQueryStartData{CursorID: cur.id, SQL: query, BulkRows: batch.NumRows()})
		defer func() {
			cur.conn.queryTracer.TraceQueryEnd(ctx, cur.conn, TraceQueryEndData{RowCount: cur.rowCount, Err: err})
		}()
	}

	cur.resetResult(query)
	if err := stmt.ExecuteArrow(ctx, query, batch); err != nil {
		return &QueryError{SQL: query, Err: normalizeCtxError(ctx, err)}
	}
	return cur.afterExecute(ctx, stmt)
}

func (cur *Cursor) afterExecute(ctx context.Context, stmt driver.Stmt) error {
	rowCount, err := stmt.RowCount(ctx)
	if err != nil {
		return &QueryError{SQL: cur.sql, Err: fmt.Errorf("read row count: %w", err)}
	}
	cur.rowCount = rowCount
	cur.state = CursorExecuted
	return nil
}

// NextSet advances to the next result set of a multi-statement query and reports whether there was
// one. Fetching resumes on the new result set.
func (cur *Cursor) NextSet(ctx context.Context) (bool, error) {
	stmt, err := cur.native()
	if err != nil {
		return false, err
	}
	if cur.state == CursorOpen {
		return false, ErrNoResultSet
	}

	ok, err := stmt.NextSet(ctx)
	if err != nil {
		return false, &QueryError{SQL: cur.sql, Err: normalizeCtxError(ctx, err)}
	}
	if !ok {
		cur.state = CursorExhausted
		return false, nil
	}

	cur.schema = nil
	if err := cur.afterExecute(ctx, stmt); err != nil {
		cur.state = CursorExecuted
		return true, err
	}
	return true, nil
}

// Cancel requests cancellation of the call in flight on this cursor. It is safe to call from another
// goroutine. The driver may block until the cancelled call returns, so cancellation is not immediate.
func (cur *Cursor) Cancel(ctx context.Context) error {
	stmt := cur.stmt
	if stmt == nil {
		return ErrCursorClosed
	}
	if cur.conn.IsClosed() {
		return ErrConnClosed
	}

	if err := stmt.Cancel(ctx); err != nil {
		return &DriverError{Op: "cancel", Err: normalizeCtxError(ctx, err)}
	}
	return nil
}

// errDriverContract is wrapped when a driver returns something the boundary does not allow.
var errDriverContract = errors.New("driver contract violation")
