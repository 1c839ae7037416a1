package sqldriver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/zodbc/zodbc/driver"
)

var (
	errStmtClosed  = errors.New("statement is closed")
	errNoResultSet = errors.New("no result set")
)

// Stmt is a statement handle. A query that returns rows keeps its *sql.Rows open until the statement
// executes again, moves past the last result set or is closed.
type Stmt struct {
	conn      *Conn
	precision driver.Precision

	mu sync.Mutex
	// cancels the context of the current call and of open rows
	cancel context.CancelFunc

	hasResult bool
	rows      *sql.Rows
	schema    *arrow.Schema
	typeNames []string
	exhausted bool
	rowCount  int64

	closed bool
}

func (s *Stmt) check() error {
	if s.closed {
		return errStmtClosed
	}
	if s.conn.closed {
		return errConnClosed
	}
	return nil
}

// begin returns a context for a call that survives the return of ctx's caller when rows stay open.
// The returned stop detaches ctx from it.
func (s *Stmt) begin(ctx context.Context) (context.Context, func() bool) {
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	return sctx, context.AfterFunc(ctx, cancel)
}

// Cancel cancels the in-flight call. Open rows are closed by the driver.
func (s *Stmt) Cancel(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

func (s *Stmt) reset() error {
	var err error
	if s.rows != nil {
		err = s.rows.Close()
		s.rows = nil
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()

	s.hasResult = false
	s.schema = nil
	s.typeNames = nil
	s.exhausted = false
	s.rowCount = -1
	return err
}

// returnsRows reports whether query is run with QueryContext rather than ExecContext.
func returnsRows(query string) bool {
	query = strings.TrimLeftFunc(query, func(r rune) bool { return unicode.IsSpace(r) || r == '(' })
	word, _, _ := strings.Cut(query, " ")
	word = strings.TrimRightFunc(word, func(r rune) bool { return !unicode.IsLetter(r) })
	switch strings.ToLower(word) {
	case "select", "with", "values", "show", "exec", "execute", "call", "pragma", "explain", "table":
		return true
	default:
		return false
	}
}

func (s *Stmt) bindArg(v any) (any, error) {
	if tv, ok := v.(driver.TableValue); ok {
		if s.conn.drv.BindTable == nil {
			return nil, fmt.Errorf("table-valued parameter %s: not supported by %s", tv.TableTypeName(), s.conn.drv.DriverName)
		}
		return s.conn.drv.BindTable(tv)
	}
	return v, nil
}

func (s *Stmt) args(params driver.Params) ([]any, error) {
	args := make([]any, 0, params.Len())
	if params.IsNamed() {
		for name, v := range params.Named {
			arg, err := s.bindArg(v)
			if err != nil {
				return nil, err
			}
			args = append(args, sql.Named(strings.TrimLeft(name, ":@"), arg))
		}
		return args, nil
	}
	for _, v := range params.Positional {
		arg, err := s.bindArg(v)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return args, nil
}

func (s *Stmt) Execute(ctx context.Context, query string, params driver.Params) error {
	if err := s.check(); err != nil {
		return err
	}
	if err := s.reset(); err != nil {
		return err
	}

	args, err := s.args(params)
	if err != nil {
		return err
	}
	q, err := s.conn.querier(ctx)
	if err != nil {
		return err
	}

	qctx, stop := s.begin(ctx)
	defer stop()

	if returnsRows(query) {
		rows, err := q.QueryContext(qctx, query, args...)
		if err != nil {
			s.reset()
			return err
		}
		s.rows = rows
		s.hasResult = true
		if err := s.describe(); err != nil {
			s.reset()
			return err
		}
		return nil
	}

	res, err := q.ExecContext(qctx, query, args...)
	if err != nil {
		s.reset()
		return err
	}
	s.hasResult = true
	s.exhausted = true
	if n, err := res.RowsAffected(); err == nil {
		s.rowCount = n
	}
	return nil
}

// ExecuteArrow prepares query once and executes it for every row of batch. Under autocommit the rows
// are applied in a transaction of their own.
func (s *Stmt) ExecuteArrow(ctx context.Context, query string, batch arrow.Record) error {
	if err := s.check(); err != nil {
		return err
	}
	if err := s.reset(); err != nil {
		return err
	}

	q, err := s.conn.querier(ctx)
	if err != nil {
		return err
	}

	qctx, stop := s.begin(ctx)
	defer stop()

	var tx *sql.Tx
	if s.conn.tx == nil {
		tx, err = s.conn.conn.BeginTx(qctx, nil)
		if err != nil {
			return err
		}
		q = tx
	}

	total, err := s.executeRows(qctx, q, query, batch)
	if err != nil {
		if tx != nil {
			tx.Rollback()
		}
		return err
	}
	if tx != nil {
		if err := tx.Commit(); err != nil {
			return err
		}
	}

	s.hasResult = true
	s.exhausted = true
	s.rowCount = total
	return nil
}

func (s *Stmt) executeRows(ctx context.Context, q querier, query string, batch arrow.Record) (int64, error) {
	ps, err := q.PrepareContext(ctx, query)
	if err != nil {
		return 0, err
	}
	defer ps.Close()

	var total int64
	args := make([]any, batch.NumCols())
	for i := 0; i < int(batch.NumRows()); i++ {
		for c := range args {
			v, err := driver.Value(batch.Column(c), i)
			if err != nil {
				return 0, fmt.Errorf("batch column %q: %w", batch.ColumnName(c), err)
			}
			args[c] = v
		}
		res, err := ps.ExecContext(ctx, args...)
		if err != nil {
			return 0, fmt.Errorf("batch row %d: %w", i, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
	}
	return total, nil
}

// describe derives the Arrow schema of the current result set.
func (s *Stmt) describe() error {
	cts, err := s.rows.ColumnTypes()
	if err != nil {
		return err
	}

	fields := make([]arrow.Field, len(cts))
	s.typeNames = make([]string, len(cts))
	for i, ct := range cts {
		nullable, ok := ct.Nullable()
		if !ok {
			nullable = true
		}
		fields[i] = arrow.Field{Name: ct.Name(), Type: columnType(ct, s.precision), Nullable: nullable}
		s.typeNames[i] = ct.DatabaseTypeName()
	}
	s.schema = arrow.NewSchema(fields, nil)
	s.exhausted = false
	return nil
}

var (
	timeType  = reflect.TypeOf(time.Time{})
	bytesType = reflect.TypeOf([]byte(nil))
)

func columnType(ct *sql.ColumnType, precision driver.Precision) arrow.DataType {
	typ, err := driver.ParseTypeName(ct.DatabaseTypeName())
	if err != nil {
		typ = scanTypeOf(ct.ScanType())
	}

	switch typ.ID() {
	case arrow.DECIMAL128:
		if p, sc, ok := ct.DecimalSize(); ok && p > 0 && p <= 38 {
			typ = &arrow.Decimal128Type{Precision: int32(p), Scale: int32(sc)}
		}
	case arrow.TIMESTAMP:
		typ = precision.TimestampType()
	}
	return typ
}

func scanTypeOf(t reflect.Type) arrow.DataType {
	if t == nil {
		return arrow.BinaryTypes.String
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch {
	case t == timeType, t == reflect.TypeOf(sql.NullTime{}):
		return &arrow.TimestampType{Unit: arrow.Nanosecond}
	case t == bytesType, t == reflect.TypeOf(sql.RawBytes(nil)):
		return arrow.BinaryTypes.Binary
	case t == reflect.TypeOf(sql.NullInt64{}), t == reflect.TypeOf(sql.NullInt32{}), t == reflect.TypeOf(sql.NullInt16{}):
		return arrow.PrimitiveTypes.Int64
	case t == reflect.TypeOf(sql.NullFloat64{}):
		return arrow.PrimitiveTypes.Float64
	case t == reflect.TypeOf(sql.NullBool{}):
		return arrow.FixedWidthTypes.Boolean
	}
	switch t.Kind() {
	case reflect.Bool:
		return arrow.FixedWidthTypes.Boolean
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return arrow.PrimitiveTypes.Int64
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return arrow.PrimitiveTypes.Uint64
	case reflect.Float32, reflect.Float64:
		return arrow.PrimitiveTypes.Float64
	default:
		return arrow.BinaryTypes.String
	}
}

func (s *Stmt) FetchBatch(ctx context.Context, n int) (arrow.Record, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, fmt.Errorf("invalid batch size %d", n)
	}
	if !s.hasResult {
		return nil, errNoResultSet
	}

	mem := s.conn.drv.allocator()
	if s.schema == nil {
		return array.NewRecord(arrow.NewSchema(nil, nil), nil, 0), nil
	}

	rb := array.NewRecordBuilder(mem, s.schema)
	defer rb.Release()
	if s.exhausted {
		return rb.NewRecord(), nil
	}

	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		stop := context.AfterFunc(ctx, cancel)
		defer stop()
	}

	values := make([]any, len(s.schema.Fields()))
	dest := make([]any, len(values))
	for i := range values {
		dest[i] = &values[i]
	}

	for rows := 0; rows < n; rows++ {
		if !s.rows.Next() {
			s.exhausted = true
			if err := s.rows.Err(); err != nil {
				return nil, err
			}
			break
		}
		if err := s.rows.Scan(dest...); err != nil {
			return nil, err
		}
		for i, v := range values {
			v, err := s.convert(i, v)
			if err != nil {
				return nil, err
			}
			if err := driver.AppendValue(rb.Field(i), v); err != nil {
				return nil, fmt.Errorf("column %q: %w", s.schema.Field(i).Name, err)
			}
		}
	}
	return rb.NewRecord(), nil
}

// convert prepares a scanned value for driver.AppendValue.
func (s *Stmt) convert(i int, v any) (any, error) {
	if s.conn.drv.ScanValue != nil {
		var err error
		v, err = s.conn.drv.ScanValue(s.typeNames[i], v)
		if err != nil {
			return nil, err
		}
	}
	if b, ok := v.([]byte); ok {
		switch s.schema.Field(i).Type.ID() {
		case arrow.BINARY, arrow.LARGE_BINARY, arrow.FIXED_SIZE_BINARY, arrow.EXTENSION:
		default:
			return string(b), nil
		}
	}
	return v, nil
}

func (s *Stmt) NextSet(ctx context.Context) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	if s.rows == nil || !s.rows.NextResultSet() {
		var err error
		if s.rows != nil {
			err = s.rows.Err()
		}
		s.reset()
		return false, err
	}
	if err := s.describe(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Stmt) RowCount(ctx context.Context) (int64, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	if !s.hasResult {
		return -1, nil
	}
	return s.rowCount, nil
}

func (s *Stmt) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	err := s.reset()
	s.closed = true
	return err
}
