package memdriver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/zodbc/zodbc/driver"
)

type bindings struct {
	positional []any
	named      map[string]any
}

func bind(sc *script, params driver.Params) (*bindings, error) {
	switch {
	case sc.positional > 0:
		if params.IsNamed() {
			return nil, fmt.Errorf("query uses positional parameters but named parameters were given")
		}
		if len(params.Positional) != sc.positional {
			return nil, fmt.Errorf("query has %d parameters, got %d", sc.positional, len(params.Positional))
		}
		return &bindings{positional: params.Positional}, nil

	case len(sc.named) > 0:
		if !params.IsNamed() {
			return nil, fmt.Errorf("query uses named parameters but %d positional parameters were given", len(params.Positional))
		}
		named := make(map[string]any, len(params.Named))
		for k, v := range params.Named {
			named[normalizeParamName(k)] = v
		}
		for _, name := range sc.named {
			if _, ok := named[normalizeParamName(name)]; !ok {
				return nil, fmt.Errorf("no value for parameter :%s", name)
			}
		}
		return &bindings{named: named}, nil

	default:
		if params.Len() > 0 {
			return nil, fmt.Errorf("query has no parameters, got %d", params.Len())
		}
		return &bindings{}, nil
	}
}

func normalizeParamName(name string) string {
	return strings.ToLower(strings.TrimLeft(name, ":@"))
}

func (b *bindings) value(ph *placeholder) any {
	if ph.name == "" {
		return b.positional[ph.index]
	}
	return b.named[normalizeParamName(ph.name)]
}

type executor struct {
	ctx       context.Context
	cancel    <-chan struct{}
	conn      *Conn
	mem       memory.Allocator
	precision driver.Precision
}

func (s *Stmt) newExecutor(ctx context.Context, cancel <-chan struct{}) *executor {
	return &executor{
		ctx:       ctx,
		cancel:    cancel,
		conn:      s.conn,
		mem:       s.conn.drv.allocator(),
		precision: s.precision,
	}
}

// atomically runs fn with the database locked. When fn fails every change it made is undone and the
// results it produced are released.
func (e *executor) atomically(fn func(e *executor) ([]*result, error)) ([]*result, error) {
	db := e.conn.db
	db.mu.Lock()
	defer db.mu.Unlock()

	hadTx := e.conn.snapshot != nil
	undo := cloneTables(db.tables)

	results, err := fn(e)
	if err != nil {
		for _, r := range results {
			if r.rec != nil {
				r.rec.Release()
			}
		}
		releaseTables(db.tables)
		db.tables = undo
		if !hadTx && e.conn.snapshot != nil {
			releaseTables(e.conn.snapshot)
			e.conn.snapshot = nil
		}
		return nil, err
	}

	releaseTables(undo)
	return results, nil
}

func (e *executor) interrupted() error {
	select {
	case <-e.cancel:
		return errCanceled
	default:
	}
	return e.ctx.Err()
}

func (e *executor) run(stmts []statement, b *bindings) ([]*result, error) {
	results := make([]*result, 0, len(stmts))
	for _, st := range stmts {
		if err := e.interrupted(); err != nil {
			releaseResults(results)
			return nil, err
		}

		r, err := e.exec(st, b)
		if err != nil {
			releaseResults(results)
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

func releaseResults(results []*result) {
	for _, r := range results {
		if r.rec != nil {
			r.rec.Release()
		}
	}
}

func (e *executor) exec(st statement, b *bindings) (*result, error) {
	switch st := st.(type) {
	case *createTable:
		return e.createTable(st)
	case *dropTable:
		return e.dropTable(st)
	case *insertValues:
		return e.insertValues(st, b)
	case *insertSelect:
		return e.insertSelect(st, b)
	case *selectStmt:
		rec, err := e.selectRecord(st, b, e.precision)
		if err != nil {
			return nil, err
		}
		return &result{rec: rec, rowCount: -1}, nil
	case *deleteStmt:
		return e.delete(st)
	case *waitForDelay:
		return e.waitFor(st)
	default:
		return nil, fmt.Errorf("unsupported statement %T", st)
	}
}

func (e *executor) table(name string) (*table, error) {
	t, ok := e.conn.db.tables[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("table %q does not exist", name)
	}
	return t, nil
}

func (e *executor) createTable(st *createTable) (*result, error) {
	key := strings.ToLower(st.name)
	if _, exists := e.conn.db.tables[key]; exists {
		return nil, fmt.Errorf("table %q already exists", st.name)
	}

	seen := make(map[string]bool, len(st.cols))
	fields := make([]arrow.Field, len(st.cols))
	for i, c := range st.cols {
		if seen[strings.ToLower(c.name)] {
			return nil, fmt.Errorf("duplicate column %q in table %q", c.name, st.name)
		}
		seen[strings.ToLower(c.name)] = true
		fields[i] = arrow.Field{Name: c.name, Type: c.typ, Nullable: true}
	}

	e.conn.beginWrite()
	e.conn.db.tables[key] = &table{name: st.name, schema: arrow.NewSchema(fields, nil)}
	return &result{rowCount: -1}, nil
}

func (e *executor) dropTable(st *dropTable) (*result, error) {
	t, err := e.table(st.name)
	if err != nil {
		if st.ifExists {
			return &result{rowCount: -1}, nil
		}
		return nil, err
	}

	e.conn.beginWrite()
	t.release()
	delete(e.conn.db.tables, strings.ToLower(st.name))
	return &result{rowCount: -1}, nil
}

func (e *executor) delete(st *deleteStmt) (*result, error) {
	t, err := e.table(st.table)
	if err != nil {
		return nil, err
	}

	n := t.numRows()
	e.conn.beginWrite()
	t.release()
	return &result{rowCount: n}, nil
}

// targetColumns maps the column list of an INSERT to field indexes of t. An empty list means every
// column in table order.
func targetColumns(t *table, cols []string) ([]int, error) {
	if len(cols) == 0 {
		idx := make([]int, t.schema.NumFields())
		for i := range idx {
			idx[i] = i
		}
		return idx, nil
	}

	idx := make([]int, len(cols))
	for i, name := range cols {
		j, err := fieldIndex(t.schema, name)
		if err != nil {
			return nil, fmt.Errorf("table %q: %w", t.name, err)
		}
		idx[i] = j
	}
	return idx, nil
}

func fieldIndex(schema *arrow.Schema, name string) (int, error) {
	for i, f := range schema.Fields() {
		if strings.EqualFold(f.Name, name) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown column %q", name)
}

// appendRow appends values to the fields of rb listed in targets and nulls to all others.
func appendRow(rb *array.RecordBuilder, targets []int, values []any) error {
	pos := make(map[int]int, len(targets))
	for i, t := range targets {
		pos[t] = i
	}
	for f := 0; f < rb.Schema().NumFields(); f++ {
		i, ok := pos[f]
		if !ok {
			rb.Field(f).AppendNull()
			continue
		}
		if err := driver.AppendValue(rb.Field(f), values[i]); err != nil {
			return fmt.Errorf("column %q: %w", rb.Schema().Field(f).Name, err)
		}
	}
	return nil
}

func (e *executor) insertValues(st *insertValues, b *bindings) (*result, error) {
	t, err := e.table(st.table)
	if err != nil {
		return nil, err
	}
	targets, err := targetColumns(t, st.cols)
	if err != nil {
		return nil, err
	}

	rb := array.NewRecordBuilder(e.mem, t.schema)
	defer rb.Release()

	values := make([]any, len(targets))
	for r, row := range st.rows {
		if len(row) != len(targets) {
			return nil, fmt.Errorf("INSERT row %d has %d values for %d columns", r+1, len(row), len(targets))
		}
		for i, x := range row {
			v, err := e.eval(x, b)
			if err != nil {
				return nil, err
			}
			values[i] = v
		}
		if err := appendRow(rb, targets, values); err != nil {
			return nil, fmt.Errorf("INSERT row %d: %w", r+1, err)
		}
	}

	return e.appendChunk(t, rb.NewRecord()), nil
}

func (e *executor) insertSelect(st *insertSelect, b *bindings) (*result, error) {
	t, err := e.table(st.table)
	if err != nil {
		return nil, err
	}
	targets, err := targetColumns(t, st.cols)
	if err != nil {
		return nil, err
	}

	// full precision regardless of the statement mode, nothing leaves the database
	src, err := e.selectRecord(st.src, b, driver.PrecisionNano)
	if err != nil {
		return nil, err
	}
	defer src.Release()

	if int(src.NumCols()) != len(targets) {
		return nil, fmt.Errorf("INSERT has %d target columns but the source has %d", len(targets), src.NumCols())
	}

	rb := array.NewRecordBuilder(e.mem, t.schema)
	defer rb.Release()

	values := make([]any, len(targets))
	for r := 0; r < int(src.NumRows()); r++ {
		for c := range values {
			v, err := driver.Value(src.Column(c), r)
			if err != nil {
				return nil, err
			}
			values[c] = v
		}
		if err := appendRow(rb, targets, values); err != nil {
			return nil, fmt.Errorf("source row %d: %w", r+1, err)
		}
	}

	return e.appendChunk(t, rb.NewRecord()), nil
}

func (e *executor) appendChunk(t *table, rec arrow.Record) *result {
	n := rec.NumRows()
	if n == 0 {
		rec.Release()
		return &result{rowCount: 0}
	}
	e.conn.beginWrite()
	t.chunks = append(t.chunks, rec)
	return &result{rowCount: n}
}

func (e *executor) eval(x expr, b *bindings) (any, error) {
	switch x := x.(type) {
	case *literal:
		return x.v, nil
	case *placeholder:
		v := b.value(x)
		if tv, ok := v.(driver.TableValue); ok {
			return nil, fmt.Errorf("table-valued parameter %s can only be used in FROM", tv.TableTypeName())
		}
		return v, nil
	case *castExpr:
		v, err := e.eval(x.x, b)
		if err != nil {
			return nil, err
		}
		return e.cast(v, x.typ)
	case columnRef:
		return nil, fmt.Errorf("unknown column %q", string(x))
	default:
		return nil, fmt.Errorf("unsupported expression %T", x)
	}
}

func (e *executor) cast(v any, typ arrow.DataType) (any, error) {
	if v == nil {
		return nil, nil
	}
	bldr := array.NewBuilder(e.mem, typ)
	defer bldr.Release()
	if err := driver.AppendValue(bldr, v); err != nil {
		return nil, fmt.Errorf("CAST to %s: %w", typ, err)
	}
	arr := bldr.NewArray()
	defer arr.Release()
	return driver.Value(arr, 0)
}

// resultType is the type a stored column is returned as under precision.
func resultType(typ arrow.DataType, precision driver.Precision) arrow.DataType {
	if typ.ID() == arrow.TIMESTAMP {
		return precision.TimestampType()
	}
	return typ
}

func (e *executor) selectRecord(st *selectStmt, b *bindings, precision driver.Precision) (arrow.Record, error) {
	switch {
	case st.from != "":
		t, err := e.table(st.from)
		if err != nil {
			return nil, err
		}
		cols, err := e.concatChunks(t)
		if err != nil {
			return nil, err
		}
		defer releaseArrays(cols)
		return e.project(t.schema, cols, st, precision)

	case st.fromParam != nil:
		tv, ok := b.value(st.fromParam).(driver.TableValue)
		if !ok {
			return nil, fmt.Errorf("parameter in FROM must be a table-valued parameter")
		}
		rec := tv.Record()
		return e.project(rec.Schema(), rec.Columns(), st, precision)

	default:
		return e.selectLiterals(st, b, precision)
	}
}

func (e *executor) concatChunks(t *table) ([]arrow.Array, error) {
	cols := make([]arrow.Array, t.schema.NumFields())
	for i, f := range t.schema.Fields() {
		if len(t.chunks) == 0 {
			bldr := array.NewBuilder(e.mem, f.Type)
			cols[i] = bldr.NewArray()
			bldr.Release()
			continue
		}

		parts := make([]arrow.Array, len(t.chunks))
		for j, c := range t.chunks {
			parts[j] = c.Column(i)
		}
		arr, err := array.Concatenate(parts, e.mem)
		if err != nil {
			releaseArrays(cols[:i])
			return nil, err
		}
		cols[i] = arr
	}
	return cols, nil
}

func releaseArrays(arrs []arrow.Array) {
	for _, a := range arrs {
		if a != nil {
			a.Release()
		}
	}
}

// project builds the result record of st from the columns of a table or table-valued parameter.
func (e *executor) project(schema *arrow.Schema, cols []arrow.Array, st *selectStmt, precision driver.Precision) (arrow.Record, error) {
	idx := make([]int, 0, schema.NumFields())
	names := make([]string, 0, schema.NumFields())
	if st.star {
		for i, f := range schema.Fields() {
			idx = append(idx, i)
			names = append(names, f.Name)
		}
	} else {
		for i, name := range st.columns {
			j, err := fieldIndex(schema, name)
			if err != nil {
				return nil, err
			}
			idx = append(idx, j)
			if alias := st.items[i].alias; alias != "" {
				names = append(names, alias)
			} else {
				names = append(names, schema.Field(j).Name)
			}
		}
	}

	fields := make([]arrow.Field, len(idx))
	out := make([]arrow.Array, len(idx))
	for i, j := range idx {
		arr, err := e.present(cols[j], precision)
		if err != nil {
			releaseArrays(out[:i])
			return nil, err
		}
		out[i] = arr
		fields[i] = arrow.Field{Name: names[i], Type: arr.DataType(), Nullable: true}
	}
	defer releaseArrays(out)

	var nrows int64
	if len(cols) > 0 {
		nrows = int64(cols[0].Len())
	}
	return array.NewRecord(arrow.NewSchema(fields, nil), out, nrows), nil
}

// present converts arr to its result type under precision. The caller owns the returned array.
func (e *executor) present(arr arrow.Array, precision driver.Precision) (arrow.Array, error) {
	typ := resultType(arr.DataType(), precision)
	if arrow.TypeEqual(typ, arr.DataType()) {
		arr.Retain()
		return arr, nil
	}

	bldr := array.NewBuilder(e.mem, typ)
	defer bldr.Release()
	for i := 0; i < arr.Len(); i++ {
		v, err := driver.Value(arr, i)
		if err != nil {
			return nil, err
		}
		if err := driver.AppendValue(bldr, v); err != nil {
			return nil, err
		}
	}
	return bldr.NewArray(), nil
}

func (e *executor) selectLiterals(st *selectStmt, b *bindings, precision driver.Precision) (arrow.Record, error) {
	fields := make([]arrow.Field, len(st.items))
	values := make([]any, len(st.items))
	for i, item := range st.items {
		v, err := e.eval(item.x, b)
		if err != nil {
			return nil, err
		}
		values[i] = v

		var typ arrow.DataType
		if c, ok := item.x.(*castExpr); ok {
			typ = c.typ
		} else if typ, err = driver.TypeOf(v); err != nil {
			return nil, err
		}

		name := item.alias
		if name == "" {
			name = fmt.Sprintf("col%d", i+1)
		}
		fields[i] = arrow.Field{Name: name, Type: resultType(typ, precision), Nullable: true}
	}

	rb := array.NewRecordBuilder(e.mem, arrow.NewSchema(fields, nil))
	defer rb.Release()
	for i, v := range values {
		if err := driver.AppendValue(rb.Field(i), v); err != nil {
			return nil, fmt.Errorf("column %q: %w", fields[i].Name, err)
		}
	}
	return rb.NewRecord(), nil
}

func (e *executor) waitFor(st *waitForDelay) (*result, error) {
	timer := time.NewTimer(st.delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return &result{rowCount: -1}, nil
	case <-e.cancel:
		return nil, errCanceled
	case <-e.ctx.Done():
		return nil, e.ctx.Err()
	}
}
