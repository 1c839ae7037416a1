package memdriver_test

import (
	"context"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zodbc/zodbc/driver"
	"github.com/zodbc/zodbc/memdriver"
)

type tableValue struct {
	name string
	rec  arrow.Record
}

func (tv tableValue) TableTypeName() string { return tv.name }
func (tv tableValue) Record() arrow.Record  { return tv.rec }

func openStmt(t *testing.T, mem memory.Allocator, connString string, precision driver.Precision) (driver.Conn, driver.Stmt) {
	t.Helper()
	ctx := context.Background()

	d := &memdriver.Driver{Allocator: mem}
	conn, err := d.Open(ctx, connString)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(ctx) })

	stmt, err := conn.NewStmt(ctx, precision)
	require.NoError(t, err)
	t.Cleanup(func() { stmt.Close(ctx) })

	return conn, stmt
}

// closeAll releases the database before a checked allocator is asserted.
func closeAll(t *testing.T, conn driver.Conn, stmt driver.Stmt) {
	ctx := context.Background()
	require.NoError(t, stmt.Close(ctx))
	require.NoError(t, conn.Close(ctx))
}

func positional(args ...any) driver.Params {
	return driver.Params{Positional: args}
}

// fetchAll drains the current result set one row at a time.
func fetchAll(t *testing.T, stmt driver.Stmt) [][]any {
	t.Helper()

	var rows [][]any
	for {
		rec, err := stmt.FetchBatch(context.Background(), 1)
		require.NoError(t, err)
		if rec.NumRows() == 0 {
			rec.Release()
			return rows
		}
		row := make([]any, rec.NumCols())
		for i := range row {
			row[i], err = driver.Value(rec.Column(i), 0)
			require.NoError(t, err)
		}
		rows = append(rows, row)
		rec.Release()
	}
}

func TestDriverIsRegistered(t *testing.T) {
	d, ok := driver.Lookup("MEMDB")
	require.True(t, ok)
	assert.IsType(t, &memdriver.Driver{}, d)
}

func TestOpenRejectsRemoteServer(t *testing.T) {
	d := &memdriver.Driver{}
	_, err := d.Open(context.Background(), "Server=db.example.com;Database=x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")

	_, err = d.Open(context.Background(), "Autocommit=sometimes")
	require.Error(t, err)
}

func TestCreateInsertSelect(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	ctx := context.Background()
	func() {
		conn, stmt := openStmt(t, mem, "Database=crud", driver.PrecisionMicro)
		defer closeAll(t, conn, stmt)

		require.NoError(t, stmt.Execute(ctx, "create table widgets (id bigint, name varchar(20), price decimal(10, 2))", driver.Params{}))
		require.NoError(t, stmt.Execute(ctx, "insert into widgets values (1, 'gear', 9.99), (2, 'cog', null)", driver.Params{}))
		n, err := stmt.RowCount(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		require.NoError(t, stmt.Execute(ctx, "insert into widgets (name, id) values (?, ?)", positional("sprocket", int64(3))))
		require.NoError(t, stmt.Execute(ctx, "insert into widgets values (:id, :name, @price)",
			driver.Params{Named: map[string]any{"id": int64(4), ":name": "bolt", "@price": decimal.RequireFromString("0.5")}}))

		require.NoError(t, stmt.Execute(ctx, "select * from widgets", driver.Params{}))
		n, err = stmt.RowCount(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, -1, n)

		rows := fetchAll(t, stmt)
		require.Len(t, rows, 4)
		assert.Equal(t, []any{int64(1), "gear", decimal.RequireFromString("9.99")}, normalizeDecimals(rows[0]))
		assert.Equal(t, []any{int64(2), "cog", nil}, rows[1])
		assert.Equal(t, []any{int64(3), "sprocket", nil}, rows[2])
		assert.Equal(t, "bolt", rows[3][1])

		require.NoError(t, stmt.Execute(ctx, "select name, id as widget_id from widgets", driver.Params{}))
		rec, err := stmt.FetchBatch(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, "name", rec.ColumnName(0))
		assert.Equal(t, "widget_id", rec.ColumnName(1))
		assert.EqualValues(t, 4, rec.NumRows())
		rec.Release()

		require.NoError(t, stmt.Execute(ctx, "delete from widgets", driver.Params{}))
		n, err = stmt.RowCount(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 4, n)
	}()
}

func normalizeDecimals(row []any) []any {
	out := make([]any, len(row))
	for i, v := range row {
		if d, ok := v.(decimal.Decimal); ok {
			v = decimal.RequireFromString(d.String())
		}
		out[i] = v
	}
	return out
}

func TestFetchBatchSlices(t *testing.T) {
	ctx := context.Background()
	_, stmt := openStmt(t, nil, "Database=slices", driver.PrecisionMicro)

	require.NoError(t, stmt.Execute(ctx, "create table t (n int); insert into t values (1), (2), (3)", driver.Params{}))
	require.NoError(t, stmt.Execute(ctx, "select * from t", driver.Params{}))

	var sizes []int64
	for {
		rec, err := stmt.FetchBatch(ctx, 2)
		require.NoError(t, err)
		sizes = append(sizes, rec.NumRows())
		rec.Release()
		if len(sizes) == 3 {
			break
		}
	}
	assert.Equal(t, []int64{2, 1, 0}, sizes)
}

func TestMultipleResultSets(t *testing.T) {
	ctx := context.Background()
	_, stmt := openStmt(t, nil, "", driver.PrecisionMicro)

	require.NoError(t, stmt.Execute(ctx, "select 1 as a; select 'x' as b, 'y' as c; create table z (i int)", driver.Params{}))
	assert.Equal(t, [][]any{{int64(1)}}, fetchAll(t, stmt))

	more, err := stmt.NextSet(ctx)
	require.NoError(t, err)
	require.True(t, more)
	assert.Equal(t, [][]any{{"x", "y"}}, fetchAll(t, stmt))

	more, err = stmt.NextSet(ctx)
	require.NoError(t, err)
	require.True(t, more)
	rec, err := stmt.FetchBatch(ctx, 5)
	require.NoError(t, err)
	assert.EqualValues(t, 0, rec.NumCols())
	rec.Release()

	more, err = stmt.NextSet(ctx)
	require.NoError(t, err)
	assert.False(t, more)

	_, err = stmt.FetchBatch(ctx, 5)
	assert.Error(t, err)
}

func TestTimestampPrecision(t *testing.T) {
	ctx := context.Background()
	ts := time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.UTC)

	tests := []struct {
		precision driver.Precision
		typ       arrow.DataType
		want      any
	}{
		{driver.PrecisionMicro, &arrow.TimestampType{Unit: arrow.Microsecond}, ts.Truncate(time.Microsecond)},
		{driver.PrecisionNano, &arrow.TimestampType{Unit: arrow.Nanosecond}, ts},
		{driver.PrecisionString, arrow.BinaryTypes.String, "2024-05-06T07:08:09.123456789"},
	}

	for _, tt := range tests {
		t.Run(tt.precision.String(), func(t *testing.T) {
			_, stmt := openStmt(t, nil, "Database=precision_"+tt.precision.String(), tt.precision)

			require.NoError(t, stmt.Execute(ctx, "create table events (at datetime2(7)); insert into events values (?)", positional(ts)))
			require.NoError(t, stmt.Execute(ctx, "select at from events", driver.Params{}))

			rec, err := stmt.FetchBatch(ctx, 10)
			require.NoError(t, err)
			defer rec.Release()

			assert.True(t, arrow.TypeEqual(tt.typ, rec.Schema().Field(0).Type), "got %s", rec.Schema().Field(0).Type)
			v, err := driver.Value(rec.Column(0), 0)
			require.NoError(t, err)
			if want, ok := tt.want.(time.Time); ok {
				assert.True(t, want.Equal(v.(time.Time)))
			} else {
				assert.Equal(t, tt.want, v)
			}
		})
	}
}

func TestCast(t *testing.T) {
	ctx := context.Background()
	_, stmt := openStmt(t, nil, "", driver.PrecisionNano)

	require.NoError(t, stmt.Execute(ctx, "select cast('2024-01-02 03:04:05.5' as datetime2) as ts, cast(7 as smallint) as n", driver.Params{}))
	rows := fetchAll(t, stmt)
	require.Len(t, rows, 1)
	assert.True(t, time.Date(2024, 1, 2, 3, 4, 5, 500000000, time.UTC).Equal(rows[0][0].(time.Time)))
	assert.Equal(t, int64(7), rows[0][1])

	err := stmt.Execute(ctx, "select cast('abc' as int)", driver.Params{})
	assert.Error(t, err)
}

func TestTableValuedParameter(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	ctx := context.Background()
	func() {
		conn, stmt := openStmt(t, mem, "Database=tvp", driver.PrecisionMicro)
		defer closeAll(t, conn, stmt)

		rb := array.NewRecordBuilder(mem, arrow.NewSchema([]arrow.Field{
			{Name: "id", Type: arrow.PrimitiveTypes.Int64},
			{Name: "name", Type: arrow.BinaryTypes.String},
		}, nil))
		defer rb.Release()
		rb.Field(0).(*array.Int64Builder).AppendValues([]int64{10, 20}, nil)
		rb.Field(1).(*array.StringBuilder).AppendValues([]string{"a", "b"}, nil)
		rec := rb.NewRecord()
		defer rec.Release()

		require.NoError(t, stmt.Execute(ctx, "create table items (id int, name varchar(10))", driver.Params{}))
		require.NoError(t, stmt.Execute(ctx, "insert into items select * from ?", positional(tableValue{name: "dbo.item_list", rec: rec})))
		n, err := stmt.RowCount(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		require.NoError(t, stmt.Execute(ctx, "select * from items", driver.Params{}))
		assert.Equal(t, [][]any{{int64(10), "a"}, {int64(20), "b"}}, fetchAll(t, stmt))

		err = stmt.Execute(ctx, "select ?", positional(tableValue{name: "t", rec: rec}))
		assert.ErrorContains(t, err, "FROM")
	}()
}

func TestExecuteArrow(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	ctx := context.Background()
	func() {
		conn, stmt := openStmt(t, mem, "Database=bulk", driver.PrecisionMicro)
		defer closeAll(t, conn, stmt)
		require.NoError(t, stmt.Execute(ctx, "create table t (a bigint, b varchar(5))", driver.Params{}))

		rb := array.NewRecordBuilder(mem, arrow.NewSchema([]arrow.Field{
			{Name: "a", Type: arrow.PrimitiveTypes.Int64},
			{Name: "b", Type: arrow.BinaryTypes.String},
		}, nil))
		defer rb.Release()
		rb.Field(0).(*array.Int64Builder).AppendValues([]int64{1, 2, 3}, nil)
		rb.Field(1).(*array.StringBuilder).AppendValues([]string{"x", "y", "z"}, nil)
		batch := rb.NewRecord()
		defer batch.Release()

		require.NoError(t, stmt.ExecuteArrow(ctx, "insert into t values (?, ?)", batch))
		n, err := stmt.RowCount(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 3, n)

		err = stmt.ExecuteArrow(ctx, "insert into t values (?)", batch)
		assert.ErrorContains(t, err, "2 columns")

		require.NoError(t, stmt.Execute(ctx, "select * from t", driver.Params{}))
		assert.Len(t, fetchAll(t, stmt), 3)
	}()
}

func TestFailedExecuteIsAtomic(t *testing.T) {
	ctx := context.Background()
	_, stmt := openStmt(t, nil, "Database=atomic", driver.PrecisionMicro)

	require.NoError(t, stmt.Execute(ctx, "create table t (n tinyint)", driver.Params{}))
	err := stmt.Execute(ctx, "insert into t values (1); insert into t values (1000)", driver.Params{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")

	require.NoError(t, stmt.Execute(ctx, "select * from t", driver.Params{}))
	assert.Empty(t, fetchAll(t, stmt))
}

func TestExecuteErrorNamesSession(t *testing.T) {
	ctx := context.Background()
	conn, stmt := openStmt(t, nil, "Database=session", driver.PrecisionMicro)

	id := conn.(*memdriver.Conn).ID()
	require.False(t, id.IsNil())

	err := stmt.Execute(ctx, "select * from missing", driver.Params{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[memdb][session "+id.String()+"]")

	other, _ := openStmt(t, nil, "Database=session", driver.PrecisionMicro)
	assert.NotEqual(t, id, other.(*memdriver.Conn).ID())
}

func TestTransactions(t *testing.T) {
	ctx := context.Background()
	conn, stmt := openStmt(t, nil, "Database=tx", driver.PrecisionMicro)

	require.NoError(t, stmt.Execute(ctx, "create table t (n int)", driver.Params{}))

	// commit and rollback are no-ops in autocommit mode
	require.NoError(t, conn.Rollback(ctx))
	require.NoError(t, stmt.Execute(ctx, "select * from t", driver.Params{}))
	assert.Empty(t, fetchAll(t, stmt))

	require.NoError(t, conn.SetAutocommit(ctx, false))
	require.NoError(t, stmt.Execute(ctx, "insert into t values (1)", driver.Params{}))
	require.NoError(t, conn.Rollback(ctx))
	require.NoError(t, stmt.Execute(ctx, "select * from t", driver.Params{}))
	assert.Empty(t, fetchAll(t, stmt))

	require.NoError(t, stmt.Execute(ctx, "insert into t values (2)", driver.Params{}))
	require.NoError(t, conn.Commit(ctx))
	require.NoError(t, stmt.Execute(ctx, "insert into t values (3)", driver.Params{}))
	require.NoError(t, conn.SetAutocommit(ctx, true))
	require.NoError(t, conn.Rollback(ctx))

	require.NoError(t, stmt.Execute(ctx, "select * from t", driver.Params{}))
	assert.Equal(t, [][]any{{int64(2)}, {int64(3)}}, fetchAll(t, stmt))
}

func TestParameterErrors(t *testing.T) {
	ctx := context.Background()
	_, stmt := openStmt(t, nil, "", driver.PrecisionMicro)

	for _, tt := range []struct {
		query  string
		params driver.Params
		msg    string
	}{
		{"select ?, ?", positional(int64(1)), "2 parameters, got 1"},
		{"select :a", positional(int64(1)), "named parameters"},
		{"select :a", driver.Params{Named: map[string]any{"b": int64(1)}}, "no value for parameter :a"},
		{"select 1", positional(int64(1)), "no parameters"},
		{"select ?, :a", positional(int64(1)), "mixes"},
		{"selec 1", driver.Params{}, "unsupported statement"},
		{"select * from missing", driver.Params{}, "does not exist"},
	} {
		err := stmt.Execute(ctx, tt.query, tt.params)
		if assert.Error(t, err, tt.query) {
			assert.Contains(t, err.Error(), tt.msg, tt.query)
		}
	}
}

func TestCancelWaitFor(t *testing.T) {
	ctx := context.Background()
	_, stmt := openStmt(t, nil, "", driver.PrecisionMicro)

	// nothing in flight
	require.NoError(t, stmt.Cancel(ctx))

	done := make(chan error, 1)
	go func() {
		done <- stmt.Execute(ctx, "waitfor delay '00:01:00'", driver.Params{})
	}()

	deadline := time.After(10 * time.Second)
	for {
		require.NoError(t, stmt.Cancel(ctx))
		select {
		case err := <-done:
			require.Error(t, err)
			assert.Contains(t, err.Error(), "canceled")
			return
		case <-deadline:
			t.Fatal("execute was not canceled")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestContextCancelsWaitFor(t *testing.T) {
	_, stmt := openStmt(t, nil, "", driver.PrecisionMicro)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := stmt.Execute(ctx, "waitfor delay '00:01:00'", driver.Params{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGetInfo(t *testing.T) {
	ctx := context.Background()
	conn, _ := openStmt(t, nil, "Database=info;UID=alice;DSN=local", driver.PrecisionMicro)

	for _, key := range driver.InfoKeys() {
		typ, ok := driver.LookupInfoType(key)
		require.True(t, ok)
		_, err := conn.GetInfo(ctx, typ)
		assert.NoError(t, err, key)
	}

	v, err := conn.GetInfo(ctx, driver.InfoDatabaseName)
	require.NoError(t, err)
	assert.Equal(t, "info", v)

	v, err = conn.GetInfo(ctx, driver.InfoUserName)
	require.NoError(t, err)
	assert.Equal(t, "alice", v)

	v, err = conn.GetInfo(ctx, driver.InfoDBMSVer)
	require.NoError(t, err)
	assert.Equal(t, memdriver.Version, v)
}

func TestDatabaseSharedBetweenConnections(t *testing.T) {
	ctx := context.Background()
	d := &memdriver.Driver{}

	c1, err := d.Open(ctx, "Database=shared")
	require.NoError(t, err)
	s1, err := c1.NewStmt(ctx, driver.PrecisionMicro)
	require.NoError(t, err)
	require.NoError(t, s1.Execute(ctx, "create table t (n int); insert into t values (1)", driver.Params{}))

	c2, err := d.Open(ctx, "Database=SHARED")
	require.NoError(t, err)
	s2, err := c2.NewStmt(ctx, driver.PrecisionMicro)
	require.NoError(t, err)
	require.NoError(t, s2.Execute(ctx, "select * from t", driver.Params{}))
	assert.Equal(t, [][]any{{int64(1)}}, fetchAll(t, s2))

	require.NoError(t, s1.Close(ctx))
	require.NoError(t, s2.Close(ctx))
	require.NoError(t, c1.Close(ctx))
	require.NoError(t, c2.Close(ctx))
	require.NoError(t, c2.Close(ctx))

	// the database is gone with its last connection
	c3, err := d.Open(ctx, "Database=shared")
	require.NoError(t, err)
	defer c3.Close(ctx)
	s3, err := c3.NewStmt(ctx, driver.PrecisionMicro)
	require.NoError(t, err)
	defer s3.Close(ctx)
	assert.Error(t, s3.Execute(ctx, "select * from t", driver.Params{}))
}

func TestClosedHandles(t *testing.T) {
	ctx := context.Background()
	conn, stmt := openStmt(t, nil, "", driver.PrecisionMicro)

	require.NoError(t, conn.Close(ctx))
	assert.True(t, conn.IsClosed())
	assert.Error(t, stmt.Execute(ctx, "select 1", driver.Params{}))
	_, err := conn.NewStmt(ctx, driver.PrecisionMicro)
	assert.Error(t, err)

	require.NoError(t, stmt.Close(ctx))
	require.NoError(t, stmt.Close(ctx))
}
