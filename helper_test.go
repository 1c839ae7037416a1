package zodbc_test

import (
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"
	"github.com/zodbc/zodbc"
	"github.com/zodbc/zodbc/zodbctest"
)

var defaultConnTestRunner zodbctest.ConnTestRunner

func init() {
	defaultConnTestRunner = zodbctest.DefaultConnTestRunner()
}

func mustConnect(t testing.TB) *zodbc.Conn {
	t.Helper()
	ctx := context.Background()

	conn, err := zodbc.Connect(ctx, zodbctest.MemConnString(t))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(ctx) })
	return conn
}

func mustCursor(t testing.TB, conn *zodbc.Conn, opts ...zodbc.CursorOption) *zodbc.Cursor {
	t.Helper()
	ctx := context.Background()

	cur, err := conn.Cursor(ctx, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { cur.Close(ctx) })
	return cur
}

func mustExec(t testing.TB, cur *zodbc.Cursor, sql string, args ...any) {
	t.Helper()
	require.NoError(t, cur.Execute(context.Background(), sql, args...))
}

// seedNumbers creates table t with a single int column holding 1..n.
func seedNumbers(t testing.TB, cur *zodbc.Cursor, n int) {
	t.Helper()
	mustExec(t, cur, "create table t (n int)")
	for i := 1; i <= n; i++ {
		mustExec(t, cur, "insert into t values (?)", i)
	}
}

func int64Record(t testing.TB, name string, values ...int64) arrow.Record {
	t.Helper()

	b := array.NewRecordBuilder(memory.DefaultAllocator, arrow.NewSchema([]arrow.Field{
		{Name: name, Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	}, nil))
	defer b.Release()
	b.Field(0).(*array.Int64Builder).AppendValues(values, nil)
	rec := b.NewRecord()
	t.Cleanup(rec.Release)
	return rec
}
