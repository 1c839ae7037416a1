package multitracer_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zodbc/zodbc"
	"github.com/zodbc/zodbc/multitracer"
	"github.com/zodbc/zodbc/zodbctest"
)

type testFullTracer struct {
	calls []string
}

func (tt *testFullTracer) TraceQueryStart(ctx context.Context, conn *zodbc.Conn, data zodbc.TraceQueryStartData) context.Context {
	tt.calls = append(tt.calls, "QueryStart")
	return ctx
}

func (tt *testFullTracer) TraceQueryEnd(ctx context.Context, conn *zodbc.Conn, data zodbc.TraceQueryEndData) {
	tt.calls = append(tt.calls, "QueryEnd")
}

func (tt *testFullTracer) TraceFetchStart(ctx context.Context, conn *zodbc.Conn, data zodbc.TraceFetchStartData) context.Context {
	tt.calls = append(tt.calls, "FetchStart")
	return ctx
}

func (tt *testFullTracer) TraceFetchEnd(ctx context.Context, conn *zodbc.Conn, data zodbc.TraceFetchEndData) {
	tt.calls = append(tt.calls, "FetchEnd")
}

func (tt *testFullTracer) TraceConnectStart(ctx context.Context, data zodbc.TraceConnectStartData) context.Context {
	tt.calls = append(tt.calls, "ConnectStart")
	return ctx
}

func (tt *testFullTracer) TraceConnectEnd(ctx context.Context, data zodbc.TraceConnectEndData) {
	tt.calls = append(tt.calls, "ConnectEnd")
}

func (tt *testFullTracer) TraceTxEnd(ctx context.Context, conn *zodbc.Conn, data zodbc.TraceTxEndData) {
	tt.calls = append(tt.calls, "TxEnd")
}

type ctxKey string

type testFetchTracer struct {
	sawStartValue bool
}

func (tt *testFetchTracer) TraceQueryStart(ctx context.Context, conn *zodbc.Conn, data zodbc.TraceQueryStartData) context.Context {
	return ctx
}

func (tt *testFetchTracer) TraceQueryEnd(ctx context.Context, conn *zodbc.Conn, data zodbc.TraceQueryEndData) {
}

func (tt *testFetchTracer) TraceFetchStart(ctx context.Context, conn *zodbc.Conn, data zodbc.TraceFetchStartData) context.Context {
	return context.WithValue(ctx, ctxKey("fetch"), data.Requested)
}

func (tt *testFetchTracer) TraceFetchEnd(ctx context.Context, conn *zodbc.Conn, data zodbc.TraceFetchEndData) {
	if ctx.Value(ctxKey("fetch")) != nil {
		tt.sawStartValue = true
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	fullTracer := &testFullTracer{}
	fetchTracer := &testFetchTracer{}

	mt := multitracer.New(fullTracer, fetchTracer)
	require.Equal(
		t,
		&multitracer.Tracer{
			QueryTracers: []zodbc.QueryTracer{
				fullTracer,
				fetchTracer,
			},
			FetchTracers: []zodbc.FetchTracer{
				fullTracer,
				fetchTracer,
			},
			ConnectTracers: []zodbc.ConnectTracer{
				fullTracer,
			},
			TxTracers: []zodbc.TxTracer{
				fullTracer,
			},
		},
		mt,
	)
}

func TestTracerFansOut(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fullTracer := &testFullTracer{}
	fetchTracer := &testFetchTracer{}

	ctr := zodbctest.DefaultConnTestRunner()
	createConfig := ctr.CreateConfig
	ctr.CreateConfig = func(ctx context.Context, t testing.TB) *zodbc.ConnConfig {
		config := createConfig(ctx, t)
		config.Tracer = multitracer.New(fullTracer, fetchTracer)
		return config
	}

	ctr.RunTest(ctx, t, func(ctx context.Context, t testing.TB, conn *zodbc.Conn) {
		cur, err := conn.Cursor(ctx)
		require.NoError(t, err)
		defer cur.Close(ctx)

		require.NoError(t, cur.Execute(ctx, "select 1"))
		_, err = cur.FetchOne(ctx)
		require.NoError(t, err)
		require.NoError(t, conn.Commit(ctx))
	})

	require.Equal(t, []string{"ConnectStart", "ConnectEnd", "QueryStart", "QueryEnd", "FetchStart", "FetchEnd", "TxEnd"}, fullTracer.calls)
	require.True(t, fetchTracer.sawStartValue)
}
