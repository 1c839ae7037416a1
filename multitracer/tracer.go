// Package multitracer provides a Tracer that can combine several tracers into one.
package multitracer

import (
	"context"

	"github.com/zodbc/zodbc"
)

// Tracer can combine several tracers into one.
// You can use New to automatically split tracers by interface.
type Tracer struct {
	QueryTracers   []zodbc.QueryTracer
	FetchTracers   []zodbc.FetchTracer
	ConnectTracers []zodbc.ConnectTracer
	TxTracers      []zodbc.TxTracer
}

// New returns new Tracer from tracers with automatically split tracers by interface.
func New(tracers ...zodbc.QueryTracer) *Tracer {
	var t Tracer

	for i := range tracers {
		t.QueryTracers = append(t.QueryTracers, tracers[i])

		if fetchTracer, ok := tracers[i].(zodbc.FetchTracer); ok {
			t.FetchTracers = append(t.FetchTracers, fetchTracer)
		}

		if connectTracer, ok := tracers[i].(zodbc.ConnectTracer); ok {
			t.ConnectTracers = append(t.ConnectTracers, connectTracer)
		}

		if txTracer, ok := tracers[i].(zodbc.TxTracer); ok {
			t.TxTracers = append(t.TxTracers, txTracer)
		}
	}

	return &t
}

func (t *Tracer) TraceQueryStart(ctx context.Context, conn *zodbc.Conn, data zodbc.TraceQueryStartData) context.Context {
	for i := range t.QueryTracers {
		ctx = t.QueryTracers[i].TraceQueryStart(ctx, conn, data)
	}

	return ctx
}

func (t *Tracer) TraceQueryEnd(ctx context.Context, conn *zodbc.Conn, data zodbc.TraceQueryEndData) {
	for i := range t.QueryTracers {
		t.QueryTracers[i].TraceQueryEnd(ctx, conn, data)
	}
}

func (t *Tracer) TraceFetchStart(ctx context.Context, conn *zodbc.Conn, data zodbc.TraceFetchStartData) context.Context {
	for i := range t.FetchTracers {
		ctx = t.FetchTracers[i].TraceFetchStart(ctx, conn, data)
	}

	return ctx
}

func (t *Tracer) TraceFetchEnd(ctx context.Context, conn *zodbc.Conn, data zodbc.TraceFetchEndData) {
	for i := range t.FetchTracers {
		t.FetchTracers[i].TraceFetchEnd(ctx, conn, data)
	}
}

func (t *Tracer) TraceConnectStart(ctx context.Context, data zodbc.TraceConnectStartData) context.Context {
	for i := range t.ConnectTracers {
		ctx = t.ConnectTracers[i].TraceConnectStart(ctx, data)
	}

	return ctx
}

func (t *Tracer) TraceConnectEnd(ctx context.Context, data zodbc.TraceConnectEndData) {
	for i := range t.ConnectTracers {
		t.ConnectTracers[i].TraceConnectEnd(ctx, data)
	}
}

func (t *Tracer) TraceTxEnd(ctx context.Context, conn *zodbc.Conn, data zodbc.TraceTxEndData) {
	for i := range t.TxTracers {
		t.TxTracers[i].TraceTxEnd(ctx, conn, data)
	}
}
