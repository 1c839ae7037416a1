package zodbc

import (
	"context"

	"github.com/zodbc/zodbc/driver"
)

// QueryTracer traces Execute and ExecuteManyArrow.
type QueryTracer interface {
	// TraceQueryStart is called at the beginning of Execute and ExecuteManyArrow calls. The returned
	// context is used for the rest of the call and will be passed to TraceQueryEnd.
	TraceQueryStart(ctx context.Context, conn *Conn, data TraceQueryStartData) context.Context

	TraceQueryEnd(ctx context.Context, conn *Conn, data TraceQueryEndData)
}

type TraceQueryStartData struct {
	CursorID uint64
	SQL      string
	Args     []any
	// BulkRows is the number of rows of the bound batch for ExecuteManyArrow and zero otherwise.
	BulkRows int64
}

type TraceQueryEndData struct {
	RowCount int64
	Err      error
}

// FetchTracer traces every batch fetched from the driver.
type FetchTracer interface {
	// TraceFetchStart is called before a batch is requested from the driver. The returned context is
	// passed to TraceFetchEnd.
	TraceFetchStart(ctx context.Context, conn *Conn, data TraceFetchStartData) context.Context

	TraceFetchEnd(ctx context.Context, conn *Conn, data TraceFetchEndData)
}

type TraceFetchStartData struct {
	CursorID  uint64
	Requested int
	// Encoding is the shape the caller materializes the batch in.
	Encoding driver.RowEncoding
}

type TraceFetchEndData struct {
	Rows int64
	// Exhausted is true when the batch was shorter than requested.
	Exhausted bool
	Err       error
}

// ConnectTracer traces Connect and ConnectConfig.
type ConnectTracer interface {
	// TraceConnectStart is called at the beginning of Connect and ConnectConfig calls. The returned
	// context is used for the rest of the call and will be passed to TraceConnectEnd.
	TraceConnectStart(ctx context.Context, data TraceConnectStartData) context.Context

	TraceConnectEnd(ctx context.Context, data TraceConnectEndData)
}

type TraceConnectStartData struct {
	ConnConfig *ConnConfig
}

type TraceConnectEndData struct {
	Conn *Conn
	Err  error
}

// TxTracer traces the end of transactions through Commit, Rollback and Transact.
type TxTracer interface {
	TraceTxEnd(ctx context.Context, conn *Conn, data TraceTxEndData)
}

type TraceTxEndData struct {
	Commit bool
	Err    error
}
