// Package driver defines the native driver boundary consumed by zodbc.
//
// A driver exposes opaque connection and statement handles. Everything that leaves a statement does so
// through FetchBatch as an Arrow record; row oriented views are built on top of it by the zodbc package.
// Implementations are not required to be safe for concurrent use except for Stmt.Cancel, which may be
// called while another goroutine is blocked in a call on the same statement.
package driver

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// Driver opens native connections.
type Driver interface {
	// Open establishes a connection described by connString. connString is the complete ODBC style
	// connection string as given by the caller.
	Open(ctx context.Context, connString string) (Conn, error)
}

// Conn is a native connection handle.
type Conn interface {
	Autocommit(ctx context.Context) (bool, error)
	SetAutocommit(ctx context.Context, enabled bool) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// GetInfo returns the driver or data source attribute identified by typ.
	GetInfo(ctx context.Context, typ InfoType) (string, error)

	// NewStmt allocates a statement handle. precision controls how timestamps with more than
	// microsecond precision are materialized by FetchBatch.
	NewStmt(ctx context.Context, precision Precision) (Stmt, error)

	IsClosed() bool

	// Close releases the handle. Closing a closed Conn is a no-op.
	Close(ctx context.Context) error
}

// Stmt is a native statement handle.
type Stmt interface {
	// Execute runs query with params. A query may contain several statements, each producing its own
	// result set.
	Execute(ctx context.Context, query string, params Params) error

	// ExecuteArrow runs query once per row of batch, binding the columns of batch as parameters in
	// order. The batch is only borrowed for the duration of the call.
	ExecuteArrow(ctx context.Context, query string, batch arrow.Record) error

	// FetchBatch returns at most n rows of the current result set. A record with fewer than n rows
	// means the result set is exhausted. The caller owns the returned record.
	FetchBatch(ctx context.Context, n int) (arrow.Record, error)

	// NextSet advances to the next result set and reports whether there was one.
	NextSet(ctx context.Context) (bool, error)

	// Cancel requests cancellation of the in-flight call. It may block until that call returns.
	Cancel(ctx context.Context) error

	// RowCount returns the rows affected by the last statement or -1 when unknown.
	RowCount(ctx context.Context) (int64, error)

	// Close releases the handle. Closing a closed Stmt is a no-op.
	Close(ctx context.Context) error
}

// Params is the canonical parameter representation handed to Stmt.Execute. At most one of Positional
// and Named is non-nil. Values are nil, bool, int64, uint64, float64, string, []byte, time.Time,
// time.Duration, decimal.Decimal, uuid.UUID or a TableValue.
type Params struct {
	Positional []any
	Named      map[string]any
}

// Len returns the number of parameters.
func (p Params) Len() int {
	if p.Named != nil {
		return len(p.Named)
	}
	return len(p.Positional)
}

// IsNamed reports whether the parameters are bound by name.
func (p Params) IsNamed() bool {
	return p.Named != nil
}

// TableValue is a table-valued parameter. Drivers read its rows during the call it is bound to and do
// not release the record.
type TableValue interface {
	// TableTypeName is the qualified name of the table type, "schema.table" or "table".
	TableTypeName() string
	Record() arrow.Record
}

// Precision controls the materialization of sub-microsecond temporal values.
type Precision uint8

const (
	// PrecisionMicro truncates timestamps to microseconds.
	PrecisionMicro Precision = iota
	// PrecisionString returns timestamps as ISO-8601 strings carrying every digit the server sent.
	PrecisionString
	// PrecisionNano returns timestamps with nanosecond resolution.
	PrecisionNano
)

func (p Precision) String() string {
	switch p {
	case PrecisionMicro:
		return "micro"
	case PrecisionString:
		return "string"
	case PrecisionNano:
		return "nano"
	default:
		return fmt.Sprintf("invalid precision %d", uint8(p))
	}
}

// Valid reports whether p is one of the defined precision modes.
func (p Precision) Valid() bool {
	return p <= PrecisionNano
}

// TimestampType returns the Arrow type used for timestamp columns under p.
func (p Precision) TimestampType() arrow.DataType {
	switch p {
	case PrecisionNano:
		return &arrow.TimestampType{Unit: arrow.Nanosecond}
	case PrecisionString:
		return arrow.BinaryTypes.String
	default:
		return &arrow.TimestampType{Unit: arrow.Microsecond}
	}
}

// RowEncoding identifies the shape rows are materialized in. EncodingArrow means the batches are handed to
// the caller as they are.
type RowEncoding uint8

const (
	EncodingArrow RowEncoding = iota
	EncodingTuples
	EncodingDicts
	EncodingNamed
)

func (e RowEncoding) String() string {
	switch e {
	case EncodingArrow:
		return "arrow"
	case EncodingTuples:
		return "tuples"
	case EncodingDicts:
		return "dicts"
	case EncodingNamed:
		return "named"
	default:
		return fmt.Sprintf("invalid encoding %d", uint8(e))
	}
}
