package zodbc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/zodbc/zodbc/driver"
)

// Conn is a session over one native connection handle. It is not safe for concurrent usage: at most
// one call may be in flight on a Conn and on all of its Cursors at any time. Cursor.Cancel is the only
// exception.
type Conn struct {
	handle driver.Conn
	config *ConnConfig

	queryTracer QueryTracer
	fetchTracer FetchTracer
	txTracer    TxTracer

	lastCursorID uint64
}

// Connect establishes a connection described by the ODBC style connString. See ParseConfig for the
// accepted syntax. A malformed connString or a driver failure is reported as a *DriverError.
func Connect(ctx context.Context, connString string) (*Conn, error) {
	connConfig, err := ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	return connect(ctx, connConfig)
}

// ConnectConfig establishes a connection with connConfig. connConfig is copied and may be reused.
func ConnectConfig(ctx context.Context, connConfig *ConnConfig) (*Conn, error) {
	return connect(ctx, connConfig.Copy())
}

func connect(ctx context.Context, config *ConnConfig) (c *Conn, err error) {
	if connectTracer, ok := config.Tracer.(ConnectTracer); ok {
		ctx = connectTracer.TraceConnectStart(ctx, TraceConnectStartData{ConnConfig: config})
		defer func() {
			connectTracer.TraceConnectEnd(ctx, TraceConnectEndData{Conn: c, Err: err})
		}()
	}

	if config.Driver == nil {
		return nil, &DriverError{Op: "connect", ConnString: config.ConnString, Err: errors.New("no driver configured")}
	}
	if config.DefaultBatchSize == 0 {
		config.DefaultBatchSize = DefaultBatchSize
	}
	if config.DefaultBatchSize < 0 {
		return nil, &InvalidArgumentError{Arg: "DefaultBatchSize", Msg: fmt.Sprintf("must be positive, got %d", config.DefaultBatchSize)}
	}
	if !config.DefaultPrecision.Valid() {
		return nil, invalidPrecisionError(config.DefaultPrecision)
	}
	if config.Allocator == nil {
		config.Allocator = memory.DefaultAllocator
	}

	handle, err := config.Driver.Open(ctx, config.ConnString)
	if err != nil {
		return nil, &DriverError{Op: "connect", ConnString: config.ConnString, Err: normalizeCtxError(ctx, err)}
	}

	c = &Conn{
		handle:      handle,
		config:      config,
		queryTracer: config.Tracer,
	}
	if t, ok := config.Tracer.(FetchTracer); ok {
		c.fetchTracer = t
	}
	if t, ok := config.Tracer.(TxTracer); ok {
		c.txTracer = t
	}

	return c, nil
}

// Config returns a copy of the config that was used to establish this connection.
func (c *Conn) Config() *ConnConfig {
	return c.config.Copy()
}

// DriverName returns the Driver attribute the connection was established with.
func (c *Conn) DriverName() string {
	return c.config.DriverName
}

// IsClosed reports if the connection has been closed by Close or lost by the driver.
func (c *Conn) IsClosed() bool {
	return c.handle == nil || c.handle.IsClosed()
}

// Close closes the connection. Closing a closed connection is a no-op. Cursors created from c become
// unusable but must still be closed to release their statement handles.
func (c *Conn) Close(ctx context.Context) error {
	if c.handle == nil {
		return nil
	}
	handle := c.handle
	c.handle = nil

	if err := handle.Close(ctx); err != nil {
		return &DriverError{Op: "close", Err: err}
	}
	return nil
}

func (c *Conn) native() (driver.Conn, error) {
	if c.IsClosed() {
		return nil, ErrConnClosed
	}
	return c.handle, nil
}

// Autocommit queries the driver for the current autocommit mode. The value is never cached, so changes
// made outside of this Conn are observed.
func (c *Conn) Autocommit(ctx context.Context) (bool, error) {
	h, err := c.native()
	if err != nil {
		return false, err
	}

	enabled, err := h.Autocommit(ctx)
	if err != nil {
		return false, &DriverError{Op: "get autocommit", Err: normalizeCtxError(ctx, err)}
	}
	return enabled, nil
}

// SetAutocommit changes the autocommit mode of the connection.
func (c *Conn) SetAutocommit(ctx context.Context, enabled bool) error {
	h, err := c.native()
	if err != nil {
		return err
	}

	if err := h.SetAutocommit(ctx, enabled); err != nil {
		return &DriverError{Op: "set autocommit", Err: normalizeCtxError(ctx, err)}
	}
	return nil
}

// Commit commits the current transaction. Under autocommit there is no transaction to end, and Commit
// succeeds or fails as the driver decides, the way ODBC SQLEndTran does; the bundled drivers succeed, which
// keeps Transact usable with autocommit on.
func (c *Conn) Commit(ctx context.Context) error {
	return c.endTx(ctx, true)
}

// Rollback rolls back the current transaction. Under autocommit it is a driver-defined no-op, like
// Commit.
func (c *Conn) Rollback(ctx context.Context) error {
	return c.endTx(ctx, false)
}

func (c *Conn) endTx(ctx context.Context, commit bool) (err error) {
	h, err := c.native()
	if err != nil {
		return err
	}

	if c.txTracer != nil {
		defer func() {
			c.txTracer.TraceTxEnd(ctx, c, TraceTxEndData{Commit: commit, Err: err})
		}()
	}

	op := "rollback"
	if commit {
		op = "commit"
		err = h.Commit(ctx)
	} else {
		err = h.Rollback(ctx)
	}
	if err != nil {
		return &DriverError{Op: op, Err: normalizeCtxError(ctx, err)}
	}
	return nil
}

// Transact calls fn inside a transaction scope. If fn returns an error or panics the transaction is
// rolled back, otherwise it is committed. The rollback is attempted even when ctx is already done, and
// a rollback failure never replaces the error returned by fn. A panic is re-raised after the rollback.
//
// Transact does not change the autocommit mode; callers that need an explicit transaction must disable
// autocommit first.
func (c *Conn) Transact(ctx context.Context, fn func(ctx context.Context, conn *Conn) error) error {
	if _, err := c.native(); err != nil {
		return err
	}

	returned := false
	defer func() {
		if returned {
			return
		}
		// fn panicked or called runtime.Goexit
		p := recover()
		_ = c.Rollback(context.WithoutCancel(ctx))
		if p != nil {
			panic(p)
		}
	}()

	err := fn(ctx, c)
	returned = true
	if err != nil {
		_ = c.Rollback(context.WithoutCancel(ctx))
		return err
	}

	return c.Commit(ctx)
}

// GetInfo returns driver or data source metadata. key is normalized to lower case with underscores, so
// "DBMS Name" and "dbms_name" are equivalent. An unknown key results in an *InvalidArgumentError whose
// message lists every valid key.
func (c *Conn) GetInfo(ctx context.Context, key string) (string, error) {
	h, err := c.native()
	if err != nil {
		return "", err
	}

	normalized := driver.NormalizeInfoKey(key)
	typ, ok := driver.LookupInfoType(normalized)
	if !ok {
		return "", &InvalidArgumentError{
			Arg:   "info key",
			Msg:   fmt.Sprintf("unknown key %q", key),
			Valid: driver.InfoKeys(),
		}
	}

	value, err := h.GetInfo(ctx, typ)
	if err != nil {
		return "", &DriverError{Op: "get info " + normalized, Err: normalizeCtxError(ctx, err)}
	}
	return value, nil
}

// ServerVersion parses the dbms_ver info value as a semantic version.
func (c *Conn) ServerVersion(ctx context.Context) (*semver.Version, error) {
	raw, err := c.GetInfo(ctx, "dbms_ver")
	if err != nil {
		return nil, err
	}

	v, err := semver.NewVersion(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("cannot parse server version %q: %w", raw, err)
	}
	return v, nil
}

// CursorOption configures a Cursor created by Conn.Cursor.
type CursorOption func(*cursorOptions)

type cursorOptions struct {
	precision driver.Precision
	batchSize int
}

// WithPrecision sets the datetime precision mode of the cursor.
func WithPrecision(p driver.Precision) CursorOption {
	return func(o *cursorOptions) {
		o.precision = p
	}
}

// WithBatchSize sets the batch size the cursor uses when it drains a result set without an explicit
// batch size.
func WithBatchSize(n int) CursorOption {
	return func(o *cursorOptions) {
		o.batchSize = n
	}
}

// Cursor allocates a new statement handle on c. The precision mode defaults to the config's
// DefaultPrecision and cannot be changed afterwards.
func (c *Conn) Cursor(ctx context.Context, opts ...CursorOption) (*Cursor, error) {
	h, err := c.native()
	if err != nil {
		return nil, err
	}

	o := cursorOptions{
		precision: c.config.DefaultPrecision,
		batchSize: c.config.DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.precision.Valid() {
		return nil, invalidPrecisionError(o.precision)
	}
	if o.batchSize <= 0 {
		return nil, invalidBatchSizeError(o.batchSize)
	}

	stmt, err := h.NewStmt(ctx, o.precision)
	if err != nil {
		return nil, &DriverError{Op: "allocate statement", Err: normalizeCtxError(ctx, err)}
	}

	c.lastCursorID++
	return &Cursor{
		conn:      c,
		stmt:      stmt,
		id:        c.lastCursorID,
		precision: o.precision,
		batchSize: o.batchSize,
		state:     CursorOpen,
		rowCount:  -1,
	}, nil
}

func invalidPrecisionError(p driver.Precision) error {
	return &InvalidArgumentError{
		Arg:   "precision",
		Msg:   fmt.Sprintf("unknown mode %d", uint8(p)),
		Valid: []string{driver.PrecisionMicro.String(), driver.PrecisionString.String(), driver.PrecisionNano.String()},
	}
}

func invalidBatchSizeError(n int) error {
	return &InvalidArgumentError{Arg: "batch size", Msg: fmt.Sprintf("must be positive, got %d", n)}
}
