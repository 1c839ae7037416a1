package memdriver

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/zodbc/zodbc/driver"
)

var errConnClosed = errors.New("[memdb] connection is closed")

// Conn is a connection to an in-memory database.
//
// With autocommit off the first write after a commit or rollback snapshots the database; Rollback
// restores that snapshot. Transactions are not isolated from other connections to the same database.
// With autocommit on Commit and Rollback succeed without doing anything.
type Conn struct {
	id    uuid.UUID
	drv   *Driver
	db    *database
	attrs map[string]string

	autocommit bool
	// snapshot of the tables taken at the first write of the current transaction
	snapshot map[string]*table

	closed bool
}

// ID returns the session identifier of the connection. Execution errors carry it.
func (c *Conn) ID() uuid.UUID {
	return c.id
}

func (c *Conn) sessionError(err error) error {
	return fmt.Errorf("[memdb][session %s] %w", c.id, err)
}

func (c *Conn) Autocommit(ctx context.Context) (bool, error) {
	if c.closed {
		return false, errConnClosed
	}
	return c.autocommit, nil
}

// SetAutocommit changes the autocommit mode. Turning autocommit on commits an open transaction.
func (c *Conn) SetAutocommit(ctx context.Context, enabled bool) error {
	if c.closed {
		return errConnClosed
	}
	if enabled && !c.autocommit {
		c.commit()
	}
	c.autocommit = enabled
	return nil
}

func (c *Conn) Commit(ctx context.Context) error {
	if c.closed {
		return errConnClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.commit()
	return nil
}

func (c *Conn) commit() {
	if c.snapshot == nil {
		return
	}
	releaseTables(c.snapshot)
	c.snapshot = nil
}

func (c *Conn) Rollback(ctx context.Context) error {
	if c.closed {
		return errConnClosed
	}
	if c.snapshot == nil {
		return nil
	}

	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	releaseTables(c.db.tables)
	c.db.tables = c.snapshot
	c.snapshot = nil
	return nil
}

// beginWrite must be called with db.mu held before the first change of a statement.
func (c *Conn) beginWrite() {
	if c.autocommit || c.snapshot != nil {
		return
	}
	c.snapshot = cloneTables(c.db.tables)
}

func (c *Conn) GetInfo(ctx context.Context, typ driver.InfoType) (string, error) {
	if c.closed {
		return "", errConnClosed
	}

	switch typ {
	case driver.InfoDBMSName:
		return "memdb", nil
	case driver.InfoDBMSVer:
		return Version, nil
	case driver.InfoDriverName:
		return "memdriver", nil
	case driver.InfoDriverVer:
		return Version, nil
	case driver.InfoDriverODBCVer:
		return "03.80", nil
	case driver.InfoDatabaseName:
		return c.db.name, nil
	case driver.InfoDataSourceName:
		return c.attrs["dsn"], nil
	case driver.InfoServerName:
		return "memory", nil
	case driver.InfoUserName:
		return c.attrs["uid"], nil
	case driver.InfoDataSourceReadOnly, driver.InfoAccessibleProcedures:
		return "N", nil
	case driver.InfoAccessibleTables:
		return "Y", nil
	case driver.InfoIdentifierQuoteChar:
		return `"`, nil
	case driver.InfoCatalogNameSeparator:
		return ".", nil
	case driver.InfoCatalogTerm:
		return "database", nil
	case driver.InfoSchemaTerm:
		return "schema", nil
	case driver.InfoTableTerm:
		return "table", nil
	case driver.InfoProcedureTerm:
		return "", nil
	case driver.InfoKeywords:
		return "WAITFOR", nil
	case driver.InfoMaxColumnNameLen, driver.InfoMaxIdentifierLen, driver.InfoMaxTableNameLen:
		return "128", nil
	case driver.InfoSearchPatternEscape:
		return `\`, nil
	case driver.InfoSpecialCharacters:
		return "", nil
	case driver.InfoCollationSeq:
		return "UTF-8", nil
	default:
		return "", fmt.Errorf("[memdb] information type %d is not supported", uint16(typ))
	}
}

func (c *Conn) NewStmt(ctx context.Context, precision driver.Precision) (driver.Stmt, error) {
	if c.closed {
		return nil, errConnClosed
	}
	if !precision.Valid() {
		return nil, fmt.Errorf("[memdb] %s", precision)
	}

	return &Stmt{conn: c, precision: precision}, nil
}

func (c *Conn) IsClosed() bool {
	return c.closed
}

// Close rolls back an open transaction and releases the database when this was its last connection.
func (c *Conn) Close(ctx context.Context) error {
	if c.closed {
		return nil
	}
	if err := c.Rollback(ctx); err != nil {
		return err
	}
	c.closed = true
	c.drv.releaseDB(c.db)
	return nil
}
