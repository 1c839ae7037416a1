package sqldriver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/zodbc/zodbc/driver"
)

var errConnClosed = errors.New("connection is closed")

// Conn is a connection handle. With autocommit off a transaction is started by the first statement
// after a commit or rollback.
type Conn struct {
	drv   *Driver
	db    *sql.DB
	conn  *sql.Conn
	attrs map[string]string

	autocommit bool
	tx         *sql.Tx

	closed bool
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// querier returns the open transaction, starting one when autocommit is off.
func (c *Conn) querier(ctx context.Context) (querier, error) {
	if c.tx != nil {
		return c.tx, nil
	}
	if c.autocommit {
		return c.conn, nil
	}
	// The transaction outlives the call that starts it.
	tx, err := c.conn.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return nil, err
	}
	c.tx = tx
	return tx, nil
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
	if enabled {
		if err := c.Commit(ctx); err != nil {
			return err
		}
	}
	c.autocommit = enabled
	return nil
}

func (c *Conn) Commit(ctx context.Context) error {
	if c.closed {
		return errConnClosed
	}
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	return tx.Commit()
}

func (c *Conn) Rollback(ctx context.Context) error {
	if c.closed {
		return errConnClosed
	}
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	return tx.Rollback()
}

var staticInfo = map[driver.InfoType]string{
	driver.InfoDriverName:           "sqldriver",
	driver.InfoDriverVer:            "1.0.0",
	driver.InfoDriverODBCVer:        "03.80",
	driver.InfoDataSourceReadOnly:   "N",
	driver.InfoAccessibleProcedures: "Y",
	driver.InfoAccessibleTables:     "Y",
	driver.InfoIdentifierQuoteChar:  `"`,
	driver.InfoCatalogNameSeparator: ".",
	driver.InfoCatalogTerm:          "database",
	driver.InfoSchemaTerm:           "schema",
	driver.InfoTableTerm:            "table",
	driver.InfoProcedureTerm:        "procedure",
	driver.InfoKeywords:             "",
	driver.InfoMaxColumnNameLen:     "128",
	driver.InfoMaxIdentifierLen:     "128",
	driver.InfoMaxTableNameLen:      "128",
	driver.InfoSearchPatternEscape:  `\`,
	driver.InfoSpecialCharacters:    "",
	driver.InfoCollationSeq:         "",
}

// GetInfo answers from Driver.Info, the connection attributes, Driver.VersionQuery and a table of
// static values, in that order.
func (c *Conn) GetInfo(ctx context.Context, typ driver.InfoType) (string, error) {
	if c.closed {
		return "", errConnClosed
	}
	if v, ok := c.drv.Info[typ]; ok {
		return v, nil
	}

	switch typ {
	case driver.InfoDBMSName:
		return c.drv.DriverName, nil
	case driver.InfoDBMSVer:
		if c.drv.VersionQuery == "" {
			return "", nil
		}
		q, err := c.querier(ctx)
		if err != nil {
			return "", err
		}
		rows, err := q.QueryContext(ctx, c.drv.VersionQuery)
		if err != nil {
			return "", err
		}
		defer rows.Close()
		var version sql.NullString
		if rows.Next() {
			if err := rows.Scan(&version); err != nil {
				return "", err
			}
		}
		return version.String, rows.Err()
	case driver.InfoDatabaseName:
		return c.attrs["database"], nil
	case driver.InfoDataSourceName:
		return c.attrs["dsn"], nil
	case driver.InfoServerName:
		return c.attrs["server"], nil
	case driver.InfoUserName:
		return c.attrs["uid"], nil
	}

	if v, ok := staticInfo[typ]; ok {
		return v, nil
	}
	return "", fmt.Errorf("information type %d is not supported", uint16(typ))
}

func (c *Conn) NewStmt(ctx context.Context, precision driver.Precision) (driver.Stmt, error) {
	if c.closed {
		return nil, errConnClosed
	}
	if !precision.Valid() {
		return nil, errors.New(precision.String())
	}
	return &Stmt{conn: c, precision: precision}, nil
}

func (c *Conn) IsClosed() bool {
	return c.closed
}

// Close rolls back an open transaction and closes the underlying database.
func (c *Conn) Close(ctx context.Context) error {
	if c.closed {
		return nil
	}
	err := c.Rollback(ctx)
	c.closed = true
	err = errors.Join(err, c.conn.Close(), c.db.Close())
	return err
}
