// Package sqldriver implements the driver boundary on top of database/sql.
//
// Each connection pins a single *sql.Conn of its own *sql.DB so that transaction state and session
// settings survive between calls. Rows are read with database/sql and appended to an Arrow record
// builder whose schema is derived from the column types the underlying driver reports.
//
// A Driver is configured for a particular database/sql driver and registered with driver.Register, as
// sqldriver/mssql does for SQL Server:
//
//	driver.Register("sqlserver", &sqldriver.Driver{
//		DriverName: "sqlserver",
//		DSN:        sqldriver.ODBCDSN,
//	})
package sqldriver

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/zodbc/zodbc/driver"
)

// Driver opens connections through the database/sql driver registered as DriverName.
type Driver struct {
	// DriverName is the database/sql driver name.
	DriverName string

	// DSN builds the data source name handed to sql.Open from the connection string and its parsed
	// attributes. nil passes the connection string unchanged.
	DSN func(connString string, attrs map[string]string) (string, error)

	// BindTable converts a table-valued parameter into a value the database/sql driver accepts. nil
	// rejects table-valued parameters.
	BindTable func(tv driver.TableValue) (any, error)

	// ScanValue converts a value scanned from a column whose database type name is typeName before it
	// is appended to a record. nil keeps the value as scanned.
	ScanValue func(typeName string, v any) (any, error)

	// VersionQuery returns the server version as a single value. It answers dbms_ver.
	VersionQuery string

	// Info overrides or extends the static info values.
	Info map[driver.InfoType]string

	// Allocator is used for every Arrow buffer the driver allocates. nil means memory.DefaultAllocator.
	Allocator memory.Allocator
}

// ODBCDSN passes the connection string minus its Driver attribute in the "odbc:" form understood by
// drivers that parse ODBC connection strings themselves.
func ODBCDSN(connString string, attrs map[string]string) (string, error) {
	var parts []string
	for _, part := range splitAttributes(connString) {
		key, _, _ := strings.Cut(part, "=")
		if strings.EqualFold(strings.TrimSpace(key), "driver") {
			continue
		}
		parts = append(parts, part)
	}
	return "odbc:" + strings.Join(parts, ";"), nil
}

// splitAttributes splits s on semicolons outside of braces.
func splitAttributes(s string) []string {
	var parts []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
		case ';':
			if depth == 0 {
				if part := strings.TrimSpace(s[start:i]); part != "" {
					parts = append(parts, part)
				}
				start = i + 1
			}
		}
	}
	if part := strings.TrimSpace(s[start:]); part != "" {
		parts = append(parts, part)
	}
	return parts
}

// Open connects through the configured database/sql driver. The Autocommit attribute selects the
// initial autocommit mode.
func (d *Driver) Open(ctx context.Context, connString string) (driver.Conn, error) {
	attrs, err := driver.ParseConnString(connString)
	if err != nil {
		return nil, err
	}

	autocommit := true
	if v, ok := attrs["autocommit"]; ok {
		switch strings.ToLower(v) {
		case "on", "yes", "true", "1":
		case "off", "no", "false", "0":
			autocommit = false
		default:
			return nil, fmt.Errorf("invalid Autocommit value %q", v)
		}
	}

	dsn := connString
	if d.DSN != nil {
		dsn, err = d.DSN(connString, attrs)
		if err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(d.DriverName, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Conn{
		drv:        d,
		db:         db,
		conn:       conn,
		attrs:      attrs,
		autocommit: autocommit,
	}, nil
}

func (d *Driver) allocator() memory.Allocator {
	if d.Allocator == nil {
		return memory.DefaultAllocator
	}
	return d.Allocator
}
