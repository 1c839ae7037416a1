// Package memdriver is an in-memory implementation of the driver boundary.
//
// Tables live in named databases that exist while at least one connection to them is open. The
// statement engine understands a small SQL dialect:
//
//	CREATE TABLE t (col type, ...)
//	DROP TABLE [IF EXISTS] t
//	INSERT INTO t [(col, ...)] VALUES (expr, ...)[, (expr, ...)]
//	INSERT INTO t [(col, ...)] SELECT ...
//	SELECT * | col, ... FROM t | ?
//	SELECT expr [AS alias], ...
//	DELETE FROM t
//	WAITFOR DELAY 'hh:mm:ss'
//
// Expressions are literals, NULL, TRUE, FALSE, CAST(expr AS type) and parameters written as ?, :name
// or @name. Statements are separated by semicolons and each produces its own result set.
//
// The driver registers itself as "memdb":
//
//	conn, err := zodbc.Connect(ctx, "Driver=memdb;Database=scratch")
package memdriver

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/gofrs/uuid"
	"github.com/zodbc/zodbc/driver"
)

const (
	// DriverName is the name the driver is registered under.
	DriverName = "memdb"

	// Version is reported as both the DBMS and the driver version.
	Version = "1.0.0"
)

const defaultDatabase = "main"

func init() {
	driver.Register(DriverName, &Driver{})
}

// Driver opens connections to in-memory databases. The zero value is ready to use. Databases are only
// shared between connections opened through the same Driver.
type Driver struct {
	// Allocator is used for every Arrow buffer the driver allocates. nil means memory.DefaultAllocator.
	Allocator memory.Allocator

	mu  sync.Mutex
	dbs map[string]*database
}

// Open connects to the database named by the Database attribute of connString, creating it when it does
// not exist. Recognized attributes are Database, Server (which must name the local machine), UID, DSN
// and Autocommit.
func (d *Driver) Open(ctx context.Context, connString string) (driver.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	attrs, err := driver.ParseConnString(connString)
	if err != nil {
		return nil, err
	}

	switch server := strings.ToLower(attrs["server"]); server {
	case "", "memory", "localhost", "(local)", ".":
	default:
		return nil, fmt.Errorf("[memdb] server %q is unreachable", attrs["server"])
	}

	autocommit := true
	if v, ok := attrs["autocommit"]; ok {
		switch strings.ToLower(v) {
		case "on", "yes", "true", "1":
		case "off", "no", "false", "0":
			autocommit = false
		default:
			return nil, fmt.Errorf("[memdb] invalid Autocommit value %q", v)
		}
	}

	name := attrs["database"]
	if name == "" {
		name = defaultDatabase
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}

	return &Conn{
		id:         id,
		drv:        d,
		db:         d.acquire(name),
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

func (d *Driver) acquire(name string) *database {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := strings.ToLower(name)
	if d.dbs == nil {
		d.dbs = make(map[string]*database)
	}
	db, ok := d.dbs[key]
	if !ok {
		db = &database{name: name, tables: make(map[string]*table)}
		d.dbs[key] = db
	}
	db.refs++
	return db
}

func (d *Driver) releaseDB(db *database) {
	d.mu.Lock()
	defer d.mu.Unlock()

	db.refs--
	if db.refs > 0 {
		return
	}
	delete(d.dbs, strings.ToLower(db.name))

	db.mu.Lock()
	defer db.mu.Unlock()
	releaseTables(db.tables)
	db.tables = nil
}

type database struct {
	name string
	refs int

	mu     sync.Mutex
	tables map[string]*table
}

// table data is a list of immutable record chunks, one per insert.
type table struct {
	name   string
	schema *arrow.Schema
	chunks []arrow.Record
}

func (t *table) numRows() int64 {
	var n int64
	for _, c := range t.chunks {
		n += c.NumRows()
	}
	return n
}

func (t *table) clone() *table {
	chunks := make([]arrow.Record, len(t.chunks))
	for i, c := range t.chunks {
		c.Retain()
		chunks[i] = c
	}
	return &table{name: t.name, schema: t.schema, chunks: chunks}
}

func (t *table) release() {
	for _, c := range t.chunks {
		c.Release()
	}
	t.chunks = nil
}

func cloneTables(tables map[string]*table) map[string]*table {
	clone := make(map[string]*table, len(tables))
	for k, t := range tables {
		clone[k] = t.clone()
	}
	return clone
}

func releaseTables(tables map[string]*table) {
	for _, t := range tables {
		t.release()
	}
}
