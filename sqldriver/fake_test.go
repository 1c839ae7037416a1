package sqldriver_test

import (
	"context"
	"database/sql"
	sqldrv "database/sql/driver"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// fakeDB is a scripted database/sql backend. Queries must be registered before they are run.
type fakeDB struct {
	mu        sync.Mutex
	queries   map[string][]fakeSet
	execs     map[string]int64
	closeErrs map[string]error
	log       []string

	begins, commits, rollbacks int
}

type fakeSet struct {
	cols  []string
	types []string
	rows  [][]sqldrv.Value
}

var fakeDBs sync.Map

func init() {
	sql.Register("zodbcfake", fakeDriver{})
}

func newFakeDB(name string) *fakeDB {
	db := &fakeDB{queries: make(map[string][]fakeSet), execs: make(map[string]int64), closeErrs: make(map[string]error)}
	fakeDBs.Store(name, db)
	return db
}

func (db *fakeDB) record(query string, args []sqldrv.NamedValue) {
	parts := make([]string, len(args))
	for i, a := range args {
		if a.Name != "" {
			parts[i] = fmt.Sprintf("%s=%v", a.Name, a.Value)
		} else {
			parts[i] = fmt.Sprint(a.Value)
		}
	}
	sort.Strings(parts)

	db.mu.Lock()
	defer db.mu.Unlock()
	db.log = append(db.log, query+" ["+strings.Join(parts, " ")+"]")
}

func (db *fakeDB) entries() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]string(nil), db.log...)
}

type fakeDriver struct{}

func (fakeDriver) Open(dsn string) (sqldrv.Conn, error) {
	db, ok := fakeDBs.Load(dsn)
	if !ok {
		return nil, fmt.Errorf("database %q does not exist", dsn)
	}
	return &fakeConn{db: db.(*fakeDB)}, nil
}

type fakeConn struct {
	db *fakeDB
}

func (c *fakeConn) Prepare(query string) (sqldrv.Stmt, error) {
	return &fakeStmt{conn: c, query: query}, nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) Begin() (sqldrv.Tx, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	c.db.begins++
	return fakeTx{db: c.db}, nil
}

func (c *fakeConn) QueryContext(ctx context.Context, query string, args []sqldrv.NamedValue) (sqldrv.Rows, error) {
	if query == "waitfor" {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	c.db.mu.Lock()
	sets, ok := c.db.queries[query]
	closeErr := c.db.closeErrs[query]
	c.db.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unexpected query %q", query)
	}
	c.db.record(query, args)
	return &fakeRows{sets: sets, closeErr: closeErr}, nil
}

func (c *fakeConn) ExecContext(ctx context.Context, query string, args []sqldrv.NamedValue) (sqldrv.Result, error) {
	c.db.mu.Lock()
	n, ok := c.db.execs[query]
	c.db.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unexpected statement %q", query)
	}
	c.db.record(query, args)
	return sqldrv.RowsAffected(n), nil
}

type fakeTx struct {
	db *fakeDB
}

func (tx fakeTx) Commit() error {
	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	tx.db.commits++
	return nil
}

func (tx fakeTx) Rollback() error {
	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	tx.db.rollbacks++
	return nil
}

type fakeStmt struct {
	conn  *fakeConn
	query string
}

func (s *fakeStmt) Close() error  { return nil }
func (s *fakeStmt) NumInput() int { return -1 }

func (s *fakeStmt) Exec(args []sqldrv.Value) (sqldrv.Result, error) {
	named := make([]sqldrv.NamedValue, len(args))
	for i, a := range args {
		named[i] = sqldrv.NamedValue{Ordinal: i + 1, Value: a}
	}
	return s.conn.ExecContext(context.Background(), s.query, named)
}

func (s *fakeStmt) Query(args []sqldrv.Value) (sqldrv.Rows, error) {
	named := make([]sqldrv.NamedValue, len(args))
	for i, a := range args {
		named[i] = sqldrv.NamedValue{Ordinal: i + 1, Value: a}
	}
	return s.conn.QueryContext(context.Background(), s.query, named)
}

type fakeRows struct {
	sets     []fakeSet
	pos      int
	row      int
	closeErr error
}

func (r *fakeRows) Columns() []string { return r.sets[r.pos].cols }
func (r *fakeRows) Close() error      { return r.closeErr }

func (r *fakeRows) Next(dest []sqldrv.Value) error {
	set := r.sets[r.pos]
	if r.row >= len(set.rows) {
		return io.EOF
	}
	copy(dest, set.rows[r.row])
	r.row++
	return nil
}

func (r *fakeRows) HasNextResultSet() bool {
	return r.pos+1 < len(r.sets)
}

func (r *fakeRows) NextResultSet() error {
	if !r.HasNextResultSet() {
		return io.EOF
	}
	r.pos++
	r.row = 0
	return nil
}

func (r *fakeRows) ColumnTypeDatabaseTypeName(i int) string {
	return r.sets[r.pos].types[i]
}
