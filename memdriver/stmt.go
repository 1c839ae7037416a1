package memdriver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/zodbc/zodbc/driver"
)

var (
	errStmtClosed  = errors.New("[memdb] statement is closed")
	errNoResultSet = errors.New("[memdb] no result set")
	errCanceled    = errors.New("[memdb] operation canceled")
)

// Stmt is a statement handle. Every result set is fully materialized when the statement executes;
// FetchBatch hands it out in zero-copy slices.
type Stmt struct {
	conn      *Conn
	precision driver.Precision

	mu sync.Mutex
	// closed by Cancel, non-nil while a call is in flight
	cancel chan struct{}

	results []*result
	pos     int
	closed  bool
}

type result struct {
	// rec is nil for statements that return no rows
	rec      arrow.Record
	offset   int64
	rowCount int64
}

func (s *Stmt) check() error {
	if s.closed {
		return errStmtClosed
	}
	if s.conn.closed {
		return errConnClosed
	}
	return nil
}

func (s *Stmt) begin() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = make(chan struct{})
	return s.cancel
}

func (s *Stmt) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = nil
}

// Cancel interrupts a WAITFOR or a multi-statement query between statements. It has no effect when no
// call is in flight.
func (s *Stmt) Cancel(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		close(s.cancel)
		s.cancel = nil
	}
	return nil
}

func (s *Stmt) resetResults() {
	for _, r := range s.results {
		if r.rec != nil {
			r.rec.Release()
		}
	}
	s.results = nil
	s.pos = 0
}

func (s *Stmt) Execute(ctx context.Context, query string, params driver.Params) error {
	if err := s.check(); err != nil {
		return err
	}
	s.resetResults()

	sc, err := parse(query)
	if err != nil {
		return fmt.Errorf("[memdb] %w", err)
	}
	b, err := bind(sc, params)
	if err != nil {
		return fmt.Errorf("[memdb] %w", err)
	}

	cancel := s.begin()
	defer s.end()

	results, err := s.newExecutor(ctx, cancel).atomically(func(e *executor) ([]*result, error) {
		return e.run(sc.stmts, b)
	})
	if err != nil {
		return s.conn.sessionError(err)
	}
	s.results = results
	return nil
}

// ExecuteArrow runs query once per row of batch. The batch columns bind the positional parameters in
// order. Either every row is applied or none is.
func (s *Stmt) ExecuteArrow(ctx context.Context, query string, batch arrow.Record) error {
	if err := s.check(); err != nil {
		return err
	}
	s.resetResults()

	sc, err := parse(query)
	if err != nil {
		return fmt.Errorf("[memdb] %w", err)
	}
	if len(sc.named) > 0 {
		return fmt.Errorf("[memdb] bulk execution requires positional parameters")
	}
	if int64(sc.positional) != batch.NumCols() {
		return fmt.Errorf("[memdb] batch has %d columns but the statement has %d parameters", batch.NumCols(), sc.positional)
	}

	cancel := s.begin()
	defer s.end()

	results, err := s.newExecutor(ctx, cancel).atomically(func(e *executor) ([]*result, error) {
		total := &result{rowCount: 0}
		row := make([]any, batch.NumCols())
		for i := 0; i < int(batch.NumRows()); i++ {
			for c := range row {
				v, err := driver.Value(batch.Column(c), i)
				if err != nil {
					return nil, fmt.Errorf("batch column %q: %w", batch.ColumnName(c), err)
				}
				row[c] = v
			}

			rs, err := e.run(sc.stmts, &bindings{positional: row})
			if err != nil {
				return nil, fmt.Errorf("batch row %d: %w", i, err)
			}
			for _, r := range rs {
				if r.rec != nil {
					r.rec.Release()
				}
				if r.rowCount > 0 {
					total.rowCount += r.rowCount
				}
			}
		}
		return []*result{total}, nil
	})
	if err != nil {
		return s.conn.sessionError(err)
	}
	s.results = results
	return nil
}

func (s *Stmt) current() *result {
	if s.pos >= len(s.results) {
		return nil
	}
	return s.results[s.pos]
}

func (s *Stmt) FetchBatch(ctx context.Context, n int) (arrow.Record, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, fmt.Errorf("[memdb] invalid batch size %d", n)
	}

	r := s.current()
	if r == nil {
		return nil, errNoResultSet
	}
	if r.rec == nil {
		return array.NewRecord(arrow.NewSchema(nil, nil), nil, 0), nil
	}

	end := min(r.offset+int64(n), r.rec.NumRows())
	batch := r.rec.NewSlice(r.offset, end)
	r.offset = end
	return batch, nil
}

func (s *Stmt) NextSet(ctx context.Context) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	if s.pos >= len(s.results) {
		return false, nil
	}

	if r := s.results[s.pos]; r.rec != nil {
		r.rec.Release()
		r.rec = nil
	}
	s.pos++
	return s.pos < len(s.results), nil
}

func (s *Stmt) RowCount(ctx context.Context) (int64, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	r := s.current()
	if r == nil {
		return -1, nil
	}
	return r.rowCount, nil
}

func (s *Stmt) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.resetResults()
	s.closed = true
	return nil
}
