package zodbc

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrConnClosed occurs when an operation is attempted on a closed Conn or on a Cursor whose Conn is
	// closed.
	ErrConnClosed = &InvalidStateError{Msg: "connection closed"}

	// ErrCursorClosed occurs when an operation is attempted on a closed Cursor.
	ErrCursorClosed = &InvalidStateError{Msg: "cursor closed"}

	// ErrNoResultSet occurs when rows are fetched from a Cursor that has not executed anything.
	ErrNoResultSet = &InvalidStateError{Msg: "no result set, execute a statement first"}

	// ErrNoRows is returned by FetchOne and FetchVal when the result set has no more rows.
	ErrNoRows = errors.New("no rows in result set")
)

// DriverError is a connection level failure: connect, autocommit, commit, rollback or info lookup. The
// Conn that produced it should generally be considered unusable.
type DriverError struct {
	Op         string
	ConnString string
	Err        error
}

func (e *DriverError) Error() string {
	sb := &strings.Builder{}
	sb.WriteString(e.Op)
	if e.ConnString != "" {
		fmt.Fprintf(sb, " `%s`", redactPW(e.ConnString))
	}
	sb.WriteString(" failed")
	if e.Err != nil {
		fmt.Fprintf(sb, ": %s", e.Err.Error())
	}
	return sb.String()
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

// QueryError is an execution failure such as invalid SQL, a parameter arity or type mismatch, or a
// schema mismatch in a bulk bind. The Cursor remains usable for another Execute.
type QueryError struct {
	SQL string
	Err error
}

func (e *QueryError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("query failed: %s", e.SQL)
	}
	return fmt.Sprintf("query failed: %s: %s", e.SQL, e.Err.Error())
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// InvalidStateError is a programming error: the object is closed or holds no result set.
type InvalidStateError struct {
	Msg string
}

func (e *InvalidStateError) Error() string {
	return "invalid state: " + e.Msg
}

// InvalidArgumentError reports malformed input. When Valid is set the message lists every accepted
// value.
type InvalidArgumentError struct {
	Arg   string
	Msg   string
	Valid []string
}

func (e *InvalidArgumentError) Error() string {
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "invalid argument %s: %s", e.Arg, e.Msg)
	if len(e.Valid) > 0 {
		fmt.Fprintf(sb, " (valid: %s)", strings.Join(e.Valid, ", "))
	}
	return sb.String()
}

// normalizeCtxError prefers the context error when the driver call failed because ctx was done.
func normalizeCtxError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}

var (
	bracedPW = regexp.MustCompile(`(?i)\b(pwd|password)\s*=\s*\{(?:[^}]|\}\})*\}`)
	plainPW  = regexp.MustCompile(`(?i)\b(pwd|password)\s*=\s*[^;{][^;]*`)
)

func redactPW(connString string) string {
	connString = bracedPW.ReplaceAllString(connString, "$1=xxxxx")
	return plainPW.ReplaceAllString(connString, "$1=xxxxx")
}
