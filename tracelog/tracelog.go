// Package tracelog provides a tracer that acts as a traditional logger.
package tracelog

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/zodbc/zodbc"
)

// LogLevel represents the zodbc logging level. See LogLevel* constants for
// possible values.
type LogLevel int

// The values for log levels are chosen such that the zero value means that no
// log level was specified.
const (
	LogLevelTrace = LogLevel(6)
	LogLevelDebug = LogLevel(5)
	LogLevelInfo  = LogLevel(4)
	LogLevelWarn  = LogLevel(3)
	LogLevelError = LogLevel(2)
	LogLevelNone  = LogLevel(1)
)

func (ll LogLevel) String() string {
	switch ll {
	case LogLevelTrace:
		return "trace"
	case LogLevelDebug:
		return "debug"
	case LogLevelInfo:
		return "info"
	case LogLevelWarn:
		return "warn"
	case LogLevelError:
		return "error"
	case LogLevelNone:
		return "none"
	default:
		return fmt.Sprintf("invalid level %d", ll)
	}
}

// Logger is the interface used to get log output from zodbc.
type Logger interface {
	// Log a message at the given level with data key/value pairs. data may be nil.
	Log(ctx context.Context, level LogLevel, msg string, data map[string]any)
}

// LoggerFunc is a wrapper around a function to satisfy the Logger interface.
type LoggerFunc func(ctx context.Context, level LogLevel, msg string, data map[string]any)

// Log delegates the logging request to the wrapped function.
func (f LoggerFunc) Log(ctx context.Context, level LogLevel, msg string, data map[string]any) {
	f(ctx, level, msg, data)
}

// LogLevelFromString converts log level string to constant
//
// Valid levels:
//
//	trace
//	debug
//	info
//	warn
//	error
//	none
func LogLevelFromString(s string) (LogLevel, error) {
	switch s {
	case "trace":
		return LogLevelTrace, nil
	case "debug":
		return LogLevelDebug, nil
	case "info":
		return LogLevelInfo, nil
	case "warn":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	case "none":
		return LogLevelNone, nil
	default:
		return 0, errors.New("invalid log level")
	}
}

func logQueryArgs(args []any) []any {
	logArgs := make([]any, 0, len(args))

	for _, a := range args {
		switch v := a.(type) {
		case []byte:
			if len(v) < 64 {
				a = hex.EncodeToString(v)
			} else {
				a = fmt.Sprintf("%x (truncated %d bytes)", v[:64], len(v)-64)
			}
		case string:
			if len(v) > 64 {
				l := 0
				for w := 0; l < 64; l += w {
					_, w = utf8.DecodeRuneInString(v[l:])
				}
				if len(v) > l {
					a = fmt.Sprintf("%s (truncated %d bytes)", v[:l], len(v)-l)
				}
			}
		case zodbc.NamedArgs:
			named := make(map[string]any, len(v))
			for name, arg := range v {
				named[name] = logQueryArgs([]any{arg})[0]
			}
			a = named
		case *zodbc.TVP:
			if v != nil && v.Data != nil {
				a = fmt.Sprintf("table %s (%d rows)", v.Type.Name, v.Data.NumRows())
			}
		}
		logArgs = append(logArgs, a)
	}

	return logArgs
}

// TraceLogConfig holds the configuration for key names
type TraceLogConfig struct {
	TimeKey string
}

// DefaultTraceLogConfig returns the default configuration for TraceLog
func DefaultTraceLogConfig() *TraceLogConfig {
	return &TraceLogConfig{
		TimeKey: "time",
	}
}

// TraceLog implements zodbc.QueryTracer, zodbc.FetchTracer, zodbc.ConnectTracer and zodbc.TxTracer.
// Logger and LogLevel are required. Config will be automatically initialized on the first use if nil.
//
// Failures are logged at LogLevelError, queries and connects at LogLevelInfo, fetched batches and
// transaction ends at LogLevelDebug.
type TraceLog struct {
	Logger   Logger
	LogLevel LogLevel

	Config           *TraceLogConfig
	ensureConfigOnce sync.Once
}

// ensureConfig initializes the Config field with default values if it is nil.
func (tl *TraceLog) ensureConfig() {
	tl.ensureConfigOnce.Do(
		func() {
			if tl.Config == nil {
				tl.Config = DefaultTraceLogConfig()
			}
		},
	)
}

type ctxKey int

const (
	_ ctxKey = iota
	tracelogQueryCtxKey
	tracelogFetchCtxKey
	tracelogConnectCtxKey
)

type traceQueryData struct {
	startTime time.Time
	cursorID  uint64
	sql       string
	args      []any
	bulkRows  int64
}

func (tl *TraceLog) TraceQueryStart(ctx context.Context, conn *zodbc.Conn, data zodbc.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, tracelogQueryCtxKey, &traceQueryData{
		startTime: time.Now(),
		cursorID:  data.CursorID,
		sql:       data.SQL,
		args:      data.Args,
		bulkRows:  data.BulkRows,
	})
}

func (tl *TraceLog) TraceQueryEnd(ctx context.Context, conn *zodbc.Conn, data zodbc.TraceQueryEndData) {
	tl.ensureConfig()
	queryData := ctx.Value(tracelogQueryCtxKey).(*traceQueryData)

	endTime := time.Now()
	interval := endTime.Sub(queryData.startTime)

	msg := "Execute"
	logData := map[string]any{"cursor": queryData.cursorID, "sql": queryData.sql, tl.Config.TimeKey: interval}
	if queryData.bulkRows > 0 {
		msg = "ExecuteManyArrow"
		logData["bulkRows"] = queryData.bulkRows
	} else {
		logData["args"] = logQueryArgs(queryData.args)
	}

	if data.Err != nil {
		if tl.shouldLog(LogLevelError) {
			logData["err"] = data.Err
			tl.log(ctx, conn, LogLevelError, msg, logData)
		}
		return
	}

	if tl.shouldLog(LogLevelInfo) {
		logData["rowCount"] = data.RowCount
		tl.log(ctx, conn, LogLevelInfo, msg, logData)
	}
}

type traceFetchData struct {
	startTime time.Time
	cursorID  uint64
	requested int
	encoding  string
}

func (tl *TraceLog) TraceFetchStart(ctx context.Context, conn *zodbc.Conn, data zodbc.TraceFetchStartData) context.Context {
	return context.WithValue(ctx, tracelogFetchCtxKey, &traceFetchData{
		startTime: time.Now(),
		cursorID:  data.CursorID,
		requested: data.Requested,
		encoding:  data.Encoding.String(),
	})
}

func (tl *TraceLog) TraceFetchEnd(ctx context.Context, conn *zodbc.Conn, data zodbc.TraceFetchEndData) {
	tl.ensureConfig()
	fetchData := ctx.Value(tracelogFetchCtxKey).(*traceFetchData)

	endTime := time.Now()
	interval := endTime.Sub(fetchData.startTime)

	if data.Err != nil {
		if tl.shouldLog(LogLevelError) {
			tl.log(ctx, conn, LogLevelError, "FetchBatch", map[string]any{"cursor": fetchData.cursorID, "requested": fetchData.requested, "encoding": fetchData.encoding, "err": data.Err, tl.Config.TimeKey: interval})
		}
		return
	}

	if tl.shouldLog(LogLevelDebug) {
		tl.log(ctx, conn, LogLevelDebug, "FetchBatch", map[string]any{"cursor": fetchData.cursorID, "requested": fetchData.requested, "encoding": fetchData.encoding, "rows": data.Rows, "exhausted": data.Exhausted, tl.Config.TimeKey: interval})
	}
}

type traceConnectData struct {
	startTime  time.Time
	connConfig *zodbc.ConnConfig
}

func (tl *TraceLog) TraceConnectStart(ctx context.Context, data zodbc.TraceConnectStartData) context.Context {
	return context.WithValue(ctx, tracelogConnectCtxKey, &traceConnectData{
		startTime:  time.Now(),
		connConfig: data.ConnConfig,
	})
}

func (tl *TraceLog) TraceConnectEnd(ctx context.Context, data zodbc.TraceConnectEndData) {
	tl.ensureConfig()
	connectData := ctx.Value(tracelogConnectCtxKey).(*traceConnectData)

	endTime := time.Now()
	interval := endTime.Sub(connectData.startTime)

	if data.Err != nil {
		if tl.shouldLog(LogLevelError) {
			tl.Logger.Log(ctx, LogLevelError, "Connect", map[string]any{
				"driver":          connectData.connConfig.DriverName,
				"connString":      connectData.connConfig.RedactedConnString(),
				tl.Config.TimeKey: interval,
				"err":             data.Err,
			})
		}
		return
	}

	if data.Conn != nil {
		if tl.shouldLog(LogLevelInfo) {
			tl.log(ctx, data.Conn, LogLevelInfo, "Connect", map[string]any{
				"driver":          connectData.connConfig.DriverName,
				"connString":      connectData.connConfig.RedactedConnString(),
				tl.Config.TimeKey: interval,
			})
		}
	}
}

func (tl *TraceLog) TraceTxEnd(ctx context.Context, conn *zodbc.Conn, data zodbc.TraceTxEndData) {
	msg := "Rollback"
	if data.Commit {
		msg = "Commit"
	}

	if data.Err != nil {
		if tl.shouldLog(LogLevelError) {
			tl.log(ctx, conn, LogLevelError, msg, map[string]any{"err": data.Err})
		}
		return
	}

	if tl.shouldLog(LogLevelDebug) {
		tl.log(ctx, conn, LogLevelDebug, msg, map[string]any{})
	}
}

func (tl *TraceLog) shouldLog(lvl LogLevel) bool {
	return tl.LogLevel >= lvl
}

func (tl *TraceLog) log(ctx context.Context, conn *zodbc.Conn, lvl LogLevel, msg string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}

	if conn != nil {
		if name := conn.DriverName(); name != "" {
			data["driver"] = name
		}
	}

	tl.Logger.Log(ctx, lvl, msg, data)
}
