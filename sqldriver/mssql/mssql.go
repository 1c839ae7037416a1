// Package mssql registers a SQL Server driver backed by github.com/microsoft/go-mssqldb.
//
// Importing the package for its side effects makes "sqlserver" and "ODBC Driver 18 for SQL Server"
// available as the Driver attribute of a connection string:
//
//	import _ "github.com/zodbc/zodbc/sqldriver/mssql"
//
//	conn, err := zodbc.Connect(ctx, "Driver={ODBC Driver 18 for SQL Server};Server=db;UID=sa;PWD=secret")
//
// Table-valued parameters are sent as mssql.TVP values.
package mssql

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/google/uuid"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/shopspring/decimal"
	"github.com/zodbc/zodbc/driver"
	"github.com/zodbc/zodbc/sqldriver"
)

const (
	DriverName     = "sqlserver"
	ODBCDriverName = "ODBC Driver 18 for SQL Server"
)

func init() {
	d := New()
	driver.Register(DriverName, d)
	driver.Register(ODBCDriverName, d)
}

// New returns a driver for SQL Server.
func New() *sqldriver.Driver {
	return &sqldriver.Driver{
		DriverName:   "sqlserver",
		DSN:          sqldriver.ODBCDSN,
		BindTable:    BindTable,
		ScanValue:    ScanValue,
		VersionQuery: "SELECT CAST(SERVERPROPERTY('ProductVersion') AS nvarchar(128))",
		Info: map[driver.InfoType]string{
			driver.InfoDBMSName:            "Microsoft SQL Server",
			driver.InfoDriverName:          "go-mssqldb",
			driver.InfoIdentifierQuoteChar: `"`,
			driver.InfoSchemaTerm:          "schema",
			driver.InfoProcedureTerm:       "stored procedure",
			driver.InfoSpecialCharacters:   "#$@",
			driver.InfoSearchPatternEscape: `\`,
			driver.InfoCollationSeq:        "",
		},
	}
}

// ScanValue converts UNIQUEIDENTIFIER columns, which go-mssqldb returns in wire byte order, into
// uuid.UUID.
func ScanValue(typeName string, v any) (any, error) {
	b, ok := v.([]byte)
	if !ok || !strings.EqualFold(typeName, "UNIQUEIDENTIFIER") {
		return v, nil
	}
	var u mssql.UniqueIdentifier
	if err := u.Scan(b); err != nil {
		return nil, err
	}
	return uuid.UUID(u), nil
}

// BindTable converts a table-valued parameter into an mssql.TVP. The rows are copied into a slice of
// a struct type built from the record schema, one pointer field per column so that nulls survive.
func BindTable(tv driver.TableValue) (any, error) {
	rec := tv.Record()
	if rec == nil {
		return nil, fmt.Errorf("table-valued parameter %s has no data", tv.TableTypeName())
	}

	fields := make([]reflect.StructField, rec.NumCols())
	converters := make([]func(any) (any, error), rec.NumCols())
	for i, f := range rec.Schema().Fields() {
		typ, conv, err := tvpColumn(f.Type)
		if err != nil {
			return nil, fmt.Errorf("table-valued parameter %s column %q: %w", tv.TableTypeName(), f.Name, err)
		}
		fields[i] = reflect.StructField{Name: fmt.Sprintf("C%d", i), Type: typ}
		converters[i] = conv
	}

	rowType := reflect.StructOf(fields)
	rows := reflect.MakeSlice(reflect.SliceOf(rowType), int(rec.NumRows()), int(rec.NumRows()))
	for r := 0; r < int(rec.NumRows()); r++ {
		row := rows.Index(r)
		for c := range fields {
			v, err := driver.Value(rec.Column(c), r)
			if err != nil {
				return nil, err
			}
			if v == nil {
				continue
			}
			v, err = converters[c](v)
			if err != nil {
				return nil, fmt.Errorf("table-valued parameter %s row %d column %q: %w", tv.TableTypeName(), r, rec.ColumnName(c), err)
			}
			field := row.Field(c)
			if field.Kind() == reflect.Ptr {
				p := reflect.New(field.Type().Elem())
				p.Elem().Set(reflect.ValueOf(v))
				field.Set(p)
			} else {
				field.Set(reflect.ValueOf(v))
			}
		}
	}

	return mssql.TVP{TypeName: tv.TableTypeName(), Value: rows.Interface()}, nil
}

var (
	boolPtr    = reflect.TypeOf((*bool)(nil))
	int64Ptr   = reflect.TypeOf((*int64)(nil))
	float64Ptr = reflect.TypeOf((*float64)(nil))
	stringPtr  = reflect.TypeOf((*string)(nil))
	timePtr    = reflect.TypeOf((*time.Time)(nil))
	bytesType  = reflect.TypeOf([]byte(nil))
)

func tvpColumn(typ arrow.DataType) (reflect.Type, func(any) (any, error), error) {
	switch typ.ID() {
	case arrow.BOOL:
		return boolPtr, identity, nil
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64, arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		return int64Ptr, toInt64, nil
	case arrow.FLOAT16, arrow.FLOAT32, arrow.FLOAT64:
		return float64Ptr, identity, nil
	case arrow.STRING, arrow.LARGE_STRING, arrow.DECIMAL128, arrow.TIME32, arrow.TIME64, arrow.EXTENSION:
		return stringPtr, toString, nil
	case arrow.BINARY, arrow.LARGE_BINARY, arrow.FIXED_SIZE_BINARY:
		return bytesType, identity, nil
	case arrow.TIMESTAMP, arrow.DATE32, arrow.DATE64:
		return timePtr, identity, nil
	default:
		return nil, nil, fmt.Errorf("unsupported type %s", typ)
	}
}

func identity(v any) (any, error) { return v, nil }

func toInt64(v any) (any, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case uint64:
		if x > math.MaxInt64 {
			return nil, fmt.Errorf("%d out of range", x)
		}
		return int64(x), nil
	default:
		return nil, fmt.Errorf("unexpected %T", v)
	}
}

func toString(v any) (any, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case decimal.Decimal:
		return x.String(), nil
	case uuid.UUID:
		return x.String(), nil
	case time.Duration:
		return time.Time{}.Add(x).Format("15:04:05.9999999"), nil
	case time.Time:
		return x.Format("15:04:05.9999999"), nil
	default:
		return fmt.Sprint(v), nil
	}
}
