package driver

import (
	"bytes"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/decimal128"
	"github.com/apache/arrow-go/v18/arrow/extensions"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TimestampLayout is the ISO-8601 layout of timestamps materialized as text under PrecisionString. It
// keeps all nine fractional digits.
const TimestampLayout = "2006-01-02T15:04:05.000000000"

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05.999999999"
)

// Value returns cell i of arr as a Go value: nil, bool, int64, uint64, float64, string, []byte,
// time.Time, time.Duration, decimal.Decimal or uuid.UUID. The value does not share memory with arr.
func Value(arr arrow.Array, i int) (any, error) {
	if arr.IsNull(i) {
		return nil, nil
	}

	switch a := arr.(type) {
	case *array.Boolean:
		return a.Value(i), nil
	case *array.Int8:
		return int64(a.Value(i)), nil
	case *array.Int16:
		return int64(a.Value(i)), nil
	case *array.Int32:
		return int64(a.Value(i)), nil
	case *array.Int64:
		return a.Value(i), nil
	case *array.Uint8:
		return uint64(a.Value(i)), nil
	case *array.Uint16:
		return uint64(a.Value(i)), nil
	case *array.Uint32:
		return uint64(a.Value(i)), nil
	case *array.Uint64:
		return a.Value(i), nil
	case *array.Float16:
		return float64(a.Value(i).Float32()), nil
	case *array.Float32:
		return float64(a.Value(i)), nil
	case *array.Float64:
		return a.Value(i), nil
	case *array.String:
		return strings.Clone(a.Value(i)), nil
	case *array.LargeString:
		return strings.Clone(a.Value(i)), nil
	case *array.Binary:
		return bytes.Clone(a.Value(i)), nil
	case *array.LargeBinary:
		return bytes.Clone(a.Value(i)), nil
	case *extensions.UUIDArray:
		return a.Value(i), nil
	case *array.FixedSizeBinary:
		return bytes.Clone(a.Value(i)), nil
	case *array.Date32:
		return a.Value(i).ToTime(), nil
	case *array.Date64:
		return a.Value(i).ToTime(), nil
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return a.Value(i).ToTime(unit), nil
	case *array.Time32:
		unit := a.DataType().(*arrow.Time32Type).Unit
		return time.Duration(a.Value(i)) * unit.Multiplier(), nil
	case *array.Time64:
		unit := a.DataType().(*arrow.Time64Type).Unit
		return time.Duration(a.Value(i)) * unit.Multiplier(), nil
	case *array.Duration:
		unit := a.DataType().(*arrow.DurationType).Unit
		return time.Duration(a.Value(i)) * unit.Multiplier(), nil
	case *array.Decimal128:
		scale := a.DataType().(*arrow.Decimal128Type).Scale
		return decimal.NewFromBigInt(a.Value(i).BigInt(), -scale), nil
	case *array.Dictionary:
		return Value(a.Dictionary(), a.GetValueIndex(i))
	case array.ExtensionArray:
		return Value(a.Storage(), i)
	default:
		return nil, fmt.Errorf("unsupported column type %s", arr.DataType())
	}
}

// TypeOf returns the Arrow type a value of v's Go type is materialized as. nil maps to the null type.
func TypeOf(v any) (arrow.DataType, error) {
	switch x := v.(type) {
	case nil:
		return arrow.Null, nil
	case bool:
		return arrow.FixedWidthTypes.Boolean, nil
	case int64:
		return arrow.PrimitiveTypes.Int64, nil
	case uint64:
		return arrow.PrimitiveTypes.Uint64, nil
	case float64:
		return arrow.PrimitiveTypes.Float64, nil
	case string:
		return arrow.BinaryTypes.String, nil
	case []byte:
		return arrow.BinaryTypes.Binary, nil
	case time.Time:
		return &arrow.TimestampType{Unit: arrow.Nanosecond}, nil
	case time.Duration:
		return arrow.FixedWidthTypes.Time64ns, nil
	case decimal.Decimal:
		scale := int32(0)
		if x.Exponent() < 0 {
			scale = -x.Exponent()
		}
		return &arrow.Decimal128Type{Precision: 38, Scale: scale}, nil
	case uuid.UUID:
		return extensions.NewUUIDType(), nil
	default:
		return nil, fmt.Errorf("no arrow type for %T", v)
	}
}

// ParseTypeName maps an SQL column type such as "varchar(20)" or "decimal(10, 2)" to an Arrow type.
// Timestamps map to nanosecond resolution; Precision.TimestampType decides how they are returned.
func ParseTypeName(name string) (arrow.DataType, error) {
	base := strings.ToLower(strings.TrimSpace(name))
	var args []int32
	if open := strings.IndexByte(base, '('); open >= 0 {
		if !strings.HasSuffix(base, ")") {
			return nil, fmt.Errorf("malformed type %q", name)
		}
		for _, s := range strings.Split(base[open+1:len(base)-1], ",") {
			s = strings.TrimSpace(s)
			if s == "max" {
				continue
			}
			n, err := strconv.ParseInt(s, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("malformed type %q: %w", name, err)
			}
			args = append(args, int32(n))
		}
		base = strings.TrimSpace(base[:open])
	}

	switch base {
	case "bigint":
		return arrow.PrimitiveTypes.Int64, nil
	case "int", "integer":
		return arrow.PrimitiveTypes.Int32, nil
	case "smallint":
		return arrow.PrimitiveTypes.Int16, nil
	case "tinyint":
		return arrow.PrimitiveTypes.Uint8, nil
	case "bit", "bool", "boolean":
		return arrow.FixedWidthTypes.Boolean, nil
	case "real":
		return arrow.PrimitiveTypes.Float32, nil
	case "float", "double", "double precision":
		return arrow.PrimitiveTypes.Float64, nil
	case "char", "varchar", "nchar", "nvarchar", "text", "ntext", "string", "xml":
		return arrow.BinaryTypes.String, nil
	case "binary", "varbinary", "blob", "image", "bytea":
		return arrow.BinaryTypes.Binary, nil
	case "date":
		return arrow.FixedWidthTypes.Date32, nil
	case "time":
		return arrow.FixedWidthTypes.Time64ns, nil
	case "datetime", "datetime2", "smalldatetime", "datetimeoffset", "timestamp":
		return &arrow.TimestampType{Unit: arrow.Nanosecond}, nil
	case "decimal", "numeric":
		precision, scale := int32(18), int32(0)
		if len(args) > 0 {
			precision = args[0]
		}
		if len(args) > 1 {
			scale = args[1]
		}
		if precision < 1 || precision > 38 || scale < 0 || scale > precision {
			return nil, fmt.Errorf("invalid decimal precision %d and scale %d", precision, scale)
		}
		return &arrow.Decimal128Type{Precision: precision, Scale: scale}, nil
	case "money":
		return &arrow.Decimal128Type{Precision: 19, Scale: 4}, nil
	case "smallmoney":
		return &arrow.Decimal128Type{Precision: 10, Scale: 4}, nil
	case "uniqueidentifier", "uuid":
		return extensions.NewUUIDType(), nil
	default:
		return nil, fmt.Errorf("unknown type %q", name)
	}
}

// AppendValue appends v to b, converting it to the builder's type. v is expected to be one of the
// values returned by Value or accepted as a parameter. Strings are parsed for temporal, decimal and
// uuid columns. Values that cannot be represented exactly are rejected.
func AppendValue(b array.Builder, v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}

	switch b := b.(type) {
	case *array.NullBuilder:
		return fmt.Errorf("cannot store %T in a null column", v)
	case *array.BooleanBuilder:
		switch x := v.(type) {
		case bool:
			b.Append(x)
			return nil
		case int64:
			if x == 0 || x == 1 {
				b.Append(x == 1)
				return nil
			}
		case string:
			p, err := strconv.ParseBool(x)
			if err != nil {
				return err
			}
			b.Append(p)
			return nil
		}
	case *array.Int8Builder:
		n, err := toInt(v, math.MinInt8, math.MaxInt8)
		if err != nil {
			return err
		}
		b.Append(int8(n))
		return nil
	case *array.Int16Builder:
		n, err := toInt(v, math.MinInt16, math.MaxInt16)
		if err != nil {
			return err
		}
		b.Append(int16(n))
		return nil
	case *array.Int32Builder:
		n, err := toInt(v, math.MinInt32, math.MaxInt32)
		if err != nil {
			return err
		}
		b.Append(int32(n))
		return nil
	case *array.Int64Builder:
		n, err := toInt(v, math.MinInt64, math.MaxInt64)
		if err != nil {
			return err
		}
		b.Append(n)
		return nil
	case *array.Uint8Builder:
		n, err := toUint(v, math.MaxUint8)
		if err != nil {
			return err
		}
		b.Append(uint8(n))
		return nil
	case *array.Uint16Builder:
		n, err := toUint(v, math.MaxUint16)
		if err != nil {
			return err
		}
		b.Append(uint16(n))
		return nil
	case *array.Uint32Builder:
		n, err := toUint(v, math.MaxUint32)
		if err != nil {
			return err
		}
		b.Append(uint32(n))
		return nil
	case *array.Uint64Builder:
		n, err := toUint(v, math.MaxUint64)
		if err != nil {
			return err
		}
		b.Append(n)
		return nil
	case *array.Float32Builder:
		f, err := toFloat(v)
		if err != nil {
			return err
		}
		b.Append(float32(f))
		return nil
	case *array.Float64Builder:
		f, err := toFloat(v)
		if err != nil {
			return err
		}
		b.Append(f)
		return nil
	case *array.StringBuilder:
		switch x := v.(type) {
		case string:
			b.Append(x)
		case []byte:
			b.Append(string(x))
		case time.Time:
			b.Append(x.Format(TimestampLayout))
		case time.Duration:
			b.Append(time.Time{}.Add(x).Format(timeLayout))
		case decimal.Decimal:
			b.Append(x.String())
		case uuid.UUID:
			b.Append(x.String())
		case int64:
			b.Append(strconv.FormatInt(x, 10))
		case uint64:
			b.Append(strconv.FormatUint(x, 10))
		case float64:
			b.Append(strconv.FormatFloat(x, 'g', -1, 64))
		case bool:
			b.Append(strconv.FormatBool(x))
		default:
			return fmt.Errorf("cannot store %T in a string column", v)
		}
		return nil
	case *array.BinaryBuilder:
		switch x := v.(type) {
		case []byte:
			b.Append(x)
			return nil
		case string:
			b.AppendString(x)
			return nil
		}
	case *array.TimestampBuilder:
		t, err := toTime(v, TimestampLayout)
		if err != nil {
			return err
		}
		ts, err := arrow.TimestampFromTime(t, b.Type().(*arrow.TimestampType).Unit)
		if err != nil {
			return err
		}
		b.Append(ts)
		return nil
	case *array.Date32Builder:
		t, err := toTime(v, dateLayout)
		if err != nil {
			return err
		}
		b.Append(arrow.Date32FromTime(t))
		return nil
	case *array.Time64Builder:
		d, err := toTimeOfDay(v)
		if err != nil {
			return err
		}
		b.Append(arrow.Time64(d / b.Type().(*arrow.Time64Type).Unit.Multiplier()))
		return nil
	case *array.Decimal128Builder:
		typ := b.Type().(*arrow.Decimal128Type)
		n, err := toDecimal128(v, typ.Precision, typ.Scale)
		if err != nil {
			return err
		}
		b.Append(n)
		return nil
	case *extensions.UUIDBuilder:
		switch x := v.(type) {
		case uuid.UUID:
			b.Append(x)
			return nil
		case string:
			return b.AppendValueFromString(x)
		case []byte:
			u, err := uuid.FromBytes(x)
			if err != nil {
				return err
			}
			b.Append(u)
			return nil
		}
	default:
		return fmt.Errorf("unsupported column type %s", b.Type())
	}

	return fmt.Errorf("cannot store %T in a %s column", v, b.Type())
}

func toInt(v any, lo, hi int64) (int64, error) {
	var n int64
	switch x := v.(type) {
	case int64:
		n = x
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("%d out of range", x)
		}
		n = int64(x)
	case float64:
		if x != math.Trunc(x) || x < math.MinInt64 || x >= math.MaxInt64 {
			return 0, fmt.Errorf("%v is not an integer", x)
		}
		n = int64(x)
	case bool:
		if x {
			n = 1
		}
	case string:
		p, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, err
		}
		n = p
	default:
		return 0, fmt.Errorf("cannot store %T in an integer column", v)
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("%d out of range", n)
	}
	return n, nil
}

func toUint(v any, hi uint64) (uint64, error) {
	var n uint64
	switch x := v.(type) {
	case uint64:
		n = x
	case int64:
		if x < 0 {
			return 0, fmt.Errorf("%d out of range", x)
		}
		n = uint64(x)
	case string:
		p, err := strconv.ParseUint(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, err
		}
		n = p
	default:
		return 0, fmt.Errorf("cannot store %T in an unsigned integer column", v)
	}
	if n > hi {
		return 0, fmt.Errorf("%d out of range", n)
	}
	return n, nil
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int64:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case decimal.Decimal:
		return x.InexactFloat64(), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	default:
		return 0, fmt.Errorf("cannot store %T in a floating point column", v)
	}
}

func toTime(v any, layout string) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case string:
		for _, l := range []string{layout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999", dateLayout} {
			if t, err := time.Parse(l, x); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot parse %q as a timestamp", x)
	default:
		return time.Time{}, fmt.Errorf("cannot store %T in a temporal column", v)
	}
}

func toTimeOfDay(v any) (time.Duration, error) {
	switch x := v.(type) {
	case time.Duration:
		if x < 0 || x >= 24*time.Hour {
			return 0, fmt.Errorf("time of day %s out of range", x)
		}
		return x, nil
	case time.Time:
		midnight := time.Date(x.Year(), x.Month(), x.Day(), 0, 0, 0, 0, x.Location())
		return x.Sub(midnight), nil
	case string:
		t, err := time.Parse(timeLayout, x)
		if err != nil {
			return 0, err
		}
		return t.Sub(time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)), nil
	default:
		return 0, fmt.Errorf("cannot store %T in a time column", v)
	}
}

func toDecimal128(v any, precision, scale int32) (decimal128.Num, error) {
	var d decimal.Decimal
	switch x := v.(type) {
	case decimal.Decimal:
		d = x
	case int64:
		d = decimal.NewFromInt(x)
	case uint64:
		d = decimal.NewFromBigInt(new(big.Int).SetUint64(x), 0)
	case float64:
		d = decimal.NewFromFloat(x)
	case string:
		p, err := decimal.NewFromString(strings.TrimSpace(x))
		if err != nil {
			return decimal128.Num{}, err
		}
		d = p
	default:
		return decimal128.Num{}, fmt.Errorf("cannot store %T in a decimal column", v)
	}

	if !d.Equal(d.Truncate(scale)) {
		return decimal128.Num{}, fmt.Errorf("%s does not fit scale %d", d, scale)
	}
	n := decimal128.FromBigInt(d.Shift(scale).BigInt())
	if !n.FitsInPrecision(precision) {
		return decimal128.Num{}, fmt.Errorf("%s does not fit precision %d", d, precision)
	}
	return n, nil
}
