package zodbc

import (
	sqldriver "database/sql/driver"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/zodbc/zodbc/driver"
	"github.com/zodbc/zodbc/internal/anynil"
)

// NamedArgs binds parameters by name.
//
//	cur.Execute(ctx, "select * from widgets where id = :id", zodbc.NamedArgs{"id": 42})
type NamedArgs map[string]any

// normalizeArgs turns the variadic arguments of Execute into the canonical parameter representation.
func normalizeArgs(args []any) (driver.Params, error) {
	if len(args) == 1 {
		switch a := args[0].(type) {
		case NamedArgs:
			return normalizeNamed(a)
		case map[string]any:
			return normalizeNamed(a)
		case []any:
			return normalizePositional(a)
		case []byte, uuid.UUID, *TVP, sqldriver.Valuer, nil:
			// scalars that would otherwise be mistaken for a parameter list
		default:
			refVal := reflect.ValueOf(a)
			if k := refVal.Kind(); (k == reflect.Slice || k == reflect.Array) && refVal.Type().Elem().Kind() != reflect.Uint8 {
				list := make([]any, refVal.Len())
				for i := range list {
					list[i] = refVal.Index(i).Interface()
				}
				return normalizePositional(list)
			}
		}
	}

	if len(args) == 0 {
		return driver.Params{}, nil
	}
	return normalizePositional(args)
}

func normalizePositional(args []any) (driver.Params, error) {
	params := make([]any, len(args))
	for i, a := range args {
		v, err := normalizeValue(a)
		if err != nil {
			return driver.Params{}, &InvalidArgumentError{Arg: fmt.Sprintf("parameter %d", i+1), Msg: err.Error()}
		}
		params[i] = v
	}
	return driver.Params{Positional: params}, nil
}

func normalizeNamed(args map[string]any) (driver.Params, error) {
	params := make(map[string]any, len(args))
	for name, a := range args {
		if name == "" {
			return driver.Params{}, &InvalidArgumentError{Arg: "parameter name", Msg: "must not be empty"}
		}
		v, err := normalizeValue(a)
		if err != nil {
			return driver.Params{}, &InvalidArgumentError{Arg: fmt.Sprintf("parameter %q", name), Msg: err.Error()}
		}
		params[name] = v
	}
	return driver.Params{Named: params}, nil
}

// normalizeValue converts v into one of the parameter types drivers accept: nil, bool, int64, uint64,
// float64, string, []byte, time.Time, time.Duration, decimal.Decimal, uuid.UUID or a driver.TableValue.
func normalizeValue(v any) (any, error) {
	if anynil.Is(v) {
		return nil, nil
	}

	switch x := v.(type) {
	case bool, int64, uint64, float64, string, []byte, time.Time, time.Duration, decimal.Decimal, uuid.UUID:
		return x, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint:
		return uint64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case float32:
		return float64(x), nil
	case *decimal.Decimal:
		return *x, nil
	case *uuid.UUID:
		return *x, nil
	case TVP:
		return normalizeValue(&x)
	case driver.TableValue:
		if x.Record() == nil {
			return nil, fmt.Errorf("table-valued parameter %s has no data", x.TableTypeName())
		}
		return x, nil
	case sqldriver.Valuer:
		dv, err := x.Value()
		if err != nil {
			return nil, fmt.Errorf("%T.Value: %w", x, err)
		}
		if _, again := dv.(sqldriver.Valuer); again {
			return nil, fmt.Errorf("%T.Value returned another Valuer", x)
		}
		return normalizeValue(dv)
	}

	refVal := reflect.ValueOf(v)
	switch refVal.Kind() {
	case reflect.Ptr:
		return normalizeValue(anynil.Deref(v))
	// named types such as `type Status string`
	case reflect.Bool:
		return refVal.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return refVal.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return refVal.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return refVal.Float(), nil
	case reflect.String:
		return refVal.String(), nil
	case reflect.Slice:
		if refVal.Type().Elem().Kind() == reflect.Uint8 {
			return refVal.Bytes(), nil
		}
	case reflect.Array:
		if refVal.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, refVal.Len())
			for i := range b {
				b[i] = byte(refVal.Index(i).Uint())
			}
			return b, nil
		}
	}

	return nil, fmt.Errorf("unsupported type %T", v)
}
