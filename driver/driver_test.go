package driver_test

import (
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zodbc/zodbc/driver"
)

type nopDriver struct{}

func (nopDriver) Open(ctx context.Context, connString string) (driver.Conn, error) {
	return nil, nil
}

func TestNormalizeInfoKey(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		in   string
		want string
	}{
		{"dbms_name", "dbms_name"},
		{"DBMS Name", "dbms_name"},
		{"  dbms-name ", "dbms_name"},
		{"SQL_DBMS_NAME", "dbms_name"},
		{"not a real key", "not_a_real_key"},
	} {
		assert.Equal(t, tt.want, driver.NormalizeInfoKey(tt.in), tt.in)
	}
}

func TestInfoKeysSortedAndResolvable(t *testing.T) {
	t.Parallel()

	keys := driver.InfoKeys()
	require.NotEmpty(t, keys)
	for i, k := range keys {
		if i > 0 {
			require.Less(t, keys[i-1], k)
		}
		typ, ok := driver.LookupInfoType(k)
		require.True(t, ok, k)
		require.Equal(t, k, typ.String())
	}

	_, ok := driver.LookupInfoType("not_a_real_key")
	require.False(t, ok)
}

func TestRegister(t *testing.T) {
	driver.Register("Test Nop Driver", nopDriver{})

	d, ok := driver.Lookup("test nop driver")
	require.True(t, ok)
	require.Equal(t, nopDriver{}, d)
	require.Contains(t, driver.Drivers(), "test nop driver")

	require.Panics(t, func() { driver.Register("TEST NOP DRIVER", nopDriver{}) })
	require.Panics(t, func() { driver.Register("nil driver", nil) })
}

func TestPrecision(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "micro", driver.PrecisionMicro.String())
	assert.Equal(t, "string", driver.PrecisionString.String())
	assert.Equal(t, "nano", driver.PrecisionNano.String())
	assert.False(t, driver.Precision(7).Valid())

	assert.True(t, arrow.TypeEqual(&arrow.TimestampType{Unit: arrow.Microsecond}, driver.PrecisionMicro.TimestampType()))
	assert.True(t, arrow.TypeEqual(&arrow.TimestampType{Unit: arrow.Nanosecond}, driver.PrecisionNano.TimestampType()))
	assert.True(t, arrow.TypeEqual(arrow.BinaryTypes.String, driver.PrecisionString.TimestampType()))
}

func TestParams(t *testing.T) {
	t.Parallel()

	p := driver.Params{Positional: []any{int64(1), "a"}}
	assert.Equal(t, 2, p.Len())
	assert.False(t, p.IsNamed())

	p = driver.Params{Named: map[string]any{"id": int64(1)}}
	assert.Equal(t, 1, p.Len())
	assert.True(t, p.IsNamed())
}
