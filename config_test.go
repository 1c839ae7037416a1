package zodbc_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zodbc/zodbc"
	"github.com/zodbc/zodbc/driver"
	"github.com/zodbc/zodbc/memdriver"
)

func TestParseConfig(t *testing.T) {
	t.Parallel()

	config, err := zodbc.ParseConfig("DRIVER={memdb};Database=parse;PWD={s;e}}cret}")
	require.NoError(t, err)

	assert.Equal(t, "memdb", config.DriverName)
	assert.Equal(t, "DRIVER={memdb};Database=parse;PWD={s;e}}cret}", config.ConnString)
	assert.Equal(t, "parse", config.Attributes["database"])
	assert.Equal(t, "s;e}cret", config.Attributes["pwd"])
	assert.IsType(t, &memdriver.Driver{}, config.Driver)
	assert.Equal(t, zodbc.DefaultBatchSize, config.DefaultBatchSize)
	assert.Equal(t, driver.PrecisionMicro, config.DefaultPrecision)
}

func TestParseConfigErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		connString string
		msg        string
	}{
		{"missing driver", "Database=x", "missing Driver attribute"},
		{"unknown driver", "Driver=nosuch;PWD=secret", "no driver registered as \"nosuch\""},
		{"unterminated brace", "Driver={memdb", "unterminated braced value"},
		{"attribute without value", "Driver=memdb;Database", "has no value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := zodbc.ParseConfig(tt.connString)
			require.Error(t, err)

			var driverErr *zodbc.DriverError
			require.True(t, errors.As(err, &driverErr))
			assert.Contains(t, err.Error(), tt.msg)
			assert.NotContains(t, err.Error(), "secret")
		})
	}

	_, err := zodbc.ParseConfig("Driver=nosuch")
	assert.ErrorContains(t, err, memdriver.DriverName)
}

func TestConnConfigCopy(t *testing.T) {
	t.Parallel()

	config, err := zodbc.ParseConfig("Driver=memdb;Database=copy")
	require.NoError(t, err)

	copied := config.Copy()
	copied.Attributes["database"] = "other"
	copied.DefaultBatchSize = 10

	assert.Equal(t, "copy", config.Attributes["database"])
	assert.Equal(t, zodbc.DefaultBatchSize, config.DefaultBatchSize)
}

func TestRedactedConnString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		connString string
		want       string
	}{
		{"Driver=memdb;PWD=secret;UID=sa", "Driver=memdb;PWD=xxxxx;UID=sa"},
		{"Driver=memdb;Password={se;c}}ret};UID=sa", "Driver=memdb;Password=xxxxx;UID=sa"},
		{"Driver=memdb;pwd = hunter2", "Driver=memdb;pwd=xxxxx"},
		{"Driver=memdb;UID=sa", "Driver=memdb;UID=sa"},
	}

	for _, tt := range tests {
		config := &zodbc.ConnConfig{ConnString: tt.connString}
		assert.Equal(t, tt.want, config.RedactedConnString())
	}
}

func TestConnectConfigValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	config, err := zodbc.ParseConfig("Driver=memdb;Database=validation")
	require.NoError(t, err)

	bad := config.Copy()
	bad.DefaultBatchSize = -1
	_, err = zodbc.ConnectConfig(ctx, bad)
	var argErr *zodbc.InvalidArgumentError
	require.ErrorAs(t, err, &argErr)
	assert.Equal(t, "DefaultBatchSize", argErr.Arg)

	bad = config.Copy()
	bad.DefaultPrecision = driver.Precision(9)
	_, err = zodbc.ConnectConfig(ctx, bad)
	require.ErrorAs(t, err, &argErr)
	assert.Contains(t, err.Error(), "micro, string, nano")

	bad = config.Copy()
	bad.Driver = nil
	_, err = zodbc.ConnectConfig(ctx, bad)
	var driverErr *zodbc.DriverError
	require.ErrorAs(t, err, &driverErr)

	bad = config.Copy()
	bad.DefaultBatchSize = 0
	conn, err := zodbc.ConnectConfig(ctx, bad)
	require.NoError(t, err)
	defer conn.Close(ctx)
	assert.Equal(t, zodbc.DefaultBatchSize, conn.Config().DefaultBatchSize)
}
