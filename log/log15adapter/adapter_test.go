package log15adapter_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zodbc/zodbc/log/log15adapter"
	"github.com/zodbc/zodbc/tracelog"
	log15 "gopkg.in/inconshreveable/log15.v2"
)

func TestLogger(t *testing.T) {
	var records []*log15.Record
	l := log15.New()
	l.SetHandler(log15.FuncHandler(func(r *log15.Record) error {
		records = append(records, r)
		return nil
	}))

	logger := log15adapter.NewLogger(l)
	logger.Log(context.Background(), tracelog.LogLevelWarn, "Execute", map[string]any{"sql": "select 1", "cursor": 2})
	logger.Log(context.Background(), tracelog.LogLevelTrace, "FetchBatch", nil)

	require.Len(t, records, 2)
	require.Equal(t, "Execute", records[0].Msg)
	require.Equal(t, log15.LvlWarn, records[0].Lvl)
	require.Equal(t, []any{"cursor", 2, "sql", "select 1"}, records[0].Ctx)

	require.Equal(t, log15.LvlDebug, records[1].Lvl)
	require.Equal(t, []any{"ZODBC_LOG_LEVEL", tracelog.LogLevelTrace}, records[1].Ctx)
}
