package zapadapter_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zodbc/zodbc/log/zapadapter"
	"github.com/zodbc/zodbc/tracelog"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zapadapter.NewLogger(zap.New(core))

	logger.Log(context.Background(), tracelog.LogLevelWarn, "Execute", map[string]any{"sql": "select 1"})
	logger.Log(context.Background(), tracelog.LogLevelTrace, "FetchBatch", nil)

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	require.Equal(t, zapcore.WarnLevel, entries[0].Level)
	require.Equal(t, "Execute", entries[0].Message)
	require.Equal(t, map[string]any{"sql": "select 1"}, entries[0].ContextMap())

	require.Equal(t, zapcore.DebugLevel, entries[1].Level)
	require.Equal(t, map[string]any{"ZODBC_LOG_LEVEL": "trace"}, entries[1].ContextMap())
}
