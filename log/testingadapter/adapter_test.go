package testingadapter_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zodbc/zodbc/log/testingadapter"
	"github.com/zodbc/zodbc/tracelog"
)

type recorder struct {
	lines []string
}

func (r *recorder) Log(args ...any) {
	r.lines = append(r.lines, fmt.Sprintln(args...))
}

func TestLogger(t *testing.T) {
	r := &recorder{}
	logger := testingadapter.NewLogger(r)
	logger.Log(context.Background(), tracelog.LogLevelInfo, "Connect", map[string]any{"driver": "memdb", "connString": "Driver=memdb"})

	require.Equal(t, []string{"info Connect connString=Driver=memdb driver=memdb\n"}, r.lines)

	// Also usable directly against *testing.T.
	testingadapter.NewLogger(t).Log(context.Background(), tracelog.LogLevelDebug, "FetchBatch", nil)
}
