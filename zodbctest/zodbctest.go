// Package zodbctest provides utilities for testing zodbc and packages that integrate with zodbc.
package zodbctest

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/zodbc/zodbc"
	"github.com/zodbc/zodbc/driver"
	_ "github.com/zodbc/zodbc/memdriver"
)

var databaseSeq atomic.Uint64

// ConnTestRunner controls how a *zodbc.Conn is created and closed by tests. All fields are required. Use
// DefaultConnTestRunner to get a ConnTestRunner with reasonable default values.
type ConnTestRunner struct {
	// CreateConfig returns a *zodbc.ConnConfig suitable for use with zodbc.ConnectConfig.
	CreateConfig func(ctx context.Context, t testing.TB) *zodbc.ConnConfig

	// AfterConnect is called after conn is established. It allows for arbitrary connection setup before a test begins.
	AfterConnect func(ctx context.Context, t testing.TB, conn *zodbc.Conn)

	// AfterTest is called after the test is run. It allows for validating the state of the connection before it is closed.
	AfterTest func(ctx context.Context, t testing.TB, conn *zodbc.Conn)

	// CloseConn closes conn.
	CloseConn func(ctx context.Context, t testing.TB, conn *zodbc.Conn)
}

// MemConnString returns a connection string for a fresh in-memory database named after t.
func MemConnString(t testing.TB) string {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	return fmt.Sprintf("Driver=memdb;Database={%s_%d}", name, databaseSeq.Add(1))
}

// DefaultConnTestRunner returns a new ConnTestRunner with all fields set to reasonable default values. Each
// test gets its own in-memory database.
func DefaultConnTestRunner() ConnTestRunner {
	return ConnTestRunner{
		CreateConfig: func(ctx context.Context, t testing.TB) *zodbc.ConnConfig {
			config, err := zodbc.ParseConfig(MemConnString(t))
			if err != nil {
				t.Fatalf("ParseConfig failed: %v", err)
			}
			return config
		},
		AfterConnect: func(ctx context.Context, t testing.TB, conn *zodbc.Conn) {},
		AfterTest:    func(ctx context.Context, t testing.TB, conn *zodbc.Conn) {},
		CloseConn: func(ctx context.Context, t testing.TB, conn *zodbc.Conn) {
			err := conn.Close(ctx)
			if err != nil {
				t.Errorf("Close failed: %v", err)
			}
		},
	}
}

func (ctr *ConnTestRunner) RunTest(ctx context.Context, t testing.TB, f func(ctx context.Context, t testing.TB, conn *zodbc.Conn)) {
	config := ctr.CreateConfig(ctx, t)
	conn, err := zodbc.ConnectConfig(ctx, config)
	if err != nil {
		t.Fatalf("ConnectConfig failed: %v", err)
	}
	defer ctr.CloseConn(ctx, t, conn)

	ctr.AfterConnect(ctx, t, conn)
	f(ctx, t, conn)
	ctr.AfterTest(ctx, t, conn)
}

// RunWithPrecisions runs f in a new test for each element of precisions with a new connection created using
// ctr. If precisions is nil all precision modes are tested.
func RunWithPrecisions(ctx context.Context, t *testing.T, ctr ConnTestRunner, precisions []driver.Precision, f func(ctx context.Context, t testing.TB, conn *zodbc.Conn)) {
	if precisions == nil {
		precisions = []driver.Precision{
			driver.PrecisionMicro,
			driver.PrecisionString,
			driver.PrecisionNano,
		}
	}

	for _, precision := range precisions {
		ctrWithPrecision := ctr
		ctrWithPrecision.CreateConfig = func(ctx context.Context, t testing.TB) *zodbc.ConnConfig {
			config := ctr.CreateConfig(ctx, t)
			config.DefaultPrecision = precision
			return config
		}

		t.Run(precision.String(),
			func(t *testing.T) {
				ctrWithPrecision.RunTest(ctx, t, f)
			},
		)
	}
}
