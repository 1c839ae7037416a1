package zodbc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/zodbc/zodbc/driver"
)

const (
	// DefaultBatchSize is the number of rows requested per batch when a result set is drained without an
	// explicit batch size.
	DefaultBatchSize = 1_000_000

	// AllRows requests every remaining row from the row oriented fetch methods.
	AllRows = -1
)

// ConnConfig contains all the options used to establish a connection. It must be created by ParseConfig
// or built by hand with Driver set. A ConnConfig may be modified before use but not after.
type ConnConfig struct {
	// ConnString is the connection string exactly as given to ParseConfig. It is passed to the driver
	// unchanged.
	ConnString string

	// DriverName is the value of the Driver attribute.
	DriverName string

	// Driver opens the native connection. ParseConfig resolves it from DriverName through the driver
	// registry.
	Driver driver.Driver

	// Attributes holds every attribute of the connection string keyed by lower case name.
	Attributes map[string]string

	Tracer QueryTracer

	// DefaultBatchSize is the batch size used by Cursor methods that drain a result set when none is
	// given. Zero means DefaultBatchSize.
	DefaultBatchSize int

	// DefaultPrecision is the precision mode of cursors created without WithPrecision.
	DefaultPrecision driver.Precision

	// Allocator backs the records the Conn builds itself, such as the empty batches of an exhausted
	// result set. Nil means memory.DefaultAllocator. Drivers allocate their batches on their own.
	Allocator memory.Allocator
}

// Copy returns a deep copy of the config that is safe to use and modify.
func (cc *ConnConfig) Copy() *ConnConfig {
	newConfig := new(ConnConfig)
	*newConfig = *cc
	if cc.Attributes != nil {
		newConfig.Attributes = make(map[string]string, len(cc.Attributes))
		for k, v := range cc.Attributes {
			newConfig.Attributes[k] = v
		}
	}
	return newConfig
}

// RedactedConnString returns ConnString with the password replaced by xxxxx.
func (cc *ConnConfig) RedactedConnString() string {
	return redactPW(cc.ConnString)
}

// ParseConfig parses an ODBC style connection string into a *ConnConfig.
//
// The connection string is a sequence of key=value attributes separated by semicolons. Keys are case
// insensitive. A value may be enclosed in braces to contain semicolons; a closing brace inside a braced
// value is written twice.
//
//	Driver={ODBC Driver 18 for SQL Server};Server=localhost;UID=sa;PWD={p;ss}}word}
//
// The Driver attribute selects a driver registered with driver.Register.
func ParseConfig(connString string) (*ConnConfig, error) {
	attrs, err := driver.ParseConnString(connString)
	if err != nil {
		return nil, &DriverError{Op: "parse connection string", ConnString: connString, Err: err}
	}

	config := &ConnConfig{
		ConnString:       connString,
		DriverName:       attrs["driver"],
		Attributes:       attrs,
		DefaultBatchSize: DefaultBatchSize,
		DefaultPrecision: driver.PrecisionMicro,
	}

	if config.DriverName == "" {
		return nil, &DriverError{Op: "parse connection string", ConnString: connString, Err: errors.New("missing Driver attribute")}
	}

	d, ok := driver.Lookup(config.DriverName)
	if !ok {
		return nil, &DriverError{
			Op:         "parse connection string",
			ConnString: connString,
			Err:        fmt.Errorf("no driver registered as %q (registered: %s)", config.DriverName, strings.Join(driver.Drivers(), ", ")),
		}
	}
	config.Driver = d

	return config, nil
}
