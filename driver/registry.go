package driver

import (
	"sort"
	"strings"
	"sync"
)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

// Register makes a driver available under name. Names are matched case-insensitively so that the
// Driver attribute of a connection string may be written the way ODBC data source files usually spell
// it. Register panics if d is nil or name is already registered.
func Register(name string, d Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()

	if d == nil {
		panic("driver: Register driver is nil")
	}
	key := strings.ToLower(name)
	if _, dup := drivers[key]; dup {
		panic("driver: Register called twice for driver " + name)
	}
	drivers[key] = d
}

// Lookup returns the driver registered under name.
func Lookup(name string) (Driver, bool) {
	driversMu.RLock()
	defer driversMu.RUnlock()

	d, ok := drivers[strings.ToLower(name)]
	return d, ok
}

// Drivers returns the sorted names of the registered drivers.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()

	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
