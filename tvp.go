package zodbc

import (
	"github.com/apache/arrow-go/v18/arrow"
)

// TVPType names the table type of a table-valued parameter.
type TVPType struct {
	// Name is the qualified type name, "schema.table" or "table".
	Name string
}

// TVPTypeFromName returns the type descriptor for table in schema. An empty schema leaves the name
// unqualified.
func TVPTypeFromName(table, schema string) TVPType {
	if schema == "" {
		return TVPType{Name: table}
	}
	return TVPType{Name: schema + "." + table}
}

// TVP is a table-valued parameter: a table type paired with the rows to pass. It is passed to Execute
// like any other parameter. Data is borrowed for the duration of that call and is not released by it.
type TVP struct {
	Type TVPType
	Data arrow.Record
}

// NewTVP binds data to typ.
func NewTVP(typ TVPType, data arrow.Record) *TVP {
	return &TVP{Type: typ, Data: data}
}

// TableTypeName implements driver.TableValue.
func (t *TVP) TableTypeName() string {
	return t.Type.Name
}

// Record implements driver.TableValue.
func (t *TVP) Record() arrow.Record {
	return t.Data
}
