package driver

import (
	"sort"
	"strings"
)

// InfoType is an SQLGetInfo information type.
type InfoType uint16

// Information types. Values match the ODBC SQLGetInfo constants.
const (
	InfoAccessibleProcedures InfoType = 20
	InfoAccessibleTables     InfoType = 19
	InfoCatalogNameSeparator InfoType = 41
	InfoCatalogTerm          InfoType = 42
	InfoCollationSeq         InfoType = 10004
	InfoDataSourceName       InfoType = 2
	InfoDataSourceReadOnly   InfoType = 25
	InfoDatabaseName         InfoType = 16
	InfoDBMSName             InfoType = 17
	InfoDBMSVer              InfoType = 18
	InfoDriverName           InfoType = 6
	InfoDriverODBCVer        InfoType = 77
	InfoDriverVer            InfoType = 7
	InfoIdentifierQuoteChar  InfoType = 29
	InfoKeywords             InfoType = 89
	InfoMaxColumnNameLen     InfoType = 30
	InfoMaxIdentifierLen     InfoType = 10005
	InfoMaxTableNameLen      InfoType = 35
	InfoProcedureTerm        InfoType = 40
	InfoSchemaTerm           InfoType = 39
	InfoSearchPatternEscape  InfoType = 14
	InfoServerName           InfoType = 13
	InfoSpecialCharacters    InfoType = 94
	InfoTableTerm            InfoType = 45
	InfoUserName             InfoType = 47
)

var infoTypesByKey = map[string]InfoType{
	"accessible_procedures":  InfoAccessibleProcedures,
	"accessible_tables":      InfoAccessibleTables,
	"catalog_name_separator": InfoCatalogNameSeparator,
	"catalog_term":           InfoCatalogTerm,
	"collation_seq":          InfoCollationSeq,
	"data_source_name":       InfoDataSourceName,
	"data_source_read_only":  InfoDataSourceReadOnly,
	"database_name":          InfoDatabaseName,
	"dbms_name":              InfoDBMSName,
	"dbms_ver":               InfoDBMSVer,
	"driver_name":            InfoDriverName,
	"driver_odbc_ver":        InfoDriverODBCVer,
	"driver_ver":             InfoDriverVer,
	"identifier_quote_char":  InfoIdentifierQuoteChar,
	"keywords":               InfoKeywords,
	"max_column_name_len":    InfoMaxColumnNameLen,
	"max_identifier_len":     InfoMaxIdentifierLen,
	"max_table_name_len":     InfoMaxTableNameLen,
	"procedure_term":         InfoProcedureTerm,
	"schema_term":            InfoSchemaTerm,
	"search_pattern_escape":  InfoSearchPatternEscape,
	"server_name":            InfoServerName,
	"special_characters":     InfoSpecialCharacters,
	"table_term":             InfoTableTerm,
	"user_name":              InfoUserName,
}

var infoKeysByType map[InfoType]string

func init() {
	infoKeysByType = make(map[InfoType]string, len(infoTypesByKey))
	for k, v := range infoTypesByKey {
		infoKeysByType[v] = k
	}
}

// NormalizeInfoKey converts a user supplied info key into its canonical form: lower case with words
// separated by underscores. "DBMS Name", "dbms-name" and "SQL_DBMS_NAME" all normalize to "dbms_name".
func NormalizeInfoKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	return strings.TrimPrefix(key, "sql_")
}

// LookupInfoType returns the InfoType for a normalized key.
func LookupInfoType(key string) (InfoType, bool) {
	typ, ok := infoTypesByKey[key]
	return typ, ok
}

// InfoKeys returns every valid normalized info key in sorted order.
func InfoKeys() []string {
	keys := make([]string, 0, len(infoTypesByKey))
	for k := range infoTypesByKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String returns the normalized key name of t.
func (t InfoType) String() string {
	if k, ok := infoKeysByType[t]; ok {
		return k
	}
	return "unknown"
}
