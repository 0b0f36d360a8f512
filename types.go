package snowmcp

// QueryOutput is the outcome of an ad-hoc query. All failures (classifier
// rejections, warehouse errors, pool errors) are placed in Error, with any
// matching error-prompt guidance appended. Callers only check Error, never
// a Go error.
type QueryOutput struct {
	Columns  []string         `json:"columns,omitempty"`
	Data     []map[string]any `json:"data"`
	RowCount int              `json:"row_count"`
	DataID   string           `json:"data_id,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// ListDatabasesOutput is the output of the list_databases tool.
type ListDatabasesOutput struct {
	Databases []map[string]any `json:"databases"`
	DataID    string           `json:"data_id"`
}

// ListSchemasOutput is the output of the list_schemas tool.
type ListSchemasOutput struct {
	Database string           `json:"database"`
	Schemas  []map[string]any `json:"schemas"`
	DataID   string           `json:"data_id"`
}

// ListTablesOutput is the output of the list_tables tool.
type ListTablesOutput struct {
	Database string           `json:"database"`
	Schema   string           `json:"schema"`
	Tables   []map[string]any `json:"tables"`
	DataID   string           `json:"data_id"`
}

// DescribeTableOutput is the output of the describe_table tool.
type DescribeTableOutput struct {
	Database string           `json:"database"`
	Schema   string           `json:"schema"`
	Table    string           `json:"table"`
	Columns  []map[string]any `json:"columns"`
	DataID   string           `json:"data_id"`
}
