package snowmcp

import (
	"context"
	"fmt"
	"strings"
)

// ParamSpec declares one tool input parameter.
type ParamSpec struct {
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description"`
}

// ToolDescriptor describes one named, schema-described callable operation.
// The descriptor set is registered once at startup and never mutated.
type ToolDescriptor struct {
	Name          string               `json:"name"`
	Description   string               `json:"description"`
	InputSchema   map[string]ParamSpec `json:"-"`
	ReadOnlyGated bool                 `json:"-"`
}

// toolHandler runs one tool call with validated arguments. A returned error
// is a handler-level failure unless the dispatcher recognizes it as an
// internal condition (see dispatch).
type toolHandler func(ctx context.Context, args map[string]any) (any, error)

// ValidationError rejects a request before any database access.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// registerTools builds the fixed tool registry. Called once from New.
func (s *SnowflakeMcp) registerTools() {
	s.handlers = make(map[string]toolHandler)

	s.addTool(ToolDescriptor{
		Name:        "list_databases",
		Description: "List all available databases in Snowflake",
	}, func(ctx context.Context, args map[string]any) (any, error) {
		return s.ListDatabases(ctx)
	})

	s.addTool(ToolDescriptor{
		Name:        "list_schemas",
		Description: "List all schemas in a database",
		InputSchema: map[string]ParamSpec{
			"database": {Type: "string", Required: true, Description: "Database name to list schemas from"},
		},
	}, func(ctx context.Context, args map[string]any) (any, error) {
		return s.ListSchemas(ctx, args["database"].(string))
	})

	s.addTool(ToolDescriptor{
		Name:        "list_tables",
		Description: "List all tables in a specific database and schema",
		InputSchema: map[string]ParamSpec{
			"database": {Type: "string", Required: true, Description: "Database name"},
			"schema":   {Type: "string", Required: true, Description: "Schema name"},
		},
	}, func(ctx context.Context, args map[string]any) (any, error) {
		return s.ListTables(ctx, args["database"].(string), args["schema"].(string))
	})

	s.addTool(ToolDescriptor{
		Name:        "describe_table",
		Description: "Get the schema information for a specific table",
		InputSchema: map[string]ParamSpec{
			"table_name": {Type: "string", Required: true, Description: "Fully qualified table name in the format 'database.schema.table'"},
		},
	}, func(ctx context.Context, args map[string]any) (any, error) {
		return s.DescribeTable(ctx, args["table_name"].(string))
	})

	s.addTool(ToolDescriptor{
		Name:          "read_query",
		Description:   "Execute a SELECT query",
		ReadOnlyGated: true,
		InputSchema: map[string]ParamSpec{
			"query": {Type: "string", Required: true, Description: "SELECT SQL query to execute"},
		},
	}, func(ctx context.Context, args map[string]any) (any, error) {
		output := s.Query(ctx, args["query"].(string))
		if output.Error != "" {
			return nil, fmt.Errorf("%s", output.Error)
		}
		return output, nil
	})
}

func (s *SnowflakeMcp) addTool(desc ToolDescriptor, handler toolHandler) {
	s.tools = append(s.tools, desc)
	s.handlers[desc.Name] = handler
}

// Tools returns the registered tool descriptors, in registration order.
func (s *SnowflakeMcp) Tools() []ToolDescriptor {
	return s.tools
}

// ListDatabases lists databases visible to the session's role.
func (s *SnowflakeMcp) ListDatabases(ctx context.Context) (*ListDatabasesOutput, error) {
	rec, _, err := s.runStatement(ctx, "SELECT DATABASE_NAME FROM INFORMATION_SCHEMA.DATABASES")
	if err != nil {
		return nil, err
	}
	return &ListDatabasesOutput{
		Databases: s.sanitizer.SanitizeRows(rec.Rows),
		DataID:    rec.ID,
	}, nil
}

// ListSchemas lists the schemas of one database.
func (s *SnowflakeMcp) ListSchemas(ctx context.Context, database string) (*ListSchemasOutput, error) {
	db, err := quoteIdentifier(database, "database")
	if err != nil {
		return nil, err
	}
	rec, _, err := s.runStatement(ctx,
		fmt.Sprintf("SELECT SCHEMA_NAME FROM %s.INFORMATION_SCHEMA.SCHEMATA", db))
	if err != nil {
		return nil, err
	}
	return &ListSchemasOutput{
		Database: database,
		Schemas:  s.sanitizer.SanitizeRows(rec.Rows),
		DataID:   rec.ID,
	}, nil
}

// ListTables lists the tables of one schema, with comments.
func (s *SnowflakeMcp) ListTables(ctx context.Context, database, schema string) (*ListTablesOutput, error) {
	db, err := quoteIdentifier(database, "database")
	if err != nil {
		return nil, err
	}
	sch, err := quoteIdentifier(schema, "schema")
	if err != nil {
		return nil, err
	}
	rec, _, err := s.runStatement(ctx, fmt.Sprintf(
		"SELECT TABLE_CATALOG, TABLE_SCHEMA, TABLE_NAME, COMMENT FROM %s.INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = '%s'",
		db, sch))
	if err != nil {
		return nil, err
	}
	return &ListTablesOutput{
		Database: database,
		Schema:   schema,
		Tables:   s.sanitizer.SanitizeRows(rec.Rows),
		DataID:   rec.ID,
	}, nil
}

// DescribeTable returns column metadata for a fully qualified table name.
// Segments past the first three are ignored.
func (s *SnowflakeMcp) DescribeTable(ctx context.Context, tableName string) (*DescribeTableOutput, error) {
	parts := strings.Split(tableName, ".")
	if len(parts) < 3 {
		return nil, validationErrorf("table name must be fully qualified as 'database.schema.table'")
	}
	db, err := quoteIdentifier(parts[0], "database")
	if err != nil {
		return nil, err
	}
	sch, err := quoteIdentifier(parts[1], "schema")
	if err != nil {
		return nil, err
	}
	tbl, err := quoteIdentifier(parts[2], "table")
	if err != nil {
		return nil, err
	}

	rec, _, err := s.runStatement(ctx, fmt.Sprintf(
		"SELECT COLUMN_NAME, COLUMN_DEFAULT, IS_NULLABLE, DATA_TYPE, COMMENT FROM %s.INFORMATION_SCHEMA.COLUMNS WHERE TABLE_SCHEMA = '%s' AND TABLE_NAME = '%s'",
		db, sch, tbl))
	if err != nil {
		return nil, err
	}
	return &DescribeTableOutput{
		Database: db,
		Schema:   sch,
		Table:    tbl,
		Columns:  s.sanitizer.SanitizeRows(rec.Rows),
		DataID:   rec.ID,
	}, nil
}

// quoteIdentifier upper-cases an identifier for interpolation into the
// fixed catalog query templates. The template shape is the safety boundary
// for these tools; the identifier check keeps the shape intact.
func quoteIdentifier(name, kind string) (string, error) {
	if name == "" {
		return "", validationErrorf("%s name must not be empty", kind)
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		ok := c == '_' || c == '$' ||
			(c >= '0' && c <= '9') ||
			(c >= 'a' && c <= 'z') ||
			(c >= 'A' && c <= 'Z')
		if !ok {
			return "", validationErrorf("invalid %s name %q: identifiers may only contain letters, digits, _ and $", kind, name)
		}
	}
	return strings.ToUpper(name), nil
}
