package sessions

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sf "github.com/snowflakedb/gosnowflake"
)

// SnowflakeConfig holds the connection parameters assembled at startup.
// The pool treats these as opaque; they map 1:1 onto the driver config.
type SnowflakeConfig struct {
	Account   string
	User      string
	Password  string
	Token     string // when set, used in place of Password
	Role      string
	Database  string
	Schema    string
	Warehouse string

	LoginTimeout time.Duration
}

// SnowflakeConnector establishes sessions against a Snowflake account using
// database/sql with the gosnowflake driver. Each Connect hands out a
// dedicated *sql.Conn, so the driver re-runs its authentication handshake
// whenever the pool replaces a broken session and no cached connection is
// available.
type SnowflakeConnector struct {
	db *sql.DB
}

// NewSnowflakeConnector validates cfg, builds the DSN, and opens the driver
// handle. The warehouse is not contacted until the first session connects.
func NewSnowflakeConnector(cfg SnowflakeConfig) (*SnowflakeConnector, error) {
	if cfg.Account == "" {
		return nil, fmt.Errorf("snowflake: account is required")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("snowflake: user is required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("snowflake: database is required")
	}
	if cfg.Schema == "" {
		return nil, fmt.Errorf("snowflake: schema is required")
	}

	password := cfg.Password
	if cfg.Token != "" {
		password = cfg.Token
	}

	sfCfg := &sf.Config{
		Account:   cfg.Account,
		User:      cfg.User,
		Password:  password,
		Role:      cfg.Role,
		Database:  cfg.Database,
		Schema:    cfg.Schema,
		Warehouse: cfg.Warehouse,
	}
	if cfg.LoginTimeout > 0 {
		sfCfg.LoginTimeout = cfg.LoginTimeout
	}

	dsn, err := sf.DSN(sfCfg)
	if err != nil {
		return nil, fmt.Errorf("snowflake: failed to build DSN: %w", err)
	}

	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("snowflake: failed to open driver: %w", err)
	}
	// The sessions pool owns concurrency discipline; database/sql only
	// hands out raw connections here.
	db.SetMaxIdleConns(0)
	db.SetConnMaxLifetime(0)

	return &SnowflakeConnector{db: db}, nil
}

// Connect checks out one dedicated warehouse connection.
func (c *SnowflakeConnector) Connect(ctx context.Context) (Conn, error) {
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &snowflakeConn{conn: conn}, nil
}

// Ping verifies connectivity without consuming a pool session.
func (c *SnowflakeConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close releases the driver handle.
func (c *SnowflakeConnector) Close() error {
	return c.db.Close()
}

type snowflakeConn struct {
	conn *sql.Conn
}

func (c *snowflakeConn) Query(ctx context.Context, sqlText string) ([]string, []map[string]any, error) {
	rs, err := c.conn.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, nil, err
	}
	defer rs.Close()

	columns, err := rs.Columns()
	if err != nil {
		return nil, nil, err
	}

	rows := make([]map[string]any, 0)
	for rs.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rs.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = convertValue(values[i])
		}
		rows = append(rows, row)
	}
	if err := rs.Err(); err != nil {
		return nil, nil, err
	}
	return columns, rows, nil
}

func (c *snowflakeConn) Close() error {
	return c.conn.Close()
}

// convertValue converts a driver-returned value to a JSON-friendly Go type.
func convertValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	default:
		return val
	}
}
