package snowmcp

// Config is the base configuration used by library mode via New().
type Config struct {
	Pool         PoolConfig         `json:"pool"`
	Query        QueryConfig        `json:"query"`
	ErrorPrompts []ErrorPromptRule  `json:"error_prompts"`
	Sanitization []SanitizationRule `json:"sanitization"`
	Metrics      bool               `json:"metrics"`
}

// ServerConfig embeds Config and adds server-only fields for CLI mode.
type ServerConfig struct {
	Config
	Connection ConnectionConfig `json:"connection"`
	Server     ServerSettings   `json:"server"`
	Logging    LoggingConfig    `json:"logging"`
	Proxy      ProxySettings    `json:"proxy"`
}

// ConnectionConfig holds the warehouse connection parameters. Password and
// token are normally supplied through the environment, not the config file.
type ConnectionConfig struct {
	Account   string `json:"account"`
	User      string `json:"user"`
	Password  string `json:"password"`
	Token     string `json:"token"`
	Role      string `json:"role"`
	Database  string `json:"database"`
	Schema    string `json:"schema"`
	Warehouse string `json:"warehouse"`
}

// PoolConfig holds warehouse session pool settings.
type PoolConfig struct {
	MaxSessions           int `json:"max_sessions"`
	MaxWaiters            int `json:"max_waiters"`
	AcquireTimeoutSeconds int `json:"acquire_timeout_seconds"`
}

// QueryConfig holds statement execution settings.
type QueryConfig struct {
	DefaultTimeoutSeconds int           `json:"default_timeout_seconds"`
	MaxSQLLength          int           `json:"max_sql_length"`
	MaxResultLength       int           `json:"max_result_length"`
	TimeoutRules          []TimeoutRule `json:"timeout_rules"`
}

// TimeoutRule maps a SQL pattern to a specific timeout duration.
type TimeoutRule struct {
	Pattern        string `json:"pattern"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// ErrorPromptRule maps a warehouse error pattern to a guidance message.
type ErrorPromptRule struct {
	Pattern string `json:"pattern"`
	Message string `json:"message"`
}

// SanitizationRule defines a regex-based field sanitization rule.
type SanitizationRule struct {
	Pattern     string `json:"pattern"`
	Replacement string `json:"replacement"`
	Description string `json:"description"`
}

// ServerSettings holds HTTP server settings for CLI mode.
type ServerSettings struct {
	Host               string `json:"host"`
	Port               int    `json:"port"`
	HealthCheckEnabled bool   `json:"health_check_enabled"`
}

// LoggingConfig holds logging settings for CLI mode.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
	Output string `json:"output"` // stdout, or file path
}

// ProxySettings holds the credential-injection sidecar settings used by
// the proxy subcommand.
type ProxySettings struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	UpstreamURL    string `json:"upstream_url"`
	BearerToken    string `json:"bearer_token"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}
