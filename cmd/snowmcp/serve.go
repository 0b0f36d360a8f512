package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	snowmcp "github.com/snowgate/snowflake-mcp"
	"github.com/snowgate/snowflake-mcp/internal/sessions"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-viper/mapstructure/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	serverConfig, err := loadServerConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if serverConfig.Server.Port <= 0 {
		serverConfig.Server.Port = 8080
	}

	logger := setupLogger(serverConfig.Logging)

	conn := serverConfig.Connection
	if conn.User == "" {
		conn.User = promptInput("Username: ")
	}
	if conn.Password == "" && conn.Token == "" {
		conn.Password = promptPassword("Password: ")
	}

	connector, err := sessions.NewSnowflakeConnector(sessions.SnowflakeConfig{
		Account:   conn.Account,
		User:      conn.User,
		Password:  conn.Password,
		Token:     conn.Token,
		Role:      conn.Role,
		Database:  conn.Database,
		Schema:    conn.Schema,
		Warehouse: conn.Warehouse,
	})
	if err != nil {
		return fmt.Errorf("failed to build connector: %w", err)
	}
	defer connector.Close()

	logger.Info().Msg("testing warehouse connection")
	if err := connector.Ping(ctx); err != nil {
		logger.Error().Err(err).Msg("warehouse connection test failed")
		return fmt.Errorf("warehouse connection test failed: %w", err)
	}
	logger.Info().Msg("warehouse connection test successful")

	engine, err := snowmcp.New(ctx, connector, serverConfig.Config, logger)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	defer engine.Close(ctx)

	dispatcher := snowmcp.NewDispatcher(engine, "snowmcp", version, logger)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if serverConfig.Server.HealthCheckEnabled {
		r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"healthy","service":"snowmcp"}`))
		})
	}
	r.Handle("/mcp", dispatcher)
	if serverConfig.Metrics {
		r.Handle("/metrics", engine.Metrics().Handler())
	}
	api := &apiServer{engine: engine, logger: logger}
	api.routes(r)

	addr := fmt.Sprintf("%s:%d", serverConfig.Server.Host, serverConfig.Server.Port)
	httpSrv := &http.Server{Addr: addr, Handler: r}

	shutdownCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-shutdownCtx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpSrv.Shutdown(drainCtx)
	}()

	logger.Info().Str("addr", addr).Msg("starting snowmcp server")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// loadServerConfig reads the JSON config file and overlays connection
// credentials from the SNOWFLAKE_* environment.
func loadServerConfig() (*snowmcp.ServerConfig, error) {
	path := configPath
	explicit := path != ""
	if path == "" {
		if env := os.Getenv("SNOWMCP_CONFIG_PATH"); env != "" {
			path = env
			explicit = true
		} else {
			path = ".snowmcp/config.json"
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	envBindings := map[string]string{
		"connection.account":   "SNOWFLAKE_ACCOUNT",
		"connection.user":      "SNOWFLAKE_USER",
		"connection.password":  "SNOWFLAKE_PASSWORD",
		"connection.token":     "SNOWFLAKE_TOKEN",
		"connection.role":      "SNOWFLAKE_ROLE",
		"connection.database":  "SNOWFLAKE_DATABASE",
		"connection.schema":    "SNOWFLAKE_SCHEMA",
		"connection.warehouse": "SNOWFLAKE_WAREHOUSE",
	}
	for key, env := range envBindings {
		v.BindEnv(key, env)
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing default config file is fine; the environment can carry
		// everything the connector needs.
		if explicit || !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var config snowmcp.ServerConfig
	if err := v.Unmarshal(&config, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "json"
		dc.Squash = true
	}); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &config, nil
}

func setupLogger(config snowmcp.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch strings.ToLower(config.Level) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	var output io.Writer = os.Stderr
	if config.Output == "stdout" {
		output = os.Stdout
	} else if config.Output != "" && config.Output != "stderr" {
		f, err := os.OpenFile(config.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err == nil {
			output = f
		}
	}

	if config.Format == "text" {
		output = zerolog.ConsoleWriter{Out: output}
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

func promptInput(prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	var input string
	fmt.Scanln(&input)
	return input
}

func promptPassword(prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr) // newline after password input
	if err != nil {
		return ""
	}
	return string(password)
}
