// Package config provides mlit-mcp configuration management.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/RobinCoderZhao/mlit-dpf-mcp/internal/pager"
	"github.com/RobinCoderZhao/mlit-dpf-mcp/internal/tools"
	"github.com/RobinCoderZhao/mlit-dpf-mcp/internal/upstream"
	appconfig "github.com/RobinCoderZhao/mlit-dpf-mcp/pkg/config"
)

// FileName is the config file looked up in the working directory and then
// in the home directory (as a dotfile) when no path is given.
const FileName = "mlit-mcp.yaml"

// Transports.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Config is the main configuration for mlit-mcp.
type Config struct {
	Upstream   upstream.Config `yaml:"upstream"`
	Retry      upstream.Policy `yaml:"retry"`
	Pagination pager.Config    `yaml:"pagination"`
	Server     ServerConfig    `yaml:"server"`
	Audit      AuditConfig     `yaml:"audit"`
	Log        LogConfig       `yaml:"log"`
}

// ServerConfig holds the MCP transport settings.
type ServerConfig struct {
	Name      string `yaml:"name" validate:"required"`
	Version   string `yaml:"version"`
	Transport string `yaml:"transport" env:"MLIT_TRANSPORT" validate:"oneof=stdio http"`
	Addr      string `yaml:"addr" env:"MLIT_ADDR" validate:"required_if=Transport http"`

	// JWTSecret and TokenHash enable bearer auth on the HTTP transport.
	JWTSecret string `yaml:"jwt_secret" env:"MLIT_JWT_SECRET"`
	TokenHash string `yaml:"token_hash" env:"MLIT_TOKEN_HASH"`

	// ResponseLimitBytes caps tool results; -1 disables the cap.
	ResponseLimitBytes int `yaml:"response_limit_bytes" env:"MLIT_RESPONSE_LIMIT_BYTES" validate:"gte=-1"`
}

// AuditConfig controls the tool-call audit log.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled" env:"MLIT_AUDIT_ENABLED"`
	DSN     string `yaml:"dsn" env:"MLIT_AUDIT_DSN" validate:"required_if=Enabled true"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"MLIT_LOG_LEVEL" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" env:"MLIT_LOG_FORMAT" validate:"oneof=json text"`
}

// SlogLevel returns the configured level as a slog.Level.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Default returns a Config with sensible defaults. The API key has no
// default and must come from the file or MLIT_API_KEY.
func Default() Config {
	return Config{
		Upstream:   upstream.DefaultConfig(),
		Retry:      upstream.DefaultPolicy(),
		Pagination: pager.DefaultConfig(),
		Server: ServerConfig{
			Name:               "mlit-dpf-mcp",
			Transport:          TransportStdio,
			Addr:               ":8080",
			ResponseLimitBytes: tools.DefaultResponseLimit,
		},
		Audit: AuditConfig{
			DSN: "mlit-mcp-audit.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads .env, then the config file at path (or the first of
// ./mlit-mcp.yaml and ~/.mlit-mcp.yaml when path is empty), then env
// overrides. It does not validate; call Validate before serving.
func Load(path string) (Config, error) {
	cfg := Default()

	if err := appconfig.LoadDotEnv(); err != nil {
		return cfg, err
	}

	if path != "" {
		if err := appconfig.Load(path, &cfg); err != nil {
			return cfg, err
		}
		return cfg, nil
	}
	return cfg, appconfig.LoadOrDefault(lookup(), &cfg)
}

func lookup() string {
	// Check project-level config first
	if _, err := os.Stat(FileName); err == nil {
		return FileName
	}
	// Then check home directory
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "."+FileName)
	}
	return ""
}

var validate = newValidator()

// newValidator reports fields by their YAML keys.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks every section and reports all failures at once.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "required_if":
		return fmt.Sprintf("%s is required when %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s fails %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value())
	}
}
