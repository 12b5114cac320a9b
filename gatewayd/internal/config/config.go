// Package config parses gateway flags/environment and builds the zap
// logger: a cobra root command with an envOrDefault flag-binding helper
// and a log-level switch between zap's production and development configs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Config holds every gateway flag/env setting (§4 "Environment variables").
type Config struct {
	HTTPAddr    string
	DatabaseDSN string
	HMACSecret  string
	LogLevel    string
	DataDir     string

	ArtifactsDir    string
	MaxArtifactSize int64

	ExtraAllowedCommands []string

	LinkPrivateKeyPath string
	LinkPublicKeyPath  string
}

// baseAllowedCommands is the fixed command prefix list every gateway ships
// with, before EXTRA_ALLOWED_COMMANDS entries are appended.
var baseAllowedCommands = []string{
	"npm test", "npm run", "go test", "go build", "git diff", "git status",
	"git log", "ls", "pwd", "cat",
}

// AllowedCommands returns the base allowlist plus any operator-configured
// extras.
func (c *Config) AllowedCommands() []string {
	return append(append([]string{}, baseAllowedCommands...), c.ExtraAllowedCommands...)
}

// RegisterFlags binds cfg's fields to cmd's persistent flags, defaulting
// each to its environment variable when set.
func RegisterFlags(cmd *cobra.Command, cfg *Config) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfg.HTTPAddr, "http-addr", envOrDefault("HTTP_ADDR", ":8080"), "HTTP API listen address")
	flags.StringVar(&cfg.DatabaseDSN, "database-path", envOrDefault("DATABASE_PATH", "./gateway.db"), "SQLite database file path or DSN")
	flags.StringVar(&cfg.HMACSecret, "hmac-secret", envOrDefault("HMAC_SECRET", ""), "Shared HMAC secret for wrapper request signing (required)")
	flags.StringVar(&cfg.LogLevel, "log-level", envOrDefault("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	flags.StringVar(&cfg.DataDir, "data-dir", envOrDefault("DATA_DIR", "./data"), "Directory for persistent gateway data (link keys, etc.)")
	flags.StringVar(&cfg.ArtifactsDir, "artifacts-dir", envOrDefault("ARTIFACTS_DIR", "./artifacts"), "Directory for uploaded artifact files")
	flags.Int64Var(&cfg.MaxArtifactSize, "max-artifact-size", envOrDefaultInt64("MAX_ARTIFACT_SIZE", 50<<20), "Maximum artifact upload size in bytes")
	flags.StringSliceVar(&cfg.ExtraAllowedCommands, "extra-allowed-commands", envOrDefaultList("EXTRA_ALLOWED_COMMANDS"), "Additional allowlisted command prefixes")
}

// Validate checks the settings that have no safe default.
func (c *Config) Validate() error {
	if c.HMACSecret == "" {
		return fmt.Errorf("config: HMAC_SECRET is required")
	}
	return nil
}

// BuildLogger constructs a zap logger at the configured level, development
// formatting for "debug" and production (JSON) formatting otherwise.
func BuildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config
	if level == "debug" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt64(key string, defaultVal int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return defaultVal
}

func envOrDefaultList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
