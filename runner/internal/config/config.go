// Package config parses runner flags/environment and builds the zap logger,
// the same cobra + envOrDefault shape gatewayd/internal/config uses, so
// both binaries in this module configure themselves identically.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Config holds every runner flag/env setting (§6 "Environment variables",
// plus the run-identifying parameters §4.7's lifecycle is instantiated
// with).
type Config struct {
	GatewayURL string
	HMACSecret string
	LogLevel   string

	RunID           string
	CapabilityToken string
	ClientToken     string // host identity token for self-registration (§4.7 step 1); optional, failures are non-fatal
	WorkingDir      string
	Autonomous      bool
	WorkerType      string
	Model           string
	InitialPrompt   string // empty means start(initial_prompt?) with no prompt: listener mode

	SandboxRoot string
	DataDir     string

	PollInterval    int64 // seconds, kept as int64 to mirror gatewayd's int64 flag style
	HeartbeatPeriod int64 // seconds

	AllowSelfSignedCerts bool
}

// RegisterFlags binds cfg's fields to cmd's persistent flags, defaulting
// each to its environment variable when set.
func RegisterFlags(cmd *cobra.Command, cfg *Config) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfg.GatewayURL, "gateway-url", envOrDefault("GATEWAY_URL", "http://localhost:8080"), "Gateway base URL")
	flags.StringVar(&cfg.HMACSecret, "hmac-secret", envOrDefault("HMAC_SECRET", ""), "Shared HMAC secret for request signing (required, must match the gateway)")
	flags.StringVar(&cfg.LogLevel, "log-level", envOrDefault("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	flags.StringVar(&cfg.RunID, "run-id", envOrDefault("RUN_ID", ""), "Run id to supervise (required)")
	flags.StringVar(&cfg.CapabilityToken, "capability-token", envOrDefault("CAPABILITY_TOKEN", ""), "Capability token for the run (required)")
	flags.StringVar(&cfg.ClientToken, "client-token", envOrDefault("CLIENT_TOKEN", ""), "Host client token for self-registration, issued once by an admin (optional)")
	flags.StringVar(&cfg.WorkingDir, "working-dir", envOrDefault("WORKING_DIR", ""), "Initial working directory, relative to the sandbox root")
	flags.BoolVar(&cfg.Autonomous, "autonomous", envOrDefault("AUTONOMOUS", "false") == "true", "Run the worker in autonomous (no confirmation prompts) mode")
	flags.StringVar(&cfg.WorkerType, "worker-type", envOrDefault("WORKER_TYPE", ""), "Worker registry kind (required)")
	flags.StringVar(&cfg.Model, "model", envOrDefault("MODEL", ""), "Model override passed to the worker, if it supports one")
	flags.StringVar(&cfg.InitialPrompt, "initial-prompt", envOrDefault("INITIAL_PROMPT", ""), "Initial prompt to launch the worker with; omit to start in listener mode (§4.7)")

	flags.StringVar(&cfg.SandboxRoot, "sandbox-root", envOrDefault("SANDBOX_ROOT", "."), "Filesystem root every working directory must resolve within (§4.9)")
	flags.StringVar(&cfg.DataDir, "data-dir", envOrDefault("DATA_DIR", "./runs"), "Directory for local run state and logs")

	flags.Int64Var(&cfg.PollInterval, "poll-interval", envOrDefaultInt64("POLL_INTERVAL", 2), "Command poll interval in seconds")
	flags.Int64Var(&cfg.HeartbeatPeriod, "heartbeat-period", envOrDefaultInt64("HEARTBEAT_PERIOD", 10), "Heartbeat period in seconds")

	flags.BoolVar(&cfg.AllowSelfSignedCerts, "allow-self-signed-certs", envOrDefault("ALLOW_SELF_SIGNED_CERTS", "false") == "true", "Accept self-signed TLS certificates from the gateway")
}

// Validate checks the settings that have no safe default.
func (c *Config) Validate() error {
	if c.HMACSecret == "" {
		return fmt.Errorf("config: HMAC_SECRET is required")
	}
	if c.RunID == "" {
		return fmt.Errorf("config: --run-id is required")
	}
	if c.CapabilityToken == "" {
		return fmt.Errorf("config: --capability-token is required")
	}
	if c.WorkerType == "" {
		return fmt.Errorf("config: --worker-type is required")
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
		var n int64
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return defaultVal
}
