// Package config merges command-line flags, environment variables, and
// an optional .env file into the runtime configuration. Flags win over
// env; env wins over flag defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Config is the validated runtime configuration.
type Config struct {
	// Exchanges to collect; empty means every registered exchange.
	Exchanges          []string
	DebugExchanges     []string
	DebugLiveExchanges []string

	InstanceID     int
	TotalInstances int

	DBConnection string
	MetricsAddr  string
	// RedisAddr enables the live-rate fan-out when non-empty.
	RedisAddr string
}

// Flags holds the raw command-line values before the env merge.
type Flags struct {
	Exchanges          string
	DebugExchanges     string
	DebugLiveExchanges string
	InstanceID         int
	TotalInstances     int
}

// Register declares the command-line flags on the root command.
func Register(cmd *cobra.Command) *Flags {
	f := &Flags{}
	cmd.Flags().StringVar(&f.Exchanges, "exchanges", "", "comma-separated exchange ids to collect (default: all)")
	cmd.Flags().StringVar(&f.DebugExchanges, "debug-exchanges", "", "exchange ids whose cycle logs run at debug level")
	cmd.Flags().StringVar(&f.DebugLiveExchanges, "debug-exchanges-live", "", "exchange ids whose live-path logs run at debug level")
	cmd.Flags().IntVar(&f.InstanceID, "instance-id", 0, "zero-based shard index of this instance")
	cmd.Flags().IntVar(&f.TotalInstances, "total-instances", 1, "total number of collector instances")
	return f
}

// Load resolves the final configuration. A .env file in the working
// directory is read first, with real environment variables taking
// precedence over it.
func Load(cmd *cobra.Command, f *Flags) (*Config, error) {
	_ = godotenv.Load()

	instanceID, err := intValue(cmd, "instance-id", f.InstanceID, "INSTANCE_ID")
	if err != nil {
		return nil, err
	}
	totalInstances, err := intValue(cmd, "total-instances", f.TotalInstances, "TOTAL_INSTANCES")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Exchanges:          splitList(stringValue(cmd, "exchanges", f.Exchanges, "EXCHANGES")),
		DebugExchanges:     splitList(stringValue(cmd, "debug-exchanges", f.DebugExchanges, "DEBUG_EXCHANGES")),
		DebugLiveExchanges: splitList(stringValue(cmd, "debug-exchanges-live", f.DebugLiveExchanges, "DEBUG_EXCHANGES_LIVE")),
		InstanceID:         instanceID,
		TotalInstances:     totalInstances,
		DBConnection:       os.Getenv("DB_CONNECTION"),
		MetricsAddr:        getEnv("METRICS_ADDR", ":9102"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
	}

	if cfg.DBConnection == "" {
		return nil, fmt.Errorf("DB_CONNECTION is required")
	}
	return cfg, nil
}

// stringValue resolves one string setting: explicit flag, then env, then
// the flag's default.
func stringValue(cmd *cobra.Command, name, flagValue, envKey string) string {
	if cmd.Flags().Changed(name) {
		return flagValue
	}
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return flagValue
}

func intValue(cmd *cobra.Command, name string, flagValue int, envKey string) (int, error) {
	if cmd.Flags().Changed(name) {
		return flagValue, nil
	}
	if v := os.Getenv(envKey); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s %q: %w", envKey, v, err)
		}
		return n, nil
	}
	return flagValue, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// splitList parses a comma-separated id list, trimming and lowercasing
// each entry.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(strings.ToLower(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
