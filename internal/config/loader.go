// Package config provides configuration loading for the gateway.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and
// environment variables. If configFile is empty, it searches for
// mcp-gateway.yaml/.yml in standard locations.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		viper.SetConfigName("mcp-gateway")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("MCP_GATEWAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
	bindLegacyEnvKeys()
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{".", filepath.Join(home, ".mcp-gateway"), "/etc/mcp-gateway"}
	return findConfigFileInPaths(paths)
}

func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "mcp-gateway"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds every config key for MCP_GATEWAY_-prefixed
// environment variable support (e.g. MCP_GATEWAY_SERVER_PORT).
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.port")
	_ = viper.BindEnv("server.addr")
	_ = viper.BindEnv("server.log_level")
	_ = viper.BindEnv("storage.dir")
	_ = viper.BindEnv("capture.channel_size")
	_ = viper.BindEnv("capture.batch_size")
	_ = viper.BindEnv("capture.flush_interval")
	_ = viper.BindEnv("capture.send_timeout")
	_ = viper.BindEnv("health.interval_ms")
	_ = viper.BindEnv("management_token")
	_ = viper.BindEnv("dev_mode")
}

// bindLegacyEnvKeys binds the documented bare environment variable
// names (STORAGE_DIR, PORT, LOG_LEVEL, MCP_GATEWAY_TOKEN) as an
// additional source, so the gateway honors them without the
// MCP_GATEWAY_ prefix Viper would otherwise require.
func bindLegacyEnvKeys() {
	_ = viper.BindEnv("storage.dir", "STORAGE_DIR")
	_ = viper.BindEnv("server.port", "PORT")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("management_token", "MCP_GATEWAY_TOKEN")
}

// LoadConfig reads the configuration file, applies environment
// overrides, sets defaults, generates a management token if none was
// configured, and validates the result.
func LoadConfig() (*GatewayConfig, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg GatewayConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()

	generated := false
	if cfg.ManagementToken == "" {
		token, err := generateToken()
		if err != nil {
			return nil, fmt.Errorf("generate management token: %w", err)
		}
		cfg.ManagementToken = token
		generated = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if generated {
		fmt.Fprintf(os.Stderr, "generated management token: %s\n", cfg.ManagementToken)
	}

	return &cfg, nil
}

func generateToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// ConfigFileUsed returns the path to the configuration file that was
// loaded, or "" if none was found (env vars only).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
