// Package config loads broker and relay configuration from an optional YAML
// file with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"
)

var envVarRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Config holds all settings shared by the control plane and the relay.
type Config struct {
	DatabasePath  string `yaml:"database_path"`
	DataDir       string `yaml:"data_dir"`
	RecordingsDir string `yaml:"recordings_dir"`

	JWTSecret             string `yaml:"jwt_secret"`
	JWTRefreshSecret      string `yaml:"jwt_refresh_secret"`
	AccessTokenTTLMinutes int    `yaml:"access_token_ttl_minutes"`
	RefreshTokenTTLDays   int    `yaml:"refresh_token_ttl_days"`

	RelayTokenSecret     string `yaml:"relay_token_secret"`
	RelayTokenTTLMinutes int    `yaml:"relay_token_ttl_minutes"`
	RelayPublicWSURL     string `yaml:"relay_public_ws_url"`
	RelayAPIKey          string `yaml:"relay_api_key"`
	ControlPlaneURL      string `yaml:"control_plane_url"`

	VaultAddr  string `yaml:"vault_addr"`
	VaultToken string `yaml:"vault_token"`
	VaultMount string `yaml:"vault_mount"`

	SweepIntervalSeconds   int  `yaml:"sweep_interval_seconds"`
	AllowAdminRegistration bool `yaml:"allow_admin_registration"`
}

// Default returns the development defaults. Every value can be overridden by
// the config file or by environment variables.
func Default() *Config {
	return &Config{
		DatabasePath:           "pamgate.db",
		DataDir:                "/data",
		RecordingsDir:          "/data/recordings",
		JWTSecret:              "dev-jwt-secret",
		JWTRefreshSecret:       "dev-refresh-secret",
		AccessTokenTTLMinutes:  30,
		RefreshTokenTTLDays:    7,
		RelayTokenSecret:       "dev-relay-secret",
		RelayTokenTTLMinutes:   5,
		RelayPublicWSURL:       "ws://localhost:8081/ws",
		RelayAPIKey:            "dev-relay-key",
		ControlPlaneURL:        "http://localhost:8080",
		VaultAddr:              "http://vault:8200",
		VaultToken:             "root",
		VaultMount:             "secret",
		SweepIntervalSeconds:   60,
		AllowAdminRegistration: false,
	}
}

// Load builds a Config from defaults, then the YAML file at path (if path is
// non-empty), then environment variables. ${VAR} references in the file are
// substituted from the environment before parsing.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		content := envVarRegex.ReplaceAllStringFunc(string(data), func(match string) string {
			varName := match[2 : len(match)-1]
			if value := os.Getenv(varName); value != "" {
				return value
			}
			return match
		})
		if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.DatabasePath, "DATABASE_PATH")
	setString(&cfg.DataDir, "DATA_DIR")
	setString(&cfg.RecordingsDir, "RECORDINGS_DIR")
	setString(&cfg.JWTSecret, "JWT_SECRET")
	setString(&cfg.JWTRefreshSecret, "JWT_REFRESH_SECRET")
	setInt(&cfg.AccessTokenTTLMinutes, "ACCESS_TOKEN_EXPIRES_MINUTES")
	setInt(&cfg.RefreshTokenTTLDays, "REFRESH_TOKEN_EXPIRES_DAYS")
	setString(&cfg.RelayTokenSecret, "RELAY_TOKEN_SECRET")
	setInt(&cfg.RelayTokenTTLMinutes, "RELAY_TOKEN_EXPIRES_MINUTES")
	setString(&cfg.RelayPublicWSURL, "RELAY_PUBLIC_WS_URL")
	setString(&cfg.RelayAPIKey, "RELAY_API_KEY")
	setString(&cfg.ControlPlaneURL, "CONTROL_PLANE_URL")
	setString(&cfg.VaultAddr, "VAULT_ADDR")
	setString(&cfg.VaultToken, "VAULT_TOKEN")
	setString(&cfg.VaultMount, "VAULT_KV_MOUNT")
	setInt(&cfg.SweepIntervalSeconds, "SWEEP_INTERVAL_SECONDS")
	setBool(&cfg.AllowAdminRegistration, "ALLOW_ADMIN_REGISTRATION")
}

func setString(dst *string, name string) {
	if value := os.Getenv(name); value != "" {
		*dst = value
	}
}

func setInt(dst *int, name string) {
	value := os.Getenv(name)
	if value == "" {
		return
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return
	}
	*dst = parsed
}

func setBool(dst *bool, name string) {
	value := os.Getenv(name)
	if value == "" {
		return
	}
	switch value {
	case "1", "true", "yes", "on", "TRUE", "True":
		*dst = true
	case "0", "false", "no", "off", "FALSE", "False":
		*dst = false
	}
}
