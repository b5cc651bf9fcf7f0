package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Settings holds all master-side configuration. Values come from an
// optional YAML master config file overlaid by KEYWARD_* environment
// variables (environment wins).
type Settings struct {
	ListenAddr   string `envconfig:"LISTEN_ADDR" yaml:"listen_addr" default:":8400"`
	DataPath     string `envconfig:"DATA_PATH" yaml:"data_path" default:"/var/lib/keyward"`
	PKIDir       string `envconfig:"PKI_DIR" yaml:"pki_dir" default:""`
	CacheDir     string `envconfig:"CACHE_DIR" yaml:"cache_dir" default:""`
	DatabasePath string `envconfig:"DATABASE_PATH" yaml:"database_path" default:""`
	LogPath      string `envconfig:"LOG_PATH" yaml:"log_path" default:""`

	// Keystore backend: "fs" (partition directories under PKIDir) or
	// "sqlite" (rows in the main database).
	StoreBackend string `envconfig:"STORE_BACKEND" yaml:"store_backend" default:"fs"`

	// Key generation settings. Requests below MinKeyBits are raised to
	// the minimum, never rejected.
	MinKeyBits     int    `envconfig:"MIN_KEY_BITS" yaml:"min_key_bits" default:"2048"`
	DefaultKeyBits int    `envconfig:"DEFAULT_KEY_BITS" yaml:"default_key_bits" default:"2048"`
	GenDir         string `envconfig:"GEN_DIR" yaml:"gen_dir" default:""`

	// Session invalidation. When InvalidateEndpoint is set the engine
	// POSTs there after trust-affecting transitions; otherwise a rotation
	// dropfile is written under CacheDir. RotateSessionKey disables the
	// side effect entirely when false.
	InvalidateEndpoint string `envconfig:"INVALIDATE_ENDPOINT" yaml:"invalidate_endpoint" default:""`
	RotateSessionKey   bool   `envconfig:"ROTATE_SESSION_KEY" yaml:"rotate_session_key" default:"true"`

	AssumeYes          bool `envconfig:"ASSUME_YES" yaml:"assume_yes" default:"false"`
	AuthDisabled       bool `envconfig:"AUTH_DISABLED" yaml:"auth_disabled" default:"false"`
	AuditRetentionDays int  `envconfig:"AUDIT_RETENTION_DAYS" yaml:"audit_retention_days" default:"90"`
}

var Cfg Settings

// Load populates Cfg from the optional YAML config file named by
// KEYWARD_CONFIG (or the given path when non-empty) and then from the
// environment. Derived paths are resolved afterwards.
func Load(configFile string) {
	if configFile == "" {
		configFile = os.Getenv("KEYWARD_CONFIG")
	}

	cfg := Settings{}
	if err := envconfig.Process("KEYWARD", &cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if configFile != "" {
		fileCfg := cfg
		if err := loadFile(configFile, &fileCfg); err != nil {
			log.Fatalf("failed to load config file: %v", err)
		}
		// Environment variables that are explicitly set win over the file.
		applyEnvOverrides(&fileCfg, &cfg)
		cfg = fileCfg
	}

	cfg.resolvePaths()
	Cfg = cfg
}

// loadFile parses a YAML master config into s. Keys absent from the file
// keep their current values, so envconfig defaults still apply for them.
func loadFile(path string, s *Settings) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides copies env-set string fields from env into dst.
// envconfig already resolved env values into env; only fields whose
// KEYWARD_* variable is present override the file.
func applyEnvOverrides(dst, env *Settings) {
	overrides := []struct {
		name string
		set  func()
	}{
		{"KEYWARD_LISTEN_ADDR", func() { dst.ListenAddr = env.ListenAddr }},
		{"KEYWARD_DATA_PATH", func() { dst.DataPath = env.DataPath }},
		{"KEYWARD_PKI_DIR", func() { dst.PKIDir = env.PKIDir }},
		{"KEYWARD_CACHE_DIR", func() { dst.CacheDir = env.CacheDir }},
		{"KEYWARD_DATABASE_PATH", func() { dst.DatabasePath = env.DatabasePath }},
		{"KEYWARD_LOG_PATH", func() { dst.LogPath = env.LogPath }},
		{"KEYWARD_STORE_BACKEND", func() { dst.StoreBackend = env.StoreBackend }},
		{"KEYWARD_MIN_KEY_BITS", func() { dst.MinKeyBits = env.MinKeyBits }},
		{"KEYWARD_DEFAULT_KEY_BITS", func() { dst.DefaultKeyBits = env.DefaultKeyBits }},
		{"KEYWARD_GEN_DIR", func() { dst.GenDir = env.GenDir }},
		{"KEYWARD_INVALIDATE_ENDPOINT", func() { dst.InvalidateEndpoint = env.InvalidateEndpoint }},
		{"KEYWARD_ROTATE_SESSION_KEY", func() { dst.RotateSessionKey = env.RotateSessionKey }},
		{"KEYWARD_ASSUME_YES", func() { dst.AssumeYes = env.AssumeYes }},
		{"KEYWARD_AUTH_DISABLED", func() { dst.AuthDisabled = env.AuthDisabled }},
		{"KEYWARD_AUDIT_RETENTION_DAYS", func() { dst.AuditRetentionDays = env.AuditRetentionDays }},
	}
	for _, o := range overrides {
		if _, ok := os.LookupEnv(o.name); ok {
			o.set()
		}
	}
}

// resolvePaths fills in paths that default relative to DataPath.
func (s *Settings) resolvePaths() {
	if s.PKIDir == "" {
		s.PKIDir = filepath.Join(s.DataPath, "pki")
	}
	if s.CacheDir == "" {
		s.CacheDir = filepath.Join(s.DataPath, "cache")
	}
	if s.DatabasePath == "" {
		s.DatabasePath = filepath.Join(s.DataPath, "keyward.db")
	}
	if s.LogPath == "" {
		s.LogPath = filepath.Join(s.DataPath, "keyward.log")
	}
	if s.GenDir == "" {
		s.GenDir = filepath.Join(s.PKIDir, "generated")
	}
}
