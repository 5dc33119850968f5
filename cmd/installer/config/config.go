// Package config loads the installer's provisioning configuration. The
// configuration is built once at startup and passed to every component; it
// must not be modified after Load returns.
package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/ghodss/yaml"
	"github.com/joho/godotenv"
	"github.com/privatix/dapp-installer/lib/patch"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Duration is a time.Duration that decodes from strings such as "180s".
type Duration time.Duration

// UnmarshalJSON accepts a Go duration string or an integer nanosecond count.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("duration must be a string or integer: %s", b)
	}
	*d = Duration(n)
	return nil
}

// MarshalJSON encodes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

type Config struct {
	Artifacts    ArtifactsConfig    `json:"artifacts"`
	Paths        PathsConfig        `json:"paths"`
	Units        UnitsConfig        `json:"units"`
	VPN          VPNConfig          `json:"vpn"`
	Network      NetworkConfig      `json:"network"`
	Readiness    ReadinessConfig    `json:"readiness"`
	Database     DatabaseConfig     `json:"database"`
	ControlPlane ControlPlaneConfig `json:"control_plane"`
	TestData     TestDataConfig     `json:"test_data"`
	GUI          GUIConfig          `json:"gui"`
	Platform     PlatformConfig     `json:"platform"`
	Rollback     RollbackConfig     `json:"rollback"`
	Log          LogConfig          `json:"log"`
	Otel         OtelConfig         `json:"otel"`
}

type ArtifactsConfig struct {
	BaseURL string `json:"base_url"`
	// Files is fetched in order.
	Files []string `json:"files"`
	// Components are extraction targets; an archive belongs to the first
	// component whose name appears in the archive's file name.
	Components  []string `json:"components"`
	MaxSize     string   `json:"max_size"`
	HTTPTimeout Duration `json:"http_timeout"`
}

// MaxBytes returns the extraction size cap in bytes.
func (a ArtifactsConfig) MaxBytes() (int64, error) {
	var ds datasize.ByteSize
	if err := ds.UnmarshalText([]byte(a.MaxSize)); err != nil {
		return 0, fmt.Errorf("invalid artifacts.max_size %q: %w", a.MaxSize, err)
	}
	return int64(ds.Bytes()), nil
}

type PathsConfig struct {
	DownloadDir string `json:"download_dir"`
	UnitDir     string `json:"unit_dir"`
	StateDir    string `json:"state_dir"`
}

type UnitsConfig struct {
	VPN         string      `json:"vpn"`
	Common      string      `json:"common"`
	SettleDelay Duration    `json:"settle_delay"`
	Rules       patch.Rules `json:"rules"`
}

type VPNConfig struct {
	Component     string      `json:"component"`
	ServerConf    string      `json:"server_conf"`
	Rules         patch.Rules `json:"rules"`
	TemplateURL   string      `json:"template_url"`
	AdapterConfig string      `json:"adapter_config"`
}

type NetworkConfig struct {
	Address        string   `json:"address"`
	Mask           string   `json:"mask"`
	Port           int      `json:"port"`
	TunnelFallback string   `json:"tunnel_fallback"`
	TunnelPattern  string   `json:"tunnel_pattern"`
	ProbeHost      string   `json:"probe_host"`
	ProbeTimeout   Duration `json:"probe_timeout"`
}

type ReadinessConfig struct {
	ServiceTimeout  Duration `json:"service_timeout"`
	ServiceInterval Duration `json:"service_interval"`
	DBTimeout       Duration `json:"db_timeout"`
	DBInterval      Duration `json:"db_interval"`
}

type DatabaseConfig struct {
	Component   string            `json:"component"`
	Defaults    map[string]string `json:"defaults"`
	Log         string            `json:"log"`
	ReadyMarker string            `json:"ready_marker"`
}

type ControlPlaneConfig struct {
	Component       string `json:"component"`
	ConfigURL       string `json:"config_url"`
	LocalConfig     string `json:"local_config"`
	PayAddressField string `json:"pay_address_field"`
	// PublicIPURL enables the pay address rewrite when non-empty.
	PublicIPURL     string `json:"public_ip_url"`
	DeferredCommand string `json:"deferred_command"`
}

type TestDataConfig struct {
	URL     string `json:"url"`
	Command string `json:"command"`
}

type GUIConfig struct {
	ScriptURL    string   `json:"script_url"`
	ScriptRunner string   `json:"script_runner"`
	Commands     []string `json:"commands"`
}

type Distribution struct {
	MinVersion     string   `json:"min_version"`
	Prepare        []string `json:"prepare,omitempty"`
	SystemdUpgrade string   `json:"systemd_upgrade,omitempty"`
	Commands       []string `json:"commands"`
}

type PlatformConfig struct {
	OSRelease              string                  `json:"os_release"`
	SystemdMinVersion      int                     `json:"systemd_min_version"`
	SystemdUpgradeAttempts int                     `json:"systemd_upgrade_attempts"`
	Distributions          map[string]Distribution `json:"distributions"`
}

type RollbackConfig struct {
	RevertIPForward bool `json:"revert_ip_forward"`
	RemoveArtifacts bool `json:"remove_artifacts"`
}

type LogConfig struct {
	Level string `json:"level"`
	File  string `json:"file"`
}

type OtelConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint"`
	ServiceName string `json:"service_name"`
	Insecure    bool   `json:"insecure"`
}

// Load builds the configuration from the embedded defaults, an optional
// override file named by INSTALLER_CONFIG, and environment variables.
// A .env file in the working directory is loaded first if present.
func Load() (*Config, error) {
	// Try to load .env file (fail silently if not present)
	_ = godotenv.Load()

	cfg, err := Parse(defaultsYAML)
	if err != nil {
		return nil, fmt.Errorf("embedded defaults: %w", err)
	}

	if path := os.Getenv("INSTALLER_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config override: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config override %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a YAML document into a Config without validating it.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Default returns the embedded defaults. It panics if they do not parse,
// which would be a build defect.
func Default() *Config {
	cfg, err := Parse(defaultsYAML)
	if err != nil {
		panic(err)
	}
	return cfg
}

func applyEnv(cfg *Config) {
	cfg.Artifacts.BaseURL = getEnv("ARTIFACT_BASE_URL", cfg.Artifacts.BaseURL)
	cfg.Paths.DownloadDir = getEnv("DOWNLOAD_DIR", cfg.Paths.DownloadDir)
	cfg.Paths.UnitDir = getEnv("UNIT_DIR", cfg.Paths.UnitDir)
	cfg.Paths.StateDir = getEnv("STATE_DIR", cfg.Paths.StateDir)
	cfg.Network.Address = getEnv("DEFAULT_ADDRESS", cfg.Network.Address)
	cfg.Network.Port = getEnvInt("VPN_PORT", cfg.Network.Port)
	cfg.ControlPlane.ConfigURL = getEnv("CONTROL_PLANE_CONFIG_URL", cfg.ControlPlane.ConfigURL)
	cfg.ControlPlane.PublicIPURL = getEnv("PUBLIC_IP_URL", cfg.ControlPlane.PublicIPURL)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)
	cfg.Otel.Enabled = getEnvBool("OTEL_ENABLED", cfg.Otel.Enabled)
	cfg.Otel.Endpoint = getEnv("OTEL_ENDPOINT", cfg.Otel.Endpoint)
	cfg.Rollback.RemoveArtifacts = getEnvBool("ROLLBACK_REMOVE_ARTIFACTS", cfg.Rollback.RemoveArtifacts)
}

// Validate checks the configuration for values that would only fail deep
// inside a provisioning run.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Artifacts.BaseURL == "" {
		add("artifacts.base_url is required")
	}
	if len(c.Artifacts.Files) == 0 {
		add("artifacts.files is empty")
	}
	if _, err := c.Artifacts.MaxBytes(); err != nil {
		add("%v", err)
	}
	if c.Paths.DownloadDir == "" || c.Paths.UnitDir == "" || c.Paths.StateDir == "" {
		add("paths.download_dir, paths.unit_dir and paths.state_dir are required")
	}
	if c.Units.VPN == "" || c.Units.Common == "" {
		add("units.vpn and units.common are required")
	}
	if err := c.Units.Rules.Validate(); err != nil {
		add("units.rules: %v", err)
	}
	if err := c.VPN.Rules.Validate(); err != nil {
		add("vpn.rules: %v", err)
	}
	if c.Network.Port <= 0 || c.Network.Port > 65535 {
		add("network.port %d out of range", c.Network.Port)
	}
	if !strings.HasPrefix(c.Network.Mask, "/") {
		add("network.mask %q must be a prefix such as /24", c.Network.Mask)
	}
	if _, err := regexp.Compile(c.Network.TunnelPattern); err != nil {
		add("network.tunnel_pattern: %v", err)
	}
	if c.Readiness.ServiceInterval <= 0 || c.Readiness.DBInterval <= 0 {
		add("readiness intervals must be positive")
	}
	if len(c.Platform.Distributions) == 0 {
		add("platform.distributions is empty")
	}
	if c.Platform.SystemdUpgradeAttempts < 1 {
		add("platform.systemd_upgrade_attempts must be at least 1")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
