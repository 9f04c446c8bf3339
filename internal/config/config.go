// Package config loads and validates the daemon's configuration, grounded
// on the teacher's viper-backed config loader: mapstructure-tagged fields,
// a Default(), a Load(path) that reads a YAML file plus environment
// overrides, and tiered validation separating fatal errors from warnings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

// ClientEntry is one configured peer, as written in the config file.
type ClientEntry struct {
	Hostname string   `mapstructure:"hostname"`
	Ports    []int    `mapstructure:"ports"`
	Position string   `mapstructure:"position"`
	HookCmd  string   `mapstructure:"hook_cmd"`
}

// Config is the full daemon configuration.
type Config struct {
	ListenPort int           `mapstructure:"listen_port"`
	Clients    []ClientEntry `mapstructure:"clients"`

	CaptureBackend   string `mapstructure:"capture_backend"`
	EmulationBackend string `mapstructure:"emulation_backend"`

	// ReleaseBind is the set of keycodes that, all held simultaneously,
	// force capture to release.
	ReleaseBind []uint32 `mapstructure:"release_bind"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	IPCSocketPath string `mapstructure:"ipc_socket_path"`

	PingIntervalMS int `mapstructure:"ping_interval_ms"`
	TTLMS          int `mapstructure:"ttl_ms"`
}

// Default returns the configuration used when no file or flags override
// it.
func Default() *Config {
	return &Config{
		ListenPort:       4242,
		CaptureBackend:   "fake",
		EmulationBackend: "fake",
		ReleaseBind:      nil,
		LogLevel:         "info",
		LogFormat:        "text",
		IPCSocketPath:    defaultSocketPath(),
		PingIntervalMS:   2000,
		TTLMS:            10000,
	}
}

func defaultSocketPath() string {
	if runtime.GOOS == "windows" {
		return `\\.\pipe\lanmouse`
	}
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "lanmouse.sock")
}

// Load reads the config file at path (if non-empty) merged over Default,
// with LANMOUSE_-prefixed environment variable overrides, then runs
// tiered validation.
func Load(path string) (*Config, []string, error) {
	v := viper.New()
	def := Default()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("LANMOUSE")
	v.AutomaticEnv()

	setDefaults(v, def)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	warnings, fatals := validateTiered(cfg)
	if len(fatals) > 0 {
		return nil, warnings, fmt.Errorf("config: invalid configuration: %w", fatals[0])
	}
	return cfg, warnings, nil
}

func setDefaults(v *viper.Viper, def *Config) {
	v.SetDefault("listen_port", def.ListenPort)
	v.SetDefault("capture_backend", def.CaptureBackend)
	v.SetDefault("emulation_backend", def.EmulationBackend)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("log_format", def.LogFormat)
	v.SetDefault("ipc_socket_path", def.IPCSocketPath)
	v.SetDefault("ping_interval_ms", def.PingIntervalMS)
	v.SetDefault("ttl_ms", def.TTLMS)
}

// validateTiered splits validation problems into warnings (config is
// usable but something looks off) and fatals (config cannot be used).
func validateTiered(cfg *Config) (warnings []string, fatals []error) {
	if cfg.ListenPort <= 0 || cfg.ListenPort > 65535 {
		fatals = append(fatals, fmt.Errorf("listen_port %d out of range", cfg.ListenPort))
	}
	if cfg.PingIntervalMS <= 0 {
		fatals = append(fatals, fmt.Errorf("ping_interval_ms must be positive"))
	}
	if cfg.TTLMS <= 0 {
		fatals = append(fatals, fmt.Errorf("ttl_ms must be positive"))
	}
	if cfg.TTLMS > 0 && cfg.PingIntervalMS > 0 && cfg.TTLMS < cfg.PingIntervalMS {
		warnings = append(warnings, "ttl_ms is shorter than ping_interval_ms; clients may be declared dead between pings")
	}
	for _, c := range cfg.Clients {
		if c.Hostname == "" {
			fatals = append(fatals, fmt.Errorf("client entry missing hostname"))
			continue
		}
		if len(c.Ports) == 0 {
			warnings = append(warnings, fmt.Sprintf("client %q has no ports configured, defaulting to listen_port", c.Hostname))
		}
		switch c.Position {
		case "left", "right", "top", "bottom":
		default:
			fatals = append(fatals, fmt.Errorf("client %q has invalid position %q", c.Hostname, c.Position))
		}
	}
	return warnings, fatals
}
