// Package config loads squibd's configuration file into a typed tree using
// viper and mapstructure, resolving the collector ("oxidizer") and
// reporter `class` names against a compile-time registry instead of the
// original's reflective class lookup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Error is returned for any problem with the configuration itself —
// missing required keys, unknown classes, malformed values — distinct
// from operational errors encountered later at runtime. cmd/squibd maps
// this to exit code 2.
type Error struct {
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("config: %s: %v", e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func configErr(key string, format string, args ...any) error {
	return &Error{Key: key, Err: fmt.Errorf(format, args...)}
}

// Common holds the common:: namespace from the original ini-like layout.
type Common struct {
	PidFile                  string `mapstructure:"pid_file"`
	LogFile                  string `mapstructure:"logfile"`
	LogLevel                 string `mapstructure:"loglevel"`
	Console                  bool   `mapstructure:"console"`
	ConsoleLogLevel          string `mapstructure:"console_loglevel"`
	MetricsSaveFile          string `mapstructure:"metrics_save_file"`
	OxidizersConfigDirectory string `mapstructure:"oxidizers_config_directory"`
	Selfstats                bool   `mapstructure:"selfstats"`
	NoDaemon                 bool   `mapstructure:"nodaemon"`
}

// Reporter configures one report sink. Class selects the dispatcher
// implementation from the registry in internal/agentd; the remaining
// fields are interpreted according to Class.
type Reporter struct {
	Class             string        `mapstructure:"class"`
	Period            time.Duration `mapstructure:"period"`
	DestinationAddr   string        `mapstructure:"destination_addr"`
	DestinationPort   int           `mapstructure:"destination_port"`
	MulticastAddr     string        `mapstructure:"multicast_addr"`
	MulticastPort     int           `mapstructure:"multicast_port"`
	MulticastTTL      int           `mapstructure:"multicast_ttl"`
	MulticastLoopback bool          `mapstructure:"multicast_loopback"`
	Listen            string        `mapstructure:"listen"`
	Reporters         []Reporter    `mapstructure:"reporters"`
}

// Oxidizer configures one supervised collector child. Class selects
// either a built-in collector binary name (cpu/mem/traffic/tcpsockets)
// or "exec", in which case Command gives the literal argv to launch.
type Oxidizer struct {
	Class        string            `mapstructure:"class"`
	Command      []string          `mapstructure:"command"`
	Priority     int               `mapstructure:"priority"`
	StartSecs    time.Duration     `mapstructure:"startsecs"`
	StartRetries int               `mapstructure:"startretries"`
	StopSignal   string            `mapstructure:"stopsignal"`
	StopWaitSecs time.Duration     `mapstructure:"stopwaitsecs"`
	Options      map[string]string `mapstructure:"options"`
}

// Config is the fully decoded configuration tree.
type Config struct {
	Common    Common              `mapstructure:"common"`
	Reporter  Reporter            `mapstructure:"reporter"`
	Oxidizers map[string]Oxidizer `mapstructure:"oxidizers"`
}

var knownReporterClasses = map[string]bool{
	"":            true, // falls back to SimpleLog, matching the original's behaviour
	"log":         true,
	"tcp":         true,
	"multicast":   true,
	"webpollable": true,
	"multi":       true,
}

var knownOxidizerClasses = map[string]bool{
	"cpu":        true,
	"mem":        true,
	"traffic":    true,
	"tcpsockets": true,
	"exec":       true,
}

// Load reads path (any format viper supports: YAML, TOML, JSON, INI) and
// decodes it into a Config, applying defaults and option overrides before
// validating class names.
func Load(path string, options []string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, configErr(path, "reading config file: %w", err)
		}
	}

	for _, opt := range options {
		key, val, err := parseOption(opt)
		if err != nil {
			return nil, err
		}
		v.Set(key, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, configErr("", "decoding config: %w", err)
	}

	if err := loadExtraOxidizers(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadExtraOxidizers reads one Oxidizer per file from
// common.oxidizers_config_directory, named after the file's basename
// minus extension, the way the original's configure_extra_oxidizers
// supported drop-in collector config files alongside the main config.
// A missing or absent directory is not an error. A name already present
// in cfg.Oxidizers (from the main config file) is left untouched.
func loadExtraOxidizers(cfg *Config) error {
	dir := cfg.Common.OxidizersConfigDirectory
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return configErr("common::oxidizers_config_directory", "reading %s: %w", dir, err)
	}

	if cfg.Oxidizers == nil {
		cfg.Oxidizers = make(map[string]Oxidizer)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if _, exists := cfg.Oxidizers[name]; exists {
			continue
		}

		ov := viper.New()
		ov.SetConfigFile(path)
		if err := ov.ReadInConfig(); err != nil {
			return configErr(name, "reading oxidizer config file %s: %w", path, err)
		}
		var ox Oxidizer
		if err := ov.Unmarshal(&ox); err != nil {
			return configErr(name, "decoding oxidizer config file %s: %w", path, err)
		}
		cfg.Oxidizers[name] = ox
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("common.loglevel", "info")
	v.SetDefault("common.selfstats", true)
	v.SetDefault("reporter.class", "log")
	v.SetDefault("reporter.period", 10*time.Second)
}

// parseOption implements --option K=V, where K is either "key" (applies
// to the common:: namespace, matching the original's "::key" -> DEFAULT
// shorthand) or "section::key", translated to viper's dotted form.
func parseOption(opt string) (key, val string, err error) {
	k, v, ok := strings.Cut(opt, "=")
	if !ok {
		return "", "", configErr("", "invalid --option %q: expected key=value", opt)
	}
	k = strings.TrimSpace(k)
	v = strings.TrimSpace(v)
	if k == "" || v == "" {
		return "", "", configErr("", "invalid --option %q: key and value must be non-empty", opt)
	}
	if section, rest, ok := strings.Cut(k, "::"); ok {
		if section == "" {
			section = "common"
		}
		return section + "." + rest, v, nil
	}
	return "common." + k, v, nil
}

func (c *Config) validate() error {
	if !knownReporterClasses[c.Reporter.Class] {
		return configErr("reporter::class", "unknown reporter class %q", c.Reporter.Class)
	}
	for _, r := range c.Reporter.Reporters {
		if !knownReporterClasses[r.Class] {
			return configErr("reporter::reporters", "unknown reporter class %q", r.Class)
		}
	}
	for name, ox := range c.Oxidizers {
		if !knownOxidizerClasses[ox.Class] {
			return configErr(name, "unknown oxidizer class %q", ox.Class)
		}
		if ox.Class == "exec" && len(ox.Command) == 0 {
			return configErr(name, "oxidizer class \"exec\" requires a non-empty command")
		}
	}
	return nil
}
