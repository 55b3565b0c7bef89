// Package config loads and hot-reloads the daemon's configuration,
// grounded on the teacher's server/config/config.go (a struct loaded from a
// file, read with a getter, refreshed on demand) but sourced from YAML via
// gopkg.in/yaml.v3 instead of JSON, per spec §6.4.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds every recognized key of spec §6.4.
type Config struct {
	BasePath        string   `yaml:"base_path"`
	BasePort        int      `yaml:"base_port"`
	DaemonPort      int      `yaml:"daemon_port"`
	ListenAddresses []string `yaml:"listen_addresses"`
	ListenSockets   []string `yaml:"listen_sockets"`

	// InjectToolbar and ReadOnlyDefault are hot-reloadable policy flags
	// (spec §6.4's "injection toggles, read-only policies" example). They
	// are loaded and compared by Diff; no request path reads them.
	InjectToolbar   bool `yaml:"inject_toolbar"`
	ReadOnlyDefault bool `yaml:"read_only_default"`
}

// restartKeys requires a daemon restart to take effect (spec §6.4); every
// other recognized key may be hot-applied.
var restartKeys = map[string]bool{
	"daemon_port":      true,
	"base_path":        true,
	"base_port":        true,
	"listen_addresses": true,
	"listen_sockets":   true,
}

// Default returns the built-in configuration used when no file is present.
func Default() Config {
	return Config{
		BasePath:        "/ttyd-mux",
		BasePort:        7600,
		DaemonPort:      7680,
		ListenAddresses: []string{"127.0.0.1"},
	}
}

// Load reads YAML configuration from path, overlaying it onto Default().
// A missing file is not an error: the default configuration is returned
// unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Diff compares old and new, reporting which recognized keys changed,
// split into ones that were hot-applied and ones that require a restart to
// take effect — the payload the ControlPlane's "reload" command returns.
func Diff(old, new Config) (applied []string, requiresRestart []string) {
	mark := func(name string, equal bool) {
		if equal {
			return
		}
		if restartKeys[name] {
			requiresRestart = append(requiresRestart, name)
		} else {
			applied = append(applied, name)
		}
	}

	mark("base_path", old.BasePath == new.BasePath)
	mark("base_port", old.BasePort == new.BasePort)
	mark("daemon_port", old.DaemonPort == new.DaemonPort)
	mark("listen_addresses", stringSliceEqual(old.ListenAddresses, new.ListenAddresses))
	mark("listen_sockets", stringSliceEqual(old.ListenSockets, new.ListenSockets))
	mark("inject_toolbar", old.InjectToolbar == new.InjectToolbar)
	mark("read_only_default", old.ReadOnlyDefault == new.ReadOnlyDefault)

	return applied, requiresRestart
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
