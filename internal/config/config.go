// Package config loads the YAML configuration file described in
// spec.md §6: a plugin directory and an ordered list of servers, each
// with an ordered plugin chain. It mirrors
// original_source/rubydns/src/config.rs and
// original_source/rubydns/src/plugins/config.rs, where the plugin's
// own configuration is whatever YAML keys are left over after "name"
// and "plugin_path" are taken out (serde's #[serde(flatten)]).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PluginConfig is one entry in a server's plugin list.
type PluginConfig struct {
	Name       string
	PluginPath string // empty means plugin_dir/<name>.wasm

	// Config holds every YAML key besides "name" and "plugin_path",
	// re-serializable to canonical YAML text for hand-off to the guest.
	Config map[string]interface{}
}

// ServerConfig describes one UDP listener and its plugin chain.
type ServerConfig struct {
	ListenAddr string
	Plugins    []PluginConfig
}

// Config is the top-level YAML document.
type Config struct {
	PluginDir  string
	MetricsAddr string // optional; empty disables the metrics listener
	Servers    []ServerConfig
}

// rawConfig mirrors Config's shape for yaml.v3 decoding, before the
// plugin sub-mappings are split into name/plugin_path/config.
type rawConfig struct {
	PluginDir   string          `yaml:"plugin_dir"`
	MetricsAddr string          `yaml:"metrics_addr"`
	Servers     []rawServer     `yaml:"servers"`
}

type rawServer struct {
	ListenAddr string            `yaml:"listen_addr"`
	Plugins    []yaml.Node       `yaml:"plugins"`
}

// Load reads and decodes the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes raw YAML bytes into a Config.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if raw.PluginDir == "" {
		return nil, fmt.Errorf("config: plugin_dir is required")
	}
	if len(raw.Servers) == 0 {
		return nil, fmt.Errorf("config: at least one server is required")
	}

	cfg := &Config{PluginDir: raw.PluginDir, MetricsAddr: raw.MetricsAddr}
	for i, rs := range raw.Servers {
		if rs.ListenAddr == "" {
			return nil, fmt.Errorf("config: servers[%d].listen_addr is required", i)
		}
		sc := ServerConfig{ListenAddr: rs.ListenAddr}
		for j, node := range rs.Plugins {
			pc, err := decodePlugin(&node)
			if err != nil {
				return nil, fmt.Errorf("config: servers[%d].plugins[%d]: %w", i, j, err)
			}
			sc.Plugins = append(sc.Plugins, pc)
		}
		if len(sc.Plugins) == 0 {
			return nil, fmt.Errorf("config: servers[%d]: at least one plugin is required", i)
		}
		cfg.Servers = append(cfg.Servers, sc)
	}
	return cfg, nil
}

// decodePlugin splits one plugin's YAML mapping into its reserved keys
// (name, plugin_path) and everything else (config).
func decodePlugin(node *yaml.Node) (PluginConfig, error) {
	var whole map[string]interface{}
	if err := node.Decode(&whole); err != nil {
		return PluginConfig{}, fmt.Errorf("decode plugin entry: %w", err)
	}

	pc := PluginConfig{Config: make(map[string]interface{})}
	for k, v := range whole {
		switch k {
		case "name":
			name, ok := v.(string)
			if !ok {
				return PluginConfig{}, fmt.Errorf("name must be a string")
			}
			pc.Name = name
		case "plugin_path":
			path, ok := v.(string)
			if !ok {
				return PluginConfig{}, fmt.Errorf("plugin_path must be a string")
			}
			pc.PluginPath = path
		default:
			pc.Config[k] = v
		}
	}
	if pc.Name == "" {
		return PluginConfig{}, fmt.Errorf("name is required")
	}
	return pc, nil
}

// CanonicalText re-serializes a plugin's config mapping to YAML text,
// the form handed to the guest via load_config (spec §4.1, §6).
func (p PluginConfig) CanonicalText() (string, error) {
	out, err := yaml.Marshal(p.Config)
	if err != nil {
		return "", fmt.Errorf("config: marshal plugin %q config: %w", p.Name, err)
	}
	return string(out), nil
}
