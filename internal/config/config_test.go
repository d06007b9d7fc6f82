package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseMinimal(t *testing.T) {
	doc := []byte(`
plugin_dir: /var/lib/dnswasm/plugins
servers:
  - listen_addr: 0.0.0.0:53
    plugins:
      - name: cache
        ttl_seconds: 300
      - name: proxy
        plugin_path: /opt/custom/proxy.wasm
        upstream: 1.1.1.1:53
`)
	cfg, err := Parse(doc)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/dnswasm/plugins", cfg.PluginDir)
	require.Len(t, cfg.Servers, 1)

	srv := cfg.Servers[0]
	assert.Equal(t, "0.0.0.0:53", srv.ListenAddr)
	require.Len(t, srv.Plugins, 2)

	cache := srv.Plugins[0]
	assert.Equal(t, "cache", cache.Name)
	assert.Empty(t, cache.PluginPath)
	assert.Equal(t, 300, cache.Config["ttl_seconds"])

	proxy := srv.Plugins[1]
	assert.Equal(t, "proxy", proxy.Name)
	assert.Equal(t, "/opt/custom/proxy.wasm", proxy.PluginPath)
	assert.Equal(t, "1.1.1.1:53", proxy.Config["upstream"])
}

func TestParseRequiresPluginDir(t *testing.T) {
	_, err := Parse([]byte(`servers: []`))
	assert.Error(t, err)
}

func TestParseRequiresAtLeastOneServer(t *testing.T) {
	_, err := Parse([]byte(`plugin_dir: /plugins`))
	assert.Error(t, err)
}

func TestParseRequiresPluginName(t *testing.T) {
	doc := []byte(`
plugin_dir: /plugins
servers:
  - listen_addr: 0.0.0.0:53
    plugins:
      - upstream: 1.1.1.1:53
`)
	_, err := Parse(doc)
	assert.Error(t, err)
}

func TestCanonicalTextRoundTrips(t *testing.T) {
	pc := PluginConfig{
		Name:   "cache",
		Config: map[string]interface{}{"ttl_seconds": 300, "max_entries": 1024},
	}
	text, err := pc.CanonicalText()
	require.NoError(t, err)
	assert.Contains(t, text, "ttl_seconds: 300")
	assert.Contains(t, text, "max_entries: 1024")

	var back map[string]interface{}
	require.NoError(t, yaml.Unmarshal([]byte(text), &back))
	assert.Equal(t, pc.Config, back)
}
