package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "amp-autoshutdown.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
settings: /etc/amp-autoshutdown/config.toml
health:
  addr: :8081
`), 0o644))
	t.Setenv("AMP_AUTOSHUTDOWN_SLACK_TOKEN", "xoxb-1234")

	v := viper.New()
	require.NoError(t, initConfig(v, path))
	assert.Equal(t, "/etc/amp-autoshutdown/config.toml", v.GetString("settings"))
	assert.Equal(t, ":8081", v.GetString("health.addr"))
	assert.Equal(t, "xoxb-1234", v.GetString("slack.token"))
}

func TestInitConfig_Missing(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	assert.NoError(t, initConfig(viper.New(), ""))
	assert.Error(t, initConfig(viper.New(), filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestRootCmd(t *testing.T) {
	var names []string
	for _, c := range RootCmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"monitor", "instances", "check"})
	for _, flag := range []string{"debug", "log.format", "log.file", "settings", "credentials", "config"} {
		assert.NotNil(t, RootCmd.PersistentFlags().Lookup(flag), flag)
	}
}
