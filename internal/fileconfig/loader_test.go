package fileconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleConfig struct {
	Name string `yaml:"name" json:"name"`
	Port int    `yaml:"port" json:"port"`
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: collector\nport: 9\n"), 0o644))

	var cfg sampleConfig
	require.NoError(t, Load(path, &cfg))
	assert.Equal(t, "collector", cfg.Name)
	assert.Equal(t, 9, cfg.Port)
}

func TestLoadFallsBackToJSONWhenNotValidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	// The repeated key is rejected by the YAML decoder but accepted by
	// encoding/json, where the last value wins.
	require.NoError(t, os.WriteFile(path, []byte(`{"name": "ignored", "name": "collector", "port": 10}`), 0o644))

	var cfg sampleConfig
	require.NoError(t, Load(path, &cfg))
	assert.Equal(t, "collector", cfg.Name)
	assert.Equal(t, 10, cfg.Port)
}

func TestLoadMissingFileReturnsErrMissing(t *testing.T) {
	var cfg sampleConfig
	err := Load(filepath.Join(t.TempDir(), "nope.yaml"), &cfg)
	require.Error(t, err)
	var missing *ErrMissing
	assert.ErrorAs(t, err, &missing)
}

func TestLoadTooLargeReturnsErrConfigTooLarge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.yaml")
	big := make([]byte, maxConfigSize+1)
	for i := range big {
		big[i] = 'a'
	}
	require.NoError(t, os.WriteFile(path, big, 0o644))

	var cfg sampleConfig
	err := Load(path, &cfg)
	assert.Equal(t, ErrConfigTooLarge, err)
}

func TestEnvOverrideReplacesOnlyWhenSet(t *testing.T) {
	dst := "default"
	EnvOverride(&dst, "COLLECTOR_TEST_UNSET_VAR_XYZ")
	assert.Equal(t, "default", dst)

	t.Setenv("COLLECTOR_TEST_VAR_XYZ", "overridden")
	EnvOverride(&dst, "COLLECTOR_TEST_VAR_XYZ")
	assert.Equal(t, "overridden", dst)
}
