package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"t1", "t1ce", "t2", "flair"}, cfg.Dataset.Modalities)
	assert.Equal(t, "seg", cfg.Dataset.Label)
	assert.Equal(t, 8, cfg.Sampling.Crop)
	assert.Equal(t, 155, cfg.Sampling.SliceDepth)
	assert.Greater(t, cfg.Stats.Workers, 0)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brats.yaml")
	data := `
dataset:
  source: /data/brats/val.txt
  testMode: true
  modalityRule: positional
sampling:
  variant: slice
  seed: 42
  transforms: ["flip:0", "rot90"]
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/brats/val.txt", cfg.Dataset.Source)
	assert.True(t, cfg.Dataset.TestMode)
	assert.Equal(t, "positional", cfg.Dataset.ModalityRule)
	assert.Equal(t, 3, cfg.Dataset.ModalityIndex)
	assert.Equal(t, "slice", cfg.Sampling.Variant)
	assert.Equal(t, uint64(42), cfg.Sampling.Seed)
	assert.Equal(t, []string{"flip:0", "rot90"}, cfg.Sampling.Transforms)
	assert.Equal(t, 155, cfg.Sampling.SliceDepth)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestSaveAndLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "brats.toml")
	cfg := DefaultConfig()
	cfg.Dataset.Source = "/scans"
	cfg.Dataset.ListFile = "/lists/train.txt"
	cfg.Sampling.Crop = 4
	cfg.Logging.File = "/var/log/brats.log"

	require.NoError(t, SaveConfig(cfg, path))
	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestCreateDefaultConfigFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), loaded)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"variant":  "sampling:\n  variant: cube\n",
		"crop":     "sampling:\n  crop: -1\n",
		"depth":    "sampling:\n  sliceDepth: 0\n",
		"rule":     "dataset:\n  modalityRule: regex\n",
		"dupes":    "dataset:\n  modalities: [t1, t1]\n",
		"empty":    "dataset:\n  modalities: []\n",
		"level":    "logging:\n  level: loud\n",
		"syntax":   "dataset: [unclosed\n",
		"labeldup": "dataset:\n  label: t1\n",
	}
	for name, data := range cases {
		path := filepath.Join(t.TempDir(), name+".yaml")
		require.NoError(t, os.WriteFile(path, []byte(data), 0644))
		_, err := LoadConfig(path)
		assert.Error(t, err, name)
	}
}
