package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bratsdataset/pkg/config"
	"bratsdataset/pkg/dataset"
)

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// setupDataset writes a config pointing at a fresh synthetic dataset of
// three 20x20x20 patients
func setupDataset(t *testing.T) (string, string) {
	t.Helper()
	base := t.TempDir()
	dataDir := filepath.Join(base, "data")

	cfg := config.DefaultConfig()
	cfg.Dataset.Source = dataDir
	cfg.Logging.Level = "error"
	cfg.Sampling.Seed = 7
	cfg.Stats.Workers = 2
	configPath := filepath.Join(base, "bratsdataset.yaml")
	require.NoError(t, config.SaveConfig(cfg, configPath))

	out, _, err := runCLI(t, []string{"synth", dataDir,
		"--patients", "3", "--width", "20", "--height", "20", "--depth", "20", "--list", "train.txt"}, configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 3 patients")
	return dataDir, configPath
}

func TestCatalogCommand(t *testing.T) {
	dataDir, configPath := setupDataset(t)

	out, _, err := runCLI(t, []string{"catalog"}, configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "BraTS20_Training_001")
	assert.Contains(t, out, "BraTS20_Training_003")
	assert.Contains(t, out, "3 records under")
	assert.Contains(t, out, "Modalities: t1, t1ce, t2, flair, seg")
	assert.Contains(t, out, "Allow-list: no")

	out, _, err = runCLI(t, []string{"catalog", filepath.Join(dataDir, "train.txt")}, configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "3 records under")
	assert.Contains(t, out, "Allow-list: yes")

	dbPath := filepath.Join(t.TempDir(), "manifest.db")
	out, _, err = runCLI(t, []string{"catalog", "--export", dbPath}, configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Exported run 1")
	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestSampleCommand(t *testing.T) {
	_, configPath := setupDataset(t)
	previewDir := filepath.Join(t.TempDir(), "preview")

	out, _, err := runCLI(t, []string{"sample", "1", "--preview", previewDir}, configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Sample 1 of 3 (volume strategy)")
	assert.Contains(t, out, "Patient: BraTS20_Training_002")
	assert.Contains(t, out, "Image shape: [4 20 4 4]")
	assert.Contains(t, out, "Label shape: [1 20 4 4]")
	assert.Contains(t, out, "BraTS20_Training_002_seg.nii.gz")
	assert.Contains(t, out, "Wrote 5 preview images")

	_, err = os.Stat(filepath.Join(previewDir, "BraTS20_Training_002_flair_z002.png"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(previewDir, "BraTS20_Training_002_label_z002.png"))
	assert.NoError(t, err)
}

func TestSampleCommandRejectsBadIndex(t *testing.T) {
	_, configPath := setupDataset(t)

	_, _, err := runCLI(t, []string{"sample", "3"}, configPath)
	assert.ErrorIs(t, err, dataset.ErrIndexOutOfRange)

	_, _, err = runCLI(t, []string{"sample", "first"}, configPath)
	assert.Error(t, err)
}

func TestStatsCommand(t *testing.T) {
	_, configPath := setupDataset(t)

	out, _, err := runCLI(t, []string{"stats", "--patients"}, configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "t1ce")
	assert.Contains(t, out, "BraTS20_Training_002")
	assert.Contains(t, out, "Mean tumour fraction")
}

func TestConfigInitAndValidate(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")

	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, "")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote default configuration")

	_, _, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	assert.ErrorContains(t, err, "already exists")

	out, _, err = runCLI(t, []string{"config", "validate"}, target)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration valid")

	out, _, err = runCLI(t, []string{"config", "show", "--log-level", "debug"}, target)
	require.NoError(t, err)
	assert.Contains(t, out, "level: debug")
}

func TestBadLogLevelFails(t *testing.T) {
	_, _, err := runCLI(t, []string{"--log-level", "chatty", "config", "validate"}, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
