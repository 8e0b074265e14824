package stats

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"bratsdataset/internal/models"
	"bratsdataset/pkg/catalog"
	"bratsdataset/pkg/dataset"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// buildDataset lays out empty modality files and serves constant volumes
// whose value depends on patient and modality
func buildDataset(t *testing.T, ids []string, mods catalog.ModalitySet, read dataset.VolumeReaderFunc) *dataset.Dataset {
	t.Helper()
	root := t.TempDir()
	for _, id := range ids {
		dir := filepath.Join(root, id)
		require.NoError(t, os.MkdirAll(dir, 0755))
		for _, m := range mods.Expected() {
			require.NoError(t, os.WriteFile(filepath.Join(dir, id+"_"+m+".nii"), nil, 0644))
		}
	}
	cat, err := catalog.Build(root, catalog.Options{Modalities: mods})
	require.NoError(t, err)
	ds, err := dataset.New(cat, dataset.WithReader(read))
	require.NoError(t, err)
	return ds
}

func rampReader(path string) (*models.Volume, error) {
	vol := models.NewVolume(2, 2, 2)
	if strings.HasSuffix(path, "_seg.nii") {
		vol.Data[0], vol.Data[1] = 1, 4
		return vol, nil
	}
	for i := range vol.Data {
		vol.Data[i] = float64(i)
	}
	return vol, nil
}

func TestCompute(t *testing.T) {
	ds := buildDataset(t, []string{"P01", "P02", "P03"}, catalog.TrainingModalities(), rampReader)

	results, err := Compute(context.Background(), ds, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, ps := range results {
		assert.Equal(t, []string{"P01", "P02", "P03"}[i], ps.ID)
		assert.Equal(t, []int{2, 2, 2}, ps.Shape)
		assert.Equal(t, 0.25, ps.TumorFraction)
		require.Len(t, ps.Modalities, 4)
		for j, ms := range ps.Modalities {
			assert.Equal(t, catalog.TrainingModalities().Modalities[j], ms.Modality)
			assert.Equal(t, 3.5, ms.Mean)
			assert.InDelta(t, math.Sqrt(6), ms.Std, 1e-12)
			assert.Equal(t, 0.0, ms.Min)
			assert.Equal(t, 7.0, ms.Max)
			assert.Equal(t, 7.0/8.0, ms.NonZero)
		}
	}

	summary := Summarize(results)
	require.Len(t, summary, 4)
	assert.Equal(t, "t1", summary[0].Modality)
	assert.Equal(t, 3, summary[0].Patients)
	assert.Equal(t, 3.5, summary[0].Mean)
	assert.Equal(t, 7.0, summary[3].Max)
}

func TestComputeWithoutLabel(t *testing.T) {
	ds := buildDataset(t, []string{"P01"}, catalog.TestModalities(), rampReader)

	results, err := Compute(context.Background(), ds, 0, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, -1.0, results[0].TumorFraction)
	assert.Len(t, results[0].Modalities, 4)
}

func TestComputeStopsOnError(t *testing.T) {
	boom := errors.New("corrupt volume")
	failing := func(path string) (*models.Volume, error) {
		if strings.Contains(path, "P02_flair") {
			return nil, boom
		}
		return rampReader(path)
	}
	ds := buildDataset(t, []string{"P01", "P02", "P03"}, catalog.TrainingModalities(), failing)

	_, err := Compute(context.Background(), ds, 1, nil)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "P02")
}

func TestComputeCancelled(t *testing.T) {
	ds := buildDataset(t, []string{"P01", "P02"}, catalog.TrainingModalities(), rampReader)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Compute(ctx, ds, 1, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
