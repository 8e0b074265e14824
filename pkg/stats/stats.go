// Package stats computes per-patient intensity statistics over a dataset,
// scanning patients in parallel.
package stats

import (
	"context"
	"fmt"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"bratsdataset/internal/models"
	"bratsdataset/pkg/dataset"
)

// ModalityStats summarises one modality volume of one patient
type ModalityStats struct {
	Modality string
	Mean     float64
	Std      float64
	Min      float64
	Max      float64

	// NonZero is the fraction of voxels that are not zero, a rough brain
	// mask size for skull-stripped scans
	NonZero float64
}

// PatientStats holds the statistics for every modality of one patient
type PatientStats struct {
	ID    string
	Shape []int

	Modalities []ModalityStats

	// TumorFraction is the fraction of label voxels above zero, or -1 when
	// the dataset has no label
	TumorFraction float64
}

// Compute reads every patient behind ds and returns statistics in catalog
// order. At most workers patients are read at once; zero or less means one
// per CPU.
func Compute(ctx context.Context, ds *dataset.Dataset, workers int, logger *zap.Logger) ([]PatientStats, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make([]PatientStats, ds.Records())
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := 0; i < ds.Records(); i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ps, err := patient(ds, i)
			if err != nil {
				return err
			}
			results[i] = ps
			logger.Debug("patient scanned", zap.String("id", ps.ID), zap.Int("index", i))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	logger.Info("statistics computed", zap.Int("patients", len(results)), zap.Int("workers", workers))
	return results, nil
}

func patient(ds *dataset.Dataset, i int) (PatientStats, error) {
	record, err := ds.Record(i)
	if err != nil {
		return PatientStats{}, err
	}
	mods := ds.Modalities()
	ps := PatientStats{ID: record.ID, TumorFraction: -1}

	for _, m := range mods.Expected() {
		vol, err := ds.Reader().ReadVolume(record.Path(m))
		if err != nil {
			return PatientStats{}, fmt.Errorf("patient %s %s: %w", record.ID, m, err)
		}
		if len(vol.Data) == 0 {
			return PatientStats{}, fmt.Errorf("patient %s %s: empty volume", record.ID, m)
		}
		if ps.Shape == nil {
			ps.Shape = vol.Shape()
		}
		if mods.HasLabel() && m == mods.Label {
			ps.TumorFraction = positiveFraction(vol)
			continue
		}
		ps.Modalities = append(ps.Modalities, volumeStats(m, vol))
	}
	return ps, nil
}

func volumeStats(modality string, vol *models.Volume) ModalityStats {
	mean, std := stat.MeanStdDev(vol.Data, nil)
	nonZero := 0
	for _, v := range vol.Data {
		if v != 0 {
			nonZero++
		}
	}
	return ModalityStats{
		Modality: modality,
		Mean:     mean,
		Std:      std,
		Min:      floats.Min(vol.Data),
		Max:      floats.Max(vol.Data),
		NonZero:  float64(nonZero) / float64(len(vol.Data)),
	}
}

func positiveFraction(vol *models.Volume) float64 {
	n := 0
	for _, v := range vol.Data {
		if v > 0 {
			n++
		}
	}
	return float64(n) / float64(len(vol.Data))
}

// Summary averages per-patient statistics for each modality
type Summary struct {
	Modality string
	Patients int
	Mean     float64
	Std      float64
	Min      float64
	Max      float64
}

// Summarize folds patient statistics into one row per modality, in the
// order modalities first appear
func Summarize(results []PatientStats) []Summary {
	var order []string
	means := make(map[string][]float64)
	stds := make(map[string][]float64)
	mins := make(map[string][]float64)
	maxs := make(map[string][]float64)
	for _, ps := range results {
		for _, ms := range ps.Modalities {
			if _, ok := means[ms.Modality]; !ok {
				order = append(order, ms.Modality)
			}
			means[ms.Modality] = append(means[ms.Modality], ms.Mean)
			stds[ms.Modality] = append(stds[ms.Modality], ms.Std)
			mins[ms.Modality] = append(mins[ms.Modality], ms.Min)
			maxs[ms.Modality] = append(maxs[ms.Modality], ms.Max)
		}
	}

	out := make([]Summary, 0, len(order))
	for _, m := range order {
		out = append(out, Summary{
			Modality: m,
			Patients: len(means[m]),
			Mean:     stat.Mean(means[m], nil),
			Std:      stat.Mean(stds[m], nil),
			Min:      floats.Min(mins[m]),
			Max:      floats.Max(maxs[m]),
		})
	}
	return out
}
