package main

import (
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bratsdataset/internal/models"
	"bratsdataset/pkg/nifti"
)

// synthOptions describes a generated dataset
type synthOptions struct {
	patients   int
	width      int
	height     int
	depth      int
	gzip       bool
	testMode   bool
	listFile   string
	prefix     string
	seed       uint64
	modalities []string
	label      string
}

// baseIntensity roughly mimics how bright healthy tissue is per sequence
var baseIntensity = map[string]float64{
	"t1":    420,
	"t1ce":  460,
	"t2":    610,
	"flair": 510,
}

func newSynthCommand(ctx *commandContext) *cobra.Command {
	opts := synthOptions{}

	cmd := &cobra.Command{
		Use:   "synth <dir>",
		Short: "Write a synthetic multi-modal dataset for smoke tests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger(cmd)
			if err != nil {
				return err
			}
			opts.modalities = cfg.Dataset.Modalities
			if !opts.testMode {
				opts.label = cfg.Dataset.Label
			}
			if opts.prefix == "" {
				opts.prefix = "BraTS20_Training"
				if opts.testMode {
					opts.prefix = "BraTS20_Validation"
				}
			}

			written, err := writeSynthetic(args[0], opts, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d patients to %s (%s)\n", opts.patients, args[0], humanize.Bytes(written))
			return nil
		},
	}

	cmd.Flags().IntVarP(&opts.patients, "patients", "n", 3, "Number of patients to generate")
	cmd.Flags().IntVar(&opts.width, "width", 48, "Volume extent along x")
	cmd.Flags().IntVar(&opts.height, "height", 48, "Volume extent along y")
	cmd.Flags().IntVar(&opts.depth, "depth", 32, "Volume extent along z")
	cmd.Flags().BoolVar(&opts.gzip, "gzip", true, "Write .nii.gz instead of .nii")
	cmd.Flags().BoolVar(&opts.testMode, "test", false, "Omit the label modality")
	cmd.Flags().StringVar(&opts.listFile, "list", "", "Also write an allow-list with every patient ID under this name")
	cmd.Flags().StringVar(&opts.prefix, "prefix", "", "Patient ID prefix")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 1, "Random seed")
	return cmd
}

// writeSynthetic lays out one directory per patient and returns the number
// of bytes written
func writeSynthetic(root string, opts synthOptions, logger *zap.Logger) (uint64, error) {
	if opts.patients <= 0 {
		return 0, fmt.Errorf("patients must be positive, got %d", opts.patients)
	}
	if opts.width <= 0 || opts.height <= 0 || opts.depth <= 0 {
		return 0, fmt.Errorf("volume extent must be positive, got %dx%dx%d", opts.width, opts.height, opts.depth)
	}
	ext := ".nii"
	if opts.gzip {
		ext = ".nii.gz"
	}

	rng := rand.New(rand.NewPCG(opts.seed, opts.seed+1))
	var total uint64
	ids := make([]string, 0, opts.patients)
	for p := 1; p <= opts.patients; p++ {
		id := fmt.Sprintf("%s_%03d", opts.prefix, p)
		dir := filepath.Join(root, id)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return total, err
		}

		tumor := randomTumor(rng, opts.width, opts.height, opts.depth)
		vols := make(map[string]*models.Volume)
		for _, m := range opts.modalities {
			vols[m] = synthScan(rng, opts.width, opts.height, opts.depth, m, tumor)
		}
		if opts.label != "" {
			vols[opts.label] = synthLabel(opts.width, opts.height, opts.depth, tumor)
		}

		for m, vol := range vols {
			path := filepath.Join(dir, id+"_"+m+ext)
			if err := nifti.WriteFile(path, vol); err != nil {
				return total, err
			}
			info, err := os.Stat(path)
			if err != nil {
				return total, err
			}
			total += uint64(info.Size())
		}
		ids = append(ids, id)
		logger.Debug("synthetic patient written", zap.String("id", id), zap.Int("files", len(vols)))
	}

	if opts.listFile != "" {
		content := "# synthetic patients\n" + strings.Join(ids, "\n") + "\n"
		if err := os.WriteFile(filepath.Join(root, opts.listFile), []byte(content), 0o644); err != nil {
			return total, err
		}
	}
	return total, nil
}

type sphere struct {
	x, y, z float64
	radius  float64
}

func (s sphere) distance(x, y, z int) float64 {
	dx, dy, dz := float64(x)-s.x, float64(y)-s.y, float64(z)-s.z
	return math.Sqrt(dx*dx+dy*dy+dz*dz) / s.radius
}

func randomTumor(rng *rand.Rand, w, h, d int) sphere {
	jitter := func(n int) float64 {
		return float64(n)/2 + (rng.Float64()-0.5)*float64(n)/4
	}
	r := float64(min(w, h, d)) / 6
	return sphere{x: jitter(w), y: jitter(h), z: jitter(d), radius: math.Max(r, 1)}
}

// synthScan draws an ellipsoidal brain with noise and a tumour that is
// brighter than tissue on every sequence except t1
func synthScan(rng *rand.Rand, w, h, d int, modality string, tumor sphere) *models.Volume {
	vol := newSynthVolume(w, h, d)
	base, ok := baseIntensity[modality]
	if !ok {
		base = 500
	}
	gain := 1.6
	if modality == "t1" {
		gain = 0.7
	}
	brain := sphere{x: float64(w) / 2, y: float64(h) / 2, z: float64(d) / 2}
	for z := 0; z < d; z++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				ex := (float64(x) - brain.x) / (0.45 * float64(w))
				ey := (float64(y) - brain.y) / (0.45 * float64(h))
				ez := (float64(z) - brain.z) / (0.45 * float64(d))
				if ex*ex+ey*ey+ez*ez > 1 {
					continue
				}
				v := base + rng.NormFloat64()*base*0.05
				if tumor.distance(x, y, z) < 1 {
					v *= gain
				}
				vol.Set(x, y, z, math.Max(v, 0))
			}
		}
	}
	return vol
}

// synthLabel marks the tumour with BraTS classes: 1 necrotic core,
// 4 enhancing ring, 2 surrounding edema
func synthLabel(w, h, d int, tumor sphere) *models.Volume {
	vol := newSynthVolume(w, h, d)
	for z := 0; z < d; z++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				switch dist := tumor.distance(x, y, z); {
				case dist < 0.4:
					vol.Set(x, y, z, 1)
				case dist < 0.7:
					vol.Set(x, y, z, 4)
				case dist < 1:
					vol.Set(x, y, z, 2)
				}
			}
		}
	}
	return vol
}

func newSynthVolume(w, h, d int) *models.Volume {
	vol := models.NewVolume(w, h, d)
	vol.VoxelSize.X, vol.VoxelSize.Y, vol.VoxelSize.Z = 1, 1, 1
	return vol
}
