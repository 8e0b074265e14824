package dataset

import (
	"fmt"
	"strconv"
	"strings"

	"bratsdataset/internal/models"
	"bratsdataset/pkg/catalog"
)

// DefaultCrop is the margin trimmed from each side of the last two axes of
// a whole volume, turning 240x240 into 224x224
const DefaultCrop = 8

// DefaultDepth is the number of axial slices in a BraTS volume
const DefaultDepth = 155

// Strategy decides how catalog records map onto samples and how the
// per-modality volumes of one record become a stacked (C, ...) tensor
type Strategy interface {
	// Name identifies the strategy in configuration and logs
	Name() string

	// Len returns the number of samples for a catalog of n records
	Len(n int) int

	// Locate maps a sample index to a record index and a part within it
	Locate(i int) (record, part int)

	// Extract stacks the volumes along a new leading channel axis,
	// keeping the given part and applying the strategy's crop
	Extract(vols []*models.Volume, part int) (*models.Tensor, error)

	// Provenance returns the path reported for a sample drawn from the
	// file at path
	Provenance(path string, part int) string
}

// VolumeStrategy yields one (C, X, Y, Z) sample per patient
type VolumeStrategy struct {
	// Crop trims this many elements from both ends of the last two axes
	Crop int
}

// Name implements Strategy
func (VolumeStrategy) Name() string { return "volume" }

// Len implements Strategy
func (VolumeStrategy) Len(n int) int { return n }

// Locate implements Strategy
func (VolumeStrategy) Locate(i int) (int, int) { return i, 0 }

// Provenance implements Strategy
func (VolumeStrategy) Provenance(path string, _ int) string { return path }

// Extract implements Strategy
func (s VolumeStrategy) Extract(vols []*models.Volume, _ int) (*models.Tensor, error) {
	if err := sameShape(vols); err != nil {
		return nil, err
	}
	first := vols[0]
	nx, ny, nz := first.Width, first.Height, first.Depth
	if ny <= 2*s.Crop || nz <= 2*s.Crop {
		return nil, fmt.Errorf("crop %d too large for volume %dx%dx%d", s.Crop, nx, ny, nz)
	}
	oy, oz := ny-2*s.Crop, nz-2*s.Crop

	out := models.NewTensor(len(vols), nx, oy, oz)
	i := 0
	for _, v := range vols {
		for x := 0; x < nx; x++ {
			for y := 0; y < oy; y++ {
				for z := 0; z < oz; z++ {
					out.Data[i] = v.At(x, y+s.Crop, z+s.Crop)
					i++
				}
			}
		}
	}
	return out, nil
}

// SliceStrategy yields Depth samples per patient, one (C, X, Y) plane per
// index along the third axis
type SliceStrategy struct {
	// Depth is the required number of slices in every volume
	Depth int

	// Crop trims this many elements from both ends of both plane axes.
	// Zero keeps whole planes.
	Crop int
}

// Name implements Strategy
func (SliceStrategy) Name() string { return "slice" }

// Len implements Strategy
func (s SliceStrategy) Len(n int) int { return n * s.Depth }

// Locate implements Strategy
func (s SliceStrategy) Locate(i int) (int, int) { return i / s.Depth, i % s.Depth }

// Provenance implements Strategy. The result is a virtual path such as
// ".../BraTS20_Training_001_seg_slice12.nii" since one file yields Depth
// samples.
func (SliceStrategy) Provenance(path string, part int) string {
	return catalog.StripVolumeSuffix(path) + "_slice" + strconv.Itoa(part) + ".nii"
}

// Extract implements Strategy
func (s SliceStrategy) Extract(vols []*models.Volume, part int) (*models.Tensor, error) {
	if err := sameShape(vols); err != nil {
		return nil, err
	}
	first := vols[0]
	if first.Depth != s.Depth {
		return nil, fmt.Errorf("volume has %d slices, expected %d", first.Depth, s.Depth)
	}
	if part < 0 || part >= s.Depth {
		return nil, fmt.Errorf("slice %d out of range [0, %d)", part, s.Depth)
	}
	nx, ny := first.Width, first.Height
	if nx <= 2*s.Crop || ny <= 2*s.Crop {
		return nil, fmt.Errorf("crop %d too large for slice %dx%d", s.Crop, nx, ny)
	}
	ox, oy := nx-2*s.Crop, ny-2*s.Crop

	out := models.NewTensor(len(vols), ox, oy)
	i := 0
	for _, v := range vols {
		for x := 0; x < ox; x++ {
			for y := 0; y < oy; y++ {
				out.Data[i] = v.At(x+s.Crop, y+s.Crop, part)
				i++
			}
		}
	}
	return out, nil
}

// NewStrategy builds a strategy from its configuration name
func NewStrategy(name string, crop, depth int) (Strategy, error) {
	if crop < 0 {
		return nil, fmt.Errorf("crop must be non-negative, got %d", crop)
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "volume", "3d":
		return VolumeStrategy{Crop: crop}, nil
	case "slice", "2d":
		if depth <= 0 {
			return nil, fmt.Errorf("slice depth must be positive, got %d", depth)
		}
		return SliceStrategy{Depth: depth, Crop: crop}, nil
	default:
		return nil, fmt.Errorf("unknown sample variant %q (must be volume or slice)", name)
	}
}

func sameShape(vols []*models.Volume) error {
	if len(vols) == 0 {
		return fmt.Errorf("no volumes to stack")
	}
	first := vols[0]
	for i, v := range vols[1:] {
		if v.Width != first.Width || v.Height != first.Height || v.Depth != first.Depth {
			return fmt.Errorf("volume %d is %dx%dx%d, expected %dx%dx%d", i+1,
				v.Width, v.Height, v.Depth, first.Width, first.Height, first.Depth)
		}
	}
	return nil
}
