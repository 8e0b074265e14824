// Package visualization renders 2D previews of sample tensors so a catalog
// and its transforms can be eyeballed without a NIfTI viewer.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/floats"

	"bratsdataset/internal/models"
)

// Viewer extracts slices from a channel-first tensor. Volume tensors are
// (C, X, Y, Z); slice tensors are (C, X, Y) and behave as a depth of one.
type Viewer struct {
	tensor *models.Tensor

	channels int
	width    int
	height   int
	depth    int
}

// NewViewer wraps a rank 3 or rank 4 tensor
func NewViewer(t *models.Tensor) (*Viewer, error) {
	if t == nil {
		return nil, fmt.Errorf("nil tensor")
	}
	v := &Viewer{tensor: t, depth: 1}
	switch t.Rank() {
	case 4:
		v.channels, v.width, v.height, v.depth = t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3]
	case 3:
		v.channels, v.width, v.height = t.Shape[0], t.Shape[1], t.Shape[2]
	default:
		return nil, fmt.Errorf("cannot view tensor of shape %v", t.Shape)
	}
	return v, nil
}

// Channels returns the number of channels in the viewed tensor
func (v *Viewer) Channels() int {
	return v.channels
}

// Extent returns the number of slices along axis
func (v *Viewer) Extent(axis string) (int, error) {
	switch strings.ToLower(axis) {
	case "x":
		return v.width, nil
	case "y":
		return v.height, nil
	case "z":
		return v.depth, nil
	}
	return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
}

func (v *Viewer) at(c, x, y, z int) float64 {
	return v.tensor.Data[((c*v.width+x)*v.height+y)*v.depth+z]
}

// ExtractSlice cuts the plane at position along axis out of one channel.
// Intensities are rescaled so the slice minimum is black and its maximum
// white; a constant slice renders black.
func (v *Viewer) ExtractSlice(channel int, axis string, position int) (*image.Gray16, error) {
	if channel < 0 || channel >= v.channels {
		return nil, fmt.Errorf("channel %d out of range [0, %d)", channel, v.channels)
	}
	extent, err := v.Extent(axis)
	if err != nil {
		return nil, err
	}
	if position < 0 || position >= extent {
		return nil, fmt.Errorf("position %d out of range [0, %d) on axis %s", position, extent, axis)
	}

	// plane is addressed by (col, row); pick maps it back to voxel space
	var cols, rows int
	var pick func(col, row int) float64
	switch strings.ToLower(axis) {
	case "x":
		cols, rows = v.depth, v.height
		pick = func(col, row int) float64 { return v.at(channel, position, row, col) }
	case "y":
		cols, rows = v.width, v.depth
		pick = func(col, row int) float64 { return v.at(channel, col, position, row) }
	default:
		cols, rows = v.width, v.height
		pick = func(col, row int) float64 { return v.at(channel, col, row, position) }
	}

	values := make([]float64, cols*rows)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			values[row*cols+col] = pick(col, row)
		}
	}
	lo, hi := floats.Min(values), floats.Max(values)
	scale := 0.0
	if hi > lo {
		scale = 65535 / (hi - lo)
	}

	img := image.NewGray16(image.Rect(0, 0, cols, rows))
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			img.SetGray16(col, row, color.Gray16{Y: uint16((values[row*cols+col] - lo) * scale)})
		}
	}
	return img, nil
}

// SaveSlice writes img as PNG or JPEG depending on the file extension
func SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png":
		return png.Encode(file, img)
	case ".jpg", ".jpeg":
		return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	}
	return fmt.Errorf("unsupported image format: %s", filename)
}

// SaveSliceSequence writes every slice of channel along axis into
// outputDir as slice_<axis>_<pos>.png and returns the number written
func (v *Viewer) SaveSliceSequence(channel int, axis string, outputDir string) (int, error) {
	extent, err := v.Extent(axis)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return 0, err
	}

	for pos := 0; pos < extent; pos++ {
		img, err := v.ExtractSlice(channel, axis, pos)
		if err != nil {
			return pos, err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", strings.ToLower(axis), pos))
		if err := SaveSlice(img, filename); err != nil {
			return pos, err
		}
	}
	return extent, nil
}
