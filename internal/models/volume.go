package models

import (
	"fmt"
)

// Volume represents a single 3D scan as read from disk
type Volume struct {
	// Data holds the voxel values with the first axis varying fastest,
	// i.e. the voxel (x, y, z) lives at Data[x + y*Width + z*Width*Height]
	Data []float64

	// Width is the extent of the first (x) axis in voxels
	Width int

	// Height is the extent of the second (y) axis in voxels
	Height int

	// Depth is the extent of the third (z) axis in voxels
	Depth int

	// VoxelSize is the physical size of each voxel in mm
	VoxelSize struct {
		X, Y, Z float64
	}
}

// NewVolume allocates a zero-filled volume of the given extent
func NewVolume(width, height, depth int) *Volume {
	return &Volume{
		Data:   make([]float64, width*height*depth),
		Width:  width,
		Height: height,
		Depth:  depth,
	}
}

// At returns the voxel value at (x, y, z)
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[x+y*v.Width+z*v.Width*v.Height]
}

// Set stores a voxel value at (x, y, z)
func (v *Volume) Set(x, y, z int, value float64) {
	v.Data[x+y*v.Width+z*v.Width*v.Height] = value
}

// Shape returns the volume extent as (x, y, z)
func (v *Volume) Shape() []int {
	return []int{v.Width, v.Height, v.Depth}
}

// Tensor is a dense row-major array of float64 values. The last axis varies
// fastest, so a (C, X, Y, Z) tensor stores element [c][x][y][z] at
// ((c*X+x)*Y+y)*Z+z.
type Tensor struct {
	Shape []int
	Data  []float64
}

// NewTensor allocates a zero-filled tensor with the given shape
func NewTensor(shape ...int) *Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Tensor{
		Shape: append([]int(nil), shape...),
		Data:  make([]float64, n),
	}
}

// Len returns the number of elements in the tensor
func (t *Tensor) Len() int {
	return len(t.Data)
}

// Rank returns the number of axes
func (t *Tensor) Rank() int {
	return len(t.Shape)
}

// Strides returns the row-major element strides for each axis
func (t *Tensor) Strides() []int {
	strides := make([]int, len(t.Shape))
	step := 1
	for i := len(t.Shape) - 1; i >= 0; i-- {
		strides[i] = step
		step *= t.Shape[i]
	}
	return strides
}

// Offset converts a multi-index into a flat offset into Data
func (t *Tensor) Offset(index ...int) int {
	if len(index) != len(t.Shape) {
		panic(fmt.Sprintf("tensor: index rank %d does not match shape %v", len(index), t.Shape))
	}
	off := 0
	for i, idx := range index {
		off = off*t.Shape[i] + idx
	}
	return off
}

// At returns the element at the given multi-index
func (t *Tensor) At(index ...int) float64 {
	return t.Data[t.Offset(index...)]
}

// Set stores a value at the given multi-index
func (t *Tensor) Set(value float64, index ...int) {
	t.Data[t.Offset(index...)] = value
}

// Clone returns a deep copy of the tensor
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		Shape: append([]int(nil), t.Shape...),
		Data:  append([]float64(nil), t.Data...),
	}
}

// Channel returns a copy of channel c of a tensor whose first axis is the
// channel axis. The result keeps a leading axis of size one.
func (t *Tensor) Channel(c int) *Tensor {
	if t.Rank() == 0 || c < 0 || c >= t.Shape[0] {
		panic(fmt.Sprintf("tensor: channel %d out of range for shape %v", c, t.Shape))
	}
	size := t.Len() / t.Shape[0]
	shape := append([]int{1}, t.Shape[1:]...)
	return &Tensor{
		Shape: shape,
		Data:  append([]float64(nil), t.Data[c*size:(c+1)*size]...),
	}
}

// Channels returns a copy of channels [from, to) along the first axis
func (t *Tensor) Channels(from, to int) *Tensor {
	if t.Rank() == 0 || from < 0 || to > t.Shape[0] || from > to {
		panic(fmt.Sprintf("tensor: channels [%d, %d) out of range for shape %v", from, to, t.Shape))
	}
	size := t.Len() / t.Shape[0]
	shape := append([]int{to - from}, t.Shape[1:]...)
	return &Tensor{
		Shape: shape,
		Data:  append([]float64(nil), t.Data[from*size:to*size]...),
	}
}

// Sample is one item produced by a dataset: a multi-channel image, its
// single-channel label (or the image itself when no ground truth exists)
// and the path identifying where it came from.
type Sample struct {
	Image *Tensor
	Label *Tensor
	Path  string
}
