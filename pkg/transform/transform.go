// Package transform provides random geometric augmentations for (C, ...)
// tensors. All randomness comes from the generator passed to Apply, so two
// calls with identically seeded generators perform the same operation.
package transform

import (
	"fmt"
	"math/rand/v2"

	"bratsdataset/internal/models"
)

// Transform is satisfied by every type in this package and matches the
// dataset.Transform interface
type Transform interface {
	Apply(t *models.Tensor, rng *rand.Rand) (*models.Tensor, error)
}

// Identity returns its input unchanged
type Identity struct{}

// Apply implements Transform
func (Identity) Apply(t *models.Tensor, _ *rand.Rand) (*models.Tensor, error) {
	return t, nil
}

// Compose applies transforms in order
type Compose []Transform

// Apply implements Transform
func (c Compose) Apply(t *models.Tensor, rng *rand.Rand) (*models.Tensor, error) {
	var err error
	for i, tr := range c {
		if t, err = tr.Apply(t, rng); err != nil {
			return nil, fmt.Errorf("transform %d: %w", i, err)
		}
	}
	return t, nil
}

// RandomFlip mirrors a spatial axis with probability P. Axis 0 is the first
// axis after the channel axis.
type RandomFlip struct {
	Axis int
	P    float64
}

// Apply implements Transform
func (f RandomFlip) Apply(t *models.Tensor, rng *rand.Rand) (*models.Tensor, error) {
	axis := f.Axis + 1
	if axis < 1 || axis >= t.Rank() {
		return nil, fmt.Errorf("flip axis %d out of range for shape %v", f.Axis, t.Shape)
	}
	// Always draw so the generator advances the same way whether or not
	// the flip happens
	if rng.Float64() >= f.P {
		return t, nil
	}
	return Flip(t, axis), nil
}

// Flip returns a copy of t reversed along the given tensor axis
func Flip(t *models.Tensor, axis int) *models.Tensor {
	out := models.NewTensor(t.Shape...)
	n := t.Shape[axis]
	inner := 1
	for _, d := range t.Shape[axis+1:] {
		inner *= d
	}
	outer := t.Len() / (n * inner)
	for o := 0; o < outer; o++ {
		for i := 0; i < n; i++ {
			src := (o*n + i) * inner
			dst := (o*n + n - 1 - i) * inner
			copy(out.Data[dst:dst+inner], t.Data[src:src+inner])
		}
	}
	return out
}

// RandomRot90 rotates the plane of the first two spatial axes by a random
// multiple of 90 degrees
type RandomRot90 struct{}

// Apply implements Transform
func (RandomRot90) Apply(t *models.Tensor, rng *rand.Rand) (*models.Tensor, error) {
	if t.Rank() < 3 {
		return nil, fmt.Errorf("rot90 needs two spatial axes, got shape %v", t.Shape)
	}
	k := rng.IntN(4)
	for ; k > 0; k-- {
		t = Rot90(t)
	}
	return t, nil
}

// Rot90 rotates the plane of tensor axes 1 and 2 by 90 degrees
// counter-clockwise, so element [c][a][b] moves to [c][B-1-b][a]
func Rot90(t *models.Tensor) *models.Tensor {
	c, a, b := t.Shape[0], t.Shape[1], t.Shape[2]
	inner := t.Len() / (c * a * b)

	shape := append([]int{c, b, a}, t.Shape[3:]...)
	out := models.NewTensor(shape...)
	for ci := 0; ci < c; ci++ {
		for i := 0; i < a; i++ {
			for j := 0; j < b; j++ {
				src := ((ci*a+i)*b + j) * inner
				dst := ((ci*b+(b-1-j))*a + i) * inner
				copy(out.Data[dst:dst+inner], t.Data[src:src+inner])
			}
		}
	}
	return out
}
