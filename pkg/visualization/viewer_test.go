package visualization

import (
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"bratsdataset/internal/models"
)

// gradientTensor fills a (C, X, Y, Z) tensor with 100*c+x+y, constant
// along z
func gradientTensor(channels, width, height, depth int) *models.Tensor {
	t := models.NewTensor(channels, width, height, depth)
	for c := 0; c < channels; c++ {
		for x := 0; x < width; x++ {
			for y := 0; y < height; y++ {
				for z := 0; z < depth; z++ {
					t.Set(float64(100*c+x+y), c, x, y, z)
				}
			}
		}
	}
	return t
}

func TestNewViewer(t *testing.T) {
	v, err := NewViewer(gradientTensor(4, 10, 8, 5))
	if err != nil {
		t.Fatalf("NewViewer failed: %v", err)
	}
	if v.Channels() != 4 {
		t.Errorf("Expected 4 channels, got %d", v.Channels())
	}
	for axis, want := range map[string]int{"x": 10, "y": 8, "z": 5, "Z": 5} {
		got, err := v.Extent(axis)
		if err != nil {
			t.Fatalf("Extent(%s) failed: %v", axis, err)
		}
		if got != want {
			t.Errorf("Expected extent %d on axis %s, got %d", want, axis, got)
		}
	}

	slice, err := NewViewer(models.NewTensor(4, 6, 6))
	if err != nil {
		t.Fatalf("NewViewer on slice tensor failed: %v", err)
	}
	if depth, _ := slice.Extent("z"); depth != 1 {
		t.Errorf("Expected slice tensor depth 1, got %d", depth)
	}

	if _, err := NewViewer(models.NewTensor(6, 6)); err == nil {
		t.Error("Expected error for rank 2 tensor, got nil")
	}
	if _, err := NewViewer(nil); err == nil {
		t.Error("Expected error for nil tensor, got nil")
	}
}

func TestExtractSlice(t *testing.T) {
	width, height, depth := 10, 8, 5
	v, err := NewViewer(gradientTensor(2, width, height, depth))
	if err != nil {
		t.Fatal(err)
	}

	img, err := v.ExtractSlice(1, "z", 2)
	if err != nil {
		t.Fatalf("Failed to extract Z slice: %v", err)
	}
	if b := img.Bounds(); b.Dx() != width || b.Dy() != height {
		t.Errorf("Expected Z slice dimensions %dx%d, got %dx%d", width, height, b.Dx(), b.Dy())
	}
	// x+y spans [0, 16]; the corners map to black and white
	if got := img.Gray16At(0, 0).Y; got != 0 {
		t.Errorf("Expected black at origin, got %d", got)
	}
	if got := img.Gray16At(width-1, height-1).Y; got != 65535 {
		t.Errorf("Expected white at far corner, got %d", got)
	}

	imgX, err := v.ExtractSlice(0, "x", width/2)
	if err != nil {
		t.Fatalf("Failed to extract X slice: %v", err)
	}
	if b := imgX.Bounds(); b.Dx() != depth || b.Dy() != height {
		t.Errorf("Expected X slice dimensions %dx%d, got %dx%d", depth, height, b.Dx(), b.Dy())
	}

	imgY, err := v.ExtractSlice(0, "y", height/2)
	if err != nil {
		t.Fatalf("Failed to extract Y slice: %v", err)
	}
	if b := imgY.Bounds(); b.Dx() != width || b.Dy() != depth {
		t.Errorf("Expected Y slice dimensions %dx%d, got %dx%d", width, depth, b.Dx(), b.Dy())
	}
	// constant along z, so a y plane varies only across columns
	if imgY.Gray16At(3, 0) != imgY.Gray16At(3, depth-1) {
		t.Error("Expected Y slice to be constant down each column")
	}

	if _, err := v.ExtractSlice(0, "invalid", 0); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
	if _, err := v.ExtractSlice(0, "z", depth); err == nil {
		t.Error("Expected error for out of bounds position, got nil")
	}
	if _, err := v.ExtractSlice(2, "z", 0); err == nil {
		t.Error("Expected error for out of range channel, got nil")
	}
}

func TestExtractConstantSlice(t *testing.T) {
	v, err := NewViewer(models.NewTensor(1, 4, 4, 2))
	if err != nil {
		t.Fatal(err)
	}
	img, err := v.ExtractSlice(0, "z", 1)
	if err != nil {
		t.Fatal(err)
	}
	if got := img.Gray16At(2, 2).Y; got != 0 {
		t.Errorf("Expected constant slice to render black, got %d", got)
	}
}

func TestSaveSlice(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}
	tempDir := t.TempDir()

	v, err := NewViewer(gradientTensor(1, 10, 10, 5))
	if err != nil {
		t.Fatal(err)
	}
	img, err := v.ExtractSlice(0, "z", 0)
	if err != nil {
		t.Fatalf("Failed to extract slice: %v", err)
	}

	for _, name := range []string{"slice.png", "slice.jpg"} {
		filename := filepath.Join(tempDir, name)
		if err := SaveSlice(img, filename); err != nil {
			t.Fatalf("Failed to save %s: %v", name, err)
		}
		if _, err := os.Stat(filename); err != nil {
			t.Errorf("Saved file does not exist: %s", filename)
		}
	}

	f, err := os.Open(filepath.Join(tempDir, "slice.png"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	decoded, err := png.Decode(f)
	if err != nil {
		t.Fatalf("Failed to decode saved png: %v", err)
	}
	if decoded.Bounds() != img.Bounds() {
		t.Errorf("Expected bounds %v, got %v", img.Bounds(), decoded.Bounds())
	}

	if err := SaveSlice(img, filepath.Join(tempDir, "slice.bmp")); err == nil {
		t.Error("Expected error for unsupported format, got nil")
	}
}

func TestSaveSliceSequence(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}
	tempDir := t.TempDir()

	depth := 3
	v, err := NewViewer(gradientTensor(2, 5, 5, depth))
	if err != nil {
		t.Fatal(err)
	}

	outputDir := filepath.Join(tempDir, "slices")
	n, err := v.SaveSliceSequence(1, "z", outputDir)
	if err != nil {
		t.Fatalf("Failed to save slice sequence: %v", err)
	}
	if n != depth {
		t.Errorf("Expected %d slices written, got %d", depth, n)
	}
	for z := 0; z < depth; z++ {
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_z_%03d.png", z))
		if _, err := os.Stat(filename); os.IsNotExist(err) {
			t.Errorf("Expected slice file does not exist: %s", filename)
		}
	}

	if _, err := v.SaveSliceSequence(0, "invalid", outputDir); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
}
