// Package dataset assembles aligned image/label samples from a catalog of
// multi-modal scans.
//
// Every Get reloads the modality volumes of one patient, stacks them as
// channels, splits off and binarizes the label channel, and optionally runs
// a random transform. The image and the label are transformed with two
// generators built from the same seed, so a random flip or rotation lands
// identically on both.
package dataset

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"go.uber.org/zap"

	"bratsdataset/internal/models"
	"bratsdataset/pkg/catalog"
	"bratsdataset/pkg/nifti"
)

// ErrIndexOutOfRange is returned by Get for indices outside [0, Len())
var ErrIndexOutOfRange = errors.New("dataset: index out of range")

// VolumeReader loads a 3D volume from a file path
type VolumeReader interface {
	ReadVolume(path string) (*models.Volume, error)
}

// VolumeReaderFunc adapts a function to VolumeReader
type VolumeReaderFunc func(path string) (*models.Volume, error)

// ReadVolume calls f(path)
func (f VolumeReaderFunc) ReadVolume(path string) (*models.Volume, error) {
	return f(path)
}

// Transform maps a (C, ...) tensor to a tensor with the same number of
// channels. Any randomness must come from rng.
type Transform interface {
	Apply(t *models.Tensor, rng *rand.Rand) (*models.Tensor, error)
}

// TransformFunc adapts a function to Transform
type TransformFunc func(t *models.Tensor, rng *rand.Rand) (*models.Tensor, error)

// Apply calls f(t, rng)
func (f TransformFunc) Apply(t *models.Tensor, rng *rand.Rand) (*models.Tensor, error) {
	return f(t, rng)
}

// Option configures a Dataset
type Option func(*Dataset)

// WithReader sets the volume reader. The default reads NIfTI-1 files.
func WithReader(r VolumeReader) Option {
	return func(d *Dataset) { d.reader = r }
}

// WithTransform sets the transform applied to every sample
func WithTransform(t Transform) Option {
	return func(d *Dataset) { d.transform = t }
}

// WithStrategy sets the sample extraction strategy. The default is
// VolumeStrategy with DefaultCrop.
func WithStrategy(s Strategy) Option {
	return func(d *Dataset) { d.strategy = s }
}

// WithSeed makes transform randomness reproducible
func WithSeed(seed uint64) Option {
	return func(d *Dataset) { d.rng = newRand(seed, seed^0x9e3779b97f4a7c15) }
}

// WithLogger sets the logger used for per-sample debug output
func WithLogger(l *zap.Logger) Option {
	return func(d *Dataset) { d.logger = l }
}

// Dataset is a random-access collection of samples backed by a catalog.
// It is safe for concurrent use.
type Dataset struct {
	records    []catalog.PatientRecord
	modalities catalog.ModalitySet
	strategy   Strategy
	reader     VolumeReader
	transform  Transform
	logger     *zap.Logger

	// mu guards rng, which only hands out per-sample seeds
	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a dataset over cat
func New(cat *catalog.Catalog, opts ...Option) (*Dataset, error) {
	if cat == nil {
		return nil, fmt.Errorf("dataset: nil catalog")
	}
	d := &Dataset{
		records:    cat.Records(),
		modalities: cat.Modalities(),
		strategy:   VolumeStrategy{Crop: DefaultCrop},
		reader:     nifti.Reader{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.rng == nil {
		d.rng = newRand(rand.Uint64(), rand.Uint64())
	}
	if d.strategy == nil || d.reader == nil {
		return nil, fmt.Errorf("dataset: strategy and reader must not be nil")
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	if len(d.modalities.Expected()) == 0 {
		return nil, fmt.Errorf("dataset: catalog has no modalities")
	}
	if d.modalities.HasLabel() && len(d.modalities.Modalities) == 0 {
		return nil, fmt.Errorf("dataset: label %q without image modalities", d.modalities.Label)
	}
	return d, nil
}

// Len returns the number of samples
func (d *Dataset) Len() int {
	return d.strategy.Len(len(d.records))
}

// Strategy returns the extraction strategy in use
func (d *Dataset) Strategy() Strategy {
	return d.strategy
}

// Reader returns the volume reader in use
func (d *Dataset) Reader() VolumeReader {
	return d.reader
}

// Modalities returns the modality set samples are stacked from
func (d *Dataset) Modalities() catalog.ModalitySet {
	return d.modalities
}

// Records returns the number of patient records behind the dataset
func (d *Dataset) Records() int {
	return len(d.records)
}

// Record returns a copy of patient record i
func (d *Dataset) Record(i int) (catalog.PatientRecord, error) {
	if i < 0 || i >= len(d.records) {
		return catalog.PatientRecord{}, fmt.Errorf("%w: record %d, have %d", ErrIndexOutOfRange, i, len(d.records))
	}
	r := d.records[i]
	files := make(map[string]string, len(r.Files))
	for k, v := range r.Files {
		files[k] = v
	}
	return catalog.PatientRecord{ID: r.ID, Dir: r.Dir, Files: files}, nil
}

// Locate maps a sample index onto its patient record and the part (slice
// number for the slice strategy) within it
func (d *Dataset) Locate(i int) (record, part int, err error) {
	if i < 0 || i >= d.Len() {
		return 0, 0, fmt.Errorf("%w: index %d, length %d", ErrIndexOutOfRange, i, d.Len())
	}
	record, part = d.strategy.Locate(i)
	return record, part, nil
}

// Get assembles sample i.
//
// In training mode the label is the last stacked channel, binarized so that
// any positive value becomes 1. In test mode the label is the image itself.
// The returned path identifies the last modality file loaded (the label
// file when there is one), rewritten by the strategy.
func (d *Dataset) Get(i int) (*models.Sample, error) {
	rec, part, err := d.Locate(i)
	if err != nil {
		return nil, err
	}
	record := d.records[rec]

	vols, path, err := d.load(record)
	if err != nil {
		return nil, err
	}
	stacked, err := d.strategy.Extract(vols, part)
	if err != nil {
		return nil, fmt.Errorf("patient %s: %w", record.ID, err)
	}
	path = d.strategy.Provenance(path, part)

	seed1, seed2 := d.nextSeeds()

	if !d.modalities.HasLabel() {
		image, err := d.apply(stacked, seed1, seed2)
		if err != nil {
			return nil, fmt.Errorf("patient %s: transform image: %w", record.ID, err)
		}
		return &models.Sample{Image: image, Label: image, Path: path}, nil
	}

	channels := stacked.Shape[0]
	image := stacked.Channels(0, channels-1)
	label := stacked.Channel(channels - 1)
	Binarize(label)

	if image, err = d.apply(image, seed1, seed2); err != nil {
		return nil, fmt.Errorf("patient %s: transform image: %w", record.ID, err)
	}
	if label, err = d.apply(label, seed1, seed2); err != nil {
		return nil, fmt.Errorf("patient %s: transform label: %w", record.ID, err)
	}

	d.logger.Debug("assembled sample",
		zap.Int("index", i),
		zap.String("patient", record.ID),
		zap.Int("part", part),
		zap.Ints("imageShape", image.Shape),
		zap.Ints("labelShape", label.Shape))
	return &models.Sample{Image: image, Label: label, Path: path}, nil
}

// load reads every expected modality of a record in stacking order
func (d *Dataset) load(record catalog.PatientRecord) ([]*models.Volume, string, error) {
	expected := d.modalities.Expected()
	vols := make([]*models.Volume, 0, len(expected))
	var path string
	for _, m := range expected {
		path = record.Files[m]
		if path == "" {
			return nil, "", fmt.Errorf("patient %s has no %s file", record.ID, m)
		}
		vol, err := d.reader.ReadVolume(path)
		if err != nil {
			return nil, "", fmt.Errorf("load %s volume of patient %s: %w", m, record.ID, err)
		}
		vols = append(vols, vol)
	}
	return vols, path, nil
}

// nextSeeds draws the seed pair shared by the image and label transforms
// of one sample
func (d *Dataset) nextSeeds() (uint64, uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rng.Uint64(), d.rng.Uint64()
}

// apply runs the transform with a generator freshly built from the seeds
func (d *Dataset) apply(t *models.Tensor, seed1, seed2 uint64) (*models.Tensor, error) {
	if d.transform == nil {
		return t, nil
	}
	out, err := d.transform.Apply(t, newRand(seed1, seed2))
	if err != nil {
		return nil, err
	}
	if out == nil || out.Rank() == 0 || out.Shape[0] != t.Shape[0] {
		return nil, fmt.Errorf("transform changed channel count of %v", t.Shape)
	}
	return out, nil
}

// Binarize maps every positive value to 1 and everything else to 0 in place
func Binarize(t *models.Tensor) {
	for i, v := range t.Data {
		if v > 0 {
			t.Data[i] = 1
		} else {
			t.Data[i] = 0
		}
	}
}

func newRand(seed1, seed2 uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed1, seed2))
}
