package catalog

import (
	"strings"
)

// Standard BraTS modality names
const (
	T1    = "t1"
	T1CE  = "t1ce"
	T2    = "t2"
	FLAIR = "flair"
	Seg   = "seg"
)

// ModalitySet describes which files make up a complete patient record and
// in which order their channels are stacked. Label is empty when no ground
// truth is expected (test mode).
type ModalitySet struct {
	// Modalities lists the image channels in stacking order
	Modalities []string `yaml:"modalities" toml:"modalities"`

	// Label names the ground-truth modality, stacked after the image channels
	Label string `yaml:"label" toml:"label"`
}

// TrainingModalities returns the four BraTS sequences plus the seg label
func TrainingModalities() ModalitySet {
	return ModalitySet{
		Modalities: []string{T1, T1CE, T2, FLAIR},
		Label:      Seg,
	}
}

// TestModalities returns the four BraTS sequences without a label
func TestModalities() ModalitySet {
	return ModalitySet{
		Modalities: []string{T1, T1CE, T2, FLAIR},
	}
}

// ModalitiesForMode picks the modality set for test or training mode
func ModalitiesForMode(testMode bool) ModalitySet {
	if testMode {
		return TestModalities()
	}
	return TrainingModalities()
}

// HasLabel reports whether records carry a ground-truth modality
func (m ModalitySet) HasLabel() bool {
	return m.Label != ""
}

// Expected returns every modality a complete record holds, in stacking
// order with the label last
func (m ModalitySet) Expected() []string {
	out := append([]string(nil), m.Modalities...)
	if m.HasLabel() {
		out = append(out, m.Label)
	}
	return out
}

// Contains reports whether name is one of the expected modalities
func (m ModalitySet) Contains(name string) bool {
	for _, e := range m.Expected() {
		if e == name {
			return true
		}
	}
	return false
}

// VolumeSuffixes are the extensions stripped from a filename before the
// modality token is taken. Longer suffixes come first.
var VolumeSuffixes = []string{".nii.gz", ".nii", ".mgz", ".mha", ".nrrd"}

// StripVolumeSuffix removes a known volumetric extension from name
func StripVolumeSuffix(name string) string {
	lower := strings.ToLower(name)
	for _, suffix := range VolumeSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return name[:len(name)-len(suffix)]
		}
	}
	return name
}

// ModalityRule derives a modality token from a file's base name. ok is
// false when no token can be derived at all.
type ModalityRule interface {
	Modality(filename string) (token string, ok bool)
}

// SuffixRule takes the token after the last underscore of the stem, so
// "BraTS20_Training_001_t1ce.nii.gz" yields "t1ce"
type SuffixRule struct{}

// Modality implements ModalityRule
func (SuffixRule) Modality(filename string) (string, bool) {
	stem := StripVolumeSuffix(filename)
	if stem == "" {
		return "", false
	}
	if i := strings.LastIndex(stem, "_"); i >= 0 {
		stem = stem[i+1:]
	}
	return strings.ToLower(stem), stem != ""
}

// PositionalRule takes the underscore-separated token at Index of the stem.
// Index 3 matches the BraTS 2020 naming "BraTS20_Training_001_t1.nii".
type PositionalRule struct {
	Index int
}

// Modality implements ModalityRule
func (r PositionalRule) Modality(filename string) (string, bool) {
	parts := strings.Split(StripVolumeSuffix(filename), "_")
	if r.Index < 0 || r.Index >= len(parts) || parts[r.Index] == "" {
		return "", false
	}
	return strings.ToLower(parts[r.Index]), true
}

// RuleByName maps a configuration name onto a rule. "suffix" (or empty)
// selects SuffixRule; "positional" selects PositionalRule at index.
func RuleByName(name string, index int) (ModalityRule, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "suffix":
		return SuffixRule{}, true
	case "positional":
		return PositionalRule{Index: index}, true
	default:
		return nil, false
	}
}
