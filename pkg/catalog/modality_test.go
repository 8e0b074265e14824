package catalog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuffixRule(t *testing.T) {
	tests := []struct {
		name string
		want string
		ok   bool
	}{
		{"BraTS20_Training_001_t1.nii", "t1", true},
		{"BraTS20_Training_001_t1ce.nii.gz", "t1ce", true},
		{"P01_FLAIR.NII.GZ", "flair", true},
		{"case_7_seg.mgz", "seg", true},
		{"t2.nii", "t2", true},
		{"survival_info.csv", "info.csv", true},
		{".nii", "", false},
		{"P01_.nii", "", false},
	}
	for _, tc := range tests {
		got, ok := SuffixRule{}.Modality(tc.name)
		assert.Equal(t, tc.ok, ok, tc.name)
		assert.Equal(t, tc.want, got, tc.name)
	}
}

func TestPositionalRule(t *testing.T) {
	rule := PositionalRule{Index: 3}

	got, ok := rule.Modality("BraTS20_Training_001_flair.nii")
	require.True(t, ok)
	assert.Equal(t, "flair", got)

	// Extra tokens after the modality are not consulted
	got, ok = rule.Modality("BraTS20_Training_001_t2_reg.nii")
	require.True(t, ok)
	assert.Equal(t, "t2", got)

	_, ok = rule.Modality("P01_t1.nii")
	assert.False(t, ok)

	_, ok = PositionalRule{Index: -1}.Modality("a_b.nii")
	assert.False(t, ok)
}

func TestRuleByName(t *testing.T) {
	r, ok := RuleByName("", 0)
	require.True(t, ok)
	assert.IsType(t, SuffixRule{}, r)

	r, ok = RuleByName(" Positional ", 2)
	require.True(t, ok)
	assert.Equal(t, PositionalRule{Index: 2}, r)

	_, ok = RuleByName("regex", 0)
	assert.False(t, ok)
}

func TestModalitySet(t *testing.T) {
	train := TrainingModalities()
	assert.True(t, train.HasLabel())
	assert.Equal(t, []string{T1, T1CE, T2, FLAIR, Seg}, train.Expected())
	assert.True(t, train.Contains(Seg))

	test := ModalitiesForMode(true)
	assert.False(t, test.HasLabel())
	assert.Equal(t, []string{T1, T1CE, T2, FLAIR}, test.Expected())
	assert.False(t, test.Contains(Seg))

	// Expected must not alias the configured slice
	exp := train.Expected()
	exp[0] = "mutated"
	assert.Equal(t, T1, train.Modalities[0])
}

func TestParseAllowList(t *testing.T) {
	a, err := ParseAllowList(strings.NewReader("  P01\r\n\nP02\t\n# comment\n\n  \nP01\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, a.Len())
	assert.Equal(t, []string{"P01", "P02"}, a.IDs())
	assert.True(t, a.Contains("P02"))
	assert.False(t, a.Contains("P03"))

	var none AllowList
	assert.True(t, none.Contains("anyone"))
	assert.Equal(t, []string{"x"}, NewAllowList(" x ", "").IDs())
}
