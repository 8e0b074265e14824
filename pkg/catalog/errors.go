package catalog

import (
	"errors"
	"fmt"
)

// ErrNoAllowList is returned when an allow-list is required but the source
// does not name one
var ErrNoAllowList = errors.New("catalog: allow-list required but none given")

// IncompleteRecordError reports a leaf directory that lacks one or more of
// the expected modalities
type IncompleteRecordError struct {
	Dir     string
	Present []string
	Missing []string
}

func (e *IncompleteRecordError) Error() string {
	return fmt.Sprintf("patient record %s is incomplete, keys are %v, missing %v", e.Dir, e.Present, e.Missing)
}

// DuplicateModalityError reports two files in one leaf that resolve to the
// same modality
type DuplicateModalityError struct {
	Dir      string
	Modality string
	Files    []string
}

func (e *DuplicateModalityError) Error() string {
	return fmt.Sprintf("patient record %s has more than one %q file: %v", e.Dir, e.Modality, e.Files)
}
