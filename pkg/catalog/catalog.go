// Package catalog discovers per-patient modality files under a directory
// tree and validates that every admitted patient has a complete set.
//
// A leaf directory (one with no subdirectories) is one patient. Its name is
// the patient identifier matched against an optional allow-list. Files in a
// leaf are mapped to modalities by a ModalityRule; files whose modality is
// not expected are ignored, while an expected modality with no file aborts
// the build.
package catalog

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// ListFileExt marks a source path that is an allow-list rather than a
// search root
const ListFileExt = ".txt"

// PatientRecord maps each modality of one patient to its file path
type PatientRecord struct {
	// ID is the leaf directory name
	ID string

	// Dir is the leaf directory path
	Dir string

	// Files maps modality name to file path
	Files map[string]string
}

// Path returns the file for a modality, or "" if the record has none
func (r PatientRecord) Path(modality string) string {
	return r.Files[modality]
}

// Keys returns the record's modalities in sorted order
func (r PatientRecord) Keys() []string {
	keys := make([]string, 0, len(r.Files))
	for k := range r.Files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r PatientRecord) clone() PatientRecord {
	files := make(map[string]string, len(r.Files))
	for k, v := range r.Files {
		files[k] = v
	}
	return PatientRecord{ID: r.ID, Dir: r.Dir, Files: files}
}

// Options control how a catalog is built
type Options struct {
	// Modalities is the expected modality set. Zero value means training
	// modalities (four sequences plus seg).
	Modalities ModalitySet

	// Rule derives modality tokens from filenames. Nil means SuffixRule.
	Rule ModalityRule

	// ListFile, when set, is an allow-list used regardless of the source
	// path. The source is then always treated as the search root.
	ListFile string

	// RequireAllowList makes the build fail unless an allow-list is found
	RequireAllowList bool

	// Logger receives build progress. Nil disables logging.
	Logger *zap.Logger
}

// Catalog is the validated, ordered list of patient records. It is built
// once and never modified; accessors hand out copies.
type Catalog struct {
	root       string
	allow      AllowList
	modalities ModalitySet
	records    []PatientRecord
	unmatched  []string
}

// Build resolves source, walks the search root and returns the catalog.
//
// If source ends in ".txt" and is a regular file it is read as an
// allow-list and its directory becomes the search root. Otherwise source is
// the search root itself and every leaf is admitted, unless opts.ListFile
// supplies an allow-list explicitly.
func Build(source string, opts Options) (*Catalog, error) {
	if len(opts.Modalities.Modalities) == 0 {
		opts.Modalities = TrainingModalities()
	}
	if opts.Rule == nil {
		opts.Rule = SuffixRule{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	root, allow, err := resolveSource(source, opts)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("search root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("search root %s is not a directory", root)
	}

	b := &builder{
		opts:    opts,
		allow:   allow,
		logger:  logger,
		matched: make(map[string]bool),
	}
	if err := b.walk(root); err != nil {
		return nil, err
	}

	cat := &Catalog{
		root:       root,
		allow:      allow,
		modalities: opts.Modalities,
		records:    b.records,
	}
	if allow != nil {
		for _, id := range allow.IDs() {
			if !b.matched[id] {
				cat.unmatched = append(cat.unmatched, id)
			}
		}
		if len(cat.unmatched) > 0 {
			logger.Warn("allow-list entries matched no patient directory",
				zap.Int("count", len(cat.unmatched)),
				zap.Strings("ids", cat.unmatched))
		}
	}
	if len(cat.records) == 0 {
		logger.Warn("catalog is empty", zap.String("root", root))
	}

	logger.Info("catalog built",
		zap.String("root", root),
		zap.Int("records", len(cat.records)),
		zap.Bool("allowList", allow != nil),
		zap.Strings("modalities", opts.Modalities.Expected()))
	return cat, nil
}

// resolveSource decides the search root and allow-list for a build
func resolveSource(source string, opts Options) (string, AllowList, error) {
	source = expandHome(source)

	if opts.ListFile != "" {
		allow, err := LoadAllowList(expandHome(opts.ListFile))
		if err != nil {
			return "", nil, err
		}
		return source, allow, nil
	}

	if strings.HasSuffix(strings.ToLower(source), ListFileExt) {
		info, err := os.Stat(source)
		if err == nil && info.Mode().IsRegular() {
			allow, err := LoadAllowList(source)
			if err != nil {
				return "", nil, err
			}
			return filepath.Dir(source), allow, nil
		}
		if opts.RequireAllowList {
			if err == nil {
				err = ErrNoAllowList
			}
			return "", nil, fmt.Errorf("allow-list %s: %w", source, err)
		}
	}

	if opts.RequireAllowList {
		return "", nil, ErrNoAllowList
	}
	return source, nil, nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

type builder struct {
	opts    Options
	allow   AllowList
	logger  *zap.Logger
	records []PatientRecord
	matched map[string]bool
}

// walk visits dir depth-first in lexical order, collecting leaves
func (b *builder) walk(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read directory: %w", err)
	}

	var subdirs, files []string
	for _, e := range entries {
		switch {
		case e.IsDir():
			subdirs = append(subdirs, e.Name())
		case e.Type()&fs.ModeSymlink != 0:
			// Linked directories make the parent a non-leaf but are not followed
			target, err := os.Stat(filepath.Join(dir, e.Name()))
			if err == nil && target.IsDir() {
				b.logger.Debug("not following directory symlink", zap.String("path", filepath.Join(dir, e.Name())))
				subdirs = append(subdirs, "")
				continue
			}
			files = append(files, e.Name())
		default:
			files = append(files, e.Name())
		}
	}

	if len(subdirs) == 0 {
		return b.leaf(dir, files)
	}
	for _, name := range subdirs {
		if name == "" {
			continue
		}
		if err := b.walk(filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}

// leaf turns one patient directory into a validated record
func (b *builder) leaf(dir string, files []string) error {
	id := filepath.Base(dir)
	if !b.allow.Contains(id) {
		b.logger.Debug("skipping patient not in allow-list", zap.String("id", id))
		return nil
	}
	b.matched[id] = true

	sort.Strings(files)
	record := PatientRecord{ID: id, Dir: dir, Files: make(map[string]string)}
	for _, name := range files {
		modality, ok := b.opts.Rule.Modality(name)
		if !ok || !b.opts.Modalities.Contains(modality) {
			b.logger.Debug("ignoring unrecognised file",
				zap.String("dir", dir), zap.String("file", name))
			continue
		}
		path := filepath.Join(dir, name)
		if prev, dup := record.Files[modality]; dup {
			return &DuplicateModalityError{Dir: dir, Modality: modality, Files: []string{prev, path}}
		}
		record.Files[modality] = path
	}

	var missing []string
	for _, m := range b.opts.Modalities.Expected() {
		if _, ok := record.Files[m]; !ok {
			missing = append(missing, m)
		}
	}
	if len(missing) > 0 {
		return &IncompleteRecordError{Dir: dir, Present: record.Keys(), Missing: missing}
	}

	b.records = append(b.records, record)
	return nil
}

// Len returns the number of patient records
func (c *Catalog) Len() int {
	return len(c.records)
}

// Record returns a copy of record i
func (c *Catalog) Record(i int) (PatientRecord, error) {
	if i < 0 || i >= len(c.records) {
		return PatientRecord{}, fmt.Errorf("record %d out of range [0, %d)", i, len(c.records))
	}
	return c.records[i].clone(), nil
}

// Records returns copies of all records in catalog order
func (c *Catalog) Records() []PatientRecord {
	out := make([]PatientRecord, len(c.records))
	for i, r := range c.records {
		out[i] = r.clone()
	}
	return out
}

// Root returns the directory that was searched
func (c *Catalog) Root() string {
	return c.root
}

// AllowList returns the active allow-list, or nil if everyone was admitted
func (c *Catalog) AllowList() AllowList {
	if c.allow == nil {
		return nil
	}
	return NewAllowList(c.allow.IDs()...)
}

// Modalities returns the modality set the records were validated against
func (c *Catalog) Modalities() ModalitySet {
	return ModalitySet{
		Modalities: append([]string(nil), c.modalities.Modalities...),
		Label:      c.modalities.Label,
	}
}

// Unmatched returns allow-list entries that named no leaf directory
func (c *Catalog) Unmatched() []string {
	return append([]string(nil), c.unmatched...)
}
