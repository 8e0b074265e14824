// Package manifest exports a built catalog to a SQLite database so the
// exact patient and file set behind a run can be audited later.
package manifest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "modernc.org/sqlite"

	"bratsdataset/pkg/catalog"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	root        TEXT NOT NULL,
	allow_list  INTEGER NOT NULL,
	modalities  TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS patients (
	run_id      INTEGER NOT NULL REFERENCES runs(id),
	position    INTEGER NOT NULL,
	id          TEXT NOT NULL,
	dir         TEXT NOT NULL,
	PRIMARY KEY (run_id, position)
);
CREATE TABLE IF NOT EXISTS files (
	run_id      INTEGER NOT NULL REFERENCES runs(id),
	patient_id  TEXT NOT NULL,
	modality    TEXT NOT NULL,
	path        TEXT NOT NULL,
	size_bytes  INTEGER NOT NULL,
	PRIMARY KEY (run_id, patient_id, modality)
);
`

// File is one exported modality file
type File struct {
	PatientID string
	Modality  string
	Path      string
	SizeBytes int64
}

// Export writes cat into the SQLite database at path as a new run and
// returns the run id. Each export is a single transaction.
func Export(ctx context.Context, path string, cat *catalog.Catalog) (int64, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return 0, fmt.Errorf("open manifest %s: %w", path, err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return 0, fmt.Errorf("create schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	mods := cat.Modalities().Expected()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO runs (root, allow_list, modalities, created_at) VALUES (?, ?, ?, ?)`,
		cat.Root(), cat.AllowList() != nil, fmt.Sprint(mods), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	patientStmt, err := tx.PrepareContext(ctx, `INSERT INTO patients (run_id, position, id, dir) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer patientStmt.Close()
	fileStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO files (run_id, patient_id, modality, path, size_bytes) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer fileStmt.Close()

	for pos, r := range cat.Records() {
		if _, err := patientStmt.ExecContext(ctx, runID, pos, r.ID, r.Dir); err != nil {
			return 0, fmt.Errorf("insert patient %s: %w", r.ID, err)
		}
		for _, m := range mods {
			p := r.Path(m)
			var size int64
			if info, err := os.Stat(p); err == nil {
				size = info.Size()
			}
			if _, err := fileStmt.ExecContext(ctx, runID, r.ID, m, p, size); err != nil {
				return 0, fmt.Errorf("insert %s file of %s: %w", m, r.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit manifest: %w", err)
	}
	return runID, nil
}

// Files returns the files recorded for a run in patient order
func Files(ctx context.Context, path string, runID int64) ([]File, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open manifest %s: %w", path, err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
		SELECT f.patient_id, f.modality, f.path, f.size_bytes
		FROM files f JOIN patients p ON p.run_id = f.run_id AND p.id = f.patient_id
		WHERE f.run_id = ?
		ORDER BY p.position, f.modality`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []File
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.PatientID, &f.Modality, &f.Path, &f.SizeBytes); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
