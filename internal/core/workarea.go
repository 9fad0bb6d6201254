package core

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Well-known file names inside a WorkArea.
const (
	ArchiveFileName  = "output.zip"
	WorkbookFileName = "tabbed.xlsx"
)

// WorkArea is the scratch directory owned by a single pipeline run.
// It is created fresh for every run and never removed by the pipeline.
type WorkArea struct {
	ID   string // Run identifier, also embedded in the directory name
	Root string // Absolute path of the directory
}

// NewWorkArea creates a uniquely named directory under base.
// An empty base uses the system temp directory.
func NewWorkArea(base string) (*WorkArea, error) {
	if base == "" {
		base = os.TempDir()
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create work base %s: %w", base, err)
	}

	id := uuid.New().String()
	root, err := os.MkdirTemp(base, "sheetdrop-"+id+"-*")
	if err != nil {
		return nil, fmt.Errorf("create work area: %w", err)
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve work area %s: %w", root, err)
	}

	return &WorkArea{ID: id, Root: abs}, nil
}

// Path joins name onto the work area root.
func (w *WorkArea) Path(name ...string) string {
	return filepath.Join(append([]string{w.Root}, name...)...)
}

// ArchivePath is where the raw decoded payload is saved.
func (w *WorkArea) ArchivePath() string {
	return w.Path(ArchiveFileName)
}

// WorkbookPath is where the composed spreadsheet is persisted.
func (w *WorkArea) WorkbookPath() string {
	return w.Path(WorkbookFileName)
}
