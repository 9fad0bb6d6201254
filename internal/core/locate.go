package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/sheetdrop/internal/logging"
)

// TableExt is the file extension recognised as tabular data.
const TableExt = ".csv"

// TableFile is one CSV file found in a WorkArea.
type TableFile struct {
	Path    string // Absolute path
	RelPath string // Path relative to the WorkArea root
	Name    string // Base file name including extension
}

// SearchRoots returns the directories to search for tables, best first.
//
// With one or more subdirectories the first one (in listing order) is tried
// before the root; without subdirectories only the root is searched. Siblings
// after the first are never scanned.
func SearchRoots(root string, subdirs []string) []string {
	if len(subdirs) == 0 {
		return []string{root}
	}
	return []string{filepath.Join(root, subdirs[0]), root}
}

// Locate finds the CSV files of a WorkArea using the ranked SearchRoots.
// The first candidate with at least one match wins.
func Locate(ctx context.Context, area *WorkArea) ([]TableFile, error) {
	logger := logging.WithFields(ctx, "run_id", area.ID)

	entries, err := os.ReadDir(area.Root)
	if err != nil {
		return nil, newError(StageLocate, KindIO, fmt.Errorf("list work area: %w", err))
	}

	var subdirs []string
	for _, e := range entries {
		if e.IsDir() {
			subdirs = append(subdirs, e.Name())
		}
	}
	if len(subdirs) > 1 {
		logger.Warn("multiple subfolders in archive, searching the first one before the root",
			"subfolders", subdirs)
	}

	for _, dir := range SearchRoots(area.Root, subdirs) {
		tables, err := listTables(area.Root, dir)
		if err != nil {
			// An unreadable candidate is skipped in favour of the next one,
			// but the root itself must be readable.
			if dir == area.Root {
				return nil, newError(StageLocate, KindIO, err)
			}
			logger.Warn("cannot search folder, falling back", "dir", dir, "error", err)
			continue
		}
		if len(tables) > 0 {
			logger.Info("tables located", "dir", dir, "count", len(tables))
			return tables, nil
		}
		logger.Debug("no tables in folder", "dir", dir)
	}

	return nil, newError(StageLocate, KindNoTables, ErrNoTablesFound)
}

// listTables returns the CSV files directly inside dir, in listing order.
func listTables(root, dir string) ([]TableFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	var tables []TableFile
	for _, e := range entries {
		if !e.Type().IsRegular() || !IsTableFile(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = e.Name()
		}
		tables = append(tables, TableFile{Path: path, RelPath: rel, Name: e.Name()})
	}
	return tables, nil
}

// IsTableFile reports whether name has the tabular extension, ignoring case.
func IsTableFile(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), TableExt)
}
