package core

// extract.go turns the base64 attachment into files on disk.
//
// The order of operations matters for failure reporting:
//  1. Decode the payload. Nothing touches the filesystem before this succeeds.
//  2. Create the WorkArea and save the raw bytes as output.zip.
//  3. Validate the container, then expand every entry under the WorkArea root.

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/JonMunkholm/sheetdrop/internal/logging"
)

// DefaultMaxExpandedBytes caps the total uncompressed size of an archive (1 GiB).
const DefaultMaxExpandedBytes int64 = 1 << 30

// Extractor decodes payloads and expands them into fresh WorkAreas.
type Extractor struct {
	// Base is the directory new WorkAreas are created in (default: system temp dir).
	Base string

	// MaxExpandedBytes aborts extraction once entries exceed this many bytes.
	// Zero means DefaultMaxExpandedBytes; negative disables the limit.
	MaxExpandedBytes int64
}

// Extract decodes payload, saves it and expands it.
//
// The returned WorkArea is non-nil whenever the directory was created, even if
// a later step failed, so the caller can report or clean what was left behind.
// Errors are always *Error values at StageExtract.
func (x Extractor) Extract(ctx context.Context, payload string) (*WorkArea, error) {
	logger := logging.FromContext(ctx)

	raw, err := DecodePayload(payload)
	if err != nil {
		return nil, newError(StageExtract, KindDecode, err)
	}

	area, err := NewWorkArea(x.Base)
	if err != nil {
		return nil, newError(StageExtract, KindIO, err)
	}
	logger = logger.With("run_id", area.ID, "work_area", area.Root)

	if err := os.WriteFile(area.ArchivePath(), raw, 0o644); err != nil {
		return area, newError(StageExtract, KindIO, fmt.Errorf("save archive: %w", err))
	}
	logger.Debug("archive saved", "bytes", len(raw))

	// Entries are read from memory: an entry may itself be named output.zip
	// and overwrite the saved copy. ErrInsecurePath still yields a usable
	// reader; extractEntry rejects the offending entries itself.
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return area, newError(StageExtract, KindCorruptArchive, fmt.Errorf("open archive: %w", err))
	}

	limit := x.MaxExpandedBytes
	if limit == 0 {
		limit = DefaultMaxExpandedBytes
	}

	var expanded int64
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return area, newError(StageExtract, KindIO, fmt.Errorf("extraction cancelled: %w", err))
		}

		n, err := extractEntry(area.Root, f, remaining(limit, expanded))
		if err != nil {
			return area, classifyEntryError(f.Name, err)
		}
		expanded += n
	}

	logger.Info("archive extracted", "entries", len(zr.File), "bytes", expanded)
	return area, nil
}

// Extract runs an Extractor with default limits under base.
func Extract(ctx context.Context, base, payload string) (*WorkArea, error) {
	return Extractor{Base: base}.Extract(ctx, payload)
}

// DecodePayload decodes standard base64, ignoring whitespace and tolerating
// missing padding.
func DecodePayload(payload string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, payload)
	cleaned = strings.TrimRight(cleaned, "=")

	raw, err := base64.RawStdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 attachment data: %w", err)
	}
	return raw, nil
}

// remaining returns the byte budget left, or -1 for unlimited.
func remaining(limit, used int64) int64 {
	if limit < 0 {
		return -1
	}
	return limit - used
}

// extractEntry writes a single zip entry below root and returns the bytes written.
func extractEntry(root string, f *zip.File, budget int64) (int64, error) {
	name := filepath.FromSlash(f.Name)
	if !filepath.IsLocal(name) {
		return 0, fmt.Errorf("%w: %q", ErrPathTraversal, f.Name)
	}
	target := filepath.Join(root, name)

	mode := f.Mode()
	switch {
	case mode.IsDir():
		return 0, os.MkdirAll(target, 0o755)
	case !mode.IsRegular():
		// Symlinks and devices are not materialised.
		return 0, nil
	}

	if budget >= 0 && int64(f.UncompressedSize64) > budget {
		return 0, fmt.Errorf("%w: entry %q", ErrArchiveTooLarge, f.Name)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}

	rc, err := f.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}

	var src io.Reader = rc
	if budget >= 0 {
		// Header sizes can lie; read one byte past the budget to detect it.
		src = io.LimitReader(rc, budget+1)
	}

	n, copyErr := io.Copy(out, src)
	closeErr := out.Close()
	if copyErr != nil {
		return n, copyErr
	}
	if closeErr != nil {
		return n, closeErr
	}
	if budget >= 0 && n > budget {
		return n, fmt.Errorf("%w: entry %q", ErrArchiveTooLarge, f.Name)
	}
	return n, nil
}

// classifyEntryError separates damaged archive content from local I/O problems.
func classifyEntryError(name string, err error) *Error {
	wrapped := fmt.Errorf("extract %q: %w", name, err)
	if errors.Is(err, zip.ErrFormat) || errors.Is(err, zip.ErrChecksum) ||
		errors.Is(err, zip.ErrAlgorithm) || errors.Is(err, io.ErrUnexpectedEOF) {
		return newError(StageExtract, KindCorruptArchive, wrapped)
	}
	return newError(StageExtract, KindIO, wrapped)
}
