package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/sheetdrop/internal/logging"
)

// SheetInfo describes one sheet of a composed workbook.
type SheetInfo struct {
	Name    string `json:"name"`
	Source  string `json:"source"` // TableFile.RelPath the sheet was built from
	Rows    int    `json:"rows"`   // Data rows, header excluded
	Columns int    `json:"columns"`
}

// Artifact is the persisted workbook produced by Compose.
type Artifact struct {
	Path   string      `json:"path"`
	Sheets []SheetInfo `json:"sheets"`
}

// Compose merges tables into one workbook, one sheet per table in the given
// order, and persists it atomically as the WorkArea's tabbed.xlsx.
//
// Nothing is left at the workbook path unless every sheet was written and
// the file was flushed and renamed into place.
func Compose(ctx context.Context, area *WorkArea, tables []TableFile) (*Artifact, error) {
	logger := logging.WithFields(ctx, "run_id", area.ID)

	fileNames := make([]string, len(tables))
	for i, t := range tables {
		fileNames[i] = t.Name
	}
	names := UniqueSheetNames(fileNames)

	wb := excelize.NewFile()
	defer wb.Close()

	artifact := &Artifact{Path: area.WorkbookPath()}

	for i, tf := range tables {
		if err := ctx.Err(); err != nil {
			return nil, newError(StageCompose, KindWrite, fmt.Errorf("compose cancelled: %w", err))
		}

		table, err := ReadTable(tf.Path)
		if err != nil {
			return nil, err
		}
		if len(table.Rows) == 0 {
			logger.Warn("csv file has no data rows, creating an empty sheet", "file", tf.RelPath)
		}
		if sanitizeSheetName(tf.Name) == "" {
			logger.Warn("sanitized sheet name was empty, using generic name", "file", tf.Name, "sheet", names[i])
		}

		if err := writeSheet(wb, i, names[i], table); err != nil {
			return nil, newError(StageCompose, KindWrite,
				fmt.Errorf("write sheet %q from %s: %w", names[i], tf.RelPath, err))
		}

		artifact.Sheets = append(artifact.Sheets, SheetInfo{
			Name:    names[i],
			Source:  tf.RelPath,
			Rows:    len(table.Rows),
			Columns: table.Columns(),
		})
	}
	wb.SetActiveSheet(0)

	if err := persistWorkbook(wb, artifact.Path); err != nil {
		return nil, newError(StageCompose, KindWrite, err)
	}

	logger.Info("workbook saved", "path", artifact.Path, "sheets", len(artifact.Sheets))
	return artifact, nil
}

// writeSheet adds table as sheet index i. The first sheet reuses the default
// sheet every new workbook starts with.
func writeSheet(wb *excelize.File, i int, name string, table *Table) error {
	if i == 0 {
		if err := wb.SetSheetName(wb.GetSheetName(0), name); err != nil {
			return err
		}
	} else if _, err := wb.NewSheet(name); err != nil {
		return err
	}

	sw, err := wb.NewStreamWriter(name)
	if err != nil {
		return err
	}

	if len(table.Header) > 0 {
		header := make([]any, len(table.Header))
		for c, h := range table.Header {
			header[c] = h
		}
		if err := sw.SetRow("A1", header); err != nil {
			return err
		}
	}

	for r, row := range table.Rows {
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		values := make([]any, len(row))
		for c, v := range row {
			values[c] = cellValue(v)
		}
		if err := sw.SetRow(cell, values); err != nil {
			return err
		}
	}

	return sw.Flush()
}

// maxNumericDigits is the precision of a workbook number (IEEE 754 double).
const maxNumericDigits = 15

// cellValue types a CSV field for the workbook: integers and decimals become
// numbers, empty fields stay blank, anything else is text. Values with a
// leading zero (identifiers, zip codes) and values with more significant
// digits than a workbook number holds (long account ids) are kept as text.
func cellValue(s string) any {
	if s == "" {
		return nil
	}
	if hasLeadingZero(s) || significantDigits(s) > maxNumericDigits {
		return s
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if isDecimal(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return s
}

// significantDigits counts the digits of s from the first non-zero one.
func significantDigits(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			continue
		}
		if n == 0 && r == '0' {
			continue
		}
		n++
	}
	return n
}

func hasLeadingZero(s string) bool {
	s = strings.TrimPrefix(s, "-")
	return len(s) > 1 && s[0] == '0' && s[1] != '.'
}

// isDecimal accepts plain decimal notation only, so "NaN", "Inf", hex and
// underscore forms accepted by strconv stay text.
func isDecimal(s string) bool {
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return false
	}
	dot := false
	digits := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.' && !dot:
			dot = true
		default:
			return false
		}
	}
	return digits > 0
}

// persistWorkbook writes wb to path with fsync and atomic rename.
func persistWorkbook(wb *excelize.File, path string) error {
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("initialize workbook writer: %w", err)
	}
	// Cleanup removes the temp file unless CloseAtomicallyReplace succeeded.
	defer pending.Cleanup()

	if _, err := wb.WriteTo(pending); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("finalize workbook %s: %w", path, err)
	}
	return nil
}
