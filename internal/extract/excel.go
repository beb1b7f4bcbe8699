package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// extractExcel extracts text from .xlsx bytes. Cells are tab-joined per row
// so tabular structure survives into the chunker; rows with no content are
// skipped and sheets are separated by a blank line.
func extractExcel(content []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("extract XLSX: not a workbook: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("extract XLSX: read sheet %q: %w", sheet, err)
		}
		wrote := false
		for _, row := range rows {
			if !rowHasContent(row) {
				continue
			}
			if !wrote && b.Len() > 0 {
				b.WriteByte('\n')
			}
			wrote = true
			b.WriteString(strings.Join(row, "\t"))
			b.WriteByte('\n')
		}
	}
	return strings.TrimSpace(b.String()), nil
}

func rowHasContent(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return true
		}
	}
	return false
}
