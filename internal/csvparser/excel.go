package csvparser

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// ParseWorkbook reads recipients from the first sheet of an .xlsx workbook.
// The first row is the header and follows the same rules as
// ParseRecipientRows. Short rows are padded with blanks.
func ParseWorkbook(r io.Reader, maxRows int) (*Result, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadWorkbook, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyFile
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadWorkbook, err)
	}
	if len(rows) == 0 {
		return nil, ErrEmptyFile
	}

	headers := rows[0]
	tbl, err := newTable(headers, "excel", maxRows)
	if err != nil {
		return nil, err
	}

	for _, row := range rows[1:] {
		record := make([]string, len(headers))
		copy(record, row)
		if err := tbl.add(record); err != nil {
			return nil, err
		}
	}

	return tbl.result(), nil
}
