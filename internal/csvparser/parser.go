package csvparser

import (
	"errors"
	"io"
	"path/filepath"
	"strings"

	"PulseCampaign/internal/models"
)

var (
	ErrUnsupportedType   = errors.New("invalid file type (must be .csv, .xlsx or .txt)")
	ErrEmptyFile         = errors.New("uploaded file is empty")
	ErrBadWorkbook       = errors.New("error processing Excel file, check format")
	ErrNoEmailColumn     = errors.New("file must contain an Email column")
	ErrNoRecipients      = errors.New("no valid email addresses found in the file")
	ErrTooManyRecipients = errors.New("recipient limit exceeded")
)

// Result is a parsed recipient upload.
type Result struct {
	Recipients []models.Recipient
	Columns    []string
	Invalid    int
	FileType   string
}

// Parse reads a recipient file, choosing the format by extension.
// At most maxRows valid recipients are accepted; one more yields
// ErrTooManyRecipients.
func Parse(filename string, r io.Reader, maxRows int) (*Result, error) {
	if maxRows <= 0 {
		maxRows = 1000
	}

	var (
		res *Result
		err error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		res, err = ParseRecipientRows(r, maxRows)
	case ".xlsx":
		res, err = ParseWorkbook(r, maxRows)
	case ".txt":
		res, err = ParseLines(r, maxRows)
	default:
		return nil, ErrUnsupportedType
	}
	if err != nil {
		return nil, err
	}

	if len(res.Recipients) == 0 {
		return nil, ErrNoRecipients
	}
	return res, nil
}
