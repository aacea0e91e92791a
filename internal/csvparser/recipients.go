package csvparser

import (
	"bufio"
	"encoding/csv"
	"errors"
	"io"
	"sort"
	"strings"

	"PulseCampaign/internal/email"
	"PulseCampaign/internal/models"
	"PulseCampaign/internal/render"
)

const emailColumn = "Email"

// ParseRecipientRows parses a CSV from an io.Reader. The CSV must contain a header row
// with an "Email" column (case-insensitive). Every other column is kept under its
// normalized name so templates can reference it.
//
// Rows with an invalid address are skipped and counted in Result.Invalid.
func ParseRecipientRows(r io.Reader, maxRows int) (*Result, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, err
	}

	tbl, err := newTable(headers, "csv", maxRows)
	if err != nil {
		return nil, err
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) != len(headers) {
			// skip malformed row
			continue
		}
		if err := tbl.add(record); err != nil {
			return nil, err
		}
	}

	return tbl.result(), nil
}

// table turns a header row plus data rows into recipients.
type table struct {
	res        *Result
	maxRows    int
	emailIdx   int
	normalized []string
	colSet     map[string]struct{}
}

func newTable(headers []string, fileType string, maxRows int) (*table, error) {
	t := &table{
		res:        &Result{FileType: fileType, Recipients: make([]models.Recipient, 0)},
		maxRows:    maxRows,
		emailIdx:   -1,
		normalized: make([]string, len(headers)),
		colSet:     make(map[string]struct{}),
	}
	for i, h := range headers {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if t.emailIdx == -1 && strings.EqualFold(h, "email") {
			t.emailIdx = i
			continue
		}
		t.normalized[i] = render.Normalize(h)
		t.colSet[t.normalized[i]] = struct{}{}
	}
	if t.emailIdx == -1 {
		return nil, ErrNoEmailColumn
	}
	return t, nil
}

// add appends one data row. record must have one value per header.
func (t *table) add(record []string) error {
	addr := strings.TrimSpace(record[t.emailIdx])
	if addr == "" && allBlank(record) {
		return nil
	}
	if !email.Valid(addr) {
		t.res.Invalid++
		return nil
	}
	if len(t.res.Recipients) >= t.maxRows {
		return ErrTooManyRecipients
	}

	rcpt := models.Recipient{emailColumn: addr}
	for i := range record {
		if i == t.emailIdx || t.normalized[i] == emailColumn {
			continue
		}
		rcpt[t.normalized[i]] = strings.TrimSpace(record[i])
	}
	t.res.Recipients = append(t.res.Recipients, rcpt)
	return nil
}

// result lists columns as "Email" followed by the rest sorted.
func (t *table) result() *Result {
	cols := make([]string, 0, len(t.colSet))
	for c := range t.colSet {
		if c != emailColumn {
			cols = append(cols, c)
		}
	}
	sort.Strings(cols)
	t.res.Columns = append([]string{emailColumn}, cols...)
	return t.res
}

// ParseLines reads one address per line. Blank lines are ignored.
func ParseLines(r io.Reader, maxRows int) (*Result, error) {
	res := &Result{
		FileType:   "text",
		Columns:    []string{emailColumn},
		Recipients: make([]models.Recipient, 0),
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		addr := strings.TrimSpace(strings.TrimPrefix(sc.Text(), "\ufeff"))
		if addr == "" {
			continue
		}
		if !email.Valid(addr) {
			res.Invalid++
			continue
		}
		if len(res.Recipients) >= maxRows {
			return nil, ErrTooManyRecipients
		}
		res.Recipients = append(res.Recipients, models.Recipient{emailColumn: addr})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	return res, nil
}

func allBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
