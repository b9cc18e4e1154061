package service

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/iliyamo/event-credentials/internal/apperrors"
)

var requiredColumns = []string{"name", "email", "phone", "role"}

// ParseCSV reads an attendee batch.  The first line is a header naming
// the columns in any order and case; name, email, phone and role are
// required, company, title, tags, notes and event are optional, and any
// other column is ignored.  Line numbers are 1-based file lines, so the
// first data row is line 2.  A missing required column rejects the whole
// batch; empty cells are left for row validation to classify.
func ParseCSV(r io.Reader) ([]ImportRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, apperrors.New(apperrors.CodeValidation, "empty file: header row required")
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeValidation, "malformed CSV header")
	}

	idx := map[string]int{}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, seen := idx[h]; !seen {
			idx[h] = i
		}
	}
	var missing []string
	for _, c := range requiredColumns {
		if _, ok := idx[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, apperrors.Newf(apperrors.CodeValidation, "missing required column(s): %s", strings.Join(missing, ", "))
	}

	rows := make([]ImportRow, 0)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				return nil, apperrors.Newf(apperrors.CodeValidation, "malformed CSV at line %d: %v", pe.Line, pe.Err)
			}
			return nil, apperrors.Wrap(err, apperrors.CodeValidation, "malformed CSV")
		}
		line, _ := cr.FieldPos(0)
		get := func(col string) string {
			i, ok := idx[col]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		rows = append(rows, ImportRow{
			Line:    line,
			Name:    get("name"),
			Email:   get("email"),
			Phone:   get("phone"),
			Role:    get("role"),
			Company: get("company"),
			Title:   get("title"),
			Tags:    splitTags(get("tags")),
			Notes:   get("notes"),
			Event:   get("event"),
		})
	}
	return rows, nil
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == '|' || r == ',' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
