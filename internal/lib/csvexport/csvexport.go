// Package csvexport renders collected form responses as CSV.
package csvexport

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"formbuilder/internal/models"
)

// Export writes one header row built from the form's field labels and one
// row per response, matching answers to columns by question text. Answers
// for questions the form no longer carries are dropped; missing answers
// leave the cell empty.
func Export(form models.Form, responses []models.FormResponse) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := make([]string, 0, len(form.Fields))
	for _, f := range form.Fields {
		header = append(header, f.Label)
	}

	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("csvexport: %w", err)
	}

	for _, resp := range responses {
		byQuestion := make(map[string]string, len(resp.Answers))
		for _, a := range resp.Answers {
			byQuestion[a.Question] = formatAnswer(a.Answer)
		}

		row := make([]string, 0, len(form.Fields))
		for _, f := range form.Fields {
			row = append(row, byQuestion[f.Label])
		}

		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("csvexport: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("csvexport: %w", err)
	}

	return buf.Bytes(), nil
}

// formatAnswer flattens a jsonb answer value to cell text. Multi-select
// answers arrive as lists and are joined with ", ".
func formatAnswer(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case []string:
		return strings.Join(val, ", ")
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, formatAnswer(item))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(val)
	}
}
