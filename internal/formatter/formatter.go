// package formatter exports a job's stored results to CSV, Markdown or plain text
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/desertthunder/collectx/internal/models"
	"github.com/desertthunder/collectx/internal/shared"
)

// Format names an export format.
type Format string

const (
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "md"
	FormatText     Format = "txt"
)

// ParseFormat accepts a format name or a common alias.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv":
		return FormatCSV, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	case "txt", "text":
		return FormatText, nil
	default:
		return "", fmt.Errorf("%w: unknown export format %q", shared.ErrInvalidArgument, s)
	}
}

// Columns returns keys, or every payload key across items in sorted order when keys is empty.
func Columns(items []models.ResultItem, keys []string) []string {
	if len(keys) > 0 {
		return keys
	}
	seen := make(map[string]bool)
	for _, it := range items {
		for k := range it.Payload {
			seen[k] = true
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	slices.Sort(cols)
	return cols
}

// Value renders one payload value as a cell. Whole numbers lose their fraction; maps and slices are JSON.
func Value(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case json.Number:
		return x.String()
	case map[string]any, []any:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(data)
	default:
		return fmt.Sprint(x)
	}
}

func header(col string, labels map[string]string) string {
	if label, ok := labels[col]; ok && label != "" {
		return label
	}
	return col
}

// ExportToCSV writes one row per item: record id, outcome, then one column per key.
func ExportToCSV(items []models.ResultItem, keys []string, labels map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	cols := Columns(items, keys)
	headers := []string{"record_id", "outcome"}
	for _, c := range cols {
		headers = append(headers, header(c, labels))
	}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, it := range items {
		record := []string{it.RecordID, string(it.Outcome)}
		for _, c := range cols {
			record = append(record, Value(it.Payload[c]))
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToMarkdown renders a titled list with one section per item.
func ExportToMarkdown(title string, items []models.ResultItem, keys []string, labels map[string]string) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# %s\n\n", title)
	fmt.Fprintf(&buf, "**Results**: %d\n\n", len(items))

	cols := Columns(items, keys)
	for i, it := range items {
		fmt.Fprintf(&buf, "## %d. %s", i+1, it.RecordID)
		if it.Outcome != "" && it.Outcome != models.OutcomeOK {
			fmt.Fprintf(&buf, " (%s)", it.Outcome)
		}
		buf.WriteString("\n\n")
		for _, c := range cols {
			v := Value(it.Payload[c])
			if v == "" {
				continue
			}
			fmt.Fprintf(&buf, "- **%s**: %s\n", header(c, labels), v)
		}
		buf.WriteString("\n")
	}

	return buf.Bytes(), nil
}

// ExportToText renders one line per item: its record id and title when present.
func ExportToText(items []models.ResultItem) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Results: %d\n\n", len(items))
	for i, it := range items {
		title := Value(it.Payload["title"])
		if title == "" {
			fmt.Fprintf(&buf, "%d. %s\n", i+1, it.RecordID)
			continue
		}
		fmt.Fprintf(&buf, "%d. %s - %s\n", i+1, it.RecordID, title)
	}

	return buf.Bytes(), nil
}

// Export renders items in format.
func Export(format Format, title string, items []models.ResultItem, keys []string, labels map[string]string) ([]byte, error) {
	switch format {
	case FormatCSV:
		return ExportToCSV(items, keys, labels)
	case FormatMarkdown:
		return ExportToMarkdown(title, items, keys, labels)
	case FormatText:
		return ExportToText(items)
	default:
		return nil, fmt.Errorf("%w: unknown export format %q", shared.ErrInvalidArgument, format)
	}
}

// WriteExport renders items in format and writes them to path.
//
// Defaults to {base}_results.{format} as the filename.
func WriteExport(format Format, base, path string, items []models.ResultItem, keys []string, labels map[string]string) (string, error) {
	if path == "" {
		path = fmt.Sprintf("%s_results.%s", base, format)
	}

	data, err := Export(format, base, items, keys, labels)
	if err != nil {
		return "", fmt.Errorf("failed to generate %s: %w", format, err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}

	return path, nil
}
