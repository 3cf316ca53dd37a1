// Package tabular holds the structured datasets the analysis tool works on:
// table stores, a cached schema catalog, and a small query-plan language with
// its evaluator.
package tabular

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"path"
	"strconv"
	"strings"
	"time"
)

const (
	TypeInt    = "int"
	TypeFloat  = "float"
	TypeDate   = "date"
	TypeBool   = "bool"
	TypeString = "string"
)

var ErrUnknownFormat = errors.New("unknown table format")

// dateLayouts are tried in order when a value may be a date.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"02/01/2006",
}

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Row maps column name to a typed cell: int64, float64, bool, time.Time,
// string or nil.
type Row map[string]any

type Table struct {
	Name    string
	Columns []Column
	Rows    []Row
}

func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// TableName derives a table name from an object or file name.
func TableName(object string) string {
	base := path.Base(strings.ReplaceAll(object, "\\", "/"))
	return strings.TrimSuffix(base, path.Ext(base))
}

// Format returns the decoder format for an object name, or "".
func Format(object string) string {
	switch strings.ToLower(path.Ext(object)) {
	case ".csv":
		return "csv"
	case ".json":
		return "json"
	case ".jsonl", ".ndjson":
		return "jsonl"
	}
	return ""
}

// Decode reads a whole table in the given format and infers column types.
func Decode(name, format string, r io.Reader) (*Table, error) {
	var (
		header []string
		raw    []map[string]string
		err    error
	)
	switch format {
	case "csv":
		header, raw, err = decodeCSV(r)
	case "json":
		header, raw, err = decodeJSONArray(r)
	case "jsonl":
		header, raw, err = decodeJSONLines(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("decode table %s failed: %w", name, err)
	}
	return build(name, header, raw), nil
}

func decodeCSV(r io.Reader) ([]string, []map[string]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(records) == 0 {
		return nil, nil, nil
	}
	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	rows := make([]map[string]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(rec) {
				row[h] = strings.TrimSpace(rec[i])
			}
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}

func decodeJSONArray(r io.Reader) ([]string, []map[string]string, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var items []json.RawMessage
	if err := dec.Decode(&items); err != nil {
		return nil, nil, err
	}
	return decodeObjects(items)
}

func decodeJSONLines(r io.Reader) ([]string, []map[string]string, error) {
	var items []json.RawMessage
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		items = append(items, append(json.RawMessage(nil), line...))
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	return decodeObjects(items)
}

func decodeObjects(items []json.RawMessage) ([]string, []map[string]string, error) {
	var header []string
	seen := make(map[string]struct{})
	rows := make([]map[string]string, 0, len(items))
	for _, item := range items {
		keys, values, err := decodeObject(item)
		if err != nil {
			return nil, nil, err
		}
		for _, k := range keys {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				header = append(header, k)
			}
		}
		rows = append(rows, values)
	}
	return header, rows, nil
}

// decodeObject keeps the key order of the source object.
func decodeObject(item json.RawMessage) ([]string, map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(item))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, fmt.Errorf("expected object, got %v", tok)
	}
	var keys []string
	values := make(map[string]string)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, _ := keyTok.(string)
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, nil, err
		}
		keys = append(keys, key)
		values[key] = cellText(v)
	}
	return keys, values, nil
}

func cellText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

func build(name string, header []string, raw []map[string]string) *Table {
	t := &Table{Name: name, Columns: make([]Column, 0, len(header)), Rows: make([]Row, len(raw))}
	for _, h := range header {
		values := make([]string, 0, len(raw))
		for _, r := range raw {
			values = append(values, r[h])
		}
		t.Columns = append(t.Columns, Column{Name: h, Type: inferType(values)})
	}
	for i, r := range raw {
		row := make(Row, len(t.Columns))
		for _, c := range t.Columns {
			row[c.Name] = parseCell(c.Type, r[c.Name])
		}
		t.Rows[i] = row
	}
	return t
}

func inferType(values []string) string {
	candidates := []string{TypeInt, TypeFloat, TypeBool, TypeDate}
	seen := false
	for _, v := range values {
		if v == "" {
			continue
		}
		seen = true
		kept := candidates[:0]
		for _, c := range candidates {
			if parseCell(c, v) != nil {
				kept = append(kept, c)
			}
		}
		candidates = kept
		if len(candidates) == 0 {
			return TypeString
		}
	}
	if !seen {
		return TypeString
	}
	return candidates[0]
}

// parseCell converts text to the column type. It returns nil for empty text
// and, for non-string types, for text that does not parse.
func parseCell(typ, text string) any {
	if text == "" {
		return nil
	}
	switch typ {
	case TypeInt:
		if v, err := strconv.ParseInt(text, 10, 64); err == nil {
			return v
		}
		return nil
	case TypeFloat:
		if v, err := strconv.ParseFloat(text, 64); err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
			return v
		}
		return nil
	case TypeBool:
		switch strings.ToLower(text) {
		case "true", "yes":
			return true
		case "false", "no":
			return false
		}
		return nil
	case TypeDate:
		if v, ok := parseDate(text); ok {
			return v
		}
		return nil
	default:
		return text
	}
}

func parseDate(text string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if v, err := time.Parse(layout, text); err == nil {
			return v, true
		}
	}
	return time.Time{}, false
}

func dateOnly(text string) bool {
	for _, layout := range []string{"2006-01-02", "02/01/2006"} {
		if _, err := time.Parse(layout, text); err == nil {
			return true
		}
	}
	return false
}
