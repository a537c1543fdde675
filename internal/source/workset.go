package source

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/harvester/internal/harvest"
)

// ErrInputMissing is returned when the work-set file does not exist. It is a configuration fault.
var ErrInputMissing = errors.New("input file is missing")

// IDSeparator joins the fields of a composite id.
const IDSeparator = "|"

// WorkSet is the deduplicated list of items loaded from an input file.
type WorkSet struct {
	Items []harvest.WorkItem
	// Duplicates counts rows whose id was already seen.
	Duplicates int
	// Skipped counts rows with an empty id.
	Skipped int
}

// IDs returns the item ids in input order.
func (w WorkSet) IDs() []string {
	ids := make([]string, len(w.Items))
	for i, item := range w.Items {
		ids[i] = item.ID
	}
	return ids
}

// LoadWorkSet reads path and keys each row by idFields (default "id").
func LoadWorkSet(path string, idFields []string) (WorkSet, error) {
	if strings.TrimSpace(path) == "" {
		return WorkSet{}, fmt.Errorf("%w: no input configured", ErrInputMissing)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return WorkSet{}, fmt.Errorf("%w: %s", ErrInputMissing, path)
		}
		return WorkSet{}, fmt.Errorf("read input: %w", err)
	}
	rows, err := parseRows(filepath.Ext(path), data)
	if err != nil {
		return WorkSet{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return BuildWorkSet(rows, idFields), nil
}

// BuildWorkSet turns rows into work items, keeping the first occurrence of every id.
func BuildWorkSet(rows []map[string]string, idFields []string) WorkSet {
	if len(idFields) == 0 {
		idFields = []string{"id"}
	}
	var ws WorkSet
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		id := CompositeID(row, idFields)
		if id == "" {
			ws.Skipped++
			continue
		}
		if _, dup := seen[id]; dup {
			ws.Duplicates++
			continue
		}
		seen[id] = struct{}{}
		ws.Items = append(ws.Items, harvest.WorkItem{ID: id, Fields: row})
	}
	return ws
}

// CompositeID joins the trimmed values of fields. It returns "" when every part is empty.
func CompositeID(row map[string]string, fields []string) string {
	parts := make([]string, len(fields))
	empty := true
	for i, f := range fields {
		parts[i] = strings.TrimSpace(row[f])
		if parts[i] != "" {
			empty = false
		}
	}
	if empty {
		return ""
	}
	return strings.Join(parts, IDSeparator)
}

func parseRows(ext string, data []byte) ([]map[string]string, error) {
	switch strings.ToLower(ext) {
	case ".json":
		var raw []any
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		return normalizeRows(raw)
	case ".jsonl", ".ndjson":
		return parseJSONLines(data)
	case ".yaml", ".yml":
		var raw []any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		return normalizeRows(raw)
	case ".csv":
		return parseCSV(data)
	default:
		return nil, fmt.Errorf("unsupported input format %q", ext)
	}
}

func parseJSONLines(data []byte) ([]map[string]string, error) {
	var raw []any
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		raw = append(raw, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return normalizeRows(raw)
}

func parseCSV(data []byte) ([]map[string]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	var rows []map[string]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[strings.TrimSpace(col)] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// normalizeRows flattens decoded values to string fields. Bare scalars become {"id": value}.
func normalizeRows(raw []any) ([]map[string]string, error) {
	rows := make([]map[string]string, 0, len(raw))
	for i, v := range raw {
		switch t := v.(type) {
		case map[string]any:
			row := make(map[string]string, len(t))
			for k, fv := range t {
				row[k] = stringify(fv)
			}
			rows = append(rows, row)
		case []any, nil:
			return nil, fmt.Errorf("row %d: unsupported value %T", i, v)
		default:
			rows = append(rows, map[string]string{"id": stringify(t)})
		}
	}
	return rows, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}
