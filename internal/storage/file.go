package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Exporter writes scraped records to a file. Records are any JSON-encodable
// values; CSV output flattens nested objects into dotted column names.
type Exporter interface {
	// Write appends a batch of records.
	Write(records []any) error

	// Close flushes pending writes and releases resources.
	Close() error

	// Name returns the exporter format.
	Name() string
}

// NewFileExporter creates the exporter for format ("json", "jsonl", "csv").
func NewFileExporter(format, outputPath string, logger *slog.Logger) (Exporter, error) {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	switch format {
	case "json":
		return &JSONExporter{path: outputPath, logger: logger.With("component", "json_exporter")}, nil
	case "jsonl":
		return newJSONLExporter(outputPath, logger)
	case "csv":
		return newCSVExporter(outputPath, logger)
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// FormatFromPath guesses the export format from a file extension.
func FormatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson":
		return "jsonl"
	case ".csv":
		return "csv"
	default:
		return "json"
	}
}

// --- JSON ---

// JSONExporter buffers records and writes them as one indented JSON array on Close.
type JSONExporter struct {
	path    string
	records []any
	mu      sync.Mutex
	logger  *slog.Logger
}

func (e *JSONExporter) Name() string { return "json" }

func (e *JSONExporter) Write(records []any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.records = append(e.records, records...)
	return nil
}

func (e *JSONExporter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	f, err := os.Create(e.path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	if e.records == nil {
		e.records = []any{}
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e.records); err != nil {
		return fmt.Errorf("encode JSON: %w", err)
	}

	e.logger.Info("JSON written", "path", e.path, "records", len(e.records))
	return nil
}

// --- JSONL ---

// JSONLExporter streams one JSON object per line.
type JSONLExporter struct {
	path   string
	file   *os.File
	enc    *json.Encoder
	mu     sync.Mutex
	count  int
	logger *slog.Logger
}

func newJSONLExporter(outputPath string, logger *slog.Logger) (*JSONLExporter, error) {
	f, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	return &JSONLExporter{
		path:   outputPath,
		file:   f,
		enc:    enc,
		logger: logger.With("component", "jsonl_exporter"),
	}, nil
}

func (e *JSONLExporter) Name() string { return "jsonl" }

func (e *JSONLExporter) Write(records []any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, rec := range records {
		if err := e.enc.Encode(rec); err != nil {
			return fmt.Errorf("encode JSONL: %w", err)
		}
		e.count++
	}
	return nil
}

func (e *JSONLExporter) Close() error {
	e.logger.Info("JSONL written", "path", e.path, "records", e.count)
	return e.file.Close()
}

// --- CSV ---

// CSVExporter writes flattened records as CSV rows. The header is taken from
// the first record.
type CSVExporter struct {
	path    string
	file    *os.File
	writer  *csv.Writer
	headers []string
	mu      sync.Mutex
	count   int
	logger  *slog.Logger
}

func newCSVExporter(outputPath string, logger *slog.Logger) (*CSVExporter, error) {
	f, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	return &CSVExporter{
		path:   outputPath,
		file:   f,
		writer: csv.NewWriter(f),
		logger: logger.With("component", "csv_exporter"),
	}, nil
}

func (e *CSVExporter) Name() string { return "csv" }

func (e *CSVExporter) Write(records []any) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, rec := range records {
		flat, err := flatten(rec)
		if err != nil {
			return err
		}

		if e.headers == nil {
			e.headers = make([]string, 0, len(flat))
			for k := range flat {
				e.headers = append(e.headers, k)
			}
			sort.Strings(e.headers)
			if err := e.writer.Write(e.headers); err != nil {
				return fmt.Errorf("write CSV header: %w", err)
			}
		}

		row := make([]string, len(e.headers))
		for i, h := range e.headers {
			row[i] = flat[h]
		}
		if err := e.writer.Write(row); err != nil {
			return fmt.Errorf("write CSV row: %w", err)
		}
		e.count++
	}

	e.writer.Flush()
	return e.writer.Error()
}

func (e *CSVExporter) Close() error {
	e.logger.Info("CSV written", "path", e.path, "records", e.count)
	e.writer.Flush()
	return e.file.Close()
}

// flatten converts a record to dotted-key strings through its JSON form.
// Arrays of scalars are joined with "; ", other arrays stay JSON-encoded.
func flatten(rec any) (map[string]string, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("record is not an object: %w", err)
	}
	out := make(map[string]string)
	flattenInto(out, "", m)
	return out, nil
}

func flattenInto(out map[string]string, prefix string, m map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flattenInto(out, key, val)
		case []any:
			out[key] = joinArray(val)
		case nil:
			out[key] = ""
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}

func joinArray(arr []any) string {
	parts := make([]string, 0, len(arr))
	for _, v := range arr {
		switch v.(type) {
		case map[string]any, []any:
			data, _ := json.Marshal(arr)
			return string(data)
		default:
			parts = append(parts, fmt.Sprint(v))
		}
	}
	return strings.Join(parts, "; ")
}
