// Package dataset reads task records from JSON Lines files.
package dataset

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/tidwall/gjson"
)

// Record is one input row. Fields is what templates see.
type Record struct {
	Index  int
	Raw    []byte
	Fields map[string]any
}

// Get looks up a gjson path in the raw row
func (r Record) Get(path string) gjson.Result {
	return gjson.GetBytes(r.Raw, path)
}

// String returns the value at path as text, or "" when absent
func (r Record) String(path string) string {
	return r.Get(path).String()
}

// Load reads at most limit records (0 means all) from a JSONL file
func Load(path string, limit int) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()
	return Read(f, limit)
}

func Read(r io.Reader, limit int) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var records []Record
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		if !gjson.ValidBytes(raw) {
			return nil, fmt.Errorf("dataset line %d: invalid JSON", line)
		}
		parsed := gjson.ParseBytes(raw)
		if !parsed.IsObject() {
			return nil, fmt.Errorf("dataset line %d: expected an object", line)
		}
		fields, _ := parsed.Value().(map[string]any)
		records = append(records, Record{
			Index:  len(records),
			Raw:    append([]byte(nil), raw...),
			Fields: fields,
		})
		if limit > 0 && len(records) >= limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	return records, nil
}
