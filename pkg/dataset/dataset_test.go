package dataset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sample = `{"question": "What is 6*7?", "answer": "6*7=42\n#### 42", "meta": {"level": 1}}

{"question": "What is 1+1?", "answer": "#### 2", "meta": {"level": 0}}
{"question": "What is 2+2?", "answer": "#### 4"}
`

func TestRead(t *testing.T) {
	records, err := Read(strings.NewReader(sample), 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if records[1].Index != 1 {
		t.Errorf("Index = %d, want 1", records[1].Index)
	}
	if got := records[0].String("answer"); !strings.HasSuffix(got, "#### 42") {
		t.Errorf("answer = %q", got)
	}
	if got := records[0].Get("meta.level").Int(); got != 1 {
		t.Errorf("meta.level = %d, want 1", got)
	}
	if records[0].Fields["question"] != "What is 6*7?" {
		t.Errorf("Fields = %#v", records[0].Fields)
	}
	if records[2].String("meta.level") != "" {
		t.Error("absent path should be empty")
	}
}

func TestReadLimitAndErrors(t *testing.T) {
	records, err := Read(strings.NewReader(sample), 2)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("got %d records, want 2", len(records))
	}

	if _, err := Read(strings.NewReader("{\"a\": 1}\n{broken\n"), 0); err == nil {
		t.Error("expected error for invalid line")
	}
	if _, err := Read(strings.NewReader("[1, 2]\n"), 0); err == nil {
		t.Error("expected error for non-object line")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.jsonl")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	records, err := Load(path, 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != 3 {
		t.Errorf("got %d records, want 3", len(records))
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.jsonl"), 0); err == nil {
		t.Error("expected error for missing file")
	}
}
