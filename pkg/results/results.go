// Package results persists one record per finished episode.
package results

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/boristopalov/toolgym/pkg/core"
)

// Record is one line of the results file
type Record = core.EpisodeResult

// Sink accepts finished episodes
type Sink interface {
	Append(ctx context.Context, rec Record) error
}

// JSONLSink appends one JSON object per line
type JSONLSink struct {
	path string
	mu   sync.Mutex
}

func NewJSONLSink(path string) *JSONLSink {
	return &JSONLSink{path: path}
}

func (s *JSONLSink) Path() string {
	return s.path
}

func (s *JSONLSink) Append(_ context.Context, rec Record) error {
	if rec.Messages == nil {
		rec.Messages = []core.Message{}
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return nil
}

// ReadJSONL reads a results file back in order
func ReadJSONL(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	var out []Record
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		out = append(out, rec)
	}
	return out, scanner.Err()
}

// MultiSink appends to every sink and joins their errors
type MultiSink []Sink

func (m MultiSink) Append(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Summary tallies a set of records
type Summary struct {
	Episodes  int
	Correct   int
	Submitted int
}

func (s Summary) Accuracy() float64 {
	if s.Episodes == 0 {
		return 0
	}
	return float64(s.Correct) / float64(s.Episodes)
}

func Summarize(recs []Record) Summary {
	var s Summary
	for _, r := range recs {
		s.Episodes++
		if r.Correctness {
			s.Correct++
		}
		if r.Solution != nil {
			s.Submitted++
		}
	}
	return s
}
