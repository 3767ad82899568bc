package experiment

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

var statsHeader = []string{"Episode", "Submitted", "Correct", "RunningAccuracy", "Messages", "DurationSeconds"}

// StatsRow is one line of the per-episode statistics file
type StatsRow struct {
	Episode   int
	Submitted bool
	Correct   bool
	Accuracy  float64
	Messages  int
	Duration  time.Duration
}

// Stats writes per-episode statistics as CSV
type Stats struct {
	file *os.File
	w    *csv.Writer
	mu   sync.Mutex
}

// NewStats creates the stats file and writes the header
func NewStats(path string) (*Stats, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create stats file: %w", err)
	}
	s := &Stats{file: f, w: csv.NewWriter(f)}
	if err := s.writeRecord(statsHeader); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *Stats) Write(row StatsRow) error {
	return s.writeRecord([]string{
		strconv.Itoa(row.Episode),
		strconv.FormatBool(row.Submitted),
		strconv.FormatBool(row.Correct),
		strconv.FormatFloat(row.Accuracy, 'f', 3, 64),
		strconv.Itoa(row.Messages),
		strconv.FormatFloat(row.Duration.Seconds(), 'f', 2, 64),
	})
}

func (s *Stats) writeRecord(record []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Write(record); err != nil {
		return err
	}
	s.w.Flush()
	return s.w.Error()
}

func (s *Stats) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	return s.file.Close()
}
