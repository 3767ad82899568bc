package results

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/boristopalov/toolgym/pkg/core"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS episodes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run TEXT NOT NULL,
	solution TEXT,
	correctness INTEGER NOT NULL,
	messages TEXT NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_episodes_run ON episodes(run);
`

// SQLiteSink stores records in an episodes table, tagged with the run name
type SQLiteSink struct {
	db  *sql.DB
	run string
}

// OpenSQLite opens the database at path and applies the schema. Creates file if missing.
func OpenSQLite(ctx context.Context, path, run string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteSink{db: db, run: run}, nil
}

func (s *SQLiteSink) Append(ctx context.Context, rec Record) error {
	var solution sql.NullString
	if rec.Solution != nil {
		b, err := json.Marshal(rec.Solution)
		if err != nil {
			return err
		}
		solution = sql.NullString{String: string(b), Valid: true}
	}
	if rec.Messages == nil {
		rec.Messages = []core.Message{}
	}
	msgs, err := json.Marshal(rec.Messages)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO episodes (run, solution, correctness, messages) VALUES (?, ?, ?, ?)",
		s.run, solution, rec.Correctness, string(msgs))
	if err != nil {
		return fmt.Errorf("insert episode: %w", err)
	}
	return nil
}

// All returns the records of this sink's run in insertion order
func (s *SQLiteSink) All(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT solution, correctness, messages FROM episodes WHERE run = ? ORDER BY id", s.run)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			solution sql.NullString
			correct  bool
			msgs     string
		)
		if err := rows.Scan(&solution, &correct, &msgs); err != nil {
			return nil, err
		}
		rec := Record{Correctness: correct}
		if solution.Valid {
			if err := json.Unmarshal([]byte(solution.String), &rec.Solution); err != nil {
				return nil, err
			}
		}
		if err := json.Unmarshal([]byte(msgs), &rec.Messages); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
