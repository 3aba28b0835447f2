// Package sqlog persists transaction log entries to SQLite. The sink is
// an optional durable copy of the in-memory log, for observability across
// restarts; the core never reads it back for control decisions.
package sqlog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	agentpay "github.com/skymint/agentpay"
)

// Sink is a LogSink writing entries to a SQLite database in WAL mode
type Sink struct {
	db *sql.DB
}

// New opens (or creates) the database at path and initializes the schema
func New(path string) (*Sink, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Sink{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection
func (s *Sink) Close() error { return s.db.Close() }

func (s *Sink) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transaction_log (
		id        TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		agent_id  TEXT NOT NULL,
		type      TEXT NOT NULL,
		message   TEXT NOT NULL,
		data      TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_log_agent ON transaction_log(agent_id, timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append writes one entry. Re-appending an id is idempotent.
func (s *Sink) Append(entry agentpay.LogEntry) error {
	var data sql.NullString
	if entry.Data != nil {
		encoded, err := json.Marshal(entry.Data)
		if err != nil {
			return fmt.Errorf("encode entry data: %w", err)
		}
		data = sql.NullString{String: string(encoded), Valid: true}
	}

	_, err := s.db.Exec(
		`INSERT INTO transaction_log (id, timestamp, agent_id, type, message, data)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		entry.ID,
		entry.Timestamp.UTC().Format(time.RFC3339Nano),
		entry.AgentID,
		string(entry.Type),
		entry.Message,
		data,
	)
	return err
}

// Logs reads entries back in insertion order, optionally filtered by
// agent id (empty string returns everything)
func (s *Sink) Logs(agentID string) ([]agentpay.LogEntry, error) {
	query := `SELECT id, timestamp, agent_id, type, message, data FROM transaction_log ORDER BY rowid`
	args := []interface{}{}
	if agentID != "" {
		query = `SELECT id, timestamp, agent_id, type, message, data FROM transaction_log WHERE agent_id = ? ORDER BY rowid`
		args = append(args, agentID)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []agentpay.LogEntry
	for rows.Next() {
		var (
			entry     agentpay.LogEntry
			timestamp string
			logType   string
			data      sql.NullString
		)
		if err := rows.Scan(&entry.ID, &timestamp, &entry.AgentID, &logType, &entry.Message, &data); err != nil {
			return nil, err
		}
		entry.Type = agentpay.LogType(logType)
		if ts, err := time.Parse(time.RFC3339Nano, timestamp); err == nil {
			entry.Timestamp = ts
		}
		if data.Valid {
			if err := json.Unmarshal([]byte(data.String), &entry.Data); err != nil {
				return nil, fmt.Errorf("decode entry data: %w", err)
			}
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Ensure Sink implements LogSink
var _ agentpay.LogSink = (*Sink)(nil)
