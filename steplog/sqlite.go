package steplog

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/m4xw311/thinkact/agent"
	"github.com/m4xw311/thinkact/errors"
	"github.com/m4xw311/thinkact/logging"
	_ "modernc.org/sqlite"
)

// MaxContent is the longest step content stored, in runes.
const MaxContent = 10000

const schema = `CREATE TABLE IF NOT EXISTS steps (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	agent TEXT NOT NULL,
	type TEXT NOT NULL,
	turn INTEGER NOT NULL,
	content TEXT NOT NULL,
	action_name TEXT,
	action_params TEXT,
	created_at INTEGER NOT NULL,
	UNIQUE (request_id, seq)
)`

// Record is a stored step with its position within the request.
type Record struct {
	Seq int
	agent.Step
}

// SQLiteStore persists steps in a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens or creates the database at path. ":memory:" gives a
// private in-memory store.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open step database %s", path)
	}
	// One connection serializes writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "failed to create steps table")
	}
	s := &SQLiteStore{db: db, logger: logging.Component(logger, "steplog")}
	s.logger.Debug("step store opened", slog.String("path", path))
	return s, nil
}

// LogStep appends step after the request's existing steps.
func (s *SQLiteStore) LogStep(ctx context.Context, step agent.Step) error {
	var params sql.NullString
	if len(step.ActionParams) > 0 {
		data, err := json.Marshal(step.ActionParams)
		if err != nil {
			return errors.Wrapf(err, "failed to encode action params")
		}
		params = sql.NullString{String: string(data), Valid: true}
	}
	var action sql.NullString
	if step.ActionName != "" {
		action = sql.NullString{String: step.ActionName, Valid: true}
	}
	created := step.Time
	if created.IsZero() {
		created = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO steps
		(request_id, seq, agent, type, turn, content, action_name, action_params, created_at)
		SELECT ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?, ?, ?, ?, ? FROM steps WHERE request_id = ?`,
		step.RequestID, step.Agent, string(step.Type), step.Turn, truncate(step.Content, MaxContent),
		action, params, created.UnixNano(), step.RequestID)
	if err != nil {
		return errors.Wrapf(err, "failed to insert %s step", step.Type)
	}
	return nil
}

// ListByRequest returns the request's steps in the order they were logged.
func (s *SQLiteStore) ListByRequest(ctx context.Context, requestID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT seq, agent, type, turn, content, action_name, action_params, created_at
		FROM steps WHERE request_id = ? ORDER BY seq`, requestID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query steps for %s", requestID)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r       Record
			typ     string
			action  sql.NullString
			params  sql.NullString
			created int64
		)
		if err := rows.Scan(&r.Seq, &r.Agent, &typ, &r.Turn, &r.Content, &action, &params, &created); err != nil {
			return nil, errors.Wrapf(err, "failed to scan step")
		}
		r.RequestID = requestID
		r.Type = agent.StepType(typ)
		r.ActionName = action.String
		r.Time = time.Unix(0, created).UTC()
		if params.Valid {
			if err := json.Unmarshal([]byte(params.String), &r.ActionParams); err != nil {
				return nil, errors.Wrapf(err, "failed to decode action params")
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
