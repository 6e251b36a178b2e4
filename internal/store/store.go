// Package store keeps decision records in SQLite for later querying.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/trustplane/internal/events"
	"github.com/ppiankov/trustplane/internal/model"
)

// DecisionStore persists decision events.
type DecisionStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens or creates the database at path.
func Open(path string) (*DecisionStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("store: create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	s, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing handle and runs migrations.
func New(db *sql.DB) (*DecisionStore, error) {
	s := &DecisionStore{db: db, logger: slog.Default().With("component", "store")}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

func (s *DecisionStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS decisions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		record_id TEXT NOT NULL UNIQUE,
		agent_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		attributes JSON,
		cost INTEGER NOT NULL DEFAULT 0,
		outcome TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		rule TEXT NOT NULL DEFAULT '',
		breaker_state TEXT NOT NULL DEFAULT '',
		cumulative_usage INTEGER NOT NULL DEFAULT 0,
		timestamp DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_decisions_agent ON decisions(agent_id, seq);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Append inserts one decision record.
func (s *DecisionStore) Append(ctx context.Context, r model.DecisionRecord) error {
	query := `INSERT INTO decisions (
		record_id, agent_id, kind, attributes, cost, outcome, reason, rule, breaker_state, cumulative_usage, timestamp
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	attrs, err := json.Marshal(r.Action.Attributes)
	if err != nil {
		return fmt.Errorf("store: encode attributes: %w", err)
	}
	_, err = s.db.ExecContext(ctx, query,
		r.ID, r.AgentID, string(r.Action.Kind), string(attrs), r.Action.Cost,
		string(r.Outcome), r.Reason, r.Rule, r.BreakerState, r.CumulativeUsage,
		r.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store: insert decision: %w", err)
	}
	return nil
}

// Emit stores decision events and ignores lifecycle events.
func (s *DecisionStore) Emit(e events.Event) {
	if e.Type != events.TypeDecision {
		return
	}
	if err := s.Append(context.Background(), RecordFromEvent(e)); err != nil {
		s.logger.Error("decision store append failed", "record_id", e.RecordID, "error", err)
	}
}

// RecordFromEvent rebuilds a decision record from its event.
func RecordFromEvent(e events.Event) model.DecisionRecord {
	return model.DecisionRecord{
		ID:      e.RecordID,
		AgentID: e.AgentID,
		Action: model.Action{
			Kind:       model.Kind(e.Kind),
			Attributes: e.Attributes,
			Cost:       e.Cost,
		},
		Outcome:         model.Outcome(e.Outcome),
		Reason:          e.Reason,
		Rule:            e.Rule,
		BreakerState:    e.BreakerState,
		CumulativeUsage: e.CumulativeUsage,
		Timestamp:       e.Time,
	}
}

// Query selects records. Zero fields do not filter.
type Query struct {
	AgentID string
	Outcome model.Outcome
	Limit   int // newest N; 0 = 100
}

// List returns matching records oldest first.
func (s *DecisionStore) List(ctx context.Context, q Query) ([]model.DecisionRecord, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	query := `
	SELECT record_id, agent_id, kind, attributes, cost, outcome, reason, rule, breaker_state, cumulative_usage, timestamp
	FROM (
		SELECT * FROM decisions
		WHERE (? = '' OR agent_id = ?) AND (? = '' OR outcome = ?)
		ORDER BY seq DESC
		LIMIT ?
	)
	ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, q.AgentID, q.AgentID, string(q.Outcome), string(q.Outcome), q.Limit)
	if err != nil {
		return nil, fmt.Errorf("store: query decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.DecisionRecord
	for rows.Next() {
		var (
			r       model.DecisionRecord
			kind    string
			attrs   sql.NullString
			outcome string
			ts      string
		)
		if err := rows.Scan(&r.ID, &r.AgentID, &kind, &attrs, &r.Action.Cost, &outcome,
			&r.Reason, &r.Rule, &r.BreakerState, &r.CumulativeUsage, &ts); err != nil {
			return nil, fmt.Errorf("store: scan decision: %w", err)
		}
		r.Action.Kind = model.Kind(kind)
		r.Outcome = model.Outcome(outcome)
		if attrs.Valid && attrs.String != "" && attrs.String != "null" {
			if err := json.Unmarshal([]byte(attrs.String), &r.Action.Attributes); err != nil {
				return nil, fmt.Errorf("store: decode attributes: %w", err)
			}
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			r.Timestamp = t
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Counts summarizes outcomes for one agent, or all agents when agentID is "".
type Counts struct {
	Total   int `json:"total"`
	Allowed int `json:"allowed"`
	Denied  int `json:"denied"`
}

// Count returns outcome totals.
func (s *DecisionStore) Count(ctx context.Context, agentID string) (Counts, error) {
	query := `
	SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0)
	FROM decisions
	WHERE (? = '' OR agent_id = ?)`

	var c Counts
	err := s.db.QueryRowContext(ctx, query, string(model.Allowed), string(model.Denied), agentID, agentID).
		Scan(&c.Total, &c.Allowed, &c.Denied)
	if err != nil {
		return Counts{}, fmt.Errorf("store: count decisions: %w", err)
	}
	return c, nil
}

// Close closes the database.
func (s *DecisionStore) Close() error {
	return s.db.Close()
}
