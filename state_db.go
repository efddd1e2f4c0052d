package main

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	verdictPending  = "pending"
	verdictAccepted = "accepted"
	verdictRejected = "rejected"
)

func stateDBPathFromDataDir(dataDir string) string {
	dataDir = strings.TrimSpace(dataDir)
	if dataDir == "" {
		dataDir = defaultDataDir
	}
	return filepath.Join(dataDir, "state", "miner.db")
}

func openStateDB(dbPath string) (*sql.DB, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, os.ErrInvalid
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// One writer; modernc sqlite does not like concurrent writers on a file.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ensureStateTables(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func ensureStateTables(db *sql.DB) error {
	if db == nil {
		return nil
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS shares (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session INTEGER NOT NULL,
			request_id INTEGER NOT NULL,
			job_id TEXT NOT NULL,
			nonce TEXT,
			result TEXT,
			worker_id INTEGER NOT NULL,
			difficulty REAL NOT NULL,
			submitted_at_unix INTEGER NOT NULL,
			verdict TEXT NOT NULL,
			code INTEGER,
			reason TEXT,
			verdict_at_unix INTEGER
		)
	`); err != nil {
		return err
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS shares_request_idx ON shares (session, request_id)`); err != nil {
		return err
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS shares_submitted_idx ON shares (submitted_at_unix)`); err != nil {
		return err
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS connection_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at_unix INTEGER NOT NULL,
			kind TEXT NOT NULL,
			addr TEXT,
			session INTEGER,
			reason TEXT,
			retry_in_ms INTEGER
		)
	`); err != nil {
		return err
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS connection_events_created_idx ON connection_events (created_at_unix)`); err != nil {
		return err
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at_unix INTEGER NOT NULL
		)
	`); err != nil {
		return err
	}
	return nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// historyStore persists share verdicts and connection events. It consumes
// engine events; the session number scopes request ids, which restart on
// every connection.
type historyStore struct {
	db      *sql.DB
	session uint64
}

func newHistoryStore(db *sql.DB) *historyStore {
	return &historyStore{db: db}
}

func (h *historyStore) Close() error {
	if h == nil || h.db == nil {
		return nil
	}
	return h.db.Close()
}

// Consume records events until ctx is done or the channel closes.
func (h *historyStore) Consume(ctx context.Context, events <-chan EngineEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := h.Record(ev); err != nil {
				logger.Warn("share history write failed", "event", ev.Type, "error", err)
			}
		}
	}
}

func (h *historyStore) Record(ev EngineEvent) error {
	if h == nil || h.db == nil {
		return nil
	}
	switch ev.Type {
	case EventConnected:
		h.session = ev.Session
		return h.recordConnection(ev)
	case EventDisconnected:
		return h.recordConnection(ev)
	case EventShareSubmitted:
		_, err := h.db.Exec(`INSERT INTO shares
			(session, request_id, job_id, nonce, result, worker_id, difficulty, submitted_at_unix, verdict)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			int64(h.session), int64(ev.RequestID), ev.JobID, ev.Nonce, ev.Result, ev.WorkerID, ev.Difficulty,
			unixOrZero(ev.Time), verdictPending)
		return err
	case EventShareAccepted:
		return h.recordVerdict(ev, verdictAccepted)
	case EventShareRejected:
		return h.recordVerdict(ev, verdictRejected)
	}
	return nil
}

func (h *historyStore) recordConnection(ev EngineEvent) error {
	_, err := h.db.Exec(`INSERT INTO connection_events
		(created_at_unix, kind, addr, session, reason, retry_in_ms)
		VALUES (?, ?, ?, ?, ?, ?)`,
		unixOrZero(ev.Time), string(ev.Type), ev.Addr, int64(ev.Session), ev.Reason, ev.RetryInMS)
	return err
}

func (h *historyStore) recordVerdict(ev EngineEvent, verdict string) error {
	_, err := h.db.Exec(`UPDATE shares SET verdict = ?, code = ?, reason = ?, verdict_at_unix = ?
		WHERE session = ? AND request_id = ? AND verdict = ?`,
		verdict, ev.Code, ev.Reason, unixOrZero(ev.Time), int64(h.session), int64(ev.RequestID), verdictPending)
	return err
}

// shareSummary counts recorded shares by verdict.
type shareSummary struct {
	Pending  int64 `json:"pending"`
	Accepted int64 `json:"accepted"`
	Rejected int64 `json:"rejected"`
}

func (h *historyStore) Summary(since time.Time) (shareSummary, error) {
	var out shareSummary
	rows, err := h.db.Query(`SELECT verdict, COUNT(*) FROM shares WHERE submitted_at_unix >= ? GROUP BY verdict`, unixOrZero(since))
	if err != nil {
		return out, err
	}
	defer rows.Close()
	for rows.Next() {
		var verdict string
		var n int64
		if err := rows.Scan(&verdict, &n); err != nil {
			return out, err
		}
		switch verdict {
		case verdictPending:
			out.Pending = n
		case verdictAccepted:
			out.Accepted = n
		case verdictRejected:
			out.Rejected = n
		}
	}
	return out, rows.Err()
}

type shareRecord struct {
	JobID       string    `json:"job_id"`
	Nonce       string    `json:"nonce"`
	WorkerID    int       `json:"worker_id"`
	Difficulty  float64   `json:"difficulty"`
	SubmittedAt time.Time `json:"submitted_at"`
	Verdict     string    `json:"verdict"`
	Reason      string    `json:"reason,omitempty"`
}

// Recent returns the newest shares first.
func (h *historyStore) Recent(limit int) ([]shareRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := h.db.Query(`SELECT job_id, COALESCE(nonce, ''), worker_id, difficulty, submitted_at_unix, verdict, COALESCE(reason, '')
		FROM shares ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []shareRecord
	for rows.Next() {
		var rec shareRecord
		var submitted int64
		if err := rows.Scan(&rec.JobID, &rec.Nonce, &rec.WorkerID, &rec.Difficulty, &submitted, &rec.Verdict, &rec.Reason); err != nil {
			return nil, err
		}
		rec.SubmittedAt = time.Unix(submitted, 0)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (h *historyStore) Setting(key string) (string, bool, error) {
	var v string
	err := h.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (h *historyStore) SetSetting(key, value string) error {
	_, err := h.db.Exec(`INSERT OR REPLACE INTO settings (key, value, updated_at_unix) VALUES (?, ?, ?)`,
		key, value, time.Now().Unix())
	return err
}
