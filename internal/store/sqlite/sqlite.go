package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/serenemind/serenemind-backend/internal/model"
	"github.com/serenemind/serenemind-backend/internal/store"
)

// Open opens (or creates) a SQLite database at the given path and enables WAL
// journal mode. The URI parameter ensures better concurrency for read-heavy
// workloads.
func Open(path string) (*sql.DB, error) {
	// ensure parent directory exists to avoid SQLITE_CANTOPEN errors
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
        session_id    TEXT PRIMARY KEY,
        user_id       TEXT NOT NULL,
        creation_time TIMESTAMP NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS messages (
        message_id TEXT PRIMARY KEY,
        session_id TEXT NOT NULL,
        user_id    TEXT NOT NULL,
        role       TEXT NOT NULL,
        content    TEXT NOT NULL,
        ts         TIMESTAMP NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, ts)`,
	`CREATE TABLE IF NOT EXISTS facts (
        fact_id    TEXT PRIMARY KEY,
        user_id    TEXT NOT NULL,
        category   TEXT NOT NULL,
        content    TEXT NOT NULL,
        importance INTEGER NOT NULL,
        tags       TEXT,
        context    TEXT,
        ts         TIMESTAMP NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS idx_facts_user ON facts(user_id, importance DESC, ts DESC)`,
	`CREATE TABLE IF NOT EXISTS profiles (
        user_id TEXT PRIMARY KEY,
        profile TEXT NOT NULL,
        version INTEGER NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS user_activity (
        user_id            TEXT PRIMARY KEY,
        has_journal_data   INTEGER NOT NULL DEFAULT 0,
        has_meditation_data INTEGER NOT NULL DEFAULT 0,
        has_mood_data      INTEGER NOT NULL DEFAULT 0,
        last_updated       TIMESTAMP NOT NULL
    )`,
}

// Migrate applies the schema. SQLite is the local single-binary setup, so the
// service owns its own DDL here.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite migrate: %w", err)
		}
	}
	return nil
}

// NewWithDB constructs a SQLite-backed store over an existing connection.
func NewWithDB(db *sql.DB) store.Store { return &sqliteStore{db: db} }

type sqliteStore struct{ db *sql.DB }

func (s *sqliteStore) Sessions() store.Sessions { return &sessions{db: s.db} }
func (s *sqliteStore) Messages() store.Messages { return &messages{db: s.db} }
func (s *sqliteStore) Facts() store.Facts       { return &facts{db: s.db} }
func (s *sqliteStore) Profiles() store.Profiles { return &profiles{db: s.db} }
func (s *sqliteStore) Activity() store.Activity { return &activity{db: s.db} }

// HealthPing implements health.HealthPinger.
func (s *sqliteStore) HealthPing(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- Sessions ---

type sessions struct{ db *sql.DB }

func (s *sessions) Create(ctx context.Context, m *model.Session) (*model.Session, error) {
	out := *m
	if out.SessionID == "" {
		return nil, fmt.Errorf("sessions.Create: missing session id: %w", model.ErrValidation)
	}
	if out.CreationTime.IsZero() {
		out.CreationTime = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO sessions (session_id, user_id, creation_time) VALUES (?,?,?)`,
		out.SessionID, out.UserID, out.CreationTime)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *sessions) Get(ctx context.Context, sessionID string) (*model.Session, error) {
	var out model.Session
	row := s.db.QueryRowContext(ctx, `SELECT session_id, user_id, creation_time FROM sessions WHERE session_id = ?`, sessionID)
	if err := row.Scan(&out.SessionID, &out.UserID, &out.CreationTime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", sessionID, model.ErrNotFound)
		}
		return nil, err
	}
	return &out, nil
}

// --- Messages ---

type messages struct{ db *sql.DB }

func (m *messages) Append(ctx context.Context, msg *model.ConversationMessage) (*model.ConversationMessage, error) {
	out := *msg
	if out.Timestamp.IsZero() {
		out.Timestamp = time.Now().UTC()
	}
	_, err := m.db.ExecContext(ctx, `INSERT INTO messages (message_id, session_id, user_id, role, content, ts) VALUES (?,?,?,?,?,?)`,
		out.MessageID, out.SessionID, out.UserID, string(out.Role), out.Content, out.Timestamp)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *messages) ListBySession(ctx context.Context, sessionID string) ([]model.ConversationMessage, error) {
	rows, err := m.db.QueryContext(ctx, `
        SELECT message_id, session_id, user_id, role, content, ts
        FROM messages WHERE session_id = ? ORDER BY ts ASC, message_id ASC
    `, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.ConversationMessage
	for rows.Next() {
		var msg model.ConversationMessage
		var role string
		if err := rows.Scan(&msg.MessageID, &msg.SessionID, &msg.UserID, &role, &msg.Content, &msg.Timestamp); err != nil {
			return nil, err
		}
		msg.Role = model.Role(role)
		out = append(out, msg)
	}
	return out, rows.Err()
}

// --- Facts ---

type facts struct{ db *sql.DB }

func (f *facts) Insert(ctx context.Context, fact *model.LongTermFact) (*model.LongTermFact, error) {
	out := *fact
	if out.Timestamp.IsZero() {
		out.Timestamp = time.Now().UTC()
	}
	tagsJSON, _ := json.Marshal(out.Tags)
	_, err := f.db.ExecContext(ctx, `
        INSERT INTO facts (fact_id, user_id, category, content, importance, tags, context, ts)
        VALUES (?,?,?,?,?,?,?,?)
    `, out.FactID, out.UserID, string(out.Category), out.Content, out.Importance, nullIfEmpty(tagsJSON), out.Context, out.Timestamp)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (f *facts) ListByUser(ctx context.Context, userID string, limit int) ([]model.LongTermFact, error) {
	query := `SELECT fact_id, user_id, category, content, importance, tags, context, ts
              FROM facts WHERE user_id = ? ORDER BY importance DESC, ts DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := f.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanFacts(rows)
}

func (f *facts) GetByIDs(ctx context.Context, userID string, factIDs []string) ([]model.LongTermFact, error) {
	if len(factIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(factIDs)), ",")
	args := make([]interface{}, 0, len(factIDs)+1)
	args = append(args, userID)
	for _, id := range factIDs {
		args = append(args, id)
	}
	rows, err := f.db.QueryContext(ctx, `
        SELECT fact_id, user_id, category, content, importance, tags, context, ts
        FROM facts WHERE user_id = ? AND fact_id IN (`+placeholders+`)
        ORDER BY importance DESC, ts DESC
    `, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanFacts(rows)
}

func (f *facts) Touch(ctx context.Context, factID string, importance int, ts time.Time) error {
	res, err := f.db.ExecContext(ctx, `UPDATE facts SET importance = ?, ts = ? WHERE fact_id = ?`, importance, ts, factID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("fact %s: %w", factID, model.ErrNotFound)
	}
	return nil
}

func (f *facts) PruneToCap(ctx context.Context, userID string, maxFacts int) (int, error) {
	res, err := f.db.ExecContext(ctx, `
        DELETE FROM facts WHERE user_id = ? AND fact_id NOT IN (
            SELECT fact_id FROM facts WHERE user_id = ?
            ORDER BY importance DESC, ts DESC LIMIT ?
        )
    `, userID, userID, maxFacts)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanFacts(rows *sql.Rows) ([]model.LongTermFact, error) {
	var out []model.LongTermFact
	for rows.Next() {
		var fact model.LongTermFact
		var category string
		var tags sql.NullString
		var fctx sql.NullString
		if err := rows.Scan(&fact.FactID, &fact.UserID, &category, &fact.Content, &fact.Importance, &tags, &fctx, &fact.Timestamp); err != nil {
			return nil, err
		}
		fact.Category = model.FactCategory(category)
		if tags.Valid {
			_ = json.Unmarshal([]byte(tags.String), &fact.Tags)
		}
		fact.Context = fctx.String
		out = append(out, fact)
	}
	return out, rows.Err()
}

// --- Profiles ---

type profiles struct{ db *sql.DB }

func (p *profiles) Get(ctx context.Context, userID string) (*model.PersonalizationProfile, error) {
	var raw []byte
	row := p.db.QueryRowContext(ctx, `SELECT profile FROM profiles WHERE user_id = ?`, userID)
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("profile for user %s: %w", userID, model.ErrNotFound)
		}
		return nil, err
	}
	var out model.PersonalizationProfile
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("profile for user %s: corrupt record: %w", userID, err)
	}
	out.UserID = userID
	return &out, nil
}

func (p *profiles) Put(ctx context.Context, prof *model.PersonalizationProfile) error {
	raw, err := json.Marshal(prof)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
        INSERT INTO profiles (user_id, profile, version) VALUES (?,?,?)
        ON CONFLICT(user_id) DO UPDATE SET profile = excluded.profile, version = excluded.version
    `, prof.UserID, raw, prof.Version)
	return err
}

// --- Activity ---

type activity struct{ db *sql.DB }

func (a *activity) Summary(ctx context.Context, userID string) (model.MemoryContextSummary, error) {
	var out model.MemoryContextSummary
	row := a.db.QueryRowContext(ctx, `
        SELECT has_journal_data, has_meditation_data, has_mood_data, last_updated
        FROM user_activity WHERE user_id = ?
    `, userID)
	if err := row.Scan(&out.HasJournalData, &out.HasMeditationData, &out.HasMoodData, &out.LastUpdated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// No collaborator subsystem has recorded anything yet.
			return model.MemoryContextSummary{}, nil
		}
		return model.MemoryContextSummary{}, err
	}
	return out, nil
}

func nullIfEmpty(b []byte) interface{} {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	return b
}
