package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/serenemind/serenemind-backend/internal/model"
	"github.com/serenemind/serenemind-backend/internal/store"
)

// Open opens a PostgreSQL connection using the pgx stdlib driver and verifies
// connectivity.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
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
        creation_time TIMESTAMPTZ NOT NULL DEFAULT now()
    )`,
	`CREATE TABLE IF NOT EXISTS messages (
        message_id TEXT PRIMARY KEY,
        session_id TEXT NOT NULL,
        user_id    TEXT NOT NULL,
        role       TEXT NOT NULL,
        content    TEXT NOT NULL,
        ts         TIMESTAMPTZ NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, ts)`,
	`CREATE TABLE IF NOT EXISTS facts (
        fact_id    TEXT PRIMARY KEY,
        user_id    TEXT NOT NULL,
        category   TEXT NOT NULL,
        content    TEXT NOT NULL,
        importance INT NOT NULL,
        tags       JSONB,
        context    TEXT,
        ts         TIMESTAMPTZ NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS idx_facts_user ON facts(user_id, importance DESC, ts DESC)`,
	`CREATE TABLE IF NOT EXISTS profiles (
        user_id TEXT PRIMARY KEY,
        profile JSONB NOT NULL,
        version INT NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS user_activity (
        user_id             TEXT PRIMARY KEY,
        has_journal_data    BOOLEAN NOT NULL DEFAULT FALSE,
        has_meditation_data BOOLEAN NOT NULL DEFAULT FALSE,
        has_mood_data       BOOLEAN NOT NULL DEFAULT FALSE,
        last_updated        TIMESTAMPTZ NOT NULL
    )`,
}

// Bootstrap verifies Postgres is reachable and applies the schema. Statements
// are idempotent, so running it on every start is safe.
func Bootstrap(ctx context.Context, dsn string) error {
	if dsn == "" {
		return nil
	}
	db, err := Open(dsn)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres bootstrap: %w", err)
		}
	}
	return nil
}

// NewWithDB constructs a native Postgres store backed directly by database/sql.
func NewWithDB(db *sql.DB) store.Store { return &pgStore{db: db} }

type pgStore struct{ db *sql.DB }

func (s *pgStore) Sessions() store.Sessions { return &sessions{db: s.db} }
func (s *pgStore) Messages() store.Messages { return &messages{db: s.db} }
func (s *pgStore) Facts() store.Facts       { return &facts{db: s.db} }
func (s *pgStore) Profiles() store.Profiles { return &profiles{db: s.db} }
func (s *pgStore) Activity() store.Activity { return &activity{db: s.db} }

// HealthPing implements health.HealthPinger for the Postgres-backed store.
func (s *pgStore) HealthPing(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- Sessions ---

type sessions struct{ db *sql.DB }

func (s *sessions) Create(ctx context.Context, m *model.Session) (*model.Session, error) {
	if m.SessionID == "" {
		return nil, fmt.Errorf("sessions.Create: missing session id: %w", model.ErrValidation)
	}
	var created time.Time
	row := s.db.QueryRowContext(ctx, `
        INSERT INTO sessions (session_id, user_id) VALUES ($1,$2)
        RETURNING creation_time
    `, m.SessionID, m.UserID)
	if err := row.Scan(&created); err != nil {
		return nil, err
	}
	out := *m
	out.CreationTime = created
	return &out, nil
}

func (s *sessions) Get(ctx context.Context, sessionID string) (*model.Session, error) {
	var out model.Session
	row := s.db.QueryRowContext(ctx, `SELECT session_id, user_id, creation_time FROM sessions WHERE session_id=$1`, sessionID)
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
	_, err := m.db.ExecContext(ctx, `
        INSERT INTO messages (message_id, session_id, user_id, role, content, ts)
        VALUES ($1,$2,$3,$4,$5,$6)
    `, out.MessageID, out.SessionID, out.UserID, string(out.Role), out.Content, out.Timestamp)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *messages) ListBySession(ctx context.Context, sessionID string) ([]model.ConversationMessage, error) {
	rows, err := m.db.QueryContext(ctx, `
        SELECT message_id, session_id, user_id, role, content, ts
        FROM messages WHERE session_id=$1 ORDER BY ts ASC, message_id ASC
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
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
    `, out.FactID, out.UserID, string(out.Category), out.Content, out.Importance, nullIfEmpty(tagsJSON), out.Context, out.Timestamp)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (f *facts) ListByUser(ctx context.Context, userID string, limit int) ([]model.LongTermFact, error) {
	query := `SELECT fact_id, user_id, category, content, importance, tags, context, ts
              FROM facts WHERE user_id=$1 ORDER BY importance DESC, ts DESC`
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
	placeholders := make([]string, len(factIDs))
	args := make([]interface{}, 0, len(factIDs)+1)
	args = append(args, userID)
	for i, id := range factIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, id)
	}
	rows, err := f.db.QueryContext(ctx, `
        SELECT fact_id, user_id, category, content, importance, tags, context, ts
        FROM facts WHERE user_id=$1 AND fact_id IN (`+strings.Join(placeholders, ",")+`)
        ORDER BY importance DESC, ts DESC
    `, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanFacts(rows)
}

func (f *facts) Touch(ctx context.Context, factID string, importance int, ts time.Time) error {
	res, err := f.db.ExecContext(ctx, `UPDATE facts SET importance=$1, ts=$2 WHERE fact_id=$3`, importance, ts, factID)
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
        DELETE FROM facts WHERE user_id=$1 AND fact_id NOT IN (
            SELECT fact_id FROM facts WHERE user_id=$1
            ORDER BY importance DESC, ts DESC LIMIT $2
        )
    `, userID, maxFacts)
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
		var tags, fctx sql.NullString
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
	row := p.db.QueryRowContext(ctx, `SELECT profile FROM profiles WHERE user_id=$1`, userID)
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
        INSERT INTO profiles (user_id, profile, version) VALUES ($1,$2,$3)
        ON CONFLICT(user_id) DO UPDATE SET profile = EXCLUDED.profile, version = EXCLUDED.version
    `, prof.UserID, raw, prof.Version)
	return err
}

// --- Activity ---

type activity struct{ db *sql.DB }

func (a *activity) Summary(ctx context.Context, userID string) (model.MemoryContextSummary, error) {
	var out model.MemoryContextSummary
	row := a.db.QueryRowContext(ctx, `
        SELECT has_journal_data, has_meditation_data, has_mood_data, last_updated
        FROM user_activity WHERE user_id=$1
    `, userID)
	if err := row.Scan(&out.HasJournalData, &out.HasMeditationData, &out.HasMoodData, &out.LastUpdated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
