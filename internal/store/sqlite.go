package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/seeyara/whispr/internal/cuddle"
)

// EntryPageSize is how many messages a single load returns, paginated
// backward from the newest.
const EntryPageSize = 5

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS chat_entries (
        id TEXT PRIMARY KEY, -- UUID
        user_id TEXT NOT NULL,
        entry_date TEXT NOT NULL, -- YYYY-MM-DD
        cuddle_id TEXT NOT NULL,
        mode TEXT NOT NULL DEFAULT 'guided' CHECK (mode IN ('guided', 'flat')),
        messages TEXT NOT NULL, -- JSON array of the full transcript
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        UNIQUE (user_id, entry_date)
    );

    CREATE TABLE IF NOT EXISTS community_questions (
        id TEXT PRIMARY KEY, -- UUID
        user_id TEXT NOT NULL,
        title TEXT NOT NULL,
        body TEXT,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS community_answers (
        id TEXT PRIMARY KEY, -- UUID
        question_id TEXT NOT NULL,
        user_id TEXT NOT NULL,
        body TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (question_id) REFERENCES community_questions (id)
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// UpsertEntry replaces the whole transcript for (userID, date). The client
// always sends the complete history, so later saves for the same day
// overwrite rather than append.
func (s *SQLiteStore) UpsertEntry(ctx context.Context, entry ChatEntry) error {
	payload, err := json.Marshal(entry.Messages)
	if err != nil {
		return fmt.Errorf("failed to marshal messages: %w", err)
	}

	mode := entry.Mode
	if mode == "" {
		mode = ModeGuided
	}

	query := `
        INSERT INTO chat_entries (id, user_id, entry_date, cuddle_id, mode, messages, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (user_id, entry_date) DO UPDATE SET
            cuddle_id = excluded.cuddle_id,
            mode = excluded.mode,
            messages = excluded.messages,
            updated_at = excluded.updated_at
    `
	_, err = s.db.ExecContext(ctx, query,
		uuid.NewString(), entry.UserID, entry.Date, string(entry.CuddleID), string(mode), string(payload), time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert chat entry: %w", err)
	}
	return nil
}

// EntryPage is one backward page of a stored entry.
type EntryPage struct {
	Messages []Message
	CuddleID cuddle.ID
	Mode     EntryMode
	HasMore  bool
}

// GetEntry loads one page of the entry for (userID, date), paginated
// backward from the newest message in pages of EntryPageSize. Page numbers
// start at 1. Returns nil when no entry exists.
func (s *SQLiteStore) GetEntry(ctx context.Context, userID, date string, page int) (*EntryPage, error) {
	if page < 1 {
		page = 1
	}

	var cuddleID, mode, payload string
	err := s.db.QueryRowContext(ctx,
		"SELECT cuddle_id, mode, messages FROM chat_entries WHERE user_id = ? AND entry_date = ?",
		userID, date).Scan(&cuddleID, &mode, &payload)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No entry for that day
		}
		return nil, fmt.Errorf("failed to query chat entry: %w", err)
	}

	var messages []Message
	if err := json.Unmarshal([]byte(payload), &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stored messages: %w", err)
	}

	total := len(messages)
	end := total - EntryPageSize*(page-1)
	if end < 0 {
		end = 0
	}
	start := end - EntryPageSize
	if start < 0 {
		start = 0
	}

	return &EntryPage{
		Messages: messages[start:end],
		CuddleID: cuddle.ID(cuddleID),
		Mode:     EntryMode(mode),
		HasMore:  start > 0,
	}, nil
}

// LastUnfinished inspects the user's newest entry and reports its tail when
// the last stored message was the user's. Returns nil when there is nothing
// to pick back up.
func (s *SQLiteStore) LastUnfinished(ctx context.Context, userID string) (*Unfinished, error) {
	var mode, payload string
	err := s.db.QueryRowContext(ctx,
		"SELECT mode, messages FROM chat_entries WHERE user_id = ? ORDER BY entry_date DESC LIMIT 1",
		userID).Scan(&mode, &payload)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest entry: %w", err)
	}

	var messages []Message
	if err := json.Unmarshal([]byte(payload), &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stored messages: %w", err)
	}
	if len(messages) == 0 {
		return nil, nil
	}
	last := messages[len(messages)-1]
	if last.Role != RoleUser {
		return nil, nil
	}
	return &Unfinished{Mode: EntryMode(mode), Content: last.Content}, nil
}

// EntryDates returns the user's entry dates, newest first. Feeds the streak
// computation.
func (s *SQLiteStore) EntryDates(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT entry_date FROM chat_entries WHERE user_id = ? ORDER BY entry_date DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entry dates: %w", err)
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan entry date: %w", err)
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// Community board methods

func (s *SQLiteStore) CreateQuestion(ctx context.Context, userID, title, body string) (*Question, error) {
	q := Question{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		Body:      body,
		CreatedAt: time.Now(),
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO community_questions (id, user_id, title, body, created_at) VALUES (?, ?, ?, ?, ?)",
		q.ID, q.UserID, q.Title, q.Body, q.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert question: %w", err)
	}
	return &q, nil
}

func (s *SQLiteStore) ListQuestions(ctx context.Context, limit int) ([]Question, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
        SELECT q.id, q.user_id, q.title, q.body, q.created_at,
               (SELECT COUNT(*) FROM community_answers a WHERE a.question_id = q.id)
        FROM community_questions q
        ORDER BY q.created_at DESC
        LIMIT ?
    `
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query questions: %w", err)
	}
	defer rows.Close()

	var questions []Question
	for rows.Next() {
		var q Question
		var body sql.NullString
		if err := rows.Scan(&q.ID, &q.UserID, &q.Title, &body, &q.CreatedAt, &q.AnswerCount); err != nil {
			return nil, fmt.Errorf("failed to scan question row: %w", err)
		}
		q.Body = body.String
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func (s *SQLiteStore) CreateAnswer(ctx context.Context, questionID, userID, body string) (*Answer, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM community_questions WHERE id = ?", questionID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to verify question: %w", err)
	}
	if exists == 0 {
		return nil, nil // Question not found
	}

	a := Answer{
		ID:         uuid.NewString(),
		QuestionID: questionID,
		UserID:     userID,
		Body:       body,
		CreatedAt:  time.Now(),
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO community_answers (id, question_id, user_id, body, created_at) VALUES (?, ?, ?, ?, ?)",
		a.ID, a.QuestionID, a.UserID, a.Body, a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert answer: %w", err)
	}
	return &a, nil
}

func (s *SQLiteStore) ListAnswers(ctx context.Context, questionID string) ([]Answer, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, question_id, user_id, body, created_at FROM community_answers WHERE question_id = ? ORDER BY created_at ASC",
		questionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query answers: %w", err)
	}
	defer rows.Close()

	var answers []Answer
	for rows.Next() {
		var a Answer
		if err := rows.Scan(&a.ID, &a.QuestionID, &a.UserID, &a.Body, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan answer row: %w", err)
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}
