package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mikey/mail-triage/internal/core"
	"go.uber.org/zap"
)

// SQLiteStore is a SQLite implementation of the email, sender, system and
// training-run stores
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore opens (or creates) the database at dbPath and ensures
// the schema exists
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS emails (
			id TEXT PRIMARY KEY,
			sender_name TEXT,
			sender_address TEXT,
			subject TEXT,
			body TEXT,
			received_at TIMESTAMP,
			unread BOOLEAN DEFAULT 0,
			category TEXT DEFAULT 'Uncategorized',
			predicted_by TEXT DEFAULT 'none',
			confidence REAL DEFAULT 0,
			labeled_at TIMESTAMP,
			training_eligible BOOLEAN DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_emails_sender ON emails(sender_address)`,
		`CREATE INDEX IF NOT EXISTS idx_emails_predicted_by ON emails(predicted_by)`,
		`CREATE TABLE IF NOT EXISTS senders (
			address TEXT PRIMARY KEY,
			name TEXT,
			score REAL,
			state TEXT,
			counts TEXT DEFAULT '{}',
			updated_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS system (
			key TEXT PRIMARY KEY,
			value TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS training_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source TEXT,
			train_size INTEGER,
			test_size INTEGER,
			accuracy REAL,
			report TEXT,
			completed_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS labels (
			label TEXT PRIMARY KEY,
			description TEXT
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	for _, label := range core.Labels {
		if _, err := s.db.Exec(
			`INSERT OR IGNORE INTO labels (label, description) VALUES (?, ?)`,
			label.Name, label.Description,
		); err != nil {
			return fmt.Errorf("failed to seed labels: %w", err)
		}
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Insert adds an email unless the id already exists
func (s *SQLiteStore) Insert(ctx context.Context, email *core.Email) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO emails (
			id, sender_name, sender_address, subject, body,
			received_at, unread, category, predicted_by,
			confidence, labeled_at, training_eligible
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		email.ID, email.SenderName, email.SenderAddress, email.Subject, email.Body,
		email.ReceivedAt.UTC().Format(time.RFC3339), email.Unread,
		email.Category, string(email.PredictedBy),
		email.Confidence, nullableTime(email.LabeledAt), email.TrainingEligible,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert email: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

const emailColumns = `id, sender_name, sender_address, subject, body,
	received_at, unread, category, predicted_by, confidence,
	labeled_at, training_eligible`

// Get returns the email with the given id, or nil if unknown
func (s *SQLiteStore) Get(ctx context.Context, id string) (*core.Email, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+emailColumns+` FROM emails WHERE id = ?`, id)
	email, err := scanEmail(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load email: %w", err)
	}
	return email, nil
}

// List returns matching emails, newest first
func (s *SQLiteStore) List(ctx context.Context, filter core.EmailFilter) ([]*core.Email, error) {
	query := `SELECT ` + emailColumns + ` FROM emails`
	var clauses []string
	var args []interface{}

	if len(filter.IDs) > 0 {
		clauses = append(clauses,
			`id IN (?`+strings.Repeat(",?", len(filter.IDs)-1)+`)`)
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	}
	if len(filter.PredictedBy) > 0 {
		clauses = append(clauses,
			`predicted_by IN (?`+strings.Repeat(",?", len(filter.PredictedBy)-1)+`)`)
		for _, p := range filter.PredictedBy {
			args = append(args, string(p))
		}
	}
	if !filter.LabeledSince.IsZero() {
		clauses = append(clauses, `labeled_at >= ?`)
		args = append(args, filter.LabeledSince.UTC().Format(time.RFC3339))
	}
	if filter.TrainingOnly {
		clauses = append(clauses, `training_eligible = 1`)
	}
	if filter.Unclassified {
		clauses = append(clauses, `(category IS NULL OR category = '' OR category = ?)`)
		args = append(args, core.LabelUncategorized)
	}
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY received_at DESC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list emails: %w", err)
	}
	defer rows.Close()

	var out []*core.Email
	for rows.Next() {
		email, err := scanEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan email: %w", err)
		}
		out = append(out, email)
	}
	return out, rows.Err()
}

// UpdateClassification atomically replaces the classification columns of
// one row; manual labels re-enter the training pool
func (s *SQLiteStore) UpdateClassification(ctx context.Context, id, category string, by core.Predictor, confidence float64, labeledAt time.Time) error {
	eligible := by == core.PredictedByManual
	res, err := s.db.ExecContext(ctx, `
		UPDATE emails
		SET category = ?, predicted_by = ?, confidence = ?, labeled_at = ?,
		    training_eligible = CASE WHEN ? THEN 1 ELSE training_eligible END
		WHERE id = ?
	`, category, string(by), confidence, labeledAt.UTC().Format(time.RFC3339), eligible, id)
	if err != nil {
		return fmt.Errorf("failed to update classification: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return core.Errorf(core.ErrValidation, "unknown email id %q", id)
	}
	return nil
}

// SetTrainingEligible flips training eligibility for all rows with the
// given provenance
func (s *SQLiteStore) SetTrainingEligible(ctx context.Context, by core.Predictor, eligible bool) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE emails SET training_eligible = ?
		WHERE predicted_by = ? AND training_eligible != ?
	`, eligible, string(by), eligible)
	if err != nil {
		return 0, fmt.Errorf("failed to update training eligibility: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return int(n), nil
}

// Counts returns total, unclassified and unread counts
func (s *SQLiteStore) Counts(ctx context.Context) (int, int, int, error) {
	var total, unclassified, unread int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN category IS NULL OR category = '' OR category = ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN unread THEN 1 ELSE 0 END), 0)
		FROM emails
	`, core.LabelUncategorized).Scan(&total, &unclassified, &unread)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count emails: %w", err)
	}
	return total, unclassified, unread, nil
}

// Clear removes every email row
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM emails`); err != nil {
		return fmt.Errorf("failed to clear emails: %w", err)
	}
	return nil
}

// ReplaceAll swaps the whole sender table in one transaction
func (s *SQLiteStore) ReplaceAll(ctx context.Context, senders []*core.Sender) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM senders`); err != nil {
		return fmt.Errorf("failed to clear senders: %w", err)
	}
	for _, sender := range senders {
		counts, err := json.Marshal(sender.Counts)
		if err != nil {
			return fmt.Errorf("failed to encode counts: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO senders (address, name, score, state, counts, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`,
			sender.Address, sender.Name, sender.Score, string(sender.State),
			string(counts), sender.UpdatedAt.UTC().Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("failed to insert sender: %w", err)
		}
	}
	return tx.Commit()
}

// ListSenders returns senders matching the filter, best score first
func (s *SQLiteStore) ListSenders(ctx context.Context, filter core.SenderFilter) ([]*core.Sender, error) {
	query := `SELECT address, name, score, state, counts, updated_at FROM senders`
	var args []interface{}
	if filter.Address != "" {
		query += ` WHERE address = ?`
		args = append(args, filter.Address)
	}
	query += ` ORDER BY score DESC, address ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list senders: %w", err)
	}
	defer rows.Close()

	var out []*core.Sender
	for rows.Next() {
		var sender core.Sender
		var state, counts, updated string
		if err := rows.Scan(&sender.Address, &sender.Name, &sender.Score, &state, &counts, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan sender: %w", err)
		}
		sender.State = core.ReputationState(state)
		if err := json.Unmarshal([]byte(counts), &sender.Counts); err != nil {
			return nil, fmt.Errorf("failed to decode counts: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339, updated); err == nil {
			sender.UpdatedAt = ts
		}
		// Category filtering lives on the JSON histogram, so it is
		// applied after the scan
		if filter.Category != "" && sender.Counts[filter.Category] == 0 {
			continue
		}
		out = append(out, &sender)
	}
	return out, rows.Err()
}

// GetValue reads a system metadata value
func (s *SQLiteStore) GetValue(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM system WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read system value: %w", err)
	}
	return value, true, nil
}

// SetValue writes a system metadata value
func (s *SQLiteStore) SetValue(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO system (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value); err != nil {
		return fmt.Errorf("failed to write system value: %w", err)
	}
	return nil
}

// Append records a training run
func (s *SQLiteStore) Append(ctx context.Context, run *core.TrainingRun) error {
	report, err := json.Marshal(run.Report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO training_runs (source, train_size, test_size, accuracy, report, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		string(run.Source), run.TrainSize, run.TestSize, run.Accuracy,
		string(report), run.CompletedAt.UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("failed to insert training run: %w", err)
	}
	return nil
}

// Latest returns the most recent training run, or nil
func (s *SQLiteStore) Latest(ctx context.Context) (*core.TrainingRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT source, train_size, test_size, accuracy, report, completed_at
		FROM training_runs ORDER BY id DESC LIMIT 1
	`)
	run, err := scanTrainingRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEmail(row scanner) (*core.Email, error) {
	var email core.Email
	var received string
	var labeled sql.NullString
	var predictedBy string
	if err := row.Scan(
		&email.ID, &email.SenderName, &email.SenderAddress, &email.Subject, &email.Body,
		&received, &email.Unread, &email.Category, &predictedBy,
		&email.Confidence, &labeled, &email.TrainingEligible,
	); err != nil {
		return nil, err
	}
	email.PredictedBy = core.Predictor(predictedBy)
	if ts, err := time.Parse(time.RFC3339, received); err == nil {
		email.ReceivedAt = ts
	}
	if labeled.Valid && labeled.String != "" {
		if ts, err := time.Parse(time.RFC3339, labeled.String); err == nil {
			email.LabeledAt = ts
		}
	}
	return &email, nil
}

func scanTrainingRun(row scanner) (*core.TrainingRun, error) {
	var run core.TrainingRun
	var source, report, completed string
	if err := row.Scan(&source, &run.TrainSize, &run.TestSize, &run.Accuracy, &report, &completed); err != nil {
		return nil, err
	}
	run.Source = core.TrainingSource(source)
	if err := json.Unmarshal([]byte(report), &run.Report); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	if ts, err := time.Parse(time.RFC3339, completed); err == nil {
		run.CompletedAt = ts
	}
	return &run, nil
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
