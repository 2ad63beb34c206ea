package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/mikey/mail-triage/internal/core"
	"go.uber.org/zap"
)

// MySQLStore is a MySQL implementation of the email, sender, system and
// training-run stores
type MySQLStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewMySQLStore connects with the given DSN and ensures the schema exists
func NewMySQLStore(dsn string, logger *zap.Logger) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MySQLStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS emails (
			id VARCHAR(255) PRIMARY KEY,
			sender_name VARCHAR(255),
			sender_address VARCHAR(255),
			subject TEXT,
			body MEDIUMTEXT,
			received_at DATETIME,
			unread TINYINT(1) DEFAULT 0,
			category VARCHAR(64) DEFAULT 'Uncategorized',
			predicted_by VARCHAR(16) DEFAULT 'none',
			confidence DOUBLE DEFAULT 0,
			labeled_at DATETIME NULL,
			training_eligible TINYINT(1) DEFAULT 1,
			INDEX idx_emails_sender (sender_address),
			INDEX idx_emails_predicted_by (predicted_by)
		)`,
		`CREATE TABLE IF NOT EXISTS senders (
			address VARCHAR(255) PRIMARY KEY,
			name VARCHAR(255),
			score DOUBLE,
			state VARCHAR(16),
			counts TEXT,
			updated_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS system (
			` + "`key`" + ` VARCHAR(255) PRIMARY KEY,
			value TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS training_runs (
			id INT AUTO_INCREMENT PRIMARY KEY,
			source VARCHAR(16),
			train_size INT,
			test_size INT,
			accuracy DOUBLE,
			report TEXT,
			completed_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS labels (
			label VARCHAR(64) PRIMARY KEY,
			description VARCHAR(255)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	for _, label := range core.Labels {
		if _, err := s.db.Exec(
			`INSERT IGNORE INTO labels (label, description) VALUES (?, ?)`,
			label.Name, label.Description,
		); err != nil {
			return fmt.Errorf("failed to seed labels: %w", err)
		}
	}
	return nil
}

// Close closes the database connection
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

const mysqlTimeLayout = "2006-01-02 15:04:05"

// Insert adds an email unless the id already exists
func (s *MySQLStore) Insert(ctx context.Context, email *core.Email) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT IGNORE INTO emails (
			id, sender_name, sender_address, subject, body,
			received_at, unread, category, predicted_by,
			confidence, labeled_at, training_eligible
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		email.ID, email.SenderName, email.SenderAddress, email.Subject, email.Body,
		email.ReceivedAt.UTC().Format(mysqlTimeLayout), email.Unread,
		email.Category, string(email.PredictedBy),
		email.Confidence, mysqlNullableTime(email.LabeledAt), email.TrainingEligible,
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

// Get returns the email with the given id, or nil if unknown
func (s *MySQLStore) Get(ctx context.Context, id string) (*core.Email, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+emailColumns+` FROM emails WHERE id = ?`, id)
	email, err := scanMySQLEmail(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load email: %w", err)
	}
	return email, nil
}

// List returns matching emails, newest first
func (s *MySQLStore) List(ctx context.Context, filter core.EmailFilter) ([]*core.Email, error) {
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
		args = append(args, filter.LabeledSince.UTC().Format(mysqlTimeLayout))
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
		email, err := scanMySQLEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan email: %w", err)
		}
		out = append(out, email)
	}
	return out, rows.Err()
}

// UpdateClassification atomically replaces the classification columns of
// one row; manual labels re-enter the training pool
func (s *MySQLStore) UpdateClassification(ctx context.Context, id, category string, by core.Predictor, confidence float64, labeledAt time.Time) error {
	eligible := by == core.PredictedByManual
	res, err := s.db.ExecContext(ctx, `
		UPDATE emails
		SET category = ?, predicted_by = ?, confidence = ?, labeled_at = ?,
		    training_eligible = IF(?, 1, training_eligible)
		WHERE id = ?
	`, category, string(by), confidence, labeledAt.UTC().Format(mysqlTimeLayout), eligible, id)
	if err != nil {
		return fmt.Errorf("failed to update classification: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		// RowsAffected is zero both for unknown ids and for no-op
		// updates under MySQL semantics; distinguish them
		exists, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if exists == nil {
			return core.Errorf(core.ErrValidation, "unknown email id %q", id)
		}
	}
	return nil
}

// SetTrainingEligible flips training eligibility for all rows with the
// given provenance
func (s *MySQLStore) SetTrainingEligible(ctx context.Context, by core.Predictor, eligible bool) (int, error) {
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
func (s *MySQLStore) Counts(ctx context.Context) (int, int, int, error) {
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
func (s *MySQLStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM emails`); err != nil {
		return fmt.Errorf("failed to clear emails: %w", err)
	}
	return nil
}

// ReplaceAll swaps the whole sender table in one transaction
func (s *MySQLStore) ReplaceAll(ctx context.Context, senders []*core.Sender) error {
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
			string(counts), sender.UpdatedAt.UTC().Format(mysqlTimeLayout),
		); err != nil {
			return fmt.Errorf("failed to insert sender: %w", err)
		}
	}
	return tx.Commit()
}

// ListSenders returns senders matching the filter, best score first
func (s *MySQLStore) ListSenders(ctx context.Context, filter core.SenderFilter) ([]*core.Sender, error) {
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
		if ts, err := time.Parse(mysqlTimeLayout, updated); err == nil {
			sender.UpdatedAt = ts.UTC()
		}
		if filter.Category != "" && sender.Counts[filter.Category] == 0 {
			continue
		}
		out = append(out, &sender)
	}
	return out, rows.Err()
}

// GetValue reads a system metadata value
func (s *MySQLStore) GetValue(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM system WHERE `key` = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read system value: %w", err)
	}
	return value, true, nil
}

// SetValue writes a system metadata value
func (s *MySQLStore) SetValue(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO system (`+"`key`"+`, value) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE value = VALUES(value)
	`, key, value); err != nil {
		return fmt.Errorf("failed to write system value: %w", err)
	}
	return nil
}

// Append records a training run
func (s *MySQLStore) Append(ctx context.Context, run *core.TrainingRun) error {
	report, err := json.Marshal(run.Report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO training_runs (source, train_size, test_size, accuracy, report, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		string(run.Source), run.TrainSize, run.TestSize, run.Accuracy,
		string(report), run.CompletedAt.UTC().Format(mysqlTimeLayout),
	); err != nil {
		return fmt.Errorf("failed to insert training run: %w", err)
	}
	return nil
}

// Latest returns the most recent training run, or nil
func (s *MySQLStore) Latest(ctx context.Context) (*core.TrainingRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT source, train_size, test_size, accuracy, report, completed_at
		FROM training_runs ORDER BY id DESC LIMIT 1
	`)
	var run core.TrainingRun
	var source, report, completed string
	err := row.Scan(&source, &run.TrainSize, &run.TestSize, &run.Accuracy, &report, &completed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan training run: %w", err)
	}
	run.Source = core.TrainingSource(source)
	if err := json.Unmarshal([]byte(report), &run.Report); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	if ts, err := time.Parse(mysqlTimeLayout, completed); err == nil {
		run.CompletedAt = ts.UTC()
	}
	return &run, nil
}

func scanMySQLEmail(row scanner) (*core.Email, error) {
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
	if ts, err := time.Parse(mysqlTimeLayout, received); err == nil {
		email.ReceivedAt = ts.UTC()
	}
	if labeled.Valid && labeled.String != "" {
		if ts, err := time.Parse(mysqlTimeLayout, labeled.String); err == nil {
			email.LabeledAt = ts.UTC()
		}
	}
	return &email, nil
}

func mysqlNullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(mysqlTimeLayout)
}
