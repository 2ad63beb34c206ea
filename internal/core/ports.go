package core

import (
	"context"
	"time"
)

// BatchClassifier defines the interface for remote category assignment.
// Implementations send one request covering the whole slice and return a
// verdict per email; emails missing from the reply are simply not updated.
type BatchClassifier interface {
	// ClassifyBatch assigns a category to each email in the batch
	ClassifyBatch(ctx context.Context, emails []*Email) ([]Prediction, error)
}

// LocalModel defines the interface for the trained local classifier
type LocalModel interface {
	// Predict returns the most likely label and a 0-100 confidence.
	// Ready must be checked first; predicting on an untrained model is
	// implementation-defined.
	Predict(text string) (label string, confidence float64)

	// Ready reports whether the model has been trained or loaded
	Ready() bool

	// Fit replaces the model state with one trained on the given
	// text/label pairs
	Fit(texts []string, labels []string) error

	// Reset discards all trained state
	Reset()

	// Save persists the current model state; Load restores it
	Save() error
	Load() error
}

// MailSource defines the interface for pulling new mail from a provider
type MailSource interface {
	// Fetch returns messages received since the given time
	Fetch(ctx context.Context, since time.Time) ([]*Email, error)
}

// DomainBlocklist defines the interface for sender-domain blocklist checks
type DomainBlocklist interface {
	// IsListed reports whether the address's domain is on the blocklist.
	// Lookup failures are treated as not listed.
	IsListed(ctx context.Context, address string) bool
}

// EmailFilter is used to filter emails by classification state
type EmailFilter struct {
	IDs         []string
	PredictedBy []Predictor
	// LabeledSince restricts to emails whose label was applied at or
	// after this time
	LabeledSince time.Time
	// TrainingOnly restricts to training-eligible rows
	TrainingOnly bool
	Unclassified bool
}

// EmailStore is the persisted collection of ingested emails
type EmailStore interface {
	// Insert adds an email unless one with the same id exists; it reports
	// whether a row was written
	Insert(ctx context.Context, email *Email) (bool, error)

	// Get returns the email with the given id, or nil if unknown
	Get(ctx context.Context, id string) (*Email, error)

	// List returns emails matching the filter, newest first
	List(ctx context.Context, filter EmailFilter) ([]*Email, error)

	// UpdateClassification atomically replaces category, predicted_by,
	// confidence and labeled_at on one row
	UpdateClassification(ctx context.Context, id, category string, by Predictor, confidence float64, labeledAt time.Time) error

	// SetTrainingEligible flips training eligibility for all rows with
	// the given provenance and returns the number of rows changed
	SetTrainingEligible(ctx context.Context, by Predictor, eligible bool) (int, error)

	// Counts returns total, unclassified and unread row counts
	Counts(ctx context.Context) (total, unclassified, unread int, err error)

	// Clear removes every email row
	Clear(ctx context.Context) error
}

// SenderFilter narrows reputation listings
type SenderFilter struct {
	Address  string
	Category string
	Limit    int
}

// SenderStore is the persisted per-address reputation table
type SenderStore interface {
	// ReplaceAll swaps the entire sender table for the given rows in one
	// transaction
	ReplaceAll(ctx context.Context, senders []*Sender) error

	// ListSenders returns senders matching the filter, best score first
	// then by address
	ListSenders(ctx context.Context, filter SenderFilter) ([]*Sender, error)
}

// SystemStore is a small key-value table for system metadata such as
// last-trained timestamps
type SystemStore interface {
	GetValue(ctx context.Context, key string) (string, bool, error)
	SetValue(ctx context.Context, key, value string) error
}

// TrainingRunStore is the append-only training history
type TrainingRunStore interface {
	Append(ctx context.Context, run *TrainingRun) error
	Latest(ctx context.Context) (*TrainingRun, error)
}
