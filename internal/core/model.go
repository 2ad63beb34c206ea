package core

import (
	"time"
)

// Predictor identifies what assigned an email its category
type Predictor string

const (
	PredictedByNone   Predictor = "none"
	PredictedByLocal  Predictor = "local"
	PredictedByOpenAI Predictor = "openai"
	PredictedByManual Predictor = "manual"
)

// ClassifyMode selects which classifier backend handles a batch
type ClassifyMode string

const (
	ModeLocal  ClassifyMode = "local"
	ModeRemote ClassifyMode = "remote"
)

// Labels is the fixed category taxonomy. Custom labels may be added to a
// store at runtime, but everything the system writes on its own comes from
// this set.
var Labels = []Label{
	{Name: "Important", Description: "High-priority or time-sensitive email"},
	{Name: "Data", Description: "Structured content or logs"},
	{Name: "Regular", Description: "Everyday correspondence"},
	{Name: "Work", Description: "Job-related or professional"},
	{Name: "Personal", Description: "From friends or family"},
	{Name: "Social", Description: "Social networks or events"},
	{Name: "Newsletters", Description: "Recurring content subscriptions"},
	{Name: "Notifications", Description: "Automated alerts from services"},
	{Name: "Receipts", Description: "Purchase confirmations or bills"},
	{Name: "System Updates", Description: "Platform or system notifications"},
	{Name: "Uncategorized", Description: "Not yet classified"},
	{Name: "Flagged for Review", Description: "User needs to check this"},
	{Name: "Suspected Spam", Description: "Likely spam, needs confirmation"},
	{Name: "Confirmed Spam", Description: "Verified as spam"},
	{Name: "Phishing", Description: "Dangerous or deceptive email"},
	{Name: "Blacklisted", Description: "Domain found in a DNS blocklist"},
}

const (
	LabelUncategorized = "Uncategorized"
	LabelFlagged       = "Flagged for Review"
	LabelBlacklisted   = "Blacklisted"
)

// Label is one entry in the category taxonomy
type Label struct {
	Name        string
	Description string
}

// Email is one ingested message with its classification metadata
type Email struct {
	ID            string
	SenderName    string
	SenderAddress string
	Subject       string
	Body          string
	ReceivedAt    time.Time
	Unread        bool
	Category      string
	PredictedBy   Predictor
	// Confidence is a 0-100 percentage, meaningful only when PredictedBy
	// is local.
	Confidence float64
	// LabeledAt is when the current category was applied. Training-window
	// selection filters on this, not ReceivedAt.
	LabeledAt time.Time
	// TrainingEligible marks whether a manual label may feed future
	// training runs. Clearing training data flips this off without
	// touching the category.
	TrainingEligible bool
}

// Classified reports whether the email carries a real category
func (e *Email) Classified() bool {
	return e.Category != "" && e.Category != LabelUncategorized
}

// Sender is the per-address reputation aggregate. Rows are only ever
// produced by a full recalculation pass, never patched in place.
type Sender struct {
	Address   string
	Name      string
	Score     float64
	State     ReputationState
	Counts    map[string]int
	UpdatedAt time.Time
}

// ReputationState is the discretized trust bucket for a sender
type ReputationState string

const (
	StateExcellent ReputationState = "Excellent"
	StateGood      ReputationState = "Good"
	StateModerate  ReputationState = "Moderate"
	StatePoor      ReputationState = "Poor"
	StateUnknown   ReputationState = "Unknown"
)

// StateForScore maps a score to its reputation state via fixed thresholds
func StateForScore(score float64) ReputationState {
	switch {
	case score >= 0.9:
		return StateExcellent
	case score >= 0.7:
		return StateGood
	case score >= 0.4:
		return StateModerate
	case score >= 0.1:
		return StatePoor
	default:
		return StateUnknown
	}
}

// TrainingSource selects which labeled subset feeds a training run
type TrainingSource string

const (
	SourceManual    TrainingSource = "manual"
	SourceOpenAI    TrainingSource = "openai"
	SourceManual24h TrainingSource = "manual_24h"
	SourceAI24h     TrainingSource = "ai_24h"
	SourceMixed     TrainingSource = "mixed"
)

// LabelMetrics holds per-label evaluation figures from a training run
type LabelMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1-score"`
	Support   int     `json:"support"`
}

// TrainingRun is the recorded outcome of a single training invocation.
// History is append-only; metrics endpoints surface the most recent run.
type TrainingRun struct {
	Source      TrainingSource          `json:"source"`
	TrainSize   int                     `json:"train_size"`
	TestSize    int                     `json:"test_size"`
	Accuracy    float64                 `json:"accuracy"`
	Report      map[string]LabelMetrics `json:"report"`
	CompletedAt time.Time               `json:"completed_at"`
}

// BatchResult reports how a classification batch went. Classified counts
// rows actually changed; Attempted counts rows the batch covered. Failures
// mid-batch are not rolled back, so Classified may be short of Attempted.
type BatchResult struct {
	Classified int `json:"classified"`
	Attempted  int `json:"attempted"`
}

// FetchResult reports an ingest pass from a mail source
type FetchResult struct {
	Fetched  int `json:"fetched"`
	Inserted int `json:"inserted"`
}

// Stats is the dashboard summary snapshot
type Stats struct {
	Total           int        `json:"total"`
	Unclassified    int        `json:"unclassified"`
	Unread          int        `json:"unread"`
	LastTrained     *time.Time `json:"last_trained"`
	LastPreclassify *time.Time `json:"last_preclassify"`
}

// Prediction is a single remote classifier verdict for one email
type Prediction struct {
	ID       string `json:"id"`
	Category string `json:"category"`
}

// System metadata keys
const (
	SysLastTrained     = "last_trained"
	SysLastPreclassify = "last_preclassify"
)

// ValidLabel reports whether name is a member of the fixed taxonomy
func ValidLabel(name string) bool {
	for _, l := range Labels {
		if l.Name == name {
			return true
		}
	}
	return false
}

// AssignableLabels is the taxonomy offered to automated classifiers.
// "Uncategorized" marks a row still waiting for a verdict and is never a
// verdict itself; offering it would let a classification pass leave rows
// in the unclassified pool while counting them as classified.
func AssignableLabels() []Label {
	out := make([]Label, 0, len(Labels)-1)
	for _, l := range Labels {
		if l.Name == LabelUncategorized {
			continue
		}
		out = append(out, l)
	}
	return out
}
