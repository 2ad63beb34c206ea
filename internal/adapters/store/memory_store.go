package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mikey/mail-triage/internal/core"
	"go.uber.org/zap"
)

// MemoryStore is an in-memory implementation of the email, sender, system
// and training-run stores. It backs tests and the "memory" store type.
type MemoryStore struct {
	mu      sync.RWMutex
	emails  map[string]*core.Email
	senders []*core.Sender
	system  map[string]string
	runs    []*core.TrainingRun
	logger  *zap.Logger
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		emails: make(map[string]*core.Email),
		system: make(map[string]string),
		logger: logger,
	}
}

// Insert adds an email unless the id already exists
func (s *MemoryStore) Insert(ctx context.Context, email *core.Email) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.emails[email.ID]; ok {
		return false, nil
	}
	cp := *email
	s.emails[email.ID] = &cp
	return true, nil
}

// Get returns a copy of the email with the given id, or nil
func (s *MemoryStore) Get(ctx context.Context, id string) (*core.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	email, ok := s.emails[id]
	if !ok {
		return nil, nil
	}
	cp := *email
	return &cp, nil
}

func matches(e *core.Email, f core.EmailFilter) bool {
	if len(f.IDs) > 0 {
		found := false
		for _, id := range f.IDs {
			if e.ID == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.PredictedBy) > 0 {
		found := false
		for _, p := range f.PredictedBy {
			if e.PredictedBy == p {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.LabeledSince.IsZero() && e.LabeledAt.Before(f.LabeledSince) {
		return false
	}
	if f.TrainingOnly && !e.TrainingEligible {
		return false
	}
	if f.Unclassified && e.Classified() {
		return false
	}
	return true
}

// List returns matching emails, newest first
func (s *MemoryStore) List(ctx context.Context, filter core.EmailFilter) ([]*core.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Email
	for _, e := range s.emails {
		if matches(e, filter) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ReceivedAt.After(out[j].ReceivedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// UpdateClassification atomically replaces the classification columns of
// one row. Rows labeled manually become training-eligible again.
func (s *MemoryStore) UpdateClassification(ctx context.Context, id, category string, by core.Predictor, confidence float64, labeledAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email, ok := s.emails[id]
	if !ok {
		return core.Errorf(core.ErrValidation, "unknown email id %q", id)
	}
	email.Category = category
	email.PredictedBy = by
	email.Confidence = confidence
	email.LabeledAt = labeledAt
	if by == core.PredictedByManual {
		email.TrainingEligible = true
	}
	return nil
}

// SetTrainingEligible flips eligibility for all rows with the given
// provenance
func (s *MemoryStore) SetTrainingEligible(ctx context.Context, by core.Predictor, eligible bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.emails {
		if e.PredictedBy == by && e.TrainingEligible != eligible {
			e.TrainingEligible = eligible
			n++
		}
	}
	return n, nil
}

// Counts returns total, unclassified and unread counts
func (s *MemoryStore) Counts(ctx context.Context) (int, int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := len(s.emails)
	unclassified, unread := 0, 0
	for _, e := range s.emails {
		if !e.Classified() {
			unclassified++
		}
		if e.Unread {
			unread++
		}
	}
	return total, unclassified, unread, nil
}

// Clear removes every email row
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emails = make(map[string]*core.Email)
	return nil
}

// ReplaceAll swaps the whole sender table
func (s *MemoryStore) ReplaceAll(ctx context.Context, senders []*core.Sender) error {
	cp := make([]*core.Sender, len(senders))
	for i, sender := range senders {
		c := *sender
		c.Counts = copyCounts(sender.Counts)
		cp[i] = &c
	}
	s.mu.Lock()
	s.senders = cp
	s.mu.Unlock()
	return nil
}

// List returns senders matching the filter, preserving the recalculation
// ordering (score desc, then address)
func (s *MemoryStore) ListSenders(ctx context.Context, filter core.SenderFilter) ([]*core.Sender, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Sender
	for _, sender := range s.senders {
		if filter.Address != "" && sender.Address != filter.Address {
			continue
		}
		if filter.Category != "" && sender.Counts[filter.Category] == 0 {
			continue
		}
		cp := *sender
		cp.Counts = copyCounts(sender.Counts)
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// copyCounts detaches the histogram so callers cannot mutate stored rows
func copyCounts(counts map[string]int) map[string]int {
	cp := make(map[string]int, len(counts))
	for k, v := range counts {
		cp[k] = v
	}
	return cp
}

// GetValue reads a system metadata value
func (s *MemoryStore) GetValue(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.system[key]
	return v, ok, nil
}

// SetValue writes a system metadata value
func (s *MemoryStore) SetValue(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.system[key] = value
	return nil
}

// Append records a training run
func (s *MemoryStore) Append(ctx context.Context, run *core.TrainingRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.runs = append(s.runs, &cp)
	return nil
}

// Latest returns the most recent training run, or nil
func (s *MemoryStore) Latest(ctx context.Context) (*core.TrainingRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.runs) == 0 {
		return nil, nil
	}
	cp := *s.runs[len(s.runs)-1]
	return &cp, nil
}
