// Package bayes implements the local email classifier: a multinomial
// naive Bayes model over token counts of the combined sender/subject
// feature text, with Laplace smoothing and JSON persistence.
package bayes

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"go.uber.org/zap"
)

// Model is a multinomial naive Bayes classifier. Safe for concurrent
// Predict calls; Fit/Reset/Load swap the state under a write lock.
type Model struct {
	mu     sync.RWMutex
	state  *state
	path   string
	logger *zap.Logger
}

// state is the trained parameter set, serialized as-is
type state struct {
	LabelDocs   map[string]int            `json:"label_docs"`
	TokenCounts map[string]map[string]int `json:"token_counts"`
	TokenTotals map[string]int            `json:"token_totals"`
	Vocabulary  map[string]bool           `json:"vocabulary"`
	TotalDocs   int                       `json:"total_docs"`
}

// New creates an untrained model persisting to path
func New(path string, logger *zap.Logger) *Model {
	return &Model{path: path, logger: logger}
}

// Ready reports whether the model has trained state
func (m *Model) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state != nil && m.state.TotalDocs > 0
}

// Reset discards all trained state and removes the saved snapshot
func (m *Model) Reset() {
	m.mu.Lock()
	m.state = nil
	m.mu.Unlock()
	if m.path != "" {
		if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
			m.logger.Warn("Failed to remove saved model", zap.Error(err))
		}
	}
}

// Fit replaces the model state with one trained on the given pairs
func (m *Model) Fit(texts []string, labels []string) error {
	if len(texts) != len(labels) {
		return fmt.Errorf("texts and labels differ in length: %d vs %d", len(texts), len(labels))
	}
	if len(texts) == 0 {
		return fmt.Errorf("no training examples")
	}

	st := &state{
		LabelDocs:   make(map[string]int),
		TokenCounts: make(map[string]map[string]int),
		TokenTotals: make(map[string]int),
		Vocabulary:  make(map[string]bool),
	}
	for i, text := range texts {
		label := labels[i]
		st.LabelDocs[label]++
		st.TotalDocs++
		counts, ok := st.TokenCounts[label]
		if !ok {
			counts = make(map[string]int)
			st.TokenCounts[label] = counts
		}
		for _, token := range Tokenize(text) {
			counts[token]++
			st.TokenTotals[label]++
			st.Vocabulary[token] = true
		}
	}

	m.mu.Lock()
	m.state = st
	m.mu.Unlock()
	return nil
}

// Predict returns the most likely label for text and the posterior
// probability as a 0-100 percentage. An untrained model predicts nothing;
// callers gate on Ready.
func (m *Model) Predict(text string) (string, float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == nil || m.state.TotalDocs == 0 {
		return "", 0
	}
	st := m.state
	tokens := Tokenize(text)
	vocabSize := float64(len(st.Vocabulary))

	// Log joint probability per label, Laplace-smoothed
	logProbs := make(map[string]float64, len(st.LabelDocs))
	for label, docs := range st.LabelDocs {
		lp := math.Log(float64(docs) / float64(st.TotalDocs))
		totals := float64(st.TokenTotals[label])
		counts := st.TokenCounts[label]
		for _, token := range tokens {
			lp += math.Log((float64(counts[token]) + 1) / (totals + vocabSize))
		}
		logProbs[label] = lp
	}

	// Normalize with log-sum-exp to get the winning posterior
	best := ""
	bestLP := math.Inf(-1)
	for label, lp := range logProbs {
		if lp > bestLP || (lp == bestLP && label < best) {
			best, bestLP = label, lp
		}
	}
	var sum float64
	for _, lp := range logProbs {
		sum += math.Exp(lp - bestLP)
	}
	confidence := 100 / sum
	return best, math.Round(confidence*100) / 100
}

// Save writes the trained state to the configured path
func (m *Model) Save() error {
	m.mu.RLock()
	st := m.state
	m.mu.RUnlock()
	if st == nil {
		return fmt.Errorf("no model state to save")
	}
	if m.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write model file: %w", err)
	}
	return nil
}

// Load restores the trained state from disk. A missing file leaves the
// model untrained without error.
func (m *Model) Load() error {
	if m.path == "" {
		return nil
	}
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read model file: %w", err)
	}
	st := &state{}
	if err := json.Unmarshal(data, st); err != nil {
		return fmt.Errorf("failed to decode model file: %w", err)
	}
	m.mu.Lock()
	m.state = st
	m.mu.Unlock()
	m.logger.Info("Local model loaded",
		zap.String("path", m.path), zap.Int("documents", st.TotalDocs))
	return nil
}

// Tokenize lowercases and splits text on non-alphanumeric runes,
// dropping single-character tokens
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if len(f) > 1 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
