package core

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Train/test split policy: deterministic shuffle, one fifth held out.
const (
	splitSeed    = 42
	testFraction = 0.2
	trainWindow  = 24 * time.Hour
)

// TrainingService builds and refreshes the local model from labeled
// emails and keeps the append-only run history.
type TrainingService struct {
	emails EmailStore
	runs   TrainingRunStore
	system SystemStore
	model  LocalModel
	logger *zap.Logger
	now    func() time.Time

	// Serializes the fit/evaluate phase; reads of past runs stay lock-free
	mu sync.Mutex
}

// NewTrainingService creates a new training service
func NewTrainingService(
	emails EmailStore,
	runs TrainingRunStore,
	system SystemStore,
	model LocalModel,
	logger *zap.Logger,
) *TrainingService {
	return &TrainingService{
		emails: emails,
		runs:   runs,
		system: system,
		model:  model,
		logger: logger,
		now:    time.Now,
	}
}

// selectionFilter maps a training source to an email-store filter
func (s *TrainingService) selectionFilter(source TrainingSource) (EmailFilter, error) {
	switch source {
	case SourceManual:
		return EmailFilter{PredictedBy: []Predictor{PredictedByManual}, TrainingOnly: true}, nil
	case SourceOpenAI:
		return EmailFilter{PredictedBy: []Predictor{PredictedByOpenAI}}, nil
	case SourceManual24h:
		return EmailFilter{
			PredictedBy:  []Predictor{PredictedByManual},
			TrainingOnly: true,
			LabeledSince: s.now().Add(-trainWindow),
		}, nil
	case SourceAI24h:
		return EmailFilter{
			PredictedBy:  []Predictor{PredictedByOpenAI},
			LabeledSince: s.now().Add(-trainWindow),
		}, nil
	case SourceMixed:
		return EmailFilter{
			PredictedBy:  []Predictor{PredictedByManual, PredictedByOpenAI},
			TrainingOnly: true,
		}, nil
	default:
		return EmailFilter{}, Errorf(ErrValidation, "unknown training source %q", source)
	}
}

// Train fits the local model on the subset selected by source and
// evaluates it on a held-out test partition. On success a TrainingRun is
// appended and the model persisted; on failure no run is recorded and the
// model keeps its previous state wherever possible.
func (s *TrainingService) Train(ctx context.Context, source TrainingSource) (*TrainingRun, error) {
	filter, err := s.selectionFilter(source)
	if err != nil {
		return nil, err
	}

	emails, err := s.emails.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to select training data: %w", err)
	}

	texts := make([]string, 0, len(emails))
	labels := make([]string, 0, len(emails))
	distinct := map[string]bool{}
	for _, e := range emails {
		if !e.Classified() {
			continue
		}
		texts = append(texts, FeatureText(e))
		labels = append(labels, e.Category)
		distinct[e.Category] = true
	}

	if len(texts) == 0 {
		return nil, Errorf(ErrInsufficientData, "no labeled emails for source %q", source)
	}
	if len(distinct) < 2 {
		return nil, Errorf(ErrInsufficientData,
			"need at least two distinct labels, got %d for source %q", len(distinct), source)
	}

	trainTexts, trainLabels, testTexts, testLabels := split(texts, labels)
	if len(trainTexts) == 0 || len(testTexts) == 0 {
		return nil, Errorf(ErrInsufficientData, "not enough examples to split for source %q", source)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("Training local classifier",
		zap.String("source", string(source)),
		zap.Int("train_size", len(trainTexts)),
		zap.Int("test_size", len(testTexts)))

	if err := s.model.Fit(trainTexts, trainLabels); err != nil {
		return nil, fmt.Errorf("failed to fit model: %w", err)
	}

	run := s.evaluate(source, testTexts, testLabels)
	run.TrainSize = len(trainTexts)
	run.TestSize = len(testTexts)
	run.CompletedAt = s.now().UTC()

	if err := s.model.Save(); err != nil {
		return nil, fmt.Errorf("failed to persist model: %w", err)
	}
	if err := s.runs.Append(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to record training run: %w", err)
	}
	if err := s.system.SetValue(ctx, SysLastTrained, run.CompletedAt.Format(time.RFC3339)); err != nil {
		s.logger.Warn("Failed to record training timestamp", zap.Error(err))
	}

	s.logger.Info("Training complete",
		zap.String("source", string(source)),
		zap.Float64("accuracy", run.Accuracy))
	return run, nil
}

// RetrainFromScratch discards the saved model state and rebuilds from the
// union of all manual and AI-derived labels, ignoring the 24h windows
func (s *TrainingService) RetrainFromScratch(ctx context.Context) (*TrainingRun, error) {
	s.mu.Lock()
	s.model.Reset()
	s.mu.Unlock()
	return s.Train(ctx, SourceMixed)
}

// ClearTrainingData removes manual labels from future training eligibility
// without altering the categories themselves: a manual review decision
// stays visible to reputation and the UI even if excluded from training.
func (s *TrainingService) ClearTrainingData(ctx context.Context) (int, error) {
	n, err := s.emails.SetTrainingEligible(ctx, PredictedByManual, false)
	if err != nil {
		return 0, fmt.Errorf("failed to clear training data: %w", err)
	}
	s.logger.Info("Training data cleared", zap.Int("emails", n))
	return n, nil
}

// Metrics returns the most recent training run, or nil if none exists
func (s *TrainingService) Metrics(ctx context.Context) (*TrainingRun, error) {
	run, err := s.runs.Latest(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load training history: %w", err)
	}
	return run, nil
}

// split partitions the examples into disjoint train/test sets covering the
// whole input, using a fixed-seed shuffle so runs are reproducible
func split(texts, labels []string) (trainX, trainY, testX, testY []string) {
	n := len(texts)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	rng := rand.New(rand.NewSource(splitSeed))
	rng.Shuffle(n, func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

	testSize := int(float64(n) * testFraction)
	if testSize == 0 {
		testSize = 1
	}
	if testSize >= n {
		testSize = n - 1
	}

	for i, j := range idx {
		if i < testSize {
			testX = append(testX, texts[j])
			testY = append(testY, labels[j])
		} else {
			trainX = append(trainX, texts[j])
			trainY = append(trainY, labels[j])
		}
	}
	return trainX, trainY, testX, testY
}

// evaluate scores the fitted model on the test partition and builds the
// per-label classification report
func (s *TrainingService) evaluate(source TrainingSource, testTexts, testLabels []string) *TrainingRun {
	type tally struct {
		tp, fp, fn, support int
	}
	tallies := map[string]*tally{}
	get := func(label string) *tally {
		t, ok := tallies[label]
		if !ok {
			t = &tally{}
			tallies[label] = t
		}
		return t
	}

	correct := 0
	for i, text := range testTexts {
		truth := testLabels[i]
		predicted, _ := s.model.Predict(text)
		get(truth).support++
		if predicted == truth {
			correct++
			get(truth).tp++
		} else {
			get(truth).fn++
			get(predicted).fp++
		}
	}

	report := make(map[string]LabelMetrics, len(tallies))
	for label, t := range tallies {
		var precision, recall, f1 float64
		if t.tp+t.fp > 0 {
			precision = float64(t.tp) / float64(t.tp+t.fp)
		}
		if t.tp+t.fn > 0 {
			recall = float64(t.tp) / float64(t.tp+t.fn)
		}
		if precision+recall > 0 {
			f1 = 2 * precision * recall / (precision + recall)
		}
		report[label] = LabelMetrics{
			Precision: precision,
			Recall:    recall,
			F1:        f1,
			Support:   t.support,
		}
	}

	return &TrainingRun{
		Source:   source,
		Accuracy: float64(correct) / float64(len(testTexts)),
		Report:   report,
	}
}
