package core_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/adapters/store"
	"github.com/mikey/mail-triage/internal/core"
)

func labeledEmail(id, category string, by core.Predictor, labeledAt time.Time) *core.Email {
	e := newEmail(id, id+"@x.com", "subject "+id, labeledAt.Add(-time.Minute))
	e.Category = category
	e.PredictedBy = by
	e.LabeledAt = labeledAt
	e.TrainingEligible = true
	return e
}

// perfectModel answers every feature text with its true label so
// evaluation figures are exact
func perfectModel(t *testing.T, emails []*core.Email) *fakeModel {
	t.Helper()
	predictions := make(map[string]string)
	for _, e := range emails {
		predictions[core.FeatureText(e)] = e.Category
	}
	return &fakeModel{predictions: predictions, confidence: 90}
}

func TestTrainInsufficientData(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore(zap.NewNop())
	model := &fakeModel{}
	svc := core.NewTrainingService(mem, mem, mem, model, zap.NewNop())

	_, err := svc.Train(ctx, core.SourceManual)
	if !core.IsKind(err, core.ErrInsufficientData) {
		t.Fatalf("expected InsufficientData on empty store, got %v", err)
	}

	now := time.Now()
	for _, id := range []string{"a", "b"} {
		if _, err := mem.Insert(ctx, labeledEmail(id, "Work", core.PredictedByManual, now)); err != nil {
			t.Fatal(err)
		}
	}
	_, err = svc.Train(ctx, core.SourceManual)
	if !core.IsKind(err, core.ErrInsufficientData) {
		t.Fatalf("expected InsufficientData with one distinct label, got %v", err)
	}
	if len(model.fitTexts) != 0 {
		t.Fatal("model was fitted despite failing preconditions")
	}

	run, err := mem.Latest(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if run != nil {
		t.Fatalf("failed training recorded a run: %+v", run)
	}
}

func TestTrainRejectsUnknownSource(t *testing.T) {
	mem := store.NewMemoryStore(zap.NewNop())
	svc := core.NewTrainingService(mem, mem, mem, &fakeModel{}, zap.NewNop())

	_, err := svc.Train(context.Background(), core.TrainingSource("whatever"))
	if !core.IsKind(err, core.ErrValidation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestTrainManualSource(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore(zap.NewNop())
	now := time.Now()

	pool := []*core.Email{
		labeledEmail("m1", "Work", core.PredictedByManual, now),
		labeledEmail("m2", "Work", core.PredictedByManual, now),
		labeledEmail("m3", "Work", core.PredictedByManual, now),
		labeledEmail("m4", "Personal", core.PredictedByManual, now),
		labeledEmail("m5", "Personal", core.PredictedByManual, now),
	}
	excludedAI := labeledEmail("ai1", "Data", core.PredictedByOpenAI, now)
	cleared := labeledEmail("m6", "Data", core.PredictedByManual, now)
	cleared.TrainingEligible = false
	for _, e := range append(append([]*core.Email{}, pool...), excludedAI, cleared) {
		if _, err := mem.Insert(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	model := perfectModel(t, pool)
	svc := core.NewTrainingService(mem, mem, mem, model, zap.NewNop())

	run, err := svc.Train(ctx, core.SourceManual)
	if err != nil {
		t.Fatal(err)
	}
	if run.TrainSize+run.TestSize != len(pool) {
		t.Fatalf("split covers %d examples, want %d", run.TrainSize+run.TestSize, len(pool))
	}
	if run.TestSize != 1 {
		t.Fatalf("test partition = %d, want one fifth of 5", run.TestSize)
	}
	if run.Accuracy != 1.0 {
		t.Fatalf("perfect model scored %v", run.Accuracy)
	}
	for _, label := range model.fitLabels {
		if label == "Data" {
			t.Fatal("ineligible or AI-labeled email leaked into the training set")
		}
	}

	support := 0
	for _, m := range run.Report {
		support += m.Support
	}
	if support != run.TestSize {
		t.Fatalf("report support sums to %d, want %d", support, run.TestSize)
	}

	if model.saved != 1 {
		t.Fatalf("model persisted %d times, want 1", model.saved)
	}
	latest, err := mem.Latest(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if latest == nil || latest.Source != core.SourceManual {
		t.Fatalf("run not recorded: %+v", latest)
	}
	if _, ok, _ := mem.GetValue(ctx, core.SysLastTrained); !ok {
		t.Fatal("last_trained timestamp not recorded")
	}
}

func TestTrainWindowedSourceIgnoresOldLabels(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore(zap.NewNop())
	now := time.Now()
	old := now.Add(-48 * time.Hour)

	recent := []*core.Email{
		labeledEmail("r1", "Work", core.PredictedByManual, now.Add(-time.Hour)),
		labeledEmail("r2", "Work", core.PredictedByManual, now.Add(-2*time.Hour)),
		labeledEmail("r3", "Personal", core.PredictedByManual, now.Add(-3*time.Hour)),
		labeledEmail("r4", "Personal", core.PredictedByManual, now.Add(-4*time.Hour)),
	}
	stale := []*core.Email{
		labeledEmail("s1", "Phishing", core.PredictedByManual, old),
		labeledEmail("s2", "Phishing", core.PredictedByManual, old),
	}
	for _, e := range append(append([]*core.Email{}, recent...), stale...) {
		if _, err := mem.Insert(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	model := perfectModel(t, recent)
	svc := core.NewTrainingService(mem, mem, mem, model, zap.NewNop())

	run, err := svc.Train(ctx, core.SourceManual24h)
	if err != nil {
		t.Fatal(err)
	}
	if run.TrainSize+run.TestSize != len(recent) {
		t.Fatalf("window selected %d examples, want %d", run.TrainSize+run.TestSize, len(recent))
	}
	for _, label := range model.fitLabels {
		if label == "Phishing" {
			t.Fatal("stale label leaked past the training window")
		}
	}
}

func TestRetrainFromScratch(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore(zap.NewNop())
	now := time.Now()
	old := now.Add(-72 * time.Hour)

	pool := []*core.Email{
		labeledEmail("m1", "Work", core.PredictedByManual, old),
		labeledEmail("m2", "Work", core.PredictedByManual, old),
		labeledEmail("a1", "Personal", core.PredictedByOpenAI, now),
		labeledEmail("a2", "Personal", core.PredictedByOpenAI, now),
		labeledEmail("a3", "Work", core.PredictedByOpenAI, now),
	}
	for _, e := range pool {
		if _, err := mem.Insert(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	model := perfectModel(t, pool)
	svc := core.NewTrainingService(mem, mem, mem, model, zap.NewNop())

	run, err := svc.RetrainFromScratch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if model.resets != 1 {
		t.Fatalf("model reset %d times, want 1", model.resets)
	}
	if run.Source != core.SourceMixed {
		t.Fatalf("retrain recorded source %q, want mixed", run.Source)
	}
	if run.TrainSize+run.TestSize != len(pool) {
		t.Fatalf("retrain used %d examples, want %d including old labels", run.TrainSize+run.TestSize, len(pool))
	}
}

func TestClearTrainingData(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore(zap.NewNop())
	now := time.Now()
	for _, id := range []string{"m1", "m2"} {
		if _, err := mem.Insert(ctx, labeledEmail(id, "Work", core.PredictedByManual, now)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := mem.Insert(ctx, labeledEmail("a1", "Personal", core.PredictedByOpenAI, now)); err != nil {
		t.Fatal(err)
	}
	svc := core.NewTrainingService(mem, mem, mem, &fakeModel{}, zap.NewNop())

	n, err := svc.ClearTrainingData(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("cleared %d emails, want 2", n)
	}

	got, _ := mem.Get(ctx, "m1")
	if got.Category != "Work" || got.PredictedBy != core.PredictedByManual {
		t.Fatalf("clearing training data altered the label: %+v", got)
	}
	if got.TrainingEligible {
		t.Fatal("email still training-eligible after clear")
	}

	n, err = svc.ClearTrainingData(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("second clear touched %d emails, want 0", n)
	}
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore(zap.NewNop())
	svc := core.NewTrainingService(mem, mem, mem, &fakeModel{}, zap.NewNop())

	run, err := svc.Metrics(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if run != nil {
		t.Fatalf("expected nil metrics before any training, got %+v", run)
	}

	first := &core.TrainingRun{Source: core.SourceManual, Accuracy: 0.5}
	second := &core.TrainingRun{Source: core.SourceMixed, Accuracy: 0.9}
	if err := mem.Append(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := mem.Append(ctx, second); err != nil {
		t.Fatal(err)
	}

	run, err = svc.Metrics(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if run == nil || run.Source != core.SourceMixed || run.Accuracy != 0.9 {
		t.Fatalf("metrics should surface the newest run, got %+v", run)
	}
}
