package core_test

import (
	"context"
	"time"

	"github.com/mikey/mail-triage/internal/core"
)

// fakeRemote scripts the remote classifier one call at a time
type fakeRemote struct {
	fn    func(call int, emails []*core.Email) ([]core.Prediction, error)
	calls int
}

func (f *fakeRemote) ClassifyBatch(_ context.Context, emails []*core.Email) ([]core.Prediction, error) {
	f.calls++
	return f.fn(f.calls, emails)
}

// labelAll answers every email in the batch with the same category
func labelAll(category string) func(int, []*core.Email) ([]core.Prediction, error) {
	return func(_ int, emails []*core.Email) ([]core.Prediction, error) {
		out := make([]core.Prediction, 0, len(emails))
		for _, e := range emails {
			out = append(out, core.Prediction{ID: e.ID, Category: category})
		}
		return out, nil
	}
}

// fakeModel is a scriptable local model
type fakeModel struct {
	ready       bool
	label       string
	confidence  float64
	predictions map[string]string
	fitTexts    []string
	fitLabels   []string
	saved       int
	resets      int
}

func (f *fakeModel) Predict(text string) (string, float64) {
	if label, ok := f.predictions[text]; ok {
		return label, f.confidence
	}
	return f.label, f.confidence
}

func (f *fakeModel) Ready() bool { return f.ready }

func (f *fakeModel) Fit(texts, labels []string) error {
	f.fitTexts = append([]string(nil), texts...)
	f.fitLabels = append([]string(nil), labels...)
	f.ready = true
	return nil
}

func (f *fakeModel) Reset() {
	f.resets++
	f.ready = false
}

func (f *fakeModel) Save() error { f.saved++; return nil }
func (f *fakeModel) Load() error { return nil }

// fakeBlocklist lists exact addresses
type fakeBlocklist struct {
	listed map[string]bool
}

func (f *fakeBlocklist) IsListed(_ context.Context, address string) bool {
	return f.listed[address]
}

// fakeSource returns a fixed batch of messages
type fakeSource struct {
	emails []*core.Email
	err    error
}

func (f *fakeSource) Fetch(_ context.Context, _ time.Time) ([]*core.Email, error) {
	return f.emails, f.err
}

func newEmail(id, address, subject string, receivedAt time.Time) *core.Email {
	return &core.Email{
		ID:            id,
		SenderName:    "Sender " + id,
		SenderAddress: address,
		Subject:       subject,
		ReceivedAt:    receivedAt,
		Unread:        true,
		Category:      core.LabelUncategorized,
		PredictedBy:   core.PredictedByNone,
	}
}
