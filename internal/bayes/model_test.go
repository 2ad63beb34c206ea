package bayes

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"go.uber.org/zap"
)

var (
	trainTexts = []string{
		"Alice <alice@work.com> - quarterly budget review",
		"Bob <bob@work.com> - meeting notes budget planning",
		"Alice <alice@work.com> - project deadline review",
		"Casino <win@spam.biz> - win big money now casino",
		"Casino <win@spam.biz> - free money casino jackpot",
		"Prizes <prize@spam.biz> - claim your free prize money",
	}
	trainLabels = []string{"Work", "Work", "Work", "Confirmed Spam", "Confirmed Spam", "Confirmed Spam"}
)

func TestModelLifecycle(t *testing.T) {
	m := New("", zap.NewNop())
	if m.Ready() {
		t.Fatal("fresh model reports ready")
	}
	if label, conf := m.Predict("anything"); label != "" || conf != 0 {
		t.Fatalf("untrained model predicted %q (%v)", label, conf)
	}

	if err := m.Fit(trainTexts, trainLabels); err != nil {
		t.Fatal(err)
	}
	if !m.Ready() {
		t.Fatal("model not ready after fit")
	}

	label, conf := m.Predict("Alice <alice@work.com> - budget meeting")
	if label != "Work" {
		t.Fatalf("predicted %q for a work email, want Work", label)
	}
	if conf <= 50 || conf > 100 {
		t.Fatalf("confidence %v outside the winning range", conf)
	}

	label, _ = m.Predict("Casino <win@spam.biz> - free money jackpot")
	if label != "Confirmed Spam" {
		t.Fatalf("predicted %q for a spam email, want Confirmed Spam", label)
	}

	m.Reset()
	if m.Ready() {
		t.Fatal("model still ready after reset")
	}
}

func TestFitValidatesInput(t *testing.T) {
	m := New("", zap.NewNop())
	if err := m.Fit([]string{"a"}, []string{"x", "y"}); err == nil {
		t.Fatal("mismatched lengths accepted")
	}
	if err := m.Fit(nil, nil); err == nil {
		t.Fatal("empty training set accepted")
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")

	m := New(path, zap.NewNop())
	if err := m.Fit(trainTexts, trainLabels); err != nil {
		t.Fatal(err)
	}
	wantLabel, wantConf := m.Predict(trainTexts[0])
	if err := m.Save(); err != nil {
		t.Fatal(err)
	}

	restored := New(path, zap.NewNop())
	if err := restored.Load(); err != nil {
		t.Fatal(err)
	}
	if !restored.Ready() {
		t.Fatal("restored model not ready")
	}
	gotLabel, gotConf := restored.Predict(trainTexts[0])
	if gotLabel != wantLabel || gotConf != wantConf {
		t.Fatalf("restored model predicts (%q, %v), original (%q, %v)",
			gotLabel, gotConf, wantLabel, wantConf)
	}
}

func TestLoadMissingFileIsUntrained(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "absent.json"), zap.NewNop())
	if err := m.Load(); err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if m.Ready() {
		t.Fatal("model ready after loading nothing")
	}
}

func TestResetRemovesSavedState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	m := New(path, zap.NewNop())
	if err := m.Fit(trainTexts, trainLabels); err != nil {
		t.Fatal(err)
	}
	if err := m.Save(); err != nil {
		t.Fatal(err)
	}

	m.Reset()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("saved model still on disk after reset: %v", err)
	}
}

func TestTokenize(t *testing.T) {
	got := Tokenize("Alice <alice@work.com> - Budget Q1, review!")
	want := []string{"alice", "alice", "work", "com", "budget", "q1", "review"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Tokenize = %v, want %v", got, want)
	}

	if got := Tokenize("a b c"); len(got) != 0 {
		t.Fatalf("single-character tokens kept: %v", got)
	}
}
