package core_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/core"
)

func TestTriggerSingleFlightPerKind(t *testing.T) {
	coord := core.NewJobCoordinator(zap.NewNop())
	release := make(chan struct{})

	blocked := func(ctx context.Context) (interface{}, error) {
		<-release
		return "done", nil
	}

	first, err := coord.Trigger(core.KindTrain, blocked)
	if err != nil {
		t.Fatal(err)
	}

	dup, err := coord.Trigger(core.KindTrain, blocked)
	if !core.IsKind(err, core.ErrConflict) {
		t.Fatalf("expected Conflict for duplicate kind, got %v", err)
	}
	if dup.ID != first.ID {
		t.Fatalf("conflict should report the running job, got %q want %q", dup.ID, first.ID)
	}

	// A different kind is unaffected
	other, err := coord.Trigger(core.KindFetch, func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatalf("different kind rejected: %v", err)
	}
	if other.ID == first.ID {
		t.Fatal("jobs of different kinds share an id")
	}

	close(release)
	snap, err := coord.Await(context.Background(), first.ID, time.Millisecond, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Status != core.JobCompleted || snap.Result != "done" {
		t.Fatalf("got %+v, want completed with result", snap)
	}

	// The kind frees up once the job is terminal
	again, err := coord.Trigger(core.KindTrain, func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatalf("kind still occupied after completion: %v", err)
	}
	if _, err := coord.Await(context.Background(), again.ID, time.Millisecond, time.Second); err != nil {
		t.Fatal(err)
	}
}

func TestPollUnknownJob(t *testing.T) {
	coord := core.NewJobCoordinator(zap.NewNop())
	_, err := coord.Poll("no-such-job")
	if !core.IsKind(err, core.ErrValidation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestAwaitBudgetExhaustionIsIndeterminate(t *testing.T) {
	coord := core.NewJobCoordinator(zap.NewNop())
	release := make(chan struct{})

	snap, err := coord.Trigger(core.KindRecalculate, func(ctx context.Context) (interface{}, error) {
		<-release
		return 7, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = coord.Await(context.Background(), snap.ID, time.Millisecond, 20*time.Millisecond)
	if !core.IsKind(err, core.ErrIndeterminate) {
		t.Fatalf("expected Indeterminate on budget exhaustion, got %v", err)
	}

	// The job was not cancelled: it can still complete and be observed
	close(release)
	final, err := coord.Await(context.Background(), snap.ID, time.Millisecond, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != core.JobCompleted || final.Result != 7 {
		t.Fatalf("got %+v, want completed with result 7", final)
	}
}

func TestAwaitFailedJobKeepsErrorKind(t *testing.T) {
	coord := core.NewJobCoordinator(zap.NewNop())

	snap, err := coord.Trigger(core.KindClassifyBatch, func(ctx context.Context) (interface{}, error) {
		return core.BatchResult{Classified: 1, Attempted: 3},
			core.Errorf(core.ErrPartialBatch, "classified 1 of 3")
	})
	if err != nil {
		t.Fatal(err)
	}

	final, err := coord.Await(context.Background(), snap.ID, time.Millisecond, time.Second)
	if !core.IsKind(err, core.ErrPartialBatch) {
		t.Fatalf("failed job should surface its original error kind, got %v", err)
	}
	if final.Status != core.JobFailed {
		t.Fatalf("got status %q, want failed", final.Status)
	}
	res, ok := final.Result.(core.BatchResult)
	if !ok || res.Classified != 1 {
		t.Fatalf("partial result not preserved on the snapshot: %+v", final.Result)
	}
}

func TestAwaitAbandonedContext(t *testing.T) {
	coord := core.NewJobCoordinator(zap.NewNop())
	release := make(chan struct{})
	defer close(release)

	snap, err := coord.Trigger(core.KindClassifyAll, func(ctx context.Context) (interface{}, error) {
		<-release
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = coord.Await(ctx, snap.ID, 10*time.Millisecond, time.Second)
	if !core.IsKind(err, core.ErrIndeterminate) {
		t.Fatalf("expected Indeterminate when the poller walks away, got %v", err)
	}
}
