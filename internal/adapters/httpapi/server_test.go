package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/adapters/store"
	"github.com/mikey/mail-triage/internal/core"
)

// staticRemote labels every email the same way
type staticRemote struct {
	category string
}

func (r *staticRemote) ClassifyBatch(_ context.Context, emails []*core.Email) ([]core.Prediction, error) {
	out := make([]core.Prediction, 0, len(emails))
	for _, e := range emails {
		out = append(out, core.Prediction{ID: e.ID, Category: r.category})
	}
	return out, nil
}

func newTestServer(t *testing.T) (*Server, *store.MemoryStore) {
	t.Helper()
	logger := zap.NewNop()
	mem := store.NewMemoryStore(logger)
	classifier := core.NewClassifierService(
		mem, mem, &staticRemote{category: "Work"}, nil, nil, nil,
		logger, 10, 72*time.Hour,
	)
	reputation := core.NewReputationService(mem, mem, logger)
	training := core.NewTrainingService(mem, mem, mem, nil, logger)
	coordinator := core.NewJobCoordinator(logger)
	srv := NewServer(classifier, reputation, training, coordinator, mem,
		logger, time.Millisecond, 2*time.Second)
	return srv, mem
}

func doJSON(t *testing.T, srv *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var payload map[string]interface{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("non-JSON response for %s %s: %s", method, path, rec.Body.String())
		}
	}
	return rec, payload
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec, payload := doJSON(t, srv, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || payload["status"] != "ok" {
		t.Fatalf("got %d %v", rec.Code, payload)
	}
}

func TestClassifyEndpoint(t *testing.T) {
	srv, mem := newTestServer(t)
	ctx := context.Background()
	for _, id := range []string{"e1", "e2"} {
		if _, err := mem.Insert(ctx, &core.Email{
			ID: id, SenderAddress: id + "@x.com", Subject: "hi",
			ReceivedAt: time.Now(), Category: core.LabelUncategorized,
			PredictedBy: core.PredictedByNone,
		}); err != nil {
			t.Fatal(err)
		}
	}

	rec, payload := doJSON(t, srv, http.MethodPost, "/api/classify",
		`{"ids":["e1","e2"],"mode":"remote"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d: %v", rec.Code, payload)
	}
	if payload["classified"] != float64(2) || payload["attempted"] != float64(2) {
		t.Fatalf("got %v, want classified=2 attempted=2", payload)
	}

	e1, _ := mem.Get(ctx, "e1")
	if e1.Category != "Work" {
		t.Fatalf("email not classified through the endpoint: %+v", e1)
	}
}

func TestClassifyEndpointValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, payload := doJSON(t, srv, http.MethodPost, "/api/classify",
		`{"ids":["ghost"],"mode":"remote"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400 for unknown id", rec.Code)
	}
	if payload["error"] != string(core.ErrValidation) {
		t.Fatalf("error field = %v, want %s", payload["error"], core.ErrValidation)
	}

	rec, _ = doJSON(t, srv, http.MethodPost, "/api/classify", `{"ids": 5}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400 for malformed body", rec.Code)
	}
}

func TestClassifyAllReturnsAccepted(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, payload := doJSON(t, srv, http.MethodPost, "/api/classify-all", `{"mode":"remote"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("got %d, want 202", rec.Code)
	}
	if payload["status"] != "started" {
		t.Fatalf("got %v, want started", payload)
	}
	jobID, ok := payload["job"].(string)
	if !ok || jobID == "" {
		t.Fatalf("no job id in %v", payload)
	}

	// The job must eventually be observable through the jobs endpoint
	deadline := time.Now().Add(2 * time.Second)
	for {
		rec, payload = doJSON(t, srv, http.MethodGet, "/api/jobs/"+jobID, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("jobs endpoint returned %d", rec.Code)
		}
		status := core.JobStatus(payload["status"].(string))
		if status.Terminal() {
			if status != core.JobCompleted {
				t.Fatalf("background job ended %q: %v", status, payload)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s never finished: %v", jobID, payload)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestJobsEndpointUnknownID(t *testing.T) {
	srv, _ := newTestServer(t)
	rec, payload := doJSON(t, srv, http.MethodGet, "/api/jobs/no-such-job", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rec.Code)
	}
	if payload["error"] != string(core.ErrValidation) {
		t.Fatalf("error field = %v", payload["error"])
	}
}

func TestCategorizeEndpoint(t *testing.T) {
	srv, mem := newTestServer(t)
	ctx := context.Background()
	if _, err := mem.Insert(ctx, &core.Email{
		ID: "e1", SenderAddress: "a@x.com", ReceivedAt: time.Now(),
		Category: core.LabelUncategorized, PredictedBy: core.PredictedByNone,
	}); err != nil {
		t.Fatal(err)
	}

	rec, _ := doJSON(t, srv, http.MethodPost, "/api/categorize",
		`{"id":"e1","category":"Personal"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}
	got, _ := mem.Get(ctx, "e1")
	if got.Category != "Personal" || got.PredictedBy != core.PredictedByManual {
		t.Fatalf("label not applied: %+v", got)
	}

	rec, payload := doJSON(t, srv, http.MethodPost, "/api/categorize",
		`{"id":"e1","category":"Not A Label"}`)
	if rec.Code != http.StatusBadRequest || payload["error"] != string(core.ErrValidation) {
		t.Fatalf("got %d %v, want 400 ValidationError", rec.Code, payload)
	}
}

func TestTrainEndpointFailuresSurfaceThroughJob(t *testing.T) {
	srv, _ := newTestServer(t)

	// Unknown source is only detected inside the job
	rec, payload := doJSON(t, srv, http.MethodPost, "/api/train", `{"source":"manual"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("got %d, want 202", rec.Code)
	}
	jobID := payload["job"].(string)

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, payload = doJSON(t, srv, http.MethodGet, "/api/jobs/"+jobID, "")
		status := core.JobStatus(payload["status"].(string))
		if status.Terminal() {
			if status != core.JobFailed {
				t.Fatalf("training on an empty store should fail, got %v", payload)
			}
			if !strings.Contains(payload["error"].(string), string(core.ErrInsufficientData)) {
				t.Fatalf("job error = %v, want InsufficientData", payload["error"])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("training job never finished")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRecalculateEndpoint(t *testing.T) {
	srv, mem := newTestServer(t)
	ctx := context.Background()
	if _, err := mem.Insert(ctx, &core.Email{
		ID: "e1", SenderAddress: "a@x.com", SenderName: "A",
		ReceivedAt: time.Now(), Category: "Important",
	}); err != nil {
		t.Fatal(err)
	}

	rec, payload := doJSON(t, srv, http.MethodPost, "/api/reputation/recalculate", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d: %v", rec.Code, payload)
	}
	if payload["senders_updated"] != float64(1) {
		t.Fatalf("got %v, want one sender", payload)
	}

	rec, payload = doJSON(t, srv, http.MethodGet, "/api/reputation?address=a@x.com", "")
	if rec.Code != http.StatusOK || payload["count"] != float64(1) {
		t.Fatalf("reputation listing: %d %v", rec.Code, payload)
	}
}

func TestReputationLimitValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	rec, _ := doJSON(t, srv, http.MethodGet, "/api/reputation?limit=pony", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400 for a bad limit", rec.Code)
	}
}

func TestStatsAndLabelsEndpoints(t *testing.T) {
	srv, mem := newTestServer(t)
	ctx := context.Background()
	if _, err := mem.Insert(ctx, &core.Email{
		ID: "e1", SenderAddress: "a@x.com", ReceivedAt: time.Now(),
		Category: core.LabelUncategorized, Unread: true,
	}); err != nil {
		t.Fatal(err)
	}

	rec, payload := doJSON(t, srv, http.MethodGet, "/api/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats returned %d", rec.Code)
	}
	if payload["total"] != float64(1) || payload["unclassified"] != float64(1) {
		t.Fatalf("stats payload: %v", payload)
	}

	rec, payload = doJSON(t, srv, http.MethodGet, "/api/labels", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("labels returned %d", rec.Code)
	}
	labels, ok := payload["labels"].([]interface{})
	if !ok || len(labels) != len(core.Labels) {
		t.Fatalf("labels payload: %v", payload)
	}
}

func TestListEmailsFilters(t *testing.T) {
	srv, mem := newTestServer(t)
	ctx := context.Background()
	if _, err := mem.Insert(ctx, &core.Email{
		ID: "pending", SenderAddress: "a@x.com", ReceivedAt: time.Now(),
		Category: core.LabelUncategorized, PredictedBy: core.PredictedByNone,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := mem.Insert(ctx, &core.Email{
		ID: "done", SenderAddress: "b@x.com", ReceivedAt: time.Now(),
		Category: "Work", PredictedBy: core.PredictedByManual,
	}); err != nil {
		t.Fatal(err)
	}

	rec, payload := doJSON(t, srv, http.MethodGet, "/api/emails?unclassified=true", "")
	if rec.Code != http.StatusOK || payload["count"] != float64(1) {
		t.Fatalf("unclassified filter: %d %v", rec.Code, payload)
	}

	rec, payload = doJSON(t, srv, http.MethodGet, "/api/emails?predicted_by=manual", "")
	if rec.Code != http.StatusOK || payload["count"] != float64(1) {
		t.Fatalf("predicted_by filter: %d %v", rec.Code, payload)
	}
}

func TestMetricsEndpointNotFoundBeforeTraining(t *testing.T) {
	srv, mem := newTestServer(t)

	rec, _ := doJSON(t, srv, http.MethodGet, "/api/classifier/metrics", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("got %d, want 404 before any run", rec.Code)
	}

	if err := mem.Append(context.Background(), &core.TrainingRun{
		Source: core.SourceManual, Accuracy: 0.8, TrainSize: 8, TestSize: 2,
	}); err != nil {
		t.Fatal(err)
	}
	rec, payload := doJSON(t, srv, http.MethodGet, "/api/classifier/metrics", "")
	if rec.Code != http.StatusOK || payload["accuracy"] != float64(0.8) {
		t.Fatalf("got %d %v", rec.Code, payload)
	}
}

func TestClearEmailsEndpoint(t *testing.T) {
	srv, mem := newTestServer(t)
	ctx := context.Background()
	for _, id := range []string{"e1", "e2"} {
		if _, err := mem.Insert(ctx, &core.Email{
			ID: id, SenderAddress: id + "@x.com", ReceivedAt: time.Now(),
			Category: "Work", PredictedBy: core.PredictedByOpenAI,
		}); err != nil {
			t.Fatal(err)
		}
	}

	rec, payload := doJSON(t, srv, http.MethodPost, "/api/clear", "")
	if rec.Code != http.StatusOK || payload["status"] != "cleared" {
		t.Fatalf("got %d %v", rec.Code, payload)
	}
	total, _, _, err := mem.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 {
		t.Fatalf("%d emails left after clearing", total)
	}
}

func TestClearTrainingEndpoint(t *testing.T) {
	srv, mem := newTestServer(t)
	ctx := context.Background()
	if _, err := mem.Insert(ctx, &core.Email{
		ID: "m1", SenderAddress: "a@x.com", ReceivedAt: time.Now(),
		Category: "Work", PredictedBy: core.PredictedByManual, TrainingEligible: true,
	}); err != nil {
		t.Fatal(err)
	}

	rec, payload := doJSON(t, srv, http.MethodPost, "/api/train/clear", "")
	if rec.Code != http.StatusOK || payload["status"] != "cleared" {
		t.Fatalf("got %d %v", rec.Code, payload)
	}
	got, _ := mem.Get(ctx, "m1")
	if got.TrainingEligible || got.Category != "Work" {
		t.Fatalf("clear endpoint misbehaved: %+v", got)
	}
}
