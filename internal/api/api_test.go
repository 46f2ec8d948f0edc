package api

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/model"
	"github.com/opensource-finance/harrier/internal/pipeline"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/review"
)

const tenantID = "tenant-001"

// testArtifact has bias -2 and a single non-zero weight of 0.01 on Amount,
// so an Amount of 200 scores exactly 0.5.
func testArtifact(version string) *domain.ModelArtifact {
	weights := make(map[string]float64)
	for _, name := range domain.CreditCardSchema().Names() {
		weights[name] = 0
	}
	weights[domain.FeatureAmount] = 0.01
	return &domain.ModelArtifact{Version: version, Link: domain.LinkLogistic, Weights: weights, Bias: -2}
}

func createTestServer(t *testing.T, withModel bool) *Server {
	t.Helper()

	cfg := domain.DefaultConfig()
	cfg.Server.MaxBodyBytes = 1 << 20
	cfg.Repository.SQLitePath = filepath.Join(t.TempDir(), "models.db")

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		t.Fatalf("failed to open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	var params *domain.ModelParameters
	if withModel {
		params, err = model.FromArtifact(testArtifact("test-v1"))
		if err != nil {
			t.Fatalf("failed to build model: %v", err)
		}
	}

	sink := review.NewSink(eventBus, 10)
	if err := sink.Start(context.Background()); err != nil {
		t.Fatalf("failed to start review sink: %v", err)
	}
	t.Cleanup(func() { sink.Stop() })

	return NewServer(cfg, pipeline.New(params, 2), repo, cache.NewMemory(100), review.NewDispatcher(eventBus, 10), sink, "test")
}

func row(amount float64) domain.RawRecord {
	r := domain.RawRecord{}
	for _, name := range domain.CreditCardSchema().Names() {
		r[name] = 0.0
	}
	r[domain.FeatureAmount] = amount
	return r
}

func do(t *testing.T, s *Server, method, path, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set(TenantIDHeader, tenantID)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func scoreJSON(t *testing.T, s *Server, payload map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to encode request: %v", err)
	}
	return do(t, s, http.MethodPost, "/score", "application/json", body)
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
	return v
}

func indices(items []TransactionView) []int {
	out := make([]int, len(items))
	for i, it := range items {
		out[i] = it.Index
	}
	return out
}

func TestScoreEndpoint(t *testing.T) {
	server := createTestServer(t, true)

	t.Run("JSONBatch", func(t *testing.T) {
		rr := scoreJSON(t, server, map[string]any{
			"rows": []domain.RawRecord{row(0), row(400), row(200), row(400)},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		resp := decode[ScoreResponse](t, rr)
		if resp.BatchID == "" {
			t.Error("expected batchId in response")
		}
		if resp.ModelVersion != "test-v1" {
			t.Errorf("expected model test-v1, got %s", resp.ModelVersion)
		}
		if resp.Threshold != domain.DefaultThreshold {
			t.Errorf("expected default threshold, got %v", resp.Threshold)
		}
		if resp.Summary.Total != 4 || resp.Summary.Flagged != 3 {
			t.Errorf("unexpected summary %+v", resp.Summary)
		}
		if got := indices(resp.Ranked.Items); fmt.Sprint(got) != "[1 3 2 0]" {
			t.Errorf("expected ranking [1 3 2 0], got %v", got)
		}
		if got := resp.Transactions[0].FraudProbability; math.Abs(got-0.1192029) > 1e-6 {
			t.Errorf("expected p≈0.1192 for the zero record, got %v", got)
		}
		if resp.Transactions[2].Prediction != domain.LabelFraud {
			t.Error("probability equal to the threshold must be labelled fraud")
		}
	})

	t.Run("TopKAndFilter", func(t *testing.T) {
		rr := scoreJSON(t, server, map[string]any{
			"topK":   1,
			"filter": "Amount > 100.0",
			"rows":   []domain.RawRecord{row(0), row(200), row(400)},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		resp := decode[ScoreResponse](t, rr)
		if resp.Ranked.Total != 2 || len(resp.Ranked.Items) != 1 || resp.Ranked.Items[0].Index != 2 {
			t.Errorf("unexpected ranked view %+v", resp.Ranked)
		}
		if len(resp.Transactions) != 3 {
			t.Errorf("expected all 3 transactions, got %d", len(resp.Transactions))
		}
	})

	t.Run("CSVBatch", func(t *testing.T) {
		names := domain.CreditCardSchema().Names()
		var buf strings.Builder
		buf.WriteString(strings.Join(names, ",") + ",Class\n")
		for _, amount := range []string{"0", "400"} {
			cells := make([]string, len(names))
			for i := range cells {
				cells[i] = "0"
			}
			cells[len(cells)-1] = amount
			buf.WriteString(strings.Join(cells, ",") + ",0\n")
		}

		rr := do(t, server, http.MethodPost, "/score?threshold=0.1&topK=5", "text/csv; charset=utf-8", []byte(buf.String()))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		resp := decode[ScoreResponse](t, rr)
		if resp.Threshold != 0.1 || resp.Summary.Flagged != 2 {
			t.Errorf("zero record must be flagged at 0.1, got %+v", resp.Summary)
		}
	})

	t.Run("MissingFeatures", func(t *testing.T) {
		r := row(10)
		delete(r, "V5")
		delete(r, domain.FeatureAmount)

		rr := scoreJSON(t, server, map[string]any{"rows": []domain.RawRecord{r}})
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected status 422, got %d: %s", rr.Code, rr.Body.String())
		}
		body := decode[struct {
			Missing []string `json:"missing"`
		}](t, rr)
		if fmt.Sprint(body.Missing) != "[V5 Amount]" {
			t.Errorf("expected missing [V5 Amount], got %v", body.Missing)
		}
	})

	t.Run("NonNumericValue", func(t *testing.T) {
		r := row(10)
		r["V3"] = "abc"
		rr := scoreJSON(t, server, map[string]any{"rows": []domain.RawRecord{r}})
		if rr.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected status 422, got %d", rr.Code)
		}
	})

	t.Run("InvalidParameters", func(t *testing.T) {
		cases := []map[string]any{
			{"threshold": 0, "rows": []domain.RawRecord{row(1)}},
			{"threshold": 1, "rows": []domain.RawRecord{row(1)}},
			{"topK": -1, "rows": []domain.RawRecord{row(1)}},
			{"topN": -1, "rows": []domain.RawRecord{row(1)}},
			{"filter": "Amount + 1.0", "rows": []domain.RawRecord{row(1)}},
			{"rows": []domain.RawRecord{}},
		}
		for _, payload := range cases {
			rr := scoreJSON(t, server, payload)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("%v: expected status 400, got %d", payload, rr.Code)
			}
		}
	})

	t.Run("InvalidQueryParameter", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/score?threshold=high", "text/csv", []byte("a\n1\n"))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/score", "application/json", []byte("{"))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MalformedCSV", func(t *testing.T) {
		header := strings.Join(domain.CreditCardSchema().Names(), ",")
		cases := []struct {
			name string
			body string
			line int
		}{
			{"RaggedRow", header + "\n" + strings.Repeat("0,", 29) + "0\n1,2\n", 3},
			{"UnterminatedQuote", header + "\n" + strings.Repeat("0,", 29) + "\"5\n", 2},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				rr := do(t, server, http.MethodPost, "/score", "text/csv", []byte(tc.body))
				if rr.Code != http.StatusBadRequest {
					t.Fatalf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
				}
				body := decode[struct {
					Error string `json:"error"`
					Line  int    `json:"line"`
				}](t, rr)
				if body.Line != tc.line {
					t.Errorf("expected line %d, got %d (%s)", tc.line, body.Line, body.Error)
				}
			})
		}
	})

	t.Run("BodyTooLarge", func(t *testing.T) {
		big := bytes.Repeat([]byte("a"), 2<<20)
		rr := do(t, server, http.MethodPost, "/score", "text/csv", big)
		if rr.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("expected status 413, got %d", rr.Code)
		}
	})

	t.Run("MissingTenant", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/score", strings.NewReader("{}"))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidTenant", func(t *testing.T) {
		for _, tenant := range []string{"acme.*", "a b", strings.Repeat("x", 65)} {
			req := httptest.NewRequest(http.MethodPost, "/score", strings.NewReader("{}"))
			req.Header.Set(TenantIDHeader, tenant)
			rr := httptest.NewRecorder()
			server.Router().ServeHTTP(rr, req)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("tenant %q: expected status 400, got %d", tenant, rr.Code)
			}
		}
	})
}

func TestBatchEndpoints(t *testing.T) {
	server := createTestServer(t, true)

	rr := scoreJSON(t, server, map[string]any{
		"rows": []domain.RawRecord{row(0), row(400), row(200)},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("score failed: %d %s", rr.Code, rr.Body.String())
	}
	batchID := decode[ScoreResponse](t, rr).BatchID

	t.Run("Classify", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/batches/"+batchID+"/classify", "application/json", []byte(`{"threshold":0.9}`))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		resp := decode[ScoreResponse](t, rr)
		if resp.BatchID != batchID {
			t.Errorf("expected batch %s, got %s", batchID, resp.BatchID)
		}
		if resp.Summary.Flagged != 0 {
			t.Errorf("expected nothing flagged at 0.9, got %d", resp.Summary.Flagged)
		}
	})

	t.Run("ClassifyDefaults", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/batches/"+batchID+"/classify", "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if got := decode[ScoreResponse](t, rr).Summary.Flagged; got != 2 {
			t.Errorf("expected 2 flagged at the default threshold, got %d", got)
		}
	})

	t.Run("ClassifyInvalidThreshold", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/batches/"+batchID+"/classify", "application/json", []byte(`{"threshold":1.5}`))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("Explain", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/batches/"+batchID+"/explain/1?topN=3", "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		exp := decode[domain.Explanation](t, rr)
		if exp.Index != 1 || exp.Method != "linear-exact" {
			t.Errorf("unexpected explanation header %+v", exp)
		}
		if math.Abs(exp.Logit-2) > 1e-9 {
			t.Errorf("expected logit 2, got %v", exp.Logit)
		}
		if len(exp.Contributions) != 3 || exp.Contributions[0].Feature != domain.FeatureAmount {
			t.Errorf("expected Amount to lead 3 contributions, got %+v", exp.Contributions)
		}
		if exp.Contributions[0].Direction != domain.DirectionIncreases {
			t.Errorf("expected increases risk, got %s", exp.Contributions[0].Direction)
		}
	})

	t.Run("ExplainErrors", func(t *testing.T) {
		cases := []struct {
			path   string
			status int
		}{
			{"/batches/" + batchID + "/explain/7", http.StatusNotFound},
			{"/batches/" + batchID + "/explain/x", http.StatusBadRequest},
			{"/batches/" + batchID + "/explain/1?topN=-1", http.StatusBadRequest},
			{"/batches/unknown/explain/1", http.StatusNotFound},
		}
		for _, tc := range cases {
			rr := do(t, server, http.MethodGet, tc.path, "", nil)
			if rr.Code != tc.status {
				t.Errorf("%s: expected status %d, got %d", tc.path, tc.status, rr.Code)
			}
		}
	})

	t.Run("OtherTenantCannotSeeBatch", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/batches/"+batchID+"/explain/1", nil)
		req.Header.Set(TenantIDHeader, "tenant-002")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		rr := do(t, server, http.MethodDelete, "/batches/"+batchID, "", nil)
		if rr.Code != http.StatusNoContent {
			t.Fatalf("expected status 204, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = do(t, server, http.MethodPost, "/batches/"+batchID+"/classify", "", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404 after delete, got %d", rr.Code)
		}

		rr = do(t, server, http.MethodDelete, "/batches/"+batchID, "", nil)
		if rr.Code != http.StatusNoContent {
			t.Errorf("expected repeated delete to succeed, got %d", rr.Code)
		}
	})
}

func TestModelEndpoints(t *testing.T) {
	server := createTestServer(t, true)

	t.Run("LoadedModel", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/model", "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		summary := decode[model.Summary](t, rr)
		if summary.Version != "test-v1" || summary.Bias != -2 {
			t.Errorf("unexpected model summary %+v", summary)
		}
	})

	t.Run("Schema", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/schema", "", nil)
		body := decode[struct {
			Count int `json:"count"`
		}](t, rr)
		if body.Count != 30 {
			t.Errorf("expected 30 features, got %d", body.Count)
		}
	})

	t.Run("RegisterAndList", func(t *testing.T) {
		artifact, _ := json.Marshal(testArtifact("test-v2"))
		rr := do(t, server, http.MethodPost, "/models?activate=true", "application/json", artifact)
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = do(t, server, http.MethodGet, "/models", "", nil)
		body := decode[struct {
			Count  int                     `json:"count"`
			Loaded string                  `json:"loaded"`
			Models []*domain.ModelArtifact `json:"models"`
		}](t, rr)
		if body.Count != 1 || !body.Models[0].Active {
			t.Errorf("expected one active model, got %+v", body.Models)
		}
		if body.Loaded != "test-v1" {
			t.Errorf("running model must not change, got %s", body.Loaded)
		}
	})

	t.Run("RejectsInvalidArtifact", func(t *testing.T) {
		a := testArtifact("bad")
		a.Link = "probit"
		data, _ := json.Marshal(a)
		rr := do(t, server, http.MethodPost, "/models", "application/json", data)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestWithoutModel(t *testing.T) {
	server := createTestServer(t, false)

	rr := do(t, server, http.MethodGet, "/health", "", nil)
	if status := decode[map[string]string](t, rr)["status"]; status != "degraded" {
		t.Errorf("expected degraded health, got %s", status)
	}

	if rr := do(t, server, http.MethodGet, "/ready", "", nil); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected ready 503, got %d", rr.Code)
	}

	rr = scoreJSON(t, server, map[string]any{"rows": []domain.RawRecord{row(1)}})
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected score 503, got %d", rr.Code)
	}

	if rr := do(t, server, http.MethodGet, "/model", "", nil); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected model 503, got %d", rr.Code)
	}
}

func TestOperationalEndpoints(t *testing.T) {
	server := createTestServer(t, true)

	rr := do(t, server, http.MethodGet, "/health", "", nil)
	health := decode[map[string]string](t, rr)
	if health["status"] != "healthy" || health["modelVersion"] != "test-v1" {
		t.Errorf("unexpected health %v", health)
	}

	if rr := do(t, server, http.MethodGet, "/ready", "", nil); rr.Code != http.StatusOK {
		t.Errorf("expected ready 200, got %d", rr.Code)
	}

	rr = do(t, server, http.MethodGet, "/metrics", "", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "go_goroutines") {
		t.Errorf("expected prometheus exposition, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `harrier_http_requests_total{method="GET",route="/health",status="200"}`) {
		t.Error("expected request counter labelled by route pattern")
	}

	rr = do(t, server, http.MethodOptions, "/score", "", nil)
	if rr.Code != http.StatusNoContent {
		t.Errorf("expected preflight 204, got %d", rr.Code)
	}
	if rr.Header().Get(RequestIDHeader) != "" {
		t.Error("preflight is answered before tracing")
	}
}

type reviewsResponse struct {
	Reviews []review.Queued `json:"reviews"`
	Count   int             `json:"count"`
}

func TestReviewsEndpoint(t *testing.T) {
	server := createTestServer(t, true)

	rr := do(t, server, http.MethodGet, "/reviews", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := decode[reviewsResponse](t, rr).Count; got != 0 {
		t.Fatalf("expected empty queue, got %d", got)
	}

	rr = scoreJSON(t, server, map[string]any{
		"rows": []domain.RawRecord{row(0), row(400), row(200)},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("score failed: %d %s", rr.Code, rr.Body.String())
	}
	batchID := decode[ScoreResponse](t, rr).BatchID

	var queue reviewsResponse
	deadline := time.Now().Add(time.Second)
	for queue.Count == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
		queue = decode[reviewsResponse](t, do(t, server, http.MethodGet, "/reviews", "", nil))
	}
	if queue.Count != 1 {
		t.Fatalf("expected one queued review, got %d", queue.Count)
	}
	got := queue.Reviews[0]
	if got.BatchID != batchID || got.Flagged != 2 {
		t.Errorf("unexpected review %+v", got)
	}
	if len(got.Items) != 2 || got.Items[0].Index != 1 || got.Items[1].Index != 2 {
		t.Errorf("expected items 1 then 2, got %+v", got.Items)
	}

	t.Run("OtherTenant", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/reviews", nil)
		req.Header.Set(TenantIDHeader, "tenant-002")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		if got := decode[reviewsResponse](t, rr).Count; got != 0 {
			t.Errorf("expected no reviews for another tenant, got %d", got)
		}
	})

	t.Run("WithoutSink", func(t *testing.T) {
		cfg := domain.DefaultConfig()
		s := NewServer(cfg, pipeline.New(nil, 1), nil, nil, nil, nil, "test")
		if rr := do(t, s, http.MethodGet, "/reviews", "", nil); rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected 503, got %d", rr.Code)
		}
	})
}

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{&domain.MissingFeatureError{Missing: []string{"V5"}}, http.StatusUnprocessableEntity},
		{&domain.InvalidValueError{Index: 1, Feature: "V1"}, http.StatusUnprocessableEntity},
		{&domain.InvalidThresholdError{Threshold: 2}, http.StatusBadRequest},
		{&domain.InvalidLimitError{Name: "topK", Value: -1}, http.StatusBadRequest},
		{fmt.Errorf("read: %w", &domain.MalformedInputError{Line: 4, Err: csv.ErrFieldCount}), http.StatusBadRequest},
		{&http.MaxBytesError{Limit: 10}, http.StatusRequestEntityTooLarge},
		{&domain.InvalidFilterError{Expression: "x"}, http.StatusBadRequest},
		{domain.ErrEmptyBatch, http.StatusBadRequest},
		{&domain.UnknownRecordError{Index: 3}, http.StatusNotFound},
		{domain.ErrBatchNotFound, http.StatusNotFound},
		{fmt.Errorf("lookup: %w", repository.ErrNotFound), http.StatusNotFound},
		{domain.ErrModelNotLoaded, http.StatusServiceUnavailable},
		{&domain.DimensionMismatchError{Index: 0, Got: 2, Want: 30}, http.StatusInternalServerError},
		{domain.ErrNonFiniteLogit, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			status, body := errorStatus(tc.err)
			if status != tc.status {
				t.Errorf("expected %d, got %d", tc.status, status)
			}
			if body["error"] == "" {
				t.Error("expected error message in body")
			}
		})
	}
}
