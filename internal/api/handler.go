package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/features"
	"github.com/opensource-finance/harrier/internal/model"
	"github.com/opensource-finance/harrier/internal/pipeline"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/review"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	pipeline   *pipeline.Pipeline
	repo       domain.ModelRepository
	cache      domain.Cache
	dispatcher *review.Dispatcher
	sink       *review.Sink
	defaults   domain.RequestConfig
	batchTTL   time.Duration
	version    string
}

// NewHandler creates a new API handler.
func NewHandler(p *pipeline.Pipeline, repo domain.ModelRepository, cache domain.Cache, dispatcher *review.Dispatcher, sink *review.Sink, defaults domain.RequestConfig, batchTTL time.Duration, version string) *Handler {
	if batchTTL <= 0 {
		batchTTL = 30 * time.Minute
	}
	return &Handler{
		pipeline:   p,
		repo:       repo,
		cache:      cache,
		dispatcher: dispatcher,
		sink:       sink,
		defaults:   defaults,
		batchTTL:   batchTTL,
		version:    version,
	}
}

// ScoreRequest is the JSON body for POST /score and POST /batches/{id}/classify.
// Omitted values take the configured defaults; Rows is ignored by classify.
type ScoreRequest struct {
	Threshold *float64           `json:"threshold,omitempty"`
	TopK      *int               `json:"topK,omitempty"`
	TopN      *int               `json:"topN,omitempty"`
	Filter    string             `json:"filter,omitempty"`
	Rows      []domain.RawRecord `json:"rows"`
}

// config overlays the request values on base.
func (req ScoreRequest) config(base domain.RequestConfig) domain.RequestConfig {
	cfg := base
	if req.Threshold != nil {
		cfg.Threshold = *req.Threshold
	}
	if req.TopK != nil {
		cfg.TopK = *req.TopK
	}
	if req.TopN != nil {
		cfg.TopN = *req.TopN
	}
	cfg.Filter = req.Filter
	return cfg
}

// TransactionView is one annotated row in a response.
type TransactionView struct {
	Index            int          `json:"index"`
	FraudProbability float64      `json:"fraudProbability"`
	Prediction       domain.Label `json:"prediction"`
}

// RankedView is the top-K listing in a response.
type RankedView struct {
	TopK   int               `json:"topK"`
	Total  int               `json:"total"`
	Filter string            `json:"filter,omitempty"`
	Items  []TransactionView `json:"items"`
}

// ScoreResponse is the response for POST /score and POST /batches/{id}/classify.
type ScoreResponse struct {
	BatchID      string            `json:"batchId,omitempty"`
	ModelVersion string            `json:"modelVersion"`
	Threshold    float64           `json:"threshold"`
	Summary      domain.Summary    `json:"summary"`
	Ranked       RankedView        `json:"ranked"`
	Transactions []TransactionView `json:"transactions"`
	Metadata     struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// Score handles POST /score. The body is either JSON (ScoreRequest) or a
// text/csv table, in which case the parameters come from the query string.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if !h.pipeline.Ready() {
		writeError(w, domain.ErrModelNotLoaded)
		return
	}

	rows, cfg, err := h.decodeScoreRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.pipeline.Run(ctx, rows, cfg)
	if err != nil {
		writeError(w, err)
		return
	}

	batchID := h.storeBatch(ctx, tenantID, res.Records)

	if err := h.dispatcher.Dispatch(ctx, tenantID, batchID, res); err != nil {
		slog.Warn("review dispatch incomplete",
			"tenant_id", tenantID,
			"batch_id", batchID,
			"error", err,
		)
	}

	slog.Info("batch scored",
		"tenant_id", tenantID,
		"batch_id", batchID,
		"rows", res.Summary.Total,
		"flagged", res.Summary.Flagged,
		"threshold", res.Threshold,
	)

	writeJSON(w, http.StatusOK, h.scoreResponse(ctx, batchID, res, cfg, start))
}

// Classify handles POST /batches/{id}/classify: the cached batch is scored
// again and relabelled with the new threshold.
func (h *Handler) Classify(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	batchID := chi.URLParam(r, "id")

	var req ScoreRequest
	if err := decodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, err)
		return
	}
	cfg := req.config(h.defaults)

	snapshot, err := h.loadBatch(ctx, tenantID, batchID)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.pipeline.Rescore(ctx, snapshot.Records(), cfg)
	if err != nil {
		writeError(w, err)
		return
	}

	slog.Info("batch reclassified",
		"tenant_id", tenantID,
		"batch_id", batchID,
		"flagged", res.Summary.Flagged,
		"threshold", res.Threshold,
	)

	writeJSON(w, http.StatusOK, h.scoreResponse(ctx, batchID, res, cfg, start))
}

// Explain handles GET /batches/{id}/explain/{index}?topN=.
func (h *Handler) Explain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	batchID := chi.URLParam(r, "id")

	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "index must be an integer",
		})
		return
	}

	topN := h.defaults.TopN
	if v := r.URL.Query().Get("topN"); v != "" {
		if topN, err = strconv.Atoi(v); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "topN must be an integer",
			})
			return
		}
	}

	snapshot, err := h.loadBatch(ctx, tenantID, batchID)
	if err != nil {
		writeError(w, err)
		return
	}

	exp, err := h.pipeline.Explain(ctx, snapshot.Records(), index, topN)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, exp)
}

// DeleteBatch handles DELETE /batches/{id}, discarding a batch session
// before its TTL. Unknown batches are not an error.
func (h *Handler) DeleteBatch(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())
	batchID := chi.URLParam(r, "id")

	if h.cache != nil {
		if err := h.cache.DeleteBatch(r.Context(), tenantID, batchID); err != nil {
			writeError(w, err)
			return
		}
	}

	slog.Info("batch discarded", "tenant_id", tenantID, "batch_id", batchID)
	w.WriteHeader(http.StatusNoContent)
}

// Reviews handles GET /reviews, listing the tenant's queued review requests
// newest first.
func (h *Handler) Reviews(w http.ResponseWriter, r *http.Request) {
	if h.sink == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "review queue not available",
		})
		return
	}

	pending := h.sink.Pending(GetTenantID(r.Context()))
	writeJSON(w, http.StatusOK, map[string]any{
		"reviews": pending,
		"count":   len(pending),
	})
}

// Health returns server health status. A missing model, registry or cache
// degrades the service without taking it down.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	modelVersion := ""

	if params := h.pipeline.Params(); params != nil {
		modelVersion = params.Version()
	} else {
		status = "degraded"
	}

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":       status,
		"version":      h.version,
		"modelVersion": modelVersion,
	})
}

// Ready reports whether a model is loaded and requests can be scored.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.pipeline.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
}

// Schema returns the expected input columns in canonical order.
func (h *Handler) Schema(w http.ResponseWriter, r *http.Request) {
	schema := domain.CreditCardSchema()
	if params := h.pipeline.Params(); params != nil {
		schema = params.Schema()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    schema.Len(),
		"features": features.Describe(schema),
	})
}

// Model returns the loaded model.
func (h *Handler) Model(w http.ResponseWriter, r *http.Request) {
	params := h.pipeline.Params()
	if params == nil {
		writeError(w, domain.ErrModelNotLoaded)
		return
	}
	writeJSON(w, http.StatusOK, model.Summarize(params))
}

// ListModels returns every artifact in the registry.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "model registry not available",
		})
		return
	}

	models, err := h.repo.ListModels(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	loaded := ""
	if params := h.pipeline.Params(); params != nil {
		loaded = params.Version()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"models": models,
		"count":  len(models),
		"loaded": loaded,
	})
}

// RegisterModel handles POST /models. The body is a YAML or JSON artifact;
// ?activate=true also marks it active. The running process keeps the model
// it started with, so activation takes effect on the next start.
func (h *Handler) RegisterModel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "model registry not available",
		})
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, err)
		return
	}

	artifact, err := model.Parse(data)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if _, err := model.FromArtifact(artifact); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if err := h.repo.SaveModel(ctx, artifact); err != nil {
		writeError(w, err)
		return
	}

	activate, _ := strconv.ParseBool(r.URL.Query().Get("activate"))
	if activate {
		if err := h.repo.ActivateModel(ctx, artifact.Version); err != nil {
			writeError(w, err)
			return
		}
	}

	slog.Info("model registered",
		"version", artifact.Version,
		"activated", activate,
	)

	writeJSON(w, http.StatusCreated, map[string]any{
		"version":   artifact.Version,
		"activated": activate,
	})
}

func (h *Handler) decodeScoreRequest(r *http.Request) ([]domain.RawRecord, domain.RequestConfig, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "text/csv" {
		cfg, err := queryConfig(r.URL.Query(), h.defaults)
		if err != nil {
			return nil, cfg, err
		}
		// Parameters are checked before the body is read.
		if _, err := h.pipeline.CheckConfig(cfg); err != nil {
			return nil, cfg, err
		}
		rows, err := features.ReadCSV(r.Body)
		if err != nil {
			return nil, cfg, err
		}
		return rows, cfg, nil
	}

	var req ScoreRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, h.defaults, domain.ErrEmptyBatch
		}
		return nil, h.defaults, err
	}
	return req.Rows, req.config(h.defaults), nil
}

// storeBatch caches the validated records and returns the new batch id, or
// "" when no cache is available or the write failed.
func (h *Handler) storeBatch(ctx context.Context, tenantID string, records []domain.TransactionRecord) string {
	if h.cache == nil {
		return ""
	}

	params := h.pipeline.Params()
	snapshot := domain.NewBatchSnapshot(uuid.New().String(), tenantID, params.Version(), params.Schema(), records)
	if err := h.cache.SetBatch(ctx, tenantID, snapshot, h.batchTTL); err != nil {
		slog.Error("failed to cache batch",
			"tenant_id", tenantID,
			"batch_id", snapshot.ID,
			"error", err,
		)
		return ""
	}
	return snapshot.ID
}

func (h *Handler) loadBatch(ctx context.Context, tenantID, batchID string) (*domain.BatchSnapshot, error) {
	params := h.pipeline.Params()
	if params == nil {
		return nil, domain.ErrModelNotLoaded
	}
	if h.cache == nil {
		return nil, domain.ErrBatchNotFound
	}

	snapshot, err := h.cache.GetBatch(ctx, tenantID, batchID)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, domain.ErrBatchNotFound
	}
	if snapshot.ModelVersion != params.Version() {
		return nil, &batchModelError{batchID: batchID, batchVersion: snapshot.ModelVersion, loaded: params.Version()}
	}
	return snapshot, nil
}

func (h *Handler) scoreResponse(ctx context.Context, batchID string, res *pipeline.Result, cfg domain.RequestConfig, start time.Time) ScoreResponse {
	resp := ScoreResponse{
		BatchID:      batchID,
		ModelVersion: res.ModelVersion,
		Threshold:    res.Threshold,
		Summary:      res.Summary,
		Ranked: RankedView{
			TopK:   res.Ranked.TopK,
			Total:  res.Ranked.Total,
			Filter: cfg.Filter,
			Items:  views(res.Ranked.Items),
		},
		Transactions: views(res.Scored),
	}
	resp.Metadata.TraceID = GetTraceID(ctx)
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version
	return resp
}

func views(scored []domain.ScoredTransaction) []TransactionView {
	out := make([]TransactionView, len(scored))
	for i, st := range scored {
		out[i] = TransactionView{
			Index:            st.Index(),
			FraudProbability: st.FraudProbability,
			Prediction:       st.Label,
		}
	}
	return out
}

// queryConfig reads threshold, topK, topN and filter from the query string.
func queryConfig(q url.Values, base domain.RequestConfig) (domain.RequestConfig, error) {
	cfg := base
	if v := q.Get("threshold"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, &requestError{msg: "threshold must be a number"}
		}
		cfg.Threshold = t
	}
	for name, dst := range map[string]*int{"topK": &cfg.TopK, "topN": &cfg.TopN} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return cfg, &requestError{msg: name + " must be an integer"}
			}
			*dst = n
		}
	}
	cfg.Filter = q.Get("filter")
	return cfg, nil
}

// decodeJSON decodes numbers as json.Number so row values keep their text.
func decodeJSON(body io.Reader, v any) error {
	dec := json.NewDecoder(body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.Is(err, io.EOF) || errors.As(err, &maxErr) {
			return err
		}
		return &requestError{msg: "invalid JSON request body", err: err}
	}
	return nil
}

// requestError is a malformed request that never reached the pipeline.
type requestError struct {
	msg string
	err error
}

func (e *requestError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *requestError) Unwrap() error {
	return e.err
}

// batchModelError is returned when a cached batch was scored by another model.
type batchModelError struct {
	batchID      string
	batchVersion string
	loaded       string
}

func (e *batchModelError) Error() string {
	return fmt.Sprintf("batch %s was scored by model %s, loaded model is %s", e.batchID, e.batchVersion, e.loaded)
}

// errorStatus maps an error to its HTTP status and JSON body.
func errorStatus(err error) (int, map[string]any) {
	body := map[string]any{"error": err.Error()}

	var (
		missing      *domain.MissingFeatureError
		invalidValue *domain.InvalidValueError
		malformed    *domain.MalformedInputError
		threshold    *domain.InvalidThresholdError
		limit        *domain.InvalidLimitError
		filter       *domain.InvalidFilterError
		unknown      *domain.UnknownRecordError
		badRequest   *requestError
		batchModel   *batchModelError
		maxBytes     *http.MaxBytesError
	)

	switch {
	case errors.As(err, &missing):
		body["missing"] = missing.Missing
		return http.StatusUnprocessableEntity, body
	case errors.As(err, &invalidValue):
		body["index"] = invalidValue.Index
		body["feature"] = invalidValue.Feature
		return http.StatusUnprocessableEntity, body
	case errors.As(err, &malformed):
		body["line"] = malformed.Line
		return http.StatusBadRequest, body
	case errors.As(err, &threshold), errors.As(err, &limit), errors.As(err, &filter),
		errors.Is(err, domain.ErrEmptyBatch), errors.As(err, &badRequest),
		errors.Is(err, repository.ErrInvalidInput):
		return http.StatusBadRequest, body
	case errors.As(err, &maxBytes):
		body["error"] = fmt.Sprintf("request body exceeds %d bytes", maxBytes.Limit)
		return http.StatusRequestEntityTooLarge, body
	case errors.As(err, &unknown), errors.Is(err, domain.ErrBatchNotFound), errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, body
	case errors.As(err, &batchModel):
		return http.StatusConflict, body
	case errors.Is(err, domain.ErrModelNotLoaded):
		return http.StatusServiceUnavailable, body
	default:
		return http.StatusInternalServerError, body
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, body := errorStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
