// Package handler exposes ingestion cycles over HTTP: trigger a cycle for a
// registered feed and browse the cycle ledger.
package handler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/feed"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/ingest"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/logstore"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/runlog"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/schema"
	apperrors "github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/ratelimit"
)

// Runner is satisfied by *ingest.Runner.
type Runner interface {
	Run(ctx context.Context, desc feed.Descriptor, raw map[string]any, source string) (ingest.Result, error)
}

// Registry looks feeds up; *config.Config satisfies it.
type Registry interface {
	Feed(state, name string) (feed.Descriptor, bool)
}

// Config wires a Handler.
type Config struct {
	Runner    Runner
	Registry  Registry
	Raw       logstore.Backend
	RawBucket string
	Ledger    runlog.Ledger

	// Limiter throttles cycle requests per feed; nil disables throttling.
	Limiter *ratelimit.Limiter
}

type Handler struct {
	runner    Runner
	registry  Registry
	raw       logstore.Backend
	rawBucket string
	ledger    runlog.Ledger
	limiter   *ratelimit.Limiter
	flight    singleflight.Group
	logger    *slog.Logger
}

func New(cfg Config) *Handler {
	return &Handler{
		runner:    cfg.Runner,
		registry:  cfg.Registry,
		raw:       cfg.Raw,
		rawBucket: cfg.RawBucket,
		ledger:    cfg.Ledger,
		limiter:   cfg.Limiter,
		logger:    slog.Default().With("component", "cycle-handler"),
	}
}

// Register mounts the routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/cycles", h.RunCycle)
	mux.HandleFunc("GET /api/v1/cycles", h.ListCycles)
	mux.HandleFunc("GET /api/v1/cycles/{id}", h.GetCycle)
}

// RunCycle runs one cycle synchronously and returns its Result. Identical
// concurrent requests share one cycle.
func (h *Handler) RunCycle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req CycleRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxInlinePayload+4096)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validateCycleRequest(&req); err != nil {
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": validationErr.Fields,
			})
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	desc, ok := h.registry.Feed(req.State, req.FeedName)
	if !ok {
		h.writeError(w, http.StatusNotFound, fmt.Sprintf("feed %s/%s is not registered", req.State, req.FeedName))
		return
	}
	if h.limiter != nil && !h.limiter.Allow(desc.ID()) {
		wait := h.limiter.RetryAfter(desc.ID())
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		h.writeError(w, http.StatusTooManyRequests, fmt.Sprintf("too many cycle requests for %s", desc.ID()))
		return
	}

	source := "inline"
	flightKey := desc.ID() + "|inline:" + payloadDigest(req.Payload)
	if req.Key != "" {
		if req.Bucket == "" {
			req.Bucket = h.rawBucket
		}
		source = req.Bucket + "/" + req.Key
		flightKey = desc.ID() + "|" + source
	}

	// The flight outlives any one caller, so neither stage may inherit a
	// request's cancellation.
	v, err, shared := h.flight.Do(flightKey, func() (any, error) {
		fctx := context.WithoutCancel(ctx)
		raw, err := h.load(fctx, desc, req)
		if err != nil {
			return ingest.Result{}, err
		}
		return h.runner.Run(fctx, desc, raw, source)
	})
	res, _ := v.(ingest.Result)
	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		log.Error("cycle request failed", "feed", desc.ID(), "source", source, "error", err, "status_code", status)
		body := map[string]any{"error": err.Error()}
		if res.CycleID != "" {
			body["cycle"] = res
		}
		h.writeJSON(w, status, body)
		return
	}
	log.Info("cycle request served", "feed", desc.ID(), "cycle_id", res.CycleID, "shared", shared)
	h.writeJSON(w, http.StatusOK, res)
}

// payloadDigest identifies an inline payload so that only identical bodies
// share a run.
func payloadDigest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func (h *Handler) load(ctx context.Context, desc feed.Descriptor, req CycleRequest) (map[string]any, error) {
	if req.Key != "" {
		return ingest.LoadRaw(ctx, h.raw.Bucket(req.Bucket), req.Key, desc.Format)
	}
	data := []byte(req.Payload)
	if desc.Format == feed.FormatXML {
		var doc string
		if err := json.Unmarshal(req.Payload, &doc); err != nil {
			return nil, fmt.Errorf("%w: xml payloads must be posted as a JSON string", apperrors.ErrInvalidInput)
		}
		data = []byte(doc)
	}
	return schema.Decode(data, desc.Format)
}

// ListCycles returns recent cycles, newest first. Query parameters: feed,
// limit.
func (h *Handler) ListCycles(w http.ResponseWriter, r *http.Request) {
	limit := runlog.DefaultLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 1000 {
			h.writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	results, err := h.ledger.Recent(r.Context(), r.URL.Query().Get("feed"), limit)
	if err != nil {
		h.logger.Error("listing cycles failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "listing cycles failed")
		return
	}
	if results == nil {
		results = []ingest.Result{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"cycles": results})
}

func (h *Handler) GetCycle(w http.ResponseWriter, r *http.Request) {
	res, err := h.ledger.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("loading cycle failed", "error", err)
		}
		h.writeError(w, status, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
