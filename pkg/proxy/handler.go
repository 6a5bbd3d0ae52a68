package proxy

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ngoyal88/pricedash/pkg/ai"
	"github.com/ngoyal88/pricedash/pkg/config"
	"github.com/ngoyal88/pricedash/pkg/logger"
	"github.com/ngoyal88/pricedash/pkg/metrics"
	"github.com/ngoyal88/pricedash/pkg/middleware"
)

// MaxRequestBody caps the prompt request body.
const MaxRequestBody = 1 << 20

// Handler serves POST /api/gemini.
type Handler struct {
	cfg       *config.Store
	gateway   *Gateway
	collector *metrics.Collector
	tokens    *ai.TokenCounter
	logger    *zap.Logger
}

func NewHandler(cfg *config.Store, gw *Gateway, collector *metrics.Collector, logger *zap.Logger) *Handler {
	return &Handler{
		cfg:       cfg,
		gateway:   gw,
		collector: collector,
		logger:    logger.Named("proxy"),
	}
}

// WithTokenCounter enables prompt token estimates on recorded metrics.
func (h *Handler) WithTokenCounter(tc *ai.TokenCounter) *Handler {
	h.tokens = tc
	return h
}

type promptRequest struct {
	Prompt any `json:"prompt"`
}

type promptResponse struct {
	Text *string `json:"text"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Status     int    `json:"status,omitempty"`
	StatusText string `json:"statusText,omitempty"`
	Details    any    `json:"details,omitempty"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	log := h.requestLogger(r)

	prompt, status, msg := decodePrompt(w, r)
	if status != 0 {
		writeJSON(w, status, errorResponse{Error: msg})
		return
	}

	cfg := h.cfg.Get()
	apiKey := cfg.Upstream.APIKey
	if apiKey == "" {
		log.Error("upstream API key not configured")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "API key not configured on server"})
		return
	}

	rec := metrics.Record{
		ID:           requestID(r),
		Path:         r.URL.Path,
		PromptLength: utf8.RuneCountInString(prompt),
		PromptTokens: h.countTokens(prompt, log),
	}

	res, err := h.gateway.Generate(r.Context(), apiKey, prompt)
	if errors.Is(err, ErrUpstreamUnavailable) {
		log.Warn("upstream circuit open, rejecting request")
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "Upstream unavailable"})
		return
	}

	rec.UpstreamStatus = res.StatusCode
	rec.UpstreamDurationMs = metrics.DurationMs(res.Duration)
	defer func() {
		rec.TotalDurationMs = metrics.DurationMs(time.Since(start))
		rec.Timestamp = time.Now().UnixMilli()
		h.collector.Push(rec)
	}()

	if err != nil {
		log.Error("upstream request failed",
			zap.String("url", h.gateway.RedactedURL()),
			zap.Error(err),
		)
		h.internalError(w, cfg, err)
		return
	}

	if !res.OK() {
		body := []byte(Redact(string(res.Body), apiKey))
		log.Warn("upstream returned error",
			zap.String("url", h.gateway.RedactedURL()),
			zap.Int("status", res.StatusCode),
			zap.String("status_text", res.StatusText),
			zap.ByteString("details", body),
		)
		writeJSON(w, res.StatusCode, errorResponse{
			Error:      "Upstream error",
			Status:     res.StatusCode,
			StatusText: res.StatusText,
			Details:    Details(body),
		})
		return
	}

	text, err := ExtractText(res.Body)
	if err != nil {
		log.Error("failed to parse upstream response", zap.Error(err))
		h.internalError(w, cfg, err)
		return
	}
	writeJSON(w, http.StatusOK, promptResponse{Text: text})
}

// decodePrompt returns a non-zero status with a message when the body is
// unusable.
func decodePrompt(w http.ResponseWriter, r *http.Request) (string, int, string) {
	var req promptRequest
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBody)).Decode(&req)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", http.StatusRequestEntityTooLarge, "Request body too large"
		}
		return "", http.StatusBadRequest, "Missing or invalid prompt"
	}
	prompt, ok := req.Prompt.(string)
	if !ok || prompt == "" {
		return "", http.StatusBadRequest, "Missing or invalid prompt"
	}
	return prompt, 0, ""
}

func (h *Handler) internalError(w http.ResponseWriter, cfg *config.Config, err error) {
	resp := errorResponse{Error: "Internal server error"}
	if !cfg.IsProduction() {
		resp.Details = Redact(err.Error(), cfg.Upstream.APIKey)
	}
	writeJSON(w, http.StatusInternalServerError, resp)
}

func (h *Handler) countTokens(prompt string, log *zap.Logger) int {
	if h.tokens == nil {
		return 0
	}
	n, err := h.tokens.Count(prompt)
	if err != nil {
		log.Debug("token estimate unavailable", zap.Error(err))
		return 0
	}
	return n
}

func (h *Handler) requestLogger(r *http.Request) *zap.Logger {
	if l, ok := logger.Lookup(r.Context()); ok {
		return l.Named("proxy")
	}
	return h.logger
}

func requestID(r *http.Request) string {
	if id, ok := middleware.RequestIDFromContext(r.Context()); ok {
		return id
	}
	return uuid.NewString()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
