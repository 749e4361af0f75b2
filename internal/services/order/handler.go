package order

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"table-orders/internal/logger"
	"table-orders/internal/metrics"
	"table-orders/internal/models"
)

const (
	maxBodyBytes      = 1 << 20
	idempotencyHeader = "X-Idempotency-Key"
	idempotencyScope  = "place_order"
)

// rememberedResponse is what the idempotency store keeps per key
type rememberedResponse struct {
	Fingerprint string          `json:"fingerprint"`
	Response    json.RawMessage `json:"response"`
}

// placeOrderScope keys idempotency per session so clients cannot replay each
// other's orders.
func placeOrderScope(sessionID string) string {
	return idempotencyScope + ":" + url.QueryEscape(strings.TrimSpace(sessionID))
}

func requestFingerprint(req *models.PlaceOrderRequest) (string, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// IdempotencyStore remembers place order responses by client key
type IdempotencyStore interface {
	TryLock(ctx context.Context, scope, key string) (bool, error)
	Release(ctx context.Context, scope, key string) error
	Remember(ctx context.Context, scope, key string, body []byte) error
	Recall(ctx context.Context, scope, key string) ([]byte, bool, error)
}

// HandlerOptions configures the HTTP surface
type HandlerOptions struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// Handler handles HTTP requests for the order service
type Handler struct {
	service     *Service
	idempotency IdempotencyStore
	logger      *logger.Logger
	opts        HandlerOptions
}

// NewHandler creates a new order handler. idem may be nil.
func NewHandler(service *Service, idem IdempotencyStore, log *logger.Logger, opts HandlerOptions) *Handler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	return &Handler{
		service:     service,
		idempotency: idem,
		logger:      log,
		opts:        opts,
	}
}

type placeOrderPayload struct {
	TableNumber *int              `json:"table_number"`
	SessionID   string            `json:"session_id"`
	Items       []json.RawMessage `json:"items"`
}

// PlaceOrder handles POST /place_order requests
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())

	var payload placeOrderPayload
	if !h.decodeJSON(w, r, &payload, requestID) {
		return
	}

	items, err := ExtractItems(payload.Items)
	if err != nil {
		h.writeServiceError(w, err, requestID)
		return
	}
	req := &models.PlaceOrderRequest{
		TableNumber: payload.TableNumber,
		SessionID:   payload.SessionID,
		Items:       items,
	}

	key := r.Header.Get(idempotencyHeader)
	scope := placeOrderScope(req.SessionID)
	fingerprint, err := requestFingerprint(req)
	if err != nil {
		h.logger.Error("request_fingerprint_failed", "Failed to fingerprint request", requestID, err, nil)
		h.writeErrorResponse(w, http.StatusInternalServerError, "internal server error", requestID, nil)
		return
	}

	locked := false
	if key != "" && h.idempotency != nil {
		stored, found, err := h.idempotency.Recall(r.Context(), scope, key)
		var remembered rememberedResponse
		if err == nil && found {
			if decErr := json.Unmarshal(stored, &remembered); decErr != nil {
				err = fmt.Errorf("decode remembered response: %w", decErr)
			}
		}
		switch {
		case err != nil:
			h.logger.Warn("idempotency_unavailable", "Proceeding without idempotency", requestID, err, nil)
		case found && remembered.Fingerprint != fingerprint:
			h.writeErrorResponse(w, http.StatusUnprocessableEntity, "idempotency key was already used with a different request", requestID, nil)
			return
		case found:
			h.logger.Info("order_replayed", "Returning remembered response", requestID, map[string]interface{}{
				"idempotency_key": key,
			})
			w.Header().Set("Idempotent-Replay", "true")
			h.writeRawJSON(w, http.StatusOK, remembered.Response, requestID)
			return
		default:
			ok, err := h.idempotency.TryLock(r.Context(), scope, key)
			if err != nil {
				h.logger.Warn("idempotency_unavailable", "Proceeding without idempotency", requestID, err, nil)
			} else if !ok {
				h.writeErrorResponse(w, http.StatusConflict, "a request with this idempotency key is already in progress", requestID, nil)
				return
			} else {
				locked = true
			}
		}
	}

	response, err := h.service.PlaceOrder(r.Context(), req, requestID)
	if err != nil {
		if locked {
			if relErr := h.idempotency.Release(context.WithoutCancel(r.Context()), scope, key); relErr != nil {
				h.logger.Warn("idempotency_release_failed", "Failed to release idempotency key", requestID, relErr, nil)
			}
		}
		h.writeServiceError(w, err, requestID)
		return
	}

	body, err := json.Marshal(response)
	if err != nil {
		h.logger.Error("response_encoding_failed", "Failed to encode response", requestID, err, nil)
		h.writeErrorResponse(w, http.StatusInternalServerError, "internal server error", requestID, nil)
		return
	}

	if locked {
		stored, err := json.Marshal(rememberedResponse{Fingerprint: fingerprint, Response: body})
		if err == nil {
			err = h.idempotency.Remember(context.WithoutCancel(r.Context()), scope, key, stored)
		}
		if err != nil {
			h.logger.Warn("idempotency_remember_failed", "Failed to remember response", requestID, err, nil)
		}
	}

	h.writeRawJSON(w, http.StatusOK, body, requestID)
}

// CancelOrder handles POST /cancel_order requests
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())

	var req models.CancelOrderRequest
	if !h.decodeJSON(w, r, &req, requestID) {
		return
	}

	response, err := h.service.Cancel(r.Context(), &req, requestID)
	if err != nil {
		h.writeServiceError(w, err, requestID)
		return
	}

	h.writeJSON(w, http.StatusOK, response, requestID)
}

// GetOrder handles GET /orders/{id} requests
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())

	orderID, ok := h.orderIDParam(w, r, requestID)
	if !ok {
		return
	}

	order, err := h.service.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeServiceError(w, err, requestID)
		return
	}
	if order.Items == nil {
		order.Items = []models.LineItem{}
	}

	h.writeJSON(w, http.StatusOK, order, requestID)
}

// GetOrderHistory handles GET /orders/{id}/history requests
func (h *Handler) GetOrderHistory(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())

	orderID, ok := h.orderIDParam(w, r, requestID)
	if !ok {
		return
	}

	history, err := h.service.OrderHistory(r.Context(), orderID)
	if err != nil {
		h.writeServiceError(w, err, requestID)
		return
	}

	h.writeJSON(w, http.StatusOK, history, requestID)
}

// HealthCheck handles GET /health requests
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	healthy := h.service.HealthCheck(ctx)

	response := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "order-service",
		"healthy":   healthy,
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
		response["status"] = "unhealthy"
	}

	h.writeJSON(w, status, response, "")
}

// Routes sets up the HTTP routes
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(h.withRequestID)
	r.Use(middleware.RealIP)
	r.Use(h.withLogging)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", idempotencyHeader, middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/health", h.HealthCheck)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(h.opts.RequestTimeout))

		r.Post("/place_order", h.PlaceOrder)
		r.Post("/cancel_order", h.CancelOrder)
		r.Get("/orders/{id}", h.GetOrder)
		r.Get("/orders/{id}/history", h.GetOrderHistory)
	})

	return otelhttp.NewHandler(r, "order-service")
}

func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}, requestID string) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		h.writeErrorResponse(w, http.StatusBadRequest, "Content-Type must be application/json", requestID, nil)
		return false
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		h.logger.Warn("validation_failed", "Failed to parse request body", requestID, err, nil)

		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.writeErrorResponse(w, http.StatusRequestEntityTooLarge, "request body too large", requestID, nil)
			return false
		}
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid JSON format", requestID, nil)
		return false
	}
	return true
}

func (h *Handler) orderIDParam(w http.ResponseWriter, r *http.Request, requestID string) (int64, bool) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || orderID <= 0 {
		h.writeErrorResponse(w, http.StatusBadRequest, "order id must be a positive integer", requestID, nil)
		return 0, false
	}
	return orderID, true
}

// writeServiceError maps workflow errors to status codes. Storage details are
// logged by the service and never sent to the client.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, requestID string) {
	var (
		validationErr ValidationError
		notFoundErr   NotFoundError
		stateErr      InvalidStateError
	)

	switch {
	case errors.As(err, &validationErr):
		h.writeErrorResponse(w, http.StatusBadRequest, err.Error(), requestID, map[string]interface{}{
			"field": validationErr.Field,
		})
	case errors.As(err, &notFoundErr):
		var extra map[string]interface{}
		if notFoundErr.Entity == "item" {
			extra = map[string]interface{}{"item": notFoundErr.Key}
		}
		h.writeErrorResponse(w, http.StatusNotFound, err.Error(), requestID, extra)
	case errors.As(err, &stateErr):
		h.writeErrorResponse(w, http.StatusBadRequest, err.Error(), requestID, map[string]interface{}{
			"order_id": stateErr.OrderID,
			"status":   stateErr.Status,
		})
	default:
		h.writeErrorResponse(w, http.StatusInternalServerError, "internal server error", requestID, nil)
	}
}

// writeErrorResponse writes an error response in JSON format
func (h *Handler) writeErrorResponse(w http.ResponseWriter, statusCode int, message, requestID string, extra map[string]interface{}) {
	errorResponse := map[string]interface{}{
		"error":      message,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"request_id": requestID,
	}
	for k, v := range extra {
		errorResponse[k] = v
	}

	h.writeJSON(w, statusCode, errorResponse, requestID)
}

func (h *Handler) writeJSON(w http.ResponseWriter, statusCode int, v interface{}, requestID string) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		h.logger.Error("response_encoding_failed", "Failed to encode response", requestID, err, nil)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	h.writeRawJSON(w, statusCode, buf.Bytes(), requestID)
}

func (h *Handler) writeRawJSON(w http.ResponseWriter, statusCode int, body []byte, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(body); err != nil {
		h.logger.Debug("response_write_failed", err.Error(), requestID, nil)
	}
}

// withRequestID reuses the caller's X-Request-Id or assigns a new one
func (h *Handler) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(middleware.RequestIDHeader)
		if requestID == "" {
			requestID = logger.GenerateRequestID()
		}
		w.Header().Set(middleware.RequestIDHeader, requestID)

		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withLogging adds request logging middleware
func (h *Handler) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		h.logger.Debug("request_started",
			fmt.Sprintf("%s %s", r.Method, r.URL.Path),
			requestID,
			map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"remote_addr": r.RemoteAddr,
				"user_agent":  r.Header.Get("User-Agent"),
			})

		// Create a response writer that captures status code
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		h.logger.Debug("request_completed",
			fmt.Sprintf("%s %s - %d", r.Method, r.URL.Path, rw.statusCode),
			requestID,
			map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status_code": rw.statusCode,
				"duration_ms": duration.Milliseconds(),
			})
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
