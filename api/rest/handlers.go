package rest

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/alexnthnz/notification-engine/internal/channels"
	"github.com/alexnthnz/notification-engine/internal/dispatch"
	"github.com/alexnthnz/notification-engine/internal/monitoring"
	"github.com/alexnthnz/notification-engine/internal/notification"
)

// Handler holds dependencies for REST API handlers
type Handler struct {
	engine     *dispatch.Engine
	service    *notification.Service
	hub        *channels.Hub
	metrics    *monitoring.Metrics
	logger     *zap.Logger
	userHeader string
}

// NewHandler creates a new REST API handler. The requesting user is read from
// userHeader; authenticating it is the job of whatever sits in front of the API.
func NewHandler(
	engine *dispatch.Engine,
	service *notification.Service,
	hub *channels.Hub,
	metrics *monitoring.Metrics,
	logger *zap.Logger,
	userHeader string,
) *Handler {
	if userHeader == "" {
		userHeader = "X-User-ID"
	}
	return &Handler{
		engine:     engine,
		service:    service,
		hub:        hub,
		metrics:    metrics,
		logger:     logger,
		userHeader: userHeader,
	}
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   "notification-engine",
	}
	writeJSON(w, http.StatusOK, health)
}

// Metrics handles GET /metrics (Prometheus metrics)
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	h.metrics.Handler().ServeHTTP(w, r)
}

// WebSocket handles GET /ws. Browsers cannot set headers on the upgrade
// request, so the user may also come from the user_id query parameter.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(h.userHeader)
	if userID == "" {
		userID = r.URL.Query().Get("user_id")
	}
	if userID == "" {
		h.writeErrorResponse(w, "Missing user identity", http.StatusUnauthorized)
		return
	}
	h.hub.ServeWS(w, r, userID)
}

// SetupRoutes sets up all REST API routes
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	// API routes
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(h.userMiddleware)

	api.HandleFunc("/notifications", h.CreateNotification).Methods("POST")
	api.HandleFunc("/notifications", h.ListNotifications).Methods("GET")
	api.HandleFunc("/notifications/stats/summary", h.GetStats).Methods("GET")
	api.HandleFunc("/notifications/read-all", h.MarkAllRead).Methods("PUT")
	api.HandleFunc("/notifications/send", h.SendNotifications).Methods("POST")
	api.HandleFunc("/notifications/{id}", h.GetNotification).Methods("GET")
	api.HandleFunc("/notifications/{id}", h.DeleteNotification).Methods("DELETE")
	api.HandleFunc("/notifications/{id}/read", h.MarkRead).Methods("PUT")
	api.HandleFunc("/notifications/{id}/archive", h.Archive).Methods("PUT")
	api.HandleFunc("/notifications/{id}/cancel", h.Cancel).Methods("POST")
	api.HandleFunc("/notifications/{id}/retry", h.Retry).Methods("POST")

	api.HandleFunc("/templates", h.CreateTemplate).Methods("POST")
	api.HandleFunc("/templates", h.ListTemplates).Methods("GET")
	api.HandleFunc("/templates/{name}", h.GetTemplate).Methods("GET")
	api.HandleFunc("/templates/{name}/deactivate", h.DeactivateTemplate).Methods("PUT")

	api.HandleFunc("/settings", h.ListSettings).Methods("GET")
	api.HandleFunc("/settings/{type}", h.GetSetting).Methods("GET")
	api.HandleFunc("/settings/{type}", h.UpdateSetting).Methods("PUT")

	// Websocket, health and metrics
	router.HandleFunc("/ws", h.WebSocket).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.HandleFunc("/metrics", h.Metrics).Methods("GET")

	// Add middleware
	router.Use(h.loggingMiddleware)
	router.Use(h.corsMiddleware)

	return router
}

// userMiddleware rejects API requests without a user identity
func (h *Handler) userMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(r.Header.Get(h.userHeader)) == "" {
			h.writeErrorResponse(w, fmt.Sprintf("Missing %s header", h.userHeader), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) userID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(h.userHeader))
}

// loggingMiddleware logs HTTP requests and records their latency
func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create a response recorder to capture status code
		recorder := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(recorder, r)

		duration := time.Since(start)
		if route := mux.CurrentRoute(r); route != nil && h.metrics != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				h.metrics.RecordProcessingDuration(r.Method+" "+tpl, duration)
			}
		}
		h.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", recorder.statusCode),
			zap.Duration("duration", duration),
			zap.String("remote_addr", r.RemoteAddr),
		)
	})
}

// corsMiddleware adds CORS headers
func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+h.userHeader)

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// responseRecorder wraps http.ResponseWriter to capture status code
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Hijack lets the websocket upgrade take over the connection
func (r *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// statusFor maps the error taxonomy to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, notification.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, notification.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, notification.ErrDispatchInProgress), errors.Is(err, notification.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs server-side failures and writes the mapped error response.
// Internal details are not exposed to clients.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	message := err.Error()
	if code == http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.String("path", r.URL.Path), zap.Error(err))
		message = "Internal server error"
	}
	h.writeErrorResponse(w, message, code)
}

// writeErrorResponse writes an error response
func (h *Handler) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Debug("Failed to decode request", zap.Error(err))
		h.writeErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}
