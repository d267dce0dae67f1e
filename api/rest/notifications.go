package rest

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/alexnthnz/notification-engine/internal/notification"
)

// CreateNotification handles POST /notifications. The notification targets the
// requesting user unless the body names another one.
func (h *Handler) CreateNotification(w http.ResponseWriter, r *http.Request) {
	var req notification.CreateRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		req.UserID = h.userID(r)
	}

	n, err := h.engine.CreateNotification(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

// ListNotifications handles GET /notifications
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r.URL.Query())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.service.ListNotifications(r.Context(), h.userID(r), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetStats handles GET /notifications/stats/summary
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetStats(r.Context(), h.userID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// MarkAllRead handles PUT /notifications/read-all
func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.MarkAllRead(r.Context(), h.userID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated_count": count})
}

// SendNotifications handles POST /notifications/send
func (h *Handler) SendNotifications(w http.ResponseWriter, r *http.Request) {
	var req notification.SendRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.engine.SendNow(r.Context(), req, h.userID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetNotification handles GET /notifications/{id}
func (h *Handler) GetNotification(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.GetNotification(r.Context(), mux.Vars(r)["id"], h.userID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// MarkRead handles PUT /notifications/{id}/read
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.MarkRead(r.Context(), mux.Vars(r)["id"], h.userID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// Archive handles PUT /notifications/{id}/archive
func (h *Handler) Archive(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Archive(r.Context(), mux.Vars(r)["id"], h.userID(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Cancel handles POST /notifications/{id}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.Cancel(r.Context(), mux.Vars(r)["id"], h.userID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// Retry handles POST /notifications/{id}/retry
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.Retry(r.Context(), mux.Vars(r)["id"], h.userID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// DeleteNotification handles DELETE /notifications/{id}?permanent=true
func (h *Handler) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	permanent, err := parseBool(r.URL.Query(), "permanent")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.service.Delete(r.Context(), mux.Vars(r)["id"], h.userID(r), permanent != nil && *permanent); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseListFilter(q url.Values) (notification.ListFilter, error) {
	f := notification.ListFilter{
		Type:         notification.Type(q.Get("type")),
		Priority:     notification.Priority(q.Get("priority")),
		Status:       notification.NotificationStatus(q.Get("status")),
		ResourceType: q.Get("resource_type"),
		Search:       q.Get("search"),
		SortBy:       q.Get("sort_by"),
		SortOrder:    q.Get("sort_order"),
	}

	var err error
	if f.IsRead, err = parseBool(q, "is_read"); err != nil {
		return f, err
	}
	if f.IsArchived, err = parseBool(q, "is_archived"); err != nil {
		return f, err
	}
	if f.Page, err = parseInt(q, "page"); err != nil {
		return f, err
	}
	if f.PageSize, err = parseInt(q, "page_size"); err != nil {
		return f, err
	}
	return f, nil
}

func parseBool(q url.Values, key string) (*bool, error) {
	raw := q.Get(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, notification.ValidationError("parse query", "%s must be a boolean", key)
	}
	return &v, nil
}

func parseInt(q url.Values, key string) (int, error) {
	raw := q.Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, notification.ValidationError("parse query", "%s must be an integer", key)
	}
	return v, nil
}
