package rest

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/alexnthnz/notification-engine/internal/notification"
)

// CreateTemplate handles POST /templates
func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var in notification.TemplateInput
	if !h.decode(w, r, &in) {
		return
	}

	tpl, err := h.service.CreateTemplate(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tpl)
}

// ListTemplates handles GET /templates?active_only=true
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	activeOnly, err := parseBool(r.URL.Query(), "active_only")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	templates, err := h.service.ListTemplates(r.Context(), activeOnly != nil && *activeOnly)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": templates})
}

// GetTemplate handles GET /templates/{name}
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := h.service.GetTemplate(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

// DeactivateTemplate handles PUT /templates/{name}/deactivate
func (h *Handler) DeactivateTemplate(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeactivateTemplate(r.Context(), mux.Vars(r)["name"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSettings handles GET /settings
func (h *Handler) ListSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.service.ListSettings(r.Context(), h.userID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": settings})
}

// GetSetting handles GET /settings/{type}. Types without a stored setting
// report the all-enabled default.
func (h *Handler) GetSetting(w http.ResponseWriter, r *http.Request) {
	t := notification.Type(mux.Vars(r)["type"])
	if !t.Valid() {
		h.writeError(w, r, notification.ValidationError("get setting", "unknown notification type %q", t))
		return
	}

	st, err := h.service.EffectiveSetting(r.Context(), h.userID(r), t)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// UpdateSetting handles PUT /settings/{type}
func (h *Handler) UpdateSetting(w http.ResponseWriter, r *http.Request) {
	var in notification.SettingInput
	if !h.decode(w, r, &in) {
		return
	}
	in.UserID = h.userID(r)
	in.Type = notification.Type(mux.Vars(r)["type"])

	st, err := h.service.UpdateSetting(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
