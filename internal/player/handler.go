package player

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// Handler exposes the player control API using go-chi.
type Handler struct {
	svc      *Service
	log      *slog.Logger
	validate *validator.Validate
}

// NewHandler returns a Handler for svc.
func NewHandler(svc *Service, log *slog.Logger) *Handler {
	return &Handler{svc: svc, log: log, validate: validator.New()}
}

// Routes mounts the control endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/state", h.GetState)
	r.Route("/playback", func(r chi.Router) {
		r.Post("/toggle", h.TogglePlay)
		r.Post("/prev", h.Prev)
		r.Post("/next", h.Next)
		r.Put("/position", h.SetPosition)
	})
	r.Put("/filters", h.SetFilters)
	r.Put("/layers/{layer}", h.SetLayer)
}

type positionRequest struct {
	Position *int `json:"position" validate:"required,min=0"`
}

type filtersRequest struct {
	VehicleClass string `json:"veh_class" validate:"required,oneof=all HW_truck LMV_passengers MHV_deliver PWA_moped"`
	Metric       string `json:"metric" validate:"required,oneof=count speed relative"`
}

type layerRequest struct {
	Visible *bool `json:"visible" validate:"required"`
}

type playbackResponse struct {
	State    string `json:"state"`
	Position int    `json:"position"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// GetState handles GET /state.
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.svc.Status())
}

// TogglePlay handles POST /playback/toggle.
func (h *Handler) TogglePlay(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.TogglePlay()
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.log.Info("playback toggled", slog.String("state", st.String()))
	h.writePlayback(w)
}

// Prev handles POST /playback/prev.
func (h *Handler) Prev(w http.ResponseWriter, r *http.Request) {
	if _, err := h.svc.Prev(); err != nil {
		h.writeError(w, err)
		return
	}
	h.writePlayback(w)
}

// Next handles POST /playback/next.
func (h *Handler) Next(w http.ResponseWriter, r *http.Request) {
	if _, err := h.svc.Next(); err != nil {
		h.writeError(w, err)
		return
	}
	h.writePlayback(w)
}

// SetPosition handles PUT /playback/position.
// Body: { "position": 500 }.
func (h *Handler) SetPosition(w http.ResponseWriter, r *http.Request) {
	var req positionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if _, err := h.svc.Scrub(*req.Position); err != nil {
		h.writeError(w, err)
		return
	}
	h.writePlayback(w)
}

// SetFilters handles PUT /filters.
// Body: { "veh_class": "all", "metric": "relative" }.
func (h *Handler) SetFilters(w http.ResponseWriter, r *http.Request) {
	var req filtersRequest
	if !h.decode(w, r, &req) {
		return
	}
	f := Filters{VehicleClass: VehicleClass(req.VehicleClass), Metric: Metric(req.Metric)}
	h.svc.SetFilters(f)
	h.writeJSON(w, http.StatusOK, f)
}

// SetLayer handles PUT /layers/{layer}.
// Body: { "visible": false }.
func (h *Handler) SetLayer(w http.ResponseWriter, r *http.Request) {
	layer, err := ParseLayer(chi.URLParam(r, "layer"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req layerRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.SetLayerVisible(layer, *req.Visible); err != nil {
		h.writeError(w, err)
		return
	}
	h.log.Debug("layer visibility changed", slog.String("layer", string(layer)), slog.Bool("visible", *req.Visible))
	h.writeJSON(w, http.StatusOK, h.svc.Status().Render.Layers[layer].Visible)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.log.Debug("invalid request body", slog.String("error", err.Error()))
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.log.Debug("request validation failed", slog.String("error", err.Error()))
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return false
	}
	return true
}

func (h *Handler) writePlayback(w http.ResponseWriter) {
	snap := h.svc.Status().Timeline
	h.writeJSON(w, http.StatusOK, playbackResponse{State: snap.StateName, Position: snap.Position})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrTimelineDisabled):
		status = http.StatusConflict
	case errors.Is(err, ErrUnknownLayer):
		status = http.StatusNotFound
	default:
		h.log.Error("control request failed", slog.String("error", err.Error()))
	}
	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Debug("write response failed", slog.String("error", err.Error()))
	}
}
