package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"proxyfinder/internal/shared/logger"
	manager "proxyfinder/proxypool"
	"proxyfinder/proxypool/model"
)

const maxStartBody = 64 << 10

// RunController is the part of the orchestrator the web front end drives.
type RunController interface {
	Start(targets []string) error
	RequestStop() error
	Status() manager.Status
	Results() []model.WorkingProxyRecord
}

// LogSource exposes the retained run log lines.
type LogSource interface {
	Snapshot() []string
}

// ResultLoader reads the persisted result set.
type ResultLoader interface {
	Load() ([]model.WorkingProxyRecord, error)
}

type startRequest struct {
	Targets []string `json:"targets"`
}

// Handler serves the run control and inspection endpoints.
type Handler struct {
	controller RunController
	logs       LogSource
	results    ResultLoader
	hub        *Hub
}

// NewHandler creates the HTTP handlers. hub may be nil.
func NewHandler(controller RunController, logs LogSource, results ResultLoader, hub *Hub) *Handler {
	return &Handler{
		controller: controller,
		logs:       logs,
		results:    results,
		hub:        hub,
	}
}

// HandleStart handles POST /start. The optional JSON body {"targets": [...]}
// replaces the configured targets for this run only; a malformed body is
// treated as empty.
func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req startRequest
	if body, err := io.ReadAll(io.LimitReader(r.Body, maxStartBody)); err == nil && len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			logger.Debug().Err(err).Msg("Ignoring malformed /start body.")
			req.Targets = nil
		}
	}

	if err := h.controller.Start(req.Targets); err != nil {
		if errors.Is(err, manager.ErrAlreadyRunning) {
			writeText(w, http.StatusConflict, "Scan already running")
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.notifyStatus()
	writeText(w, http.StatusAccepted, "Started")
}

// HandleStop handles POST /stop.
func (h *Handler) HandleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.controller.RequestStop(); err != nil {
		if errors.Is(err, manager.ErrNotRunning) {
			writeText(w, http.StatusConflict, "No scan running")
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.notifyStatus()
	writeText(w, http.StatusAccepted, "Stopping")
}

// HandleLogs returns the retained run log lines.
func (h *Handler) HandleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string][]string{"logs": h.logs.Snapshot()})
}

// HandleStatus returns the orchestrator status as JSON.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, h.controller.Status())
}

// HandleResults handles GET /results. When the last finished run was not
// saved its in-memory records are served. Otherwise the file wins, and memory
// is used when the file is missing, empty or unreadable.
func (h *Handler) HandleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var records []model.WorkingProxyRecord
	status := h.controller.Status()
	unsaved := status.LastFinished != nil && !status.Persisted
	if h.results != nil && !unsaved {
		loaded, err := h.results.Load()
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to load result file, serving in-memory results.")
		} else {
			records = loaded
		}
	}
	if len(records) == 0 {
		records = h.controller.Results()
	}
	if records == nil {
		records = []model.WorkingProxyRecord{}
	}
	writeJSON(w, map[string][]model.WorkingProxyRecord{"results": records})
}

func (h *Handler) notifyStatus() {
	if h.hub != nil {
		h.hub.BroadcastStatusUpdate(h.controller.Status())
	}
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error().Err(err).Msg("Failed to encode JSON response.")
	}
}
