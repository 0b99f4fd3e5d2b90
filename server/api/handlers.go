package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/GoCodeAlone/teamboard/access"
	"github.com/GoCodeAlone/teamboard/board"
	"github.com/GoCodeAlone/teamboard/task"
)

// Handlers bundles all REST API handler dependencies.
type Handlers struct {
	Tasks       task.Store
	Gate        access.Gate
	Broadcaster Broadcaster
	Tokens      TokenIssuer
	Admin       string // identity allowed to mint tokens
	Logger      *slog.Logger
	Version     string
	StartAt     int64 // unix timestamp of server start
}

// RegisterRoutes registers all protected API routes on the given mux.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/projects/{id}/tasks", h.project(h.listTasks))
	mux.HandleFunc("GET /api/projects/{id}/tasks/{task_id}", h.project(h.getTask))
	mux.HandleFunc("POST /api/projects/{id}/events", h.project(h.postEvent))

	mux.HandleFunc("POST /api/tokens", h.issueToken)

	mux.HandleFunc("GET /api/version", h.version)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handlers) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// project runs next only when the caller may access the {id} project.
// Unauthorized projects look the same as missing ones.
func (h *Handlers) project(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := access.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		allowed, err := access.Allowed(r.Context(), h.Gate, id, r.PathValue("id"))
		if err != nil {
			h.logger().Warn("access check failed", slog.Any("err", err))
		}
		if !allowed {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		next(w, r)
	}
}

// --- Task handlers ---

// taskList mirrors the sync.response payload.
type taskList struct {
	Tasks      []*task.Task `json:"tasks"`
	MaxVersion int64        `json:"max_version"`
}

func (h *Handlers) listTasks(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	var since int64
	if v := r.URL.Query().Get("since_version"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since_version must be an integer")
			return
		}
		since = n
	}

	maxVersion, err := h.Tasks.MaxVersion(r.Context(), projectID)
	if err != nil {
		h.logger().Error("max version", slog.String("project_id", projectID), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	tasks, err := h.Tasks.ListSince(r.Context(), projectID, since)
	if err != nil {
		h.logger().Error("list tasks", slog.String("project_id", projectID), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	for _, t := range tasks {
		maxVersion = max(maxVersion, t.Version)
	}
	writeJSON(w, http.StatusOK, taskList{Tasks: tasks, MaxVersion: maxVersion})
}

// taskDetail is a task with its parent's progress summary.
type taskDetail struct {
	Task      *task.Task      `json:"task"`
	Milestone *task.Milestone `json:"milestone,omitempty"`
	Blockers  []*task.Task    `json:"blockers"`
}

func (h *Handlers) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.Tasks.GetTask(r.Context(), r.PathValue("id"), r.PathValue("task_id"))
	if errors.Is(err, task.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		h.logger().Error("get task", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	idx := task.NewIndex(h.Tasks)
	detail := taskDetail{Task: t}
	if m, ok, err := idx.MilestoneContext(r.Context(), t); err != nil {
		h.logger().Warn("milestone context", slog.String("task_id", t.TaskID), slog.Any("err", err))
	} else if ok {
		detail.Milestone = m
	}
	if detail.Blockers, err = idx.Blockers(r.Context(), t); err != nil {
		h.logger().Warn("blockers", slog.String("task_id", t.TaskID), slog.Any("err", err))
		detail.Blockers = []*task.Task{}
	}
	writeJSON(w, http.StatusOK, detail)
}

// --- Event pass-through ---

type eventRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (h *Handlers) postEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}
	ev := board.Event{Type: board.EventType(req.Type)}
	if len(req.Payload) > 0 && string(req.Payload) != "null" {
		var fields map[string]any
		if err := json.Unmarshal(req.Payload, &fields); err != nil {
			writeError(w, http.StatusBadRequest, "payload must be a JSON object")
			return
		}
		ev.Payload = fields
	}
	if h.Broadcaster == nil {
		writeError(w, http.StatusServiceUnavailable, "broadcast not configured")
		return
	}
	if err := h.Broadcaster.Broadcast(r.Context(), r.PathValue("id"), ev); err != nil {
		h.logger().Error("broadcast event", slog.String("type", req.Type), slog.Any("err", err))
		writeError(w, http.StatusBadGateway, "broadcast failed")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// --- Tokens ---

type tokenRequest struct {
	Subject string      `json:"subject"`
	Kind    access.Kind `json:"kind,omitempty"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (h *Handlers) issueToken(w http.ResponseWriter, r *http.Request) {
	caller, _ := access.FromContext(r.Context())
	if h.Admin == "" || caller.ID != h.Admin || caller.Kind != access.KindUser {
		writeError(w, http.StatusForbidden, "admin only")
		return
	}
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Subject == "" {
		writeError(w, http.StatusBadRequest, "subject is required")
		return
	}
	switch req.Kind {
	case "":
		req.Kind = access.KindAgent
	case access.KindAgent, access.KindUser:
	default:
		writeError(w, http.StatusBadRequest, "kind must be user or agent")
		return
	}
	token, err := h.Tokens.IssueToken(access.Identity{ID: req.Subject, Kind: req.Kind})
	if err != nil {
		h.logger().Error("issue token", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	writeJSON(w, http.StatusCreated, tokenResponse{Token: token})
}

// --- Status / version ---

func (h *Handlers) status(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"version": h.Version,
	}
	if h.StartAt > 0 {
		resp["uptime_seconds"] = int64(time.Since(time.Unix(h.StartAt, 0)).Seconds())
	}
	writeJSON(w, http.StatusOK, resp)
}

// StatusHandler returns the status handler function for external registration.
func (h *Handlers) StatusHandler() http.HandlerFunc {
	return h.status
}

func (h *Handlers) version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": h.Version,
	})
}
