// Package httpserver exposes the platform API over chi. Every group except
// /health and /auth/login sits behind the session middleware.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/CloudIDP/platform/internal/auth"
	"github.com/CloudIDP/platform/internal/cache"
	"github.com/CloudIDP/platform/internal/inventory"
	"github.com/CloudIDP/platform/internal/jobs"
	"github.com/CloudIDP/platform/internal/models"
	"github.com/CloudIDP/platform/internal/queue"
	"github.com/CloudIDP/platform/internal/service"
	"github.com/CloudIDP/platform/internal/terraform"
)

type Server struct {
	service *service.Service
	auth    *auth.Manager
}

func New(svc *service.Service, authMgr *auth.Manager) *Server {
	return &Server{service: svc, auth: authMgr}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Post("/auth/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)

		r.Post("/auth/logout", s.handleLogout)
		r.Delete("/auth/sessions", s.handleDeleteSessions)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.handleSubmitJob)
			r.Get("/", s.handleListJobs)
			r.Get("/{id}", s.handleJobStatus)
			r.Post("/{id}/cancel", s.handleCancelJob)
		})

		r.Route("/queues", func(r chi.Router) {
			r.Get("/", s.handleQueueStats)
			r.Post("/{name}/messages", s.handleSendMessage)
		})

		r.Route("/terraform", func(r chi.Router) {
			r.Post("/plan", s.handleTerraformPlan)
			r.Post("/apply", s.handleTerraformApply)
			r.Post("/destroy", s.handleTerraformDestroy)
			r.Get("/state/{workspace}", s.handleWorkspaceState)
			r.Post("/state/{workspace}/lock", s.handleLockWorkspace)
			r.Post("/state/{workspace}/unlock", s.handleUnlockWorkspace)
		})

		r.Route("/resources", func(r chi.Router) {
			r.Post("/", s.handleCreateResource)
			r.Get("/", s.handleSearchResources)
			r.Get("/{uuid}", s.handleGetResource)
			r.Get("/{uuid}/history", s.handleResourceHistory)
			r.Post("/{uuid}/state", s.handleUpdateResourceState)
		})

		r.Route("/audit", func(r chi.Router) {
			r.Post("/events", s.handleLogEvent)
			r.Get("/events", s.handleQueryAuditLogs)
		})

		r.Route("/violations", func(r chi.Router) {
			r.Post("/", s.handleRecordViolation)
			r.Get("/", s.handleListViolations)
			r.Post("/{uuid}/resolve", s.handleResolveViolation)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	report := s.service.Health(ctx)
	status := http.StatusOK
	if report.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, report)
}

type loginRequest struct {
	UserID string                 `json:"userId"`
	Data   map[string]interface{} `json:"data"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, "userId required")
		return
	}
	token, session, err := s.auth.Login(r.Context(), req.UserID, req.Data)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"token":   token,
		"session": session,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	session, _ := auth.SessionFromContext(r.Context())
	deleted, err := s.auth.Sessions().Delete(r.Context(), session.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"deleted": deleted})
}

func (s *Server) handleDeleteSessions(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserFromContext(r.Context())
	count, err := s.auth.Sessions().DeleteUserSessions(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"deleted": count})
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req service.SubmitJobRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.CreatedBy == "" {
		req.CreatedBy = auth.UserFromContext(r.Context())
	}
	result, err := s.service.SubmitJob(r.Context(), req)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobType := models.JobType(r.URL.Query().Get("type"))
	if jobType != "" && !jobType.Valid() {
		respondError(w, http.StatusBadRequest, "unknown job type")
		return
	}
	list, err := s.service.ListActiveJobs(r.Context(), jobType)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"jobs": list})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	job, err := s.service.JobStatus(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	result, err := s.service.CancelJob(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if result.Status == "error" {
		respondJSON(w, http.StatusConflict, result)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.QueueStats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"queues": stats})
}

type sendMessageRequest struct {
	Body         json.RawMessage `json:"body"`
	GroupID      string          `json:"messageGroupId"`
	DedupID      string          `json:"deduplicationId"`
	DelaySeconds int             `json:"delaySeconds"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.service.SendMessage(r.Context(), chi.URLParam(r, "name"), queue.SendInput{
		Body:    req.Body,
		GroupID: req.GroupID,
		DedupID: req.DedupID,
		Delay:   time.Duration(req.DelaySeconds) * time.Second,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleTerraformPlan(w http.ResponseWriter, r *http.Request) {
	var cfg terraform.PlanConfig
	if err := decodeJSON(w, r, &cfg); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	job, err := s.service.RunTerraformPlan(r.Context(), cfg, auth.UserFromContext(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (s *Server) handleTerraformApply(w http.ResponseWriter, r *http.Request) {
	var req service.ApplyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	job, err := s.service.RunTerraformApply(r.Context(), req, auth.UserFromContext(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

type destroyRequest struct {
	Workspace string `json:"workspace"`
}

func (s *Server) handleTerraformDestroy(w http.ResponseWriter, r *http.Request) {
	var req destroyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	job, err := s.service.RunTerraformDestroy(r.Context(), req.Workspace, auth.UserFromContext(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (s *Server) handleWorkspaceState(w http.ResponseWriter, r *http.Request) {
	workspace := chi.URLParam(r, "workspace")
	if r.URL.Query().Get("history") == "true" {
		limit := queryInt(r, "limit", 0)
		versions, err := s.service.WorkspaceHistory(r.Context(), workspace, limit)
		if err != nil {
			respondServiceError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{"versions": versions})
		return
	}
	state, err := s.service.WorkspaceState(r.Context(), workspace)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

func (s *Server) handleLockWorkspace(w http.ResponseWriter, r *http.Request) {
	workspace := chi.URLParam(r, "workspace")
	lockID, err := s.service.LockWorkspace(r.Context(), workspace, auth.UserFromContext(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"lockId": lockID})
}

type unlockRequest struct {
	LockID string `json:"lockId"`
}

func (s *Server) handleUnlockWorkspace(w http.ResponseWriter, r *http.Request) {
	var req unlockRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.service.UnlockWorkspace(r.Context(), chi.URLParam(r, "workspace"), req.LockID); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "unlocked"})
}

type createResourceRequest struct {
	Type       string            `json:"resourceType"`
	ResourceID string            `json:"resourceId"`
	AccountID  string            `json:"accountId"`
	Region     string            `json:"region"`
	State      string            `json:"state"`
	Tags       map[string]string `json:"tags"`
	Metadata   json.RawMessage   `json:"metadata"`
}

func (s *Server) handleCreateResource(w http.ResponseWriter, r *http.Request) {
	var req createResourceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Type == "" || req.ResourceID == "" {
		respondError(w, http.StatusBadRequest, "resourceType and resourceId required")
		return
	}
	state := models.ResourceState(req.State)
	if req.State != "" && !state.Valid() {
		respondError(w, http.StatusBadRequest, "unknown resource state")
		return
	}
	res, err := s.service.CreateResource(r.Context(), inventory.ResourceInput{
		Type:       req.Type,
		ResourceID: req.ResourceID,
		AccountID:  req.AccountID,
		Region:     req.Region,
		State:      state,
		Tags:       req.Tags,
		Metadata:   req.Metadata,
		CreatedBy:  auth.UserFromContext(r.Context()),
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handleSearchResources(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	state := models.ResourceState(q.Get("state"))
	if q.Get("state") != "" && !state.Valid() {
		respondError(w, http.StatusBadRequest, "unknown resource state")
		return
	}
	filter := inventory.ResourceFilter{
		Type:      q.Get("type"),
		AccountID: q.Get("accountId"),
		Region:    q.Get("region"),
		State:     state,
		Limit:     queryInt(r, "limit", 0),
		Offset:    queryInt(r, "offset", 0),
	}
	resources, err := s.service.SearchResources(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"resources": resources})
}

func (s *Server) handleGetResource(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "uuid"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid resource uuid")
		return
	}
	res, err := s.service.GetResource(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleResourceHistory(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "uuid"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid resource uuid")
		return
	}
	history, err := s.service.ResourceHistory(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"history": history})
}

type updateStateRequest struct {
	State    string          `json:"state"`
	Metadata json.RawMessage `json:"metadata"`
}

func (s *Server) handleUpdateResourceState(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "uuid"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid resource uuid")
		return
	}
	var req updateStateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	state := models.ResourceState(req.State)
	if !state.Valid() {
		respondError(w, http.StatusBadRequest, "unknown resource state")
		return
	}
	res, err := s.service.UpdateResourceState(r.Context(), id, state, req.Metadata, auth.UserFromContext(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

type logEventRequest struct {
	Type         string          `json:"eventType"`
	ResourceUUID *uuid.UUID      `json:"resourceUuid"`
	AccountID    string          `json:"accountId"`
	Action       string          `json:"action"`
	Result       string          `json:"result"`
	Metadata     json.RawMessage `json:"metadata"`
}

func (s *Server) handleLogEvent(w http.ResponseWriter, r *http.Request) {
	var req logEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	eventType := models.EventType(req.Type)
	if !eventType.Valid() {
		respondError(w, http.StatusBadRequest, "unknown event type")
		return
	}
	if req.Action == "" {
		respondError(w, http.StatusBadRequest, "action required")
		return
	}
	ev, err := s.service.LogEvent(r.Context(), inventory.EventInput{
		Type:         eventType,
		UserID:       auth.UserFromContext(r.Context()),
		ResourceUUID: req.ResourceUUID,
		AccountID:    req.AccountID,
		Action:       req.Action,
		Result:       req.Result,
		Metadata:     req.Metadata,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, ev)
}

func (s *Server) handleQueryAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	eventType := models.EventType(q.Get("eventType"))
	if q.Get("eventType") != "" && !eventType.Valid() {
		respondError(w, http.StatusBadRequest, "unknown event type")
		return
	}
	filter := inventory.EventFilter{
		Type:      eventType,
		UserID:    q.Get("userId"),
		AccountID: q.Get("accountId"),
		Action:    q.Get("action"),
		Limit:     queryInt(r, "limit", 0),
		Offset:    queryInt(r, "offset", 0),
	}
	if raw := q.Get("resourceUuid"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid resource uuid")
			return
		}
		filter.ResourceUUID = &id
	}
	if raw := q.Get("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid start time")
			return
		}
		filter.Start = &t
	}
	if raw := q.Get("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid end time")
			return
		}
		filter.End = &t
	}
	events, err := s.service.QueryAuditLogs(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

type recordViolationRequest struct {
	PolicyID     string     `json:"policyId"`
	ResourceUUID *uuid.UUID `json:"resourceUuid"`
	Severity     string     `json:"severity"`
	Description  string     `json:"description"`
	Remediation  string     `json:"remediation"`
}

func (s *Server) handleRecordViolation(w http.ResponseWriter, r *http.Request) {
	var req recordViolationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.PolicyID == "" {
		respondError(w, http.StatusBadRequest, "policyId required")
		return
	}
	v, err := s.service.RecordViolation(r.Context(), inventory.ViolationInput{
		PolicyID:     req.PolicyID,
		ResourceUUID: req.ResourceUUID,
		Severity:     req.Severity,
		Description:  req.Description,
		Remediation:  req.Remediation,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, v)
}

type resolveViolationRequest struct {
	Notes string `json:"notes"`
}

func (s *Server) handleResolveViolation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "uuid"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid violation uuid")
		return
	}
	var req resolveViolationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, err := s.service.ResolveViolation(r.Context(), id, auth.UserFromContext(r.Context()), req.Notes)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}

func (s *Server) handleListViolations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := inventory.ViolationFilter{
		PolicyID: q.Get("policyId"),
		Severity: q.Get("severity"),
		Limit:    queryInt(r, "limit", 0),
		Offset:   queryInt(r, "offset", 0),
	}
	violations, err := s.service.ListOpenViolations(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"violations": violations})
}

// respondServiceError maps the facade sentinels onto HTTP statuses.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrNotFound),
		errors.Is(err, inventory.ErrNotFound),
		errors.Is(err, cache.ErrNotFound),
		errors.Is(err, queue.ErrUnknownQueue),
		errors.Is(err, terraform.ErrStateNotFound),
		errors.Is(err, terraform.ErrPlanNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, jobs.ErrTerminalState),
		errors.Is(err, jobs.ErrInvalidTransition),
		errors.Is(err, inventory.ErrAlreadyResolved),
		errors.Is(err, terraform.ErrWorkspaceLocked),
		errors.Is(err, terraform.ErrNotLockHolder):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, queue.ErrGroupIDRequired):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"status": "error", "message": msg})
}
