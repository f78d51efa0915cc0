package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/compliai/auditplanner/internal/domain"
	"github.com/compliai/auditplanner/internal/usecase"
	apperror "github.com/compliai/auditplanner/pkg/error"
	"github.com/compliai/auditplanner/pkg/logger"
)

const routePrefix = "/api/v1/audit-planner"

// AuditPlannerService defines the behavior the project handler depends on
type AuditPlannerService interface {
	Submit(ctx context.Context, req usecase.SubmitRequest) (*usecase.SubmitResponse, error)
	Get(ctx context.Context, projectID, ownerID string) (*domain.AuditProject, error)
	GetStatus(ctx context.Context, projectID, ownerID string) (*usecase.StatusResponse, error)
	Update(ctx context.Context, projectID, ownerID string, req usecase.UpdateRequest) (*domain.AuditProject, error)
	List(ctx context.Context, ownerID string) ([]usecase.ProjectSummary, error)
	ListFrameworks(ctx context.Context) []domain.FrameworkInfo
	SearchControls(ctx context.Context, framework, query string) ([]domain.ControlMatch, error)
	MapControl(ctx context.Context, framework, controlID, target string) (*usecase.ControlMappingResponse, error)
}

// ExportService renders a project's policy for download
type ExportService interface {
	Export(ctx context.Context, projectID, ownerID, format string, opts usecase.ExportOptions) (*usecase.ExportResult, error)
}

// ProjectHandler handles HTTP requests for audit projects
type ProjectHandler struct {
	planner  AuditPlannerService
	exporter ExportService
	logger   logger.Logger
}

// NewProjectHandler creates a new project handler
func NewProjectHandler(planner AuditPlannerService, exporter ExportService, log logger.Logger) *ProjectHandler {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &ProjectHandler{
		planner:  planner,
		exporter: exporter,
		logger:   log,
	}
}

// RegisterRoutes registers audit planner routes
func (h *ProjectHandler) RegisterRoutes(router *mux.Router) {
	api := router.PathPrefix(routePrefix).Subrouter()

	api.HandleFunc("/generate", h.Generate).Methods("POST")
	api.HandleFunc("/projects", h.ListProjects).Methods("GET")
	api.HandleFunc("/projects/{id}", h.GetProject).Methods("GET")
	api.HandleFunc("/projects/{id}", h.UpdateProject).Methods("PATCH")
	api.HandleFunc("/projects/{id}/status", h.GetStatus).Methods("GET")
	api.HandleFunc("/projects/{id}/export", h.Export).Methods("POST")
	api.HandleFunc("/frameworks", h.ListFrameworks).Methods("GET")
	api.HandleFunc("/frameworks/{framework}/controls", h.SearchControls).Methods("GET")
	api.HandleFunc("/frameworks/{framework}/controls/{controlID}/mappings", h.MapControl).Methods("GET")
}

// Generate starts policy generation for a new project
func (h *ProjectHandler) Generate(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.requireOwner(w, r)
	if !ok {
		return
	}

	var req usecase.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.NewBadRequest("Invalid request body"))
		return
	}
	req.OwnerID = ownerID

	response, err := h.planner.Submit(r.Context(), req)
	if err != nil {
		h.handleError(w, r, "submit", err)
		return
	}

	writeSuccess(w, http.StatusAccepted, response.Message, response)
}

// ListProjects lists the caller's projects, newest first
func (h *ProjectHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.requireOwner(w, r)
	if !ok {
		return
	}

	projects, err := h.planner.List(r.Context(), ownerID)
	if err != nil {
		h.handleError(w, r, "list", err)
		return
	}

	writeSuccess(w, http.StatusOK, "Projects retrieved successfully", projects)
}

// GetProject returns the full project record
func (h *ProjectHandler) GetProject(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.requireOwner(w, r)
	if !ok {
		return
	}

	project, err := h.planner.Get(r.Context(), mux.Vars(r)["id"], ownerID)
	if err != nil {
		h.handleError(w, r, "get", err)
		return
	}

	writeSuccess(w, http.StatusOK, "Project retrieved successfully", project)
}

// GetStatus returns the workflow status and progress of a project
func (h *ProjectHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.requireOwner(w, r)
	if !ok {
		return
	}

	status, err := h.planner.GetStatus(r.Context(), mux.Vars(r)["id"], ownerID)
	if err != nil {
		h.handleError(w, r, "get_status", err)
		return
	}

	writeSuccess(w, http.StatusOK, "Project status retrieved successfully", status)
}

// UpdateProject updates title, description or policy content
func (h *ProjectHandler) UpdateProject(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.requireOwner(w, r)
	if !ok {
		return
	}

	var req usecase.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.NewBadRequest("Invalid request body"))
		return
	}

	project, err := h.planner.Update(r.Context(), mux.Vars(r)["id"], ownerID, req)
	if err != nil {
		h.handleError(w, r, "update", err)
		return
	}

	writeSuccess(w, http.StatusOK, "Project updated successfully", project)
}

// exportRequest carries the export format and flags; absent flags default to true
type exportRequest struct {
	Format            string `json:"format"`
	IncludeCitations  *bool  `json:"include_citations"`
	IncludeAuditTrail *bool  `json:"include_audit_trail"`
}

// Export streams the rendered policy document
func (h *ProjectHandler) Export(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.requireOwner(w, r)
	if !ok {
		return
	}

	var req exportRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, apperror.NewBadRequest("Invalid request body"))
			return
		}
	}
	if req.Format == "" {
		req.Format = r.URL.Query().Get("format")
	}
	if req.Format == "" {
		req.Format = "pdf"
	}

	opts := usecase.DefaultExportOptions()
	if req.IncludeCitations != nil {
		opts.IncludeCitations = *req.IncludeCitations
	}
	if req.IncludeAuditTrail != nil {
		opts.IncludeAuditTrail = *req.IncludeAuditTrail
	}

	result, err := h.exporter.Export(r.Context(), mux.Vars(r)["id"], ownerID, req.Format, opts)
	if err != nil {
		h.handleError(w, r, "export", err)
		return
	}

	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Content)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result.Content); err != nil {
		h.logger.Warn(r.Context(), "Failed to write export response", map[string]interface{}{
			"project_id": mux.Vars(r)["id"],
			"error":      err.Error(),
		})
	}
}

// ListFrameworks lists the supported compliance frameworks
func (h *ProjectHandler) ListFrameworks(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, "Frameworks retrieved successfully", h.planner.ListFrameworks(r.Context()))
}

// SearchControls lists or searches a framework's controls (?q=)
func (h *ProjectHandler) SearchControls(w http.ResponseWriter, r *http.Request) {
	matches, err := h.planner.SearchControls(r.Context(), mux.Vars(r)["framework"], r.URL.Query().Get("q"))
	if err != nil {
		h.handleError(w, r, "search_controls", err)
		return
	}
	writeSuccess(w, http.StatusOK, "Controls retrieved successfully", matches)
}

// MapControl returns the equivalent controls in the framework named by ?to=
func (h *ProjectHandler) MapControl(w http.ResponseWriter, r *http.Request) {
	target := strings.TrimSpace(r.URL.Query().Get("to"))
	if target == "" {
		writeError(w, apperror.NewBadRequest("Query parameter 'to' is required"))
		return
	}

	vars := mux.Vars(r)
	mapping, err := h.planner.MapControl(r.Context(), vars["framework"], vars["controlID"], target)
	if err != nil {
		h.handleError(w, r, "map_control", err)
		return
	}
	writeSuccess(w, http.StatusOK, "Control mappings retrieved successfully", mapping)
}

func (h *ProjectHandler) requireOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	ownerID := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if ownerID == "" {
		writeError(w, apperror.NewUnauthorized("X-User-ID header is required"))
		return "", false
	}
	return ownerID, true
}

func (h *ProjectHandler) handleError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	appErr := apperror.MapError(err)
	if appErr.Status >= http.StatusInternalServerError {
		h.logger.Error(r.Context(), "Audit planner request failed", err, map[string]interface{}{
			"operation": operation,
			"path":      r.URL.Path,
		})
	}
	writeError(w, appErr)
}
