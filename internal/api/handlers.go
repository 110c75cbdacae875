// Package api exposes the policy author and query surface over HTTP:
// template and constraint submission, policy-set inspection, and the latest
// audit report. Registry contract errors are returned with their text in the
// body, never as opaque failures.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/shrikeio/shrike/internal/audit"
	"github.com/shrikeio/shrike/internal/manifest"
	"github.com/shrikeio/shrike/internal/store"
	"github.com/shrikeio/shrike/internal/types"
)

const maxBodySize = 1 << 20 // 1MB

// TemplatesResponse is the wire format for GET /api/v1/templates.
type TemplatesResponse struct {
	PolicyVersion uint64           `json:"policyVersion"`
	Templates     []types.Template `json:"templates"`
}

// ConstraintsResponse is the wire format for GET /api/v1/constraints.
type ConstraintsResponse struct {
	PolicyVersion uint64             `json:"policyVersion"`
	Constraints   []types.Constraint `json:"constraints"`
}

// Handler serves the engine's HTTP API.
type Handler struct {
	store   *store.Store
	scanner *audit.Scanner
	logger  *zap.Logger
}

// NewHandler creates a Handler. The scanner may be nil when auditing is
// disabled; the audit endpoint then serves an empty report.
func NewHandler(s *store.Store, scanner *audit.Scanner, logger *zap.Logger) *Handler {
	return &Handler{
		store:   s,
		scanner: scanner,
		logger:  logger.Named("api"),
	}
}

// Register attaches all routes to the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/templates", h.listTemplates)
	mux.HandleFunc("POST /api/v1/templates", h.createTemplate)
	mux.HandleFunc("DELETE /api/v1/templates/{name}", h.deleteTemplate)
	mux.HandleFunc("GET /api/v1/constraints", h.listConstraints)
	mux.HandleFunc("POST /api/v1/constraints", h.createConstraint)
	mux.HandleFunc("DELETE /api/v1/constraints/{name}", h.deleteConstraint)
	mux.HandleFunc("GET /api/v1/audit", h.auditReport)
}

func (h *Handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	snapshot := h.store.Snapshot()
	h.writeJSON(w, http.StatusOK, TemplatesResponse{
		PolicyVersion: snapshot.Version(),
		Templates:     snapshot.Templates(),
	})
}

func (h *Handler) createTemplate(w http.ResponseWriter, r *http.Request) {
	obj, ok := h.readDocument(w, r)
	if !ok {
		return
	}
	if !manifest.IsTemplate(obj) {
		http.Error(w, "document is not a ConstraintTemplate", http.StatusBadRequest)
		return
	}

	tpl, err := manifest.DecodeTemplate(obj)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.store.RegisterTemplate(tpl); err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, tpl)
}

func (h *Handler) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteTemplate(r.PathValue("name")); err != nil {
		h.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listConstraints(w http.ResponseWriter, r *http.Request) {
	snapshot := h.store.Snapshot()
	h.writeJSON(w, http.StatusOK, ConstraintsResponse{
		PolicyVersion: snapshot.Version(),
		Constraints:   snapshot.Constraints(),
	})
}

func (h *Handler) createConstraint(w http.ResponseWriter, r *http.Request) {
	obj, ok := h.readDocument(w, r)
	if !ok {
		return
	}
	if !manifest.IsConstraint(obj) {
		http.Error(w, "document is not a constraint", http.StatusBadRequest)
		return
	}

	c, err := manifest.DecodeConstraint(obj)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.store.RegisterConstraint(c); err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) deleteConstraint(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteConstraint(r.PathValue("name")); err != nil {
		h.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) auditReport(w http.ResponseWriter, r *http.Request) {
	if h.scanner == nil {
		h.writeJSON(w, http.StatusOK, &audit.Report{})
		return
	}
	h.writeJSON(w, http.StatusOK, h.scanner.Latest())
}

// readDocument reads one YAML or JSON document from the request body.
func (h *Handler) readDocument(w http.ResponseWriter, r *http.Request) (*unstructured.Unstructured, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return nil, false
	}
	defer r.Body.Close()

	decoded, err := manifest.DecodeObject(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	return decoded, true
}

// writeStoreError maps registry contract errors onto HTTP statuses.
func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateName), errors.Is(err, store.ErrInUse):
		status = http.StatusConflict
	case errors.Is(err, store.ErrUnknownTemplate), errors.Is(err, store.ErrInvalidParameters):
		status = http.StatusUnprocessableEntity
	default:
		status = http.StatusBadRequest
	}
	http.Error(w, err.Error(), status)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
