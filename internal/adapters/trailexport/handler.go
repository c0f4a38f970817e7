package trailexport

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"hemoledger/pkg/domain"

	"github.com/xeipuuv/gojsonschema"
)

// Export submissions above this size are rejected before schema validation.
const maxExportBodyBytes = 1 << 20

// exportRequestSchema constrains POST /api/v1/exports payloads.
//
//go:embed export_request.schema.json
var exportRequestSchema string

// Handler provides HTTP access to custody trail exports.
type Handler struct {
	Exports   ExportScheduler
	Artifacts ArtifactOpener
	Auth      *TokenVerifier

	schema gojsonschema.JSONLoader
}

// NewHandler constructs the export HTTP handler. A nil verifier disables
// authentication; only tests rely on that.
func NewHandler(exports ExportScheduler, artifacts ArtifactOpener, auth *TokenVerifier) *Handler {
	return &Handler{
		Exports:   exports,
		Artifacts: artifacts,
		Auth:      auth,
		schema:    gojsonschema.NewStringLoader(exportRequestSchema),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Exports == nil {
		writeError(w, http.StatusInternalServerError, "export scheduler not configured")
		return
	}

	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == "/healthz":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	case path == "/api/v1/exports":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if !h.authorize(w, r) {
			return
		}
		h.handleExportCreate(w, r)
	case strings.HasPrefix(path, "/api/v1/exports/"):
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if !h.authorize(w, r) {
			return
		}
		h.handleExportGet(w, r, strings.TrimPrefix(path, "/api/v1/exports/"))
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) bool {
	if h.Auth == nil {
		return true
	}
	if _, err := h.Auth.Authorize(r); err != nil {
		if errors.Is(err, ErrRoleDenied) {
			writeError(w, http.StatusForbidden, err.Error())
			return false
		}
		w.Header().Set("WWW-Authenticate", `Bearer realm="hemoledger"`)
		writeError(w, http.StatusUnauthorized, err.Error())
		return false
	}
	return true
}

type exportRequest struct {
	UnitID      uint64 `json:"unit_id"`
	RequestedBy string `json:"requested_by"`
	Note        string `json:"note"`
}

func (h *Handler) handleExportCreate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxExportBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read export request payload")
		return
	}
	if message, ok := h.validateExportBody(body); !ok {
		writeError(w, http.StatusBadRequest, message)
		return
	}

	var req exportRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid export request payload")
		return
	}

	record, err := h.Exports.EnqueueExport(r.Context(), ExportInput{
		UnitID:      req.UnitID,
		RequestedBy: req.RequestedBy,
		Note:        req.Note,
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"export": record})
}

// validateExportBody checks the payload against the embedded JSON schema and
// aggregates violations into one message.
func (h *Handler) validateExportBody(body []byte) (string, bool) {
	if len(bytes.TrimSpace(body)) == 0 {
		return "export request payload required", false
	}
	result, err := gojsonschema.Validate(h.schema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return "invalid export request payload", false
	}
	if result.Valid() {
		return "", true
	}
	parts := make([]string, 0, len(result.Errors()))
	for _, violation := range result.Errors() {
		parts = append(parts, violation.String())
	}
	return "export request failed validation: " + strings.Join(parts, "; "), false
}

func (h *Handler) handleExportGet(w http.ResponseWriter, r *http.Request, remainder string) {
	segments := strings.Split(remainder, "/")
	switch {
	case len(segments) == 1 && segments[0] != "":
		record, ok := h.Exports.GetExport(segments[0])
		if !ok {
			writeError(w, http.StatusNotFound, "export not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"export": record})
	case len(segments) == 2 && segments[1] == "artifact":
		h.handleArtifact(w, r, segments[0])
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) handleArtifact(w http.ResponseWriter, r *http.Request, id string) {
	if h.Artifacts == nil {
		writeError(w, http.StatusNotFound, "artifact downloads not configured")
		return
	}
	artifact, body, err := h.Artifacts.OpenArtifact(r.Context(), id)
	switch {
	case errors.Is(err, ErrExportNotFound):
		writeError(w, http.StatusNotFound, "export not found")
		return
	case errors.Is(err, ErrArtifactNotReady):
		writeError(w, http.StatusConflict, "export artifact not ready")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", artifact.ContentType)
	if artifact.SizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(artifact.SizeBytes, 10))
	}
	if artifact.ETag != "" {
		w.Header().Set("ETag", artifact.ETag)
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(artifact.Key)))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
