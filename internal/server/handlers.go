package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/kiroku-ai/kiroku/internal/auth"
	"github.com/kiroku-ai/kiroku/internal/classify"
	"github.com/kiroku-ai/kiroku/internal/model"
	"github.com/kiroku-ai/kiroku/internal/pipeline"
	"github.com/kiroku-ai/kiroku/internal/telemetry"
	"github.com/kiroku-ai/kiroku/internal/trace"
)

// TextExtractor pulls plain text out of a stored PDF file.
type TextExtractor interface {
	Text(ctx context.Context, path string) (string, error)
}

// HandlersDeps holds everything the HTTP handlers need.
type HandlersDeps struct {
	Runner    *pipeline.Runner
	Extractor TextExtractor
	JWTMgr    *auth.JWTManager
	Metrics   *telemetry.Metrics
	Logger    *slog.Logger

	UploadDir      string
	MaxUploadBytes int64
	BatchLimit     int
	Version        string

	// AdminAPIKeyHash is the Argon2id hash of the bootstrap API key.
	// Empty disables the token endpoint.
	AdminAPIKeyHash string
}

// Handlers carries the handler dependencies.
type Handlers struct {
	deps HandlersDeps
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	if deps.BatchLimit <= 0 {
		deps.BatchLimit = 8
	}
	return &Handlers{deps: deps}
}

// HandleHealth responds 200 while the process is serving.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.deps.Version,
	})
}

// tokenRequest is the body of POST /auth/token.
type tokenRequest struct {
	ClientID string `json:"client_id"`
	APIKey   string `json:"api_key"`
	Role     string `json:"role,omitempty"`
}

// tokenResponse carries an issued bearer token.
type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Role      auth.Role `json:"role"`
}

// HandleAuthToken exchanges the bootstrap API key for a signed JWT.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	if h.deps.AdminAPIKeyHash == "" || h.deps.JWTMgr == nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "token issuance is not configured")
		return
	}

	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.ClientID == "" || req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "client_id and api_key are required")
		return
	}

	ok, err := auth.VerifyAPIKey(req.APIKey, h.deps.AdminAPIKeyHash)
	if err != nil || !ok {
		if err != nil {
			auth.DummyVerify()
		}
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	role := auth.RoleAdmin
	switch auth.Role(req.Role) {
	case auth.RoleIngest, auth.RoleViewer:
		role = auth.Role(req.Role)
	}

	token, exp, err := h.deps.JWTMgr.IssueToken(req.ClientID, role)
	if err != nil {
		h.deps.Logger.Error("token issuance failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "could not issue token")
		return
	}
	writeJSON(w, r, http.StatusOK, tokenResponse{Token: token, ExpiresAt: exp, Role: role})
}

// HandleIngest accepts one multipart file upload, runs the pipeline,
// and returns the structured run result.
func (h *Handlers) HandleIngest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.deps.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.deps.MaxUploadBytes); err != nil {
		writeError(w, r, http.StatusRequestEntityTooLarge, model.ErrCodeTooLarge, "upload too large or malformed")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, `multipart field "file" is required`)
		return
	}
	defer file.Close()

	doc, err := h.storeUpload(r.Context(), file, header.Filename, sourceFromRequest(r))
	if err != nil {
		h.deps.Logger.Error("upload persist failed", "filename", header.Filename, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "could not persist upload")
		return
	}

	res, err := h.run(r.Context(), doc)
	if err != nil {
		h.deps.Logger.Error("pipeline run failed", "filename", doc.Filename, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "audit trail write failed")
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// HandleBatchIngest accepts multiple files under the "files" field and
// processes them concurrently. Files fail independently; the response
// preserves input order.
func (h *Handlers) HandleBatchIngest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.deps.MaxUploadBytes*int64(h.deps.BatchLimit))
	if err := r.ParseMultipartForm(h.deps.MaxUploadBytes); err != nil {
		writeError(w, r, http.StatusRequestEntityTooLarge, model.ErrCodeTooLarge, "upload too large or malformed")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, `multipart field "files" is required`)
		return
	}

	source := sourceFromRequest(r)
	results := make([]model.BatchItemResult, len(headers))

	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(h.deps.BatchLimit)
	for i, hdr := range headers {
		g.Go(func() error {
			item := model.BatchItemResult{Filename: hdr.Filename}

			file, err := hdr.Open()
			if err != nil {
				item.Error = fmt.Sprintf("open upload: %v", err)
				results[i] = item
				return nil
			}
			defer file.Close()

			doc, err := h.storeUpload(ctx, file, hdr.Filename, source)
			if err != nil {
				item.Error = fmt.Sprintf("persist upload: %v", err)
				results[i] = item
				return nil
			}

			res, err := h.run(ctx, doc)
			if err != nil {
				// Audit failure is the one error worth failing the whole batch for.
				return err
			}
			item.Result = &res
			results[i] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		h.deps.Logger.Error("batch run failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "audit trail write failed")
		return
	}
	writeJSON(w, r, http.StatusOK, model.BatchIngestResult{Results: results})
}

// HandleWebhookJSON accepts a raw JSON body, no file involved.
func (h *Handlers) HandleWebhookJSON(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.deps.MaxUploadBytes))
	if err != nil {
		writeError(w, r, http.StatusRequestEntityTooLarge, model.ErrCodeTooLarge, "payload too large")
		return
	}
	if len(body) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "empty body")
		return
	}

	res, err := h.deps.Runner.RunJSONWebhook(r.Context(), body, sourceFromRequest(r))
	if err != nil {
		h.deps.Logger.Error("webhook run failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "audit trail write failed")
		return
	}
	h.record(r.Context(), res, time.Duration(0))
	writeJSON(w, r, http.StatusOK, res)
}

// HandleTraceRecent returns up to ?limit= audit records, newest first.
func (h *Handlers) HandleTraceRecent(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	recs, err := h.deps.Runner.Recent(r.Context(), limit)
	if err != nil {
		h.deps.Logger.Error("trace query failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "trace query failed")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"records": recs, "count": len(recs)})
}

// HandleTraceGet returns a single audit record by ID.
func (h *Handlers) HandleTraceGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "id must be a positive integer")
		return
	}

	rec, err := h.deps.Runner.Trace(r.Context(), id)
	if errors.Is(err, trace.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no such trace record")
		return
	}
	if err != nil {
		h.deps.Logger.Error("trace lookup failed", "id", id, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "trace lookup failed")
		return
	}
	writeJSON(w, r, http.StatusOK, rec)
}

// run executes the pipeline and records the run metrics.
func (h *Handlers) run(ctx context.Context, doc model.Document) (model.IngestResult, error) {
	start := time.Now()
	res, err := h.deps.Runner.Run(ctx, doc)
	if err != nil {
		return res, err
	}
	h.record(ctx, res, time.Since(start))
	return res, nil
}

func (h *Handlers) record(ctx context.Context, res model.IngestResult, elapsed time.Duration) {
	if h.deps.Metrics == nil {
		return
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("format", string(res.Format)),
		attribute.String("intent", string(res.Intent)),
		attribute.Bool("valid", res.AgentResult.Valid),
	)
	h.deps.Metrics.DocumentsProcessed.Add(ctx, 1, attrs)
	if res.Action.Action != "" {
		h.deps.Metrics.ActionsDispatched.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("action", res.Action.Action),
			attribute.String("status", string(res.Action.Status)),
		))
	}
	if elapsed > 0 {
		h.deps.Metrics.RunDuration.Record(ctx, elapsed.Seconds(), attrs)
	}
}

// storeUpload persists the upload under a collision-free name and builds
// the pipeline document, extracting text according to the file type.
func (h *Handlers) storeUpload(ctx context.Context, file multipart.File, filename, source string) (model.Document, error) {
	if err := os.MkdirAll(h.deps.UploadDir, 0o750); err != nil {
		return model.Document{}, fmt.Errorf("server: create upload dir: %w", err)
	}

	raw, err := io.ReadAll(io.LimitReader(file, h.deps.MaxUploadBytes+1))
	if err != nil {
		return model.Document{}, fmt.Errorf("server: read upload: %w", err)
	}
	if int64(len(raw)) > h.deps.MaxUploadBytes {
		return model.Document{}, errors.New("server: upload exceeds size limit")
	}

	saved := filepath.Join(h.deps.UploadDir, uuid.New().String()+"_"+sanitizeFilename(filename))
	if err := os.WriteFile(saved, raw, 0o640); err != nil {
		return model.Document{}, fmt.Errorf("server: write upload: %w", err)
	}

	doc := model.Document{
		Filename: filename,
		Path:     saved,
		Raw:      raw,
		Source:   source,
	}

	if classify.Format(filename) == model.FormatPDF {
		if h.deps.Extractor != nil {
			text, err := h.deps.Extractor.Text(ctx, saved)
			if err != nil {
				h.deps.Logger.Warn("pdf text extraction failed", "filename", filename, "error", err)
			}
			doc.Text = text
		}
	} else {
		doc.Text = string(raw)
	}
	return doc, nil
}

// sanitizeFilename strips path separators so uploads cannot escape the
// upload directory.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	if name == "" || name == "." || name == ".." {
		return "upload"
	}
	return name
}

// sourceFromRequest names the submitting channel for the audit record.
func sourceFromRequest(r *http.Request) string {
	if claims := ClaimsFromContext(r.Context()); claims != nil {
		return claims.ClientID
	}
	if v := r.Header.Get("X-Kiroku-Source"); v != "" {
		return v
	}
	return ""
}
