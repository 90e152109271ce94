package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fedutinova/retinascan/internal/analysis"
	"github.com/fedutinova/retinascan/internal/auth"
	"github.com/fedutinova/retinascan/internal/common"
	"github.com/fedutinova/retinascan/internal/config"
	"github.com/fedutinova/retinascan/internal/evaluation"
	"github.com/fedutinova/retinascan/internal/imageio"
	"github.com/fedutinova/retinascan/internal/job"
	"github.com/fedutinova/retinascan/internal/memq"
	"github.com/fedutinova/retinascan/internal/models"
	"github.com/fedutinova/retinascan/internal/report"
	"github.com/fedutinova/retinascan/internal/storage"
	"github.com/fedutinova/retinascan/internal/validation"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// AnalysisRepository is the persistence the handlers need.
type AnalysisRepository interface {
	CreateAnalysis(ctx context.Context, a *models.Analysis) error
	SetJob(ctx context.Context, id, jobID uuid.UUID) error
	FailAnalysis(ctx context.Context, id uuid.UUID, reason string) error
	GetAnalysis(ctx context.Context, id uuid.UUID) (*models.Analysis, error)
	ListAnalysesByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Analysis, error)
	ListAnalyses(ctx context.Context, limit int) ([]models.Analysis, error)
	DeleteAnalysis(ctx context.Context, id uuid.UUID) (*models.Analysis, error)
}

// Pinger is a dependency the readiness probe can check.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handlers struct {
	Q       memq.JobQueue
	Repo    AnalysisRepository
	DB      Pinger
	Redis   Pinger // nil when running without Redis
	Storage storage.Storage
	Presets *analysis.Registry
	Config  config.Config
}

const maskLinkTTL = 15 * time.Minute

type listQuery struct {
	Limit int  `validate:"omitempty,min=1,max=500"`
	All   bool `validate:"-"`
}

func (h *Handlers) Routers(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)

	if storage.IsLocal(h.Config) {
		r.Get("/files/*", h.serveFiles)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(auth.JWTMiddleware(h.Config.JWTSecret, h.Config.JWTIssuer))

		r.Get("/presets", h.listPresets)

		r.With(auth.RequirePerm(auth.PermAnalysisSubmit)).Post("/analyses", h.submitAnalysis)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequirePerm(auth.PermAnalysisReadOwn))
			r.Get("/analyses", h.listAnalyses)
			r.Get("/analyses/{id}", h.getAnalysis)
			r.Delete("/analyses/{id}", h.deleteAnalysis)
			r.Get("/analyses/{id}/report", h.getReport)
			r.Get("/analyses/{id}/masks/{kind}", h.getMask)
			r.Get("/jobs/{id}", h.getJob)
		})

		r.With(auth.RequirePerm(auth.PermEvaluationRun)).Post("/evaluations", h.evaluate)

		r.Route("/admin/queue", func(r chi.Router) {
			r.Use(auth.RequirePerm(auth.PermAdminAll))
			r.Get("/", h.queueStats)
			r.Get("/dead-letters", h.listDeadLetters)
			r.Post("/dead-letters/{id}/requeue", h.requeueDeadLetter)
		})
	})
}

func (h *Handlers) serveFiles(w http.ResponseWriter, r *http.Request) {
	filePath := strings.TrimPrefix(r.URL.Path, "/files/")
	if filePath == "" {
		http.Error(w, "file path required", http.StatusBadRequest)
		return
	}

	if strings.Contains(filePath, "..") {
		http.Error(w, "invalid file path", http.StatusBadRequest)
		return
	}

	fullPath := filepath.Join(h.Config.LocalStorageDir, filePath)
	http.ServeFile(w, r, fullPath)
}

func (h *Handlers) listPresets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"default": h.defaultPreset(),
		"presets": h.Presets.List(),
	})
}

func (h *Handlers) defaultPreset() string {
	if h.Config.AnalysisPreset != "" {
		return h.Config.AnalysisPreset
	}
	return analysis.DefaultPreset
}

func (h *Handlers) submitAnalysis(w http.ResponseWriter, r *http.Request) {
	maxSize := h.maxUpload()
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "failed to parse form", http.StatusBadRequest)
		return
	}

	userID, err := auth.UserID(r.Context())
	if err != nil {
		http.Error(w, "invalid user ID", http.StatusBadRequest)
		return
	}

	data, fh, verrs := readUpload(r, "image", maxSize)
	if len(verrs) > 0 {
		writeValidation(w, verrs)
		return
	}

	name := r.FormValue("preset")
	if name == "" {
		name = h.defaultPreset()
	}
	preset, err := h.Presets.Lookup(name)
	if err != nil {
		writeValidation(w, validation.ValidationErrors{{Field: "preset", Message: err.Error()}})
		return
	}

	contentType := mimetype.Detect(data).String()
	upload, err := h.Storage.UploadFile(r.Context(), fh.Filename, bytes.NewReader(data), contentType)
	if err != nil {
		slog.Error("failed to upload image", "filename", fh.Filename, "error", err)
		writeError(w, err)
		return
	}

	a := &models.Analysis{
		UserID:      userID,
		ImageName:   filepath.Base(fh.Filename),
		ImageKey:    upload.Key,
		ContentType: contentType,
		ImageSize:   int64(len(data)),
		Preset:      preset.Name,
		Status:      models.StatusPending,
	}
	if err := h.Repo.CreateAnalysis(r.Context(), a); err != nil {
		slog.Error("failed to create analysis", "error", err)
		h.removeObjects(context.WithoutCancel(r.Context()), upload.Key)
		writeError(w, err)
		return
	}

	j, err := job.NewAnalyzeJob(job.AnalyzePayload{
		AnalysisID: a.ID,
		UserID:     userID,
		ImageKey:   a.ImageKey,
		ImageName:  a.ImageName,
		Preset:     a.Preset,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	jobID, err := h.Q.Enqueue(r.Context(), j)
	if err != nil {
		slog.Error("failed to enqueue analysis", "analysis_id", a.ID, "error", err)
		if ferr := h.Repo.FailAnalysis(context.WithoutCancel(r.Context()), a.ID, "enqueue failed"); ferr != nil {
			slog.Warn("failed to mark analysis failed", "analysis_id", a.ID, "error", ferr)
		}
		http.Error(w, "enqueue failed", http.StatusServiceUnavailable)
		return
	}
	if err := h.Repo.SetJob(r.Context(), a.ID, jobID); err != nil {
		slog.Warn("failed to link job to analysis", "analysis_id", a.ID, "job_id", jobID, "error", err)
	}

	slog.Info("fundus analysis enqueued",
		"analysis_id", a.ID,
		"job_id", jobID,
		"user_id", userID,
		"preset", a.Preset,
		"image_key", a.ImageKey)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"analysis_id": a.ID,
		"job_id":      jobID,
		"status":      a.Status,
		"preset":      a.Preset,
	})
}

func (h *Handlers) listAnalyses(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "no auth context", http.StatusUnauthorized)
		return
	}

	var q listQuery
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeValidation(w, validation.ValidationErrors{{Field: "limit", Message: "must be an integer"}})
			return
		}
		q.Limit = n
	}
	q.All = r.URL.Query().Get("all") == "true"
	if err := validation.Struct(q); err != nil {
		writeError(w, err)
		return
	}

	var (
		list []models.Analysis
		err  error
	)
	if q.All {
		if !auth.HasPerm(claims.Roles, auth.PermAnalysisReadAll) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		list, err = h.Repo.ListAnalyses(r.Context(), q.Limit)
	} else {
		userID, perr := uuid.Parse(claims.UserID)
		if perr != nil {
			http.Error(w, "invalid user ID", http.StatusBadRequest)
			return
		}
		list, err = h.Repo.ListAnalysesByUser(r.Context(), userID, q.Limit)
	}
	if err != nil {
		slog.Error("failed to list analyses", "user_id", claims.UserID, "error", err)
		writeError(w, err)
		return
	}

	// the list stays light; fetch one analysis for its report
	for i := range list {
		list[i].Report = nil
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handlers) getAnalysis(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadAnalysis(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// deleteAnalysis removes a finished analysis with its upload and report.
// Masks stay: the result cache may hand them to later analyses of the same image.
func (h *Handlers) deleteAnalysis(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadAnalysis(w, r)
	if !ok {
		return
	}
	claims, _ := auth.FromContext(r.Context())
	if a.UserID.String() != claims.UserID && !auth.HasPerm(claims.Roles, auth.PermAdminAll) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	deleted, err := h.Repo.DeleteAnalysis(r.Context(), a.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	h.removeObjects(context.WithoutCancel(r.Context()), deleted.ImageKey, deleted.ReportKey)
	slog.Info("analysis deleted", "analysis_id", a.ID, "user_id", claims.UserID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) removeObjects(ctx context.Context, keys ...string) {
	for _, k := range keys {
		if k == "" {
			continue
		}
		if err := h.Storage.DeleteFile(ctx, k); err != nil && !common.IsNotFound(err) {
			slog.Warn("failed to delete object", "key", k, "error", err)
		}
	}
}

func (h *Handlers) getReport(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadAnalysis(w, r)
	if !ok {
		return
	}
	if a.Status != models.StatusCompleted || len(a.Report) == 0 {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":  "report not available",
			"status": a.Status,
		})
		return
	}

	var rep report.Report
	if err := json.Unmarshal(a.Report, &rep); err != nil {
		slog.Error("stored report is unreadable", "analysis_id", a.ID, "error", err)
		writeError(w, err)
		return
	}

	format := r.URL.Query().Get("format")
	var buf bytes.Buffer
	rw, err := report.New(format, &buf)
	if err != nil {
		writeValidation(w, validation.ValidationErrors{{Field: "format", Message: err.Error()}})
		return
	}
	if err := rw.Write(&rep); err != nil {
		writeError(w, err)
		return
	}

	contentType := "application/json"
	if rw.Extension() == "md" {
		contentType = "text/markdown; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", report.FileName(rep.ImageName, rw.Extension())))
	_, _ = w.Write(buf.Bytes())
}

func (h *Handlers) getMask(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadAnalysis(w, r)
	if !ok {
		return
	}

	var key string
	switch chi.URLParam(r, "kind") {
	case "dark":
		key = a.DarkMaskKey
	case "bright":
		key = a.BrightMaskKey
	default:
		http.Error(w, "mask kind must be dark or bright", http.StatusBadRequest)
		return
	}
	if key == "" {
		http.Error(w, "mask not available", http.StatusConflict)
		return
	}

	if r.URL.Query().Get("link") == "true" {
		url, err := h.Storage.GetPresignedURL(r.Context(), key, maskLinkTTL)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"url":        url,
			"expires_in": int(maskLinkTTL.Seconds()),
		})
		return
	}

	rc, contentType, err := h.Storage.GetFile(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentType)
	if _, err := io.Copy(w, rc); err != nil {
		slog.Warn("failed to stream mask", "key", key, "error", err)
	}
}

// loadAnalysis fetches the {id} analysis and enforces ownership unless the
// caller may read all analyses. It writes the error response itself.
func (h *Handlers) loadAnalysis(w http.ResponseWriter, r *http.Request) (*models.Analysis, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "bad id", http.StatusBadRequest)
		return nil, false
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "no auth context", http.StatusUnauthorized)
		return nil, false
	}

	a, err := h.Repo.GetAnalysis(r.Context(), id)
	if err != nil {
		if !common.IsNotFound(err) {
			slog.Error("failed to get analysis", "id", id, "error", err)
		}
		writeError(w, err)
		return nil, false
	}

	if !auth.HasPerm(claims.Roles, auth.PermAnalysisReadAll) {
		userID, err := uuid.Parse(claims.UserID)
		if err != nil || a.UserID != userID {
			http.Error(w, "forbidden", http.StatusForbidden)
			return nil, false
		}
	}
	return a, true
}

func (h *Handlers) getJob(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		http.Error(w, "bad id", http.StatusBadRequest)
		return
	}
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "no auth context", http.StatusUnauthorized)
		return
	}

	// someone else's job answers exactly like a missing one
	j, ok := h.Q.Status(r.Context(), id)
	if ok && !auth.HasPerm(claims.Roles, auth.PermAnalysisReadAll) {
		p, err := job.DecodeAnalyze(j)
		ok = err == nil && p.UserID.String() == claims.UserID
	}
	if !ok {
		writeError(w, fmt.Errorf("%w: %s", common.ErrJobNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (h *Handlers) evaluate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 2*validation.MaxMaskSize+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "failed to parse form", http.StatusBadRequest)
		return
	}

	predData, predFH, verrs := readUpload(r, "predicted", validation.MaxMaskSize)
	truthData, truthFH, terrs := readUpload(r, "ground_truth", validation.MaxMaskSize)
	if verrs = append(verrs, terrs...); len(verrs) > 0 {
		writeValidation(w, verrs)
		return
	}

	pred, err := imageio.DecodeMask(predFH.Filename, predData)
	if err != nil {
		writeError(w, err)
		return
	}
	truth, err := imageio.DecodeMask(truthFH.Filename, truthData)
	if err != nil {
		writeError(w, err)
		return
	}

	m, err := evaluation.Evaluate(pred, truth)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handlers) maxUpload() int64 {
	if h.Config.MaxUploadBytes > 0 {
		return h.Config.MaxUploadBytes
	}
	return validation.MaxFileSize
}

// readUpload reads one multipart file fully and validates it as an image.
func readUpload(r *http.Request, field string, maxSize int64) ([]byte, *multipart.FileHeader, validation.ValidationErrors) {
	file, fh, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil, validation.ValidateImageUpload(field, nil, nil, maxSize)
		}
		return nil, nil, validation.ValidationErrors{{Field: field, Message: "unreadable file"}}
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxSize+1))
	if err != nil {
		return nil, nil, validation.ValidationErrors{{Field: field, Message: "unreadable file"}}
	}
	if errs := validation.ValidateImageUpload(field, fh, data, maxSize); len(errs) > 0 {
		return nil, nil, errs
	}
	return data, fh, nil
}
