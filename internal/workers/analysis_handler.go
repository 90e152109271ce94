package workers

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"time"

	"github.com/fedutinova/retinascan/internal/analysis"
	"github.com/fedutinova/retinascan/internal/imageio"
	"github.com/fedutinova/retinascan/internal/job"
	"github.com/fedutinova/retinascan/internal/models"
	"github.com/fedutinova/retinascan/internal/redis"
	"github.com/fedutinova/retinascan/internal/report"
	"github.com/fedutinova/retinascan/internal/storage"
	"github.com/google/uuid"
)

// AnalysisStore is the part of the repository the worker writes to.
type AnalysisStore interface {
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	CompleteAnalysis(ctx context.Context, id uuid.UUID, o models.Outcome) error
	FailAnalysis(ctx context.Context, id uuid.UUID, reason string) error
}

// ResultCache stores finished results keyed by image content and preset.
type ResultCache interface {
	GetJSON(ctx context.Context, key string, v any) (bool, error)
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// cachedResult is what a cache hit needs to complete a new analysis
// without touching the pixels again.
type cachedResult struct {
	Report        *report.Report `json:"report"`
	DarkMaskKey   string         `json:"dark_mask_key"`
	BrightMaskKey string         `json:"bright_mask_key"`
}

const maxImageSize = 50 << 20

type AnalysisHandler struct {
	presets  *analysis.Registry
	storage  storage.Storage
	store    AnalysisStore
	cache    ResultCache
	cacheTTL time.Duration
	now      func() time.Time
}

// NewAnalysisHandler wires the worker. cache may be nil.
func NewAnalysisHandler(presets *analysis.Registry, storageService storage.Storage, store AnalysisStore, cache ResultCache, cacheTTL time.Duration) *AnalysisHandler {
	return &AnalysisHandler{
		presets:  presets,
		storage:  storageService,
		store:    store,
		cache:    cache,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

func (h *AnalysisHandler) HandleAnalysisJob(ctx context.Context, j *job.Job) error {
	payload, err := job.DecodeAnalyze(j)
	if err != nil {
		return err
	}

	slog.Info("starting fundus analysis",
		"job_id", j.ID,
		"analysis_id", payload.AnalysisID,
		"image_key", payload.ImageKey,
		"preset", payload.Preset)

	if err := h.store.MarkProcessing(ctx, payload.AnalysisID); err != nil {
		return fmt.Errorf("failed to mark analysis processing: %w", err)
	}

	outcome, err := h.process(ctx, payload)
	if err != nil {
		slog.Error("fundus analysis failed", "job_id", j.ID, "analysis_id", payload.AnalysisID, "error", err)
		// the job context may already be done; the failure still has to land
		failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if ferr := h.store.FailAnalysis(failCtx, payload.AnalysisID, err.Error()); ferr != nil {
			slog.Warn("failed to record analysis failure", "analysis_id", payload.AnalysisID, "error", ferr)
		}
		return err
	}

	if err := h.store.CompleteAnalysis(ctx, payload.AnalysisID, outcome); err != nil {
		return fmt.Errorf("failed to save analysis result: %w", err)
	}

	slog.Info("fundus analysis completed",
		"job_id", j.ID,
		"analysis_id", payload.AnalysisID,
		"score", outcome.RiskScore,
		"level", outcome.RiskLevel,
		"dark_count", outcome.DarkCount,
		"bright_count", outcome.BrightCount)
	return nil
}

func (h *AnalysisHandler) process(ctx context.Context, p job.AnalyzePayload) (models.Outcome, error) {
	analyzer, err := analysis.NewNamed(h.presets, p.Preset)
	if err != nil {
		return models.Outcome{}, err
	}
	preset := analyzer.Preset()
	fingerprint, err := preset.Fingerprint()
	if err != nil {
		return models.Outcome{}, err
	}

	data, err := h.fetch(ctx, p.ImageKey)
	if err != nil {
		return models.Outcome{}, err
	}

	key := redis.ResultKey(data, preset.Name, fingerprint)
	if cached, ok := h.lookup(ctx, key); ok {
		slog.Debug("analysis cache hit", "analysis_id", p.AnalysisID, "key", key)
		rep := *cached.Report
		rep.ImageName = p.ImageName
		rep.AnalysisDate = h.now().UTC().Truncate(time.Second)
		return h.finish(ctx, p.AnalysisID, &rep, cached.DarkMaskKey, cached.BrightMaskKey)
	}

	img, meta, err := imageio.Decode(p.ImageName, data)
	if err != nil {
		return models.Outcome{}, err
	}
	res, err := analyzer.Analyze(img)
	if err != nil {
		return models.Outcome{}, err
	}

	darkKey, err := h.putMask(ctx, p.AnalysisID, "dark_mask.png", res.DarkMask)
	if err != nil {
		return models.Outcome{}, err
	}
	brightKey, err := h.putMask(ctx, p.AnalysisID, "bright_mask.png", res.BrightMask)
	if err != nil {
		return models.Outcome{}, err
	}

	rep := report.Assemble(p.ImageName, res, meta, h.now())
	outcome, err := h.finish(ctx, p.AnalysisID, rep, darkKey, brightKey)
	if err != nil {
		return models.Outcome{}, err
	}

	if h.cache != nil {
		entry := cachedResult{Report: rep, DarkMaskKey: darkKey, BrightMaskKey: brightKey}
		if err := h.cache.SetJSON(ctx, key, entry, h.cacheTTL); err != nil {
			slog.Warn("failed to cache analysis result", "key", key, "error", err)
		}
	}
	return outcome, nil
}

// finish uploads the JSON report and builds the row update.
func (h *AnalysisHandler) finish(ctx context.Context, id uuid.UUID, rep *report.Report, darkKey, brightKey string) (models.Outcome, error) {
	var buf bytes.Buffer
	if err := report.NewJSONWriter(&buf).Write(rep); err != nil {
		return models.Outcome{}, fmt.Errorf("failed to encode report: %w", err)
	}
	reportKey := storage.ArtifactKey(id, report.FileName(rep.ImageName, "json"))
	if _, err := h.storage.PutObject(ctx, reportKey, buf.Bytes(), "application/json"); err != nil {
		return models.Outcome{}, fmt.Errorf("failed to upload report: %w", err)
	}

	return models.Outcome{
		RiskScore:     rep.RiskAssessment.Score,
		RiskLevel:     string(rep.RiskAssessment.Level),
		DarkCount:     rep.LesionAnalysis.Dark.Count,
		BrightCount:   rep.LesionAnalysis.Bright.Count,
		DarkMaskKey:   darkKey,
		BrightMaskKey: brightKey,
		ReportKey:     reportKey,
		Report:        bytes.TrimSpace(buf.Bytes()),
	}, nil
}

func (h *AnalysisHandler) putMask(ctx context.Context, id uuid.UUID, name string, mask *image.Gray) (string, error) {
	data, err := imageio.MaskPNG(mask)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", name, err)
	}
	key := storage.ArtifactKey(id, name)
	if _, err := h.storage.PutObject(ctx, key, data, "image/png"); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", name, err)
	}
	return key, nil
}

func (h *AnalysisHandler) fetch(ctx context.Context, key string) ([]byte, error) {
	rc, _, err := h.storage.GetFile(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image %s: %w", key, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxImageSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image %s: %w", key, err)
	}
	if len(data) > maxImageSize {
		return nil, fmt.Errorf("image %s too large: more than %d bytes", key, maxImageSize)
	}
	return data, nil
}

func (h *AnalysisHandler) lookup(ctx context.Context, key string) (cachedResult, bool) {
	var c cachedResult
	if h.cache == nil {
		return c, false
	}
	ok, err := h.cache.GetJSON(ctx, key, &c)
	if err != nil {
		slog.Warn("analysis cache lookup failed", "key", key, "error", err)
		return c, false
	}
	if ok && c.Report == nil {
		// unusable entry; drop it so the fresh result can replace it
		if err := h.cache.Delete(ctx, key); err != nil {
			slog.Warn("failed to drop cache entry", "key", key, "error", err)
		}
		return c, false
	}
	return c, ok
}
