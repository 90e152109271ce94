package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/fedutinova/retinascan/internal/common"
	"github.com/fedutinova/retinascan/internal/database"
	"github.com/fedutinova/retinascan/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const defaultListLimit = 50

type Repository struct {
	db *database.DB
}

func New(db *database.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) DB() *database.DB {
	return r.db
}

const analysisColumns = `
	id, user_id, image_name, image_key, content_type, image_size, preset, status, error, job_id,
	risk_score, risk_level, dark_count, bright_count, dark_mask_key, bright_mask_key, report_key,
	report, created_at, updated_at, completed_at`

func (r *Repository) CreateAnalysis(ctx context.Context, a *models.Analysis) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = models.StatusPending
	}

	query := `
		INSERT INTO analyses (id, user_id, image_name, image_key, content_type, image_size, preset, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	return r.db.Pool().QueryRow(ctx, query,
		a.ID,
		a.UserID,
		a.ImageName,
		a.ImageKey,
		a.ContentType,
		a.ImageSize,
		a.Preset,
		a.Status,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

// SetJob links the queued job to its analysis.
func (r *Repository) SetJob(ctx context.Context, id, jobID uuid.UUID) error {
	query := `UPDATE analyses SET job_id = $1, updated_at = NOW() WHERE id = $2`
	return r.exec(ctx, r.db.Pool(), id, query, jobID, id)
}

// MarkProcessing moves a pending (or previously failed, on retry) analysis to processing.
func (r *Repository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE analyses SET status = $1, error = '', updated_at = NOW()
		WHERE id = $2 AND status <> $3
	`
	return r.exec(ctx, r.db.Pool(), id, query, models.StatusProcessing, id, models.StatusCompleted)
}

// CompleteAnalysis stores the outcome. Completing an already completed
// analysis is a no-op so redelivered jobs do not overwrite the first result.
func (r *Repository) CompleteAnalysis(ctx context.Context, id uuid.UUID, o models.Outcome) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM analyses WHERE id = $1 FOR UPDATE`, id).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", common.ErrAnalysisNotFound, id)
		}
		if err != nil {
			return err
		}
		if status == models.StatusCompleted {
			return nil
		}

		query := `
			UPDATE analyses SET
				status = $1, error = '',
				risk_score = $2, risk_level = $3, dark_count = $4, bright_count = $5,
				dark_mask_key = $6, bright_mask_key = $7, report_key = $8, report = $9,
				updated_at = NOW(), completed_at = NOW()
			WHERE id = $10
		`
		return r.exec(ctx, tx, id, query,
			models.StatusCompleted,
			o.RiskScore,
			o.RiskLevel,
			o.DarkCount,
			o.BrightCount,
			o.DarkMaskKey,
			o.BrightMaskKey,
			o.ReportKey,
			[]byte(o.Report),
			id,
		)
	})
}

func (r *Repository) FailAnalysis(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE analyses SET status = $1, error = $2, updated_at = NOW(), completed_at = NOW()
		WHERE id = $3 AND status <> $4
	`
	return r.exec(ctx, r.db.Pool(), id, query, models.StatusFailed, reason, id, models.StatusCompleted)
}

func (r *Repository) GetAnalysis(ctx context.Context, id uuid.UUID) (*models.Analysis, error) {
	query := `SELECT ` + analysisColumns + ` FROM analyses WHERE id = $1`

	a, err := scanAnalysis(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", common.ErrAnalysisNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListAnalysesByUser returns the user's analyses, newest first.
func (r *Repository) ListAnalysesByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Analysis, error) {
	query := `
		SELECT ` + analysisColumns + `
		FROM analyses
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	return r.list(ctx, query, userID, clampLimit(limit))
}

// ListAnalyses returns every user's analyses, newest first.
func (r *Repository) ListAnalyses(ctx context.Context, limit int) ([]models.Analysis, error) {
	query := `
		SELECT ` + analysisColumns + `
		FROM analyses
		ORDER BY created_at DESC
		LIMIT $1
	`
	return r.list(ctx, query, clampLimit(limit))
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]models.Analysis, error) {
	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	analyses := make([]models.Analysis, 0)
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		analyses = append(analyses, *a)
	}
	return analyses, rows.Err()
}

// DeleteAnalysis removes a completed or failed analysis and returns the
// deleted row so the caller can clean up stored objects.
func (r *Repository) DeleteAnalysis(ctx context.Context, id uuid.UUID) (*models.Analysis, error) {
	var deleted *models.Analysis
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		a, err := scanAnalysis(tx.QueryRow(ctx, `SELECT `+analysisColumns+` FROM analyses WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", common.ErrAnalysisNotFound, id)
		}
		if err != nil {
			return err
		}
		if !a.Finished() {
			return fmt.Errorf("%w: %s is %s", common.ErrAnalysisInProgress, id, a.Status)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM analyses WHERE id = $1`, id); err != nil {
			return err
		}
		deleted = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// exec runs an update on the analysis id. Zero affected rows is only an error
// when the analysis does not exist.
func (r *Repository) exec(ctx context.Context, q database.Querier, id uuid.UUID, query string, args ...any) error {
	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM analyses WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %s", common.ErrAnalysisNotFound, id)
		}
	}
	return nil
}

func scanAnalysis(row pgx.Row) (*models.Analysis, error) {
	var a models.Analysis
	var report []byte
	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.ImageName,
		&a.ImageKey,
		&a.ContentType,
		&a.ImageSize,
		&a.Preset,
		&a.Status,
		&a.Error,
		&a.JobID,
		&a.RiskScore,
		&a.RiskLevel,
		&a.DarkCount,
		&a.BrightCount,
		&a.DarkMaskKey,
		&a.BrightMaskKey,
		&a.ReportKey,
		&report,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(report) > 0 {
		a.Report = report
	}
	return &a, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultListLimit
	}
	return limit
}
