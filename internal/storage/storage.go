package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Storage interface {
	// UploadFile stores an incoming file under a fresh uploads/ key.
	UploadFile(ctx context.Context, filename string, content io.Reader, contentType string) (*UploadResult, error)
	// PutObject stores data under an exact key, replacing any previous object.
	PutObject(ctx context.Context, key string, data []byte, contentType string) (*UploadResult, error)
	// GetFile opens an object. Missing keys yield common.ErrFileNotFound.
	GetFile(ctx context.Context, key string) (io.ReadCloser, string, error)
	GetPresignedURL(ctx context.Context, key string, expiration time.Duration) (string, error)
	DeleteFile(ctx context.Context, key string) error
}

type UploadResult struct {
	Key string
	URL string
}

// uploadKey builds uploads/YYYY/MM/DD/<name>_<id8><ext> for an incoming file.
func uploadKey(filename string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(filename))
	basename := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	safe := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '/', '\\':
			return '_'
		}
		return r
	}, basename)
	if safe == "" || safe == "." {
		safe = "image"
	}

	return fmt.Sprintf("uploads/%s/%s_%s%s", now.Format("2006/01/02"), safe, uuid.New().String()[:8], ext)
}

// ArtifactKey places a derived file (mask, report) next to its analysis.
func ArtifactKey(analysisID uuid.UUID, name string) string {
	return path.Join("analyses", analysisID.String(), path.Base(name))
}
