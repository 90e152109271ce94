package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fedutinova/retinascan/internal/common"
	"github.com/gabriel-vasile/mimetype"
)

type LocalStorage struct {
	baseDir string
	baseURL string
}

func NewLocalStorage(baseDir, baseURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &LocalStorage{
		baseDir: baseDir,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}, nil
}

// resolve maps key onto the filesystem and refuses keys that escape baseDir.
func (s *LocalStorage) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == ".." {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(s.baseDir, clean), nil
}

func (s *LocalStorage) UploadFile(ctx context.Context, filename string, content io.Reader, contentType string) (*UploadResult, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, fmt.Errorf("failed to read file content: %w", err)
	}
	return s.PutObject(ctx, uploadKey(filename, time.Now()), data, contentType)
}

func (s *LocalStorage) PutObject(ctx context.Context, key string, data []byte, contentType string) (*UploadResult, error) {
	filePath, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory structure: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	slog.Info("file stored in local storage", "key", key, "path", filePath, "size", len(data), "content_type", contentType)

	return &UploadResult{
		Key: key,
		URL: fmt.Sprintf("%s/%s", s.baseURL, key),
	}, nil
}

func (s *LocalStorage) GetPresignedURL(ctx context.Context, key string, expiration time.Duration) (string, error) {
	// local files are served directly; there is nothing to sign
	return fmt.Sprintf("%s/%s", s.baseURL, key), nil
}

func (s *LocalStorage) DeleteFile(ctx context.Context, key string) error {
	filePath, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", key, common.ErrFileNotFound)
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}

	slog.Info("file deleted from local storage", "key", key, "path", filePath)
	return nil
}

func (s *LocalStorage) GetFile(ctx context.Context, key string) (io.ReadCloser, string, error) {
	filePath, err := s.resolve(key)
	if err != nil {
		return nil, "", err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("%s: %w", key, common.ErrFileNotFound)
		}
		return nil, "", fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("file is empty: %s", key)
	}

	contentType := mimetype.Detect(data).String()
	slog.Debug("file opened from local storage",
		"key", key,
		"path", filePath,
		"size", len(data),
		"content_type", contentType)

	return io.NopCloser(bytes.NewReader(data)), contentType, nil
}
