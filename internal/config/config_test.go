package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"HTTP_ADDR", "QUEUE_MODE", "JWT_TTL", "CORS_ORIGINS", "ANALYSIS_PRESET", "MAX_UPLOAD_BYTES"} {
		t.Setenv(k, "")
	}
	c := fromEnv()

	assert.Equal(t, ":8080", c.HTTPAddr)
	assert.Equal(t, "memory", c.QueueMode)
	assert.Equal(t, 15*time.Minute, c.JWTTTL)
	assert.Equal(t, []string{"*"}, c.CORSOrigins)
	assert.Equal(t, "standard", c.AnalysisPreset)
	assert.Equal(t, int64(20<<20), c.MaxUploadBytes)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("QUEUE_WORKERS", "9")
	t.Setenv("JOB_MAX_DURATION", "45s")
	t.Setenv("S3_FORCE_PATH_STYLE", "0")
	t.Setenv("CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("RESULT_CACHE_TTL", "1h")

	c := fromEnv()
	assert.Equal(t, 9, c.QueueWorkers)
	assert.Equal(t, 45*time.Second, c.JobMaxDuration)
	assert.False(t, c.S3ForcePathStyle)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, c.CORSOrigins)
	assert.Equal(t, time.Hour, c.ResultCacheTTL)
}

func TestFromEnv_BadValuesFallBack(t *testing.T) {
	t.Setenv("QUEUE_WORKERS", "many")
	t.Setenv("JWT_TTL", "soon")
	t.Setenv("S3_FORCE_PATH_STYLE", "maybe")

	c := fromEnv()
	assert.Equal(t, 4, c.QueueWorkers)
	assert.Equal(t, 15*time.Minute, c.JWTTTL)
	assert.True(t, c.S3ForcePathStyle)
}

func TestDataDir(t *testing.T) {
	d := DataDir()
	assert.Equal(t, AppName, filepath.Base(d))
	assert.True(t, strings.HasPrefix(PresetSearchPaths()[0], "retinascan"))
}
