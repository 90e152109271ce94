package imageio

import (
	"log/slog"
	"strings"

	exif "github.com/dsoprea/go-exif/v3"
)

// Metadata is the acquisition information worth carrying into a report.
type Metadata struct {
	ContentType string `json:"content_type,omitempty"`
	CameraMake  string `json:"camera_make,omitempty"`
	CameraModel string `json:"camera_model,omitempty"`
	CapturedAt  string `json:"captured_at,omitempty"`
	Software    string `json:"software,omitempty"`
}

// IsZero reports whether no EXIF field was found.
func (m Metadata) IsZero() bool {
	return m.CameraMake == "" && m.CameraModel == "" && m.CapturedAt == "" && m.Software == ""
}

// ReadMetadata extracts camera fields from embedded EXIF. Images without EXIF,
// or with a block that does not parse, yield an empty Metadata.
func ReadMetadata(data []byte) Metadata {
	var m Metadata

	raw, err := exif.SearchAndExtractExif(data)
	if err != nil || raw == nil {
		return m
	}
	entries, _, err := exif.GetFlatExifData(raw, nil)
	if err != nil {
		slog.Debug("exif: unreadable block", "error", err)
		return m
	}

	for _, e := range entries {
		v := strings.TrimSpace(e.Formatted)
		switch e.TagName {
		case "Make":
			m.CameraMake = v
		case "Model":
			m.CameraModel = v
		case "DateTimeOriginal":
			m.CapturedAt = v
		case "DateTime":
			if m.CapturedAt == "" {
				m.CapturedAt = v
			}
		case "Software":
			m.Software = v
		}
	}
	return m
}
