package upload

import (
	"fmt"
	"path"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"snapvault/internal/models"
)

const maxFileNameLength = 255

// imageTypes maps permitted image extensions to their canonical MIME type.
var imageTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// videoTypes maps permitted video extensions to their canonical MIME type.
var videoTypes = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
}

// SanitizeFileName normalises a client-supplied file name: Unicode NFC form,
// any directory components stripped, and traversal or control characters
// rejected. The sanitized name feeds the storage key, so it must be safe to
// embed in object paths and URLs.
func SanitizeFileName(name string) (string, error) {
	name = norm.NFC.String(strings.TrimSpace(name))
	if name == "" {
		return "", failf(CodeValidation, "file name is required")
	}
	// Keep only the final path element regardless of separator style.
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == ".." || name == "/" {
		return "", failf(CodeValidation, "invalid file name")
	}
	if len(name) > maxFileNameLength {
		return "", failf(CodeValidation, "file name exceeds %d characters", maxFileNameLength)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return "", failf(CodeValidation, "file name contains control characters")
		}
	}
	if strings.ContainsAny(name, "?#%&") {
		return "", failf(CodeValidation, "file name contains reserved characters")
	}
	return name, nil
}

// ClassifyFile validates the extension and MIME type against the allow-lists
// and checks they agree with each other.
func ClassifyFile(fileName, mimeType string) (models.MediaType, error) {
	ext := strings.ToLower(path.Ext(fileName))
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if canonical, ok := imageTypes[ext]; ok {
		if mimeType != canonical {
			return "", failf(CodeValidation, "mime type %q does not match extension %q", mimeType, ext)
		}
		return models.MediaImage, nil
	}
	if canonical, ok := videoTypes[ext]; ok {
		if mimeType != canonical {
			return "", failf(CodeValidation, "mime type %q does not match extension %q", mimeType, ext)
		}
		return models.MediaVideo, nil
	}
	return "", failf(CodeValidation, "file type %q is not allowed", ext)
}

// StorageKey shapes the object key for a media item. Keys group by album so
// operators can reason about a customer's objects, and embed the media ID so
// re-uploads of the same file name never collide.
func StorageKey(albumID, mediaID, sanitizedName string) string {
	return fmt.Sprintf("%s/%s-%s", albumID, mediaID, sanitizedName)
}
