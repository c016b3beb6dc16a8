package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalConfig configures the filesystem-backed provider.
type LocalConfig struct {
	// Root is the directory objects are stored under.
	Root string
	// BaseURL is the public base for download URLs, e.g. "/media" or a full
	// origin. Upload targets point at UploadPath on the same API.
	BaseURL string
	// UploadPath is the API route that accepts PUT bodies for local storage.
	UploadPath string
	// MaxBytes caps a single upload. Zero applies the default.
	MaxBytes int64
}

const defaultLocalMaxBytes = 100 << 20

// Local stores objects on the server's own filesystem. Upload targets point
// back at the API, which streams the body into Put.
type Local struct {
	root       string
	baseURL    string
	uploadPath string
	maxBytes   int64
}

// NewLocal validates the configuration and ensures the root directory exists.
func NewLocal(cfg LocalConfig) (*Local, error) {
	root := strings.TrimSpace(cfg.Root)
	if root == "" {
		return nil, fmt.Errorf("local storage root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	uploadPath := strings.TrimSpace(cfg.UploadPath)
	if uploadPath == "" {
		uploadPath = "/api/uploads/local"
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultLocalMaxBytes
	}
	return &Local{
		root:       root,
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		uploadPath: uploadPath,
		maxBytes:   maxBytes,
	}, nil
}

func (l *Local) Tag() Tag { return TagLocal }

func (l *Local) MaxUploadBytes() int64 { return l.maxBytes }

// UploadTarget directs the client to PUT the bytes to the API's local upload
// endpoint. The target never expires before the upload record does, so a
// generous fixed window is fine.
func (l *Local) UploadTarget(_ context.Context, key, contentType string, _ int64) (UploadTarget, error) {
	if err := validateKey(key); err != nil {
		return UploadTarget{}, err
	}
	return UploadTarget{
		Method:    "PUT",
		URL:       l.uploadPath + "?key=" + key,
		Headers:   map[string]string{"Content-Type": contentType},
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}, nil
}

// DownloadURL resolves the public URL for a stored object.
func (l *Local) DownloadURL(key string) string {
	return l.baseURL + "/" + key
}

// Put streams an upload body into place, writing via a temp file so readers
// never observe a partial object.
func (l *Local) Put(_ context.Context, key string, body io.Reader) (int64, error) {
	path, err := l.objectPath(key)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create object dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("create temp object: %w", err)
	}
	written, err := io.Copy(tmp, io.LimitReader(body, l.maxBytes+1))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("write object: %w", err)
	}
	if written > l.maxBytes {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("object exceeds %d byte limit", l.maxBytes)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("finalize object: %w", err)
	}
	return written, nil
}

// Open returns a reader over a stored object.
func (l *Local) Open(key string) (io.ReadCloser, error) {
	path, err := l.objectPath(key)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// Delete removes the object; a missing file is treated as already deleted.
func (l *Local) Delete(_ context.Context, key string) error {
	path, err := l.objectPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func (l *Local) objectPath(key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	path := filepath.Join(l.root, filepath.FromSlash(key))
	if !strings.HasPrefix(path, filepath.Clean(l.root)+string(os.PathSeparator)) {
		return "", fmt.Errorf("object key escapes storage root")
	}
	return path, nil
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("object key is required")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "..") || strings.Contains(key, "\\") {
		return fmt.Errorf("invalid object key %q", key)
	}
	return nil
}

var _ Provider = (*Local)(nil)
