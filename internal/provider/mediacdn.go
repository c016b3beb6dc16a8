package provider

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

// MediaCDNConfig configures the managed media CDN provider. The CDN hosts
// objects itself and serves derived renditions (thumbnails, format
// conversion) straight from delivery URLs.
type MediaCDNConfig struct {
	CloudName string
	APIKey    string
	APISecret string
	// UploadPreset, when set, is passed along as a signed upload parameter.
	UploadPreset string
	// Folder prefixes stored public IDs.
	Folder string
	// Transformation is applied to image delivery URLs, e.g. "q_auto,f_auto".
	Transformation string
	// BaseURL overrides the API origin, for tests.
	BaseURL  string
	MaxBytes int64
	// HTTPClient overrides the client used for management calls.
	HTTPClient *http.Client
}

const (
	defaultMediaCDNBase     = "https://api.cloudinary.com/v1_1"
	defaultMediaCDNDelivery = "https://res.cloudinary.com"
	defaultMediaCDNMax      = 200 << 20
	signedTargetTTL         = time.Hour
)

// MediaCDN uploads go directly from the client to the CDN using a signed
// parameter set; this process only ever talks to the management API for
// deletes.
type MediaCDN struct {
	cfg      MediaCDNConfig
	base     string
	client   *http.Client
	maxBytes int64
	now      func() time.Time
}

// NewMediaCDN validates the account credentials and builds the provider.
func NewMediaCDN(cfg MediaCDNConfig) (*MediaCDN, error) {
	if strings.TrimSpace(cfg.CloudName) == "" {
		return nil, fmt.Errorf("media cdn cloud name is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.APISecret) == "" {
		return nil, fmt.Errorf("media cdn api credentials are required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultMediaCDNBase
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMediaCDNMax
	}
	return &MediaCDN{cfg: cfg, base: base, client: client, maxBytes: maxBytes, now: time.Now}, nil
}

func (m *MediaCDN) Tag() Tag { return TagMediaCDN }

func (m *MediaCDN) MaxUploadBytes() int64 { return m.maxBytes }

// signParams produces the request signature: the contractual parameters are
// sorted by name, joined as key=value pairs with '&', and the API secret is
// appended before hashing. api_key, file, and resource_type are excluded from
// signing by the CDN's contract.
func (m *MediaCDN) signParams(params map[string]string) string {
	names := make([]string, 0, len(params))
	for name, value := range params {
		if value == "" {
			continue
		}
		switch name {
		case "api_key", "file", "resource_type":
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+params[name])
	}
	sum := sha1.Sum([]byte(strings.Join(pairs, "&") + m.cfg.APISecret))
	return hex.EncodeToString(sum[:])
}

// UploadTarget returns the signed form fields the client POSTs alongside the
// file to the CDN's upload endpoint.
func (m *MediaCDN) UploadTarget(_ context.Context, key, contentType string, _ int64) (UploadTarget, error) {
	if err := validateKey(key); err != nil {
		return UploadTarget{}, err
	}
	resource := resourceTypeFor(key, contentType)
	params := map[string]string{
		"public_id": m.publicID(key),
		"timestamp": strconv.FormatInt(m.now().UTC().Unix(), 10),
	}
	if m.cfg.UploadPreset != "" {
		params["upload_preset"] = m.cfg.UploadPreset
	}
	signature := m.signParams(params)
	fields := map[string]string{
		"api_key":   m.cfg.APIKey,
		"signature": signature,
	}
	for name, value := range params {
		fields[name] = value
	}
	return UploadTarget{
		Method:    "POST",
		URL:       fmt.Sprintf("%s/%s/%s/upload", m.base, m.cfg.CloudName, resource),
		Fields:    fields,
		ExpiresAt: m.now().UTC().Add(signedTargetTTL),
	}, nil
}

// DownloadURL shapes a delivery URL, inserting the configured transformation
// for images. The CDN serves derived renditions on the fly, so thumbnails
// are a URL shape rather than a stored object.
func (m *MediaCDN) DownloadURL(key string) string {
	resource := resourceTypeFor(key, "")
	segments := []string{defaultMediaCDNDelivery, m.cfg.CloudName, resource, "upload"}
	if resource == "image" && m.cfg.Transformation != "" {
		segments = append(segments, m.cfg.Transformation)
	}
	segments = append(segments, m.publicID(key)+path.Ext(key))
	return strings.Join(segments, "/")
}

// Delete destroys the stored asset. The CDN reports "not found" as a normal
// result, which this treats as success per the provider contract.
func (m *MediaCDN) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	resource := resourceTypeFor(key, "")
	params := map[string]string{
		"public_id": m.publicID(key),
		"timestamp": strconv.FormatInt(m.now().UTC().Unix(), 10),
	}
	form := url.Values{}
	for name, value := range params {
		form.Set(name, value)
	}
	form.Set("api_key", m.cfg.APIKey)
	form.Set("signature", m.signParams(params))

	endpoint := fmt.Sprintf("%s/%s/%s/destroy", m.base, m.cfg.CloudName, resource)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build destroy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("destroy asset: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("destroy asset: unexpected status %d", resp.StatusCode)
	}
	var payload struct {
		Result string `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode destroy response: %w", err)
	}
	if payload.Result != "ok" && payload.Result != "not found" {
		return fmt.Errorf("destroy asset: result %q", payload.Result)
	}
	return nil
}

// publicID strips the file extension; the CDN keys assets without one.
func (m *MediaCDN) publicID(key string) string {
	id := strings.TrimSuffix(key, path.Ext(key))
	if m.cfg.Folder != "" {
		return strings.TrimRight(m.cfg.Folder, "/") + "/" + id
	}
	return id
}

// resourceTypeFor infers the CDN resource class from the content type when
// present, else from the key's extension. Deletes only have the key.
func resourceTypeFor(key, contentType string) string {
	if strings.HasPrefix(contentType, "video/") {
		return "video"
	}
	if strings.HasPrefix(contentType, "image/") {
		return "image"
	}
	switch strings.ToLower(path.Ext(key)) {
	case ".mp4", ".mov", ".webm":
		return "video"
	default:
		return "image"
	}
}

var _ Provider = (*MediaCDN)(nil)
