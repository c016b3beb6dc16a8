// Package provider abstracts where uploaded bytes live. Each provider issues
// upload targets the client can write to directly, resolves download URLs,
// and deletes stored objects. The active provider is chosen once at startup;
// media rows remember which provider stored them so mixed histories keep
// resolving.
package provider

import (
	"context"
	"fmt"
	"time"
)

// Tag identifies a storage provider implementation. The values are persisted
// on media rows, so they are part of the storage contract.
type Tag string

const (
	TagLocal    Tag = "local"
	TagS3       Tag = "s3"
	TagMediaCDN Tag = "mediacdn"
)

// UploadTarget tells a client how to deliver the file bytes. For direct-to-
// storage providers this is a presigned request; for the local provider it
// points back at the API itself.
type UploadTarget struct {
	Method    string            `json:"method"`
	URL       string            `json:"url"`
	Fields    map[string]string `json:"fields,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

// Provider is the contract every storage backend satisfies. Delete must be
// idempotent: deleting an absent object succeeds.
type Provider interface {
	Tag() Tag
	UploadTarget(ctx context.Context, key, contentType string, sizeBytes int64) (UploadTarget, error)
	DownloadURL(key string) string
	Delete(ctx context.Context, key string) error
	MaxUploadBytes() int64
}

// Registry holds the configured providers and the one selected as active.
type Registry struct {
	active    Provider
	providers map[Tag]Provider
}

// NewRegistry selects the active provider by fixed precedence: a managed
// media CDN wins over S3, which wins over local disk. At least one provider
// must be supplied.
func NewRegistry(providers ...Provider) (*Registry, error) {
	registry := &Registry{providers: make(map[Tag]Provider, len(providers))}
	for _, p := range providers {
		if p == nil {
			continue
		}
		registry.providers[p.Tag()] = p
	}
	if len(registry.providers) == 0 {
		return nil, fmt.Errorf("at least one storage provider is required")
	}
	for _, tag := range []Tag{TagMediaCDN, TagS3, TagLocal} {
		if p, ok := registry.providers[tag]; ok {
			registry.active = p
			break
		}
	}
	if registry.active == nil {
		// Providers with unknown tags; take any deterministically is not
		// possible over a map, so reject instead.
		return nil, fmt.Errorf("no provider with a recognised tag configured")
	}
	return registry, nil
}

// Active returns the provider used for new uploads.
func (r *Registry) Active() Provider {
	return r.active
}

// ByTag resolves the provider that stored an existing media row. Lookups for
// providers no longer configured fail, which surfaces misconfiguration
// instead of silently orphaning objects.
func (r *Registry) ByTag(tag Tag) (Provider, error) {
	p, ok := r.providers[tag]
	if !ok {
		return nil, fmt.Errorf("storage provider %q not configured", tag)
	}
	return p, nil
}
