package provider

import (
	"context"
	"testing"
)

type stubProvider struct {
	tag Tag
}

func (s stubProvider) Tag() Tag                             { return s.tag }
func (s stubProvider) MaxUploadBytes() int64                { return 1 << 20 }
func (s stubProvider) DownloadURL(string) string            { return "" }
func (s stubProvider) Delete(context.Context, string) error { return nil }
func (s stubProvider) UploadTarget(context.Context, string, string, int64) (UploadTarget, error) {
	return UploadTarget{}, nil
}

func TestRegistryPrecedence(t *testing.T) {
	cases := []struct {
		name string
		tags []Tag
		want Tag
	}{
		{"cdn beats s3 and local", []Tag{TagLocal, TagS3, TagMediaCDN}, TagMediaCDN},
		{"s3 beats local", []Tag{TagLocal, TagS3}, TagS3},
		{"local alone", []Tag{TagLocal}, TagLocal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			providers := make([]Provider, 0, len(tc.tags))
			for _, tag := range tc.tags {
				providers = append(providers, stubProvider{tag: tag})
			}
			registry, err := NewRegistry(providers...)
			if err != nil {
				t.Fatalf("new registry: %v", err)
			}
			if got := registry.Active().Tag(); got != tc.want {
				t.Fatalf("expected active %s, got %s", tc.want, got)
			}
		})
	}
}

func TestRegistryRequiresProviders(t *testing.T) {
	if _, err := NewRegistry(); err == nil {
		t.Fatal("expected error with no providers")
	}
	if _, err := NewRegistry(nil, nil); err == nil {
		t.Fatal("expected error with only nil providers")
	}
}

func TestRegistryByTag(t *testing.T) {
	registry, err := NewRegistry(stubProvider{tag: TagLocal})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if _, err := registry.ByTag(TagLocal); err != nil {
		t.Fatalf("expected configured tag to resolve: %v", err)
	}
	if _, err := registry.ByTag(TagS3); err == nil {
		t.Fatal("expected unconfigured tag to fail")
	}
}
