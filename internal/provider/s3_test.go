package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakePresigner struct {
	lastInput *s3.PutObjectInput
	err       error
}

func (f *fakePresigner) PresignPutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	f.lastInput = input
	if f.err != nil {
		return nil, f.err
	}
	return &v4.PresignedHTTPRequest{
		URL:    "https://bucket.s3.test/" + *input.Key + "?signature=abc",
		Method: "PUT",
	}, nil
}

type fakeObjects struct {
	deleted []string
	err     error
}

func (f *fakeObjects) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deleted = append(f.deleted, *input.Key)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3UploadTarget(t *testing.T) {
	presigner := &fakePresigner{}
	p := newS3(S3Config{
		Bucket:               "vault-media",
		Region:               "eu-west-1",
		ServerSideEncryption: "AES256",
		PresignTTL:           30 * time.Minute,
	}, presigner, &fakeObjects{})

	target, err := p.UploadTarget(context.Background(), "album-1/m1-beach.jpg", "image/jpeg", 2048)
	if err != nil {
		t.Fatalf("upload target: %v", err)
	}
	if target.Method != "PUT" {
		t.Fatalf("expected PUT, got %s", target.Method)
	}
	if target.URL == "" {
		t.Fatal("expected presigned url")
	}
	if target.Headers["Content-Type"] != "image/jpeg" {
		t.Fatalf("expected content type header, got %v", target.Headers)
	}
	if target.Headers["x-amz-server-side-encryption"] != "AES256" {
		t.Fatalf("expected sse header, got %v", target.Headers)
	}
	if *presigner.lastInput.Bucket != "vault-media" || *presigner.lastInput.ContentLength != 2048 {
		t.Fatalf("unexpected presign input %+v", presigner.lastInput)
	}
	// Encryption must be on the signed input, not just the advertised headers.
	if presigner.lastInput.ServerSideEncryption != types.ServerSideEncryptionAes256 {
		t.Fatalf("expected SSE on presign input, got %q", presigner.lastInput.ServerSideEncryption)
	}
	if remaining := time.Until(target.ExpiresAt); remaining > 30*time.Minute || remaining < 29*time.Minute {
		t.Fatalf("expected ~30m expiry, got %v", remaining)
	}
}

func TestS3UploadTargetPresignFailure(t *testing.T) {
	p := newS3(S3Config{Bucket: "b", Region: "r"}, &fakePresigner{err: errors.New("denied")}, &fakeObjects{})
	if _, err := p.UploadTarget(context.Background(), "k.jpg", "image/jpeg", 1); err == nil {
		t.Fatal("expected presign error to surface")
	}
}

func TestS3DownloadURLPrecedence(t *testing.T) {
	cases := []struct {
		name string
		cfg  S3Config
		want string
	}{
		{
			name: "cdn front wins",
			cfg:  S3Config{Bucket: "b", Region: "us-east-1", Endpoint: "https://minio.test", CDNBaseURL: "https://cdn.test/"},
			want: "https://cdn.test/album/x.jpg",
		},
		{
			name: "custom endpoint",
			cfg:  S3Config{Bucket: "b", Region: "us-east-1", Endpoint: "https://minio.test"},
			want: "https://minio.test/b/album/x.jpg",
		},
		{
			name: "default virtual hosted",
			cfg:  S3Config{Bucket: "b", Region: "us-east-1"},
			want: "https://b.s3.us-east-1.amazonaws.com/album/x.jpg",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newS3(tc.cfg, &fakePresigner{}, &fakeObjects{})
			if got := p.DownloadURL("album/x.jpg"); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestS3Delete(t *testing.T) {
	objects := &fakeObjects{}
	p := newS3(S3Config{Bucket: "b", Region: "r"}, &fakePresigner{}, objects)

	if err := p.Delete(context.Background(), "album/x.jpg"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(objects.deleted) != 1 || objects.deleted[0] != "album/x.jpg" {
		t.Fatalf("unexpected deletes %v", objects.deleted)
	}
	if err := p.Delete(context.Background(), "../bad"); err == nil {
		t.Fatal("expected key validation")
	}
}

func TestNewS3RequiresBucketAndRegion(t *testing.T) {
	if _, err := NewS3(context.Background(), S3Config{Region: "r"}); err == nil {
		t.Fatal("expected bucket requirement")
	}
	if _, err := NewS3(context.Background(), S3Config{Bucket: "b"}); err == nil {
		t.Fatal("expected region requirement")
	}
}
