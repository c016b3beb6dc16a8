package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config configures the S3-compatible provider. Endpoint supports
// non-AWS deployments (MinIO and friends) with path-style addressing.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	// CDNBaseURL, when set, fronts download URLs instead of the bucket origin.
	CDNBaseURL string
	// PresignTTL bounds how long an issued upload target stays valid.
	PresignTTL time.Duration
	// ServerSideEncryption, when set, is requested on every upload.
	ServerSideEncryption string
	MaxBytes             int64
}

const (
	defaultPresignTTL    = time.Hour
	defaultS3MaxBytes    = 500 << 20
	defaultDownloadShape = "https://%s.s3.%s.amazonaws.com/%s"
)

// presignAPI is the slice of the AWS presign client this provider needs.
type presignAPI interface {
	PresignPutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// objectAPI is the slice of the S3 client used for deletes.
type objectAPI interface {
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3 issues presigned PUT targets so clients upload directly to the bucket.
type S3 struct {
	cfg      S3Config
	presign  presignAPI
	objects  objectAPI
	ttl      time.Duration
	maxBytes int64
}

// NewS3 builds the provider, resolving static credentials when provided and
// falling back to the ambient AWS credential chain otherwise.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if strings.TrimSpace(cfg.Region) == "" {
		return nil, fmt.Errorf("s3 region is required")
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3(cfg, s3.NewPresignClient(client), client), nil
}

func newS3(cfg S3Config, presign presignAPI, objects objectAPI) *S3 {
	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = defaultPresignTTL
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultS3MaxBytes
	}
	return &S3{cfg: cfg, presign: presign, objects: objects, ttl: ttl, maxBytes: maxBytes}
}

func (p *S3) Tag() Tag { return TagS3 }

func (p *S3) MaxUploadBytes() int64 { return p.maxBytes }

// UploadTarget presigns a PUT for the object key. The content type and, when
// configured, server-side encryption are baked into the signature, so the
// client must send matching headers.
func (p *S3) UploadTarget(ctx context.Context, key, contentType string, sizeBytes int64) (UploadTarget, error) {
	if err := validateKey(key); err != nil {
		return UploadTarget{}, err
	}
	input := &s3.PutObjectInput{
		Bucket:        aws.String(p.cfg.Bucket),
		Key:           aws.String(key),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(sizeBytes),
	}
	if p.cfg.ServerSideEncryption != "" {
		// The encryption header has to be part of the signature or S3
		// rejects the presigned PUT when the client sends it.
		input.ServerSideEncryption = types.ServerSideEncryption(p.cfg.ServerSideEncryption)
	}
	request, err := p.presign.PresignPutObject(ctx, input, s3.WithPresignExpires(p.ttl))
	if err != nil {
		return UploadTarget{}, fmt.Errorf("presign upload: %w", err)
	}
	headers := map[string]string{"Content-Type": contentType}
	if p.cfg.ServerSideEncryption != "" {
		headers["x-amz-server-side-encryption"] = p.cfg.ServerSideEncryption
	}
	return UploadTarget{
		Method:    request.Method,
		URL:       request.URL,
		Headers:   headers,
		ExpiresAt: time.Now().UTC().Add(p.ttl),
	}, nil
}

// DownloadURL prefers the configured CDN front; otherwise it shapes the
// standard virtual-hosted bucket URL.
func (p *S3) DownloadURL(key string) string {
	if base := strings.TrimRight(p.cfg.CDNBaseURL, "/"); base != "" {
		return base + "/" + key
	}
	if endpoint := strings.TrimRight(p.cfg.Endpoint, "/"); endpoint != "" {
		return endpoint + "/" + p.cfg.Bucket + "/" + key
	}
	return fmt.Sprintf(defaultDownloadShape, p.cfg.Bucket, p.cfg.Region, key)
}

// Delete removes the object. S3 treats deleting an absent key as success,
// which matches the provider contract.
func (p *S3) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	_, err := p.objects.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

var _ Provider = (*S3)(nil)
