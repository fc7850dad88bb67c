package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/docutag/shopscraper/models"
)

// S3Config contains S3 storage configuration
type S3Config struct {
	Endpoint        string `yaml:"endpoint"`          // Optional: Custom endpoint for MinIO or DigitalOcean Spaces
	Region          string `yaml:"region"`            // AWS region or DO region (e.g., "us-east-1" or "sfo3")
	Bucket          string `yaml:"bucket"`            // S3 bucket name
	AccessKeyID     string `yaml:"access_key_id"`     // AWS access key ID
	SecretAccessKey string `yaml:"secret_access_key"` // AWS secret access key
	UsePathStyle    bool   `yaml:"use_path_style"`    // Use path-style addressing (required for MinIO)
}

// S3Storage archives pages in an S3-compatible bucket
type S3Storage struct {
	client *s3.Client
	bucket string
	config S3Config
}

// NewS3Storage creates a new S3Storage instance
func NewS3Storage(ctx context.Context, cfg S3Config) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("S3 region is required")
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("S3 credentials are required")
	}

	// Build AWS config
	var opts []func(*config.LoadOptions) error

	opts = append(opts, config.WithRegion(cfg.Region))
	opts = append(opts, config.WithCredentialsProvider(
		credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
	))

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Create S3 client with custom options
	s3Opts := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}

	client := s3.NewFromConfig(awsConfig, s3Opts)

	return &S3Storage{
		client: client,
		bucket: cfg.Bucket,
		config: cfg,
	}, nil
}

// SavePage uploads the page body and its metadata sidecar.
// Returns the S3 key (path within bucket) without suffix.
func (s *S3Storage) SavePage(ctx context.Context, page models.RawPage) (string, error) {
	key := pageKey(page)

	meta, err := encodeMeta(page)
	if err != nil {
		return "", err
	}

	if err := s.put(ctx, key+bodySuffix, page.Content, "text/html; charset=utf-8"); err != nil {
		return "", fmt.Errorf("failed to upload page to S3: %w", err)
	}
	if err := s.put(ctx, key+metaSuffix, meta, "application/json"); err != nil {
		return "", fmt.Errorf("failed to upload page metadata to S3: %w", err)
	}

	return key, nil
}

// LoadPage downloads an archived page
func (s *S3Storage) LoadPage(ctx context.Context, key string) (models.RawPage, error) {
	body, err := s.get(ctx, key+bodySuffix)
	if err != nil {
		return models.RawPage{}, fmt.Errorf("failed to get page from S3: %w", err)
	}
	meta, err := s.get(ctx, key+metaSuffix)
	if err != nil {
		return models.RawPage{}, fmt.Errorf("failed to get page metadata from S3: %w", err)
	}
	return decodeMeta(meta, body)
}

// ListPages returns every archived page key in the bucket
func (s *S3Storage) ListPages(ctx context.Context) ([]string, error) {
	var keys []string

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(pagesPrefix + "/"),
	})
	for paginator.HasMorePages() {
		out, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list pages in S3: %w", err)
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, metaSuffix) {
				keys = append(keys, strings.TrimSuffix(key, metaSuffix))
			}
		}
	}

	sort.Strings(keys)
	return keys, nil
}

// DeletePage deletes an archived page from S3
func (s *S3Storage) DeletePage(ctx context.Context, key string) error {
	for _, suffix := range []string{bodySuffix, metaSuffix} {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key + suffix),
		})
		if err != nil {
			return fmt.Errorf("failed to delete page from S3: %w", err)
		}
	}
	return nil
}

// GetFullPath returns the s3:// URL for a key
func (s *S3Storage) GetFullPath(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}

func (s *S3Storage) put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	return err
}

func (s *S3Storage) get(ctx context.Context, key string) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%w: %s", ErrNotArchived, key)
		}
		return nil, err
	}
	defer result.Body.Close()

	return io.ReadAll(result.Body)
}
