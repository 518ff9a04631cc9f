// Package r2 mirrors finished downloads to Cloudflare R2.
package r2

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/emanuelef/yt-dl-relay/pkg/safeclient"
)

const (
	uploadPartSize    = 16 * 1024 * 1024
	uploadConcurrency = 3
)

// ErrIncompleteConfig is returned when credentials or bucket are missing.
var ErrIncompleteConfig = errors.New("incomplete R2 configuration")

// Config holds configuration for R2 client.
type Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

// Client provides operations for Cloudflare R2 storage.
type Client struct {
	s3Client   *s3.Client
	bucketName string
	publicURL  string
}

// NewClient creates a new R2 client.
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg.AccountID == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" || cfg.BucketName == "" {
		return nil, ErrIncompleteConfig
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		config.WithRegion("auto"),
		config.WithHTTPClient(safeclient.NewSafeHTTPClientWithTimeout(10*time.Minute)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	slog.Info("R2 client initialized",
		"bucket", cfg.BucketName,
		"endpoint", endpoint,
	)

	return &Client{
		s3Client:   s3Client,
		bucketName: cfg.BucketName,
		publicURL:  cfg.PublicURL,
	}, nil
}

// Upload uploads a local file under key. Large files are sent as a
// multipart upload.
func (c *Client) Upload(ctx context.Context, filePath, key string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	contentType := ContentType(filePath)

	uploader := manager.NewUploader(c.s3Client, func(u *manager.Uploader) {
		u.PartSize = uploadPartSize
		u.Concurrency = uploadConcurrency
	})

	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucketName),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to R2: %w", err)
	}

	slog.Info("File mirrored to R2",
		"key", key,
		"size", fileInfo.Size(),
		"content_type", contentType,
		"url", c.PublicURL(key),
	)

	return nil
}

// Exists reports whether key is already in the bucket.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}

	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check object: %w", err)
}

// PublicURL returns the public address of key, or "" when none is set.
func (c *Client) PublicURL(key string) string {
	if c.publicURL == "" {
		return ""
	}
	return c.publicURL + "/" + key
}

// Delete deletes a file from R2.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from R2: %w", err)
	}

	slog.Debug("File deleted from R2", "key", key)
	return nil
}

// ListOlderThan returns keys of objects older than the specified age.
func (c *Client) ListOlderThan(ctx context.Context, age time.Duration) ([]string, error) {
	threshold := time.Now().Add(-age)
	var oldKeys []string

	paginator := s3.NewListObjectsV2Paginator(c.s3Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucketName),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}

		for _, obj := range page.Contents {
			if obj.Key != nil && obj.LastModified != nil && obj.LastModified.Before(threshold) {
				oldKeys = append(oldKeys, *obj.Key)
			}
		}
	}

	return oldKeys, nil
}

// DeleteOlderThan deletes objects older than the specified age.
func (c *Client) DeleteOlderThan(ctx context.Context, age time.Duration) (int, error) {
	keys, err := c.ListOlderThan(ctx, age)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, key := range keys {
		if err := c.Delete(ctx, key); err != nil {
			slog.Warn("Failed to delete old file",
				"key", key,
				"error", err,
			)
			continue
		}
		deleted++
	}

	return deleted, nil
}

// ContentType returns the MIME type for a downloaded file.
func ContentType(filePath string) string {
	switch ext := filepath.Ext(filePath); ext {
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	case ".m4a":
		return "audio/mp4"
	case ".webp":
		return "image/webp"
	default:
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
		return "application/octet-stream"
	}
}
