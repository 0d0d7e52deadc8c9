package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
)

type Config struct {
	Endpoint string
	Access   string
	Secret   string
	Bucket   string
	UseSSL   bool
	// ExpirePrefix and ExpireDays install a bucket lifecycle rule that
	// removes objects under the prefix. Zero days leaves objects forever.
	ExpirePrefix string
	ExpireDays   int
}

// Client stores export archives in one S3 compatible bucket.
type Client struct {
	minio        *minio.Client
	bucket       string
	expirePrefix string
	expireDays   int
}

func NewClient(cfg Config) (*Client, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}

	mc, err := minio.New(strings.TrimSpace(cfg.Endpoint), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Access, cfg.Secret, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &Client{
		minio:        mc,
		bucket:       bucket,
		expirePrefix: strings.Trim(cfg.ExpirePrefix, "/"),
		expireDays:   cfg.ExpireDays,
	}, nil
}

func (c *Client) Bucket() string {
	return c.bucket
}

// EnsureBucket creates the bucket when missing and applies the archive
// expiry rule.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.minio.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("check bucket existence: %w", err)
	}
	if !exists {
		if err := c.minio.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
			// another replica may have won the race
			exists, checkErr := c.minio.BucketExists(ctx, c.bucket)
			if checkErr != nil || !exists {
				return fmt.Errorf("create bucket %s: %w", c.bucket, err)
			}
		}
	}

	if c.expireDays <= 0 {
		return nil
	}
	rules := lifecycle.NewConfiguration()
	rules.Rules = []lifecycle.Rule{{
		ID:         "expire-" + strings.ReplaceAll(c.expirePrefix, "/", "-"),
		Status:     "Enabled",
		RuleFilter: lifecycle.Filter{Prefix: c.expirePrefix + "/"},
		Expiration: lifecycle.Expiration{Days: lifecycle.ExpirationDays(c.expireDays)},
	}}
	if err := c.minio.SetBucketLifecycle(ctx, c.bucket, rules); err != nil {
		return fmt.Errorf("set lifecycle on %s: %w", c.bucket, err)
	}
	return nil
}

// WriteObject uploads data with a Content-Disposition naming the object's
// base name, so browsers save downloads under the archive name.
func (c *Client) WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error {
	_, err := c.minio.PutObject(
		ctx,
		c.bucket,
		objectKey,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{
			ContentType:        contentType,
			ContentDisposition: attachment(objectKey),
		},
	)
	if err != nil {
		return fmt.Errorf("put object %s: %w", objectKey, err)
	}
	return nil
}

func (c *Client) PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	params := url.Values{}
	params.Set("response-content-disposition", attachment(objectKey))

	u, err := c.minio.PresignedGetObject(ctx, c.bucket, objectKey, expiry, params)
	if err != nil {
		return "", fmt.Errorf("presign get object %s: %w", objectKey, err)
	}
	return u.String(), nil
}

// RemoveObject deletes an archive. Missing objects are not an error.
func (c *Client) RemoveObject(ctx context.Context, objectKey string) error {
	if err := c.minio.RemoveObject(ctx, c.bucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil
		}
		return fmt.Errorf("remove object %s: %w", objectKey, err)
	}
	return nil
}

func attachment(objectKey string) string {
	return fmt.Sprintf("attachment; filename=%q", path.Base(objectKey))
}
