// Package profile turns stored profile image references into URLs a client
// can fetch.
package profile

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

const objectScheme = "s3://"

// DefaultURLTTL is how long a presigned profile URL stays valid.
const DefaultURLTTL = 15 * time.Minute

// Presigner issues temporary GET URLs for stored objects.
type Presigner interface {
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

// ClientConfig holds the object store connection settings.
type ClientConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// NewMinIOClient connects to an S3 compatible object store.
func NewMinIOClient(cfg ClientConfig) (*minio.Client, error) {
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
}

// Resolver maps profile references to URLs. References of the form
// s3://bucket/key, or bare object keys when a default bucket is set, are
// presigned; anything else is returned unchanged.
type Resolver struct {
	presigner Presigner
	bucket    string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewResolver builds a Resolver. A nil presigner disables presigning.
func NewResolver(presigner Presigner, defaultBucket string, ttl time.Duration, logger *zap.Logger) *Resolver {
	if ttl <= 0 {
		ttl = DefaultURLTTL
	}
	return &Resolver{
		presigner: presigner,
		bucket:    defaultBucket,
		ttl:       ttl,
		logger:    logger.Named("profile_resolver"),
	}
}

// Resolve returns a fetchable URL for ref. Presigning failures fall back to
// ref itself.
func (r *Resolver) Resolve(ctx context.Context, ref string) string {
	if r == nil || r.presigner == nil || ref == "" {
		return ref
	}
	bucket, key, ok := r.objectOf(ref)
	if !ok {
		return ref
	}
	u, err := r.presigner.PresignedGetObject(ctx, bucket, key, r.ttl, nil)
	if err != nil {
		r.logger.Warn("failed to presign profile image",
			zap.String("bucket", bucket),
			zap.String("key", key),
			zap.Error(err),
		)
		return ref
	}
	return u.String()
}

func (r *Resolver) objectOf(ref string) (bucket, key string, ok bool) {
	if rest, found := strings.CutPrefix(ref, objectScheme); found {
		bucket, key, ok = strings.Cut(rest, "/")
		return bucket, key, ok && bucket != "" && key != ""
	}
	if strings.Contains(ref, "://") || r.bucket == "" {
		return "", "", false
	}
	return r.bucket, strings.TrimPrefix(ref, "/"), true
}
