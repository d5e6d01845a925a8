// Package storage resolves opaque media locators into time-limited download
// URLs. The portal never stores file bytes itself; the upload pipeline writes
// objects and hands the core their locators.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Resolver issues presigned GET URLs for stored variants.
type Resolver interface {
	ResolveURL(ctx context.Context, locator string) (string, error)
}

// S3Resolver resolves locators against an S3-compatible bucket.
// Works with AWS S3, MinIO, DigitalOcean Spaces, Cloudflare R2, etc.
type S3Resolver struct {
	presign *s3.PresignClient
	bucket  string
	expiry  time.Duration
}

// Options configures the resolver.
type Options struct {
	Region   string
	Bucket   string
	Endpoint string // optional, for S3-compatible services
	Expiry   time.Duration
}

// New constructs an S3Resolver.
func New(ctx context.Context, opts Options) (*S3Resolver, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("platform/storage: load aws config: %w", err)
	}

	var client *s3.Client
	if opts.Endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true // required for MinIO
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	expiry := opts.Expiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}

	return &S3Resolver{
		presign: s3.NewPresignClient(client),
		bucket:  opts.Bucket,
		expiry:  expiry,
	}, nil
}

// ResolveURL presigns a GET for the object named by the locator. Locators of
// the form s3://bucket/key override the default bucket; anything else is
// treated as a key in the configured bucket.
func (r *S3Resolver) ResolveURL(ctx context.Context, locator string) (string, error) {
	bucket, key := r.bucket, locator
	if rest, ok := strings.CutPrefix(locator, "s3://"); ok {
		b, k, found := strings.Cut(rest, "/")
		if !found || k == "" {
			return "", fmt.Errorf("platform/storage: malformed locator %q", locator)
		}
		bucket, key = b, k
	}

	req, err := r.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(r.expiry))
	if err != nil {
		return "", fmt.Errorf("platform/storage: presign %q: %w", locator, err)
	}
	return req.URL, nil
}
