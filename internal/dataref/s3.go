package dataref

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cortexdata/cortex/internal/domain"
)

// S3Config configures the S3Resolver.
type S3Config struct {
	Region         string
	Bucket         string
	Endpoint       string // non-empty for S3-compatible stores (MinIO, etc).
	ForcePathStyle bool
}

// S3Resolver resolves "s3://bucket/key" handles (or bare keys against
// the configured default bucket) by fetching the object from S3.
type S3Resolver struct {
	client *s3.Client
	bucket string
}

// NewS3Resolver loads AWS credentials from the default chain (env vars,
// shared config, instance/task role) and builds an S3Resolver.
func NewS3Resolver(ctx context.Context, cfg S3Config) (*S3Resolver, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, domain.SandboxUnavailablef("loading AWS config: %v", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &S3Resolver{client: client, bucket: cfg.Bucket}, nil
}

func (r *S3Resolver) Resolve(ctx context.Context, handle domain.TableHandle) ([]byte, error) {
	bucket, key, err := splitS3URI(handle.URI, r.bucket)
	if err != nil {
		return nil, domain.DataUnavailablef("%v", err)
	}

	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, domain.DataUnavailablef("fetching s3://%s/%s: %v", bucket, key, err)
	}
	defer out.Body.Close()

	buf := &bytes.Buffer{}
	if _, err := io.Copy(buf, out.Body); err != nil {
		return nil, domain.DataUnavailablef("reading s3://%s/%s: %v", bucket, key, err)
	}
	return buf.Bytes(), nil
}

func splitS3URI(uri, defaultBucket string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(uri, "s3://")
	if rest == uri {
		if defaultBucket == "" {
			return "", "", fmt.Errorf("handle %q has no s3:// scheme and no default bucket configured", uri)
		}
		return defaultBucket, strings.TrimPrefix(rest, "/"), nil
	}
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("handle %q is not a well-formed s3://bucket/key URI", uri)
	}
	return parts[0], parts[1], nil
}
