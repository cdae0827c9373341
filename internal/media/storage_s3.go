/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// S3Config describes how to reach an S3-compatible object store.
type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Endpoint        string // For S3-compatible services (MinIO, etc.)
	UsePathStyle    bool
}

// S3Source reads tracks addressed as s3://bucket/key.
type S3Source struct {
	client *s3.Client
	logger zerolog.Logger
}

// NewS3Source builds an S3 client from cfg. Static credentials are used when
// both halves are set, otherwise the default AWS credential chain applies.
func NewS3Source(ctx context.Context, cfg S3Config, logger zerolog.Logger) (*S3Source, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	logger.Debug().Str("region", cfg.Region).Str("endpoint", cfg.Endpoint).Msg("S3 source initialized")
	return &S3Source{client: client, logger: logger}, nil
}

// Fetch downloads the object named by trackURL.
func (s *S3Source) Fetch(ctx context.Context, trackURL string) ([]byte, error) {
	bucket, key, err := parseS3URL(trackURL)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3 object %s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(io.LimitReader(out.Body, maxTrackBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read s3 object: %w", err)
	}
	if len(body) > maxTrackBytes {
		return nil, fmt.Errorf("track exceeds %d bytes", maxTrackBytes)
	}
	return body, nil
}

func parseS3URL(raw string) (bucket, key string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse s3 url: %w", err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("not an s3 url: %q", raw)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("s3 url %q has no key", raw)
	}
	return u.Host, key, nil
}
