package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"tradeline/internal/config"
)

// S3 keeps attachments in a bucket and resolves refs to presigned GET URLs.
type S3 struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	ttl     time.Duration
	Now     func() time.Time
}

func NewS3(ctx context.Context, env config.StorageEnv) (*S3, error) {
	if env.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	awsCfg, err := buildAWSConfig(ctx, env)
	if err != nil {
		return nil, fmt.Errorf("failed to build AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = env.PathStyle
		if env.Endpoint != "" {
			o.BaseEndpoint = aws.String(env.Endpoint)
		}
	})
	ttl := time.Duration(env.URLTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &S3{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  env.Bucket,
		ttl:     ttl,
		Now:     time.Now,
	}, nil
}

func (s *S3) Upload(ctx context.Context, projectID, name, contentType string, data []byte) (string, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	key := objectKey(projectID, name, now())
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("failed to put object: %w", err)
	}
	return key, nil
}

func (s *S3) URLFor(ctx context.Context, ref string) (string, error) {
	if err := validRef(ref); err != nil {
		return "", err
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return "", fmt.Errorf("presign object: %w", err)
	}
	return req.URL, nil
}

func buildAWSConfig(ctx context.Context, env config.StorageEnv) (aws.Config, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	if env.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(env.Region))
	}
	if env.AccessKey != "" && env.SecretKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(env.AccessKey, env.SecretKey, ""),
		))
	}
	return awsconfig.LoadDefaultConfig(ctx, optFns...)
}
