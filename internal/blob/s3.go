package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config describes an S3 or S3-compatible (MinIO) bucket.
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// S3Store keeps objects in an S3 bucket.
type S3Store struct {
	config S3Config
	client *s3.Client
}

// NewS3Store returns a store for the configured bucket. No network traffic
// happens until Connect.
func NewS3Store(cfg S3Config) *S3Store {
	return &S3Store{config: cfg}
}

// Connect loads the client configuration and verifies the bucket is reachable.
func (s *S3Store) Connect(ctx context.Context) error {
	if s.config.Bucket == "" {
		return fmt.Errorf("blob: s3 bucket is required")
	}
	options := []func(*config.LoadOptions) error{
		config.WithRegion(s.config.Region),
	}
	if s.config.Endpoint != "" {
		options = append(options, config.WithBaseEndpoint(s.config.Endpoint))
	}
	if s.config.AccessKey != "" {
		accessKey, secretKey := s.config.AccessKey, s.config.SecretKey
		options = append(options, config.WithCredentialsProvider(aws.CredentialsProviderFunc(
			func(context.Context) (aws.Credentials, error) {
				return aws.Credentials{AccessKeyID: accessKey, SecretAccessKey: secretKey}, nil
			})))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return fmt.Errorf("blob: load aws config: %w", err)
	}
	s.client = s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.config.Bucket)}); err != nil {
		return fmt.Errorf("blob: bucket %s unreachable: %w", s.config.Bucket, err)
	}
	return nil
}

func (s *S3Store) Close() error { return nil }

func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	if err := s.ready(key); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.config.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("blob: put %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.ready(key); err != nil {
		return nil, err
	}
	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("blob: get %s: %w", key, err)
	}
	defer output.Body.Close()
	return io.ReadAll(output.Body)
}

func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := s.ready(key); err != nil {
		return false, err
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("blob: head %s: %w", key, err)
	}
	return true, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	if err := s.ready(key); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isS3NotFound(err) {
		return fmt.Errorf("blob: delete %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) ready(key string) error {
	if s.client == nil {
		return fmt.Errorf("blob: s3 store is not connected")
	}
	return ValidateKey(key)
}

func isS3NotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}
