package auditexport

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const defaultRegion = "us-east-1"

// Environment variables read by S3ConfigFromEnv.
const (
	EnvS3Bucket    = "LEDGER_EXPORT_S3_BUCKET"
	EnvS3Region    = "LEDGER_EXPORT_S3_REGION"
	EnvS3Endpoint  = "LEDGER_EXPORT_S3_ENDPOINT"
	EnvS3PathStyle = "LEDGER_EXPORT_S3_PATH_STYLE"
)

// ErrEmptyBucket is returned by the S3Sink constructors when no bucket is named.
var ErrEmptyBucket = errors.New("s3 bucket must not be empty")

// S3Config configures an S3Sink. Endpoint and PathStyle point it at S3-compatible stores like MinIO.
// Without AccessKeyID the default AWS credential chain is used.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
}

// S3ConfigFromEnv reads an S3Config from the LEDGER_EXPORT_S3_* variables.
func S3ConfigFromEnv() S3Config {
	return S3Config{
		Bucket:    os.Getenv(EnvS3Bucket),
		Region:    os.Getenv(EnvS3Region),
		Endpoint:  os.Getenv(EnvS3Endpoint),
		PathStyle: strings.EqualFold(os.Getenv(EnvS3PathStyle), "true"),
	}
}

// S3Sink writes exports as objects into one bucket.
type S3Sink struct {
	client *s3.Client
	bucket string
}

// NewS3Sink creates a sink from cfg.
func NewS3Sink(ctx context.Context, cfg S3Config) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, ErrEmptyBucket
	}

	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}

	loadOptions := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOptions = append(loadOptions, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return NewS3SinkFromClient(client, cfg.Bucket)
}

// NewS3SinkFromClient creates a sink on an existing client.
func NewS3SinkFromClient(client *s3.Client, bucket string) (*S3Sink, error) {
	if client == nil {
		return nil, errors.New("s3 client must not be nil")
	}

	if bucket == "" {
		return nil, ErrEmptyBucket
	}

	return &S3Sink{client: client, bucket: bucket}, nil
}

// Put uploads body as one object.
func (s *S3Sink) Put(ctx context.Context, key, contentType string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
	})

	return err
}
