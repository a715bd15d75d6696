package writer

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "fundingheat/config"
	"fundingheat/logger"
)

// Uploader stores an object under key.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte, metadata map[string]string) error
}

// S3Uploader puts export files into the configured bucket.
type S3Uploader struct {
	client *s3.Client
	bucket string
	prefix string
	log    *logger.Log
}

// NewS3Uploader configures the AWS SDK from storage.s3. Static credentials are
// used when both keys are set, the default chain otherwise.
func NewS3Uploader(ctx context.Context, cfg appconfig.S3Config) (*S3Uploader, error) {
	log := logger.GetLogger()

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				"",
			),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent("s3_uploader").WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	log.WithComponent("s3_uploader").WithFields(logger.Fields{
		"bucket": cfg.Bucket,
		"region": cfg.Region,
	}).Info("s3 uploader initialized")

	return &S3Uploader{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		log:    log,
	}, nil
}

// Key prefixes name with the configured prefix.
func (u *S3Uploader) Key(name string) string {
	if u.prefix == "" {
		return name
	}
	return path.Join(u.prefix, name)
}

func (u *S3Uploader) Upload(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	key = u.Key(key)
	log := u.log.WithComponent("s3_uploader").WithFields(logger.Fields{
		"operation": "upload_to_s3",
		"key":       key,
		"data_size": len(data),
	})

	input := &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata:    metadata,
	}
	if _, err := u.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", u.bucket, err)
	}

	log.Info("successfully uploaded to S3")
	logger.LogDataFlowEntry(log, "parquet_exporter", "s3", len(data), "bytes")
	return nil
}
