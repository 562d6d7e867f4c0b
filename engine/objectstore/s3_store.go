package objectstore

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/buildbeaver/workflow-engine/common/logger"
)

// S3Config configures S3Store. Endpoint/AccessKeyID/SecretAccessKey/Secure are the fields the
// engine config's ENGINE_OBJECT_STORE_* settings populate. Region is applied when non-empty,
// and the static credentials are applied whenever both are set, whatever the endpoint.
type S3Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Secure          bool
}

// S3Store is the production Store implementation, speaking the S3 API against either AWS S3
// or an S3-compatible server such as MinIO (which is what the teacher's own production
// deployment and the reference implementation this engine was modeled on both use).
type S3Store struct {
	s3       *s3.S3
	uploader *s3manager.Uploader
	log      logger.Log
}

func NewS3Store(config S3Config, logFactory logger.LogFactory) (*S3Store, error) {
	log := logFactory("S3ObjectStore")
	cfg := &aws.Config{}
	if config.Region != "" {
		cfg = cfg.WithRegion(config.Region)
	}
	if config.Endpoint != "" {
		cfg = cfg.WithEndpoint(config.Endpoint).WithS3ForcePathStyle(true).WithDisableSSL(!config.Secure)
	}
	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		cfg = cfg.WithCredentials(credentials.NewStaticCredentials(config.AccessKeyID, config.SecretAccessKey, ""))
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("error creating AWS session: %w", err)
	}
	return &S3Store{
		s3:       s3.New(sess),
		uploader: s3manager.NewUploader(sess),
		log:      log,
	}, nil
}

func (s *S3Store) EnsureBucket(ctx context.Context, bucket string) error {
	_, err := s.s3.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return nil
	}
	_, err = s.s3.CreateBucketWithContext(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		return fmt.Errorf("error creating bucket %s: %w", bucket, err)
	}
	s.log.WithField("bucket", bucket).Infof("created bucket")
	return nil
}

func (s *S3Store) Put(ctx context.Context, bucket, key string, source io.Reader, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        source,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("error putting object %s/%s: %w", bucket, key, err)
	}
	s.log.WithField("bucket", bucket).WithField("key", key).Infof("uploaded object")
	return nil
}

func (s *S3Store) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := s.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("error getting object %s/%s: %w", bucket, key, err)
	}
	return out.Body, nil
}

func (s *S3Store) Presign(ctx context.Context, bucket, key string, expiresIn time.Duration) (string, error) {
	req, _ := s.s3.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	url, err := req.Presign(expiresIn)
	if err != nil {
		return "", fmt.Errorf("error presigning object %s/%s: %w", bucket, key, err)
	}
	return url, nil
}
