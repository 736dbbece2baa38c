package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/reviewoor/pkg/config"
)

// s3Archiver stores objects in an S3-compatible bucket.
type s3Archiver struct {
	log    logrus.FieldLogger
	cfg    *config.S3ArchiveConfig
	client *s3.Client
}

// Compile-time interface check.
var _ Archiver = (*s3Archiver)(nil)

// NewS3Archiver creates an archiver writing to cfg.Bucket.
func NewS3Archiver(log logrus.FieldLogger, cfg *config.S3ArchiveConfig) Archiver {
	return &s3Archiver{
		log:    log.WithField("component", "s3-archive"),
		cfg:    cfg,
		client: newS3Client(cfg),
	}
}

func newS3Client(cfg *config.S3ArchiveConfig) *s3.Client {
	return s3.New(s3.Options{}, func(o *s3.Options) {
		o.Region = cfg.Region
		if o.Region == "" {
			o.Region = "us-east-1"
		}

		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		}

		o.UsePathStyle = cfg.ForcePathStyle

		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			o.Credentials = credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, "",
			)
		}
	})
}

// Preflight verifies the bucket is writable.
func (a *s3Archiver) Preflight(ctx context.Context) error {
	key := ".reviewoor-write-test"
	if prefix := strings.Trim(a.cfg.Prefix, "/"); prefix != "" {
		key = prefix + "/" + key
	}

	content := "reviewoor write test: " + time.Now().UTC().Format(time.RFC3339)

	if _, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(content),
		ContentType: aws.String("text/plain"),
	}); err != nil {
		return fmt.Errorf("writing test object to s3://%s: %w", a.cfg.Bucket, err)
	}

	return nil
}

func (a *s3Archiver) Put(ctx context.Context, runID uint, data []byte) error {
	key := ObjectKey(a.cfg.Prefix, runID)

	if _, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.cfg.Bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(data),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("gzip"),
	}); err != nil {
		return fmt.Errorf("putting object %q: %w", key, err)
	}

	a.log.WithFields(logrus.Fields{
		"run_id": runID,
		"key":    key,
		"bytes":  len(data),
	}).Debug("Archived analyzer output")

	return nil
}

func (a *s3Archiver) Fetch(ctx context.Context, runID uint) ([]byte, error) {
	key := ObjectKey(a.cfg.Prefix, runID)

	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("fetching %q: %w", key, ErrNotFound)
		}

		return nil, fmt.Errorf("getting object %q: %w", key, err)
	}

	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading object %q: %w", key, err)
	}

	return data, nil
}

func isS3NotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}

	return strings.Contains(err.Error(), "NoSuchKey")
}
