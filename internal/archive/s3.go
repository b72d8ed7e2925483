package archive

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Store writes objects to one S3 bucket.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store creates an S3Store. A custom endpoint switches to path-style
// addressing, which S3-compatible providers require.
func NewS3Store(bucket string, opts Options) (*S3Store, error) {
	if opts.S3Region == "" {
		return nil, fmt.Errorf("s3 archive requires a region")
	}
	s3Opts := s3.Options{Region: opts.S3Region}
	if opts.S3KeyID != "" {
		s3Opts.Credentials = credentials.NewStaticCredentialsProvider(opts.S3KeyID, opts.S3Secret, "")
	}
	if opts.S3Endpoint != "" {
		s3Opts.BaseEndpoint = aws.String("https://" + opts.S3Endpoint)
		s3Opts.UsePathStyle = true
	}
	return &S3Store{client: s3.New(s3Opts), bucket: bucket}, nil
}

// Put implements ObjectStore.
func (s *S3Store) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3 put s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}
