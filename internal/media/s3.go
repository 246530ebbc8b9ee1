package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// S3Storage stores files in an S3-compatible bucket (Cloudflare R2 in production). Unlike LocalStorage, PresignPut
// delegates to the provider's own presigning machinery instead of a homemade HMAC scheme.
type S3Storage struct {
	client    *s3.Client
	presign   *s3.PresignClient
	bucket    string
	publicURL string
}

// NewS3Storage creates a storage provider backed by an S3-compatible endpoint. endpointURL and region configure the
// provider (R2 accepts any region string; "auto" is Cloudflare's convention); publicBaseURL is the base the bucket is
// served from (a custom domain or the provider's public bucket URL).
func NewS3Storage(ctx context.Context, endpointURL, accessKeyID, secretKey, bucket, region, publicBaseURL string) (*S3Storage, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpointURL)
		o.UsePathStyle = true
	})

	return &S3Storage{
		client:    client,
		presign:   s3.NewPresignClient(client),
		bucket:    bucket,
		publicURL: strings.TrimRight(publicBaseURL, "/"),
	}, nil
}

// Put uploads r to the bucket under key.
func (s *S3Storage) Put(ctx context.Context, key string, r io.Reader) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   r,
	})
	if err != nil {
		return fmt.Errorf("put object %q: %w", key, err)
	}
	return nil
}

// Get downloads the object at key. The caller must close the returned ReadCloser. Returns ErrStorageKeyNotFound when
// the key does not exist.
func (s *S3Storage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrStorageKeyNotFound
		}
		return nil, fmt.Errorf("get object %q: %w", key, err)
	}
	return out.Body, nil
}

// Head reports the size of the object at key. Returns ErrStorageKeyNotFound when the key does not exist.
func (s *S3Storage) Head(ctx context.Context, key string) (HeadResult, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return HeadResult{}, ErrStorageKeyNotFound
		}
		return HeadResult{}, fmt.Errorf("head object %q: %w", key, err)
	}
	return HeadResult{ContentLength: aws.ToInt64(out.ContentLength)}, nil
}

// Delete removes the object at key. Missing keys are not treated as errors.
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("delete object %q: %w", key, err)
	}
	return nil
}

// PresignPut returns a short-lived URL the client can PUT the object to directly.
func (s *S3Storage) PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign put %q: %w", key, err)
	}
	return req.URL, nil
}

// URL returns the public URL for the given storage key.
func (s *S3Storage) URL(key string) string {
	return s.publicURL + "/" + key
}

// BuildPublicURL returns the public URL for key with a cache-busting version query parameter.
func (s *S3Storage) BuildPublicURL(key string, versionMS int64) string {
	return s.URL(key) + "?v=" + strconv.FormatInt(versionMS, 10)
}

// isNotFound reports whether err represents a missing-object response from S3.
func isNotFound(err error) bool {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == 404
	}
	return false
}
