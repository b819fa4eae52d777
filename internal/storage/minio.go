package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/techdocs/turbo/internal/apperr"
)

// MinioOptions configures a MinioDriver.
type MinioOptions struct {
	Endpoint  string
	Port      int
	UseSSL    bool
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
}

// MinioDriver stores objects in a MinIO (or any S3-compatible) bucket.
type MinioDriver struct {
	client *minio.Client
	bucket string
	// base is scheme://host:port/bucket, the prefix of every location.
	base   string
	logger *slog.Logger
}

// NewMinioDriver creates a MinIO client, ensures the bucket exists with a
// public-read policy so returned locations resolve, and returns the driver.
func NewMinioDriver(ctx context.Context, opts MinioOptions, logger *slog.Logger) (*MinioDriver, error) {
	hostPort := net.JoinHostPort(opts.Endpoint, strconv.Itoa(opts.Port))
	client, err := minio.New(hostPort, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	logger = logger.With(slog.String("component", "minio_driver"))

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{Region: opts.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", opts.Bucket, err)
		}
		logger.Info("created bucket", slog.String("bucket", opts.Bucket))
	}

	if err := client.SetBucketPolicy(ctx, opts.Bucket, publicReadPolicy(opts.Bucket)); err != nil {
		return nil, fmt.Errorf("set bucket policy: %w", err)
	}

	scheme := "http"
	if opts.UseSSL {
		scheme = "https"
	}
	return &MinioDriver{
		client: client,
		bucket: opts.Bucket,
		base:   fmt.Sprintf("%s://%s/%s", scheme, hostPort, opts.Bucket),
		logger: logger,
	}, nil
}

// Name implements Driver.
func (d *MinioDriver) Name() string { return "minio" }

// Store uploads r under key. A reader of unknown size (-1) is read fully
// into memory first and sent as a single PUT, so very large streams cost
// their full size in memory.
func (d *MinioDriver) Store(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	if size < 0 {
		data, err := io.ReadAll(r)
		if err != nil {
			return "", apperr.Storage("failedUpload", fmt.Errorf("buffer stream: %w", err))
		}
		if len(data) == 0 {
			return "", apperr.Storage("failedUpload", fmt.Errorf("empty stream for %q", key))
		}
		r, size = bytes.NewReader(data), int64(len(data))
	}

	_, err := d.client.PutObject(ctx, d.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", apperr.Storage("failedUpload", fmt.Errorf("put object %q: %w", key, err))
	}
	return d.base + "/" + key, nil
}

// Delete removes key. Missing keys are ignored.
func (d *MinioDriver) Delete(ctx context.Context, key string) error {
	err := d.client.RemoveObject(ctx, d.bucket, key, minio.RemoveObjectOptions{})
	if err == nil || isMissingObject(err) {
		return nil
	}
	return apperr.Storage("failedDelete", fmt.Errorf("remove object %q: %w", key, err))
}

// Presign returns a presigned PUT URL for key.
func (d *MinioDriver) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := d.client.PresignedPutObject(ctx, d.bucket, key, ttl)
	if err != nil {
		return "", apperr.Storage("Failed to generate presigned URL", fmt.Errorf("presign %q: %w", key, err))
	}
	return u.String(), nil
}

// Key implements Driver.
func (d *MinioDriver) Key(location string) (string, bool) {
	return KeyUnder(d.base, location)
}

// Exists checks key with a HEAD on the object.
func (d *MinioDriver) Exists(ctx context.Context, key string) (bool, error) {
	_, err := d.client.StatObject(ctx, d.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isMissingObject(err) {
		return false, nil
	}
	return false, apperr.Storage("failedRead", fmt.Errorf("stat object %q: %w", key, err))
}

func isMissingObject(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}

// publicReadPolicy returns an S3 bucket policy JSON that allows anonymous GET on all objects.
func publicReadPolicy(bucket string) string {
	policy := map[string]any{
		"Version": "2012-10-17",
		"Statement": []map[string]any{
			{
				"Effect":    "Allow",
				"Principal": "*",
				"Action":    "s3:GetObject",
				"Resource":  fmt.Sprintf("arn:aws:s3:::%s/*", bucket),
			},
		},
	}
	b, _ := json.Marshal(policy)
	return string(b)
}
