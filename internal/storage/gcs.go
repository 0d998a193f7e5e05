package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gcs "google.golang.org/api/storage/v1"
)

// ObjectStore is durable storage batch recognition can read from.
type ObjectStore interface {
	// Put uploads the file at localPath under key and returns its gs:// URI.
	Put(ctx context.Context, key, localPath string) (string, error)
	Delete(ctx context.Context, uri string) error
}

// GCSOptions configures the Cloud Storage client.
type GCSOptions struct {
	Project         string
	Bucket          string
	Region          string
	CredentialsFile string
	Endpoint        string
	NoAuth          bool
}

// GCSStore keeps objects in one Cloud Storage bucket.
type GCSStore struct {
	service *gcs.Service
	bucket  string
}

// NewGCSStore builds the JSON API client.
func NewGCSStore(ctx context.Context, opts GCSOptions) (*GCSStore, error) {
	if opts.Bucket == "" {
		return nil, errors.New("gcs bucket is not configured")
	}

	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}
	if opts.NoAuth {
		clientOpts = append(clientOpts, option.WithoutAuthentication())
	}

	svc, err := gcs.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create storage service: %w", err)
	}
	return &GCSStore{service: svc, bucket: opts.Bucket}, nil
}

// EnsureBucket creates the bucket in region when it does not exist.
func (s *GCSStore) EnsureBucket(ctx context.Context, project, region string) (created bool, err error) {
	_, err = s.service.Buckets.Get(s.bucket).Context(ctx).Do()
	if err == nil {
		return false, nil
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusNotFound {
		return false, fmt.Errorf("unable to look up bucket %s: %w", s.bucket, err)
	}
	if project == "" {
		return false, fmt.Errorf("bucket %s does not exist and no project is configured", s.bucket)
	}

	_, err = s.service.Buckets.Insert(project, &gcs.Bucket{
		Name:     s.bucket,
		Location: region,
	}).Context(ctx).Do()
	if err != nil {
		return false, fmt.Errorf("unable to create bucket %s: %w", s.bucket, err)
	}
	return true, nil
}

// Put uploads localPath as key.
func (s *GCSStore) Put(ctx context.Context, key, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	obj := &gcs.Object{Name: key, ContentType: contentType(localPath)}
	if _, err := s.service.Objects.Insert(s.bucket, obj).Media(f).Context(ctx).Do(); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return GSURI(s.bucket, key), nil
}

// Delete removes the object at uri. Missing objects are not an error.
func (s *GCSStore) Delete(ctx context.Context, uri string) error {
	bucket, object, err := ParseGSURI(uri)
	if err != nil {
		return err
	}
	err = s.service.Objects.Delete(bucket, object).Context(ctx).Do()
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", uri, err)
	}
	return nil
}

// ObjectKey names the upload for a job: <prefix>/<job>.<ext>.
func ObjectKey(prefix, jobID, localPath string) string {
	return path.Join(prefix, jobID+filepath.Ext(localPath))
}

// GSURI formats a gs:// URI.
func GSURI(bucket, object string) string {
	return fmt.Sprintf("gs://%s/%s", bucket, object)
}

// ParseGSURI splits gs://bucket/object.
func ParseGSURI(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// uri: %q", uri)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("malformed gs:// uri: %q", uri)
	}
	return bucket, object, nil
}

func contentType(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".flac":
		return "audio/flac"
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	}
	return "application/octet-stream"
}
