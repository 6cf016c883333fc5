// Package archive uploads final session reports to S3-compatible storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
)

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "sessions"

// Options configures the MinIO archiver.
type Options struct {
	Endpoint  string
	Region    string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// objectPutter is the subset of *minio.Client the archiver needs.
type objectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Store writes session reports as JSON objects named <prefix>/<id>.json.
type Store struct {
	client   objectPutter
	bucket   string
	prefix   string
	endpoint string
}

// New connects to the object store and makes sure the bucket exists.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, fmt.Errorf("archive: endpoint and bucket are required")
	}
	cli, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: creating client: %w", err)
	}

	exists, err := cli.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("archive: checking bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{Region: opts.Region}); err != nil {
			return nil, fmt.Errorf("archive: creating bucket %s: %w", opts.Bucket, err)
		}
	}

	return newStore(cli, opts.Bucket, opts.Prefix, cli.EndpointURL().String()), nil
}

func newStore(client objectPutter, bucket, prefix, endpoint string) *Store {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{
		client:   client,
		bucket:   bucket,
		prefix:   prefix,
		endpoint: strings.TrimSuffix(endpoint, "/"),
	}
}

// Key returns the object name of a session report.
func (s *Store) Key(id core.SessionID) string {
	return path.Join(s.prefix, string(id)+".json")
}

// Archive uploads the session report and returns its location.
func (s *Store) Archive(ctx context.Context, session *core.AnalysisSession) (string, error) {
	if session == nil {
		return "", fmt.Errorf("archive: nil session")
	}
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return "", fmt.Errorf("archive: encoding session %s: %w", session.ID, err)
	}

	key := s.Key(session.ID)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			"session-status": string(session.Status),
		},
	})
	if err != nil {
		return "", fmt.Errorf("archive: uploading %s: %w", key, err)
	}
	return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, key), nil
}

var _ core.ReportArchiver = (*Store)(nil)
