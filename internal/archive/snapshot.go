// Package archive saves the queue ordering before destructive resets. A
// reset throws away all manual reordering history, so operators get a JSON
// snapshot they can consult (or re-enter from) afterwards.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"cleaning-queue/internal/config"
	"cleaning-queue/internal/models"
)

type uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Snapshotter serializes the open queue and hands it to an uploader.
type Snapshotter struct {
	up uploader
}

// New chooses an uploader from config: S3 when a bucket is set, otherwise a
// local directory.
func New(ctx context.Context, cfg config.Config) (*Snapshotter, error) {
	if cfg.SnapshotS3Bucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &Snapshotter{up: &s3Uploader{client: client, bucket: cfg.SnapshotS3Bucket}}, nil
	}
	dir := cfg.SnapshotDir
	if dir == "" {
		dir = "./snapshots"
	}
	return &Snapshotter{up: &localUploader{baseDir: dir}}, nil
}

type snapshot struct {
	TakenAt time.Time          `json:"taken_at"`
	Orders  []models.WorkOrder `json:"orders"`
}

// ArchiveSnapshot writes the current ordering and returns a reference to
// where it landed (file path or s3 URL).
func (s *Snapshotter) ArchiveSnapshot(ctx context.Context, orders []models.WorkOrder) (string, error) {
	body, err := json.MarshalIndent(snapshot{TakenAt: time.Now().UTC(), Orders: orders}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	key := fmt.Sprintf("queue-%s-%s.json", time.Now().UTC().Format("20060102T150405Z"), uuid.NewString()[:8])
	return s.up.Upload(ctx, key, body, "application/json")
}

type localUploader struct {
	baseDir string
}

func (l *localUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	if err := os.MkdirAll(l.baseDir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}
	path := filepath.Join(l.baseDir, key)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return path, nil
}

type s3Uploader struct {
	client *s3.Client
	bucket string
}

func (u *s3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put snapshot object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", u.bucket, key), nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.SnapshotS3Region),
	}
	if cfg.SnapshotS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.SnapshotS3Endpoint,
					HostnameImmutable: cfg.SnapshotS3PathStyle,
					SigningRegion:     cfg.SnapshotS3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.SnapshotS3PathStyle
	}), nil
}
