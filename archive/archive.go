// Package archive keeps a compressed copy of every published definition set
// in S3-compatible object storage.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/dcshock/defsync/pipeline"
	"github.com/klauspost/compress/zstd"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config addresses the bucket. Credentials come from the environment.
type Config struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	Region    string
	UseSSL    bool
	AccessKey string
	SecretKey string
}

// Validate reports missing settings.
func (c Config) Validate() error {
	var missing []string
	if c.Endpoint == "" {
		missing = append(missing, "endpoint")
	}
	if c.Bucket == "" {
		missing = append(missing, "bucket")
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		missing = append(missing, "credentials")
	}
	if len(missing) > 0 {
		return fmt.Errorf("archive: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

type objectStore interface {
	exists(ctx context.Context, bucket, key string) (bool, error)
	put(ctx context.Context, bucket, key string, data []byte, opts minio.PutObjectOptions) error
}

// Archive implements pipeline.Observer; only publications are stored.
// Objects are keyed by version and digest, so an already archived set is
// not uploaded again.
type Archive struct {
	store  objectStore
	bucket string
	prefix string
	enc    *zstd.Encoder
}

var _ pipeline.Observer = (*Archive)(nil)

// New connects to the object store and creates the bucket if needed.
func New(ctx context.Context, cfg Config) (*Archive, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("archive: bucket exists: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("archive: make bucket %s: %w", cfg.Bucket, err)
		}
	}
	return newArchive(&minioStore{client: client}, cfg.Bucket, cfg.Prefix)
}

func newArchive(store objectStore, bucket, prefix string) (*Archive, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, fmt.Errorf("archive: zstd: %w", err)
	}
	return &Archive{store: store, bucket: bucket, prefix: strings.Trim(prefix, "/"), enc: enc}, nil
}

// Key returns the object key for pub.
func (a *Archive) Key(pub pipeline.Publication) string {
	ext := "json"
	if strings.Contains(pub.ContentType, "cbor") {
		ext = "cbor"
	}
	name := fmt.Sprintf("%s-%s.%s.zst", pub.Version, pub.Digest, ext)
	if a.prefix == "" {
		return name
	}
	return path.Join(a.prefix, name)
}

func (a *Archive) StageChanged(context.Context, pipeline.StageEvent) error { return nil }

// Published uploads the compressed message body unless the object exists.
func (a *Archive) Published(ctx context.Context, pub pipeline.Publication) error {
	key := a.Key(pub)
	exists, err := a.store.exists(ctx, a.bucket, key)
	if err != nil {
		return fmt.Errorf("archive: stat %s: %w", key, err)
	}
	if exists {
		return nil
	}
	data := a.enc.EncodeAll(pub.Body, make([]byte, 0, len(pub.Body)/2))
	err = a.store.put(ctx, a.bucket, key, data, minio.PutObjectOptions{
		ContentType:     pub.ContentType,
		ContentEncoding: "zstd",
		UserMetadata: map[string]string{
			"version":    string(pub.Version),
			"digest":     pub.Digest,
			"message-id": pub.MessageID,
		},
	})
	if err != nil {
		return fmt.Errorf("archive: put %s: %w", key, err)
	}
	return nil
}

// Decompress reverses the compression applied to archived objects.
func Decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}

type minioStore struct {
	client *minio.Client
}

func (s *minioStore) exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	return false, err
}

func (s *minioStore) put(ctx context.Context, bucket, key string, data []byte, opts minio.PutObjectOptions) error {
	_, err := s.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), opts)
	return err
}
