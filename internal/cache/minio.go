package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/tinix84/pyplecs-sub000/internal/sim"
)

// MinioConfig selects the bucket holding cached payloads.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Prefix    string
}

// MinioStore keeps payload objects in an S3-compatible bucket so several
// orchestrator hosts can share one cache. Access-time LRU is approximated by
// object modification time since S3 metadata is immutable after write;
// engine version and parameters travel as user metadata on the object.
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
	logger *zap.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

func NewMinioStore(ctx context.Context, cfg MinioConfig, logger *zap.Logger) (*MinioStore, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("minio endpoint is required for the minio cache backend")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		bucket = "sim-result-cache"
	}
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("minio bucket check: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("minio bucket create: %w", err)
		}
	}
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = "payloads"
	}
	return &MinioStore{client: client, bucket: bucket, prefix: prefix, logger: logger}, nil
}

func (s *MinioStore) objectName(key string) string {
	return s.prefix + "/" + key + ".simres"
}

func (s *MinioStore) Get(ctx context.Context, key string) (*sim.Result, bool, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.objectName(key), minio.GetObjectOptions{})
	if err != nil {
		s.misses.Add(1)
		return nil, false, nil
	}
	defer obj.Close()
	payload, err := io.ReadAll(obj)
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code != "NoSuchKey" {
			s.logger.Warn("cache object read failed", zap.String("key", key), zap.Error(err))
		}
		s.misses.Add(1)
		return nil, false, nil
	}
	res, err := decodePayload(payload)
	if err != nil {
		s.logger.Warn("cache object corrupt, removing", zap.String("key", key), zap.Error(err))
		_ = s.client.RemoveObject(ctx, s.bucket, s.objectName(key), minio.RemoveObjectOptions{})
		s.misses.Add(1)
		return nil, false, nil
	}
	s.hits.Add(1)
	return res, true, nil
}

func (s *MinioStore) Put(ctx context.Context, key string, res *sim.Result, meta PutMeta) error {
	name := s.objectName(key)
	// Write-once: the key is a content address, so an existing object is the
	// same payload and the second writer backs off.
	if _, err := s.client.StatObject(ctx, s.bucket, name, minio.StatObjectOptions{}); err == nil {
		return nil
	}
	payload, err := encodePayload(res)
	if err != nil {
		return err
	}
	userMeta := map[string]string{"Engine-Version": meta.EngineVersion}
	for k, v := range meta.Parameters {
		userMeta["Param-"+k] = v
	}
	_, err = s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType:  "application/octet-stream",
		UserMetadata: userMeta,
	})
	if err != nil {
		return fmt.Errorf("put cache object: %w", err)
	}
	return nil
}

func (s *MinioStore) EvictExpired(ctx context.Context, ttl time.Duration) (int, error) {
	if ttl <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-ttl)
	removed := 0
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: s.prefix + "/", Recursive: true}) {
		if obj.Err != nil {
			return removed, fmt.Errorf("list cache objects: %w", obj.Err)
		}
		if obj.LastModified.Before(cutoff) {
			if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
				s.logger.Warn("cache object remove failed", zap.String("object", obj.Key), zap.Error(err))
				continue
			}
			removed++
		}
	}
	return removed, nil
}

func (s *MinioStore) EvictToSize(ctx context.Context, maxBytes int64) (int, error) {
	if maxBytes <= 0 {
		return 0, nil
	}
	type objInfo struct {
		key      string
		size     int64
		modified time.Time
	}
	var objs []objInfo
	var total int64
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: s.prefix + "/", Recursive: true}) {
		if obj.Err != nil {
			return 0, fmt.Errorf("list cache objects: %w", obj.Err)
		}
		objs = append(objs, objInfo{key: obj.Key, size: obj.Size, modified: obj.LastModified})
		total += obj.Size
	}
	if total <= maxBytes {
		return 0, nil
	}
	sort.Slice(objs, func(i, j int) bool { return objs[i].modified.Before(objs[j].modified) })
	removed := 0
	for _, o := range objs {
		if total <= maxBytes {
			break
		}
		if err := s.client.RemoveObject(ctx, s.bucket, o.key, minio.RemoveObjectOptions{}); err != nil {
			s.logger.Warn("cache object remove failed", zap.String("object", o.key), zap.Error(err))
			continue
		}
		total -= o.size
		removed++
	}
	return removed, nil
}

func (s *MinioStore) Stats(ctx context.Context) (Stats, error) {
	var count, size int64
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: s.prefix + "/", Recursive: true}) {
		if obj.Err != nil {
			return Stats{}, fmt.Errorf("list cache objects: %w", obj.Err)
		}
		count++
		size += obj.Size
	}
	return Stats{
		HitCount:   s.hits.Load(),
		MissCount:  s.misses.Load(),
		EntryCount: count,
		SizeBytes:  size,
	}, nil
}
