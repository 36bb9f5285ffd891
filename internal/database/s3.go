package database

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/tejusbharadwaj/tscore/internal/models"
	"github.com/tejusbharadwaj/tscore/internal/repository"
)

const (
	metaSuffix = ".meta.json"
	dataSuffix = ".data"
)

// S3Config points at an S3-compatible bucket (AWS, MinIO, Garage, R2).
type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Region          string
}

func (c S3Config) Validate() error {
	switch {
	case c.Endpoint == "":
		return fmt.Errorf("%w: s3 endpoint is required", models.ErrInvalidArgument)
	case c.AccessKeyID == "" || c.SecretAccessKey == "":
		return fmt.Errorf("%w: s3 credentials are required", models.ErrInvalidArgument)
	case c.Bucket == "":
		return fmt.Errorf("%w: s3 bucket is required", models.ErrInvalidArgument)
	}
	return nil
}

// S3Client is the subset of *s3.Client used by S3Repo.
type S3Client interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// NewS3Client builds a path-style client with static credentials against a
// custom endpoint.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	}), nil
}

// S3Repo archives each series as two objects: <prefix><id>.meta.json and
// <prefix><id>.data, the compressed point block. Value mutations rewrite
// the data object under a single lock.
type S3Repo[T any] struct {
	client S3Client
	bucket string
	prefix string
	codec  Codec
	mu     sync.RWMutex
}

func NewS3Repo[T any](client S3Client, bucket, prefix string, codec Codec) *S3Repo[T] {
	if codec == nil {
		codec = noneCodec{}
	}
	return &S3Repo[T]{client: client, bucket: bucket, prefix: prefix, codec: codec}
}

// EnsureBucket creates the bucket when it does not exist.
func (r *S3Repo[T]) EnsureBucket(ctx context.Context) error {
	if _, err := r.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(r.bucket)}); err == nil {
		return nil
	}
	if _, err := r.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(r.bucket)}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", r.bucket, err)
	}
	return nil
}

func (r *S3Repo[T]) metaKey(id string) string { return r.prefix + id + metaSuffix }
func (r *S3Repo[T]) dataKey(id string) string { return r.prefix + id + dataSuffix }

func isNoSuchKey(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

// getObject returns the object body, or nil and false when it does not exist.
func (r *S3Repo[T]) getObject(ctx context.Context, key string) ([]byte, bool, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(r.bucket), Key: aws.String(key)})
	if isNoSuchKey(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer out.Body.Close()
	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return body, true, nil
}

func (r *S3Repo[T]) putObject(ctx context.Context, key string, body []byte) error {
	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

func (r *S3Repo[T]) deleteObject(ctx context.Context, key string) error {
	_, err := r.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(r.bucket), Key: aws.String(key)})
	if err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (r *S3Repo[T]) readMeta(ctx context.Context, id string) (models.TimeSeries[T], error) {
	raw, ok, err := r.getObject(ctx, r.metaKey(id))
	if err != nil {
		return models.TimeSeries[T]{}, err
	}
	if !ok {
		return models.TimeSeries[T]{}, fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}
	return decodeMeta[T](raw)
}

func (r *S3Repo[T]) readData(ctx context.Context, id string) (*models.Series[T], error) {
	if ok, err := r.contains(ctx, id); err != nil || !ok {
		if err == nil {
			err = fmt.Errorf("%w: %s", models.ErrNotFound, id)
		}
		return nil, err
	}
	raw, ok, err := r.getObject(ctx, r.dataKey(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return &models.Series[T]{}, nil
	}
	return decodeBlock[T](r.codec, raw)
}

func (r *S3Repo[T]) writeData(ctx context.Context, id string, data *models.Series[T]) error {
	block, err := encodeBlock(r.codec, data)
	if err != nil {
		return err
	}
	return r.putObject(ctx, r.dataKey(id), block)
}

func (r *S3Repo[T]) writeMeta(ctx context.Context, ts models.TimeSeries[T]) error {
	meta, err := encodeMeta(ts)
	if err != nil {
		return err
	}
	return r.putObject(ctx, r.metaKey(ts.ID), meta)
}

func (r *S3Repo[T]) contains(ctx context.Context, id string) (bool, error) {
	_, ok, err := r.getObject(ctx, r.metaKey(id))
	return ok, err
}

func (r *S3Repo[T]) Count(ctx context.Context) (int, error) {
	ids, err := r.GetIDs(ctx)
	return len(ids), err
}

func (r *S3Repo[T]) Contains(ctx context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.contains(ctx, id)
}

func (r *S3Repo[T]) Get(ctx context.Context, id string) (models.TimeSeries[T], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ts, err := r.readMeta(ctx, id)
	if err != nil {
		return ts, err
	}
	ts.Data, err = r.readData(ctx, id)
	return ts, err
}

func (r *S3Repo[T]) GetAll(ctx context.Context) ([]models.TimeSeries[T], error) {
	ids, err := r.GetIDs(ctx)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]models.TimeSeries[T], 0, len(ids))
	for _, id := range ids {
		ts, err := r.readMeta(ctx, id)
		if err != nil {
			return nil, err
		}
		all = append(all, ts)
	}
	return all, nil
}

// GetIDs lists metadata objects under the prefix, following continuation tokens.
func (r *S3Repo[T]) GetIDs(ctx context.Context) ([]string, error) {
	var ids []string
	input := &s3.ListObjectsV2Input{Bucket: aws.String(r.bucket), Prefix: aws.String(r.prefix)}
	for {
		out, err := r.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s/%s: %w", r.bucket, r.prefix, err)
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, metaSuffix) {
				continue
			}
			ids = append(ids, strings.TrimSuffix(strings.TrimPrefix(key, r.prefix), metaSuffix))
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		input.ContinuationToken = out.NextContinuationToken
	}
	slices.Sort(ids)
	return ids, nil
}

func (r *S3Repo[T]) series(ctx context.Context, id string) (*models.Series[T], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.readData(ctx, id)
}

func (r *S3Repo[T]) GetValues(ctx context.Context, id string, from, to time.Time) (*models.Series[T], error) {
	s, err := r.series(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Slice(from, to), nil
}

func (r *S3Repo[T]) GetAllValues(ctx context.Context, id string) (*models.Series[T], error) {
	return r.series(ctx, id)
}

func (r *S3Repo[T]) point(ctx context.Context, id string, fn func(*models.Series[T]) (models.DataPoint[T], bool)) (models.DataPoint[T], bool, error) {
	s, err := r.series(ctx, id)
	if err != nil {
		return models.DataPoint[T]{}, false, err
	}
	p, ok := fn(s)
	return p, ok, nil
}

func (r *S3Repo[T]) GetValue(ctx context.Context, id string, t time.Time) (models.DataPoint[T], bool, error) {
	return r.point(ctx, id, func(s *models.Series[T]) (models.DataPoint[T], bool) { return s.Get(t) })
}

func (r *S3Repo[T]) GetFirstValue(ctx context.Context, id string) (models.DataPoint[T], bool, error) {
	return r.point(ctx, id, (*models.Series[T]).First)
}

func (r *S3Repo[T]) GetLastValue(ctx context.Context, id string) (models.DataPoint[T], bool, error) {
	return r.point(ctx, id, (*models.Series[T]).Last)
}

func (r *S3Repo[T]) GetFirstValueAfter(ctx context.Context, id string, t time.Time) (models.DataPoint[T], bool, error) {
	return r.point(ctx, id, func(s *models.Series[T]) (models.DataPoint[T], bool) { return s.FirstAfter(t) })
}

func (r *S3Repo[T]) GetLastValueBefore(ctx context.Context, id string, t time.Time) (models.DataPoint[T], bool, error) {
	return r.point(ctx, id, func(s *models.Series[T]) (models.DataPoint[T], bool) { return s.LastBefore(t) })
}

func (r *S3Repo[T]) Add(ctx context.Context, ts models.TimeSeries[T]) error {
	if err := ts.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ok, err := r.contains(ctx, ts.ID)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%w: %s", models.ErrAlreadyExists, ts.ID)
	}
	// data first, so a visible metadata object always has a block
	if err := r.writeData(ctx, ts.ID, ts.Data); err != nil {
		return err
	}
	return r.writeMeta(ctx, ts)
}

func (r *S3Repo[T]) Update(ctx context.Context, ts models.TimeSeries[T]) error {
	if err := ts.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ok, err := r.contains(ctx, ts.ID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrNotFound, ts.ID)
	}
	if ts.Data != nil {
		if err := r.writeData(ctx, ts.ID, ts.Data); err != nil {
			return err
		}
	}
	return r.writeMeta(ctx, ts)
}

func (r *S3Repo[T]) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ok, err := r.contains(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}
	if err := r.deleteObject(ctx, r.metaKey(id)); err != nil {
		return err
	}
	return r.deleteObject(ctx, r.dataKey(id))
}

func (r *S3Repo[T]) modifyData(ctx context.Context, id string, fn func(*models.Series[T])) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.readData(ctx, id)
	if err != nil {
		return err
	}
	fn(s)
	return r.writeData(ctx, id, s)
}

func (r *S3Repo[T]) SetValues(ctx context.Context, id string, data *models.Series[T]) error {
	return r.modifyData(ctx, id, func(s *models.Series[T]) { s.Merge(data) })
}

func (r *S3Repo[T]) RemoveValues(ctx context.Context, id string, from, to time.Time) error {
	return r.modifyData(ctx, id, func(s *models.Series[T]) { s.RemoveRange(from, to) })
}

var _ repository.UpdatableRepository[float64] = (*S3Repo[float64])(nil)
