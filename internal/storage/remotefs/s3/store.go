// Package s3 provides an S3-backed remotefs.RemoteFS.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/yndnr/metastore-go/internal/infra/tlsroots"
	"github.com/yndnr/metastore-go/internal/storage/remotefs"
)

// Config holds configuration for the S3 backend.
type Config struct {
	// Bucket is the S3 bucket name.
	Bucket string `koanf:"bucket"`

	// Region is the AWS region (optional, uses SDK default if empty).
	Region string `koanf:"region"`

	// Endpoint is the S3 endpoint URL (optional, for S3-compatible services).
	Endpoint string `koanf:"endpoint"`

	// KeyPrefix is prepended to every remote path (e.g. "prod/").
	KeyPrefix string `koanf:"key_prefix"`

	// ForcePathStyle forces path-style addressing (MinIO, Localstack).
	ForcePathStyle bool `koanf:"force_path_style"`

	// AccessKeyID and SecretAccessKey select static credentials. When empty
	// the SDK default credential chain is used.
	AccessKeyID     string `koanf:"access_key_id"`
	SecretAccessKey string `koanf:"secret_access_key"`

	// CAFile is an optional PEM bundle trusted in addition to system roots.
	CAFile string `koanf:"ca_file"`

	// CacheDir holds downloaded copies and the uploads staging area.
	CacheDir string `koanf:"cache_dir"`

	// PageSize bounds the number of keys per ListByPage page.
	PageSize int `koanf:"page_size"`

	// Timeout bounds a single HTTP request. Default: 5m
	Timeout time.Duration `koanf:"timeout"`
}

// Store is an S3-backed implementation of remotefs.RemoteFS.
type Store struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
	pageSize  int
	cacheDir  string

	mu     sync.RWMutex
	closed bool
}

// New creates a Store around an existing client.
func New(client *s3.Client, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required")
	}
	if cfg.CacheDir == "" {
		return nil, fmt.Errorf("s3: cache dir is required")
	}
	if err := os.MkdirAll(cfg.CacheDir, 0750); err != nil {
		return nil, fmt.Errorf("s3: create cache dir: %w", err)
	}
	if cfg.PageSize <= 0 || cfg.PageSize > 1000 {
		cfg.PageSize = remotefs.DefaultPageSize
	}
	return &Store{
		client:    client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		pageSize:  cfg.PageSize,
		cacheDir:  cfg.CacheDir,
	}, nil
}

// NewFromConfig builds an S3 client from cfg and wraps it.
func NewFromConfig(ctx context.Context, cfg Config) (*Store, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	httpClient, err := newHTTPClient(cfg)
	if err != nil {
		return nil, err
	}
	opts = append(opts, awsconfig.WithHTTPClient(httpClient))

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return New(s3.NewFromConfig(awsCfg, s3Opts...), cfg)
}

func newHTTPClient(cfg Config) (*http.Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.CAFile != "" {
		tlsCfg, err := tlsroots.ClientConfig(cfg.CAFile, false)
		if err != nil {
			return nil, fmt.Errorf("s3: %w", err)
		}
		transport.TLSClientConfig = tlsCfg
	}
	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return remotefs.ErrClosed
	}
	return nil
}

func (s *Store) fullKey(remotePath string) string {
	return s.keyPrefix + remotePath
}

func (s *Store) stripKey(key string) string {
	return strings.TrimPrefix(key, s.keyPrefix)
}

// List returns every remote name starting with prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	return remotefs.Collect(ctx, s.ListByPage(ctx, prefix))
}

// ListByPage pages through ListObjectsV2 lazily.
func (s *Store) ListByPage(ctx context.Context, prefix string) remotefs.PageIterator {
	return &pageIterator{
		store: s,
		paginator: s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
			Bucket:  aws.String(s.bucket),
			Prefix:  aws.String(s.fullKey(prefix)),
			MaxKeys: aws.Int32(int32(s.pageSize)),
		}),
	}
}

type pageIterator struct {
	store     *Store
	paginator *s3.ListObjectsV2Paginator
}

func (it *pageIterator) Next(ctx context.Context) ([]string, error) {
	if err := it.store.checkOpen(); err != nil {
		return nil, err
	}
	if !it.paginator.HasMorePages() {
		return nil, io.EOF
	}
	page, err := it.paginator.NextPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("s3: list objects: %w", err)
	}
	names := make([]string, 0, len(page.Contents))
	for _, obj := range page.Contents {
		names = append(names, it.store.stripKey(aws.ToString(obj.Key)))
	}
	return names, nil
}

// ListWithMetadata returns every object starting with prefix and its size.
func (s *Store) ListWithMetadata(ctx context.Context, prefix string) ([]remotefs.FileInfo, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.fullKey(prefix)),
	})

	var out []remotefs.FileInfo
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3: list objects: %w", err)
		}
		for _, obj := range page.Contents {
			out = append(out, remotefs.FileInfo{
				RemotePath: s.stripKey(aws.ToString(obj.Key)),
				Size:       aws.ToInt64(obj.Size),
			})
		}
	}
	return out, nil
}

// UploadFile puts localPath under remotePath.
func (s *Store) UploadFile(ctx context.Context, localPath, remotePath string) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if err := remotefs.ValidatePath(remotePath); err != nil {
		return 0, err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return 0, fmt.Errorf("s3: upload %s: %w", remotePath, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("s3: upload %s: %w", remotePath, err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.fullKey(remotePath)),
		Body:          f,
		ContentLength: aws.Int64(stat.Size()),
	})
	if err != nil {
		return 0, fmt.Errorf("s3: put object %s: %w", remotePath, err)
	}
	return stat.Size(), nil
}

// DownloadFile gets remotePath, optionally ranged, into the cache.
func (s *Store) DownloadFile(ctx context.Context, remotePath string, rng *remotefs.Range) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	dst, err := s.LocalFile(remotePath)
	if err != nil {
		return "", err
	}

	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(remotePath)),
	}
	if rng != nil {
		if rng.Length > 0 {
			input.Range = aws.String(fmt.Sprintf("bytes=%d-%d", rng.Offset, rng.Offset+rng.Length-1))
		} else {
			input.Range = aws.String(fmt.Sprintf("bytes=%d-", rng.Offset))
		}
	}

	resp, err := s.client.GetObject(ctx, input)
	if err != nil {
		if isNotFoundError(err) {
			return "", fmt.Errorf("%w: %s", remotefs.ErrNotFound, remotePath)
		}
		return "", fmt.Errorf("s3: get object %s: %w", remotePath, err)
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".s3-download-*")
	if err != nil {
		return "", fmt.Errorf("s3: download %s: %w", remotePath, err)
	}
	_, err = io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), dst)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("s3: download %s: %w", remotePath, err)
	}
	return dst, nil
}

// DeleteFile removes remotePath. S3 treats missing keys as success.
func (s *Store) DeleteFile(ctx context.Context, remotePath string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(remotePath)),
	})
	if err != nil && !isNotFoundError(err) {
		return fmt.Errorf("s3: delete object %s: %w", remotePath, err)
	}
	return nil
}

// LocalFile maps remotePath into the cache directory.
func (s *Store) LocalFile(remotePath string) (string, error) {
	if err := remotefs.ValidatePath(remotePath); err != nil {
		return "", err
	}
	p := filepath.Join(s.cacheDir, filepath.FromSlash(remotePath))
	if err := os.MkdirAll(filepath.Dir(p), 0750); err != nil {
		return "", fmt.Errorf("s3: create cache parent: %w", err)
	}
	return p, nil
}

// UploadsDir returns the staging directory inside the cache.
func (s *Store) UploadsDir() (string, error) {
	p := filepath.Join(s.cacheDir, "uploads")
	if err := os.MkdirAll(p, 0750); err != nil {
		return "", fmt.Errorf("s3: create uploads dir: %w", err)
	}
	return p, nil
}

// HealthCheck verifies the bucket is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("s3: head bucket: %w", err)
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func isNotFoundError(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

var _ remotefs.RemoteFS = (*Store)(nil)
