// Package s3store keeps canister assets in an S3 compatible bucket.
// Open batches are staged in local files and uploaded when they are committed.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/google/uuid"

	"github.com/ic-communities/deployutils/assets"
	"github.com/ic-communities/deployutils/batch"
)

const numUploadRetries = 3

// ErrNoOpenBatch is returned for appends and commits of a key without a created batch.
var ErrNoOpenBatch = errors.New("no open batch")

// API is the part of the S3 client the store uses.
type API interface {
	manager.UploadAPIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Params ...
type Params struct {
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	// StagingDir holds open batches. A temporary directory is created when empty.
	StagingDir string
}

type openBatch struct {
	file *os.File
	size int64
}

// Store implements the batch call surface on top of a bucket.
type Store struct {
	client     API
	bucket     string
	prefix     string
	stagingDir string
	retryWait  time.Duration
	logger     log.Logger

	mu   sync.Mutex
	open map[string]*openBatch
}

var (
	_ batch.Store         = (*Store)(nil)
	_ batch.MetadataStore = (*Store)(nil)
	_ batch.BatchExecutor = (*Store)(nil)
)

// New creates a Store with an S3 client configured from params.
func New(ctx context.Context, params Params, logger log.Logger) (*Store, error) {
	cfg, err := loadAWSCredentials(ctx, params.Region, params.AccessKeyID, params.SecretAccessKey, logger)
	if err != nil {
		return nil, fmt.Errorf("load aws credentials: %w", err)
	}

	client := s3.NewFromConfig(*cfg, func(o *s3.Options) {
		if params.Endpoint != "" {
			o.BaseEndpoint = aws.String(params.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewWithClient(client, params, logger)
}

// NewWithClient creates a Store that uses the given client.
func NewWithClient(client API, params Params, logger log.Logger) (*Store, error) {
	if params.Bucket == "" {
		return nil, &batch.ConfigurationError{Field: "Bucket", Reason: "must not be empty"}
	}

	stagingDir := params.StagingDir
	if stagingDir == "" {
		dir, err := pathutil.NewPathProvider().CreateTempDir("canister-batches")
		if err != nil {
			return nil, fmt.Errorf("create staging dir: %w", err)
		}
		stagingDir = dir
	}

	prefix := strings.Trim(params.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}

	return &Store{
		client:     client,
		bucket:     params.Bucket,
		prefix:     prefix,
		stagingDir: stagingDir,
		retryWait:  5 * time.Second,
		logger:     logger,
		open:       map[string]*openBatch{},
	}, nil
}

// ObjectKey returns the bucket key an asset key is stored under.
func (s *Store) ObjectKey(key string) string {
	return s.prefix + strings.TrimPrefix(path.Clean("/"+key), "/")
}

// StoreBatch ...
func (s *Store) StoreBatch(ctx context.Context, key string, content []byte) error {
	return s.put(ctx, key, assets.ContentType(key), "", func() (io.Reader, error) {
		return bytes.NewReader(content), nil
	})
}

// Store ...
func (s *Store) Store(ctx context.Context, args batch.StoreArgs) error {
	return s.put(ctx, args.Key, args.ContentType, args.ContentEncoding, func() (io.Reader, error) {
		return bytes.NewReader(args.Content), nil
	})
}

// ExecuteBatch stores every StoreAsset operation in order and stops at the first failure.
func (s *Store) ExecuteBatch(ctx context.Context, operations []batch.Operation) error {
	for i, op := range operations {
		if op.StoreAsset == nil {
			return fmt.Errorf("operation %d: only StoreAsset is supported", i)
		}
		a := op.StoreAsset
		if a.SHA256 != nil && !bytes.Equal(a.SHA256, assets.Checksum(a.Content)) {
			return fmt.Errorf("operation %d: sha256 mismatch for %s", i, a.Key)
		}
		err := s.put(ctx, a.Key, a.ContentType, a.ContentEncoding, func() (io.Reader, error) {
			return bytes.NewReader(a.Content), nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// CreateBatch opens a staging buffer for key. An already open buffer is emptied, so an
// upload started over from the first chunk doesn't keep stale bytes.
func (s *Store) CreateBatch(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.open[key]; ok {
		if err := b.file.Truncate(0); err != nil {
			return fmt.Errorf("reset staging buffer of %s: %w", key, err)
		}
		if _, err := b.file.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("reset staging buffer of %s: %w", key, err)
		}
		b.size = 0
		s.logger.Debugf("Reset open batch of %s", key)
		return nil
	}

	file, err := os.CreateTemp(s.stagingDir, "batch-"+uuid.NewString()+"-*")
	if err != nil {
		return fmt.Errorf("create staging buffer of %s: %w", key, err)
	}
	s.open[key] = &openBatch{file: file}
	return nil
}

// AppendChunk ...
func (s *Store) AppendChunk(_ context.Context, key string, chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.open[key]
	if !ok {
		return fmt.Errorf("append to %s: %w", key, ErrNoOpenBatch)
	}
	n, err := b.file.Write(chunk)
	b.size += int64(n)
	if err != nil {
		return fmt.Errorf("append to %s: %w", key, err)
	}
	return nil
}

// CommitBatch uploads the staged bytes of key and releases the staging buffer.
func (s *Store) CommitBatch(ctx context.Context, key string) error {
	s.mu.Lock()
	b, ok := s.open[key]
	if ok {
		delete(s.open, key)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("commit %s: %w", key, ErrNoOpenBatch)
	}
	defer s.release(b)

	err := s.put(ctx, key, assets.ContentType(key), "", func() (io.Reader, error) {
		if _, err := b.file.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		return io.LimitReader(b.file, b.size), nil
	})
	if err != nil {
		return err
	}

	return s.verify(ctx, key, b.size)
}

// Close drops every open batch.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, b := range s.open {
		s.release(b)
		delete(s.open, key)
	}
	return nil
}

func (s *Store) release(b *openBatch) {
	name := b.file.Name()
	if err := b.file.Close(); err != nil {
		s.logger.Warnf("Failed to close staging buffer %s: %s", name, err)
	}
	if err := os.Remove(name); err != nil {
		s.logger.Warnf("Failed to remove staging buffer %s: %s", name, err)
	}
}

func (s *Store) put(ctx context.Context, key, contentType, contentEncoding string, body func() (io.Reader, error)) error {
	objectKey := s.ObjectKey(key)
	return retry.Times(numUploadRetries).Wait(0).TryWithAbort(func(attempt uint) (error, bool) {
		if attempt > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(s.retryWait):
			}
		}
		if err := ctx.Err(); err != nil {
			return err, true
		}
		reader, err := body()
		if err != nil {
			return fmt.Errorf("read staged content of %s: %w", key, err), true
		}

		input := &s3.PutObjectInput{
			Body:        reader,
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(objectKey),
			ContentType: aws.String(contentType),
		}
		if contentEncoding != "" && contentEncoding != assets.EncodingIdentity {
			input.ContentEncoding = aws.String(contentEncoding)
		}

		uploader := manager.NewUploader(s.client)
		if _, err := uploader.Upload(ctx, input); err != nil {
			s.logger.Debugf("Upload of %s failed (attempt %d): %s", objectKey, attempt+1, err)
			return fmt.Errorf("upload %s: %w", objectKey, err), false
		}
		return nil, true
	})
}

func (s *Store) verify(ctx context.Context, key string, size int64) error {
	objectKey := s.ObjectKey(key)
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var apiError smithy.APIError
		if errors.As(err, &apiError) {
			if _, ok := apiError.(*types.NotFound); ok {
				return fmt.Errorf("%s is missing after commit", objectKey)
			}
		}
		return fmt.Errorf("validating object: %w", err)
	}
	if out.ContentLength != nil && *out.ContentLength != size {
		return fmt.Errorf("%s has %d bytes after commit, expected %d", objectKey, *out.ContentLength, size)
	}
	return nil
}

func loadAWSCredentials(
	ctx context.Context,
	region string,
	accessKeyID string,
	secretKey string,
	logger log.Logger,
) (*aws.Config, error) {
	if region == "" {
		return nil, &batch.ConfigurationError{Field: "Region", Reason: "must not be empty"}
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if accessKeyID != "" && secretKey != "" {
		logger.Debugf("aws credentials provided, using them...")
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %v", err)
	}

	return &cfg, nil
}
