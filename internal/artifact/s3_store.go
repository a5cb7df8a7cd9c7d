package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// maxDeleteBatch is the S3 DeleteObjects limit.
const maxDeleteBatch = 1000

// S3Config holds the connection settings for an S3-compatible bucket.
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	PathStyle bool
}

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// S3Store writes uploads under a per-process key prefix in a bucket. The
// prefix plays the role of the scratch directory: Teardown deletes every
// object below it.
type S3Store struct {
	client S3API
	bucket string
	prefix string
	opts   options

	count  atomic.Int64
	closed atomic.Bool

	mu       sync.Mutex
	tornDown bool
}

// NewS3Store builds an S3 client from cfg and returns a store rooted at a
// fresh prefix derived from namePrefix.
func NewS3Store(ctx context.Context, cfg S3Config, namePrefix string, opts ...Option) (*S3Store, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return NewS3StoreWithClient(client, bucket, namePrefix, opts...), nil
}

// NewS3StoreWithClient returns a store using an existing client.
func NewS3StoreWithClient(client S3API, bucket, namePrefix string, opts ...Option) *S3Store {
	if namePrefix == "" {
		namePrefix = DefaultPrefix
	}
	o := buildOptions(opts)
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: namePrefix + NewKey(o.now(), "") + "/",
		opts:   o,
	}
}

// Prefix returns the key prefix owned by this store.
func (s *S3Store) Prefix() string {
	return s.prefix
}

// Backend implements Store.
func (s *S3Store) Backend() string {
	return "s3"
}

// Count implements Store.
func (s *S3Store) Count() int64 {
	return s.count.Load()
}

// Put implements Store. The upload is buffered so the SDK can sign a
// seekable body.
func (s *S3Store) Put(ctx context.Context, r io.Reader, originalName string) (Stored, error) {
	if s.closed.Load() {
		return Stored{}, ErrClosed
	}

	var buf bytes.Buffer
	n, err := limitedCopy(&buf, r, s.opts.maxBytes)
	if err != nil {
		if errors.Is(err, ErrTooLarge) {
			return Stored{}, err
		}
		return Stored{}, fmt.Errorf("read upload: %w", err)
	}

	key := s.prefix + NewKey(s.opts.now(), originalName)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentLength: aws.Int64(n),
	})
	if err != nil {
		return Stored{}, fmt.Errorf("put %s: %w", key, err)
	}

	s.count.Add(1)
	return Stored{
		Key:          key,
		Location:     "s3://" + s.bucket + "/" + key,
		OriginalName: originalName,
		Size:         n,
	}, nil
}

// Teardown implements Store. It deletes every object under the prefix. A
// failed teardown may be retried; once it succeeds further calls are no-ops.
func (s *S3Store) Teardown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tornDown {
		return nil
	}
	s.closed.Store(true)

	pager := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	var batch []types.ObjectIdentifier
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("list %s: %w", s.prefix, err)
		}
		for _, obj := range page.Contents {
			batch = append(batch, types.ObjectIdentifier{Key: obj.Key})
			if len(batch) == maxDeleteBatch {
				if err := s.deleteBatch(ctx, batch); err != nil {
					return err
				}
				batch = batch[:0]
			}
		}
	}
	if len(batch) > 0 {
		if err := s.deleteBatch(ctx, batch); err != nil {
			return err
		}
	}

	s.tornDown = true
	return nil
}

func (s *S3Store) deleteBatch(ctx context.Context, objs []types.ObjectIdentifier) error {
	out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.bucket),
		Delete: &types.Delete{
			Objects: append([]types.ObjectIdentifier(nil), objs...),
			Quiet:   aws.Bool(true),
		},
	})
	if err != nil {
		return fmt.Errorf("delete objects: %w", err)
	}
	if len(out.Errors) > 0 {
		first := out.Errors[0]
		return fmt.Errorf("delete %s: %s", aws.ToString(first.Key), aws.ToString(first.Message))
	}
	return nil
}
