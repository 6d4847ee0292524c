package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/tomerIQ713/File-Transfer/internal/config"
)

// namespaceMarker is the object written when a namespace is created, so
// that empty namespaces are distinguishable from absent ones.
const namespaceMarker = ".namespace"

// S3Store keeps blobs in an S3 bucket under
// <prefix>/<namespace>/<blob name>. Namespace existence is tracked with
// a marker object since S3 has no real directories.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Store builds an S3-backed blob store from config. Credentials
// come from the config when set, otherwise from the default AWS chain
// (environment, shared config, instance role).
func NewS3Store(ctx context.Context, cfg config.BlobConfig) (*S3Store, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 blob store requires s3_bucket to be set")
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.S3Bucket,
		prefix:   strings.Trim(cfg.S3Prefix, "/"),
	}, nil
}

func (s *S3Store) key(parts ...string) string {
	if s.prefix != "" {
		parts = append([]string{s.prefix}, parts...)
	}
	return path.Join(parts...)
}

func (s *S3Store) namespaceExists(ctx context.Context, namespace string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(namespace, namespaceMarker)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check namespace: %w", err)
	}
	return true, nil
}

// CreateNamespace writes the namespace marker object.
func (s *S3Store) CreateNamespace(ctx context.Context, namespace string) error {
	if !validName(namespace) {
		return fmt.Errorf("invalid namespace %q", namespace)
	}

	exists, err := s.namespaceExists(ctx, namespace)
	if err != nil {
		return err
	}
	if exists {
		return ErrExists
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(namespace, namespaceMarker)),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return fmt.Errorf("failed to create namespace: %w", err)
	}
	return nil
}

// RemoveNamespace deletes every object under the namespace, the marker
// included, in batches of up to 1000 keys.
func (s *S3Store) RemoveNamespace(ctx context.Context, namespace string) error {
	if !validName(namespace) {
		return fmt.Errorf("invalid namespace %q", namespace)
	}

	exists, err := s.namespaceExists(ctx, namespace)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.key(namespace) + "/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list namespace objects: %w", err)
		}
		if len(page.Contents) == 0 {
			continue
		}

		objects := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			objects = append(objects, types.ObjectIdentifier{Key: obj.Key})
		}
		_, err = s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("failed to delete namespace objects: %w", err)
		}
	}
	return nil
}

// Put uploads the blob via the multipart upload manager.
func (s *S3Store) Put(ctx context.Context, namespace, name string, r io.Reader, size int64) error {
	if !validName(namespace) || !validName(name) {
		return fmt.Errorf("invalid blob key %q/%q", namespace, name)
	}

	exists, err := s.namespaceExists(ctx, namespace)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}

	// The declared size is enforced here since S3 has no post-hoc
	// verification step.
	data, err := io.ReadAll(io.LimitReader(r, size+1))
	if err != nil {
		return fmt.Errorf("failed to read blob: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(namespace, name)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to upload blob: %w", err)
	}
	return nil
}

// Get downloads the named blob and writes it to w.
func (s *S3Store) Get(ctx context.Context, namespace, name string, w io.Writer) error {
	if !validName(namespace) || !validName(name) {
		return fmt.Errorf("invalid blob key %q/%q", namespace, name)
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(namespace, name)),
	})
	if err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to get blob: %w", err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("failed to read blob body: %w", err)
	}
	return nil
}

// Delete removes the named blob.
func (s *S3Store) Delete(ctx context.Context, namespace, name string) error {
	if !validName(namespace) || !validName(name) {
		return fmt.Errorf("invalid blob key %q/%q", namespace, name)
	}

	// DeleteObject succeeds on absent keys, so check first to keep the
	// ErrNotFound contract.
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(namespace, name)),
	})
	if err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to check blob: %w", err)
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(namespace, name)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// isNotFound reports whether err is an S3 missing-key or missing-object
// error. HeadObject reports types.NotFound while GetObject reports
// types.NoSuchKey.
func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	return errors.As(err, &notFound) || errors.As(err, &noSuchKey)
}

// Compile-time check that S3Store implements the Store interface
var _ Store = (*S3Store)(nil)
