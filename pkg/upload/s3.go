package upload

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/paulschiretz/zfs2cloud/pkg/config"
	"github.com/paulschiretz/zfs2cloud/pkg/plog"
)

// maxDeleteBatch is the largest number of keys a DeleteObjects call accepts.
const maxDeleteBatch = 1000

// S3API is the subset of *s3.Client used by S3Syncer.
type S3API interface {
	s3.ListObjectsV2APIClient
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

var loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

// NewS3Client builds a client from the s3_* settings. Without static
// credentials the default AWS credential chain applies.
func NewS3Client(ctx context.Context, m config.MainConfig) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(m.S3Region)}
	if m.S3AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			m.S3AccessKeyID,
			m.S3SecretAccessKey,
			"",
		)))
	}

	cfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if m.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(m.S3Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// S3Syncer mirrors folders into an S3 bucket below a key prefix. Objects
// are compared by size only; chunk files are never rewritten in place.
type S3Syncer struct {
	client S3API
	bucket string
	prefix string
}

var _ Syncer = (*S3Syncer)(nil)

// NewS3Syncer creates an S3Syncer that writes to bucket below prefix.
func NewS3Syncer(client S3API, bucket, prefix string) *S3Syncer {
	return &S3Syncer{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// keyPrefix returns the prefix of all keys mirrored from subdir, with a trailing slash.
func (s *S3Syncer) keyPrefix(subdir string) string {
	p := path.Join(s.prefix, subdir)
	if p == "" || p == "." {
		return ""
	}
	return p + "/"
}

func (s *S3Syncer) Sync(ctx context.Context, localDir, subdir string, dryRun bool) error {
	prefix := s.keyPrefix(subdir)
	plog.Info(fmt.Sprintf("+ s3 sync %s s3://%s/%s", localDir, s.bucket, prefix))
	if dryRun {
		return nil
	}

	local, err := localFiles(localDir)
	if err != nil {
		return err
	}
	remote, err := s.remoteObjects(ctx, prefix)
	if err != nil {
		return err
	}

	var uploaded int
	for _, rel := range sortedKeys(local) {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := prefix + rel
		if size, ok := remote[key]; ok && size == local[rel] {
			plog.Debug("unchanged", "key", key)
			continue
		}
		if err := s.put(ctx, filepath.Join(localDir, filepath.FromSlash(rel)), key, local[rel]); err != nil {
			return err
		}
		uploaded++
	}

	var stale []string
	for key := range remote {
		if _, ok := local[strings.TrimPrefix(key, prefix)]; !ok {
			stale = append(stale, key)
		}
	}
	sort.Strings(stale)
	if err := s.delete(ctx, stale); err != nil {
		return err
	}

	plog.Info("s3 sync finished", "bucket", s.bucket, "prefix", prefix, "uploaded", uploaded, "deleted", len(stale))
	return nil
}

func (s *S3Syncer) remoteObjects(ctx context.Context, prefix string) (map[string]int64, error) {
	objects := make(map[string]int64)
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", s.bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			objects[aws.ToString(obj.Key)] = aws.ToInt64(obj.Size)
		}
	}
	return objects, nil
}

func (s *S3Syncer) put(ctx context.Context, file, key string, size int64) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	plog.Debug("uploading", "file", file, "key", key)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to s3://%s/%s: %w", file, s.bucket, key, err)
	}
	return nil
}

func (s *S3Syncer) delete(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += maxDeleteBatch {
		end := min(start+maxDeleteBatch, len(keys))
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(k)})
		}
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("failed to delete stale objects from s3://%s: %w", s.bucket, err)
		}
		if out != nil && len(out.Errors) > 0 {
			e := out.Errors[0]
			return fmt.Errorf("failed to delete s3://%s/%s: %s", s.bucket, aws.ToString(e.Key), aws.ToString(e.Message))
		}
	}
	return nil
}

// localFiles returns the regular files below dir, keyed by slash separated relative path.
func localFiles(dir string) (map[string]int64, error) {
	files := make(map[string]int64)
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = info.Size()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	return files, nil
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
