package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"docqa/internal/config"
)

const manifestKey = "MANIFEST.json"

// ObjectAPI is the subset of the S3 client used by the s3 store.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type manifest struct {
	Generation string    `json:"generation"`
	Artifacts  []string  `json:"artifacts"`
	SavedAt    time.Time `json:"saved_at"`
}

// s3Store uploads each snapshot under a fresh generation prefix and then
// overwrites the manifest object, which is what readers resolve first.
type s3Store struct {
	client ObjectAPI
	bucket string
	prefix string
}

func init() {
	Register("s3", createS3Store)
}

func createS3Store(cfg config.SnapshotConfig) (Store, error) {
	c := cfg.S3
	if c.Bucket == "" {
		return nil, fmt.Errorf("snapshot.s3.bucket is required for s3 store")
	}
	opts := []func(*awsconfig.LoadOptions) error{}
	if c.Region != "" {
		opts = append(opts, awsconfig.WithRegion(c.Region))
	}
	accessKey, secretKey := os.Getenv(c.AccessKeyEnv), os.Getenv(c.SecretKeyEnv)
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
		}
		o.UsePathStyle = c.UsePathStyle
	})
	return NewS3(client, c.Bucket, c.Prefix), nil
}

// NewS3 returns a store that keeps snapshots in bucket under prefix.
func NewS3(client ObjectAPI, bucket, prefix string) Store {
	return &s3Store{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (s *s3Store) key(parts ...string) string {
	if s.prefix != "" {
		parts = append([]string{s.prefix}, parts...)
	}
	return path.Join(parts...)
}

func (s *s3Store) Save(ctx context.Context, artifacts Artifacts) error {
	if err := artifacts.Validate(); err != nil {
		return err
	}
	gen := fmt.Sprintf("gen-%d-%s", time.Now().UTC().UnixNano(), uuid.NewString()[:8])
	for _, name := range Names {
		if err := s.put(ctx, s.key(gen, name), artifacts[name]); err != nil {
			return fmt.Errorf("upload artifact %s: %w", name, err)
		}
	}
	data, err := json.Marshal(manifest{Generation: gen, Artifacts: Names, SavedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := s.put(ctx, s.key(manifestKey), data); err != nil {
		return fmt.Errorf("upload manifest: %w", err)
	}
	return nil
}

func (s *s3Store) Load(ctx context.Context) (Artifacts, error) {
	m, err := s.manifest(ctx)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrNotFound
	}
	artifacts := make(Artifacts, len(m.Artifacts))
	for _, name := range m.Artifacts {
		data, err := s.get(ctx, s.key(m.Generation, name))
		if err != nil {
			return nil, fmt.Errorf("download artifact %s: %w", name, err)
		}
		artifacts[name] = data
	}
	return artifacts, nil
}

func (s *s3Store) Generation(ctx context.Context) (string, error) {
	m, err := s.manifest(ctx)
	if err != nil || m == nil {
		return "", err
	}
	return m.Generation, nil
}

func (s *s3Store) manifest(ctx context.Context) (*manifest, error) {
	data, err := s.get(ctx, s.key(manifestKey))
	if isNoSuchKey(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("download manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if m.Generation == "" {
		return nil, fmt.Errorf("manifest has no generation")
	}
	return &m, nil
}

func (s *s3Store) put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	return err
}

func (s *s3Store) get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func isNoSuchKey(err error) bool {
	var nsk *types.NoSuchKey
	return errors.As(err, &nsk)
}
