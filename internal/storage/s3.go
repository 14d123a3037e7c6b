package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
)

const defaultRegion = "us-east-1"

// S3Config はS3保存先の設定。
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // MinIO等のS3互換ストレージ向け
	// ForcePathStyle はパス形式のURL（endpoint/bucket/key）を使う。Endpoint指定時は常に有効。
	ForcePathStyle  bool
	KeyPrefix       string
	PublicBaseURL   string // 指定時は <PublicBaseURL>/<key> を画像URLとして返す
	AccessKeyID     string
	SecretAccessKey string
}

// putObjectAPI はS3Storeが使うS3 APIのサブセット。
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store はS3に画像を保存するImageStore。
type S3Store struct {
	client putObjectAPI
	config S3Config
}

// NewS3Store はAWS SDKのデフォルト設定チェーンからS3クライアントを構築する。
// アクセスキーが指定された場合は静的クレデンシャルを使う。
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 image store requires bucket")
	}
	if cfg.Region == "" {
		cfg.Region = defaultRegion
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if cfg.Endpoint != "" {
		cfg.ForcePathStyle = true
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return newS3Store(client, cfg), nil
}

func newS3Store(client putObjectAPI, cfg S3Config) *S3Store {
	return &S3Store{client: client, config: cfg}
}

// Save は画像を <KeyPrefix><uuid><Extension> のキーで保存し、画像URLを返す。
func (s *S3Store) Save(ctx context.Context, obj Object) (string, error) {
	key := s.config.KeyPrefix + uuid.NewString() + obj.Extension

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.config.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(obj.Data),
		ContentLength: aws.Int64(int64(len(obj.Data))),
	}
	if obj.ContentType != "" {
		input.ContentType = aws.String(obj.ContentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("failed to upload image to s3://%s/%s (%s): %w", s.config.Bucket, key, apiErr.ErrorCode(), err)
		}
		return "", fmt.Errorf("failed to upload image to s3://%s/%s: %w", s.config.Bucket, key, err)
	}

	return s.objectURL(key), nil
}

// objectURL はキーに対応する画像URLを組み立てる。
func (s *S3Store) objectURL(key string) string {
	escaped := escapeKey(key)

	if s.config.PublicBaseURL != "" {
		return strings.TrimRight(s.config.PublicBaseURL, "/") + "/" + escaped
	}
	if s.config.Endpoint != "" {
		return strings.TrimRight(s.config.Endpoint, "/") + "/" + s.config.Bucket + "/" + escaped
	}
	if s.config.ForcePathStyle {
		return fmt.Sprintf("https://s3.%s.amazonaws.com/%s/%s", s.config.Region, s.config.Bucket, escaped)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.config.Bucket, s.config.Region, escaped)
}

// escapeKey はキーの各セグメントをURLパスとしてエスケープする。
func escapeKey(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}

// compile-time interface check
var _ ImageStore = (*S3Store)(nil)
