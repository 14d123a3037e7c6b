package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutObject struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutObject) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = params
	if params.Body != nil {
		f.body, _ = io.ReadAll(params.Body)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestS3Store_Save_UploadsUnderPrefix(t *testing.T) {
	fake := &fakePutObject{}
	store := newS3Store(fake, S3Config{
		Bucket:    "fundus",
		Region:    "ap-south-1",
		KeyPrefix: "glaucoma_predictions/",
	})

	imageURL, err := store.Save(context.Background(), Object{
		Data:        []byte("png-bytes"),
		ContentType: "image/png",
		Extension:   ".png",
	})
	require.NoError(t, err)

	require.NotNil(t, fake.input)
	key := aws.ToString(fake.input.Key)
	assert.Equal(t, "fundus", aws.ToString(fake.input.Bucket))
	assert.True(t, strings.HasPrefix(key, "glaucoma_predictions/"), "key = %s", key)
	assert.True(t, strings.HasSuffix(key, ".png"), "key = %s", key)
	assert.Equal(t, "image/png", aws.ToString(fake.input.ContentType))
	assert.Equal(t, int64(len("png-bytes")), aws.ToInt64(fake.input.ContentLength))
	assert.Equal(t, []byte("png-bytes"), fake.body)

	assert.Equal(t, "https://fundus.s3.ap-south-1.amazonaws.com/"+key, imageURL)
}

func TestS3Store_ObjectURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  S3Config
		want string
	}{
		{
			name: "公開ベースURL指定",
			cfg:  S3Config{Bucket: "b", Region: "us-east-1", PublicBaseURL: "https://cdn.example.org/"},
			want: "https://cdn.example.org/p/k.png",
		},
		{
			name: "S3互換エンドポイント",
			cfg:  S3Config{Bucket: "b", Endpoint: "http://minio:9000", ForcePathStyle: true},
			want: "http://minio:9000/b/p/k.png",
		},
		{
			name: "パス形式",
			cfg:  S3Config{Bucket: "b", Region: "eu-west-1", ForcePathStyle: true},
			want: "https://s3.eu-west-1.amazonaws.com/b/p/k.png",
		},
		{
			name: "仮想ホスト形式",
			cfg:  S3Config{Bucket: "b", Region: "eu-west-1"},
			want: "https://b.s3.eu-west-1.amazonaws.com/p/k.png",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newS3Store(&fakePutObject{}, tt.cfg)
			assert.Equal(t, tt.want, store.objectURL("p/k.png"))
		})
	}
}

func TestS3Store_Save_UploadError(t *testing.T) {
	uploadErr := errors.New("access denied")
	store := newS3Store(&fakePutObject{err: uploadErr}, S3Config{Bucket: "b", Region: "us-east-1"})

	_, err := store.Save(context.Background(), Object{Data: []byte("x")})
	assert.ErrorIs(t, err, uploadErr)
}

func TestS3Store_Save_APIErrorCodeInMessage(t *testing.T) {
	uploadErr := &smithy.GenericAPIError{Code: "NoSuchBucket", Message: "bucket does not exist"}
	store := newS3Store(&fakePutObject{err: uploadErr}, S3Config{Bucket: "b", Region: "us-east-1"})

	_, err := store.Save(context.Background(), Object{Data: []byte("x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NoSuchBucket")

	var apiErr smithy.APIError
	assert.True(t, errors.As(err, &apiErr))
}

func TestNewS3Store_RequiresBucket(t *testing.T) {
	_, err := NewS3Store(context.Background(), S3Config{})
	assert.Error(t, err)
}

func TestDisabledStore_ReturnsErrStorageDisabled(t *testing.T) {
	_, err := DisabledStore{}.Save(context.Background(), Object{Data: []byte("x")})
	assert.ErrorIs(t, err, ErrStorageDisabled)
}
