package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type deleteRecorder struct {
	s3iface.S3API
	keys []string
	err  error
}

func (d *deleteRecorder) DeleteObjectWithContext(_ aws.Context, in *s3.DeleteObjectInput, _ ...request.Option) (*s3.DeleteObjectOutput, error) {
	d.keys = append(d.keys, aws.StringValue(in.Bucket)+":"+aws.StringValue(in.Key))
	return &s3.DeleteObjectOutput{}, d.err
}

func TestNewS3Store(t *testing.T) {
	_, err := NewS3Store(S3Config{})
	assert.Error(t, err)

	s, err := NewS3Store(S3Config{Bucket: "farm-media", Region: "eu-west-1", Prefix: "/uploads/"})
	require.NoError(t, err)
	assert.Equal(t, "https://farm-media.s3.eu-west-1.amazonaws.com", s.publicURL)
	assert.Equal(t, "uploads", s.prefix)

	s, err = NewS3Store(S3Config{Bucket: "b", Region: "us-east-1", Endpoint: "http://minio:9000", PublicURL: "http://cdn.local/b/"})
	require.NoError(t, err)
	assert.Equal(t, "http://cdn.local/b", s.publicURL)
}

func TestS3StoreDelete(t *testing.T) {
	rec := &deleteRecorder{}
	s := &S3Store{bucket: "farm-media", client: rec}

	require.NoError(t, s.Delete(context.Background(), "uploads/a.png"))
	assert.Equal(t, []string{"farm-media:uploads/a.png"}, rec.keys)

	rec.err = errors.New("access denied")
	err := s.Delete(context.Background(), "uploads/b.png")
	assert.ErrorContains(t, err, "s3 delete")
}
