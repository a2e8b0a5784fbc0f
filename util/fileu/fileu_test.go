package fileu_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"reduction.dev/rangemerge/s3store"
	"reduction.dev/rangemerge/util/fileu"
)

func TestReadFile_Local(t *testing.T) {
	path := filepath.Join(t.TempDir(), "request.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"limit":1}`), 0o644))

	data, err := fileu.ReadFile(context.Background(), path, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"limit":1}`, string(data))
}

func TestReadFile_S3(t *testing.T) {
	svc := s3store.NewMemoryS3Service()
	_, err := svc.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String("bucket"),
		Key:    aws.String("requests/scan.json"),
		Body:   strings.NewReader(`{"skip":2}`),
	})
	require.NoError(t, err)

	data, err := fileu.ReadFile(context.Background(), "s3://bucket/requests/scan.json", svc)
	require.NoError(t, err)
	assert.Equal(t, `{"skip":2}`, string(data))

	_, err = fileu.ReadFile(context.Background(), "s3://bucket/missing.json", svc)
	assert.ErrorContains(t, err, "failed to get object from S3")

	_, err = fileu.ReadFile(context.Background(), "s3://bucket", svc)
	assert.ErrorContains(t, err, "needs a bucket and key")

	_, err = fileu.ReadFile(context.Background(), "s3://bucket/requests/scan.json", nil)
	assert.ErrorContains(t, err, "no S3 client")
}
