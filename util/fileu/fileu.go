// Package fileu reads input documents from local paths, stdin or S3.
package fileu

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectGetter is the S3 call ReadFile needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, input *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ReadFile reads the contents of the file specified by path. It supports local
// file paths, "-" for stdin and S3 URLs like s3://bucket/path/object.json.
// s3Client is only called for S3 URLs and may be nil otherwise.
func ReadFile(ctx context.Context, path string, s3Client ObjectGetter) ([]byte, error) {
	switch {
	case path == "-":
		return io.ReadAll(os.Stdin)
	case strings.HasPrefix(path, "s3://"):
		if s3Client == nil {
			return nil, fmt.Errorf("no S3 client to read %s", path)
		}
		return readS3File(ctx, path, s3Client)
	default:
		return os.ReadFile(path)
	}
}

func readS3File(ctx context.Context, s3URL string, s3Client ObjectGetter) ([]byte, error) {
	parsedURL, err := url.Parse(s3URL)
	if err != nil {
		return nil, fmt.Errorf("invalid S3 URL: %w", err)
	}

	// The bucket is the host part of the URL
	bucket := parsedURL.Host
	key := strings.TrimPrefix(parsedURL.Path, "/")
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("S3 URL needs a bucket and key: %s", s3URL)
	}

	result, err := s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object content from S3: %w", err)
	}

	return data, nil
}
