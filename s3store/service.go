package s3store

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Service is the subset of the S3 API the store uses.
type S3Service interface {
	GetObject(ctx context.Context, input *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	PutObject(ctx context.Context, input *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type NewClientParams struct {
	// The S3 endpoint to use. Normally left blank but used for testing against
	// S3-compatible services.
	Endpoint string
	Region   string
	// The AWS credentials profile name to use instead of default when credentials
	// falls back to credentials config file.
	Profile string
	// Static credentials. Both must be set to take effect.
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// NewClient builds an S3 client from the default AWS config chain.
func NewClient(ctx context.Context, params NewClientParams) (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		func(lo *config.LoadOptions) error {
			if params.Region != "" {
				lo.Region = params.Region
			}
			if params.Profile != "" {
				lo.SharedConfigProfile = params.Profile
			}
			if params.AccessKeyID != "" && params.SecretAccessKey != "" {
				lo.Credentials = credentials.NewStaticCredentialsProvider(params.AccessKeyID, params.SecretAccessKey, "")
			}
			return nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("s3 load config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(opts *s3.Options) {
		if params.Endpoint != "" {
			opts.BaseEndpoint = aws.String(params.Endpoint)
		}
		opts.UsePathStyle = params.UsePathStyle
	}), nil
}

var _ S3Service = (*s3.Client)(nil)
