package s3

import (
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type Config struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// NewClient builds an S3 client. Without static keys the default AWS
// credential chain is used.
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region := strings.TrimSpace(cfg.Region); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if strings.TrimSpace(cfg.AccessKeyID) != "" && strings.TrimSpace(cfg.SecretAccessKey) != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws config: %w", err)
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	client := s3.NewFromConfig(awsCfg, func(options *s3.Options) {
		if endpoint != "" {
			options.BaseEndpoint = &endpoint
		}
		options.UsePathStyle = cfg.UsePathStyle
	})

	return client, nil
}

// ParseURL splits s3://bucket/prefix into its bucket and prefix.
func ParseURL(raw string) (bucket, prefix string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("parse %q: %w", raw, err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("parse %q: scheme must be s3", raw)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("parse %q: bucket is required", raw)
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}

// IsURL reports whether raw looks like an s3:// location.
func IsURL(raw string) bool {
	return strings.HasPrefix(strings.TrimSpace(raw), "s3://")
}

// Opener returns a function that opens a bucket prefix as a file system
// through api.
func Opener(api API, timeout time.Duration) func(ctx context.Context, bucket, prefix string) (fs.FS, error) {
	return func(_ context.Context, bucket, prefix string) (fs.FS, error) {
		return NewFS(api, bucket, prefix, timeout)
	}
}
