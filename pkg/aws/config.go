package aws

import (
	"context"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// Settings select the region, an optional LocalStack endpoint and optional static keys.
type Settings struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// LoadAWSConfig loads the default AWS config. When an endpoint is set (LocalStack) every service
// client is pointed at it.
func LoadAWSConfig(ctx context.Context, s Settings) (sdkaws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if s.Region != "" {
		opts = append(opts, config.WithRegion(s.Region))
	}
	if s.AccessKeyID != "" || s.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.AccessKeyID, s.SecretAccessKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return cfg, fmt.Errorf("failed to load aws config: %w", err)
	}

	if s.Endpoint != "" {
		signingRegion := cfg.Region
		endpoint := s.Endpoint
		resolver := sdkaws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (sdkaws.Endpoint, error) {
			sr := signingRegion
			if sr == "" {
				sr = region
			}
			return sdkaws.Endpoint{
				URL:               endpoint,
				SigningRegion:     sr,
				HostnameImmutable: true,
			}, nil
		})
		cfg.EndpointResolverWithOptions = resolver
	}

	return cfg, nil
}
