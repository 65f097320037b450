package awsutil

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	configv2 "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

func load(ctx context.Context, region, endpoint string) (aws.Config, error) {
	opts := []func(*configv2.LoadOptions) error{
		configv2.WithRegion(region),
	}

	// A custom endpoint means LocalStack/minio; static dummy creds are fine there.
	if endpoint != "" {
		opts = append(opts, configv2.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("test", "test", ""),
		))
	}

	return configv2.LoadDefaultConfig(ctx, opts...)
}

func NewSQSClient(ctx context.Context, region, endpoint string) (*sqs.Client, error) {
	cfg, err := load(ctx, region, endpoint)
	if err != nil {
		return nil, err
	}
	if endpoint != "" {
		return sqs.NewFromConfig(cfg, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		}), nil
	}
	return sqs.NewFromConfig(cfg), nil
}

func NewS3Client(ctx context.Context, region, endpoint string) (*s3.Client, error) {
	cfg, err := load(ctx, region, endpoint)
	if err != nil {
		return nil, err
	}
	if endpoint != "" {
		return s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}), nil
	}
	return s3.NewFromConfig(cfg), nil
}
