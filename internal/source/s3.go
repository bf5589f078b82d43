package source

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/TheMichaelB/kdbxdiff/internal/config"
)

// S3API is the subset of the S3 client used to fetch inputs.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// NewS3Factory returns a factory building an S3 client from the AWS
// configuration.
func NewS3Factory(cfg config.AWSConfig) S3Factory {
	return func(ctx context.Context) (S3API, error) {
		sdk, err := cfg.SDKConfig(ctx)
		if err != nil {
			return nil, err
		}
		return s3.NewFromConfig(sdk, func(o *s3.Options) {
			o.UsePathStyle = cfg.Endpoint != ""
		}), nil
	}
}

func (l *Loader) loadS3(ctx context.Context, r Ref) ([]byte, error) {
	client, err := l.client(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.Bucket),
		Key:    aws.String(r.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get object: %w", err)
	}
	defer out.Body.Close()

	if out.ContentLength != nil && *out.ContentLength > l.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, l.cfg.MaxFileSize)
	}
	return l.readLimited(out.Body)
}
