package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"kafka-stream-replay/internal/config"
	"kafka-stream-replay/internal/models"
)

type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 keeps each stream as a JSON object at <prefix><name>.json.
type S3 struct {
	client objectAPI
	bucket string
	prefix string
}

// OpenS3 builds an S3 client from the default AWS credential chain. A custom
// endpoint switches to path-style addressing for S3-compatible servers.
func OpenS3(ctx context.Context, cfg config.Config) (*S3, error) {
	if cfg.S3Bucket == "" {
		return nil, errors.New("S3_BUCKET is required for the s3 store")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3(client, cfg.S3Bucket, cfg.S3Prefix), nil
}

func newS3(client objectAPI, bucket, prefix string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3) key(name string) string {
	return s.prefix + name + ".json"
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (s *S3) Close() error { return nil }

// Save writes the stream object, replacing any previous version.
func (s *S3) Save(ctx context.Context, st models.Stream) error {
	if strings.ContainsAny(st.Name, "/\\") {
		return &models.ValidationError{Field: "name", Msg: "name cannot contain path separators"}
	}
	body, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode stream: %w", err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(st.Name)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// Get reads and decodes the stream object.
func (s *S3) Get(ctx context.Context, name string) (models.Stream, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return models.Stream{}, models.ErrNotFound
		}
		return models.Stream{}, fmt.Errorf("get object: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return models.Stream{}, fmt.Errorf("read object: %w", err)
	}
	var st models.Stream
	if err := json.Unmarshal(data, &st); err != nil {
		return models.Stream{}, fmt.Errorf("decode stream: %w", err)
	}
	return st, nil
}

func isNoSuchKey(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}
