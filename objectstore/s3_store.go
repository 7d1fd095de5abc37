// Package objectstore persists encrypted artifacts and their metadata
// side-channel in an S3-style object store.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/root-sector-ltd-and-co-kg/evidence-vault/interfaces"
	"github.com/root-sector-ltd-and-co-kg/evidence-vault/types"
)

const ciphertextContentType = "application/octet-stream"

// S3Store implements interfaces.ObjectStore over S3 or an S3-compatible
// service (MinIO, R2, LocalStack)
type S3Store struct {
	client      interfaces.S3Client
	bucket      string
	maxMetadata int
	logger      zerolog.Logger
}

var _ interfaces.ObjectStore = (*S3Store)(nil)

// NewS3Store creates an S3-backed object store. Static credentials are used
// when configured, otherwise the default AWS credential chain.
func NewS3Store(ctx context.Context, cfg types.StoreConfig) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: bucket name is required", types.ErrValidation)
	}
	if (cfg.AccessKeyID == "") != (cfg.SecretAccessKey == "") {
		return nil, fmt.Errorf("%w: both access key id and secret access key must be provided", types.ErrValidation)
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	var client *s3.Client
	if cfg.AccessKeyID != "" {
		opts := s3.Options{
			Region: region,
			Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				"",
			)),
		}
		if cfg.Endpoint != "" {
			opts.BaseEndpoint = aws.String(cfg.Endpoint)
			opts.UsePathStyle = true
		}
		client = s3.New(opts)
	} else {
		awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
				o.UsePathStyle = true // Required for MinIO/LocalStack
			}
		})
	}

	return NewS3StoreWithClient(client, cfg)
}

// NewS3StoreWithClient wraps an existing client
func NewS3StoreWithClient(client interfaces.S3Client, cfg types.StoreConfig) (*S3Store, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: s3 client is required", types.ErrValidation)
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: bucket name is required", types.ErrValidation)
	}

	store := &S3Store{
		client:      client,
		bucket:      cfg.Bucket,
		maxMetadata: cfg.GetEffectiveMaxMetadataBytes(),
		logger:      log.With().Str("component", "s3_store").Str("bucket", cfg.Bucket).Logger(),
	}
	store.logger.Debug().Str("endpoint", cfg.Endpoint).Msg("S3 object store initialized")
	return store, nil
}

// Put writes body and metadata under key. S3 derives the ETag of a single-part
// upload from the body, so an IfMatch write only detects changes to the body.
func (s *S3Store) Put(ctx context.Context, key string, body, metadata []byte, cond types.PutCondition) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(ciphertextContentType),
	}
	if len(metadata) > 0 {
		header, err := encodeHeader(metadata, s.maxMetadata)
		if err != nil {
			return "", err
		}
		input.Metadata = map[string]string{MetadataHeader: header}
	}
	if cond.IfNoneMatch {
		input.IfNoneMatch = aws.String("*")
	}
	if cond.IfMatch != "" {
		input.IfMatch = aws.String(cond.IfMatch)
	}

	out, err := s.client.PutObject(ctx, input)
	if err != nil {
		return "", s.mapError("put", key, err)
	}
	return aws.ToString(out.ETag), nil
}

// Get reads body and metadata of key
func (s *S3Store) Get(ctx context.Context, key string) (*types.Object, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s.mapError("get", key, err)
	}
	defer func() { _ = out.Body.Close() }()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, s.mapError("get", key, err)
	}

	doc, err := s.metadataFrom(key, out.Metadata)
	if err != nil {
		return nil, err
	}

	return &types.Object{
		Key:      key,
		Body:     body,
		Metadata: doc,
		ETag:     aws.ToString(out.ETag),
	}, nil
}

// HeadMetadata reads the metadata side-channel of key without the body
func (s *S3Store) HeadMetadata(ctx context.Context, key string) (*types.ObjectHead, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s.mapError("head", key, err)
	}

	doc, err := s.metadataFrom(key, out.Metadata)
	if err != nil {
		return nil, err
	}

	return &types.ObjectHead{
		Key:      key,
		Metadata: doc,
		ETag:     aws.ToString(out.ETag),
		Size:     aws.ToInt64(out.ContentLength),
	}, nil
}

// List returns every key under prefix, following continuation tokens
func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, s.mapError("list", prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}
	return keys, nil
}

// metadataFrom returns nil for objects written without metadata
func (s *S3Store) metadataFrom(key string, meta map[string]string) ([]byte, error) {
	var value string
	for k, v := range meta {
		// S3 returns user-metadata keys lower-cased, some gateways keep the original case
		if strings.EqualFold(k, MetadataHeader) {
			value = v
			break
		}
	}
	if value == "" {
		return nil, nil
	}
	doc, err := decodeHeader(value)
	if err != nil {
		return nil, fmt.Errorf("object %s: %w", key, err)
	}
	return doc, nil
}

// mapError translates SDK errors into the vault's error taxonomy
func (s *S3Store) mapError(op, key string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: s3 %s %s: %w", types.ErrStoreUnavailable, op, key, err)
	}

	var noSuchKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%w: %s", types.ErrNotFound, key)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%w: %s", types.ErrNotFound, key)
		case "PreconditionFailed", "ConditionalRequestConflict":
			return fmt.Errorf("%w: s3 %s %s", types.ErrPreconditionFailed, op, key)
		}
	}

	var statusErr interface{ HTTPStatusCode() int }
	if errors.As(err, &statusErr) {
		switch statusErr.HTTPStatusCode() {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", types.ErrNotFound, key)
		case http.StatusPreconditionFailed, http.StatusConflict:
			return fmt.Errorf("%w: s3 %s %s", types.ErrPreconditionFailed, op, key)
		}
	}

	s.logger.Warn().Err(err).Str("op", op).Str("key", key).Msg("Object store call failed")
	return fmt.Errorf("%w: s3 %s %s: %v", types.ErrStoreUnavailable, op, key, err)
}
