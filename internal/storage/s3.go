package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/OFFIS-RIT/regnet/internal/util"
	"github.com/OFFIS-RIT/regnet/pkg/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	defaultReportPrefix = "reports"
	defaultLinkExpiry   = 15 * time.Minute
	uploadTries         = 3
)

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// NewS3Client builds a path-style client from the AWS_* environment.
func NewS3Client(ctx context.Context) (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion(util.GetEnv("AWS_REGION")),
		config.WithBaseEndpoint(util.GetEnv("AWS_ENDPOINT")),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			util.GetEnv("AWS_ACCESS_KEY"),
			util.GetEnv("AWS_SECRET_KEY"),
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	}), nil
}

type NewReportStoreParams struct {
	Client *s3.Client
	Bucket string
	// PublicEndpoint is the externally reachable S3 URL used for download
	// links. It may carry a path prefix of a reverse proxy.
	PublicEndpoint string
	// Prefix of report keys. Defaults to "reports".
	Prefix string
	// LinkExpiry of presigned download links. Defaults to 15 minutes.
	LinkExpiry time.Duration
	// RetryBase is the first backoff of a failed upload. Defaults to 500ms.
	RetryBase time.Duration
}

// ReportStore keeps JSON pass reports in a bucket.
type ReportStore struct {
	api            s3API
	client         *s3.Client
	bucket         string
	publicEndpoint string
	prefix         string
	expiry         time.Duration
	retryBase      time.Duration
}

func NewReportStore(params NewReportStoreParams) *ReportStore {
	rs := &ReportStore{
		client:         params.Client,
		bucket:         params.Bucket,
		publicEndpoint: params.PublicEndpoint,
		prefix:         strings.Trim(params.Prefix, "/"),
		expiry:         params.LinkExpiry,
		retryBase:      params.RetryBase,
	}
	if params.Client != nil {
		rs.api = params.Client
	}
	if rs.prefix == "" {
		rs.prefix = defaultReportPrefix
	}
	if rs.expiry <= 0 {
		rs.expiry = defaultLinkExpiry
	}
	if rs.retryBase <= 0 {
		rs.retryBase = 500 * time.Millisecond
	}
	return rs
}

// ReportKey is the object key of the report of a pass.
func (r *ReportStore) ReportKey(passID string) string {
	return fmt.Sprintf("%s/%s.json", r.prefix, passID)
}

// UploadReport stores a report and returns its key. Failed uploads are
// retried with exponential backoff.
func (r *ReportStore) UploadReport(ctx context.Context, passID string, data []byte) (string, error) {
	if r.api == nil {
		return "", fmt.Errorf("s3 client is not configured")
	}
	key := r.ReportKey(passID)
	_, err := util.RetryWithBackoff(ctx, uploadTries, r.retryBase, func(ctx context.Context) (*s3.PutObjectOutput, error) {
		return r.api.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(r.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String("application/json"),
		})
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload report to S3: %w", err)
	}
	logger.Debug("[Storage] report uploaded", "key", key, "bytes", len(data))
	return key, nil
}

// GetReport downloads a stored report.
func (r *ReportStore) GetReport(ctx context.Context, key string) ([]byte, error) {
	if r.api == nil {
		return nil, fmt.Errorf("s3 client is not configured")
	}
	result, err := r.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get report from S3: %w", err)
	}
	defer result.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, result.Body); err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *ReportStore) DeleteReport(ctx context.Context, key string) error {
	if r.api == nil {
		return fmt.Errorf("s3 client is not configured")
	}
	_, err := r.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete report from S3: %w", err)
	}
	return nil
}

// splitPublicEndpoint separates scheme and host from a path prefix.
func splitPublicEndpoint(endpoint string) (base, prefix string, err error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", fmt.Errorf("invalid public endpoint: %q", endpoint)
	}
	return fmt.Sprintf("%s://%s", u.Scheme, u.Host), strings.TrimSuffix(u.Path, "/"), nil
}

// DownloadLink presigns a GET of key against the public endpoint, so the
// signature matches the Host header the browser sends.
func (r *ReportStore) DownloadLink(ctx context.Context, key string) (string, error) {
	if r.client == nil {
		return "", fmt.Errorf("s3 client is not configured")
	}
	base, prefix, err := splitPublicEndpoint(r.publicEndpoint)
	if err != nil {
		return "", err
	}

	opts := r.client.Options()
	presigner := s3.NewPresignClient(s3.NewFromConfig(
		aws.Config{
			Region:      opts.Region,
			Credentials: opts.Credentials,
			HTTPClient:  opts.HTTPClient,
		},
		func(o *s3.Options) {
			o.BaseEndpoint = aws.String(base)
			o.UsePathStyle = true
		},
	))

	out, err := presigner.PresignGetObject(
		ctx,
		&s3.GetObjectInput{
			Bucket: aws.String(r.bucket),
			Key:    aws.String(key),
		},
		s3.WithPresignExpires(r.expiry),
	)
	if err != nil {
		return "", fmt.Errorf("failed to generate download link: %w", err)
	}
	if prefix == "" {
		return out.URL, nil
	}

	signed, err := url.Parse(out.URL)
	if err != nil {
		return "", fmt.Errorf("failed to parse presigned url: %w", err)
	}
	signed.Path = prefix + signed.Path
	return signed.String(), nil
}
