// Package archive stores finished analysis reports in S3-compatible object
// storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/queryarc/queryarc-api/internal/config"
	"github.com/queryarc/queryarc-api/internal/model"
)

// Putter is the subset of the S3 client used here.
type Putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archive writes reports as JSON objects under a key prefix.
type S3Archive struct {
	client Putter
	bucket string
	prefix string
	now    func() time.Time
}

// New creates an S3Archive from config. It returns nil, nil when no bucket
// is configured, which disables archiving.
func New(ctx context.Context, cfg config.ArchiveConfig) (*S3Archive, error) {
	if cfg.Bucket == "" {
		return nil, nil
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "archive: load aws config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// MinIO and most S3-compatible endpoints need path-style addressing.
			o.UsePathStyle = true
		}
	})
	return NewWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewWithClient creates an S3Archive over an existing client.
func NewWithClient(c Putter, bucket, prefix string) *S3Archive {
	return &S3Archive{
		client: c,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		now:    time.Now,
	}
}

// Put uploads r and returns its object key:
// <prefix>/reports/YYYY/MM/DD/<host>/<uuid>.json.
func (a *S3Archive) Put(ctx context.Context, pageURL string, r model.Report) (string, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return "", eris.Wrap(err, "archive: marshal report")
	}

	key := a.key(pageURL)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", eris.Wrapf(err, "archive: put %s", key)
	}
	return key, nil
}

func (a *S3Archive) key(pageURL string) string {
	host := "unknown"
	if u, err := url.Parse(pageURL); err == nil && u.Hostname() != "" {
		host = strings.ToLower(u.Hostname())
	}
	day := a.now().UTC().Format("2006/01/02")
	return path.Join(a.prefix, "reports", day, host, uuid.NewString()+".json")
}
