package transfer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Options configures the s3:// backend. Credentials and, when Region is
// empty, the region come from the standard AWS environment.
type S3Options struct {
	Region   string
	Endpoint string // custom endpoint such as MinIO; forces path-style
	// ConnectTimeout bounds dialing and the TLS handshake; zero means
	// DefaultConnectTimeout.
	ConnectTimeout time.Duration
}

// S3Backend serves s3://bucket/key URLs with GetObject.
type S3Backend struct {
	opts S3Options

	mu     sync.Mutex
	client *s3.Client
}

// NewS3Backend creates the backend. The AWS configuration is loaded on the
// first fetch so hosts without S3 servers never touch it.
func NewS3Backend(opts S3Options) *S3Backend {
	return &S3Backend{opts: opts}
}

// init loads the AWS configuration once it succeeds. Failures are not
// kept, so a cancelled first caller does not disable the backend.
func (b *S3Backend) init(ctx context.Context) (*s3.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		return b.client, nil
	}

	timeout := b.opts.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	httpClient := awshttp.NewBuildableClient().
		WithDialerOptions(func(d *net.Dialer) {
			d.Timeout = timeout
		}).
		WithTransportOptions(func(tr *http.Transport) {
			tr.TLSHandshakeTimeout = timeout
		})

	loadOpts := []func(*config.LoadOptions) error{config.WithHTTPClient(httpClient)}
	if b.opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(b.opts.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	b.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.RetryMaxAttempts = 1
		if b.opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(b.opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return b.client, nil
}

func (b *S3Backend) Open(ctx context.Context, u *url.URL) (*Body, error) {
	rawURL := u.String()
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return nil, newFetchError(KindBadURL, rawURL, errors.New("s3 url needs bucket and key"))
	}
	client, err := b.init(ctx)
	if err != nil {
		return nil, newFetchError(KindRequestFailed, rawURL, err)
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classifyS3Error(rawURL, err)
	}

	size := int64(-1)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return &Body{ReadCloser: out.Body, Size: size}, nil
}

func classifyS3Error(rawURL string, err error) *FetchError {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return &FetchError{Kind: KindNotOK, URL: rawURL, StatusCode: 404, Err: err}
	}
	var status interface{ HTTPStatusCode() int }
	if errors.As(err, &status) && status.HTTPStatusCode() != 0 {
		return &FetchError{Kind: KindNotOK, URL: rawURL, StatusCode: status.HTTPStatusCode(), Err: err}
	}
	return classifyHTTPError(rawURL, err)
}
