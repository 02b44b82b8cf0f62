// Package transfer copies remote resources to local files with bounded
// timeouts and caller cancellation.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/inhies/go-bytesize"

	"github.com/ZebulonRouseFrantzich/chainboot/internal/logging"
)

const (
	// DefaultConnectTimeout bounds establishing a connection.
	DefaultConnectTimeout = 6 * time.Second
	// DefaultIOTimeout bounds the TLS handshake, the response header and
	// every body chunk.
	DefaultIOTimeout = 12 * time.Second
	// DefaultChunkSize is the read buffer size.
	DefaultChunkSize = 128 * 1024
	// DefaultUserAgent is the User-Agent header sent with requests.
	DefaultUserAgent = "chainboot/1.0"

	partSuffix = ".part"
)

// ProgressFunc receives the bytes written so far and the expected total,
// which is -1 when the server did not announce one.
type ProgressFunc func(written, total int64)

// Options configures a Client. Zero fields take the defaults.
type Options struct {
	ConnectTimeout time.Duration
	IOTimeout      time.Duration
	ChunkSize      int
	UserAgent      string
	Progress       ProgressFunc
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.IOTimeout <= 0 {
		o.IOTimeout = DefaultIOTimeout
	}
	if o.ChunkSize == 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	return o
}

// Body is an open remote resource.
type Body struct {
	io.ReadCloser
	// Size is the announced length, or -1 when unknown.
	Size int64
}

// Backend opens a remote resource for one URL scheme. Errors should be
// *FetchError values; anything else is reported as KindRequestFailed.
type Backend interface {
	Open(ctx context.Context, u *url.URL) (*Body, error)
}

// Result describes a completed fetch.
type Result struct {
	BytesWritten int64
	Duration     time.Duration
}

// Client fetches resources into local files. It never retries; callers
// decide whether to try another source.
type Client struct {
	opts   Options
	logger logging.Logger

	mu       sync.RWMutex
	backends map[string]Backend
}

// New creates a client with the http, https and s3 backends registered,
// plus gs when built with the gcp tag.
func New(opts Options, logger logging.Logger) *Client {
	opts = opts.withDefaults()
	c := &Client{
		opts:     opts,
		logger:   logging.OrNoop(logger),
		backends: make(map[string]Backend),
	}
	httpBackend := newHTTPBackend(opts)
	c.backends["http"] = httpBackend
	c.backends["https"] = httpBackend
	c.backends["s3"] = NewS3Backend(S3Options{ConnectTimeout: opts.ConnectTimeout})
	if gs := newGCSBackend(); gs != nil {
		c.backends["gs"] = gs
	}
	return c
}

// Register installs or replaces the backend for scheme.
func (c *Client) Register(scheme string, b Backend) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backends[strings.ToLower(scheme)] = b
}

func (c *Client) backend(scheme string) (Backend, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.backends[strings.ToLower(scheme)]
	return b, ok
}

// Fetch copies rawURL to dest. On success dest holds the complete body and
// the byte count is positive. On failure dest is left untouched and no
// partial file remains; the error is a *FetchError.
func (c *Client) Fetch(ctx context.Context, rawURL, dest string) (Result, error) {
	start := time.Now()

	u, err := url.Parse(rawURL)
	if err != nil {
		return Result{}, newFetchError(KindBadURL, rawURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Result{}, newFetchError(KindBadURL, rawURL, errors.New("url needs a scheme and host"))
	}
	backend, ok := c.backend(u.Scheme)
	if !ok {
		return Result{}, newFetchError(KindBadURL, rawURL, fmt.Errorf("unsupported scheme %q", u.Scheme))
	}
	if c.opts.ChunkSize < 0 {
		return Result{}, newFetchError(KindAllocationFailure, rawURL, fmt.Errorf("invalid chunk size %d", c.opts.ChunkSize))
	}
	if err := ctx.Err(); err != nil {
		return Result{}, newFetchError(KindCancelled, rawURL, err)
	}

	// The watchdog cancels the request when the header or any chunk takes
	// longer than IOTimeout.
	reqCtx, cancelReq := context.WithCancel(ctx)
	defer cancelReq()
	var stalled atomic.Bool
	watchdog := time.AfterFunc(c.opts.IOTimeout, func() {
		stalled.Store(true)
		cancelReq()
	})
	defer watchdog.Stop()

	c.logger.Debug("fetching", "url", rawURL, "dest", dest)

	body, err := backend.Open(reqCtx, u)
	if err != nil {
		return Result{}, c.classifyOpen(ctx, &stalled, rawURL, err)
	}
	defer body.Close()

	n, err := c.copyToFile(ctx, reqCtx, watchdog, &stalled, rawURL, body, dest)
	if err != nil {
		c.logger.Debug("fetch failed", "url", rawURL, "error", err)
		return Result{}, err
	}

	res := Result{BytesWritten: n, Duration: time.Since(start)}
	c.logger.Debug("fetched", "url", rawURL, "size", bytesize.New(float64(n)).String(), "duration", res.Duration)
	return res, nil
}

func (c *Client) classifyOpen(ctx context.Context, stalled *atomic.Bool, rawURL string, err error) error {
	var fe *FetchError
	switch {
	case ctx.Err() != nil:
		return newFetchError(KindCancelled, rawURL, ctx.Err())
	case stalled.Load():
		return newFetchError(KindNoResponse, rawURL, err)
	case errors.As(err, &fe):
		if fe.URL == "" {
			fe.URL = rawURL
		}
		return fe
	default:
		return newFetchError(KindRequestFailed, rawURL, err)
	}
}

// copyToFile streams body into dest via a ".part" sibling.
func (c *Client) copyToFile(ctx, reqCtx context.Context, watchdog *time.Timer, stalled *atomic.Bool,
	rawURL string, body *Body, dest string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, newFetchError(KindCreateFailed, rawURL, fmt.Errorf("create dest dir: %w", err))
	}

	partPath := dest + partSuffix
	f, err := os.Create(partPath)
	if err != nil {
		return 0, newFetchError(KindCreateFailed, rawURL, fmt.Errorf("create partial file: %w", err))
	}

	cleanupNeeded := true
	defer func() {
		if cleanupNeeded {
			f.Close()
			os.Remove(partPath)
		}
	}()

	buf := make([]byte, c.opts.ChunkSize)
	var written int64
	for {
		nr, rerr := body.Read(buf)
		if nr > 0 {
			watchdog.Reset(c.opts.IOTimeout)
			nw, werr := f.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, newFetchError(KindCreateFailed, rawURL, fmt.Errorf("write partial file: %w", werr))
			}
			if c.opts.Progress != nil {
				c.opts.Progress(written, body.Size)
			}
		}
		if err := ctx.Err(); err != nil {
			return written, newFetchError(KindCancelled, rawURL, err)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if stalled.Load() || reqCtx.Err() != nil {
				return written, newFetchError(KindNoDataAvailable, rawURL, fmt.Errorf("read stalled: %w", rerr))
			}
			return written, newFetchError(KindNoDataAvailable, rawURL, rerr)
		}
	}

	if written == 0 {
		return 0, newFetchError(KindNoDataAvailable, rawURL, errors.New("empty response body"))
	}
	if body.Size >= 0 && written != body.Size {
		return written, newFetchError(KindNoDataAvailable, rawURL,
			fmt.Errorf("short body: got %d of %d bytes", written, body.Size))
	}

	if err := f.Close(); err != nil {
		return written, newFetchError(KindCreateFailed, rawURL, fmt.Errorf("close partial file: %w", err))
	}
	if err := os.Rename(partPath, dest); err != nil {
		os.Remove(partPath)
		cleanupNeeded = false
		return written, newFetchError(KindCreateFailed, rawURL, fmt.Errorf("rename partial file: %w", err))
	}
	cleanupNeeded = false
	return written, nil
}
