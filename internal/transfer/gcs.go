//go:build gcp

package transfer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
)

// gcsBackend serves gs://bucket/object URLs using application default
// credentials.
type gcsBackend struct {
	once    sync.Once
	client  *storage.Client
	initErr error
}

func newGCSBackend() Backend {
	return &gcsBackend{}
}

func (b *gcsBackend) init(ctx context.Context) error {
	b.once.Do(func() {
		client, err := storage.NewClient(ctx)
		if err != nil {
			b.initErr = fmt.Errorf("create GCS client: %w", err)
			return
		}
		b.client = client
	})
	return b.initErr
}

func (b *gcsBackend) Open(ctx context.Context, u *url.URL) (*Body, error) {
	rawURL := u.String()
	object := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || object == "" {
		return nil, newFetchError(KindBadURL, rawURL, errors.New("gs url needs bucket and object"))
	}
	if err := b.init(ctx); err != nil {
		return nil, newFetchError(KindRequestFailed, rawURL, err)
	}

	r, err := b.client.Bucket(u.Host).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return nil, &FetchError{Kind: KindNotOK, URL: rawURL, StatusCode: 404, Err: err}
		}
		return nil, classifyHTTPError(rawURL, err)
	}
	return &Body{ReadCloser: r, Size: r.Attrs.Size}, nil
}
