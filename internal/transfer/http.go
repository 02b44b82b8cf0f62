package transfer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

const maxRedirects = 10

type httpBackend struct {
	client    *http.Client
	userAgent string
}

func newHTTPBackend(opts Options) *httpBackend {
	dialer := &net.Dialer{
		Timeout:   opts.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   opts.IOTimeout,
		ResponseHeaderTimeout: opts.IOTimeout,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          4,
		IdleConnTimeout:       30 * time.Second,
	}
	return &httpBackend{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		userAgent: opts.UserAgent,
	}
}

func (b *httpBackend) Open(ctx context.Context, u *url.URL) (*Body, error) {
	rawURL := u.String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, newFetchError(KindBadURL, rawURL, err)
	}
	req.Header.Set("User-Agent", b.userAgent)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, classifyHTTPError(rawURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &FetchError{
			Kind:       KindNotOK,
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status: %s", resp.Status),
		}
	}
	return &Body{ReadCloser: resp.Body, Size: resp.ContentLength}, nil
}

// classifyHTTPError maps transport errors onto fetch kinds. Cancellation
// is decided by the caller, which knows which context ended.
func classifyHTTPError(rawURL string, err error) *FetchError {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return newFetchError(KindNoConnection, rawURL, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return newFetchError(KindConnectFailed, rawURL, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newFetchError(KindNoResponse, rawURL, err)
	}
	return newFetchError(KindRequestFailed, rawURL, err)
}
