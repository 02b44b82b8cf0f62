package transfer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
)

// s3Env points the AWS SDK at fixed test credentials and away from any
// shared config on the host.
func s3Env(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("AWS_SESSION_TOKEN", "")
	t.Setenv("AWS_PROFILE", "")
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(dir, "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(dir, "credentials"))
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
}

func TestS3Backend(t *testing.T) {
	s3Env(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/resources/coapp.resources.dll":
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Write([]byte("resource bundle"))
		default:
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>` +
				`<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`))
		}
	}))
	defer srv.Close()

	c := New(Options{}, nil)
	c.Register("s3", NewS3Backend(S3Options{Region: "us-east-1", Endpoint: srv.URL}))

	dest := filepath.Join(t.TempDir(), "coapp.resources.dll")
	res, err := c.Fetch(context.Background(), "s3://resources/coapp.resources.dll", dest)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.BytesWritten != int64(len("resource bundle")) {
		t.Errorf("BytesWritten = %d", res.BytesWritten)
	}
	got, err := os.ReadFile(dest)
	if err != nil || string(got) != "resource bundle" {
		t.Errorf("dest = %q, %v", got, err)
	}

	missing := filepath.Join(t.TempDir(), "missing.dll")
	_, err = c.Fetch(context.Background(), "s3://resources/missing.dll", missing)
	if !IsKind(err, KindNotOK) {
		t.Fatalf("err = %v, want kind %s", err, KindNotOK)
	}
	assertNoFile(t, missing)
}

func newObjectServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("object"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestS3Backend_CancelledFirstFetchNotSticky(t *testing.T) {
	s3Env(t)
	srv := newObjectServer(t)

	c := New(Options{}, nil)
	c.Register("s3", NewS3Backend(S3Options{Region: "us-east-1", Endpoint: srv.URL}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	first := filepath.Join(t.TempDir(), "first.dll")
	if _, err := c.Fetch(ctx, "s3://resources/first.dll", first); err == nil {
		t.Fatal("fetch with a cancelled context should fail")
	}
	assertNoFile(t, first)

	dest := filepath.Join(t.TempDir(), "second.dll")
	if _, err := c.Fetch(context.Background(), "s3://resources/second.dll", dest); err != nil {
		t.Fatalf("later fetch should succeed: %v", err)
	}
	if got, _ := os.ReadFile(dest); string(got) != "object" {
		t.Errorf("dest = %q", got)
	}
}

func TestS3Backend_ConnectTimeout(t *testing.T) {
	s3Env(t)
	srv := newObjectServer(t)

	b := NewS3Backend(S3Options{Region: "us-east-1", Endpoint: srv.URL, ConnectTimeout: 1500 * time.Millisecond})
	client, err := b.init(context.Background())
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	hc, ok := client.Options().HTTPClient.(*awshttp.BuildableClient)
	if !ok {
		t.Fatalf("HTTPClient = %T, want *awshttp.BuildableClient", client.Options().HTTPClient)
	}
	if got := hc.GetDialer().Timeout; got != 1500*time.Millisecond {
		t.Errorf("dial timeout = %s, want 1.5s", got)
	}
	if got := hc.GetTransport().TLSHandshakeTimeout; got != 1500*time.Millisecond {
		t.Errorf("TLS handshake timeout = %s, want 1.5s", got)
	}

	again, err := b.init(context.Background())
	if err != nil || again != client {
		t.Errorf("second init = %p, %v; want the cached client", again, err)
	}
}

func TestNew_S3UsesConnectTimeout(t *testing.T) {
	c := New(Options{ConnectTimeout: 2 * time.Second}, nil)
	b, ok := c.backend("s3")
	if !ok {
		t.Fatal("s3 backend not registered")
	}
	if got := b.(*S3Backend).opts.ConnectTimeout; got != 2*time.Second {
		t.Errorf("ConnectTimeout = %s, want 2s", got)
	}
}
