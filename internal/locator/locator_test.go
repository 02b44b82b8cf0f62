package locator

import (
	"archive/zip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ZebulonRouseFrantzich/chainboot/internal/container"
	"github.com/ZebulonRouseFrantzich/chainboot/internal/testutil"
	"github.com/ZebulonRouseFrantzich/chainboot/internal/transfer"
	"github.com/ZebulonRouseFrantzich/chainboot/internal/trust"
)

// memFetcher serves fixed content per URL and counts every call.
type memFetcher struct {
	mu      sync.Mutex
	content map[string]string
	calls   []string
	onFetch func(url string)
}

func newMemFetcher(content map[string]string) *memFetcher {
	if content == nil {
		content = map[string]string{}
	}
	return &memFetcher{content: content}
}

func (f *memFetcher) Fetch(ctx context.Context, rawURL, dest string) (transfer.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, rawURL)
	body, ok := f.content[rawURL]
	onFetch := f.onFetch
	f.mu.Unlock()

	if onFetch != nil {
		onFetch(rawURL)
	}
	if err := ctx.Err(); err != nil {
		return transfer.Result{}, &transfer.FetchError{Kind: transfer.KindCancelled, URL: rawURL, Err: err}
	}
	if !ok {
		return transfer.Result{}, &transfer.FetchError{Kind: transfer.KindNotOK, URL: rawURL, StatusCode: 404}
	}
	if err := os.WriteFile(dest, []byte(body), 0o644); err != nil {
		return transfer.Result{}, &transfer.FetchError{Kind: transfer.KindCreateFailed, URL: rawURL, Err: err}
	}
	return transfer.Result{BytesWritten: int64(len(body))}, nil
}

func (f *memFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// trustContent trusts files whose content starts with "trusted".
var trustContent = trust.GateFunc(func(path string) bool {
	data, err := os.ReadFile(path)
	return err == nil && strings.HasPrefix(string(data), "trusted")
})

var trustNothing = trust.GateFunc(func(string) bool { return false })

type fixture struct {
	bootDir string
	pkgDir  string
	pkg     string
	tempDir string
}

func newFixture(t *testing.T, entries map[string]string) fixture {
	t.Helper()
	env := testutil.SetupTestEnv(t)
	fx := fixture{
		bootDir: env.Bootstrap,
		pkgDir:  env.Package,
		pkg:     filepath.Join(env.Package, "product.zip"),
		tempDir: env.TempDir,
	}
	writeZip(t, fx.pkg, entries)
	return fx
}

func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	for name, body := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
}

func (fx fixture) config() Config {
	return Config{
		BootstrapFolder: fx.bootDir,
		PackagePath:     fx.pkg,
		FallbackServer:  "https://fallback.example/res",
		DefaultServer:   "https://default.example/res/",
		TempDir:         fx.tempDir,
	}
}

func (fx fixture) tempFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(fx.tempDir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func newLocator(fx fixture, gate trust.Gate, fetcher Fetcher, opts ...Option) *Locator {
	x := container.New(nil)
	x.TempDir = fx.tempDir
	return New(fx.config(), gate, fetcher, x, opts...)
}

func TestLocalizedName(t *testing.T) {
	tests := []struct {
		name, locale, want string
	}{
		{"coapp.resources.dll", "de-DE", "coapp.resources.de-DE.dll"},
		{"setup.exe", "en", "setup.en.exe"},
		{"README", "fr-FR", "README.fr-FR"},
		{"setup.exe", "", "setup.exe"},
	}
	for _, tt := range tests {
		if got := LocalizedName(tt.name, tt.locale); got != tt.want {
			t.Errorf("LocalizedName(%q, %q) = %q, want %q", tt.name, tt.locale, got, tt.want)
		}
	}
}

func TestJoinURL(t *testing.T) {
	if got := JoinURL("https://a.example/res", "x.dll"); got != "https://a.example/res/x.dll" {
		t.Errorf("got %s", got)
	}
	if got := JoinURL("https://a.example/res/", "x y.dll"); got != "https://a.example/res/x%20y.dll" {
		t.Errorf("got %s", got)
	}
}

func TestLocate_LocalOnlyMakesNoNetworkCalls(t *testing.T) {
	fx := newFixture(t, map[string]string{"other.txt": "x"})
	fetcher := newMemFetcher(nil)
	l := newLocator(fx, trustContent, fetcher)

	_, err := l.Locate(context.Background(), Request{
		LogicalName: "coapp.resources.dll",
		Locale:      "de-DE",
		AllowRemote: false,
		ExtraServer: "https://extra.example/",
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if n := fetcher.callCount(); n != 0 {
		t.Errorf("network calls = %d, want 0", n)
	}
}

func TestLocate_TierOrder(t *testing.T) {
	const name = "coapp.resources.dll"
	const loc = "coapp.resources.de-DE.dll"

	fx := newFixture(t, map[string]string{name: "untrusted", loc: "untrusted"})
	for _, dir := range []string{fx.bootDir, fx.pkgDir} {
		testutil.WriteFile(t, dir, name, []byte("untrusted"))
		testutil.WriteFile(t, dir, loc, []byte("untrusted"))
	}
	fetcher := newMemFetcher(nil)

	var got []Attempt
	l := newLocator(fx, trustNothing, fetcher, WithObserver(func(a Attempt) {
		a.Err = nil
		got = append(got, a)
	}))

	_, err := l.Locate(context.Background(), Request{
		LogicalName: name,
		Locale:      "de-DE",
		AllowRemote: true,
		ExtraServer: "https://extra.example",
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	want := []Attempt{
		{1, loc, OriginLocalBootstrapFolder, filepath.Join(fx.bootDir, loc), OutcomeRejected, nil},
		{2, loc, OriginLocalPackageFolder, filepath.Join(fx.pkgDir, loc), OutcomeRejected, nil},
		{3, loc, OriginEmbeddedContainer, fx.pkg, OutcomeRejected, nil},
		{4, name, OriginLocalPackageFolder, filepath.Join(fx.pkgDir, name), OutcomeRejected, nil},
		{5, name, OriginLocalBootstrapFolder, filepath.Join(fx.bootDir, name), OutcomeRejected, nil},
		{6, name, OriginEmbeddedContainer, fx.pkg, OutcomeRejected, nil},
		{8, name, OriginRemoteServer, "https://extra.example/" + name, OutcomeMissing, nil},
		{9, loc, OriginRemoteServer, "https://fallback.example/res/" + loc, OutcomeMissing, nil},
		{9, loc, OriginRemoteServer, "https://default.example/res/" + loc, OutcomeMissing, nil},
		{10, name, OriginRemoteServer, "https://fallback.example/res/" + name, OutcomeMissing, nil},
		{10, name, OriginRemoteServer, "https://default.example/res/" + name, OutcomeMissing, nil},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tier attempts mismatch (-want +got):\n%s", diff)
	}

	// Local files survive rejection; extracted ones do not.
	for _, dir := range []string{fx.bootDir, fx.pkgDir} {
		for _, n := range []string{name, loc} {
			if _, err := os.Stat(filepath.Join(dir, n)); err != nil {
				t.Errorf("local file %s was removed: %v", filepath.Join(dir, n), err)
			}
		}
	}
	if left := fx.tempFiles(t); len(left) != 0 {
		t.Errorf("produced candidates left behind: %v", left)
	}
}

func TestLocate_UntrustedLocalFallsThrough(t *testing.T) {
	fx := newFixture(t, map[string]string{})
	tier1 := testutil.WriteFile(t, fx.bootDir, "setup.en.exe", []byte("tampered"))
	tier2 := testutil.WriteFile(t, fx.pkgDir, "setup.en.exe", []byte("trusted setup"))

	l := newLocator(fx, trustContent, newMemFetcher(nil))
	art, err := l.Locate(context.Background(), Request{LogicalName: "setup.exe", Locale: "en"})
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if art.Path != tier2 || art.Origin != OriginLocalPackageFolder {
		t.Errorf("got %s (%s), want %s (%s)", art.Path, art.Origin, tier2, OriginLocalPackageFolder)
	}
	if _, err := os.Stat(tier1); err != nil {
		t.Errorf("untrusted local file was deleted: %v", err)
	}
	if art.Temporary() {
		t.Error("local artifact reported as temporary")
	}
	if err := art.Release(); err != nil {
		t.Errorf("Release: %v", err)
	}
	if _, err := os.Stat(tier2); err != nil {
		t.Errorf("Release removed a local file: %v", err)
	}
}

func TestLocate_ExtractedArtifact(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"setup.exe":     "trusted payload",
		"setup.exe.sig": "sig",
	})
	cfg := fx.config()
	cfg.SidecarExts = []string{trust.SignatureExt}
	x := container.New(nil)
	x.TempDir = fx.tempDir
	l := New(cfg, trustContent, nil, x)

	art, err := l.Locate(context.Background(), Request{LogicalName: "setup.exe", AllowRemote: true})
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if art.Origin != OriginEmbeddedContainer || art.Source != fx.pkg {
		t.Errorf("origin = %s source = %s", art.Origin, art.Source)
	}
	if !art.Temporary() {
		t.Error("extracted artifact should be temporary")
	}
	if _, err := os.Stat(art.Path + trust.SignatureExt); err != nil {
		t.Errorf("sidecar not placed next to artifact: %v", err)
	}

	if err := art.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if left := fx.tempFiles(t); len(left) != 0 {
		t.Errorf("Release left files behind: %v", left)
	}
}

func TestLocate_RemoteRejectedIsDeleted(t *testing.T) {
	fx := newFixture(t, map[string]string{})
	fetcher := newMemFetcher(map[string]string{
		"https://extra.example/runtime.exe":        "evil",
		"https://extra.example/runtime.exe.sig":    "sig",
		"https://fallback.example/res/runtime.exe": "trusted runtime",
	})
	cfg := fx.config()
	cfg.SidecarExts = []string{trust.SignatureExt}
	l := New(cfg, trustContent, fetcher, nil)

	art, err := l.Locate(context.Background(), Request{
		LogicalName: "runtime.exe",
		AllowRemote: true,
		ExtraServer: "https://extra.example/",
	})
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if art.Source != "https://fallback.example/res/runtime.exe" {
		t.Errorf("source = %s", art.Source)
	}
	if left := fx.tempFiles(t); len(left) != 1 || filepath.Join(fx.tempDir, left[0]) != art.Path {
		t.Errorf("temp dir = %v, want only %s", left, art.Path)
	}
	if err := art.Release(); err != nil {
		t.Fatal(err)
	}
	if left := fx.tempFiles(t); len(left) != 0 {
		t.Errorf("Release left files behind: %v", left)
	}
}

func TestLocate_DuplicateServersFetchedOnce(t *testing.T) {
	fx := newFixture(t, map[string]string{})
	fetcher := newMemFetcher(nil)
	cfg := fx.config()
	cfg.FallbackServer = cfg.DefaultServer
	l := New(cfg, trustContent, fetcher, nil)

	_, err := l.Locate(context.Background(), Request{
		LogicalName: "runtime.exe",
		AllowRemote: true,
		ExtraServer: cfg.DefaultServer,
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	want := []string{
		"https://default.example/res/runtime.exe",
	}
	if diff := cmp.Diff(want, fetcher.calls); diff != "" {
		t.Errorf("fetches mismatch (-want +got):\n%s", diff)
	}
}

func TestLocate_Idempotent(t *testing.T) {
	fx := newFixture(t, map[string]string{})
	testutil.WriteFile(t, fx.bootDir, "coapp.resources.dll", []byte("trusted bundle"))
	l := newLocator(fx, trustContent, newMemFetcher(nil))
	req := Request{LogicalName: "coapp.resources.dll", Locale: "de-DE", AllowRemote: true}

	first, err := l.Locate(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := l.Locate(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if first.Path != second.Path || first.Origin != second.Origin {
		t.Errorf("first = %+v, second = %+v", first, second)
	}
}

func TestLocate_Cancelled(t *testing.T) {
	fx := newFixture(t, map[string]string{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := newMemFetcher(nil)
	fetcher.onFetch = func(string) { cancel() }
	l := New(fx.config(), trustContent, fetcher, nil)

	_, err := l.Locate(ctx, Request{LogicalName: "runtime.exe", Locale: "en", AllowRemote: true})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if n := fetcher.callCount(); n != 1 {
		t.Errorf("fetches after cancel = %d, want 1", n)
	}
}

func TestLocate_MalformedNames(t *testing.T) {
	fx := newFixture(t, map[string]string{})
	l := newLocator(fx, trustContent, newMemFetcher(nil))
	for _, name := range []string{"", ".", "..", "../escape.dll", `dir\file.dll`, "a/b"} {
		_, err := l.Locate(context.Background(), Request{LogicalName: name, AllowRemote: true})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Locate(%q) err = %v, want ErrNotFound", name, err)
		}
	}
}

func TestLocate_SignatureGateEndToEnd(t *testing.T) {
	fx := newFixture(t, map[string]string{})
	signer := testutil.NewSigner(t)
	untrusted := testutil.NewUntrustedSigner(t)

	good := []byte("runtime installer")
	bad := []byte("impostor installer")
	mux := http.NewServeMux()
	mux.HandleFunc("/mirror/runtime.exe", func(w http.ResponseWriter, r *http.Request) { w.Write(bad) })
	mux.HandleFunc("/mirror/runtime.exe.sig", func(w http.ResponseWriter, r *http.Request) {
		w.Write(untrusted.Sign(t, bad))
	})
	mux.HandleFunc("/main/runtime.exe", func(w http.ResponseWriter, r *http.Request) { w.Write(good) })
	mux.HandleFunc("/main/runtime.exe.sig", func(w http.ResponseWriter, r *http.Request) {
		w.Write(signer.Sign(t, good))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := fx.config()
	cfg.FallbackServer = srv.URL + "/mirror"
	cfg.DefaultServer = srv.URL + "/main/"
	cfg.SidecarExts = []string{trust.SignatureExt, trust.ArmoredSignatureExt}

	gate := trust.NewSignatureGate(signer.Keyring(), nil)
	l := New(cfg, gate, transfer.New(transfer.Options{}, nil), nil)

	art, err := l.Locate(context.Background(), Request{LogicalName: "runtime.exe", AllowRemote: true})
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	defer art.Release()

	if art.Source != srv.URL+"/main/runtime.exe" {
		t.Errorf("source = %s", art.Source)
	}
	data, err := os.ReadFile(art.Path)
	if err != nil || string(data) != string(good) {
		t.Errorf("artifact content = %q, %v", data, err)
	}
	// Only the accepted artifact and its sidecar remain.
	if left := fx.tempFiles(t); len(left) != 2 {
		t.Errorf("temp dir = %v, want artifact and sidecar", left)
	}
}
