// Package locator finds prerequisite artifacts by walking an ordered list
// of local, embedded and remote sources, accepting only files that pass a
// trust gate.
package locator

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZebulonRouseFrantzich/chainboot/internal/container"
	"github.com/ZebulonRouseFrantzich/chainboot/internal/fsutil"
	"github.com/ZebulonRouseFrantzich/chainboot/internal/logging"
	"github.com/ZebulonRouseFrantzich/chainboot/internal/transfer"
	"github.com/ZebulonRouseFrantzich/chainboot/internal/trust"
)

// Fetcher downloads a URL to a local file.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, dest string) (transfer.Result, error)
}

// Extractor copies a named entry out of a package container.
type Extractor interface {
	ExtractBinaryStream(containerPath, streamName string) (string, error)
}

// Config holds the search inputs that do not change between requests.
type Config struct {
	// BootstrapFolder is the directory holding the bootstrapper itself.
	BootstrapFolder string
	// PackagePath is the package container; its directory is the package
	// folder.
	PackagePath string
	// FallbackServer is the operator-configured server, tried before
	// DefaultServer.
	FallbackServer string
	// DefaultServer is the well-known server.
	DefaultServer string
	// TempDir receives downloaded candidates; empty means fsutil.TempDir().
	TempDir string
	// SidecarExts lists signature sidecar extensions fetched or extracted
	// along with produced candidates, first match wins.
	SidecarExts []string
}

// Locator runs the tiered search.
type Locator struct {
	cfg       Config
	gate      trust.Gate
	fetcher   Fetcher
	extractor Extractor
	logger    logging.Logger
	observer  Observer
}

// Option configures a Locator.
type Option func(*Locator)

// WithObserver registers fn to be told about every tier attempt.
func WithObserver(fn Observer) Option {
	return func(l *Locator) { l.observer = fn }
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(l *Locator) { l.logger = logging.OrNoop(logger) }
}

// New creates a Locator. A nil fetcher disables the remote tiers and a nil
// extractor disables the container tiers.
func New(cfg Config, gate trust.Gate, fetcher Fetcher, extractor Extractor, opts ...Option) *Locator {
	l := &Locator{
		cfg:       cfg,
		gate:      gate,
		fetcher:   fetcher,
		extractor: extractor,
		logger:    logging.Noop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// strategy produces at most one candidate.
type strategy struct {
	tier    int
	name    string
	origin  Origin
	source  string
	key     string
	produce func(ctx context.Context) (Candidate, error)
}

// LocalizedName inserts locale before the extension: "a.dll" becomes
// "a.<locale>.dll" and "a" becomes "a.<locale>".
func LocalizedName(name, locale string) string {
	if locale == "" {
		return name
	}
	base, ext := fsutil.SplitExt(name)
	if ext == "" {
		return base + "." + locale
	}
	return base + "." + locale + "." + ext
}

// JoinURL appends name to a server base URL.
func JoinURL(base, name string) string {
	escaped := url.PathEscape(name)
	if strings.HasSuffix(base, "/") {
		return base + escaped
	}
	return base + "/" + escaped
}

// Locate returns the first candidate, in tier order, that exists and
// passes the trust gate. Rejected produced candidates are deleted before
// the next tier runs. ErrNotFound is returned when every tier fails; a
// cancelled ctx stops the search with ctx.Err().
func (l *Locator) Locate(ctx context.Context, req Request) (*VerifiedArtifact, error) {
	name := req.LogicalName
	if name == "" || filepath.Base(name) != name || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		l.logger.Debug("rejecting malformed artifact name", "name", name)
		return nil, ErrNotFound
	}

	seen := make(map[string]bool)
	for _, s := range l.strategies(req) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if seen[s.key] {
			continue
		}
		seen[s.key] = true

		l.logger.Debug("trying", "tier", s.tier, "name", s.name, "origin", s.origin.String(), "source", s.source)
		cand, err := s.produce(ctx)
		if err != nil {
			l.notify(s, OutcomeMissing, err)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			continue
		}

		if l.gate != nil && l.gate.IsTrusted(cand.Path) {
			l.notify(s, OutcomeAccepted, nil)
			l.logger.Info("located artifact", "name", req.LogicalName, "path", cand.Path, "origin", cand.Origin.String())
			return &VerifiedArtifact{
				Path:     cand.Path,
				Origin:   cand.Origin,
				Source:   cand.Source,
				sidecars: cand.Sidecars,
			}, nil
		}

		l.notify(s, OutcomeRejected, nil)
		l.logger.Debug("candidate rejected by trust gate", "path", cand.Path, "origin", cand.Origin.String())
		if err := cand.discard(); err != nil {
			l.logger.Warn("failed to remove rejected candidate", "path", cand.Path, "error", err)
		}
	}

	l.logger.Debug("artifact not found", "name", req.LogicalName)
	return nil, ErrNotFound
}

func (l *Locator) notify(s strategy, outcome Outcome, err error) {
	if l.observer == nil {
		return
	}
	l.observer(Attempt{Tier: s.tier, Name: s.name, Origin: s.origin, Source: s.source, Outcome: outcome, Err: err})
}

// strategies lists the tiers for req in search order. Tiers whose inputs
// are unavailable are left out.
func (l *Locator) strategies(req Request) []strategy {
	generic := req.LogicalName
	localized := ""
	if req.Locale != "" {
		localized = LocalizedName(generic, req.Locale)
	}

	bootDir := l.cfg.BootstrapFolder
	pkgDir := ""
	if l.cfg.PackagePath != "" {
		pkgDir = filepath.Dir(l.cfg.PackagePath)
	}

	var out []strategy
	add := func(s strategy) {
		if s.produce != nil {
			out = append(out, s)
		}
	}

	if localized != "" {
		add(l.local(1, bootDir, localized, OriginLocalBootstrapFolder))
		add(l.local(2, pkgDir, localized, OriginLocalPackageFolder))
		add(l.embedded(3, localized))
	}
	add(l.local(4, pkgDir, generic, OriginLocalPackageFolder))
	add(l.local(5, bootDir, generic, OriginLocalBootstrapFolder))
	add(l.embedded(6, generic))

	if !req.AllowRemote || l.fetcher == nil {
		return out
	}

	add(l.remote(8, req.ExtraServer, generic))
	if localized != "" {
		add(l.remote(9, l.cfg.FallbackServer, localized))
		add(l.remote(9, l.cfg.DefaultServer, localized))
	}
	add(l.remote(10, l.cfg.FallbackServer, generic))
	add(l.remote(10, l.cfg.DefaultServer, generic))
	return out
}

func (l *Locator) local(tier int, dir, name string, origin Origin) strategy {
	if dir == "" {
		return strategy{}
	}
	p := filepath.Join(dir, name)
	return strategy{
		tier:   tier,
		name:   name,
		origin: origin,
		source: p,
		key:    "file:" + filepath.Clean(p),
		produce: func(context.Context) (Candidate, error) {
			if !fsutil.FileExists(p) {
				return Candidate{}, os.ErrNotExist
			}
			return Candidate{Path: p, Origin: origin, Source: p}, nil
		},
	}
}

func (l *Locator) embedded(tier int, name string) strategy {
	pkg := l.cfg.PackagePath
	if l.extractor == nil || pkg == "" {
		return strategy{}
	}
	return strategy{
		tier:   tier,
		name:   name,
		origin: OriginEmbeddedContainer,
		source: pkg,
		key:    "container:" + pkg + "::" + name,
		produce: func(context.Context) (Candidate, error) {
			if !fsutil.FileExists(pkg) {
				return Candidate{}, os.ErrNotExist
			}
			p, err := l.extractor.ExtractBinaryStream(pkg, name)
			if err != nil {
				return Candidate{}, err
			}
			cand := Candidate{Path: p, Origin: OriginEmbeddedContainer, Source: pkg}
			cand.Sidecars = l.extractSidecar(pkg, name, p)
			return cand, nil
		},
	}
}

func (l *Locator) remote(tier int, server, name string) strategy {
	if server == "" {
		return strategy{}
	}
	rawURL := JoinURL(server, name)
	return strategy{
		tier:   tier,
		name:   name,
		origin: OriginRemoteServer,
		source: rawURL,
		key:    "url:" + rawURL,
		produce: func(ctx context.Context) (Candidate, error) {
			dest := fsutil.TempName(l.cfg.TempDir, name)
			if _, err := l.fetcher.Fetch(ctx, rawURL, dest); err != nil {
				return Candidate{}, err
			}
			cand := Candidate{Path: dest, Origin: OriginRemoteServer, Source: rawURL}
			cand.Sidecars = l.fetchSidecar(ctx, rawURL, dest)
			return cand, nil
		},
	}
}

// fetchSidecar downloads the first available signature sidecar for a
// downloaded candidate. A missing sidecar is not an error; the gate
// decides.
func (l *Locator) fetchSidecar(ctx context.Context, rawURL, dest string) []string {
	for _, ext := range l.cfg.SidecarExts {
		if ctx.Err() != nil {
			return nil
		}
		sidecar := dest + ext
		if _, err := l.fetcher.Fetch(ctx, rawURL+ext, sidecar); err != nil {
			l.logger.Debug("no signature sidecar", "url", rawURL+ext, "error", err)
			continue
		}
		return []string{sidecar}
	}
	return nil
}

// extractSidecar extracts "<name><ext>" from the container next to the
// extracted candidate.
func (l *Locator) extractSidecar(pkg, name, extracted string) []string {
	for _, ext := range l.cfg.SidecarExts {
		tmp, err := l.extractor.ExtractBinaryStream(pkg, name+ext)
		if err != nil {
			if !container.IsKind(err, container.KindStreamNotFound) {
				l.logger.Debug("sidecar extraction failed", "container", pkg, "stream", name+ext, "error", err)
			}
			continue
		}
		sidecar := extracted + ext
		if err := os.Rename(tmp, sidecar); err != nil {
			l.logger.Debug("failed to place sidecar", "from", tmp, "to", sidecar, "error", err)
			fsutil.RemoveIfExists(tmp)
			continue
		}
		return []string{sidecar}
	}
	return nil
}

// IsNotFound reports whether err means the search was exhausted.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
