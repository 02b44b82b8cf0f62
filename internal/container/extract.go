// Package container pulls single named entries out of package containers
// into temporary files.
package container

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/inhies/go-bytesize"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/zhyee/zipstream"

	"github.com/ZebulonRouseFrantzich/chainboot/internal/fsutil"
	"github.com/ZebulonRouseFrantzich/chainboot/internal/logging"
)

// DefaultMaxStreamSize caps a single extracted entry at 1 GiB.
const DefaultMaxStreamSize int64 = 1 << 30

// Extractor copies named entries out of containers.
type Extractor struct {
	// MaxStreamSize is the largest entry that will be extracted.
	MaxStreamSize int64
	// TempDir receives extracted files; empty means fsutil.TempDir().
	TempDir string

	logger logging.Logger
}

// New creates an Extractor with the default size cap.
func New(logger logging.Logger) *Extractor {
	return &Extractor{
		MaxStreamSize: DefaultMaxStreamSize,
		logger:        logging.OrNoop(logger),
	}
}

// ExtractBinaryStream copies the entry named streamName out of the
// container at containerPath into a new temporary file and returns its
// path. The caller owns the file. Names match exactly; a leading "./" in
// the container is ignored. On failure nothing is left on disk.
func (x *Extractor) ExtractBinaryStream(containerPath, streamName string) (string, error) {
	fail := func(kind ErrorKind, err error) (string, error) {
		return "", &ExtractError{Kind: kind, Container: containerPath, Stream: streamName, Err: err}
	}
	if streamName == "" {
		return fail(KindStreamNotFound, errors.New("empty stream name"))
	}

	format, err := DetectFormat(containerPath)
	if err != nil {
		return fail(KindOpenFailed, err)
	}
	if format == FormatUnknown {
		return fail(KindOpenFailed, errors.New("unrecognized container format"))
	}

	f, err := os.Open(containerPath)
	if err != nil {
		return fail(KindOpenFailed, err)
	}
	defer f.Close()

	var entry io.Reader
	switch format {
	case FormatZip:
		entry, err = findZipEntry(f, streamName)
	case FormatTar:
		entry, err = findTarEntry(f, streamName)
	case FormatTarGzip:
		gz, gzErr := gzip.NewReader(f)
		if gzErr != nil {
			return fail(KindOpenFailed, fmt.Errorf("gzip: %w", gzErr))
		}
		defer gz.Close()
		entry, err = findTarEntry(gz, streamName)
	case FormatMSI:
		entry, err = findMSIStream(f, streamName, x.maxStreamSize())
	case FormatTarZstd:
		zr, zErr := zstd.NewReader(f)
		if zErr != nil {
			return fail(KindOpenFailed, fmt.Errorf("zstd: %w", zErr))
		}
		defer zr.Close()
		entry, err = findTarEntry(zr, streamName)
	}
	if err != nil {
		var ee *ExtractError
		if errors.As(err, &ee) {
			ee.Container, ee.Stream = containerPath, streamName
			return "", ee
		}
		return fail(KindQueryFailed, err)
	}
	if c, ok := entry.(io.Closer); ok {
		defer c.Close()
	}

	out, n, err := x.writeTemp(entry, streamName)
	if err != nil {
		var ee *ExtractError
		if errors.As(err, &ee) {
			ee.Container, ee.Stream = containerPath, streamName
		}
		return "", err
	}

	x.logger.Debug("extracted stream",
		"container", containerPath, "format", format.String(), "stream", streamName,
		"size", bytesize.New(float64(n)).String(), "path", out)
	return out, nil
}

func entryMatches(entryName, streamName string) bool {
	return strings.TrimPrefix(entryName, "./") == streamName
}

func findZipEntry(r io.Reader, streamName string) (io.Reader, error) {
	zr := zipstream.NewReader(r)
	for {
		e, err := zr.GetNextEntry()
		if errors.Is(err, io.EOF) {
			return nil, &ExtractError{Kind: KindStreamNotFound}
		}
		if err != nil {
			return nil, fmt.Errorf("read zip entry: %w", err)
		}
		if strings.HasSuffix(e.Name, "/") || !entryMatches(e.Name, streamName) {
			continue
		}
		rc, err := e.Open()
		if err != nil {
			return nil, fmt.Errorf("open zip entry: %w", err)
		}
		return rc, nil
	}
}

func findTarEntry(r io.Reader, streamName string) (io.Reader, error) {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, &ExtractError{Kind: KindStreamNotFound}
		}
		if err != nil {
			return nil, fmt.Errorf("read tar entry: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg || !entryMatches(path.Clean(hdr.Name), streamName) {
			continue
		}
		return tr, nil
	}
}

// readErr remembers read failures so they can be told apart from write
// failures after io.Copy.
type readErr struct {
	r   io.Reader
	err error
}

func (r *readErr) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if err != nil && err != io.EOF {
		r.err = err
	}
	return n, err
}

func (x *Extractor) maxStreamSize() int64 {
	if x.MaxStreamSize <= 0 {
		return DefaultMaxStreamSize
	}
	return x.MaxStreamSize
}

func (x *Extractor) writeTemp(entry io.Reader, streamName string) (string, int64, error) {
	limit := x.maxStreamSize()

	dir := x.TempDir
	if dir == "" {
		dir = fsutil.TempDir()
	}
	outPath := fsutil.TempName(dir, path.Base(streamName))
	out, err := os.OpenFile(outPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", 0, &ExtractError{Kind: KindWriteFailed, Err: err}
	}

	cleanupNeeded := true
	defer func() {
		if cleanupNeeded {
			out.Close()
			os.Remove(outPath)
		}
	}()

	src := &readErr{r: io.LimitReader(entry, limit+1)}
	n, err := io.Copy(out, src)
	switch {
	case src.err != nil:
		return "", n, &ExtractError{Kind: KindQueryFailed, Err: fmt.Errorf("read entry: %w", src.err)}
	case err != nil:
		return "", n, &ExtractError{Kind: KindWriteFailed, Err: err}
	case n > limit:
		return "", n, &ExtractError{Kind: KindStreamTooLarge,
			Err: fmt.Errorf("entry exceeds %s", bytesize.New(float64(limit)))}
	}

	if err := out.Close(); err != nil {
		return "", n, &ExtractError{Kind: KindWriteFailed, Err: err}
	}
	cleanupNeeded = false
	return outPath, n, nil
}
