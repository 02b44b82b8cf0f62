package container

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
)

// Format identifies a supported container layout.
type Format int

const (
	FormatUnknown Format = iota
	FormatZip
	FormatTar
	FormatTarGzip
	FormatTarZstd
	FormatMSI
)

func (f Format) String() string {
	switch f {
	case FormatZip:
		return "zip"
	case FormatTar:
		return "tar"
	case FormatTarGzip:
		return "tar.gz"
	case FormatTarZstd:
		return "tar.zst"
	case FormatMSI:
		return "msi"
	default:
		return "unknown"
	}
}

var (
	zipMagic      = []byte("PK\x03\x04")
	zipEmptyMagic = []byte("PK\x05\x06")
	gzipMagic     = []byte{0x1f, 0x8b}
	zstdMagic     = []byte{0x28, 0xb5, 0x2f, 0xfd}
	tarMagic      = []byte("ustar")
	cfbMagic      = []byte{0xd0, 0xcf, 0x11, 0xe0, 0xa1, 0xb1, 0x1a, 0xe1}
)

const (
	tarMagicOffset = 257
	sniffLen       = 512
)

// DetectFormat identifies the container at path by its leading bytes,
// falling back to the file extension.
func DetectFormat(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, err
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return FormatUnknown, fmt.Errorf("read header: %w", err)
	}
	if format := sniff(head[:n]); format != FormatUnknown {
		return format, nil
	}
	return formatFromName(path), nil
}

func sniff(head []byte) Format {
	switch {
	case bytes.HasPrefix(head, cfbMagic):
		return FormatMSI
	case bytes.HasPrefix(head, zipMagic), bytes.HasPrefix(head, zipEmptyMagic):
		return FormatZip
	case bytes.HasPrefix(head, gzipMagic):
		return FormatTarGzip
	case bytes.HasPrefix(head, zstdMagic):
		return FormatTarZstd
	case len(head) >= tarMagicOffset+len(tarMagic) &&
		bytes.Equal(head[tarMagicOffset:tarMagicOffset+len(tarMagic)], tarMagic):
		return FormatTar
	}
	return FormatUnknown
}

func formatFromName(path string) Format {
	name := strings.ToLower(path)
	switch {
	case strings.HasSuffix(name, ".msi"):
		return FormatMSI
	case strings.HasSuffix(name, ".zip"):
		return FormatZip
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return FormatTarGzip
	case strings.HasSuffix(name, ".tar.zst"), strings.HasSuffix(name, ".tzst"):
		return FormatTarZstd
	case strings.HasSuffix(name, ".tar"):
		return FormatTar
	}
	return FormatUnknown
}
