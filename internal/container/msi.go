package container

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/richardlehane/mscfb"
)

// binaryTablePrefix prefixes the stream names of rows in an installer
// database's Binary table.
const binaryTablePrefix = "Binary."

// findMSIStream locates the Binary table row named streamName in a compound
// file installer database.
func findMSIStream(ra io.ReaderAt, streamName string, limit int64) (io.Reader, error) {
	doc, err := mscfb.New(ra)
	if err != nil {
		return nil, &ExtractError{Kind: KindOpenFailed, Err: fmt.Errorf("compound file: %w", err)}
	}
	want := binaryTablePrefix + streamName
	for {
		entry, err := doc.Next()
		if errors.Is(err, io.EOF) {
			return nil, &ExtractError{Kind: KindStreamNotFound}
		}
		if err != nil {
			return nil, fmt.Errorf("read compound file entry: %w", err)
		}
		if len(entry.Path) != 0 || decodeStreamName(entry.Name) != want {
			continue
		}
		if entry.Size > limit {
			return nil, &ExtractError{Kind: KindStreamTooLarge,
				Err: fmt.Errorf("stream is %d bytes, limit %d", entry.Size, limit)}
		}
		return entry, nil
	}
}

const (
	mangledPairBase   = 0x3800
	mangledSingleBase = 0x4800
	mangledTableMark  = 0x4840
)

// decodeStreamName reverses the packing installer databases apply to
// stream names: characters from [0-9A-Za-z._] are stored two per code
// unit in 0x3800..0x47FF, or one per unit in 0x4800..0x483F. A leading
// 0x4840 marks a table stream and is dropped. Other characters are
// stored as is.
func decodeStreamName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= mangledPairBase && r < mangledSingleBase:
			v := r - mangledPairBase
			b.WriteByte(mangleDigit(v & 0x3f))
			b.WriteByte(mangleDigit(v >> 6))
		case r >= mangledSingleBase && r < mangledTableMark:
			b.WriteByte(mangleDigit(r - mangledSingleBase))
		case r == mangledTableMark:
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func mangleDigit(v rune) byte {
	switch {
	case v < 10:
		return byte('0' + v)
	case v < 36:
		return byte('A' + v - 10)
	case v < 62:
		return byte('a' + v - 36)
	case v == 62:
		return '.'
	default:
		return '_'
	}
}
