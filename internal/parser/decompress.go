package parser

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/dmarceye/internal/faults"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

// MaxPayloadSize caps how much a single attachment may expand to, counting
// every member of an archive together.
const MaxPayloadSize = 64 << 20

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zipMagic  = []byte("PK\x03\x04")
)

// Payload is one decompressed report candidate.
type Payload struct {
	Name string
	Data []byte
}

// Decompress unpacks gzip and zip attachments. Anything else is returned
// unchanged as a single payload. Compression is recognised by magic bytes,
// not by the file name, since reporters are inconsistent about both.
func Decompress(name string, data []byte) ([]Payload, error) {
	return decompress(name, data, MaxPayloadSize)
}

func decompress(name string, data []byte, limit int) ([]Payload, error) {
	switch {
	case bytes.HasPrefix(data, gzipMagic):
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, faults.Parse("gunzip "+name, err)
		}
		defer zr.Close()
		out, err := readLimited(zr, limit)
		if err != nil {
			return nil, faults.Parse("gunzip "+name, err)
		}
		return []Payload{{Name: strings.TrimSuffix(name, ".gz"), Data: out}}, nil

	case bytes.HasPrefix(data, zipMagic):
		zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return nil, faults.Parse("unzip "+name, err)
		}
		var payloads []Payload
		remaining := limit
		for _, f := range zr.File {
			if f.FileInfo().IsDir() {
				continue
			}
			rc, err := f.Open()
			if err != nil {
				return nil, faults.Parse("unzip "+f.Name, err)
			}
			out, err := readLimited(rc, remaining)
			rc.Close()
			if err != nil {
				return nil, faults.Parse("unzip "+name, fmt.Errorf("member %s: %w", f.Name, err))
			}
			remaining -= len(out)
			payloads = append(payloads, Payload{Name: path.Base(f.Name), Data: out})
		}
		if len(payloads) == 0 {
			return nil, faults.Parse("unzip "+name, fmt.Errorf("archive is empty"))
		}
		return payloads, nil
	}
	return []Payload{{Name: name, Data: data}}, nil
}

func readLimited(r io.Reader, limit int) ([]byte, error) {
	out, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return nil, err
	}
	if len(out) > limit {
		return nil, fmt.Errorf("decompressed size exceeds the %d byte limit", MaxPayloadSize)
	}
	return out, nil
}
