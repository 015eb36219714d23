// Package codec implements the self-describing compression codec used to
// encode and decode session payloads. The format is transparent: a four-byte
// tag identifies the compressor, so changing the configured algorithm never
// breaks reads of records written under a previous one.
package codec

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
	golzf "github.com/zhuyie/golzf"

	"redissess/src/logging"
)

// Library names a supported compression algorithm.
type Library string

const (
	Snappy Library = "snappy"
	LZF    Library = "lzf"
	LZ4    Library = "lz4"
	Gzip   Library = "gzip"
	None   Library = "none"
)

const tagLen = 4

var tags = map[Library][]byte{
	Snappy: []byte(":sn:"),
	LZF:    []byte(":lz:"),
	LZ4:    []byte(":l4:"),
	Gzip:   []byte(":gz:"),
}

// ErrDecode is returned when a tagged payload cannot be decompressed by its
// own tagged algorithm (the decompressor is missing or the stream is
// corrupt). It is fatal to the read that triggered it.
type ErrDecode struct {
	Tag string
	Err error
}

func (e *ErrDecode) Error() string {
	return fmt.Sprintf("codec: decode failed for tag %q: %v", e.Tag, e.Err)
}

func (e *ErrDecode) Unwrap() error { return e.Err }

// Codec encodes/decodes session payloads under a configured threshold and
// algorithm.
type Codec struct {
	threshold int
	library   Library
	log       logging.Logger
}

// New builds a Codec. threshold <= 0 or library == None disables compression
// on encode (decode still dispatches on whatever tag is present, per the
// transparency requirement).
func New(threshold int, library Library, log logging.Logger) *Codec {
	if log == nil {
		log = logging.Nop{}
	}
	return &Codec{threshold: threshold, library: library, log: log}
}

// Encode compresses data if the codec is configured to and the payload
// meets the threshold; otherwise it returns data unchanged. Compression
// failures are logged and degrade to storing the payload uncompressed —
// compression is best-effort, never fatal.
func (c *Codec) Encode(data []byte) []byte {
	if c.threshold <= 0 || c.library == None || c.library == "" || len(data) < c.threshold {
		return data
	}

	compressed, err := compress(c.library, data)
	if err != nil || len(compressed) == 0 {
		c.log.Log(fmt.Sprintf("codec: compression with %s failed, storing %s uncompressed: %v",
			c.library, humanize.Bytes(uint64(len(data))), err), logging.Warning)
		return data
	}

	tag, ok := tags[c.library]
	if !ok {
		return data
	}
	out := make([]byte, 0, tagLen+len(compressed))
	out = append(out, tag...)
	out = append(out, compressed...)

	c.log.Log(fmt.Sprintf("codec: compressed %s to %s with %s",
		humanize.Bytes(uint64(len(data))), humanize.Bytes(uint64(len(out))), c.library), logging.Debug)
	return out
}

// Decode inspects data's first four bytes and dispatches to the matching
// decompressor. Untagged input (or input shorter than a tag) is returned
// unchanged.
func (c *Codec) Decode(data []byte) ([]byte, error) {
	if len(data) < tagLen {
		return data, nil
	}
	prefix := data[:tagLen]
	for lib, tag := range tags {
		if bytes.Equal(prefix, tag) {
			out, err := decompress(lib, data[tagLen:])
			if err != nil {
				return nil, &ErrDecode{Tag: string(tag), Err: err}
			}
			return out, nil
		}
	}
	return data, nil
}

func compress(lib Library, data []byte) ([]byte, error) {
	switch lib {
	case Snappy:
		return snappy.Encode(nil, data), nil
	case LZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case Gzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case LZF:
		dst := make([]byte, len(data)+len(data)/2+16)
		n, err := golzf.Compress(data, dst)
		if err != nil {
			return nil, err
		}
		return dst[:n], nil
	default:
		return nil, fmt.Errorf("codec: unsupported compression library %q", lib)
	}
}

func decompress(lib Library, data []byte) ([]byte, error) {
	switch lib {
	case Snappy:
		return snappy.Decode(nil, data)
	case LZ4:
		r := lz4.NewReader(bytes.NewReader(data))
		return io.ReadAll(r)
	case Gzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case LZF:
		dst := make([]byte, len(data)*4+64)
		for {
			n, err := golzf.Decompress(data, dst)
			if err == nil {
				return dst[:n], nil
			}
			if err != golzf.ErrInsufficientBuffer {
				return nil, err
			}
			dst = make([]byte, len(dst)*2)
		}
	default:
		return nil, fmt.Errorf("codec: unsupported compression library for tag")
	}
}
