package store

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Encoding names the at-rest representation of a value's content.
type Encoding string

const (
	EncodingIdentity Encoding = "identity"
	EncodingZstd     Encoding = "zstd"
)

// codec encodes new values with the configured encoding and decodes any
// encoding found on disk, so databases with mixed rows stay readable after
// the compression setting changes.
type codec struct {
	encoding Encoding
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
}

func newCodec(compression string) (*codec, error) {
	c := &codec{encoding: EncodingIdentity}

	switch compression {
	case "", "none":
	case "zstd":
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		c.encoding = EncodingZstd
		c.encoder = enc
	default:
		return nil, fmt.Errorf("unknown compression %q: must be none or zstd", compression)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		c.close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	c.decoder = dec
	return c, nil
}

func (c *codec) encode(content []byte) ([]byte, Encoding) {
	if c.encoding == EncodingZstd {
		return c.encoder.EncodeAll(content, nil), EncodingZstd
	}
	return content, EncodingIdentity
}

func (c *codec) decode(data []byte, enc Encoding) ([]byte, error) {
	switch enc {
	case EncodingIdentity:
		if data == nil {
			return []byte{}, nil
		}
		return data, nil
	case EncodingZstd:
		out, err := c.decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decode: %w", err)
		}
		if out == nil {
			out = []byte{}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown value encoding %q", enc)
	}
}

func (c *codec) close() {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
}
