package database

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/tejusbharadwaj/tscore/internal/models"
)

// Codec compresses the series blocks written by the key-value and object
// store backends.
type Codec interface {
	Name() string
	Encode(data []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
}

// NewCodec returns the codec called name: none, zstd or lz4. An empty name
// selects zstd.
func NewCodec(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "none":
		return noneCodec{}, nil
	case "", "zstd":
		return newZstdCodec()
	case "lz4":
		return lz4Codec{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown compression %q", models.ErrInvalidArgument, name)
	}
}

type noneCodec struct{}

func (noneCodec) Name() string                       { return "none" }
func (noneCodec) Encode(data []byte) ([]byte, error) { return data, nil }
func (noneCodec) Decode(data []byte) ([]byte, error) { return data, nil }

// zstdCodec shares one encoder and decoder; EncodeAll and DecodeAll are
// safe for concurrent use.
type zstdCodec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newZstdCodec() (*zstdCodec, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &zstdCodec{encoder: encoder, decoder: decoder}, nil
}

func (c *zstdCodec) Name() string { return "zstd" }

func (c *zstdCodec) Encode(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}
	return c.encoder.EncodeAll(data, make([]byte, 0, len(data))), nil
}

func (c *zstdCodec) Decode(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}
	out, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress zstd block: %w", err)
	}
	return out, nil
}

type lz4Codec struct{}

func (lz4Codec) Name() string { return "lz4" }

func (lz4Codec) Encode(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write lz4 block: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close lz4 writer: %w", err)
	}
	return buf.Bytes(), nil
}

func (lz4Codec) Decode(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}
	out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress lz4 block: %w", err)
	}
	return out, nil
}

// encodeBlock serializes s in the point wire format and compresses it.
func encodeBlock[T any](codec Codec, s *models.Series[T]) ([]byte, error) {
	if s == nil {
		s = &models.Series[T]{}
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode series block: %w", err)
	}
	return codec.Encode(raw)
}

func decodeBlock[T any](codec Codec, block []byte) (*models.Series[T], error) {
	raw, err := codec.Decode(block)
	if err != nil {
		return nil, err
	}
	s := &models.Series[T]{}
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("failed to decode series block: %w", err)
	}
	return s, nil
}

func encodeMeta[T any](ts models.TimeSeries[T]) ([]byte, error) {
	raw, err := json.Marshal(ts.WithoutData())
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata of %s: %w", ts.ID, err)
	}
	return raw, nil
}

func decodeMeta[T any](raw []byte) (models.TimeSeries[T], error) {
	var ts models.TimeSeries[T]
	if err := json.Unmarshal(raw, &ts); err != nil {
		return ts, fmt.Errorf("failed to decode series metadata: %w", err)
	}
	return ts, nil
}
