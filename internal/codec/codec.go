// Package codec implements the value encoding policy for persisted tiers:
// compress only above a size threshold, keep the compressed form only when
// the gain is real, fall back to raw bytes on any encoder failure.
package codec

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/klauspost/compress/s2"

	"github.com/tiercache/tiercache/config"
)

// ErrFailure marks a decode error. The caller must treat the entry as
// corrupted: evict it and report a miss.
var ErrFailure = errors.New("codec failure")

// Encoder is the pluggable compression capability. Stateless.
type Encoder interface {
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte) ([]byte, error)
}

type s2Encoder struct{}

func (s2Encoder) Compress(src []byte) ([]byte, error)   { return s2.Encode(nil, src), nil }
func (s2Encoder) Decompress(src []byte) ([]byte, error) { return s2.Decode(nil, src) }

type Codec struct {
	cfg   *config.CompressionCfg
	enc   Encoder
	saved atomic.Int64
}

// New builds a codec around the default s2 encoder. A nil cfg yields a
// passthrough codec that never compresses but still decodes.
func New(cfg *config.CompressionCfg) *Codec {
	return NewWithEncoder(cfg, s2Encoder{})
}

func NewWithEncoder(cfg *config.CompressionCfg, enc Encoder) *Codec {
	return &Codec{cfg: cfg, enc: enc}
}

// Encode returns the stored form of value and whether it is compressed.
// Encoder failures never propagate; the raw bytes are stored instead.
func (c *Codec) Encode(value []byte) (stored []byte, compressed bool) {
	if !c.cfg.Enabled() || len(value) <= c.cfg.ThresholdBytes {
		return value, false
	}

	packed, err := c.enc.Compress(value)
	if err != nil || packed == nil {
		return value, false
	}
	if float64(len(packed)) > c.cfg.MaxRatio*float64(len(value)) {
		// not enough gain to be worth the decode cost
		return value, false
	}

	c.saved.Add(int64(len(value) - len(packed)))
	return packed, true
}

// Decode reverses Encode. A failed decompression is reported as ErrFailure.
func (c *Codec) Decode(stored []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return stored, nil
	}
	value, err := c.enc.Decompress(stored)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFailure, err)
	}
	return value, nil
}

// BytesSaved is the cumulative size reduction across all encoded values.
func (c *Codec) BytesSaved() int64 { return c.saved.Load() }
