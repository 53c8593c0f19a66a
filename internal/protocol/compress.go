package protocol

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// FrameKind тип кадра, младшие биты заголовка
type FrameKind uint8

const (
	FrameControl  FrameKind = 1
	FrameSnapshot FrameKind = 2
)

const (
	flagCompressed byte = 0x80
	kindMask       byte = 0x7f

	// DefaultCompressThreshold меньшие полезные нагрузки не сжимаются
	DefaultCompressThreshold = 256
)

// Compressor упаковывает кадры: один байт заголовка и полезная нагрузка,
// сжатая zstd, если она длиннее порога.
type Compressor struct {
	threshold int
	enc       *zstd.Encoder
	dec       *zstd.Decoder
}

// NewCompressor создаёт упаковщик. enabled=false отключает сжатие исходящих
// кадров, но входящие сжатые кадры всё равно распаковываются.
func NewCompressor(enabled bool) (*Compressor, error) {
	c := &Compressor{threshold: DefaultCompressThreshold}
	if !enabled {
		c.threshold = -1
	}
	var err error
	c.enc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	c.dec, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(16<<20))
	if err != nil {
		c.enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return c, nil
}

// Pack собирает кадр
func (c *Compressor) Pack(kind FrameKind, payload []byte) []byte {
	header := byte(kind) & kindMask
	if c.threshold >= 0 && len(payload) >= c.threshold {
		out := make([]byte, 1, len(payload)/2+1)
		out[0] = header | flagCompressed
		return c.enc.EncodeAll(payload, out)
	}
	out := make([]byte, 0, len(payload)+1)
	out = append(out, header)
	return append(out, payload...)
}

// Unpack разбирает кадр
func (c *Compressor) Unpack(frame []byte) (FrameKind, []byte, error) {
	if len(frame) < 2 {
		return 0, nil, fmt.Errorf("%w: frame of %d bytes", ErrMalformed, len(frame))
	}
	kind := FrameKind(frame[0] & kindMask)
	if kind != FrameControl && kind != FrameSnapshot {
		return 0, nil, fmt.Errorf("%w: frame kind %d", ErrMalformed, kind)
	}
	payload := frame[1:]
	if frame[0]&flagCompressed == 0 {
		return kind, payload, nil
	}
	out, err := c.dec.DecodeAll(payload, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: decompress: %v", ErrMalformed, err)
	}
	return kind, out, nil
}

// Close освобождает кодеры
func (c *Compressor) Close() {
	c.enc.Close()
	c.dec.Close()
}
