// Package compress re-encodes rendered screenshots as JPEG under a byte ceiling.
//
// Compression is two bounded passes. Pass 1 encodes at FirstQuality with the
// longer side capped at FirstMaxDimension and is accepted when it fits the
// ceiling. Otherwise Pass 2 decodes the Pass 1 output and re-encodes it at
// SecondQuality and SecondMaxDimension; its result is adopted only when it is
// strictly smaller than Pass 1. There is no third pass, so the ceiling is a
// target rather than a guarantee.
package compress

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // register PNG decoding for browser artifacts
	"io"
	"os"

	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"github.com/JakeFAU/fly-screenshotter/internal/logging"
	"github.com/JakeFAU/fly-screenshotter/internal/metrics"
	"github.com/JakeFAU/fly-screenshotter/internal/screenshot"
)

// Config holds the encoding parameters of both passes.
type Config struct {
	CeilingBytes       int
	FirstQuality       int
	FirstMaxDimension  int
	SecondQuality      int
	SecondMaxDimension int
}

// DefaultConfig is a 30 KiB ceiling with q80/800px then q60/600px.
func DefaultConfig() Config {
	return Config{
		CeilingBytes:       30 * 1024,
		FirstQuality:       80,
		FirstMaxDimension:  800,
		SecondQuality:      60,
		SecondMaxDimension: 600,
	}
}

// Codec decodes source images and encodes JPEG output.
type Codec interface {
	Decode(data []byte) (image.Image, error)
	Encode(w io.Writer, img image.Image, quality int) error
}

type stdCodec struct{}

func (stdCodec) Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

func (stdCodec) Encode(w io.Writer, img image.Image, quality int) error {
	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: quality}); err != nil {
		return fmt.Errorf("encode jpeg: %w", err)
	}
	return nil
}

// Compressor implements screenshot.Compressor.
type Compressor struct {
	cfg    Config
	codec  Codec
	logger *zap.Logger
}

// New returns a Compressor using image/jpeg and x/image/draw.
func New(cfg Config, logger *zap.Logger) *Compressor {
	return NewWithCodec(cfg, stdCodec{}, logger)
}

// NewWithCodec returns a Compressor with a custom codec.
func NewWithCodec(cfg Config, codec Codec, logger *zap.Logger) *Compressor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compressor{cfg: cfg, codec: codec, logger: logger}
}

// Compress reads the artifact at path and compresses it.
func (c *Compressor) Compress(ctx context.Context, path string) (screenshot.CompressedPayload, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return screenshot.CompressedPayload{}, screenshot.Wrap(screenshot.ErrImageProcessing, fmt.Errorf("read artifact: %w", err))
	}
	return c.CompressBytes(ctx, raw)
}

// CompressBytes runs the two-pass policy over an encoded source image.
func (c *Compressor) CompressBytes(ctx context.Context, raw []byte) (screenshot.CompressedPayload, error) {
	src, err := c.codec.Decode(raw)
	if err != nil {
		return screenshot.CompressedPayload{}, screenshot.Wrap(screenshot.ErrImageProcessing, fmt.Errorf("decode source: %w", err))
	}
	first, err := c.encodePass(src, 1, c.cfg.FirstQuality, c.cfg.FirstMaxDimension)
	if err != nil {
		return screenshot.CompressedPayload{}, err
	}
	c.logger.Debug("first pass encoded",
		logging.Bytes("size", first.ByteSize()),
		zap.Int("width", first.Width),
		zap.Int("height", first.Height),
	)
	if first.ByteSize() <= c.cfg.CeilingBytes {
		return c.accept(first), nil
	}
	if err := ctx.Err(); err != nil {
		return screenshot.CompressedPayload{}, screenshot.Wrap(screenshot.ErrImageProcessing, err)
	}

	intermediate, err := c.codec.Decode(first.Data)
	if err != nil {
		return screenshot.CompressedPayload{}, screenshot.Wrap(screenshot.ErrImageProcessing, fmt.Errorf("decode first pass: %w", err))
	}
	second, err := c.encodePass(intermediate, 2, c.cfg.SecondQuality, c.cfg.SecondMaxDimension)
	if err != nil {
		return screenshot.CompressedPayload{}, err
	}
	if second.ByteSize() < first.ByteSize() {
		if second.ByteSize() > c.cfg.CeilingBytes {
			c.logger.Warn("compressed size above ceiling after second pass",
				logging.Bytes("size", second.ByteSize()),
				logging.Bytes("ceiling", c.cfg.CeilingBytes),
			)
		}
		return c.accept(second), nil
	}
	c.logger.Warn("second pass did not shrink payload, keeping first pass",
		logging.Bytes("first", first.ByteSize()),
		logging.Bytes("second", second.ByteSize()),
	)
	return c.accept(first), nil
}

func (c *Compressor) accept(p screenshot.CompressedPayload) screenshot.CompressedPayload {
	metrics.ObserveCompressed(p.Pass, p.ByteSize())
	return p
}

func (c *Compressor) encodePass(src image.Image, pass, quality, maxDim int) (screenshot.CompressedPayload, error) {
	img := fitWithin(src, maxDim)
	var buf bytes.Buffer
	if err := c.codec.Encode(&buf, img, quality); err != nil {
		return screenshot.CompressedPayload{}, screenshot.Wrap(screenshot.ErrImageProcessing, fmt.Errorf("pass %d: %w", pass, err))
	}
	b := img.Bounds()
	return screenshot.CompressedPayload{
		Data:     buf.Bytes(),
		Encoding: screenshot.EncodingJPEG,
		Quality:  quality,
		Width:    b.Dx(),
		Height:   b.Dy(),
		Pass:     pass,
	}, nil
}

// fitWithin scales img so its longer side is at most maxDim, preserving aspect
// ratio. Images already within bounds are returned unchanged.
func fitWithin(img image.Image, maxDim int) image.Image {
	w, h := scaledSize(img.Bounds().Dx(), img.Bounds().Dy(), maxDim)
	if w == img.Bounds().Dx() && h == img.Bounds().Dy() {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

func scaledSize(w, h, maxDim int) (int, int) {
	longer := max(w, h)
	if maxDim <= 0 || longer <= maxDim {
		return w, h
	}
	if w >= h {
		return maxDim, max(1, h*maxDim/w)
	}
	return max(1, w*maxDim/h), maxDim
}
