// Package streamcompression wraps a zfs send stream in zstd or gzip before it
// is encrypted, and detects and removes that layer again on restore.
package streamcompression

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	gzipMagic = []byte{0x1f, 0x8b}
)

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// NewWriter returns a writer that compresses into w. Closing it flushes the
// compressor but does not close w. With None the data passes through unchanged.
func NewWriter(w io.Writer, format Format, level Level) (io.WriteCloser, error) {
	switch format {
	case None:
		return nopWriteCloser{w}, nil
	case Zstd:
		var encoderLevel zstd.EncoderLevel
		switch level {
		case Fastest:
			encoderLevel = zstd.SpeedFastest
		case Better:
			encoderLevel = zstd.SpeedBetterCompression
		case Best:
			encoderLevel = zstd.SpeedBestCompression
		default:
			encoderLevel = zstd.SpeedDefault
		}
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(encoderLevel))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		return zw, nil
	case Gzip:
		var lvl int
		switch level {
		case Fastest:
			lvl = pgzip.BestSpeed
		case Better:
			lvl = 6
		case Best:
			lvl = pgzip.BestCompression
		default:
			lvl = pgzip.DefaultCompression
		}
		gw, err := pgzip.NewWriterLevel(w, lvl)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip writer: %w", err)
		}
		return gw, nil
	}
	return nil, fmt.Errorf("unsupported compression format: %s", format)
}

// Compress copies src into dst through a compressor of the given format.
func Compress(dst io.Writer, src io.Reader, format Format, level Level) (retErr error) {
	cw, err := NewWriter(dst, format, level)
	if err != nil {
		return err
	}
	defer func() {
		if err := cw.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("compressed writer close failed: %w", err)
		}
	}()
	_, err = io.Copy(cw, src)
	return err
}

// Detect peeks at the start of r and reports the compression format.
// A stream that starts with neither magic is a raw zfs stream.
func Detect(r *bufio.Reader) (Format, error) {
	head, err := r.Peek(len(zstdMagic))
	if err != nil && err != io.EOF {
		return None, err
	}
	switch {
	case bytes.HasPrefix(head, zstdMagic):
		return Zstd, nil
	case bytes.HasPrefix(head, gzipMagic):
		return Gzip, nil
	}
	return None, nil
}

// Decompress copies src into dst, removing compression if src starts with a known magic.
func Decompress(dst io.Writer, src io.Reader) (Format, error) {
	br := bufio.NewReader(src)
	format, err := Detect(br)
	if err != nil {
		return None, err
	}

	var r io.Reader = br
	switch format {
	case Zstd:
		zr, err := zstd.NewReader(br)
		if err != nil {
			return format, err
		}
		defer zr.Close()
		r = zr
	case Gzip:
		gr, err := pgzip.NewReader(br)
		if err != nil {
			return format, err
		}
		defer gr.Close()
		r = gr
	}

	if _, err := io.Copy(dst, r); err != nil {
		return format, fmt.Errorf("failed to decompress %s stream: %w", format, err)
	}
	return format, nil
}
