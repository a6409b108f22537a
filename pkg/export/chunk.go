package export

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/paulschiretz/zfs2cloud/pkg/exportmetrics"
	"github.com/paulschiretz/zfs2cloud/pkg/layout"
	"github.com/paulschiretz/zfs2cloud/pkg/util"
)

// ErrSuffixesExhausted is returned when a stream needs more chunks than there
// are chunk names.
var ErrSuffixesExhausted = errors.New("output file suffixes exhausted")

// chunkWriter splits everything written to it into files of at most size
// bytes named prefix0000, prefix0001 and so on. Like split(1) it creates no
// file for an empty stream and fails once the suffixes run out.
type chunkWriter struct {
	prefix  string
	size    int64
	limit   int
	metrics exportmetrics.Metrics

	next    int
	current *os.File
	written int64
}

func newChunkWriter(prefix string, size int64, m exportmetrics.Metrics) *chunkWriter {
	return &chunkWriter{prefix: prefix, size: size, limit: layout.MaxChunks, metrics: m}
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		if w.current == nil || w.written == w.size {
			if err := w.rotate(); err != nil {
				return total, err
			}
		}

		n := int64(len(p))
		if room := w.size - w.written; n > room {
			n = room
		}
		written, err := w.current.Write(p[:n])
		total += written
		w.written += int64(written)
		w.metrics.AddBytesWritten(int64(written))
		if err != nil {
			return total, fmt.Errorf("failed to write chunk %s: %w", w.current.Name(), err)
		}
		p = p[n:]
	}
	return total, nil
}

func (w *chunkWriter) rotate() error {
	if err := w.closeCurrent(); err != nil {
		return err
	}
	if w.next >= w.limit {
		return fmt.Errorf("%w: %s needs more than %d chunks, raise split_size", ErrSuffixesExhausted, w.prefix, w.limit)
	}
	name := layout.ChunkName(w.prefix, w.next)
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, util.PrivateFilePerms)
	if err != nil {
		return fmt.Errorf("failed to create chunk %s: %w", name, err)
	}
	w.current = f
	w.written = 0
	w.next++
	w.metrics.AddChunksWritten(1)
	return nil
}

func (w *chunkWriter) closeCurrent() error {
	if w.current == nil {
		return nil
	}
	f := w.current
	w.current = nil
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close chunk %s: %w", f.Name(), err)
	}
	return nil
}

// Close closes the last chunk.
func (w *chunkWriter) Close() error {
	return w.closeCurrent()
}

// Chunks returns the number of chunk files created so far.
func (w *chunkWriter) Chunks() int {
	return w.next
}

var _ io.WriteCloser = (*chunkWriter)(nil)
