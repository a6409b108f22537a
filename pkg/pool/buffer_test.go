package pool

import (
	"bytes"
	"strings"
	"testing"
)

func TestFixedBufferPool_GetPut(t *testing.T) {
	fp := NewFixedBuffer(64)

	b := fp.Get()
	if len(*b) != 64 {
		t.Fatalf("expected a 64 byte buffer, got %d", len(*b))
	}
	*b = (*b)[:10]
	fp.Put(b)

	// A buffer of the wrong size is dropped.
	wrong := make([]byte, 32)
	fp.Put(&wrong)
	fp.Put(nil)

	if got := fp.Get(); cap(*got) != 64 || len(*got) != 64 {
		t.Errorf("expected a full 64 byte buffer, got len %d cap %d", len(*got), cap(*got))
	}
}

// onlyReader hides any WriterTo implementation so the pooled buffer is used.
type onlyReader struct{ r *strings.Reader }

func (o onlyReader) Read(p []byte) (int, error) { return o.r.Read(p) }

func TestFixedBufferPool_Copy(t *testing.T) {
	fp := NewFixedBuffer(4)
	src := strings.Repeat("zfs2cloud", 10)

	var dst bytes.Buffer
	n, err := fp.Copy(&dst, onlyReader{strings.NewReader(src)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != int64(len(src)) || dst.String() != src {
		t.Errorf("copied %d bytes %q, want %q", n, dst.String(), src)
	}
}
