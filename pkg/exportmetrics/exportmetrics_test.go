package exportmetrics

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/paulschiretz/zfs2cloud/pkg/plog"
)

func TestExportMetrics_Adders(t *testing.T) {
	m := &ExportMetrics{}

	m.AddBytesWritten(1024)
	m.AddBytesWritten(1024)
	m.AddChunksWritten(3)

	if got := m.BytesWritten.Load(); got != 2048 {
		t.Errorf("expected BytesWritten to be 2048, got %d", got)
	}
	if got := m.ChunksWritten.Load(); got != 3 {
		t.Errorf("expected ChunksWritten to be 3, got %d", got)
	}
}

func TestExportMetrics_Log(t *testing.T) {
	var logBuf bytes.Buffer
	plog.SetOutput(&logBuf)
	t.Cleanup(func() { plog.SetOutput(os.Stderr) })

	m := &ExportMetrics{}
	m.AddBytesWritten(3 * 1024 * 1024)
	m.AddChunksWritten(2)
	m.LogSummary("Export summary")

	output := logBuf.String()
	for _, want := range []string{`msg="Export summary"`, `bytes_written="3.0 MiB"`, "chunks_written=2"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected log output to contain %q, got: %s", want, output)
		}
	}
}

func TestExportMetrics_Progress(t *testing.T) {
	var logBuf bytes.Buffer
	plog.SetOutput(&logBuf)
	t.Cleanup(func() { plog.SetOutput(os.Stderr) })

	m := &ExportMetrics{}
	m.StartProgress("Export progress", time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	m.StopProgress()
	m.StopProgress()

	if !strings.Contains(logBuf.String(), "Export progress") {
		t.Errorf("expected at least one progress line, got: %s", logBuf.String())
	}
}

func TestNoopMetrics(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("NoopMetrics method panicked: %v", r)
		}
	}()

	m := &NoopMetrics{}
	m.AddBytesWritten(1)
	m.AddChunksWritten(1)
	m.LogSummary("noop test")
	m.StartProgress("noop", 0)
	m.StopProgress()
}
