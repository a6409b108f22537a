package retentionmetrics

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/paulschiretz/zfs2cloud/pkg/plog"
)

func TestRetentionMetrics_Adders(t *testing.T) {
	m := &RetentionMetrics{}

	m.AddPruned(5)
	m.AddKept(2)

	if got := m.Pruned.Load(); got != 5 {
		t.Errorf("expected Pruned to be 5, got %d", got)
	}
	if got := m.Kept.Load(); got != 2 {
		t.Errorf("expected Kept to be 2, got %d", got)
	}
}

func TestRetentionMetrics_Log(t *testing.T) {
	var logBuf bytes.Buffer
	plog.SetOutput(&logBuf)
	t.Cleanup(func() { plog.SetOutput(os.Stderr) })

	m := &RetentionMetrics{}
	m.AddPruned(10)
	m.AddKept(3)
	m.LogSummary("Prune finished")

	output := logBuf.String()
	for _, want := range []string{`msg="Prune finished"`, "pruned=10", "kept=3"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected log output to contain %q, got: %s", want, output)
		}
	}
}

func TestNoopMetrics(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("NoopMetrics method panicked: %v", r)
		}
	}()

	m := &NoopMetrics{}
	m.AddPruned(1)
	m.AddKept(1)
	m.LogSummary("noop test")
}
