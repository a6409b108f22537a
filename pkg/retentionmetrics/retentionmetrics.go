package retentionmetrics

import (
	"sync/atomic"

	"github.com/paulschiretz/zfs2cloud/pkg/plog"
)

// Metrics defines the interface for collecting and reporting pruning statistics.
type Metrics interface {
	AddPruned(n int64)
	AddKept(n int64)
	LogSummary(msg string)
}

// RetentionMetrics holds the atomic counters for a pruning run. In dry run
// mode Pruned counts what would have been removed.
type RetentionMetrics struct {
	Pruned atomic.Int64
	Kept   atomic.Int64
}

func (m *RetentionMetrics) AddPruned(n int64) { m.Pruned.Add(n) }
func (m *RetentionMetrics) AddKept(n int64)   { m.Kept.Add(n) }

func (m *RetentionMetrics) LogSummary(msg string) {
	plog.Info(msg,
		"pruned", m.Pruned.Load(),
		"kept", m.Kept.Load(),
	)
}

// NoopMetrics is an implementation of the Metrics interface that performs no operations.
type NoopMetrics struct{}

func (m *NoopMetrics) AddPruned(n int64)     {}
func (m *NoopMetrics) AddKept(n int64)       {}
func (m *NoopMetrics) LogSummary(msg string) {}

var _ Metrics = (*RetentionMetrics)(nil)
var _ Metrics = (*NoopMetrics)(nil)
