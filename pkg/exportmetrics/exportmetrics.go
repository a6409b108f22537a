package exportmetrics

import (
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/paulschiretz/zfs2cloud/pkg/plog"
)

// Metrics defines the interface for collecting and reporting export statistics.
type Metrics interface {
	AddBytesWritten(n int64)
	AddChunksWritten(n int64)
	LogSummary(msg string)
	StartProgress(msg string, interval time.Duration)
	StopProgress()
}

// ExportMetrics holds the atomic counters for tracking an export's progress.
type ExportMetrics struct {
	BytesWritten  atomic.Int64
	ChunksWritten atomic.Int64

	startTime time.Time
	stopChan  chan struct{}
	doneChan  chan struct{}
}

func (m *ExportMetrics) AddBytesWritten(n int64)  { m.BytesWritten.Add(n) }
func (m *ExportMetrics) AddChunksWritten(n int64) { m.ChunksWritten.Add(n) }

func (m *ExportMetrics) StartProgress(msg string, interval time.Duration) {
	m.startTime = time.Now()
	m.stopChan = make(chan struct{})
	m.doneChan = make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(m.doneChan)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.LogSummary(msg)
			case <-m.stopChan:
				return
			}
		}
	}()
}

func (m *ExportMetrics) StopProgress() {
	if m.stopChan != nil {
		close(m.stopChan)
		<-m.doneChan
		m.stopChan = nil
	}
}

func (m *ExportMetrics) LogSummary(msg string) {
	written := m.BytesWritten.Load()
	args := []any{
		"bytes_written", humanize.IBytes(uint64(written)),
		"chunks_written", m.ChunksWritten.Load(),
	}
	if !m.startTime.IsZero() {
		elapsed := time.Since(m.startTime)
		args = append(args, "elapsed", elapsed.Round(time.Second).String())
		if secs := elapsed.Seconds(); secs >= 1 {
			args = append(args, "rate", humanize.IBytes(uint64(float64(written)/secs))+"/s")
		}
	}
	plog.Info(msg, args...)
}

// NoopMetrics is an implementation of the Metrics interface that performs no operations.
type NoopMetrics struct{}

func (m *NoopMetrics) AddBytesWritten(n int64)                          {}
func (m *NoopMetrics) AddChunksWritten(n int64)                         {}
func (m *NoopMetrics) LogSummary(msg string)                            {}
func (m *NoopMetrics) StartProgress(msg string, interval time.Duration) {}
func (m *NoopMetrics) StopProgress()                                    {}

var _ Metrics = (*ExportMetrics)(nil)
var _ Metrics = (*NoopMetrics)(nil)
