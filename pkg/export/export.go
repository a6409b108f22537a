// Package export turns the newest snapshot into encrypted, numbered chunk
// files in the intermediate directory.
//
// The stream flows through
//
//	zfs send [-i base] snap | [compress] | gpg -c | chunk files
//
// with every stage connected by an io.Pipe. The passphrase reaches gpg on a
// separate file descriptor and never appears in an argument list.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/paulschiretz/zfs2cloud/pkg/config"
	"github.com/paulschiretz/zfs2cloud/pkg/exportmetrics"
	"github.com/paulschiretz/zfs2cloud/pkg/fullcache"
	"github.com/paulschiretz/zfs2cloud/pkg/layout"
	"github.com/paulschiretz/zfs2cloud/pkg/plog"
	"github.com/paulschiretz/zfs2cloud/pkg/pool"
	"github.com/paulschiretz/zfs2cloud/pkg/preflight"
	"github.com/paulschiretz/zfs2cloud/pkg/runner"
	"github.com/paulschiretz/zfs2cloud/pkg/step"
	"github.com/paulschiretz/zfs2cloud/pkg/streamcompression"
	"github.com/paulschiretz/zfs2cloud/pkg/util"
	"github.com/paulschiretz/zfs2cloud/pkg/zfs"
)

// ErrNoSnapshots is returned when there is nothing to export.
var ErrNoSnapshots = errors.New("cannot export-intermediate when there are no existing snapshots")

const progressInterval = 60 * time.Second

var copyBuffers = pool.NewFixedBuffer(pool.DefaultCopySize)

// Result describes a finished (or, in dry run, planned) export.
type Result struct {
	Decision
	Snapshot string
	Base     string
	Folder   string
	Chunks   int
}

// Exporter defines the interface for a component that exports the newest snapshot.
type Exporter interface {
	Export(ctx context.Context, opts step.Options, now time.Time) (Result, error)
}

// PipelineExporter runs the send, compress, encrypt and split pipeline.
type PipelineExporter struct {
	config config.Config
	runner runner.Runner
	zfs    *zfs.Client
}

// Statically assert that *PipelineExporter implements the Exporter interface.
var _ Exporter = (*PipelineExporter)(nil)

// NewPipelineExporter creates a new PipelineExporter with the given configuration.
func NewPipelineExporter(cfg config.Config, r runner.Runner) *PipelineExporter {
	return &PipelineExporter{
		config: cfg,
		runner: r,
		zfs:    zfs.NewClient(r, cfg.ZFSPath),
	}
}

// exportRun holds the state of a single export.
type exportRun struct {
	snapshot    string
	base        string
	folder      string
	prefix      string
	passphrase  []byte
	gpgPath     string
	splitSize   int64
	splitText   string
	compression streamcompression.Format
	level       streamcompression.Level
	dryRun      bool
	metrics     exportmetrics.Metrics
}

// Export decides between a full and an incremental export of the newest
// snapshot and runs it. After a successful full export the full backup cache
// is updated; incremental exports never touch it.
func (e *PipelineExporter) Export(ctx context.Context, opts step.Options, now time.Time) (Result, error) {
	if err := opts.Validate(); err != nil {
		return Result{}, err
	}

	snapshots, err := e.zfs.List(ctx, e.config.Main.ZFSFilesystem)
	if err != nil {
		return Result{}, err
	}
	if len(snapshots) == 0 {
		return Result{}, ErrNoSnapshots
	}

	last, hasLast, err := fullcache.Read(e.config.LastFullCacheFile)
	if err != nil {
		return Result{}, err
	}

	decision := Decide(snapshots, last, hasLast, opts.Full, opts.Incremental, e.config.Main.FullEveryXDays, now)
	plog.Info("performing " + decision.Reason)

	newest := snapshots[0]
	res := Result{Decision: decision, Snapshot: newest.Name}
	if !decision.Full {
		if res.Base, err = BaseSnapshot(snapshots, last); err != nil {
			return res, err
		}
	}

	run, err := e.newRun(res)
	if err != nil {
		return res, err
	}
	res.Folder = run.folder

	if res.Chunks, err = e.execute(ctx, run); err != nil {
		return res, err
	}

	if decision.Full {
		if err := e.updateCache(fullcache.Record{Snapshot: newest.Name, Creation: newest.Creation}, run.dryRun); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (e *PipelineExporter) newRun(res Result) (*exportRun, error) {
	compression, err := streamcompression.ParseFormat(e.config.Main.Compression)
	if err != nil {
		return nil, err
	}
	level, err := streamcompression.ParseLevel(e.config.Main.CompressionLevel)
	if err != nil {
		return nil, err
	}

	var m exportmetrics.Metrics
	if e.config.Runtime.Metrics {
		m = &exportmetrics.ExportMetrics{}
	} else {
		m = &exportmetrics.NoopMetrics{}
	}

	folder, prefix := layout.Paths(e.config.Main.IntermediateBaseDir, res.Snapshot, res.Full)
	return &exportRun{
		snapshot:    res.Snapshot,
		base:        res.Base,
		folder:      folder,
		prefix:      prefix,
		passphrase:  []byte(e.config.Main.EncryptionPassphrase),
		gpgPath:     e.config.GPGPath,
		splitSize:   e.config.SplitSizeBytes,
		splitText:   e.config.Main.SplitSize,
		compression: compression,
		level:       level,
		dryRun:      e.config.Runtime.DryRun,
		metrics:     m,
	}, nil
}

// execute creates the export folder and runs the pipeline. It returns the number of chunks written.
func (e *PipelineExporter) execute(ctx context.Context, run *exportRun) (int, error) {
	if err := preflight.CheckIntermediateDir(e.config.Main.IntermediateBaseDir, run.dryRun); err != nil {
		return 0, err
	}

	plog.Info("+ mkdir -p " + run.folder)
	if !run.dryRun {
		if err := os.MkdirAll(run.folder, util.PrivateDirPerms); err != nil {
			return 0, fmt.Errorf("failed to create export folder %s: %w", run.folder, err)
		}
	}

	send := e.zfs.SendCmd(run.snapshot, run.base)
	plog.Info("+ " + run.describe(send))
	if run.dryRun {
		return 0, nil
	}

	run.metrics.StartProgress("Export progress", progressInterval)
	defer func() {
		run.metrics.StopProgress()
		run.metrics.LogSummary("Export finished")
	}()

	g, gctx := errgroup.WithContext(ctx)

	// zfs send
	sendOut, sendIn := io.Pipe()
	send.Stdout = sendIn
	g.Go(func() error {
		err := e.runner.Run(gctx, send)
		sendIn.CloseWithError(err)
		if err != nil {
			return fmt.Errorf("zfs send failed: %w", err)
		}
		return nil
	})

	// compression
	plain := sendOut
	if run.compression != streamcompression.None {
		compOut, compIn := io.Pipe()
		src := plain
		g.Go(func() error {
			err := streamcompression.Compress(compIn, src, run.compression, run.level)
			src.CloseWithError(err)
			compIn.CloseWithError(err)
			if err != nil {
				return fmt.Errorf("%s compression failed: %w", run.compression, err)
			}
			return nil
		})
		plain = compOut
	}

	// encryption
	encOut, encIn := io.Pipe()
	gpg := run.gpgCmd(plain, encIn)
	g.Go(func() error {
		err := e.runner.Run(gctx, gpg)
		plain.CloseWithError(err)
		encIn.CloseWithError(err)
		if err != nil {
			return fmt.Errorf("encryption failed: %w", err)
		}
		return nil
	})

	// split
	chunks := newChunkWriter(run.prefix, run.splitSize, run.metrics)
	g.Go(func() error {
		_, err := copyBuffers.Copy(chunks, encOut)
		if closeErr := chunks.Close(); err == nil {
			err = closeErr
		}
		encOut.CloseWithError(err)
		return err
	})

	if err := g.Wait(); err != nil {
		return chunks.Chunks(), err
	}
	plog.Debug("Export pipeline finished", "folder", run.folder, "chunks", chunks.Chunks())
	return chunks.Chunks(), nil
}

func (run *exportRun) gpgCmd(stdin io.Reader, stdout io.Writer) runner.Cmd {
	return runner.Cmd{
		Name:   run.gpgPath,
		Args:   []string{"-c", "--cipher-algo", "AES256", "--batch", "--passphrase-fd", fmt.Sprint(runner.SecretFD)},
		Stdin:  stdin,
		Stdout: stdout,
		Secret: run.passphrase,
	}
}

// describe renders the pipeline as the equivalent shell command line, with the passphrase masked.
func (run *exportRun) describe(send runner.Cmd) string {
	stages := []string{send.String()}
	if run.compression != streamcompression.None {
		stages = append(stages, fmt.Sprintf("%s --%s", run.compression, run.level))
	}
	stages = append(stages,
		strings.Join(runner.Mask([]string{run.gpgPath, "-c", "--cipher-algo", "AES256", "--batch", "--passphrase", string(run.passphrase)}, "--passphrase"), " "),
		fmt.Sprintf("split - --bytes %s --suffix-length=%d --numeric-suffixes %s", run.splitText, layout.ChunkSuffixLength, run.prefix),
	)
	return strings.Join(stages, " | ")
}

func (e *PipelineExporter) updateCache(rec fullcache.Record, dryRun bool) error {
	data, err := fullcache.Encode(rec)
	if err != nil {
		return err
	}
	plog.Info(fmt.Sprintf("updating %s to %s", e.config.LastFullCacheFile, data))
	if dryRun {
		return nil
	}
	return fullcache.Write(e.config.LastFullCacheFile, rec)
}
