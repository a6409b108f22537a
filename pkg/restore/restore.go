// Package restore feeds exported chunk files back into zfs recv.
//
// Restore is best effort: the chunks of each folder are concatenated,
// decrypted, decompressed if needed and received, with no verification.
package restore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/paulschiretz/zfs2cloud/pkg/exportmetrics"
	"github.com/paulschiretz/zfs2cloud/pkg/plog"
	"github.com/paulschiretz/zfs2cloud/pkg/pool"
	"github.com/paulschiretz/zfs2cloud/pkg/runner"
	"github.com/paulschiretz/zfs2cloud/pkg/streamcompression"
	"github.com/paulschiretz/zfs2cloud/pkg/util"
	"github.com/paulschiretz/zfs2cloud/pkg/zfs"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// PromptPassphrase asks for the encryption passphrase on the terminal without echo.
func PromptPassphrase(w io.Writer) ([]byte, error) {
	if _, err := fmt.Fprint(w, "Encryption passphrase: "); err != nil {
		return nil, err
	}
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return nil, fmt.Errorf("failed to read passphrase: %w", err)
	}
	return pw, nil
}

const progressInterval = 60 * time.Second

var copyBuffers = pool.NewFixedBuffer(pool.DefaultCopySize)

// Restorer receives exported folders into a filesystem.
type Restorer struct {
	runner  runner.Runner
	zfs     *zfs.Client
	gpgPath string
	metrics bool
}

// Option configures a Restorer.
type Option func(*Restorer)

// WithMetrics logs the bytes and chunks read while restoring.
func WithMetrics(enabled bool) Option {
	return func(r *Restorer) { r.metrics = enabled }
}

// NewRestorer creates a Restorer. Tool paths come from ZFS_PATH and GPG_PATH.
func NewRestorer(r runner.Runner, opts ...Option) *Restorer {
	res := &Restorer{
		runner:  r,
		zfs:     zfs.NewClient(r, util.EnvOr("ZFS_PATH", "zfs")),
		gpgPath: util.EnvOr("GPG_PATH", "gpg"),
	}
	for _, opt := range opts {
		opt(res)
	}
	return res
}

func (r *Restorer) newMetrics() exportmetrics.Metrics {
	if r.metrics {
		return &exportmetrics.ExportMetrics{}
	}
	return &exportmetrics.NoopMetrics{}
}

// ValidateFolders checks that every folder exists before anything is asked or run.
func ValidateFolders(folders []string) error {
	if len(folders) == 0 {
		return fmt.Errorf("at least one backup folder is required")
	}
	for _, f := range folders {
		if !util.IsDir(f) {
			return fmt.Errorf("%s is not a valid directory", f)
		}
	}
	return nil
}

// Restore receives each folder into fs, in the given order. Folders must
// hold the chunks of one export each: a full export first, then incremental
// exports based on it.
func (r *Restorer) Restore(ctx context.Context, fs string, folders []string, passphrase []byte, dryRun bool) error {
	if err := ValidateFolders(folders); err != nil {
		return err
	}
	for _, folder := range folders {
		if err := r.restoreFolder(ctx, fs, folder, passphrase, dryRun); err != nil {
			return err
		}
	}
	return nil
}

// chunkFiles returns the regular files of folder in name order.
func chunkFiles(folder string) ([]string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			files = append(files, filepath.Join(folder, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no chunk files in %s", folder)
	}
	sort.Strings(files)
	return files, nil
}

func (r *Restorer) restoreFolder(ctx context.Context, fs, folder string, passphrase []byte, dryRun bool) error {
	files, err := chunkFiles(folder)
	if err != nil {
		return err
	}

	recv := r.zfs.RecvCmd(fs)
	plog.Info("+ cd " + folder)
	plog.Info("+ " + strings.Join([]string{
		"cat *",
		strings.Join(runner.Mask([]string{r.gpgPath, "--decrypt", "--batch", "--passphrase", string(passphrase)}, "--passphrase"), " "),
		recv.String(),
	}, " | "))
	if dryRun {
		return nil
	}

	m := r.newMetrics()
	m.StartProgress("Restore progress", progressInterval)
	defer func() {
		m.StopProgress()
		m.LogSummary("Restore finished")
	}()

	g, gctx := errgroup.WithContext(ctx)

	catOut, catIn := io.Pipe()
	g.Go(func() error {
		err := concatenate(catIn, files, m)
		catIn.CloseWithError(err)
		return err
	})

	decOut, decIn := io.Pipe()
	gpg := runner.Cmd{
		Name:   r.gpgPath,
		Args:   []string{"--decrypt", "--batch", "--passphrase-fd", fmt.Sprint(runner.SecretFD)},
		Stdin:  catOut,
		Stdout: decIn,
		Secret: passphrase,
	}
	g.Go(func() error {
		err := r.runner.Run(gctx, gpg)
		catOut.CloseWithError(err)
		decIn.CloseWithError(err)
		if err != nil {
			return fmt.Errorf("decryption failed: %w", err)
		}
		return nil
	})

	plainOut, plainIn := io.Pipe()
	g.Go(func() error {
		format, err := streamcompression.Decompress(plainIn, decOut)
		decOut.CloseWithError(err)
		plainIn.CloseWithError(err)
		if err != nil {
			return err
		}
		plog.Debug("stream decoded", "folder", folder, "compression", format)
		return nil
	})

	recv.Stdin = plainOut
	g.Go(func() error {
		err := r.runner.Run(gctx, recv)
		plainOut.CloseWithError(err)
		if err != nil {
			return fmt.Errorf("zfs recv failed: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func concatenate(w io.Writer, files []string, m exportmetrics.Metrics) error {
	for _, name := range files {
		f, err := os.Open(name)
		if err != nil {
			return err
		}
		n, err := copyBuffers.Copy(w, f)
		f.Close()
		m.AddBytesWritten(n)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", name, err)
		}
		m.AddChunksWritten(1)
	}
	return nil
}
