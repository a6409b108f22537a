package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulschiretz/zfs2cloud/pkg/buildinfo"
	"github.com/paulschiretz/zfs2cloud/pkg/config"
	"github.com/paulschiretz/zfs2cloud/pkg/plog"
	"github.com/paulschiretz/zfs2cloud/pkg/runner/runnertest"
)

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), []string{"version"}, &out, runnertest.New()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), buildinfo.Name+" version "+buildinfo.Version) {
		t.Errorf("unexpected version output %q", out.String())
	}
}

func TestRun_MissingConfig(t *testing.T) {
	t.Setenv(config.EnvConfigPath, "")
	testCases := []struct {
		name string
		args []string
	}{
		{"Default command", nil},
		{"Step command", []string{"snapshot"}},
		{"Not a file", []string{"-c", filepath.Join(t.TempDir(), "missing.ini"), "show-config"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fake := runnertest.New()
			err := run(context.Background(), tc.args, &bytes.Buffer{}, fake)

			var stderr bytes.Buffer
			if code := report(&stderr, err); code != 1 {
				t.Errorf("expected exit code 1, got %d", code)
			}
			if !strings.HasPrefix(stderr.String(), "error: ") {
				t.Errorf("expected a plain error message, got %q", stderr.String())
			}
			if len(fake.Calls()) != 0 {
				t.Errorf("no command may run without a configuration, got %v", fake.Lines())
			}
		})
	}
}

func TestRun_UsageError(t *testing.T) {
	err := run(context.Background(), []string{"frobnicate"}, &bytes.Buffer{}, runnertest.New())
	var stderr bytes.Buffer
	if code := report(&stderr, err); code != 2 {
		t.Errorf("expected exit code 2, got %d", code)
	}
	if !strings.Contains(stderr.String(), "invalid command") {
		t.Errorf("unexpected message %q", stderr.String())
	}
}

func TestReport_OtherErrors(t *testing.T) {
	var logs bytes.Buffer
	plog.SetOutput(&logs)
	t.Cleanup(func() { plog.SetOutput(os.Stderr) })

	var stderr bytes.Buffer
	if code := report(&stderr, errors.New("zfs send failed")); code != 1 {
		t.Errorf("expected exit code 1, got %d", code)
	}
	if stderr.Len() != 0 {
		t.Errorf("expected the error to go to the log, got %q", stderr.String())
	}
	if !strings.Contains(logs.String(), "zfs send failed") {
		t.Errorf("expected the error in the log, got %q", logs.String())
	}
}
