// Package step defines the entries of a backup sequence. Every configured
// step string is resolved into a Step once, when the configuration is loaded,
// so unknown commands and bad flags surface before anything is executed.
package step

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/spf13/pflag"
)

// Options are the per-step flags. A fresh value is built for every step and
// it is never modified afterwards.
type Options struct {
	Full        bool
	Incremental bool
	Yes         bool
	Snapshot    string
}

// Step is one resolved entry of a backup sequence.
type Step struct {
	Kind Kind
	// Raw is the step as written in the configuration, after ./ resolution.
	Raw string
	// Path is set for Script steps only.
	Path    string
	Options Options
}

// ErrFullAndIncremental is returned when both export overrides are given.
var ErrFullAndIncremental = errors.New("--full and --incremental are mutually exclusive")

// Parse resolves a configured step. Values starting with "/" are external
// scripts. Anything else is a built-in command followed by its flags.
func Parse(raw string) (Step, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "/") {
		return Step{Kind: Script, Raw: raw, Path: raw}, nil
	}

	words, err := shellquote.Split(raw)
	if err != nil {
		return Step{}, fmt.Errorf("cannot split step %q: %w", raw, err)
	}
	if len(words) == 0 {
		return Step{}, fmt.Errorf("empty step")
	}

	kind, err := ParseKind(words[0])
	if err != nil {
		return Step{}, err
	}

	opts, err := ParseOptions(kind, words[1:])
	if err != nil {
		return Step{}, fmt.Errorf("step %q: %w", raw, err)
	}
	return Step{Kind: kind, Raw: raw, Options: opts}, nil
}

// RegisterFlags adds the flags understood by kind to fs, bound to o.
func RegisterFlags(fs *pflag.FlagSet, kind Kind, o *Options) {
	switch kind {
	case ExportIntermediate:
		fs.BoolVarP(&o.Full, "full", "f", false, "forces a full backup")
		fs.BoolVarP(&o.Incremental, "incremental", "i", false, "forces an incremental backup")
	case PruneSnapshots:
		fs.BoolVarP(&o.Yes, "yes", "y", false, "actually delete the snapshots instead of just dry run")
	case PruneIntermediates:
		fs.BoolVarP(&o.Yes, "yes", "y", false, "actually delete the intermediates instead of just dry run")
	case UploadIntermediate:
		fs.StringVarP(&o.Snapshot, "snapshot", "s", "", "the zfs name of the snapshot to upload (default: the latest snapshot)")
	}
}

// Validate checks combinations that a single flag cannot express.
func (o Options) Validate() error {
	if o.Full && o.Incremental {
		return ErrFullAndIncremental
	}
	return nil
}

// ParseOptions parses the flags of a built-in step.
func ParseOptions(kind Kind, args []string) (Options, error) {
	var o Options
	fs := pflag.NewFlagSet(kind.String(), pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	RegisterFlags(fs, kind, &o)

	if err := fs.Parse(args); err != nil {
		return Options{}, err
	}
	if fs.NArg() > 0 {
		return Options{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if err := o.Validate(); err != nil {
		return Options{}, err
	}
	return o, nil
}
