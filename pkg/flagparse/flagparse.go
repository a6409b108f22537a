package flagparse

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/paulschiretz/zfs2cloud/pkg/buildinfo"
	"github.com/paulschiretz/zfs2cloud/pkg/config"
	"github.com/paulschiretz/zfs2cloud/pkg/step"
	"github.com/paulschiretz/zfs2cloud/pkg/util"
)

// Keys of the returned flag map that do not correspond to a flag name.
const (
	KeyStepOptions = "step-options"
	KeyDirs        = "dirs"
)

// usageOutput receives help and usage messages.
var usageOutput io.Writer = os.Stderr

// cliFlags holds pointers to all possible command-line flags.
// Fields are pointers so we can distinguish between "not registered for this command" (nil)
// and "registered but not set by user" (non-nil pointer to zero value).
type cliFlags struct {
	// Global
	Config  *string
	DryRun  *bool
	Verbose *bool
	Metrics *bool

	// Restore specific
	ZFSFilesystem *string
}

func registerGlobalFlags(fs *pflag.FlagSet, f *cliFlags) {
	f.Config = fs.StringP("config", "c", util.EnvOr(config.EnvConfigPath, ""), "the config ini file path (could also be specified by "+config.EnvConfigPath+" env var)")
	f.DryRun = fs.Bool("dry-run", false, "only print out what needs to be done instead of actually doing things")
	f.Verbose = fs.BoolP("verbose", "v", false, "print verbosely")
	f.Metrics = fs.Bool("metrics", false, "log throughput and progress of exports and restores")
}

func registerRestoreFlags(fs *pflag.FlagSet, f *cliFlags) {
	f.ZFSFilesystem = fs.String("zfs-fs", "", "the zfs filesystem to receive into (Required)")
}

// Parse parses the provided arguments (usually os.Args[1:]) and returns the command and flag map.
// Global flags come before the command. Without a command, perform is run.
func Parse(args []string) (Command, map[string]interface{}, error) {
	f := &cliFlags{}

	global := pflag.NewFlagSet(buildinfo.Name, pflag.ContinueOnError)
	global.SetOutput(usageOutput)
	global.SetInterspersed(false)
	registerGlobalFlags(global, f)
	global.Usage = func() { printTopLevelUsage(global) }

	if err := global.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return None, nil, nil
		}
		return None, nil, err
	}

	command := Perform
	rest := global.Args()
	if len(rest) > 0 {
		cmdStr := strings.ToLower(rest[0])
		if cmdStr == "help" {
			printTopLevelUsage(global)
			return None, nil, nil
		}
		var err error
		if command, err = ParseCommand(cmdStr); err != nil {
			return None, nil, err
		}
		rest = rest[1:]
	}

	// The subcommand shares the global flags, so they may follow the command too.
	fs := pflag.NewFlagSet(command.String(), pflag.ContinueOnError)
	fs.SetOutput(usageOutput)
	fs.AddFlagSet(global)
	fs.Usage = func() {
		printSubcommandUsage(command, commandDescriptions[command], fs)
	}

	var opts step.Options
	kind, isStep := command.StepKind()
	switch {
	case isStep:
		step.RegisterFlags(fs, kind, &opts)
	case command == Restore:
		registerRestoreFlags(fs, f)
	}

	if err := fs.Parse(rest); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return None, nil, nil
		}
		return command, nil, err
	}

	flagMap, err := flagsToMap(fs, f)
	if err != nil {
		return command, nil, err
	}

	switch {
	case isStep:
		if fs.NArg() > 0 {
			return command, nil, fmt.Errorf("unexpected arguments for %s: %s", command, strings.Join(fs.Args(), " "))
		}
		if err := opts.Validate(); err != nil {
			return command, nil, err
		}
		flagMap[KeyStepOptions] = opts
	case command == Restore:
		if *f.ZFSFilesystem == "" {
			return command, nil, fmt.Errorf("the --zfs-fs flag is required for restore")
		}
		if fs.NArg() == 0 {
			return command, nil, fmt.Errorf("restore needs at least one intermediate folder")
		}
		flagMap[KeyDirs] = fs.Args()
	default:
		if fs.NArg() > 0 {
			return command, nil, fmt.Errorf("unexpected arguments for %s: %s", command, strings.Join(fs.Args(), " "))
		}
	}
	return command, flagMap, nil
}

func flagsToMap(fs *pflag.FlagSet, f *cliFlags) (map[string]interface{}, error) {
	// Create a map of the flags that were explicitly set by the user, along with their values.
	// This map is used to selectively override the base configuration.
	usedFlags := make(map[string]bool)
	fs.VisitAll(func(fl *pflag.Flag) {
		if fl.Changed {
			usedFlags[fl.Name] = true
		}
	})

	flagMap := make(map[string]any)

	addIfUsed(flagMap, usedFlags, "dry-run", f.DryRun)
	addIfUsed(flagMap, usedFlags, "verbose", f.Verbose)
	addIfUsed(flagMap, usedFlags, "metrics", f.Metrics)
	addIfUsed(flagMap, usedFlags, "zfs-fs", f.ZFSFilesystem)

	// The config path may come from the environment, so it is kept even when the flag is unset.
	if f.Config != nil && *f.Config != "" {
		flagMap["config"] = *f.Config
	}
	return flagMap, nil
}

// addIfUsed adds the value of ptr to flagMap if ptr is not nil and the flag was set.
func addIfUsed[T any](flagMap map[string]interface{}, usedFlags map[string]bool, name string, ptr *T) {
	if ptr != nil && usedFlags[name] {
		flagMap[name] = *ptr
	}
}

// printTopLevelUsage prints the main help message.
func printTopLevelUsage(fs *pflag.FlagSet) {
	w := usageOutput
	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(w, "%s(%s) ", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(w, "ZFS backup with snapshot management.\n\n")
	fmt.Fprintf(w, "Usage: %s [global flags] [command] [flags]\n\n", execName)
	fmt.Fprintf(w, "Commands:\n")
	for _, name := range commandNames() {
		c := stringToCommand[name]
		fmt.Fprintf(w, "  %-33s %s\n", name, commandDescriptions[c])
	}
	fmt.Fprintf(w, "\nGlobal flags:\n")
	fs.PrintDefaults()
	fmt.Fprintf(w, "\nRun '%s <command> --help' for more information on a command.\n", execName)
}

// printSubcommandUsage prints the help message for a specific subcommand.
func printSubcommandUsage(command Command, desc string, fs *pflag.FlagSet) {
	w := usageOutput
	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(w, "%s(%s) ", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(w, "ZFS backup with snapshot management.\n\n")
	if command == Restore {
		fmt.Fprintf(w, "Usage of the %s command: %s %s --zfs-fs FS DIR...\n\n", command, execName, command)
	} else {
		fmt.Fprintf(w, "Usage of the %s command: %s %s [flags]\n\n", command, execName, command)
	}
	fmt.Fprintf(w, "%s\n\n", desc)
	fmt.Fprintf(w, "Flags:\n")
	fs.PrintDefaults()
}
