package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/ini.v1"

	"github.com/paulschiretz/zfs2cloud/pkg/lockfile"
	"github.com/paulschiretz/zfs2cloud/pkg/plog"
	"github.com/paulschiretz/zfs2cloud/pkg/step"
	"github.com/paulschiretz/zfs2cloud/pkg/util"
)

// EnvConfigPath names the environment variable consulted when --config is not given.
const EnvConfigPath = "ZFS_BACKUP_CONFIG"

// SinceLastFull is the only implemented incremental strategy: every
// incremental export is a diff against the last full export.
const SinceLastFull = "since_last_full"

const (
	// LockFileName is the advisory lock marker inside the intermediate directory.
	LockFileName = "_lock"
	// LastFullCacheFileName records the last full export inside the intermediate directory.
	LastFullCacheFileName = "_last_full_backup"
)

// Upload backends.
const (
	BackendRclone = "rclone"
	BackendS3     = "s3"
)

// Compression formats applied to the send stream before encryption.
const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
	CompressionGzip = "gzip"
)

var compressionLevels = []string{"default", "fastest", "better", "best"}

var requiredMainKeys = []string{"encryption_passphrase", "zfs_fs", "intermediate_basedir", "remote"}

var secretMainKeys = map[string]bool{
	"encryption_passphrase": true,
	"s3_secret_access_key":  true,
}

// Error is a configuration problem. It is always reported before any
// snapshot, export or upload is touched.
type Error struct {
	Msg string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%v)", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func errorf(format string, args ...any) error {
	return &Error{Msg: fmt.Sprintf(format, args...)}
}

// MainConfig mirrors the [main] section of the configuration file.
type MainConfig struct {
	EncryptionPassphrase string
	ZFSFilesystem        string
	IntermediateBaseDir  string
	Remote               string

	IncrementalStrategy string
	SplitSize           string
	OldestSnapshotDays  int
	FullEveryXDays      int
	OnFailure           string

	RcloneConf        string
	RcloneBwlimit     string
	RcloneGlobalFlags string
	RcloneArgs        string

	Compression      string
	CompressionLevel string

	UploadBackend     string
	S3Bucket          string
	S3Prefix          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
}

// RuntimeConfig holds values that come from the command line, not the file.
type RuntimeConfig struct {
	DryRun  bool
	Verbose bool
	Metrics bool
}

// Config is the fully resolved configuration of one run.
type Config struct {
	Path string

	Main MainConfig
	// Sequence holds the [backup_sequences] steps in execution order.
	Sequence []step.Step

	// Autofilled values.
	ZFSPath           string
	RclonePath        string
	GPGPath           string
	LockPath          string
	LastFullCacheFile string
	SplitSizeBytes    int64

	Runtime RuntimeConfig
}

// NewDefault returns a Config populated with the defaults of every optional key.
func NewDefault() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Main: MainConfig{
			IncrementalStrategy: SinceLastFull,
			SplitSize:           "1G",
			RcloneConf:          util.EnvOr("RCLONE_CONFIG", filepath.Join(home, ".rclone.conf")),
			RcloneArgs:          "-v --stats=60s",
			OldestSnapshotDays:  120,
			FullEveryXDays:      30,
			Compression:         CompressionNone,
			CompressionLevel:    "default",
			UploadBackend:       BackendRclone,
			S3Region:            "us-east-1",
		},
	}
}

// Load reads, resolves and validates the configuration at path.
// Every failure is returned as *Error.
func Load(path string) (Config, error) {
	if path == "" {
		return Config{}, errorf("must specify --config or %s", EnvConfigPath)
	}
	if !util.IsFile(path) {
		return Config{}, errorf("%s is not a valid file", path)
	}

	file, err := ini.LoadSources(ini.LoadOptions{
		InsensitiveKeys:         true,
		IgnoreInlineComment:     true,
		PreserveSurroundedQuote: true,
	}, path)
	if err != nil {
		return Config{}, &Error{Msg: fmt.Sprintf("error parsing config file %s", path), Err: err}
	}

	plog.Debug("Loading configuration", "path", path)

	cfg := NewDefault()
	cfg.Path = path

	if err := cfg.readMain(file.Section("main")); err != nil {
		return Config{}, err
	}
	if err := cfg.readSequence(file.Section("backup_sequences")); err != nil {
		return Config{}, err
	}
	if err := cfg.resolveRelativePaths(); err != nil {
		return Config{}, err
	}
	cfg.Autofill()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) readMain(sec *ini.Section) error {
	for _, key := range requiredMainKeys {
		if !sec.HasKey(key) {
			return errorf("%s must be specified in [main]", key)
		}
	}

	str := func(key string, dst *string) {
		if sec.HasKey(key) {
			*dst = sec.Key(key).String()
		}
	}
	integer := func(key string, dst *int) error {
		if !sec.HasKey(key) {
			return nil
		}
		v, err := sec.Key(key).Int()
		if err != nil {
			return &Error{Msg: fmt.Sprintf("%s must be an integer", key), Err: err}
		}
		*dst = v
		return nil
	}

	m := &c.Main
	str("encryption_passphrase", &m.EncryptionPassphrase)
	str("zfs_fs", &m.ZFSFilesystem)
	str("intermediate_basedir", &m.IntermediateBaseDir)
	str("remote", &m.Remote)
	str("incremental_strategy", &m.IncrementalStrategy)
	str("split_size", &m.SplitSize)
	str("on_failure", &m.OnFailure)
	str("rclone_conf", &m.RcloneConf)
	str("rclone_bwlimit", &m.RcloneBwlimit)
	str("rclone_global_flags", &m.RcloneGlobalFlags)
	str("rclone_args", &m.RcloneArgs)
	str("compression", &m.Compression)
	str("compression_level", &m.CompressionLevel)
	str("upload_backend", &m.UploadBackend)
	str("s3_bucket", &m.S3Bucket)
	str("s3_prefix", &m.S3Prefix)
	str("s3_region", &m.S3Region)
	str("s3_endpoint", &m.S3Endpoint)
	str("s3_access_key_id", &m.S3AccessKeyID)
	str("s3_secret_access_key", &m.S3SecretAccessKey)

	if err := integer("full_every_x_days", &m.FullEveryXDays); err != nil {
		return err
	}
	return integer("oldest_snapshot_days", &m.OldestSnapshotDays)
}

// readSequence parses [backup_sequences]. Steps run in ascending key order,
// so keys such as 01_lock, 02_snapshot define the sequence.
func (c *Config) readSequence(sec *ini.Section) error {
	keys := sec.KeyStrings()
	sort.Strings(keys)

	c.Sequence = c.Sequence[:0]
	for _, key := range keys {
		raw, err := util.ResolveRelativeTo(c.Path, strings.TrimSpace(sec.Key(key).String()))
		if err != nil {
			return &Error{Msg: "backup_sequences", Err: err}
		}
		s, err := step.Parse(raw)
		if err != nil {
			return &Error{Msg: fmt.Sprintf("backup_sequences: %s", key), Err: err}
		}
		c.Sequence = append(c.Sequence, s)
	}
	return nil
}

func (c *Config) resolveRelativePaths() error {
	var err error
	for _, p := range []*string{&c.Main.OnFailure, &c.Main.RcloneConf} {
		if *p, err = util.ResolveRelativeTo(c.Path, *p); err != nil {
			return &Error{Msg: "cannot resolve path", Err: err}
		}
	}
	if c.Main.IntermediateBaseDir, err = util.ExpandPath(c.Main.IntermediateBaseDir); err != nil {
		return &Error{Msg: "intermediate_basedir", Err: err}
	}
	if c.Main.RcloneConf, err = util.ExpandPath(c.Main.RcloneConf); err != nil {
		return &Error{Msg: "rclone_conf", Err: err}
	}
	return nil
}

// Autofill derives tool paths from the environment and state file paths
// from the intermediate directory.
func (c *Config) Autofill() {
	c.ZFSPath = util.EnvOr("ZFS_PATH", "zfs")
	c.RclonePath = util.EnvOr("RCLONE_PATH", "rclone")
	c.GPGPath = util.EnvOr("GPG_PATH", "gpg1")
	c.LockPath = filepath.Join(c.Main.IntermediateBaseDir, LockFileName)
	c.LastFullCacheFile = filepath.Join(c.Main.IntermediateBaseDir, LastFullCacheFileName)
}

// Validate checks the configuration for missing files, unknown values and
// inconsistencies. It also fills SplitSizeBytes.
func (c *Config) Validate() error {
	m := &c.Main

	if m.ZFSFilesystem == "" {
		return errorf("zfs_fs cannot be empty")
	}
	if strings.Contains(m.ZFSFilesystem, "@") {
		return errorf("zfs_fs: %s must name a filesystem, not a snapshot", m.ZFSFilesystem)
	}
	if m.EncryptionPassphrase == "" {
		return errorf("encryption_passphrase cannot be empty")
	}

	if !util.IsDir(m.IntermediateBaseDir) {
		return errorf("intermediate_basedir: %s is not a valid directory", m.IntermediateBaseDir)
	}

	if m.OnFailure != "" && !util.IsFile(m.OnFailure) {
		return errorf("on_failure: %s is not a valid file", m.OnFailure)
	}

	switch m.UploadBackend {
	case BackendRclone:
		if !util.IsFile(m.RcloneConf) {
			return errorf("rclone_conf: %s is not a valid file", m.RcloneConf)
		}
		if m.Remote == "" {
			return errorf("remote cannot be empty with upload_backend = %s", BackendRclone)
		}
	case BackendS3:
		if m.S3Bucket == "" {
			return errorf("s3_bucket must be specified with upload_backend = %s", BackendS3)
		}
		if (m.S3AccessKeyID == "") != (m.S3SecretAccessKey == "") {
			return errorf("s3_access_key_id and s3_secret_access_key must be given together")
		}
	default:
		return errorf("upload_backend: %q is not supported. Must be '%s' or '%s'", m.UploadBackend, BackendRclone, BackendS3)
	}

	for _, s := range c.Sequence {
		if s.Kind == step.Script && !util.IsFile(s.Path) {
			return errorf("backup_sequences: %s is not a valid file", s.Path)
		}
	}

	if m.FullEveryXDays < 0 {
		return errorf("full_every_x_days cannot be negative")
	}
	if m.OldestSnapshotDays < 0 {
		return errorf("oldest_snapshot_days cannot be negative")
	}

	size, err := ParseSplitSize(m.SplitSize)
	if err != nil {
		return &Error{Msg: fmt.Sprintf("split_size: %q is not a valid size", m.SplitSize), Err: err}
	}
	c.SplitSizeBytes = size

	switch m.Compression {
	case CompressionNone, CompressionZstd, CompressionGzip:
	default:
		return errorf("compression: %q is not supported. Must be '%s', '%s' or '%s'", m.Compression, CompressionNone, CompressionZstd, CompressionGzip)
	}
	if !slices.Contains(compressionLevels, m.CompressionLevel) {
		return errorf("compression_level: %q is not supported. Must be one of %s", m.CompressionLevel, strings.Join(compressionLevels, ", "))
	}

	if m.IncrementalStrategy != SinceLastFull {
		return errorf("incremental_strategy = %s not implemented", m.IncrementalStrategy)
	}
	return nil
}

var bareUnit = regexp.MustCompile(`(?i)^\s*([0-9.]+)\s*([kmgtpe])\s*$`)

// ParseSplitSize parses a chunk size. Single-letter units follow split(1)
// and are powers of 1024 ("1G" is 1 GiB). Anything else, such as "500MB" or
// "2GiB", is handed to go-humanize.
func ParseSplitSize(s string) (int64, error) {
	if m := bareUnit.FindStringSubmatch(s); m != nil {
		s = m[1] + strings.ToUpper(m[2]) + "iB"
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, fmt.Errorf("size must be greater than zero")
	}
	return int64(n), nil
}

// MergeConfigWithFlags overlays the global command line flags that were
// explicitly set onto the loaded configuration.
func MergeConfigWithFlags(base Config, setFlags map[string]any) Config {
	merged := base
	for name, value := range setFlags {
		switch name {
		case "dry-run":
			merged.Runtime.DryRun = value.(bool)
		case "verbose":
			merged.Runtime.Verbose = value.(bool)
		case "metrics":
			merged.Runtime.Metrics = value.(bool)
		}
	}
	return merged
}

type entry struct{ key, value string }

func (c *Config) mainEntries() []entry {
	m := c.Main
	entries := []entry{
		{"encryption_passphrase", m.EncryptionPassphrase},
		{"zfs_fs", m.ZFSFilesystem},
		{"intermediate_basedir", m.IntermediateBaseDir},
		{"remote", m.Remote},
		{"incremental_strategy", m.IncrementalStrategy},
		{"split_size", m.SplitSize},
		{"oldest_snapshot_days", fmt.Sprint(m.OldestSnapshotDays)},
		{"full_every_x_days", fmt.Sprint(m.FullEveryXDays)},
		{"on_failure", m.OnFailure},
		{"compression", m.Compression},
		{"compression_level", m.CompressionLevel},
		{"upload_backend", m.UploadBackend},
	}
	switch m.UploadBackend {
	case BackendS3:
		entries = append(entries,
			entry{"s3_bucket", m.S3Bucket},
			entry{"s3_prefix", m.S3Prefix},
			entry{"s3_region", m.S3Region},
			entry{"s3_endpoint", m.S3Endpoint},
			entry{"s3_access_key_id", m.S3AccessKeyID},
			entry{"s3_secret_access_key", m.S3SecretAccessKey},
		)
	default:
		entries = append(entries,
			entry{"rclone_conf", m.RcloneConf},
			entry{"rclone_bwlimit", m.RcloneBwlimit},
			entry{"rclone_global_flags", m.RcloneGlobalFlags},
			entry{"rclone_args", m.RcloneArgs},
		)
	}
	return entries
}

// SummaryLines renders the configuration as it is printed by show-config.
// Secrets are replaced by asterisks of the same length.
func (c *Config) SummaryLines() []string {
	main := c.mainEntries()

	var steps []entry
	for i, s := range c.Sequence {
		steps = append(steps, entry{fmt.Sprintf("step_%d", i+1), s.Raw})
	}

	autofilled := []entry{
		{"zfs_path", c.ZFSPath},
		{"rclone_path", c.RclonePath},
		{"gpg_path", c.GPGPath},
		{"lock_path", c.LockPath},
		{"last_full_cache_file", c.LastFullCacheFile},
		{"locked", fmt.Sprint(lockfile.Held(c.LockPath))},
	}

	width := 0
	for _, group := range [][]entry{main, autofilled} {
		for _, e := range group {
			width = max(width, len(e.key))
		}
	}

	lines := []string{"Configuration", "============="}
	section := func(name string, entries []entry) {
		lines = append(lines, "["+name+"]")
		for _, e := range entries {
			v := e.value
			if secretMainKeys[e.key] {
				v = strings.Repeat("*", len(v))
			}
			lines = append(lines, fmt.Sprintf("%-*s = %s", width, e.key, v))
		}
	}
	section("main", main)
	lines = append(lines, "")
	section("backup_sequences", steps)
	lines = append(lines, "")
	section("autofilled", autofilled)
	return lines
}

// LogSummary logs the resolved configuration for show-config.
func (c *Config) LogSummary() {
	for _, line := range c.SummaryLines() {
		plog.Info(line)
	}
}
