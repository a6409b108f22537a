package buildinfo

// Version holds the application's version string.
// Example: go build -ldflags="-X github.com/paulschiretz/zfs2cloud/pkg/buildinfo.Version=1.0.0"
var Version = "dev"

// Name is the canonical name of the application used for logging and usage output.
var Name = "zfs2cloud"
