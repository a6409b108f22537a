package streamcompression

import (
	"fmt"

	"github.com/paulschiretz/zfs2cloud/pkg/util"
)

// Format is the compression applied to a send stream before it is encrypted.
type Format int

const (
	None Format = iota
	Zstd
	Gzip
)

var formatToString = map[Format]string{
	None: "none",
	Zstd: "zstd",
	Gzip: "gzip",
}

var stringToFormat map[string]Format

func init() {
	stringToFormat = util.InvertMap(formatToString)
}

func (f Format) String() string {
	if str, ok := formatToString[f]; ok {
		return str
	}
	return fmt.Sprintf("unknown_format(%d)", f)
}

// ParseFormat parses a format name. The empty string means None.
func ParseFormat(s string) (Format, error) {
	if s == "" {
		return None, nil
	}
	if f, ok := stringToFormat[s]; ok {
		return f, nil
	}
	return None, fmt.Errorf("invalid compression format: %q. Must be 'none', 'zstd' or 'gzip'", s)
}

// Level represents the desired trade-off between speed and size of the compression.
type Level string

const (
	Default Level = "default"
	Fastest Level = "fastest"
	Better  Level = "better"
	Best    Level = "best"
)

// ParseLevel parses a string into a compression Level.
// It defaults to default level if the string is empty.
func ParseLevel(s string) (Level, error) {
	switch Level(s) {
	case "":
		return Default, nil
	case Default, Fastest, Better, Best:
		return Level(s), nil
	}
	return "", fmt.Errorf("invalid compression level: %q. Must be 'default', 'fastest', 'better', or 'best'", s)
}
