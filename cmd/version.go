package cmd

import (
	"fmt"
	"io"
)

// RunVersion prints the application name and version to w.
func RunVersion(w io.Writer, appName, appVersion string) error {
	_, err := fmt.Fprintf(w, "%s version %s\n", appName, appVersion)
	return err
}
