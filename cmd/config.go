package cmd

import (
	"log/slog"

	"github.com/paulschiretz/zfs2cloud/pkg/config"
	"github.com/paulschiretz/zfs2cloud/pkg/plog"
)

// LoadConfig loads the configuration named by the config flag and applies
// the global flags on top of it. The log level is set before loading so that
// --verbose covers the loading itself.
func LoadConfig(flagMap map[string]interface{}) (config.Config, error) {
	setLogLevel(flagMap)

	path, _ := flagMap["config"].(string)
	loadedConfig, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	// Merge the flag values over the loaded config to get the final run config.
	return config.MergeConfigWithFlags(loadedConfig, flagMap), nil
}

// setLogLevel selects debug logging for --verbose.
func setLogLevel(flagMap map[string]interface{}) {
	if verbose, _ := flagMap["verbose"].(bool); verbose {
		plog.SetLevel(slog.LevelDebug)
	}
}
