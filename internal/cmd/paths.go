package cmd

import (
	"os"
	"path/filepath"
)

// defaultConfigDirs lists the search path for the YAML config file when
// --config is not given: the user config dir, then ./config.
func defaultConfigDirs() []string {
	dirs := []string{}
	if base, err := os.UserConfigDir(); err == nil && base != "" {
		dirs = append(dirs, filepath.Join(base, binaryName))
	}
	dirs = append(dirs, "./config")
	return dirs
}
