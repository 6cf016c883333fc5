package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/fsutil"
)

// ProjectConfigFile is the config file name searched in the working directory.
const ProjectConfigFile = ".rivalscope.yaml"

// UserConfigPath returns the per-user configuration file path.
func UserConfigPath() (string, error) {
	dir, err := UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// WriteDefaultConfig creates path from DefaultConfigYAML. An existing file is
// left alone unless force is set; the returned bool reports whether it wrote.
func WriteDefaultConfig(path string, force bool) (bool, error) {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		} else if !os.IsNotExist(err) {
			return false, fmt.Errorf("checking config: %w", err)
		}
	}
	if err := fsutil.WriteFileAtomic(path, []byte(DefaultConfigYAML), 0o600); err != nil {
		return false, fmt.Errorf("writing config: %w", err)
	}
	return true, nil
}
