package config

import (
	"os"
	"path/filepath"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
)

// Subdirectories created under the data directory.
const (
	CloudsDirectory = "clouds"
	MapDirectory    = "map"
	ConfigDirectory = "config"
)

// SetupDirectories creates the core clouds, map, and config directories at the end of the passed path.
func SetupDirectories(dataDirectory string, logger golog.Logger) error {
	for _, directoryName := range [4]string{"", CloudsDirectory, MapDirectory, ConfigDirectory} {
		directoryPath := filepath.Join(dataDirectory, directoryName)
		if _, err := os.Stat(directoryPath); os.IsNotExist(err) {
			logger.Warnf("%v directory does not exist", directoryPath)
			if err := os.Mkdir(directoryPath, os.ModePerm); err != nil {
				return errors.Errorf("issue creating directory at %v: %v", directoryPath, err)
			}
		}
	}
	return nil
}
