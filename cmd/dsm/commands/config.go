package commands

import (
	"github.com/mosaicnetworks/dsm/src/config"
)

//CLIConfig contains configuration for the Run command
type CLIConfig struct {
	DSM config.Config `mapstructure:",squash"`

	// EnvFile is a dotenv file loaded into the environment before the
	// configuration is read. Relative paths are taken from the data
	// directory.
	EnvFile string `mapstructure:"env-file"`
}

//NewDefaultCLIConfig creates a CLIConfig with default values
func NewDefaultCLIConfig() *CLIConfig {
	return &CLIConfig{
		DSM:     *config.NewDefaultConfig(),
		EnvFile: ".env",
	}
}
