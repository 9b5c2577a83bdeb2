package defaults

import (
	"io"
	"os"

	homedir "github.com/mitchellh/go-homedir"
	e "github.com/pkg/errors"
	"github.com/sahib/config"
)

// CurrentVersion is the current version of the config layout
const CurrentVersion = 0

// DefaultPath is where the config is looked for when none is given.
const DefaultPath = "~/.config/ftserve/config.yml"

// Defaults is the default validation for ftserve
var Defaults = DefaultsV0

func newMigrater() *config.Migrater {
	// Add here any migrations with mgr.Add if needed.
	mgr := config.NewMigrater(CurrentVersion, config.StrictnessPanic)
	mgr.Add(0, nil, DefaultsV0)
	return mgr
}

// OpenDefaultConfig returns a config that only holds default values.
func OpenDefaultConfig() (*config.Config, error) {
	return newMigrater().Migrate(nil)
}

// DecodeConfig reads a YAML config from `r` and migrates it
// to the newest version if required.
func DecodeConfig(r io.Reader) (*config.Config, error) {
	cfg, err := newMigrater().Migrate(config.NewYamlDecoder(r))
	if err != nil {
		return nil, e.Wrap(err, "failed to migrate")
	}

	return cfg, nil
}

// OpenMigratedConfig takes the config.yml at path and loads it.
// A `~` prefix is expanded. If the file does not exist and
// `mustExist` is false, a config with default values is returned.
func OpenMigratedConfig(path string, mustExist bool) (*config.Config, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, e.Wrap(err, "failed to expand config path")
	}

	fd, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return OpenDefaultConfig()
		}

		return nil, e.Wrap(err, "failed to open config")
	}

	defer fd.Close()

	return DecodeConfig(fd)
}
