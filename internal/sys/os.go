package sys

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/canonical/lxd/shared/api"
)

// OS contains fields and methods for interacting with the state directory.
type OS struct {
	StateDir    string
	DatabaseDir string
	LogFile     string
	SocketGroup string
}

// DefaultOS returns a fresh uninitialized OS instance with default values.
func DefaultOS(stateDir string, socketGroup string, createDir bool) (*OS, error) {
	if stateDir == "" {
		stateDir = os.Getenv(StateDir)
	}

	if stateDir == "" {
		return nil, fmt.Errorf("Missing state directory")
	}

	os := &OS{
		StateDir:    stateDir,
		DatabaseDir: filepath.Join(stateDir, "database"),
		LogFile:     filepath.Join(stateDir, "asyncsql.log"),
		SocketGroup: socketGroup,
	}

	err := os.init(createDir)
	if err != nil {
		return nil, err
	}

	return os, nil
}

func (s *OS) init(createDir bool) error {
	dirs := []struct {
		path string
		mode os.FileMode
	}{
		{s.StateDir, 0711},
		{s.DatabaseDir, 0700},
	}

	for _, dir := range dirs {
		// If we are not creating the directories, ensure they still exist.
		if !createDir {
			_, err := os.Stat(dir.path)
			if err != nil {
				return fmt.Errorf("Unable to get state dir information: %w", err)
			}

			continue
		}

		err := os.MkdirAll(dir.path, dir.mode)
		if err != nil {
			return fmt.Errorf("Failed to init dir %q: %w", dir.path, err)
		}

		err = os.Chmod(dir.path, dir.mode)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("Failed to chmod dir %q: %w", dir.path, err)
		}
	}

	return nil
}

// ControlSocket returns the full path to the control.socket file that this daemon is listening on.
func (s *OS) ControlSocket() api.URL {
	return *api.NewURL().Scheme("http").Host(s.ControlSocketPath())
}

// ControlSocketPath returns the path of the control.socket file.
func (s *OS) ControlSocketPath() string {
	return filepath.Join(s.StateDir, "control.socket")
}

// ConfigPath returns the path of the daemon.yaml file.
func (s *OS) ConfigPath() string {
	return filepath.Join(s.StateDir, "daemon.yaml")
}

// DatabasePath returns the path of the default sqlite database.
func (s *OS) DatabasePath() string {
	return filepath.Join(s.DatabaseDir, "asyncsql.db")
}
