// Package terminal locates the per-terminal state directory and resolves
// which terminal a command acts on.
package terminal

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.wtfpos, or $WTFPOS_HOME when set.
func BaseDir() string {
	if dir := os.Getenv("WTFPOS_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wtfpos")
}

// Dir returns the terminal-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "terminals", name)
}

// SocketPath returns the UDS socket path for a terminal.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "daemon.sock")
}

// LockPath returns the lock file path for a terminal.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// DBPath returns the terminal's pos.db path.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "pos.db")
}

// ImageDir returns the directory holding cached image blobs.
func ImageDir(name string) string {
	return filepath.Join(Dir(name), "images")
}

// LogDir returns the log directory for a terminal.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "posd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnvPath returns the optional .env file next to the config.
func EnvPath() string {
	return filepath.Join(BaseDir(), ".env")
}

// EnsureDir creates the terminal directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		LogDir(name),
		ImageDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
