package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	// WorkspaceConfigFile is the name of the workspace-level config file
	WorkspaceConfigFile = ".vaultgraph.yaml"
	// UserConfigDir is the directory for user-level config
	UserConfigDir = ".config/vaultgraph"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"
)

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger *slog.Logger
	// HomeDir overrides the user home directory; tests set it.
	HomeDir string
}

// NewLoader creates a new configuration loader
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. User config (~/.config/vaultgraph/config.yaml)
// 3. Workspace config (.vaultgraph.yaml in the workspace root)
// 4. Explicit config file (--config), when set
func (l *Loader) Load(workspaceRoot, explicit string) (*Config, error) {
	config := DefaultConfig()

	if userPath := l.userConfigPath(); userPath != "" {
		l.mergeFile(config, userPath, false)
	}

	if workspaceRoot == "" {
		if cwd, err := os.Getwd(); err == nil {
			workspaceRoot = cwd
		}
	}
	if workspaceRoot != "" {
		l.mergeFile(config, filepath.Join(workspaceRoot, WorkspaceConfigFile), false)
	}

	if explicit != "" {
		other, err := LoadFromFile(explicit)
		if err != nil {
			return nil, err
		}
		l.logger.Debug("Loaded explicit config", slog.String("path", explicit))
		config.Merge(other)
	}

	if config.Workspace.Root == "" {
		config.Workspace.Root = workspaceRoot
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (l *Loader) mergeFile(config *Config, path string, required bool) {
	other, err := LoadFromFile(path)
	switch {
	case err == nil:
		l.logger.Debug("Loaded config", slog.String("path", path))
		config.Merge(other)
	case errors.Is(err, fs.ErrNotExist) && !required:
		l.logger.Debug("No config file", slog.String("path", path))
	default:
		l.logger.Warn("Failed to load config", slog.String("path", path), slog.String("error", err.Error()))
	}
}

// userConfigPath returns the path to the user config file
func (l *Loader) userConfigPath() string {
	home := l.HomeDir
	if home == "" {
		var err error
		if home, err = os.UserHomeDir(); err != nil {
			return ""
		}
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}
