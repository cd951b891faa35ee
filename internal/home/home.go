package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the scribe home directory.
	DefaultDirName = ".scribe"

	// ProjectsDirName holds one directory per imported project.
	ProjectsDirName = "projects"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	// EnvFileName is the optional dotenv file loaded before config.
	EnvFileName = ".env"
)

// Dir represents the scribe home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.scribe).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// EnvPath returns the path to the dotenv file.
func (d *Dir) EnvPath() string {
	return filepath.Join(d.path, EnvFileName)
}

// DefraDataPath returns the directory mounted into the DefraDB container.
func (d *Dir) DefraDataPath() string {
	return filepath.Join(d.path, "defradb")
}

// ProjectsPath returns the directory containing all projects.
func (d *Dir) ProjectsPath() string {
	return filepath.Join(d.path, ProjectsDirName)
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	for _, dir := range []string{d.ProjectsPath(), d.DefraDataPath(), d.ExportsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}

// ProjectDir returns the root directory for a project.
func (d *Dir) ProjectDir(projectID string) string {
	return filepath.Join(d.ProjectsPath(), projectID)
}

// SourceDir returns where an imported archive is extracted.
func (d *Dir) SourceDir(projectID string) string {
	return filepath.Join(d.ProjectDir(projectID), "source")
}

// GeneratedAudioDir returns the directory for synthesized audio of a chapter.
func (d *Dir) GeneratedAudioDir(projectID, book string, chapter int) string {
	return filepath.Join(d.ProjectDir(projectID), "generated", book, fmt.Sprintf("%d", chapter))
}

// GeneratedAudioPath returns the path for one verse's synthesized audio.
func (d *Dir) GeneratedAudioPath(projectID, book string, chapter, verse int, format string) string {
	return filepath.Join(
		d.GeneratedAudioDir(projectID, book, chapter),
		fmt.Sprintf("%d_%d.%s", chapter, verse, format),
	)
}

// EnsureProjectDir creates the directory tree for a project.
func (d *Dir) EnsureProjectDir(projectID string) error {
	return os.MkdirAll(d.SourceDir(projectID), 0o755)
}

// RemoveProject deletes every file belonging to a project.
func (d *Dir) RemoveProject(projectID string) error {
	return os.RemoveAll(d.ProjectDir(projectID))
}

// ExportsDir returns the directory for exported archives.
func (d *Dir) ExportsDir() string {
	return filepath.Join(d.path, "exports")
}
