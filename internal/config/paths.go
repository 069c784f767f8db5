package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Paths contains the resolved on-disk locations used by the service.
type Paths struct {
	ExecutableDir string
	LicenseDir    string
	LicenseFile   string
	AuditFile     string
	LogFile       string
}

// GetPaths resolves the configured paths. Relative paths are anchored at the
// executable directory, never the current working directory.
func GetPaths(cfg *Config) (*Paths, error) {
	exeDir, err := executableDir()
	if err != nil {
		return nil, err
	}

	licenseFile := resolve(exeDir, cfg.License.FilePath)
	return &Paths{
		ExecutableDir: exeDir,
		LicenseDir:    filepath.Dir(licenseFile),
		LicenseFile:   licenseFile,
		AuditFile:     resolve(exeDir, cfg.License.AuditFile),
		LogFile:       resolve(exeDir, cfg.Logging.FilePath),
	}, nil
}

// EnsureDirectories creates the license and log directories if they don't exist
func (p *Paths) EnsureDirectories() error {
	for _, dir := range []string{p.LicenseDir, filepath.Dir(p.LogFile)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// LogPathResolution logs detailed path resolution information for debugging
func (p *Paths) LogPathResolution(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("Path resolution summary",
		slog.String("executable_dir", p.ExecutableDir),
		slog.Group("license",
			slog.String("file", p.LicenseFile),
			slog.String("audit", p.AuditFile),
			slog.Bool("file_exists", FileExists(p.LicenseFile)),
		),
		slog.String("log_file", p.LogFile))
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func executableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}

	// Resolve symlinks to get the actual executable location
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return "", fmt.Errorf("failed to resolve executable symlinks: %w", err)
	}

	return filepath.Dir(exe), nil
}

func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
