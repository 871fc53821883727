package logs

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// appDirName names our directory under each platform's log root.
const appDirName = "taskmcp"

// GetLogDir returns the platform's conventional log directory:
// %LOCALAPPDATA%\taskmcp\logs on Windows, ~/Library/Logs/taskmcp on
// macOS, the XDG state directory (or /var/log/taskmcp for root) on
// Linux. Anything else falls back to a dot directory in $HOME.
func GetLogDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, appDirName, "logs"), nil
		}
		if profile := os.Getenv("USERPROFILE"); profile != "" {
			return filepath.Join(profile, "AppData", "Local", appDirName, "logs"), nil
		}

	case "darwin":
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, "Library", "Logs", appDirName), nil
		}

	case "linux":
		if os.Getuid() == 0 {
			return filepath.Join("/var/log", appDirName), nil
		}
		if state := os.Getenv("XDG_STATE_HOME"); state != "" {
			return filepath.Join(state, appDirName, "logs"), nil
		}
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, ".local", "state", appDirName, "logs"), nil
		}
	}

	return fallbackLogDir(), nil
}

func fallbackLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), appDirName, "logs")
	}
	return filepath.Join(home, "."+appDirName, "logs")
}

// EnsureLogDir creates the log directory if it doesn't exist.
func EnsureLogDir(logDir string) error {
	return os.MkdirAll(logDir, 0755)
}

// GetLogFilePathWithDir resolves filename inside logDir, creating the
// directory on the way. An empty logDir selects the platform default
// from GetLogDir; a leading ~/ expands to the user's home.
func GetLogFilePathWithDir(logDir, filename string) (string, error) {
	if logDir == "" {
		platformDir, err := GetLogDir()
		if err != nil {
			return "", err
		}
		logDir = platformDir
	}

	if strings.HasPrefix(logDir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		logDir = filepath.Join(home, logDir[2:])
	}

	if err := EnsureLogDir(logDir); err != nil {
		return "", err
	}
	return filepath.Join(logDir, filename), nil
}
