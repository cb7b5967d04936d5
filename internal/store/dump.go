package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DiagnosticsDir is the dump subdirectory for login failure captures.
const DiagnosticsDir = "diagnostics"

// generateFilename creates a timestamped filename with the given extension.
func generateFilename(ext string) string {
	return time.Now().Format("2006-01-02T15-04-05") + ext
}

// SaveDump writes JSON-serializable data to <dir>/<name>/<timestamp>.json.
// Returns the path to the saved file.
func SaveDump[T any](dir, name string, data T) (string, error) {
	dir = filepath.Join(dir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create dump dir: %w", err)
	}

	path := filepath.Join(dir, generateFilename(".json"))

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal dump: %w", err)
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return "", fmt.Errorf("failed to write dump: %w", err)
	}

	return path, nil
}

// SaveDiagnostics writes a page screenshot and its markup side by side under
// <dir>/diagnostics. Either may be empty. Returns the paths written.
func SaveDiagnostics(dir string, screenshot []byte, html string) ([]string, error) {
	dir = filepath.Join(dir, DiagnosticsDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create diagnostics dir: %w", err)
	}

	base := filepath.Join(dir, generateFilename(""))
	var paths []string
	if len(screenshot) > 0 {
		if err := os.WriteFile(base+".png", screenshot, 0644); err != nil {
			return paths, fmt.Errorf("failed to write screenshot: %w", err)
		}
		paths = append(paths, base+".png")
	}
	if html != "" {
		if err := os.WriteFile(base+".html", []byte(html), 0644); err != nil {
			return paths, fmt.Errorf("failed to write page markup: %w", err)
		}
		paths = append(paths, base+".html")
	}
	return paths, nil
}

// LoadDump loads JSON data from a specific file path.
func LoadDump[T any](path string) (T, error) {
	var data T

	jsonData, err := os.ReadFile(path)
	if err != nil {
		return data, fmt.Errorf("failed to read dump: %w", err)
	}

	if err := json.Unmarshal(jsonData, &data); err != nil {
		return data, fmt.Errorf("failed to unmarshal dump: %w", err)
	}

	return data, nil
}

// LatestDump returns the path to the most recent dump of name under dir.
func LatestDump(dir, name string) (string, error) {
	dir = filepath.Join(dir, name)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("no dump for %s", name)
		}
		return "", err
	}

	// os.ReadDir sorts by name, which is chronological for our timestamps
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".json" {
			files = append(files, entry.Name())
		}
	}

	if len(files) == 0 {
		return "", fmt.Errorf("no dump for %s", name)
	}

	return filepath.Join(dir, files[len(files)-1]), nil
}
