// Package vulndb reads the vulnerability write-ups that seed plugin generation.
package vulndb

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mitchellh/go-homedir"
)

// FileSuffix is appended to a vulnerability type to form its file name.
const FileSuffix = "_vulnerabilities.md"

// ExampleDetectorPath is the reference detector inside the example plugin.
var ExampleDetectorPath = filepath.Join("src", "main", "java", "com", "google", "tsunami", "plugins", "raid", "SqlInjectionDetector.java")

// ErrNotFound is returned when a vulnerability type has no write-up.
var ErrNotFound = errors.New("vulnerability description not found")

// Reader loads vulnerability descriptions from a directory of markdown files.
type Reader struct {
	dir        string
	exampleDir string
}

// NewReader creates a Reader over dir. examplePluginDir locates the reference
// detector handed to the generator; it may be empty.
func NewReader(dir, examplePluginDir string) (*Reader, error) {
	expanded, err := homedir.Expand(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to expand vulnerabilities directory %q: %w", dir, err)
	}
	example := examplePluginDir
	if example != "" {
		if example, err = homedir.Expand(example); err != nil {
			return nil, fmt.Errorf("failed to expand example plugin directory %q: %w", examplePluginDir, err)
		}
	}
	return &Reader{dir: expanded, exampleDir: example}, nil
}

// Read returns the write-up for vulnerabilityType.
func (r *Reader) Read(vulnerabilityType string) (string, error) {
	if vulnerabilityType == "" || strings.ContainsAny(vulnerabilityType, `/\`) || strings.Contains(vulnerabilityType, "..") {
		return "", fmt.Errorf("invalid vulnerability type %q", vulnerabilityType)
	}
	path := filepath.Join(r.dir, vulnerabilityType+FileSuffix)
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		available, _ := r.List()
		return "", fmt.Errorf("%w: %s (available: %s)", ErrNotFound, vulnerabilityType, strings.Join(available, ", "))
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(raw), nil
}

// List returns the vulnerability types that have a write-up, sorted.
func (r *Reader) List() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list vulnerabilities in %s: %w", r.dir, err)
	}
	var types []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), FileSuffix) {
			continue
		}
		if t := strings.TrimSuffix(e.Name(), FileSuffix); t != "" {
			types = append(types, t)
		}
	}
	sort.Strings(types)
	return types, nil
}

// ExampleDetector returns the reference detector source, or "" when no
// example plugin is configured or the file is missing.
func (r *Reader) ExampleDetector() (string, error) {
	if r.exampleDir == "" {
		return "", nil
	}
	raw, err := os.ReadFile(filepath.Join(r.exampleDir, ExampleDetectorPath))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read example detector: %w", err)
	}
	return string(raw), nil
}
