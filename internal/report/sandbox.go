package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Sandbox is the per-solution scratch area where analysis artifacts are
// saved and listed. Paths are confined to the solution's sandbox dir.
type Sandbox struct {
	root string
}

// NewSandbox creates a sandbox rooted at artifactsRoot.
func NewSandbox(artifactsRoot string) *Sandbox {
	return &Sandbox{root: artifactsRoot}
}

func (s *Sandbox) dir(projectID string) string {
	return filepath.Join(s.root, projectID, "sandbox")
}

// Save writes a named artifact into the solution sandbox. Name must be a
// bare file name.
func (s *Sandbox) Save(projectID, name string, content []byte) (string, error) {
	if name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid sandbox file name %q", name)
	}
	dir := s.dir(projectID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create sandbox: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("failed to write sandbox file: %w", err)
	}
	return path, nil
}

// List returns the sandbox file names for a solution, sorted.
func (s *Sandbox) List(projectID string) ([]string, error) {
	entries, err := os.ReadDir(s.dir(projectID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list sandbox: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Read returns the content of one sandbox file.
func (s *Sandbox) Read(projectID, name string) ([]byte, error) {
	if name != filepath.Base(name) {
		return nil, fmt.Errorf("invalid sandbox file name %q", name)
	}
	data, err := os.ReadFile(filepath.Join(s.dir(projectID), name))
	if err != nil {
		return nil, fmt.Errorf("failed to read sandbox file: %w", err)
	}
	return data, nil
}
