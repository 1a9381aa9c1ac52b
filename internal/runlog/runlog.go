// Package runlog manages per-run output directories under .e2e/runs.
package runlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultRoot is the directory, relative to the working directory, holding
// every run.
const DefaultRoot = ".e2e"

// Run is the output directory of one test run.
type Run struct {
	ID        string    // short unique identifier (8 chars)
	Timestamp time.Time // when the run started
	Dir       string    // full path to the run directory
}

const timeLayout = "2006-01-02_150405"

// New creates root/runs/<timestamp>_<id>/.
func New(root string) (*Run, error) {
	if root == "" {
		root = DefaultRoot
	}
	now := time.Now()
	shortID := uuid.New().String()[:8]

	// Format: .e2e/runs/2026-01-15_143052_a1b2c3d4/
	dir := filepath.Join(root, "runs", fmt.Sprintf("%s_%s", now.Format(timeLayout), shortID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating run directory: %w", err)
	}

	return &Run{ID: shortID, Timestamp: now, Dir: dir}, nil
}

// Path returns the full path of a file inside the run directory.
func (r *Run) Path(name string) string {
	return filepath.Join(r.Dir, name)
}

// LogPath returns the path of the named log file.
func (r *Run) LogPath(name string) string {
	return r.Path(name + ".log")
}

// CreateLogFile creates the named log file.
func (r *Run) CreateLogFile(name string) (*os.File, error) {
	return os.Create(r.LogPath(name))
}

// WriteFile writes a file inside the run directory.
func (r *Run) WriteFile(name string, content []byte) error {
	return os.WriteFile(r.Path(name), content, 0644)
}

// Info describes a stored run.
type Info struct {
	Name      string    `json:"name"`
	Dir       string    `json:"dir"`
	Timestamp time.Time `json:"timestamp"`
	Files     []File    `json:"files"`
}

// File is one file inside a run directory.
type File struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// List returns every run under root, newest first.
func List(root string) ([]Info, error) {
	if root == "" {
		root = DefaultRoot
	}
	runsDir := filepath.Join(root, "runs")

	entries, err := os.ReadDir(runsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Info{}, nil
		}
		return nil, err
	}

	runs := []Info{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(runsDir, entry.Name())
		files, err := listFiles(dir)
		if err != nil {
			continue
		}
		runs = append(runs, Info{
			Name:      entry.Name(),
			Dir:       dir,
			Timestamp: parseTimestamp(entry),
			Files:     files,
		})
	}

	// Names start with the timestamp, so name order is start order.
	sort.Slice(runs, func(i, j int) bool { return runs[i].Name > runs[j].Name })
	return runs, nil
}

func parseTimestamp(entry os.DirEntry) time.Time {
	name := entry.Name()
	if i := strings.LastIndex(name, "_"); i > 0 {
		if ts, err := time.ParseInLocation(timeLayout, name[:i], time.Local); err == nil {
			return ts
		}
	}
	if info, err := entry.Info(); err == nil {
		return info.ModTime()
	}
	return time.Time{}
}

func listFiles(dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []File
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, File{
			Name: entry.Name(),
			Path: filepath.Join(dir, entry.Name()),
			Size: info.Size(),
		})
	}
	return files, nil
}
