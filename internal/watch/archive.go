package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Archive keeps timestamped copies of ingested solve results on disk so a
// session can be reconstructed after the fact.
type Archive struct {
	dir      string
	maxFiles int
}

// NewArchive creates an Archive that stores files in dir and keeps at most
// maxFiles of them.
func NewArchive(dir string, maxFiles int) *Archive {
	if maxFiles <= 0 {
		maxFiles = 50
	}
	return &Archive{
		dir:      dir,
		maxFiles: maxFiles,
	}
}

// Save copies the solve result at path into the archive under a timestamped
// name and prunes copies beyond maxFiles.
func (a *Archive) Save(path string, ts time.Time) error {
	if err := a.ensureDir(); err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading solve result: %w", err)
	}

	// Nanosecond resolution so two solves landing in the same second get
	// distinct files.
	name := fmt.Sprintf("solve_%d.json", ts.UnixNano())
	if err := os.WriteFile(filepath.Join(a.dir, name), data, 0644); err != nil {
		return fmt.Errorf("writing archive file: %w", err)
	}

	return a.prune()
}

// LoadLatest reads the newest archived result by timestamp in the filename.
// Returns the data, the timestamp, and any error.
func (a *Archive) LoadLatest() ([]byte, time.Time, error) {
	files, err := a.listFiles()
	if err != nil {
		return nil, time.Time{}, err
	}

	if len(files) == 0 {
		return nil, time.Time{}, fmt.Errorf("no archived results found")
	}

	// Files are sorted oldest first; take the last one.
	latest := files[len(files)-1]
	data, err := os.ReadFile(filepath.Join(a.dir, latest.name))
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("reading archive file: %w", err)
	}

	return data, latest.ts, nil
}

type archiveFile struct {
	name string
	ts   time.Time
}

func (a *Archive) listFiles() ([]archiveFile, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing archive dir: %w", err)
	}

	var files []archiveFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, "solve_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		// Extract the unix-nanosecond timestamp from the filename.
		tsStr := strings.TrimPrefix(name, "solve_")
		tsStr = strings.TrimSuffix(tsStr, ".json")
		nanos, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			continue
		}
		files = append(files, archiveFile{name: name, ts: time.Unix(0, nanos)})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].ts.Before(files[j].ts)
	})

	return files, nil
}

func (a *Archive) prune() error {
	files, err := a.listFiles()
	if err != nil {
		return err
	}

	if len(files) <= a.maxFiles {
		return nil
	}

	// Remove oldest files.
	toRemove := files[:len(files)-a.maxFiles]
	for _, f := range toRemove {
		if err := os.Remove(filepath.Join(a.dir, f.name)); err != nil {
			return fmt.Errorf("pruning archive file %s: %w", f.name, err)
		}
	}

	return nil
}

func (a *Archive) ensureDir() error {
	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return fmt.Errorf("creating archive dir: %w", err)
	}
	return nil
}
