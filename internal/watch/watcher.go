// Package watch ingests plate-solve results from a spool directory. An
// external solver drops one JSON file per solved image; the watcher picks
// each file up once it has settled, parses it, archives it, and hands the
// solution to the configured handler.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/star/polargo/internal/wcs"
)

// Handler receives each successfully parsed solve result.
type Handler func(path string, sol *wcs.Solution)

// Config controls a Watcher.
type Config struct {
	// Dir is the spool directory to watch for *.json solve results.
	Dir string
	// Settle is how long a file must be quiet before it is read, so a
	// result is not parsed while the solver is still writing it.
	Settle time.Duration
	// Archive, when set, receives a copy of every parsed result.
	Archive *Archive
}

// Watcher tails the spool directory.
type Watcher struct {
	cfg     Config
	handler Handler
	logger  *slog.Logger
}

// New creates a Watcher delivering parsed solutions to handler.
func New(cfg Config, handler Handler, logger *slog.Logger) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("watch: spool directory not set")
	}
	if handler == nil {
		return nil, fmt.Errorf("watch: handler not set")
	}
	if cfg.Settle <= 0 {
		cfg.Settle = 250 * time.Millisecond
	}
	return &Watcher{cfg: cfg, handler: handler, logger: logger}, nil
}

// Run watches the spool directory until ctx is canceled. Files are
// processed once no event has touched them for the settle interval.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.cfg.Dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.cfg.Dir, err)
	}
	w.logger.Info("watching solve spool", "dir", w.cfg.Dir)

	pending := make(map[string]time.Time)
	tick := time.NewTicker(w.cfg.Settle / 2)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) {
				continue
			}
			if !isSolveResult(event.Name) {
				continue
			}
			pending[event.Name] = time.Now()

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)

		case now := <-tick.C:
			for path, last := range pending {
				if now.Sub(last) < w.cfg.Settle {
					continue
				}
				delete(pending, path)
				w.process(path)
			}
		}
	}
}

func (w *Watcher) process(path string) {
	sol, err := wcs.ParseFile(path)
	if err != nil {
		w.logger.Warn("rejecting solve result", "path", path, "error", err)
		return
	}
	if w.cfg.Archive != nil {
		if err := w.cfg.Archive.Save(path, sol.ObservedAt); err != nil {
			w.logger.Warn("archiving solve result", "path", path, "error", err)
		}
	}
	w.logger.Info("solve result ingested",
		"path", path,
		"ra", sol.CRVal1, "dec", sol.CRVal2,
		"observed_at", sol.ObservedAt,
	)
	w.handler(path, sol)
}

func isSolveResult(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}
