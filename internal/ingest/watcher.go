package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/applyline/applyline/constants"
)

// WatchConfig configures drop-folder ingestion.
type WatchConfig struct {
	Dir         string
	Debounce    time.Duration // coalesce rapid write bursts per file
	InitialScan bool          // submit files already present at startup
}

// Watcher submits documents dropped into a directory through the intake
// service.
type Watcher struct {
	svc    *Service
	cfg    WatchConfig
	logger *slog.Logger
}

func NewWatcher(svc *Service, cfg WatchConfig, logger *slog.Logger) *Watcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{svc: svc, cfg: cfg, logger: logger}
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Error("failed to create fsnotify watcher", "error", err)
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.cfg.Dir); err != nil {
		w.logger.Error("failed to watch directory", "dir", w.cfg.Dir, "error", err)
		return err
	}

	if w.cfg.InitialScan {
		entries, err := os.ReadDir(w.cfg.Dir)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if !e.IsDir() {
				w.submit(ctx, filepath.Join(w.cfg.Dir, e.Name()))
			}
		}
	}

	var timer *time.Timer
	pending := map[string]struct{}{}
	flush := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if constants.MapExtToFormat(filepath.Ext(e.Name)) == "" {
				continue
			}
			pending[e.Name] = struct{}{}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.cfg.Debounce, func() {
				select {
				case flush <- struct{}{}:
				default:
				}
			})
		case <-flush:
			for p := range pending {
				delete(pending, p)
				w.submit(ctx, p)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) submit(ctx context.Context, path string) {
	f, err := os.Open(path)
	if err != nil {
		w.logger.Error("cannot open dropped file", "path", path, "error", err)
		return
	}
	defer f.Close()

	app, err := w.svc.Submit(ctx, filepath.Base(path), f)
	if err != nil {
		w.logger.Error("drop-folder submit failed", "path", path, "error", err)
		return
	}
	w.logger.Info("drop-folder file accepted", "path", path, "application_id", app.ID)
}
