// Package watcher watches a directory tree for file changes and
// triggers a full, atomic rebuild of the pack + ANN pair, debouncing
// bursts of rapid saves into a single rebuild.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/maurocanuto/mempack/internal/embedder"
	"github.com/maurocanuto/mempack/internal/encoder"
	"github.com/maurocanuto/mempack/internal/mempackcfg"
	"github.com/maurocanuto/mempack/internal/mperrors"
)

// debounceDelay coalesces bursts of writes (editor saves, git checkouts)
// into a single rebuild.
const debounceDelay = 500 * time.Millisecond

// RebuildFunc is invoked after every rebuild attempt, with the resulting
// chunk count (zero on failure) and any error. It may be nil.
type RebuildFunc func(chunks int, err error)

// Watcher rebuilds a pack + ANN pair whenever its source directory
// changes. A pack's non-goal of in-place mutation means updates always
// go through a full Encoder.Build to temp files followed by an atomic
// rename — never an incremental patch of the existing pack. The
// Encoder itself persists across rebuilds so its cumulative stats
// span the Watcher's whole run; its document list is cleared before
// each re-walk via Reset.
type Watcher struct {
	fw  *fsnotify.Watcher
	enc *encoder.Encoder
	cfg mempackcfg.Config

	rootDir  string
	pattern  string
	packPath string
	annPath  string

	mu        sync.Mutex
	onRebuild RebuildFunc
}

// New creates a Watcher that rebuilds packPath/annPath from rootDir's
// matching files whenever they change.
func New(rootDir, pattern, packPath, annPath string, emb embedder.Embedder, cfg mempackcfg.Config) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, mperrors.Wrap(mperrors.IOError, -1, err, "watcher: create fsnotify watcher")
	}
	return &Watcher{
		fw:       fw,
		enc:      encoder.New(emb, cfg),
		cfg:      cfg,
		rootDir:  rootDir,
		pattern:  pattern,
		packPath: packPath,
		annPath:  annPath,
	}, nil
}

// CumulativeStats reports rebuild activity across this Watcher's
// entire run, via the underlying Encoder's running totals.
func (w *Watcher) CumulativeStats() encoder.CumulativeStats {
	return w.enc.CumulativeStats()
}

// OnRebuild registers a callback invoked after every rebuild attempt.
func (w *Watcher) OnRebuild(fn RebuildFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onRebuild = fn
}

// Watch adds rootDir (and its subdirectories) to the watch list and
// blocks, rebuilding the pack on every debounced batch of changes, until
// ctx is cancelled.
func (w *Watcher) Watch(ctx context.Context) error {
	if err := w.addDirRecursive(w.rootDir); err != nil {
		return err
	}

	var timer *time.Timer
	rebuildNow := func() {
		n, err := w.rebuild(ctx)
		w.mu.Lock()
		cb := w.onRebuild
		w.mu.Unlock()
		if cb != nil {
			cb(n, err)
		} else if err != nil {
			fmt.Fprintf(os.Stderr, "[watch] rebuild error: %v\n", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return w.fw.Close()

		case event, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
					_ = w.addDirRecursive(event.Name)
				}
			}
			if !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceDelay, rebuildNow)

		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "[watch] error: %v\n", err)
		}
	}
}

// rebuild re-encodes rootDir into fresh temp files, then atomically
// renames them in over packPath/annPath, leaving the previous pair
// intact if the walk or the build fails. The two renames are separate:
// if the ANN rename fails, the new pack is already in place.
func (w *Watcher) rebuild(ctx context.Context) (int, error) {
	w.enc.Reset()
	if err := w.enc.AddDirectory(w.rootDir, w.pattern); err != nil {
		return 0, err
	}

	tmpPack := w.packPath + ".rebuild.tmp"
	tmpAnn := w.annPath + ".rebuild.tmp"
	defer os.Remove(tmpPack)
	defer os.Remove(tmpAnn)

	stats, err := w.enc.Build(ctx, tmpPack, tmpAnn)
	if err != nil {
		return 0, err
	}
	if err := os.Rename(tmpPack, w.packPath); err != nil {
		return 0, mperrors.Wrap(mperrors.IOError, -1, err, "watcher: swap in pack file")
	}
	if err := os.Rename(tmpAnn, w.annPath); err != nil {
		return 0, mperrors.Wrap(mperrors.IOError, -1, err, "watcher: swap in ann file")
	}
	return stats.Chunks, nil
}

// addDirRecursive adds dir and all non-hidden subdirectories to the watcher.
func (w *Watcher) addDirRecursive(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return mperrors.Wrap(mperrors.IOError, -1, err, "watcher: read dir")
	}
	if err := w.fw.Add(dir); err != nil {
		return mperrors.Wrap(mperrors.IOError, -1, err, fmt.Sprintf("watcher: watch %s", dir))
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if e.IsDir() {
			if err := w.addDirRecursive(filepath.Join(dir, e.Name())); err != nil {
				fmt.Fprintf(os.Stderr, "[watch] skip dir: %v\n", err)
			}
		}
	}
	return nil
}
