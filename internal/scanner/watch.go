package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"unquarantine/internal/report"
)

// ResultFunc receives the outcome of every scan triggered by Watch. It may be
// called from several goroutines at once.
type ResultFunc func(r *report.Report, err error)

// Watch scans files created or rewritten under dirs until ctx is done. Events
// for the same path are coalesced: a scan starts once the path has been quiet
// for debounce. Scans in flight are waited for before Watch returns.
func (s *Scanner) Watch(ctx context.Context, dirs []string, debounce time.Duration, fn ResultFunc) error {
	return s.watch(ctx, dirs, debounce, nil, fn)
}

// WatchExisting is Watch plus one scan of the files already under dirs,
// reported to existing. That scan starts only once every watch is in place,
// so a file is either found by it or announced by an event.
func (s *Scanner) WatchExisting(ctx context.Context, dirs []string, debounce time.Duration, existing, fn ResultFunc) error {
	if existing == nil {
		existing = func(*report.Report, error) {}
	}
	return s.watch(ctx, dirs, debounce, existing, fn)
}

func (s *Scanner) watch(ctx context.Context, dirs []string, debounce time.Duration, existing, fn ResultFunc) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	for _, d := range dirs {
		if err := s.addWatch(watcher, d); err != nil {
			return err
		}
	}

	type entry struct{ t *time.Timer }
	var (
		mu      sync.Mutex
		pending = make(map[string]*entry)
		wg      sync.WaitGroup
		sem     = make(chan struct{}, s.opts.Workers)
	)

	fire := func(path string, e *entry) {
		mu.Lock()
		if pending[path] == e {
			delete(pending, path)
		}
		mu.Unlock()

		sem <- struct{}{}
		defer func() { <-sem }()
		if ctx.Err() != nil {
			return
		}
		r, err := s.ScanFile(ctx, path)
		if fn != nil {
			fn(r, err)
		}
	}

	schedule := func(path string) {
		mu.Lock()
		defer mu.Unlock()
		// A timer that already fired has its scan underway; queue another.
		if e, ok := pending[path]; ok && e.t.Stop() {
			e.t.Reset(debounce)
			return
		}
		e := &entry{}
		wg.Add(1)
		e.t = time.AfterFunc(debounce, func() {
			defer wg.Done()
			fire(path, e)
		})
		pending[path] = e
	}

	if existing != nil {
		files, err := s.Expand(dirs)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.each(ctx, files, func(_ int, r *report.Report, err error) {
				existing(r, err)
			})
		}()
	}

	stop := func() {
		mu.Lock()
		for p, e := range pending {
			if e.t.Stop() {
				wg.Done()
			}
			delete(pending, p)
		}
		mu.Unlock()
		wg.Wait()
	}

	for {
		select {
		case <-ctx.Done():
			stop()
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				stop()
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if IsArtifact(filepath.Base(event.Name)) {
				continue
			}
			fi, err := os.Stat(event.Name)
			if err != nil {
				continue
			}
			if fi.IsDir() {
				if s.opts.Recursive && event.Has(fsnotify.Create) {
					if err := s.addWatch(watcher, event.Name); err != nil {
						s.log.Warnf("watch %s: %v", event.Name, err)
					}
				}
				continue
			}
			schedule(event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				stop()
				return nil
			}
			s.log.Warnf("watcher error: %v", err)
		}
	}
}

func (s *Scanner) addWatch(w *fsnotify.Watcher, dir string) error {
	fi, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	if !s.opts.Recursive || !fi.IsDir() {
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		return nil
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}
