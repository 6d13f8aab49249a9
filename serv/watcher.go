package serv

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// startSpecWatcher reloads all listeners when the local OpenAPI spec file
// changes. Development convenience only; production runs never start it.
// Editors often replace files via rename, so the parent directory is watched
// and events are filtered by name.
func (s *Service) startSpecWatcher(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	specPath, err := filepath.Abs(s.conf.SpecFile)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(specPath)); err != nil {
		return err
	}

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Errorf("spec watcher: %s", err)
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != specPath {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			// Coalesce editor write bursts into one reload.
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(250*time.Millisecond, func() {
				s.log.Infof("spec file changed, reloading")
				s.mu.Lock()
				running := make([]*ListenerService, 0, len(s.listeners))
				for _, ls := range s.listeners {
					running = append(running, ls)
				}
				s.mu.Unlock()
				for _, ls := range running {
					s.reloadListener(context.Background(), ls)
				}
			})
		}
	}
}
