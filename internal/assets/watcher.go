package assets

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ChangeFunc is called after the catalog reflects a file change
type ChangeFunc func(name string, removed bool)

// Watcher keeps a Catalog in sync with its directory
type Watcher struct {
	watcher  *fsnotify.Watcher
	catalog  *Catalog
	onChange ChangeFunc
	logger   zerolog.Logger
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewWatcher starts watching the catalog's directory. onChange may be nil.
func NewWatcher(catalog *Catalog, onChange ChangeFunc, logger zerolog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(catalog.Dir()); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		watcher:  fw,
		catalog:  catalog,
		onChange: onChange,
		logger:   logger.With().Str("component", "asset_watcher").Logger(),
		done:     make(chan struct{}),
	}

	w.wg.Add(1)
	go w.watchLoop()
	return w, nil
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("Asset watcher error")
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if !isGIF(event.Name) {
		return
	}
	name := ResourceName(event.Name)

	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		if w.catalog.Remove(name) {
			w.logger.Info().Str("resource", name).Msg("Animation removed")
			w.notify(name, true)
		}
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		a, err := w.catalog.LoadFile(event.Name)
		if err != nil {
			// Partial writes fail to decode; the next write event retries.
			w.logger.Debug().Err(err).Str("resource", name).Msg("Animation not loadable yet")
			return
		}
		w.logger.Info().
			Str("resource", name).
			Int("frames", a.Frames).
			Dur("duration", a.Duration).
			Msg("Animation reloaded")
		w.notify(name, false)
	}
}

func (w *Watcher) notify(name string, removed bool) {
	if w.onChange != nil {
		w.onChange(name, removed)
	}
}

// Close stops the watcher
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}
