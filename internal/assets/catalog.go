// Package assets loads the avatar's GIF animations from disk and keeps them
// current while the files change.
package assets

import (
	"errors"
	"fmt"
	"image/gif"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Ext is the file extension of animation resources
const Ext = ".gif"

// DefaultFrameDelay stands in for a zero frame delay, which most players
// render at 100 ms.
const DefaultFrameDelay = 100 * time.Millisecond

var ErrNotGIF = errors.New("not a gif resource")

// Animation describes one decoded GIF
type Animation struct {
	Name      string
	Path      string
	Frames    int
	Duration  time.Duration // One pass through every frame
	Width     int
	Height    int
	LoopCount int // 0 loops forever, -1 plays once
	ModTime   time.Time
}

// Decode reads a GIF stream and measures it
func Decode(r io.Reader) (Animation, error) {
	g, err := gif.DecodeAll(r)
	if err != nil {
		return Animation{}, fmt.Errorf("decode gif: %w", err)
	}

	var total time.Duration
	for _, d := range g.Delay {
		if d <= 0 {
			total += DefaultFrameDelay
			continue
		}
		// Delays are in hundredths of a second
		total += time.Duration(d) * 10 * time.Millisecond
	}

	return Animation{
		Frames:    len(g.Image),
		Duration:  total,
		Width:     g.Config.Width,
		Height:    g.Config.Height,
		LoopCount: g.LoopCount,
	}, nil
}

// ResourceName maps a file path to its resource name
func ResourceName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func isGIF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), Ext)
}

// Catalog indexes the animations in one directory by resource name
type Catalog struct {
	mu     sync.RWMutex
	dir    string
	anims  map[string]Animation
	logger zerolog.Logger
}

// NewCatalog creates an empty catalog rooted at dir
func NewCatalog(dir string, logger zerolog.Logger) *Catalog {
	return &Catalog{
		dir:    dir,
		anims:  make(map[string]Animation),
		logger: logger.With().Str("component", "assets").Logger(),
	}
}

// Load creates a catalog and scans dir
func Load(dir string, logger zerolog.Logger) (*Catalog, error) {
	c := NewCatalog(dir, logger)
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Dir returns the catalog root
func (c *Catalog) Dir() string {
	return c.dir
}

// Reload rescans the directory. Files that fail to decode are skipped and
// logged.
func (c *Catalog) Reload() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("read asset dir: %w", err)
	}

	anims := make(map[string]Animation)
	for _, e := range entries {
		if e.IsDir() || !isGIF(e.Name()) {
			continue
		}
		a, err := readFile(filepath.Join(c.dir, e.Name()))
		if err != nil {
			c.logger.Warn().Err(err).Str("file", e.Name()).Msg("Skipping animation")
			continue
		}
		anims[a.Name] = a
	}

	c.mu.Lock()
	c.anims = anims
	c.mu.Unlock()

	c.logger.Info().Str("dir", c.dir).Int("animations", len(anims)).Msg("Asset catalog loaded")
	return nil
}

// LoadFile decodes one file and adds or replaces its entry
func (c *Catalog) LoadFile(path string) (Animation, error) {
	if !isGIF(path) {
		return Animation{}, fmt.Errorf("%w: %s", ErrNotGIF, path)
	}
	a, err := readFile(path)
	if err != nil {
		return Animation{}, err
	}

	c.mu.Lock()
	c.anims[a.Name] = a
	c.mu.Unlock()
	return a, nil
}

// Remove drops a resource, reporting whether it existed
func (c *Catalog) Remove(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.anims[name]
	delete(c.anims, name)
	return ok
}

// Lookup returns the animation registered under name
func (c *Catalog) Lookup(name string) (Animation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	a, ok := c.anims[name]
	return a, ok
}

// Has reports whether name is a known resource
func (c *Catalog) Has(name string) bool {
	_, ok := c.Lookup(name)
	return ok
}

// Names returns the resource names in sorted order
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.anims))
	for name := range c.anims {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func readFile(path string) (Animation, error) {
	f, err := os.Open(path)
	if err != nil {
		return Animation{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Animation{}, err
	}

	a, err := Decode(f)
	if err != nil {
		return Animation{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	a.Name = ResourceName(path)
	a.Path = path
	a.ModTime = info.ModTime()
	return a, nil
}
