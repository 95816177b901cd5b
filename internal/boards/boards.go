// Package boards holds the per-board avatar profiles. Each board variant is
// one YAML file rather than its own player type.
package boards

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/normanking/cortexface/internal/assets"
	"github.com/normanking/cortexface/internal/avatar"
	"gopkg.in/yaml.v3"
)

//go:embed profiles/*.yaml
var profileFS embed.FS

var (
	ErrUnknownBoard       = errors.New("unknown board")
	ErrInvalidProfile     = errors.New("invalid board profile")
	ErrUnresolvedDuration = errors.New("idle duration unresolved")
)

// AssetSource names where a board keeps its GIFs
type AssetSource string

const (
	AssetsFlash AssetSource = "flash"
	AssetsSD    AssetSource = "sd"
)

// Display is the panel geometry
type Display struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Entry is one idle animation. A zero Duration is taken from the GIF.
type Entry struct {
	Resource string        `yaml:"resource"`
	Duration time.Duration `yaml:"duration"`
}

// Profile describes one board's avatar
type Profile struct {
	Name            string        `yaml:"name"`
	Description     string        `yaml:"description"`
	Display         Display       `yaml:"display"`
	Assets          AssetSource   `yaml:"assets"`
	Idle            []Entry       `yaml:"idle"`
	Listening       string        `yaml:"listening"`
	Speaking        string        `yaml:"speaking"`
	Caption         bool          `yaml:"caption"`
	CaptionInterval time.Duration `yaml:"caption_interval"`
	CaptionUnit     string        `yaml:"caption_unit"`
}

// Parse decodes and checks a YAML profile. Unknown keys are rejected.
func Parse(data []byte) (*Profile, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var p Profile
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProfile, err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Profile) validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidProfile)
	}
	if len(p.Idle) == 0 {
		return fmt.Errorf("%w: %s has no idle animations", ErrInvalidProfile, p.Name)
	}
	for i, e := range p.Idle {
		if e.Resource == "" {
			return fmt.Errorf("%w: %s idle entry %d has no resource", ErrInvalidProfile, p.Name, i)
		}
		if e.Duration < 0 {
			return fmt.Errorf("%w: %s idle entry %d has negative duration", ErrInvalidProfile, p.Name, i)
		}
	}
	switch p.Assets {
	case "", AssetsFlash, AssetsSD:
	default:
		return fmt.Errorf("%w: %s has unknown asset source %q", ErrInvalidProfile, p.Name, p.Assets)
	}
	return nil
}

// List returns the embedded board names in sorted order
func List() []string {
	entries, err := fs.ReadDir(profileFS, "profiles")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), path.Ext(e.Name())))
	}
	sort.Strings(names)
	return names
}

// Get loads an embedded profile by board name
func Get(name string) (*Profile, error) {
	data, err := profileFS.ReadFile(path.Join("profiles", name+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBoard, name)
	}
	return Parse(data)
}

// Resources returns every resource the profile references, idle entries
// first, without duplicates.
func (p *Profile) Resources() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(r string) {
		if r != "" && !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	for _, e := range p.Idle {
		add(e.Resource)
	}
	add(p.Listening)
	add(p.Speaking)
	return out
}

// AvatarConfig builds the controller config. Idle entries without a
// duration use the GIF's natural duration from catalog, which may be nil
// when every duration is explicit.
func (p *Profile) AvatarConfig(catalog *assets.Catalog) (avatar.Config, error) {
	cycle := make([]avatar.IdleEntry, len(p.Idle))
	for i, e := range p.Idle {
		d := e.Duration
		if d == 0 {
			if catalog == nil {
				return avatar.Config{}, fmt.Errorf("%w: %s has no catalog", ErrUnresolvedDuration, e.Resource)
			}
			a, ok := catalog.Lookup(e.Resource)
			if !ok || a.Duration <= 0 {
				return avatar.Config{}, fmt.Errorf("%w: %s", ErrUnresolvedDuration, e.Resource)
			}
			d = a.Duration
		}
		cycle[i] = avatar.IdleEntry{Resource: e.Resource, Duration: d}
	}

	cfg := avatar.Config{
		IdleCycle:       cycle,
		Listening:       p.Listening,
		Speaking:        p.Speaking,
		Caption:         p.Caption,
		CaptionInterval: p.CaptionInterval,
		CaptionUnit:     avatar.CaptionUnit(p.CaptionUnit),
	}.WithDefaults()
	return cfg, cfg.Validate()
}
