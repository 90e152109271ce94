package analysis

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/fedutinova/retinascan/internal/common"
	"gopkg.in/yaml.v3"
)

// ErrPresetFileNotFound is returned when a preset file does not exist.
var ErrPresetFileNotFound = errors.New("preset file not found")

// Registry holds the built-in presets plus any loaded from files.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	presets map[string]Preset
}

func NewRegistry() *Registry {
	r := &Registry{presets: make(map[string]Preset, len(builtins))}
	for name, mk := range builtins {
		r.presets[name] = mk()
	}
	return r
}

// Lookup returns the named preset; an empty name selects the default.
func (r *Registry) Lookup(name string) (Preset, error) {
	if name == "" {
		name = DefaultPreset
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("%w: %q", common.ErrPresetNotFound, name)
	}
	return p, nil
}

// Register validates p and adds it. Built-in presets cannot be replaced.
func (r *Registry) Register(p Preset) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("preset %q: %w", p.Name, err)
	}
	if _, ok := builtins[p.Name]; ok {
		return fmt.Errorf("preset %q: %w", p.Name, common.ConfigErrors{{Field: "name", Message: "shadows a built-in preset"}})
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presets[p.Name] = p
	return nil
}

// List returns every preset sorted by name.
func (r *Registry) List() []Preset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Preset, 0, len(r.presets))
	for _, p := range r.presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// presetFile is the on-disk layout:
//
//	presets:
//	  sensitive:
//	    base: standard
//	    dark:
//	      min_area: 3
//
// Each entry starts from its base (standard by default) and overrides only the
// keys it sets. A base may name a preset defined earlier in the same file.
type presetFile struct {
	Presets yaml.Node `yaml:"presets"`
}

type presetHeader struct {
	Base string `yaml:"base"`
}

// LoadFile adds the presets defined in a YAML file.
// If the file does not exist, it returns ErrPresetFileNotFound.
func (r *Registry) LoadFile(path string) ([]string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrPresetFileNotFound
		}
		return nil, err
	}
	return r.Load(data)
}

// Load parses presets from YAML bytes and registers them in document order.
// It returns the names added.
func (r *Registry) Load(data []byte) ([]string, error) {
	var pf presetFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}
	if pf.Presets.Kind == 0 {
		return nil, nil
	}
	if pf.Presets.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parse presets: line %d: presets must be a mapping", pf.Presets.Line)
	}

	var added []string
	for i := 0; i+1 < len(pf.Presets.Content); i += 2 {
		name := pf.Presets.Content[i].Value
		body := pf.Presets.Content[i+1]

		var hdr presetHeader
		if err := body.Decode(&hdr); err != nil {
			return added, fmt.Errorf("preset %q: %w", name, err)
		}
		p, err := r.Lookup(hdr.Base)
		if err != nil {
			return added, fmt.Errorf("preset %q: base: %w", name, err)
		}
		// decoding over a copy of the base only replaces keys present in body
		if err := body.Decode(&p); err != nil {
			return added, fmt.Errorf("preset %q: %w", name, err)
		}
		p.Name = name

		if err := r.Register(p); err != nil {
			return added, err
		}
		added = append(added, name)
	}
	return added, nil
}

// LoadPresetFile returns a registry with the built-ins plus the presets in path.
func LoadPresetFile(path string) (*Registry, error) {
	r := NewRegistry()
	if _, err := r.LoadFile(path); err != nil {
		return nil, err
	}
	return r, nil
}
