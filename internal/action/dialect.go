package action

import (
	"fmt"
	"strings"
	"sync"

	"github.com/yifei-he/WebSTAR/internal/coords"
)

// Dialect is one surface syntax a model may use for actions.
type Dialect interface {
	// Name is the registry key, e.g. "dsl".
	Name() string
	// Detect reports whether text looks like this dialect.
	Detect(text string) bool
	// Parse decodes every action in text, canonicalised.
	Parse(text string) ([]Action, error)
	// Encode renders a single action.
	Encode(a Action) (string, error)
}

// Registry holds dialects in registration order.
type Registry struct {
	mu       sync.RWMutex
	dialects []Dialect
}

// NewRegistry returns a registry holding ds in the given order.
func NewRegistry(ds ...Dialect) *Registry {
	r := &Registry{}
	for _, d := range ds {
		_ = r.Register(d)
	}
	return r
}

// DefaultRegistry registers the legacy, record and dsl dialects. scale is
// the coordinate space the model uses for dsl and record points.
func DefaultRegistry(scale coords.Scale) *Registry {
	return NewRegistry(NewLegacy(), NewRecord(scale), NewDSL(scale))
}

// Register appends d. Names must be unique.
func (r *Registry) Register(d Dialect) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.dialects {
		if existing.Name() == d.Name() {
			return fmt.Errorf("dialect %q already registered", d.Name())
		}
	}
	r.dialects = append(r.dialects, d)
	return nil
}

// Get returns the dialect registered under name.
func (r *Registry) Get(name string) (Dialect, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.dialects {
		if d.Name() == name {
			return d, nil
		}
	}
	return nil, fmt.Errorf("unknown dialect: %s (supported: %s)", name, strings.Join(r.namesLocked(), ", "))
}

// Detect returns the first dialect claiming text.
func (r *Registry) Detect(text string) (Dialect, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.dialects {
		if d.Detect(text) {
			return d, true
		}
	}
	return nil, false
}

// Names lists registered dialects in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.dialects))
	for _, d := range r.dialects {
		names = append(names, d.Name())
	}
	return names
}

var canonicalDSL = NewDSL(coords.Pixel)

// EncodeCanonical renders a in the canonical textual encoding used in the
// step log.
func EncodeCanonical(a Action) (string, error) {
	return canonicalDSL.Encode(a)
}

// Resolve maps every point of a through m.
func Resolve(a Action, m coords.Mapper) Action {
	if len(a.Points) == 0 {
		return a
	}
	pts := make([]coords.Point, len(a.Points))
	for i, p := range a.Points {
		pts[i] = m.Map(p)
	}
	a.Points = pts
	return a
}
