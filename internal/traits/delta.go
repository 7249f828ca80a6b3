package traits

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

// ErrUnknownTrait is returned for trait names neither in the fixed schema
// nor registered as extensions.
var ErrUnknownTrait = errors.New("unknown trait")

// Registry admits extension trait names discovered at runtime.
type Registry struct {
	mu    sync.RWMutex
	names map[string]bool
}

// NewRegistry creates a registry pre-loaded with names.
func NewRegistry(names ...string) *Registry {
	r := &Registry{names: make(map[string]bool)}
	for _, n := range names {
		r.names[n] = true
	}
	return r
}

// Register admits an extension name. Known slot names are rejected.
func (r *Registry) Register(name string) error {
	if _, ok := SlotByName(name); ok {
		return fmt.Errorf("register %q: already a core trait", name)
	}
	if name == "" {
		return fmt.Errorf("register: empty trait name")
	}
	r.mu.Lock()
	r.names[name] = true
	r.mu.Unlock()
	return nil
}

// Known reports whether name is a core slot or registered extension.
func (r *Registry) Known(name string) bool {
	if _, ok := SlotByName(name); ok {
		return true
	}
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names[name]
}

// Names returns the registered extension names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.names))
	for n := range r.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// SetExt assigns an extension trait value, rejecting unregistered names.
func (v *Vector) SetExt(r *Registry, name string, x float64) error {
	if _, ok := SlotByName(name); ok {
		return fmt.Errorf("set %q: core trait, use Set", name)
	}
	if !r.Known(name) {
		return fmt.Errorf("set %q: %w", name, ErrUnknownTrait)
	}
	if v.Ext == nil {
		v.Ext = make(map[string]float64)
	}
	v.Ext[name] = x
	return nil
}

// Delta is a set of named trait changes, as proposed by the adviser or
// derived from regional targets.
type Delta map[string]float64

// DeltaBetween returns target − from over the core slots.
func DeltaBetween(from, target Vector) Delta {
	d := make(Delta, NumSlots)
	for i := range from.Core {
		d[Slot(i).String()] = target.Core[i] - from.Core[i]
	}
	return d
}

// Magnitude is the L2 norm of the delta.
func (d Delta) Magnitude() float64 {
	var s float64
	for _, x := range d {
		s += x * x
	}
	return math.Sqrt(s)
}

// Validate rejects unknown names and non-finite values.
func (d Delta) Validate(r *Registry) error {
	for name, x := range d {
		if !r.Known(name) {
			return fmt.Errorf("delta %q: %w", name, ErrUnknownTrait)
		}
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("delta %q: non-finite value", name)
		}
	}
	return nil
}

// Scaled returns the delta multiplied by f.
func (d Delta) Scaled(f float64) Delta {
	out := make(Delta, len(d))
	for k, x := range d {
		out[k] = x * f
	}
	return out
}

// Apply returns v + d. Extension names absent from v are added on top of
// MinValue. Names must already be validated.
func (v Vector) Apply(d Delta) Vector {
	out := v.Clone()
	for name, x := range d {
		if s, ok := SlotByName(name); ok {
			out.Core[s] += x
			continue
		}
		if out.Ext == nil {
			out.Ext = make(map[string]float64)
		}
		base, ok := out.Ext[name]
		if !ok {
			base = MinValue
		}
		out.Ext[name] = base + x
	}
	return out
}

// ClampDeltaToCap scales the positive components of d so that v + d has a
// sum no greater than cap. Negative components are kept unchanged; if even
// those cannot bring the sum under cap, all gains are dropped.
func ClampDeltaToCap(v Vector, d Delta, cap float64) Delta {
	var gain, loss, added float64
	for name, x := range d {
		if _, core := SlotByName(name); !core {
			if _, ok := v.Ext[name]; !ok {
				added += MinValue // new extension enters at MinValue
			}
		}
		if x > 0 {
			gain += x
		} else {
			loss += x
		}
	}
	room := cap - v.Sum() - loss - added
	if gain <= room {
		return d
	}
	f := 0.0
	if room > 0 {
		f = room / gain
	}
	out := make(Delta, len(d))
	for k, x := range d {
		if x > 0 {
			out[k] = x * f
		} else {
			out[k] = x
		}
	}
	return out
}
