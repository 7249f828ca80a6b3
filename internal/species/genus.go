package species

import "sort"

// Genus owns the gene pool shared by every species descending from its root,
// plus the pairwise genetic distances between its living members. A genus
// lives as long as any descendant is alive.
type Genus struct {
	Code      string              `json:"code"`
	GenePool  map[string]float64  `json:"gene_pool"` // Discovered trait → best value seen
	Distances map[PairKey]float64 `json:"-"`
}

// NewGenus creates an empty genus.
func NewGenus(code string) *Genus {
	return &Genus{
		Code:      code,
		GenePool:  make(map[string]float64),
		Distances: make(map[PairKey]float64),
	}
}

// Discover records a trait value in the gene pool, keeping the maximum.
func (g *Genus) Discover(trait string, value float64) {
	if cur, ok := g.GenePool[trait]; !ok || value > cur {
		g.GenePool[trait] = value
	}
}

// Distance returns the stored distance for {a, b}.
func (g *Genus) Distance(a, b Code) (float64, bool) {
	if a == b {
		return 0, true
	}
	d, ok := g.Distances[NewPairKey(a, b)]
	return d, ok
}

// SetDistance stores the distance for {a, b}.
func (g *Genus) SetDistance(a, b Code, d float64) {
	if a == b {
		return
	}
	g.Distances[NewPairKey(a, b)] = d
}

// Pairs returns the stored pair keys in sorted order.
func (g *Genus) Pairs() []PairKey {
	keys := make([]PairKey, 0, len(g.Distances))
	for k := range g.Distances {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].A != keys[j].A {
			return keys[i].A < keys[j].A
		}
		return keys[i].B < keys[j].B
	})
	return keys
}

// Clone returns a deep copy.
func (g *Genus) Clone() *Genus {
	c := NewGenus(g.Code)
	for k, v := range g.GenePool {
		c.GenePool[k] = v
	}
	for k, v := range g.Distances {
		c.Distances[k] = v
	}
	return c
}

// Genera maps genus codes to genus records.
type Genera map[string]*Genus

// Ensure returns the genus for code, creating it if missing.
func (r Genera) Ensure(code string) *Genus {
	g, ok := r[code]
	if !ok {
		g = NewGenus(code)
		r[code] = g
	}
	return g
}

// Prune removes genera with no living member in t. Returns removed codes.
func (r Genera) Prune(t *Table) []string {
	living, _ := t.Genera()
	keep := make(map[string]bool, len(living))
	for _, g := range living {
		keep[g] = true
	}
	var removed []string
	for code := range r {
		if !keep[code] {
			removed = append(removed, code)
			delete(r, code)
		}
	}
	sort.Strings(removed)
	return removed
}

// Clone returns a deep copy.
func (r Genera) Clone() Genera {
	c := make(Genera, len(r))
	for k, g := range r {
		c[k] = g.Clone()
	}
	return c
}
