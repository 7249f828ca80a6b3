package species

import (
	"fmt"
	"sort"
)

// Table is the single store of species records. Iteration order is insertion
// order, which keeps every engine pass reproducible. Parent/child links are
// code lookups into the table, never pointers.
type Table struct {
	list  []*Species
	index map[Code]int
}

// NewTable creates a table holding the given species.
func NewTable(list ...*Species) *Table {
	t := &Table{index: make(map[Code]int, len(list))}
	for _, s := range list {
		t.list = append(t.list, s)
		t.index[s.Code] = len(t.list) - 1
	}
	return t
}

// Add appends a species. Codes must be unique.
func (t *Table) Add(s *Species) error {
	if _, dup := t.index[s.Code]; dup {
		return fmt.Errorf("add species %s: duplicate code", s.Code)
	}
	t.list = append(t.list, s)
	t.index[s.Code] = len(t.list) - 1
	return nil
}

// Get returns the species with the given code, or nil.
func (t *Table) Get(code Code) *Species {
	i, ok := t.index[code]
	if !ok {
		return nil
	}
	return t.list[i]
}

// All returns every record, including extinct and split lineages.
func (t *Table) All() []*Species {
	return t.list
}

// Living returns species with StatusAlive, in table order.
func (t *Table) Living() []*Species {
	out := make([]*Species, 0, len(t.list))
	for _, s := range t.list {
		if s.Alive() {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the total number of records.
func (t *Table) Len() int {
	return len(t.list)
}

// LivingCount returns the number of living species.
func (t *Table) LivingCount() int {
	n := 0
	for _, s := range t.list {
		if s.Alive() {
			n++
		}
	}
	return n
}

// Children returns the direct descendants of code, in table order.
func (t *Table) Children(code Code) []*Species {
	var out []*Species
	for _, s := range t.list {
		if s.ParentCode == code {
			out = append(out, s)
		}
	}
	return out
}

// NextChildCode reserves the next branch code under parent.
func (t *Table) NextChildCode(parent *Species) Code {
	for {
		parent.NextChild++
		c := parent.Code.Child(parent.NextChild)
		if _, taken := t.index[c]; !taken {
			return c
		}
	}
}

// NextRootCode returns an unused root code in the given genus ("A" → "A3").
func (t *Table) NextRootCode(genus string) Code {
	for n := 1; ; n++ {
		c := Code(fmt.Sprintf("%s%d", genus, n))
		if _, taken := t.index[c]; !taken {
			return c
		}
	}
}

// Clone returns a deep copy of every record.
func (t *Table) Clone() *Table {
	c := &Table{
		list:  make([]*Species, len(t.list)),
		index: make(map[Code]int, len(t.list)),
	}
	for i, s := range t.list {
		c.list[i] = s.Clone()
		c.index[s.Code] = i
	}
	return c
}

// Genera groups living species by genus, genus codes sorted.
func (t *Table) Genera() ([]string, map[string][]*Species) {
	groups := make(map[string][]*Species)
	for _, s := range t.list {
		if s.Alive() {
			g := s.Code.Genus()
			groups[g] = append(groups[g], s)
		}
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, groups
}
