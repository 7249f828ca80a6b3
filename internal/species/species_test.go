package species

import (
	"testing"

	"github.com/talgya/evo-world/internal/traits"
	"github.com/talgya/evo-world/internal/world"
)

func TestCodeHierarchy(t *testing.T) {
	tests := []struct {
		code   Code
		parent Code
		depth  int
		genus  string
	}{
		{"A1", "", 0, "A"},
		{"A1.2", "A1", 1, "A"},
		{"AB12.3.1", "AB12.3", 2, "AB"},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := tt.code.Parent(); got != tt.parent {
				t.Errorf("Parent = %q, want %q", got, tt.parent)
			}
			if got := tt.code.Depth(); got != tt.depth {
				t.Errorf("Depth = %d, want %d", got, tt.depth)
			}
			if got := tt.code.Genus(); got != tt.genus {
				t.Errorf("Genus = %q, want %q", got, tt.genus)
			}
		})
	}
}

func TestTreeDistance(t *testing.T) {
	tests := []struct {
		a, b Code
		want int
	}{
		{"A1", "A1", 0},
		{"A1", "A1.2", 1},
		{"A1.2.1", "A1.3", 3},
		{"A1", "B1", -1},
		{"A1.10", "A1.1", 2},
	}
	for _, tt := range tests {
		if got := TreeDistance(tt.a, tt.b); got != tt.want {
			t.Errorf("TreeDistance(%s, %s) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
		if got := TreeDistance(tt.b, tt.a); got != tt.want {
			t.Errorf("TreeDistance(%s, %s) not symmetric: %d", tt.b, tt.a, got)
		}
	}
	if !Code("A1").IsAncestorOf("A1.2.3") || Code("A1").IsAncestorOf("A12") {
		t.Error("IsAncestorOf mismatch")
	}
}

func TestPairKeyUnordered(t *testing.T) {
	if NewPairKey("B2", "A1") != NewPairKey("A1", "B2") {
		t.Error("pair key depends on argument order")
	}
	g := NewGenus("A")
	g.SetDistance("A1.2", "A1", 0.3)
	if d, ok := g.Distance("A1", "A1.2"); !ok || d != 0.3 {
		t.Errorf("Distance = %f, %v", d, ok)
	}
}

func TestTableCloneIsDeep(t *testing.T) {
	s := &Species{
		Code:         "A1",
		Traits:       traits.Uniform(3),
		Distribution: map[world.TileID]int64{4: 100},
	}
	tab := NewTable(s)
	c := tab.Clone()
	c.Get("A1").Distribution[4] = 1
	c.Get("A1").Traits.Set(traits.Defense, 9)

	if s.Distribution[4] != 100 || s.Traits.Get(traits.Defense) != 3 {
		t.Error("clone shares state with original")
	}
}

func TestNextChildCode(t *testing.T) {
	p := &Species{Code: "A1"}
	tab := NewTable(p, &Species{Code: "A1.1"})
	if got := tab.NextChildCode(p); got != "A1.2" {
		t.Errorf("NextChildCode = %s, want A1.2", got)
	}
	if err := tab.Add(&Species{Code: "A1.1"}); err == nil {
		t.Error("duplicate code accepted")
	}
	if got := tab.NextRootCode("A"); got != "A2" {
		t.Errorf("NextRootCode = %s, want A2", got)
	}
}

func TestRecountAndTiles(t *testing.T) {
	s := &Species{Distribution: map[world.TileID]int64{9: 5, 2: 0, 3: 7}}
	if got := s.RecountPopulation(); got != 12 {
		t.Errorf("population = %d, want 12", got)
	}
	tiles := s.Tiles()
	if len(tiles) != 2 || tiles[0] != 3 || tiles[1] != 9 {
		t.Errorf("Tiles = %v, want [3 9]", tiles)
	}
}

func TestGeneraPrune(t *testing.T) {
	tab := NewTable(
		&Species{Code: "A1", Status: StatusAlive},
		&Species{Code: "B1", Status: StatusExtinct},
	)
	gs := Genera{}
	gs.Ensure("A")
	gs.Ensure("B")
	removed := gs.Prune(tab)
	if len(removed) != 1 || removed[0] != "B" {
		t.Errorf("removed = %v, want [B]", removed)
	}
	if _, ok := gs["A"]; !ok {
		t.Error("living genus pruned")
	}
}
