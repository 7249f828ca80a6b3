package speciation

import (
	"log/slog"

	"github.com/talgya/evo-world/internal/species"
)

// Hybridizer reports whether two species can still interbreed.
type Hybridizer interface {
	CanHybridize(a, b *species.Species) bool
}

// Lifecycle event kinds.
const (
	KindPromoted   = "promoted"
	KindReabsorbed = "reabsorbed"
)

// LifecycleEvent records a subspecies reaching its promotion turn.
type LifecycleEvent struct {
	Code       species.Code `json:"code"`
	Parent     species.Code `json:"parent"`
	Kind       string       `json:"kind"`
	Population int64        `json:"population"`
}

// swampedShare is the fraction of a subspecies' population that must live
// on tiles where its parent outnumbers it for gene flow to reabsorb it.
const swampedShare = 0.5

// Lifecycle promotes subspecies whose promotion turn has come. A subspecies
// still able to hybridize with a living parent that outnumbers it across
// most of its range is reabsorbed instead: its population moves into the
// parent and its status becomes split.
func (e *Engine) Lifecycle(tbl *species.Table, h Hybridizer, turn int) []LifecycleEvent {
	var events []LifecycleEvent
	for _, sp := range tbl.Living() {
		if !sp.Subspecies || turn < sp.PromoteAtTurn {
			continue
		}
		parent := tbl.Get(sp.ParentCode)
		if parent != nil && parent.Alive() && h.CanHybridize(sp, parent) && swamped(sp, parent) {
			moved := sp.Population
			for id, n := range sp.Distribution {
				parent.Distribution[id] += n
			}
			clear(sp.Distribution)
			sp.Population = 0
			sp.Status = species.StatusSplit
			sp.Subspecies = false
			parent.RecountPopulation()
			events = append(events, LifecycleEvent{Code: sp.Code, Parent: parent.Code, Kind: KindReabsorbed, Population: moved})
			slog.Info("subspecies reabsorbed", "code", sp.Code, "parent", parent.Code, "population", moved)
			continue
		}
		sp.Subspecies = false
		events = append(events, LifecycleEvent{Code: sp.Code, Parent: sp.ParentCode, Kind: KindPromoted, Population: sp.Population})
		slog.Info("subspecies promoted", "code", sp.Code, "population", sp.Population)
	}
	return events
}

func swamped(child, parent *species.Species) bool {
	if child.Population <= 0 {
		return false
	}
	var under int64
	for id, n := range child.Distribution {
		if parent.Distribution[id] > n {
			under += n
		}
	}
	return float64(under)/float64(child.Population) >= swampedShare
}
