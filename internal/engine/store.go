package engine

import "context"

// SnapshotReader loads the last committed state and report.
type SnapshotReader interface {
	LoadState(ctx context.Context) (*State, *TurnReport, error)
}

// ResultWriter persists a completed turn. It runs before the turn is
// committed in memory; an error aborts the commit.
type ResultWriter interface {
	WriteTurn(ctx context.Context, st *State, report *TurnReport) error
}
