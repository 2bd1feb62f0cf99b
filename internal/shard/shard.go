// Package shard maps owners to cells via a stable hash, and cells to
// scheduler replicas via a static table (spec.md §3 "Cell assignment").
package shard

import "hash/fnv"

// Cell is the owner of a subset of triggers, per a static shard mapping.
type Cell int

// Of computes cell(owner) = f(owner) mod nCells using a stable (FNV-1a) hash.
// f is deliberately not cryptographic: cell assignment only needs to be
// stable and evenly distributed, never secret.
func Of(owner string, nCells int) Cell {
	if nCells <= 0 {
		panic("shard: nCells must be positive")
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(owner))
	return Cell(h.Sum64() % uint64(nCells))
}

// Map is the external static table from cell number to scheduler replica
// address. It never changes at runtime (spec.md Non-goals: no rebalancing).
type Map struct {
	NCells   int
	Replicas map[Cell]string // cell -> scheduler replica address
}

// ReplicaFor returns the replica address owning owner, or ok=false if the
// cell has no configured replica (a static-mapping configuration error).
func (m Map) ReplicaFor(owner string) (addr string, ok bool) {
	c := Of(owner, m.NCells)
	addr, ok = m.Replicas[c]
	return addr, ok
}

// Owns reports whether cell is the configured owner of owner's shard — used
// by a running cell to detect it no longer holds leadership for a trigger
// (spec.md §5 "Leadership").
func (m Map) Owns(owner string, self Cell) bool {
	return Of(owner, m.NCells) == self
}
