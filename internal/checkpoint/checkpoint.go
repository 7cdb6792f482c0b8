// Package checkpoint implements the total order over EVM log positions used
// to merge multiple chains into one logical event stream.
package checkpoint

import "fmt"

// LogIndex is the log-index component of a Checkpoint. A nil value represents
// "end of block": it compares greater than any concrete index when used as an
// inclusive upper bound, and less than any concrete index when used as a
// lower bound. Callers pick which reading applies via Bound.
type LogIndex = *uint32

// Checkpoint totally orders events across chains as
// (blockTimestamp, chainId, blockNumber, logIndex).
type Checkpoint struct {
	BlockTimestamp uint64
	ChainID        uint64
	BlockNumber    uint64
	LogIndex       LogIndex
}

// Zero is the all-zero checkpoint, the lower bound of every chain's state.
var Zero = Checkpoint{}

// Max saturates every field; the upper bound no real event can reach.
var Max = Checkpoint{
	BlockTimestamp: ^uint64(0),
	ChainID:        ^uint64(0),
	BlockNumber:    ^uint64(0),
	LogIndex:       ptr(^uint32(0)),
}

func ptr(v uint32) *uint32 {
	return &v
}

// New builds a Checkpoint with a concrete log index.
func New(blockTimestamp, chainID, blockNumber uint64, logIndex uint32) Checkpoint {
	return Checkpoint{
		BlockTimestamp: blockTimestamp,
		ChainID:        chainID,
		BlockNumber:    blockNumber,
		LogIndex:       ptr(logIndex),
	}
}

// NewEndOfBlock builds a Checkpoint with no concrete log index, representing
// "end of this block" when used as an inclusive upper bound.
func NewEndOfBlock(blockTimestamp, chainID, blockNumber uint64) Checkpoint {
	return Checkpoint{
		BlockTimestamp: blockTimestamp,
		ChainID:        chainID,
		BlockNumber:    blockNumber,
		LogIndex:       nil,
	}
}

// Bound tells Compare how to interpret a nil LogIndex on either side.
type Bound int

const (
	// AsLowerBound treats a nil LogIndex as less than any concrete index.
	AsLowerBound Bound = iota
	// AsUpperBound treats a nil LogIndex as greater than any concrete index.
	AsUpperBound
)

// logIndexRank resolves a LogIndex to a comparable rank given how it is
// being used (as a lower or upper bound).
func logIndexRank(li LogIndex, b Bound) int64 {
	if li != nil {
		return int64(*li)
	}
	if b == AsUpperBound {
		return int64(^uint32(0)) + 1
	}
	return -1
}

// Compare orders a against b lexicographically over
// (blockTimestamp, chainId, blockNumber, logIndex). When either side has a
// nil LogIndex, aBound/bBound say whether that side is being read as a lower
// or upper bound. Returns -1, 0, or 1.
func Compare(a, b Checkpoint, aBound, bBound Bound) int {
	if a.BlockTimestamp != b.BlockTimestamp {
		return cmpUint64(a.BlockTimestamp, b.BlockTimestamp)
	}
	if a.ChainID != b.ChainID {
		return cmpUint64(a.ChainID, b.ChainID)
	}
	if a.BlockNumber != b.BlockNumber {
		return cmpUint64(a.BlockNumber, b.BlockNumber)
	}
	ar := logIndexRank(a.LogIndex, aBound)
	br := logIndexRank(b.LogIndex, bBound)
	switch {
	case ar < br:
		return -1
	case ar > br:
		return 1
	default:
		return 0
	}
}

// CompareConcrete compares two checkpoints that both carry a concrete
// LogIndex (the common case: real decoded events always have one). Panics if
// either side is end-of-block, since that ambiguity requires Compare with an
// explicit Bound.
func CompareConcrete(a, b Checkpoint) int {
	if a.LogIndex == nil || b.LogIndex == nil {
		panic("checkpoint: CompareConcrete requires concrete log indexes; use Compare with a Bound")
	}
	return Compare(a, b, AsLowerBound, AsLowerBound)
}

func cmpUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Less reports whether a sorts strictly before b, both read as lower bounds.
func Less(a, b Checkpoint) bool {
	return Compare(a, b, AsLowerBound, AsLowerBound) < 0
}

// Min returns the lexicographically smaller of a and b (both as lower
// bounds).
func Min(a, b Checkpoint) Checkpoint {
	if Less(b, a) {
		return b
	}
	return a
}

// Max2 returns the lexicographically larger of a and b (both as lower
// bounds).
func Max2(a, b Checkpoint) Checkpoint {
	if Less(a, b) {
		return b
	}
	return a
}

func (c Checkpoint) String() string {
	idx := "end"
	if c.LogIndex != nil {
		idx = fmt.Sprintf("%d", *c.LogIndex)
	}
	return fmt.Sprintf("(%d,%d,%d,%s)", c.BlockTimestamp, c.ChainID, c.BlockNumber, idx)
}

// IsZero reports whether c equals Zero.
func (c Checkpoint) IsZero() bool {
	return c.BlockTimestamp == 0 && c.ChainID == 0 && c.BlockNumber == 0 &&
		(c.LogIndex == nil || *c.LogIndex == 0)
}
