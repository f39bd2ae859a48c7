// Package progress contains the per-course completion record and the ledger
// port that reads and writes it.
package progress

import (
	"time"

	"github.com/chainacademy/entitlement-core/internal/domain/shared"
)

// Record is the completion state of one (principal, course) pair. There is
// exactly one record per pair; it is created lazily on first read and
// defaults to all-incomplete.
type Record struct {
	// Principal is the holder's account identifier.
	Principal shared.Principal

	// CourseID is the course this record tracks.
	CourseID shared.CourseID

	// CompletedUnits is the ordered completion bitset, indexed by
	// ContentUnit.UnitIndex.
	CompletedUnits []bool

	// TotalUnits is the number of units in the course at read time.
	TotalUnits int
}

// NewRecord returns the lazy all-incomplete default for a course with
// totalUnits units.
func NewRecord(principal shared.Principal, courseID shared.CourseID, totalUnits int) Record {
	if totalUnits < 0 {
		totalUnits = 0
	}
	return Record{
		Principal:      principal,
		CourseID:       courseID,
		CompletedUnits: make([]bool, totalUnits),
		TotalUnits:     totalUnits,
	}
}

// ZeroRecord is the safe default handed to presentation layers when the
// ledger is unreachable: well-formed, renderable, all zeroes.
func ZeroRecord(principal shared.Principal, courseID shared.CourseID) Record {
	return Record{
		Principal:      principal,
		CourseID:       courseID,
		CompletedUnits: []bool{},
		TotalUnits:     0,
	}
}

// IsCompleted reports whether the unit at idx is completed. Out-of-range
// indexes read as incomplete.
func (r Record) IsCompleted(idx int) bool {
	if idx < 0 || idx >= len(r.CompletedUnits) {
		return false
	}
	return r.CompletedUnits[idx]
}

// CompletedCount returns the number of completed units.
func (r Record) CompletedCount() int {
	n := 0
	for _, done := range r.CompletedUnits {
		if done {
			n++
		}
	}
	return n
}

// PercentComplete derives the integer completion percentage. The rounding
// rule is floor: completedCount*100/totalUnits with integer division.
func (r Record) PercentComplete() int {
	if r.TotalUnits <= 0 {
		return 0
	}
	return r.CompletedCount() * 100 / r.TotalUnits
}

// WithCompleted returns a copy of the record with the unit at idx marked
// complete. The receiver is not mutated; sessions swap whole snapshots.
func (r Record) WithCompleted(idx int) Record {
	out := Record{
		Principal:      r.Principal,
		CourseID:       r.CourseID,
		TotalUnits:     r.TotalUnits,
		CompletedUnits: make([]bool, len(r.CompletedUnits)),
	}
	copy(out.CompletedUnits, r.CompletedUnits)
	if idx >= 0 && idx < len(out.CompletedUnits) {
		out.CompletedUnits[idx] = true
	}
	return out
}

// Receipt is the ledger's acknowledgement of a completion write.
type Receipt struct {
	// ID is a locally assigned identifier for correlation.
	ID string

	// TxHash is the chain transaction hash, or the outbox/fixture
	// surrogate in non-gateway implementations.
	TxHash string

	// ConfirmedAt is when the write was acknowledged.
	ConfirmedAt time.Time
}
