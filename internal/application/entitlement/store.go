package entitlement

import (
	"context"
	"fmt"

	"github.com/chainacademy/entitlement-core/internal/domain/progress"
	"github.com/chainacademy/entitlement-core/internal/domain/shared"
	"github.com/chainacademy/entitlement-core/pkg/logger"
)

// Store reads and writes per-unit completion state for (principal, course)
// pairs. It has no license knowledge: authorization of completion writes is
// the session's job, and the store assumes the caller already did it.
type Store struct {
	ledger progress.Ledger
	bus    shared.EventPublisher
	log    *logger.Logger
}

// NewStore creates a Store over the given ledger. The bus is optional; when
// set it carries the out-of-band transport error reports.
func NewStore(ledger progress.Ledger, bus shared.EventPublisher, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Default()
	}
	return &Store{ledger: ledger, bus: bus, log: log}
}

// GetProgress returns the completion record for the pair. It never returns
// an error: presentation layers always get a renderable, well-formed value.
//
//   - No record yet: the lazy all-incomplete default sized to totalUnits.
//   - Ledger unreachable: a ZEROED record (TotalUnits=0); the failure goes
//     out of band through the log and the event bus, not into the return
//     value.
func (s *Store) GetProgress(ctx context.Context, principal shared.Principal, courseID shared.CourseID, totalUnits int) progress.Record {
	rec, err := s.ledger.QueryProgress(ctx, principal, courseID)
	if err != nil {
		if shared.IsNotFound(err) {
			return progress.NewRecord(principal, courseID, totalUnits)
		}
		s.reportTransport(principal, courseID, "QueryProgress", err)
		return progress.ZeroRecord(principal, courseID)
	}

	return normalize(*rec, totalUnits)
}

// MarkComplete writes one completion transaction. unitIndex outside
// [0, totalUnits) is an out-of-range error, never silently clamped.
// Idempotence is enforced a layer up: the session never re-issues the write
// for an already-completed unit.
func (s *Store) MarkComplete(ctx context.Context, principal shared.Principal, courseID shared.CourseID, unitIndex, totalUnits int) (*progress.Receipt, error) {
	if unitIndex < 0 || unitIndex >= totalUnits {
		return nil, shared.WrapError("progress", "MarkComplete", shared.ErrOutOfRange,
			fmt.Sprintf("unit index %d outside [0, %d)", unitIndex, totalUnits), nil)
	}

	receipt, err := s.ledger.WriteCompletion(ctx, principal, courseID, unitIndex)
	if err != nil {
		return nil, shared.WrapError("progress", "MarkComplete", shared.ErrTransport, "completion write failed", err)
	}

	s.log.Info("completion written",
		logger.Principal(principal.String()),
		logger.Course(courseID.String()),
		logger.Unit(unitIndex),
		logger.Receipt(receipt.ID),
	)
	return receipt, nil
}

// reportTransport is the out-of-band error channel for failures swallowed
// into safe defaults.
func (s *Store) reportTransport(principal shared.Principal, courseID shared.CourseID, op string, err error) {
	s.log.Error("ledger query failed, returning zeroed progress",
		logger.Principal(principal.String()),
		logger.Course(courseID.String()),
		logger.Operation(op),
		logger.Err(err),
	)
	if s.bus != nil {
		_ = s.bus.Publish(shared.NewTransportErrorEvent(principal.String(), courseID.String(), op, err.Error()))
	}
}

// normalize reconciles a ledger record with the current catalog size. A
// course can gain units after a record was minted; the bitset is extended
// with incomplete entries so unit states stay index-aligned.
func normalize(rec progress.Record, totalUnits int) progress.Record {
	if rec.TotalUnits < totalUnits {
		extended := make([]bool, totalUnits)
		copy(extended, rec.CompletedUnits)
		rec.CompletedUnits = extended
		rec.TotalUnits = totalUnits
	}
	if len(rec.CompletedUnits) < rec.TotalUnits {
		extended := make([]bool, rec.TotalUnits)
		copy(extended, rec.CompletedUnits)
		rec.CompletedUnits = extended
	}
	return rec
}
