package progress

import (
	"context"

	"github.com/chainacademy/entitlement-core/internal/domain/shared"
)

// Ledger is the ledger port for completion state.
//
// QueryProgress returns shared.ErrProgressNotFound when the pair has no
// record yet; the caller builds the lazy all-incomplete default. Every other
// error is a transport failure and must collapse into a zeroed record at the
// store boundary.
//
// WriteCompletion performs the single chain state transition this core is
// allowed: marking one unit complete. It is the caller's job to have
// authorized the write and to not issue it twice concurrently for the same
// (principal, courseID, unitIndex).
type Ledger interface {
	QueryProgress(ctx context.Context, principal shared.Principal, courseID shared.CourseID) (*Record, error)
	WriteCompletion(ctx context.Context, principal shared.Principal, courseID shared.CourseID, unitIndex int) (*Receipt, error)
}
