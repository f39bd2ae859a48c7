// Package ledger implements the chain index gateway client. The gateway
// fronts the chain indexer and answers license, completion and catalog
// queries over HTTP; completion writes go through it as relayed
// transactions.
package ledger

import (
	"errors"
	"fmt"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// API RESPONSE WRAPPERS
// ══════════════════════════════════════════════════════════════════════════════

// APIResponse represents the gateway's generic response envelope.
type APIResponse[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Error   string `json:"error,omitempty"`
	Meta    *Meta  `json:"meta,omitempty"`
}

// Meta contains pagination and indexer metadata.
type Meta struct {
	Total       int    `json:"total,omitempty"`
	Page        int    `json:"page,omitempty"`
	PerPage     int    `json:"per_page,omitempty"`
	IndexedSlot uint64 `json:"indexed_slot,omitempty"`
	NextCursor  string `json:"next_cursor,omitempty"`
}

// ErrNilDTO is returned when mapping is attempted on a nil DTO.
var ErrNilDTO = errors.New("nil DTO")

// ══════════════════════════════════════════════════════════════════════════════
// LICENSE DTOs
// ══════════════════════════════════════════════════════════════════════════════

// LicenseDTO is a course license as the gateway reports it.
type LicenseDTO struct {
	// Principal is the holder's account address.
	Principal string `json:"principal"`

	// CourseID identifies the licensed course.
	CourseID string `json:"course_id"`

	// TokenID is the on-chain token backing the license.
	TokenID string `json:"token_id,omitempty"`

	// Active is false for revoked or burned licenses.
	Active bool `json:"active"`

	// ValidUntil is the expiry timestamp.
	ValidUntil time.Time `json:"valid_until"`

	// IssuedAt is when the license was minted.
	IssuedAt time.Time `json:"issued_at"`

	// TxHash is the mint transaction.
	TxHash string `json:"tx_hash,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS DTOs
// ══════════════════════════════════════════════════════════════════════════════

// ProgressDTO is the indexed completion state for one (principal, course).
type ProgressDTO struct {
	Principal string `json:"principal"`
	CourseID  string `json:"course_id"`

	// TotalUnits is the unit count the indexer knows for the course.
	TotalUnits int `json:"total_units"`

	// CompletedIndexes lists the unit indexes with confirmed completions.
	CompletedIndexes []int `json:"completed_indexes"`

	// UpdatedAt is the last indexed change.
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// CompletionRequestDTO is the body of a completion write.
type CompletionRequestDTO struct {
	Principal string `json:"principal"`
	CourseID  string `json:"course_id"`
	UnitIndex int    `json:"unit_index"`

	// IdempotencyKey dedupes replays of the same completion on the
	// gateway side.
	IdempotencyKey string `json:"idempotency_key"`
}

// ReceiptDTO acknowledges a relayed completion transaction.
type ReceiptDTO struct {
	ReceiptID   string    `json:"receipt_id"`
	TxHash      string    `json:"tx_hash"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG DTOs
// ══════════════════════════════════════════════════════════════════════════════

// CourseDTO is a published course with its ordered units.
type CourseDTO struct {
	ID    string    `json:"id"`
	Title string    `json:"title"`
	Units []UnitDTO `json:"units"`
}

// UnitDTO is one content unit within a course.
type UnitDTO struct {
	Index           int    `json:"index"`
	Title           string `json:"title"`
	ContentID       string `json:"content_id"`
	Kind            string `json:"kind"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR DTOs
// ══════════════════════════════════════════════════════════════════════════════

// APIErrorDTO is the gateway's error body.
type APIErrorDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

// Error implements the error interface.
func (e *APIErrorDTO) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway error %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("gateway error: %s", e.Message)
}
