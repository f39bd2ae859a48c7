package shared

import (
	"strings"
)

// Principal is an on-chain account identifier. The core treats it as an
// opaque, non-empty string; checksum rules belong to the wallet layer.
type Principal string

// NewPrincipal validates and creates a Principal.
func NewPrincipal(s string) (Principal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", WrapError("shared", "NewPrincipal", ErrEmptyValue, "principal is empty", nil)
	}
	return Principal(s), nil
}

// String returns the principal as a string.
func (p Principal) String() string { return string(p) }

// IsZero reports whether the principal is unset.
func (p Principal) IsZero() bool { return p == "" }

// CourseID identifies a course on the ledger.
type CourseID string

// NewCourseID validates and creates a CourseID.
func NewCourseID(s string) (CourseID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", WrapError("shared", "NewCourseID", ErrEmptyValue, "course id is empty", nil)
	}
	return CourseID(s), nil
}

// String returns the course ID as a string.
func (c CourseID) String() string { return string(c) }

// IsZero reports whether the course ID is unset.
func (c CourseID) IsZero() bool { return c == "" }

// Mode selects the ledger backing at construction time. The source of
// entitlement data is an explicit configuration decision, never inferred
// at call time from a missing client.
type Mode string

const (
	// ModeLive queries the real chain index gateway or indexer database.
	ModeLive Mode = "live"

	// ModeDemo serves synthetic fixtures from an in-memory ledger.
	ModeDemo Mode = "demo"
)

// ParseMode parses a mode string, defaulting to live.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModeDemo)) {
		return ModeDemo
	}
	return ModeLive
}

// Valid reports whether the mode is a known value.
func (m Mode) Valid() bool {
	return m == ModeLive || m == ModeDemo
}
