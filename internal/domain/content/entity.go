// Package content contains the ContentUnit entity and resolution result
// types. Content units are immutable once published; an external authoring
// flow creates them and the core only reads.
package content

import (
	"fmt"
	"strings"

	"github.com/chainacademy/entitlement-core/internal/domain/shared"
)

// MediaKind describes the media type of a content unit. The optimized
// resolution service uses it to pick a delivery pipeline.
type MediaKind string

const (
	KindVideo    MediaKind = "video"
	KindAudio    MediaKind = "audio"
	KindDocument MediaKind = "document"
)

// Valid reports whether the kind is a known value.
func (k MediaKind) Valid() bool {
	switch k {
	case KindVideo, KindAudio, KindDocument:
		return true
	}
	return false
}

// NoContentPrefix marks reserved sentinel identifiers ("no content
// available"). An identifier like "placeholder-video-content" means the
// authoring flow has not attached real media yet; resolving it is a distinct
// outcome from a resolution failure.
const NoContentPrefix = "placeholder-"

// ContentUnit is one playable unit of a course. UnitIndex is 0-based and
// meaningful: it defines navigation order and the completion bit position.
type ContentUnit struct {
	CourseID        shared.CourseID
	UnitIndex       int
	Title           string
	ContentID       string // opaque content-addressed identifier, may carry a scheme:// prefix
	Kind            MediaKind
	DurationSeconds int
}

// Validate checks the invariants of a published unit.
func (u ContentUnit) Validate() error {
	if u.CourseID.IsZero() {
		return shared.WrapError("content", "Validate", shared.ErrEmptyValue, "course id is empty", nil)
	}
	if u.UnitIndex < 0 {
		return shared.WrapError("content", "Validate", shared.ErrOutOfRange, "unit index is negative", nil)
	}
	if strings.TrimSpace(u.ContentID) == "" {
		return shared.WrapError("content", "Validate", shared.ErrEmptyValue, "content id is empty", nil)
	}
	if !u.Kind.Valid() {
		return shared.WrapError("content", "Validate", shared.ErrInvalidInput, fmt.Sprintf("unknown media kind %q", u.Kind), nil)
	}
	return nil
}

// SourceTier identifies which resolution path produced a usable URL.
type SourceTier struct {
	// Optimized is true when the optimized resolution service answered.
	Optimized bool

	// Gateway is the index into the fallback gateway list. Meaningful
	// only when Optimized is false.
	Gateway int
}

// TierOptimized is the tier for optimized-service results.
func TierOptimized() SourceTier { return SourceTier{Optimized: true} }

// TierFallback is the tier for the n-th fallback gateway.
func TierFallback(n int) SourceTier { return SourceTier{Gateway: n} }

// String renders the tier for logs.
func (t SourceTier) String() string {
	if t.Optimized {
		return "optimized"
	}
	return fmt.Sprintf("fallback(%d)", t.Gateway)
}

// ResolvedContent is the ephemeral result of one resolution request. It is
// never persisted and is recomputed per request.
type ResolvedContent struct {
	// CanonicalID is the identifier with any scheme prefix stripped.
	CanonicalID string

	// URL is the playable network location. Empty only for the
	// no-content result.
	URL string

	// Tier records which source produced the URL.
	Tier SourceTier

	noContent bool
}

// NoContent is the designated "no content available" result.
func NoContent() ResolvedContent {
	return ResolvedContent{noContent: true}
}

// IsNoContent reports whether this is the designated no-content result.
func (r ResolvedContent) IsNoContent() bool { return r.noContent }

// CanonicalIdentifier strips any scheme:// prefix from a raw identifier.
func CanonicalIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if i := strings.Index(identifier, "://"); i >= 0 {
		return identifier[i+len("://"):]
	}
	return identifier
}

// IsNoContentIdentifier reports whether the identifier is a reserved
// sentinel meaning "no content available".
func IsNoContentIdentifier(identifier string) bool {
	return strings.HasPrefix(CanonicalIdentifier(identifier), NoContentPrefix)
}
