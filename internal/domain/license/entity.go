// Package license contains the License entity and the ledger query port.
//
// A License is a time-bounded entitlement record minted on chain as proof of
// paid access to a course. The core only ever reads licenses; minting and
// renewal happen in an external purchase flow.
package license

import (
	"time"

	"github.com/chainacademy/entitlement-core/internal/domain/shared"
)

// License is an on-chain entitlement record for one (principal, course) pair.
type License struct {
	// Principal is the holder's account identifier.
	Principal shared.Principal

	// CourseID is the course this license unlocks.
	CourseID shared.CourseID

	// ValidUntil is the expiry timestamp. The instant itself is already
	// expired: validity requires now < ValidUntil.
	ValidUntil time.Time

	// Active reports whether the license has been revoked or suspended
	// on chain. An inactive license never grants access, regardless of
	// ValidUntil.
	Active bool
}

// ValidAt reports whether the license grants access at the given instant.
func (l License) ValidAt(now time.Time) bool {
	return l.Active && now.Before(l.ValidUntil)
}

// Remaining returns the time left until expiry at the given instant.
// Zero or negative means expired.
func (l License) Remaining(now time.Time) time.Duration {
	return l.ValidUntil.Sub(now)
}
