package license

import (
	"context"

	"github.com/chainacademy/entitlement-core/internal/domain/shared"
)

// Querier is the ledger query port for licenses. Implementations talk to a
// chain index gateway, an indexer database, or an in-memory demo fixture.
//
// QueryLicense returns shared.ErrLicenseNotFound when the principal holds no
// license for the course. Every other error is a transport failure; callers
// must fail closed (deny access) on it.
type Querier interface {
	QueryLicense(ctx context.Context, principal shared.Principal, courseID shared.CourseID) (*License, error)
}
