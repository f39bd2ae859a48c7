package content

import (
	"context"

	"github.com/chainacademy/entitlement-core/internal/domain/shared"
)

// Catalog is the read port for published course content. Units come back
// ordered by UnitIndex, dense from 0. Authoring and upload happen in an
// external flow; this core only reads what is already published.
type Catalog interface {
	CourseUnits(ctx context.Context, courseID shared.CourseID) ([]ContentUnit, error)
}
