// Package ledger implements the chain index gateway client.
package ledger

import (
	"fmt"

	"github.com/chainacademy/entitlement-core/internal/domain/content"
	"github.com/chainacademy/entitlement-core/internal/domain/license"
	"github.com/chainacademy/entitlement-core/internal/domain/progress"
	"github.com/chainacademy/entitlement-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAPPER - DTO to domain entity transformations
// ══════════════════════════════════════════════════════════════════════════════

// Mapper transforms gateway DTOs into domain entities. It is the
// anti-corruption layer between the gateway's wire shapes and the domain:
// gateway schema changes stop here.
type Mapper struct{}

// NewMapper creates a new Mapper instance.
func NewMapper() *Mapper {
	return &Mapper{}
}

// LicenseFromDTO converts a LicenseDTO to the domain License.
func (m *Mapper) LicenseFromDTO(dto *LicenseDTO) (*license.License, error) {
	if dto == nil {
		return nil, ErrNilDTO
	}
	principal, err := shared.NewPrincipal(dto.Principal)
	if err != nil {
		return nil, fmt.Errorf("map license: %w", err)
	}
	courseID, err := shared.NewCourseID(dto.CourseID)
	if err != nil {
		return nil, fmt.Errorf("map license: %w", err)
	}

	return &license.License{
		Principal:  principal,
		CourseID:   courseID,
		ValidUntil: dto.ValidUntil,
		Active:     dto.Active,
	}, nil
}

// RecordFromDTO converts a ProgressDTO to the domain Record. Completed
// indexes outside the reported unit count are dropped rather than growing
// the bitset past the course.
func (m *Mapper) RecordFromDTO(dto *ProgressDTO) (*progress.Record, error) {
	if dto == nil {
		return nil, ErrNilDTO
	}
	principal, err := shared.NewPrincipal(dto.Principal)
	if err != nil {
		return nil, fmt.Errorf("map progress: %w", err)
	}
	courseID, err := shared.NewCourseID(dto.CourseID)
	if err != nil {
		return nil, fmt.Errorf("map progress: %w", err)
	}

	rec := progress.NewRecord(principal, courseID, dto.TotalUnits)
	for _, idx := range dto.CompletedIndexes {
		if idx >= 0 && idx < dto.TotalUnits {
			rec.CompletedUnits[idx] = true
		}
	}
	return &rec, nil
}

// ReceiptFromDTO converts a ReceiptDTO to the domain Receipt.
func (m *Mapper) ReceiptFromDTO(dto *ReceiptDTO) (*progress.Receipt, error) {
	if dto == nil {
		return nil, ErrNilDTO
	}
	return &progress.Receipt{
		ID:          dto.ReceiptID,
		TxHash:      dto.TxHash,
		ConfirmedAt: dto.ConfirmedAt,
	}, nil
}

// UnitsFromDTO converts a CourseDTO's units to ordered domain ContentUnits.
// The gateway is expected to return them dense and ordered; violations are
// rejected so sessions never see a sparse course.
func (m *Mapper) UnitsFromDTO(dto *CourseDTO) ([]content.ContentUnit, error) {
	if dto == nil {
		return nil, ErrNilDTO
	}
	courseID, err := shared.NewCourseID(dto.ID)
	if err != nil {
		return nil, fmt.Errorf("map course: %w", err)
	}

	units := make([]content.ContentUnit, 0, len(dto.Units))
	for i, u := range dto.Units {
		if u.Index != i {
			return nil, shared.WrapError("ledger", "Parse", shared.ErrInvalidInput,
				fmt.Sprintf("course %s: unit index %d at position %d", dto.ID, u.Index, i), nil)
		}
		unit := content.ContentUnit{
			CourseID:        courseID,
			UnitIndex:       u.Index,
			Title:           u.Title,
			ContentID:       u.ContentID,
			Kind:            content.MediaKind(u.Kind),
			DurationSeconds: u.DurationSeconds,
		}
		if err := unit.Validate(); err != nil {
			return nil, fmt.Errorf("map course %s unit %d: %w", dto.ID, i, err)
		}
		units = append(units, unit)
	}
	return units, nil
}
