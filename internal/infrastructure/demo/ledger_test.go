package demo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainacademy/entitlement-core/internal/domain/shared"
)

func TestLedger_LicenseGrantAndRevoke(t *testing.T) {
	ctx := context.Background()
	ledger := NewSeededLedger()
	principal := shared.Principal("wallet-demo")
	courseID := shared.CourseID("course-solana-101")

	_, err := ledger.QueryLicense(ctx, principal, courseID)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	ledger.GrantLicense(principal, courseID, time.Hour)
	lic, err := ledger.QueryLicense(ctx, principal, courseID)
	require.NoError(t, err)
	assert.True(t, lic.ValidAt(time.Now()))

	ledger.RevokeLicense(principal, courseID)
	lic, err = ledger.QueryLicense(ctx, principal, courseID)
	require.NoError(t, err)
	assert.False(t, lic.ValidAt(time.Now()))
}

func TestLedger_CompletionWriteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	ledger := NewSeededLedger()
	principal := shared.Principal("wallet-demo")
	courseID := shared.CourseID("course-rust-async")

	first, err := ledger.WriteCompletion(ctx, principal, courseID, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Regexp(t, "^0x[0-9a-f]{64}$", first.TxHash)

	replay, err := ledger.WriteCompletion(ctx, principal, courseID, 0)
	require.NoError(t, err)
	assert.Equal(t, first.ID, replay.ID)

	rec, err := ledger.QueryProgress(ctx, principal, courseID)
	require.NoError(t, err)
	assert.True(t, rec.IsCompleted(0))
	assert.False(t, rec.IsCompleted(1))
}

func TestLedger_ProgressNotFoundBeforeFirstCompletion(t *testing.T) {
	ctx := context.Background()
	ledger := NewSeededLedger()

	_, err := ledger.QueryProgress(ctx, shared.Principal("wallet-demo"), shared.CourseID("course-rust-async"))
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestLedger_CourseUnits(t *testing.T) {
	ctx := context.Background()
	ledger := NewSeededLedger()

	units, err := ledger.CourseUnits(ctx, shared.CourseID("course-solana-101"))
	require.NoError(t, err)
	require.Len(t, units, 4)
	assert.Equal(t, 0, units[0].UnitIndex)

	_, err = ledger.CourseUnits(ctx, shared.CourseID("course-unknown"))
	assert.ErrorIs(t, err, shared.ErrNotFound)
}
