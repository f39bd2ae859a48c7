package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chainacademy/entitlement-core/internal/domain/shared"
)

func record(total int, completed ...int) Record {
	rec := NewRecord(shared.Principal("0xabc"), shared.CourseID("course-1"), total)
	for _, idx := range completed {
		rec = rec.WithCompleted(idx)
	}
	return rec
}

func TestPercentComplete_FloorsFractions(t *testing.T) {
	assert.Equal(t, 33, record(3, 0).PercentComplete())
	assert.Equal(t, 66, record(3, 0, 1).PercentComplete())
	assert.Equal(t, 100, record(3, 0, 1, 2).PercentComplete())
	assert.Equal(t, 0, record(0).PercentComplete())
	assert.Equal(t, 16, record(6, 4).PercentComplete())
}

func TestIsCompleted_OutOfRangeReadsIncomplete(t *testing.T) {
	rec := record(2, 0)
	assert.True(t, rec.IsCompleted(0))
	assert.False(t, rec.IsCompleted(1))
	assert.False(t, rec.IsCompleted(-1))
	assert.False(t, rec.IsCompleted(2))
}

func TestWithCompleted_DoesNotMutateReceiver(t *testing.T) {
	orig := record(3)
	updated := orig.WithCompleted(1)

	assert.False(t, orig.IsCompleted(1))
	assert.True(t, updated.IsCompleted(1))
	assert.Equal(t, 0, orig.CompletedCount())
	assert.Equal(t, 1, updated.CompletedCount())
}

func TestZeroRecord_IsRenderable(t *testing.T) {
	rec := ZeroRecord(shared.Principal("0xabc"), shared.CourseID("course-1"))
	assert.Equal(t, 0, rec.TotalUnits)
	assert.Equal(t, 0, rec.PercentComplete())
	assert.NotNil(t, rec.CompletedUnits)
}
