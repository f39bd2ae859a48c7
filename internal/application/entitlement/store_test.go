package entitlement

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainacademy/entitlement-core/internal/domain/progress"
	"github.com/chainacademy/entitlement-core/internal/domain/shared"
)

// memLedger is an in-memory progress.Ledger fake with injectable failures.
type memLedger struct {
	mu         sync.Mutex
	record     *progress.Record
	queryErr   error
	writeErr   error
	writeCalls int
	writeDelay time.Duration
}

func (l *memLedger) QueryProgress(ctx context.Context, principal shared.Principal, courseID shared.CourseID) (*progress.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.queryErr != nil {
		return nil, l.queryErr
	}
	if l.record == nil {
		return nil, shared.ErrProgressNotFound
	}
	rec := *l.record
	return &rec, nil
}

func (l *memLedger) WriteCompletion(ctx context.Context, principal shared.Principal, courseID shared.CourseID, unitIndex int) (*progress.Receipt, error) {
	l.mu.Lock()
	l.writeCalls++
	delay := l.writeDelay
	writeErr := l.writeErr
	l.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if writeErr != nil {
		return nil, writeErr
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.record == nil {
		rec := progress.NewRecord(principal, courseID, unitIndex+1)
		l.record = &rec
	}
	updated := l.record.WithCompleted(unitIndex)
	l.record = &updated
	return &progress.Receipt{ID: "rcpt-1", TxHash: "0xdeadbeef", ConfirmedAt: time.Now()}, nil
}

// captureBus records published events.
type captureBus struct {
	mu     sync.Mutex
	events []shared.Event
}

func (b *captureBus) Publish(event shared.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *captureBus) byType(t shared.EventType) []shared.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []shared.Event
	for _, e := range b.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

func TestGetProgress_LazyDefaultWhenNoRecord(t *testing.T) {
	p, c := testPair(t)
	store := NewStore(&memLedger{}, nil, nil)

	rec := store.GetProgress(context.Background(), p, c, 4)

	assert.Equal(t, 4, rec.TotalUnits)
	assert.Equal(t, 0, rec.CompletedCount())
	assert.Len(t, rec.CompletedUnits, 4)
}

func TestGetProgress_ZeroedRecordOnTransportFailure(t *testing.T) {
	p, c := testPair(t)
	bus := &captureBus{}
	store := NewStore(&memLedger{queryErr: shared.ErrLedgerUnavailable}, bus, nil)

	rec := store.GetProgress(context.Background(), p, c, 4)

	assert.Equal(t, 0, rec.TotalUnits)
	assert.Equal(t, 0, rec.CompletedCount())
	assert.NotNil(t, rec.CompletedUnits, "zeroed record must still be renderable")

	// The failure is reported out of band, not in the return value.
	reports := bus.byType(shared.EventTransportError)
	require.Len(t, reports, 1)
}

func TestGetProgress_ExtendsRecordWhenCourseGrew(t *testing.T) {
	p, c := testPair(t)
	old := progress.Record{Principal: p, CourseID: c, CompletedUnits: []bool{true, true}, TotalUnits: 2}
	store := NewStore(&memLedger{record: &old}, nil, nil)

	rec := store.GetProgress(context.Background(), p, c, 5)

	assert.Equal(t, 5, rec.TotalUnits)
	assert.True(t, rec.IsCompleted(0))
	assert.True(t, rec.IsCompleted(1))
	assert.False(t, rec.IsCompleted(4))
	assert.Equal(t, 40, rec.PercentComplete())
}

func TestMarkComplete_OutOfRange(t *testing.T) {
	p, c := testPair(t)
	ledger := &memLedger{}
	store := NewStore(ledger, nil, nil)

	_, err := store.MarkComplete(context.Background(), p, c, 4, 4)
	assert.ErrorIs(t, err, shared.ErrOutOfRange)

	_, err = store.MarkComplete(context.Background(), p, c, -1, 4)
	assert.ErrorIs(t, err, shared.ErrOutOfRange)

	assert.Equal(t, 0, ledger.writeCalls, "range errors never reach the ledger")
}

func TestMarkComplete_WriteFailureIsTransport(t *testing.T) {
	p, c := testPair(t)
	store := NewStore(&memLedger{writeErr: shared.ErrLedgerTimeout}, nil, nil)

	_, err := store.MarkComplete(context.Background(), p, c, 0, 4)
	assert.ErrorIs(t, err, shared.ErrTransport)
}

func TestMarkComplete_SuccessReturnsReceipt(t *testing.T) {
	p, c := testPair(t)
	ledger := &memLedger{}
	store := NewStore(ledger, nil, nil)

	receipt, err := store.MarkComplete(context.Background(), p, c, 2, 4)
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.ID)
	assert.NotEmpty(t, receipt.TxHash)
	assert.Equal(t, 1, ledger.writeCalls)
}

func TestMarkComplete_ThenGetProgressRoundTrip(t *testing.T) {
	p, c := testPair(t)
	ledger := &memLedger{}
	store := NewStore(ledger, nil, nil)

	_, err := store.MarkComplete(context.Background(), p, c, 0, 3)
	require.NoError(t, err)

	rec := store.GetProgress(context.Background(), p, c, 3)
	assert.True(t, rec.IsCompleted(0))
	assert.Equal(t, 1, rec.CompletedCount())
	// 1 of 3 floors to 33.
	assert.Equal(t, 33, rec.PercentComplete())
}
