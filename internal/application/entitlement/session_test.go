package entitlement

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainacademy/entitlement-core/internal/application/resolve"
	"github.com/chainacademy/entitlement-core/internal/domain/content"
	"github.com/chainacademy/entitlement-core/internal/domain/license"
	"github.com/chainacademy/entitlement-core/internal/domain/progress"
	"github.com/chainacademy/entitlement-core/internal/domain/shared"
)

// licLedger is a mutable license.Querier fake.
type licLedger struct {
	mu    sync.Mutex
	lic   *license.License
	err   error
	calls int
}

func (l *licLedger) QueryLicense(ctx context.Context, principal shared.Principal, courseID shared.CourseID) (*license.License, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	if l.lic == nil {
		return nil, shared.ErrLicenseNotFound
	}
	lic := *l.lic
	return &lic, nil
}

func (l *licLedger) set(lic *license.License, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lic, l.err = lic, err
}

// stubOptimized always answers with a fixed edge URL.
type stubOptimized struct{}

func (stubOptimized) Resolve(ctx context.Context, canonicalID string, kind content.MediaKind) (string, error) {
	return "https://edge.example/v/" + canonicalID, nil
}

func courseUnits(c shared.CourseID, n int) []content.ContentUnit {
	units := make([]content.ContentUnit, n)
	for i := range units {
		units[i] = content.ContentUnit{
			CourseID:        c,
			UnitIndex:       i,
			Title:           fmt.Sprintf("Unit %d", i+1),
			ContentID:       fmt.Sprintf("ipfs://cid%d", i),
			Kind:            content.KindVideo,
			DurationSeconds: 300,
		}
	}
	return units
}

type sessionFixture struct {
	session  *Session
	licenses *licLedger
	ledger   *memLedger
	bus      *captureBus
}

func newSessionFixture(t *testing.T, licenses *licLedger, ledger *memLedger, opts ...VerifierOption) *sessionFixture {
	t.Helper()
	p, c := testPair(t)
	bus := &captureBus{}

	vopts := append([]VerifierOption{WithRecheckRetrier(fastRecheck())}, opts...)
	verifier := NewVerifier(licenses, nil, vopts...)
	store := NewStore(ledger, bus, nil)
	resolver := resolve.New(stubOptimized{}, resolve.Config{Bus: bus})

	sess, err := NewSession(SessionConfig{
		Principal: p,
		CourseID:  c,
		Units:     courseUnits(c, 3),
		Verifier:  verifier,
		Store:     store,
		Resolver:  resolver,
		Bus:       bus,
	})
	require.NoError(t, err)

	return &sessionFixture{session: sess, licenses: licenses, ledger: ledger, bus: bus}
}

func holderLicense(t *testing.T) *license.License {
	t.Helper()
	p, c := testPair(t)
	return &license.License{Principal: p, CourseID: c, ValidUntil: time.Now().Add(time.Hour), Active: true}
}

func TestSession_StartReady(t *testing.T) {
	p, c := testPair(t)
	rec := progress.NewRecord(p, c, 3).WithCompleted(1)
	f := newSessionFixture(t, &licLedger{lic: holderLicense(t)}, &memLedger{record: &rec})

	require.NoError(t, f.session.Start(context.Background()))

	snap := f.session.State()
	assert.Equal(t, StateReady, snap.State)
	assert.True(t, snap.LicenseValid)
	assert.Equal(t, []UnitState{UnitUnlocked, UnitCompleted, UnitUnlocked}, snap.Units)
	assert.Equal(t, 33, snap.Progress.PercentComplete())
}

func TestSession_StartDeniedWithoutLicense(t *testing.T) {
	f := newSessionFixture(t, &licLedger{}, &memLedger{})

	require.NoError(t, f.session.Start(context.Background()))

	snap := f.session.State()
	assert.Equal(t, StateAccessDenied, snap.State)
	assert.Equal(t, []UnitState{UnitLocked, UnitLocked, UnitLocked}, snap.Units)

	_, err := f.session.ResolveUnitMedia(context.Background(), 0)
	assert.ErrorIs(t, err, shared.ErrAccessDenied)

	err = f.session.RequestCompletion(context.Background(), 0)
	assert.ErrorIs(t, err, shared.ErrAccessDenied)
}

func TestSession_StartFailsClosedOnTransportError(t *testing.T) {
	f := newSessionFixture(t,
		&licLedger{err: shared.ErrLedgerUnavailable},
		&memLedger{queryErr: shared.ErrLedgerUnavailable},
	)

	err := f.session.Start(context.Background())
	require.Error(t, err, "a denial caused by transport surfaces as a recoverable error")
	assert.ErrorIs(t, err, shared.ErrTransport)

	snap := f.session.State()
	assert.Equal(t, StateAccessDenied, snap.State)
	assert.Equal(t, 0, snap.Progress.TotalUnits, "progress zeroed when the ledger is unreachable")
}

func TestSession_RequestCompletion(t *testing.T) {
	f := newSessionFixture(t, &licLedger{lic: holderLicense(t)}, &memLedger{})
	require.NoError(t, f.session.Start(context.Background()))

	require.NoError(t, f.session.RequestCompletion(context.Background(), 0))

	snap := f.session.State()
	assert.Equal(t, UnitCompleted, snap.Units[0])
	assert.Equal(t, 1, f.ledger.writeCalls)
	assert.Equal(t, 33, snap.Progress.PercentComplete())

	completed := f.bus.byType(shared.EventUnitCompleted)
	require.Len(t, completed, 1)
}

func TestSession_CompletionIsIdempotent(t *testing.T) {
	f := newSessionFixture(t, &licLedger{lic: holderLicense(t)}, &memLedger{})
	require.NoError(t, f.session.Start(context.Background()))

	require.NoError(t, f.session.RequestCompletion(context.Background(), 1))
	require.NoError(t, f.session.RequestCompletion(context.Background(), 1))

	assert.Equal(t, 1, f.ledger.writeCalls, "a completed unit never re-issues the write")
	assert.Equal(t, UnitCompleted, f.session.State().Units[1])
}

func TestSession_ConcurrentCompletionSingleWrite(t *testing.T) {
	f := newSessionFixture(t, &licLedger{lic: holderLicense(t)}, &memLedger{writeDelay: 30 * time.Millisecond})
	require.NoError(t, f.session.Start(context.Background()))

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			errs <- f.session.RequestCompletion(context.Background(), 0)
		}()
	}

	first, second := <-errs, <-errs
	for _, err := range []error{first, second} {
		if err != nil {
			assert.ErrorIs(t, err, shared.ErrCompletionInProgress)
		}
	}

	assert.Equal(t, 1, f.ledger.writeCalls, "exactly one ledger write for the pair")
	assert.Equal(t, UnitCompleted, f.session.State().Units[0])
}

func TestSession_CompletionOutOfRange(t *testing.T) {
	f := newSessionFixture(t, &licLedger{lic: holderLicense(t)}, &memLedger{})
	require.NoError(t, f.session.Start(context.Background()))

	assert.ErrorIs(t, f.session.RequestCompletion(context.Background(), 3), shared.ErrOutOfRange)
	assert.ErrorIs(t, f.session.RequestCompletion(context.Background(), -1), shared.ErrOutOfRange)
	assert.Equal(t, 0, f.ledger.writeCalls)
}

func TestSession_CompletionWriteFailureIsRetryable(t *testing.T) {
	ledger := &memLedger{writeErr: shared.ErrLedgerTimeout}
	f := newSessionFixture(t, &licLedger{lic: holderLicense(t)}, ledger)
	require.NoError(t, f.session.Start(context.Background()))

	err := f.session.RequestCompletion(context.Background(), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrTransport)
	assert.Equal(t, UnitUnlocked, f.session.State().Units[0], "failed write releases the in-flight marker")

	// The retry succeeds once the ledger recovers.
	ledger.mu.Lock()
	ledger.writeErr = nil
	ledger.mu.Unlock()
	require.NoError(t, f.session.RequestCompletion(context.Background(), 0))
	assert.Equal(t, UnitCompleted, f.session.State().Units[0])
}

func TestSession_CompletionDeniedAfterLicenseExpiry(t *testing.T) {
	var nowNanos atomic.Int64
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	nowNanos.Store(start.UnixNano())
	clock := func() time.Time { return time.Unix(0, nowNanos.Load()) }

	p, c := testPair(t)
	lic := &license.License{Principal: p, CourseID: c, ValidUntil: start.Add(time.Minute), Active: true}
	f := newSessionFixture(t, &licLedger{lic: lic}, &memLedger{}, WithClock(clock))
	require.NoError(t, f.session.Start(context.Background()))
	require.Equal(t, StateReady, f.session.State().State)

	// The license expires between start and the completion request.
	nowNanos.Store(start.Add(2 * time.Minute).UnixNano())

	err := f.session.RequestCompletion(context.Background(), 0)
	assert.ErrorIs(t, err, shared.ErrAccessDenied)
	assert.Equal(t, 0, f.ledger.writeCalls, "no write on a stale license")
	assert.Equal(t, StateAccessDenied, f.session.State().State)
}

func TestSession_RefreshRecoversAfterPurchase(t *testing.T) {
	licenses := &licLedger{}
	f := newSessionFixture(t, licenses, &memLedger{})
	require.NoError(t, f.session.Start(context.Background()))
	require.Equal(t, StateAccessDenied, f.session.State().State)

	licenses.set(holderLicense(t), nil)

	require.NoError(t, f.session.Refresh(context.Background()))
	snap := f.session.State()
	assert.Equal(t, StateReady, snap.State)
	assert.Equal(t, []UnitState{UnitUnlocked, UnitUnlocked, UnitUnlocked}, snap.Units)
}

func TestSession_RefreshPreservesInFlightUnit(t *testing.T) {
	f := newSessionFixture(t, &licLedger{lic: holderLicense(t)}, &memLedger{writeDelay: 150 * time.Millisecond})
	require.NoError(t, f.session.Start(context.Background()))

	done := make(chan error, 1)
	go func() { done <- f.session.RequestCompletion(context.Background(), 2) }()

	require.Eventually(t, func() bool {
		return f.session.State().Units[2] == UnitInFlight
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, f.session.Refresh(context.Background()))
	assert.Equal(t, UnitInFlight, f.session.State().Units[2], "refresh never transitions an in-flight unit")

	require.NoError(t, <-done)
	assert.Equal(t, UnitCompleted, f.session.State().Units[2])
}

func TestSession_CancelledStartDiscardsResults(t *testing.T) {
	f := newSessionFixture(t, &licLedger{lic: holderLicense(t)}, &memLedger{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.session.Start(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateLoading, f.session.State().State, "a torn-down load never mutates state")
}

func TestSession_ResolveUnitMedia(t *testing.T) {
	f := newSessionFixture(t, &licLedger{lic: holderLicense(t)}, &memLedger{})
	require.NoError(t, f.session.Start(context.Background()))

	resolved, err := f.session.ResolveUnitMedia(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "https://edge.example/v/cid1", resolved.URL)
	assert.True(t, resolved.Tier.Optimized)

	_, err = f.session.ResolveUnitMedia(context.Background(), 9)
	assert.ErrorIs(t, err, shared.ErrOutOfRange)
}

func TestNewSession_RejectsSparseUnits(t *testing.T) {
	p, c := testPair(t)
	units := courseUnits(c, 2)
	units[1].UnitIndex = 5

	_, err := NewSession(SessionConfig{
		Principal: p,
		CourseID:  c,
		Units:     units,
		Verifier:  NewVerifier(&licLedger{}, nil),
		Store:     NewStore(&memLedger{}, nil, nil),
		Resolver:  resolve.New(stubOptimized{}, resolve.Config{}),
	})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestManager_GetOrCreateAndPurchaseRefresh(t *testing.T) {
	p, c := testPair(t)
	licenses := &licLedger{}
	ledger := &memLedger{}
	bus := &captureBus{}

	catalog := catalogStub{units: courseUnits(c, 3)}
	mgr := NewManager(catalog,
		NewVerifier(licenses, nil, WithRecheckRetrier(fastRecheck())),
		NewStore(ledger, bus, nil),
		resolve.New(stubOptimized{}, resolve.Config{}),
		bus, nil)

	sess, err := mgr.Session(context.Background(), p, c)
	require.NoError(t, err)
	assert.Equal(t, StateAccessDenied, sess.State().State)

	again, err := mgr.Session(context.Background(), p, c)
	require.NoError(t, err)
	assert.Same(t, sess, again, "one live session per pair")

	// An external purchase flow lands and the bus handler reconciles.
	licenses.set(holderLicense(t), nil)
	require.NoError(t, mgr.HandleLicensePurchased(
		shared.NewLicensePurchasedEvent(p.String(), c.String(), "0xfeed")))

	assert.Equal(t, StateReady, sess.State().State)
}

type catalogStub struct {
	units []content.ContentUnit
}

func (s catalogStub) CourseUnits(ctx context.Context, courseID shared.CourseID) ([]content.ContentUnit, error) {
	return s.units, nil
}
