package entitlement

import (
	"context"
	"fmt"
	"sync"

	"github.com/chainacademy/entitlement-core/internal/application/resolve"
	"github.com/chainacademy/entitlement-core/internal/domain/content"
	"github.com/chainacademy/entitlement-core/internal/domain/progress"
	"github.com/chainacademy/entitlement-core/internal/domain/shared"
	"github.com/chainacademy/entitlement-core/pkg/logger"
)

// State is the top-level session state.
type State int

const (
	// StateLoading is the initial state, before license and progress have
	// been joined.
	StateLoading State = iota

	// StateAccessDenied is terminal for the session's lifetime: no action
	// is possible except re-entry from the start (Refresh).
	StateAccessDenied

	// StateReady means the license checked out and per-unit states are
	// derived and actionable.
	StateReady
)

// String returns the state name for logs and snapshots.
func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateAccessDenied:
		return "access_denied"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// UnitState is the per-content-unit sub-state within a Ready session.
type UnitState int

const (
	// UnitLocked: no valid license covers this unit.
	UnitLocked UnitState = iota

	// UnitUnlocked: license valid, unit not completed.
	UnitUnlocked

	// UnitInFlight: a completion write is outstanding. The marker is set
	// before the write is issued, so a concurrent second request is
	// rejected instead of racing a duplicate write.
	UnitInFlight

	// UnitCompleted: completed on the ledger. Terminal per unit; there is
	// no transition back to UnitUnlocked.
	UnitCompleted
)

// String returns the unit state name.
func (u UnitState) String() string {
	switch u {
	case UnitLocked:
		return "locked"
	case UnitUnlocked:
		return "unlocked"
	case UnitInFlight:
		return "in_flight"
	case UnitCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable copy of session state for presentation layers.
type Snapshot struct {
	Principal    shared.Principal
	CourseID     shared.CourseID
	State        State
	LicenseValid bool
	Units        []UnitState
	Progress     progress.Record
}

// SessionConfig wires a Session's collaborators.
type SessionConfig struct {
	Principal shared.Principal
	CourseID  shared.CourseID
	Units     []content.ContentUnit

	Verifier *Verifier
	Store    *Store
	Resolver *resolve.Resolver

	// Bus is optional; when set, state changes and completions are
	// published for subscribers (presentation layers, metrics).
	Bus shared.EventPublisher

	Logger *logger.Logger
}

// Session owns the entitlement state machine for one (principal, course)
// pair. Sessions share no mutable state with each other; each owns its own
// license answer and progress snapshot.
type Session struct {
	principal shared.Principal
	courseID  shared.CourseID
	units     []content.ContentUnit

	verifier *Verifier
	store    *Store
	resolver *resolve.Resolver
	bus      shared.EventPublisher
	log      *logger.Logger

	mu           sync.Mutex
	state        State
	licenseValid bool
	unitStates   []UnitState
	record       progress.Record

	// gen guards against stale loads: Refresh bumps it, and a load result
	// carrying an older generation is discarded on arrival without
	// mutating state.
	gen uint64
}

// NewSession validates the configuration and returns a session in
// StateLoading. Call Start to run the initial load.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Principal.IsZero() {
		return nil, shared.WrapError("session", "New", shared.ErrEmptyValue, "principal is empty", nil)
	}
	if cfg.CourseID.IsZero() {
		return nil, shared.WrapError("session", "New", shared.ErrEmptyValue, "course id is empty", nil)
	}
	if cfg.Verifier == nil || cfg.Store == nil || cfg.Resolver == nil {
		return nil, shared.WrapError("session", "New", shared.ErrInvalidInput, "verifier, store and resolver are required", nil)
	}
	for i, u := range cfg.Units {
		if u.UnitIndex != i {
			return nil, shared.WrapError("session", "New", shared.ErrInvalidInput,
				fmt.Sprintf("units must be dense and ordered: got index %d at position %d", u.UnitIndex, i), nil)
		}
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}

	return &Session{
		principal:  cfg.Principal,
		courseID:   cfg.CourseID,
		units:      cfg.Units,
		verifier:   cfg.Verifier,
		store:      cfg.Store,
		resolver:   cfg.Resolver,
		bus:        cfg.Bus,
		log:        log.With(logger.Principal(cfg.Principal.String()), logger.Course(cfg.CourseID.String())),
		state:      StateLoading,
		unitStates: make([]UnitState, len(cfg.Units)),
		record:     progress.ZeroRecord(cfg.Principal, cfg.CourseID),
	}, nil
}

// Start runs the initial load: license verification and progress retrieval
// execute concurrently and are joined to derive per-unit states. An invalid
// license lands the session in StateAccessDenied; the returned error, when
// non-nil, is the recoverable transport condition behind a denial.
func (s *Session) Start(ctx context.Context) error {
	return s.load(ctx)
}

// Refresh re-runs the initial load to reconcile after an external change,
// e.g. a license purchase completed in another flow. Refresh never touches
// units with an in-flight completion write.
func (s *Session) Refresh(ctx context.Context) error {
	return s.load(ctx)
}

func (s *Session) load(ctx context.Context) error {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	// License verification and progress retrieval are independent; run
	// them concurrently and join.
	type verifyOut struct {
		result VerifyResult
		err    error
	}
	verifyCh := make(chan verifyOut, 1)
	progressCh := make(chan progress.Record, 1)

	go func() {
		res, err := s.verifier.Verify(ctx, s.principal, s.courseID)
		verifyCh <- verifyOut{result: res, err: err}
	}()
	go func() {
		progressCh <- s.store.GetProgress(ctx, s.principal, s.courseID, len(s.units))
	}()

	v := <-verifyCh
	rec := <-progressCh

	// A torn-down consumer context means the results are discarded on
	// arrival without mutating state or invoking callbacks.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	s.mu.Lock()
	if gen != s.gen {
		// A newer load superseded this one.
		s.mu.Unlock()
		return nil
	}

	prev := s.state
	s.licenseValid = v.result.Valid
	s.record = rec

	if !v.result.Valid {
		s.state = StateAccessDenied
		for i := range s.unitStates {
			if s.unitStates[i] != UnitInFlight {
				s.unitStates[i] = UnitLocked
			}
		}
	} else {
		s.state = StateReady
		for i := range s.unitStates {
			if s.unitStates[i] == UnitInFlight {
				continue
			}
			if rec.IsCompleted(i) {
				s.unitStates[i] = UnitCompleted
			} else {
				s.unitStates[i] = UnitUnlocked
			}
		}
	}
	next := s.state
	s.mu.Unlock()

	if prev != next {
		s.publishStateChange(prev, next)
	}
	return v.err
}

// RequestCompletion marks the unit at unitIndex complete on the ledger.
//
// Transitions:
//   - Completed: idempotent no-op success, no ledger write.
//   - InFlight: rejected with a CompletionInProgress condition.
//   - Locked / non-Ready session: rejected with an access error.
//   - Unlocked: the license is re-verified (it can expire mid-session), the
//     unit moves to InFlight BEFORE the write is issued, and local state
//     advances to Completed only after the ledger write succeeds. On write
//     failure the unit returns to Unlocked and the error is retryable.
func (s *Session) RequestCompletion(ctx context.Context, unitIndex int) error {
	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		if s.state == StateAccessDenied {
			return shared.ErrSessionDenied
		}
		return shared.ErrSessionNotReady
	}
	if unitIndex < 0 || unitIndex >= len(s.unitStates) {
		s.mu.Unlock()
		return shared.WrapError("session", "RequestCompletion", shared.ErrOutOfRange,
			fmt.Sprintf("unit index %d outside [0, %d)", unitIndex, len(s.unitStates)), nil)
	}

	switch s.unitStates[unitIndex] {
	case UnitCompleted:
		s.mu.Unlock()
		return nil
	case UnitInFlight:
		s.mu.Unlock()
		return shared.ErrCompletionConflict
	case UnitLocked:
		s.mu.Unlock()
		return shared.ErrUnitLocked
	}

	// Unlocked: claim the in-flight marker before any network call.
	s.unitStates[unitIndex] = UnitInFlight
	s.mu.Unlock()

	// Re-check the license; the session-start answer is not trusted
	// indefinitely.
	res, verr := s.verifier.Verify(ctx, s.principal, s.courseID)
	if verr != nil || !res.Valid {
		s.demoteInFlight(unitIndex, verr == nil)
		if verr != nil {
			return verr
		}
		return shared.ErrSessionDenied
	}

	receipt, err := s.store.MarkComplete(ctx, s.principal, s.courseID, unitIndex, len(s.units))

	s.mu.Lock()
	if err != nil {
		if s.unitStates[unitIndex] == UnitInFlight {
			s.unitStates[unitIndex] = UnitUnlocked
		}
		s.mu.Unlock()
		return err
	}

	s.unitStates[unitIndex] = UnitCompleted
	s.record = s.record.WithCompleted(unitIndex)
	percent := s.record.PercentComplete()
	s.mu.Unlock()

	s.log.Info("unit completed",
		logger.Unit(unitIndex),
		logger.Receipt(receipt.ID),
		logger.Int("percent_complete", percent),
	)
	if s.bus != nil {
		_ = s.bus.Publish(shared.NewUnitCompletedEvent(
			s.principal.String(), s.courseID.String(), unitIndex, receipt.ID, receipt.TxHash, percent))
	}
	return nil
}

// demoteInFlight releases the in-flight marker after a failed license
// re-check. A confirmed-invalid license locks the whole session; a transport
// failure leaves the unit unlocked so the caller can retry.
func (s *Session) demoteInFlight(unitIndex int, confirmedInvalid bool) {
	s.mu.Lock()
	prev := s.state
	if s.unitStates[unitIndex] == UnitInFlight {
		s.unitStates[unitIndex] = UnitUnlocked
	}
	if confirmedInvalid {
		s.licenseValid = false
		s.state = StateAccessDenied
		for i := range s.unitStates {
			if s.unitStates[i] != UnitInFlight {
				s.unitStates[i] = UnitLocked
			}
		}
	}
	next := s.state
	s.mu.Unlock()

	if prev != next {
		s.publishStateChange(prev, next)
	}
}

// ResolveUnitMedia resolves the unit's content identifier into a playable
// location. Refused unless the session is Ready: a denied session never
// exposes media resolution.
func (s *Session) ResolveUnitMedia(ctx context.Context, unitIndex int) (content.ResolvedContent, error) {
	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return content.ResolvedContent{}, shared.ErrSessionDenied
	}
	if unitIndex < 0 || unitIndex >= len(s.units) {
		s.mu.Unlock()
		return content.ResolvedContent{}, shared.WrapError("session", "ResolveUnitMedia", shared.ErrOutOfRange,
			fmt.Sprintf("unit index %d outside [0, %d)", unitIndex, len(s.units)), nil)
	}
	unit := s.units[unitIndex]
	s.mu.Unlock()

	return s.resolver.Resolve(ctx, unit.ContentID, unit.Kind)
}

// State returns an immutable snapshot of the session.
func (s *Session) State() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	units := make([]UnitState, len(s.unitStates))
	copy(units, s.unitStates)

	return Snapshot{
		Principal:    s.principal,
		CourseID:     s.courseID,
		State:        s.state,
		LicenseValid: s.licenseValid,
		Units:        units,
		Progress:     s.record,
	}
}

// Units returns the course's content units in navigation order.
func (s *Session) Units() []content.ContentUnit {
	units := make([]content.ContentUnit, len(s.units))
	copy(units, s.units)
	return units
}

func (s *Session) publishStateChange(from, to State) {
	s.log.Info("session state changed", logger.String("from", from.String()), logger.String("to", to.String()))
	if s.bus == nil {
		return
	}
	_ = s.bus.Publish(shared.NewSessionStateChangedEvent(
		s.principal.String(), s.courseID.String(), from.String(), to.String()))
	if to == StateAccessDenied {
		evt := shared.NewSessionStateChangedEvent(s.principal.String(), s.courseID.String(), from.String(), to.String())
		evt.Type = shared.EventSessionAccessDenied
		_ = s.bus.Publish(evt)
	}
}
