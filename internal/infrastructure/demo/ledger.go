// Package demo provides an in-memory ledger and catalog for running the
// service without a chain gateway or indexer. It seeds a small course
// catalog and lets licenses be granted at runtime, which makes the full
// session lifecycle exercisable end to end.
package demo

import (
	"context"
	"encoding/hex"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"

	"github.com/chainacademy/entitlement-core/internal/domain/content"
	"github.com/chainacademy/entitlement-core/internal/domain/license"
	"github.com/chainacademy/entitlement-core/internal/domain/progress"
	"github.com/chainacademy/entitlement-core/internal/domain/shared"
)

// Ledger is an in-memory stand-in for the chain index. It answers license,
// progress and catalog queries and accepts completion writes.
type Ledger struct {
	mu          sync.RWMutex
	licenses    map[string]license.License
	completions map[string]map[int]progress.Receipt
	courses     map[string][]content.ContentUnit
}

var (
	_ license.Querier = (*Ledger)(nil)
	_ progress.Ledger = (*Ledger)(nil)
	_ content.Catalog = (*Ledger)(nil)
)

// NewLedger creates an empty demo ledger.
func NewLedger() *Ledger {
	return &Ledger{
		licenses:    make(map[string]license.License),
		completions: make(map[string]map[int]progress.Receipt),
		courses:     make(map[string][]content.ContentUnit),
	}
}

// NewSeededLedger creates a demo ledger with the built-in course fixtures.
func NewSeededLedger() *Ledger {
	l := NewLedger()
	for courseID, units := range fixtureCourses() {
		l.SeedCourse(shared.CourseID(courseID), units)
	}
	return l
}

func pairKey(principal shared.Principal, courseID shared.CourseID) string {
	return principal.String() + "/" + courseID.String()
}

// ══════════════════════════════════════════════════════════════════════════════
// SEEDING
// ══════════════════════════════════════════════════════════════════════════════

// SeedCourse publishes a course's units.
func (l *Ledger) SeedCourse(courseID shared.CourseID, units []content.ContentUnit) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.courses[courseID.String()] = units
}

// GrantLicense mints a demo license valid for the given duration.
func (l *Ledger) GrantLicense(principal shared.Principal, courseID shared.CourseID, validFor time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.licenses[pairKey(principal, courseID)] = license.License{
		Principal:  principal,
		CourseID:   courseID,
		ValidUntil: time.Now().Add(validFor),
		Active:     true,
	}
}

// RevokeLicense deactivates a demo license if one exists.
func (l *Ledger) RevokeLicense(principal shared.Principal, courseID shared.CourseID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := pairKey(principal, courseID)
	if lic, ok := l.licenses[key]; ok {
		lic.Active = false
		l.licenses[key] = lic
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERIES
// ══════════════════════════════════════════════════════════════════════════════

// QueryLicense implements license.Querier.
func (l *Ledger) QueryLicense(_ context.Context, principal shared.Principal, courseID shared.CourseID) (*license.License, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	lic, ok := l.licenses[pairKey(principal, courseID)]
	if !ok {
		return nil, shared.ErrLicenseNotFound
	}
	out := lic
	return &out, nil
}

// QueryProgress implements progress.Ledger.
func (l *Ledger) QueryProgress(_ context.Context, principal shared.Principal, courseID shared.CourseID) (*progress.Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	done, ok := l.completions[pairKey(principal, courseID)]
	if !ok || len(done) == 0 {
		return nil, shared.ErrProgressNotFound
	}

	total := len(l.courses[courseID.String()])
	rec := progress.NewRecord(principal, courseID, total)
	for idx := range done {
		if idx >= 0 && idx < total {
			rec.CompletedUnits[idx] = true
		}
	}
	return &rec, nil
}

// WriteCompletion implements progress.Ledger. Replays return the receipt of
// the original write.
func (l *Ledger) WriteCompletion(_ context.Context, principal shared.Principal, courseID shared.CourseID, unitIndex int) (*progress.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := pairKey(principal, courseID)
	if l.completions[key] == nil {
		l.completions[key] = make(map[int]progress.Receipt)
	}
	if receipt, ok := l.completions[key][unitIndex]; ok {
		out := receipt
		return &out, nil
	}

	receipt := progress.Receipt{
		ID:          uuid.New().String(),
		TxHash:      surrogateTxHash(principal, courseID, unitIndex),
		ConfirmedAt: time.Now().UTC(),
	}
	l.completions[key][unitIndex] = receipt
	out := receipt
	return &out, nil
}

// CourseUnits implements content.Catalog.
func (l *Ledger) CourseUnits(_ context.Context, courseID shared.CourseID) ([]content.ContentUnit, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	units, ok := l.courses[courseID.String()]
	if !ok || len(units) == 0 {
		return nil, shared.ErrCourseNotFound
	}
	out := make([]content.ContentUnit, len(units))
	copy(out, units)
	return out, nil
}

func surrogateTxHash(principal shared.Principal, courseID shared.CourseID, unitIndex int) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(principal.String()))
	h.Write([]byte{0})
	h.Write([]byte(courseID.String()))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(unitIndex)))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURES
// ══════════════════════════════════════════════════════════════════════════════

func fixtureCourses() map[string][]content.ContentUnit {
	solanaCourse := shared.CourseID("course-solana-101")
	rustCourse := shared.CourseID("course-rust-async")

	return map[string][]content.ContentUnit{
		solanaCourse.String(): {
			{CourseID: solanaCourse, UnitIndex: 0, Title: "Accounts and Programs", ContentID: "ipfs://bafybeigdyrzt5intro0", Kind: content.KindVideo, DurationSeconds: 840},
			{CourseID: solanaCourse, UnitIndex: 1, Title: "Transactions", ContentID: "ipfs://bafybeigdyrzt5txns1", Kind: content.KindVideo, DurationSeconds: 1260},
			{CourseID: solanaCourse, UnitIndex: 2, Title: "Course Notes", ContentID: "ipfs://bafybeigdyrzt5notes2", Kind: content.KindDocument, DurationSeconds: 0},
			// Recorded but not yet published by the authoring flow.
			{CourseID: solanaCourse, UnitIndex: 3, Title: "Anchor Deep Dive", ContentID: "placeholder-video-content", Kind: content.KindVideo, DurationSeconds: 0},
		},
		rustCourse.String(): {
			{CourseID: rustCourse, UnitIndex: 0, Title: "Futures from Scratch", ContentID: "ipfs://bafybeihrustfut0", Kind: content.KindVideo, DurationSeconds: 980},
			{CourseID: rustCourse, UnitIndex: 1, Title: "Pinning Explained", ContentID: "ipfs://bafybeihrustpin1", Kind: content.KindAudio, DurationSeconds: 2100},
		},
	}
}
