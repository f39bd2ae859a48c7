package entitlement

import (
	"context"
	"sync"

	"github.com/chainacademy/entitlement-core/internal/application/resolve"
	"github.com/chainacademy/entitlement-core/internal/domain/content"
	"github.com/chainacademy/entitlement-core/internal/domain/shared"
	"github.com/chainacademy/entitlement-core/pkg/logger"
)

// Manager hands out sessions keyed by (principal, course). It is the
// composition root for the entitlement core: a presentation layer asks it
// for a session and talks to that.
type Manager struct {
	catalog  content.Catalog
	verifier *Verifier
	store    *Store
	resolver *resolve.Resolver
	bus      shared.EventPublisher
	log      *logger.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a Manager over the shared collaborators. Every session
// it mints reuses them; only the session state itself is per-pair.
func NewManager(catalog content.Catalog, verifier *Verifier, store *Store, resolver *resolve.Resolver, bus shared.EventPublisher, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Default()
	}
	return &Manager{
		catalog:  catalog,
		verifier: verifier,
		store:    store,
		resolver: resolver,
		bus:      bus,
		log:      log,
		sessions: make(map[string]*Session),
	}
}

// Session returns the live session for the pair, creating and starting one
// on first use. The Start error is returned alongside the session: a denial
// caused by a transport failure still yields a usable (denied) session that
// Refresh can later recover.
func (m *Manager) Session(ctx context.Context, principal shared.Principal, courseID shared.CourseID) (*Session, error) {
	key := principal.String() + "/" + courseID.String()

	m.mu.Lock()
	if sess, ok := m.sessions[key]; ok {
		m.mu.Unlock()
		return sess, nil
	}
	m.mu.Unlock()

	units, err := m.catalog.CourseUnits(ctx, courseID)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, shared.ErrCourseNotFound
		}
		return nil, shared.WrapError("session", "Open", shared.ErrTransport, "course catalog unavailable", err)
	}
	if len(units) == 0 {
		return nil, shared.ErrCourseNotFound
	}

	sess, err := NewSession(SessionConfig{
		Principal: principal,
		CourseID:  courseID,
		Units:     units,
		Verifier:  m.verifier,
		Store:     m.store,
		Resolver:  m.resolver,
		Bus:       m.bus,
		Logger:    m.log,
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.sessions[key]; ok {
		// Lost the creation race; the winner's session is the live one.
		m.mu.Unlock()
		return existing, nil
	}
	m.sessions[key] = sess
	m.mu.Unlock()

	if startErr := sess.Start(ctx); startErr != nil {
		m.log.Warn("session started degraded",
			logger.Principal(principal.String()),
			logger.Course(courseID.String()),
			logger.Err(startErr),
		)
	}
	return sess, nil
}

// HandleLicensePurchased refreshes the matching session after an external
// purchase flow lands. Wired as an event bus handler for license.purchased.
// Reads the payload map so remote events reconstructed from the wire are
// handled the same as locally typed ones.
func (m *Manager) HandleLicensePurchased(event shared.Event) error {
	if event.EventType() != shared.EventLicensePurchase {
		return nil
	}
	payload := event.Payload()
	principal, _ := payload["principal"].(string)
	courseID, _ := payload["course_id"].(string)
	if principal == "" || courseID == "" {
		return nil
	}

	key := principal + "/" + courseID
	m.mu.Lock()
	sess, ok := m.sessions[key]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	m.log.Info("refreshing session after license purchase",
		logger.Principal(principal),
		logger.Course(courseID),
	)
	return sess.Refresh(context.Background())
}

// Evict drops the cached session for the pair. The next Session call starts
// fresh from Loading.
func (m *Manager) Evict(principal shared.Principal, courseID shared.CourseID) {
	key := principal.String() + "/" + courseID.String()
	m.mu.Lock()
	delete(m.sessions, key)
	m.mu.Unlock()
}
