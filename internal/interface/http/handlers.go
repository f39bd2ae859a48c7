// Package http exposes the entitlement core over REST.
package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/chainacademy/entitlement-core/internal/application/entitlement"
	"github.com/chainacademy/entitlement-core/internal/domain/content"
	"github.com/chainacademy/entitlement-core/internal/domain/shared"
	"github.com/chainacademy/entitlement-core/pkg/logger"
)

// principalHeader carries the caller's account identifier. Signature-based
// authentication of the header is the edge proxy's job, not this service's.
const principalHeader = "X-Principal"

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"name":    "Entitlement Core API",
		"version": "v1",
		"endpoints": map[string]string{
			"health":   "/health",
			"session":  "/api/v1/courses/{courseID}/session",
			"refresh":  "/api/v1/courses/{courseID}/session/refresh",
			"complete": "/api/v1/courses/{courseID}/units/{index}/complete",
			"media":    "/api/v1/courses/{courseID}/units/{index}/media",
		},
	}

	writeJSON(w, http.StatusOK, info)
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Healthy {
			writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		writeJSON(w, http.StatusOK, status)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"uptime":  s.Uptime().String(),
		"version": "v1",
	})
}

// handleReady handles the readiness probe endpoint.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness probe endpoint.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST PARSING
// ══════════════════════════════════════════════════════════════════════════════

// sessionParams are the identifiers every session endpoint needs.
type sessionParams struct {
	principal shared.Principal
	courseID  shared.CourseID
}

// parseSessionParams extracts and validates the principal header and course
// path value. Writes the error response itself on failure.
func (s *Server) parseSessionParams(w http.ResponseWriter, r *http.Request) (sessionParams, bool) {
	principal, err := shared.NewPrincipal(r.Header.Get(principalHeader))
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "missing_principal", "X-Principal header is required")
		return sessionParams{}, false
	}

	courseID, err := shared.NewCourseID(r.PathValue("courseID"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_course", "Course ID is required")
		return sessionParams{}, false
	}

	return sessionParams{principal: principal, courseID: courseID}, true
}

// parseUnitIndex extracts the unit index path value. Range validation against
// the course happens in the session; this only rejects non-numeric input.
func parseUnitIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	idx, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_unit_index", "Unit index must be an integer")
		return 0, false
	}
	return idx, true
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// writeDomainError maps a domain error to an HTTP status and error code.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrCompletionInProgress):
		writeJSONError(w, http.StatusConflict, "completion_in_progress", "A completion write for this unit is already in flight")
	case errors.Is(err, shared.ErrAccessDenied):
		writeJSONError(w, http.StatusForbidden, "access_denied", "No valid license covers this course")
	case errors.Is(err, shared.ErrOutOfRange):
		writeJSONError(w, http.StatusBadRequest, "out_of_range", "Unit index is out of range for this course")
	case errors.Is(err, shared.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "not_found", "Resource not found")
	case errors.Is(err, shared.ErrInvalidState):
		writeJSONError(w, http.StatusConflict, "invalid_state", "Session is not in a state that allows this operation")
	case errors.Is(err, shared.ErrRateLimited):
		writeJSONError(w, http.StatusTooManyRequests, "rate_limited", "Upstream rate limit hit, retry later")
	case shared.IsTransport(err):
		writeJSONError(w, http.StatusServiceUnavailable, "upstream_unavailable", "The ledger is temporarily unreachable")
	case errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrInvalidInput), errors.Is(err, shared.ErrEmptyValue):
		writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION VIEWS
// ══════════════════════════════════════════════════════════════════════════════

// unitView is one unit in the session view.
type unitView struct {
	Index           int    `json:"index"`
	Title           string `json:"title"`
	Kind            string `json:"kind"`
	State           string `json:"state"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
}

// sessionView is the presentation shape of a session snapshot.
type sessionView struct {
	Principal       string     `json:"principal"`
	CourseID        string     `json:"course_id"`
	State           string     `json:"state"`
	LicenseValid    bool       `json:"license_valid"`
	Units           []unitView `json:"units"`
	CompletedUnits  int        `json:"completed_units"`
	TotalUnits      int        `json:"total_units"`
	PercentComplete int        `json:"percent_complete"`
}

func newSessionView(sess *entitlement.Session) sessionView {
	snap := sess.State()
	units := sess.Units()

	view := sessionView{
		Principal:       snap.Principal.String(),
		CourseID:        snap.CourseID.String(),
		State:           snap.State.String(),
		LicenseValid:    snap.LicenseValid,
		Units:           make([]unitView, 0, len(units)),
		CompletedUnits:  snap.Progress.CompletedCount(),
		TotalUnits:      snap.Progress.TotalUnits,
		PercentComplete: snap.Progress.PercentComplete(),
	}
	for i, u := range units {
		state := ""
		if i < len(snap.Units) {
			state = snap.Units[i].String()
		}
		view.Units = append(view.Units, unitView{
			Index:           u.UnitIndex,
			Title:           u.Title,
			Kind:            string(u.Kind),
			State:           state,
			DurationSeconds: u.DurationSeconds,
		})
	}
	return view
}

// mediaView is the presentation shape of a resolution result.
type mediaView struct {
	NoContent   bool   `json:"no_content"`
	CanonicalID string `json:"canonical_id,omitempty"`
	URL         string `json:"url,omitempty"`
	Tier        string `json:"tier,omitempty"`
}

func newMediaView(resolved content.ResolvedContent) mediaView {
	if resolved.IsNoContent() {
		return mediaView{NoContent: true}
	}
	return mediaView{
		CanonicalID: resolved.CanonicalID,
		URL:         resolved.URL,
		Tier:        resolved.Tier.String(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetSession handles GET /api/v1/courses/{courseID}/session.
// Creates and starts the session on first access. A session denied because
// the ledger was unreachable is still returned; the view shows access_denied
// and a later refresh can recover it.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	params, ok := s.parseSessionParams(w, r)
	if !ok {
		return
	}

	sess, err := s.deps.Manager.Session(r.Context(), params.principal, params.courseID)
	if err != nil {
		s.logger.Error("failed to open session",
			logger.Err(err),
			logger.Principal(params.principal.String()),
			logger.Course(params.courseID.String()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newSessionView(sess))
}

// handleRefreshSession handles POST /api/v1/courses/{courseID}/session/refresh.
func (s *Server) handleRefreshSession(w http.ResponseWriter, r *http.Request) {
	params, ok := s.parseSessionParams(w, r)
	if !ok {
		return
	}

	sess, err := s.deps.Manager.Session(r.Context(), params.principal, params.courseID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if err := sess.Refresh(r.Context()); err != nil {
		// The session holds a safe state regardless; report it with the error.
		s.logger.Warn("refresh completed degraded",
			logger.Err(err),
			logger.Principal(params.principal.String()),
			logger.Course(params.courseID.String()),
		)
	}

	writeJSON(w, http.StatusOK, newSessionView(sess))
}

// handleCompleteUnit handles POST /api/v1/courses/{courseID}/units/{index}/complete.
func (s *Server) handleCompleteUnit(w http.ResponseWriter, r *http.Request) {
	params, ok := s.parseSessionParams(w, r)
	if !ok {
		return
	}
	unitIndex, ok := parseUnitIndex(w, r)
	if !ok {
		return
	}

	sess, err := s.deps.Manager.Session(r.Context(), params.principal, params.courseID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if err := sess.RequestCompletion(r.Context(), unitIndex); err != nil {
		s.logger.Warn("completion rejected",
			logger.Err(err),
			logger.Principal(params.principal.String()),
			logger.Course(params.courseID.String()),
			logger.Unit(unitIndex),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newSessionView(sess))
}

// handleResolveMedia handles GET /api/v1/courses/{courseID}/units/{index}/media.
func (s *Server) handleResolveMedia(w http.ResponseWriter, r *http.Request) {
	params, ok := s.parseSessionParams(w, r)
	if !ok {
		return
	}
	unitIndex, ok := parseUnitIndex(w, r)
	if !ok {
		return
	}

	sess, err := s.deps.Manager.Session(r.Context(), params.principal, params.courseID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resolved, err := sess.ResolveUnitMedia(r.Context(), unitIndex)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newMediaView(resolved))
}

// ══════════════════════════════════════════════════════════════════════════════
// WEBHOOK HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// PurchaseWebhookPayload is the purchase flow's notification that a license
// was minted.
type PurchaseWebhookPayload struct {
	Principal string `json:"principal"`
	CourseID  string `json:"course_id"`
	TxHash    string `json:"tx_hash"`
}

// handlePurchaseWebhook handles POST /webhook/purchases.
func (s *Server) handlePurchaseWebhook(w http.ResponseWriter, r *http.Request) {
	s.processPurchaseWebhook(w, r, "")
}

// handlePurchaseWebhookWithToken handles POST /webhook/purchases/{token}.
func (s *Server) handlePurchaseWebhookWithToken(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	s.processPurchaseWebhook(w, r, token)
}

// processPurchaseWebhook validates the payload and publishes the purchase
// event; the session manager subscribes and refreshes the matching session.
func (s *Server) processPurchaseWebhook(w http.ResponseWriter, r *http.Request, token string) {
	if s.config.WebhookSecret != "" && token != s.config.WebhookSecret {
		s.logger.Warn("invalid webhook token", logger.String("ip", getClientIP(r)))
		writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid webhook token")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB limit
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Failed to read request body")
		return
	}
	defer r.Body.Close()

	var payload PurchaseWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON payload")
		return
	}
	if payload.Principal == "" || payload.CourseID == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "principal and course_id are required")
		return
	}

	s.logger.Info("received purchase webhook",
		logger.Principal(payload.Principal),
		logger.Course(payload.CourseID),
		logger.String("tx_hash", payload.TxHash),
	)

	if s.deps.Bus != nil {
		event := shared.NewLicensePurchasedEvent(payload.Principal, payload.CourseID, payload.TxHash)
		if err := s.deps.Bus.Publish(event); err != nil {
			s.logger.Error("failed to publish purchase event", logger.Err(err))
			// Acknowledge anyway; the purchase flow should not retry forever.
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}
