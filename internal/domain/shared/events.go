// Package shared contains common domain types, errors, and events that are
// used across all domain packages.
package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Each event represents something significant that
// happened around an entitlement session.
const (
	// Session events
	EventSessionStateChanged EventType = "session.state_changed"
	EventSessionAccessDenied EventType = "session.access_denied"
	EventSessionReady        EventType = "session.ready"
	EventUnitCompleted       EventType = "session.unit_completed"

	// Entitlement events
	EventTransportError  EventType = "entitlement.transport_error"
	EventLicensePurchase EventType = "license.purchased"

	// Resolution events
	EventResolutionFellBack EventType = "resolve.fell_back"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	// For session events this is "principal/courseID".
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// EventHandler processes a single event. Returning an error marks the
// delivery failed; the bus logs it but does not redeliver.
type EventHandler func(event Event) error

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(event Event) error
}

// EventSubscriber subscribes handlers to domain events.
type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Session Events
// ═══════════════════════════════════════════════════════════════════════════

// SessionStateChangedEvent is emitted on every top-level session transition.
type SessionStateChangedEvent struct {
	BaseEvent
	Principal string `json:"principal"`
	CourseID  string `json:"course_id"`
	From      string `json:"from"`
	To        string `json:"to"`
}

// Payload implements Event interface.
func (e SessionStateChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"principal": e.Principal,
		"course_id": e.CourseID,
		"from":      e.From,
		"to":        e.To,
	}
}

// NewSessionStateChangedEvent creates a new SessionStateChangedEvent.
func NewSessionStateChangedEvent(principal, courseID, from, to string) SessionStateChangedEvent {
	return SessionStateChangedEvent{
		BaseEvent: NewBaseEvent(EventSessionStateChanged, principal+"/"+courseID),
		Principal: principal,
		CourseID:  courseID,
		From:      from,
		To:        to,
	}
}

// UnitCompletedEvent is emitted after a completion write is confirmed by
// the ledger. Local state advances only after this point.
type UnitCompletedEvent struct {
	BaseEvent
	Principal       string `json:"principal"`
	CourseID        string `json:"course_id"`
	UnitIndex       int    `json:"unit_index"`
	ReceiptID       string `json:"receipt_id"`
	TxHash          string `json:"tx_hash"`
	PercentComplete int    `json:"percent_complete"`
}

// Payload implements Event interface.
func (e UnitCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"principal":        e.Principal,
		"course_id":        e.CourseID,
		"unit_index":       e.UnitIndex,
		"receipt_id":       e.ReceiptID,
		"tx_hash":          e.TxHash,
		"percent_complete": e.PercentComplete,
	}
}

// NewUnitCompletedEvent creates a new UnitCompletedEvent.
func NewUnitCompletedEvent(principal, courseID string, unitIndex int, receiptID, txHash string, percent int) UnitCompletedEvent {
	return UnitCompletedEvent{
		BaseEvent:       NewBaseEvent(EventUnitCompleted, principal+"/"+courseID),
		Principal:       principal,
		CourseID:        courseID,
		UnitIndex:       unitIndex,
		ReceiptID:       receiptID,
		TxHash:          txHash,
		PercentComplete: percent,
	}
}

// TransportErrorEvent is the out-of-band channel for ledger failures that
// were swallowed into safe defaults (denied access, zeroed progress).
type TransportErrorEvent struct {
	BaseEvent
	Principal string `json:"principal"`
	CourseID  string `json:"course_id"`
	Operation string `json:"operation"`
	Reason    string `json:"reason"`
}

// Payload implements Event interface.
func (e TransportErrorEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"principal": e.Principal,
		"course_id": e.CourseID,
		"operation": e.Operation,
		"reason":    e.Reason,
	}
}

// NewTransportErrorEvent creates a new TransportErrorEvent.
func NewTransportErrorEvent(principal, courseID, operation, reason string) TransportErrorEvent {
	return TransportErrorEvent{
		BaseEvent: NewBaseEvent(EventTransportError, principal+"/"+courseID),
		Principal: principal,
		CourseID:  courseID,
		Operation: operation,
		Reason:    reason,
	}
}

// LicensePurchasedEvent is produced by an external purchase flow. Consumers
// typically map it to Session.Refresh so a running session reconciles
// without a restart.
type LicensePurchasedEvent struct {
	BaseEvent
	Principal string `json:"principal"`
	CourseID  string `json:"course_id"`
	TxHash    string `json:"tx_hash"`
}

// Payload implements Event interface.
func (e LicensePurchasedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"principal": e.Principal,
		"course_id": e.CourseID,
		"tx_hash":   e.TxHash,
	}
}

// NewLicensePurchasedEvent creates a new LicensePurchasedEvent.
func NewLicensePurchasedEvent(principal, courseID, txHash string) LicensePurchasedEvent {
	return LicensePurchasedEvent{
		BaseEvent: NewBaseEvent(EventLicensePurchase, principal+"/"+courseID),
		Principal: principal,
		CourseID:  courseID,
		TxHash:    txHash,
	}
}

// ResolutionFellBackEvent is emitted when the optimized resolution service
// failed and a fallback gateway URL was handed out instead.
type ResolutionFellBackEvent struct {
	BaseEvent
	CanonicalID string `json:"canonical_id"`
	GatewayIdx  int    `json:"gateway_idx"`
	Reason      string `json:"reason"`
}

// Payload implements Event interface.
func (e ResolutionFellBackEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"canonical_id": e.CanonicalID,
		"gateway_idx":  e.GatewayIdx,
		"reason":       e.Reason,
	}
}

// NewResolutionFellBackEvent creates a new ResolutionFellBackEvent.
func NewResolutionFellBackEvent(canonicalID string, gatewayIdx int, reason string) ResolutionFellBackEvent {
	return ResolutionFellBackEvent{
		BaseEvent:   NewBaseEvent(EventResolutionFellBack, canonicalID),
		CanonicalID: canonicalID,
		GatewayIdx:  gatewayIdx,
		Reason:      reason,
	}
}
