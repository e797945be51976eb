package models

import "time"

// Event types
const (
	EventTypeCartItemAdded   = "CART_ITEM_ADDED"
	EventTypeCartItemRemoved = "CART_ITEM_REMOVED"
	EventTypeCartItemUpdated = "CART_ITEM_UPDATED"
	EventTypeCartCleared     = "CART_CLEARED"
	EventTypeCartReverted    = "CART_REVERTED"
	EventTypeDisputeAction   = "DISPUTE_ACTION"
	EventTypeDeadlineExpired = "DISPUTE_DEADLINE_EXPIRED"
)

// Dispute action names carried in DisputeActionEvent.
const (
	ActionMessage            = "message"
	ActionOffer              = "offer"
	ActionAcceptOffer        = "accept_offer"
	ActionRejectOffer        = "reject_offer"
	ActionRequestArbitration = "request_arbitration"
	ActionCapturePayPal      = "capture_paypal_arbitration"
	ActionCancel             = "cancel"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// CartEvent published on every cart mutation, clear or revert
type CartEvent struct {
	BaseEvent
	SessionKey  string `json:"session_key"`
	Guest       bool   `json:"guest"`
	Fingerprint string `json:"fingerprint,omitempty"`
	ServiceID   string `json:"service_id,omitempty"`
	Quantity    int    `json:"quantity,omitempty"`
	CartCount   int    `json:"cart_count"`
	CartTotal   int64  `json:"cart_total"`
}

// DisputeActionEvent published after a dispute action round-trips upstream
type DisputeActionEvent struct {
	BaseEvent
	OrderID   string `json:"order_id"`
	DisputeID string `json:"dispute_id,omitempty"`
	UserID    string `json:"user_id"`
	Action    string `json:"action"`
	Amount    int64  `json:"amount,omitempty"`
	Succeeded bool   `json:"succeeded"`
	Error     string `json:"error,omitempty"`
}

// DeadlineExpiredEvent published by the deadline worker when a watched
// dispute's active deadline passes
type DeadlineExpiredEvent struct {
	BaseEvent
	OrderID   string    `json:"order_id"`
	DisputeID string    `json:"dispute_id"`
	Deadline  string    `json:"deadline"`
	ExpiredAt time.Time `json:"expired_at"`
}
