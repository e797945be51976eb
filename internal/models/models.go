package models

import (
	"encoding/json"
	"time"
)

// All monetary amounts are int64 minor units (pence).

// Addon is an optional extra attached to a cart line or service booking.
type Addon struct {
	ID    string `json:"id"`
	Price int64  `json:"price"`
}

// Booking carries the scheduling details attached to a cart line.
type Booking struct {
	Date     string `json:"date"`
	Time     string `json:"time"`
	TimeSlot string `json:"timeSlot,omitempty"`
}

// CartLine is a single cart entry. Lines are keyed by Fingerprint:
// identical service/package/addon configurations collapse into one line.
type CartLine struct {
	Fingerprint    string   `json:"fingerprint"`
	ServiceID      string   `json:"serviceId"`
	Title          string   `json:"title"`
	UnitPrice      int64    `json:"unitPrice"`
	Quantity       int      `json:"quantity"`
	Addons         []Addon  `json:"addons,omitempty"`
	Booking        *Booking `json:"booking,omitempty"`
	PackageVariant string   `json:"packageVariant,omitempty"`
}

// LineTotal is the line's contribution to the cart total:
// (unit price + addon prices) x quantity.
func (l CartLine) LineTotal() int64 {
	unit := l.UnitPrice
	for _, a := range l.Addons {
		unit += a.Price
	}
	return unit * int64(l.Quantity)
}

// CartLinePatch is a partial update merged into an existing line.
// Nil fields are left untouched. Fingerprint inputs (service, package
// variant, addons) are deliberately absent: changing the configuration
// is a remove plus add, never an in-place patch.
type CartLinePatch struct {
	Title    *string  `json:"title,omitempty"`
	Quantity *int     `json:"quantity,omitempty"`
	Booking  *Booking `json:"booking,omitempty"`
}

// ActorRef is a reference to a user that the upstream API may serialize
// either as a plain id string or as a populated object. Key() is the
// single normalization point; never compare raw JSON shapes.
type ActorRef struct {
	ID        string
	Name      string
	Populated bool
}

// Key returns the normalized user id.
func (r ActorRef) Key() string {
	return r.ID
}

// IsZero reports whether the reference is unset.
func (r ActorRef) IsZero() bool {
	return r.ID == ""
}

func (r *ActorRef) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*r = ActorRef{}
		return nil
	}
	if data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*r = ActorRef{ID: id}
		return nil
	}
	var obj struct {
		MongoID string `json:"_id"`
		ID      string `json:"id"`
		Name    string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	id := obj.MongoID
	if id == "" {
		id = obj.ID
	}
	*r = ActorRef{ID: id, Name: obj.Name, Populated: true}
	return nil
}

func (r ActorRef) MarshalJSON() ([]byte, error) {
	if !r.Populated {
		return json.Marshal(r.ID)
	}
	return json.Marshal(struct {
		ID   string `json:"id"`
		Name string `json:"name,omitempty"`
	}{ID: r.ID, Name: r.Name})
}

// Dispute statuses. Transitions are monotonic:
// open -> negotiation -> admin_arbitration -> closed, with a shortcut
// open|negotiation -> closed via acceptance or cancellation.
const (
	DisputeStatusOpen             = "open"
	DisputeStatusNegotiation      = "negotiation"
	DisputeStatusAdminArbitration = "admin_arbitration"
	DisputeStatusClosed           = "closed"
)

// Dispute roles as reported back by the upstream on acceptance.
const (
	RoleClient       = "client"
	RoleProfessional = "professional"
)

// DisputeMessage is one entry in the dispute conversation.
type DisputeMessage struct {
	UserID         ActorRef  `json:"userId"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
	Attachments    []string  `json:"attachments,omitempty"`
	IsTeamResponse bool      `json:"isTeamResponse,omitempty"`
}

// ArbitrationPayment records one party's arbitration fee payment.
// At most two are meaningful, one per party.
type ArbitrationPayment struct {
	UserID ActorRef  `json:"userId"`
	Amount int64     `json:"amount"`
	PaidAt time.Time `json:"paidAt"`
}

// AdminDecision is the arbitration team's binding ruling.
type AdminDecision struct {
	WinnerID  ActorRef  `json:"winnerId"`
	Rationale string    `json:"rationale"`
	DecidedAt time.Time `json:"decidedAt"`
}

// Dispute mirrors the authoritative server record. The service only
// reads it and re-fetches after mutating calls; it never asserts a
// status transition locally.
type Dispute struct {
	ID                     string               `json:"id"`
	OrderID                string               `json:"orderId"`
	ClaimantID             ActorRef             `json:"claimantId"`
	RespondentID           ActorRef             `json:"respondentId"`
	Amount                 int64                `json:"amount"`
	Status                 string               `json:"status"`
	Messages               []DisputeMessage     `json:"messages,omitempty"`
	ClientOffer            *int64               `json:"clientOffer,omitempty"`
	ProfessionalOffer      *int64               `json:"professionalOffer,omitempty"`
	RespondedAt            *time.Time           `json:"respondedAt,omitempty"`
	ResponseDeadline       *time.Time           `json:"responseDeadline,omitempty"`
	NegotiationDeadline    *time.Time           `json:"negotiationDeadline,omitempty"`
	ArbitrationFeeDeadline *time.Time           `json:"arbitrationFeeDeadline,omitempty"`
	ArbitrationPayments    []ArbitrationPayment `json:"arbitrationPayments,omitempty"`
	AdminDecision          *AdminDecision       `json:"adminDecision,omitempty"`
	WinnerID               ActorRef             `json:"winnerId,omitempty"`
	FinalAmount            *int64               `json:"finalAmount,omitempty"`
	ClosedAt               *time.Time           `json:"closedAt,omitempty"`
	AcceptedBy             ActorRef             `json:"acceptedBy,omitempty"`
	AcceptedByRole         string               `json:"acceptedByRole,omitempty"`
}

// HasPaidArbitration reports whether the given user has paid the fee.
func (d *Dispute) HasPaidArbitration(userID string) bool {
	for _, p := range d.ArbitrationPayments {
		if p.UserID.Key() == userID {
			return true
		}
	}
	return false
}

// Order is the slice of the upstream order record this service needs:
// dispute linkage and the refundable ceiling for offers.
type Order struct {
	ID               string   `json:"id"`
	ClientID         ActorRef `json:"clientId"`
	ProfessionalID   ActorRef `json:"professionalId"`
	Status           string   `json:"status"`
	TotalAmount      int64    `json:"totalAmount"`
	RefundableAmount *int64   `json:"refundableAmount,omitempty"`
	Dispute          *Dispute `json:"dispute,omitempty"`
}
