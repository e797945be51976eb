package dispute

import (
	"time"

	"storefront-session/internal/models"
	"storefront-session/internal/util"
)

// DeadlineKind names which deadline governs the countdown.
type DeadlineKind string

const (
	DeadlineNone           DeadlineKind = "none"
	DeadlineResponse       DeadlineKind = "response"
	DeadlineNegotiation    DeadlineKind = "negotiation"
	DeadlineArbitrationFee DeadlineKind = "arbitration_fee"
)

// OfferBounds is the inclusive range the viewer's next offer must fall
// in. Clients may only raise their offer, professionals only lower
// theirs, both capped by the dispute ceiling.
type OfferBounds struct {
	Min int64 `json:"min"`
	Max int64 `json:"max"`
}

// Projection is everything the dispute UI needs to render and gate
// actions, derived purely from the dispute record, the viewer's
// identity and the current time.
type Projection struct {
	IsClaimant     bool `json:"is_claimant"`
	IsRespondent   bool `json:"is_respondent"`
	IsClient       bool `json:"is_client"`
	IsProfessional bool `json:"is_professional"`

	RespondentHasReplied bool `json:"respondent_has_replied"`
	NegotiationActive    bool `json:"negotiation_active"`

	ActiveDeadline DeadlineKind  `json:"active_deadline"`
	Deadline       *time.Time    `json:"deadline,omitempty"`
	Remaining      time.Duration `json:"remaining"`
	BothFeesPaid   bool          `json:"both_fees_paid"`
	FeePaidByUser  bool          `json:"fee_paid_by_user"`

	OfferBounds       *OfferBounds `json:"offer_bounds,omitempty"`
	OutstandingOffer  *int64       `json:"outstanding_offer,omitempty"`
	CanRespondToOffer bool         `json:"can_respond_to_offer"`

	CanRequestArbitration   bool `json:"can_request_arbitration"`
	ArbitrationNeedsWarning bool `json:"arbitration_needs_warning"`

	Resolution string `json:"resolution,omitempty"`
}

// Project derives the dispute view for one user at one instant. The
// order record supplies the client/professional role split and the
// refundable ceiling; it may be nil, in which case the claimant is
// assumed to be the client and the dispute amount is the ceiling.
func Project(d *models.Dispute, order *models.Order, userID string, now time.Time) Projection {
	p := Projection{ActiveDeadline: DeadlineNone}
	if d == nil {
		return p
	}

	claimantID := d.ClaimantID.Key()
	respondentID := d.RespondentID.Key()
	p.IsClaimant = userID != "" && userID == claimantID
	p.IsRespondent = userID != "" && userID == respondentID

	if order != nil {
		p.IsClient = userID != "" && userID == order.ClientID.Key()
		p.IsProfessional = userID != "" && userID == order.ProfessionalID.Key()
	} else {
		p.IsClient = p.IsClaimant
		p.IsProfessional = p.IsRespondent
	}

	p.RespondentHasReplied = respondentHasReplied(d, respondentID)
	// The negotiation phase keys off the latest message, not the status
	// field, so the UI stays ahead of a lagging status refresh.
	p.NegotiationActive = d.Status == models.DisputeStatusNegotiation || p.RespondentHasReplied

	paidCount := arbitrationPayerCount(d)
	p.BothFeesPaid = paidCount >= 2
	p.FeePaidByUser = d.HasPaidArbitration(userID)

	p.ActiveDeadline, p.Deadline = selectDeadline(d, p.NegotiationActive, paidCount)
	p.Remaining = remaining(p.Deadline, p.BothFeesPaid, d.Status, now)

	p.OutstandingOffer = outstandingOffer(d, p.IsClient)
	negotiable := d.Status == models.DisputeStatusOpen || d.Status == models.DisputeStatusNegotiation
	p.CanRespondToOffer = negotiable && p.OutstandingOffer != nil

	if negotiable && (p.IsClient || p.IsProfessional) {
		bounds := offerBounds(d, order, p.IsClient)
		p.OfferBounds = &bounds
	}

	p.CanRequestArbitration = negotiable && p.NegotiationActive && !p.FeePaidByUser
	if p.CanRequestArbitration && d.NegotiationDeadline != nil {
		p.ArbitrationNeedsWarning = now.Before(*d.NegotiationDeadline)
	}

	if d.Status == models.DisputeStatusClosed {
		p.Resolution = resolutionSummary(d)
	}

	return p
}

// respondentHasReplied is true once any message is authored by the
// respondent, or the server stamped an explicit response time.
func respondentHasReplied(d *models.Dispute, respondentID string) bool {
	if d.RespondedAt != nil {
		return true
	}
	if respondentID == "" {
		return false
	}
	for _, msg := range d.Messages {
		if msg.UserID.Key() == respondentID {
			return true
		}
	}
	return false
}

// arbitrationPayerCount counts distinct paying parties. At most two are
// meaningful.
func arbitrationPayerCount(d *models.Dispute) int {
	seen := make(map[string]struct{}, 2)
	for _, payment := range d.ArbitrationPayments {
		seen[payment.UserID.Key()] = struct{}{}
	}
	if len(seen) > 2 {
		return 2
	}
	return len(seen)
}

// deadlineRule pairs a trigger predicate with the deadline it selects.
type deadlineRule struct {
	kind     DeadlineKind
	applies  func() bool
	deadline *time.Time
}

// selectDeadline picks the single governing deadline. Rules are ordered
// by priority: a later-stage deadline pre-empts an earlier one as soon
// as its trigger holds.
func selectDeadline(d *models.Dispute, negotiationActive bool, paidCount int) (DeadlineKind, *time.Time) {
	if d.Status == models.DisputeStatusClosed {
		return DeadlineNone, nil
	}

	rules := []deadlineRule{
		{
			kind: DeadlineArbitrationFee,
			applies: func() bool {
				return paidCount == 1 && d.Status != models.DisputeStatusAdminArbitration
			},
			deadline: d.ArbitrationFeeDeadline,
		},
		{
			kind:     DeadlineNegotiation,
			applies:  func() bool { return negotiationActive },
			deadline: d.NegotiationDeadline,
		},
		{
			kind:     DeadlineResponse,
			applies:  func() bool { return true },
			deadline: d.ResponseDeadline,
		},
	}

	for _, rule := range rules {
		if rule.applies() {
			return rule.kind, rule.deadline
		}
	}
	return DeadlineNone, nil
}

// remaining computes the countdown. Once both fees are paid the clock
// is forced to zero regardless of wall time.
func remaining(deadline *time.Time, bothFeesPaid bool, status string, now time.Time) time.Duration {
	if bothFeesPaid || status == models.DisputeStatusClosed || deadline == nil {
		return 0
	}
	left := deadline.Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// outstandingOffer is the opposing party's offer awaiting the viewer's
// response.
func outstandingOffer(d *models.Dispute, viewerIsClient bool) *int64 {
	if viewerIsClient {
		return d.ProfessionalOffer
	}
	return d.ClientOffer
}

// offerBounds computes the viewer's legal next-offer range. The ceiling
// is the dispute amount, or the order's refundable amount when lower.
func offerBounds(d *models.Dispute, order *models.Order, viewerIsClient bool) OfferBounds {
	ceiling := d.Amount
	if order != nil && order.RefundableAmount != nil && *order.RefundableAmount < ceiling {
		ceiling = *order.RefundableAmount
	}

	if viewerIsClient {
		// A client may only raise their offer across submissions.
		min := int64(0)
		if d.ClientOffer != nil {
			min = *d.ClientOffer
		}
		return OfferBounds{Min: min, Max: ceiling}
	}

	// A professional may only lower theirs.
	max := ceiling
	if d.ProfessionalOffer != nil && *d.ProfessionalOffer < max {
		max = *d.ProfessionalOffer
	}
	return OfferBounds{Min: 0, Max: max}
}

// resolutionSummary renders the terminal narrative for a closed
// dispute. The three paths are mutually exclusive by construction.
func resolutionSummary(d *models.Dispute) string {
	if d.AdminDecision != nil {
		winner := d.AdminDecision.WinnerID.Name
		if winner == "" {
			winner = d.AdminDecision.WinnerID.Key()
		}
		summary := "The arbitration team resolved this dispute in favour of " + winner + "."
		if d.FinalAmount != nil {
			summary += " Awarded amount: " + util.FormatPence(*d.FinalAmount) + "."
		}
		if d.AdminDecision.Rationale != "" {
			summary += " Reason: " + d.AdminDecision.Rationale
		}
		return summary
	}

	if !d.AcceptedBy.IsZero() {
		party := d.AcceptedBy.Name
		if party == "" {
			party = d.AcceptedBy.Key()
		}
		if d.AcceptedByRole != "" {
			party = "the " + d.AcceptedByRole
		}
		amount := settlementAmount(d)
		return "This dispute was settled when " + party + " accepted the offer of " + util.FormatPence(amount) + "."
	}

	return "This dispute was closed automatically after a deadline expired without agreement."
}

// settlementAmount prefers the server's final amount, falling back to
// whichever offer was on the table.
func settlementAmount(d *models.Dispute) int64 {
	if d.FinalAmount != nil {
		return *d.FinalAmount
	}
	if d.AcceptedByRole == models.RoleClient && d.ProfessionalOffer != nil {
		return *d.ProfessionalOffer
	}
	if d.AcceptedByRole == models.RoleProfessional && d.ClientOffer != nil {
		return *d.ClientOffer
	}
	if d.ClientOffer != nil {
		return *d.ClientOffer
	}
	if d.ProfessionalOffer != nil {
		return *d.ProfessionalOffer
	}
	return 0
}
