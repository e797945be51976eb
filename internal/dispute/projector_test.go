package dispute

import (
	"testing"
	"time"

	"storefront-session/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var projNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func ptrTime(t time.Time) *time.Time { return &t }
func ptrInt64(v int64) *int64        { return &v }

func baseDispute() *models.Dispute {
	return &models.Dispute{
		ID:           "disp-1",
		OrderID:      "order-1",
		ClaimantID:   models.ActorRef{ID: "client-1"},
		RespondentID: models.ActorRef{ID: "pro-1"},
		Amount:       10000,
		Status:       models.DisputeStatusOpen,
	}
}

func baseOrder(d *models.Dispute) *models.Order {
	return &models.Order{
		ID:             "order-1",
		ClientID:       models.ActorRef{ID: "client-1"},
		ProfessionalID: models.ActorRef{ID: "pro-1"},
		TotalAmount:    10000,
		Dispute:        d,
	}
}

func TestProjectRoles(t *testing.T) {
	d := baseDispute()
	o := baseOrder(d)

	client := Project(d, o, "client-1", projNow)
	assert.True(t, client.IsClaimant)
	assert.True(t, client.IsClient)
	assert.False(t, client.IsProfessional)

	pro := Project(d, o, "pro-1", projNow)
	assert.True(t, pro.IsRespondent)
	assert.True(t, pro.IsProfessional)
	assert.False(t, pro.IsClient)

	stranger := Project(d, o, "someone-else", projNow)
	assert.False(t, stranger.IsClaimant)
	assert.False(t, stranger.IsRespondent)
}

func TestProjectRolesWithPopulatedActorRefs(t *testing.T) {
	d := baseDispute()
	d.ClaimantID = models.ActorRef{ID: "client-1", Name: "Alice", Populated: true}
	o := baseOrder(d)
	o.ClientID = models.ActorRef{ID: "client-1", Name: "Alice", Populated: true}

	// Populated objects and raw id strings must compare equal
	proj := Project(d, o, "client-1", projNow)
	assert.True(t, proj.IsClaimant)
	assert.True(t, proj.IsClient)
}

func TestProjectWithoutOrderAssumesClaimantIsClient(t *testing.T) {
	d := baseDispute()

	proj := Project(d, nil, "client-1", projNow)
	assert.True(t, proj.IsClient)
	assert.False(t, proj.IsProfessional)
}

func TestRespondentHasRepliedViaMessage(t *testing.T) {
	d := baseDispute()
	d.Messages = []models.DisputeMessage{
		{UserID: models.ActorRef{ID: "client-1"}, Text: "where is my refund"},
	}

	proj := Project(d, baseOrder(d), "client-1", projNow)
	assert.False(t, proj.RespondentHasReplied)
	assert.False(t, proj.NegotiationActive)

	// A respondent message flips negotiation on even while the status
	// field still says open
	d.Messages = append(d.Messages, models.DisputeMessage{
		UserID: models.ActorRef{ID: "pro-1"}, Text: "the work was done",
	})
	proj = Project(d, baseOrder(d), "client-1", projNow)
	assert.True(t, proj.RespondentHasReplied)
	assert.True(t, proj.NegotiationActive)
}

func TestRespondentHasRepliedViaTimestamp(t *testing.T) {
	d := baseDispute()
	d.RespondedAt = ptrTime(projNow.Add(-time.Hour))

	proj := Project(d, baseOrder(d), "client-1", projNow)
	assert.True(t, proj.RespondentHasReplied)
}

func TestDeadlineDefaultsToResponse(t *testing.T) {
	d := baseDispute()
	d.ResponseDeadline = ptrTime(projNow.Add(24 * time.Hour))

	proj := Project(d, baseOrder(d), "client-1", projNow)
	assert.Equal(t, DeadlineResponse, proj.ActiveDeadline)
	assert.Equal(t, 24*time.Hour, proj.Remaining)
}

func TestNegotiationDeadlinePreemptsResponse(t *testing.T) {
	d := baseDispute()
	d.Status = models.DisputeStatusNegotiation
	d.ResponseDeadline = ptrTime(projNow.Add(24 * time.Hour))
	d.NegotiationDeadline = ptrTime(projNow.Add(72 * time.Hour))

	proj := Project(d, baseOrder(d), "client-1", projNow)
	assert.Equal(t, DeadlineNegotiation, proj.ActiveDeadline)
	assert.Equal(t, 72*time.Hour, proj.Remaining)
}

func TestArbitrationFeeDeadlinePreemptsNegotiation(t *testing.T) {
	d := baseDispute()
	d.Status = models.DisputeStatusNegotiation
	d.NegotiationDeadline = ptrTime(projNow.Add(72 * time.Hour))
	d.ArbitrationFeeDeadline = ptrTime(projNow.Add(48 * time.Hour))
	d.ArbitrationPayments = []models.ArbitrationPayment{
		{UserID: models.ActorRef{ID: "client-1"}, Amount: 1500, PaidAt: projNow.Add(-time.Hour)},
	}

	proj := Project(d, baseOrder(d), "pro-1", projNow)
	assert.Equal(t, DeadlineArbitrationFee, proj.ActiveDeadline)
	assert.Equal(t, 48*time.Hour, proj.Remaining)
	assert.False(t, proj.BothFeesPaid)
	assert.False(t, proj.FeePaidByUser)
}

func TestBothFeesPaidForcesZeroCountdown(t *testing.T) {
	d := baseDispute()
	d.Status = models.DisputeStatusAdminArbitration
	d.ArbitrationFeeDeadline = ptrTime(projNow.Add(48 * time.Hour))
	d.ArbitrationPayments = []models.ArbitrationPayment{
		{UserID: models.ActorRef{ID: "client-1"}, Amount: 1500},
		{UserID: models.ActorRef{ID: "pro-1"}, Amount: 1500},
	}

	proj := Project(d, baseOrder(d), "client-1", projNow)
	assert.True(t, proj.BothFeesPaid)
	assert.True(t, proj.FeePaidByUser)
	assert.Equal(t, time.Duration(0), proj.Remaining)
}

func TestDuplicatePaymentsBySamePartyCountOnce(t *testing.T) {
	d := baseDispute()
	d.Status = models.DisputeStatusNegotiation
	d.ArbitrationFeeDeadline = ptrTime(projNow.Add(48 * time.Hour))
	d.ArbitrationPayments = []models.ArbitrationPayment{
		{UserID: models.ActorRef{ID: "client-1"}, Amount: 1500},
		{UserID: models.ActorRef{ID: "client-1"}, Amount: 1500},
	}

	proj := Project(d, baseOrder(d), "client-1", projNow)
	assert.False(t, proj.BothFeesPaid)
	assert.Equal(t, DeadlineArbitrationFee, proj.ActiveDeadline)
}

func TestClosedDisputeHasNoDeadline(t *testing.T) {
	d := baseDispute()
	d.Status = models.DisputeStatusClosed
	d.ResponseDeadline = ptrTime(projNow.Add(24 * time.Hour))

	proj := Project(d, baseOrder(d), "client-1", projNow)
	assert.Equal(t, DeadlineNone, proj.ActiveDeadline)
	assert.Nil(t, proj.Deadline)
	assert.Equal(t, time.Duration(0), proj.Remaining)
}

func TestExpiredDeadlineClampsToZero(t *testing.T) {
	d := baseDispute()
	d.ResponseDeadline = ptrTime(projNow.Add(-time.Hour))

	proj := Project(d, baseOrder(d), "client-1", projNow)
	assert.Equal(t, time.Duration(0), proj.Remaining)
}

func TestClientOfferBoundsRatchetUpward(t *testing.T) {
	d := baseDispute()
	d.ClientOffer = ptrInt64(5000)

	proj := Project(d, baseOrder(d), "client-1", projNow)
	require.NotNil(t, proj.OfferBounds)
	assert.Equal(t, int64(5000), proj.OfferBounds.Min)
	assert.Equal(t, int64(10000), proj.OfferBounds.Max)
}

func TestProfessionalOfferBoundsRatchetDownward(t *testing.T) {
	d := baseDispute()
	d.ProfessionalOffer = ptrInt64(8000)

	proj := Project(d, baseOrder(d), "pro-1", projNow)
	require.NotNil(t, proj.OfferBounds)
	assert.Equal(t, int64(0), proj.OfferBounds.Min)
	assert.Equal(t, int64(8000), proj.OfferBounds.Max)
}

func TestOfferCeilingCappedByRefundableAmount(t *testing.T) {
	d := baseDispute()
	o := baseOrder(d)
	o.RefundableAmount = ptrInt64(6000)

	proj := Project(d, o, "client-1", projNow)
	require.NotNil(t, proj.OfferBounds)
	assert.Equal(t, int64(6000), proj.OfferBounds.Max)
}

func TestNoOfferBoundsOnceClosed(t *testing.T) {
	d := baseDispute()
	d.Status = models.DisputeStatusClosed

	proj := Project(d, baseOrder(d), "client-1", projNow)
	assert.Nil(t, proj.OfferBounds)
}

func TestOutstandingOfferAndRespondGating(t *testing.T) {
	d := baseDispute()
	d.ProfessionalOffer = ptrInt64(4000)

	// The client sees the professional's offer and can respond
	client := Project(d, baseOrder(d), "client-1", projNow)
	require.NotNil(t, client.OutstandingOffer)
	assert.Equal(t, int64(4000), *client.OutstandingOffer)
	assert.True(t, client.CanRespondToOffer)

	// The professional has nothing to respond to
	pro := Project(d, baseOrder(d), "pro-1", projNow)
	assert.Nil(t, pro.OutstandingOffer)
	assert.False(t, pro.CanRespondToOffer)
}

func TestArbitrationGating(t *testing.T) {
	d := baseDispute()
	d.Status = models.DisputeStatusNegotiation
	d.NegotiationDeadline = ptrTime(projNow.Add(24 * time.Hour))

	proj := Project(d, baseOrder(d), "client-1", projNow)
	assert.True(t, proj.CanRequestArbitration)
	assert.True(t, proj.ArbitrationNeedsWarning, "deadline still ahead")

	// Past the negotiation deadline no warning is needed
	d.NegotiationDeadline = ptrTime(projNow.Add(-time.Hour))
	proj = Project(d, baseOrder(d), "client-1", projNow)
	assert.True(t, proj.CanRequestArbitration)
	assert.False(t, proj.ArbitrationNeedsWarning)

	// A party that already paid cannot request again
	d.ArbitrationPayments = []models.ArbitrationPayment{
		{UserID: models.ActorRef{ID: "client-1"}, Amount: 1500},
	}
	proj = Project(d, baseOrder(d), "client-1", projNow)
	assert.False(t, proj.CanRequestArbitration)
}

func TestArbitrationUnavailableBeforeNegotiation(t *testing.T) {
	d := baseDispute()

	proj := Project(d, baseOrder(d), "client-1", projNow)
	assert.False(t, proj.CanRequestArbitration)
}

func TestResolutionAdminDecision(t *testing.T) {
	d := baseDispute()
	d.Status = models.DisputeStatusClosed
	d.AdminDecision = &models.AdminDecision{
		WinnerID:  models.ActorRef{ID: "client-1", Name: "Alice", Populated: true},
		Rationale: "Evidence supported the claim.",
	}
	d.FinalAmount = ptrInt64(7500)

	proj := Project(d, baseOrder(d), "client-1", projNow)
	assert.Contains(t, proj.Resolution, "in favour of Alice")
	assert.Contains(t, proj.Resolution, "£75.00")
	assert.Contains(t, proj.Resolution, "Evidence supported the claim.")
}

func TestResolutionAcceptance(t *testing.T) {
	d := baseDispute()
	d.Status = models.DisputeStatusClosed
	d.ProfessionalOffer = ptrInt64(4000)
	d.AcceptedBy = models.ActorRef{ID: "client-1"}
	d.AcceptedByRole = models.RoleClient

	proj := Project(d, baseOrder(d), "client-1", projNow)
	assert.Contains(t, proj.Resolution, "the client accepted the offer")
	assert.Contains(t, proj.Resolution, "£40.00")
}

func TestResolutionDeadlineExpiry(t *testing.T) {
	d := baseDispute()
	d.Status = models.DisputeStatusClosed

	proj := Project(d, baseOrder(d), "client-1", projNow)
	assert.Contains(t, proj.Resolution, "closed automatically after a deadline expired")
}

func TestNoResolutionWhileOpen(t *testing.T) {
	d := baseDispute()

	proj := Project(d, baseOrder(d), "client-1", projNow)
	assert.Empty(t, proj.Resolution)
}

func TestNilDisputeProjectsEmpty(t *testing.T) {
	proj := Project(nil, nil, "client-1", projNow)
	assert.Equal(t, DeadlineNone, proj.ActiveDeadline)
	assert.False(t, proj.CanRespondToOffer)
}
