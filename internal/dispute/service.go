package dispute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront-session/internal/broker"
	"storefront-session/internal/models"
	"storefront-session/internal/redisclient"
	"storefront-session/internal/upstream"
	"storefront-session/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Validation errors, caught before any network call.
var (
	ErrNoDispute              = errors.New("order has no dispute")
	ErrEmptyMessage           = errors.New("message text is required")
	ErrOfferNotAllowed        = errors.New("offers are not accepted at this stage")
	ErrOfferBelowMinimum      = errors.New("offer is below the minimum allowed")
	ErrOfferAboveMaximum      = errors.New("offer is above the maximum allowed")
	ErrNoOutstandingOffer     = errors.New("there is no offer to respond to")
	ErrArbitrationUnavailable = errors.New("arbitration cannot be requested yet")
	ErrConfirmationRequired   = errors.New("the negotiation deadline has not passed yet, confirmation required")
	ErrInvalidPaymentMethod   = errors.New("invalid payment method")
	ErrMissingPayPalOrder     = errors.New("paypal order id is required")
)

// APIFactory hands out session-scoped dispute APIs. *upstream.Client
// satisfies it.
type APIFactory interface {
	Disputes(sessionCookie string) upstream.DisputeAPI
}

const snapshotTTL = 5 * time.Minute

// Service executes dispute actions: validate locally, call upstream,
// re-fetch the authoritative record, publish an activity event. A
// failed upstream call surfaces the server's message and leaves derived
// state untouched.
type Service struct {
	api    APIFactory
	redis  *redisclient.Client
	events *broker.EventPublisher
	logger *zap.Logger
}

// NewService creates a dispute service. redis and events may be nil.
func NewService(api APIFactory, redis *redisclient.Client, events *broker.EventPublisher) *Service {
	return &Service{
		api:    api,
		redis:  redis,
		events: events,
		logger: util.Named("dispute"),
	}
}

// View fetches the order and derives the viewer's projection.
func (s *Service) View(ctx context.Context, cookie, userID, orderID string) (*models.Order, Projection, error) {
	ctx, span := util.StartSpan(ctx, "dispute.View")
	defer span.End()

	order, err := s.api.Disputes(cookie).FetchOrder(ctx, orderID)
	if err != nil {
		return nil, Projection{}, err
	}
	proj := s.projectAndTrack(ctx, order, userID)
	return order, proj, nil
}

// PostMessage appends a message (with optional attachments) to the
// dispute conversation.
func (s *Service) PostMessage(ctx context.Context, cookie, userID, orderID, text string, attachments []upstream.Attachment) (*models.Order, Projection, error) {
	ctx, span := util.StartSpan(ctx, "dispute.PostMessage")
	defer span.End()

	if text == "" && len(attachments) == 0 {
		return nil, Projection{}, ErrEmptyMessage
	}

	api := s.api.Disputes(cookie)
	if _, err := api.PostMessage(ctx, orderID, text, attachments); err != nil {
		s.recordAction(ctx, orderID, userID, models.ActionMessage, 0, err)
		return nil, Projection{}, err
	}
	return s.refetch(ctx, api, orderID, userID, models.ActionMessage, 0)
}

// SubmitOffer validates the amount against the viewer's legal bounds
// before any network call, then submits and re-fetches.
func (s *Service) SubmitOffer(ctx context.Context, cookie, userID, orderID string, amount int64) (*models.Order, Projection, error) {
	ctx, span := util.StartSpan(ctx, "dispute.SubmitOffer")
	defer span.End()

	api := s.api.Disputes(cookie)
	order, err := api.FetchOrder(ctx, orderID)
	if err != nil {
		return nil, Projection{}, err
	}
	if order.Dispute == nil {
		return nil, Projection{}, ErrNoDispute
	}

	proj := Project(order.Dispute, order, userID, time.Now())
	if err := validateOffer(proj, amount); err != nil {
		return nil, Projection{}, err
	}

	if _, err := api.SubmitOffer(ctx, orderID, amount); err != nil {
		s.recordAction(ctx, orderID, userID, models.ActionOffer, amount, err)
		return nil, Projection{}, err
	}
	return s.refetch(ctx, api, orderID, userID, models.ActionOffer, amount)
}

// AcceptOffer accepts the opposing party's outstanding offer. Accepting
// closes the dispute and moves money, so the orders list must be
// re-fetched alongside the order.
func (s *Service) AcceptOffer(ctx context.Context, cookie, userID, orderID string) (*models.Order, Projection, error) {
	return s.respondToOffer(ctx, cookie, userID, orderID, models.ActionAcceptOffer)
}

// RejectOffer declines the opposing party's outstanding offer.
func (s *Service) RejectOffer(ctx context.Context, cookie, userID, orderID string) (*models.Order, Projection, error) {
	return s.respondToOffer(ctx, cookie, userID, orderID, models.ActionRejectOffer)
}

func (s *Service) respondToOffer(ctx context.Context, cookie, userID, orderID, action string) (*models.Order, Projection, error) {
	ctx, span := util.StartSpan(ctx, "dispute.RespondToOffer")
	defer span.End()

	api := s.api.Disputes(cookie)
	order, err := api.FetchOrder(ctx, orderID)
	if err != nil {
		return nil, Projection{}, err
	}
	if order.Dispute == nil {
		return nil, Projection{}, ErrNoDispute
	}
	proj := Project(order.Dispute, order, userID, time.Now())
	if !proj.CanRespondToOffer {
		return nil, Projection{}, ErrNoOutstandingOffer
	}

	var callErr error
	if action == models.ActionAcceptOffer {
		_, callErr = api.AcceptOffer(ctx, orderID)
	} else {
		_, callErr = api.RejectOffer(ctx, orderID)
	}
	if callErr != nil {
		s.recordAction(ctx, orderID, userID, action, 0, callErr)
		return nil, Projection{}, callErr
	}

	// Acceptance moves money: refresh the orders list as well as the
	// order itself so downstream views converge.
	if _, err := api.FetchOrders(ctx); err != nil {
		s.logger.Warn("failed to refresh orders after offer response", zap.Error(err))
	}
	return s.refetch(ctx, api, orderID, userID, action, 0)
}

// ArbitrationResult is the outcome of a request-arbitration call. A
// non-empty RedirectURL means the fee payment completes externally
// (PayPal) and must be resumed with CapturePayPalArbitration.
type ArbitrationResult struct {
	Order       *models.Order
	Projection  Projection
	RedirectURL string
}

// RequestArbitration escalates the dispute to the arbitration team.
// While the negotiation deadline has not passed, the caller must set
// confirmed to acknowledge the early-escalation warning; no upstream
// call happens otherwise.
func (s *Service) RequestArbitration(ctx context.Context, cookie, userID, orderID, paymentMethod, paymentMethodID string, confirmed bool) (*ArbitrationResult, error) {
	ctx, span := util.StartSpan(ctx, "dispute.RequestArbitration")
	defer span.End()

	api := s.api.Disputes(cookie)
	order, err := api.FetchOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Dispute == nil {
		return nil, ErrNoDispute
	}

	proj := Project(order.Dispute, order, userID, time.Now())
	if !proj.CanRequestArbitration {
		return nil, ErrArbitrationUnavailable
	}
	if proj.ArbitrationNeedsWarning && !confirmed {
		return nil, ErrConfirmationRequired
	}
	if err := validatePaymentMethod(paymentMethod, paymentMethodID); err != nil {
		return nil, err
	}

	resp, err := api.RequestArbitration(ctx, orderID, paymentMethod, paymentMethodID)
	if err != nil {
		s.recordAction(ctx, orderID, userID, models.ActionRequestArbitration, 0, err)
		return nil, err
	}

	if resp.RedirectURL != "" {
		// Payment completes via an external round-trip; nothing to
		// re-fetch until the capture step.
		s.recordAction(ctx, orderID, userID, models.ActionRequestArbitration, 0, nil)
		return &ArbitrationResult{Order: order, Projection: proj, RedirectURL: resp.RedirectURL}, nil
	}

	refreshed, refreshedProj, err := s.refetch(ctx, api, orderID, userID, models.ActionRequestArbitration, 0)
	if err != nil {
		return nil, err
	}
	return &ArbitrationResult{Order: refreshed, Projection: refreshedProj}, nil
}

// CapturePayPalArbitration resumes a deferred PayPal fee payment after
// the return-URL round-trip.
func (s *Service) CapturePayPalArbitration(ctx context.Context, cookie, userID, orderID, paypalOrderID string) (*models.Order, Projection, error) {
	ctx, span := util.StartSpan(ctx, "dispute.CapturePayPalArbitration")
	defer span.End()

	if paypalOrderID == "" {
		return nil, Projection{}, ErrMissingPayPalOrder
	}

	api := s.api.Disputes(cookie)
	if _, err := api.CapturePayPalArbitration(ctx, orderID, paypalOrderID); err != nil {
		s.recordAction(ctx, orderID, userID, models.ActionCapturePayPal, 0, err)
		return nil, Projection{}, err
	}
	return s.refetch(ctx, api, orderID, userID, models.ActionCapturePayPal, 0)
}

// Cancel withdraws the dispute.
func (s *Service) Cancel(ctx context.Context, cookie, userID, orderID string) (*models.Order, Projection, error) {
	ctx, span := util.StartSpan(ctx, "dispute.Cancel")
	defer span.End()

	api := s.api.Disputes(cookie)
	if _, err := api.CancelDispute(ctx, orderID); err != nil {
		s.recordAction(ctx, orderID, userID, models.ActionCancel, 0, err)
		return nil, Projection{}, err
	}
	return s.refetch(ctx, api, orderID, userID, models.ActionCancel, 0)
}

// refetch pulls the authoritative order after a successful action,
// records the action and re-derives the projection.
func (s *Service) refetch(ctx context.Context, api upstream.DisputeAPI, orderID, userID, action string, amount int64) (*models.Order, Projection, error) {
	s.recordAction(ctx, orderID, userID, action, amount, nil)

	order, err := api.FetchOrder(ctx, orderID)
	if err != nil {
		return nil, Projection{}, fmt.Errorf("action succeeded but refetch failed: %w", err)
	}
	proj := s.projectAndTrack(ctx, order, userID)
	return order, proj, nil
}

// projectAndTrack derives the projection, caches the dispute snapshot
// and keeps the deadline worker's watch list current.
func (s *Service) projectAndTrack(ctx context.Context, order *models.Order, userID string) Projection {
	if order.Dispute == nil {
		return Projection{ActiveDeadline: DeadlineNone}
	}
	proj := Project(order.Dispute, order, userID, time.Now())

	if s.redis == nil {
		return proj
	}
	if err := s.redis.CacheDisputeSnapshot(ctx, order.ID, order.Dispute, snapshotTTL); err != nil {
		s.logger.Warn("failed to cache dispute snapshot", zap.Error(err))
	}

	if order.Dispute.Status == models.DisputeStatusClosed || proj.Deadline == nil {
		if err := s.redis.UnwatchDeadline(ctx, order.ID); err != nil {
			s.logger.Warn("failed to unwatch deadline", zap.Error(err))
		}
		return proj
	}

	wd := redisclient.WatchedDeadline{
		OrderID:   order.ID,
		DisputeID: order.Dispute.ID,
		Kind:      string(proj.ActiveDeadline),
		ExpiresAt: *proj.Deadline,
	}
	if err := s.redis.WatchDeadline(ctx, wd); err != nil {
		s.logger.Warn("failed to watch deadline", zap.Error(err))
	}
	return proj
}

func (s *Service) recordAction(ctx context.Context, orderID, userID, action string, amount int64, actionErr error) {
	outcome := "success"
	if actionErr != nil {
		outcome = "error"
	}
	util.DisputeActionsTotal.WithLabelValues(action, outcome).Inc()

	if s.events == nil {
		return
	}
	event := &models.DisputeActionEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeDisputeAction,
			Timestamp: time.Now(),
		},
		OrderID:   orderID,
		UserID:    userID,
		Action:    action,
		Amount:    amount,
		Succeeded: actionErr == nil,
	}
	if actionErr != nil {
		event.Error = actionErr.Error()
	}
	if err := s.events.PublishDisputeAction(ctx, event); err != nil {
		s.logger.Warn("failed to publish dispute action event", zap.Error(err))
	}
}

// validateOffer rejects out-of-bounds offers before any network call.
func validateOffer(proj Projection, amount int64) error {
	if proj.OfferBounds == nil {
		util.OfferValidationRejections.WithLabelValues("not_allowed").Inc()
		return ErrOfferNotAllowed
	}
	if amount < proj.OfferBounds.Min {
		util.OfferValidationRejections.WithLabelValues("below_minimum").Inc()
		return fmt.Errorf("%w: minimum is %s", ErrOfferBelowMinimum, util.FormatPence(proj.OfferBounds.Min))
	}
	if amount > proj.OfferBounds.Max {
		util.OfferValidationRejections.WithLabelValues("above_maximum").Inc()
		return fmt.Errorf("%w: maximum is %s", ErrOfferAboveMaximum, util.FormatPence(proj.OfferBounds.Max))
	}
	return nil
}

func validatePaymentMethod(method, methodID string) error {
	switch method {
	case "wallet", "paypal":
		return nil
	case "card":
		if methodID == "" {
			return fmt.Errorf("%w: card payments need a payment method id", ErrInvalidPaymentMethod)
		}
		return nil
	default:
		return ErrInvalidPaymentMethod
	}
}
