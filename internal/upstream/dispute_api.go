package upstream

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"

	"storefront-session/internal/models"
	"storefront-session/internal/util"
)

// Attachment is a file uploaded alongside a dispute message.
type Attachment struct {
	Filename string
	Content  []byte
}

// ArbitrationResponse is the upstream reply to a request-arbitration
// call. A non-empty RedirectURL means completion is deferred to an
// external round-trip (PayPal) and must be resumed via the capture call.
type ArbitrationResponse struct {
	Dispute     *models.Dispute `json:"dispute"`
	RedirectURL string          `json:"redirectUrl,omitempty"`
}

// DisputeAPI covers the order/dispute endpoints. Mutating calls return
// the post-mutation dispute snapshot; callers still re-fetch rather
// than patching local state incrementally.
type DisputeAPI interface {
	FetchOrders(ctx context.Context) ([]models.Order, error)
	FetchOrder(ctx context.Context, orderID string) (*models.Order, error)
	PostMessage(ctx context.Context, orderID, text string, attachments []Attachment) (*models.Dispute, error)
	SubmitOffer(ctx context.Context, orderID string, amount int64) (*models.Dispute, error)
	AcceptOffer(ctx context.Context, orderID string) (*models.Dispute, error)
	RejectOffer(ctx context.Context, orderID string) (*models.Dispute, error)
	RequestArbitration(ctx context.Context, orderID, paymentMethod, paymentMethodID string) (*ArbitrationResponse, error)
	CapturePayPalArbitration(ctx context.Context, orderID, paypalOrderID string) (*models.Dispute, error)
	CancelDispute(ctx context.Context, orderID string) (*models.Dispute, error)
}

type disputeClient struct {
	client *Client
	cookie string
}

type ordersPayload struct {
	Orders []models.Order `json:"orders"`
}

type orderPayload struct {
	Order *models.Order `json:"order"`
}

type disputePayload struct {
	Dispute *models.Dispute `json:"dispute"`
}

func (dc *disputeClient) FetchOrders(ctx context.Context) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "upstream.FetchOrders")
	defer span.End()

	var payload ordersPayload
	if err := dc.client.doJSON(ctx, http.MethodGet, "/api/orders", dc.cookie, "orders.fetch", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Orders, nil
}

func (dc *disputeClient) FetchOrder(ctx context.Context, orderID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "upstream.FetchOrder")
	defer span.End()

	var payload orderPayload
	path := "/api/orders/" + url.PathEscape(orderID)
	if err := dc.client.doJSON(ctx, http.MethodGet, path, dc.cookie, "order.fetch", nil, &payload); err != nil {
		return nil, err
	}
	if payload.Order == nil {
		return nil, fmt.Errorf("order %s missing from response", orderID)
	}
	return payload.Order, nil
}

// PostMessage uploads a dispute message as multipart form data with
// optional attachments.
func (dc *disputeClient) PostMessage(ctx context.Context, orderID, text string, attachments []Attachment) (*models.Dispute, error) {
	ctx, span := util.StartSpan(ctx, "upstream.PostMessage")
	defer span.End()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("message", text); err != nil {
		return nil, fmt.Errorf("failed to write message field: %w", err)
	}
	for _, att := range attachments {
		part, err := writer.CreateFormFile("attachments[]", att.Filename)
		if err != nil {
			return nil, fmt.Errorf("failed to create attachment part: %w", err)
		}
		if _, err := part.Write(att.Content); err != nil {
			return nil, fmt.Errorf("failed to write attachment %s: %w", att.Filename, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	path := dc.disputePath(orderID, "message")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dc.client.baseURL+path, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var payload disputePayload
	if err := dc.client.do(req, dc.cookie, "dispute.message", &payload); err != nil {
		return nil, err
	}
	return payload.Dispute, nil
}

func (dc *disputeClient) SubmitOffer(ctx context.Context, orderID string, amount int64) (*models.Dispute, error) {
	ctx, span := util.StartSpan(ctx, "upstream.SubmitOffer")
	defer span.End()

	body := map[string]int64{"amount": amount}
	var payload disputePayload
	if err := dc.client.doJSON(ctx, http.MethodPost, dc.disputePath(orderID, "offer"), dc.cookie, "dispute.offer", body, &payload); err != nil {
		return nil, err
	}
	return payload.Dispute, nil
}

func (dc *disputeClient) AcceptOffer(ctx context.Context, orderID string) (*models.Dispute, error) {
	ctx, span := util.StartSpan(ctx, "upstream.AcceptOffer")
	defer span.End()

	var payload disputePayload
	if err := dc.client.doJSON(ctx, http.MethodPost, dc.disputePath(orderID, "offer/accept"), dc.cookie, "dispute.accept", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Dispute, nil
}

func (dc *disputeClient) RejectOffer(ctx context.Context, orderID string) (*models.Dispute, error) {
	ctx, span := util.StartSpan(ctx, "upstream.RejectOffer")
	defer span.End()

	var payload disputePayload
	if err := dc.client.doJSON(ctx, http.MethodPost, dc.disputePath(orderID, "offer/reject"), dc.cookie, "dispute.reject", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Dispute, nil
}

func (dc *disputeClient) RequestArbitration(ctx context.Context, orderID, paymentMethod, paymentMethodID string) (*ArbitrationResponse, error) {
	ctx, span := util.StartSpan(ctx, "upstream.RequestArbitration")
	defer span.End()

	body := map[string]string{"paymentMethod": paymentMethod}
	if paymentMethodID != "" {
		body["paymentMethodId"] = paymentMethodID
	}
	var payload ArbitrationResponse
	if err := dc.client.doJSON(ctx, http.MethodPost, dc.disputePath(orderID, "request-arbitration"), dc.cookie, "dispute.arbitration", body, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (dc *disputeClient) CapturePayPalArbitration(ctx context.Context, orderID, paypalOrderID string) (*models.Dispute, error) {
	ctx, span := util.StartSpan(ctx, "upstream.CapturePayPalArbitration")
	defer span.End()

	body := map[string]string{"paypalOrderId": paypalOrderID}
	var payload disputePayload
	if err := dc.client.doJSON(ctx, http.MethodPost, dc.disputePath(orderID, "capture-paypal-arbitration"), dc.cookie, "dispute.capture", body, &payload); err != nil {
		return nil, err
	}
	return payload.Dispute, nil
}

func (dc *disputeClient) CancelDispute(ctx context.Context, orderID string) (*models.Dispute, error) {
	ctx, span := util.StartSpan(ctx, "upstream.CancelDispute")
	defer span.End()

	var payload disputePayload
	if err := dc.client.doJSON(ctx, http.MethodPost, dc.disputePath(orderID, "cancel"), dc.cookie, "dispute.cancel", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Dispute, nil
}

func (dc *disputeClient) disputePath(orderID, action string) string {
	return "/api/orders/" + url.PathEscape(orderID) + "/dispute/" + action
}
