package upstream

import (
	"context"
	"net/http"
	"net/url"

	"storefront-session/internal/models"
	"storefront-session/internal/util"
)

// CartAPI is the slice of the marketplace API the cart engine mirrors
// to. All endpoints return the authoritative {items} payload; the
// engine only consumes it on explicit fetches.
type CartAPI interface {
	FetchCart(ctx context.Context) ([]models.CartLine, error)
	UpsertItem(ctx context.Context, line models.CartLine) error
	UpdateItem(ctx context.Context, key string, patch models.CartLinePatch) error
	DeleteItem(ctx context.Context, key string) error
	ClearCart(ctx context.Context) error
}

type cartClient struct {
	client *Client
	cookie string
}

type cartPayload struct {
	Items []models.CartLine `json:"items"`
}

func (cc *cartClient) FetchCart(ctx context.Context) ([]models.CartLine, error) {
	ctx, span := util.StartSpan(ctx, "upstream.FetchCart")
	defer span.End()

	var payload cartPayload
	if err := cc.client.doJSON(ctx, http.MethodGet, "/api/cart", cc.cookie, "cart.fetch", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Items, nil
}

func (cc *cartClient) UpsertItem(ctx context.Context, line models.CartLine) error {
	ctx, span := util.StartSpan(ctx, "upstream.UpsertItem")
	defer span.End()

	return cc.client.doJSON(ctx, http.MethodPost, "/api/cart/items", cc.cookie, "cart.upsert", line, nil)
}

func (cc *cartClient) UpdateItem(ctx context.Context, key string, patch models.CartLinePatch) error {
	ctx, span := util.StartSpan(ctx, "upstream.UpdateItem")
	defer span.End()

	path := "/api/cart/items/" + url.PathEscape(key)
	return cc.client.doJSON(ctx, http.MethodPut, path, cc.cookie, "cart.update", patch, nil)
}

func (cc *cartClient) DeleteItem(ctx context.Context, key string) error {
	ctx, span := util.StartSpan(ctx, "upstream.DeleteItem")
	defer span.End()

	path := "/api/cart/items/" + url.PathEscape(key)
	return cc.client.doJSON(ctx, http.MethodDelete, path, cc.cookie, "cart.delete", nil, nil)
}

func (cc *cartClient) ClearCart(ctx context.Context) error {
	ctx, span := util.StartSpan(ctx, "upstream.ClearCart")
	defer span.End()

	return cc.client.doJSON(ctx, http.MethodDelete, "/api/cart", cc.cookie, "cart.clear", nil, nil)
}
