package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ariefcatur/storefront-orders/internal/apperr"
	"github.com/ariefcatur/storefront-orders/internal/logger"
	"github.com/ariefcatur/storefront-orders/internal/metrics"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/ariefcatur/storefront-orders/internal/redisx"
	"github.com/ariefcatur/storefront-orders/internal/validation"
)

const idempotencyHeader = "Idempotency-Key"

type OrderService interface {
	PlaceOrder(ctx context.Context, in orders.PlaceOrderInput) (*orders.Order, error)
	UpdateStatus(ctx context.Context, in orders.UpdateStatusInput) (*orders.Order, error)
	ListOrders(ctx context.Context, userID uuid.UUID) ([]orders.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*orders.Order, error)
}

// IdempotencyStore remembers which order an Idempotency-Key produced.
type IdempotencyStore interface {
	ClaimOrderKey(ctx context.Context, userID, key string) (redisx.Claim, error)
	CompleteOrderKey(ctx context.Context, userID, key, orderID string) error
	ReleaseOrderKey(ctx context.Context, userID, key string) error
}

type StatusCache interface {
	CachedStatus(ctx context.Context, orderID string) (redisx.StatusEntry, bool, error)
	CacheStatus(ctx context.Context, orderID string, e redisx.StatusEntry) error
	ForgetStatus(ctx context.Context, orderID string) error
}

type OrdersHandler struct {
	Orders OrderService
	// Optional. Without them Idempotency-Key is ignored and status reads go
	// to the store.
	Idempotency IdempotencyStore
	Cache       StatusCache
	Logger      *logger.Logger
	Metrics     *metrics.Metrics
}

type orderResponse struct {
	Message string        `json:"message,omitempty"`
	Order   *orders.Order `json:"order"`
}

type statusResponse struct {
	OrderID string `json:"order_id"`
	redisx.StatusEntry
	Cached bool `json:"cached"`
}

func (h *OrdersHandler) Register(r chi.Router, auth func(http.Handler) http.Handler) {
	if h.Logger == nil {
		h.Logger = logger.Nop()
	}
	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Post("/orders", h.createOrder)
		r.Put("/orders/status", h.updateStatus)
		r.Get("/orders", h.listOrders)
		r.Get("/orders/{id}", h.getOrder)
		r.Get("/orders/{id}/status", h.getStatus)
	})
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, _ := UserIDFrom(ctx)

	var in orders.PlaceOrderInput
	if err := validation.DecodeJSON(r.Body, &in); err != nil {
		writeError(ctx, h.Logger, w, err)
		return
	}
	if !strings.EqualFold(in.UserID, userID.String()) {
		writeError(ctx, h.Logger, w, apperr.New(apperr.CodeForbidden, "user_id does not match the authenticated user"))
		return
	}

	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	claimed := false
	if key != "" && h.Idempotency != nil {
		claim, err := h.Idempotency.ClaimOrderKey(ctx, userID.String(), key)
		switch {
		case err != nil:
			// the order store stays authoritative; carry on without the key
			h.Logger.Warn(ctx, "claim idempotency key", err)
		case claim.InProgress:
			writeError(ctx, h.Logger, w, apperr.New(apperr.CodeConflict, "a request with this Idempotency-Key is still in progress"))
			return
		case claim.OrderID != "":
			h.replay(w, r, userID, claim.OrderID)
			return
		default:
			claimed = true
		}
	}

	order, err := h.Orders.PlaceOrder(ctx, in)
	if err != nil {
		if claimed {
			if rerr := h.Idempotency.ReleaseOrderKey(context.WithoutCancel(ctx), userID.String(), key); rerr != nil {
				h.Logger.Warn(ctx, "release idempotency key", rerr)
			}
		}
		writeError(ctx, h.Logger, w, err)
		return
	}

	if claimed {
		if err := h.Idempotency.CompleteOrderKey(ctx, userID.String(), key, order.ID.String()); err != nil {
			h.Logger.Warn(ctx, "complete idempotency key", err)
		}
	}
	if h.Cache != nil {
		entry := redisx.StatusEntry{Status: string(order.Status), UpdatedAt: order.UpdatedAt}
		if err := h.Cache.CacheStatus(ctx, order.ID.String(), entry); err != nil {
			h.Logger.Warn(ctx, "cache order status", err)
		}
	}
	writeJSON(w, http.StatusCreated, orderResponse{Message: "order created", Order: order})
}

func (h *OrdersHandler) replay(w http.ResponseWriter, r *http.Request, userID uuid.UUID, orderID string) {
	ctx := r.Context()
	id, err := uuid.Parse(orderID)
	if err != nil {
		writeError(ctx, h.Logger, w, apperr.Wrap(apperr.CodeInternal, err, "corrupt idempotency record"))
		return
	}
	order, err := h.Orders.GetOrder(ctx, id)
	if err != nil {
		writeError(ctx, h.Logger, w, err)
		return
	}
	if order.UserID != userID {
		writeError(ctx, h.Logger, w, apperr.New(apperr.CodeConflict, "Idempotency-Key already used"))
		return
	}
	h.Metrics.IncIdempotentReplay()
	h.Logger.Info(h.Logger.WithField(ctx, "order_code", order.Code), "idempotent replay")
	writeJSON(w, http.StatusOK, orderResponse{Order: order})
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var in orders.UpdateStatusInput
	if err := validation.DecodeJSON(r.Body, &in); err != nil {
		writeError(ctx, h.Logger, w, err)
		return
	}
	order, err := h.Orders.UpdateStatus(ctx, in)
	if err != nil {
		writeError(ctx, h.Logger, w, err)
		return
	}
	if h.Cache != nil {
		if err := h.Cache.ForgetStatus(ctx, order.ID.String()); err != nil {
			h.Logger.Warn(ctx, "drop cached order status", err)
		}
	}
	writeJSON(w, http.StatusOK, orderResponse{Message: "order status updated", Order: order})
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, _ := UserIDFrom(ctx)
	list, err := h.Orders.ListOrders(ctx, userID)
	if err != nil {
		writeError(ctx, h.Logger, w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Order: order})
}

// getStatus serves the cached status when warm and fills the cache on a miss.
func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.Cache != nil {
		id := chi.URLParam(r, "id")
		if _, err := uuid.Parse(id); err == nil {
			entry, hit, err := h.Cache.CachedStatus(ctx, id)
			if err != nil {
				h.Logger.Warn(ctx, "read cached order status", err)
			}
			if hit {
				writeJSON(w, http.StatusOK, statusResponse{OrderID: id, StatusEntry: entry, Cached: true})
				return
			}
		}
	}

	order, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}
	entry := redisx.StatusEntry{Status: string(order.Status), UpdatedAt: order.UpdatedAt}
	if h.Cache != nil {
		if err := h.Cache.CacheStatus(ctx, order.ID.String(), entry); err != nil {
			h.Logger.Warn(ctx, "cache order status", err)
		}
	}
	writeJSON(w, http.StatusOK, statusResponse{OrderID: order.ID.String(), StatusEntry: entry})
}

// ownedOrder loads {id} and hides orders of other users behind NOT_FOUND.
func (h *OrdersHandler) ownedOrder(w http.ResponseWriter, r *http.Request) (*orders.Order, bool) {
	ctx := r.Context()
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(ctx, h.Logger, w, apperr.Validation("id", "must be a valid id"))
		return nil, false
	}
	order, err := h.Orders.GetOrder(ctx, id)
	if err != nil {
		writeError(ctx, h.Logger, w, err)
		return nil, false
	}
	if userID, _ := UserIDFrom(ctx); order.UserID != userID {
		writeError(ctx, h.Logger, w, orders.ErrOrderNotFound(id))
		return nil, false
	}
	return order, true
}
