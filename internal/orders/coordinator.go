package orders

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"

	"github.com/ariefcatur/storefront-orders/internal/apperr"
	"github.com/ariefcatur/storefront-orders/internal/codegen"
	"github.com/ariefcatur/storefront-orders/internal/inventory"
	"github.com/ariefcatur/storefront-orders/internal/logger"
	"github.com/ariefcatur/storefront-orders/internal/metrics"
	"github.com/ariefcatur/storefront-orders/internal/validation"
)

const tracerName = "github.com/ariefcatur/storefront-orders/internal/orders"

// Coordinator places orders: either every line item is reserved and the order
// is stored, or nothing changes.
type Coordinator struct {
	inventory    inventory.Store
	repo         Repository
	tx           TxRunner
	publisher    Publisher
	log          *logger.Logger
	metrics      *metrics.Metrics
	tracer       trace.Tracer
	producer     string
	newCode      codegen.CandidateFunc
	codeAttempts int
	now          func() time.Time
}

type Params struct {
	Inventory inventory.Store
	Orders    Repository
	// Tx is set when the backing store can commit reservations and the order
	// atomically. Without it failures are undone by releasing stock.
	Tx           TxRunner
	Publisher    Publisher
	Logger       *logger.Logger
	Metrics      *metrics.Metrics
	Producer     string
	NewCode      codegen.CandidateFunc
	CodeAttempts int
	Now          func() time.Time
}

func NewCoordinator(p Params) *Coordinator {
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	if p.NewCode == nil {
		p.NewCode = codegen.OrderCode
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &Coordinator{
		inventory:    p.Inventory,
		repo:         p.Orders,
		tx:           p.Tx,
		publisher:    p.Publisher,
		log:          p.Logger,
		metrics:      p.Metrics,
		tracer:       otel.Tracer(tracerName),
		producer:     p.Producer,
		newCode:      p.NewCode,
		codeAttempts: p.CodeAttempts,
		now:          p.Now,
	}
}

type draft struct {
	userID uuid.UUID
	items  []LineItem
	total  decimal.Decimal
}

func (c *Coordinator) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*Order, error) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "orders.PlaceOrder", trace.WithAttributes(
		attribute.String("user.id", in.UserID),
		attribute.Int("order.items", len(in.Items)),
	))
	defer span.End()

	order, err := c.placeOrder(ctx, in)
	if err != nil {
		c.metrics.ObservePlaceOrder(string(apperr.CodeOf(err)), time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.CodeOf(err)))
		return nil, err
	}
	c.metrics.ObservePlaceOrder("ok", time.Since(start))
	span.SetAttributes(attribute.String("order.id", order.ID.String()), attribute.String("order.code", order.Code))

	ctx = c.log.WithFields(ctx, map[string]any{"order_id": order.ID.String(), "order_code": order.Code})
	c.log.Info(ctx, "order placed")
	if env, err := createdEnvelope(ctx, c.producer, order); err != nil {
		c.log.Error(ctx, "build order created event", err)
	} else {
		c.publish(ctx, env)
	}
	return order, nil
}

func (c *Coordinator) placeOrder(ctx context.Context, in PlaceOrderInput) (*Order, error) {
	d, err := newDraft(in)
	if err != nil {
		return nil, err
	}

	if c.tx != nil {
		var order *Order
		err := c.tx.WithinTx(ctx, func(ctx context.Context, s Stores) error {
			o, err := c.commit(ctx, s, d, lockOrder(d.items), nil)
			order = o
			return err
		})
		if err != nil {
			return nil, asPersistence(err, "order transaction")
		}
		return order, nil
	}

	var reserved []inventory.Reservation
	order, err := c.commit(ctx, Stores{Inventory: c.inventory, Orders: c.repo}, d, nil, func(r inventory.Reservation) {
		reserved = append(reserved, r)
	})
	if err != nil {
		c.compensate(ctx, reserved)
		return nil, err
	}
	return order, nil
}

// commit reserves every item, visiting them in the index order seq (input
// order when seq is nil), then stores the order. Errors always name the
// input index. onReserved sees each successful reservation before anything
// else can fail.
func (c *Coordinator) commit(ctx context.Context, s Stores, d draft, seq []int, onReserved func(inventory.Reservation)) (*Order, error) {
	if seq == nil {
		seq = make([]int, len(d.items))
		for i := range seq {
			seq[i] = i
		}
	}
	items := make([]LineItem, len(d.items))
	for _, i := range seq {
		item := d.items[i]
		res, err := s.Inventory.ReserveStock(ctx, item.Key(), item.Quantity)
		if err != nil {
			c.metrics.IncReservation(string(apperr.CodeOf(err)))
			return nil, itemError(i, item, err)
		}
		c.metrics.IncReservation("ok")
		if onReserved != nil {
			onReserved(res)
		}
		if !res.UnitPrice.Equal(item.Price) {
			return nil, apperr.Validation(fmt.Sprintf("items[%d].price", i),
				fmt.Sprintf("must equal the catalog price %s", res.UnitPrice.String()))
		}
		if res.ColorName != "" && res.ColorName != item.ColorName {
			return nil, apperr.Validation(fmt.Sprintf("items[%d].colorName", i),
				fmt.Sprintf("must equal the variant color %q", res.ColorName))
		}
		items[i] = item
	}

	now := c.now().UTC()
	order := &Order{
		ID:        uuid.New(),
		UserID:    d.userID,
		Items:     items,
		Total:     d.total,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.insert(ctx, s.Orders, order); err != nil {
		return nil, err
	}
	return order, nil
}

// insert allocates a code and stores o. A code claimed by a concurrent
// placement after the existence check is redrawn, up to codeAttempts times.
func (c *Coordinator) insert(ctx context.Context, repo Repository, o *Order) error {
	for attempt := 1; ; attempt++ {
		code, err := codegen.Unique(ctx, c.newCode, repo.OrderCodeExists, c.codeAttempts)
		if err != nil {
			return asPersistence(err, "allocate order code")
		}
		o.Code = code
		err = repo.CreateOrder(ctx, o)
		switch {
		case err == nil:
			return nil
		case !errors.Is(err, ErrOrderCodeTaken):
			return asPersistence(err, "persist order")
		case c.codeAttempts > 0 && attempt >= c.codeAttempts:
			return apperr.Wrap(apperr.CodeExhaustedRetries, err, fmt.Sprintf("order code still taken after %d inserts", attempt))
		}
		c.log.Debug(c.log.WithField(ctx, "order_code", code), "order code claimed concurrently, retrying")
	}
}

// lockOrder sorts item indexes by stock row so concurrent transactions lock
// rows in the same order.
func lockOrder(items []LineItem) []int {
	seq := make([]int, len(items))
	for i := range seq {
		seq[i] = i
	}
	slices.SortStableFunc(seq, func(a, b int) int {
		ka, kb := items[a].Key(), items[b].Key()
		return cmp.Or(
			cmp.Compare(ka.ProductID.String(), kb.ProductID.String()),
			cmp.Compare(ka.VariantID.String(), kb.VariantID.String()),
			cmp.Compare(ka.Size, kb.Size),
		)
	})
	return seq
}

// compensate releases reserved stock in reverse order. It is not cancellable
// and never replaces the error that triggered it.
func (c *Coordinator) compensate(ctx context.Context, reserved []inventory.Reservation) {
	if len(reserved) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	ctx, span := c.tracer.Start(ctx, "orders.compensate", trace.WithAttributes(attribute.Int("reservations", len(reserved))))
	defer span.End()

	var errs error
	for i := len(reserved) - 1; i >= 0; i-- {
		r := reserved[i]
		if _, err := c.inventory.ReleaseStock(ctx, r.Key, r.Quantity); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("release %d of %s/%s/%s: %w",
				r.Quantity, r.Key.ProductID, r.Key.VariantID, r.Key.Size, err))
		}
	}
	c.metrics.IncCompensation(errs == nil)
	if errs != nil {
		span.RecordError(errs)
		c.log.Error(c.log.WithField(ctx, "failed_releases", len(multierr.Errors(errs))), "compensation incomplete", errs)
		return
	}
	c.log.Debug(c.log.WithField(ctx, "released", len(reserved)), "reservations released")
}

func (c *Coordinator) UpdateStatus(ctx context.Context, in UpdateStatusInput) (*Order, error) {
	ctx, span := c.tracer.Start(ctx, "orders.UpdateStatus", trace.WithAttributes(
		attribute.String("order.id", in.OrderID),
		attribute.String("order.status", in.Status),
	))
	defer span.End()

	order, from, err := c.updateStatus(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.CodeOf(err)))
		return nil, err
	}
	if from == order.Status {
		return order, nil
	}
	c.metrics.IncStatusUpdate(string(order.Status))

	ctx = c.log.WithFields(ctx, map[string]any{"order_id": order.ID.String(), "from": from, "to": order.Status})
	c.log.Info(ctx, "order status changed")
	if env, err := statusChangedEnvelope(ctx, c.producer, order, from); err != nil {
		c.log.Error(ctx, "build status changed event", err)
	} else {
		c.publish(ctx, env)
	}
	return order, nil
}

func (c *Coordinator) updateStatus(ctx context.Context, in UpdateStatusInput) (*Order, Status, error) {
	if err := validation.Struct(in); err != nil {
		return nil, "", err
	}
	to, err := ParseStatus(in.Status)
	if err != nil {
		return nil, "", err
	}
	id, err := uuid.Parse(in.OrderID)
	if err != nil {
		return nil, "", apperr.Validation("orderId", "must be a valid id")
	}

	current, err := c.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, "", asPersistence(err, "load order")
	}
	if current.Status == to {
		return current, to, nil
	}
	updated, err := c.repo.UpdateStatus(ctx, id, current.Status, to, c.now().UTC())
	if err != nil {
		return nil, "", asPersistence(err, "update order status")
	}
	return updated, current.Status, nil
}

// ListOrders returns the orders of userID, newest first.
func (c *Coordinator) ListOrders(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	out, err := c.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, asPersistence(err, "list orders")
	}
	return out, nil
}

func (c *Coordinator) GetOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := c.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, asPersistence(err, "load order")
	}
	return o, nil
}

func (c *Coordinator) publish(ctx context.Context, env Envelope) {
	if c.publisher == nil {
		return
	}
	err := c.publisher.Publish(ctx, env)
	c.metrics.IncEventPublished(env.EventType, err)
	if err != nil {
		c.log.Warn(c.log.WithField(ctx, "event_type", env.EventType), "publish order event", err)
	}
}

// newDraft validates the request shape and the total before any stock is touched.
func newDraft(in PlaceOrderInput) (draft, error) {
	if err := validation.Struct(in); err != nil {
		return draft{}, err
	}
	userID, err := uuid.Parse(in.UserID)
	if err != nil {
		return draft{}, apperr.Validation("user_id", "must be a valid id")
	}

	d := draft{userID: userID, total: in.Total, items: make([]LineItem, len(in.Items))}
	sum := decimal.Zero
	for i, it := range in.Items {
		productID, err := uuid.Parse(it.ProductID)
		if err != nil {
			return draft{}, apperr.Validation(fmt.Sprintf("items[%d].product_id", i), "must be a valid id")
		}
		variantID, err := uuid.Parse(it.VariantID)
		if err != nil {
			return draft{}, apperr.Validation(fmt.Sprintf("items[%d].variant_id", i), "must be a valid id")
		}
		d.items[i] = LineItem{
			ProductID: productID,
			VariantID: variantID,
			Quantity:  it.Quantity,
			Price:     it.Price,
			ColorName: it.ColorName,
			Size:      it.Size,
		}
		sum = sum.Add(d.items[i].Subtotal())
	}
	if !sum.Equal(in.Total) {
		return draft{}, apperr.Validation("total", fmt.Sprintf("must equal the sum of line items (%s)", sum.String()))
	}
	return d, nil
}

// itemError names the failing line item and keeps the store's error code.
func itemError(i int, item LineItem, err error) error {
	typed := apperr.As(err)
	if typed == nil {
		return apperr.Wrap(apperr.CodePersistence, err, fmt.Sprintf("reserve items[%d]", i))
	}
	details := map[string]any{
		"item":       i,
		"product_id": item.ProductID.String(),
		"variant_id": item.VariantID.String(),
		"size":       item.Size,
		"quantity":   item.Quantity,
	}
	if inner, ok := typed.Details().(map[string]any); ok {
		for k, v := range inner {
			if _, exists := details[k]; !exists {
				details[k] = v
			}
		}
	}
	return apperr.Wrap(typed.Code(), err, fmt.Sprintf("items[%d]: %s", i, typed.Message())).WithDetails(details)
}

// asPersistence keeps typed errors and classifies everything else as a storage failure.
func asPersistence(err error, msg string) error {
	if apperr.As(err) != nil {
		return err
	}
	return apperr.Wrap(apperr.CodePersistence, err, msg)
}
