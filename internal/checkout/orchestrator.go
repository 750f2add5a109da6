// Package checkout turns a session cart into an order and, for mobile money,
// drives the payment to a terminal outcome.
package checkout

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/domain"
	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/logger"
	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/payment"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const publishTimeout = 5 * time.Second

var tracer = otel.Tracer("github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/checkout")

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CartSource is the part of the cart store checkout needs.
type CartSource interface {
	Snapshot() domain.CartSnapshot
	RemoveOrdered(ctx context.Context, ordered []domain.CartItem) error
}

type OrderCreator interface {
	CreateOrder(ctx context.Context, req domain.OrderRequest) (string, error)
}

type EventPublisher interface {
	PublishCheckoutCompleted(ctx context.Context, event domain.CheckoutCompleted) error
}

type Config struct {
	Payment      payment.Config
	PhonePattern string
}

func DefaultConfig() Config {
	return Config{
		Payment:      payment.DefaultConfig(),
		PhonePattern: DefaultPhonePattern,
	}
}

type Option func(*Orchestrator)

func WithPublisher(p EventPublisher) Option {
	return func(o *Orchestrator) {
		o.publisher = p
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.log = log
	}
}

// WithClock sets the clock used for payment polling and timestamps.
func WithClock(clock clockwork.Clock) Option {
	return func(o *Orchestrator) {
		o.clock = clock
	}
}

// Receipt is returned for a committed checkout.
type Receipt struct {
	Order   domain.Order           `json:"order"`
	Payment *domain.PaymentRequest `json:"payment,omitempty"`
}

// Orchestrator runs checkout for one session. A failed or timed-out mobile
// money payment keeps its order so the payment can be retried without
// creating a second one.
type Orchestrator struct {
	cart      CartSource
	orders    OrderCreator
	payments  payment.Gateway
	publisher EventPublisher
	validate  *validator
	cfg       Config
	clock     clockwork.Clock
	log       *slog.Logger

	mu       sync.Mutex
	busy     bool
	order    *domain.Order
	snapshot domain.CartSnapshot
	machine  *payment.Machine

	beforeStart func() // test hook, runs between publishing the machine and Start
}

func New(cart CartSource, orders OrderCreator, payments payment.Gateway, cfg Config, opts ...Option) (*Orchestrator, error) {
	v, err := newValidator(cfg.PhonePattern)
	if err != nil {
		return nil, err
	}
	o := &Orchestrator{
		cart:     cart,
		orders:   orders,
		payments: payments,
		validate: v,
		cfg:      cfg,
		clock:    clockwork.NewRealClock(),
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Submit validates the cart and customer, creates the order and collects the
// payment. The cart is cleared only once payment is confirmed.
func (o *Orchestrator) Submit(ctx context.Context, customer domain.Customer, method domain.PaymentMethod) (_ *Receipt, err error) {
	ctx, span := tracer.Start(ctx, "checkout.Submit",
		trace.WithAttributes(attribute.String("payment_method", string(method))))
	defer func() { endSpan(span, err) }()

	if err := o.acquire(); err != nil {
		return nil, err
	}
	defer o.release()

	snapshot := o.cart.Snapshot()
	if snapshot.IsEmpty() {
		return nil, newError(KindEmptyCart, "your cart is empty")
	}
	if err := o.validate.customer(customer, method); err != nil {
		return nil, err
	}
	if err := stock(snapshot); err != nil {
		return nil, err
	}

	orderReq := domain.NewOrderRequest(customer, snapshot)
	orderID, err := o.orders.CreateOrder(ctx, orderReq)
	if err != nil {
		o.log.ErrorContext(ctx, "order creation failed", slog.Any("error", err))
		return nil, &Error{
			Kind:    KindOrderCreationFailed,
			Message: orderFailureMessage(err),
			Err:     err,
		}
	}

	order := domain.Order{
		ID:            orderID,
		Customer:      customer,
		Items:         orderReq.Items,
		TotalAmount:   orderReq.TotalAmount,
		PaymentMethod: method,
		Status:        domain.OrderStatusCreated,
		CreatedAt:     o.clock.Now(),
	}
	o.log.InfoContext(ctx, "order created",
		slog.String("order_id", order.ID),
		slog.String("payment_method", string(method)),
		slog.String("total", order.TotalAmount.String()))

	if !method.IsAsync() {
		order.Status = domain.OrderStatusCompleted
		o.mu.Lock()
		o.order = nil
		o.mu.Unlock()
		o.commit(ctx, order, snapshot, "")
		return &Receipt{Order: order}, nil
	}

	o.mu.Lock()
	if o.order != nil {
		o.log.InfoContext(ctx, "replacing order awaiting payment", slog.String("order_id", o.order.ID))
	}
	o.order = &order
	o.snapshot = snapshot
	o.mu.Unlock()

	return o.collect(ctx, order, NormalizePhone(customer.Phone))
}

// RetryPayment starts a new payment request for the order kept from a failed,
// timed-out or cancelled attempt. An empty phone reuses the previous number.
func (o *Orchestrator) RetryPayment(ctx context.Context, phone string) (_ *Receipt, err error) {
	ctx, span := tracer.Start(ctx, "checkout.RetryPayment")
	defer func() { endSpan(span, err) }()

	if err := o.acquire(); err != nil {
		return nil, err
	}
	defer o.release()

	o.mu.Lock()
	if o.order == nil {
		o.mu.Unlock()
		return nil, newError(KindNoPendingOrder, "there is no order awaiting payment")
	}
	order := *o.order
	if phone == "" && o.machine != nil {
		phone = o.machine.Request().Phone
	}
	o.mu.Unlock()

	if phone == "" {
		phone = order.Customer.Phone
	}
	phone = NormalizePhone(phone)
	if err := o.validate.mobileMoneyPhone(phone); err != nil {
		return nil, err
	}

	o.log.InfoContext(ctx, "retrying payment", slog.String("order_id", order.ID))
	return o.collect(ctx, order, phone)
}

// CancelPayment ends the in-flight payment with the cancelled outcome.
func (o *Orchestrator) CancelPayment() bool {
	o.mu.Lock()
	m := o.machine
	o.mu.Unlock()
	if m == nil {
		return false
	}
	return m.Cancel()
}

// Payment returns the latest payment request and its recorded status.
func (o *Orchestrator) Payment() (domain.PaymentRequest, bool) {
	o.mu.Lock()
	m := o.machine
	o.mu.Unlock()
	if m == nil {
		return domain.PaymentRequest{}, false
	}
	return m.Request(), true
}

// PendingOrder returns the order kept for a payment retry.
func (o *Orchestrator) PendingOrder() (domain.Order, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.order == nil {
		return domain.Order{}, false
	}
	return *o.order, true
}

// InProgress reports whether a checkout or payment is running.
func (o *Orchestrator) InProgress() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inProgressLocked()
}

func (o *Orchestrator) inProgressLocked() bool {
	return o.busy || (o.machine != nil && !o.machine.Status().IsTerminal())
}

// Close cancels any in-flight payment.
func (o *Orchestrator) Close() {
	o.CancelPayment()
}

func (o *Orchestrator) acquire() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inProgressLocked() {
		return newError(KindCheckoutInProgress, "a checkout is already in progress for this session")
	}
	o.busy = true
	return nil
}

func (o *Orchestrator) release() {
	o.mu.Lock()
	o.busy = false
	o.mu.Unlock()
}

// collect runs one payment request to its terminal outcome.
func (o *Orchestrator) collect(ctx context.Context, order domain.Order, phone string) (*Receipt, error) {
	m := payment.NewMachine(o.payments, o.cfg.Payment,
		payment.WithClock(o.clock),
		payment.WithLogger(o.log.With(slog.String("order_id", order.ID))))

	o.mu.Lock()
	o.machine = m
	o.mu.Unlock()
	if o.beforeStart != nil {
		o.beforeStart()
	}

	// a cancel landing before Start leaves the machine terminal; report its outcome
	if err := m.Start(ctx, order.ID, phone, order.TotalAmount); err != nil && !m.Status().IsTerminal() {
		return nil, err
	}

	outcome, err := m.Wait(ctx)
	if err != nil {
		// the caller gave up; the attempt ends as cancelled unless it already finished
		m.Cancel()
		outcome = m.Outcome()
	}

	req := outcome.Request
	switch outcome.Status {
	case domain.PaymentStatusSuccess:
		order.Status = domain.OrderStatusCompleted
		o.mu.Lock()
		snapshot := o.snapshot
		o.order = nil
		o.mu.Unlock()
		o.commit(ctx, order, snapshot, req.TrackingID)
		return &Receipt{Order: order, Payment: &req}, nil
	case domain.PaymentStatusFailed:
		return nil, &Error{Kind: KindPaymentFailed, Message: "the payment was declined or could not be processed, you can retry", OrderID: order.ID, Err: outcome.Err}
	case domain.PaymentStatusTimeout:
		return nil, &Error{Kind: KindPaymentTimeout, Message: "the payment was not confirmed in time, check your phone and retry", OrderID: order.ID, Err: outcome.Err}
	default:
		return nil, &Error{Kind: KindPaymentCancelled, Message: "the payment was cancelled", OrderID: order.ID, Err: outcome.Err}
	}
}

// commit removes the purchased lines from the cart and announces the completed checkout. Neither step
// can undo a confirmed payment, so failures are only logged.
func (o *Orchestrator) commit(ctx context.Context, order domain.Order, snapshot domain.CartSnapshot, trackingID string) {
	ctx = context.WithoutCancel(ctx)

	if err := o.cart.RemoveOrdered(ctx, snapshot.Items); err != nil {
		o.log.ErrorContext(ctx, "failed to remove purchased items from cart", slog.String("order_id", order.ID), slog.Any("error", err))
	}
	o.log.InfoContext(ctx, "checkout completed", slog.String("order_id", order.ID))

	if o.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	event := domain.CheckoutCompleted{
		OrderID:       order.ID,
		SessionID:     snapshot.SessionID,
		Items:         order.Items,
		TotalAmount:   order.TotalAmount,
		PaymentMethod: order.PaymentMethod,
		TrackingID:    trackingID,
		CompletedAt:   o.clock.Now(),
	}
	if err := o.publisher.PublishCheckoutCompleted(pubCtx, event); err != nil {
		o.log.WarnContext(ctx, "failed to publish checkout event", slog.String("order_id", order.ID), slog.Any("error", err))
	}
}

func orderFailureMessage(err error) string {
	var um interface{ UserMessage() string }
	if errors.As(err, &um) && um.UserMessage() != "" {
		return um.UserMessage()
	}
	return "the order could not be created, please try again"
}
