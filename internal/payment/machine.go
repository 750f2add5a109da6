// Package payment confirms asynchronous mobile-money payments.
//
// A Machine drives one PaymentRequest through
//
//	idle -> initiated -> pending -> success | failed | timeout
//
// and can be cancelled from any non-terminal state. Once pending, it polls the
// gateway on a fixed interval while an independent deadline timer bounds the
// whole attempt. Every terminal transition goes through finish, which tears
// down both timers and the polling context, so exactly one outcome is
// delivered and nothing polls afterwards. A Machine is never restarted; a
// retry builds a new one.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/domain"
	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/logger"
	"github.com/shopspring/decimal"
)

type Config struct {
	PollInterval time.Duration
	Deadline     time.Duration
	PollTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval: 3 * time.Second,
		Deadline:     120 * time.Second,
		PollTimeout:  5 * time.Second,
	}
}

// Outcome is the terminal result of a payment request.
type Outcome struct {
	Status  domain.PaymentStatus
	Request domain.PaymentRequest
	Err     error
}

// Listener receives the outcome exactly once.
type Listener func(Outcome)

type Option func(*Machine)

func WithClock(clock clockwork.Clock) Option {
	return func(m *Machine) {
		m.clock = clock
	}
}

func WithListener(l Listener) Option {
	return func(m *Machine) {
		m.listener = l
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(m *Machine) {
		m.log = log
	}
}

type Machine struct {
	gateway Gateway
	cfg     Config
	clock   clockwork.Clock
	log     *slog.Logger

	mu         sync.Mutex
	req        domain.PaymentRequest
	err        error
	listener   Listener
	ticker     clockwork.Ticker
	deadline   clockwork.Timer
	cancelInit context.CancelFunc
	cancelPoll context.CancelFunc
	done       chan struct{}
}

func NewMachine(gateway Gateway, cfg Config, opts ...Option) *Machine {
	m := &Machine{
		gateway: gateway,
		cfg:     cfg,
		clock:   clockwork.NewRealClock(),
		log:     logger.Nop(),
		req: domain.PaymentRequest{
			ID:     uuid.NewString(),
			Status: domain.PaymentStatusIdle,
		},
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With(slog.String("payment_request_id", m.req.ID))
	return m
}

// Start initiates the payment and, once acknowledged, starts polling. It only
// returns an error when the machine has already been used; gateway failures
// are reported through the outcome.
func (m *Machine) Start(ctx context.Context, orderID, phone string, amount decimal.Decimal) error {
	m.mu.Lock()
	if m.req.Status != domain.PaymentStatusIdle {
		m.mu.Unlock()
		return ErrNotIdle
	}
	m.req.OrderID = orderID
	m.req.Phone = phone
	m.req.Amount = amount
	m.setStatusLocked(domain.PaymentStatusInitiated)
	initCtx, cancelInit := context.WithCancel(ctx)
	m.cancelInit = cancelInit
	m.mu.Unlock()
	defer cancelInit()

	m.log.InfoContext(ctx, "initiating payment", slog.String("order_id", orderID), slog.String("amount", amount.String()))
	ack, err := m.gateway.Initiate(initCtx, InitiateRequest{
		OrderID: orderID,
		Phone:   phone,
		Amount:  amount,
	})
	if err != nil {
		if ctx.Err() != nil {
			m.finish(domain.PaymentStatusCancelled, ErrCancelled)
		} else {
			m.finish(domain.PaymentStatusFailed, fmt.Errorf("initiate payment: %w", err))
		}
		return nil
	}
	if ack == nil || ack.TrackingID == "" {
		m.finish(domain.PaymentStatusFailed, ErrNotAcknowledged)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.req.Status != domain.PaymentStatusInitiated {
		// cancelled while the initiation call was in flight
		return nil
	}
	m.req.TrackingID = ack.TrackingID
	m.setStatusLocked(domain.PaymentStatusPending)

	pollCtx, cancelPoll := context.WithCancel(context.WithoutCancel(ctx))
	m.cancelPoll = cancelPoll
	m.deadline = m.clock.NewTimer(m.cfg.Deadline)
	m.ticker = m.clock.NewTicker(m.cfg.PollInterval)
	go m.watchDeadline(pollCtx, m.deadline)
	go m.pollLoop(pollCtx, m.ticker, ack.TrackingID)

	m.log.InfoContext(ctx, "payment acknowledged, polling", slog.String("tracking_id", ack.TrackingID))
	return nil
}

// Cancel ends a non-terminal attempt with the cancelled outcome. It reports
// whether this call caused the transition.
func (m *Machine) Cancel() bool {
	return m.finish(domain.PaymentStatusCancelled, ErrCancelled)
}

// Detach drops the listener. The outcome is still recorded for Outcome and Wait.
func (m *Machine) Detach() {
	m.mu.Lock()
	m.listener = nil
	m.mu.Unlock()
}

func (m *Machine) Status() domain.PaymentStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.req.Status
}

func (m *Machine) Request() domain.PaymentRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.req
}

// Done is closed after the terminal transition.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// Outcome returns the recorded outcome; Status is non-terminal until Done is closed.
func (m *Machine) Outcome() Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outcomeLocked()
}

// Wait blocks until the terminal outcome or until ctx is done.
func (m *Machine) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-m.done:
		return m.Outcome(), nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

func (m *Machine) watchDeadline(ctx context.Context, deadline clockwork.Timer) {
	select {
	case <-deadline.Chan():
		m.finish(domain.PaymentStatusTimeout, ErrDeadlineExceeded)
	case <-ctx.Done():
	}
}

func (m *Machine) pollLoop(ctx context.Context, ticker clockwork.Ticker, trackingID string) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if ctx.Err() != nil {
				return
			}
			m.poll(ctx, trackingID)
		}
	}
}

func (m *Machine) poll(ctx context.Context, trackingID string) {
	pollCtx, cancel := context.WithTimeout(ctx, m.cfg.PollTimeout)
	defer cancel()

	status, err := m.gateway.CheckStatus(pollCtx, trackingID)
	if ctx.Err() != nil {
		m.log.Debug("discarding poll result after teardown", slog.String("tracking_id", trackingID))
		return
	}
	if err != nil {
		if errors.Is(err, ErrUnrecoverable) {
			m.finish(domain.PaymentStatusFailed, fmt.Errorf("check payment status: %w", err))
			return
		}
		m.log.Warn("payment status check failed, will retry", slog.Any("error", err))
		return
	}

	switch status {
	case GatewayStatusSuccess:
		m.finish(domain.PaymentStatusSuccess, nil)
	case GatewayStatusFailed:
		m.finish(domain.PaymentStatusFailed, ErrDeclined)
	case GatewayStatusPending:
	default:
		m.log.Warn("unknown payment status, still pending", slog.String("status", string(status)))
	}
}

// finish performs the terminal transition at most once and notifies the listener.
func (m *Machine) finish(status domain.PaymentStatus, err error) bool {
	m.mu.Lock()
	from := m.req.Status
	if !from.CanTransitionTo(status) {
		m.mu.Unlock()
		return false
	}
	m.setStatusLocked(status)
	if err != nil {
		m.err = err
		m.req.Error = err.Error()
	}
	m.teardownLocked()
	outcome := m.outcomeLocked()
	listener := m.listener
	m.mu.Unlock()

	close(m.done)
	m.log.Info("payment finished",
		slog.String("from", from.String()),
		slog.String("status", status.String()),
		slog.String("order_id", outcome.Request.OrderID))

	if listener != nil {
		listener(outcome)
	}
	return true
}

// teardownLocked stops both timers and every in-flight call. Safe to call on
// any path, including before the timers were armed.
func (m *Machine) teardownLocked() {
	if m.ticker != nil {
		m.ticker.Stop()
		m.ticker = nil
	}
	if m.deadline != nil {
		m.deadline.Stop()
		m.deadline = nil
	}
	if m.cancelPoll != nil {
		m.cancelPoll()
		m.cancelPoll = nil
	}
	if m.cancelInit != nil {
		m.cancelInit()
		m.cancelInit = nil
	}
}

func (m *Machine) setStatusLocked(status domain.PaymentStatus) {
	m.req.Status = status
}

func (m *Machine) outcomeLocked() Outcome {
	return Outcome{
		Status:  m.req.Status,
		Request: m.req,
		Err:     m.err,
	}
}

// timersArmed is used by tests to verify teardown.
func (m *Machine) timersArmed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ticker != nil || m.deadline != nil
}
