package cart

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/domain"
)

const defaultSyncTimeout = 5 * time.Second

// syncWorker pushes committed carts to the remote endpoint in the background.
// Only the latest unsent cart is kept; older ones are superseded.
type syncWorker struct {
	remote  RemoteSyncer
	timeout time.Duration
	log     *slog.Logger

	pending chan domain.Cart
	stop    chan struct{}
	wg      sync.WaitGroup
}

func newSyncWorker(remote RemoteSyncer, timeout time.Duration, log *slog.Logger) *syncWorker {
	w := &syncWorker{
		remote:  remote,
		timeout: timeout,
		log:     log,
		pending: make(chan domain.Cart, 1),
		stop:    make(chan struct{}),
	}

	w.wg.Add(1)
	go w.loop()

	return w
}

// push never blocks the caller.
func (w *syncWorker) push(cart domain.Cart) {
	for {
		select {
		case w.pending <- cart:
			return
		default:
		}
		// drop the stale cart and retry
		select {
		case <-w.pending:
		default:
		}
	}
}

func (w *syncWorker) loop() {
	defer w.wg.Done()

	for {
		select {
		case cart := <-w.pending:
			w.send(cart)
		case <-w.stop:
			return
		}
	}
}

func (w *syncWorker) send(cart domain.Cart) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	if err := w.remote.PushCart(ctx, cart); err != nil {
		w.log.Warn("remote cart sync failed",
			slog.String("session_id", cart.SessionID),
			slog.Any("error", err))
		return
	}
	w.log.Debug("remote cart synced", slog.String("session_id", cart.SessionID), slog.Int("items", len(cart.Items)))
}

func (w *syncWorker) close() {
	close(w.stop)
	w.wg.Wait()
}
