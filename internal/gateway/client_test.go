package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/circuitbreaker"
	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/domain"
	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/payment"
	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/sandbox"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSandboxClient(t *testing.T, decider sandbox.Decider, pendingPolls int) (*Client, *sandbox.Store) {
	t.Helper()
	store := sandbox.NewStore(decider, pendingPolls)
	t.Cleanup(store.Close)
	store.SeedCatalogue()

	srv := httptest.NewServer(sandbox.NewHandler(store, nil).Router())
	t.Cleanup(srv.Close)

	return NewClient(Config{BaseURL: srv.URL, Timeout: 2 * time.Second, Breaker: circuitbreaker.DefaultConfig()}, nil), store
}

func testOrder() domain.OrderRequest {
	return domain.OrderRequest{
		Customer: domain.Customer{Name: "Awa", Phone: "650000000", Address: "Douala"},
		Items: []domain.OrderItem{
			{ProductID: 1, Quantity: 2, UnitPriceAtSale: decimal.NewFromInt(750)},
		},
		TotalAmount: decimal.NewFromInt(1500),
	}
}

func TestClient_EndToEndMobileMoney(t *testing.T) {
	client, _ := newSandboxClient(t, sandbox.FixedDecider(payment.GatewayStatusSuccess), 1)
	ctx := context.Background()

	orderID, err := client.CreateOrder(ctx, testOrder())
	require.NoError(t, err)
	require.NotEmpty(t, orderID)

	ack, err := client.Initiate(ctx, payment.InitiateRequest{OrderID: orderID, Phone: "650000000", Amount: decimal.NewFromInt(1500)})
	require.NoError(t, err)
	require.NotEmpty(t, ack.TrackingID)

	status, err := client.CheckStatus(ctx, ack.TrackingID)
	require.NoError(t, err)
	assert.Equal(t, payment.GatewayStatusPending, status)

	status, err = client.CheckStatus(ctx, ack.TrackingID)
	require.NoError(t, err)
	assert.Equal(t, payment.GatewayStatusSuccess, status)
}

func TestClient_CreateOrderRejectedCarriesDetail(t *testing.T) {
	client, _ := newSandboxClient(t, sandbox.FixedDecider(payment.GatewayStatusSuccess), 0)

	req := testOrder()
	req.TotalAmount = decimal.NewFromInt(1)
	_, err := client.CreateOrder(context.Background(), req)
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnprocessableEntity, se.StatusCode)
	assert.Contains(t, se.Detail, "does not match")
}

func TestClient_GetProduct(t *testing.T) {
	client, _ := newSandboxClient(t, sandbox.FixedDecider(payment.GatewayStatusSuccess), 0)

	p, err := client.GetProduct(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, int64(4), p.ID)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("2350.50")))
	assert.Equal(t, 15, p.Stock)

	_, err = client.GetProduct(context.Background(), 404)
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestClient_PushCart(t *testing.T) {
	client, store := newSandboxClient(t, sandbox.FixedDecider(payment.GatewayStatusSuccess), 0)

	cart := domain.NewCart("sess-1")
	cart.Items = append(cart.Items, domain.CartItem{ProductID: 2, Quantity: 1, UnitPrice: decimal.NewFromInt(1200), StockAvailable: 25})
	require.NoError(t, client.PushCart(context.Background(), *cart))

	items, ok := store.Cart("sess-1")
	require.True(t, ok)
	require.Len(t, items, 1)
	assert.Equal(t, int64(2), items[0].ProductID)
}

func TestClient_CheckStatusClientErrorIsUnrecoverable(t *testing.T) {
	client, _ := newSandboxClient(t, sandbox.FixedDecider(payment.GatewayStatusSuccess), 0)

	_, err := client.CheckStatus(context.Background(), "unknown")
	assert.ErrorIs(t, err, payment.ErrUnrecoverable)
}

func TestClient_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, Breaker: circuitbreaker.DefaultConfig()}, nil)
	_, err := client.CheckStatus(context.Background(), "T1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, payment.ErrUnrecoverable))

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "upstream down", se.Detail)
}

func TestClient_BreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(Config{
		BaseURL: srv.URL,
		Breaker: circuitbreaker.Config{ConsecutiveFailures: 2, OpenTimeout: time.Minute},
	}, nil)

	for i := 0; i < 2; i++ {
		_, err := client.GetProduct(context.Background(), 1)
		require.Error(t, err)
	}
	_, err := client.GetProduct(context.Background(), 1)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(2), hits.Load())
}

func TestClient_ClientErrorsDoNotOpenBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"detail": "product not found"})
	}))
	defer srv.Close()

	client := NewClient(Config{
		BaseURL: srv.URL,
		Breaker: circuitbreaker.Config{ConsecutiveFailures: 1, OpenTimeout: time.Minute},
	}, nil)

	for i := 0; i < 3; i++ {
		_, err := client.GetProduct(context.Background(), 1)
		assert.ErrorIs(t, err, ErrProductNotFound)
	}
	assert.Equal(t, int32(3), hits.Load())
}

func TestClient_MissingOrderID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL}, nil)
	_, err := client.CreateOrder(context.Background(), testOrder())
	assert.ErrorIs(t, err, ErrMissingOrderID)
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, Timeout: 20 * time.Millisecond}, nil)
	_, err := client.CheckStatus(context.Background(), "T1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDetailFrom(t *testing.T) {
	assert.Equal(t, "out of stock", detailFrom([]byte(`{"detail":"out of stock"}`)))
	assert.Equal(t, `[{"loc":["body"]}]`, detailFrom([]byte(`{"detail":[{"loc":["body"]}]}`)))
	assert.Equal(t, "plain text", detailFrom([]byte("plain text\n")))
}
